package ingest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gocv.io/x/gocv"
)

var ErrCaptureOpen = errors.New("failed to open capture")

// Capture yields decoded frames. *gocv.VideoCapture satisfies it.
type Capture interface {
	Read(dst *gocv.Mat) bool
	Close() error
}

// Opener opens a capture for a camera source locator.
type Opener func(source string) (Capture, error)

// SourceOptions are the connection hints applied to network sources.
type SourceOptions struct {
	LowLatency bool
	BufferSize int
}

// OptimizeSource rewrites a source locator for capture. A bare integer is a
// local device index; RTSP URLs are forced onto TCP and given buffer hints.
func OptimizeSource(source string, opts SourceOptions) (device int, url string, isDevice bool) {
	trimmed := strings.TrimSpace(source)
	if idx, err := strconv.Atoi(trimmed); err == nil && idx >= 0 {
		return idx, "", true
	}
	if !strings.HasPrefix(strings.ToLower(trimmed), "rtsp://") {
		return 0, trimmed, false
	}

	sep := "?"
	if strings.Contains(trimmed, "?") {
		sep = "&"
	}
	url = trimmed
	if !strings.Contains(trimmed, "rtsp_transport=") {
		url += sep + "rtsp_transport=tcp"
		sep = "&"
	}
	if opts.BufferSize > 0 && !strings.Contains(trimmed, "buffer_size=") {
		url += fmt.Sprintf("%sbuffer_size=%d", sep, opts.BufferSize)
		sep = "&"
	}
	if opts.LowLatency && !strings.Contains(trimmed, "low_delay=") {
		url += sep + "low_delay=1"
	}
	return 0, url, false
}

// GocvOpener opens sources through OpenCV's VideoCapture.
func GocvOpener(opts SourceOptions) Opener {
	return func(source string) (Capture, error) {
		device, url, isDevice := OptimizeSource(source, opts)

		var (
			vc  *gocv.VideoCapture
			err error
		)
		if isDevice {
			vc, err = gocv.OpenVideoCapture(device)
		} else {
			vc, err = gocv.OpenVideoCapture(url)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCaptureOpen, err)
		}
		if !vc.IsOpened() {
			vc.Close()
			return nil, fmt.Errorf("%w: %s not opened", ErrCaptureOpen, source)
		}
		return vc, nil
	}
}
