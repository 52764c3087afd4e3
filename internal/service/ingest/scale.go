package ingest

import (
	"image"
	"math"
	"time"

	"diginetra/internal/framebus"
	"diginetra/internal/hardware"

	"gocv.io/x/gocv"
)

// ScaleFor returns the factor that fits w x h inside limit, capped at 1.
func ScaleFor(w, h int, limit hardware.Resolution) float64 {
	if w <= 0 || h <= 0 || limit.Width <= 0 || limit.Height <= 0 {
		return 1
	}
	sx := float64(limit.Width) / float64(w)
	sy := float64(limit.Height) / float64(h)
	s := min(sx, sy)
	if s >= 1 {
		return 1
	}
	return s
}

// Downscale resizes src into dst with area averaging when it exceeds limit.
// It returns the applied factor; on 1 dst is left untouched and src should be used.
func Downscale(src gocv.Mat, dst *gocv.Mat, limit hardware.Resolution) float64 {
	s := ScaleFor(src.Cols(), src.Rows(), limit)
	if s == 1 {
		return 1
	}
	size := image.Pt(int(math.Round(float64(src.Cols())*s)), int(math.Round(float64(src.Rows())*s)))
	gocv.Resize(src, dst, size, 0, 0, gocv.InterpolationArea)
	return s
}

// MatToFrame copies a Mat's pixels into a Frame.
func MatToFrame(cameraID string, seq uint64, m gocv.Mat, scale float64, at time.Time) framebus.Frame {
	return framebus.Frame{
		CameraID:   cameraID,
		Seq:        seq,
		CapturedAt: at,
		Width:      m.Cols(),
		Height:     m.Rows(),
		Channels:   m.Channels(),
		Data:       m.ToBytes(),
		Scale:      scale,
	}
}
