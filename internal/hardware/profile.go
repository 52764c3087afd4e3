// Package hardware resolves the performance tunables shared by the pipeline
// from the compute capability detected at startup.
package hardware

import (
	"fmt"
	"os"
	"runtime"
	"time"
)

// Tier is the policy row a Profile was derived from.
type Tier string

const (
	TierAccelerated Tier = "accelerated"
	TierCPU         Tier = "cpu"
	TierConstrained Tier = "constrained"
)

// ParseTier maps a configuration string to a Tier. Empty means auto-detect.
func ParseTier(s string) (Tier, bool, error) {
	switch s {
	case "":
		return "", false, nil
	case string(TierAccelerated), "gpu":
		return TierAccelerated, true, nil
	case string(TierCPU):
		return TierCPU, true, nil
	case string(TierConstrained), "mac":
		return TierConstrained, true, nil
	}
	return "", false, fmt.Errorf("unknown hardware tier %q", s)
}

type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Capability holds the detected capability flags.
type Capability struct {
	Accelerator bool   `json:"accelerator"`
	Constrained bool   `json:"constrained"`
	Platform    string `json:"platform"`
}

// Base carries the deployment-level values each tier adjusts.
type Base struct {
	QueueCapacity       int
	FrameSkip           int
	ConfidenceThreshold float64
}

// Profile is immutable after Select returns; components receive it by value.
type Profile struct {
	Tier       Tier       `json:"tier"`
	Capability Capability `json:"capability"`

	// Ingest
	MaxResolution Resolution    `json:"max_resolution"`
	FrameInterval time.Duration `json:"frame_interval"`
	FrameSkip     int           `json:"frame_skip"`
	StartStagger  time.Duration `json:"start_stagger"`
	LowLatencyURL bool          `json:"low_latency_url"`
	URLBufferSize int           `json:"url_buffer_size"`

	// FrameBus
	QueueCapacity int     `json:"queue_capacity"`
	HighWatermark float64 `json:"high_watermark"`
	LowWatermark  float64 `json:"low_watermark"`

	// Detection
	BatchSize           int           `json:"batch_size"`
	Workers             int           `json:"workers"`
	ConfidenceThreshold float64       `json:"confidence_threshold"`
	IoUThreshold        float64       `json:"iou_threshold"`
	MaxDetections       int           `json:"max_detections"`
	TargetSize          Resolution    `json:"target_size"`
	IdleSleep           time.Duration `json:"idle_sleep"`
	BatchPause          time.Duration `json:"batch_pause"`

	// Events and alerts
	Cooldown     time.Duration `json:"cooldown"`
	JPEGQuality  int           `json:"jpeg_quality"`
	AlertTimeout time.Duration `json:"alert_timeout"`
}

// Detect inspects the host. forceAccelerator is the operator's override for
// hosts where the accelerator cannot be seen from the filesystem.
func Detect(forceAccelerator bool) Capability {
	return Capability{
		Accelerator: forceAccelerator || detectAccelerator(),
		Constrained: isConstrainedPlatform(runtime.GOOS, runtime.GOARCH, runtime.NumCPU()),
		Platform:    runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func detectAccelerator() bool {
	for _, dev := range []string{"/dev/nvidia0", "/dev/nvidiactl"} {
		if _, err := os.Stat(dev); err == nil {
			return true
		}
	}
	return false
}

func isConstrainedPlatform(goos, goarch string, cpus int) bool {
	if goos == "darwin" {
		return true
	}
	return (goarch == "arm" || goarch == "arm64") && cpus <= 4
}

// TierFor picks the policy row for a capability.
func TierFor(c Capability) Tier {
	switch {
	case c.Accelerator:
		return TierAccelerated
	case c.Constrained:
		return TierConstrained
	default:
		return TierCPU
	}
}

// Select derives the tunables for a tier. It is pure.
func Select(tier Tier, c Capability, base Base) (Profile, error) {
	if base.QueueCapacity <= 0 {
		return Profile{}, fmt.Errorf("queue capacity must be positive, got %d", base.QueueCapacity)
	}
	if base.FrameSkip <= 0 {
		base.FrameSkip = 1
	}
	if base.ConfidenceThreshold <= 0 || base.ConfidenceThreshold > 1 {
		return Profile{}, fmt.Errorf("confidence threshold must be in (0,1], got %v", base.ConfidenceThreshold)
	}

	p := Profile{
		Tier:         tier,
		Capability:   c,
		IoUThreshold: 0.45,
		IdleSleep:    10 * time.Millisecond,
	}

	switch tier {
	case TierAccelerated:
		p.MaxResolution = Resolution{1280, 720}
		p.FrameInterval = 10 * time.Millisecond
		p.FrameSkip = base.FrameSkip
		p.StartStagger = 200 * time.Millisecond
		p.LowLatencyURL = true
		p.URLBufferSize = 1000000
		p.QueueCapacity = max(base.QueueCapacity, 64)
		p.HighWatermark, p.LowWatermark = 0.8, 0.5
		p.BatchSize = 4
		p.Workers = 2
		p.ConfidenceThreshold = base.ConfidenceThreshold
		p.MaxDetections = 20
		p.TargetSize = Resolution{640, 480}
		p.BatchPause = 10 * time.Millisecond
		p.Cooldown = 30 * time.Second
		p.JPEGQuality = 85
		p.AlertTimeout = 5 * time.Second
	case TierCPU:
		p.MaxResolution = Resolution{1024, 576}
		p.FrameInterval = 30 * time.Millisecond
		p.FrameSkip = max(base.FrameSkip, 2)
		p.StartStagger = 200 * time.Millisecond
		p.LowLatencyURL = true
		p.URLBufferSize = 1000000
		p.QueueCapacity = min(base.QueueCapacity, 48)
		p.HighWatermark, p.LowWatermark = 0.8, 0.5
		p.BatchSize = 1
		p.Workers = 1
		p.ConfidenceThreshold = max(base.ConfidenceThreshold, 0.5)
		p.MaxDetections = 10
		p.TargetSize = Resolution{480, 360}
		p.BatchPause = 30 * time.Millisecond
		p.Cooldown = 45 * time.Second
		p.JPEGQuality = 80
		p.AlertTimeout = 5 * time.Second
	case TierConstrained:
		p.MaxResolution = Resolution{960, 540}
		p.FrameInterval = 50 * time.Millisecond
		p.FrameSkip = max(base.FrameSkip, 3)
		p.StartStagger = 500 * time.Millisecond
		p.URLBufferSize = 500000
		p.QueueCapacity = min(base.QueueCapacity, 32)
		p.HighWatermark, p.LowWatermark = 0.7, 0.4
		p.BatchSize = 1
		p.Workers = 1
		p.ConfidenceThreshold = max(base.ConfidenceThreshold, 0.5)
		p.MaxDetections = 10
		p.TargetSize = Resolution{384, 288}
		p.BatchPause = 30 * time.Millisecond
		p.Cooldown = 45 * time.Second
		p.JPEGQuality = 75
		p.AlertTimeout = 10 * time.Second
	default:
		return Profile{}, fmt.Errorf("unknown hardware tier %q", tier)
	}

	return p, nil
}
