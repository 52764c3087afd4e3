package ai

import (
	"context"
	"image"
	"time"

	"diginetra/internal/framebus"
	"diginetra/internal/hardware"
	"diginetra/internal/logger"
)

// Box is a categorized detection in the coordinate space of its frame.
type Box struct {
	Category   Category `json:"category"`
	Label      string   `json:"label"`
	Confidence float64  `json:"confidence"`
	X          int      `json:"x"`
	Y          int      `json:"y"`
	Width      int      `json:"width"`
	Height     int      `json:"height"`
}

func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// Result is emitted once per processed frame, with or without boxes.
type Result struct {
	CameraID    string
	Frame       framebus.Frame
	Boxes       []Box
	ProcessedAt time.Time
}

// Source is the consumer side of the frame bus.
type Source interface {
	Drain(maxItems int) []framebus.Frame
}

// Observer receives batch-level counters.
type Observer interface {
	BatchProcessed(frames int, d time.Duration)
	InferenceFailed()
	DetectionMapped(category string)
}

type nopObserver struct{}

func (nopObserver) BatchProcessed(int, time.Duration) {}
func (nopObserver) InferenceFailed()                  {}
func (nopObserver) DetectionMapped(string)            {}

type BatchConfig struct {
	BatchSize  int
	IdleSleep  time.Duration
	BatchPause time.Duration
	Request    Request
}

// BatchConfigFromProfile builds the batch loop settings for a hardware profile.
func BatchConfigFromProfile(p hardware.Profile) BatchConfig {
	return BatchConfig{
		BatchSize:  p.BatchSize,
		IdleSleep:  p.IdleSleep,
		BatchPause: p.BatchPause,
		Request: Request{
			Labels:        TargetLabels,
			Confidence:    p.ConfidenceThreshold,
			IoU:           p.IoUThreshold,
			MaxDetections: p.MaxDetections,
			TargetSize:    image.Pt(p.TargetSize.Width, p.TargetSize.Height),
			Agnostic:      true,
		},
	}
}

// BatchDetector drains the bus, runs the Detector and emits one Result per frame.
type BatchDetector struct {
	source   Source
	detector Detector
	cfg      BatchConfig
	results  chan<- Result
	logger   *logger.Logger
	observer Observer
}

func NewBatchDetector(source Source, detector Detector, cfg BatchConfig, results chan<- Result, log *logger.Logger) *BatchDetector {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = 10 * time.Millisecond
	}
	return &BatchDetector{
		source:   source,
		detector: detector,
		cfg:      cfg,
		results:  results,
		logger:   log,
		observer: nopObserver{},
	}
}

// SetObserver attaches metrics. Call before Run.
func (b *BatchDetector) SetObserver(o Observer) {
	if o != nil {
		b.observer = o
	}
}

// Run loops until ctx is cancelled.
func (b *BatchDetector) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		frames := b.source.Drain(b.cfg.BatchSize)
		if len(frames) == 0 {
			if !sleep(ctx, b.cfg.IdleSleep) {
				return
			}
			continue
		}

		for _, r := range b.ProcessBatch(ctx, frames) {
			select {
			case b.results <- r:
			case <-ctx.Done():
				return
			}
		}

		if b.cfg.BatchPause > 0 && !sleep(ctx, b.cfg.BatchPause) {
			return
		}
	}
}

// ProcessBatch runs one inference call. On success it returns exactly
// len(frames) results in input order; on failure it logs and returns nil.
func (b *BatchDetector) ProcessBatch(ctx context.Context, frames []framebus.Frame) []Result {
	start := time.Now()
	raw, err := b.detector.Detect(ctx, frames, b.cfg.Request)
	if err != nil {
		b.observer.InferenceFailed()
		b.logger.Error("Inference failed for batch of %d frame(s), skipping: %v", len(frames), err)
		return nil
	}
	b.observer.BatchProcessed(len(frames), time.Since(start))

	now := time.Now()
	results := make([]Result, len(frames))
	for i, f := range frames {
		var dets []RawDetection
		if i < len(raw) {
			dets = raw[i]
		}
		results[i] = Result{
			CameraID:    f.CameraID,
			Frame:       f,
			Boxes:       b.categorize(f.CameraID, dets),
			ProcessedAt: now,
		}
	}
	if len(raw) != len(frames) {
		b.logger.Warning("Detector returned %d result lists for %d frames", len(raw), len(frames))
	}
	return results
}

func (b *BatchDetector) categorize(cameraID string, dets []RawDetection) []Box {
	boxes := make([]Box, 0, len(dets))
	for _, d := range dets {
		if d.Confidence < b.cfg.Request.Confidence {
			continue
		}
		category, ok := CategoryOf(d.Label)
		if !ok {
			b.logger.Warning("Camera %s: detector returned unmapped label %q, ignoring", cameraID, d.Label)
			continue
		}
		b.observer.DetectionMapped(string(category))
		boxes = append(boxes, Box{
			Category:   category,
			Label:      d.Label,
			Confidence: d.Confidence,
			X:          d.X1,
			Y:          d.Y1,
			Width:      d.X2 - d.X1,
			Height:     d.Y2 - d.Y1,
		})
	}
	return boxes
}

// sleep waits for d or ctx, reporting false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
