// Package ingest keeps one live decoded-frame feed per camera.
package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"diginetra/internal/framebus"
	"diginetra/internal/hardware"
	"diginetra/internal/logger"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusFailed       Status = "failed"
	StatusDisconnected Status = "disconnected"
)

// StatusEvent is emitted on every connectivity transition.
type StatusEvent struct {
	CameraID string    `json:"camera_id"`
	Status   Status    `json:"status"`
	Attempt  int       `json:"attempt"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// Publisher is the producer side of the frame bus.
type Publisher interface {
	Publish(cameraID string, f framebus.Frame) (int, error)
}

// Observer receives per-frame counters.
type Observer interface {
	FrameRead()
	FrameSkipped()
	FramePublished(dropped int)
	Reconnecting()
}

type nopObserver struct{}

func (nopObserver) FrameRead()         {}
func (nopObserver) FrameSkipped()      {}
func (nopObserver) FramePublished(int) {}
func (nopObserver) Reconnecting()      {}

type Config struct {
	CameraID             string
	Source               string
	FrameInterval        time.Duration
	MaxResolution        hardware.Resolution
	FrameSkip            int
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	FailureCooldown      time.Duration
	StopTimeout          time.Duration
	StatsEvery           uint64
}

// ConfigFromProfile fills the tunables that come from the hardware profile.
func ConfigFromProfile(cameraID, source string, p hardware.Profile, reconnectDelay time.Duration) Config {
	return Config{
		CameraID:             cameraID,
		Source:               source,
		FrameInterval:        p.FrameInterval,
		MaxResolution:        p.MaxResolution,
		FrameSkip:            p.FrameSkip,
		ReconnectDelay:       reconnectDelay,
		MaxReconnectAttempts: 5,
		FailureCooldown:      5 * time.Second,
		StopTimeout:          time.Second,
		StatsEvery:           100,
	}
}

// Stats is a point-in-time view of an ingester.
type Stats struct {
	CameraID    string    `json:"camera_id"`
	Status      Status    `json:"status"`
	FramesRead  uint64    `json:"frames_read"`
	Published   uint64    `json:"published"`
	Skipped     uint64    `json:"skipped"`
	BusDropped  uint64    `json:"bus_dropped"`
	Reconnects  uint64    `json:"reconnects"`
	LastFrameAt time.Time `json:"last_frame_at"`
}

// Ingester runs the Connecting/Streaming/Reconnecting loop for one camera.
type Ingester struct {
	cfg      Config
	open     Opener
	bus      Publisher
	statuses chan<- StatusEvent
	logger   *logger.Logger
	skipper  *Skipper
	observer Observer

	status    atomic.Value // Status
	attempts  atomic.Int32
	read      atomic.Uint64
	published atomic.Uint64
	skipped   atomic.Uint64
	dropped   atomic.Uint64
	reconnect atomic.Uint64
	lastFrame atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds an ingester. statuses may be nil; sends on it never block.
func New(cfg Config, open Opener, bus Publisher, statuses chan<- StatusEvent, log *logger.Logger) *Ingester {
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 5
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = time.Second
	}
	if cfg.StatsEvery == 0 {
		cfg.StatsEvery = 100
	}
	in := &Ingester{
		cfg:      cfg,
		open:     open,
		bus:      bus,
		statuses: statuses,
		logger:   log,
		skipper:  NewSkipper(cfg.FrameSkip),
		observer: nopObserver{},
	}
	in.status.Store(StatusDisconnected)
	return in
}

// SetObserver attaches metrics. Call before Start.
func (in *Ingester) SetObserver(o Observer) {
	if o != nil {
		in.observer = o
	}
}

func (in *Ingester) CameraID() string { return in.cfg.CameraID }

func (in *Ingester) Status() Status { return in.status.Load().(Status) }

// Attempts returns the current reconnect attempt counter.
func (in *Ingester) Attempts() int { return int(in.attempts.Load()) }

func (in *Ingester) Stats() Stats {
	var last time.Time
	if ns := in.lastFrame.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		CameraID:    in.cfg.CameraID,
		Status:      in.Status(),
		FramesRead:  in.read.Load(),
		Published:   in.published.Load(),
		Skipped:     in.skipped.Load(),
		BusDropped:  in.dropped.Load(),
		Reconnects:  in.reconnect.Load(),
		LastFrameAt: last,
	}
}

// Start launches the capture loop. Calling Start on a running ingester is a no-op.
func (in *Ingester) Start(ctx context.Context) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	in.cancel = cancel
	in.done = make(chan struct{})
	go in.run(ctx, in.done)
}

// Stop cancels the loop and waits up to StopTimeout for it to exit. It reports
// false when the wait timed out, typically on a read blocked in the capture.
func (in *Ingester) Stop() bool {
	in.mu.Lock()
	cancel, done := in.cancel, in.done
	in.cancel, in.done = nil, nil
	in.mu.Unlock()

	if cancel == nil {
		return true
	}
	cancel()

	select {
	case <-done:
		return true
	case <-time.After(in.cfg.StopTimeout):
		in.logger.Warning("Camera %s: capture loop did not exit within %v, forcing shutdown", in.cfg.CameraID, in.cfg.StopTimeout)
		in.setStatus(StatusDisconnected, "")
		return false
	}
}

func (in *Ingester) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	frame := gocv.NewMat()
	defer frame.Close()
	scaled := gocv.NewMat()
	defer scaled.Close()

	capture := in.connect()
	defer func() {
		if capture != nil {
			capture.Close()
		}
		in.setStatus(StatusDisconnected, "")
	}()

	var lastRead time.Time
	for {
		if ctx.Err() != nil {
			return
		}

		if wait := in.cfg.FrameInterval - time.Since(lastRead); wait > 0 {
			if !sleepCtx(ctx, wait) {
				return
			}
		}
		lastRead = time.Now()

		if capture == nil || !capture.Read(&frame) || frame.Empty() {
			capture = in.recover(ctx, capture)
			continue
		}

		in.attempts.Store(0)
		if in.Status() != StatusConnected {
			in.setStatus(StatusConnected, "")
		}
		in.handleFrame(frame, &scaled, lastRead)
	}
}

func (in *Ingester) handleFrame(frame gocv.Mat, scaled *gocv.Mat, at time.Time) {
	n := in.read.Add(1)
	in.lastFrame.Store(at.UnixNano())
	in.observer.FrameRead()

	if n%in.cfg.StatsEvery == 0 {
		s := in.Stats()
		in.logger.Zap().Info("ingest stats",
			zap.String("camera", s.CameraID),
			zap.Uint64("read", s.FramesRead),
			zap.Uint64("published", s.Published),
			zap.Uint64("skipped", s.Skipped),
			zap.Uint64("bus_dropped", s.BusDropped),
			zap.Uint64("reconnects", s.Reconnects))
	}

	if !in.skipper.Next() {
		in.skipped.Add(1)
		in.observer.FrameSkipped()
		return
	}

	src := frame
	scale := Downscale(frame, scaled, in.cfg.MaxResolution)
	if scale < 1 {
		src = *scaled
	}

	dropped, err := in.bus.Publish(in.cfg.CameraID, MatToFrame(in.cfg.CameraID, n, src, scale, at))
	if err != nil {
		in.logger.Warning("Camera %s: publish failed: %v", in.cfg.CameraID, err)
		return
	}
	in.published.Add(1)
	if dropped > 0 {
		in.dropped.Add(uint64(dropped))
	}
	in.observer.FramePublished(dropped)
}

func (in *Ingester) connect() Capture {
	in.setStatus(StatusConnecting, "")
	capture, err := in.open(in.cfg.Source)
	if err != nil {
		in.logger.Warning("Camera %s: %v", in.cfg.CameraID, err)
		return nil
	}
	in.logger.Info("Camera %s: capture opened", in.cfg.CameraID)
	return capture
}

// recover handles a failed read or open. After MaxReconnectAttempts failures
// in a row it reports failed, cools down and starts counting again from the
// first attempt.
func (in *Ingester) recover(ctx context.Context, capture Capture) Capture {
	attempt := int(in.attempts.Add(1))
	if attempt > in.cfg.MaxReconnectAttempts {
		in.setStatus(StatusFailed, "max reconnect attempts exceeded")
		in.logger.Error("Camera %s: %d reconnect attempts failed, cooling down for %v", in.cfg.CameraID, attempt-1, in.cfg.FailureCooldown)
		if !sleepCtx(ctx, in.cfg.FailureCooldown) {
			return closeCapture(capture)
		}
		in.attempts.Store(1)
		attempt = 1
	}

	in.reconnect.Add(1)
	in.observer.Reconnecting()
	in.setStatusAttempt(StatusReconnecting, attempt, "read failed")
	capture = closeCapture(capture)
	if !sleepCtx(ctx, in.cfg.ReconnectDelay) {
		return nil
	}
	return in.connect()
}

func closeCapture(c Capture) Capture {
	if c != nil {
		c.Close()
	}
	return nil
}

func (in *Ingester) setStatus(s Status, errMsg string) {
	in.setStatusAttempt(s, in.Attempts(), errMsg)
}

func (in *Ingester) setStatusAttempt(s Status, attempt int, errMsg string) {
	in.status.Store(s)
	if in.statuses == nil {
		return
	}
	ev := StatusEvent{CameraID: in.cfg.CameraID, Status: s, Attempt: attempt, Error: errMsg, At: time.Now()}
	select {
	case in.statuses <- ev:
	default:
		in.logger.Warning("Camera %s: status channel full, dropped %s event", in.cfg.CameraID, s)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
