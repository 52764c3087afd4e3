package alert

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"diginetra/internal/framebus"
	"diginetra/internal/hardware"
	"diginetra/internal/logger"
	"diginetra/internal/service/ai"
	"diginetra/internal/service/storage"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned by Enqueue when the dispatcher is saturated.
	ErrQueueFull = errors.New("alert queue full")
	// ErrStopped is returned by Enqueue after Stop.
	ErrStopped = errors.New("alert dispatcher stopped")
)

const caseTimeLayout = "2006-01-02 15:04:05"

// Job is one alert waiting for delivery.
type Job struct {
	ID         string
	EventID    int64
	CameraID   string
	CameraName string
	Box        ai.Box
	Frame      framebus.Frame
	DetectedAt time.Time
	Latitude   float64
	Longitude  float64

	// Set while the job is processed.
	Filename string
	Image    []byte
}

// NewJob creates a job with a fresh id.
func NewJob(cameraID, cameraName string, box ai.Box, frame framebus.Frame, at time.Time) Job {
	return Job{
		ID:         uuid.NewString(),
		CameraID:   cameraID,
		CameraName: cameraName,
		Box:        box,
		Frame:      frame,
		DetectedAt: at,
	}
}

// CaseDetails is the human readable summary sent with the alert.
func (j Job) CaseDetails() string {
	name := j.CameraName
	if name == "" {
		name = j.CameraID
	}
	return fmt.Sprintf("%s detected on %s at %s", j.Box.Category, name, j.DetectedAt.Format(caseTimeLayout))
}

// Payload builds the sink request for a rendered job.
func (j Job) Payload() Payload {
	return Payload{
		Image:       j.Image,
		Filename:    j.Filename,
		Latitude:    strconv.FormatFloat(j.Latitude, 'f', -1, 64),
		Longitude:   strconv.FormatFloat(j.Longitude, 'f', -1, 64),
		ObjectType:  string(j.Box.Category),
		CaseDetails: j.CaseDetails(),
		Severity:    j.Box.Category.Severity(),
	}
}

// Archive persists a rendered job before it is sent. It may set EventID.
type Archive interface {
	Save(ctx context.Context, job *Job) error
}

// Outcome reports a finished job. Frame and Image are not carried.
type Outcome struct {
	Job      Job
	Err      error
	Attempts int
	Duration time.Duration
}

// Sent reports whether the sink accepted the alert.
func (o Outcome) Sent() bool {
	return o.Err == nil
}

// Config holds the dispatcher's tunables.
type Config struct {
	QueueSize    int
	Workers      int
	JPEGQuality  int
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// ConfigFromProfile derives dispatcher settings from the hardware profile.
func ConfigFromProfile(p hardware.Profile, queueSize, maxRetries int) Config {
	return Config{
		QueueSize:    queueSize,
		Workers:      1,
		JPEGQuality:  p.JPEGQuality,
		Timeout:      p.AlertTimeout,
		MaxRetries:   maxRetries,
		RetryBackoff: 500 * time.Millisecond,
	}
}

// Dispatcher renders and delivers alerts off the detection path.
type Dispatcher struct {
	sink     Sink
	archive  Archive
	cfg      Config
	outcomes chan<- Outcome
	logger   *logger.Logger
	zl       *zap.Logger

	queue   chan Job
	mu      sync.RWMutex
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher. outcomes may be nil.
func NewDispatcher(sink Sink, cfg Config, outcomes chan<- Outcome, log *logger.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	l := log.Named("alert")
	return &Dispatcher{
		sink:     sink,
		cfg:      cfg,
		outcomes: outcomes,
		logger:   l,
		zl:       l.Zap(),
		queue:    make(chan Job, cfg.QueueSize),
	}
}

// SetArchive sets the persistence step run before each send.
func (d *Dispatcher) SetArchive(a Archive) {
	d.archive = a
}

// Start launches the worker pool. Workers exit when the queue is closed by
// Stop; ctx cancellation aborts in-flight sends.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for job := range d.queue {
				d.process(ctx, job)
			}
		}()
	}
}

// Enqueue hands a job to the workers without blocking.
func (d *Dispatcher) Enqueue(job Job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrStopped
	}

	select {
	case d.queue <- job:
		return nil
	default:
		d.zl.Warn("Alert queue full, dropping alert",
			zap.String("alert_id", job.ID),
			zap.String("camera", job.CameraID),
			zap.String("category", string(job.Box.Category)))
		return ErrQueueFull
	}
}

// Pending returns the number of queued jobs.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Stop closes the queue and waits for workers to drain it, up to timeout.
func (d *Dispatcher) Stop(timeout time.Duration) bool {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return true
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		d.logger.Warning("Alert queue not drained after %v, %d jobs abandoned", timeout, len(d.queue))
		return false
	}
}

func (d *Dispatcher) process(ctx context.Context, job Job) {
	start := time.Now()
	fields := []zap.Field{
		zap.String("alert_id", job.ID),
		zap.String("camera", job.CameraID),
		zap.String("category", string(job.Box.Category)),
	}

	image, err := ai.Annotate(job.Frame, []ai.Box{job.Box}, d.cfg.JPEGQuality)
	if err != nil {
		d.zl.Error("Failed to render alert", append(fields, zap.Error(err))...)
		d.report(job, err, 0, start)
		return
	}
	job.Image = image
	if job.Filename == "" {
		job.Filename = storage.SnapshotName(job.CameraID, job.DetectedAt, string(job.Box.Category))
	}

	if d.archive != nil {
		if err := d.archive.Save(ctx, &job); err != nil {
			d.zl.Error("Failed to persist alert", append(fields, zap.Error(err))...)
			d.report(job, err, 0, start)
			return
		}
	}

	attempts, err := d.deliver(ctx, job.Payload())
	if err != nil {
		d.zl.Warn("Alert delivery failed",
			append(fields, zap.Int("attempts", attempts), zap.Error(err))...)
	} else {
		d.zl.Info("Alert sent",
			append(fields, zap.Int("attempts", attempts), zap.Duration("took", time.Since(start)))...)
	}
	d.report(job, err, attempts, start)
}

// deliver sends once, or retries with exponential backoff when MaxRetries > 0.
// Client errors (4xx) are never retried.
func (d *Dispatcher) deliver(ctx context.Context, p Payload) (int, error) {
	attempts := 0
	op := func() error {
		attempts++
		sctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()

		err := d.sink.Send(sctx, p)
		var rejected *RejectedError
		if errors.As(err, &rejected) && rejected.StatusCode >= http.StatusBadRequest && rejected.StatusCode < http.StatusInternalServerError {
			return backoff.Permanent(err)
		}
		return err
	}

	if d.cfg.MaxRetries <= 0 {
		err := op()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return 1, err
	}

	ebo := backoff.NewExponentialBackOff()
	ebo.InitialInterval = d.cfg.RetryBackoff
	ebo.Reset()
	b := backoff.WithContext(backoff.WithMaxRetries(ebo, uint64(d.cfg.MaxRetries)), ctx)
	err := backoff.Retry(op, b)
	return attempts, err
}

func (d *Dispatcher) report(job Job, err error, attempts int, start time.Time) {
	if d.outcomes == nil {
		return
	}
	job.Frame = framebus.Frame{}
	job.Image = nil

	select {
	case d.outcomes <- Outcome{Job: job, Err: err, Attempts: attempts, Duration: time.Since(start)}:
	default:
		d.zl.Warn("Outcome channel full, dropping report", zap.String("alert_id", job.ID))
	}
}
