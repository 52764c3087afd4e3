package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"diginetra/internal/dto"
	"diginetra/internal/framebus"
	"diginetra/internal/hardware"
	"diginetra/internal/logger"
	"diginetra/internal/metrics"
	"diginetra/internal/model"
	"diginetra/internal/repository"
	"diginetra/internal/service/ai"
	"diginetra/internal/service/alert"
	"diginetra/internal/service/ingest"
	"diginetra/internal/service/storage"
	"diginetra/internal/service/tracker"
	"diginetra/internal/service/websocket"

	"go.uber.org/zap"
)

const alertDrainTimeout = 5 * time.Second

// StatusPublisher receives status events for connected clients.
type StatusPublisher interface {
	Publish(msgType, camera string, data interface{})
	GetClientCount() int
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, string, interface{}) {}
func (nopPublisher) GetClientCount() int                 { return 0 }

// Deps are the components the manager wires together.
type Deps struct {
	Profile     hardware.Profile
	Bus         *framebus.Bus
	Opener      ingest.Opener
	Detectors   []ai.Detector // one per worker; the manager closes them on Stop
	Tracker     *tracker.Tracker
	Sink        alert.Sink
	AlertConfig alert.Config
	Snapshots   *storage.SnapshotWriter
	Cameras     repository.CameraRepository
	Events      repository.EventRepository
	Hub         StatusPublisher
	Metrics     *metrics.Metrics

	ReconnectDelay   time.Duration
	DefaultLatitude  float64
	DefaultLongitude float64
}

type cameraEntry struct {
	camera   model.Camera
	ingester *ingest.Ingester
}

// Manager supervises the pipeline: one ingester per enabled camera, a pool
// of detector workers, the cooldown gate and the alert dispatcher.
type Manager struct {
	deps       Deps
	profile    hardware.Profile
	tracker    *tracker.Tracker
	dispatcher *alert.Dispatcher
	hub        StatusPublisher
	metrics    *metrics.Metrics
	logger     *logger.Logger
	zl         *zap.Logger

	statuses chan ingest.StatusEvent
	results  chan ai.Result
	outcomes chan alert.Outcome
	quit     chan struct{}

	mu       sync.RWMutex
	cameras  map[string]*cameraEntry
	running  bool
	stopped  bool
	ctx      context.Context
	cancel   context.CancelFunc
	detCtx   context.Context
	detStop  context.CancelFunc
	workers  sync.WaitGroup
	consumer sync.WaitGroup
	loops    sync.WaitGroup
	starter  sync.WaitGroup

	liveMu sync.RWMutex
	live   map[string]ai.Result
}

// NewManager builds a manager. Nothing runs until Start.
func NewManager(deps Deps, logger *logger.Logger) *Manager {
	if deps.Hub == nil {
		deps.Hub = nopPublisher{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Tracker == nil {
		deps.Tracker = tracker.New(deps.Profile.Cooldown)
	}

	m := &Manager{
		deps:     deps,
		profile:  deps.Profile,
		tracker:  deps.Tracker,
		hub:      deps.Hub,
		metrics:  deps.Metrics,
		logger:   logger,
		zl:       logger.Zap(),
		statuses: make(chan ingest.StatusEvent, 256),
		results:  make(chan ai.Result, max(deps.Profile.BatchSize*len(deps.Detectors)*2, 8)),
		outcomes: make(chan alert.Outcome, 64),
		quit:     make(chan struct{}),
		cameras:  make(map[string]*cameraEntry),
		live:     make(map[string]ai.Result),
	}

	m.dispatcher = alert.NewDispatcher(deps.Sink, deps.AlertConfig, m.outcomes, logger)
	m.dispatcher.SetArchive(m)

	m.metrics.SetSources(m.ActiveCameras, m.queueDepth, m.hub.GetClientCount)
	return m
}

// Start launches detector workers, the dispatcher and one ingester per
// enabled camera, staggered by the profile's start delay.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running || m.stopped {
		return nil
	}

	var cameras []model.Camera
	if m.deps.Cameras != nil {
		var err error
		cameras, err = m.deps.Cameras.GetEnabled()
		if err != nil {
			return fmt.Errorf("failed to load cameras: %w", err)
		}
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.detCtx, m.detStop = context.WithCancel(context.WithoutCancel(ctx))
	m.running = true

	// The dispatcher must outlive ctx so the queue can drain on shutdown.
	m.dispatcher.Start(context.WithoutCancel(ctx))

	for i, det := range m.deps.Detectors {
		bd := ai.NewBatchDetector(m.deps.Bus, det, ai.BatchConfigFromProfile(m.profile), m.results,
			m.logger.Named(fmt.Sprintf("detector-%d", i)))
		bd.SetObserver(m.metrics)
		m.workers.Add(1)
		go func() {
			defer m.workers.Done()
			bd.Run(m.detCtx)
		}()
	}

	m.consumer.Add(1)
	go m.consumeResults()
	m.loops.Add(2)
	go m.consumeStatuses()
	go m.consumeOutcomes()

	m.starter.Add(1)
	go m.startCameras(cameras)

	m.logger.Info("🎬 Manager started: tier=%s workers=%d batch=%d cameras=%d",
		m.profile.Tier, len(m.deps.Detectors), m.profile.BatchSize, len(cameras))
	return nil
}

func (m *Manager) startCameras(cameras []model.Camera) {
	defer m.starter.Done()
	for i, cam := range cameras {
		if i > 0 && m.profile.StartStagger > 0 {
			select {
			case <-time.After(m.profile.StartStagger):
			case <-m.ctx.Done():
				return
			}
		}
		m.startCamera(cam)
	}
}

// Stop shuts down ingesters, then detector workers, then drains the alert
// queue. Calling Stop more than once is safe.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.stopped = true
		m.mu.Unlock()
		return
	}
	m.running = false
	m.stopped = true
	m.cancel()
	entries := make([]*cameraEntry, 0, len(m.cameras))
	for id, e := range m.cameras {
		entries = append(entries, e)
		delete(m.cameras, id)
	}
	m.mu.Unlock()

	m.starter.Wait()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(in *ingest.Ingester) {
			defer wg.Done()
			in.Stop()
		}(e.ingester)
	}
	wg.Wait()
	m.logger.Info("🛑 All ingesters stopped")

	m.detStop()
	m.workers.Wait()
	close(m.results)
	m.consumer.Wait()
	for _, det := range m.deps.Detectors {
		if err := det.Close(); err != nil {
			m.logger.Warning("Error closing detector: %v", err)
		}
	}
	m.logger.Info("🛑 All detector workers stopped")

	m.dispatcher.Stop(alertDrainTimeout)
	if m.deps.Snapshots != nil {
		m.deps.Snapshots.Wait()
	}

	// Late senders may still hold these channels, so they are never closed.
	close(m.quit)
	m.loops.Wait()
	m.logger.Info("🛑 Manager stopped")
}

func (m *Manager) consumeResults() {
	defer m.consumer.Done()
	for r := range m.results {
		m.handleResult(r)
	}
}

// consumeStatuses runs until quit, then handles whatever is already queued.
func (m *Manager) consumeStatuses() {
	defer m.loops.Done()
	for {
		select {
		case ev := <-m.statuses:
			m.handleStatus(ev)
		case <-m.quit:
			for {
				select {
				case ev := <-m.statuses:
					m.handleStatus(ev)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) consumeOutcomes() {
	defer m.loops.Done()
	for {
		select {
		case o := <-m.outcomes:
			m.handleOutcome(o)
		case <-m.quit:
			for {
				select {
				case o := <-m.outcomes:
					m.handleOutcome(o)
				default:
					return
				}
			}
		}
	}
}

type detectionSummary struct {
	Seq         uint64    `json:"seq"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Scale       float64   `json:"scale"`
	Boxes       []ai.Box  `json:"boxes"`
	ProcessedAt time.Time `json:"processed_at"`
}

// handleResult publishes the result and raises at most one alert for the
// frame: the first box whose category passes the cooldown gate. Results for
// cameras that were stopped while their frame was in flight are dropped.
func (m *Manager) handleResult(r ai.Result) {
	// The camera check and the live write share the read lock so stopCamera
	// cannot clear the live entry in between.
	m.mu.RLock()
	_, ok := m.cameras[r.CameraID]
	if ok {
		m.liveMu.Lock()
		m.live[r.CameraID] = r
		m.liveMu.Unlock()
	}
	m.mu.RUnlock()
	if !ok {
		m.zl.Debug("Dropping result for stopped camera", zap.String("camera", r.CameraID))
		return
	}

	m.hub.Publish(websocket.TypeDetection, r.CameraID, detectionSummary{
		Seq:         r.Frame.Seq,
		Width:       r.Frame.Width,
		Height:      r.Frame.Height,
		Scale:       r.Frame.Scale,
		Boxes:       r.Boxes,
		ProcessedAt: r.ProcessedAt,
	})

	now := r.ProcessedAt
	if now.IsZero() {
		now = time.Now()
	}
	for _, box := range r.Boxes {
		if !m.tracker.ShouldAlert(r.CameraID, string(box.Category), now) {
			m.metrics.AlertsSuppressed.Add(1)
			continue
		}
		m.raise(r, box, now)
		return
	}
}

func (m *Manager) raise(r ai.Result, box ai.Box, now time.Time) {
	m.metrics.AlertsRaised.Add(1)

	cam, _ := m.camera(r.CameraID)
	name := cam.Name
	if name == "" {
		name = r.CameraID
	}

	job := alert.NewJob(r.CameraID, name, box, r.Frame, now)
	job.Latitude, job.Longitude = m.location(cam)

	if err := m.dispatcher.Enqueue(job); err != nil {
		m.metrics.AlertsFailed.Add(1)
		m.tracker.Reset(r.CameraID, string(box.Category), now)
		m.zl.Warn("Alert not queued",
			zap.String("camera", r.CameraID),
			zap.String("category", string(box.Category)),
			zap.Error(err))
		return
	}
	m.zl.Info("Alert raised",
		zap.String("alert_id", job.ID),
		zap.String("camera", r.CameraID),
		zap.String("category", string(box.Category)),
		zap.Float64("confidence", box.Confidence))
}

// location prefers the stored coordinates, then the camera copy, then the defaults.
func (m *Manager) location(cam model.Camera) (float64, float64) {
	if m.deps.Cameras != nil && cam.ID != "" {
		lat, lon, ok, err := m.deps.Cameras.GetLocation(cam.ID)
		if err != nil {
			m.logger.Warning("Camera %s: location lookup failed: %v", cam.ID, err)
		} else if ok {
			return lat, lon
		}
	}
	if cam.HasLocation() {
		return *cam.Latitude, *cam.Longitude
	}
	return m.deps.DefaultLatitude, m.deps.DefaultLongitude
}

// Save persists the rendered snapshot and appends the event before the
// alert is sent.
func (m *Manager) Save(ctx context.Context, job *alert.Job) error {
	if m.deps.Snapshots != nil {
		meta := storage.Metadata{
			AlertID:    job.ID,
			Camera:     job.CameraID,
			CameraName: job.CameraName,
			Category:   string(job.Box.Category),
			Label:      job.Box.Label,
			Confidence: job.Box.Confidence,
			Box:        [4]int{job.Box.X, job.Box.Y, job.Box.Width, job.Box.Height},
			Timestamp:  job.DetectedAt,
			Latitude:   job.Latitude,
			Longitude:  job.Longitude,
		}
		if _, err := m.deps.Snapshots.Save(ctx, job.Filename, job.Image, meta); err != nil {
			return err
		}
	}

	if m.deps.Events != nil {
		id, err := m.deps.Events.Insert(&model.Event{
			CameraID:    job.CameraID,
			ObjectType:  string(job.Box.Category),
			Confidence:  job.Box.Confidence,
			Timestamp:   job.DetectedAt,
			ImagePath:   job.Filename,
			AlertID:     job.ID,
			AlertStatus: model.AlertPending,
		})
		if err != nil {
			return fmt.Errorf("failed to append event: %w", err)
		}
		job.EventID = id
	}
	return nil
}

type alertReport struct {
	AlertID  string  `json:"alert_id"`
	EventID  int64   `json:"event_id"`
	Category string  `json:"category"`
	Status   string  `json:"status"`
	Attempts int     `json:"attempts"`
	Image    string  `json:"image,omitempty"`
	Error    string  `json:"error,omitempty"`
	Took     float64 `json:"took_seconds"`
}

func (m *Manager) handleOutcome(o alert.Outcome) {
	status := model.AlertSent
	errMsg := ""
	if o.Sent() {
		m.metrics.AlertsSent.Add(1)
	} else {
		status = model.AlertFailed
		errMsg = o.Err.Error()
		m.metrics.AlertsFailed.Add(1)
	}

	if o.Job.EventID > 0 && m.deps.Events != nil {
		if err := m.deps.Events.UpdateAlertStatus(o.Job.EventID, status); err != nil {
			m.logger.Error("Error updating alert status for event %d: %v", o.Job.EventID, err)
		}
	}

	m.hub.Publish(websocket.TypeAlert, o.Job.CameraID, alertReport{
		AlertID:  o.Job.ID,
		EventID:  o.Job.EventID,
		Category: string(o.Job.Box.Category),
		Status:   status,
		Attempts: o.Attempts,
		Image:    o.Job.Filename,
		Error:    errMsg,
		Took:     o.Duration.Seconds(),
	})
}

func (m *Manager) handleStatus(ev ingest.StatusEvent) {
	switch ev.Status {
	case ingest.StatusFailed:
		m.logger.Error("Camera %s: %s", ev.CameraID, ev.Error)
	case ingest.StatusConnected:
		m.logger.Info("Camera %s: connected", ev.CameraID)
	}
	m.hub.Publish(websocket.TypeCamera, ev.CameraID, ev)
}

func (m *Manager) startCamera(cam model.Camera) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	if _, ok := m.cameras[cam.ID]; ok {
		return
	}

	m.deps.Bus.Add(cam.ID)
	cfg := ingest.ConfigFromProfile(cam.ID, cam.Source, m.profile, m.deps.ReconnectDelay)
	in := ingest.New(cfg, m.deps.Opener, m.deps.Bus, m.statuses, m.logger.Named("ingest"))
	in.SetObserver(m.metrics)
	m.cameras[cam.ID] = &cameraEntry{camera: cam, ingester: in}
	in.Start(m.ctx)
	m.logger.Info("Camera %s (%s): ingester started", cam.ID, cam.Name)
}

func (m *Manager) stopCamera(id string) {
	m.mu.Lock()
	e, ok := m.cameras[id]
	delete(m.cameras, id)
	m.mu.Unlock()
	if !ok {
		return
	}

	e.ingester.Stop()
	m.deps.Bus.Remove(id)
	m.liveMu.Lock()
	delete(m.live, id)
	m.liveMu.Unlock()
	m.logger.Info("Camera %s: ingester stopped", id)
}

// camera returns the running copy of a camera, if any.
func (m *Manager) camera(id string) (model.Camera, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.cameras[id]; ok {
		return e.camera, true
	}
	return model.Camera{ID: id}, false
}

// ListCameras returns every stored camera.
func (m *Manager) ListCameras() ([]model.Camera, error) {
	return m.deps.Cameras.GetAll()
}

// GetCamera returns one stored camera or nil.
func (m *Manager) GetCamera(id string) (*model.Camera, error) {
	return m.deps.Cameras.GetByID(id)
}

// AddCamera stores a camera and starts it when enabled.
func (m *Manager) AddCamera(cam *model.Camera) error {
	if err := m.deps.Cameras.Insert(cam); err != nil {
		return err
	}
	if cam.Enabled {
		m.startCamera(*cam)
	}
	return nil
}

// UpdateCamera stores the change and restarts the camera's ingester so it
// picks up the new source.
func (m *Manager) UpdateCamera(cam *model.Camera) error {
	if err := m.deps.Cameras.Update(cam); err != nil {
		return err
	}
	m.stopCamera(cam.ID)
	if cam.Enabled {
		m.startCamera(*cam)
	}
	return nil
}

// DeleteCamera stops and removes a camera. Its events are kept.
func (m *Manager) DeleteCamera(id string) error {
	m.stopCamera(id)
	return m.deps.Cameras.Delete(id)
}

// ActiveCameras returns the number of running ingesters.
func (m *Manager) ActiveCameras() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cameras)
}

func (m *Manager) queueDepth() int {
	return m.deps.Bus.TotalDepth()
}

// Status returns a snapshot for the status endpoint.
func (m *Manager) Status() dto.Status {
	m.mu.RLock()
	stats := make([]ingest.Stats, 0, len(m.cameras))
	for _, e := range m.cameras {
		stats = append(stats, e.ingester.Stats())
	}
	m.mu.RUnlock()
	sort.Slice(stats, func(i, j int) bool { return stats[i].CameraID < stats[j].CameraID })

	return dto.Status{
		Profile:    m.profile,
		Cameras:    stats,
		Queues:     m.deps.Bus.Stats(),
		Viewers:    m.hub.GetClientCount(),
		AlertQueue: m.dispatcher.Pending(),
	}
}

// LatestFrame renders the most recent processed frame of a camera with its boxes.
func (m *Manager) LatestFrame(cameraID string) ([]byte, time.Time, error) {
	m.liveMu.RLock()
	r, ok := m.live[cameraID]
	m.liveMu.RUnlock()
	if !ok {
		return nil, time.Time{}, nil
	}

	img, err := ai.Annotate(r.Frame, r.Boxes, m.profile.JPEGQuality)
	if err != nil {
		return nil, time.Time{}, err
	}
	return img, r.ProcessedAt, nil
}

// Profile returns the hardware profile the pipeline runs with.
func (m *Manager) Profile() hardware.Profile {
	return m.profile
}

// Metrics returns the pipeline metrics.
func (m *Manager) Metrics() *metrics.Metrics {
	return m.metrics
}
