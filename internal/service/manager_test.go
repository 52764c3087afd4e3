package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"diginetra/internal/framebus"
	"diginetra/internal/hardware"
	"diginetra/internal/logger"
	"diginetra/internal/model"
	"diginetra/internal/repository/sqlite"
	"diginetra/internal/service/ai"
	"diginetra/internal/service/alert"
	"diginetra/internal/service/ingest"
	"diginetra/internal/service/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// frameCapture yields n frames, then either keeps yielding (repeat) or fails.
type frameCapture struct {
	mu     sync.Mutex
	n      int
	repeat bool
	read   int
}

func (c *frameCapture) Read(dst *gocv.Mat) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.read >= c.n && !c.repeat {
		return false
	}
	c.read++
	src := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer src.Close()
	src.CopyTo(dst)
	return true
}

func (c *frameCapture) Close() error { return nil }

// onceOpener hands out the capture on the first open and fails afterwards.
func onceOpener(c ingest.Capture) ingest.Opener {
	var opened atomic.Bool
	return func(string) (ingest.Capture, error) {
		if opened.CompareAndSwap(false, true) {
			return c, nil
		}
		return nil, errors.New("stream ended")
	}
}

type countingDetector struct {
	frames  atomic.Int32
	respond func(f framebus.Frame) []ai.RawDetection
}

func (d *countingDetector) Detect(_ context.Context, frames []framebus.Frame, _ ai.Request) ([][]ai.RawDetection, error) {
	out := make([][]ai.RawDetection, len(frames))
	for i, f := range frames {
		d.frames.Add(1)
		if d.respond != nil {
			out[i] = d.respond(f)
		}
	}
	return out, nil
}

func (d *countingDetector) Close() error { return nil }

func alwaysPerson(framebus.Frame) []ai.RawDetection {
	return []ai.RawDetection{{Label: "person", Confidence: 0.6, X1: 4, Y1: 4, X2: 30, Y2: 40}}
}

func testProfile(t *testing.T) hardware.Profile {
	t.Helper()
	p, err := hardware.Select(hardware.TierCPU, hardware.Capability{},
		hardware.Base{QueueCapacity: 32, FrameSkip: 2, ConfidenceThreshold: 0.45})
	require.NoError(t, err)
	p.FrameInterval = 2 * time.Millisecond
	p.IdleSleep = time.Millisecond
	p.BatchPause = 0
	p.StartStagger = 0
	p.Cooldown = 30 * time.Second
	return p
}

type harness struct {
	manager   *Manager
	db        *sqlite.DB
	cameras   *sqlite.CameraRepository
	events    *sqlite.EventRepository
	snapshots *storage.SnapshotWriter
	detector  *countingDetector
	sinkCalls *atomic.Int32
}

func newHarness(t *testing.T, opener ingest.Opener, detector *countingDetector, sinkStatus int, cams ...model.Camera) *harness {
	t.Helper()

	db, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cameraRepo := sqlite.NewCameraRepository(db)
	for i := range cams {
		require.NoError(t, cameraRepo.Insert(&cams[i]))
	}

	calls := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(sinkStatus)
	}))
	t.Cleanup(srv.Close)

	p := testProfile(t)
	bus, err := framebus.New(framebus.Config{Capacity: p.QueueCapacity, HighWatermark: p.HighWatermark, LowWatermark: p.LowWatermark})
	require.NoError(t, err)

	h := &harness{
		db:        db,
		cameras:   cameraRepo,
		events:    sqlite.NewEventRepository(db),
		snapshots: storage.NewSnapshotWriter(t.TempDir(), logger.NewNop()),
		detector:  detector,
		sinkCalls: calls,
	}
	h.manager = NewManager(Deps{
		Profile:          p,
		Bus:              bus,
		Opener:           opener,
		Detectors:        []ai.Detector{detector},
		Sink:             alert.NewWebhookSink(srv.URL, "secret", "token", time.Second),
		AlertConfig:      alert.ConfigFromProfile(p, 8, 0),
		Snapshots:        h.snapshots,
		Cameras:          cameraRepo,
		Events:           h.events,
		ReconnectDelay:   time.Hour,
		DefaultLatitude:  28.5355,
		DefaultLongitude: 77.391,
	}, logger.NewNop())
	return h
}

func cam1() model.Camera {
	return model.Camera{ID: "cam1", Name: "Front Gate", Source: "rtsp://cam1/live", Enabled: true}
}

func TestManager_FrameSkipReachesDetector(t *testing.T) {
	detector := &countingDetector{}
	h := newHarness(t, onceOpener(&frameCapture{n: 10}), detector, http.StatusOK, cam1())

	require.NoError(t, h.manager.Start(context.Background()))
	defer h.manager.Stop()

	require.Eventually(t, func() bool { return detector.frames.Load() == 5 }, 3*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(5), detector.frames.Load(), "10 frames with frame_skip=2 yield exactly 5")
	assert.Equal(t, uint64(10), h.manager.Metrics().FramesCaptured.Load())
}

func TestManager_PersonRaisesOneAlert(t *testing.T) {
	detector := &countingDetector{respond: alwaysPerson}
	h := newHarness(t, onceOpener(&frameCapture{n: 10}), detector, http.StatusOK, cam1())

	require.NoError(t, h.manager.Start(context.Background()))
	defer h.manager.Stop()

	require.Eventually(t, func() bool { return detector.frames.Load() == 5 }, 3*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		events, err := h.events.GetAll(nil)
		return err == nil && len(events) == 1 && events[0].AlertStatus == model.AlertSent
	}, 3*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return h.manager.Metrics().AlertsSuppressed.Load() == 4 },
		3*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), h.sinkCalls.Load(), "cooldown suppresses the other four")
	assert.Equal(t, uint64(1), h.manager.Metrics().AlertsRaised.Load())

	events, err := h.events.GetAll(nil)
	require.NoError(t, err)
	ev := events[0]
	assert.Equal(t, "Human", ev.ObjectType)
	assert.Equal(t, "Front Gate", ev.CameraName)
	assert.NotEmpty(t, ev.AlertID)

	_, err = os.Stat(filepath.Join(h.snapshots.Dir(), ev.ImagePath))
	assert.NoError(t, err, "annotated snapshot written before dispatch")
	meta, err := h.snapshots.ReadMetadata(ev.ImagePath)
	require.NoError(t, err)
	assert.Equal(t, 28.5355, meta.Latitude, "default location when the camera has none")
}

func TestManager_SinkFailureDoesNotStopPipeline(t *testing.T) {
	detector := &countingDetector{respond: alwaysPerson}
	h := newHarness(t, onceOpener(&frameCapture{n: 10}), detector, http.StatusInternalServerError, cam1())

	require.NoError(t, h.manager.Start(context.Background()))
	defer h.manager.Stop()

	require.Eventually(t, func() bool {
		events, err := h.events.GetAll(nil)
		return err == nil && len(events) == 1 && events[0].AlertStatus == model.AlertFailed
	}, 3*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return detector.frames.Load() == 5 }, 3*time.Second, 5*time.Millisecond)

	assert.Equal(t, uint64(1), h.manager.Metrics().AlertsFailed.Load())
	assert.Equal(t, uint64(0), h.manager.Metrics().AlertsSent.Load())
}

func TestManager_CooldownAndOneAlertPerFrame(t *testing.T) {
	h := newHarness(t, onceOpener(&frameCapture{}), &countingDetector{}, http.StatusOK)
	m := h.manager
	m.cameras["cam1"] = &cameraEntry{camera: cam1()}

	frame := framebus.Frame{CameraID: "cam1", Width: 64, Height: 48, Channels: 3, Data: make([]byte, 64*48*3), Scale: 1}
	human := ai.Box{Category: ai.Human, Label: "person", Confidence: 0.9, X: 1, Y: 1, Width: 10, Height: 10}
	vehicle := ai.Box{Category: ai.Vehicle, Label: "car", Confidence: 0.8, X: 20, Y: 20, Width: 10, Height: 10}
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	result := func(at time.Time, boxes ...ai.Box) ai.Result {
		return ai.Result{CameraID: "cam1", Frame: frame, Boxes: boxes, ProcessedAt: at}
	}

	m.handleResult(result(t0, human, vehicle))
	assert.Equal(t, uint64(1), m.metrics.AlertsRaised.Load(), "one alert per frame")
	_, seen := m.tracker.LastAlert("cam1", string(ai.Vehicle))
	assert.False(t, seen, "the second category is not consumed")

	m.handleResult(result(t0.Add(5*time.Second), human, vehicle))
	assert.Equal(t, uint64(2), m.metrics.AlertsRaised.Load(), "vehicle goes out on the next frame")

	m.handleResult(result(t0.Add(5*time.Second), human))
	assert.Equal(t, uint64(2), m.metrics.AlertsRaised.Load(), "5s after the first human alert is suppressed")

	m.handleResult(result(t0.Add(35*time.Second), human))
	assert.Equal(t, uint64(3), m.metrics.AlertsRaised.Load(), "35s later it is allowed")

	assert.Equal(t, 3, m.dispatcher.Pending())
}

func TestManager_CameraLifecycle(t *testing.T) {
	detector := &countingDetector{respond: alwaysPerson}
	capture := &frameCapture{repeat: true}
	opener := func(string) (ingest.Capture, error) { return capture, nil }
	h := newHarness(t, opener, detector, http.StatusOK)
	m := h.manager

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()
	assert.Equal(t, 0, m.ActiveCameras())

	cam := cam1()
	require.NoError(t, m.AddCamera(&cam))
	assert.Equal(t, 1, m.ActiveCameras())

	require.Eventually(t, func() bool {
		img, _, err := m.LatestFrame("cam1")
		return err == nil && len(img) > 0
	}, 3*time.Second, 5*time.Millisecond)

	status := m.Status()
	require.Len(t, status.Cameras, 1)
	assert.Equal(t, "cam1", status.Cameras[0].CameraID)
	assert.Equal(t, hardware.TierCPU, status.Profile.Tier)

	cam.Enabled = false
	require.NoError(t, m.UpdateCamera(&cam))
	assert.Equal(t, 0, m.ActiveCameras())
	img, _, err := m.LatestFrame("cam1")
	require.NoError(t, err)
	assert.Nil(t, img, "live frame cleared with the camera")

	cam.Enabled = true
	require.NoError(t, m.UpdateCamera(&cam))
	assert.Equal(t, 1, m.ActiveCameras())

	require.NoError(t, m.DeleteCamera("cam1"))
	assert.Equal(t, 0, m.ActiveCameras())
	got, err := m.GetCamera("cam1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestManager_StopIsIdempotent(t *testing.T) {
	h := newHarness(t, onceOpener(&frameCapture{n: 3}), &countingDetector{}, http.StatusOK, cam1())

	require.NoError(t, h.manager.Start(context.Background()))
	done := make(chan struct{})
	go func() {
		h.manager.Stop()
		h.manager.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("stop did not return")
	}
	assert.Equal(t, 0, h.manager.ActiveCameras())
	require.NoError(t, h.manager.Start(context.Background()), "start after stop is a no-op")
	assert.Equal(t, 0, h.manager.ActiveCameras())
}

func TestManager_ResultForStoppedCameraIsDropped(t *testing.T) {
	detector := &countingDetector{}
	capture := &frameCapture{repeat: true}
	opener := func(string) (ingest.Capture, error) { return capture, nil }
	h := newHarness(t, opener, detector, http.StatusOK)
	m := h.manager

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	cam := cam1()
	require.NoError(t, m.AddCamera(&cam))
	require.Eventually(t, func() bool { return detector.frames.Load() > 0 }, 3*time.Second, 5*time.Millisecond)

	cam.Enabled = false
	require.NoError(t, m.UpdateCamera(&cam))
	raised := m.metrics.AlertsRaised.Load()

	// a result that was still inside the detector when the camera stopped
	m.handleResult(ai.Result{
		CameraID:    "cam1",
		Frame:       framebus.Frame{CameraID: "cam1", Width: 64, Height: 48, Channels: 3, Data: make([]byte, 64*48*3), Scale: 1},
		Boxes:       []ai.Box{{Category: ai.Human, Label: "person", Confidence: 0.9, X: 1, Y: 1, Width: 10, Height: 10}},
		ProcessedAt: time.Now(),
	})

	img, _, err := m.LatestFrame("cam1")
	require.NoError(t, err)
	assert.Nil(t, img)
	assert.Equal(t, raised, m.metrics.AlertsRaised.Load())
	_, seen := m.tracker.LastAlert("cam1", string(ai.Human))
	assert.False(t, seen)
	for _, q := range m.Status().Queues {
		assert.NotEqual(t, "cam1", q.CameraID, "removed camera keeps no queue")
	}
}

func TestManager_DroppedAlertReleasesCooldown(t *testing.T) {
	h := newHarness(t, onceOpener(&frameCapture{}), &countingDetector{}, http.StatusOK)
	m := h.manager
	m.cameras["cam1"] = &cameraEntry{camera: cam1()}
	require.True(t, m.dispatcher.Stop(time.Second))

	frame := framebus.Frame{CameraID: "cam1", Width: 64, Height: 48, Channels: 3, Data: make([]byte, 64*48*3), Scale: 1}
	human := ai.Box{Category: ai.Human, Label: "person", Confidence: 0.9, X: 1, Y: 1, Width: 10, Height: 10}
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	m.handleResult(ai.Result{CameraID: "cam1", Frame: frame, Boxes: []ai.Box{human}, ProcessedAt: t0})
	assert.Equal(t, uint64(1), m.metrics.AlertsFailed.Load())
	_, seen := m.tracker.LastAlert("cam1", string(ai.Human))
	assert.False(t, seen, "enqueue failure does not consume the cooldown")

	m.handleResult(ai.Result{CameraID: "cam1", Frame: frame, Boxes: []ai.Box{human}, ProcessedAt: t0.Add(time.Second)})
	assert.Equal(t, uint64(2), m.metrics.AlertsRaised.Load(), "next frame may alert again")
	assert.Zero(t, m.metrics.AlertsSuppressed.Load())
}
