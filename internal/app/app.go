package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"diginetra/internal/config"
	"diginetra/internal/framebus"
	"diginetra/internal/hardware"
	"diginetra/internal/logger"
	"diginetra/internal/metrics"
	"diginetra/internal/repository/sqlite"
	"diginetra/internal/route"
	"diginetra/internal/service"
	"diginetra/internal/service/ai"
	"diginetra/internal/service/alert"
	"diginetra/internal/service/ingest"
	"diginetra/internal/service/storage"
	"diginetra/internal/service/tracker"
	"diginetra/internal/service/websocket"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config    *config.Config
	logger    *logger.Logger
	profile   hardware.Profile
	db        *sqlite.DB
	bus       *framebus.Bus
	hub       *websocket.HubService
	snapshots *storage.SnapshotWriter
	manager   *service.Manager
	server    *http.Server
}

// NewApp loads configuration, selects the hardware profile and wires every
// component. Nothing runs until Run.
func NewApp(ctx context.Context) (*App, error) {
	cfg := config.Load()

	log, err := logger.NewLogger(cfg)
	if err != nil {
		return nil, err
	}

	profile, err := selectProfile(cfg)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	bus, err := framebus.New(framebus.Config{
		Capacity:      profile.QueueCapacity,
		HighWatermark: profile.HighWatermark,
		LowWatermark:  profile.LowWatermark,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	detectors := make([]ai.Detector, 0, profile.Workers)
	for i := 0; i < profile.Workers; i++ {
		det, err := ai.NewNetDetector(cfg.ModelPath, cfg.ConfigPath, profile.Tier == hardware.TierAccelerated, log.Named("net"))
		if err != nil {
			for _, d := range detectors {
				d.Close()
			}
			db.Close()
			return nil, err
		}
		detectors = append(detectors, det)
	}

	snapshots := storage.NewSnapshotWriter(cfg.EventsDir, log.Named("snapshots"))
	if cfg.MinIOEndpoint != "" {
		archive, err := storage.NewMinIOArchive(ctx, storage.MinIOConfig{
			Endpoint:        cfg.MinIOEndpoint,
			AccessKeyID:     cfg.MinIOAccessKey,
			SecretAccessKey: cfg.MinIOSecretKey,
			UseSSL:          cfg.MinIOUseSSL,
			Bucket:          cfg.MinIOBucket,
			MaxRetries:      3,
		}, log)
		if err != nil {
			log.Error("MinIO archive disabled: %v", err)
		} else {
			snapshots.SetArchiver(archive)
		}
	}

	if cfg.WebhookURL == "" {
		log.Warning("WEBHOOK_URL is not set, alerts will be recorded as failed")
	}
	sink := alert.NewWebhookSink(cfg.WebhookURL, cfg.WebhookSecret, cfg.WebhookAuthToken, profile.AlertTimeout)

	hub := websocket.NewHubService(256, log.Named("hub"))
	eventRepo := sqlite.NewEventRepository(db)

	manager := service.NewManager(service.Deps{
		Profile: profile,
		Bus:     bus,
		Opener: ingest.GocvOpener(ingest.SourceOptions{
			LowLatency: profile.LowLatencyURL,
			BufferSize: profile.URLBufferSize,
		}),
		Detectors:        detectors,
		Tracker:          tracker.New(profile.Cooldown),
		Sink:             sink,
		AlertConfig:      alert.ConfigFromProfile(profile, cfg.AlertQueueSize, cfg.AlertMaxRetries),
		Snapshots:        snapshots,
		Cameras:          sqlite.NewCameraRepository(db),
		Events:           eventRepo,
		Hub:              hub,
		Metrics:          metrics.New(),
		ReconnectDelay:   cfg.CameraReconnectDelay,
		DefaultLatitude:  parseCoordinate(cfg.DefaultLatitude, log),
		DefaultLongitude: parseCoordinate(cfg.DefaultLongitude, log),
	}, log)

	router := route.SetupRoutes(manager, hub, cfg, log, eventRepo, snapshots)

	return &App{
		config:    cfg,
		logger:    log,
		profile:   profile,
		db:        db,
		bus:       bus,
		hub:       hub,
		snapshots: snapshots,
		manager:   manager,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// selectProfile honours FORCE_TIER and otherwise inspects the host.
func selectProfile(cfg *config.Config) (hardware.Profile, error) {
	capability := hardware.Detect(cfg.Accelerator)
	tier, forced, err := hardware.ParseTier(cfg.ForceTier)
	if err != nil {
		return hardware.Profile{}, err
	}
	if !forced {
		tier = hardware.TierFor(capability)
	}
	return hardware.Select(tier, capability, hardware.Base{
		QueueCapacity:       cfg.CameraQueueSize,
		FrameSkip:           cfg.FrameSkip,
		ConfidenceThreshold: cfg.DetectionConfidence,
	})
}

func parseCoordinate(s string, log *logger.Logger) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		log.Warning("Invalid default coordinate %q, using 0", s)
		return 0
	}
	return v
}

// Run starts the pipeline and the HTTP server and blocks until ctx is
// cancelled or the server fails. Shutdown runs in dependency order.
func (a *App) Run(ctx context.Context) error {
	defer a.logger.Sync()

	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		a.hub.Run(hubCtx)
		close(hubDone)
	}()

	if err := a.manager.Start(ctx); err != nil {
		stopHub()
		<-hubDone
		a.db.Close()
		return err
	}

	a.logger.Info("🚀 DigiNetra surveillance server")
	a.logger.Info("📍 URL: http://localhost:%d", a.config.Port)
	a.logger.Info("🧠 Hardware tier: %s (batch=%d workers=%d queue=%d)",
		a.profile.Tier, a.profile.BatchSize, a.profile.Workers, a.profile.QueueCapacity)
	a.logger.Info("📁 Events: %s", a.config.EventsDir)
	a.logger.Info("🤖 AI Model: %s", a.config.ModelPath)

	serverErr := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutdown requested")
	case err := <-serverErr:
		runErr = fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warning("HTTP server shutdown: %v", err)
	}

	a.manager.Stop()
	a.bus.Close()

	stopHub()
	<-hubDone

	if err := a.db.Close(); err != nil {
		a.logger.Error("Error closing database: %v", err)
	}
	a.logger.Info("👋 Shutdown complete")
	return runErr
}
