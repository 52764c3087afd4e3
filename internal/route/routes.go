package route

import (
	"net/http"
	"time"

	"diginetra/internal/config"
	"diginetra/internal/handler"
	"diginetra/internal/logger"
	"diginetra/internal/middleware"
	"diginetra/internal/repository"
	"diginetra/internal/service"
	"diginetra/internal/service/storage"
	"diginetra/internal/service/websocket"
)

const liveStreamInterval = 100 * time.Millisecond

// SetupRoutes registers the API, log and metrics endpoints and wraps the mux
// with the token middleware.
func SetupRoutes(manager *service.Manager, hub *websocket.HubService, cfg *config.Config, logger *logger.Logger,
	eventRepo repository.EventRepository, snapshots *storage.SnapshotWriter) http.Handler {
	mux := http.NewServeMux()

	// Events
	mux.HandleFunc("/api/events", handler.GetEventsHandler(eventRepo, snapshots, logger))
	mux.HandleFunc("/api/events/info", handler.GetEventInfoHandler(eventRepo, snapshots, logger))
	mux.HandleFunc("/api/events/image", handler.ViewEventImageHandler(snapshots))
	mux.HandleFunc("/api/detection-stats", handler.DetectionStatsHandler(eventRepo, logger))
	mux.HandleFunc("/api/health", handler.HealthHandler(eventRepo, snapshots, manager, logger))

	// Cameras and pipeline
	mux.HandleFunc("/api/cameras", handler.CamerasHandler(manager, logger))
	mux.HandleFunc("/api/status", handler.StatusHandler(manager, logger))
	mux.HandleFunc("/api/live", handler.LiveFrameHandler(manager, logger))
	mux.HandleFunc("/api/live/stream", handler.LiveStreamHandler(manager, liveStreamInterval, logger))
	mux.HandleFunc("/api/ws", handler.StatusWebsocketHandler(hub, logger))

	mux.Handle("/metrics", manager.Metrics().Handler())

	// Log endpoints
	for _, file := range []string{"info", "warning", "error"} {
		mux.HandleFunc("/logs/"+file, handler.ShowLogsHandler(cfg.LogDirectory, file+".log"))
		mux.HandleFunc("/logs/"+file+"/clear", handler.ClearLogsHandler(logger, file+".log"))
	}

	return middleware.AuthMiddleware(cfg.APIToken, mux)
}
