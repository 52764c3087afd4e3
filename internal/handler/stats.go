package handler

import (
	"net/http"
	"os"
	"time"

	"diginetra/internal/dto"
	"diginetra/internal/logger"
	"diginetra/internal/repository"
	"diginetra/internal/service/storage"
)

// DetectionStatsHandler reports event counts per category and for the
// current day and month.
func DetectionStatsHandler(events repository.EventRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		stats, err := detectionStats(events, time.Now().UTC())
		if err != nil {
			logger.Error("Error calculating detection stats: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, stats, logger)
	}
}

// detectionStats counts events with one query per figure. Day and month
// boundaries are UTC like the stored timestamps.
func detectionStats(events repository.EventRepository, now time.Time) (dto.DetectionStats, error) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	stats := dto.DetectionStats{LastUpdated: now}
	counts := []struct {
		dst    *int
		filter *dto.EventFilters
	}{
		{&stats.TotalDetections, nil},
		{&stats.TotalHuman, &dto.EventFilters{ObjectType: "Human"}},
		{&stats.TotalVehicle, &dto.EventFilters{ObjectType: "Vehicle"}},
		{&stats.TotalAnimal, &dto.EventFilters{ObjectType: "Animal"}},
		{&stats.TodayDetections, &dto.EventFilters{DateAfter: dayStart}},
		{&stats.MonthDetections, &dto.EventFilters{DateAfter: monthStart}},
	}
	for _, c := range counts {
		n, err := events.GetTotalCount(c.filter)
		if err != nil {
			return dto.DetectionStats{}, err
		}
		*c.dst = n
	}
	return stats, nil
}

// CameraCounter reports how many cameras are being ingested.
type CameraCounter interface {
	ActiveCameras() int
}

// HealthHandler reports whether the event store answers and what is on disk.
// A failing store turns the status to "degraded" with a 503.
func HealthHandler(events repository.EventRepository, snapshots *storage.SnapshotWriter, cameras CameraCounter, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := dto.Health{
			Status:     "ok",
			Timestamp:  time.Now().UTC(),
			EventsPath: snapshots.Dir(),
		}
		code := http.StatusOK

		if n, err := events.GetTotalCount(nil); err != nil {
			logger.Warning("Health check: event store unavailable: %v", err)
			health.Status = "degraded"
			code = http.StatusServiceUnavailable
		} else {
			health.Events = n
		}

		if st, err := os.Stat(snapshots.Dir()); err == nil && st.IsDir() {
			health.EventsExists = true
		}
		if names, err := snapshots.List(); err == nil {
			health.SnapshotImages = len(names)
		} else {
			logger.Warning("Health check: cannot list snapshots: %v", err)
		}
		if cameras != nil {
			health.ActiveCameras = cameras.ActiveCameras()
		}

		writeJSON(w, code, health, logger)
	}
}
