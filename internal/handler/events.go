package handler

import (
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"diginetra/internal/dto"
	"diginetra/internal/logger"
	"diginetra/internal/model"
	"diginetra/internal/repository"
	"diginetra/internal/service/storage"
)

const (
	defaultPageSize = 24
	maxPageSize     = 200
	// keeps (page-1)*limit far from overflow
	maxPage = 1_000_000
)

// GetEventsHandler returns a filtered, newest-first page of events.
func GetEventsHandler(events repository.EventRepository, snapshots *storage.SnapshotWriter, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		q := r.URL.Query()
		page := min(atoiDefault(q.Get("page"), 1), maxPage)
		limit := min(atoiDefault(q.Get("limit"), defaultPageSize), maxPageSize)

		filter := &dto.EventFilters{
			Camera:     q.Get("camera"),
			ObjectType: q.Get("type"),
			DateAfter:  parseDate(q.Get("dateAfter")),
			DateBefore: parseDate(q.Get("dateBefore")),
			Limit:      limit,
			Offset:     (page - 1) * limit,
		}
		// dateBefore is inclusive of the whole day
		if !filter.DateBefore.IsZero() {
			filter.DateBefore = filter.DateBefore.AddDate(0, 0, 1)
		}

		list, err := events.GetAll(filter)
		if err != nil {
			logger.Error("Error querying events from database: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		totalCount, err := events.GetTotalCount(filter)
		if err != nil {
			logger.Error("Error counting events: %v", err)
			totalCount = len(list)
		}

		infos := make([]dto.EventInfo, 0, len(list))
		for _, ev := range list {
			infos = append(infos, eventInfo(ev, snapshots))
		}

		writeJSON(w, http.StatusOK, dto.EventsData{
			Events:      infos,
			Length:      totalCount,
			TotalPages:  (totalCount + limit - 1) / limit,
			CurrentPage: page,
			Limit:       limit,
		}, logger)
	}
}

// GetEventInfoHandler returns a single event by id.
func GetEventInfoHandler(events repository.EventRepository, snapshots *storage.SnapshotWriter, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, "Valid id parameter is required", http.StatusBadRequest)
			return
		}

		ev, err := events.GetByID(id)
		if err != nil {
			logger.Error("Error reading event %d: %v", id, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if ev == nil {
			http.Error(w, "Event not found", http.StatusNotFound)
			return
		}

		writeJSON(w, http.StatusOK, eventInfo(*ev, snapshots), logger)
	}
}

// ViewEventImageHandler serves a snapshot specified via the "file" query parameter.
func ViewEventImageHandler(snapshots *storage.SnapshotWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		file := r.URL.Query().Get("file")
		if file == "" {
			http.Error(w, "File parameter is required", http.StatusBadRequest)
			return
		}
		path, err := snapshots.Path(file)
		if err != nil {
			http.Error(w, "Invalid file name", http.StatusBadRequest)
			return
		}
		if _, err := os.Stat(path); err != nil {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, path)
	}
}

func eventInfo(ev model.Event, snapshots *storage.SnapshotWriter) dto.EventInfo {
	info := dto.EventInfo{
		ID:          ev.ID,
		Filename:    ev.ImagePath,
		URL:         "/api/events/image?file=" + url.QueryEscape(ev.ImagePath),
		Timestamp:   ev.Timestamp,
		Camera:      ev.CameraID,
		CameraName:  ev.CameraName,
		ObjectType:  ev.ObjectType,
		Confidence:  ev.Confidence,
		AlertStatus: ev.AlertStatus,
	}
	if path, err := snapshots.Path(ev.ImagePath); err == nil {
		if st, err := os.Stat(path); err == nil {
			info.Size = st.Size()
		}
	}
	return info
}

func writeJSON(w http.ResponseWriter, status int, v interface{}, logger *logger.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

// parseDate parses a date string in the format "2006-01-02" (HTML input format).
func parseDate(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}
	}
	return t
}
