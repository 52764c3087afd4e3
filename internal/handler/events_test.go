package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"diginetra/internal/dto"
	"diginetra/internal/logger"
	"diginetra/internal/model"
	"diginetra/internal/repository/sqlite"
	"diginetra/internal/service/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupEvents(t *testing.T) (*sqlite.EventRepository, *storage.SnapshotWriter) {
	t.Helper()
	db, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, sqlite.NewCameraRepository(db).Insert(&model.Camera{ID: "cam1", Name: "Front Gate", Source: "0", Enabled: true}))

	events := sqlite.NewEventRepository(db)
	snapshots := storage.NewSnapshotWriter(t.TempDir(), logger.NewNop())

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	seed := []struct {
		camera, category string
		offset           time.Duration
	}{
		{"cam1", "Human", 0},
		{"cam1", "Vehicle", time.Minute},
		{"cam2", "Human", 2 * time.Minute},
	}
	for _, s := range seed {
		at := base.Add(s.offset)
		name := storage.SnapshotName(s.camera, at, s.category)
		_, err := snapshots.Save(context.Background(), name, []byte("jpeg-bytes"), storage.Metadata{Camera: s.camera})
		require.NoError(t, err)
		_, err = events.Insert(&model.Event{
			CameraID: s.camera, ObjectType: s.category, Confidence: 0.7,
			Timestamp: at, ImagePath: name, AlertID: "a-" + name, AlertStatus: model.AlertSent,
		})
		require.NoError(t, err)
	}
	return events, snapshots
}

func TestGetEventsHandler(t *testing.T) {
	events, snapshots := setupEvents(t)
	h := GetEventsHandler(events, snapshots, logger.NewNop())

	t.Run("newest first with paging", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/api/events?limit=2&page=1", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var data dto.EventsData
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&data))
		assert.Equal(t, 3, data.Length)
		assert.Equal(t, 2, data.TotalPages)
		require.Len(t, data.Events, 2)
		assert.Equal(t, "cam2", data.Events[0].Camera)
		assert.Equal(t, "Vehicle", data.Events[1].ObjectType)
		assert.Equal(t, "Front Gate", data.Events[1].CameraName)
		assert.Equal(t, int64(len("jpeg-bytes")), data.Events[1].Size)
		assert.Contains(t, data.Events[1].URL, "/api/events/image?file=")
	})

	t.Run("filters", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/api/events?camera=cam1&type=Human", nil))
		var data dto.EventsData
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&data))
		require.Len(t, data.Events, 1)
		assert.Equal(t, model.AlertSent, data.Events[0].AlertStatus)
	})

	t.Run("dateBefore covers the whole day", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/api/events?dateAfter=2025-06-01&dateBefore=2025-06-01", nil))
		var data dto.EventsData
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&data))
		assert.Equal(t, 3, data.Length)
	})

	t.Run("empty page is an empty list", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/api/events?camera=missing", nil))
		assert.JSONEq(t, `{"events":[],"length":0,"totalPages":0,"currentPage":1,"pageSize":24}`, rec.Body.String())
	})

	t.Run("oversized limit and page are clamped", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/api/events?limit=100000&page=9223372036854775807", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var data dto.EventsData
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&data))
		assert.Equal(t, maxPageSize, data.Limit)
		assert.Equal(t, maxPage, data.CurrentPage)
		assert.Empty(t, data.Events)
		assert.Equal(t, 3, data.Length)
	})

	t.Run("method", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodPost, "/api/events", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestGetEventInfoHandler(t *testing.T) {
	events, snapshots := setupEvents(t)
	h := GetEventInfoHandler(events, snapshots, logger.NewNop())

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"found", "?id=1", http.StatusOK},
		{"missing", "?id=99", http.StatusNotFound},
		{"bad id", "?id=abc", http.StatusBadRequest},
		{"no id", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h(rec, httptest.NewRequest(http.MethodGet, "/api/events/info"+tt.query, nil))
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/api/events/info?id=1", nil))
	var info dto.EventInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	assert.Equal(t, "cam1", info.Camera)
	assert.Equal(t, "Human", info.ObjectType)
}

func TestViewEventImageHandler(t *testing.T) {
	_, snapshots := setupEvents(t)
	h := ViewEventImageHandler(snapshots)
	name := storage.SnapshotName("cam1", time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), "Human")

	tests := []struct {
		name   string
		file   string
		status int
	}{
		{"served", name, http.StatusOK},
		{"unknown", "cam1_20250101_000000_Human.jpg", http.StatusNotFound},
		{"traversal", "../test.db", http.StatusBadRequest},
		{"nested", "sub/x.jpg", http.StatusBadRequest},
		{"empty", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/events/image", nil)
			q := req.URL.Query()
			q.Set("file", tt.file)
			req.URL.RawQuery = q.Encode()

			rec := httptest.NewRecorder()
			h(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "jpeg-bytes", rec.Body.String())
			}
		})
	}
}
