package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"diginetra/internal/logger"
	"diginetra/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCameras struct {
	mu      sync.Mutex
	cameras map[string]model.Camera
	ops     []string
}

func newMemCameras(cams ...model.Camera) *memCameras {
	m := &memCameras{cameras: map[string]model.Camera{}}
	for _, c := range cams {
		m.cameras[c.ID] = c
	}
	return m
}

func (m *memCameras) ListCameras() ([]model.Camera, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Camera
	for _, c := range m.cameras {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memCameras) GetCamera(id string) (*model.Camera, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.cameras[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (m *memCameras) AddCamera(cam *model.Camera) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cameras[cam.ID] = *cam
	m.ops = append(m.ops, "add:"+cam.ID)
	return nil
}

func (m *memCameras) UpdateCamera(cam *model.Camera) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cameras[cam.ID] = *cam
	m.ops = append(m.ops, "update:"+cam.ID)
	return nil
}

func (m *memCameras) DeleteCamera(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cameras, id)
	m.ops = append(m.ops, "delete:"+id)
	return nil
}

func TestCamerasHandler(t *testing.T) {
	svc := newMemCameras(model.Camera{ID: "cam1", Name: "Front Gate", Source: "rtsp://a", Enabled: true})
	h := CamerasHandler(svc, logger.NewNop())

	do := func(method, target, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
		return rec
	}

	t.Run("list", func(t *testing.T) {
		rec := do(http.MethodGet, "/api/cameras", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var list []model.Camera
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
		require.Len(t, list, 1)
		assert.Equal(t, "rtsp://a", list[0].Source)
	})

	t.Run("get one", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, do(http.MethodGet, "/api/cameras?id=cam1", "").Code)
		assert.Equal(t, http.StatusNotFound, do(http.MethodGet, "/api/cameras?id=nope", "").Code)
	})

	t.Run("create", func(t *testing.T) {
		rec := do(http.MethodPost, "/api/cameras", `{"id":"cam2","name":"Yard","rtsp_url":"rtsp://b","enabled":true,"latitude":1.5,"longitude":2.5}`)
		require.Equal(t, http.StatusCreated, rec.Code)
		cam, _ := svc.GetCamera("cam2")
		require.NotNil(t, cam)
		assert.True(t, cam.HasLocation())
		assert.Equal(t, 2.5, *cam.Longitude)
	})

	t.Run("create rejects", func(t *testing.T) {
		tests := []struct {
			name   string
			body   string
			status int
		}{
			{"duplicate", `{"id":"cam1","rtsp_url":"rtsp://x"}`, http.StatusConflict},
			{"no source", `{"id":"cam3"}`, http.StatusBadRequest},
			{"no id", `{"rtsp_url":"rtsp://x"}`, http.StatusBadRequest},
			{"path in id", `{"id":"../etc","rtsp_url":"rtsp://x"}`, http.StatusBadRequest},
			{"bad json", `{`, http.StatusBadRequest},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert.Equal(t, tt.status, do(http.MethodPost, "/api/cameras", tt.body).Code)
			})
		}
	})

	t.Run("update", func(t *testing.T) {
		rec := do(http.MethodPut, "/api/cameras?id=cam1", `{"id":"ignored","name":"Gate","rtsp_url":"rtsp://c","enabled":false}`)
		require.Equal(t, http.StatusOK, rec.Code)
		cam, _ := svc.GetCamera("cam1")
		require.NotNil(t, cam)
		assert.Equal(t, "rtsp://c", cam.Source)
		assert.False(t, cam.Enabled)

		assert.Equal(t, http.StatusNotFound, do(http.MethodPut, "/api/cameras?id=nope", `{"rtsp_url":"x"}`).Code)
		assert.Equal(t, http.StatusBadRequest, do(http.MethodPut, "/api/cameras", `{}`).Code)
	})

	t.Run("delete", func(t *testing.T) {
		assert.Equal(t, http.StatusNoContent, do(http.MethodDelete, "/api/cameras?id=cam2", "").Code)
		assert.Equal(t, http.StatusNotFound, do(http.MethodDelete, "/api/cameras?id=cam2", "").Code)
	})

	t.Run("method", func(t *testing.T) {
		assert.Equal(t, http.StatusMethodNotAllowed, do(http.MethodPatch, "/api/cameras", "").Code)
	})

	assert.Equal(t, []string{"add:cam2", "update:cam1", "delete:cam2"}, svc.ops)
}
