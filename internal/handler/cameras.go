package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"diginetra/internal/logger"
	"diginetra/internal/model"
)

// CameraService is the camera CRUD surface of the supervisor. Changes are
// applied to running ingesters.
type CameraService interface {
	ListCameras() ([]model.Camera, error)
	GetCamera(id string) (*model.Camera, error)
	AddCamera(cam *model.Camera) error
	UpdateCamera(cam *model.Camera) error
	DeleteCamera(id string) error
}

// CamerasHandler serves GET/POST /api/cameras and PUT/DELETE /api/cameras?id=.
func CamerasHandler(cameras CameraService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")

		switch r.Method {
		case http.MethodGet:
			if id == "" {
				list, err := cameras.ListCameras()
				if err != nil {
					logger.Error("Error listing cameras: %v", err)
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
					return
				}
				if list == nil {
					list = []model.Camera{}
				}
				writeJSON(w, http.StatusOK, list, logger)
				return
			}
			cam, ok := lookupCamera(w, cameras, id, logger)
			if !ok {
				return
			}
			writeJSON(w, http.StatusOK, cam, logger)

		case http.MethodPost:
			cam, ok := decodeCamera(w, r)
			if !ok {
				return
			}
			existing, err := cameras.GetCamera(cam.ID)
			if err != nil {
				logger.Error("Error reading camera %s: %v", cam.ID, err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			if existing != nil {
				http.Error(w, "Camera already exists", http.StatusConflict)
				return
			}
			if err := cameras.AddCamera(cam); err != nil {
				logger.Error("Error adding camera %s: %v", cam.ID, err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			logger.Info("Camera %s added", cam.ID)
			writeJSON(w, http.StatusCreated, cam, logger)

		case http.MethodPut:
			if id == "" {
				http.Error(w, "id parameter is required", http.StatusBadRequest)
				return
			}
			if _, ok := lookupCamera(w, cameras, id, logger); !ok {
				return
			}
			cam, ok := decodeCameraWithID(w, r, id)
			if !ok {
				return
			}
			if err := cameras.UpdateCamera(cam); err != nil {
				logger.Error("Error updating camera %s: %v", id, err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			logger.Info("Camera %s updated", id)
			writeJSON(w, http.StatusOK, cam, logger)

		case http.MethodDelete:
			if id == "" {
				http.Error(w, "id parameter is required", http.StatusBadRequest)
				return
			}
			if _, ok := lookupCamera(w, cameras, id, logger); !ok {
				return
			}
			if err := cameras.DeleteCamera(id); err != nil {
				logger.Error("Error deleting camera %s: %v", id, err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			logger.Info("Camera %s deleted", id)
			w.WriteHeader(http.StatusNoContent)

		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func lookupCamera(w http.ResponseWriter, cameras CameraService, id string, logger *logger.Logger) (*model.Camera, bool) {
	cam, err := cameras.GetCamera(id)
	if err != nil {
		logger.Error("Error reading camera %s: %v", id, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return nil, false
	}
	if cam == nil {
		http.Error(w, "Camera not found", http.StatusNotFound)
		return nil, false
	}
	return cam, true
}

func decodeCamera(w http.ResponseWriter, r *http.Request) (*model.Camera, bool) {
	return decodeCameraWithID(w, r, "")
}

// decodeCameraWithID reads a camera body; a non-empty id overrides the body's.
func decodeCameraWithID(w http.ResponseWriter, r *http.Request, id string) (*model.Camera, bool) {
	var cam model.Camera
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&cam); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return nil, false
	}
	if id != "" {
		cam.ID = id
	}
	cam.ID = strings.TrimSpace(cam.ID)
	cam.Source = strings.TrimSpace(cam.Source)
	if cam.ID == "" || cam.Source == "" {
		http.Error(w, "id and rtsp_url are required", http.StatusBadRequest)
		return nil, false
	}
	if strings.ContainsAny(cam.ID, "/\\") || strings.Contains(cam.ID, "..") {
		http.Error(w, "id must be usable in a file name", http.StatusBadRequest)
		return nil, false
	}
	return &cam, true
}
