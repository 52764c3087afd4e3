package handler

import (
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"diginetra/internal/dto"
	"diginetra/internal/logger"
)

// StatusSource provides the pipeline status snapshot.
type StatusSource interface {
	Status() dto.Status
}

// LiveSource renders the latest processed frame of a camera. A nil image
// means no frame has been processed yet.
type LiveSource interface {
	LatestFrame(cameraID string) ([]byte, time.Time, error)
}

// StatusHandler returns hardware profile, camera and queue statistics.
func StatusHandler(source StatusSource, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		writeJSON(w, http.StatusOK, source.Status(), logger)
	}
}

// LiveFrameHandler serves the latest annotated JPEG of ?camera=.
func LiveFrameHandler(source LiveSource, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		camera := r.URL.Query().Get("camera")
		if camera == "" {
			http.Error(w, "camera parameter is required", http.StatusBadRequest)
			return
		}

		img, at, err := source.LatestFrame(camera)
		if err != nil {
			logger.Error("Error rendering live frame for %s: %v", camera, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if img == nil {
			http.Error(w, "No frame available", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Last-Modified", at.UTC().Format(http.TimeFormat))
		w.Write(img)
	}
}

// LiveStreamHandler serves ?camera= as an MJPEG multipart/x-mixed-replace
// feed, polling for a new frame every interval until the client leaves.
func LiveStreamHandler(source LiveSource, interval time.Duration, logger *logger.Logger) http.HandlerFunc {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return func(w http.ResponseWriter, r *http.Request) {
		camera := r.URL.Query().Get("camera")
		if camera == "" {
			http.Error(w, "camera parameter is required", http.StatusBadRequest)
			return
		}

		mw := multipart.NewWriter(w)
		if err := mw.SetBoundary("frame"); err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var last time.Time
		for {
			img, at, err := source.LatestFrame(camera)
			if err != nil {
				logger.Error("Error rendering stream frame for %s: %v", camera, err)
			} else if img != nil && !at.Equal(last) {
				h := make(textproto.MIMEHeader)
				h.Set("Content-Type", "image/jpeg")
				part, err := mw.CreatePart(h)
				if err != nil {
					return
				}
				if _, err := part.Write(img); err != nil {
					return
				}
				if flusher != nil {
					flusher.Flush()
				}
				last = at
			}

			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
			}
		}
	}
}
