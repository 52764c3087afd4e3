package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"diginetra/internal/logger"
)

// SnapshotTimeLayout is the timestamp layout embedded in snapshot names.
const SnapshotTimeLayout = "20060102_150405"

const metadataSuffix = "_metadata.json"

// SnapshotName builds "{camera}_{YYYYmmdd_HHMMSS}_{category}.jpg".
func SnapshotName(cameraID string, at time.Time, category string) string {
	return fmt.Sprintf("%s_%s_%s.jpg", cameraID, at.Format(SnapshotTimeLayout), category)
}

// ParseSnapshotName reverses SnapshotName. Camera ids may contain underscores.
func ParseSnapshotName(name string) (cameraID string, at time.Time, category string, err error) {
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	if !strings.EqualFold(ext, ".jpg") && !strings.EqualFold(ext, ".jpeg") && !strings.EqualFold(ext, ".png") {
		return "", time.Time{}, "", fmt.Errorf("not a snapshot: %s", base)
	}

	parts := strings.Split(strings.TrimSuffix(base, ext), "_")
	if len(parts) < 4 {
		return "", time.Time{}, "", fmt.Errorf("not a snapshot: %s", base)
	}
	n := len(parts)
	at, err = time.ParseInLocation(SnapshotTimeLayout, parts[n-3]+"_"+parts[n-2], time.Local)
	if err != nil {
		return "", time.Time{}, "", fmt.Errorf("bad snapshot timestamp in %s: %w", base, err)
	}
	cameraID = strings.Join(parts[:n-3], "_")
	category = parts[n-1]
	if cameraID == "" || category == "" {
		return "", time.Time{}, "", fmt.Errorf("not a snapshot: %s", base)
	}
	return cameraID, at, category, nil
}

// Metadata is written next to every snapshot.
type Metadata struct {
	AlertID    string    `json:"alert_id"`
	Camera     string    `json:"camera"`
	CameraName string    `json:"camera_name"`
	Category   string    `json:"category"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Box        [4]int    `json:"box"`
	Timestamp  time.Time `json:"timestamp"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
}

// Archiver copies snapshots to long-term storage.
type Archiver interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
}

// SnapshotWriter stores annotated event images on disk.
type SnapshotWriter struct {
	dir      string
	logger   *logger.Logger
	archiver Archiver
	wg       sync.WaitGroup
}

// NewSnapshotWriter creates a writer rooted at dir.
func NewSnapshotWriter(dir string, logger *logger.Logger) *SnapshotWriter {
	return &SnapshotWriter{dir: dir, logger: logger}
}

// SetArchiver enables uploading every saved snapshot.
func (w *SnapshotWriter) SetArchiver(a Archiver) {
	w.archiver = a
}

// Dir returns the snapshot directory.
func (w *SnapshotWriter) Dir() string {
	return w.dir
}

// Save writes the image and its metadata sidecar and returns the image path.
func (w *SnapshotWriter) Save(ctx context.Context, filename string, image []byte, meta Metadata) (string, error) {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create events directory: %w", err)
	}

	fullpath, err := w.Path(filename)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(fullpath, image, 0644); err != nil {
		return "", fmt.Errorf("failed to save snapshot %s: %w", filename, err)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	metaPath := strings.TrimSuffix(fullpath, filepath.Ext(fullpath)) + metadataSuffix
	if err := os.WriteFile(metaPath, data, 0644); err != nil {
		w.logger.Warning("Error saving metadata for %s: %v", filename, err)
	}

	if w.archiver != nil {
		key := meta.Camera + "/" + filename
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := w.archiver.Upload(context.WithoutCancel(ctx), key, image, "image/jpeg"); err != nil {
				w.logger.Error("Error archiving snapshot %s: %v", key, err)
			}
		}()
	}

	return fullpath, nil
}

// Path resolves a snapshot filename inside the directory, rejecting traversal.
func (w *SnapshotWriter) Path(filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) || strings.Contains(filename, "..") {
		return "", fmt.Errorf("invalid snapshot name: %q", filename)
	}
	return filepath.Join(w.dir, filename), nil
}

// ReadMetadata loads the sidecar of a snapshot.
func (w *SnapshotWriter) ReadMetadata(filename string) (*Metadata, error) {
	fullpath, err := w.Path(filename)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(strings.TrimSuffix(fullpath, filepath.Ext(fullpath)) + metadataSuffix)
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return &meta, nil
}

// List returns the snapshot file names on disk.
func (w *SnapshotWriter) List() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), metadataSuffix) {
			continue
		}
		if _, _, _, err := ParseSnapshotName(e.Name()); err == nil {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Wait blocks until pending uploads finish.
func (w *SnapshotWriter) Wait() {
	w.wg.Wait()
}
