package sqlite

import (
	"database/sql"
	"fmt"

	"diginetra/internal/model"
)

// CameraRepository implements repository.CameraRepository for SQLite.
type CameraRepository struct {
	db *DB
}

// NewCameraRepository creates a new SQLite camera repository.
func NewCameraRepository(db *DB) *CameraRepository {
	return &CameraRepository{db: db}
}

const cameraColumns = `id, name, rtsp_url, enabled, latitude, longitude, created_at`

// Insert adds a new camera record to the database.
func (r *CameraRepository) Insert(cam *model.Camera) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`
		INSERT INTO cameras (id, name, rtsp_url, enabled, latitude, longitude)
		VALUES (?, ?, ?, ?, ?, ?)
	`, cam.ID, cam.Name, cam.Source, cam.Enabled, nullFloat(cam.Latitude), nullFloat(cam.Longitude)); err != nil {
		return fmt.Errorf("failed to insert camera: %w", err)
	}
	return nil
}

// Update overwrites every mutable field of a camera.
func (r *CameraRepository) Update(cam *model.Camera) error {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`
		UPDATE cameras SET name = ?, rtsp_url = ?, enabled = ?, latitude = ?, longitude = ?
		WHERE id = ?
	`, cam.Name, cam.Source, cam.Enabled, nullFloat(cam.Latitude), nullFloat(cam.Longitude), cam.ID)
	if err != nil {
		return fmt.Errorf("failed to update camera: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to update camera: %s not found", cam.ID)
	}
	return nil
}

// Delete removes a camera. Its events are kept.
func (r *CameraRepository) Delete(id string) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM cameras WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete camera: %w", err)
	}
	return nil
}

// GetByID retrieves a camera by its ID.
func (r *CameraRepository) GetByID(id string) (*model.Camera, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	cam, err := scanCamera(r.db.Conn().QueryRow(`SELECT `+cameraColumns+` FROM cameras WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get camera: %w", err)
	}
	return cam, nil
}

// GetAll returns every camera ordered by name.
func (r *CameraRepository) GetAll() ([]model.Camera, error) {
	return r.query(`SELECT ` + cameraColumns + ` FROM cameras ORDER BY name, id`)
}

// GetEnabled returns the cameras that should be streaming.
func (r *CameraRepository) GetEnabled() ([]model.Camera, error) {
	return r.query(`SELECT ` + cameraColumns + ` FROM cameras WHERE enabled = 1 ORDER BY name, id`)
}

// GetLocation returns a camera's coordinates; ok is false when unknown.
func (r *CameraRepository) GetLocation(id string) (float64, float64, bool, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var lat, lon sql.NullFloat64
	err := r.db.Conn().QueryRow(`SELECT latitude, longitude FROM cameras WHERE id = ?`, id).Scan(&lat, &lon)
	if err == sql.ErrNoRows {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("failed to get camera location: %w", err)
	}
	if !lat.Valid || !lon.Valid {
		return 0, 0, false, nil
	}
	return lat.Float64, lon.Float64, true, nil
}

func (r *CameraRepository) query(q string, args ...interface{}) ([]model.Camera, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cameras: %w", err)
	}
	defer rows.Close()

	var cameras []model.Camera
	for rows.Next() {
		cam, err := scanCamera(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan camera: %w", err)
		}
		cameras = append(cameras, *cam)
	}
	return cameras, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCamera(row rowScanner) (*model.Camera, error) {
	var (
		cam      model.Camera
		lat, lon sql.NullFloat64
		created  sql.NullTime
	)
	if err := row.Scan(&cam.ID, &cam.Name, &cam.Source, &cam.Enabled, &lat, &lon, &created); err != nil {
		return nil, err
	}
	if lat.Valid {
		cam.Latitude = &lat.Float64
	}
	if lon.Valid {
		cam.Longitude = &lon.Float64
	}
	cam.CreatedAt = created.Time
	return &cam, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
