package repository

import (
	"diginetra/internal/dto"
	"diginetra/internal/model"
)

// CameraRepository defines the interface for camera configuration.
type CameraRepository interface {
	// Create operations
	Insert(cam *model.Camera) error

	// Read operations
	GetByID(id string) (*model.Camera, error)
	GetAll() ([]model.Camera, error)
	GetEnabled() ([]model.Camera, error)
	GetLocation(id string) (lat, lon float64, ok bool, err error)

	// Update operations
	Update(cam *model.Camera) error

	// Delete operations
	Delete(id string) error
}

// EventRepository defines the interface for the append-only event log.
type EventRepository interface {
	// Create operations
	Insert(ev *model.Event) (int64, error)

	// Read operations
	GetByID(id int64) (*model.Event, error)
	GetByImagePath(path string) (*model.Event, error)
	GetAll(filter *dto.EventFilters) ([]model.Event, error)
	GetTotalCount(filter *dto.EventFilters) (int, error)

	// Update operations
	UpdateAlertStatus(id int64, status string) error
}
