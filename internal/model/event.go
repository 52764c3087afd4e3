package model

import "time"

// Alert delivery states stored on an event.
const (
	AlertPending = "pending"
	AlertSent    = "sent"
	AlertFailed  = "failed"
)

// Event represents a raised detection event and its snapshot on disk.
type Event struct {
	ID          int64     `json:"id"`
	CameraID    string    `json:"camera_id"`
	CameraName  string    `json:"camera_name"`
	ObjectType  string    `json:"object_type"`
	Confidence  float64   `json:"confidence"`
	Timestamp   time.Time `json:"timestamp"`
	ImagePath   string    `json:"image_path"`
	AlertID     string    `json:"alert_id"`
	AlertStatus string    `json:"alert_status"`
}
