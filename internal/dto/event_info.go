package dto

import "time"

// EventInfo is one entry of the events listing.
type EventInfo struct {
	ID          int64     `json:"id"`
	Filename    string    `json:"filename"`
	URL         string    `json:"url"`
	Timestamp   time.Time `json:"timestamp"`
	Size        int64     `json:"size"`
	Camera      string    `json:"camera"`
	CameraName  string    `json:"camera_name"`
	ObjectType  string    `json:"object_type"`
	Confidence  float64   `json:"confidence"`
	AlertStatus string    `json:"alert_status"`
}

// EventsData is a paginated response payload for the events listing.
type EventsData struct {
	Events      []EventInfo `json:"events"`
	Length      int         `json:"length"`
	TotalPages  int         `json:"totalPages"`
	CurrentPage int         `json:"currentPage"`
	Limit       int         `json:"pageSize"`
}
