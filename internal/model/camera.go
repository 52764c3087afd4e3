package model

import "time"

// Camera represents a configured video source.
type Camera struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Source    string    `json:"rtsp_url"`
	Enabled   bool      `json:"enabled"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HasLocation reports whether both coordinates are set.
func (c Camera) HasLocation() bool {
	return c.Latitude != nil && c.Longitude != nil
}
