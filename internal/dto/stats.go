package dto

import "time"

// DetectionStats is the payload of GET /api/detection-stats.
type DetectionStats struct {
	TotalDetections int       `json:"totalDetections"`
	TotalHuman      int       `json:"totalHuman"`
	TotalVehicle    int       `json:"totalVehicle"`
	TotalAnimal     int       `json:"totalAnimal"`
	TodayDetections int       `json:"todayDetections"`
	MonthDetections int       `json:"monthDetections"`
	LastUpdated     time.Time `json:"lastUpdated"`
}

// Health is the payload of GET /api/health.
type Health struct {
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	Events         int       `json:"events"`
	EventsPath     string    `json:"eventsPath"`
	EventsExists   bool      `json:"eventsExists"`
	SnapshotImages int       `json:"snapshotImages"`
	ActiveCameras  int       `json:"activeCameras"`
}
