package dto

import (
	"diginetra/internal/framebus"
	"diginetra/internal/hardware"
	"diginetra/internal/service/ingest"
)

// Status is the payload of GET /api/status.
type Status struct {
	Profile    hardware.Profile      `json:"profile"`
	Cameras    []ingest.Stats        `json:"cameras"`
	Queues     []framebus.QueueStats `json:"queues"`
	Viewers    int                   `json:"viewers"`
	AlertQueue int                   `json:"alert_queue"`
}
