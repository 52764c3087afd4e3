package main

import (
	"fmt"
	"log"

	"diginetra/internal/model"
	"diginetra/internal/repository"
	"diginetra/internal/service/storage"
)

type backfillResult struct {
	Added    int
	Existing int
	Skipped  int
}

// backfill appends an event for every snapshot on disk that has none yet.
// Files that do not parse or fail to insert are skipped; a failed lookup
// aborts the run.
func backfill(events repository.EventRepository, snapshots *storage.SnapshotWriter) (backfillResult, error) {
	var res backfillResult

	names, err := snapshots.List()
	if err != nil {
		return res, fmt.Errorf("failed to read events directory: %w", err)
	}

	for _, name := range names {
		cameraID, at, category, err := storage.ParseSnapshotName(name)
		if err != nil {
			log.Printf("⚠️  Skipping %s: %v", name, err)
			res.Skipped++
			continue
		}

		ev, err := events.GetByImagePath(name)
		if err != nil {
			return res, fmt.Errorf("failed to look up %s: %w", name, err)
		}
		if ev != nil {
			res.Existing++
			continue
		}

		record := &model.Event{
			CameraID:    cameraID,
			ObjectType:  category,
			Timestamp:   at,
			ImagePath:   name,
			AlertStatus: model.AlertSent,
		}
		if meta, err := snapshots.ReadMetadata(name); err == nil {
			record.Confidence = meta.Confidence
			record.AlertID = meta.AlertID
		} else {
			log.Printf("⚠️  No usable metadata for %s: %v", name, err)
		}
		if _, err := events.Insert(record); err != nil {
			log.Printf("⚠️  Failed to insert %s: %v", name, err)
			res.Skipped++
			continue
		}
		res.Added++
	}
	return res, nil
}
