package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	"diginetra/internal/dto"
	"diginetra/internal/model"
)

// EventRepository implements repository.EventRepository for SQLite.
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new SQLite event repository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

const eventSelect = `
	SELECT e.id, e.camera_id, COALESCE(c.name, e.camera_id), e.object_type, e.confidence,
	       e.timestamp, e.image_path, e.alert_id, e.alert_status
	FROM events e LEFT JOIN cameras c ON c.id = e.camera_id`

// Insert appends an event and returns its id.
func (r *EventRepository) Insert(ev *model.Event) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	status := ev.AlertStatus
	if status == "" {
		status = model.AlertPending
	}

	result, err := r.db.Conn().Exec(`
		INSERT INTO events (camera_id, object_type, confidence, timestamp, image_path, alert_id, alert_status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.CameraID, ev.ObjectType, ev.Confidence, ev.Timestamp.UTC(), ev.ImagePath, ev.AlertID, status)
	if err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}

	return result.LastInsertId()
}

// UpdateAlertStatus records the delivery outcome for an event.
func (r *EventRepository) UpdateAlertStatus(id int64, status string) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`UPDATE events SET alert_status = ? WHERE id = ?`, status, id); err != nil {
		return fmt.Errorf("failed to update alert status: %w", err)
	}
	return nil
}

// GetByID retrieves an event by its ID.
func (r *EventRepository) GetByID(id int64) (*model.Event, error) {
	return r.getOne(eventSelect+` WHERE e.id = ?`, id)
}

// GetByImagePath retrieves the event owning a snapshot file.
func (r *EventRepository) GetByImagePath(path string) (*model.Event, error) {
	return r.getOne(eventSelect+` WHERE e.image_path = ?`, path)
}

func (r *EventRepository) getOne(q string, arg interface{}) (*model.Event, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	ev, err := scanEvent(r.db.Conn().QueryRow(q, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return ev, nil
}

// GetAll retrieves events newest first based on filter criteria.
func (r *EventRepository) GetAll(filter *dto.EventFilters) ([]model.Event, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := buildEventWhere(filter)
	q := eventSelect + where + ` ORDER BY e.timestamp DESC, e.id DESC`
	if filter != nil && filter.Limit > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.db.Conn().Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

// GetTotalCount returns the number of events matching the filter, ignoring paging.
func (r *EventRepository) GetTotalCount(filter *dto.EventFilters) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := buildEventWhere(filter)
	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM events e`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

func buildEventWhere(filter *dto.EventFilters) (string, []interface{}) {
	if filter == nil {
		return "", nil
	}

	var (
		conds []string
		args  []interface{}
	)
	if filter.Camera != "" {
		conds = append(conds, "e.camera_id = ?")
		args = append(args, filter.Camera)
	}
	if filter.ObjectType != "" {
		conds = append(conds, "e.object_type = ?")
		args = append(args, filter.ObjectType)
	}
	if !filter.DateAfter.IsZero() {
		conds = append(conds, "e.timestamp >= ?")
		args = append(args, filter.DateAfter.UTC())
	}
	if !filter.DateBefore.IsZero() {
		conds = append(conds, "e.timestamp < ?")
		args = append(args, filter.DateBefore.UTC())
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanEvent(row rowScanner) (*model.Event, error) {
	var ev model.Event
	if err := row.Scan(&ev.ID, &ev.CameraID, &ev.CameraName, &ev.ObjectType, &ev.Confidence,
		&ev.Timestamp, &ev.ImagePath, &ev.AlertID, &ev.AlertStatus); err != nil {
		return nil, err
	}
	return &ev, nil
}
