package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"diginetra/internal/dto"
	"diginetra/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func floatPtr(f float64) *float64 { return &f }

func TestDatabase_MigrationVersions(t *testing.T) {
	db := setupTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// running up again is a no-op
	require.NoError(t, db.MigrateUp())

	require.NoError(t, db.MigrateDown())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	require.NoError(t, db.MigrateUp())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestDatabase_OpenWithoutMigrating(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "raw.db"))
	require.NoError(t, err)
	defer db.Close()

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)
}

func TestCameraRepository_CRUD(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCameraRepository(db)

	cam := &model.Camera{
		ID:        "gate",
		Name:      "Front Gate",
		Source:    "rtsp://10.0.0.5/stream1",
		Enabled:   true,
		Latitude:  floatPtr(28.61),
		Longitude: floatPtr(77.2),
	}
	require.NoError(t, repo.Insert(cam))
	require.NoError(t, repo.Insert(&model.Camera{ID: "yard", Name: "Yard", Source: "0", Enabled: false}))

	got, err := repo.GetByID("gate")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Front Gate", got.Name)
	assert.Equal(t, "rtsp://10.0.0.5/stream1", got.Source)
	assert.True(t, got.Enabled)
	assert.True(t, got.HasLocation())
	assert.False(t, got.CreatedAt.IsZero())

	all, err := repo.GetAll()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	enabled, err := repo.GetEnabled()
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "gate", enabled[0].ID)

	got.Enabled = false
	got.Name = "Gate"
	require.NoError(t, repo.Update(got))
	got, err = repo.GetByID("gate")
	require.NoError(t, err)
	assert.Equal(t, "Gate", got.Name)
	assert.False(t, got.Enabled)

	assert.Error(t, repo.Update(&model.Camera{ID: "missing", Name: "x", Source: "0"}))

	require.NoError(t, repo.Delete("gate"))
	got, err = repo.GetByID("gate")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCameraRepository_GetLocation(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCameraRepository(db)

	require.NoError(t, repo.Insert(&model.Camera{
		ID: "gate", Name: "Gate", Source: "0", Enabled: true,
		Latitude: floatPtr(28.5355), Longitude: floatPtr(77.391),
	}))
	require.NoError(t, repo.Insert(&model.Camera{ID: "yard", Name: "Yard", Source: "1", Enabled: true}))

	lat, lon, ok, err := repo.GetLocation("gate")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 28.5355, lat, 1e-9)
	assert.InDelta(t, 77.391, lon, 1e-9)

	_, _, ok, err = repo.GetLocation("yard")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, ok, err = repo.GetLocation("unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEventRepository_InsertAndList(t *testing.T) {
	db := setupTestDB(t)
	cams := NewCameraRepository(db)
	events := NewEventRepository(db)

	require.NoError(t, cams.Insert(&model.Camera{ID: "gate", Name: "Front Gate", Source: "0", Enabled: true}))

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	seed := []model.Event{
		{CameraID: "gate", ObjectType: "Human", Confidence: 0.9, Timestamp: base, ImagePath: "gate_20250301_100000_Human.jpg"},
		{CameraID: "gate", ObjectType: "Vehicle", Confidence: 0.7, Timestamp: base.Add(time.Minute), ImagePath: "gate_20250301_100100_Vehicle.jpg"},
		{CameraID: "yard", ObjectType: "Human", Confidence: 0.6, Timestamp: base.Add(2 * time.Minute), ImagePath: "yard_20250301_100200_Human.jpg"},
	}
	var ids []int64
	for i := range seed {
		id, err := events.Insert(&seed[i])
		require.NoError(t, err)
		ids = append(ids, id)
	}

	all, err := events.GetAll(nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID, "newest first")
	assert.Equal(t, ids[0], all[2].ID)
	assert.Equal(t, "yard", all[0].CameraName, "unknown cameras fall back to their id")
	assert.Equal(t, "Front Gate", all[1].CameraName)
	assert.Equal(t, model.AlertPending, all[1].AlertStatus)
	assert.True(t, base.Equal(all[2].Timestamp))

	tests := []struct {
		name   string
		filter dto.EventFilters
		want   int
	}{
		{"by camera", dto.EventFilters{Camera: "gate"}, 2},
		{"by type", dto.EventFilters{ObjectType: "Human"}, 2},
		{"camera and type", dto.EventFilters{Camera: "gate", ObjectType: "Human"}, 1},
		{"after", dto.EventFilters{DateAfter: base.Add(time.Minute)}, 2},
		{"before", dto.EventFilters{DateBefore: base.Add(time.Minute)}, 1},
		{"no match", dto.EventFilters{Camera: "roof"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := events.GetAll(&tt.filter)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)

			count, err := events.GetTotalCount(&tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, count)
		})
	}
}

func TestEventRepository_Paging(t *testing.T) {
	db := setupTestDB(t)
	events := NewEventRepository(db)

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 5; i++ {
		_, err := events.Insert(&model.Event{
			CameraID:   "cam",
			ObjectType: "Animal",
			Timestamp:  base.Add(time.Duration(i) * time.Second),
			ImagePath:  filepath.Join("events", time.Duration(i).String()+".jpg"),
		})
		require.NoError(t, err)
	}

	page, err := events.GetAll(&dto.EventFilters{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, base.Add(2*time.Second).Equal(page[0].Timestamp))

	count, err := events.GetTotalCount(&dto.EventFilters{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, count, "count ignores paging")
}

func TestEventRepository_AlertStatusAndLookup(t *testing.T) {
	db := setupTestDB(t)
	events := NewEventRepository(db)

	id, err := events.Insert(&model.Event{
		CameraID:   "gate",
		ObjectType: "Human",
		Confidence: 0.82,
		Timestamp:  time.Now(),
		ImagePath:  "gate_20250301_100000_Human.jpg",
		AlertID:    "a1b2",
	})
	require.NoError(t, err)

	require.NoError(t, events.UpdateAlertStatus(id, model.AlertFailed))

	ev, err := events.GetByID(id)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, model.AlertFailed, ev.AlertStatus)
	assert.Equal(t, "a1b2", ev.AlertID)
	assert.InDelta(t, 0.82, ev.Confidence, 1e-9)

	ev, err = events.GetByImagePath("gate_20250301_100000_Human.jpg")
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, id, ev.ID)

	ev, err = events.GetByID(id + 100)
	require.NoError(t, err)
	assert.Nil(t, ev)

	_, err = events.Insert(&model.Event{CameraID: "gate", ObjectType: "Human", Timestamp: time.Now(), ImagePath: "gate_20250301_100000_Human.jpg"})
	assert.Error(t, err, "snapshot paths are unique")
}
