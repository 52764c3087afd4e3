package ai

import (
	"path/filepath"
	"testing"

	"diginetra/internal/logger"

	"github.com/stretchr/testify/assert"
)

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		label string
		want  Category
		ok    bool
	}{
		{"person", Human, true},
		{"car", Vehicle, true},
		{"truck", Vehicle, true},
		{"motorcycle", Vehicle, true},
		{"bus", Vehicle, true},
		{"bicycle", Vehicle, true},
		{"cat", Animal, true},
		{"dog", Animal, true},
		{"horse", Animal, true},
		{"elephant", Animal, true},
		{"bear", Animal, true},
		{"zebra", Animal, true},
		{"toaster", "", false},
		{"Person", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, ok := CategoryOf(tt.label)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTargetLabelsAllMapped(t *testing.T) {
	for _, l := range TargetLabels {
		_, ok := CategoryOf(l)
		assert.True(t, ok, l)
	}
	for _, l := range ssdLabels {
		_, ok := CategoryOf(l)
		assert.True(t, ok, l)
	}
}

func TestSeverity(t *testing.T) {
	assert.Equal(t, "high", Human.Severity())
	assert.Equal(t, "medium", Vehicle.Severity())
	assert.Equal(t, "high", Animal.Severity())
	assert.False(t, Category("Robot").Valid())
}

func TestSuppress_AgnosticMergesAcrossLabels(t *testing.T) {
	dets := []RawDetection{
		{Label: "car", Confidence: 0.7, X1: 0, Y1: 0, X2: 100, Y2: 100},
		{Label: "truck", Confidence: 0.9, X1: 5, Y1: 5, X2: 105, Y2: 105},
		{Label: "person", Confidence: 0.8, X1: 300, Y1: 300, X2: 350, Y2: 400},
	}

	kept := suppress(dets, 0.45, true, 0)
	assert.Len(t, kept, 2)
	assert.Equal(t, "truck", kept[0].Label)
	assert.Equal(t, "person", kept[1].Label)

	perClass := suppress(dets, 0.45, false, 0)
	assert.Len(t, perClass, 3)
}

func TestSuppress_MaxDetections(t *testing.T) {
	var dets []RawDetection
	for i := 0; i < 30; i++ {
		dets = append(dets, RawDetection{Label: "person", Confidence: 0.5, X1: i * 20, X2: i*20 + 10, Y2: 10})
	}
	assert.Len(t, suppress(dets, 0.45, true, 10), 10)
}

func TestNewNetDetector_MissingModel(t *testing.T) {
	dir := t.TempDir()
	_, err := NewNetDetector(filepath.Join(dir, "none.pb"), filepath.Join(dir, "none.pbtxt"), false, logger.NewNop())
	assert.ErrorContains(t, err, "model file not found")
}
