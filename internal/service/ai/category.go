package ai

// Category is the closed set of object groups the pipeline alerts on.
type Category string

const (
	Human   Category = "Human"
	Vehicle Category = "Vehicle"
	Animal  Category = "Animal"
)

// Categories lists every category in a stable order.
var Categories = []Category{Human, Vehicle, Animal}

// labelCategories is the only path from a raw model label to a Category.
var labelCategories = map[string]Category{
	"person":     Human,
	"car":        Vehicle,
	"truck":      Vehicle,
	"motorcycle": Vehicle,
	"bus":        Vehicle,
	"bicycle":    Vehicle,
	"cat":        Animal,
	"dog":        Animal,
	"horse":      Animal,
	"elephant":   Animal,
	"bear":       Animal,
	"zebra":      Animal,
}

// TargetLabels is the allow-list requested from every Detector.
var TargetLabels = []string{
	"person", "bicycle", "car", "motorcycle", "bus", "truck",
	"cat", "dog", "horse", "elephant", "bear", "zebra",
}

// CategoryOf maps a raw label. ok is false for labels outside the allow-list.
func CategoryOf(label string) (Category, bool) {
	c, ok := labelCategories[label]
	return c, ok
}

// Severity returns the alert severity tag for a category.
func (c Category) Severity() string {
	if c == Vehicle {
		return "medium"
	}
	return "high"
}

func (c Category) Valid() bool {
	switch c {
	case Human, Vehicle, Animal:
		return true
	}
	return false
}
