// EventFilters describe user-provided filters to narrow the event list.
package dto

import "time"

type EventFilters struct {
	Camera     string
	ObjectType string
	DateAfter  time.Time
	DateBefore time.Time
	Limit      int
	Offset     int
}
