package models

import (
	"time"

	"github.com/google/uuid"
)

// DriverLocationSample is an append-only telemetry record. The latest sample
// per driver is the source of truth when restoring the geo index from cold
// start.
type DriverLocationSample struct {
	ID         uuid.UUID `json:"id" db:"id"`
	DriverID   uuid.UUID `json:"driver_id" db:"driver_id"`
	Lat        float64   `json:"lat" db:"lat"`
	Lng        float64   `json:"lng" db:"lng"`
	Heading    *float64  `json:"heading,omitempty" db:"heading"`
	Speed      *float64  `json:"speed,omitempty" db:"speed"`
	Accuracy   *float64  `json:"accuracy,omitempty" db:"accuracy"`
	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"`
}
