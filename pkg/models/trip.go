package models

import (
	"time"

	"github.com/google/uuid"
)

// TripStatus is the lifecycle of a Trip, which exists iff its ride ever
// reached IN_PROGRESS.
type TripStatus string

const (
	TripStatusStarted    TripStatus = "STARTED"
	TripStatusInProgress TripStatus = "IN_PROGRESS"
	TripStatusCompleted  TripStatus = "COMPLETED"
	TripStatusDisputed   TripStatus = "DISPUTED"
)

// FareBreakdown is the itemized computation behind Trip.Total; every
// component is rounded to 2 decimal places before Total is derived.
type FareBreakdown struct {
	Base     float64 `json:"base"`
	Distance float64 `json:"distance"`
	Time     float64 `json:"time"`
	Surge    float64 `json:"surge"`
	Taxes    float64 `json:"taxes"`
	Total    float64 `json:"total"`
	Currency string  `json:"currency"`
}

// Trip is 1:1 with a Ride and exclusively owns its Payment.
type Trip struct {
	ID                 uuid.UUID     `json:"id" db:"id"`
	RideID             uuid.UUID     `json:"ride_id" db:"ride_id"`
	Status             TripStatus    `json:"status" db:"status"`
	StartedAt          time.Time     `json:"started_at" db:"started_at"`
	EndedAt            *time.Time    `json:"ended_at,omitempty" db:"ended_at"`
	ActualDistanceKm   *float64      `json:"actual_distance_km,omitempty" db:"actual_distance_km"`
	ActualDurationMins *int          `json:"actual_duration_mins,omitempty" db:"actual_duration_mins"`
	RoutePolyline      *string       `json:"route_polyline,omitempty" db:"route_polyline"`
	FareBreakdown       FareBreakdown `json:"fare_breakdown" db:"fare_breakdown"`
}
