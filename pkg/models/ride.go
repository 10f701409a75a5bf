package models

import (
	"time"

	"github.com/google/uuid"
)

// RideStatus is a node in the ride lifecycle state machine (see the
// transition table this package's callers guard against).
type RideStatus string

const (
	RideStatusRequested      RideStatus = "REQUESTED"
	RideStatusMatching       RideStatus = "MATCHING"
	RideStatusDriverAssigned RideStatus = "DRIVER_ASSIGNED"
	RideStatusDriverEnRoute  RideStatus = "DRIVER_EN_ROUTE"
	RideStatusDriverArrived  RideStatus = "DRIVER_ARRIVED"
	RideStatusInProgress     RideStatus = "IN_PROGRESS"
	RideStatusCompleted      RideStatus = "COMPLETED"
	RideStatusCancelled      RideStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is possible.
func (s RideStatus) IsTerminal() bool {
	return s == RideStatusCompleted || s == RideStatusCancelled
}

// Location is a lat/lng pair with an optional human-readable address.
type Location struct {
	Lat     float64 `json:"lat" db:"lat"`
	Lng     float64 `json:"lng" db:"lng"`
	Address string  `json:"address,omitempty" db:"address"`
}

// Ride is the aggregate root of a single dispatch: rider request through
// driver assignment through trip completion or cancellation.
type Ride struct {
	ID                     uuid.UUID    `json:"id" db:"id"`
	TenantID               uuid.UUID    `json:"tenant_id" db:"tenant_id"`
	RiderID                uuid.UUID    `json:"rider_id" db:"rider_id"`
	DriverID               *uuid.UUID   `json:"driver_id,omitempty" db:"driver_id"`
	Status                 RideStatus   `json:"status" db:"status"`
	PickupLat              float64      `json:"pickup_lat" db:"pickup_lat"`
	PickupLng              float64      `json:"pickup_lng" db:"pickup_lng"`
	PickupAddress          string       `json:"pickup_address,omitempty" db:"pickup_address"`
	DropoffLat             float64      `json:"dropoff_lat" db:"dropoff_lat"`
	DropoffLng             float64      `json:"dropoff_lng" db:"dropoff_lng"`
	DropoffAddress         string       `json:"dropoff_address,omitempty" db:"dropoff_address"`
	Tier                   VehicleClass `json:"tier" db:"tier"`
	PaymentMethod          PaymentMethod `json:"payment_method" db:"payment_method"`
	SurgeMultiplier        float64      `json:"surge_multiplier" db:"surge_multiplier"`
	EstimatedFare          float64      `json:"estimated_fare" db:"estimated_fare"`
	EstimatedDistanceKm    float64      `json:"estimated_distance_km" db:"estimated_distance_km"`
	EstimatedDurationMins  int          `json:"estimated_duration_mins" db:"estimated_duration_mins"`
	Version                int64        `json:"version" db:"version"`
	CreatedAt              time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time    `json:"updated_at" db:"updated_at"`
	MatchedAt              *time.Time   `json:"matched_at,omitempty" db:"matched_at"`
	CancelledAt            *time.Time   `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CancelReason           *string      `json:"cancel_reason,omitempty" db:"cancel_reason"`
}

// OfferStatus is the lifecycle of a single RideOffer.
type OfferStatus string

const (
	OfferStatusPending   OfferStatus = "pending"
	OfferStatusAccepted  OfferStatus = "accepted"
	OfferStatusDeclined  OfferStatus = "declined"
	OfferStatusExpired   OfferStatus = "expired"
	OfferStatusCancelled OfferStatus = "cancelled"
)

// RideOffer is a time-boxed invitation to a single candidate driver. At most
// one offer per (ride,driver); at most one offer per ride ever reaches
// status=accepted.
type RideOffer struct {
	ID             uuid.UUID   `json:"id" db:"id"`
	RideID         uuid.UUID   `json:"ride_id" db:"ride_id"`
	DriverID       uuid.UUID   `json:"driver_id" db:"driver_id"`
	Status         OfferStatus `json:"status" db:"status"`
	OfferedAt      time.Time   `json:"offered_at" db:"offered_at"`
	ExpiresAt      time.Time   `json:"expires_at" db:"expires_at"`
	RespondedAt    *time.Time  `json:"responded_at,omitempty" db:"responded_at"`
	DeclineReason  *string     `json:"decline_reason,omitempty" db:"decline_reason"`
}
