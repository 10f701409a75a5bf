package models

import (
	"time"

	"github.com/google/uuid"
)

// VehicleClass is the fare tier and geo-index partition a driver serves.
type VehicleClass string

const (
	VehicleClassEconomy VehicleClass = "economy"
	VehicleClassPremium VehicleClass = "premium"
	VehicleClassXL      VehicleClass = "xl"
)

// ValidVehicleClass reports whether s names a known vehicle class.
func ValidVehicleClass(s string) bool {
	switch VehicleClass(s) {
	case VehicleClassEconomy, VehicleClassPremium, VehicleClassXL:
		return true
	}
	return false
}

// DriverStatus tracks whether a driver can be dispatched.
type DriverStatus string

const (
	DriverStatusOffline DriverStatus = "offline"
	DriverStatusOnline  DriverStatus = "online"
	DriverStatusBusy    DriverStatus = "busy"
)

// Driver is a long-lived account. Invariant: status=busy iff the driver has
// exactly one ride in {DRIVER_ASSIGNED, DRIVER_EN_ROUTE, DRIVER_ARRIVED,
// IN_PROGRESS}; status=online implies none.
type Driver struct {
	ID             uuid.UUID    `json:"id" db:"id"`
	TenantID       uuid.UUID    `json:"tenant_id" db:"tenant_id"`
	Phone          string       `json:"phone" db:"phone"`
	Name           string       `json:"name,omitempty" db:"name"`
	VehicleID      string       `json:"vehicle_id,omitempty" db:"vehicle_id"`
	VehicleClass   VehicleClass `json:"vehicle_class" db:"vehicle_class"`
	Status         DriverStatus `json:"status" db:"status"`
	Rating         float64      `json:"rating" db:"rating"`
	TotalRides     int          `json:"total_rides" db:"total_rides"`
	AcceptanceRate float64      `json:"acceptance_rate" db:"acceptance_rate"`
	CurrentLat     *float64     `json:"current_lat,omitempty" db:"current_lat"`
	CurrentLng     *float64     `json:"current_lng,omitempty" db:"current_lng"`
	LastLocatedAt  *time.Time   `json:"last_located_at,omitempty" db:"last_located_at"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at" db:"updated_at"`
}
