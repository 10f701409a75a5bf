package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is the immutable partition key for multi-tenant isolation. Every
// Rider, Driver and Ride carries exactly one tenant and no ride crosses
// tenant boundaries.
type Tenant struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Region    string    `json:"region" db:"region"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
