// Package driver implements §6.1's driver-resource endpoints that belong to
// neither C5 (telemetry ingest) nor C6 (dispatch offers): manual status
// toggling and the driver's view of their current ride.
package driver

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/fleetcore/dispatch/pkg/models"
)

// Repository is the driver-row adapter backing status transitions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a driver repository over the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads a driver row by id.
func (r *Repository) Get(ctx context.Context, driverID uuid.UUID) (*models.Driver, error) {
	const q = `SELECT id, tenant_id, phone, name, vehicle_id, vehicle_class, status,
		rating, total_rides, acceptance_rate, current_lat, current_lng, last_located_at,
		created_at, updated_at
		FROM drivers WHERE id = $1`
	var d models.Driver
	err := r.pool.QueryRow(ctx, q, driverID).Scan(
		&d.ID, &d.TenantID, &d.Phone, &d.Name, &d.VehicleID, &d.VehicleClass, &d.Status,
		&d.Rating, &d.TotalRides, &d.AcceptanceRate, &d.CurrentLat, &d.CurrentLng, &d.LastLocatedAt,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// SetStatus updates a driver's status unconditionally; guard checks against
// the busy invariant happen in the service, before this is called.
func (r *Repository) SetStatus(ctx context.Context, driverID uuid.UUID, status models.DriverStatus) error {
	const q = `UPDATE drivers SET status = $2, updated_at = now() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, driverID, status)
	return err
}
