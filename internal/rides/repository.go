// Package rides implements C7: the ride aggregate's CRUD and the lifecycle
// transitions that don't belong to dispatch (C6) or trip (C8) — creation,
// the EN_ROUTE/ARRIVED progress updates, and cancellation.
package rides

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/fleetcore/dispatch/pkg/models"
)

var errVersionMismatch = errors.New("ride version changed underneath transition")

// Repository is the C7 adapter over the rides table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a rides repository over the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const rideColumns = `id, tenant_id, rider_id, driver_id, status, pickup_lat, pickup_lng,
	pickup_address, dropoff_lat, dropoff_lng, dropoff_address, tier, payment_method,
	surge_multiplier, estimated_fare, estimated_distance_km, estimated_duration_mins,
	version, created_at, updated_at, matched_at, cancelled_at, cancel_reason`

// Create inserts a newly requested ride.
func (r *Repository) Create(ctx context.Context, ride *models.Ride) error {
	const q = `INSERT INTO rides (id, tenant_id, rider_id, driver_id, status, pickup_lat, pickup_lng,
		pickup_address, dropoff_lat, dropoff_lng, dropoff_address, tier, payment_method,
		surge_multiplier, estimated_fare, estimated_distance_km, estimated_duration_mins,
		version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`
	_, err := r.pool.Exec(ctx, q,
		ride.ID, ride.TenantID, ride.RiderID, ride.DriverID, ride.Status,
		ride.PickupLat, ride.PickupLng, ride.PickupAddress,
		ride.DropoffLat, ride.DropoffLng, ride.DropoffAddress,
		ride.Tier, ride.PaymentMethod, ride.SurgeMultiplier,
		ride.EstimatedFare, ride.EstimatedDistanceKm, ride.EstimatedDurationMins,
		ride.Version, ride.CreatedAt, ride.UpdatedAt,
	)
	return err
}

// Get reads a ride by ID without locking.
func (r *Repository) Get(ctx context.Context, rideID uuid.UUID) (*models.Ride, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, rideID)
	return scanRide(row)
}

// CurrentForRider returns the rider's single non-terminal ride, if any.
func (r *Repository) CurrentForRider(ctx context.Context, riderID uuid.UUID) (*models.Ride, error) {
	const q = `SELECT ` + rideColumns + ` FROM rides
		WHERE rider_id = $1 AND status NOT IN ('COMPLETED', 'CANCELLED')
		ORDER BY created_at DESC LIMIT 1`
	return scanRide(r.pool.QueryRow(ctx, q, riderID))
}

// CurrentForDriver returns the driver's single non-terminal ride, if any.
func (r *Repository) CurrentForDriver(ctx context.Context, driverID uuid.UUID) (*models.Ride, error) {
	const q = `SELECT ` + rideColumns + ` FROM rides
		WHERE driver_id = $1 AND status NOT IN ('COMPLETED', 'CANCELLED')
		ORDER BY created_at DESC LIMIT 1`
	return scanRide(r.pool.QueryRow(ctx, q, driverID))
}

// ListForRider paginates a rider's ride history, optionally filtered by status.
func (r *Repository) ListForRider(ctx context.Context, riderID uuid.UUID, status *models.RideStatus, limit, offset int) ([]*models.Ride, error) {
	var rows pgx.Rows
	var err error
	if status != nil {
		rows, err = r.pool.Query(ctx, `SELECT `+rideColumns+` FROM rides
			WHERE rider_id = $1 AND status = $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
			riderID, *status, limit, offset)
	} else {
		rows, err = r.pool.Query(ctx, `SELECT `+rideColumns+` FROM rides
			WHERE rider_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			riderID, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Ride
	for rows.Next() {
		ride, err := scanRideRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ride)
	}
	return out, rows.Err()
}

// TransitionStatus performs a generic version-guarded status update, used by
// the EN_ROUTE/ARRIVED progress steps and the PATCH /rides/:id/status route.
func (r *Repository) TransitionStatus(ctx context.Context, rideID uuid.UUID, expectedVersion int64, newStatus models.RideStatus) error {
	const q = `UPDATE rides SET status = $2, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $3`
	tag, err := r.pool.Exec(ctx, q, rideID, newStatus, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w", errVersionMismatch)
	}
	return nil
}

// SetMatching transitions REQUESTED -> MATCHING, the trigger dispatch's
// FindDrivers consumes.
func (r *Repository) SetMatching(ctx context.Context, rideID uuid.UUID, expectedVersion int64) error {
	return r.TransitionStatus(ctx, rideID, expectedVersion, models.RideStatusMatching)
}

// Cancel marks a ride cancelled with a reason, version-guarded.
func (r *Repository) Cancel(ctx context.Context, rideID uuid.UUID, expectedVersion int64, reason string) error {
	const q = `UPDATE rides SET status = $2, cancel_reason = $3, cancelled_at = now(),
		version = version + 1, updated_at = now() WHERE id = $1 AND version = $4`
	tag, err := r.pool.Exec(ctx, q, rideID, models.RideStatusCancelled, reason, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w", errVersionMismatch)
	}
	return nil
}

// ReleaseDriverToOnline reverts a driver to online, used when a ride is
// cancelled after a driver was already assigned.
func (r *Repository) ReleaseDriverToOnline(ctx context.Context, driverID uuid.UUID) error {
	const q = `UPDATE drivers SET status = $2, updated_at = now() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, driverID, models.DriverStatusOnline)
	return err
}

// GetDriver reads a driver by ID, used to look up its last known location
// when a ride is cancelled after assignment.
func (r *Repository) GetDriver(ctx context.Context, driverID uuid.UUID) (*models.Driver, error) {
	const q = `SELECT id, tenant_id, phone, name, vehicle_id, vehicle_class, status,
		rating, total_rides, acceptance_rate, current_lat, current_lng, last_located_at,
		created_at, updated_at FROM drivers WHERE id = $1`
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

func scanRide(row pgx.Row) (*models.Ride, error) {
	var ride models.Ride
	err := row.Scan(
		&ride.ID, &ride.TenantID, &ride.RiderID, &ride.DriverID, &ride.Status,
		&ride.PickupLat, &ride.PickupLng, &ride.PickupAddress,
		&ride.DropoffLat, &ride.DropoffLng, &ride.DropoffAddress,
		&ride.Tier, &ride.PaymentMethod, &ride.SurgeMultiplier,
		&ride.EstimatedFare, &ride.EstimatedDistanceKm, &ride.EstimatedDurationMins,
		&ride.Version, &ride.CreatedAt, &ride.UpdatedAt,
		&ride.MatchedAt, &ride.CancelledAt, &ride.CancelReason,
	)
	if err != nil {
		return nil, err
	}
	return &ride, nil
}

func scanRideRow(rows pgx.Rows) (*models.Ride, error) {
	var ride models.Ride
	err := rows.Scan(
		&ride.ID, &ride.TenantID, &ride.RiderID, &ride.DriverID, &ride.Status,
		&ride.PickupLat, &ride.PickupLng, &ride.PickupAddress,
		&ride.DropoffLat, &ride.DropoffLng, &ride.DropoffAddress,
		&ride.Tier, &ride.PaymentMethod, &ride.SurgeMultiplier,
		&ride.EstimatedFare, &ride.EstimatedDistanceKm, &ride.EstimatedDurationMins,
		&ride.Version, &ride.CreatedAt, &ride.UpdatedAt,
		&ride.MatchedAt, &ride.CancelledAt, &ride.CancelReason,
	)
	if err != nil {
		return nil, err
	}
	return &ride, nil
}
