package trip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/fleetcore/dispatch/pkg/models"
)

var errNoRows = errors.New("no matching row")

// Repository is the C8 adapter over the trips and rides/drivers tables it
// needs to touch atomically when a trip starts or ends.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a trip repository over the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Begin opens a plain transaction; start/end trip don't need row-lock
// contention control beyond the ride's own version guard.
func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// LoadRide reads a ride without locking.
func (r *Repository) LoadRide(ctx context.Context, rideID uuid.UUID) (*models.Ride, error) {
	const q = `SELECT id, tenant_id, rider_id, driver_id, status, pickup_lat, pickup_lng,
		pickup_address, dropoff_lat, dropoff_lng, dropoff_address, tier, payment_method,
		surge_multiplier, estimated_fare, estimated_distance_km, estimated_duration_mins,
		version, created_at, updated_at, matched_at, cancelled_at, cancel_reason
		FROM rides WHERE id = $1`
	return scanRide(r.pool.QueryRow(ctx, q, rideID))
}

// TransitionRideToInProgress implements the start-trip ride mutation.
func (r *Repository) TransitionRideToInProgress(ctx context.Context, tx pgx.Tx, rideID uuid.UUID, expectedVersion int64) error {
	const q = `UPDATE rides SET status = $2, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $3`
	tag, err := tx.Exec(ctx, q, rideID, models.RideStatusInProgress, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: ride version changed underneath start trip", errNoRows)
	}
	return nil
}

// TransitionRideToCompleted implements the end-trip ride mutation.
func (r *Repository) TransitionRideToCompleted(ctx context.Context, tx pgx.Tx, rideID uuid.UUID, expectedVersion int64) error {
	const q = `UPDATE rides SET status = $2, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $3`
	tag, err := tx.Exec(ctx, q, rideID, models.RideStatusCompleted, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: ride version changed underneath end trip", errNoRows)
	}
	return nil
}

// CreateTrip inserts the trip row created by start-trip.
func (r *Repository) CreateTrip(ctx context.Context, tx pgx.Tx, t *models.Trip) error {
	const q = `INSERT INTO trips (id, ride_id, status, started_at, fare_breakdown)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := tx.Exec(ctx, q, t.ID, t.RideID, t.Status, t.StartedAt, t.FareBreakdown)
	return err
}

// LoadTripByRide reads the trip owned by a ride.
func (r *Repository) LoadTripByRide(ctx context.Context, rideID uuid.UUID) (*models.Trip, error) {
	const q = `SELECT id, ride_id, status, started_at, ended_at, actual_distance_km,
		actual_duration_mins, route_polyline, fare_breakdown FROM trips WHERE ride_id = $1`
	t, err := scanTrip(r.pool.QueryRow(ctx, q, rideID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: no trip for ride", errNoRows)
		}
		return nil, err
	}
	return t, nil
}

// CompleteTrip writes the final fare breakdown and actuals (end-trip step).
func (r *Repository) CompleteTrip(ctx context.Context, tx pgx.Tx, tripID uuid.UUID, endedAt time.Time, actualDistanceKm float64, actualDurationMins int, fare models.FareBreakdown) error {
	const q = `UPDATE trips SET status = $2, ended_at = $3, actual_distance_km = $4,
		actual_duration_mins = $5, fare_breakdown = $6 WHERE id = $1`
	_, err := tx.Exec(ctx, q, tripID, models.TripStatusCompleted, endedAt, actualDistanceKm, actualDurationMins, fare)
	return err
}

// ReleaseDriver implements end-trip's driver mutation: back online, ride
// count incremented.
func (r *Repository) ReleaseDriver(ctx context.Context, tx pgx.Tx, driverID uuid.UUID) error {
	const q = `UPDATE drivers SET status = $2, total_rides = total_rides + 1, updated_at = now()
		WHERE id = $1`
	_, err := tx.Exec(ctx, q, driverID, models.DriverStatusOnline)
	return err
}

// LoadDriver reads a driver without locking, used to check for a stored
// location before re-adding it to the geo index.
func (r *Repository) LoadDriver(ctx context.Context, driverID uuid.UUID) (*models.Driver, error) {
	const q = `SELECT id, tenant_id, phone, name, vehicle_id, vehicle_class, status,
		rating, total_rides, acceptance_rate, current_lat, current_lng, last_located_at,
		created_at, updated_at FROM drivers WHERE id = $1`
	return scanDriver(r.pool.QueryRow(ctx, q, driverID))
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

func scanTrip(row pgx.Row) (*models.Trip, error) {
	var t models.Trip
	err := row.Scan(&t.ID, &t.RideID, &t.Status, &t.StartedAt, &t.EndedAt,
		&t.ActualDistanceKm, &t.ActualDurationMins, &t.RoutePolyline, &t.FareBreakdown)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanDriver(row pgx.Row) (*models.Driver, error) {
	var d models.Driver
	err := row.Scan(
		&d.ID, &d.TenantID, &d.Phone, &d.Name, &d.VehicleID, &d.VehicleClass, &d.Status,
		&d.Rating, &d.TotalRides, &d.AcceptanceRate, &d.CurrentLat, &d.CurrentLng, &d.LastLocatedAt,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
