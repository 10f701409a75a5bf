package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/fleetcore/dispatch/pkg/models"
)

// pgLockNotAvailable mirrors Postgres SQLSTATE 55P03, raised by SELECT ...
// FOR UPDATE NOWAIT when another session already holds the row lock.
const pgLockNotAvailable = "55P03"

func isLockNotAvailable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable
}

// Repository is the C6 dispatch engine's direct view of the rides, drivers
// and ride_offers tables. It duplicates a slice of what internal/rides (C7)
// also touches because the race-free acceptance algorithm needs row locks
// on rides AND drivers inside one transaction it controls end to end.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a dispatch repository over the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// BeginSerializable opens a serializable transaction, the isolation level
// the acceptance algorithm runs under.
func (r *Repository) BeginSerializable(ctx context.Context) (pgx.Tx, error) {
	return r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
}

// LoadRide reads a ride without locking, used for candidate finding.
func (r *Repository) LoadRide(ctx context.Context, rideID uuid.UUID) (*models.Ride, error) {
	const q = `SELECT id, tenant_id, rider_id, driver_id, status, pickup_lat, pickup_lng,
		pickup_address, dropoff_lat, dropoff_lng, dropoff_address, tier, payment_method,
		surge_multiplier, estimated_fare, estimated_distance_km, estimated_duration_mins,
		version, created_at, updated_at, matched_at, cancelled_at, cancel_reason
		FROM rides WHERE id = $1`
	return scanRide(r.pool.QueryRow(ctx, q, rideID))
}

// LoadRideForUpdateNoWait locks a ride row for the acceptance algorithm's
// step 3. Returns a LOCK_FAILED-flavoured error the caller maps to Conflict
// when the row is already locked by another session.
func (r *Repository) LoadRideForUpdateNoWait(ctx context.Context, tx pgx.Tx, rideID uuid.UUID) (*models.Ride, error) {
	const q = `SELECT id, tenant_id, rider_id, driver_id, status, pickup_lat, pickup_lng,
		pickup_address, dropoff_lat, dropoff_lng, dropoff_address, tier, payment_method,
		surge_multiplier, estimated_fare, estimated_distance_km, estimated_duration_mins,
		version, created_at, updated_at, matched_at, cancelled_at, cancel_reason
		FROM rides WHERE id = $1 FOR UPDATE NOWAIT`
	ride, err := scanRide(tx.QueryRow(ctx, q, rideID))
	if err != nil {
		if isLockNotAvailable(err) {
			return nil, fmt.Errorf("%w: ride row locked by another session", errRowLocked)
		}
		return nil, err
	}
	return ride, nil
}

// LoadOnlineDriverForUpdateSkipLocked implements acceptance step 5: only a
// driver that is both online and not already locked by a concurrent
// transaction is eligible.
func (r *Repository) LoadOnlineDriverForUpdateSkipLocked(ctx context.Context, tx pgx.Tx, driverID uuid.UUID) (*models.Driver, error) {
	const q = `SELECT id, tenant_id, phone, name, vehicle_id, vehicle_class, status,
		rating, total_rides, acceptance_rate, current_lat, current_lng, last_located_at,
		created_at, updated_at
		FROM drivers WHERE id = $1 AND status = 'online' FOR UPDATE SKIP LOCKED`
	driver, err := scanDriver(tx.QueryRow(ctx, q, driverID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: driver unavailable", errNoRows)
		}
		return nil, err
	}
	return driver, nil
}

// LoadPendingOffer implements acceptance step 6.
func (r *Repository) LoadPendingOffer(ctx context.Context, tx pgx.Tx, rideID, driverID uuid.UUID) (*models.RideOffer, error) {
	const q = `SELECT id, ride_id, driver_id, status, offered_at, expires_at, responded_at, decline_reason
		FROM ride_offers WHERE ride_id = $1 AND driver_id = $2 AND status = 'pending'`
	offer, err := scanOffer(tx.QueryRow(ctx, q, rideID, driverID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: no pending offer for driver", errNoRows)
		}
		return nil, err
	}
	return offer, nil
}

// LoadPendingOfferForDriver is the unlocked counterpart to LoadPendingOffer,
// used by the decline path which doesn't run inside the acceptance transaction.
func (r *Repository) LoadPendingOfferForDriver(ctx context.Context, rideID, driverID uuid.UUID) (*models.RideOffer, error) {
	const q = `SELECT id, ride_id, driver_id, status, offered_at, expires_at, responded_at, decline_reason
		FROM ride_offers WHERE ride_id = $1 AND driver_id = $2 AND status = 'pending'`
	offer, err := scanOffer(r.pool.QueryRow(ctx, q, rideID, driverID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: no pending offer for driver", errNoRows)
		}
		return nil, err
	}
	return offer, nil
}

// AssignDriver performs acceptance step 7's ride mutation: DRIVER_ASSIGNED,
// driver set, matched_at stamped, version incremented.
func (r *Repository) AssignDriver(ctx context.Context, tx pgx.Tx, rideID, driverID uuid.UUID, now time.Time) error {
	const q = `UPDATE rides SET status = $2, driver_id = $3, matched_at = $4,
		version = version + 1, updated_at = $4 WHERE id = $1`
	_, err := tx.Exec(ctx, q, rideID, models.RideStatusDriverAssigned, driverID, now)
	return err
}

// MarkDriverBusy performs acceptance step 7's driver mutation.
func (r *Repository) MarkDriverBusy(ctx context.Context, tx pgx.Tx, driverID uuid.UUID) error {
	const q = `UPDATE drivers SET status = $2, updated_at = now() WHERE id = $1`
	_, err := tx.Exec(ctx, q, driverID, models.DriverStatusBusy)
	return err
}

// AcceptOffer marks the winning offer accepted (acceptance step 7); the
// ride's other pending offers are cancelled by CancelOtherPendingOffers.
func (r *Repository) AcceptOffer(ctx context.Context, tx pgx.Tx, offerID uuid.UUID, now time.Time) error {
	const q = `UPDATE ride_offers SET status = $2, responded_at = $3 WHERE id = $1`
	_, err := tx.Exec(ctx, q, offerID, models.OfferStatusAccepted, now)
	return err
}

// CancelOtherPendingOffers cancels every other pending offer for the ride.
func (r *Repository) CancelOtherPendingOffers(ctx context.Context, tx pgx.Tx, rideID, winningOfferID uuid.UUID, now time.Time) error {
	const q = `UPDATE ride_offers SET status = $3, responded_at = $4
		WHERE ride_id = $1 AND id != $2 AND status = 'pending'`
	_, err := tx.Exec(ctx, q, rideID, winningOfferID, models.OfferStatusCancelled, now)
	return err
}

// SetRideMatching optimistically transitions a ride into MATCHING, guarding
// on expected version so a stale caller cannot clobber a newer state.
func (r *Repository) SetRideMatching(ctx context.Context, rideID uuid.UUID, expectedVersion int64) error {
	const q = `UPDATE rides SET status = $2, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $3`
	tag, err := r.pool.Exec(ctx, q, rideID, models.RideStatusMatching, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: ride version changed underneath findDrivers", errNoRows)
	}
	return nil
}

// RevertToRequested reverts a ride to REQUESTED when candidate finding
// yields zero drivers.
func (r *Repository) RevertToRequested(ctx context.Context, rideID uuid.UUID) error {
	const q = `UPDATE rides SET status = $2, version = version + 1, updated_at = now()
		WHERE id = $1 AND status = $3`
	_, err := r.pool.Exec(ctx, q, rideID, models.RideStatusRequested, models.RideStatusMatching)
	return err
}

// LoadOnlineDrivers bulk-loads the online drivers among the given ids,
// preserving no particular order — callers re-key by id.
func (r *Repository) LoadOnlineDrivers(ctx context.Context, driverIDs []uuid.UUID) ([]*models.Driver, error) {
	if len(driverIDs) == 0 {
		return nil, nil
	}
	const q = `SELECT id, tenant_id, phone, name, vehicle_id, vehicle_class, status,
		rating, total_rides, acceptance_rate, current_lat, current_lng, last_located_at,
		created_at, updated_at
		FROM drivers WHERE id = ANY($1) AND status = 'online'`
	rows, err := r.pool.Query(ctx, q, driverIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Driver
	for rows.Next() {
		d, err := scanDriverRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CreateOffer inserts a pending offer, idempotent under retried matching:
// ON CONFLICT DO NOTHING relies on a unique (ride_id, driver_id) index.
func (r *Repository) CreateOffer(ctx context.Context, offer *models.RideOffer) error {
	const q = `INSERT INTO ride_offers (id, ride_id, driver_id, status, offered_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (ride_id, driver_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, q, offer.ID, offer.RideID, offer.DriverID, offer.Status, offer.OfferedAt, offer.ExpiresAt)
	return err
}

// DeclineOffer implements the decline path: status=declined with a reason.
func (r *Repository) DeclineOffer(ctx context.Context, offerID uuid.UUID, reason string) error {
	const q = `UPDATE ride_offers SET status = $2, responded_at = now(), decline_reason = $3
		WHERE id = $1 AND status = 'pending'`
	tag, err := r.pool.Exec(ctx, q, offerID, models.OfferStatusDeclined, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: offer not pending", errNoRows)
	}
	return nil
}

// LoadPendingOffersForDriver lists a driver's still-open offers, for
// GET /drivers/:id/pending-offers.
func (r *Repository) LoadPendingOffersForDriver(ctx context.Context, driverID uuid.UUID) ([]*models.RideOffer, error) {
	const q = `SELECT id, ride_id, driver_id, status, offered_at, expires_at, responded_at, decline_reason
		FROM ride_offers WHERE driver_id = $1 AND status = 'pending' ORDER BY offered_at`
	rows, err := r.pool.Query(ctx, q, driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.RideOffer
	for rows.Next() {
		var o models.RideOffer
		if err := rows.Scan(&o.ID, &o.RideID, &o.DriverID, &o.Status, &o.OfferedAt, &o.ExpiresAt, &o.RespondedAt, &o.DeclineReason); err != nil {
			return nil, err
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

// RecomputeAcceptanceRate derives a driver's acceptance_rate from their
// offer history: accepted / (accepted + declined + expired), as a
// percentage. Non-blocking and eventually consistent per spec.
func (r *Repository) RecomputeAcceptanceRate(ctx context.Context, driverID uuid.UUID) error {
	const q = `UPDATE drivers SET acceptance_rate = sub.rate, updated_at = now()
		FROM (
			SELECT CASE WHEN COUNT(*) FILTER (WHERE status IN ('accepted','declined','expired')) = 0 THEN 100
				ELSE 100.0 * COUNT(*) FILTER (WHERE status = 'accepted')
					/ COUNT(*) FILTER (WHERE status IN ('accepted','declined','expired'))
				END AS rate
			FROM ride_offers WHERE driver_id = $1
		) sub
		WHERE drivers.id = $1`
	_, err := r.pool.Exec(ctx, q, driverID)
	return err
}

// ExpireOffers implements the periodic sweep: pending offers past their
// expiry become expired. Returns the number transitioned.
func (r *Repository) ExpireOffers(ctx context.Context, now time.Time) (int64, error) {
	const q = `UPDATE ride_offers SET status = $1, responded_at = $2
		WHERE status = 'pending' AND expires_at < $2`
	tag, err := r.pool.Exec(ctx, q, models.OfferStatusExpired, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
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

func scanDriverRow(rows pgx.Rows) (*models.Driver, error) {
	var d models.Driver
	err := rows.Scan(
		&d.ID, &d.TenantID, &d.Phone, &d.Name, &d.VehicleID, &d.VehicleClass, &d.Status,
		&d.Rating, &d.TotalRides, &d.AcceptanceRate, &d.CurrentLat, &d.CurrentLng, &d.LastLocatedAt,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func scanOffer(row pgx.Row) (*models.RideOffer, error) {
	var o models.RideOffer
	err := row.Scan(&o.ID, &o.RideID, &o.DriverID, &o.Status, &o.OfferedAt, &o.ExpiresAt, &o.RespondedAt, &o.DeclineReason)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
