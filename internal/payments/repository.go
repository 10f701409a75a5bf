// Package payments implements the C9 idempotent payment pipeline: a
// per-trip charge that is identical on retry for the same idempotency key
// and charged at most once, guarded by a lock, a transaction, and the
// unique constraint on payments.idempotency_key together.
package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/fleetcore/dispatch/pkg/models"
)

var errNoRows = errors.New("no matching row")

// Repository is the C9 adapter over payments and the trip/ride join it
// needs to validate and settle a charge.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a payments repository over the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Begin opens the transaction that wraps §4.6 step 3 (load, upsert,
// charge, persist).
func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// TripContext is the trip/ride join the pipeline needs: the amount basis
// from the trip's fare breakdown, the status guard, and who to settle with.
type TripContext struct {
	TripID     uuid.UUID
	TripStatus models.TripStatus
	RideID     uuid.UUID
	TenantID   uuid.UUID
	RiderID    uuid.UUID
	DriverID   *uuid.UUID
	Amount     float64
	Currency   string
}

// LoadTripContextTx reads the trip/ride join inside the payment
// transaction, locking the trip row so a concurrent end-trip mutation
// can't race the charge (belt-and-suspenders alongside the payment lock).
func (r *Repository) LoadTripContextTx(ctx context.Context, tx pgx.Tx, tripID uuid.UUID) (*TripContext, error) {
	const q = `SELECT t.id, t.status, t.ride_id, t.fare_breakdown, r.tenant_id, r.rider_id, r.driver_id
		FROM trips t JOIN rides r ON r.id = t.ride_id WHERE t.id = $1 FOR UPDATE OF t`
	var tc TripContext
	var fare models.FareBreakdown
	err := tx.QueryRow(ctx, q, tripID).Scan(
		&tc.TripID, &tc.TripStatus, &tc.RideID, &fare, &tc.TenantID, &tc.RiderID, &tc.DriverID,
	)
	if err != nil {
		return nil, err
	}
	tc.Amount = fare.Total
	tc.Currency = fare.Currency
	return &tc, nil
}

const paymentColumns = `id, trip_id, amount, currency, method, status, psp_ref, psp_response,
	idempotency_key, error_code, created_at, completed_at`

// LoadPaymentByTripTx reads the (at most one) payment owned by a trip,
// locked for the duration of the enclosing transaction.
func (r *Repository) LoadPaymentByTripTx(ctx context.Context, tx pgx.Tx, tripID uuid.UUID) (*models.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE trip_id = $1 FOR UPDATE`
	p, err := scanPayment(tx.QueryRow(ctx, q, tripID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errNoRows
	}
	return p, err
}

// LoadPayment reads a payment by id, unlocked — used to serve GET lookups
// and to load the target of a refund.
func (r *Repository) LoadPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return scanPayment(r.pool.QueryRow(ctx, q, id))
}

// UpsertProcessing implements step 3c: move an existing payment row to
// processing, or insert a new one in that state. existing may be nil.
func (r *Repository) UpsertProcessing(ctx context.Context, tx pgx.Tx, existing *models.Payment, tripID uuid.UUID, amount float64, currency string, method models.PaymentMethod, idempotencyKey string) (*models.Payment, error) {
	if existing != nil {
		const q = `UPDATE payments SET status = $2 WHERE id = $1`
		if _, err := tx.Exec(ctx, q, existing.ID, models.PaymentStatusProcessing); err != nil {
			return nil, err
		}
		existing.Status = models.PaymentStatusProcessing
		return existing, nil
	}

	p := &models.Payment{
		ID:             uuid.New(),
		TripID:         tripID,
		Amount:         amount,
		Currency:       currency,
		Method:         method,
		Status:         models.PaymentStatusProcessing,
		IdempotencyKey: idempotencyKey,
	}
	const q = `INSERT INTO payments (id, trip_id, amount, currency, method, status, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at`
	if err := tx.QueryRow(ctx, q, p.ID, p.TripID, p.Amount, p.Currency, p.Method, p.Status, p.IdempotencyKey).Scan(&p.CreatedAt); err != nil {
		return nil, err
	}
	return p, nil
}

// PersistOutcome implements step 3e: write the PSP's settlement back onto
// the payment row.
func (r *Repository) PersistOutcome(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID, status models.PaymentStatus, pspRef *string, errorCode *string, completedAt *time.Time) error {
	const q = `UPDATE payments SET status = $2, psp_ref = $3, error_code = $4, completed_at = $5 WHERE id = $1`
	_, err := tx.Exec(ctx, q, paymentID, status, pspRef, errorCode, completedAt)
	return err
}

// MarkRefunded implements the refund operation: status=refunded, with the
// reason appended to psp_response as refund metadata.
func (r *Repository) MarkRefunded(ctx context.Context, paymentID uuid.UUID, reason string, refundedAt time.Time) error {
	const q = `UPDATE payments SET status = $2,
		psp_response = COALESCE(psp_response, '') || $3
		WHERE id = $1`
	note := "; refunded " + refundedAt.UTC().Format(time.RFC3339) + " reason=" + reason
	_, err := r.pool.Exec(ctx, q, paymentID, models.PaymentStatusRefunded, note)
	return err
}

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var p models.Payment
	err := row.Scan(
		&p.ID, &p.TripID, &p.Amount, &p.Currency, &p.Method, &p.Status,
		&p.PSPRef, &p.PSPResponse, &p.IdempotencyKey, &p.ErrorCode,
		&p.CreatedAt, &p.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
