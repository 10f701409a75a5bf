package payments

import (
	"context"
	"errors"
	"fmt"
	mathrand "math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/fleetcore/dispatch/internal/lock"
	"github.com/fleetcore/dispatch/internal/trip"
	"github.com/fleetcore/dispatch/pkg/cache"
	"github.com/fleetcore/dispatch/pkg/common"
	"github.com/fleetcore/dispatch/pkg/database"
	"github.com/fleetcore/dispatch/pkg/eventbus"
	"github.com/fleetcore/dispatch/pkg/logger"
	"github.com/fleetcore/dispatch/pkg/models"
	"github.com/fleetcore/dispatch/pkg/resilience"
	"go.uber.org/zap"
)

const (
	idempotencyTTL = 24 * time.Hour
	lockLease      = 30 * time.Second
)

// Service is the C9 payment pipeline over a trip's fare.
type Service struct {
	repo  *Repository
	cache *cache.Manager
	locks *lock.Manager
	bus   *eventbus.Bus

	breaker *resilience.CircuitBreaker
}

// NewService wires the payment service over its adapters.
func NewService(repo *Repository, cacheMgr *cache.Manager, locks *lock.Manager, bus *eventbus.Bus) *Service {
	return &Service{
		repo:  repo,
		cache: cacheMgr,
		locks: locks,
		bus:   bus,
		breaker: resilience.NewCircuitBreaker(resilience.Settings{
			Name:             "payments-psp",
			Interval:         time.Minute,
			Timeout:          10 * time.Second,
			FailureThreshold: 5,
		}, nil),
	}
}

func (s *Service) pspRand() *mathrand.Rand {
	return mathrand.New(mathrand.NewSource(time.Now().UnixNano()))
}

func idempotencyCacheKey(key string) string {
	return "payment:idempotency:" + key
}

// Process implements §4.6's five-step algorithm: idempotency cache lookup,
// per-trip lock acquisition (auto-extended for the duration of the PSP round
// trip, whose latency isn't bounded up front), the load/upsert/charge/
// persist transaction, cache+invalidate+publish, and fence-token-guarded
// lock release.
func (s *Service) Process(ctx context.Context, tripID uuid.UUID, method models.PaymentMethod, idempotencyKey string) (*models.Payment, error) {
	var cached models.Payment
	if err := s.cache.Get(ctx, idempotencyCacheKey(idempotencyKey), &cached); err == nil {
		return &cached, nil
	}

	heldLock, err := s.locks.Acquire(ctx, fmt.Sprintf("payment_lock:%s", tripID), lockLease)
	if err != nil {
		time.Sleep(100 * time.Millisecond)
		var retry models.Payment
		if err := s.cache.Get(ctx, idempotencyCacheKey(idempotencyKey), &retry); err == nil {
			return &retry, nil
		}
		return nil, common.NewConflictError("payment already processing")
	}
	heldLock.StartAutoExtend(ctx)
	defer func() {
		if err := heldLock.Release(context.Background()); err != nil {
			logger.WarnContext(ctx, "failed to release payment lock", zap.Error(err))
		}
	}()

	payment, tripCtx, err := s.runSettlement(ctx, tripID, method, idempotencyKey)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, idempotencyCacheKey(idempotencyKey), payment, idempotencyTTL); err != nil {
		logger.WarnContext(ctx, "failed to cache idempotent payment result", zap.Error(err))
	}
	s.afterSettle(ctx, tripCtx, payment)

	return payment, nil
}

// runSettlement is §4.6 step 3: the single transaction spanning the
// idempotent-hit check, the processing upsert, the PSP call, and persisting
// its outcome. Runs under database.WithSerializableRetry per §7: a 40001/
// 40P01 from concurrent settlement attempts retries up to 3 times with
// linear 100/200/300ms backoff rather than surfacing straight to the caller.
func (s *Service) runSettlement(ctx context.Context, tripID uuid.UUID, method models.PaymentMethod, idempotencyKey string) (*models.Payment, *TripContext, error) {
	var payment *models.Payment
	var tripCtx *TripContext

	err := database.WithSerializableRetry(ctx, func(ctx context.Context) error {
		tx, err := s.repo.Begin(ctx)
		if err != nil {
			return common.NewInternalError("failed to open payment transaction", err)
		}
		committed := false
		defer func() {
			if !committed {
				_ = tx.Rollback(context.Background())
			}
		}()

		loadedTripCtx, err := s.repo.LoadTripContextTx(ctx, tx, tripID)
		if err != nil {
			return common.NewNotFoundError("trip not found", err)
		}

		existing, err := s.repo.LoadPaymentByTripTx(ctx, tx, tripID)
		switch {
		case err == nil && existing.Status == models.PaymentStatusCompleted:
			if err := tx.Commit(ctx); err != nil {
				return common.NewInternalError("failed to commit idempotent read", err)
			}
			committed = true
			payment, tripCtx = existing, loadedTripCtx
			return nil
		case err != nil && !errors.Is(err, errNoRows):
			return common.NewInternalError("failed to load existing payment", err)
		case err != nil:
			existing = nil
		}

		if loadedTripCtx.TripStatus != models.TripStatusCompleted {
			return common.NewInvalidStateTransitionError("cannot charge a trip that has not completed")
		}

		upserted, err := s.repo.UpsertProcessing(ctx, tx, existing, tripID, loadedTripCtx.Amount, loadedTripCtx.Currency, method, idempotencyKey)
		if err != nil {
			return common.NewInternalError("failed to upsert payment", err)
		}

		outcome := s.chargePSP(ctx, method)

		var completedAt *time.Time
		if outcome.Status == models.PaymentStatusCompleted {
			now := time.Now().UTC()
			completedAt = &now
		}
		if err := s.repo.PersistOutcome(ctx, tx, upserted.ID, outcome.Status, outcome.Ref, outcome.ErrorCode, completedAt); err != nil {
			return common.NewInternalError("failed to persist payment outcome", err)
		}
		upserted.Status = outcome.Status
		upserted.PSPRef = outcome.Ref
		upserted.ErrorCode = outcome.ErrorCode
		upserted.CompletedAt = completedAt

		if err := tx.Commit(ctx); err != nil {
			return common.NewInternalError("failed to commit payment transaction", err)
		}
		committed = true
		payment, tripCtx = upserted, loadedTripCtx
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return payment, tripCtx, nil
}

// afterSettle implements step 4's cache invalidation and notification
// fan-out, best-effort: a failure here never unwinds the charge that just
// committed.
func (s *Service) afterSettle(ctx context.Context, tripCtx *TripContext, payment *models.Payment) {
	if err := s.cache.Delete(ctx, cache.Keys.Ride(tripCtx.RideID.String())); err != nil {
		logger.WarnContext(ctx, "failed to invalidate ride cache after payment", zap.Error(err))
	}
	if tripCtx.DriverID != nil {
		if err := s.cache.Delete(ctx, cache.Keys.Driver(tripCtx.DriverID.String())); err != nil {
			logger.WarnContext(ctx, "failed to invalidate driver cache after payment", zap.Error(err))
		}
	}
	if err := s.cache.Delete(ctx, cache.Keys.Wallet(tripCtx.RiderID.String())); err != nil {
		logger.WarnContext(ctx, "failed to invalidate rider cache after payment", zap.Error(err))
	}

	if payment.Status != models.PaymentStatusCompleted {
		return
	}

	if err := s.bus.PublishNotification(ctx, tripCtx.RiderID.String(), eventbus.RideEventPaymentDone,
		map[string]interface{}{"trip_id": tripCtx.TripID, "amount": payment.Amount}); err != nil {
		logger.WarnContext(ctx, "failed to publish PAYMENT_COMPLETED", zap.Error(err))
	}
	if tripCtx.DriverID != nil {
		if err := s.bus.PublishNotification(ctx, tripCtx.DriverID.String(), eventbus.RideEventPaymentRecvd,
			map[string]interface{}{"trip_id": tripCtx.TripID, "amount": trip.DriverEarnings(payment.Amount)}); err != nil {
			logger.WarnContext(ctx, "failed to publish PAYMENT_RECEIVED", zap.Error(err))
		}
	}
}

// Refund implements the refund operation: only on completed, non-cash
// payments, setting status=refunded with the reason recorded.
func (s *Service) Refund(ctx context.Context, paymentID uuid.UUID, reason string) (*models.Payment, error) {
	payment, err := s.repo.LoadPayment(ctx, paymentID)
	if err != nil {
		return nil, common.NewNotFoundError("payment not found", err)
	}
	if payment.Status != models.PaymentStatusCompleted {
		return nil, common.NewInvalidStateTransitionError("can only refund a completed payment")
	}
	if payment.Method == models.PaymentMethodCash {
		return nil, common.NewBadRequestError("cash payments cannot be refunded", nil)
	}

	refundedAt := time.Now().UTC()
	if err := s.repo.MarkRefunded(ctx, paymentID, reason, refundedAt); err != nil {
		return nil, common.NewInternalError("failed to mark payment refunded", err)
	}
	payment.Status = models.PaymentStatusRefunded

	if err := s.cache.Delete(ctx, idempotencyCacheKey(payment.IdempotencyKey)); err != nil {
		logger.WarnContext(ctx, "failed to invalidate idempotency cache after refund", zap.Error(err))
	}

	return payment, nil
}

// GetPayment loads a payment by id for the GET-by-id path a client polls
// while a 202 is outstanding.
func (s *Service) GetPayment(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	payment, err := s.repo.LoadPayment(ctx, paymentID)
	if err != nil {
		return nil, common.NewNotFoundError("payment not found", err)
	}
	return payment, nil
}
