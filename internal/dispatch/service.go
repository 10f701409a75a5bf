// Package dispatch implements C6: candidate finding, scoring, offer
// fan-out, and the race-free acceptance algorithm that hands a ride to the
// winning driver. Grounded on internal/matching/service.go's event-driven
// shape, restructured around the spec's row-lock-plus-distributed-lock
// acceptance protocol instead of the teacher's single-writer NATS handler.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/fleetcore/dispatch/internal/geoindex"
	"github.com/fleetcore/dispatch/internal/lock"
	"github.com/fleetcore/dispatch/pkg/cache"
	"github.com/fleetcore/dispatch/pkg/common"
	"github.com/fleetcore/dispatch/pkg/database"
	"github.com/fleetcore/dispatch/pkg/eventbus"
	"github.com/fleetcore/dispatch/pkg/geo"
	"github.com/fleetcore/dispatch/pkg/logger"
	"github.com/fleetcore/dispatch/pkg/models"
	"go.uber.org/zap"
)

const (
	offerLease   = 15 * time.Second
	acceptLease  = 5 * time.Second
	maxOfferFanOut = 20

	// phaseToPickup names the C11 motion-simulator phase an accepted ride
	// starts in; trip.PhaseToPickup carries the same string (trip itself
	// switches rides to trip.PhaseToDropoff), kept separate here so this
	// package doesn't need to import internal/trip for one constant.
	phaseToPickup = "TO_PICKUP"
)

// Simulator is the C11 motion-simulator control surface dispatch drives:
// once a driver accepts, the simulator should start moving them toward
// pickup.
type Simulator interface {
	SwitchPhase(rideID uuid.UUID, phase string)
}

// Config tunes the candidate search.
type Config struct {
	SearchRadiusKm float64
	MaxCandidates  int
}

// DefaultConfig mirrors spec.md's default 5km radius, 20-candidate cap.
func DefaultConfig() Config {
	return Config{SearchRadiusKm: geoindex.DefaultRadiusKm, MaxCandidates: maxOfferFanOut}
}

// FindDriversResult reports the outcome of a candidate search, including
// the "no drivers available" case spec.md calls out explicitly.
type FindDriversResult struct {
	OffersSent int
	Reason     string
}

// Service is the C6 dispatch engine.
type Service struct {
	repo      *Repository
	geo       *geoindex.Index
	locks     *lock.Manager
	bus       *eventbus.Bus
	cache     *cache.Manager
	cfg       Config
	simulator Simulator
}

// NewService wires the dispatch engine over its adapters. simulator may be
// nil in contexts that don't run live motion simulation.
func NewService(repo *Repository, geo *geoindex.Index, locks *lock.Manager, bus *eventbus.Bus, cache *cache.Manager, cfg Config, simulator Simulator) *Service {
	return &Service{repo: repo, geo: geo, locks: locks, bus: bus, cache: cache, cfg: cfg, simulator: simulator}
}

// FindDrivers implements §4.3 "Finding candidates" through "Offer fan-out".
// The ride must be REQUESTED or MATCHING; it is (re-)marked MATCHING before
// the geo query runs, so re-invocation from the caller on a timeout doesn't
// race a second dispatch pass past this guard.
func (s *Service) FindDrivers(ctx context.Context, rideID uuid.UUID) (*FindDriversResult, error) {
	ride, err := s.repo.LoadRide(ctx, rideID)
	if err != nil {
		return nil, common.NewNotFoundError("ride not found", err)
	}
	if ride.Status != models.RideStatusRequested && ride.Status != models.RideStatusMatching {
		return nil, common.NewInvalidStateTransitionError(
			fmt.Sprintf("cannot find drivers for ride in status %s", ride.Status))
	}
	if ride.Status == models.RideStatusRequested {
		if err := s.repo.SetRideMatching(ctx, rideID, ride.Version); err != nil {
			return nil, common.NewConflictError("ride changed underneath findDrivers")
		}
	}

	radius := s.cfg.SearchRadiusKm
	if radius <= 0 {
		radius = geoindex.DefaultRadiusKm
	}
	maxCandidates := s.cfg.MaxCandidates
	if maxCandidates <= 0 || maxCandidates > maxOfferFanOut {
		maxCandidates = maxOfferFanOut
	}

	nearby, err := s.geo.Nearby(ctx, ride.Tier, ride.PickupLng, ride.PickupLat, radius, maxCandidates)
	if err != nil {
		return nil, common.NewInternalError("geo index query failed", err)
	}
	if len(nearby) == 0 {
		nearby = s.nearbyByCellFallback(ctx, ride, maxCandidates)
	}
	if len(nearby) == 0 {
		if err := s.repo.RevertToRequested(ctx, rideID); err != nil {
			logger.WarnContext(ctx, "failed to revert ride to REQUESTED after empty candidate search", zap.Error(err))
		}
		return &FindDriversResult{Reason: "no drivers available"}, nil
	}

	ids := make([]uuid.UUID, len(nearby))
	distanceByID := make(map[uuid.UUID]float64, len(nearby))
	for i, n := range nearby {
		ids[i] = n.DriverID
		distanceByID[n.DriverID] = n.DistanceKm
	}

	drivers, err := s.repo.LoadOnlineDrivers(ctx, ids)
	if err != nil {
		return nil, common.NewInternalError("failed to load candidate drivers", err)
	}
	if len(drivers) == 0 {
		if err := s.repo.RevertToRequested(ctx, rideID); err != nil {
			logger.WarnContext(ctx, "failed to revert ride to REQUESTED after empty candidate search", zap.Error(err))
		}
		return &FindDriversResult{Reason: "no drivers available"}, nil
	}

	candidates := make([]Candidate, len(drivers))
	for i, d := range drivers {
		candidates[i] = Candidate{
			DriverID:       d.ID.String(),
			DistanceKm:     distanceByID[d.ID],
			Rating:         d.Rating,
			AcceptanceRate: d.AcceptanceRate,
		}
	}
	ranked := rankCandidates(candidates)

	now := time.Now().UTC()
	expiresAt := now.Add(offerLease)
	sent := 0
	for _, c := range ranked {
		driverID, err := uuid.Parse(c.DriverID)
		if err != nil {
			continue
		}
		offer := &models.RideOffer{
			ID:        uuid.New(),
			RideID:    rideID,
			DriverID:  driverID,
			Status:    models.OfferStatusPending,
			OfferedAt: now,
			ExpiresAt: expiresAt,
		}
		if err := s.repo.CreateOffer(ctx, offer); err != nil {
			logger.WarnContext(ctx, "failed to create ride offer", zap.String("driver_id", c.DriverID), zap.Error(err))
			continue
		}
		if err := s.bus.PublishRideEvent(ctx, ride.TenantID.String(), rideID.String(), eventbus.RideEventOffer,
			map[string]interface{}{"offer_id": offer.ID, "driver_id": driverID, "expires_at": expiresAt}); err != nil {
			logger.WarnContext(ctx, "failed to publish RIDE_OFFER", zap.Error(err))
		}
		if err := s.bus.PublishNotification(ctx, driverID.String(), eventbus.RideEventOffer,
			eventbus.RideNotificationPayload{RideID: rideID.String(),
				Data: map[string]interface{}{"offer_id": offer.ID, "expires_at": expiresAt}}); err != nil {
			logger.WarnContext(ctx, "failed to notify driver of RIDE_OFFER", zap.Error(err))
		}
		sent++
	}

	return &FindDriversResult{OffersSent: sent}, nil
}

// nearbyByCellFallback is tried when the Redis GEO radius query comes back
// empty: it looks up drivers whose last position was tagged (by
// geoindex.AddDriver's retagCell) in the pickup's H3 cell or its k=1 ring.
// At resolution 9 (~175m edge) that ring reaches roughly half a kilometre
// from the pickup whatever the configured search radius is, so it only
// reaches past the radius when the radius is smaller than that. Matches
// are loaded, filtered to the ride's tier, and given an
// approximate straight-line distance since the cell index carries no
// distance of its own.
func (s *Service) nearbyByCellFallback(ctx context.Context, ride *models.Ride, maxCandidates int) []geoindex.NearbyDriver {
	ids, err := s.geo.DriversNearCell(ctx, ride.PickupLat, ride.PickupLng)
	if err != nil || len(ids) == 0 {
		return nil
	}

	drivers, err := s.repo.LoadOnlineDrivers(ctx, ids)
	if err != nil {
		logger.WarnContext(ctx, "cell fallback: failed to load candidate drivers", zap.Error(err))
		return nil
	}

	out := make([]geoindex.NearbyDriver, 0, len(drivers))
	for _, d := range drivers {
		if d.VehicleClass != ride.Tier || d.CurrentLat == nil || d.CurrentLng == nil {
			continue
		}
		out = append(out, geoindex.NearbyDriver{
			DriverID:   d.ID,
			DistanceKm: geo.Haversine(ride.PickupLat, ride.PickupLng, *d.CurrentLat, *d.CurrentLng),
		})
		if len(out) >= maxCandidates {
			break
		}
	}
	return out
}

// Accept implements §4.3 "Acceptance (race-free)" steps 1-10. The row-locked
// transaction runs under database.WithSerializableRetry per §7: a 40001/
// 40P01 from the serializable isolation level retries up to 3 times with
// linear 100/200/300ms backoff before surfacing to the caller. The
// distributed lock is acquired once, outside the retry loop — its 5s lease
// comfortably covers the worst case 600ms of added retry delay.
func (s *Service) Accept(ctx context.Context, rideID, driverID uuid.UUID) error {
	rideLock, err := s.locks.Acquire(ctx, "ride:"+rideID.String(), acceptLease)
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := rideLock.Release(context.Background()); releaseErr != nil {
			logger.Warn("failed to release ride acceptance lock", zap.Error(releaseErr))
		}
	}()

	var ride *models.Ride
	err = database.WithSerializableRetry(ctx, func(ctx context.Context) error {
		tx, err := s.repo.BeginSerializable(ctx)
		if err != nil {
			return common.NewInternalError("failed to open transaction", err)
		}
		committed := false
		defer func() {
			if !committed {
				_ = tx.Rollback(context.Background())
			}
		}()

		loaded, err := s.repo.LoadRideForUpdateNoWait(ctx, tx, rideID)
		if err != nil {
			if errors.Is(err, errRowLocked) {
				return common.NewConflictError("ride is being modified concurrently")
			}
			return common.NewNotFoundError("ride not found", err)
		}

		if loaded.Status != models.RideStatusMatching {
			if loaded.DriverID != nil {
				return common.NewConflictError("ride already assigned")
			}
			return common.NewInvalidStateTransitionError(
				fmt.Sprintf("cannot accept ride in status %s", loaded.Status))
		}

		if _, err := s.repo.LoadOnlineDriverForUpdateSkipLocked(ctx, tx, driverID); err != nil {
			return common.NewConflictError("driver unavailable")
		}

		offer, err := s.repo.LoadPendingOffer(ctx, tx, rideID, driverID)
		if err != nil {
			return common.NewConflictError("no pending offer for this driver")
		}

		now := time.Now().UTC()
		if err := s.repo.AssignDriver(ctx, tx, rideID, driverID, now); err != nil {
			return common.NewInternalError("failed to assign driver", err)
		}
		if err := s.repo.MarkDriverBusy(ctx, tx, driverID); err != nil {
			return common.NewInternalError("failed to mark driver busy", err)
		}
		if err := s.repo.AcceptOffer(ctx, tx, offer.ID, now); err != nil {
			return common.NewInternalError("failed to accept offer", err)
		}
		if err := s.repo.CancelOtherPendingOffers(ctx, tx, rideID, offer.ID, now); err != nil {
			return common.NewInternalError("failed to cancel other offers", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return common.NewInternalError("failed to commit acceptance", err)
		}
		committed = true
		ride = loaded
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.geo.RemoveDriver(context.Background(), ride.Tier, driverID); err != nil {
		logger.Warn("failed to remove accepted driver from geo index", zap.Error(err))
	}
	s.invalidateCaches(ride.RiderID, driverID, rideID)

	if err := s.bus.PublishRideEvent(context.Background(), ride.TenantID.String(), rideID.String(),
		eventbus.RideEventDriverAssigned, map[string]interface{}{"driver_id": driverID}); err != nil {
		logger.Warn("failed to publish DRIVER_ASSIGNED", zap.Error(err))
	}
	if err := s.bus.PublishNotification(context.Background(), ride.RiderID.String(), eventbus.RideEventDriverAssigned,
		eventbus.RideNotificationPayload{RideID: rideID.String(), DriverID: driverID.String()}); err != nil {
		logger.Warn("failed to notify rider of DRIVER_ASSIGNED", zap.Error(err))
	}

	if s.simulator != nil {
		s.simulator.SwitchPhase(rideID, phaseToPickup)
	}

	return nil
}

// Decline implements §4.3 "Decline": marks the offer declined and
// recomputes the driver's acceptance rate, non-blocking per spec.
func (s *Service) Decline(ctx context.Context, offerID, driverID uuid.UUID, reason string) error {
	if err := s.repo.DeclineOffer(ctx, offerID, reason); err != nil {
		if errors.Is(err, errNoRows) {
			return common.NewConflictError("offer is not pending")
		}
		return common.NewInternalError("failed to decline offer", err)
	}
	go func() {
		recomputeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.repo.RecomputeAcceptanceRate(recomputeCtx, driverID); err != nil {
			logger.Warn("failed to recompute driver acceptance rate", zap.Error(err))
		}
	}()
	return nil
}

// SweepExpiredOffers implements §4.3 "Offer expiry": a periodic transition
// of stale pending offers to expired. Intended to be called on a ticker by
// the process composing this service.
func (s *Service) SweepExpiredOffers(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireOffers(ctx, time.Now().UTC())
	if err != nil {
		return 0, common.NewInternalError("failed to sweep expired offers", err)
	}
	return n, nil
}

func (s *Service) invalidateCaches(riderID, driverID, rideID uuid.UUID) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, cache.Keys.Ride(rideID.String()), cache.Keys.Driver(driverID.String()), cache.Keys.User(riderID.String())); err != nil {
		logger.Warn("failed to invalidate caches after acceptance", zap.Error(err))
	}
}
