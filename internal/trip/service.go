package trip

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/fleetcore/dispatch/internal/geoindex"
	"github.com/fleetcore/dispatch/pkg/common"
	"github.com/fleetcore/dispatch/pkg/database"
	"github.com/fleetcore/dispatch/pkg/eventbus"
	"github.com/fleetcore/dispatch/pkg/logger"
	"github.com/fleetcore/dispatch/pkg/models"
	"go.uber.org/zap"
)

// Simulator is the C11 motion-simulator control surface the trip lifecycle
// drives: switching phase when a trip starts, stopping when it ends.
type Simulator interface {
	SwitchPhase(rideID uuid.UUID, phase string)
	Stop(driverID uuid.UUID)
}

// PhaseToDropoff and PhaseToPickup name the two simulator phases; Start
// switches a ride to PhaseToDropoff, and End stops the simulation.
const (
	PhaseToPickup  = "TO_PICKUP"
	PhaseToDropoff = "TO_DROPOFF"
)

// Service is the C8 trip + fare lifecycle.
type Service struct {
	repo      *Repository
	geo       *geoindex.Index
	bus       *eventbus.Bus
	simulator Simulator
}

// NewService wires the trip service over its adapters. simulator may be nil
// in contexts (tests, batch tooling) that don't run live motion simulation.
func NewService(repo *Repository, geo *geoindex.Index, bus *eventbus.Bus, simulator Simulator) *Service {
	return &Service{repo: repo, geo: geo, bus: bus, simulator: simulator}
}

// Start implements §4.5 "Start trip": guard ride.status=DRIVER_ARRIVED,
// creates the Trip, advances the ride to IN_PROGRESS, publishes
// TRIP_STARTED, and switches the simulator to TO_DROPOFF.
func (s *Service) Start(ctx context.Context, rideID uuid.UUID) (*models.Trip, error) {
	ride, err := s.repo.LoadRide(ctx, rideID)
	if err != nil {
		return nil, common.NewNotFoundError("ride not found", err)
	}
	if ride.Status != models.RideStatusDriverArrived {
		return nil, common.NewInvalidStateTransitionError(
			"cannot start trip unless ride is DRIVER_ARRIVED")
	}

	now := time.Now().UTC()
	newTrip := &models.Trip{
		ID:        uuid.New(),
		RideID:    rideID,
		Status:    models.TripStatusInProgress,
		StartedAt: now,
	}

	err = database.WithSerializableRetry(ctx, func(ctx context.Context) error {
		tx, err := s.repo.Begin(ctx)
		if err != nil {
			return common.NewInternalError("failed to open transaction", err)
		}
		committed := false
		defer func() {
			if !committed {
				_ = tx.Rollback(context.Background())
			}
		}()

		if err := s.repo.CreateTrip(ctx, tx, newTrip); err != nil {
			return common.NewInternalError("failed to create trip", err)
		}
		if err := s.repo.TransitionRideToInProgress(ctx, tx, rideID, ride.Version); err != nil {
			if errors.Is(err, errNoRows) {
				return common.NewConflictError("ride changed underneath start trip")
			}
			return common.NewInternalError("failed to transition ride to IN_PROGRESS", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return common.NewInternalError("failed to commit trip start", err)
		}
		committed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.bus.PublishRideEvent(ctx, ride.TenantID.String(), rideID.String(),
		eventbus.RideEventTripStarted, map[string]interface{}{"trip_id": newTrip.ID}); err != nil {
		logger.WarnContext(ctx, "failed to publish TRIP_STARTED", zap.Error(err))
	}
	if err := s.bus.PublishNotification(ctx, ride.RiderID.String(), eventbus.RideEventTripStarted,
		eventbus.RideNotificationPayload{RideID: rideID.String()}); err != nil {
		logger.WarnContext(ctx, "failed to notify rider of TRIP_STARTED", zap.Error(err))
	}
	if s.simulator != nil {
		s.simulator.SwitchPhase(rideID, PhaseToDropoff)
	}

	return newTrip, nil
}

// EndInput carries the optional overrides §4.5 "End trip" allows.
type EndInput struct {
	ActualDistanceKm   *float64
	ActualDurationMins *int
}

// End implements §4.5 "End trip": guard trip.status=IN_PROGRESS, fare
// computation, Trip/Ride/Driver mutation in one transaction, driver
// re-added to the geo index at its stored location if it has one (the
// location's age is not checked), TRIP_COMPLETED
// published with the driver's 80% earnings, simulator stopped.
func (s *Service) End(ctx context.Context, rideID uuid.UUID, in EndInput) (*models.Trip, error) {
	ride, err := s.repo.LoadRide(ctx, rideID)
	if err != nil {
		return nil, common.NewNotFoundError("ride not found", err)
	}
	existing, err := s.repo.LoadTripByRide(ctx, rideID)
	if err != nil {
		return nil, common.NewNotFoundError("trip not found for ride", err)
	}
	if existing.Status != models.TripStatusInProgress {
		return nil, common.NewInvalidStateTransitionError("cannot end a trip that is not IN_PROGRESS")
	}

	actualDistanceKm := ride.EstimatedDistanceKm
	if actualDistanceKm <= 0 {
		actualDistanceKm = 5
	}
	if in.ActualDistanceKm != nil {
		actualDistanceKm = *in.ActualDistanceKm
	}

	actualDurationMins := int(math.Ceil(time.Since(existing.StartedAt).Minutes()))
	if in.ActualDurationMins != nil {
		actualDurationMins = *in.ActualDurationMins
	}

	fare := ComputeFare(ride.Tier, actualDistanceKm, actualDurationMins, ride.SurgeMultiplier)
	now := time.Now().UTC()

	err = database.WithSerializableRetry(ctx, func(ctx context.Context) error {
		tx, err := s.repo.Begin(ctx)
		if err != nil {
			return common.NewInternalError("failed to open transaction", err)
		}
		committed := false
		defer func() {
			if !committed {
				_ = tx.Rollback(context.Background())
			}
		}()

		if err := s.repo.CompleteTrip(ctx, tx, existing.ID, now, actualDistanceKm, actualDurationMins, fare); err != nil {
			return common.NewInternalError("failed to complete trip", err)
		}
		if err := s.repo.TransitionRideToCompleted(ctx, tx, rideID, ride.Version); err != nil {
			if errors.Is(err, errNoRows) {
				return common.NewConflictError("ride changed underneath end trip")
			}
			return common.NewInternalError("failed to transition ride to COMPLETED", err)
		}
		if ride.DriverID != nil {
			if err := s.repo.ReleaseDriver(ctx, tx, *ride.DriverID); err != nil {
				return common.NewInternalError("failed to release driver", err)
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return common.NewInternalError("failed to commit trip end", err)
		}
		committed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	existing.Status = models.TripStatusCompleted
	existing.EndedAt = &now
	existing.ActualDistanceKm = &actualDistanceKm
	existing.ActualDurationMins = &actualDurationMins
	existing.FareBreakdown = fare

	if ride.DriverID != nil {
		s.rejoinGeoIndex(ctx, ride.Tier, *ride.DriverID)
		if err := s.bus.PublishRideEvent(ctx, ride.TenantID.String(), rideID.String(),
			eventbus.RideEventTripCompleted, map[string]interface{}{
				"trip_id": existing.ID, "earnings": DriverEarnings(fare.Total),
			}); err != nil {
			logger.WarnContext(ctx, "failed to publish TRIP_COMPLETED", zap.Error(err))
		}
		if err := s.bus.PublishNotification(ctx, ride.RiderID.String(), eventbus.RideEventTripCompleted,
			eventbus.RideNotificationPayload{RideID: rideID.String()}); err != nil {
			logger.WarnContext(ctx, "failed to notify rider of TRIP_COMPLETED", zap.Error(err))
		}
		if s.simulator != nil {
			s.simulator.Stop(*ride.DriverID)
		}
	}

	return existing, nil
}

func (s *Service) rejoinGeoIndex(ctx context.Context, tier models.VehicleClass, driverID uuid.UUID) {
	driver, err := s.repo.LoadDriver(ctx, driverID)
	if err != nil || driver.CurrentLat == nil || driver.CurrentLng == nil {
		return
	}
	if err := s.geo.AddDriver(ctx, tier, driverID, *driver.CurrentLng, *driver.CurrentLat); err != nil {
		logger.WarnContext(ctx, "failed to re-add driver to geo index after trip", zap.Error(err))
	}
}
