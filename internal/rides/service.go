package rides

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/fleetcore/dispatch/internal/dispatch"
	"github.com/fleetcore/dispatch/internal/geoindex"
	"github.com/fleetcore/dispatch/pkg/common"
	"github.com/fleetcore/dispatch/pkg/eventbus"
	"github.com/fleetcore/dispatch/pkg/geo"
	"github.com/fleetcore/dispatch/pkg/logger"
	"github.com/fleetcore/dispatch/pkg/models"
	tripsvc "github.com/fleetcore/dispatch/internal/trip"
	"go.uber.org/zap"
)

// CreateRequest is the body of POST /rides.
type CreateRequest struct {
	TenantID       uuid.UUID
	RiderID        uuid.UUID
	PickupLat      float64
	PickupLng      float64
	PickupAddress  string
	DropoffLat     float64
	DropoffLng     float64
	DropoffAddress string
	Tier           models.VehicleClass
	PaymentMethod  models.PaymentMethod
}

// Service is the C7 ride state machine.
type Service struct {
	repo     *Repository
	dispatch *dispatch.Service
	geo      *geoindex.Index
	bus      *eventbus.Bus
	sim      tripsvc.Simulator
}

// NewService wires the rides service over its adapters. sim may be nil.
func NewService(repo *Repository, dispatchSvc *dispatch.Service, geoIndex *geoindex.Index, bus *eventbus.Bus, sim tripsvc.Simulator) *Service {
	return &Service{repo: repo, dispatch: dispatchSvc, geo: geoIndex, bus: bus, sim: sim}
}

// Create implements §4.1's ride-creation step: distance/duration/fare
// estimates via straight-line Haversine (physical routing is a spec
// Non-goal), REQUESTED insert, and an async hand-off into dispatch's
// candidate search so the caller isn't blocked on the geo query.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Ride, error) {
	if !models.ValidVehicleClass(string(req.Tier)) {
		req.Tier = models.VehicleClassEconomy
	}

	distanceKm := geo.Haversine(req.PickupLat, req.PickupLng, req.DropoffLat, req.DropoffLng)
	durationMins := geo.EstimateDuration(distanceKm)
	estimatedFare := tripsvc.EstimateFare(req.Tier, distanceKm)

	now := time.Now().UTC()
	ride := &models.Ride{
		ID:                    uuid.New(),
		TenantID:              req.TenantID,
		RiderID:               req.RiderID,
		Status:                models.RideStatusRequested,
		PickupLat:             req.PickupLat,
		PickupLng:             req.PickupLng,
		PickupAddress:         req.PickupAddress,
		DropoffLat:            req.DropoffLat,
		DropoffLng:            req.DropoffLng,
		DropoffAddress:        req.DropoffAddress,
		Tier:                  req.Tier,
		PaymentMethod:         req.PaymentMethod,
		SurgeMultiplier:       1.0,
		EstimatedFare:         estimatedFare,
		EstimatedDistanceKm:   distanceKm,
		EstimatedDurationMins: durationMins,
		// Version starts at 0, the optimistic-lock convention every
		// TransitionStatus-style update increments by one from — including
		// the DRIVER_ASSIGNED transition, so it's already monotonically
		// increasing by the time a driver is assigned, not reset there.
		Version:               0,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	if err := s.repo.Create(ctx, ride); err != nil {
		return nil, common.NewInternalError("failed to create ride", err)
	}

	if err := s.bus.PublishRideEvent(ctx, req.TenantID.String(), ride.ID.String(),
		eventbus.RideEventCreated, map[string]interface{}{"rider_id": req.RiderID}); err != nil {
		logger.WarnContext(ctx, "failed to publish RIDE_CREATED", zap.Error(err))
	}

	if s.dispatch != nil {
		go func(rideID uuid.UUID) {
			dispatchCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := s.dispatch.FindDrivers(dispatchCtx, rideID); err != nil {
				logger.Warn("dispatch FindDrivers failed after ride creation", zap.Error(err))
			}
		}(ride.ID)
	}

	return ride, nil
}

// Get retrieves a ride by ID.
func (s *Service) Get(ctx context.Context, rideID uuid.UUID) (*models.Ride, error) {
	ride, err := s.repo.Get(ctx, rideID)
	if err != nil {
		return nil, common.NewNotFoundError("ride not found", err)
	}
	return ride, nil
}

// CurrentForRider returns the rider's active (non-terminal) ride, if any.
func (s *Service) CurrentForRider(ctx context.Context, riderID uuid.UUID) (*models.Ride, error) {
	ride, err := s.repo.CurrentForRider(ctx, riderID)
	if err != nil {
		return nil, common.NewNotFoundError("no active ride", err)
	}
	return ride, nil
}

// CurrentForDriver returns the driver's active (non-terminal) ride, if any.
func (s *Service) CurrentForDriver(ctx context.Context, driverID uuid.UUID) (*models.Ride, error) {
	ride, err := s.repo.CurrentForDriver(ctx, driverID)
	if err != nil {
		return nil, common.NewNotFoundError("no active ride", err)
	}
	return ride, nil
}

// ListForRider paginates ride history.
func (s *Service) ListForRider(ctx context.Context, riderID uuid.UUID, status *models.RideStatus, limit, offset int) ([]*models.Ride, error) {
	rides, err := s.repo.ListForRider(ctx, riderID, status, limit, offset)
	if err != nil {
		return nil, common.NewInternalError("failed to list rides", err)
	}
	return rides, nil
}

// progressTransitions is the ordered allow-list for the driver-progress
// PATCH endpoint: only these forward steps are legal, one at a time.
var progressTransitions = map[models.RideStatus]models.RideStatus{
	models.RideStatusDriverAssigned: models.RideStatusDriverEnRoute,
	models.RideStatusDriverEnRoute:  models.RideStatusDriverArrived,
}

var progressEvent = map[models.RideStatus]eventbus.RideEventType{
	models.RideStatusDriverEnRoute: eventbus.RideEventDriverEnRoute,
	models.RideStatusDriverArrived: eventbus.RideEventDriverArrived,
}

// AdvanceStatus implements PATCH /rides/:id/status for the driver-progress
// steps (DRIVER_ASSIGNED->DRIVER_EN_ROUTE->DRIVER_ARRIVED). Terminal and
// dispatch/trip-owned transitions are rejected here by design: acceptance
// lives in dispatch.Accept, start/end in trip.Start/End.
func (s *Service) AdvanceStatus(ctx context.Context, rideID uuid.UUID, expectedVersion int64, want models.RideStatus) (*models.Ride, error) {
	ride, err := s.repo.Get(ctx, rideID)
	if err != nil {
		return nil, common.NewNotFoundError("ride not found", err)
	}
	next, ok := progressTransitions[ride.Status]
	if !ok || next != want {
		return nil, common.NewInvalidStateTransitionError(
			"illegal ride status transition for this endpoint")
	}
	if err := s.repo.TransitionStatus(ctx, rideID, expectedVersion, next); err != nil {
		if errors.Is(err, errVersionMismatch) {
			return nil, common.NewConflictError("ride changed underneath status update")
		}
		return nil, common.NewInternalError("failed to update ride status", err)
	}
	ride.Status = next
	ride.Version = expectedVersion + 1

	if evt, ok := progressEvent[next]; ok {
		if err := s.bus.PublishRideEvent(ctx, ride.TenantID.String(), rideID.String(), evt, nil); err != nil {
			logger.WarnContext(ctx, "failed to publish ride progress event", zap.Error(err))
		}
		if err := s.bus.PublishNotification(ctx, ride.RiderID.String(), evt,
			eventbus.RideNotificationPayload{RideID: rideID.String()}); err != nil {
			logger.WarnContext(ctx, "failed to notify rider of ride progress event", zap.Error(err))
		}
	}
	return ride, nil
}

// Cancel implements §4.1's cancellation policy: legal from any non-terminal
// status that isn't IN_PROGRESS (a trip in progress must be ended, not
// cancelled). If a driver was already assigned, it's released back to
// online and re-added to the geo index when its last known position is
// still available; the simulator, if running for this ride, is stopped.
func (s *Service) Cancel(ctx context.Context, rideID, actorID uuid.UUID, reason string) (*models.Ride, error) {
	ride, err := s.repo.Get(ctx, rideID)
	if err != nil {
		return nil, common.NewNotFoundError("ride not found", err)
	}
	if ride.RiderID != actorID && (ride.DriverID == nil || *ride.DriverID != actorID) {
		return nil, common.NewForbiddenError("not a party to this ride")
	}
	if ride.Status.IsTerminal() || ride.Status == models.RideStatusInProgress {
		return nil, common.NewInvalidStateTransitionError("ride cannot be cancelled in its current status")
	}

	if err := s.repo.Cancel(ctx, rideID, ride.Version, reason); err != nil {
		if errors.Is(err, errVersionMismatch) {
			return nil, common.NewConflictError("ride changed underneath cancellation")
		}
		return nil, common.NewInternalError("failed to cancel ride", err)
	}

	if ride.DriverID != nil {
		s.releaseAssignedDriver(ctx, ride.Tier, *ride.DriverID)
		if s.sim != nil {
			s.sim.Stop(*ride.DriverID)
		}
	}

	ride.Status = models.RideStatusCancelled
	ride.CancelReason = &reason

	if err := s.bus.PublishRideEvent(ctx, ride.TenantID.String(), rideID.String(),
		eventbus.RideEventCancelled, map[string]interface{}{"reason": reason}); err != nil {
		logger.WarnContext(ctx, "failed to publish RIDE_CANCELLED", zap.Error(err))
	}
	return ride, nil
}

func (s *Service) releaseAssignedDriver(ctx context.Context, tier models.VehicleClass, driverID uuid.UUID) {
	if err := s.repo.ReleaseDriverToOnline(ctx, driverID); err != nil {
		logger.WarnContext(ctx, "failed to release driver after cancellation", zap.Error(err))
		return
	}
	driver, err := s.repo.GetDriver(ctx, driverID)
	if err != nil || driver.CurrentLat == nil || driver.CurrentLng == nil {
		return
	}
	if err := s.geo.AddDriver(ctx, tier, driverID, *driver.CurrentLng, *driver.CurrentLat); err != nil {
		logger.WarnContext(ctx, "failed to re-add driver to geo index after cancellation", zap.Error(err))
	}
}
