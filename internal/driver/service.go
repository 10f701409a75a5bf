package driver

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/fleetcore/dispatch/internal/geoindex"
	"github.com/fleetcore/dispatch/internal/rides"
	"github.com/fleetcore/dispatch/pkg/cache"
	"github.com/fleetcore/dispatch/pkg/common"
	"github.com/fleetcore/dispatch/pkg/logger"
	"github.com/fleetcore/dispatch/pkg/models"
	"go.uber.org/zap"
)

// Service implements the manual half of a driver's §4.1 status invariant
// (status=busy iff exactly one active ride) plus the current-ride lookup.
type Service struct {
	repo  *Repository
	cache *cache.Manager
	geo   *geoindex.Index
	rides *rides.Service
}

// NewService builds a driver service.
func NewService(repo *Repository, cacheMgr *cache.Manager, geo *geoindex.Index, ridesSvc *rides.Service) *Service {
	return &Service{repo: repo, cache: cacheMgr, geo: geo, rides: ridesSvc}
}

// SetStatus implements PATCH /drivers/:id/status. Only the online/offline
// transitions are driver-initiated; busy is set internally by dispatch
// acceptance (§4.1 step 7) and released by trip completion or cancellation,
// so a manual request for busy is rejected.
func (s *Service) SetStatus(ctx context.Context, driverID uuid.UUID, newStatus models.DriverStatus) (*models.Driver, error) {
	d, err := s.repo.Get(ctx, driverID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFoundError("driver not found", err)
		}
		return nil, common.NewInternalError("failed to load driver", err)
	}

	switch validateStatusRequest(d.Status, newStatus) {
	case statusRequestNoop:
		return d, nil
	case statusRequestRejected:
		if newStatus != models.DriverStatusOnline && newStatus != models.DriverStatusOffline {
			return nil, common.NewBadRequestError("status must be online or offline", nil)
		}
		return nil, common.NewInvalidStateTransitionError("driver is busy with an active ride")
	}

	if err := s.repo.SetStatus(ctx, driverID, newStatus); err != nil {
		return nil, common.NewInternalError("failed to update driver status", err)
	}
	d.Status = newStatus

	switch newStatus {
	case models.DriverStatusOnline:
		if d.CurrentLat != nil && d.CurrentLng != nil {
			if err := s.geo.AddDriver(ctx, d.VehicleClass, driverID, *d.CurrentLng, *d.CurrentLat); err != nil {
				logger.WarnContext(ctx, "failed to place driver in geo index on going online", zap.Error(err))
			}
		}
	case models.DriverStatusOffline:
		if err := s.geo.RemoveDriver(ctx, d.VehicleClass, driverID); err != nil {
			logger.WarnContext(ctx, "failed to remove driver from geo index on going offline", zap.Error(err))
		}
	}

	if err := s.cache.Delete(ctx, cache.Keys.Driver(driverID.String())); err != nil {
		logger.WarnContext(ctx, "failed to invalidate driver cache", zap.Error(err))
	}

	return d, nil
}

type statusRequestOutcome int

const (
	statusRequestAllowed statusRequestOutcome = iota
	statusRequestNoop
	statusRequestRejected
)

// validateStatusRequest implements the manual half of the §4.1 busy
// invariant: a driver already busy with an active ride cannot be toggled
// manually, and a request naming anything other than online/offline is
// always rejected regardless of current status.
func validateStatusRequest(current, requested models.DriverStatus) statusRequestOutcome {
	if requested != models.DriverStatusOnline && requested != models.DriverStatusOffline {
		return statusRequestRejected
	}
	if current == models.DriverStatusBusy {
		return statusRequestRejected
	}
	if current == requested {
		return statusRequestNoop
	}
	return statusRequestAllowed
}

// CurrentRide implements GET /drivers/:id/current-ride.
func (s *Service) CurrentRide(ctx context.Context, driverID uuid.UUID) (*models.Ride, error) {
	return s.rides.CurrentForDriver(ctx, driverID)
}
