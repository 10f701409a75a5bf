// Package simulator implements C11: a cooperative per-ride motion task that
// interpolates a driver's position toward pickup or dropoff and feeds the
// result through C5's ingest pipeline exactly as a real device would.
// Grounded on the teacher's internal/scheduler worker's ticker-driven
// select loop, one instance of which this package runs per active ride
// instead of a single process-wide loop.
package simulator

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/fleetcore/dispatch/internal/driver"
	"github.com/fleetcore/dispatch/internal/ingest"
	"github.com/fleetcore/dispatch/internal/rides"
	"github.com/fleetcore/dispatch/pkg/geo"
	"github.com/fleetcore/dispatch/pkg/logger"
	"go.uber.org/zap"
)

const (
	tickInterval   = 2 * time.Second
	speedKmh       = 30.0
	arrivalMeters  = 50.0
	jitterDegrees  = 8.0 // +/- bearing wobble so the path isn't a perfect line
)

// PhaseToPickup and PhaseToDropoff are the two phases a simulated task can
// be switched between; the values match internal/trip's constants of the
// same name (and internal/dispatch's phaseToPickup) so callers can pass
// either straight through.
const (
	PhaseToPickup  = "TO_PICKUP"
	PhaseToDropoff = "TO_DROPOFF"
)

// Simulator runs one cooperative task per driver currently being simulated.
// It satisfies both internal/dispatch.Simulator and internal/trip.Simulator.
type Simulator struct {
	drivers *driver.Repository
	rides   *rides.Service
	ingest  *ingest.Pipeline

	mu    sync.Mutex
	tasks map[uuid.UUID]context.CancelFunc // keyed by driverID
}

// New builds a motion simulator over the driver reader and the ingest
// pipeline it feeds synthetic samples through. The rides reader is wired in
// afterward via SetRidesService: internal/rides.Service itself depends on
// this simulator (as a trip.Simulator) to stop tasks on cancellation, so
// the two can't be constructed in one direction — cmd/server builds this
// simulator first, then rides.Service, then closes the loop.
func New(drivers *driver.Repository, ingestPipeline *ingest.Pipeline) *Simulator {
	return &Simulator{
		drivers: drivers,
		ingest:  ingestPipeline,
		tasks:   make(map[uuid.UUID]context.CancelFunc),
	}
}

// SetRidesService completes construction once internal/rides.Service
// exists. Must be called before any SwitchPhase.
func (s *Simulator) SetRidesService(ridesSvc *rides.Service) {
	s.rides = ridesSvc
}

// SwitchPhase cancels any task already running for this ride's driver and
// starts a new one aimed at the phase's target. Runs the lookup and the
// task itself off the caller's goroutine: dispatch/trip call this from
// inside a request handler and must not block on it.
func (s *Simulator) SwitchPhase(rideID uuid.UUID, phase string) {
	go s.startPhase(rideID, phase)
}

func (s *Simulator) startPhase(rideID uuid.UUID, phase string) {
	if s.rides == nil {
		logger.Warn("simulator: SwitchPhase called before SetRidesService")
		return
	}
	ctx := context.Background()

	ride, err := s.rides.Get(ctx, rideID)
	if err != nil || ride.DriverID == nil {
		logger.Warn("simulator: cannot switch phase, ride or driver unavailable",
			zap.String("ride_id", rideID.String()), zap.Error(err))
		return
	}
	driverID := *ride.DriverID

	var targetLat, targetLng float64
	switch phase {
	case PhaseToPickup:
		targetLat, targetLng = ride.PickupLat, ride.PickupLng
	case PhaseToDropoff:
		targetLat, targetLng = ride.DropoffLat, ride.DropoffLng
	default:
		logger.Warn("simulator: unknown phase", zap.String("phase", phase))
		return
	}

	drv, err := s.drivers.Get(ctx, driverID)
	if err != nil {
		logger.Warn("simulator: failed to load driver for phase switch", zap.Error(err))
		return
	}
	lat, lng := targetLat, targetLng
	if drv.CurrentLat != nil && drv.CurrentLng != nil {
		lat, lng = *drv.CurrentLat, *drv.CurrentLng
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if existing, ok := s.tasks[driverID]; ok {
		existing()
	}
	s.tasks[driverID] = cancel
	s.mu.Unlock()

	go s.run(taskCtx, driverID, ride.TenantID.String(), lat, lng, targetLat, targetLng)
}

// Stop cancels the running task for a driver, if any, per §4.1's cancel
// policy and §4.5's trip-completion handoff.
func (s *Simulator) Stop(driverID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.tasks[driverID]; ok {
		cancel()
		delete(s.tasks, driverID)
	}
}

// run is the per-driver cooperative task: one step every tickInterval along
// the great-circle bearing to the target, until arrival or cancellation.
func (s *Simulator) run(ctx context.Context, driverID uuid.UUID, tenant string, lat, lng, targetLat, targetLng float64) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lat, lng = step(lat, lng, targetLat, targetLng, tickInterval)
			remainingKm := geo.Haversine(lat, lng, targetLat, targetLng)
			arrived := remainingKm*1000 <= arrivalMeters

			heading := geo.InitialBearing(lat, lng, targetLat, targetLng)
			speed := speedKmh
			sample := ingest.Sample{
				DriverID:  driverID,
				Lat:       lat,
				Lng:       lng,
				Heading:   &heading,
				Speed:     &speed,
				Timestamp: time.Now().UTC(),
				Arrived:   arrived,
			}
			if err := s.ingest.Ingest(ctx, tenant, sample); err != nil {
				logger.Warn("simulator: failed to ingest synthetic sample", zap.Error(err))
			}

			if arrived {
				s.mu.Lock()
				delete(s.tasks, driverID)
				s.mu.Unlock()
				return
			}
		}
	}
}

// step advances one tick toward (targetLat,targetLng): a great-circle hop
// of speedKmh·(interval/1h) km on the current bearing, jittered by up to
// +/- jitterDegrees, clamped to not overshoot the target.
func step(lat, lng, targetLat, targetLng float64, interval time.Duration) (float64, float64) {
	distKm := geo.Haversine(lat, lng, targetLat, targetLng)
	stepKm := speedKmh * interval.Hours()
	if stepKm >= distKm {
		return targetLat, targetLng
	}

	bearing := geo.InitialBearing(lat, lng, targetLat, targetLng)
	bearing += (rand.Float64()*2 - 1) * jitterDegrees
	return geo.Destination(lat, lng, bearing, stepKm)
}
