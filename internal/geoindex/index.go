// Package geoindex implements C1: the per-vehicle-class live driver
// position index. It is a thin, tier-pure wrapper over Redis GEO so that
// nearby() queries never cross vehicle classes.
package geoindex

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/fleetcore/dispatch/pkg/common"
	"github.com/fleetcore/dispatch/pkg/logger"
	"github.com/fleetcore/dispatch/pkg/models"
	redisClient "github.com/fleetcore/dispatch/pkg/redis"
	"go.uber.org/zap"
)

const (
	// DefaultRadiusKm is the initial search radius for candidate matching.
	DefaultRadiusKm = 5.0
	// DemoRadiusKm widens the search for low-density demo/staging fleets.
	DemoRadiusKm = 100.0

	h3CellTTL = 5 * time.Minute
)

// NearbyDriver is one match from Nearby, sorted ascending by DistanceKm.
type NearbyDriver struct {
	DriverID   uuid.UUID
	DistanceKm float64
}

func classKey(class models.VehicleClass) string {
	return "geo:drivers:" + string(class)
}

// Index is the C1 adapter, backed by a Redis client.
type Index struct {
	redis redisClient.ClientInterface
}

// NewIndex builds a geo index over the given Redis client.
func NewIndex(redis redisClient.ClientInterface) *Index {
	return &Index{redis: redis}
}

// AddDriver upserts a driver's position into its vehicle class's index, and
// tags the position with an H3 cell for DriversNearCell lookups.
// Idempotent: re-adding the same driver just moves it.
func (ix *Index) AddDriver(ctx context.Context, class models.VehicleClass, driverID uuid.UUID, lng, lat float64) error {
	if !models.ValidVehicleClass(string(class)) {
		return common.NewValidationError(fmt.Sprintf("unknown vehicle class %q", class))
	}
	if err := ix.redis.GeoAdd(ctx, classKey(class), lng, lat, driverID.String()); err != nil {
		return common.NewInternalError("failed to add driver to geo index", err)
	}
	ix.retagCell(ctx, driverID, lat, lng)
	return nil
}

// RemoveDriver drops a driver from its vehicle class's index. Idempotent:
// removing an absent driver is not an error.
func (ix *Index) RemoveDriver(ctx context.Context, class models.VehicleClass, driverID uuid.UUID) error {
	if err := ix.redis.GeoRemove(ctx, classKey(class), driverID.String()); err != nil {
		return common.NewInternalError("failed to remove driver from geo index", err)
	}
	cellKey := driverCellKey(driverID)
	if prevCell, err := ix.redis.GetString(ctx, cellKey); err == nil && prevCell != "" {
		ix.redis.SRem(ctx, cellSetKey(prevCell), driverID.String())
		ix.redis.Delete(ctx, cellKey)
	}
	return nil
}

// Nearby returns up to maxCount drivers of the given class within radiusKm
// of (lng, lat), sorted ascending by distance.
func (ix *Index) Nearby(ctx context.Context, class models.VehicleClass, lng, lat, radiusKm float64, maxCount int) ([]NearbyDriver, error) {
	members, err := ix.redis.GeoRadiusWithDist(ctx, classKey(class), lng, lat, radiusKm, maxCount)
	if err != nil {
		return nil, common.NewInternalError("failed to query geo index", err)
	}

	drivers := make([]NearbyDriver, 0, len(members))
	for _, m := range members {
		driverID, err := uuid.Parse(m.Member)
		if err != nil {
			logger.WarnContext(ctx, "geo index member is not a driver UUID, skipping",
				zap.String("member", m.Member))
			continue
		}
		drivers = append(drivers, NearbyDriver{DriverID: driverID, DistanceKm: m.DistanceKm})
	}
	return drivers, nil
}

// DriversNearCell returns driver ids tagged in the H3 cell containing
// lat/lng and its immediate ring, for the dispatch candidate-search fallback,
// which doesn't need vehicle-class partitioning or exact distance.
func (ix *Index) DriversNearCell(ctx context.Context, lat, lng float64) ([]uuid.UUID, error) {
	cells := neighbourCells(lat, lng)
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for _, cell := range cells {
		members, err := ix.redis.SMembers(ctx, cellSetKey(cell))
		if err != nil {
			continue
		}
		for _, m := range members {
			id, err := uuid.Parse(m)
			if err != nil {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out, nil
}

func driverCellKey(driverID uuid.UUID) string {
	return "geo:driver_cell:" + driverID.String()
}

func cellSetKey(cell string) string {
	return "geo:cell_drivers:" + cell
}

// retagCell updates the driver's H3 cell tag and the reverse per-cell set,
// swapping cells only when the driver actually moved into a new one.
func (ix *Index) retagCell(ctx context.Context, driverID uuid.UUID, lat, lng float64) {
	cell := cellForPoint(lat, lng)
	if cell == "" {
		return
	}

	driverIDStr := driverID.String()
	cellKey := driverCellKey(driverID)

	prevCell, err := ix.redis.GetString(ctx, cellKey)
	if err == nil && prevCell != "" && prevCell != cell {
		ix.redis.SRem(ctx, cellSetKey(prevCell), driverIDStr)
	}

	if setErr := ix.redis.SetWithExpiration(ctx, cellKey, cell, h3CellTTL); setErr != nil {
		logger.WarnContext(ctx, "failed to tag driver H3 cell", zap.Error(setErr))
		return
	}
	if setErr := ix.redis.SAdd(ctx, cellSetKey(cell), driverIDStr); setErr != nil {
		logger.WarnContext(ctx, "failed to update H3 cell driver set", zap.Error(setErr))
		return
	}
	if expErr := ix.redis.Expire(ctx, cellSetKey(cell), h3CellTTL); expErr != nil {
		logger.WarnContext(ctx, "failed to refresh H3 cell set TTL", zap.Error(expErr))
	}
}
