package geoindex

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/fleetcore/dispatch/pkg/models"
	redisClient "github.com/fleetcore/dispatch/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGeoRedis stubs only what the geo index exercises: GEO commands, the
// string get/set used for H3 cell tagging, and sets for cell membership.
type fakeGeoRedis struct {
	geoMembers map[string][]redisClient.GeoMember
	strings    map[string]string
	sets       map[string]map[string]struct{}
}

func newFakeGeoRedis() *fakeGeoRedis {
	return &fakeGeoRedis{
		geoMembers: make(map[string][]redisClient.GeoMember),
		strings:    make(map[string]string),
		sets:       make(map[string]map[string]struct{}),
	}
}

func (f *fakeGeoRedis) GeoAdd(ctx context.Context, key string, longitude, latitude float64, member string) error {
	return nil
}
func (f *fakeGeoRedis) GeoRadius(ctx context.Context, key string, longitude, latitude, radiusKm float64, count int) ([]string, error) {
	return nil, nil
}
func (f *fakeGeoRedis) GeoRadiusWithDist(ctx context.Context, key string, longitude, latitude, radiusKm float64, count int) ([]redisClient.GeoMember, error) {
	return f.geoMembers[key], nil
}
func (f *fakeGeoRedis) GeoRemove(ctx context.Context, key string, member string) error { return nil }

func (f *fakeGeoRedis) SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	f.strings[key] = value.(string)
	return nil
}
func (f *fakeGeoRedis) GetString(ctx context.Context, key string) (string, error) {
	v, ok := f.strings[key]
	if !ok {
		return "", assertNotFound
	}
	return v, nil
}
func (f *fakeGeoRedis) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.strings, k)
	}
	return nil
}
func (f *fakeGeoRedis) Exists(ctx context.Context, key string) (bool, error) { return false, nil }
func (f *fakeGeoRedis) Close() error                                         { return nil }
func (f *fakeGeoRedis) MGet(ctx context.Context, keys ...string) ([]interface{}, error) {
	return nil, nil
}
func (f *fakeGeoRedis) MGetStrings(ctx context.Context, keys ...string) ([]string, error) {
	return nil, nil
}
func (f *fakeGeoRedis) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return nil
}
func (f *fakeGeoRedis) SetNX(ctx context.Context, key, value string, expiration time.Duration) (bool, error) {
	return false, nil
}
func (f *fakeGeoRedis) EvalDelIfMatch(ctx context.Context, key, value string) (bool, error) {
	return false, nil
}
func (f *fakeGeoRedis) EvalExpireIfMatch(ctx context.Context, key, value string, expiration time.Duration) (bool, error) {
	return false, nil
}
func (f *fakeGeoRedis) SAdd(ctx context.Context, key string, members ...interface{}) error {
	set, ok := f.sets[key]
	if !ok {
		set = make(map[string]struct{})
		f.sets[key] = set
	}
	for _, m := range members {
		set[m.(string)] = struct{}{}
	}
	return nil
}
func (f *fakeGeoRedis) SRem(ctx context.Context, key string, members ...interface{}) error {
	set, ok := f.sets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(set, m.(string))
	}
	return nil
}
func (f *fakeGeoRedis) SMembers(ctx context.Context, key string) ([]string, error) {
	set := f.sets[key]
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	return out, nil
}

type notFoundErr struct{}

func (notFoundErr) Error() string { return "not found" }

var assertNotFound error = notFoundErr{}

func TestAddDriver_RejectsUnknownVehicleClass(t *testing.T) {
	ix := NewIndex(newFakeGeoRedis())

	err := ix.AddDriver(context.Background(), models.VehicleClass("moped"), uuid.New(), 0, 0)
	require.Error(t, err)
}

func TestNearby_SkipsNonUUIDMembers(t *testing.T) {
	redis := newFakeGeoRedis()
	driverID := uuid.New()
	redis.geoMembers["geo:drivers:economy"] = []redisClient.GeoMember{
		{Member: driverID.String(), DistanceKm: 1.2},
		{Member: "not-a-uuid", DistanceKm: 2.5},
	}
	ix := NewIndex(redis)

	results, err := ix.Nearby(context.Background(), models.VehicleClassEconomy, -122.42, 37.77, DefaultRadiusKm, 20)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, driverID, results[0].DriverID)
	assert.InDelta(t, 1.2, results[0].DistanceKm, 0.0001)
}

func TestAddDriver_RetagsH3CellOnMove(t *testing.T) {
	redis := newFakeGeoRedis()
	ix := NewIndex(redis)
	driverID := uuid.New()

	require.NoError(t, ix.AddDriver(context.Background(), models.VehicleClassEconomy, driverID, -122.42, 37.77))
	firstCell := redis.strings[driverCellKey(driverID)]
	require.NotEmpty(t, firstCell)
	assert.Contains(t, redis.sets[cellSetKey(firstCell)], driverID.String())

	// Move far away: a new H3 cell, and the old cell set should drop the driver.
	require.NoError(t, ix.AddDriver(context.Background(), models.VehicleClassEconomy, driverID, 151.2, -33.8))
	secondCell := redis.strings[driverCellKey(driverID)]
	require.NotEmpty(t, secondCell)
	assert.NotEqual(t, firstCell, secondCell)
	assert.NotContains(t, redis.sets[cellSetKey(firstCell)], driverID.String())
	assert.Contains(t, redis.sets[cellSetKey(secondCell)], driverID.String())
}

func TestRemoveDriver_ClearsH3Tag(t *testing.T) {
	redis := newFakeGeoRedis()
	ix := NewIndex(redis)
	driverID := uuid.New()

	require.NoError(t, ix.AddDriver(context.Background(), models.VehicleClassEconomy, driverID, -122.42, 37.77))
	cell := redis.strings[driverCellKey(driverID)]

	require.NoError(t, ix.RemoveDriver(context.Background(), models.VehicleClassEconomy, driverID))
	_, err := redis.GetString(context.Background(), driverCellKey(driverID))
	require.Error(t, err)
	assert.NotContains(t, redis.sets[cellSetKey(cell)], driverID.String())
}
