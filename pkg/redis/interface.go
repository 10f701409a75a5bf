package redis

import (
	"context"
	"time"
)

// ClientInterface defines the interface for Redis operations
type ClientInterface interface {
	SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	GetString(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Close() error

	// Batch operations
	MGet(ctx context.Context, keys ...string) ([]interface{}, error)
	MGetStrings(ctx context.Context, keys ...string) ([]string, error)

	// Geospatial operations
	GeoAdd(ctx context.Context, key string, longitude, latitude float64, member string) error
	GeoRadius(ctx context.Context, key string, longitude, latitude, radiusKm float64, count int) ([]string, error)
	GeoRadiusWithDist(ctx context.Context, key string, longitude, latitude, radiusKm float64, count int) ([]GeoMember, error)
	GeoRemove(ctx context.Context, key string, member string) error

	// Expiration
	Expire(ctx context.Context, key string, expiration time.Duration) error

	// Lock primitives (C4 distributed lock builds on these)
	SetNX(ctx context.Context, key, value string, expiration time.Duration) (bool, error)
	EvalDelIfMatch(ctx context.Context, key, value string) (bool, error)
	EvalExpireIfMatch(ctx context.Context, key, value string, expiration time.Duration) (bool, error)

	// Sets (used for the geo index's per-H3-cell driver membership)
	SAdd(ctx context.Context, key string, members ...interface{}) error
	SRem(ctx context.Context, key string, members ...interface{}) error
	SMembers(ctx context.Context, key string) ([]string, error)
}

// GeoMember is a single result of a geo-radius query: a member id and its
// distance in kilometers from the query point.
type GeoMember struct {
	Member       string
	DistanceKm   float64
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)
