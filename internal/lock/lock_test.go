package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fleetcore/dispatch/pkg/common"
	redisClient "github.com/fleetcore/dispatch/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis is a minimal in-memory stand-in for the handful of Redis
// primitives the lock manager uses, so acquire/release/extend semantics can
// be tested without a live Redis or mocking Lua script internals.
type fakeRedis struct {
	mu     sync.Mutex
	values map[string]string
	setNXErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: make(map[string]string)}
}

func (f *fakeRedis) SetNX(ctx context.Context, key, value string, expiration time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setNXErr != nil {
		return false, f.setNXErr
	}
	if _, exists := f.values[key]; exists {
		return false, nil
	}
	f.values[key] = value
	return true, nil
}

func (f *fakeRedis) EvalDelIfMatch(ctx context.Context, key, value string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values[key] != value {
		return false, nil
	}
	delete(f.values, key)
	return true, nil
}

func (f *fakeRedis) EvalExpireIfMatch(ctx context.Context, key, value string, expiration time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values[key] != value {
		return false, nil
	}
	return true, nil
}

// The rest of ClientInterface is unused by the lock manager; stub it out.
func (f *fakeRedis) SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return nil
}
func (f *fakeRedis) GetString(ctx context.Context, key string) (string, error)      { return "", nil }
func (f *fakeRedis) Delete(ctx context.Context, keys ...string) error               { return nil }
func (f *fakeRedis) Exists(ctx context.Context, key string) (bool, error)           { return false, nil }
func (f *fakeRedis) Close() error                                                    { return nil }
func (f *fakeRedis) MGet(ctx context.Context, keys ...string) ([]interface{}, error) { return nil, nil }
func (f *fakeRedis) MGetStrings(ctx context.Context, keys ...string) ([]string, error) {
	return nil, nil
}
func (f *fakeRedis) GeoAdd(ctx context.Context, key string, longitude, latitude float64, member string) error {
	return nil
}
func (f *fakeRedis) GeoRadius(ctx context.Context, key string, longitude, latitude, radiusKm float64, count int) ([]string, error) {
	return nil, nil
}
func (f *fakeRedis) GeoRadiusWithDist(ctx context.Context, key string, longitude, latitude, radiusKm float64, count int) ([]redisClient.GeoMember, error) {
	return nil, nil
}
func (f *fakeRedis) GeoRemove(ctx context.Context, key string, member string) error { return nil }
func (f *fakeRedis) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return nil
}

func TestAcquire_Succeeds(t *testing.T) {
	redis := newFakeRedis()
	mgr := NewManager(redis, DefaultConfig())

	l, err := mgr.Acquire(context.Background(), "ride:abc", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ride:abc", l.Key())
	assert.NotEmpty(t, l.Token())
}

func TestAcquire_FailsWhenHeld(t *testing.T) {
	redis := newFakeRedis()
	cfg := DefaultConfig()
	cfg.MaxAttempts = 2
	cfg.RetryBackoff = time.Millisecond
	mgr := NewManager(redis, cfg)

	first, err := mgr.Acquire(context.Background(), "ride:abc", 5*time.Second)
	require.NoError(t, err)
	defer first.Release(context.Background())

	_, err = mgr.Acquire(context.Background(), "ride:abc", 5*time.Second)
	require.Error(t, err)
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, common.CodeLockAcquisitionFailed, appErr.ErrorCode)
	assert.Equal(t, 409, appErr.Code)
}

func TestRelease_OnlyDeletesOwnToken(t *testing.T) {
	redis := newFakeRedis()
	mgr := NewManager(redis, DefaultConfig())

	l, err := mgr.Acquire(context.Background(), "payment_lock:trip-1", 30*time.Second)
	require.NoError(t, err)

	// Simulate the lease expiring and a second owner acquiring it.
	redis.mu.Lock()
	redis.values["lock:payment_lock:trip-1"] = "someone-else-token"
	redis.mu.Unlock()

	require.NoError(t, l.Release(context.Background()))

	redis.mu.Lock()
	defer redis.mu.Unlock()
	assert.Equal(t, "someone-else-token", redis.values["lock:payment_lock:trip-1"])
}

func TestExtend_FailsOnceFenceTokenStale(t *testing.T) {
	redis := newFakeRedis()
	mgr := NewManager(redis, DefaultConfig())

	l, err := mgr.Acquire(context.Background(), "ride:abc", 5*time.Second)
	require.NoError(t, err)

	redis.mu.Lock()
	redis.values["lock:ride:abc"] = "other-token"
	redis.mu.Unlock()

	err = l.Extend(context.Background())
	require.Error(t, err)
}
