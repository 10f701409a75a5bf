// Package lock implements the distributed lock C4: a Redis SET-NX lease
// guarded by a random fence token, so release and extension can never act on
// a lock the caller no longer holds.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/fleetcore/dispatch/pkg/common"
	"github.com/fleetcore/dispatch/pkg/logger"
	redisClient "github.com/fleetcore/dispatch/pkg/redis"
	"go.uber.org/zap"
)

// Config tunes acquisition retries. Defaults mirror the ride lock path:
// a handful of short retries so callers fail fast into a 409 rather than
// queueing behind Redis contention.
type Config struct {
	MaxAttempts   int
	RetryBackoff  time.Duration
	ExtendWhenLeft time.Duration // extend the lease if remaining TTL falls below this
}

// DefaultConfig returns the acquisition policy used for ride acceptance.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		RetryBackoff:   50 * time.Millisecond,
		ExtendWhenLeft: 500 * time.Millisecond,
	}
}

// Manager acquires and tracks fence-token locks over a Redis client.
type Manager struct {
	redis  redisClient.ClientInterface
	config Config
}

// NewManager builds a lock manager over the given Redis client.
func NewManager(redis redisClient.ClientInterface, config Config) *Manager {
	return &Manager{redis: redis, config: config}
}

// Lock is a held lease. The zero value is not usable; obtain one from
// Manager.Acquire.
type Lock struct {
	mgr     *Manager
	key     string
	token   string
	lease   time.Duration
	stop    chan struct{}
	stopped bool
}

// Key returns the lock's Redis key, e.g. "ride:<id>" or "payment_lock:<id>".
func (l *Lock) Key() string { return l.key }

// Token returns the lock's fence token, useful for logging and tests.
func (l *Lock) Token() string { return l.token }

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire attempts to take the lock named by key with the given lease,
// making up to config.MaxAttempts attempts with a fixed backoff between
// them. It fails with a LockAcquisitionFailed AppError when the lock cannot
// be taken within those attempts — callers surface this to the caller as a 409 they may
// retry.
func (m *Manager) Acquire(ctx context.Context, key string, lease time.Duration) (*Lock, error) {
	token := uuid.NewString()
	rkey := lockKey(key)

	attempts := m.config.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		ok, err := m.redis.SetNX(ctx, rkey, token, lease)
		if err != nil {
			lastErr = err
		} else if ok {
			return &Lock{mgr: m, key: key, token: token, lease: lease, stop: make(chan struct{})}, nil
		}

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return nil, common.NewLockAcquisitionFailedError(fmt.Sprintf("could not acquire lock %q: %v", key, ctx.Err()))
			case <-time.After(m.config.RetryBackoff):
			}
		}
	}

	if lastErr != nil {
		return nil, common.NewLockAcquisitionFailedError(fmt.Sprintf("could not acquire lock %q: %v", key, lastErr))
	}
	return nil, common.NewLockAcquisitionFailedError(fmt.Sprintf("could not acquire lock %q: held by another owner", key))
}

// Release drops the lock, but only if the stored value still matches this
// lock's fence token — if the lease already expired and was reacquired by
// someone else, Release is a no-op rather than stealing their lock.
func (l *Lock) Release(ctx context.Context) error {
	l.stopAutoExtend()

	ok, err := l.mgr.redis.EvalDelIfMatch(ctx, lockKey(l.key), l.token)
	if err != nil {
		return fmt.Errorf("release lock %q: %w", l.key, err)
	}
	if !ok {
		logger.Warn("lock release no-op: fence token no longer current",
			zap.String("key", l.key))
	}
	return nil
}

// Extend pushes the lease out by the lock's original duration, again only
// if the fence token still matches.
func (l *Lock) Extend(ctx context.Context) error {
	ok, err := l.mgr.redis.EvalExpireIfMatch(ctx, lockKey(l.key), l.token, l.lease)
	if err != nil {
		return fmt.Errorf("extend lock %q: %w", l.key, err)
	}
	if !ok {
		return common.NewLockAcquisitionFailedError(fmt.Sprintf("lock %q lost before extension", l.key))
	}
	return nil
}

// StartAutoExtend runs a background loop that extends the lease whenever its
// remaining TTL falls below the manager's ExtendWhenLeft threshold, for
// critical sections whose duration isn't known up front (e.g. the payment
// pipeline's PSP round trip). Call StopAutoExtend, or Release, to stop it.
func (l *Lock) StartAutoExtend(ctx context.Context) {
	interval := l.mgr.config.ExtendWhenLeft
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	expiry := time.Now().Add(l.lease)
	go func() {
		ticker := time.NewTicker(interval / 2)
		defer ticker.Stop()
		for {
			select {
			case <-l.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if time.Until(expiry) > interval {
					continue
				}
				extendedAt := time.Now()
				if err := l.Extend(ctx); err != nil {
					logger.Warn("auto-extend failed, lock may have been lost",
						zap.String("key", l.key), zap.Error(err))
					return
				}
				expiry = extendedAt.Add(l.lease)
			}
		}
	}()
}

// StopAutoExtend stops a running auto-extend loop without releasing the
// lock. Safe to call even if auto-extend was never started, or more than
// once.
func (l *Lock) StopAutoExtend() {
	l.stopAutoExtend()
}

func (l *Lock) stopAutoExtend() {
	if l.stopped {
		return
	}
	l.stopped = true
	close(l.stop)
}
