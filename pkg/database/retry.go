package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/fleetcore/dispatch/pkg/logger"
	"go.uber.org/zap"
)

// serializationRetryBackoff is the exact retry schedule for transaction
// serialization failures and deadlocks: 3 retries, linear 100/200/300ms.
// pkg/resilience's RetryConfig only expresses exponential backoff, so this
// schedule is implemented directly rather than borrowed from there.
var serializationRetryBackoff = []time.Duration{
	100 * time.Millisecond,
	200 * time.Millisecond,
	300 * time.Millisecond,
}

// IsSerializationFailure reports whether err is a Postgres serialization
// failure (40001) or deadlock (40P01) — the only two conditions a
// serializable or row-locked transaction retries on its own. errors.As walks
// through AppError's Unwrap, so this also matches errors already wrapped by
// common.NewInternalError and similar constructors.
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// WithSerializableRetry runs fn, retrying it up to len(serializationRetryBackoff)
// times with linear backoff when it fails with a serialization failure or
// deadlock. fn is expected to open and commit its own transaction on each
// call: Postgres aborts the transaction on 40001/40P01, so a retry has to
// begin a fresh one rather than resume the failed one.
func WithSerializableRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil || !IsSerializationFailure(err) {
			return err
		}
		if attempt >= len(serializationRetryBackoff) {
			return err
		}
		logger.WarnContext(ctx, "retrying transaction after serialization failure",
			zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return err
		case <-time.After(serializationRetryBackoff[attempt]):
		}
	}
}
