// Package ingest implements C5: per-sample driver-metadata resolution and
// geo-index placement, followed by a size/time-triggered batch flush of raw
// telemetry into persistent storage.
package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/fleetcore/dispatch/pkg/models"
)

// Repository is the C5 adapter: the KV fallback for driver metadata, and
// the bulk sink for DriverLocationSample history.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds an ingest repository over the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// DriverMeta is the subset of a driver's row the ingest pipeline needs per
// sample: whether to place it in the geo index, and under which
// partitions.
type DriverMeta struct {
	TenantID     uuid.UUID
	VehicleClass models.VehicleClass
	Status       models.DriverStatus
}

// LoadDriverMeta is the cache-miss fallback of step 1: read straight from
// the driver row.
func (r *Repository) LoadDriverMeta(ctx context.Context, driverID uuid.UUID) (*DriverMeta, error) {
	const q = `SELECT tenant_id, vehicle_class, status FROM drivers WHERE id = $1`
	var m DriverMeta
	if err := r.pool.QueryRow(ctx, q, driverID).Scan(&m.TenantID, &m.VehicleClass, &m.Status); err != nil {
		return nil, err
	}
	return &m, nil
}

// InsertSamples implements step 5's bulk insert: one round trip per flush
// via pgx's batch pipeline, regardless of batch size.
func (r *Repository) InsertSamples(ctx context.Context, samples []models.DriverLocationSample) error {
	if len(samples) == 0 {
		return nil
	}
	const q = `INSERT INTO driver_location_samples
		(id, driver_id, lat, lng, heading, speed, accuracy, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	batch := &pgx.Batch{}
	for _, s := range samples {
		batch.Queue(q, s.ID, s.DriverID, s.Lat, s.Lng, s.Heading, s.Speed, s.Accuracy, s.RecordedAt)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range samples {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// UpdateDriverCurrentPosition writes through the driver row's own last-known
// position, used so a driver who reconnects cold still shows a recent fix
// for C8's end-of-trip geo-index rejoin.
func (r *Repository) UpdateDriverCurrentPosition(ctx context.Context, driverID uuid.UUID, lat, lng float64, recordedAt time.Time) error {
	const q = `UPDATE drivers SET current_lat = $2, current_lng = $3, last_located_at = $4, updated_at = now() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, driverID, lat, lng, recordedAt)
	return err
}
