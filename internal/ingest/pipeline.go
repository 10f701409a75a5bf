package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/fleetcore/dispatch/internal/geoindex"
	"github.com/fleetcore/dispatch/pkg/cache"
	"github.com/fleetcore/dispatch/pkg/eventbus"
	"github.com/fleetcore/dispatch/pkg/logger"
	"github.com/fleetcore/dispatch/pkg/models"
	"go.uber.org/zap"
)

// FlushInterval and MaxBatchSize are §4.4 step 5's flush triggers: every
// 1s, or once the batch reaches 100 entries.
const (
	FlushInterval = 1 * time.Second
	MaxBatchSize  = 100
	driverMetaTTL = 5 * time.Minute
)

func driverMetaCacheKey(driverID uuid.UUID) string {
	return "driver:meta:" + driverID.String()
}

// Sample is one incoming telemetry point: (driverId, lat, lng, heading?,
// speed?, accuracy?).
type Sample struct {
	DriverID  uuid.UUID
	Lat       float64
	Lng       float64
	Heading   *float64
	Speed     *float64
	Accuracy  *float64
	Timestamp time.Time
	// Arrived is set by C11's motion simulator on the tick that brings a
	// driver within the arrival radius of its pickup/dropoff target; real
	// device telemetry never sets it.
	Arrived bool
}

// Pipeline is the C5 location-ingest pipeline: per-sample geo placement,
// best-effort event publication, and a batched, deduplicated-by-driver
// flush into persistent history.
type Pipeline struct {
	repo  *Repository
	cache *cache.Manager
	geo   *geoindex.Index
	bus   *eventbus.Bus

	mu      sync.Mutex
	buffer  []Sample
	stopCh  chan struct{}
	stopped bool
}

// NewPipeline builds and starts the C5 batching pipeline.
func NewPipeline(repo *Repository, cacheMgr *cache.Manager, geo *geoindex.Index, bus *eventbus.Bus) *Pipeline {
	p := &Pipeline{
		repo:   repo,
		cache:  cacheMgr,
		geo:    geo,
		bus:    bus,
		buffer: make([]Sample, 0, MaxBatchSize),
		stopCh: make(chan struct{}),
	}
	go p.flushLoop()
	return p
}

// Ingest implements §4.4 steps 1-4 for a single incoming sample. Step 5
// (the flush) happens on the pipeline's own clock, not inline.
func (p *Pipeline) Ingest(ctx context.Context, tenant string, sample Sample) error {
	meta, err := p.resolveDriverMeta(ctx, sample.DriverID)
	if err != nil {
		return err
	}

	if meta.Status == models.DriverStatusOnline {
		if err := p.geo.AddDriver(ctx, meta.VehicleClass, sample.DriverID, sample.Lng, sample.Lat); err != nil {
			logger.WarnContext(ctx, "failed to place driver in geo index", zap.Error(err))
		}
	}

	p.enqueue(sample)

	envelope := eventbus.LocationUpdateEnvelope{
		DriverID:     sample.DriverID.String(),
		Tenant:       tenant,
		Lat:          sample.Lat,
		Lng:          sample.Lng,
		Heading:      sample.Heading,
		Speed:        sample.Speed,
		VehicleClass: string(meta.VehicleClass),
		Status:       string(meta.Status),
		Timestamp:    sample.Timestamp,
		Arrived:      sample.Arrived,
	}
	if err := p.bus.PublishLocationUpdate(ctx, tenant, envelope); err != nil {
		logger.WarnContext(ctx, "failed to publish location update", zap.Error(err))
	}

	return nil
}

// resolveDriverMeta implements step 1: C2 cache lookup, falling back to the
// KV store (here, the driver row) on miss, re-populating the cache.
func (p *Pipeline) resolveDriverMeta(ctx context.Context, driverID uuid.UUID) (*DriverMeta, error) {
	var meta DriverMeta
	if err := p.cache.Get(ctx, driverMetaCacheKey(driverID), &meta); err == nil {
		return &meta, nil
	}

	loaded, err := p.repo.LoadDriverMeta(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if err := p.cache.Set(ctx, driverMetaCacheKey(driverID), loaded, driverMetaTTL); err != nil {
		logger.WarnContext(ctx, "failed to cache driver metadata", zap.Error(err))
	}
	return loaded, nil
}

func (p *Pipeline) enqueue(sample Sample) {
	p.mu.Lock()
	p.buffer = append(p.buffer, sample)
	shouldFlush := len(p.buffer) >= MaxBatchSize
	p.mu.Unlock()

	if shouldFlush {
		go p.flush()
	}
}

func (p *Pipeline) flushLoop() {
	ticker := time.NewTicker(FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.flush()
		case <-p.stopCh:
			return
		}
	}
}

// flush deduplicates the buffer to the latest sample per driver before the
// bulk insert, mirroring the rationale that only the latest position per
// driver matters for history replay.
func (p *Pipeline) flush() {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return
	}
	batch := p.buffer
	p.buffer = make([]Sample, 0, MaxBatchSize)
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	latest := latestPerDriver(batch)

	samples := make([]models.DriverLocationSample, 0, len(latest))
	for _, s := range latest {
		samples = append(samples, models.DriverLocationSample{
			ID:         uuid.New(),
			DriverID:   s.DriverID,
			Lat:        s.Lat,
			Lng:        s.Lng,
			Heading:    s.Heading,
			Speed:      s.Speed,
			Accuracy:   s.Accuracy,
			RecordedAt: s.Timestamp,
		})
		if err := p.repo.UpdateDriverCurrentPosition(ctx, s.DriverID, s.Lat, s.Lng, s.Timestamp); err != nil {
			logger.WarnContext(ctx, "failed to write through driver current position", zap.Error(err))
		}
	}

	if err := p.repo.InsertSamples(ctx, samples); err != nil {
		logger.WarnContext(ctx, "failed to bulk-insert location samples", zap.Error(err))
	}

	logger.Debug("location ingest flushed",
		zap.Int("batch_size", len(batch)),
		zap.Int("unique_drivers", len(samples)),
	)
}

// latestPerDriver collapses a batch to at most one sample per driver: the
// one with the latest timestamp, since only a driver's current position
// matters once the batch is flushed.
func latestPerDriver(batch []Sample) map[uuid.UUID]Sample {
	latest := make(map[uuid.UUID]Sample, len(batch))
	for _, s := range batch {
		if existing, ok := latest[s.DriverID]; !ok || s.Timestamp.After(existing.Timestamp) {
			latest[s.DriverID] = s
		}
	}
	return latest
}

// Stop halts the flush loop and flushes whatever remains synchronously, per
// §4.4's "on shutdown, flush synchronously."
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()
	close(p.stopCh)
	p.flush()
}
