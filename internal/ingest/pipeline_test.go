package ingest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestLatestPerDriver_KeepsOnlyTheNewestSamplePerDriver(t *testing.T) {
	driverA := uuid.New()
	driverB := uuid.New()
	t0 := time.Now()

	batch := []Sample{
		{DriverID: driverA, Lat: 1, Timestamp: t0},
		{DriverID: driverA, Lat: 2, Timestamp: t0.Add(time.Second)},
		{DriverID: driverB, Lat: 3, Timestamp: t0},
	}

	latest := latestPerDriver(batch)

	assert.Len(t, latest, 2)
	assert.Equal(t, 2.0, latest[driverA].Lat)
	assert.Equal(t, 3.0, latest[driverB].Lat)
}

func TestLatestPerDriver_EmptyBatchYieldsEmptyMap(t *testing.T) {
	assert.Empty(t, latestPerDriver(nil))
}
