package payments

import (
	mathrand "math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/fleetcore/dispatch/pkg/models"
)

func TestSimulateCash_CompletesImmediatelyWithUnixMsRef(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	outcome := simulateCash(now)
	assert.Equal(t, models.PaymentStatusCompleted, outcome.Status)
	assert.Equal(t, "CASH-1700000000123", *outcome.Ref)
}

func TestSimulateWallet_AlwaysCompletesWithUnixMsRef(t *testing.T) {
	now := time.UnixMilli(1700000000456)
	outcome := simulateWallet(now)
	assert.Equal(t, models.PaymentStatusCompleted, outcome.Status)
	assert.True(t, strings.HasPrefix(*outcome.Ref, "WALLET-"))
}

func TestSimulateCard_SuccessRefHasEightHexChars(t *testing.T) {
	rng := mathrand.New(mathrand.NewSource(1))
	for i := 0; i < 50; i++ {
		outcome := simulateCard(rng)
		if outcome.Status == models.PaymentStatusCompleted {
			assert.True(t, strings.HasPrefix(*outcome.Ref, "CARD-"))
			assert.Len(t, strings.TrimPrefix(*outcome.Ref, "CARD-"), 8)
			return
		}
	}
	t.Fatal("expected at least one success in 50 draws at a 5% decline rate")
}

func TestSimulateCard_DeclineSetsErrorCodeAndNoRef(t *testing.T) {
	rng := mathrand.New(mathrand.NewSource(1))
	for i := 0; i < 200; i++ {
		outcome := simulateCard(rng)
		if outcome.Status == models.PaymentStatusFailed {
			assert.Nil(t, outcome.Ref)
			assert.Equal(t, "CARD_DECLINED", *outcome.ErrorCode)
			return
		}
	}
	t.Fatal("expected at least one decline in 200 draws at a 5% decline rate")
}

func TestSimulateCard_DeclineRateIsApproximatelyFivePercent(t *testing.T) {
	rng := mathrand.New(mathrand.NewSource(42))
	declines := 0
	const trials = 20000
	for i := 0; i < trials; i++ {
		if simulateCard(rng).Status == models.PaymentStatusFailed {
			declines++
		}
	}
	rate := float64(declines) / float64(trials)
	assert.InDelta(t, cardDeclineRate, rate, 0.01)
}
