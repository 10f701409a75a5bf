package payments

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	mathrand "math/rand"
	"time"

	"github.com/fleetcore/dispatch/pkg/models"
)

// pspOutcome is what a (simulated) PSP call returns: a reference and the
// terminal status it settled on, or an error code on decline.
type pspOutcome struct {
	Ref       *string
	Status    models.PaymentStatus
	ErrorCode *string
}

func ref(s string) *string { return &s }

// cardDeclineRate is the Bernoulli failure probability for §4.6's mock card
// PSP: 95% success.
const cardDeclineRate = 0.05

// simulateCash settles immediately, per §4.6: "cash: immediate completed,
// ref=CASH-<unix-ms>".
func simulateCash(now time.Time) pspOutcome {
	return pspOutcome{
		Ref:    ref(fmt.Sprintf("CASH-%d", now.UnixMilli())),
		Status: models.PaymentStatusCompleted,
	}
}

// simulateWallet settles immediately after a short simulated debit, always
// completed: "wallet: sleep 30-100ms; always completed; ref=WALLET-<unix-ms>".
func simulateWallet(now time.Time) pspOutcome {
	return pspOutcome{
		Ref:    ref(fmt.Sprintf("WALLET-%d", now.UnixMilli())),
		Status: models.PaymentStatusCompleted,
	}
}

// simulateCard settles per a Bernoulli(0.95) draw from rng: "card: sleep
// 50-150ms; Bernoulli(0.95) success with ref=CARD-<8 hex>; else
// status=failed, err_code=CARD_DECLINED."
func simulateCard(rng *mathrand.Rand) pspOutcome {
	if rng.Float64() < cardDeclineRate {
		return pspOutcome{Status: models.PaymentStatusFailed, ErrorCode: ref("CARD_DECLINED")}
	}
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return pspOutcome{
		Ref:    ref(fmt.Sprintf("CARD-%s", hex.EncodeToString(buf))),
		Status: models.PaymentStatusCompleted,
	}
}

// sleepJittered blocks ctx-cancellably for a random duration in [min, max),
// the mock PSP's simulated network latency.
func sleepJittered(ctx context.Context, rng *mathrand.Rand, min, max time.Duration) {
	d := min + time.Duration(rng.Int63n(int64(max-min)))
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// chargePSP dispatches to the method-specific mock PSP behaviour described
// in §4.6 step 3d, behind the service's circuit breaker.
func (s *Service) chargePSP(ctx context.Context, method models.PaymentMethod) pspOutcome {
	rng := s.pspRand()
	now := time.Now().UTC()

	switch method {
	case models.PaymentMethodCash:
		return simulateCash(now)
	case models.PaymentMethodWallet:
		sleepJittered(ctx, rng, 30*time.Millisecond, 100*time.Millisecond)
		return simulateWallet(time.Now().UTC())
	default: // card
		// A decline is a normal business outcome of the mock PSP, not a
		// transport failure, so it never trips the breaker open; the
		// breaker guards against the PSP call hanging or erroring outright.
		result, err := s.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
			sleepJittered(ctx, rng, 50*time.Millisecond, 150*time.Millisecond)
			return simulateCard(rng), nil
		})
		if err != nil {
			return pspOutcome{Status: models.PaymentStatusFailed, ErrorCode: ref("CARD_DECLINED")}
		}
		return result.(pspOutcome)
	}
}
