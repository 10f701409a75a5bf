package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore_WeightsDistanceRatingAcceptance(t *testing.T) {
	// distanceScore=1/(1+1)=0.5, ratingScore=5/5=1, acceptanceScore=100/100=1
	// score = 0.4*0.5 + 0.3*1 + 0.3*1 = 0.2+0.3+0.3 = 0.8
	assert.InDelta(t, 0.8, score(1, 5, 100), 0.0001)
}

func TestScore_CloserDriverScoresHigherAllElseEqual(t *testing.T) {
	near := score(1, 4.5, 90)
	far := score(5, 4.5, 90)
	assert.Greater(t, near, far)
}

func TestRankCandidates_SortsDescendingByScore(t *testing.T) {
	candidates := []Candidate{
		{DriverID: "b", DistanceKm: 5, Rating: 4.0, AcceptanceRate: 80},
		{DriverID: "a", DistanceKm: 0.5, Rating: 5.0, AcceptanceRate: 100},
		{DriverID: "c", DistanceKm: 3, Rating: 4.5, AcceptanceRate: 90},
	}

	ranked := rankCandidates(candidates)
	assert.Equal(t, "a", ranked[0].DriverID)
	assert.GreaterOrEqual(t, ranked[0].Score, ranked[1].Score)
	assert.GreaterOrEqual(t, ranked[1].Score, ranked[2].Score)
}

func TestRankCandidates_DeterministicTieBreakByDriverID(t *testing.T) {
	candidates := []Candidate{
		{DriverID: "zzz", DistanceKm: 1, Rating: 5, AcceptanceRate: 100},
		{DriverID: "aaa", DistanceKm: 1, Rating: 5, AcceptanceRate: 100},
	}

	ranked := rankCandidates(candidates)
	assert.Equal(t, "aaa", ranked[0].DriverID)
	assert.Equal(t, "zzz", ranked[1].DriverID)
}

func TestRankCandidates_DoesNotMutateInput(t *testing.T) {
	candidates := []Candidate{{DriverID: "a", DistanceKm: 1, Rating: 5, AcceptanceRate: 100}}
	_ = rankCandidates(candidates)
	assert.Zero(t, candidates[0].Score)
}

func TestDefaultConfig_MatchesSpecDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5.0, cfg.SearchRadiusKm)
	assert.Equal(t, 20, cfg.MaxCandidates)
}
