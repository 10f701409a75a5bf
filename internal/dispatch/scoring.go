package dispatch

import "sort"

// Candidate is a driver eligible for an offer, carrying everything the
// scoring formula needs.
type Candidate struct {
	DriverID       string
	DistanceKm     float64
	Rating         float64
	AcceptanceRate float64
	Score          float64
}

// score implements the weighted formula: 40% proximity, 30% rating, 30%
// historical acceptance.
func score(distanceKm, rating, acceptanceRate float64) float64 {
	distanceScore := 1 / (1 + distanceKm)
	ratingScore := rating / 5
	acceptanceScore := acceptanceRate / 100
	return 0.4*distanceScore + 0.3*ratingScore + 0.3*acceptanceScore
}

// rankCandidates scores and sorts candidates descending by score. Ties break
// on driver id so ordering is deterministic within a single call.
func rankCandidates(candidates []Candidate) []Candidate {
	ranked := make([]Candidate, len(candidates))
	for i, c := range candidates {
		c.Score = score(c.DistanceKm, c.Rating, c.AcceptanceRate)
		ranked[i] = c
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].DriverID < ranked[j].DriverID
	})
	return ranked
}
