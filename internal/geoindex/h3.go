package geoindex

import (
	"github.com/uber/h3-go/v4"
)

// MatchingResolution is the H3 resolution used to tag driver positions for
// the dispatch candidate-search fallback (~175m edge). Redis GEO remains the
// authoritative index for nearby(); this is a secondary lookup only.
const MatchingResolution = 9

// cellForPoint returns the H3 cell (as its hex string) containing lat/lng at
// MatchingResolution. Returns "" on invalid input rather than panicking,
// since driver telemetry is untrusted input.
func cellForPoint(lat, lng float64) string {
	cell, err := h3.LatLngToCell(h3.NewLatLng(lat, lng), MatchingResolution)
	if err != nil {
		return ""
	}
	return cell.String()
}

// neighbourCells returns the cell and its k=1 ring, used by DriversNearCell
// to find drivers near a location rather than at an exact cell.
func neighbourCells(lat, lng float64) []string {
	origin, err := h3.LatLngToCell(h3.NewLatLng(lat, lng), MatchingResolution)
	if err != nil {
		return nil
	}
	ring, err := origin.GridDisk(1)
	if err != nil {
		return []string{origin.String()}
	}
	cells := make([]string, len(ring))
	for i, c := range ring {
		cells[i] = c.String()
	}
	return cells
}
