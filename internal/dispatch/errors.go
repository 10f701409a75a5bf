package dispatch

import "errors"

// Sentinel errors the repository wraps so the service layer can classify a
// failure without parsing SQLSTATEs of its own.
var (
	errRowLocked = errors.New("row locked by another session")
	errNoRows    = errors.New("no matching row")
)
