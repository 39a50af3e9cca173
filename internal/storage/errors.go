package storage

import "errors"

var (
	// ErrNoStats is returned when a provider has no persisted performance
	// events yet.
	ErrNoStats = errors.New("no recorded statistics for provider")
)
