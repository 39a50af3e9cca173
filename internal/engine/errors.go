package engine

import "errors"

var (
	// ErrProviderNotFound is returned by operator actions targeting a
	// provider the engine was not configured with.
	ErrProviderNotFound = errors.New("provider not found")

	// ErrNoEligibleProvider is surfaced when candidate selection yields
	// nothing, before any vendor call is attempted.
	ErrNoEligibleProvider = errors.New("no eligible provider")

	// ErrAllCandidatesExhausted marks a request for which every candidate
	// was attempted and failed.
	ErrAllCandidatesExhausted = errors.New("all candidates exhausted")
)

// Engine-level error kinds reported in RequestResult, distinct from the
// vendor failure kinds produced by the classifier.
const (
	kindNoEligibleProvider = "no_eligible_provider"
)
