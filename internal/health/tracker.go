package health

import (
	"sync"
	"time"

	"llm_relay/internal/classify"
	"llm_relay/internal/logging"
)

// Quarantine windows per failure category.
const (
	CredentialQuarantine = 1 * time.Hour
	ProviderQuarantine   = 10 * time.Minute
	UnknownQuarantine    = 30 * time.Minute
)

// DefaultFailureThreshold is the consecutive-failure count that forces a
// quarantine regardless of error kind.
const DefaultFailureThreshold = 5

// Record is a snapshot of one provider's health state.
type Record struct {
	ConsecutiveFailures int
	QuarantinedUntil    time.Time // zero = not quarantined
	LastErrorKind       classify.Kind
}

type record struct {
	mu sync.Mutex
	Record
}

// Tracker owns the quarantine state machine per provider. A provider is
// either healthy or quarantined until a deadline; a single success heals it
// immediately no matter how much quarantine time remains.
type Tracker struct {
	records   map[string]*record
	threshold int
	logger    *logging.Logger
}

// NewTracker creates a tracker for the given provider names. threshold <= 0
// selects DefaultFailureThreshold.
func NewTracker(providers []string, threshold int) *Tracker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	t := &Tracker{
		records:   make(map[string]*record, len(providers)),
		threshold: threshold,
		logger:    logging.NewLogger("health"),
	}
	for _, name := range providers {
		t.records[name] = &record{}
	}
	return t
}

// RecordFailure applies one classified failure to the provider's state and
// returns the updated snapshot. bad_request failures never quarantine: they
// are the request's fault, not the provider's.
func (t *Tracker) RecordFailure(provider string, kind classify.Kind, now time.Time) Record {
	rec, ok := t.records[provider]
	if !ok {
		return Record{}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.ConsecutiveFailures++
	rec.LastErrorKind = kind

	var window time.Duration
	switch kind {
	case classify.KindRateLimit, classify.KindAuthError, classify.KindQuotaExceeded:
		window = CredentialQuarantine
	case classify.KindServiceUnavailable, classify.KindServerError, classify.KindNetworkError:
		window = ProviderQuarantine
	case classify.KindBadRequest:
		window = 0
	default:
		window = UnknownQuarantine
	}

	// Too many consecutive failures force a quarantine even for kinds that
	// would not otherwise flag, using the unknown recovery window.
	if window == 0 && rec.ConsecutiveFailures >= t.threshold {
		window = UnknownQuarantine
	}

	if window > 0 {
		until := now.Add(window)
		if until.After(rec.QuarantinedUntil) {
			rec.QuarantinedUntil = until
		}
		t.logger.Warn("provider quarantined",
			"provider", provider, "kind", kind, "until", rec.QuarantinedUntil.Format(time.RFC3339))
	}

	return rec.Record
}

// RecordSuccess transitions the provider back to healthy, clearing any
// pending quarantine and the consecutive-failure counter.
func (t *Tracker) RecordSuccess(provider string) {
	rec, ok := t.records[provider]
	if !ok {
		return
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !rec.QuarantinedUntil.IsZero() {
		t.logger.Info("provider recovered", "provider", provider)
	}
	rec.ConsecutiveFailures = 0
	rec.QuarantinedUntil = time.Time{}
	rec.LastErrorKind = ""
}

// Healthy reports whether the provider is not quarantined at the given time.
// Enabled/credential checks live with the engine registry; this only answers
// the quarantine question.
func (t *Tracker) Healthy(provider string, now time.Time) bool {
	rec, ok := t.records[provider]
	if !ok {
		return false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.QuarantinedUntil.IsZero() || !rec.QuarantinedUntil.After(now)
}

// Snapshot returns a copy of the provider's current health record.
func (t *Tracker) Snapshot(provider string) (Record, bool) {
	rec, ok := t.records[provider]
	if !ok {
		return Record{}, false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.Record, true
}
