package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"llm_relay/internal/catalog"
	"llm_relay/internal/classify"
	"llm_relay/internal/credentials"
	"llm_relay/internal/health"
	"llm_relay/internal/logging"
	"llm_relay/internal/models"
	"llm_relay/internal/scoring"
	"llm_relay/internal/transport"
)

// Config carries the engine tunables. Zero values select the defaults of the
// respective subsystem.
type Config struct {
	FailureThreshold int
	RerankInterval   time.Duration
	Catalog          catalog.Config
	EventSink        scoring.EventSink
}

// Request describes one top-level completion call. PreferredProvider is the
// exact provider to use when Autodecide is false, and a soft preference
// pinned to the front of the candidate list when Autodecide is true.
type Request struct {
	Messages          []models.Message
	Model             string
	PreferredProvider string
	Autodecide        bool
}

type providerEntry struct {
	cfg     models.ProviderConfig
	enabled atomic.Bool
}

// Engine routes completion requests across the configured providers with
// credential rotation, quarantine-based failover and score-ordered candidate
// selection. All state is in-process and safe for concurrent use.
type Engine struct {
	entries   map[string]*providerEntry
	names     []string // declared order
	rotator   *credentials.Rotator
	health    *health.Tracker
	scorer    *scoring.Scorer
	directory *catalog.Directory
	transport transport.Transport
	logger    *logging.Logger
	now       func() time.Time
}

// New builds an engine from the loaded provider configs. Configs are
// validated for basic contract violations; those are fatal to construction,
// unlike vendor failures which are absorbed at request time.
func New(configs []models.ProviderConfig, tr transport.Transport, cfg Config) (*Engine, error) {
	if tr == nil {
		return nil, fmt.Errorf("transport is required")
	}

	e := &Engine{
		entries:   make(map[string]*providerEntry, len(configs)),
		names:     make([]string, 0, len(configs)),
		transport: tr,
		logger:    logging.NewLogger("engine"),
		now:       time.Now,
	}
	for _, c := range configs {
		if c.Name == "" {
			return nil, fmt.Errorf("provider config with empty name")
		}
		if _, dup := e.entries[c.Name]; dup {
			return nil, fmt.Errorf("duplicate provider %q", c.Name)
		}
		if len(c.APIKeys) > models.MaxCredentials {
			return nil, fmt.Errorf("provider %q declares %d credentials, max is %d", c.Name, len(c.APIKeys), models.MaxCredentials)
		}
		entry := &providerEntry{cfg: c}
		entry.enabled.Store(c.Enabled)
		e.entries[c.Name] = entry
		e.names = append(e.names, c.Name)
	}

	e.rotator = credentials.NewRotator(configs)
	e.health = health.NewTracker(e.names, cfg.FailureThreshold)
	e.scorer = scoring.NewScorer(configs, cfg.RerankInterval, cfg.EventSink)
	e.directory = catalog.NewDirectory(e.enabledConfigs, tr, e.rotator, cfg.Catalog)
	return e, nil
}

func (e *Engine) enabledConfigs() []models.ProviderConfig {
	configs := make([]models.ProviderConfig, 0, len(e.names))
	for _, name := range e.names {
		if entry := e.entries[name]; entry.enabled.Load() {
			configs = append(configs, entry.cfg)
		}
	}
	return configs
}

// eligible reports whether the provider may serve a request right now:
// enabled, not quarantined, and holding a credential if it needs one.
func (e *Engine) eligible(name string, now time.Time) bool {
	entry, ok := e.entries[name]
	if !ok || !entry.enabled.Load() {
		return false
	}
	if !e.health.Healthy(name, now) {
		return false
	}
	if entry.cfg.RequiresCredential() && !e.rotator.HasValid(name) {
		return false
	}
	return true
}

// Execute runs the candidate failover loop for one request. It never returns
// an error: every outcome, including "nothing to try", is a RequestResult.
func (e *Engine) Execute(ctx context.Context, req Request) models.RequestResult {
	start := e.now()
	result := models.RequestResult{RequestID: uuid.New()}

	cands := e.candidates(ctx, req)
	if len(cands) == 0 {
		result.ErrorKind = kindNoEligibleProvider
		result.ErrorMessage = ErrNoEligibleProvider.Error()
		result.Elapsed = time.Since(start)
		e.logger.Warn("request rejected, no eligible provider",
			"request_id", result.RequestID, "model", req.Model)
		return result
	}

	attempts := 0
	var lastKind classify.Kind
	var lastMessage string
	var lastStatus int

	for _, cand := range cands {
		entry := e.entries[cand.provider]

		credential := ""
		if entry.cfg.RequiresCredential() {
			cred, err := e.rotator.Current(cand.provider)
			if err != nil {
				continue
			}
			credential = cred
		}

		// At most two attempts per candidate: the original credential and
		// one rotation that actually produced a different credential.
		for attempt := 0; attempt < 2; attempt++ {
			attempts++
			res, err := e.transport.Call(ctx, entry.cfg, credential, cand.model, req.Messages)

			if err == nil && res.OK() {
				e.scorer.Record(ctx, cand.provider, true, res.Latency)
				e.health.RecordSuccess(cand.provider)
				result.Success = true
				result.Content = res.Content
				result.StatusCode = res.StatusCode
				result.Provider = cand.provider
				result.Model = cand.model
				result.Attempts = attempts
				result.Elapsed = time.Since(start)
				e.logger.Info("request served",
					"request_id", result.RequestID, "provider", cand.provider,
					"model", cand.model, "attempts", attempts, "latency", res.Latency)
				return result
			}

			var kind classify.Kind
			if err != nil {
				kind = classify.Classify(err.Error(), 0, nil)
				lastMessage = err.Error()
				lastStatus = 0
			} else {
				kind = classify.Classify(res.ErrorText, res.StatusCode, res.Body)
				lastMessage = res.ErrorText
				lastStatus = res.StatusCode
			}
			lastKind = kind

			e.scorer.Record(ctx, cand.provider, false, 0)
			e.health.RecordFailure(cand.provider, kind, e.now())
			e.logger.Warn("provider call failed",
				"request_id", result.RequestID, "provider", cand.provider,
				"kind", kind, "status", lastStatus)

			if ctx.Err() != nil {
				break
			}
			if kind == classify.KindBadRequest {
				break
			}
			if attempt == 0 && kind.RotatesCredential() && entry.cfg.RequiresCredential() {
				next, rerr := e.rotator.Rotate(cand.provider)
				if rerr == nil && next != credential {
					e.logger.Info("credential rotated",
						"provider", cand.provider, "credential", credentials.Fingerprint(next))
					credential = next
					continue
				}
			}
			break
		}

		if ctx.Err() != nil {
			break
		}
	}

	if lastMessage == "" {
		lastMessage = ErrAllCandidatesExhausted.Error()
	}
	result.ErrorKind = string(lastKind)
	result.ErrorMessage = lastMessage
	result.StatusCode = lastStatus
	result.Attempts = attempts
	result.Elapsed = time.Since(start)
	e.logger.Warn("request failed, candidates exhausted",
		"request_id", result.RequestID, "attempts", attempts, "kind", lastKind)
	return result
}

// TestProvider sends a single message to exactly one provider, bypassing
// candidate selection but not eligibility.
func (e *Engine) TestProvider(ctx context.Context, provider, message string) models.RequestResult {
	return e.Execute(ctx, Request{
		Messages:          []models.Message{{Role: "user", Content: message}},
		PreferredProvider: provider,
	})
}

// stressPassRate is the success percentage a provider must reach for a
// stress run to count as passed.
const stressPassRate = 75.0

// StressResult summarizes repeated test calls against one provider.
type StressResult struct {
	Provider    string        `json:"provider"`
	Total       int           `json:"total"`
	Successes   int           `json:"successes"`
	Failures    int           `json:"failures"`
	SuccessRate float64       `json:"success_rate"`
	AvgLatency  time.Duration `json:"avg_latency"`
	MinLatency  time.Duration `json:"min_latency"`
	MaxLatency  time.Duration `json:"max_latency"`
	Passed      bool          `json:"passed"`
	LastError   string        `json:"last_error,omitempty"`
}

// StressTest sends the message to every configured provider a fixed number
// of times and summarizes the outcomes. It drives the same path as
// TestProvider, so failures rotate credentials and update health state; the
// resulting scores feed the ranking on later requests.
func (e *Engine) StressTest(ctx context.Context, iterations int, message string) map[string]StressResult {
	if iterations <= 0 {
		iterations = 3
	}

	out := make(map[string]StressResult, len(e.names))
	for _, name := range e.names {
		sr := StressResult{Provider: name, Total: iterations}
		var total time.Duration

		for i := 0; i < iterations; i++ {
			if ctx.Err() != nil {
				break
			}
			res := e.TestProvider(ctx, name, message)
			if !res.Success {
				sr.Failures++
				sr.LastError = res.ErrorMessage
				continue
			}
			sr.Successes++
			total += res.Elapsed
			if sr.MinLatency == 0 || res.Elapsed < sr.MinLatency {
				sr.MinLatency = res.Elapsed
			}
			if res.Elapsed > sr.MaxLatency {
				sr.MaxLatency = res.Elapsed
			}
		}

		if sr.Successes > 0 {
			sr.AvgLatency = total / time.Duration(sr.Successes)
		}
		sr.SuccessRate = float64(sr.Successes) / float64(iterations) * 100
		sr.Passed = sr.SuccessRate >= stressPassRate
		out[name] = sr
	}
	return out
}

// ProviderStatus is the operator-facing view of one provider.
type ProviderStatus struct {
	Enabled             bool          `json:"enabled"`
	Eligible            bool          `json:"eligible"`
	QuarantinedUntil    time.Time     `json:"quarantined_until,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastErrorKind       string        `json:"last_error_kind,omitempty"`
	Score               float64       `json:"score"`
	Scored              bool          `json:"scored"`
	Requests            int64         `json:"requests"`
	Successes           int64         `json:"successes"`
	AvgLatency          time.Duration `json:"avg_latency"`
	CredentialCount     int           `json:"credential_count"`
	CredentialCursor    int           `json:"credential_cursor"`
}

// Status reports the live state of every configured provider.
func (e *Engine) Status() map[string]ProviderStatus {
	now := e.now()
	out := make(map[string]ProviderStatus, len(e.names))
	for _, name := range e.names {
		entry := e.entries[name]
		st := ProviderStatus{
			Enabled:          entry.enabled.Load(),
			Eligible:         e.eligible(name, now),
			CredentialCount:  e.rotator.KeyCount(name),
			CredentialCursor: e.rotator.Cursor(name),
		}
		if rec, ok := e.health.Snapshot(name); ok {
			if rec.QuarantinedUntil.After(now) {
				st.QuarantinedUntil = rec.QuarantinedUntil
			}
			st.ConsecutiveFailures = rec.ConsecutiveFailures
			st.LastErrorKind = string(rec.LastErrorKind)
		}
		if snap, ok := e.scorer.Snapshot(name); ok {
			st.Score = snap.Score
			st.Scored = snap.Scored
			st.Requests = snap.Requests
			st.Successes = snap.Successes
			st.AvgLatency = snap.AvgLatency
		}
		out[name] = st
	}
	return out
}

// ListModels returns every cached model entry, refreshing an expired cache.
func (e *Engine) ListModels(ctx context.Context) []catalog.Entry {
	return e.directory.Entries(ctx)
}

// ModelsForProvider returns the cached entries owned by one provider.
func (e *Engine) ModelsForProvider(ctx context.Context, provider string) ([]catalog.Entry, error) {
	if _, ok := e.entries[provider]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, provider)
	}
	return e.directory.ForProvider(ctx, provider), nil
}

// RefreshModels forces a full model re-discovery.
func (e *Engine) RefreshModels(ctx context.Context) {
	e.directory.Refresh(ctx)
}

// Enable marks the provider live again.
func (e *Engine) Enable(provider string) error {
	return e.setEnabled(provider, true)
}

// Disable removes the provider from every future candidate list. In-flight
// requests already holding it as a candidate are not interrupted.
func (e *Engine) Disable(provider string) error {
	return e.setEnabled(provider, false)
}

func (e *Engine) setEnabled(provider string, enabled bool) error {
	entry, ok := e.entries[provider]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, provider)
	}
	entry.enabled.Store(enabled)
	e.logger.Info("provider toggled", "provider", provider, "enabled", enabled)
	return nil
}

// ForceRotateCredential advances the provider's credential cursor and returns
// a loggable fingerprint of the credential now in use.
func (e *Engine) ForceRotateCredential(provider string) (string, error) {
	if _, ok := e.entries[provider]; !ok {
		return "", fmt.Errorf("%w: %s", ErrProviderNotFound, provider)
	}
	cred, err := e.rotator.Rotate(provider)
	if err != nil {
		return "", err
	}
	fp := credentials.Fingerprint(cred)
	e.logger.Info("credential rotated by operator", "provider", provider, "credential", fp)
	return fp, nil
}

// Providers returns the configured providers in declared order.
func (e *Engine) Providers() []models.ProviderConfig {
	configs := make([]models.ProviderConfig, 0, len(e.names))
	for _, name := range e.names {
		configs = append(configs, e.entries[name].cfg)
	}
	return configs
}
