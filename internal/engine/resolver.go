package engine

import (
	"context"
	"strings"
	"time"

	"llm_relay/internal/catalog"
)

// candidate pairs a provider with the concrete vendor model id it will be
// asked to serve.
type candidate struct {
	provider string
	model    string
}

// candidates builds the ordered failover list for one request.
//
// With Autodecide off and an explicit provider, the list is exactly that
// provider or nothing; there is no silent fallback. Otherwise the model
// string is resolved against the discovery cache, preferring exact
// normalized matches over substring matches, and the surviving providers are
// ordered by composite score with the preferred provider pinned first.
func (e *Engine) candidates(ctx context.Context, req Request) []candidate {
	now := e.now()

	if !req.Autodecide && req.PreferredProvider != "" {
		if !e.eligible(req.PreferredProvider, now) {
			return nil
		}
		return []candidate{{provider: req.PreferredProvider, model: e.modelFor(req.PreferredProvider, req.Model)}}
	}

	if req.Model == "" || !req.Autodecide {
		return e.failoverList(req, now)
	}

	normalized := catalog.Normalize(req.Model)
	entries := e.directory.Lookup(ctx, normalized)
	if len(entries) == 0 {
		entries = e.fuzzyMatch(ctx, normalized)
	}

	// First matching entry per provider wins; later entries for the same
	// provider are duplicates from the same catalog.
	modelByProvider := make(map[string]string, len(entries))
	providers := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !e.eligible(entry.Provider, now) {
			continue
		}
		if _, seen := modelByProvider[entry.Provider]; seen {
			continue
		}
		modelByProvider[entry.Provider] = entry.RawID
		providers = append(providers, entry.Provider)
	}

	providers = e.scorer.Rank(providers)
	providers = pinFirst(providers, req.PreferredProvider)

	cands := make([]candidate, 0, len(providers))
	for _, name := range providers {
		cands = append(cands, candidate{provider: name, model: modelByProvider[name]})
	}
	return cands
}

// failoverList returns every eligible provider ordered by score. Used when
// no model was requested, and as the plain failover path when autodecide is
// off without an explicit provider.
func (e *Engine) failoverList(req Request, now time.Time) []candidate {
	eligible := make([]string, 0, len(e.names))
	for _, name := range e.names {
		if e.eligible(name, now) {
			eligible = append(eligible, name)
		}
	}

	ranked := pinFirst(e.scorer.Rank(eligible), req.PreferredProvider)

	cands := make([]candidate, 0, len(ranked))
	for _, name := range ranked {
		cands = append(cands, candidate{provider: name, model: e.modelFor(name, req.Model)})
	}
	return cands
}

// fuzzyMatch returns cached entries whose normalized id contains the
// requested string.
func (e *Engine) fuzzyMatch(ctx context.Context, normalized string) []catalog.Entry {
	var matched []catalog.Entry
	for _, entry := range e.directory.Entries(ctx) {
		if strings.Contains(entry.Normalized, normalized) {
			matched = append(matched, entry)
		}
	}
	return matched
}

// modelFor picks the model id to send to a provider: the caller's explicit
// choice when given, the provider's declared default otherwise.
func (e *Engine) modelFor(provider, requested string) string {
	if requested != "" {
		return requested
	}
	return e.entries[provider].cfg.Model
}

// pinFirst moves the preferred provider to the front when it is present in
// the ranked list.
func pinFirst(providers []string, preferred string) []string {
	if preferred == "" {
		return providers
	}
	for i, name := range providers {
		if name == preferred {
			pinned := make([]string, 0, len(providers))
			pinned = append(pinned, name)
			pinned = append(pinned, providers[:i]...)
			pinned = append(pinned, providers[i+1:]...)
			return pinned
		}
	}
	return providers
}
