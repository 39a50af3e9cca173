package catalog

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"llm_relay/internal/logging"
	"llm_relay/internal/models"
)

// Defaults for discovery and caching.
const (
	DefaultTTL             = 1800 * time.Second
	DefaultProviderTimeout = 30 * time.Second
	DefaultRefreshTimeout  = 2 * time.Minute
	DefaultMaxInFlight     = 8
)

// Entry is one discovered model offered by one provider.
type Entry struct {
	Normalized   string    `json:"normalized"`
	Provider     string    `json:"provider"`
	RawID        string    `json:"raw_id"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Lister queries one provider's model-listing endpoint. The HTTP transport
// implements it; tests substitute fakes.
type Lister interface {
	ListModels(ctx context.Context, provider models.ProviderConfig, credential string) ([]string, error)
}

// CredentialSource supplies the credential to use for a discovery query.
type CredentialSource interface {
	Current(provider string) (string, error)
}

// Config tunes discovery behavior. Zero values select the defaults.
type Config struct {
	TTL             time.Duration
	ProviderTimeout time.Duration
	RefreshTimeout  time.Duration
	MaxInFlight     int
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = DefaultProviderTimeout
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = DefaultRefreshTimeout
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = DefaultMaxInFlight
	}
	return c
}

// snapshot is an immutable discovery result. Lookups read whichever
// snapshot is current; refresh builds a new one and swaps it in atomically.
type snapshot struct {
	cachedAt   time.Time
	byModel    map[string][]Entry
	byProvider map[string][]Entry
	entries    []Entry
}

// Directory discovers every enabled provider's model catalog concurrently
// and caches the merged result with a TTL. One requested model may map to
// entries from several providers.
type Directory struct {
	providers func() []models.ProviderConfig
	lister    Lister
	creds     CredentialSource
	cfg       Config
	logger    *logging.Logger

	cache     atomic.Value // *snapshot
	refreshMu sync.Mutex
}

// NewDirectory creates a directory. providers must return the currently
// enabled provider configs; it is called once per refresh cycle.
func NewDirectory(providers func() []models.ProviderConfig, lister Lister, creds CredentialSource, cfg Config) *Directory {
	d := &Directory{
		providers: providers,
		lister:    lister,
		creds:     creds,
		cfg:       cfg.withDefaults(),
		logger:    logging.NewLogger("catalog"),
	}
	d.cache.Store(&snapshot{byModel: map[string][]Entry{}, byProvider: map[string][]Entry{}})
	return d
}

// Normalize canonicalizes a model name for comparison: lowercase with
// dashes, underscores and spaces stripped. Idempotent.
func Normalize(model string) string {
	model = strings.ToLower(model)
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', '_', ' ':
			return -1
		}
		return r
	}, model)
}

// Refresh re-discovers all enabled providers and atomically replaces the
// cache. Discovery fans out with a bounded number of in-flight queries, each
// capped by the per-provider timeout; a provider that fails or times out
// contributes zero models, and the refresh as a whole never fails.
func (d *Directory) Refresh(ctx context.Context) {
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, d.cfg.RefreshTimeout)
	defer cancel()

	providers := d.providers()
	now := time.Now()

	type result struct {
		provider models.ProviderConfig
		ids      []string
	}

	results := make(chan result, len(providers))
	sem := make(chan struct{}, d.cfg.MaxInFlight)
	var wg sync.WaitGroup

	for _, p := range providers {
		wg.Add(1)
		go func(p models.ProviderConfig) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			results <- result{provider: p, ids: d.discover(ctx, p)}
		}(p)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	next := &snapshot{
		cachedAt:   now,
		byModel:    make(map[string][]Entry),
		byProvider: make(map[string][]Entry),
	}
	for res := range results {
		for _, raw := range res.ids {
			entry := Entry{
				Normalized:   Normalize(trimProviderPrefix(raw)),
				Provider:     res.provider.Name,
				RawID:        trimProviderPrefix(raw),
				DiscoveredAt: now,
			}
			if entry.Normalized == "" {
				continue
			}
			next.byModel[entry.Normalized] = append(next.byModel[entry.Normalized], entry)
			next.byProvider[entry.Provider] = append(next.byProvider[entry.Provider], entry)
			next.entries = append(next.entries, entry)
		}
	}

	// A canceled caller must not replace a populated catalog with the empty
	// snapshot its aborted queries produced.
	if parent.Err() != nil {
		d.logger.Warn("model discovery aborted, keeping previous catalog", "error", parent.Err())
		return
	}

	d.cache.Store(next)
	d.logger.Info("model discovery completed",
		"providers", len(providers), "models", len(next.entries))
}

// discover lists one provider's models, falling back to the declared default
// model when the provider has no listing endpoint.
func (d *Directory) discover(ctx context.Context, p models.ProviderConfig) []string {
	if p.ModelsEndpoint == "" {
		if p.Model == "" {
			return nil
		}
		return []string{p.Model}
	}

	credential := ""
	if p.RequiresCredential() {
		cred, err := d.creds.Current(p.Name)
		if err != nil {
			d.logger.Warn("skipping discovery, no credential", "provider", p.Name)
			return nil
		}
		credential = cred
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.ProviderTimeout)
	defer cancel()

	ids, err := d.lister.ListModels(ctx, p, credential)
	if err != nil {
		d.logger.Warn("model discovery failed", "provider", p.Name, "error", err)
		return nil
	}
	return ids
}

// trimProviderPrefix strips a "vendor/" style prefix some catalogs report.
func trimProviderPrefix(raw string) string {
	if i := strings.Index(raw, "/"); i >= 0 {
		return raw[i+1:]
	}
	return raw
}

// Lookup returns all cached entries for a normalized model id. A lookup on
// an expired cache triggers exactly one synchronous refresh first, so
// staleness is bounded by the TTL.
func (d *Directory) Lookup(ctx context.Context, normalized string) []Entry {
	d.ensureFresh(ctx)
	snap := d.cache.Load().(*snapshot)
	return snap.byModel[normalized]
}

// Entries returns every cached entry.
func (d *Directory) Entries(ctx context.Context) []Entry {
	d.ensureFresh(ctx)
	snap := d.cache.Load().(*snapshot)
	return snap.entries
}

// ForProvider returns the cached entries owned by one provider.
func (d *Directory) ForProvider(ctx context.Context, provider string) []Entry {
	d.ensureFresh(ctx)
	snap := d.cache.Load().(*snapshot)
	return snap.byProvider[provider]
}

// Age returns how old the current cache is.
func (d *Directory) Age() time.Duration {
	snap := d.cache.Load().(*snapshot)
	if snap.cachedAt.IsZero() {
		return time.Duration(1<<62 - 1)
	}
	return time.Since(snap.cachedAt)
}

// ensureFresh refreshes synchronously when the cache is past its TTL.
// Concurrent expired lookups serialize on the refresh lock and only the
// first one actually refreshes. The refresh runs detached from the caller's
// context: the catalog is shared state and one canceled lookup must not
// abort discovery for everyone else.
func (d *Directory) ensureFresh(ctx context.Context) {
	if d.Age() <= d.cfg.TTL {
		return
	}

	d.refreshMu.Lock()
	defer d.refreshMu.Unlock()

	if d.Age() <= d.cfg.TTL {
		return
	}
	d.Refresh(context.WithoutCancel(ctx))
}
