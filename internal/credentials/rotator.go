package credentials

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"

	"llm_relay/internal/models"
)

// ErrNoCredential is returned when a provider has no usable credential.
var ErrNoCredential = errors.New("no credential available")

// ErrUnknownProvider is returned for providers the rotator was not
// initialized with.
var ErrUnknownProvider = errors.New("unknown provider")

// providerKeys holds the live rotation state for one provider. Each entry
// has its own lock so concurrent requests against different providers never
// contend.
type providerKeys struct {
	mu     sync.Mutex
	keys   []string // valid (non-empty) credentials, declared order
	cursor int
}

// Rotator owns the ordered credential list and rotation cursor per provider.
// Rotation is only ever triggered by the dispatcher for credential-level
// failures, or by an operator through ForceRotate.
type Rotator struct {
	providers map[string]*providerKeys
}

// NewRotator builds rotation state from the provider configs. Empty
// credential slots are filtered at load time; a provider whose slots are all
// empty ends up with no usable credential.
func NewRotator(configs []models.ProviderConfig) *Rotator {
	r := &Rotator{providers: make(map[string]*providerKeys, len(configs))}
	for _, cfg := range configs {
		r.providers[cfg.Name] = &providerKeys{keys: cfg.ValidKeys()}
	}
	return r
}

// Current returns the credential the cursor points at.
func (r *Rotator) Current(provider string) (string, error) {
	pk, ok := r.providers[provider]
	if !ok {
		return "", ErrUnknownProvider
	}

	pk.mu.Lock()
	defer pk.mu.Unlock()

	if len(pk.keys) == 0 {
		return "", ErrNoCredential
	}
	return pk.keys[pk.cursor], nil
}

// Rotate advances the cursor to the next valid credential, wrapping around,
// and returns it. With a single valid credential rotation is a no-op and
// returns the same credential.
func (r *Rotator) Rotate(provider string) (string, error) {
	pk, ok := r.providers[provider]
	if !ok {
		return "", ErrUnknownProvider
	}

	pk.mu.Lock()
	defer pk.mu.Unlock()

	if len(pk.keys) == 0 {
		return "", ErrNoCredential
	}
	pk.cursor = (pk.cursor + 1) % len(pk.keys)
	return pk.keys[pk.cursor], nil
}

// HasValid reports whether the provider has at least one usable credential.
func (r *Rotator) HasValid(provider string) bool {
	pk, ok := r.providers[provider]
	if !ok {
		return false
	}

	pk.mu.Lock()
	defer pk.mu.Unlock()
	return len(pk.keys) > 0
}

// Cursor returns the current rotation cursor for a provider. Used by the
// operator status surface and tests.
func (r *Rotator) Cursor(provider string) int {
	pk, ok := r.providers[provider]
	if !ok {
		return 0
	}

	pk.mu.Lock()
	defer pk.mu.Unlock()
	return pk.cursor
}

// KeyCount returns the number of valid credentials for a provider.
func (r *Rotator) KeyCount(provider string) int {
	pk, ok := r.providers[provider]
	if !ok {
		return 0
	}

	pk.mu.Lock()
	defer pk.mu.Unlock()
	return len(pk.keys)
}

// Fingerprint returns a short stable digest of a credential, safe to log.
func Fingerprint(credential string) string {
	if credential == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])[:12]
}
