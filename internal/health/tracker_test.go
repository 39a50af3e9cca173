package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm_relay/internal/classify"
)

func newTestTracker() *Tracker {
	return NewTracker([]string{"alpha", "beta"}, 0)
}

func TestQuarantineWindows(t *testing.T) {
	now := time.Now()

	tests := []struct {
		kind   classify.Kind
		window time.Duration
	}{
		{classify.KindRateLimit, CredentialQuarantine},
		{classify.KindAuthError, CredentialQuarantine},
		{classify.KindQuotaExceeded, CredentialQuarantine},
		{classify.KindServiceUnavailable, ProviderQuarantine},
		{classify.KindServerError, ProviderQuarantine},
		{classify.KindNetworkError, ProviderQuarantine},
		{classify.KindUnknown, UnknownQuarantine},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			tr := newTestTracker()
			rec := tr.RecordFailure("alpha", tt.kind, now)
			assert.Equal(t, now.Add(tt.window), rec.QuarantinedUntil)
			assert.False(t, tr.Healthy("alpha", now))
			assert.True(t, tr.Healthy("alpha", now.Add(tt.window)))
		})
	}
}

func TestBadRequestNeverQuarantines(t *testing.T) {
	tr := newTestTracker()
	now := time.Now()

	for i := 0; i < DefaultFailureThreshold-1; i++ {
		rec := tr.RecordFailure("alpha", classify.KindBadRequest, now)
		assert.True(t, rec.QuarantinedUntil.IsZero())
		assert.True(t, tr.Healthy("alpha", now))
	}
}

func TestConsecutiveFailureThreshold(t *testing.T) {
	tr := NewTracker([]string{"alpha"}, 3)
	now := time.Now()

	tr.RecordFailure("alpha", classify.KindBadRequest, now)
	tr.RecordFailure("alpha", classify.KindBadRequest, now)
	assert.True(t, tr.Healthy("alpha", now))

	// Third consecutive failure trips the threshold with the unknown window.
	rec := tr.RecordFailure("alpha", classify.KindBadRequest, now)
	assert.Equal(t, now.Add(UnknownQuarantine), rec.QuarantinedUntil)
	assert.False(t, tr.Healthy("alpha", now))
}

func TestSuccessHealsImmediately(t *testing.T) {
	tr := newTestTracker()
	now := time.Now()

	tr.RecordFailure("alpha", classify.KindAuthError, now)
	require.False(t, tr.Healthy("alpha", now))

	tr.RecordSuccess("alpha")
	assert.True(t, tr.Healthy("alpha", now))

	rec, ok := tr.Snapshot("alpha")
	require.True(t, ok)
	assert.Zero(t, rec.ConsecutiveFailures)
	assert.True(t, rec.QuarantinedUntil.IsZero())
	assert.Empty(t, rec.LastErrorKind)
}

func TestAuthErrorEligibilityLifecycle(t *testing.T) {
	tr := newTestTracker()
	now := time.Now()

	tr.RecordFailure("alpha", classify.KindAuthError, now)

	// Ineligible until the window elapses...
	assert.False(t, tr.Healthy("alpha", now.Add(59*time.Minute)))
	assert.True(t, tr.Healthy("alpha", now.Add(CredentialQuarantine)))

	// ...or a success resets it first, whichever comes earlier.
	tr.RecordFailure("alpha", classify.KindAuthError, now)
	tr.RecordSuccess("alpha")
	assert.True(t, tr.Healthy("alpha", now.Add(time.Second)))
}

func TestQuarantineNeverShrinks(t *testing.T) {
	tr := newTestTracker()
	now := time.Now()

	tr.RecordFailure("alpha", classify.KindAuthError, now)
	rec := tr.RecordFailure("alpha", classify.KindServerError, now.Add(time.Minute))

	// The shorter window does not cut the existing one short.
	assert.Equal(t, now.Add(CredentialQuarantine), rec.QuarantinedUntil)
}

func TestUnknownProvider(t *testing.T) {
	tr := newTestTracker()
	assert.False(t, tr.Healthy("nope", time.Now()))
	_, ok := tr.Snapshot("nope")
	assert.False(t, ok)
}

func TestProvidersIndependent(t *testing.T) {
	tr := newTestTracker()
	now := time.Now()

	tr.RecordFailure("alpha", classify.KindServerError, now)
	assert.False(t, tr.Healthy("alpha", now))
	assert.True(t, tr.Healthy("beta", now))
}
