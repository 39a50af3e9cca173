package credentials

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm_relay/internal/models"
)

func newTestRotator(keys ...string) *Rotator {
	return NewRotator([]models.ProviderConfig{
		{Name: "vendor", AuthType: models.AuthBearer, APIKeys: keys},
	})
}

func TestRotatorCurrent(t *testing.T) {
	r := newTestRotator("key-a", "key-b")

	cred, err := r.Current("vendor")
	require.NoError(t, err)
	assert.Equal(t, "key-a", cred)

	// Reading twice does not move the cursor.
	cred, err = r.Current("vendor")
	require.NoError(t, err)
	assert.Equal(t, "key-a", cred)
}

func TestRotatorRotationIsCyclic(t *testing.T) {
	r := newTestRotator("key-a", "key-b", "key-c")

	first, err := r.Current("vendor")
	require.NoError(t, err)

	// Rotating N times for N valid keys returns to the original credential.
	var last string
	for i := 0; i < 3; i++ {
		last, err = r.Rotate("vendor")
		require.NoError(t, err)
	}
	assert.Equal(t, first, last)
}

func TestRotatorSingleKeyNeverChanges(t *testing.T) {
	r := newTestRotator("only-key")

	for i := 0; i < 10; i++ {
		cred, err := r.Rotate("vendor")
		require.NoError(t, err)
		assert.Equal(t, "only-key", cred)
		assert.Equal(t, 0, r.Cursor("vendor"))
	}
}

func TestRotatorFiltersEmptySlots(t *testing.T) {
	r := newTestRotator("key-a", "", "key-c")

	assert.Equal(t, 2, r.KeyCount("vendor"))

	cred, err := r.Rotate("vendor")
	require.NoError(t, err)
	assert.Equal(t, "key-c", cred)

	cred, err = r.Rotate("vendor")
	require.NoError(t, err)
	assert.Equal(t, "key-a", cred)
}

func TestRotatorNoCredential(t *testing.T) {
	r := newTestRotator()

	_, err := r.Current("vendor")
	assert.ErrorIs(t, err, ErrNoCredential)

	_, err = r.Rotate("vendor")
	assert.ErrorIs(t, err, ErrNoCredential)

	assert.False(t, r.HasValid("vendor"))
}

func TestRotatorUnknownProvider(t *testing.T) {
	r := newTestRotator("key-a")

	_, err := r.Current("nope")
	assert.ErrorIs(t, err, ErrUnknownProvider)
	assert.False(t, r.HasValid("nope"))
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint("sk-secret-value")
	assert.Len(t, fp, 12)
	assert.NotContains(t, fp, "secret")
	assert.Equal(t, fp, Fingerprint("sk-secret-value"))
	assert.Empty(t, Fingerprint(""))
}
