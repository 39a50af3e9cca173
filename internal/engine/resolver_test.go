package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm_relay/internal/models"
)

func discoveryProviders() []models.ProviderConfig {
	return []models.ProviderConfig{
		{Name: "alpha", Format: models.FormatOpenAI, AuthType: models.AuthBearer, APIKeys: []string{"a"}, Priority: 1, Model: "alpha-chat", ModelsEndpoint: "https://alpha.test/models", Enabled: true},
		{Name: "beta", Format: models.FormatOpenAI, AuthType: models.AuthBearer, APIKeys: []string{"b"}, Priority: 2, Model: "beta-chat", ModelsEndpoint: "https://beta.test/models", Enabled: true},
		{Name: "gamma", Format: models.FormatOpenAI, AuthType: models.AuthBearer, APIKeys: []string{"c"}, Priority: 3, Model: "gamma-chat", ModelsEndpoint: "https://gamma.test/models", Enabled: true},
	}
}

func autodecide(model string) Request {
	return Request{
		Messages:   []models.Message{{Role: "user", Content: "hi"}},
		Model:      model,
		Autodecide: true,
	}
}

func TestCandidatesExactMatchBeatsFuzzy(t *testing.T) {
	tr := newScripted()
	tr.listed["alpha"] = []string{"gpt-4"}
	tr.listed["beta"] = []string{"gpt-4-turbo"}
	e := newTestEngine(t, discoveryProviders(), tr)

	cands := e.candidates(context.Background(), autodecide("gpt4"))

	require.Len(t, cands, 1)
	assert.Equal(t, "alpha", cands[0].provider)
	assert.Equal(t, "gpt-4", cands[0].model)
}

func TestCandidatesFuzzyFallback(t *testing.T) {
	tr := newScripted()
	tr.listed["alpha"] = []string{"claude-3-opus"}
	tr.listed["beta"] = []string{"claude-3-sonnet"}
	tr.listed["gamma"] = []string{"gemini-pro"}
	e := newTestEngine(t, discoveryProviders(), tr)

	cands := e.candidates(context.Background(), autodecide("claude"))

	require.Len(t, cands, 2)
	providers := []string{cands[0].provider, cands[1].provider}
	assert.ElementsMatch(t, []string{"alpha", "beta"}, providers)
}

func TestCandidatesCarryVendorModelID(t *testing.T) {
	tr := newScripted()
	tr.listed["alpha"] = []string{"GPT-4"}
	e := newTestEngine(t, discoveryProviders(), tr)

	cands := e.candidates(context.Background(), autodecide("gpt_4"))

	require.Len(t, cands, 1)
	// The raw vendor id is sent, not the user's spelling.
	assert.Equal(t, "GPT-4", cands[0].model)
}

func TestCandidatesFilterIneligibleProviders(t *testing.T) {
	tr := newScripted()
	tr.listed["alpha"] = []string{"shared-model"}
	tr.listed["beta"] = []string{"shared-model"}
	e := newTestEngine(t, discoveryProviders(), tr)
	require.NoError(t, e.Disable("alpha"))

	cands := e.candidates(context.Background(), autodecide("sharedmodel"))

	require.Len(t, cands, 1)
	assert.Equal(t, "beta", cands[0].provider)
}

func TestCandidatesPreferredProviderPinnedFirst(t *testing.T) {
	tr := newScripted()
	tr.listed["alpha"] = []string{"shared-model"}
	tr.listed["beta"] = []string{"shared-model"}
	tr.listed["gamma"] = []string{"shared-model"}
	e := newTestEngine(t, discoveryProviders(), tr)

	req := autodecide("sharedmodel")
	req.PreferredProvider = "gamma"
	cands := e.candidates(context.Background(), req)

	require.Len(t, cands, 3)
	assert.Equal(t, "gamma", cands[0].provider)
}

func TestCandidatesPreferredWithoutMatchingModelNotInserted(t *testing.T) {
	tr := newScripted()
	tr.listed["alpha"] = []string{"only-alpha"}
	e := newTestEngine(t, discoveryProviders(), tr)

	req := autodecide("onlyalpha")
	req.PreferredProvider = "beta"
	cands := e.candidates(context.Background(), req)

	require.Len(t, cands, 1)
	assert.Equal(t, "alpha", cands[0].provider)
}

func TestCandidatesNoModelListsAllEligibleByRank(t *testing.T) {
	tr := newScripted()
	e := newTestEngine(t, discoveryProviders(), tr)

	cands := e.candidates(context.Background(), autodecide(""))

	require.Len(t, cands, 3)
	// No recorded traffic: static priority order.
	assert.Equal(t, "alpha", cands[0].provider)
	assert.Equal(t, "alpha-chat", cands[0].model)
	assert.Equal(t, "beta", cands[1].provider)
	assert.Equal(t, "gamma", cands[2].provider)
}

func TestCandidatesPlainFailoverWithoutAutodecide(t *testing.T) {
	tr := newScripted()
	e := newTestEngine(t, discoveryProviders(), tr)

	cands := e.candidates(context.Background(), Request{
		Messages: []models.Message{{Role: "user", Content: "hi"}},
		Model:    "custom-model",
	})

	require.Len(t, cands, 3)
	for _, c := range cands {
		assert.Equal(t, "custom-model", c.model)
	}
}

func TestCandidatesUnknownModelYieldsNothing(t *testing.T) {
	tr := newScripted()
	tr.listed["alpha"] = []string{"gpt-4"}
	e := newTestEngine(t, discoveryProviders(), tr)

	cands := e.candidates(context.Background(), autodecide("totally-unknown-model"))
	assert.Empty(t, cands)
}

func TestListModelsAndModelsForProvider(t *testing.T) {
	tr := newScripted()
	tr.listed["alpha"] = []string{"gpt-4", "gpt-3.5-turbo"}
	tr.listed["beta"] = []string{"claude-3"}
	e := newTestEngine(t, discoveryProviders(), tr)
	ctx := context.Background()

	all := e.ListModels(ctx)
	assert.Len(t, all, 3) // gamma's listing is empty and contributes nothing

	entries, err := e.ModelsForProvider(ctx, "alpha")
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	_, err = e.ModelsForProvider(ctx, "missing")
	assert.ErrorIs(t, err, ErrProviderNotFound)
}
