package transport

import (
	"context"
	"time"

	"llm_relay/internal/models"
)

// Result is the normalized outcome of one vendor call that produced an HTTP
// response. Network-level failures are reported as errors instead.
type Result struct {
	Content    string
	StatusCode int
	Latency    time.Duration
	Body       map[string]any // parsed JSON body, nil if unparseable
	ErrorText  string         // raw vendor body for failed calls
}

// OK reports whether the call succeeded with usable content. Vendors
// occasionally return 200 with an empty completion; that counts as failure.
func (r *Result) OK() bool {
	return r != nil && r.StatusCode == 200 && r.Content != ""
}

// Transport executes chat and model-listing calls against a vendor. The
// engine supplies the provider config and credential for every call and
// bounds it with the context.
type Transport interface {
	Call(ctx context.Context, provider models.ProviderConfig, credential, model string, messages []models.Message) (*Result, error)
	ListModels(ctx context.Context, provider models.ProviderConfig, credential string) ([]string, error)
}
