package models

import "time"

// Format enumerates the supported vendor request/response shapes.
// The transport layer dispatches on this tag; there is no per-provider
// subclassing beyond this closed set.
type Format string

const (
	FormatOpenAI     Format = "openai"
	FormatGemini     Format = "gemini"
	FormatCohere     Format = "cohere"
	FormatQuery      Format = "query"
	FormatCloudflare Format = "cloudflare"
)

// AuthType enumerates how a credential is attached to a vendor request.
type AuthType string

const (
	AuthBearer AuthType = "bearer"
	AuthHeader AuthType = "header"
	AuthQuery  AuthType = "query"
	AuthNone   AuthType = "none"
)

// MaxCredentials is the number of credential slots a provider may declare.
const MaxCredentials = 3

// ProviderConfig describes one external AI vendor endpoint. It is loaded
// once at engine start and immutable afterwards; the live enabled/disabled
// toggle is tracked by the engine registry, not here. Parsing from the
// providers file lives in the config package.
type ProviderConfig struct {
	Name           string
	Format         Format
	AuthType       AuthType
	Endpoint       string
	ModelsEndpoint string
	APIKeys        []string
	AuthHeader     string
	AccountID      string
	Priority       int
	Model          string
	MaxTokens      int
	Temperature    *float64
	Timeout        time.Duration
	Enabled        bool
}

// RequiresCredential reports whether the provider cannot be called without
// an API key.
func (p ProviderConfig) RequiresCredential() bool {
	return p.AuthType != AuthNone && p.AuthType != ""
}

// ValidKeys returns the non-empty credential slots in declared order.
func (p ProviderConfig) ValidKeys() []string {
	keys := make([]string, 0, len(p.APIKeys))
	for _, k := range p.APIKeys {
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
