package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		status int
		body   map[string]any
		want   Kind
	}{
		{"status 429", "anything", 429, nil, KindRateLimit},
		{"rate limit text", "Rate limit reached for requests", 200, nil, KindRateLimit},
		{"too many requests", "Too Many Requests", 0, nil, KindRateLimit},
		{"status 401", "", 401, nil, KindAuthError},
		{"status 403", "", 403, nil, KindAuthError},
		{"invalid api key text", "Incorrect API key provided", 0, nil, KindAuthError},
		{"auth failed text", "Authentication failed for user", 200, nil, KindAuthError},
		{"quota text", "You exceeded your current quota", 402, nil, KindQuotaExceeded},
		{"billing text", "billing_hard_limit_reached", 402, nil, KindQuotaExceeded},
		{"usage limit text", "monthly usage limit hit", 0, nil, KindQuotaExceeded},
		{"status 503", "", 503, nil, KindServiceUnavailable},
		{"maintenance text", "down for scheduled maintenance", 200, nil, KindServiceUnavailable},
		{"unavailable text", "The model is temporarily unavailable", 404, nil, KindServiceUnavailable},
		{"status 500", "boom", 500, nil, KindServerError},
		{"status 599", "", 599, nil, KindServerError},
		{"internal error text", "internal error occurred", 0, nil, KindServerError},
		{"connection refused", "dial tcp: connection refused", 0, nil, KindNetworkError},
		{"context deadline", `Post "https://api.vendor.ai/v1/chat/completions": context deadline exceeded`, 0, nil, KindNetworkError},
		{"client timeout", "context deadline exceeded (Client.Timeout exceeded)", 0, nil, KindNetworkError},
		{"dns failure", "lookup api.vendor.ai: no such host", 0, nil, KindNetworkError},
		{"status 400", "missing field", 400, nil, KindBadRequest},
		{"malformed indicator", "malformed request payload", 0, nil, KindBadRequest},
		{"unknown", "something odd happened", 200, nil, KindUnknown},
		{"empty", "", 0, nil, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.text, tt.status, tt.body))
		})
	}
}

func TestClassifyJSONBody(t *testing.T) {
	// The parsed body contributes its text to matching.
	body := map[string]any{
		"error": map[string]any{"code": "rate_limit_exceeded"},
	}
	assert.Equal(t, KindRateLimit, Classify("", 200, body))

	body = map[string]any{"message": "invalid api key"}
	assert.Equal(t, KindAuthError, Classify("", 200, body))
}

func TestClassifyPrecedence(t *testing.T) {
	// Rate limit wins over auth when both match.
	assert.Equal(t, KindRateLimit, Classify("unauthorized", 429, nil))
	// Status 400 with quota text classifies as quota, not bad request.
	assert.Equal(t, KindQuotaExceeded, Classify("insufficient quota", 400, nil))
}

func TestClassifyIsTotal(t *testing.T) {
	// Any input yields exactly one kind; spot-check a range of statuses.
	for status := 0; status < 700; status += 7 {
		kind := Classify("x", status, nil)
		assert.NotEmpty(t, kind)
	}
}

func TestRotatesCredential(t *testing.T) {
	assert.True(t, KindRateLimit.RotatesCredential())
	assert.True(t, KindAuthError.RotatesCredential())
	assert.True(t, KindQuotaExceeded.RotatesCredential())
	assert.False(t, KindServiceUnavailable.RotatesCredential())
	assert.False(t, KindServerError.RotatesCredential())
	assert.False(t, KindNetworkError.RotatesCredential())
	assert.False(t, KindBadRequest.RotatesCredential())
	assert.False(t, KindUnknown.RotatesCredential())
}
