package classify

import (
	"fmt"
	"strings"
)

// Kind is the classified category of a vendor failure. The dispatcher
// decides credential rotation and quarantine duration from it.
type Kind string

const (
	KindRateLimit          Kind = "rate_limit"
	KindAuthError          Kind = "auth_error"
	KindQuotaExceeded      Kind = "quota_exceeded"
	KindServiceUnavailable Kind = "service_unavailable"
	KindServerError        Kind = "server_error"
	KindNetworkError       Kind = "network_error"
	KindBadRequest         Kind = "bad_request"
	KindUnknown            Kind = "unknown"
)

// RotatesCredential reports whether a failure of this kind points at the
// credential rather than the provider, so the dispatcher should rotate keys.
func (k Kind) RotatesCredential() bool {
	switch k {
	case KindRateLimit, KindAuthError, KindQuotaExceeded:
		return true
	}
	return false
}

func (k Kind) String() string { return string(k) }

var rateLimitPatterns = []string{
	"rate limit", "too many requests", "requests per minute",
	"rpm exceeded", "rate limited", "throttled", "rate_limit_exceeded",
	"rate_limit_reached",
}

var authErrorPatterns = []string{
	"unauthorized", "invalid api key", "invalid_api_key", "incorrect api key",
	"api_key_invalid", "authentication failed", "authentication_error",
	"invalid token", "access denied", "forbidden",
}

var quotaPatterns = []string{
	"quota", "billing", "usage limit", "usage_limit_exceeded",
	"credit limit", "balance insufficient",
}

var servicePatterns = []string{
	"unavailable", "maintenance", "model_overloaded", "engine_overloaded",
	"server_overloaded",
}

var networkPatterns = []string{
	"timeout", "deadline exceeded", "connection error", "connection refused",
	"connection reset", "network error", "network_error", "no such host",
	"dns", "eof", "broken pipe",
}

// Classify maps a vendor failure to exactly one Kind. Status is the HTTP
// status code, 0 when the failure happened below the HTTP layer. Body is
// the parsed JSON error body when one was available; it only contributes
// its text. First match wins, matching is case-insensitive.
func Classify(text string, status int, body map[string]any) Kind {
	combined := strings.ToLower(text)
	if len(body) > 0 {
		combined += " " + strings.ToLower(fmt.Sprintf("%v", body))
	}

	if status == 429 || containsAny(combined, rateLimitPatterns) {
		return KindRateLimit
	}
	if status == 401 || status == 403 || containsAny(combined, authErrorPatterns) {
		return KindAuthError
	}
	if containsAny(combined, quotaPatterns) {
		return KindQuotaExceeded
	}
	if status == 503 || containsAny(combined, servicePatterns) {
		return KindServiceUnavailable
	}
	if (status >= 500 && status <= 599) || strings.Contains(combined, "internal error") {
		return KindServerError
	}
	if status == 0 && containsAny(combined, networkPatterns) {
		return KindNetworkError
	}
	if status == 400 || strings.Contains(combined, "malformed") ||
		strings.Contains(combined, "invalid_request_error") {
		return KindBadRequest
	}
	return KindUnknown
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
