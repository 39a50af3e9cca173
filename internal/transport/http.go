package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"llm_relay/internal/logging"
	"llm_relay/internal/models"
)

const (
	defaultCallTimeout = 60 * time.Second
	maxBodyBytes       = 4 << 20
)

// HTTPTransport implements Transport over net/http. One shared client serves
// every provider; per-call deadlines come from the provider config.
type HTTPTransport struct {
	client *http.Client
	logger *logging.Logger
}

// NewHTTPTransport creates a transport with a pooled HTTP client.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logging.NewLogger("transport"),
	}
}

// Call executes one chat completion against the provider. A non-nil error
// means the request never produced an HTTP response (network failure or
// timeout); otherwise the Result carries the vendor's status and body, even
// for non-200 responses.
func (t *HTTPTransport) Call(ctx context.Context, p models.ProviderConfig, credential, model string, messages []models.Message) (*Result, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := t.buildRequest(ctx, p, credential, model, messages)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	res := &Result{
		StatusCode: resp.StatusCode,
		Latency:    latency,
		Body:       parseJSON(raw),
	}

	if resp.StatusCode != http.StatusOK {
		res.ErrorText = string(raw)
		return res, nil
	}

	res.Content = extractContent(p.Format, res.Body, raw)
	if strings.TrimSpace(res.Content) == "" {
		res.Content = ""
		res.ErrorText = fmt.Sprintf("empty response from %s", p.Name)
	}
	return res, nil
}

// buildRequest assembles the vendor-specific HTTP request.
func (t *HTTPTransport) buildRequest(ctx context.Context, p models.ProviderConfig, credential, model string, messages []models.Message) (*http.Request, error) {
	if model == "" {
		model = p.Model
	}

	switch p.Format {
	case models.FormatOpenAI, models.FormatCohere:
		return t.postJSON(ctx, p, credential, p.Endpoint, chatPayload(p, model, messages))

	case models.FormatCloudflare:
		if p.AccountID == "" {
			return nil, fmt.Errorf("provider %s: account_id not configured", p.Name)
		}
		endpoint := strings.ReplaceAll(p.Endpoint, "{account_id}", p.AccountID)
		return t.postJSON(ctx, p, credential, endpoint, chatPayload(p, model, messages))

	case models.FormatGemini:
		parts := make([]map[string]string, 0, len(messages))
		for _, msg := range messages {
			if msg.Role == "user" {
				parts = append(parts, map[string]string{"text": msg.Content})
			}
		}
		payload := map[string]any{
			"contents": []map[string]any{{"parts": parts}},
		}
		return t.postJSON(ctx, p, credential, p.Endpoint, payload)

	case models.FormatQuery:
		user := ""
		if len(messages) > 0 {
			user = messages[len(messages)-1].Content
		}
		endpoint, err := url.Parse(p.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("provider %s: invalid endpoint: %w", p.Name, err)
		}
		q := endpoint.Query()
		q.Set("user", user)
		q.Set("model", model)
		endpoint.RawQuery = q.Encode()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
		if err != nil {
			return nil, err
		}
		applyAuth(req, p, credential)
		return req, nil

	default:
		return nil, fmt.Errorf("provider %s: unsupported format %q", p.Name, p.Format)
	}
}

// chatPayload builds the OpenAI-shaped request body shared by the openai,
// cohere and cloudflare formats.
func chatPayload(p models.ProviderConfig, model string, messages []models.Message) map[string]any {
	payload := map[string]any{
		"model":    model,
		"messages": messages,
	}
	if p.MaxTokens > 0 {
		payload["max_tokens"] = p.MaxTokens
	}
	if p.Temperature != nil {
		payload["temperature"] = *p.Temperature
	}
	return payload
}

func (t *HTTPTransport) postJSON(ctx context.Context, p models.ProviderConfig, credential, endpoint string, payload map[string]any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint = withQueryAuth(endpoint, p, credential)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	applyAuth(req, p, credential)
	return req, nil
}

// applyAuth attaches header-carried credentials. Query-carried credentials
// are attached at URL build time by withQueryAuth.
func applyAuth(req *http.Request, p models.ProviderConfig, credential string) {
	if credential == "" {
		return
	}
	switch p.AuthType {
	case models.AuthBearer:
		if p.Format == models.FormatCohere {
			// Cohere rejects the canonical capitalization.
			req.Header["authorization"] = []string{"bearer " + credential}
			return
		}
		req.Header.Set("Authorization", "Bearer "+credential)
	case models.AuthHeader:
		header := p.AuthHeader
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, credential)
	}
}

// withQueryAuth appends a ?key= credential for providers that authenticate
// via query parameter.
func withQueryAuth(endpoint string, p models.ProviderConfig, credential string) string {
	if p.AuthType != models.AuthQuery || credential == "" {
		return endpoint
	}
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return endpoint + sep + "key=" + url.QueryEscape(credential)
}

// extractContent pulls the completion text out of the vendor response.
func extractContent(format models.Format, body map[string]any, raw []byte) string {
	switch format {
	case models.FormatGemini:
		return dig(body, "candidates", 0, "content", "parts", 0, "text")
	case models.FormatCohere:
		return dig(body, "message", "content", 0, "text")
	case models.FormatQuery:
		if content := dig(body, "choices", 0, "message", "content"); content != "" {
			return content
		}
		// Some gateways answer with plain text instead of JSON.
		if body == nil {
			return string(raw)
		}
		return ""
	default:
		return dig(body, "choices", 0, "message", "content")
	}
}

// ListModels queries the provider's model listing endpoint and returns the
// raw model ids. It understands the OpenAI {"data": [...]} shape, the
// {"models": [...]} shape and a bare JSON array.
func (t *HTTPTransport) ListModels(ctx context.Context, p models.ProviderConfig, credential string) ([]string, error) {
	if p.ModelsEndpoint == "" {
		return nil, fmt.Errorf("provider %s: no models endpoint", p.Name)
	}

	endpoint := withQueryAuth(p.ModelsEndpoint, p, credential)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	applyAuth(req, p, credential)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider %s: model listing returned %d", p.Name, resp.StatusCode)
	}

	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("provider %s: invalid model listing: %w", p.Name, err)
	}
	return parseModelIDs(parsed), nil
}

func parseModelIDs(parsed any) []string {
	var items []any
	switch v := parsed.(type) {
	case map[string]any:
		if data, ok := v["data"].([]any); ok {
			items = data
		} else if list, ok := v["models"].([]any); ok {
			items = list
		}
	case []any:
		items = v
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		switch m := item.(type) {
		case string:
			ids = append(ids, m)
		case map[string]any:
			if id, ok := m["id"].(string); ok && id != "" {
				ids = append(ids, id)
			} else if name, ok := m["name"].(string); ok && name != "" {
				ids = append(ids, name)
			}
		}
	}
	return ids
}

// parseJSON returns the decoded JSON object, or nil when the body is not a
// JSON object.
func parseJSON(raw []byte) map[string]any {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil
	}
	return body
}

// dig walks a decoded JSON tree by alternating string keys and int indexes
// and returns the string leaf, or "" when any step is missing.
func dig(node any, path ...any) string {
	for _, step := range path {
		switch key := step.(type) {
		case string:
			m, ok := node.(map[string]any)
			if !ok {
				return ""
			}
			node = m[key]
		case int:
			list, ok := node.([]any)
			if !ok || key >= len(list) {
				return ""
			}
			node = list[key]
		}
	}
	s, _ := node.(string)
	return s
}
