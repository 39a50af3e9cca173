package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"llm_relay/internal/logging"
	"llm_relay/internal/models"
)

// providerYAML mirrors one entry of the providers file. Credentials may
// reference environment variables with ${VAR} syntax; unset variables expand
// to empty slots, which are filtered.
type providerYAML struct {
	Name           string   `yaml:"name"`
	Format         string   `yaml:"format"`
	AuthType       string   `yaml:"auth_type"`
	Endpoint       string   `yaml:"endpoint"`
	ModelsEndpoint string   `yaml:"models_endpoint"`
	APIKeys        []string `yaml:"api_keys"`
	AuthHeader     string   `yaml:"auth_header"`
	AccountID      string   `yaml:"account_id"`
	Priority       int      `yaml:"priority"`
	Model          string   `yaml:"model"`
	MaxTokens      int      `yaml:"max_tokens"`
	Temperature    *float64 `yaml:"temperature"`
	Timeout        string   `yaml:"timeout"`
	Enabled        *bool    `yaml:"enabled"`
}

type providersFile struct {
	Providers []providerYAML `yaml:"providers"`
}

var validFormats = map[models.Format]bool{
	models.FormatOpenAI:     true,
	models.FormatGemini:     true,
	models.FormatCohere:     true,
	models.FormatQuery:      true,
	models.FormatCloudflare: true,
}

var validAuthTypes = map[models.AuthType]bool{
	models.AuthBearer: true,
	models.AuthHeader: true,
	models.AuthQuery:  true,
	models.AuthNone:   true,
}

// LoadProviders reads and validates the providers file. Malformed entries
// are fatal; providers that require a credential but resolved none are
// excluded with a warning, since they can never serve a request.
func LoadProviders(path string) ([]models.ProviderConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file: %w", err)
	}

	var file providersFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &file); err != nil {
		return nil, fmt.Errorf("failed to parse providers file: %w", err)
	}
	if len(file.Providers) == 0 {
		return nil, fmt.Errorf("providers file %s declares no providers", path)
	}

	logger := logging.NewLogger("config")
	seen := make(map[string]bool, len(file.Providers))
	configs := make([]models.ProviderConfig, 0, len(file.Providers))

	for i, p := range file.Providers {
		cfg, err := p.toConfig()
		if err != nil {
			return nil, fmt.Errorf("provider %d (%s): %w", i, p.Name, err)
		}
		if seen[cfg.Name] {
			return nil, fmt.Errorf("duplicate provider %q", cfg.Name)
		}
		seen[cfg.Name] = true

		if cfg.RequiresCredential() && len(cfg.ValidKeys()) == 0 {
			logger.Warn("excluding provider with no usable credential", "provider", cfg.Name)
			continue
		}
		configs = append(configs, cfg)
	}

	return configs, nil
}

func (p providerYAML) toConfig() (models.ProviderConfig, error) {
	var cfg models.ProviderConfig

	if p.Name == "" {
		return cfg, fmt.Errorf("name is required")
	}

	format := models.Format(p.Format)
	if !validFormats[format] {
		return cfg, fmt.Errorf("unknown format %q", p.Format)
	}

	authType := models.AuthType(p.AuthType)
	if p.AuthType == "" {
		authType = models.AuthNone
	} else if !validAuthTypes[authType] {
		return cfg, fmt.Errorf("unknown auth_type %q", p.AuthType)
	}

	if p.Endpoint == "" {
		return cfg, fmt.Errorf("endpoint is required")
	}
	if format == models.FormatCloudflare && p.AccountID == "" {
		return cfg, fmt.Errorf("account_id is required for the cloudflare format")
	}
	if len(p.APIKeys) > models.MaxCredentials {
		return cfg, fmt.Errorf("at most %d credentials are supported, got %d", models.MaxCredentials, len(p.APIKeys))
	}

	var timeout time.Duration
	if p.Timeout != "" {
		parsed, err := time.ParseDuration(p.Timeout)
		if err != nil {
			return cfg, fmt.Errorf("invalid timeout %q: %w", p.Timeout, err)
		}
		timeout = parsed
	}

	enabled := true
	if p.Enabled != nil {
		enabled = *p.Enabled
	}

	return models.ProviderConfig{
		Name:           p.Name,
		Format:         format,
		AuthType:       authType,
		Endpoint:       p.Endpoint,
		ModelsEndpoint: p.ModelsEndpoint,
		APIKeys:        p.APIKeys,
		AuthHeader:     p.AuthHeader,
		AccountID:      p.AccountID,
		Priority:       p.Priority,
		Model:          p.Model,
		MaxTokens:      p.MaxTokens,
		Temperature:    p.Temperature,
		Timeout:        timeout,
		Enabled:        enabled,
	}, nil
}
