package config

import (
	"fmt"
	"maps"
	"os"
)

// LLMProviderConfig describes one OpenAI-compatible chat completion endpoint.
type LLMProviderConfig struct {
	BaseURL   string `yaml:"base_url"`    // required
	APIKeyEnv string `yaml:"api_key_env"` // required; the key itself never lives in YAML
	Model     string `yaml:"model"`       // default for profiles that name no model

	// RPM caps requests per minute against the provider; 0 means unlimited.
	RPM int `yaml:"rpm,omitempty"`
}

// APIKey reads the provider credential from the environment. Empty means
// the provider cannot be called.
func (p *LLMProviderConfig) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

// LLMProviderRegistry maps provider names to their settings. It is built
// once by Initialize and read-only afterwards.
type LLMProviderRegistry struct {
	providers map[string]*LLMProviderConfig
}

func NewLLMProviderRegistry(providers map[string]*LLMProviderConfig) *LLMProviderRegistry {
	return &LLMProviderRegistry{providers: maps.Clone(providers)}
}

func (r *LLMProviderRegistry) Get(name string) (*LLMProviderConfig, error) {
	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrLLMProviderNotFound, name)
}

// GetAll returns a shallow copy of the registry.
func (r *LLMProviderRegistry) GetAll() map[string]*LLMProviderConfig {
	return maps.Clone(r.providers)
}

func (r *LLMProviderRegistry) Has(name string) bool {
	_, ok := r.providers[name]
	return ok
}

func (r *LLMProviderRegistry) Len() int { return len(r.providers) }
