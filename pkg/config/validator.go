package config

import (
	"fmt"
	"log/slog"
	"net/url"
)

// ConfigValidator validates configuration with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll validates providers, then the profiles referencing them, then
// report limits. It stops at the first error.
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateLLMProviders(); err != nil {
		return fmt.Errorf("LLM provider validation failed: %w", err)
	}

	if err := v.validateAgentProfiles(); err != nil {
		return fmt.Errorf("agent profile validation failed: %w", err)
	}

	if err := v.validateReport(); err != nil {
		return fmt.Errorf("report validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validateLLMProviders() error {
	for name, provider := range v.cfg.LLMProviderRegistry.GetAll() {
		if provider.BaseURL == "" {
			return NewValidationError("llm_provider", name, "base_url", ErrMissingRequiredField)
		}
		if _, err := url.ParseRequestURI(provider.BaseURL); err != nil {
			return NewValidationError("llm_provider", name, "base_url", fmt.Errorf("%w: %v", ErrInvalidValue, err))
		}
		if provider.APIKeyEnv == "" {
			return NewValidationError("llm_provider", name, "api_key_env", ErrMissingRequiredField)
		}
		if provider.RPM < 0 {
			return NewValidationError("llm_provider", name, "rpm", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
		}
		// A missing key is not fatal here: the gateway refuses calls with a
		// configuration error so the server can still start and serve data.
		if provider.APIKey() == "" {
			slog.Warn("LLM provider API key is not set",
				"provider", name, "api_key_env", provider.APIKeyEnv)
		}
	}
	return nil
}

func (v *ConfigValidator) validateAgentProfiles() error {
	profiles := v.cfg.AgentProfiles.GetAll()
	if _, ok := profiles[AgentTypeDefault]; !ok {
		return NewValidationError("agent_profile", string(AgentTypeDefault), "", ErrAgentProfileNotFound)
	}

	for agentType, profile := range profiles {
		id := string(agentType)
		if !agentType.IsValid() {
			return NewValidationError("agent_profile", id, "", fmt.Errorf("%w: unknown agent type", ErrInvalidValue))
		}
		if profile.Provider != "" && !v.cfg.LLMProviderRegistry.Has(profile.Provider) {
			return NewValidationError("agent_profile", id, "provider", fmt.Errorf("%w: provider '%s'", ErrInvalidReference, profile.Provider))
		}
		if profile.Temperature != nil && (*profile.Temperature < 0 || *profile.Temperature > 2) {
			return NewValidationError("agent_profile", id, "temperature", fmt.Errorf("%w: must be within [0, 2]", ErrInvalidValue))
		}
		if profile.TopP != nil && (*profile.TopP <= 0 || *profile.TopP > 1) {
			return NewValidationError("agent_profile", id, "top_p", fmt.Errorf("%w: must be within (0, 1]", ErrInvalidValue))
		}
		if profile.MaxTokens != nil && *profile.MaxTokens < 1 {
			return NewValidationError("agent_profile", id, "max_tokens", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
		}
	}

	if def := profiles[AgentTypeDefault]; def.Provider == "" {
		return NewValidationError("agent_profile", string(AgentTypeDefault), "provider", ErrMissingRequiredField)
	}
	return nil
}

func (v *ConfigValidator) validateReport() error {
	r := v.cfg.Report
	positive := []struct {
		field string
		value int
	}{
		{"planner_max_iterations", r.PlannerMaxIterations},
		{"researcher_max_iterations", r.ResearcherMaxIterations},
		{"max_searches", r.MaxSearches},
		{"max_concurrent_sections", r.MaxConcurrentSections},
		{"search_max_rows", r.SearchMaxRows},
		{"sql_limit_cap", r.SQLLimitCap},
		{"chart_max_rows", r.ChartMaxRows},
	}
	for _, p := range positive {
		if p.value < 1 {
			return NewValidationError("report", "report", p.field, fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
		}
	}
	if r.TranslationRetries < 0 {
		return NewValidationError("report", "report", "translation_retries", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	if r.HeartbeatInterval <= 0 {
		return NewValidationError("report", "report", "heartbeat_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if r.QueryTimeout <= 0 {
		return NewValidationError("report", "report", "query_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if r.SandboxRole == "" {
		return NewValidationError("report", "report", "sandbox_role", fmt.Errorf("%w: must not be empty", ErrInvalidValue))
	}
	return nil
}
