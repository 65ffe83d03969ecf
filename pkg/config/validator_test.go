package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	profiles := make(map[AgentType]*AgentProfile)
	for t, p := range builtinAgentProfiles() {
		profile := p
		profiles[t] = &profile
	}
	providers := make(map[string]*LLMProviderConfig)
	for name, p := range builtinLLMProviders() {
		provider := p
		providers[name] = &provider
	}
	return &Config{
		Report:              DefaultReportConfig(),
		AgentProfiles:       NewAgentProfileRegistry(profiles),
		LLMProviderRegistry: NewLLMProviderRegistry(providers),
	}
}

func TestValidateAll_Builtins(t *testing.T) {
	require.NoError(t, NewValidator(validConfig()).ValidateAll())
}

func TestValidateAll_Errors(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   error
		wantField string
	}{
		{
			name: "provider without base url",
			mutate: func(c *Config) {
				p, _ := c.LLMProviderRegistry.Get(DefaultProviderName)
				p.BaseURL = ""
			},
			wantErr:   ErrMissingRequiredField,
			wantField: "base_url",
		},
		{
			name: "negative rpm",
			mutate: func(c *Config) {
				p, _ := c.LLMProviderRegistry.Get(DefaultProviderName)
				p.RPM = -1
			},
			wantErr:   ErrInvalidValue,
			wantField: "rpm",
		},
		{
			name: "profile points at unknown provider",
			mutate: func(c *Config) {
				c.AgentProfiles.profiles[AgentTypeResearch].Provider = "missing"
			},
			wantErr:   ErrInvalidReference,
			wantField: "provider",
		},
		{
			name: "temperature out of range",
			mutate: func(c *Config) {
				c.AgentProfiles.profiles[AgentTypeNL2SQL].Temperature = ptr[float32](2.5)
			},
			wantErr:   ErrInvalidValue,
			wantField: "temperature",
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Report.MaxConcurrentSections = 0 },
			wantErr:   ErrInvalidValue,
			wantField: "max_concurrent_sections",
		},
		{
			name:      "non-positive heartbeat",
			mutate:    func(c *Config) { c.Report.HeartbeatInterval = -time.Second },
			wantErr:   ErrInvalidValue,
			wantField: "heartbeat_interval",
		},
		{
			name:      "empty sandbox role",
			mutate:    func(c *Config) { c.Report.SandboxRole = "" },
			wantErr:   ErrInvalidValue,
			wantField: "sandbox_role",
		},
		{
			name:      "missing default profile",
			mutate:    func(c *Config) { delete(c.AgentProfiles.profiles, AgentTypeDefault) },
			wantErr:   ErrAgentProfileNotFound,
			wantField: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := NewValidator(cfg).ValidateAll()
			require.ErrorIs(t, err, tt.wantErr)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.wantField, ve.Field)
		})
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := NewValidationError("agent_profile", "research", "temperature", ErrInvalidValue)
	assert.Equal(t, "agent_profile research.temperature: invalid field value", err.Error())

	err = NewValidationError("agent_profile", "default", "", ErrAgentProfileNotFound)
	assert.Equal(t, "agent_profile default: agent profile not found", err.Error())
}
