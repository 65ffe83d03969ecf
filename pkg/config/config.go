package config

// Config is the umbrella configuration object returned by Initialize and
// passed to the components that need tunables or model parameters.
type Config struct {
	configDir string

	// Report-generation limits and intervals
	Report *ReportConfig

	// Directory holding prompt overrides; empty means built-in prompts only
	PromptsDir string

	AgentProfiles       *AgentProfileRegistry
	LLMProviderRegistry *LLMProviderRegistry
}

// Stats contains statistics about loaded configuration
type Stats struct {
	AgentProfiles int
	LLMProviders  int
}

// Stats returns configuration statistics for logging/monitoring
func (c *Config) Stats() Stats {
	s := Stats{}
	if c.AgentProfiles != nil {
		s.AgentProfiles = c.AgentProfiles.Len()
	}
	if c.LLMProviderRegistry != nil {
		s.LLMProviders = c.LLMProviderRegistry.Len()
	}
	return s
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// ResolveAgent returns the effective profile for an agent type together with
// the provider it points at.
func (c *Config) ResolveAgent(agentType AgentType) (*AgentProfile, *LLMProviderConfig, error) {
	profile, err := c.AgentProfiles.Resolve(agentType)
	if err != nil {
		return nil, nil, err
	}
	provider, err := c.LLMProviderRegistry.Get(profile.Provider)
	if err != nil {
		return nil, nil, err
	}
	if profile.Model == "" {
		profile.Model = provider.Model
	}
	return profile, provider, nil
}
