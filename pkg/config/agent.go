package config

import (
	"fmt"
	"maps"
)

// AgentType names one LLM-driven role in the report pipeline.
type AgentType string

const (
	AgentTypeDefault  AgentType = "default"
	AgentTypeCenter   AgentType = "center"
	AgentTypeResearch AgentType = "research"
	AgentTypeNL2SQL   AgentType = "nl2sql"
	AgentTypeChart    AgentType = "chart"
	AgentTypeSummary  AgentType = "summary"
)

// IsValid reports whether t is a known agent type.
func (t AgentType) IsValid() bool {
	switch t {
	case AgentTypeDefault, AgentTypeCenter, AgentTypeResearch, AgentTypeNL2SQL, AgentTypeChart, AgentTypeSummary:
		return true
	}
	return false
}

// AgentProfile holds per-agent model parameters. Nil/empty fields inherit
// from the default profile.
type AgentProfile struct {
	Provider    string   `yaml:"provider,omitempty"`
	Model       string   `yaml:"model,omitempty"`
	Temperature *float32 `yaml:"temperature,omitempty"`
	MaxTokens   *int     `yaml:"max_tokens,omitempty"`
	TopP        *float32 `yaml:"top_p,omitempty"`
}

// AgentProfileRegistry resolves the effective profile for an agent type.
// Read-only after Initialize.
type AgentProfileRegistry struct {
	profiles map[AgentType]*AgentProfile
}

// NewAgentProfileRegistry creates a registry. The map must contain a default profile.
func NewAgentProfileRegistry(profiles map[AgentType]*AgentProfile) *AgentProfileRegistry {
	return &AgentProfileRegistry{profiles: maps.Clone(profiles)}
}

// Resolve returns the default profile overlaid with the agent-specific one.
func (r *AgentProfileRegistry) Resolve(agentType AgentType) (*AgentProfile, error) {
	base, ok := r.profiles[AgentTypeDefault]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentProfileNotFound, AgentTypeDefault)
	}
	resolved := *base

	if specific, ok := r.profiles[agentType]; ok && agentType != AgentTypeDefault {
		resolved.overlay(specific)
	}
	return &resolved, nil
}

// overlay copies every field set in o onto p. Pointer fields are copied by
// value so the default profile is never aliased.
func (p *AgentProfile) overlay(o *AgentProfile) {
	if o.Provider != "" {
		p.Provider = o.Provider
	}
	if o.Model != "" {
		p.Model = o.Model
	}
	if o.Temperature != nil {
		p.Temperature = ptr(*o.Temperature)
	}
	if o.MaxTokens != nil {
		p.MaxTokens = ptr(*o.MaxTokens)
	}
	if o.TopP != nil {
		p.TopP = ptr(*o.TopP)
	}
}

// GetAll returns the raw, unmerged profiles.
func (r *AgentProfileRegistry) GetAll() map[AgentType]*AgentProfile {
	return maps.Clone(r.profiles)
}

func (r *AgentProfileRegistry) Len() int { return len(r.profiles) }
