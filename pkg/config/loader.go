package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

const (
	mainConfigFile      = "deepreport.yaml"
	providersConfigFile = "llm-providers.yaml"
)

// DeepReportYAMLConfig represents the deepreport.yaml file structure
type DeepReportYAMLConfig struct {
	Report     *ReportConfig              `yaml:"report"`
	Agents     map[AgentType]AgentProfile `yaml:"agents"`
	PromptsDir string                     `yaml:"prompts_dir"`
}

// LLMProvidersYAMLConfig represents the llm-providers.yaml file structure
type LLMProvidersYAMLConfig struct {
	LLMProviders map[string]LLMProviderConfig `yaml:"llm_providers"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Load YAML files from configDir, expanding {{.VAR}} references
//  2. Merge user-defined providers, profiles and report limits over built-ins
//  3. Build in-memory registries
//  4. Validate all configuration
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"agent_profiles", stats.AgentProfiles,
		"llm_providers", stats.LLMProviders,
		"max_concurrent_sections", cfg.Report.MaxConcurrentSections)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	mainCfg, err := loader.loadMainYAML()
	if err != nil {
		return nil, NewLoadError(mainConfigFile, err)
	}

	// llm-providers.yaml is optional; the built-in provider covers the default setup.
	providers, err := loader.loadLLMProvidersYAML()
	if err != nil && !errors.Is(err, ErrConfigNotFound) {
		return nil, NewLoadError(providersConfigFile, err)
	}

	reportCfg := DefaultReportConfig()
	if mainCfg.Report != nil {
		if err := mergo.Merge(reportCfg, mainCfg.Report, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge report config: %w", err)
		}
	}

	profiles, err := mergeAgentProfiles(builtinAgentProfiles(), mainCfg.Agents)
	if err != nil {
		return nil, err
	}

	promptsDir := mainCfg.PromptsDir
	if promptsDir != "" && !filepath.IsAbs(promptsDir) {
		promptsDir = filepath.Join(configDir, promptsDir)
	}

	return &Config{
		configDir:           configDir,
		Report:              reportCfg,
		PromptsDir:          promptsDir,
		AgentProfiles:       NewAgentProfileRegistry(profiles),
		LLMProviderRegistry: NewLLMProviderRegistry(mergeLLMProviders(builtinLLMProviders(), providers)),
	}, nil
}

func validate(cfg *Config) error {
	return NewValidator(cfg).ValidateAll()
}

// mergeAgentProfiles overlays user profiles onto the built-in ones field by field.
func mergeAgentProfiles(builtin map[AgentType]AgentProfile, user map[AgentType]AgentProfile) (map[AgentType]*AgentProfile, error) {
	result := make(map[AgentType]*AgentProfile, len(builtin)+len(user))
	for t, p := range builtin {
		profile := p
		result[t] = &profile
	}
	for t, p := range user {
		existing, ok := result[t]
		if !ok {
			profile := p
			result[t] = &profile
			continue
		}
		if err := mergo.Merge(existing, p, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge agent profile %s: %w", t, err)
		}
	}
	return result, nil
}

// mergeLLMProviders adds user providers, replacing built-ins with the same name.
func mergeLLMProviders(builtin map[string]LLMProviderConfig, user map[string]LLMProviderConfig) map[string]*LLMProviderConfig {
	result := make(map[string]*LLMProviderConfig, len(builtin)+len(user))
	for name, p := range builtin {
		provider := p
		result[name] = &provider
	}
	for name, p := range user {
		provider := p
		result[name] = &provider
	}
	return result
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

func (l *configLoader) loadMainYAML() (*DeepReportYAMLConfig, error) {
	cfg := DeepReportYAMLConfig{Agents: make(map[AgentType]AgentProfile)}
	if err := l.loadYAML(mainConfigFile, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *configLoader) loadLLMProvidersYAML() (map[string]LLMProviderConfig, error) {
	cfg := LLMProvidersYAMLConfig{LLMProviders: make(map[string]LLMProviderConfig)}
	if err := l.loadYAML(providersConfigFile, &cfg); err != nil {
		return nil, err
	}
	return cfg.LLMProviders, nil
}
