package config

// DefaultProviderName is the provider used by profiles that name none.
const DefaultProviderName = "dashscope"

func builtinLLMProviders() map[string]LLMProviderConfig {
	return map[string]LLMProviderConfig{
		DefaultProviderName: {
			BaseURL:   "https://dashscope.aliyuncs.com/compatible-mode/v1",
			APIKeyEnv: "DASHSCOPE_API_KEY",
			Model:     "qwen3-max",
		},
	}
}

func builtinAgentProfiles() map[AgentType]AgentProfile {
	return map[AgentType]AgentProfile{
		AgentTypeDefault: {
			Provider:    DefaultProviderName,
			Model:       "qwen3-max",
			Temperature: ptr[float32](0.7),
			MaxTokens:   ptr(8192),
			TopP:        ptr[float32](0.9),
		},
		AgentTypeCenter:   {Temperature: ptr[float32](0.7)},
		AgentTypeResearch: {MaxTokens: ptr(16384)},
		AgentTypeNL2SQL:   {Temperature: ptr[float32](0.3)},
		AgentTypeChart:    {Temperature: ptr[float32](0.3)},
		AgentTypeSummary:  {Temperature: ptr[float32](0.7)},
	}
}

func ptr[T any](v T) *T { return &v }
