package llm

import (
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/deepreport/pkg/config"
)

func TestToEinoTools(t *testing.T) {
	def := ToolDefinition{
		Name:        "Search",
		Description: "query a dataset",
		Parameters: &Schema{
			Type: TypeObject,
			Properties: map[string]*Schema{
				"scenario_description": {Type: TypeString, Description: "what to look for"},
				"table": {
					Type: TypeObject,
					Properties: map[string]*Schema{
						"table_name":    {Type: TypeString},
						"target_fields": {Type: TypeArray, Items: &Schema{Type: TypeString}},
					},
					Required: []string{"table_name"},
				},
			},
			Required: []string{"scenario_description", "table"},
		},
	}

	infos := toEinoTools([]ToolDefinition{def})
	require.Len(t, infos, 1)
	assert.Equal(t, "Search", infos[0].Name)
	assert.Equal(t, "query a dataset", infos[0].Desc)
	require.NotNil(t, infos[0].ParamsOneOf)

	params := toParamInfos(def.Parameters)
	require.Contains(t, params, "table")
	assert.True(t, params["scenario_description"].Required)
	assert.Equal(t, schema.Object, params["table"].Type)
	assert.True(t, params["table"].SubParams["table_name"].Required)
	assert.False(t, params["table"].SubParams["target_fields"].Required)
	require.NotNil(t, params["table"].SubParams["target_fields"].ElemInfo)
	assert.Equal(t, schema.String, params["table"].SubParams["target_fields"].ElemInfo.Type)
}

func TestToEinoMessages(t *testing.T) {
	call := ToolCall{ID: "c1", Name: "Clarification", Arguments: `{"requirement":"r"}`}
	msgs := toEinoMessages([]Message{
		SystemMessage("sys"),
		AssistantMessage("", call),
		ToolMessage(call, "confirmed"),
	})

	require.Len(t, msgs, 3)
	assert.Equal(t, schema.System, msgs[0].Role)
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, "c1", msgs[1].ToolCalls[0].ID)
	assert.Equal(t, "Clarification", msgs[1].ToolCalls[0].Function.Name)
	assert.Equal(t, schema.Tool, msgs[2].Role)
	assert.Equal(t, "c1", msgs[2].ToolCallID)
}

func TestFromEinoMessage(t *testing.T) {
	idx := 2
	chunks := fromEinoMessage(&schema.Message{
		Role:             schema.Assistant,
		ReasoningContent: "hmm",
		Content:          "text",
		ToolCalls: []schema.ToolCall{
			{Index: &idx, ID: "c9", Function: schema.FunctionCall{Name: "Section", Arguments: `{"na`}},
		},
		ResponseMeta: &schema.ResponseMeta{Usage: &schema.TokenUsage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7}},
	})

	require.Len(t, chunks, 4)
	assert.Equal(t, &ThinkingChunk{Content: "hmm"}, chunks[0])
	assert.Equal(t, &TextChunk{Content: "text"}, chunks[1])
	assert.Equal(t, &ToolCallChunk{Index: 2, ID: "c9", Name: "Section", Arguments: `{"na`}, chunks[2])
	assert.Equal(t, &UsageChunk{InputTokens: 3, OutputTokens: 4, TotalTokens: 7}, chunks[3])

	assert.Nil(t, fromEinoMessage(nil))
}

func TestToEinoOptions(t *testing.T) {
	temp := float32(0.2)
	maxTokens := 512
	opts := toEinoOptions(&GenerateInput{
		Provider: &config.LLMProviderConfig{Model: "base"},
		Profile:  &config.AgentProfile{Model: "override", Temperature: &temp, MaxTokens: &maxTokens},
	})
	// provider model, profile model, temperature, max tokens
	assert.Len(t, opts, 4)
}
