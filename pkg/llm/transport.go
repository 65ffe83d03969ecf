package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/codeready-toolchain/deepreport/pkg/config"
)

// Transport sends one conversation to a provider and streams the reply.
// The returned channel is closed when the stream completes. Errors after the
// call started are delivered as ErrorChunk values.
type Transport interface {
	Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error)
	Close() error
}

// EinoTransport implements Transport on top of eino's OpenAI-compatible chat
// model. One chat model is created per provider base URL and key and reused.
type EinoTransport struct {
	mu     sync.Mutex
	models map[string]*openai.ChatModel
}

// NewEinoTransport creates a transport with an empty model cache.
func NewEinoTransport() *EinoTransport {
	return &EinoTransport{models: make(map[string]*openai.ChatModel)}
}

// Generate streams a completion for input.
func (t *EinoTransport) Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error) {
	if input.Provider == nil {
		return nil, fmt.Errorf("no provider configured for request")
	}
	cm, err := t.chatModel(ctx, input.Provider)
	if err != nil {
		return nil, err
	}

	var m model.BaseChatModel = cm
	if len(input.Tools) > 0 {
		tm, err := cm.WithTools(toEinoTools(input.Tools))
		if err != nil {
			return nil, fmt.Errorf("failed to bind tools: %w", err)
		}
		m = tm
	}

	sr, err := m.Stream(ctx, toEinoMessages(input.Messages), toEinoOptions(input)...)
	if err != nil {
		return nil, err
	}

	ch := make(chan Chunk, 32)
	go func() {
		defer close(ch)
		defer sr.Close()
		for {
			msg, err := sr.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				select {
				case ch <- &ErrorChunk{Message: err.Error(), Retryable: IsTransient(err)}:
				case <-ctx.Done():
				}
				return
			}
			for _, chunk := range fromEinoMessage(msg) {
				select {
				case ch <- chunk:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, nil
}

// Close drops cached models. The underlying HTTP clients hold no connections
// that need an explicit close.
func (t *EinoTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.models = make(map[string]*openai.ChatModel)
	return nil
}

func (t *EinoTransport) chatModel(ctx context.Context, p *config.LLMProviderConfig) (*openai.ChatModel, error) {
	apiKey := p.APIKey()
	key := p.BaseURL + "|" + p.APIKeyEnv

	t.mu.Lock()
	defer t.mu.Unlock()
	if cm, ok := t.models[key]; ok {
		return cm, nil
	}
	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL: p.BaseURL,
		APIKey:  apiKey,
		Model:   p.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model for %s: %w", p.BaseURL, err)
	}
	slog.Debug("Created chat model", "base_url", p.BaseURL, "model", p.Model)
	t.models[key] = cm
	return cm, nil
}

func toEinoOptions(input *GenerateInput) []model.Option {
	var opts []model.Option
	if input.Provider != nil && input.Provider.Model != "" {
		opts = append(opts, model.WithModel(input.Provider.Model))
	}
	p := input.Profile
	if p == nil {
		return opts
	}
	if p.Model != "" {
		opts = append(opts, model.WithModel(p.Model))
	}
	if p.Temperature != nil {
		opts = append(opts, model.WithTemperature(*p.Temperature))
	}
	if p.MaxTokens != nil {
		opts = append(opts, model.WithMaxTokens(*p.MaxTokens))
	}
	if p.TopP != nil {
		opts = append(opts, model.WithTopP(*p.TopP))
	}
	return opts
}

func toEinoMessages(msgs []Message) []*schema.Message {
	out := make([]*schema.Message, len(msgs))
	for i, m := range msgs {
		em := &schema.Message{
			Role:       schema.RoleType(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			ToolName:   m.ToolName,
		}
		for j, tc := range m.ToolCalls {
			idx := j
			em.ToolCalls = append(em.ToolCalls, schema.ToolCall{
				Index: &idx,
				ID:    tc.ID,
				Type:  "function",
				Function: schema.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out[i] = em
	}
	return out
}

func toEinoTools(tools []ToolDefinition) []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, len(tools))
	for i, t := range tools {
		info := &schema.ToolInfo{Name: t.Name, Desc: t.Description}
		if t.Parameters != nil {
			info.ParamsOneOf = schema.NewParamsOneOfByParams(toParamInfos(t.Parameters))
		}
		out[i] = info
	}
	return out
}

// toParamInfos converts an object schema's properties into eino parameter infos.
func toParamInfos(s *Schema) map[string]*schema.ParameterInfo {
	if s == nil || len(s.Properties) == 0 {
		return nil
	}
	required := make(map[string]bool, len(s.Required))
	for _, r := range s.Required {
		required[r] = true
	}
	params := make(map[string]*schema.ParameterInfo, len(s.Properties))
	for name, prop := range s.Properties {
		pi := toParamInfo(prop)
		pi.Required = required[name]
		params[name] = pi
	}
	return params
}

func toParamInfo(s *Schema) *schema.ParameterInfo {
	pi := &schema.ParameterInfo{
		Type: schema.DataType(s.Type),
		Desc: s.Description,
		Enum: s.Enum,
	}
	switch s.Type {
	case TypeObject:
		pi.SubParams = toParamInfos(s)
	case TypeArray:
		if s.Items != nil {
			pi.ElemInfo = toParamInfo(s.Items)
		}
	}
	return pi
}

// fromEinoMessage splits one streamed message frame into chunks.
func fromEinoMessage(msg *schema.Message) []Chunk {
	if msg == nil {
		return nil
	}
	var chunks []Chunk
	if msg.ReasoningContent != "" {
		chunks = append(chunks, &ThinkingChunk{Content: msg.ReasoningContent})
	}
	if msg.Content != "" {
		chunks = append(chunks, &TextChunk{Content: msg.Content})
	}
	for i, tc := range msg.ToolCalls {
		idx := i
		if tc.Index != nil {
			idx = *tc.Index
		}
		chunks = append(chunks, &ToolCallChunk{
			Index:     idx,
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
		u := msg.ResponseMeta.Usage
		chunks = append(chunks, &UsageChunk{
			InputTokens:  u.PromptTokens,
			OutputTokens: u.CompletionTokens,
			TotalTokens:  u.TotalTokens,
		})
	}
	return chunks
}
