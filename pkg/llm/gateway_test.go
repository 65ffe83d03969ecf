package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/deepreport/pkg/config"
)

const testKeyEnv = "DEEPREPORT_TEST_LLM_KEY"

// scriptedTransport replays one step per Generate call.
type scriptedTransport struct {
	mu    sync.Mutex
	steps []step
	calls int
	seen  []*GenerateInput
}

type step struct {
	err    error
	chunks []Chunk
}

func (s *scriptedTransport) Generate(_ context.Context, input *GenerateInput) (<-chan Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, input)
	if s.calls >= len(s.steps) {
		return nil, fmt.Errorf("unexpected call %d", s.calls+1)
	}
	st := s.steps[s.calls]
	s.calls++
	if st.err != nil {
		return nil, st.err
	}
	return chunkStream(st.chunks...), nil
}

func (s *scriptedTransport) Close() error { return nil }

type staticResolver struct {
	profile  *config.AgentProfile
	provider *config.LLMProviderConfig
}

func (r staticResolver) ResolveAgent(config.AgentType) (*config.AgentProfile, *config.LLMProviderConfig, error) {
	return r.profile, r.provider, nil
}

func testResolver() staticResolver {
	temp := float32(0.3)
	return staticResolver{
		profile:  &config.AgentProfile{Provider: "test", Model: "m", Temperature: &temp},
		provider: &config.LLMProviderConfig{BaseURL: "http://llm.local/v1", APIKeyEnv: testKeyEnv, Model: "m"},
	}
}

func fastRetries() func() backoff.BackOff {
	return func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, maxRetries)
	}
}

func TestGateway_Complete(t *testing.T) {
	t.Setenv(testKeyEnv, "secret")
	transport := &scriptedTransport{steps: []step{{chunks: []Chunk{
		&TextChunk{Content: "thinking aloud"},
		&ToolCallChunk{Index: 0, ID: "c1", Name: "Sections", Arguments: `{"topic":"t"}`},
	}}}}
	g := NewGateway(transport, testResolver(), WithBackOff(fastRetries()))

	tools := []ToolDefinition{{Name: "Sections", Parameters: &Schema{Type: TypeObject}}}
	resp, err := g.Complete(context.Background(), &Request{
		Agent:    config.AgentTypeCenter,
		Messages: []Message{SystemMessage("s"), UserMessage("u")},
		Tools:    tools,
	})
	require.NoError(t, err)

	call, ok := resp.FirstToolCall()
	require.True(t, ok)
	assert.Equal(t, "Sections", call.Name)
	assert.Equal(t, "thinking aloud", resp.Text)

	require.Len(t, transport.seen, 1)
	assert.Len(t, transport.seen[0].Messages, 2)
	assert.Equal(t, tools, transport.seen[0].Tools)
	assert.Equal(t, "m", transport.seen[0].Profile.Model)
}

func TestGateway_MissingCredentialFailsBeforeAnyCall(t *testing.T) {
	t.Setenv(testKeyEnv, "")
	transport := &scriptedTransport{}
	g := NewGateway(transport, testResolver(), WithBackOff(fastRetries()))

	_, err := g.Complete(context.Background(), &Request{Agent: config.AgentTypeCenter})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, 0, transport.calls)
}

func TestGateway_Retries(t *testing.T) {
	transientErr := errors.New("error, status code: 429, message: rate limit exceeded")
	okStep := step{chunks: []Chunk{&TextChunk{Content: "done"}}}

	tests := []struct {
		name      string
		steps     []step
		wantErr   bool
		wantCalls int
	}{
		{
			name:      "transient then success",
			steps:     []step{{err: transientErr}, {err: transientErr}, okStep},
			wantCalls: 3,
		},
		{
			name:      "transient stream error then success",
			steps:     []step{{chunks: []Chunk{&ErrorChunk{Message: "reset", Retryable: true}}}, okStep},
			wantCalls: 2,
		},
		{
			name:      "gives up after three retries",
			steps:     []step{{err: transientErr}, {err: transientErr}, {err: transientErr}, {err: transientErr}, okStep},
			wantErr:   true,
			wantCalls: 4,
		},
		{
			name:      "permanent error is not retried",
			steps:     []step{{err: errors.New("error, status code: 400, message: bad tool schema")}, okStep},
			wantErr:   true,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(testKeyEnv, "secret")
			transport := &scriptedTransport{steps: tt.steps}
			g := NewGateway(transport, testResolver(), WithBackOff(fastRetries()))

			resp, err := g.Complete(context.Background(), &Request{Agent: config.AgentTypeResearch})
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "done", resp.Text)
			}
			assert.Equal(t, tt.wantCalls, transport.calls)
		})
	}
}

func TestGateway_DefaultBackOffSchedule(t *testing.T) {
	b := defaultBackOff()
	b.Reset()
	var delays []string
	for {
		d := b.NextBackOff()
		if d == backoff.Stop {
			break
		}
		delays = append(delays, d.String())
	}
	assert.Equal(t, []string{"1s", "2s", "4s"}, delays)
}

func TestGateway_CancelledContextStopsRetrying(t *testing.T) {
	t.Setenv(testKeyEnv, "secret")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	transport := &scriptedTransport{steps: []step{{err: context.Canceled}}}
	g := NewGateway(transport, testResolver(), WithBackOff(fastRetries()))

	_, err := g.Complete(ctx, &Request{Agent: config.AgentTypeSummary})
	require.Error(t, err)
	assert.LessOrEqual(t, transport.calls, 1)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), false},
		{ErrNotConfigured, false},
		{errors.New("error, status code: 429, message: too many"), true},
		{errors.New("error, status code: 503, message: overloaded"), true},
		{errors.New("error, status code: 401, message: invalid key"), false},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("read: connection reset by peer"), true},
		{errors.New("invalid character 'x' looking for beginning of value"), false},
	}
	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
