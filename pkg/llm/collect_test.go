package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedFragment struct {
	kind  FragmentKind
	value string
}

func recordingSink(out *[]recordedFragment) StreamSink {
	return SinkFunc(func(kind FragmentKind, value string) {
		*out = append(*out, recordedFragment{kind, value})
	})
}

func chunkStream(chunks ...Chunk) <-chan Chunk {
	ch := make(chan Chunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

func TestCollectStream_NilSink(t *testing.T) {
	resp, err := collectStream(chunkStream(
		&TextChunk{Content: "Hello "},
		&TextChunk{Content: "world"},
		&UsageChunk{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	), nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", resp.Text)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.Empty(t, resp.ToolCalls)
}

func TestCollectStream_SinkSeesEveryFragment(t *testing.T) {
	var got []recordedFragment
	resp, err := collectStream(chunkStream(
		&ThinkingChunk{Content: "Let me "},
		&ThinkingChunk{Content: "think"},
		&TextChunk{Content: "ok"},
		&ToolCallChunk{Index: 0, ID: "call_1", Name: "Sea"},
		&ToolCallChunk{Index: 0, Name: "rch", Arguments: `{"a":`},
		&ToolCallChunk{Index: 0, Arguments: `1}`},
	), recordingSink(&got))
	require.NoError(t, err)

	assert.Equal(t, "Let me think", resp.Thinking)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, []recordedFragment{
		{FragmentThinking, "Let me "},
		{FragmentThinking, "think"},
		{FragmentContent, "ok"},
		{FragmentToolName, "Sea"},
		{FragmentToolName, "rch"},
		{FragmentToolArgs, `{"a":`},
		{FragmentToolArgs, `1}`},
	}, got)
}

func TestCollectStream_ToolCallsCorrelatedByIndex(t *testing.T) {
	// Fragments of two calls interleave; only the first fragment of each has an id.
	resp, err := collectStream(chunkStream(
		&ToolCallChunk{Index: 1, ID: "call_b", Name: "Section", Arguments: `{"name":`},
		&ToolCallChunk{Index: 0, ID: "call_a", Name: "Search", Arguments: `{"table":`},
		&ToolCallChunk{Index: 1, Arguments: `"x"}`},
		&ToolCallChunk{Index: 0, Arguments: `"t"}`},
	), nil)
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 2)
	assert.Equal(t, ToolCall{ID: "call_a", Name: "Search", Arguments: `{"table":"t"}`}, resp.ToolCalls[0])
	assert.Equal(t, ToolCall{ID: "call_b", Name: "Section", Arguments: `{"name":"x"}`}, resp.ToolCalls[1])
}

func TestCollectStream_MissingIDGetsGenerated(t *testing.T) {
	resp, err := collectStream(chunkStream(
		&ToolCallChunk{Index: 0, Name: "Sections", Arguments: `{}`},
	), nil)
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.True(t, strings.HasPrefix(resp.ToolCalls[0].ID, "call_"))
}

func TestCollectStream_ErrorChunk(t *testing.T) {
	tests := []struct {
		name      string
		retryable bool
	}{
		{"retryable", true},
		{"permanent", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := collectStream(chunkStream(
				&TextChunk{Content: "partial"},
				&ErrorChunk{Message: "boom", Retryable: tt.retryable},
			), nil)
			require.Error(t, err)
			assert.Nil(t, resp)
			assert.Contains(t, err.Error(), "boom")
			assert.Equal(t, tt.retryable, IsTransient(err))
		})
	}
}
