package llm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// FragmentKind identifies an incremental piece of a streamed completion.
type FragmentKind string

const (
	FragmentThinking FragmentKind = "thinking"
	FragmentContent  FragmentKind = "content"
	FragmentToolName FragmentKind = "tool_name"
	FragmentToolArgs FragmentKind = "tool_args"
)

// StreamSink observes fragments as they arrive. It is called synchronously
// from the collecting goroutine and must not block for long.
type StreamSink interface {
	OnFragment(kind FragmentKind, value string)
}

// SinkFunc adapts a function to StreamSink.
type SinkFunc func(kind FragmentKind, value string)

// OnFragment implements StreamSink.
func (f SinkFunc) OnFragment(kind FragmentKind, value string) { f(kind, value) }

// streamError is a provider error delivered inside the stream.
type streamError struct {
	msg       string
	retryable bool
}

func (e *streamError) Error() string { return "LLM stream error: " + e.msg }

// Transient reports whether the provider marked the error retryable.
func (e *streamError) Transient() bool { return e.retryable }

// collectStream drains a chunk channel into one Response. Tool-call fragments
// are correlated by Index and their names and arguments concatenated in
// arrival order. sink may be nil.
func collectStream(stream <-chan Chunk, sink StreamSink) (*Response, error) {
	resp := &Response{}
	var textBuf, thinkingBuf strings.Builder

	type partialCall struct {
		id   string
		name strings.Builder
		args strings.Builder
	}
	calls := make(map[int]*partialCall)

	emit := func(kind FragmentKind, value string) {
		if sink != nil && value != "" {
			sink.OnFragment(kind, value)
		}
	}

	for chunk := range stream {
		switch c := chunk.(type) {
		case *TextChunk:
			textBuf.WriteString(c.Content)
			emit(FragmentContent, c.Content)
		case *ThinkingChunk:
			thinkingBuf.WriteString(c.Content)
			emit(FragmentThinking, c.Content)
		case *ToolCallChunk:
			pc, ok := calls[c.Index]
			if !ok {
				pc = &partialCall{}
				calls[c.Index] = pc
			}
			if pc.id == "" && c.ID != "" {
				pc.id = c.ID
			}
			pc.name.WriteString(c.Name)
			pc.args.WriteString(c.Arguments)
			emit(FragmentToolName, c.Name)
			emit(FragmentToolArgs, c.Arguments)
		case *UsageChunk:
			resp.Usage = &Usage{
				InputTokens:  c.InputTokens,
				OutputTokens: c.OutputTokens,
				TotalTokens:  c.TotalTokens,
			}
		case *ErrorChunk:
			return nil, &streamError{msg: c.Message, retryable: c.Retryable}
		default:
			return nil, fmt.Errorf("unexpected chunk type %T", chunk)
		}
	}

	indexes := make([]int, 0, len(calls))
	for idx := range calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		pc := calls[idx]
		id := pc.id
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        id,
			Name:      pc.name.String(),
			Arguments: pc.args.String(),
		})
	}

	resp.Text = textBuf.String()
	resp.Thinking = thinkingBuf.String()
	return resp, nil
}
