// Package llm is the structured-completion gateway: it sends a conversation
// plus declared tools to an OpenAI-compatible model, aggregates the streamed
// reply into text and tool calls and retries transient failures.
package llm

import (
	"github.com/codeready-toolchain/deepreport/pkg/config"
)

// Role is the author of a conversation message.
type Role string

// Conversation roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of a conversation. It is JSON-serializable so that a
// planner conversation can be carried across a clarification round trip.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // assistant messages
	ToolCallID string     `json:"tool_call_id,omitempty"` // tool result messages
	ToolName   string     `json:"tool_name,omitempty"`    // tool result messages
}

// SystemMessage builds a system turn.
func SystemMessage(content string) Message { return Message{Role: RoleSystem, Content: content} }

// UserMessage builds a user turn.
func UserMessage(content string) Message { return Message{Role: RoleUser, Content: content} }

// AssistantMessage builds an assistant turn, optionally carrying tool calls.
func AssistantMessage(content string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolMessage builds the result turn answering a tool call.
func ToolMessage(call ToolCall, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: call.ID, ToolName: call.Name}
}

// ToolCall is a model request to invoke a declared tool.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON
}

// ToolDefinition declares a tool the model may call.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  *Schema
}

// Schema is the subset of JSON Schema used to declare tool parameters.
// It marshals to a valid JSON Schema document.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
}

// Schema type names.
const (
	TypeObject  = "object"
	TypeArray   = "array"
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
)

// Usage is token accounting for one completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Response is the aggregated result of one completion.
type Response struct {
	Text      string
	Thinking  string
	ToolCalls []ToolCall
	Usage     *Usage
}

// FirstToolCall returns the first tool call, if any.
func (r *Response) FirstToolCall() (ToolCall, bool) {
	if r == nil || len(r.ToolCalls) == 0 {
		return ToolCall{}, false
	}
	return r.ToolCalls[0], true
}

// GenerateInput is what a Transport sends to the provider.
type GenerateInput struct {
	Messages []Message
	Tools    []ToolDefinition // nil = no tools
	Provider *config.LLMProviderConfig
	Profile  *config.AgentProfile
}

// Chunk is the interface for all streaming chunk types.
type Chunk interface {
	chunkType() ChunkType
}

// ChunkType identifies the kind of streaming chunk.
type ChunkType string

const (
	ChunkTypeText     ChunkType = "text"
	ChunkTypeThinking ChunkType = "thinking"
	ChunkTypeToolCall ChunkType = "tool_call"
	ChunkTypeUsage    ChunkType = "usage"
	ChunkTypeError    ChunkType = "error"
)

// TextChunk is a chunk of the model's text response.
type TextChunk struct{ Content string }

// ThinkingChunk is a chunk of the model's reasoning.
type ThinkingChunk struct{ Content string }

// ToolCallChunk is one fragment of a tool call. Fragments of the same call
// share Index; usually only the first one carries ID and Name.
type ToolCallChunk struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// UsageChunk reports token consumption.
type UsageChunk struct{ InputTokens, OutputTokens, TotalTokens int }

// ErrorChunk signals a provider error mid-stream.
type ErrorChunk struct {
	Message   string
	Retryable bool
}

func (c *TextChunk) chunkType() ChunkType     { return ChunkTypeText }
func (c *ThinkingChunk) chunkType() ChunkType { return ChunkTypeThinking }
func (c *ToolCallChunk) chunkType() ChunkType { return ChunkTypeToolCall }
func (c *UsageChunk) chunkType() ChunkType    { return ChunkTypeUsage }
func (c *ErrorChunk) chunkType() ChunkType    { return ChunkTypeError }
