// Package agenttest provides a scripted Completer for agent tests.
package agenttest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/codeready-toolchain/deepreport/pkg/config"
	"github.com/codeready-toolchain/deepreport/pkg/llm"
)

// Handler produces the reply to one request.
type Handler func(req *llm.Request) (*llm.Response, error)

// Completer replays scripted replies per agent type. Queued handlers are
// consumed in order; once a queue is empty the agent's fallback handler
// answers, and without one the call fails.
type Completer struct {
	mu       sync.Mutex
	queues   map[config.AgentType][]Handler
	fallback map[config.AgentType]Handler
	calls    map[config.AgentType][]*llm.Request
	seq      int
}

// New creates an empty script.
func New() *Completer {
	return &Completer{
		queues:   make(map[config.AgentType][]Handler),
		fallback: make(map[config.AgentType]Handler),
		calls:    make(map[config.AgentType][]*llm.Request),
	}
}

// On queues handlers for an agent type.
func (c *Completer) On(agent config.AgentType, handlers ...Handler) *Completer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queues[agent] = append(c.queues[agent], handlers...)
	return c
}

// Always sets the handler used once the agent's queue is empty.
func (c *Completer) Always(agent config.AgentType, h Handler) *Completer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallback[agent] = h
	return c
}

// Complete implements agent.Completer.
func (c *Completer) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snapshot := *req
	snapshot.Messages = append([]llm.Message(nil), req.Messages...)

	c.mu.Lock()
	c.calls[req.Agent] = append(c.calls[req.Agent], &snapshot)
	var h Handler
	if q := c.queues[req.Agent]; len(q) > 0 {
		h, c.queues[req.Agent] = q[0], q[1:]
	} else {
		h = c.fallback[req.Agent]
	}
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	if h == nil {
		return nil, fmt.Errorf("no scripted reply for agent %s", req.Agent)
	}
	resp, err := h(&snapshot)
	if err != nil {
		return nil, err
	}
	for i := range resp.ToolCalls {
		if resp.ToolCalls[i].ID == "" {
			resp.ToolCalls[i].ID = fmt.Sprintf("call_%d_%d", seq, i)
		}
	}
	if req.Sink != nil && resp.Text != "" {
		req.Sink.OnFragment(llm.FragmentContent, resp.Text)
	}
	return resp, nil
}

// Calls returns the requests received for an agent type.
func (c *Completer) Calls(agent config.AgentType) []*llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*llm.Request(nil), c.calls[agent]...)
}

// Reply returns a handler answering with a fresh copy of resp.
func Reply(resp *llm.Response) Handler {
	return func(*llm.Request) (*llm.Response, error) {
		cp := *resp
		cp.ToolCalls = append([]llm.ToolCall(nil), resp.ToolCalls...)
		return &cp, nil
	}
}

// Fail returns a handler failing with err.
func Fail(err error) Handler {
	return func(*llm.Request) (*llm.Response, error) { return nil, err }
}

// ToolCall builds a reply calling tool name with args marshalled to JSON.
// A string args is used verbatim.
func ToolCall(name string, args any) *llm.Response {
	var raw string
	switch a := args.(type) {
	case string:
		raw = a
	default:
		data, err := json.Marshal(a)
		if err != nil {
			panic(fmt.Sprintf("agenttest: marshal %s args: %v", name, err))
		}
		raw = string(data)
	}
	return &llm.Response{ToolCalls: []llm.ToolCall{{Name: name, Arguments: raw}}}
}

// Text builds a plain text reply.
func Text(s string) *llm.Response {
	return &llm.Response{Text: s}
}

// LastMessage returns the content of the request's last message.
func LastMessage(req *llm.Request) string {
	if len(req.Messages) == 0 {
		return ""
	}
	return req.Messages[len(req.Messages)-1].Content
}
