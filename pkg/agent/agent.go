// Package agent holds what every report agent shares: the completion
// interface they call, per-run telemetry, iteration bookkeeping and
// tool-argument decoding. The agents themselves live in subpackages:
// planner, researcher, nl2sql, section, summary and orchestrator.
package agent

import (
	"context"

	"github.com/codeready-toolchain/deepreport/pkg/llm"
)

// Completer runs one structured completion. Implemented by *llm.Gateway.
type Completer interface {
	Complete(ctx context.Context, req *llm.Request) (*llm.Response, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req *llm.Request) (*llm.Response, error)

// Complete implements Completer.
func (f CompleterFunc) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	return f(ctx, req)
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Call sends req through c, recording the request, every streamed fragment
// and the aggregated response on run.
func Call(ctx context.Context, c Completer, run *Run, req *llm.Request) (*llm.Response, error) {
	run.Request(ctx, req.Messages)
	if req.Sink == nil {
		req.Sink = run.Sink(ctx)
	}
	resp, err := c.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	run.Response(ctx, resp)
	return resp, nil
}
