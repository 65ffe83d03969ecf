package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/codeready-toolchain/deepreport/pkg/config"
	"github.com/codeready-toolchain/deepreport/pkg/metrics"
)

// ErrNotConfigured is returned before any network call when the provider
// resolved for an agent has no API key.
var ErrNotConfigured = errors.New("LLM provider not configured")

// Retry schedule for transient failures: 1s, 2s, 4s.
const (
	maxRetries      = 3
	retryBase       = time.Second
	retryMultiplier = 2
)

// ProfileResolver maps an agent type to its model parameters and provider.
// Implemented by *config.Config.
type ProfileResolver interface {
	ResolveAgent(agentType config.AgentType) (*config.AgentProfile, *config.LLMProviderConfig, error)
}

// Request is one structured completion.
type Request struct {
	Agent    config.AgentType
	Messages []Message
	Tools    []ToolDefinition
	// Sink observes fragments while the reply streams in. Optional.
	Sink StreamSink
}

// Gateway runs completions through a Transport with credential checks,
// per-provider rate limiting and retries.
type Gateway struct {
	transport  Transport
	resolver   ProfileResolver
	metrics    *metrics.Metrics
	newBackOff func() backoff.BackOff

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithMetrics records request outcomes and retries.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithBackOff replaces the retry schedule. The policy must bound the number of retries.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(g *Gateway) { g.newBackOff = f }
}

// NewGateway creates a gateway.
func NewGateway(transport Transport, resolver ProfileResolver, opts ...Option) *Gateway {
	g := &Gateway{
		transport:  transport,
		resolver:   resolver,
		newBackOff: defaultBackOff,
		limiters:   make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryBase
	b.Multiplier = retryMultiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, maxRetries)
}

// Complete runs one completion and returns the aggregated reply. Every
// streamed fragment is also delivered to req.Sink as it arrives.
func (g *Gateway) Complete(ctx context.Context, req *Request) (*Response, error) {
	profile, provider, err := g.resolver.ResolveAgent(req.Agent)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve agent %q: %w", req.Agent, err)
	}
	if provider.APIKey() == "" {
		return nil, fmt.Errorf("%w: environment variable %s is empty", ErrNotConfigured, provider.APIKeyEnv)
	}

	input := &GenerateInput{
		Messages: req.Messages,
		Tools:    req.Tools,
		Provider: provider,
		Profile:  profile,
	}
	agent := string(req.Agent)
	start := time.Now()

	var resp *Response
	attempt := 0
	op := func() error {
		if attempt > 0 {
			g.metrics.IncLLMRetry(agent)
		}
		attempt++

		if err := g.wait(ctx, provider); err != nil {
			return backoff.Permanent(err)
		}
		r, err := g.generateOnce(ctx, input, req.Sink)
		if err != nil {
			if ctx.Err() != nil || !IsTransient(err) {
				return backoff.Permanent(err)
			}
			slog.Warn("Transient LLM failure, retrying",
				"agent", agent, "attempt", attempt, "error", err)
			return err
		}
		resp = r
		return nil
	}

	err = backoff.Retry(op, backoff.WithContext(g.newBackOff(), ctx))
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	g.metrics.ObserveLLM(agent, outcome, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("LLM completion for %s failed after %d attempt(s): %w", agent, attempt, err)
	}
	return resp, nil
}

// Close releases the transport.
func (g *Gateway) Close() error {
	return g.transport.Close()
}

func (g *Gateway) generateOnce(ctx context.Context, input *GenerateInput, sink StreamSink) (*Response, error) {
	// A derived context guarantees the producer goroutine exits when we return.
	llmCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := g.transport.Generate(llmCtx, input)
	if err != nil {
		return nil, err
	}
	return collectStream(stream, sink)
}

func (g *Gateway) wait(ctx context.Context, provider *config.LLMProviderConfig) error {
	if provider.RPM <= 0 {
		return nil
	}
	g.limMu.Lock()
	lim, ok := g.limiters[provider.BaseURL]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(provider.RPM)/60.0), 1)
		g.limiters[provider.BaseURL] = lim
	}
	g.limMu.Unlock()
	return lim.Wait(ctx)
}

// transientError is implemented by errors that know whether they are retryable.
type transientError interface {
	Transient() bool
}

var statusCodeRe = regexp.MustCompile(`status code:? (\d{3})`)

var transientMarkers = []string{
	"rate limit",
	"too many requests",
	"connection refused",
	"connection reset",
	"broken pipe",
	"timeout",
	"temporarily unavailable",
	"unexpected eof",
	"server error",
}

// IsTransient classifies rate limits, connection problems and server-side
// API errors as retryable. Cancellation and client errors are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrNotConfigured) {
		return false
	}
	var te transientError
	if errors.As(err, &te) {
		return te.Transient()
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	msg := strings.ToLower(err.Error())
	if m := statusCodeRe.FindStringSubmatch(msg); m != nil {
		switch {
		case m[1] == "408", m[1] == "409", m[1] == "429":
			return true
		case m[1][0] == '4':
			return false
		default:
			return true
		}
	}
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
