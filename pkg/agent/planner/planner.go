// Package planner implements the center agent: it turns a user request and
// the dataset knowledge into a report outline, asking the user for
// clarification at most once per report.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codeready-toolchain/deepreport/pkg/agent"
	"github.com/codeready-toolchain/deepreport/pkg/agent/prompt"
	"github.com/codeready-toolchain/deepreport/pkg/config"
	"github.com/codeready-toolchain/deepreport/pkg/llm"
	"github.com/codeready-toolchain/deepreport/pkg/models"
)

// DefaultMaxIterations bounds planner turns when none is configured.
const DefaultMaxIterations = 5

// ErrNoOutline is returned when the turn budget is spent without a Sections call.
var ErrNoOutline = errors.New("could not produce a valid outline")

const (
	nudgeSections        = "Please call the Sections tool now with the complete outline."
	clarificationReused  = "Clarification has already been used for this report. Do not ask again; call Sections now."
	emptySectionsMessage = "sections must not be empty; plan at least one section"
)

// Input is one planner invocation. Clarification is set when resuming
// after the user answered a clarification.
type Input struct {
	SessionID     string
	Request       string
	Knowledge     string
	Clarification *models.ClarificationContext
	// Clarified marks a report whose one clarification was already spent,
	// even when Clarification carries no context.
	Clarified bool
}

// Outcome holds exactly one of Outline or Clarification.
type Outcome struct {
	Outline       *models.Outline
	Clarification *models.ClarificationContext
}

// Planner runs the center agent. It keeps no state between calls.
type Planner struct {
	llm           agent.Completer
	prompts       *prompt.Store
	telemetry     *agent.Telemetry
	maxIterations int
	now           func() time.Time
}

// New creates a Planner. maxIterations <= 0 uses DefaultMaxIterations.
func New(llm agent.Completer, prompts *prompt.Store, telemetry *agent.Telemetry, maxIterations int) *Planner {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Planner{llm: llm, prompts: prompts, telemetry: telemetry, maxIterations: maxIterations, now: time.Now}
}

// Plan runs planner turns until the model submits an outline or asks for
// clarification. A resumed run never yields a second clarification.
func (p *Planner) Plan(ctx context.Context, in Input) (*Outcome, error) {
	run := p.telemetry.Start(ctx, in.SessionID, config.AgentTypeCenter, "Center: report coordination")
	out, err := p.plan(ctx, run, in)
	if err != nil {
		run.Fail(ctx, err)
		return nil, err
	}
	result := map[string]any{}
	if out.Outline != nil {
		result["sections"] = len(out.Outline.Sections)
	} else {
		result["clarification"] = true
	}
	run.Complete(ctx, result)
	return out, nil
}

func (p *Planner) plan(ctx context.Context, run *agent.Run, in Input) (*Outcome, error) {
	messages, clarified := p.initialMessages(in)
	budget := agent.NewBudget(p.maxIterations)

	for budget.Next() {
		resp, err := agent.Call(ctx, p.llm, run, &llm.Request{
			Agent:    config.AgentTypeCenter,
			Messages: messages,
			Tools:    []llm.ToolDefinition{clarificationTool, sectionsTool},
		})
		if err != nil {
			return nil, err
		}

		call, ok := resp.FirstToolCall()
		if !ok {
			text := strings.TrimSpace(resp.Text)
			if text == "" {
				break
			}
			messages = append(messages, llm.AssistantMessage(text), llm.UserMessage(nudgeSections))
			continue
		}
		run.ToolCall(ctx, call)
		messages = append(messages, llm.AssistantMessage(resp.Text, call))

		switch call.Name {
		case toolClarification:
			if clarified {
				slog.Warn("Planner asked for a second clarification", "session_id", in.SessionID)
				run.ToolResult(ctx, call.Name, "rejected: already clarified")
				messages = append(messages, llm.ToolMessage(call, clarificationReused))
				continue
			}
			var args clarificationArgs
			if err := agent.DecodeToolArgs(call, clarificationTool, &args); err != nil {
				messages = append(messages, llm.ToolMessage(call, err.Error()))
				continue
			}
			run.ToolResult(ctx, call.Name, "awaiting user confirmation")
			return &Outcome{Clarification: &models.ClarificationContext{
				Messages:    messages,
				ToolCallID:  call.ID,
				Requirement: args.Requirement,
			}}, nil

		case toolSections:
			var args sectionsArgs
			if err := agent.DecodeToolArgs(call, sectionsTool, &args); err != nil {
				messages = append(messages, llm.ToolMessage(call, err.Error()))
				continue
			}
			if len(args.Sections) == 0 {
				messages = append(messages, llm.ToolMessage(call, emptySectionsMessage))
				continue
			}
			outline := normalize(args)
			run.ToolResult(ctx, call.Name, fmt.Sprintf("%d sections planned", len(outline.Sections)))
			return &Outcome{Outline: outline}, nil

		default:
			messages = append(messages, llm.ToolMessage(call,
				fmt.Sprintf("unknown tool %q; call Clarification or Sections", call.Name)))
		}
	}
	return nil, ErrNoOutline
}

func (p *Planner) initialMessages(in Input) ([]llm.Message, bool) {
	c := in.Clarification
	if c != nil && len(c.Messages) > 0 && c.ToolCallID != "" {
		messages := append([]llm.Message(nil), c.Messages...)
		call := llm.ToolCall{ID: c.ToolCallID, Name: toolClarification}
		return append(messages, llm.ToolMessage(call, resumeMessage(c.Answer))), true
	}

	system := llm.SystemMessage(p.prompts.Render(prompt.Center, map[string]string{
		"date": p.now().Format("2006-01-02"),
	}))
	request := in.Request
	if c != nil {
		// Context lost: plan from the original request plus the answer.
		request = fmt.Sprintf("%s\n\nConfirmed requirement: %s", in.Request, c.Answer)
	}
	user := llm.UserMessage(fmt.Sprintf(
		"## User request\n%s\n\n## Dataset knowledge\n%s\n\n"+
			"Call Clarification if the request cannot be planned as stated, otherwise call Sections.",
		request, in.Knowledge))
	return []llm.Message{system, user}, c != nil || in.Clarified
}

func resumeMessage(answer string) string {
	return fmt.Sprintf("The user confirmed the requirement: %s\n"+
		"Clarification is complete. Call Sections now to produce the outline. Do not call Clarification again.", answer)
}

func normalize(args sectionsArgs) *models.Outline {
	topic := strings.TrimSpace(args.Topic)
	if topic == "" {
		topic = models.DefaultReportTopic
	}
	params := args.Parameters
	if params == nil {
		params = map[string]any{}
	}
	outline := &models.Outline{Topic: topic, Parameters: params}
	for i, s := range args.Sections {
		title := strings.TrimSpace(s.Title)
		if title == "" {
			title = fmt.Sprintf("第%d部分", i+1)
		}
		keys := s.KeyParameters
		if keys == nil {
			keys = []string{}
		}
		outline.Sections = append(outline.Sections, models.SectionSpec{
			SectionID:           fmt.Sprintf("section_%d", i+1),
			Title:               title,
			Name:                title,
			ResearchDescription: s.ResearchDescription,
			AnalysisMethod:      s.AnalysisMethod,
			KeyParameters:       keys,
			ResearchFocus:       s.ResearchFocus,
		})
	}
	return outline
}
