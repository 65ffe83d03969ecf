// Package summary writes the introduction and closing recommendations of a
// report from the conclusions of its researched sections.
package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/codeready-toolchain/deepreport/pkg/agent"
	"github.com/codeready-toolchain/deepreport/pkg/agent/prompt"
	"github.com/codeready-toolchain/deepreport/pkg/config"
	"github.com/codeready-toolchain/deepreport/pkg/llm"
	"github.com/codeready-toolchain/deepreport/pkg/models"
)

// ToolName is the tool the summary agent answers with.
const ToolName = "GenerateSummary"

const (
	// DefaultIntroduction stands in when the model answers in plain text.
	DefaultIntroduction = "本报告基于用户需求进行数据分析，以下为详细分析结果。"
	textConclusionRunes = 500
	noConclusion        = "暂无结论"
)

var tool = llm.ToolDefinition{
	Name:        ToolName,
	Description: "Submit the report introduction and the summary with recommendations.",
	Parameters: &llm.Schema{
		Type: llm.TypeObject,
		Properties: map[string]*llm.Schema{
			"introduction": {
				Type:        llm.TypeString,
				Description: "markdown introduction: background, goals, data overview and report structure",
			},
			"summary_and_recommendations": {
				Type:        llm.TypeString,
				Description: "markdown summary: key findings, insights, recommendations with priority, limitations",
			},
		},
		Required: []string{"introduction", "summary_and_recommendations"},
	},
}

// SectionConclusion is one researched section as the summary sees it.
type SectionConclusion struct {
	Name       string `json:"name"`
	Conclusion string `json:"conclusion"`
}

// Input is everything the summary agent writes from.
type Input struct {
	SessionID string
	// Request is the user request, or the confirmed requirement after a
	// clarification.
	Request     string
	Topic       string
	Parameters  map[string]any
	Conclusions []SectionConclusion
}

// Result holds the generated texts. Both are empty when generation failed.
type Result struct {
	Introduction              string `json:"introduction"`
	SummaryAndRecommendations string `json:"summary_and_recommendations"`
}

// Agent runs the summary agent.
type Agent struct {
	llm       agent.Completer
	prompts   *prompt.Store
	telemetry *agent.Telemetry
}

// New creates a summary Agent.
func New(llm agent.Completer, prompts *prompt.Store, telemetry *agent.Telemetry) *Agent {
	return &Agent{llm: llm, prompts: prompts, telemetry: telemetry}
}

// Generate makes one summary call. It never fails the report: errors are
// logged and yield an empty Result.
func (a *Agent) Generate(ctx context.Context, in Input) Result {
	run := a.telemetry.Start(ctx, in.SessionID, config.AgentTypeSummary, "Summary: introduction and conclusion")

	resp, err := agent.Call(ctx, a.llm, run, &llm.Request{
		Agent: config.AgentTypeSummary,
		Messages: []llm.Message{
			llm.SystemMessage(a.prompts.Template(prompt.Summary)),
			llm.UserMessage(userMessage(in)),
		},
		Tools: []llm.ToolDefinition{tool},
	})
	if err != nil {
		slog.Warn("Summary generation failed", "session_id", in.SessionID, "error", err)
		run.Fail(ctx, err)
		return Result{}
	}

	for _, call := range resp.ToolCalls {
		if call.Name != ToolName {
			continue
		}
		run.ToolCall(ctx, call)
		var res Result
		if err := agent.DecodeToolArgs(call, tool, &res); err != nil {
			slog.Warn("Summary arguments rejected", "session_id", in.SessionID, "error", err)
			break
		}
		res.Introduction = strings.TrimSpace(res.Introduction)
		res.SummaryAndRecommendations = strings.TrimSpace(res.SummaryAndRecommendations)
		run.Complete(ctx, map[string]any{
			"intro_length":   len([]rune(res.Introduction)),
			"summary_length": len([]rune(res.SummaryAndRecommendations)),
		})
		return res
	}

	if text := strings.TrimSpace(resp.Text); text != "" {
		run.Complete(ctx, map[string]any{"fallback": true})
		return Result{
			Introduction:              DefaultIntroduction,
			SummaryAndRecommendations: agent.Truncate(text, textConclusionRunes),
		}
	}

	run.Fail(ctx, fmt.Errorf("no %s call and no text in the reply", ToolName))
	return Result{}
}

// Conclusions lists name and conclusion of each section, skipping degraded ones.
func Conclusions(sections []models.Section) []SectionConclusion {
	out := make([]SectionConclusion, 0, len(sections))
	for i := range sections {
		if sections[i].Degraded() {
			continue
		}
		out = append(out, SectionConclusion{Name: sections[i].Name, Conclusion: sections[i].Conclusion})
	}
	return out
}

func userMessage(in Input) string {
	params, err := json.MarshalIndent(in.Parameters, "", "  ")
	if err != nil || in.Parameters == nil {
		params = []byte("{}")
	}
	topic := in.Topic
	if topic == "" {
		topic = models.DefaultReportTopic
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Write the introduction and the summary with recommendations for this report.\n\n")
	fmt.Fprintf(&b, "## User request\n%s\n\n## Report topic\n%s\n\n## Report parameters\n%s\n\n## Section conclusions\n",
		in.Request, topic, params)
	if len(in.Conclusions) == 0 {
		b.WriteString("(no section produced a conclusion)\n")
	}
	for i, c := range in.Conclusions {
		name := c.Name
		if name == "" {
			name = fmt.Sprintf("第%d章", i+1)
		}
		conclusion := c.Conclusion
		if conclusion == "" {
			conclusion = noConclusion
		}
		fmt.Fprintf(&b, "\n### Section %d: %s\n%s\n", i+1, name, conclusion)
	}
	b.WriteString("\nCall GenerateSummary. Keep the recommendations tied to the user request.")
	return b.String()
}
