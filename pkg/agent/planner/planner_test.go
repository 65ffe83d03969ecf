package planner

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/deepreport/pkg/agent"
	"github.com/codeready-toolchain/deepreport/pkg/agent/agenttest"
	"github.com/codeready-toolchain/deepreport/pkg/agent/prompt"
	"github.com/codeready-toolchain/deepreport/pkg/config"
	"github.com/codeready-toolchain/deepreport/pkg/llm"
	"github.com/codeready-toolchain/deepreport/pkg/models"
)

var outlineArgs = map[string]any{
	"topic":      "2024年销售分析",
	"parameters": map[string]any{"year": 2024},
	"sections": []map[string]any{
		{
			"title":                "市场概览",
			"research_description": "整体销售规模",
			"analysis_method":      "distribution",
			"key_parameters":       []string{"销售额"},
			"research_focus":       "区域差异",
		},
		{
			"title":                "价格趋势",
			"research_description": "月度价格变化",
			"analysis_method":      "trend",
			"key_parameters":       []string{"价格", "月份"},
			"research_focus":       "季节性",
		},
	},
}

func newPlanner(c *agenttest.Completer) *Planner {
	return New(c, prompt.NewStore(""), nil, 0)
}

func TestPlan_Outline(t *testing.T) {
	c := agenttest.New().On(config.AgentTypeCenter, agenttest.Reply(agenttest.ToolCall("Sections", outlineArgs)))

	out, err := newPlanner(c).Plan(context.Background(), Input{Request: "分析销售", Knowledge: "## Table: sales"})
	require.NoError(t, err)
	require.NotNil(t, out.Outline)
	assert.Nil(t, out.Clarification)

	o := out.Outline
	assert.Equal(t, "2024年销售分析", o.Topic)
	assert.Equal(t, 2024.0, o.Parameters["year"])
	require.Len(t, o.Sections, 2)
	assert.Equal(t, "section_1", o.Sections[0].SectionID)
	assert.Equal(t, "市场概览", o.Sections[0].Name)
	assert.Equal(t, "section_2", o.Sections[1].SectionID)
	assert.Equal(t, []string{"价格", "月份"}, o.Sections[1].KeyParameters)

	req := c.Calls(config.AgentTypeCenter)[0]
	assert.Contains(t, agenttest.LastMessage(req), "分析销售")
	assert.Contains(t, agenttest.LastMessage(req), "## Table: sales")
	assert.Len(t, req.Tools, 2)
}

func TestPlan_TextThenOutline(t *testing.T) {
	c := agenttest.New().On(config.AgentTypeCenter,
		agenttest.Reply(agenttest.Text("I think we should look at regions.")),
		agenttest.Reply(agenttest.ToolCall("Sections", outlineArgs)),
	)

	out, err := newPlanner(c).Plan(context.Background(), Input{Request: "分析销售"})
	require.NoError(t, err)
	require.NotNil(t, out.Outline)

	second := c.Calls(config.AgentTypeCenter)[1]
	n := len(second.Messages)
	assert.Equal(t, llm.RoleAssistant, second.Messages[n-2].Role)
	assert.Equal(t, nudgeSections, second.Messages[n-1].Content)
}

func TestPlan_DefaultTopic(t *testing.T) {
	args := map[string]any{
		"topic":      " ",
		"parameters": map[string]any{},
		"sections": []map[string]any{{
			"title": "", "research_description": "d", "analysis_method": "m",
			"key_parameters": []string{}, "research_focus": "f",
		}},
	}
	c := agenttest.New().On(config.AgentTypeCenter, agenttest.Reply(agenttest.ToolCall("Sections", args)))

	out, err := newPlanner(c).Plan(context.Background(), Input{Request: "x"})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultReportTopic, out.Outline.Topic)
	assert.Equal(t, "第1部分", out.Outline.Sections[0].Name)
}

func TestPlan_Failures(t *testing.T) {
	tests := []struct {
		name     string
		handlers []agenttest.Handler
		wantErr  error
		wantMsg  string
	}{
		{
			name:     "empty reply",
			handlers: []agenttest.Handler{agenttest.Reply(agenttest.Text(""))},
			wantErr:  ErrNoOutline,
		},
		{
			name: "budget exhausted",
			handlers: []agenttest.Handler{
				agenttest.Reply(agenttest.Text("a")), agenttest.Reply(agenttest.Text("b")),
				agenttest.Reply(agenttest.Text("c")), agenttest.Reply(agenttest.Text("d")),
				agenttest.Reply(agenttest.Text("e")), agenttest.Reply(agenttest.ToolCall("Sections", outlineArgs)),
			},
			wantErr: ErrNoOutline,
		},
		{
			name:     "gateway error",
			handlers: []agenttest.Handler{agenttest.Fail(errors.New("no credentials"))},
			wantMsg:  "no credentials",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := agenttest.New().On(config.AgentTypeCenter, tt.handlers...)
			_, err := newPlanner(c).Plan(context.Background(), Input{Request: "x"})
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, "could not produce a valid outline", err.Error())
			}
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestPlan_MalformedSectionsIsFedBack(t *testing.T) {
	c := agenttest.New().On(config.AgentTypeCenter,
		agenttest.Reply(agenttest.ToolCall("Sections", `{"topic": "x", "parameters": {}, "sections": []}`)),
		agenttest.Reply(agenttest.ToolCall("Sections", `{"topic": "x"}`)),
		agenttest.Reply(agenttest.ToolCall("Sections", outlineArgs)),
	)

	out, err := newPlanner(c).Plan(context.Background(), Input{Request: "x"})
	require.NoError(t, err)
	require.NotNil(t, out.Outline)

	calls := c.Calls(config.AgentTypeCenter)
	require.Len(t, calls, 3)
	assert.Equal(t, emptySectionsMessage, agenttest.LastMessage(calls[1]))
	assert.Equal(t, llm.RoleTool, calls[2].Messages[len(calls[2].Messages)-1].Role)
	assert.Contains(t, agenttest.LastMessage(calls[2]), "invalid arguments for tool Sections")
}

// Two-turn conversation: the first invocation ends in a clarification, the
// resumed one must reach an outline and never clarify again.
func TestPlan_SingleClarification(t *testing.T) {
	rec := &agenttest.EventRecorder{}
	c := agenttest.New().On(config.AgentTypeCenter,
		agenttest.Reply(agenttest.ToolCall("Clarification", map[string]any{"requirement": "分析2024年华东区销售？"})),
		agenttest.Reply(agenttest.ToolCall("Clarification", map[string]any{"requirement": "again?"})),
		agenttest.Reply(agenttest.ToolCall("Sections", outlineArgs)),
	)
	p := New(c, prompt.NewStore(""), agent.NewTelemetry(rec), 0)
	ctx := context.Background()

	first, err := p.Plan(ctx, Input{Request: "分析销售"})
	require.NoError(t, err)
	require.Nil(t, first.Outline)
	clar := first.Clarification
	require.NotNil(t, clar)
	assert.Equal(t, "分析2024年华东区销售？", clar.Requirement)
	assert.NotEmpty(t, clar.ToolCallID)

	// Round trip through JSON as the API does.
	data, err := json.Marshal(clar)
	require.NoError(t, err)
	var resumed models.ClarificationContext
	require.NoError(t, json.Unmarshal(data, &resumed))
	resumed.Answer = "是的，只看华东"

	second, err := p.Plan(ctx, Input{Request: "分析销售", Clarification: &resumed})
	require.NoError(t, err)
	require.NotNil(t, second.Outline)
	assert.Nil(t, second.Clarification)

	calls := c.Calls(config.AgentTypeCenter)
	require.Len(t, calls, 3)
	resumeMsg := calls[1].Messages[len(calls[1].Messages)-1]
	assert.Equal(t, llm.RoleTool, resumeMsg.Role)
	assert.Equal(t, clar.ToolCallID, resumeMsg.ToolCallID)
	assert.Contains(t, resumeMsg.Content, "是的，只看华东")
	assert.Contains(t, resumeMsg.Content, "Do not call Clarification again")
	assert.Equal(t, clarificationReused, agenttest.LastMessage(calls[2]))

	assert.Equal(t, "center_1", rec.Events("")[0].AgentID)
	assert.Contains(t, rec.Types("center_2"), "complete")
}

func TestPlan_ResumeWithoutHistory(t *testing.T) {
	c := agenttest.New().On(config.AgentTypeCenter,
		agenttest.Reply(agenttest.ToolCall("Clarification", map[string]any{"requirement": "?"})),
		agenttest.Reply(agenttest.ToolCall("Sections", outlineArgs)),
	)

	out, err := newPlanner(c).Plan(context.Background(), Input{
		Request:       "分析销售",
		Clarification: &models.ClarificationContext{Answer: "只看华东"},
	})
	require.NoError(t, err)
	require.NotNil(t, out.Outline)
	assert.Contains(t, agenttest.LastMessage(c.Calls(config.AgentTypeCenter)[0]), "Confirmed requirement: 只看华东")
}

func TestPlan_ClarifiedReportNeverClarifiesAgain(t *testing.T) {
	tests := []struct {
		name  string
		input Input
	}{
		{"flag without context", Input{Request: "分析销售", Clarified: true}},
		{"empty answer context", Input{Request: "分析销售", Clarification: &models.ClarificationContext{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := agenttest.New().On(config.AgentTypeCenter,
				agenttest.Reply(agenttest.ToolCall("Clarification", map[string]any{"requirement": "?"})),
				agenttest.Reply(agenttest.ToolCall("Sections", outlineArgs)),
			)

			out, err := newPlanner(c).Plan(context.Background(), tt.input)
			require.NoError(t, err)
			require.NotNil(t, out.Outline)
			assert.Nil(t, out.Clarification)

			calls := c.Calls(config.AgentTypeCenter)
			require.Len(t, calls, 2)
			assert.Equal(t, clarificationReused, agenttest.LastMessage(calls[1]))
		})
	}
}
