package summary

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/deepreport/pkg/agent"
	"github.com/codeready-toolchain/deepreport/pkg/agent/agenttest"
	"github.com/codeready-toolchain/deepreport/pkg/agent/prompt"
	"github.com/codeready-toolchain/deepreport/pkg/config"
	"github.com/codeready-toolchain/deepreport/pkg/events"
	"github.com/codeready-toolchain/deepreport/pkg/models"
)

var input = Input{
	SessionID:  "s1",
	Request:    "分析2024年销售情况",
	Topic:      "2024年销售分析",
	Parameters: map[string]any{"year": 2024},
	Conclusions: []SectionConclusion{
		{Name: "市场概览", Conclusion: "华东贡献最大"},
		{Name: "价格趋势"},
	},
}

func TestGenerate_ToolCall(t *testing.T) {
	rec := &agenttest.EventRecorder{}
	c := agenttest.New().On(config.AgentTypeSummary, agenttest.Reply(agenttest.ToolCall(ToolName, map[string]string{
		"introduction":                "  本报告分析了2024年的销售。 ",
		"summary_and_recommendations": "### 核心发现\n1. 华东领先",
	})))

	res := New(c, prompt.NewStore(""), agent.NewTelemetry(rec)).Generate(context.Background(), input)
	assert.Equal(t, "本报告分析了2024年的销售。", res.Introduction)
	assert.Equal(t, "### 核心发现\n1. 华东领先", res.SummaryAndRecommendations)

	calls := c.Calls(config.AgentTypeSummary)
	require.Len(t, calls, 1)
	require.Len(t, calls[0].Tools, 1)
	assert.Equal(t, ToolName, calls[0].Tools[0].Name)
	user := calls[0].Messages[1].Content
	assert.Contains(t, user, "## User request\n分析2024年销售情况")
	assert.Contains(t, user, "### Section 1: 市场概览\n华东贡献最大")
	assert.Contains(t, user, "### Section 2: 价格趋势\n"+noConclusion)
	assert.Contains(t, user, `"year": 2024`)

	assert.Equal(t, []string{
		events.AgentEventStart,
		events.AgentEventRequest,
		events.AgentEventResponse,
		events.AgentEventToolCall,
		events.AgentEventComplete,
	}, rec.Types("summary_1"))
}

func TestGenerate_Fallbacks(t *testing.T) {
	long := strings.Repeat("总结", 300)
	tests := []struct {
		name    string
		handler agenttest.Handler
		want    Result
	}{
		{
			name:    "plain text reply",
			handler: agenttest.Reply(agenttest.Text("  销售整体增长。 ")),
			want:    Result{Introduction: DefaultIntroduction, SummaryAndRecommendations: "销售整体增长。"},
		},
		{
			name:    "long text is cut",
			handler: agenttest.Reply(agenttest.Text(long)),
			want:    Result{Introduction: DefaultIntroduction, SummaryAndRecommendations: long[:len("总")*500]},
		},
		{
			name:    "gateway error",
			handler: agenttest.Fail(errors.New("boom")),
		},
		{
			name:    "empty reply",
			handler: agenttest.Reply(agenttest.Text("")),
		},
		{
			name:    "malformed arguments",
			handler: agenttest.Reply(agenttest.ToolCall(ToolName, `{"introduction": "x"}`)),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := agenttest.New().On(config.AgentTypeSummary, tt.handler)
			res := New(c, prompt.NewStore(""), nil).Generate(context.Background(), input)
			assert.Equal(t, tt.want, res)
		})
	}
}

func TestUserMessage_Defaults(t *testing.T) {
	msg := userMessage(Input{Request: "r", Conclusions: []SectionConclusion{{Conclusion: "c"}}})
	assert.Contains(t, msg, "## Report topic\n"+models.DefaultReportTopic)
	assert.Contains(t, msg, "## Report parameters\n{}")
	assert.Contains(t, msg, "### Section 1: 第1章\nc")

	assert.Contains(t, userMessage(Input{}), "(no section produced a conclusion)")
}

func TestConclusions(t *testing.T) {
	got := Conclusions([]models.Section{
		{Name: "市场概览", Conclusion: "华东贡献最大"},
		{Name: "价格趋势", Conclusion: "降级", Error: "reached maximum iterations"},
		{Name: "渠道", Conclusion: "线上增长"},
	})
	assert.Equal(t, []SectionConclusion{
		{Name: "市场概览", Conclusion: "华东贡献最大"},
		{Name: "渠道", Conclusion: "线上增长"},
	}, got)
}
