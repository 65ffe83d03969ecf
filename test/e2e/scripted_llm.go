package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/codeready-toolchain/deepreport/pkg/llm"
)

// Agent roles as recognised from the tools a request offers.
const (
	rolePlanner    = "planner"
	roleResearcher = "researcher"
	roleNL2SQL     = "nl2sql"
	roleSummary    = "summary"
	roleChart      = "chart"
)

const sectionTitleHeading = "## Section title\n"

// ScriptedTransport stands in for the model provider behind the real Gateway.
// Like a model, it answers from what the request offers: the tool set tells
// it which agent is asking, the conversation tells it how far along it is.
type ScriptedTransport struct {
	// Clarify makes the planner ask once before producing the outline.
	Clarify bool

	mu    sync.Mutex
	calls map[string]int
}

// NewScriptedTransport creates a transport answering the report scenario.
func NewScriptedTransport() *ScriptedTransport {
	return &ScriptedTransport{calls: make(map[string]int)}
}

// Calls returns how many requests an agent role made.
func (s *ScriptedTransport) Calls(role string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[role]
}

// Close implements llm.Transport.
func (s *ScriptedTransport) Close() error { return nil }

// Generate implements llm.Transport.
func (s *ScriptedTransport) Generate(ctx context.Context, input *llm.GenerateInput) (<-chan llm.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	role := roleOf(input)
	s.mu.Lock()
	s.calls[role]++
	n := s.calls[role]
	s.mu.Unlock()

	switch role {
	case rolePlanner:
		if s.Clarify && !hasToolMessage(input.Messages) {
			return toolCall(n, "Clarification", map[string]any{
				"requirement": "将分析2024年全年各区域的销售额与月度价格，是否需要包含退货数据？",
			})
		}
		return toolCall(n, "Sections", outlineArgs)
	case roleResearcher:
		return s.research(n, input.Messages)
	case roleNL2SQL:
		return toolCall(n, "GenerateSQL", map[string]any{
			"sql":              `SELECT sale_month AS "月份", price AS "价格" FROM sales_2024 ORDER BY sale_month`,
			"explanation":      "逐月价格",
			"expected_columns": []string{"月份", "价格"},
		})
	case roleSummary:
		return toolCall(n, "GenerateSummary", map[string]any{
			"introduction":                "本报告基于2024年销售数据，分析了区域格局与价格走势。",
			"summary_and_recommendations": "### 核心发现\n1. 华东区域销售额领先\n2. 价格逐月上升\n\n### 建议\n1. 巩固华东市场",
		})
	default:
		return stream(&llm.TextChunk{Content: "```json\n" + priceChartJSON + "\n```"}), nil
	}
}

func (s *ScriptedTransport) research(n int, messages []llm.Message) (<-chan llm.Chunk, error) {
	title := sectionTitle(messages)
	dataID := firstDataID(messages)
	if dataID == "" {
		if title == "价格趋势" {
			return toolCall(n, "Search", map[string]any{
				"scenario_description": "2024年各月份平均价格的变化趋势，用于判断价格的季节性波动",
				"table": map[string]any{
					"table_name":    "sales_2024",
					"target_fields": []string{"sale_month", "price"},
				},
			})
		}
		return toolCall(n, "Search", map[string]any{
			"scenario_description": "各区域销售额",
			"table": map[string]any{
				"table_name":    "sales_2024",
				"target_fields": []string{"region", "amount"},
			},
		})
	}

	if title == "价格趋势" {
		return toolCall(n, "Section", map[string]any{
			"name": "价格趋势",
			"discoveries": []map[string]any{{
				"title":   "【趋势】价格逐月上升",
				"insight": "| 月份 | 价格 |\n|---|---|\n| 2024-01 | 100 |\n| 2024-12 | 111 |\n\n{{CHART:chart_1}}",
				"chart_requirements": []map[string]any{{
					"chart_id":        "chart_1",
					"purpose":         "展示月度价格走势",
					"insight_summary": "价格从100升至129",
					"data_ids":        []string{dataID},
				}},
			}},
			"conclusion":      "价格稳步上涨",
			"data_references": []map[string]any{{"data_id": dataID, "usage": "trend"}},
		})
	}
	return toolCall(n, "Section", map[string]any{
		"name": "市场概览",
		"discoveries": []map[string]any{{
			"title":   "【现状】华东销售额领先",
			"insight": "| 区域 | 销售额 |\n|---|---|\n| 华东 | 1450 |\n| 华南 | 1400 |",
		}},
		"conclusion":      "华东贡献最大",
		"data_references": []map[string]any{{"data_id": dataID, "usage": "distribution"}},
	})
}

const priceChartJSON = `{"chart_type": "line", "title": "月度价格", "data_sources": [{"data_label": "价格", "x_axis": "月份", "y_axis": ["价格"]}]}`

var outlineArgs = map[string]any{
	"topic":      "2024年销售分析",
	"parameters": map[string]any{"year": 2024},
	"sections": []map[string]any{
		{
			"title":                "市场概览",
			"research_description": "各区域销售规模",
			"analysis_method":      "distribution",
			"key_parameters":       []string{"region", "amount"},
			"research_focus":       "区域差异",
		},
		{
			"title":                "价格趋势",
			"research_description": "月度价格变化",
			"analysis_method":      "trend",
			"key_parameters":       []string{"sale_month", "price"},
			"research_focus":       "季节性",
		},
	},
}

func roleOf(input *llm.GenerateInput) string {
	for _, t := range input.Tools {
		switch t.Name {
		case "Sections":
			return rolePlanner
		case "Search":
			return roleResearcher
		case "GenerateSQL":
			return roleNL2SQL
		case "GenerateSummary":
			return roleSummary
		}
	}
	return roleChart
}

func hasToolMessage(messages []llm.Message) bool {
	for _, m := range messages {
		if m.Role == llm.RoleTool {
			return true
		}
	}
	return false
}

func sectionTitle(messages []llm.Message) string {
	for _, m := range messages {
		i := strings.Index(m.Content, sectionTitleHeading)
		if i < 0 {
			continue
		}
		rest := m.Content[i+len(sectionTitleHeading):]
		if j := strings.IndexByte(rest, '\n'); j >= 0 {
			rest = rest[:j]
		}
		return strings.TrimSpace(rest)
	}
	return ""
}

// firstDataID returns the data id of the first successful search result.
func firstDataID(messages []llm.Message) string {
	for _, m := range messages {
		if m.Role != llm.RoleTool {
			continue
		}
		var res struct {
			DataID  string `json:"data_id"`
			Success bool   `json:"success"`
		}
		if json.Unmarshal([]byte(m.Content), &res) == nil && res.Success {
			return res.DataID
		}
	}
	return ""
}

func toolCall(n int, name string, args any) (<-chan llm.Chunk, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return stream(
		&llm.ToolCallChunk{ID: fmt.Sprintf("call_%s_%d", strings.ToLower(name), n), Name: name, Arguments: string(raw)},
		&llm.UsageChunk{InputTokens: 100, OutputTokens: 20, TotalTokens: 120},
	), nil
}

func stream(chunks ...llm.Chunk) <-chan llm.Chunk {
	ch := make(chan llm.Chunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}
