package section

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/codeready-toolchain/deepreport/pkg/agent"
	"github.com/codeready-toolchain/deepreport/pkg/agent/prompt"
	"github.com/codeready-toolchain/deepreport/pkg/config"
	"github.com/codeready-toolchain/deepreport/pkg/llm"
	"github.com/codeready-toolchain/deepreport/pkg/models"
)

const (
	chartSampleRows   = 5
	fallbackChartRows = 20
	noDataMessage     = "no data available"
)

type chartConfig struct {
	ChartType   models.ChartType         `json:"chart_type"`
	Title       string                   `json:"title"`
	DataSources []models.ChartDataSource `json:"data_sources"`
}

// chart resolves one chart requirement. Malformed chart agent output falls
// back to a heuristic bar chart.
func (a *Assembler) chart(ctx context.Context, sessionID string, req ChartRequirement, results map[string]*models.SearchResult) models.Chart {
	chart := models.Chart{ChartID: req.ChartID, Purpose: req.Purpose}

	rows, columns := chartRows(req.DataIDs, results)
	if len(rows) == 0 {
		chart.Error = noDataMessage
		return chart
	}
	rows = sampleRows(rows, a.maxChartRows)

	purpose := req.Purpose
	if req.InsightSummary != "" {
		purpose = purpose + ". " + req.InsightSummary
	}

	run := a.telemetry.Start(ctx, sessionID, config.AgentTypeChart, "Chart: "+agent.Truncate(purpose, 30))
	cfg, err := a.selectChart(ctx, run, purpose, rows, columns)
	switch {
	case err == nil:
		run.Complete(ctx, map[string]any{"chart_type": string(cfg.ChartType)})
		chart.ChartType = cfg.ChartType
		chart.Title = cfg.Title
		chart.DataSources = cfg.DataSources
		chart.RenderedData = rows
	case errors.Is(err, errMalformedChart):
		run.Complete(ctx, map[string]any{"chart_type": string(models.ChartTypeBar), "fallback": true})
		fb := fallbackChart(purpose, rows, columns)
		fb.ChartID, fb.Purpose = chart.ChartID, chart.Purpose
		return fb
	default:
		run.Fail(ctx, err)
		chart.Error = err.Error()
		chart.RenderedData = rows
	}
	return chart
}

var errMalformedChart = errors.New("malformed chart configuration")

func (a *Assembler) selectChart(ctx context.Context, run *agent.Run, purpose string, rows []models.Row, columns []string) (*chartConfig, error) {
	sample, err := json.MarshalIndent(head(rows, chartSampleRows), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chart sample: %w", err)
	}
	user := fmt.Sprintf("## Purpose\n%s\n\n## Sample rows (first %d)\n```json\n%s\n```\n\n## Fields\n%s\n",
		purpose, chartSampleRows, sample, strings.Join(columns, ", "))

	resp, err := agent.Call(ctx, a.llm, run, &llm.Request{
		Agent: config.AgentTypeChart,
		Messages: []llm.Message{
			llm.SystemMessage(a.prompts.Template(prompt.Chart)),
			llm.UserMessage(user),
		},
	})
	if err != nil {
		return nil, err
	}
	return parseChartConfig(resp.Text, columns)
}

// parseChartConfig decodes the chart agent's reply and drops data sources
// that bind unknown columns.
func parseChartConfig(text string, columns []string) (*chartConfig, error) {
	var cfg chartConfig
	if err := json.Unmarshal([]byte(agent.RepairJSON(text)), &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedChart, err)
	}
	if !cfg.ChartType.IsValid() {
		return nil, fmt.Errorf("%w: unsupported chart type %q", errMalformedChart, cfg.ChartType)
	}

	known := make(map[string]bool, len(columns))
	for _, c := range columns {
		known[c] = true
	}
	valid := cfg.DataSources[:0]
	for _, ds := range cfg.DataSources {
		if !known[ds.XAxis] || len(ds.YAxis) == 0 {
			continue
		}
		ok := true
		for _, y := range ds.YAxis {
			if !known[y] {
				ok = false
				break
			}
		}
		if ok {
			valid = append(valid, ds)
		}
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("%w: no usable data source", errMalformedChart)
	}
	cfg.DataSources = valid
	return &cfg, nil
}

// fallbackChart plots the first non-numeric column against the numeric ones.
func fallbackChart(purpose string, rows []models.Row, columns []string) models.Chart {
	var x string
	var ys []string
	first := rows[0]
	for _, c := range columns {
		if isNumeric(first[c]) {
			ys = append(ys, c)
		} else if x == "" {
			x = c
		}
	}
	if x == "" && len(columns) > 0 {
		x = columns[0]
	}
	if len(ys) == 0 && len(columns) > 1 {
		ys = []string{columns[1]}
	}
	label := "数值"
	if len(ys) > 0 {
		label = ys[0]
	}
	title := agent.Truncate(purpose, 30)
	if title == "" {
		title = "数据分析"
	}
	return models.Chart{
		ChartType: models.ChartTypeBar,
		Title:     title,
		DataSources: []models.ChartDataSource{{
			DataLabel: label,
			XAxis:     x,
			YAxis:     ys,
			Axis:      "left",
		}},
		RenderedData: head(rows, fallbackChartRows),
		Fallback:     true,
	}
}

func isNumeric(v any) bool {
	switch v.(type) {
	case float64, float32, int, int32, int64, json.Number:
		return true
	}
	return false
}

func head[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func sortedKeys(row models.Row) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
