// Package section turns a researcher's Section call into a finished
// section: chart intents become rendered charts, visually identical charts
// are collapsed and the result is checked for completeness.
package section

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/codeready-toolchain/deepreport/pkg/agent"
	"github.com/codeready-toolchain/deepreport/pkg/agent/prompt"
	"github.com/codeready-toolchain/deepreport/pkg/models"
)

// DefaultMaxChartRows caps rows per chart when none is configured.
const DefaultMaxChartRows = 100

// Assembler builds sections from Section tool arguments.
type Assembler struct {
	llm          agent.Completer
	prompts      *prompt.Store
	telemetry    *agent.Telemetry
	maxChartRows int
}

// New creates an Assembler. maxChartRows <= 0 uses DefaultMaxChartRows.
func New(llm agent.Completer, prompts *prompt.Store, telemetry *agent.Telemetry, maxChartRows int) *Assembler {
	if maxChartRows <= 0 {
		maxChartRows = DefaultMaxChartRows
	}
	return &Assembler{llm: llm, prompts: prompts, telemetry: telemetry, maxChartRows: maxChartRows}
}

// Assemble renders every chart requirement against results (keyed by data
// id), removes duplicate charts and records validation issues. It never
// fails: chart problems are recorded on the chart itself. Charts without an
// id get one scoped to sectionID, so ids stay unique across the report.
func (a *Assembler) Assemble(ctx context.Context, sessionID, sectionID string, args Args, results map[string]*models.SearchResult) *models.Section {
	sec := &models.Section{
		SectionID:      sectionID,
		Name:           strings.TrimSpace(args.Name),
		Description:    args.Description,
		Conclusion:     strings.TrimSpace(args.Conclusion),
		DataReferences: args.DataReferences,
		Discoveries:    make([]models.Discovery, 0, len(args.Discoveries)),
	}

	for i, d := range args.Discoveries {
		id := d.DiscoveryID
		if id == "" {
			id = fmt.Sprintf("discovery_%d", i+1)
		}
		disc := models.Discovery{
			DiscoveryID:        id,
			Title:              strings.TrimSpace(d.Title),
			Insight:            d.Insight,
			DataInterpretation: d.DataInterpretation,
			Charts:             make([]models.Chart, 0, len(d.ChartRequirements)),
		}
		for j, req := range d.ChartRequirements {
			if req.ChartID == "" {
				req.ChartID = fmt.Sprintf("%s_chart_%d_%d", sectionID, i+1, j+1)
			}
			disc.Charts = append(disc.Charts, a.chart(ctx, sessionID, req, results))
		}
		sec.Discoveries = append(sec.Discoveries, disc)
	}

	if n := NewDeduper().Section(sec); n > 0 {
		slog.Info("Collapsed duplicate charts", "section", sec.Name, "duplicates", n)
	}
	sec.ValidationIssues = Validate(sec)
	return sec
}

// chartRows concatenates the full rows of the referenced results and the
// union of their columns in first-seen order.
func chartRows(dataIDs []string, results map[string]*models.SearchResult) ([]models.Row, []string) {
	var rows []models.Row
	var columns []string
	seen := make(map[string]bool)
	for _, id := range dataIDs {
		r, ok := results[id]
		if !ok || r == nil {
			continue
		}
		data := r.FullData
		if len(data) == 0 {
			data = r.SampleData
		}
		rows = append(rows, data...)
		for _, c := range r.Columns {
			if !seen[c] {
				seen[c] = true
				columns = append(columns, c)
			}
		}
	}
	if len(columns) == 0 && len(rows) > 0 {
		columns = sortedKeys(rows[0])
	}
	return rows, columns
}

// sampleRows keeps at most max rows, evenly spaced and starting with the first.
func sampleRows(rows []models.Row, max int) []models.Row {
	if len(rows) <= max {
		return rows
	}
	div := max - 10
	if div <= 0 {
		div = max
	}
	step := len(rows) / div
	if step < 1 {
		step = 1
	}
	out := make([]models.Row, 0, max)
	for i := 0; i < len(rows) && len(out) < max; i += step {
		out = append(out, rows[i])
	}
	return out
}
