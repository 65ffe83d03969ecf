package dataset

import (
	"fmt"
	"strings"

	"github.com/codeready-toolchain/deepreport/pkg/models"
	"github.com/codeready-toolchain/deepreport/pkg/sandbox"
)

const (
	maxKnowledgeColumns = 30
	sampleValueRunes    = 20
)

// Knowledge renders the data overview shared with the planner and the
// researchers: every table with its size, dimensions and metrics.
func Knowledge(reg sandbox.Registry) string {
	parts := make([]string, 0, len(reg))
	for _, name := range reg.Names() {
		parts = append(parts, tableKnowledge(reg[name]))
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func tableKnowledge(ds *models.Dataset) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Table: %s\n", ds.Name)
	fmt.Fprintf(&b, "- Rows: %d\n", ds.RowCount)
	fmt.Fprintf(&b, "- Columns: %d\n", len(ds.Columns))
	if ds.Description != "" {
		fmt.Fprintf(&b, "- Description: %s\n", ds.Description)
	}

	var dims, metrics []models.Column
	for _, c := range head(ds.Columns, maxKnowledgeColumns) {
		if c.Type == models.ColumnTypeNumber {
			metrics = append(metrics, c)
		} else {
			dims = append(dims, c)
		}
	}
	b.WriteString("\n### Fields\n")
	writeFields(&b, "Dimensions", dims, ds.Rows)
	writeFields(&b, "Metrics", metrics, ds.Rows)
	if extra := len(ds.Columns) - maxKnowledgeColumns; extra > 0 {
		fmt.Fprintf(&b, "- ... %d more fields\n", extra)
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeFields(b *strings.Builder, title string, cols []models.Column, rows []models.Row) {
	if len(cols) == 0 {
		return
	}
	fmt.Fprintf(b, "\n**%s:**\n", title)
	for _, c := range cols {
		fmt.Fprintf(b, "- `%s` (%s)", c.Name, c.Type)
		if c.Description != "" {
			fmt.Fprintf(b, ": %s", truncate(c.Description, 30))
		}
		if samples := SampleValues(rows, c.Name, 2); len(samples) > 0 {
			fmt.Fprintf(b, " | samples: %s", strings.Join(samples, ", "))
		}
		b.WriteString("\n")
	}
}

// Schema renders one table for SQL generation.
func Schema(ds *models.Dataset) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Table: %s (%d rows)\nColumns:\n", ds.Name, ds.RowCount)
	for _, c := range ds.Columns {
		fmt.Fprintf(&b, "- %s (%s)", c.Name, c.Type)
		if samples := SampleValues(ds.Rows, c.Name, 3); len(samples) > 0 {
			fmt.Fprintf(&b, " e.g. %s", strings.Join(samples, ", "))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// SampleValues returns up to n distinct non-empty values of a column.
func SampleValues(rows []models.Row, col string, n int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range rows {
		v, ok := r[col]
		if !ok || v == nil {
			continue
		}
		s := truncate(fmt.Sprint(v), sampleValueRunes)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if len(out) == n {
			break
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func head[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}
