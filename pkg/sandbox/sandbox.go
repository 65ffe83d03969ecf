// Package sandbox executes model-written SQL against session datasets.
//
// Every statement goes through the same pipeline: Clean, CheckStatic,
// prevalidate against the registry, Rewrite for the engine dialect, execute
// with a hard timeout, then postprocess. A statement that fails any check
// before execution never reaches the engine.
package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/deepreport/pkg/metrics"
	"github.com/codeready-toolchain/deepreport/pkg/models"
)

// DefaultTimeout is the wall-clock limit used when none is configured.
const DefaultTimeout = 30 * time.Second

// Result is a successful, postprocessed query result.
type Result struct {
	SQL        string       `json:"sql"`
	Columns    []string     `json:"columns"`
	Data       []models.Row `json:"data"`
	RowCount   int          `json:"row_count"`
	TotalCount int          `json:"total_count"`
	Truncated  bool         `json:"truncated"`
}

// Sandbox validates and runs statements on a QueryEngine.
type Sandbox struct {
	engine  QueryEngine
	timeout time.Duration
	metrics *metrics.Metrics
}

// New creates a Sandbox. m may be nil.
func New(engine QueryEngine, timeout time.Duration, m *metrics.Metrics) *Sandbox {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Sandbox{engine: engine, timeout: timeout, metrics: m}
}

// Execute runs sql against the datasets in reg and returns at most maxRows
// rows. Every failure is a *Diagnostic.
func (s *Sandbox) Execute(ctx context.Context, reg Registry, sql string, maxRows int) (*Result, error) {
	sql = Clean(sql)
	if len(reg) == 0 {
		s.metrics.ObserveSandbox(string(KindNoData), 0)
		return nil, &Diagnostic{Kind: KindNoData, Message: "no datasets available", FixSuggestion: "upload data first", SQL: sql}
	}
	if d := CheckStatic(sql); d != nil {
		d.SQL = sql
		s.metrics.ObserveSandbox(string(d.Kind), 0)
		return nil, d
	}
	tables, d := prevalidate(sql, reg)
	if d != nil {
		d.SQL = sql
		s.metrics.ObserveSandbox(string(d.Kind), 0)
		return nil, d
	}

	executed := Rewrite(sql, tables)
	start := time.Now()
	columns, rows, err := s.engine.Query(ctx, executed, tables, s.timeout)
	elapsed := time.Since(start)
	if err != nil {
		diag := s.diagnose(err, executed, reg)
		s.metrics.ObserveSandbox(string(diag.Kind), elapsed)
		slog.Debug("Sandbox query failed", "kind", diag.Kind, "error", err, "sql", executed)
		return nil, diag
	}
	s.metrics.ObserveSandbox("ok", elapsed)

	return postprocess(executed, columns, rows, maxRows), nil
}

func (s *Sandbox) diagnose(err error, sql string, reg Registry) *Diagnostic {
	if errors.Is(err, ErrTimeout) {
		return &Diagnostic{
			Kind:          KindTimeout,
			Message:       "query timed out after " + s.timeout.String(),
			FixSuggestion: "simplify the query: filter earlier, aggregate with GROUP BY and add a LIMIT",
			SQL:           sql,
			Err:           err,
		}
	}
	return &Diagnostic{
		Kind:          KindEngine,
		Message:       "query execution failed: " + err.Error(),
		FixSuggestion: fixSuggestion(err.Error(), reg),
		SQL:           sql,
		Err:           err,
	}
}

func postprocess(sql string, columns []string, rows []models.Row, maxRows int) *Result {
	total := len(rows)
	truncated := maxRows > 0 && total > maxRows
	if truncated {
		rows = rows[:maxRows]
	}
	for _, row := range rows {
		for k, v := range row {
			if str, ok := v.(string); ok {
				row[k] = StripMarkup(str)
			}
		}
	}
	if rows == nil {
		rows = []models.Row{}
	}
	return &Result{
		SQL:        sql,
		Columns:    columns,
		Data:       rows,
		RowCount:   len(rows),
		TotalCount: total,
		Truncated:  truncated,
	}
}
