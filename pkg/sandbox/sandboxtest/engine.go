// Package sandboxtest provides an in-memory QueryEngine for tests.
package sandboxtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/codeready-toolchain/deepreport/pkg/models"
)

// Reply is what the engine returns for one call.
type Reply struct {
	Columns []string
	Rows    []models.Row
	Err     error
}

// Engine records every statement and answers from Replies in order. Once
// Replies is exhausted, Default is returned; when Default is nil, the rows of
// the first table are returned as-is.
type Engine struct {
	mu      sync.Mutex
	Replies []Reply
	Default *Reply
	Queries []string
	// Tables holds the dataset names handed over with each statement.
	Tables [][]string
}

// Query implements sandbox.QueryEngine.
func (e *Engine) Query(_ context.Context, sql string, tables []*models.Dataset, _ time.Duration) ([]string, []models.Row, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.Queries)
	e.Queries = append(e.Queries, sql)
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.Name
	}
	e.Tables = append(e.Tables, names)
	switch {
	case n < len(e.Replies):
		r := e.Replies[n]
		return r.Columns, copyRows(r.Rows), r.Err
	case e.Default != nil:
		return e.Default.Columns, copyRows(e.Default.Rows), e.Default.Err
	case len(tables) > 0:
		return tables[0].ColumnNames(), copyRows(tables[0].Rows), nil
	}
	return nil, nil, nil
}

// Calls returns how many statements reached the engine.
func (e *Engine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Queries)
}

func copyRows(rows []models.Row) []models.Row {
	if rows == nil {
		return nil
	}
	out := make([]models.Row, len(rows))
	for i, r := range rows {
		c := make(models.Row, len(r))
		for k, v := range r {
			c[k] = v
		}
		out[i] = c
	}
	return out
}

// Dataset builds a dataset whose column types are inferred from the first row.
func Dataset(name string, rows ...models.Row) *models.Dataset {
	ds := &models.Dataset{ID: name, Name: name, Rows: rows, RowCount: len(rows)}
	if len(rows) == 0 {
		return ds
	}
	for _, k := range sortedKeys(rows[0]) {
		t := models.ColumnTypeText
		switch rows[0][k].(type) {
		case float64, int:
			t = models.ColumnTypeNumber
		}
		ds.Columns = append(ds.Columns, models.Column{Name: k, Type: t})
	}
	return ds
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
