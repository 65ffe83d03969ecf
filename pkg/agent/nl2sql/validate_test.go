package nl2sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/deepreport/pkg/models"
	"github.com/codeready-toolchain/deepreport/pkg/sandbox"
	"github.com/codeready-toolchain/deepreport/pkg/sandbox/sandboxtest"
)

func salesTables() []*models.Dataset {
	return []*models.Dataset{
		sandboxtest.Dataset("sales", models.Row{"月份": "2024-01", "区域": "华东", "销售额": 100.0}),
		sandboxtest.Dataset("regions", models.Row{"区域": "华东", "经理": "王"}),
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		wantKind sandbox.DiagnosticKind
		wantMsg  string
	}{
		{name: "plain select", sql: `SELECT "区域", SUM("销售额") AS "销售额" FROM sales GROUP BY "区域"`},
		{name: "one join", sql: `SELECT * FROM sales s JOIN regions r ON s."区域" = r."区域"`},
		{name: "delete", sql: "DELETE FROM sales", wantKind: sandbox.KindRejected, wantMsg: "SELECT"},
		{name: "subquery", sql: "SELECT * FROM sales WHERE x IN (SELECT y FROM regions)", wantKind: sandbox.KindRejected},
		{
			name:     "three joins",
			sql:      "SELECT * FROM sales a JOIN regions b ON a.x=b.x JOIN sales c ON a.x=c.x JOIN regions d ON a.x=d.x",
			wantKind: sandbox.KindRejected,
			wantMsg:  "3 JOINs",
		},
		{name: "unknown table", sql: "SELECT * FROM sale", wantKind: sandbox.KindValidation, wantMsg: `table "sale"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Validate(tt.sql, salesTables())
			if tt.wantKind == "" {
				assert.Nil(t, d)
				return
			}
			require.NotNil(t, d)
			assert.Equal(t, tt.wantKind, d.Kind)
			assert.Contains(t, d.Message, tt.wantMsg)
			assert.Equal(t, tt.sql, d.SQL)
		})
	}
}

func TestValidate_SuggestsSimilarTable(t *testing.T) {
	d := Validate("SELECT * FROM sale", salesTables())
	require.NotNil(t, d)
	assert.Contains(t, d.FixSuggestion, `"sales"`)
}

func TestEnsureLimit(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want string
	}{
		{name: "adds limit", sql: "SELECT * FROM sales", want: "SELECT * FROM sales LIMIT 200"},
		{name: "keeps smaller", sql: "SELECT * FROM sales LIMIT 10", want: "SELECT * FROM sales LIMIT 10"},
		{name: "clamps larger", sql: "SELECT * FROM sales limit 5000", want: "SELECT * FROM sales limit 200"},
		{name: "clamps with offset", sql: "SELECT * FROM sales LIMIT 1000 OFFSET 5", want: "SELECT * FROM sales LIMIT 200 OFFSET 5"},
		{name: "limit all is unbounded", sql: "SELECT * FROM sales LIMIT ALL", want: "SELECT * FROM sales LIMIT 200"},
		{name: "lowercase limit all with offset", sql: "SELECT * FROM sales limit all offset 10", want: "SELECT * FROM sales limit 200 offset 10"},
		{name: "limit inside literal ignored", sql: "SELECT * FROM sales WHERE note = 'LIMIT 5' ", want: "SELECT * FROM sales WHERE note = 'LIMIT 5'  LIMIT 200"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EnsureLimit(tt.sql, 200))
		})
	}
}

func rows(n int) []models.Row {
	out := make([]models.Row, n)
	for i := range out {
		out[i] = models.Row{"x": i}
	}
	return out
}

func TestValidateResult(t *testing.T) {
	tests := []struct {
		name      string
		intent    string
		result    *sandbox.Result
		wantValid bool
		wantIssue string
	}{
		{
			name:      "good trend",
			intent:    "月度销售额变化趋势",
			result:    &sandbox.Result{Columns: []string{"月份", "销售额"}, Data: rows(12), RowCount: 12, TotalCount: 12},
			wantValid: true,
		},
		{
			name:      "empty",
			intent:    "各区域销售额",
			result:    &sandbox.Result{Columns: []string{"区域"}, Data: rows(0)},
			wantIssue: "no rows",
		},
		{
			name:      "trend without aggregation",
			intent:    "销售额趋势",
			result:    &sandbox.Result{Columns: []string{"月份", "销售额"}, Data: rows(150), RowCount: 150, TotalCount: 150},
			wantIssue: "aggregation",
		},
		{
			name:      "ratio without ratio column",
			intent:    "各区域销售额占比",
			result:    &sandbox.Result{Columns: []string{"区域", "销售额"}, Data: rows(5), RowCount: 5, TotalCount: 5},
			wantIssue: "ratio",
		},
		{
			name:      "trend without time column",
			intent:    "price trend",
			result:    &sandbox.Result{Columns: []string{"区域", "价格"}, Data: rows(5), RowCount: 5, TotalCount: 5},
			wantIssue: "time column",
		},
		{
			name:      "english aliases",
			intent:    "sales by region",
			result:    &sandbox.Result{Columns: []string{"region", "amount"}, Data: rows(5), RowCount: 5, TotalCount: 5},
			wantIssue: "Chinese aliases",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := ValidateResult(tt.intent, tt.result)
			assert.Equal(t, tt.wantValid, check.Valid)
			assert.Len(t, check.Suggestions, len(check.Issues))
			if tt.wantIssue != "" {
				assert.Contains(t, joinIssues(check), tt.wantIssue)
			}
		})
	}
}

func joinIssues(c Check) string {
	s := ""
	for _, i := range c.Issues {
		s += i + "\n"
	}
	return s
}
