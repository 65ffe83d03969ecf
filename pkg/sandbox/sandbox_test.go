package sandbox

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/deepreport/pkg/metrics"
	"github.com/codeready-toolchain/deepreport/pkg/models"
	"github.com/codeready-toolchain/deepreport/pkg/sandbox/sandboxtest"
)

func salesRegistry() Registry {
	return NewRegistry([]*models.Dataset{salesTable()})
}

func rows(n int) []models.Row {
	out := make([]models.Row, n)
	for i := range out {
		out[i] = models.Row{"region": fmt.Sprintf("r%d", i), "amount": float64(i)}
	}
	return out
}

func TestExecute_RejectsWithoutCallingEngine(t *testing.T) {
	statements := []string{
		"DROP TABLE sales",
		"SELECT * FROM sales WHERE region IN (SELECT region FROM sales)",
		"SELECT region FROM sales UNION SELECT region FROM sales",
		"SELECT RANK() OVER (ORDER BY amount) FROM sales",
		"SELECT region, (SELECT MAX(amount) FROM sales) FROM sales",
		"SELECT region FROM sales WHERE amount > ( select AVG(amount) FROM sales )",
		"SELECT region FROM sales WHERE amount = ANY((VALUES (1)))",
		"SELECT pg_read_file('/etc/passwd') FROM sales",
		`SELECT "pg_read_file"('/etc/passwd') FROM sales`,
		"SELECT query_to_xml('select * from sessions', true, true, '') FROM sales",
		"SELECT current_setting('data_directory') FROM sales",
	}
	for _, kw := range ForbiddenKeywords {
		statements = append(statements, "SELECT * FROM sales WHERE region = '"+kw+"'")
	}

	engine := &sandboxtest.Engine{}
	sb := New(engine, 0, metrics.New())
	for _, sql := range statements {
		t.Run(sql, func(t *testing.T) {
			res, err := sb.Execute(context.Background(), salesRegistry(), sql, 100)
			require.Error(t, err)
			assert.Nil(t, res)
			d, ok := AsDiagnostic(err)
			require.True(t, ok)
			assert.Equal(t, KindRejected, d.Kind)
		})
	}
	assert.Equal(t, 0, engine.Calls())
}

func TestExecute_UnknownTable(t *testing.T) {
	engine := &sandboxtest.Engine{}
	sb := New(engine, 0, nil)

	_, err := sb.Execute(context.Background(), salesRegistry(), "SELECT x FROM orders", 100)
	d, ok := AsDiagnostic(err)
	require.True(t, ok)
	assert.Equal(t, KindValidation, d.Kind)
	assert.Contains(t, d.Message, "orders")
	assert.Contains(t, d.FixSuggestion, "sales")
	assert.Equal(t, 0, engine.Calls())
}

func TestExecute_UnknownColumn(t *testing.T) {
	engine := &sandboxtest.Engine{}
	sb := New(engine, 0, nil)

	_, err := sb.Execute(context.Background(), salesRegistry(), "SELECT sales.amount_total FROM sales", 100)
	d, ok := AsDiagnostic(err)
	require.True(t, ok)
	assert.Equal(t, KindValidation, d.Kind)
	assert.Contains(t, d.Message, "amount_total")
	assert.Equal(t, "did you mean 'amount'?", d.FixSuggestion)
	assert.Equal(t, 0, engine.Calls())
}

func TestExecute_TableReferencesMustBeDatasets(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		message string
	}{
		{"no table", "SELECT 1", "does not read from any table"},
		{"function only", "SELECT version()", "does not read from any table"},
		{"comma join with app table", "SELECT * FROM sales, sessions", "'sessions' does not exist"},
		{"comma join with alias", "SELECT s.region FROM sales s, reports r WHERE s.region = r.status", "'reports' does not exist"},
		{"schema qualified", "SELECT * FROM public.sessions", "'public' does not exist"},
		{"catalog table", "SELECT * FROM sales JOIN pg_catalog.pg_authid a ON true", "'pg_catalog' does not exist"},
		{"set returning function", "SELECT * FROM generate_series(1, 10)", "'generate_series' does not exist"},
		{"comma after join", "SELECT * FROM sales JOIN sales b ON true, pg_shadow", "'pg_shadow' does not exist"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &sandboxtest.Engine{}
			sb := New(engine, 0, nil)

			_, err := sb.Execute(context.Background(), salesRegistry(), tt.sql, 100)
			d, ok := AsDiagnostic(err)
			require.True(t, ok)
			assert.Equal(t, KindValidation, d.Kind)
			assert.Contains(t, d.Message, tt.message)
			assert.Contains(t, d.FixSuggestion, "sales")
			assert.Equal(t, 0, engine.Calls())
		})
	}
}

func TestExecute_CommaJoinLoadsEveryTable(t *testing.T) {
	orders := &models.Dataset{Name: "orders", Columns: []models.Column{{Name: "region", Type: models.ColumnTypeText}}}
	reg := NewRegistry([]*models.Dataset{salesTable(), orders})
	engine := &sandboxtest.Engine{}
	sb := New(engine, 0, nil)

	_, err := sb.Execute(context.Background(), reg, "SELECT s.region FROM sales s, orders o WHERE s.region = o.region", 100)
	require.NoError(t, err)
	require.Len(t, engine.Tables, 1)
	assert.Equal(t, []string{"sales", "orders"}, engine.Tables[0])
}

func TestExecute_EmptyRegistry(t *testing.T) {
	sb := New(&sandboxtest.Engine{}, 0, nil)
	_, err := sb.Execute(context.Background(), Registry{}, "SELECT 1", 10)
	d, ok := AsDiagnostic(err)
	require.True(t, ok)
	assert.Equal(t, KindNoData, d.Kind)
}

func TestExecute_RowLimit(t *testing.T) {
	tests := []struct {
		name          string
		returned      int
		maxRows       int
		wantRows      int
		wantTruncated bool
	}{
		{"above limit", 12, 5, 5, true},
		{"at limit", 5, 5, 5, false},
		{"below limit", 3, 5, 3, false},
		{"empty", 0, 5, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &sandboxtest.Engine{Default: &sandboxtest.Reply{
				Columns: []string{"region", "amount"},
				Rows:    rows(tt.returned),
			}}
			sb := New(engine, 0, nil)

			res, err := sb.Execute(context.Background(), salesRegistry(), "SELECT region, amount FROM sales", tt.maxRows)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTruncated, res.Truncated)
			assert.Equal(t, tt.wantRows, res.RowCount)
			assert.Len(t, res.Data, tt.wantRows)
			assert.Equal(t, tt.returned, res.TotalCount)
			assert.GreaterOrEqual(t, res.TotalCount, res.RowCount)
		})
	}
}

func TestExecute_PassesRewrittenSQLAndTables(t *testing.T) {
	engine := &sandboxtest.Engine{}
	sb := New(engine, 0, nil)

	_, err := sb.Execute(context.Background(), salesRegistry(), "```sql\nSELECT IFNULL(amount, 0) FROM `sales`;\n```", 10)
	require.NoError(t, err)
	require.Len(t, engine.Queries, 1)
	assert.Equal(t, `SELECT COALESCE(amount, 0) FROM "sales"`, engine.Queries[0])
}

func TestExecute_StripsMarkupFromCells(t *testing.T) {
	engine := &sandboxtest.Engine{Default: &sandboxtest.Reply{
		Columns: []string{"region"},
		Rows:    []models.Row{{"region": "<b>North</b> see https://example.com/x &amp; more"}},
	}}
	sb := New(engine, 0, nil)

	res, err := sb.Execute(context.Background(), salesRegistry(), "SELECT region FROM sales", 10)
	require.NoError(t, err)
	assert.Equal(t, "North see more", res.Data[0]["region"])
}

func TestExecute_EngineFailures(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		wantKind       DiagnosticKind
		wantSuggestion string
	}{
		{
			name:           "timeout",
			err:            fmt.Errorf("%w after 30s", ErrTimeout),
			wantKind:       KindTimeout,
			wantSuggestion: "simplify the query",
		},
		{
			name:           "missing column",
			err:            errors.New(`ERROR: column "amounts" does not exist (SQLSTATE 42703)`),
			wantKind:       KindEngine,
			wantSuggestion: "use 'amount'",
		},
		{
			name:           "syntax error",
			err:            errors.New(`ERROR: syntax error at or near "BY" (SQLSTATE 42601)`),
			wantKind:       KindEngine,
			wantSuggestion: "simple SELECT",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &sandboxtest.Engine{Default: &sandboxtest.Reply{Err: tt.err}}
			sb := New(engine, 0, nil)

			_, err := sb.Execute(context.Background(), salesRegistry(), "SELECT amounts FROM sales", 10)
			d, ok := AsDiagnostic(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantKind, d.Kind)
			assert.Contains(t, d.FixSuggestion, tt.wantSuggestion)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestReferencedTables(t *testing.T) {
	tests := []struct {
		sql  string
		want []string
	}{
		{"SELECT * FROM sales", []string{"sales"}},
		{`SELECT EXTRACT(YEAR FROM date) FROM sales s JOIN "Orders" o ON s.id = o.id`, []string{"sales", "Orders"}},
		{"SELECT * FROM `销售数据` WHERE note = 'FROM x'", []string{"销售数据"}},
		{"SELECT * FROM sales JOIN sales ON 1=1", []string{"sales"}},
		{"SELECT * FROM sales s, orders AS o WHERE s.id = o.id", []string{"sales", "orders"}},
		{"SELECT * FROM sales,orders,\"Returns\" r ORDER BY 1", []string{"sales", "orders", "Returns"}},
		{"SELECT * FROM sales LEFT JOIN orders o ON s.id = o.id, refunds GROUP BY 1", []string{"sales", "orders", "refunds"}},
		{"SELECT SUBSTRING(region FROM 1 FOR 2) FROM sales", []string{"sales"}},
		{"SELECT 1", nil},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			assert.Equal(t, tt.want, ReferencedTables(tt.sql))
		})
	}
}

func TestSimilarName(t *testing.T) {
	candidates := []string{"orders", "sales", "sales_2024"}
	assert.Equal(t, "sales", SimilarName("SALE", candidates))
	assert.Equal(t, "orders", SimilarName("ORDER", candidates))
	assert.Equal(t, "", SimilarName("products", candidates))
}

func TestStripMarkup(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{`<a href="https://x">link</a> after`, "after"},
		{"<p>para</p>", "para"},
		{"go https://steamcommunity.com/linkfilter/?url=https://evil now", "go now"},
		{"open file:///etc/passwd please", "open please"},
		{"a&nbsp;b&#39;c", "a b c"},
		{"say %22hi%27", "say hi"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, StripMarkup(tt.in))
		})
	}
}
