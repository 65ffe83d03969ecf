package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"fenced", "```sql\nSELECT * FROM t;\n```", "SELECT * FROM t"},
		{"bare fence", "```\nSELECT 1\n```", "SELECT 1"},
		{"line comment", "SELECT a -- note\nFROM t", "SELECT a \nFROM t"},
		{"several semicolons", "SELECT 1;;", "SELECT 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in))
		})
	}
}

func TestCheckStatic(t *testing.T) {
	tests := []struct {
		name   string
		sql    string
		reject bool
	}{
		{"plain select", "SELECT region, SUM(amount) FROM sales GROUP BY region", false},
		{"keyword-like column", "SELECT updated_at FROM sales", false},
		{"keyword prefix in literal", "SELECT name FROM sales WHERE note = 'created'", false},
		{"semicolon in literal", "SELECT * FROM sales WHERE note = 'a;b'", false},
		{"not a select", "DELETE FROM sales", true},
		{"stacked statement", "SELECT * FROM sales; DROP TABLE sales", true},
		{"in subquery", "SELECT * FROM sales WHERE id IN (SELECT id FROM x)", true},
		{"exists subquery", "SELECT * FROM sales WHERE EXISTS (SELECT 1 FROM x)", true},
		{"from subquery", "SELECT * FROM (SELECT * FROM sales) s", true},
		{"union", "SELECT a FROM x UNION SELECT a FROM y", true},
		{"intersect", "SELECT a FROM x INTERSECT SELECT a FROM y", true},
		{"window function", "SELECT ROW_NUMBER() OVER (ORDER BY a) FROM x", true},
		{"scalar subquery", "SELECT a, (SELECT MAX(b) FROM y) FROM x", true},
		{"subquery in comparison", "SELECT a FROM x WHERE b > ( select avg(b) from x )", true},
		{"values list", "SELECT a FROM x WHERE b = ANY((VALUES (1)))", true},
		{"subquery text in literal", "SELECT a FROM x WHERE note = '(SELECT 1)'", false},
		{"file read function", "SELECT pg_read_file('/etc/passwd') FROM x", true},
		{"quoted file read function", `SELECT pg_catalog."pg_read_file"('/etc/passwd') FROM x`, true},
		{"sql in xml function", "SELECT query_to_xml('select 1', true, true, '') FROM x", true},
		{"settings function", "SELECT set_config('role', 'postgres', true) FROM x", true},
		{"remote query", "SELECT * FROM x JOIN dblink('host=h', 'select 1') AS t(a int) ON true", true},
		{"aggregate function", "SELECT COALESCE(SUM(b), 0) FROM x", false},
		{"lowercase keyword", "select * from sales where 1=1; delete from sales", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := CheckStatic(Clean(tt.sql))
			if !tt.reject {
				assert.Nil(t, d)
				return
			}
			require.NotNil(t, d)
			assert.Equal(t, KindRejected, d.Kind)
			assert.NotEmpty(t, d.FixSuggestion)
		})
	}
}

func TestCheckStatic_EveryForbiddenKeyword(t *testing.T) {
	for _, kw := range ForbiddenKeywords {
		t.Run(kw, func(t *testing.T) {
			assert.NotNil(t, CheckStatic("SELECT * FROM sales WHERE note = '"+kw+"'"))
			assert.NotNil(t, CheckStatic("SELECT * FROM sales "+kw+" x"))
		})
	}
}

func TestMaskParens(t *testing.T) {
	got := maskParens("SELECT EXTRACT(YEAR FROM date) FROM sales")
	assert.NotContains(t, got, "YEAR FROM")
	assert.Contains(t, got, "FROM sales")
	assert.Len(t, got, len("SELECT EXTRACT(YEAR FROM date) FROM sales"))
}
