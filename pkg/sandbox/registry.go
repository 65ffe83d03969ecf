package sandbox

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/codeready-toolchain/deepreport/pkg/models"
)

// Registry maps table names to the datasets a query may reference.
type Registry map[string]*models.Dataset

// NewRegistry indexes datasets by name.
func NewRegistry(datasets []*models.Dataset) Registry {
	r := make(Registry, len(datasets))
	for _, d := range datasets {
		r[d.Name] = d
	}
	return r
}

// Names returns the table names in sorted order.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for n := range r {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Lookup finds a table by name, ignoring case.
func (r Registry) Lookup(name string) (*models.Dataset, bool) {
	if d, ok := r[name]; ok {
		return d, true
	}
	for n, d := range r {
		if strings.EqualFold(n, name) {
			return d, true
		}
	}
	return nil, false
}

const identPattern = `(?:"([^"]+)"|` + "`([^`]+)`" + `|([\p{L}\p{N}_]+))`

var (
	fromClauseRe = regexp.MustCompile(`(?is)\bFROM\b(.*?)(?:\b(?:WHERE|GROUP|HAVING|ORDER|LIMIT|OFFSET|FETCH|WINDOW|FOR)\b|$)`)
	fromItemSep  = regexp.MustCompile(`(?i),|\bJOIN\b`)
	leadingIdent = regexp.MustCompile(`^\s*` + identPattern)
)

// ReferencedTables extracts every table in the top-level FROM lists of the
// statement, comma-separated or joined, in order of appearance and without
// duplicates. A FROM item that does not start with a name (a parenthesized
// expression) is returned as "(".
func ReferencedTables(sql string) []string {
	scan := maskParens(maskLiterals(sql))
	seen := make(map[string]bool)
	var out []string
	for _, clause := range fromClauseRe.FindAllStringSubmatch(scan, -1) {
		for _, item := range fromItemSep.Split(clause[1], -1) {
			if strings.TrimSpace(item) == "" {
				continue
			}
			name := "("
			if m := leadingIdent.FindStringSubmatch(item); m != nil {
				name = firstNonEmpty(m[1], m[2], m[3])
			}
			if seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// prevalidate checks table and table.column references against the registry
// and returns the datasets the statement needs.
func prevalidate(sql string, reg Registry) ([]*models.Dataset, *Diagnostic) {
	available := reg.Names()
	scan := maskLiterals(sql)

	referenced := ReferencedTables(sql)
	if len(referenced) == 0 {
		return nil, &Diagnostic{
			Kind:          KindValidation,
			Message:       "query does not read from any table",
			FixSuggestion: "select from one of: " + strings.Join(available, ", "),
		}
	}

	var used []*models.Dataset
	for _, name := range referenced {
		ds, ok := reg.Lookup(name)
		if !ok {
			suggestion := "available tables: " + strings.Join(available, ", ")
			if similar := SimilarName(name, available); similar != "" {
				suggestion = fmt.Sprintf("did you mean '%s'?", similar)
			}
			return nil, &Diagnostic{
				Kind:          KindValidation,
				Message:       fmt.Sprintf("table '%s' does not exist", name),
				FixSuggestion: suggestion,
			}
		}
		used = append(used, ds)

		colRe := regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_"])"?` + regexp.QuoteMeta(name) + `"?\.` + identPattern)
		columns := ds.ColumnNames()
		for _, m := range colRe.FindAllStringSubmatch(scan, -1) {
			col := firstNonEmpty(m[1], m[2], m[3])
			if col == "" || col == "*" || containsFold(columns, col) {
				continue
			}
			suggestion := fmt.Sprintf("columns of %s: %s", ds.Name, strings.Join(head(columns, 10), ", "))
			if similar := SimilarName(col, columns); similar != "" {
				suggestion = fmt.Sprintf("did you mean '%s'?", similar)
			}
			return nil, &Diagnostic{
				Kind:          KindValidation,
				Message:       fmt.Sprintf("column '%s' does not exist in table '%s'", col, ds.Name),
				FixSuggestion: suggestion,
			}
		}
	}
	return used, nil
}

// SimilarName returns the first candidate that shares a prefix with name or
// contains it (or is contained by it), ignoring case.
func SimilarName(name string, candidates []string) string {
	n := strings.ToLower(name)
	for _, c := range candidates {
		cl := strings.ToLower(c)
		if strings.HasPrefix(cl, n) || strings.HasPrefix(n, cl) {
			return c
		}
		if strings.Contains(cl, n) || strings.Contains(n, cl) {
			return c
		}
	}
	return ""
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func head(list []string, n int) []string {
	if len(list) > n {
		return list[:n]
	}
	return list
}

var (
	pgMissingRelationRe = regexp.MustCompile(`relation "([^"]+)" does not exist`)
	pgMissingColumnRe   = regexp.MustCompile(`column "?([^"\s]+)"? does not exist`)
	pgMissingFunctionRe = regexp.MustCompile(`function ([\w.]+)\(([^)]*)\) does not exist`)
)

// fixSuggestion maps an engine error message to an actionable hint.
func fixSuggestion(msg string, reg Registry) string {
	lower := strings.ToLower(msg)

	if m := pgMissingRelationRe.FindStringSubmatch(msg); m != nil {
		if similar := SimilarName(m[1], reg.Names()); similar != "" {
			return fmt.Sprintf("wrong table name, use '%s'", similar)
		}
		return "available tables: " + strings.Join(reg.Names(), ", ")
	}
	if m := pgMissingColumnRe.FindStringSubmatch(msg); m != nil {
		missing := m[1]
		if i := strings.LastIndex(missing, "."); i >= 0 {
			missing = missing[i+1:]
		}
		for _, name := range reg.Names() {
			if similar := SimilarName(missing, reg[name].ColumnNames()); similar != "" {
				return fmt.Sprintf("wrong column name, in table '%s' use '%s'", name, similar)
			}
		}
		return "check column names against the table schema and quote names with special characters in double quotes"
	}
	if m := pgMissingFunctionRe.FindStringSubmatch(msg); m != nil {
		if strings.Contains(m[2], "text") {
			return fmt.Sprintf("%s was applied to a text column, CAST it to numeric or timestamp first", m[1])
		}
		return fmt.Sprintf("%s is not supported, use standard aggregate and date functions", m[1])
	}
	if strings.Contains(lower, "invalid input syntax") {
		return "a value could not be converted, compare text columns with quoted strings"
	}
	if strings.Contains(lower, "syntax error") {
		return "SQL syntax error: quote aliases that start with a digit and use a simple SELECT"
	}
	return "simplify the SQL query"
}
