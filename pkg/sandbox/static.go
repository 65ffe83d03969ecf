package sandbox

import (
	"regexp"
	"strings"
)

var (
	fenceOpenRe   = regexp.MustCompile("(?i)```sql\\s*")
	fenceRe       = regexp.MustCompile("```\\s*")
	lineCommentRe = regexp.MustCompile(`(?m)--.*$`)
)

// Clean strips markdown fences, line comments, surrounding whitespace and
// trailing semicolons.
func Clean(sql string) string {
	sql = fenceOpenRe.ReplaceAllString(sql, "")
	sql = fenceRe.ReplaceAllString(sql, "")
	sql = lineCommentRe.ReplaceAllString(sql, "")
	sql = strings.TrimSpace(sql)
	for strings.HasSuffix(sql, ";") {
		sql = strings.TrimSpace(strings.TrimSuffix(sql, ";"))
	}
	return sql
}

// ForbiddenKeywords may not appear anywhere in a statement.
var ForbiddenKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "TRUNCATE",
	"ALTER", "CREATE", "GRANT", "REVOKE", "EXEC", "EXECUTE",
}

var forbiddenKeywordRe = regexp.MustCompile(`\b(` + strings.Join(ForbiddenKeywords, "|") + `)\b`)

type forbiddenPattern struct {
	re      *regexp.Regexp
	message string
}

var forbiddenPatterns = []forbiddenPattern{
	{regexp.MustCompile(`\bIN\s*\(\s*SELECT\b`), "nested subquery IN (SELECT ...) is not allowed, use a JOIN instead"},
	{regexp.MustCompile(`\bEXISTS\s*\(\s*SELECT\b`), "EXISTS subquery is not allowed, simplify the query"},
	{regexp.MustCompile(`\bFROM\s*\(\s*SELECT\b`), "FROM subquery is not allowed, query the table directly"},
	{regexp.MustCompile(`\(\s*(?:SELECT|WITH|VALUES|TABLE)\b`), "subqueries are not allowed, use a JOIN or a separate query"},
	{regexp.MustCompile(`\b(?:PG_READ_FILE|PG_READ_BINARY_FILE|PG_LS_DIR|PG_STAT_FILE|PG_TERMINATE_BACKEND|PG_CANCEL_BACKEND|PG_RELOAD_CONF|SET_CONFIG|CURRENT_SETTING|LO_IMPORT|LO_EXPORT|LO_GET|DBLINK\w*|QUERY_TO_XML\w*|TABLE_TO_XML\w*|SCHEMA_TO_XML\w*|DATABASE_TO_XML\w*)"?\s*\(`), "server administration functions are not allowed"},
	{regexp.MustCompile(`\bUNION\b`), "UNION is not allowed, run separate queries"},
	{regexp.MustCompile(`\bINTERSECT\b`), "INTERSECT is not allowed, simplify the query"},
	{regexp.MustCompile(`\b(ROW_NUMBER|RANK|DENSE_RANK|NTILE)\s*\(\s*[^)]*\)\s*OVER\b`), "window functions are not allowed, use GROUP BY + ORDER BY"},
}

const simplePatternHint = "use the simple SELECT + WHERE + GROUP BY + ORDER BY pattern"

// CheckStatic rejects anything that is not a single plain SELECT within the
// supported subset. sql must already be cleaned.
func CheckStatic(sql string) *Diagnostic {
	raw := strings.ToUpper(strings.TrimSpace(sql))
	upper := strings.ToUpper(strings.TrimSpace(maskLiterals(sql)))
	if !strings.HasPrefix(upper, "SELECT") {
		return rejected("only SELECT statements are supported", simplePatternHint)
	}
	// Keywords are matched on the raw text, literals included.
	if m := forbiddenKeywordRe.FindString(raw); m != "" {
		return rejected("forbidden keyword "+m+" in query", "only read-only SELECT queries are allowed")
	}
	if strings.Contains(upper, ";") {
		return rejected("multiple statements are not allowed", "send exactly one SELECT statement")
	}
	for _, p := range forbiddenPatterns {
		if p.re.MatchString(upper) {
			return rejected(p.message, simplePatternHint)
		}
	}
	return nil
}

// maskLiterals blanks out the contents of single-quoted string literals so
// keywords inside values do not trigger checks. Length is preserved.
func maskLiterals(sql string) string {
	b := []byte(sql)
	in := false
	for i := 0; i < len(b); i++ {
		if b[i] == '\'' {
			if in && i+1 < len(b) && b[i+1] == '\'' {
				b[i], b[i+1] = ' ', ' '
				i++
				continue
			}
			in = !in
			continue
		}
		if in {
			b[i] = ' '
		}
	}
	return string(b)
}

// maskParens blanks out everything nested inside parentheses. CheckStatic
// rejects every parenthesized SELECT, so a FROM inside parentheses is a
// function argument (EXTRACT(YEAR FROM x)), never a table reference.
func maskParens(sql string) string {
	b := []byte(sql)
	depth := 0
	for i := range b {
		switch b[i] {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		default:
			if depth > 0 {
				b[i] = ' '
			}
		}
	}
	return string(b)
}
