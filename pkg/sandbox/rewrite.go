package sandbox

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/codeready-toolchain/deepreport/pkg/models"
)

// Rewrite adapts model-written SQL to the Postgres engine: foreign quoting
// and functions are mapped, malformed range filters are repaired and known
// identifiers are quoted with their exact case.
func Rewrite(sql string, tables []*models.Dataset) string {
	sql = outsideLiterals(sql, func(s string) string { return strings.ReplaceAll(s, "`", `"`) })
	sql = fixRangeFilters(sql)

	sql = rewriteCalls(sql, "IFNULL", func(args []string) string {
		return "COALESCE(" + strings.Join(args, ", ") + ")"
	})
	sql = rewriteCalls(sql, "GROUP_CONCAT", rewriteGroupConcat)
	sql = rewriteCalls(sql, "STR_TO_DATE", func(args []string) string { return args[0] })
	sql = rewriteCalls(sql, "DATE_FORMAT", func(args []string) string {
		if len(args) != 2 {
			return "DATE_FORMAT(" + strings.Join(args, ", ") + ")"
		}
		return fmt.Sprintf("to_char(%s, %s)", asTimestamp(args[0]), mapDateFormat(args[1], mysqlFormat))
	})
	sql = rewriteCalls(sql, "STRFTIME", func(args []string) string {
		if len(args) != 2 {
			return "strftime(" + strings.Join(args, ", ") + ")"
		}
		return fmt.Sprintf("to_char(%s, %s)", asTimestamp(args[1]), mapDateFormat(args[0], sqliteFormat))
	})
	sql = rewriteCalls(sql, "EXTRACT", rewriteExtract)
	for _, part := range []string{"YEAR", "MONTH", "DAY"} {
		sql = rewriteCalls(sql, part, func(args []string) string {
			if len(args) != 1 {
				return part + "(" + strings.Join(args, ", ") + ")"
			}
			return fmt.Sprintf("EXTRACT(%s FROM %s)", part, asTimestamp(args[0]))
		})
	}
	sql = rewriteCalls(sql, "ROUND", func(args []string) string {
		if len(args) != 2 {
			return "ROUND(" + strings.Join(args, ", ") + ")"
		}
		return fmt.Sprintf("ROUND(CAST(%s AS numeric), %s)", args[0], args[1])
	})

	return quoteIdentifiers(sql, tables)
}

// outsideLiterals applies fn to every segment of sql that is not inside a
// single-quoted string literal.
func outsideLiterals(sql string, fn func(string) string) string {
	var b strings.Builder
	start, in := 0, false
	for i := 0; i < len(sql); i++ {
		if sql[i] != '\'' {
			continue
		}
		if in && i+1 < len(sql) && sql[i+1] == '\'' {
			i++
			continue
		}
		if in {
			b.WriteString(sql[start : i+1])
		} else {
			b.WriteString(fn(sql[start:i]))
		}
		start = i
		if in {
			start = i + 1
		}
		in = !in
	}
	if in {
		b.WriteString(sql[start:])
	} else {
		b.WriteString(fn(sql[start:]))
	}
	return b.String()
}

var (
	rangeValue      = `('[^']*'|-?\d+(?:\.\d+)?)`
	mongoRangeRe    = regexp.MustCompile(`(?i)\s*=?\s*\{\s*'\$gte'\s*:\s*` + rangeValue + `\s*,\s*'\$lte'\s*:\s*` + rangeValue + `\s*\}`)
	mongoBetweenRe  = regexp.MustCompile(`(?i)\s*=?\s*\{\s*'\$between'\s*:\s*\[\s*` + rangeValue + `\s*,\s*` + rangeValue + `\s*\]\s*\}`)
	quotedBetweenRe = regexp.MustCompile(`(?i)=\s*'BETWEEN\s+'([^']*)'\s+AND\s+'([^']*)''`)
)

// fixRangeFilters turns document-store range syntax and a BETWEEN wrapped
// in quotes into plain BETWEEN predicates.
func fixRangeFilters(sql string) string {
	sql = mongoRangeRe.ReplaceAllString(sql, " BETWEEN $1 AND $2")
	sql = mongoBetweenRe.ReplaceAllString(sql, " BETWEEN $1 AND $2")
	sql = quotedBetweenRe.ReplaceAllString(sql, "BETWEEN '$1' AND '$2'")
	return sql
}

// rewriteCalls replaces every call to the named function with fn(args).
// Arguments are rewritten before fn sees them so nested calls are handled;
// scanning resumes after each replacement.
func rewriteCalls(sql, name string, fn func(args []string) string) string {
	re := regexp.MustCompile(`(?i)(^|[^\p{L}\p{N}_."])` + name + `\s*\(`)
	masked := maskLiterals(sql)

	var b strings.Builder
	pos := 0
	for {
		loc := re.FindStringSubmatchIndex(masked[pos:])
		if loc == nil {
			break
		}
		callStart := pos + loc[3]
		open := pos + loc[1] - 1
		end := matchingParen(masked, open)
		if end < 0 {
			break
		}
		args := splitArgs(sql[open+1:end], masked[open+1:end])
		for i := range args {
			args[i] = rewriteCalls(args[i], name, fn)
		}
		b.WriteString(sql[pos:callStart])
		b.WriteString(fn(args))
		pos = end + 1
	}
	b.WriteString(sql[pos:])
	return b.String()
}

func matchingParen(masked string, open int) int {
	depth := 0
	for i := open; i < len(masked); i++ {
		switch masked[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitArgs splits raw at top-level commas, using masked to ignore commas
// inside literals.
func splitArgs(raw, masked string) []string {
	var args []string
	depth, start := 0, 0
	for i := 0; i < len(masked); i++ {
		switch masked[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(raw[start:i]))
				start = i + 1
			}
		}
	}
	return append(args, strings.TrimSpace(raw[start:]))
}

var pgCastSuffixRe = regexp.MustCompile(`::\s*\w+$`)

// asTimestamp casts an expression to timestamp unless it already is cast.
func asTimestamp(expr string) string {
	expr = strings.TrimSpace(pgCastSuffixRe.ReplaceAllString(strings.TrimSpace(expr), ""))
	if strings.HasPrefix(strings.ToUpper(expr), "CAST(") {
		return expr
	}
	return "CAST(" + expr + " AS timestamp)"
}

var extractFromRe = regexp.MustCompile(`(?i)^\s*(\w+)\s+FROM\s+(.+)$`)

func rewriteExtract(args []string) string {
	joined := strings.Join(args, ", ")
	m := extractFromRe.FindStringSubmatch(joined)
	if m == nil {
		return "EXTRACT(" + joined + ")"
	}
	return fmt.Sprintf("EXTRACT(%s FROM %s)", strings.ToUpper(m[1]), asTimestamp(m[2]))
}

var separatorRe = regexp.MustCompile(`(?i)^(.*?)\s+SEPARATOR\s+('[^']*')$`)

func rewriteGroupConcat(args []string) string {
	expr, sep := strings.Join(args, ", "), "','"
	if m := separatorRe.FindStringSubmatch(expr); m != nil {
		expr, sep = m[1], m[2]
	}
	distinct := ""
	if strings.HasPrefix(strings.ToUpper(expr), "DISTINCT ") {
		distinct, expr = "DISTINCT ", strings.TrimSpace(expr[len("DISTINCT "):])
	}
	return fmt.Sprintf("string_agg(%sCAST(%s AS text), %s)", distinct, expr, sep)
}

var (
	mysqlFormat = strings.NewReplacer(
		"%Y", "YYYY", "%y", "YY", "%m", "MM", "%c", "FMMM", "%d", "DD", "%e", "FMDD",
		"%H", "HH24", "%h", "HH12", "%i", "MI", "%s", "SS", "%S", "SS", "%M", "FMMonth",
		"%b", "Mon", "%W", "FMDay", "%a", "Dy", "%j", "DDD", "%u", "IW", "%%", "%",
	)
	sqliteFormat = strings.NewReplacer(
		"%Y", "YYYY", "%m", "MM", "%d", "DD", "%H", "HH24", "%M", "MI", "%S", "SS",
		"%j", "DDD", "%W", "WW", "%w", "D", "%%", "%",
	)
)

// mapDateFormat converts a quoted format literal; anything else is passed
// through untouched.
func mapDateFormat(lit string, r *strings.Replacer) string {
	lit = strings.TrimSpace(lit)
	if len(lit) < 2 || lit[0] != '\'' || lit[len(lit)-1] != '\'' {
		return lit
	}
	return "'" + r.Replace(lit[1:len(lit)-1]) + "'"
}

var sqlKeywords = map[string]bool{}

func init() {
	for _, k := range strings.Fields(`SELECT FROM WHERE GROUP BY ORDER HAVING LIMIT OFFSET AS AND OR NOT IN IS
		NULL LIKE ILIKE BETWEEN CASE WHEN THEN ELSE END ASC DESC DISTINCT JOIN LEFT RIGHT INNER OUTER FULL
		CROSS ON USING COUNT SUM AVG MIN MAX CAST DATE TIME TIMESTAMP INTERVAL YEAR MONTH DAY HOUR MINUTE
		SECOND WEEK QUARTER NUMERIC TEXT INTEGER INT BIGINT FLOAT REAL DOUBLE PRECISION VARCHAR CHAR BOOLEAN
		TRUE FALSE ALL ANY SOME NULLS FIRST LAST FILTER EXTRACT COALESCE`) {
		sqlKeywords[k] = true
	}
}

// quoteIdentifiers double-quotes known table and column names with their
// exact case when Postgres would otherwise fold or reject them, and quotes
// aliases that start with a digit.
func quoteIdentifiers(sql string, tables []*models.Dataset) string {
	known := make(map[string]string)
	for _, t := range tables {
		for _, name := range append([]string{t.Name}, t.ColumnNames()...) {
			if _, ok := known[strings.ToLower(name)]; !ok {
				known[strings.ToLower(name)] = name
			}
		}
	}

	return outsideLiterals(sql, func(seg string) string {
		var b strings.Builder
		runes := []rune(seg)
		prevWord := ""
		for i := 0; i < len(runes); {
			r := runes[i]
			if r == '"' {
				j := i + 1
				for j < len(runes) && runes[j] != '"' {
					j++
				}
				if j < len(runes) {
					j++
				}
				b.WriteString(string(runes[i:j]))
				prevWord = ""
				i = j
				continue
			}
			if !isIdentRune(r) {
				b.WriteRune(r)
				if !unicode.IsSpace(r) {
					prevWord = ""
				}
				i++
				continue
			}
			j := i
			for j < len(runes) && isIdentRune(runes[j]) {
				j++
			}
			word := string(runes[i:j])
			b.WriteString(quoteWord(word, prevWord, runes, i, j, known))
			prevWord = strings.ToUpper(word)
			i = j
		}
		return b.String()
	})
}

func quoteWord(word, prevWord string, runes []rune, start, end int, known map[string]string) string {
	if unicode.IsDigit(runes[start]) {
		if prevWord == "AS" && !isNumber(word) {
			return `"` + word + `"`
		}
		return word
	}
	if start >= 2 && runes[start-1] == ':' && runes[start-2] == ':' {
		return word
	}
	k := end
	for k < len(runes) && unicode.IsSpace(runes[k]) {
		k++
	}
	if k < len(runes) && runes[k] == '(' {
		return word
	}
	exact, ok := known[strings.ToLower(word)]
	if !ok {
		return word
	}
	// Keywords written in upper case or used as a type after AS stay keywords.
	upper := strings.ToUpper(word)
	if sqlKeywords[upper] && word != exact && (word == upper || prevWord == "AS") {
		return word
	}
	if !needsQuoting(exact) {
		return word
	}
	return `"` + exact + `"`
}

func isIdentRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '.' {
			return false
		}
	}
	return true
}

// needsQuoting reports whether an identifier changes meaning unquoted.
func needsQuoting(name string) bool {
	if name == "" || unicode.IsDigit([]rune(name)[0]) {
		return true
	}
	for _, r := range name {
		if !isIdentRune(r) || unicode.IsUpper(r) {
			return true
		}
	}
	return false
}
