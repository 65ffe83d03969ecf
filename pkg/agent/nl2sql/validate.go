package nl2sql

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/codeready-toolchain/deepreport/pkg/models"
	"github.com/codeready-toolchain/deepreport/pkg/sandbox"
)

const maxJoins = 2

var (
	joinRe  = regexp.MustCompile(`(?i)\bJOIN\b`)
	limitRe = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+|ALL)(\s+OFFSET\s+\d+)?\s*$`)
)

// Validate applies the sandbox's static rules plus the translator's own:
// at most two JOINs and only tables from the given schemas.
func Validate(sql string, tables []*models.Dataset) *sandbox.Diagnostic {
	if d := sandbox.CheckStatic(sql); d != nil {
		d.SQL = sql
		return d
	}
	if n := len(joinRe.FindAllString(sql, -1)); n > maxJoins {
		return &sandbox.Diagnostic{
			Kind:          sandbox.KindRejected,
			Message:       fmt.Sprintf("%d JOINs used, at most %d are allowed", n, maxJoins),
			FixSuggestion: "query fewer tables or split the question into separate searches",
			SQL:           sql,
		}
	}
	reg := sandbox.NewRegistry(tables)
	for _, name := range sandbox.ReferencedTables(sql) {
		if _, ok := reg.Lookup(name); ok {
			continue
		}
		suggestion := "available tables: " + strings.Join(reg.Names(), ", ")
		if similar := sandbox.SimilarName(name, reg.Names()); similar != "" {
			suggestion = fmt.Sprintf("did you mean %q? %s", similar, suggestion)
		}
		return &sandbox.Diagnostic{
			Kind:          sandbox.KindValidation,
			Message:       fmt.Sprintf("table %q does not exist", name),
			FixSuggestion: suggestion,
			SQL:           sql,
		}
	}
	return nil
}

// EnsureLimit appends LIMIT limitCap when the statement has none and lowers
// a larger one. LIMIT ALL counts as unbounded. sql must already be cleaned.
func EnsureLimit(sql string, limitCap int) string {
	m := limitRe.FindStringSubmatchIndex(sql)
	if m == nil {
		return fmt.Sprintf("%s LIMIT %d", sql, limitCap)
	}
	n, err := strconv.Atoi(sql[m[2]:m[3]])
	if err == nil && n <= limitCap {
		return sql
	}
	return sql[:m[2]] + strconv.Itoa(limitCap) + sql[m[3]:]
}

// Check is the semantic self-check of an executed translation.
type Check struct {
	Valid       bool
	Issues      []string
	Suggestions []string
}

func (c *Check) add(issue, suggestion string) {
	c.Issues = append(c.Issues, issue)
	c.Suggestions = append(c.Suggestions, suggestion)
}

// aggregationRowLimit is the row count above which a trend or distribution
// result is assumed to lack aggregation.
const aggregationRowLimit = 100

var (
	ratioWords        = []string{"占比", "比例", "比率", "百分比", "ratio", "share", "percent", "proportion"}
	ratioColumnWords  = []string{"占比", "比例", "比率", "率", "百分比", "ratio", "share", "pct", "percent", "%"}
	trendWords        = []string{"趋势", "变化", "走势", "trend", "over time"}
	distributionWords = []string{"分布", "分类", "distribution", "breakdown"}
	timeColumnWords   = []string{"日期", "时间", "年", "月", "周", "季度", "date", "time", "year", "month", "week", "quarter", "day"}
)

// ValidateResult flags results that executed but likely miss the intent.
func ValidateResult(intent string, res *sandbox.Result) Check {
	var c Check
	if res == nil || res.RowCount == 0 {
		c.add("query returned no rows", "relax or remove filters and check filter values against the column samples")
		return c
	}
	lower := strings.ToLower(intent)
	trend := containsAny(lower, trendWords)

	if (trend || containsAny(lower, distributionWords)) && res.TotalCount > aggregationRowLimit {
		c.add(fmt.Sprintf("%d rows returned for a trend or distribution question, aggregation is probably missing", res.TotalCount),
			"GROUP BY the time or category column and aggregate the measures")
	}
	if containsAny(lower, ratioWords) && !anyColumn(res.Columns, ratioColumnWords) {
		c.add("the question asks for a ratio but no ratio column was produced",
			`compute the share explicitly, e.g. SUM(x) * 100.0 / NULLIF(SUM(y), 0) AS "占比"`)
	}
	if trend && !anyColumn(res.Columns, timeColumnWords) {
		c.add("the question asks for a trend but the result has no time column",
			"select and GROUP BY the date or period column, ordered ascending")
	}
	if !hasCJKColumn(res.Columns) {
		c.add("result columns have no Chinese aliases",
			`alias every output column in Chinese, e.g. SUM("amount") AS "销售额"`)
	}
	c.Valid = len(c.Issues) == 0
	return c
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func anyColumn(columns []string, words []string) bool {
	for _, col := range columns {
		if containsAny(strings.ToLower(col), words) {
			return true
		}
	}
	return false
}

func hasCJKColumn(columns []string) bool {
	for _, col := range columns {
		for _, r := range col {
			if unicode.Is(unicode.Han, r) {
				return true
			}
		}
	}
	return false
}
