package researcher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/deepreport/pkg/agent"
	"github.com/codeready-toolchain/deepreport/pkg/agent/nl2sql"
	"github.com/codeready-toolchain/deepreport/pkg/llm"
	"github.com/codeready-toolchain/deepreport/pkg/models"
	"github.com/codeready-toolchain/deepreport/pkg/sandbox"
)

const (
	// DefaultSearchMaxRows is the row limit of one search when none is configured.
	DefaultSearchMaxRows = 500
	// DefaultTranslationRetries is how many extra attempts a failed search gets.
	DefaultTranslationRetries = 3

	minTranslatedIntent = 20
	maxReferenceFields  = 10
	summaryFields       = 3
	retrySuggestion     = "query failed, check table/field names or simplify filters"
)

const searchToolName = "Search"

var searchTool = llm.ToolDefinition{
	Name:        searchToolName,
	Description: "Query one registered table. Every parameter must come from the request or from earlier Search results; never invent field names.",
	Parameters: &llm.Schema{
		Type: llm.TypeObject,
		Properties: map[string]*llm.Schema{
			"scenario_description": {Type: llm.TypeString, Description: "the business question this query answers"},
			"table": {
				Type: llm.TypeObject,
				Properties: map[string]*llm.Schema{
					"table_name": {Type: llm.TypeString, Description: "registered table name"},
					"target_fields": {
						Type:        llm.TypeArray,
						Description: "fields to read, exactly as listed in the dataset knowledge",
						Items:       &llm.Schema{Type: llm.TypeString},
					},
					"filters":          {Type: llm.TypeObject, Description: "field -> value or list of values"},
					"selection_reason": {Type: llm.TypeString},
				},
				Required: []string{"table_name", "target_fields"},
			},
		},
		Required: []string{"scenario_description", "table"},
	},
}

type searchArgs struct {
	ScenarioDescription string `json:"scenario_description"`
	Table               struct {
		TableName       string         `json:"table_name"`
		TargetFields    []string       `json:"target_fields"`
		Filters         map[string]any `json:"filters"`
		SelectionReason string         `json:"selection_reason"`
	} `json:"table"`
}

// Executor runs SQL in the sandbox. Implemented by *sandbox.Sandbox.
type Executor interface {
	Execute(ctx context.Context, reg sandbox.Registry, sql string, maxRows int) (*sandbox.Result, error)
}

// Translator turns intents into SQL. Implemented by *nl2sql.Translator.
type Translator interface {
	Translate(ctx context.Context, req nl2sql.Request) (*nl2sql.Translation, error)
}

// Searcher executes Search tool calls: translate, run, check and retry
// with feedback, then summarise the result for the model.
type Searcher struct {
	executor   Executor
	translator Translator
	retries    int
	maxRows    int
}

// NewSearcher creates a Searcher. translator may be nil, in which case
// every search uses the field-list SQL.
func NewSearcher(executor Executor, translator Translator, retries, maxRows int) *Searcher {
	if retries < 0 {
		retries = DefaultTranslationRetries
	}
	if maxRows <= 0 {
		maxRows = DefaultSearchMaxRows
	}
	return &Searcher{executor: executor, translator: translator, retries: retries, maxRows: maxRows}
}

// Search runs one Search call. The returned result always has a data id;
// Success tells whether FullData holds the rows.
func (s *Searcher) Search(ctx context.Context, sessionID string, reg sandbox.Registry, args searchArgs) *models.SearchResult {
	purpose := strings.TrimSpace(args.ScenarioDescription)
	table := args.Table.TableName

	var (
		last    *sandbox.Result
		lastErr error
		lastSQL string
		hint    string
	)
	for attempt := 0; attempt <= s.retries; attempt++ {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		sql, deterministic := s.sql(ctx, sessionID, reg, args, purpose, hint)
		lastSQL = sql
		res, err := s.executor.Execute(ctx, reg, sql, s.maxRows)
		more := attempt < s.retries && !deterministic

		if err != nil {
			lastErr = err
			slog.Debug("Search query failed", "session_id", sessionID, "table", table, "attempt", attempt+1, "error", err)
			if !more {
				break
			}
			hint = failureHint(err, sql)
			continue
		}
		if len(res.Data) == 0 {
			// An empty result does not replace an earlier non-empty one.
			if last == nil || len(last.Data) == 0 {
				last, lastErr = res, nil
			}
			if !more {
				break
			}
			hint = "The previous query returned no rows. The filters are probably too strict: relax the WHERE clause or drop some filters."
			continue
		}

		last, lastErr = res, nil
		check := nl2sql.ValidateResult(purpose, res)
		if check.Valid || !more {
			break
		}
		hint = fmt.Sprintf("The previous query ran but does not fit the question.\nIssues: %s\nSuggestions: %s",
			strings.Join(check.Issues, "; "), strings.Join(check.Suggestions, "; "))
	}

	id := uuid.New().String()
	if last == nil {
		msg := "query failed"
		if lastErr != nil {
			msg = lastErr.Error()
		}
		return &models.SearchResult{
			DataID:          id,
			Purpose:         purpose,
			TableName:       table,
			SQL:             lastSQL,
			Error:           msg,
			RetrySuggestion: retrySuggestion,
		}
	}
	return buildResult(id, purpose, table, last)
}

// sql returns the statement for one attempt. deterministic is true when
// the field-list SQL was used because translation was not attempted, so
// retrying cannot change it.
func (s *Searcher) sql(ctx context.Context, sessionID string, reg sandbox.Registry, args searchArgs, purpose, hint string) (string, bool) {
	tables := schemaTables(reg, args.Table.TableName)
	if s.translator == nil || utf8.RuneCountInString(purpose) <= minTranslatedIntent || len(tables) == 0 {
		return fallbackSQL(args, s.maxRows), true
	}
	tr, err := s.translator.Translate(ctx, nl2sql.Request{
		SessionID: sessionID,
		Intent:    translationIntent(purpose, args),
		Tables:    tables,
		Context:   hint,
	})
	if err != nil {
		slog.Warn("NL2SQL failed, using field-list SQL", "session_id", sessionID, "error", err)
		return fallbackSQL(args, s.maxRows), false
	}
	return tr.SQL, false
}

// schemaTables returns the named table, or every table when none is named
// or the name is unknown.
func schemaTables(reg sandbox.Registry, name string) []*models.Dataset {
	if ds, ok := reg.Lookup(name); ok {
		return []*models.Dataset{ds}
	}
	out := make([]*models.Dataset, 0, len(reg))
	for _, n := range reg.Names() {
		ds, _ := reg.Lookup(n)
		out = append(out, ds)
	}
	return out
}

func translationIntent(purpose string, args searchArgs) string {
	var b strings.Builder
	b.WriteString(purpose)
	if len(args.Table.Filters) > 0 {
		parts := make([]string, 0, len(args.Table.Filters))
		for _, k := range sortedFilterKeys(args.Table.Filters) {
			parts = append(parts, fmt.Sprintf("%s=%v", k, args.Table.Filters[k]))
		}
		b.WriteString("\nFilters: ")
		b.WriteString(strings.Join(parts, ", "))
	}
	if fields := args.Table.TargetFields; len(fields) > 0 {
		if len(fields) > maxReferenceFields {
			fields = fields[:maxReferenceFields]
		}
		b.WriteString("\nReference fields: ")
		b.WriteString(strings.Join(fields, ", "))
	}
	return b.String()
}

func failureHint(err error, sql string) string {
	var b strings.Builder
	b.WriteString("The previous SQL failed.\n")
	fmt.Fprintf(&b, "Error: %s\n", agent.Truncate(err.Error(), 200))
	fmt.Fprintf(&b, "Failed SQL: %s\n", agent.Truncate(sql, 200))
	if d, ok := sandbox.AsDiagnostic(err); ok && d.FixSuggestion != "" {
		fmt.Fprintf(&b, "Fix: %s\n", d.FixSuggestion)
	}
	b.WriteString("Write simpler SQL: no subqueries, no UNION, only SELECT, WHERE, GROUP BY and ORDER BY.")
	return b.String()
}

// fallbackSQL builds SELECT <fields> FROM <table> [WHERE ...] LIMIT n
// straight from the tool arguments.
func fallbackSQL(args searchArgs, limit int) string {
	fields := "*"
	if len(args.Table.TargetFields) > 0 {
		quoted := make([]string, len(args.Table.TargetFields))
		for i, f := range args.Table.TargetFields {
			quoted[i] = quoteIdent(f)
		}
		fields = strings.Join(quoted, ", ")
	}
	sql := fmt.Sprintf("SELECT %s FROM %s", fields, quoteIdent(args.Table.TableName))

	var where []string
	for _, k := range sortedFilterKeys(args.Table.Filters) {
		switch v := args.Table.Filters[k].(type) {
		case []any:
			vals := make([]string, len(v))
			for i, e := range v {
				vals[i] = literal(e)
			}
			if len(vals) > 0 {
				where = append(where, fmt.Sprintf("%s IN (%s)", quoteIdent(k), strings.Join(vals, ", ")))
			}
		case nil:
		default:
			where = append(where, fmt.Sprintf("%s = %s", quoteIdent(k), literal(v)))
		}
	}
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	return fmt.Sprintf("%s LIMIT %d", sql, limit)
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func literal(v any) string {
	switch x := v.(type) {
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	default:
		return "'" + strings.ReplaceAll(fmt.Sprint(x), "'", "''") + "'"
	}
}

func sortedFilterKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func buildResult(id, purpose, table string, res *sandbox.Result) *models.SearchResult {
	metrics := keyMetrics(res.Data, res.Columns)
	c := compress(res.Data, res.Columns, purpose)
	return &models.SearchResult{
		DataID:              id,
		Success:             true,
		Purpose:             purpose,
		TableName:           table,
		SQL:                 res.SQL,
		Summary:             summarize(res, metrics),
		KeyMetrics:          metrics,
		CompressedData:      c.Data,
		CompressionStrategy: c.Strategy,
		SampleData:          c.Sample,
		RowCount:            len(res.Data),
		TotalCount:          res.TotalCount,
		Columns:             res.Columns,
		FullData:            res.Data,
	}
}

// keyMetrics computes record_count and sum/avg/max/min per numeric column.
func keyMetrics(rows []models.Row, columns []string) map[string]float64 {
	if len(rows) == 0 {
		return map[string]float64{}
	}
	m := map[string]float64{"record_count": float64(len(rows))}
	for _, col := range columns {
		var vals []float64
		for _, r := range rows {
			if f, ok := sandbox.ToFloat(r[col]); ok {
				vals = append(vals, f)
			}
		}
		if len(vals) == 0 {
			continue
		}
		sum, lo, hi := 0.0, vals[0], vals[0]
		for _, v := range vals {
			sum += v
			lo = min(lo, v)
			hi = max(hi, v)
		}
		m[col+"_sum"] = sum
		m[col+"_avg"] = sum / float64(len(vals))
		m[col+"_max"] = hi
		m[col+"_min"] = lo
	}
	return m
}

func summarize(res *sandbox.Result, metrics map[string]float64) string {
	if len(res.Data) == 0 {
		return "query returned no rows"
	}
	parts := []string{fmt.Sprintf("query returned %d rows (total %d)", len(res.Data), res.TotalCount)}
	shown := 0
	for _, col := range res.Columns {
		if shown == summaryFields {
			break
		}
		hi, ok := metrics[col+"_max"]
		if !ok {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s max=%.2f, avg=%.2f", col, hi, metrics[col+"_avg"]))
		shown++
	}
	return strings.Join(parts, "; ")
}
