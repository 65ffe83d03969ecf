// Package nl2sql translates analytical intents into SQL over session datasets.
package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/codeready-toolchain/deepreport/pkg/agent"
	"github.com/codeready-toolchain/deepreport/pkg/agent/prompt"
	"github.com/codeready-toolchain/deepreport/pkg/config"
	"github.com/codeready-toolchain/deepreport/pkg/dataset"
	"github.com/codeready-toolchain/deepreport/pkg/llm"
	"github.com/codeready-toolchain/deepreport/pkg/models"
	"github.com/codeready-toolchain/deepreport/pkg/sandbox"
)

// DefaultLimitCap is the LIMIT enforced when none is configured.
const DefaultLimitCap = 200

// ErrNoSQL is returned when the model produced neither a GenerateSQL call
// nor a SQL block.
var ErrNoSQL = errors.New("model returned no SQL")

const maxSchemaColumns = 30

var sqlBlockRe = regexp.MustCompile("(?is)```sql\\s*(.*?)```")

var generateSQLTool = llm.ToolDefinition{
	Name:        "GenerateSQL",
	Description: "Return the SQL statement answering the intent.",
	Parameters: &llm.Schema{
		Type: llm.TypeObject,
		Properties: map[string]*llm.Schema{
			"sql":         {Type: llm.TypeString, Description: "one PostgreSQL SELECT statement"},
			"explanation": {Type: llm.TypeString, Description: "what the query computes"},
			"expected_columns": {
				Type:        llm.TypeArray,
				Description: "output column aliases",
				Items:       &llm.Schema{Type: llm.TypeString},
			},
		},
		Required: []string{"sql"},
	},
}

type generateSQLArgs struct {
	SQL             string   `json:"sql"`
	Explanation     string   `json:"explanation"`
	ExpectedColumns []string `json:"expected_columns"`
}

// Request is one translation.
type Request struct {
	SessionID string
	Intent    string
	Tables    []*models.Dataset
	// Context is appended to the intent, e.g. the diagnostic of a failed attempt.
	Context string
}

// Translation is a validated statement ready for the sandbox.
type Translation struct {
	SQL             string
	Explanation     string
	ExpectedColumns []string
}

// Translator calls the nl2sql agent and validates what it returns.
type Translator struct {
	llm       agent.Completer
	prompts   *prompt.Store
	telemetry *agent.Telemetry
	limitCap  int
}

// New creates a Translator. limitCap <= 0 uses DefaultLimitCap.
func New(llm agent.Completer, prompts *prompt.Store, telemetry *agent.Telemetry, limitCap int) *Translator {
	if limitCap <= 0 {
		limitCap = DefaultLimitCap
	}
	return &Translator{llm: llm, prompts: prompts, telemetry: telemetry, limitCap: limitCap}
}

// Translate produces a statement for req.Intent. A statement failing
// validation is returned as a *sandbox.Diagnostic.
func (t *Translator) Translate(ctx context.Context, req Request) (*Translation, error) {
	run := t.telemetry.Start(ctx, req.SessionID, config.AgentTypeNL2SQL, "NL2SQL: "+agent.Truncate(req.Intent, 30))

	tr, err := t.translate(ctx, run, req)
	if err != nil {
		run.Fail(ctx, err)
		return nil, err
	}
	run.Complete(ctx, map[string]any{"sql": tr.SQL})
	return tr, nil
}

func (t *Translator) translate(ctx context.Context, run *agent.Run, req Request) (*Translation, error) {
	messages := []llm.Message{
		llm.SystemMessage(t.prompts.Render(prompt.NL2SQL, map[string]string{"limit": strconv.Itoa(t.limitCap)})),
		llm.UserMessage(userMessage(req)),
	}
	resp, err := agent.Call(ctx, t.llm, run, &llm.Request{
		Agent:    config.AgentTypeNL2SQL,
		Messages: messages,
		Tools:    []llm.ToolDefinition{generateSQLTool},
	})
	if err != nil {
		return nil, err
	}

	var args generateSQLArgs
	if call, ok := resp.FirstToolCall(); ok && call.Name == generateSQLTool.Name {
		run.ToolCall(ctx, call)
		if err := agent.DecodeToolArgs(call, generateSQLTool, &args); err != nil {
			return nil, err
		}
	} else {
		args.SQL = extractSQL(resp.Text)
	}
	if strings.TrimSpace(args.SQL) == "" {
		return nil, ErrNoSQL
	}

	sql := sandbox.Clean(args.SQL)
	if d := Validate(sql, req.Tables); d != nil {
		return nil, d
	}
	return &Translation{
		SQL:             EnsureLimit(sql, t.limitCap),
		Explanation:     args.Explanation,
		ExpectedColumns: args.ExpectedColumns,
	}, nil
}

func extractSQL(text string) string {
	if m := sqlBlockRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(strings.ToUpper(trimmed), "SELECT") {
		return trimmed
	}
	return ""
}

func userMessage(req Request) string {
	var b strings.Builder
	b.WriteString("## Intent\n")
	b.WriteString(req.Intent)
	b.WriteString("\n\n## Tables\n")
	for _, ds := range req.Tables {
		writeSchemaTable(&b, ds)
	}
	if req.Context != "" {
		b.WriteString("\n## Additional context\n")
		b.WriteString(req.Context)
		b.WriteString("\n")
	}
	return b.String()
}

func writeSchemaTable(b *strings.Builder, ds *models.Dataset) {
	fmt.Fprintf(b, "\n### %s (%d rows)\n", ds.Name, ds.RowCount)
	if ds.Description != "" {
		fmt.Fprintf(b, "%s\n", ds.Description)
	}
	b.WriteString("| column | type | samples |\n|---|---|---|\n")
	cols := ds.Columns
	if len(cols) > maxSchemaColumns {
		cols = cols[:maxSchemaColumns]
	}
	for _, c := range cols {
		fmt.Fprintf(b, "| %s | %s | %s |\n", c.Name, c.Type,
			strings.Join(dataset.SampleValues(ds.Rows, c.Name, 3), ", "))
	}
}
