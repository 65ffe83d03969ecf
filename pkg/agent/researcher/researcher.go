// Package researcher runs the per-section research loop: the research
// agent queries datasets through Search and submits its findings through
// Section, which the section assembler turns into a rendered section.
package researcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/codeready-toolchain/deepreport/pkg/agent"
	"github.com/codeready-toolchain/deepreport/pkg/agent/prompt"
	"github.com/codeready-toolchain/deepreport/pkg/agent/section"
	"github.com/codeready-toolchain/deepreport/pkg/config"
	"github.com/codeready-toolchain/deepreport/pkg/llm"
	"github.com/codeready-toolchain/deepreport/pkg/models"
	"github.com/codeready-toolchain/deepreport/pkg/sandbox"
)

const (
	// DefaultMaxIterations bounds model turns per section.
	DefaultMaxIterations = 15
	// DefaultMaxSearches is the Search count after which searches are refused.
	DefaultMaxSearches = 8

	// After enoughSearches searches and enoughIterations turns the model is
	// told once to write the section.
	enoughSearches   = 5
	enoughIterations = 6
	// Plain-text replies after this many searches are nudged toward Section.
	textNudgeSearches = 3

	maxIterationsReason = "reached maximum iterations"
)

const (
	nudgeStartSearch    = "Start by calling Search to fetch the data you need."
	nudgeWriteSection   = "You have enough data. Call the Section tool now with your findings."
	nudgeEnoughData     = "You have collected enough data. Call the Section tool now and do not search again."
	nudgeEmptyReply     = "Your last reply was empty. Call Search to fetch data or Section to submit your findings."
	searchLimitAck      = "I have collected enough data for the analysis."
	searchLimitNudge    = "Search limit reached. Call the Section tool now, based on the data you already have."
	noDataToolError     = "no data available, run Search first"
	noDataUserNudge     = "Section needs data, but no Search has returned rows yet. Search again with simpler conditions (fewer filters, fewer fields) and call Section once data is available."
	emptyDiscoveryError = "discoveries must not be empty"
)

// Assembler renders a submitted section. Implemented by *section.Assembler.
type Assembler interface {
	Assemble(ctx context.Context, sessionID, sectionID string, args section.Args, results map[string]*models.SearchResult) *models.Section
}

// Task is one section to research.
type Task struct {
	SessionID  string
	Topic      string
	Parameters map[string]any
	Spec       models.SectionSpec
	Knowledge  string
	Registry   sandbox.Registry
}

// Researcher runs research loops. It holds no per-run state, so one value
// serves every section of every report concurrently.
type Researcher struct {
	llm           agent.Completer
	prompts       *prompt.Store
	telemetry     *agent.Telemetry
	searcher      *Searcher
	assembler     Assembler
	maxIterations int
	maxSearches   int
	now           func() time.Time
}

// New creates a Researcher. Non-positive limits use the defaults.
func New(llm agent.Completer, prompts *prompt.Store, telemetry *agent.Telemetry, searcher *Searcher, assembler Assembler, maxIterations, maxSearches int) *Researcher {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	if maxSearches <= 0 {
		maxSearches = DefaultMaxSearches
	}
	return &Researcher{
		llm:           llm,
		prompts:       prompts,
		telemetry:     telemetry,
		searcher:      searcher,
		assembler:     assembler,
		maxIterations: maxIterations,
		maxSearches:   maxSearches,
		now:           time.Now,
	}
}

// runState is everything one research run accumulates.
type runState struct {
	task     Task
	run      *agent.Run
	messages []llm.Message
	results  map[string]*models.SearchResult
	order    []string
	searches int
	nudged   bool
}

func (s *runState) keep(r *models.SearchResult) {
	s.results[r.DataID] = r
	s.order = append(s.order, r.DataID)
}

// Research produces the section for task. When the loop runs out of turns
// a degraded section is returned instead of an error; errors are returned
// only for cancellation and missing LLM configuration.
func (r *Researcher) Research(ctx context.Context, task Task) (*models.Section, error) {
	title := sectionTitle(task.Spec)
	st := &runState{
		task:    task,
		run:     r.telemetry.Start(ctx, task.SessionID, config.AgentTypeResearch, "Research: "+agent.Truncate(title, 20)),
		results: make(map[string]*models.SearchResult),
	}
	st.messages = []llm.Message{
		llm.SystemMessage(r.prompts.Render(prompt.Research, map[string]string{
			"date":         r.now().Format("2006-01-02"),
			"max_searches": strconv.Itoa(r.maxSearches),
		})),
		llm.UserMessage(taskMessage(task, title)),
	}

	sec, err := r.loop(ctx, st)
	if err != nil {
		st.run.Fail(ctx, err)
		return nil, err
	}
	if sec == nil {
		slog.Warn("Research loop exhausted, emitting degraded section",
			"session_id", task.SessionID, "section_id", task.Spec.SectionID, "results", len(st.results))
		sec = degradedSection(task.Spec, st)
	}
	st.run.Complete(ctx, map[string]any{
		"section_name":      sec.Name,
		"discoveries_count": len(sec.Discoveries),
		"fallback":          sec.Degraded(),
	})
	return sec, nil
}

func (r *Researcher) loop(ctx context.Context, st *runState) (*models.Section, error) {
	budget := agent.NewBudget(r.maxIterations)
	for budget.Next() {
		if !st.nudged && st.searches >= enoughSearches && budget.Round() > enoughIterations {
			st.messages = append(st.messages, llm.UserMessage(nudgeEnoughData))
			st.nudged = true
		}

		resp, err := agent.Call(ctx, r.llm, st.run, &llm.Request{
			Agent:    config.AgentTypeResearch,
			Messages: st.messages,
			Tools:    []llm.ToolDefinition{searchTool, section.Tool},
		})
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, llm.ErrNotConfigured) {
				return nil, err
			}
			if budget.Failed(err) {
				slog.Warn("Research aborted after consecutive timeouts", "section_id", st.task.Spec.SectionID)
				return nil, nil
			}
			st.messages = append(st.messages, llm.UserMessage(fmt.Sprintf("The previous step failed: %s. Adjust and try again.", err)))
			continue
		}
		budget.Succeeded()

		if len(resp.ToolCalls) == 0 {
			r.onText(st, resp.Text)
			continue
		}
		for _, call := range resp.ToolCalls {
			st.run.ToolCall(ctx, call)
			switch call.Name {
			case searchToolName:
				r.onSearch(ctx, st, call)
			case section.ToolName:
				if sec := r.onSection(ctx, st, call); sec != nil {
					return sec, nil
				}
			default:
				st.messages = append(st.messages, llm.AssistantMessage("", call),
					llm.ToolMessage(call, fmt.Sprintf("unknown tool %q; call Search or Section", call.Name)))
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (r *Researcher) onText(st *runState, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		if last := st.messages[len(st.messages)-1]; last.Role != llm.RoleUser || last.Content != nudgeEmptyReply {
			st.messages = append(st.messages, llm.UserMessage(nudgeEmptyReply))
		}
		return
	}
	st.messages = append(st.messages, llm.AssistantMessage(text))
	switch {
	case st.searches == 0:
		st.messages = append(st.messages, llm.UserMessage(nudgeStartSearch))
	case st.searches >= textNudgeSearches:
		st.messages = append(st.messages, llm.UserMessage(nudgeWriteSection))
	}
}

func (r *Researcher) onSearch(ctx context.Context, st *runState, call llm.ToolCall) {
	st.searches++
	if st.searches > r.maxSearches {
		slog.Info("Search refused, limit reached", "section_id", st.task.Spec.SectionID, "searches", st.searches)
		st.messages = append(st.messages, llm.AssistantMessage(searchLimitAck), llm.UserMessage(searchLimitNudge))
		return
	}

	st.messages = append(st.messages, llm.AssistantMessage("", call))
	var args searchArgs
	if err := agent.DecodeToolArgs(call, searchTool, &args); err != nil {
		st.messages = append(st.messages, llm.ToolMessage(call, err.Error()))
		st.run.ToolResult(ctx, call.Name, "invalid arguments")
		return
	}

	result := r.searcher.Search(ctx, st.task.SessionID, st.task.Registry, args)
	if result.Success && result.RowCount > 0 {
		st.keep(result)
	}
	payload, err := json.Marshal(result)
	if err != nil {
		payload = []byte(fmt.Sprintf(`{"success": false, "error": %q}`, err.Error()))
	}
	st.messages = append(st.messages, llm.ToolMessage(call, string(payload)))

	outcome := "failed"
	if result.Success {
		outcome = "succeeded"
	}
	st.run.ToolResult(ctx, call.Name, fmt.Sprintf("%s: %d rows", outcome, result.RowCount))
}

// onSection returns the assembled section, or nil after feeding an error
// back to the model.
func (r *Researcher) onSection(ctx context.Context, st *runState, call llm.ToolCall) *models.Section {
	st.messages = append(st.messages, llm.AssistantMessage("", call))
	if len(st.results) == 0 {
		st.messages = append(st.messages,
			llm.ToolMessage(call, toolError(noDataToolError, "check whether earlier searches succeeded or try different parameters")),
			llm.UserMessage(noDataUserNudge))
		st.run.ToolResult(ctx, call.Name, "rejected: no data")
		return nil
	}

	var args section.Args
	if err := agent.DecodeToolArgs(call, section.Tool, &args); err != nil {
		st.messages = append(st.messages, llm.ToolMessage(call, err.Error()))
		st.run.ToolResult(ctx, call.Name, "invalid arguments")
		return nil
	}
	if len(args.Discoveries) == 0 {
		st.messages = append(st.messages,
			llm.ToolMessage(call, toolError(emptyDiscoveryError, "write at least one finding based on the data already retrieved")))
		st.run.ToolResult(ctx, call.Name, "rejected: no discoveries")
		return nil
	}

	sec := r.assembler.Assemble(ctx, st.task.SessionID, st.task.Spec.SectionID, args, st.results)
	if sec.Name == "" {
		sec.Name = sectionTitle(st.task.Spec)
	}
	st.run.ToolResult(ctx, call.Name, fmt.Sprintf("%d discoveries", len(sec.Discoveries)))
	return sec
}

func toolError(msg, suggestion string) string {
	data, _ := json.Marshal(map[string]string{"error": msg, "suggestion": suggestion})
	return string(data)
}

func sectionTitle(spec models.SectionSpec) string {
	switch {
	case spec.Title != "":
		return spec.Title
	case spec.Name != "":
		return spec.Name
	}
	return "数据分析"
}

func taskMessage(task Task, title string) string {
	topic := task.Topic
	if topic == "" {
		topic = models.DefaultReportTopic
	}
	params, err := json.MarshalIndent(task.Parameters, "", "  ")
	if err != nil || task.Parameters == nil {
		params = []byte("{}")
	}
	keys := "none"
	if len(task.Spec.KeyParameters) > 0 {
		keys = "- " + strings.Join(task.Spec.KeyParameters, "\n- ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Research the following section.\n\n## Report topic\n%s\n\n## Report parameters\n%s\n\n", topic, params)
	fmt.Fprintf(&b, "## Section title\n%s\n\n## What to research\n%s\n\n## Analysis method\n%s\n\n",
		title, task.Spec.ResearchDescription, task.Spec.AnalysisMethod)
	fmt.Fprintf(&b, "## Key parameters to cover\n%s\n\n## Research focus\n%s\n\n", keys, task.Spec.ResearchFocus)
	if task.Knowledge != "" {
		fmt.Fprintf(&b, "## Dataset knowledge\n%s\n\n", task.Knowledge)
	}
	b.WriteString("Think about the analysis first, then Search for data, then call Section with the section title above as name. " +
		"Every discovery needs a markdown table of key numbers; every number must come from a Search result; fill data_references.")
	return b.String()
}

// degradedSection keeps a section visible when research did not finish:
// it lists what was retrieved, or says that nothing was.
func degradedSection(spec models.SectionSpec, st *runState) *models.Section {
	name := sectionTitle(spec)
	disc := models.Discovery{DiscoveryID: "fallback_1", Charts: []models.Chart{}}
	var refs []models.DataReference

	if len(st.order) > 0 {
		var lines []string
		for _, id := range st.order {
			res := st.results[id]
			table := res.TableName
			if table == "" {
				table = "未知表"
			}
			lines = append(lines, fmt.Sprintf("- %s: %d 条数据", table, res.RowCount))
			if res.Summary != "" {
				lines = append(lines, "  摘要: "+res.Summary)
			}
			refs = append(refs, models.DataReference{DataID: id, Description: res.Purpose, Usage: "partial results"})
		}
		disc.Title = "【数据概览】" + name
		disc.Insight = "本章节的数据分析过程中遇到了一些问题，以下是已收集到的数据概况：\n\n" +
			strings.Join(lines, "\n") +
			"\n\n由于分析流程未能完成，具体的深入分析和可视化图表暂时无法生成。建议重新运行分析或检查数据质量。"
		disc.DataInterpretation = "数据已收集但分析流程未完成"
	} else {
		disc.Title = "【待分析】" + name
		disc.Insight = "本章节的数据获取过程中遇到问题，未能成功获取分析所需的数据。可能的原因包括：\n\n" +
			"- 数据表名或字段名不匹配\n- 查询条件过于严格\n- 数据源暂时不可用\n\n建议检查数据配置后重新尝试。"
		disc.DataInterpretation = "数据获取失败"
	}

	return &models.Section{
		SectionID:      spec.SectionID,
		Name:           name,
		Discoveries:    []models.Discovery{disc},
		Conclusion:     "由于分析过程中遇到问题，本章节内容为降级版本。建议检查数据源和查询条件后重新生成。",
		DataReferences: refs,
		Error:          maxIterationsReason,
	}
}
