package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codeready-toolchain/deepreport/pkg/agent"
	"github.com/codeready-toolchain/deepreport/pkg/agent/planner"
	"github.com/codeready-toolchain/deepreport/pkg/agent/researcher"
	"github.com/codeready-toolchain/deepreport/pkg/agent/section"
	"github.com/codeready-toolchain/deepreport/pkg/agent/summary"
	"github.com/codeready-toolchain/deepreport/pkg/config"
	"github.com/codeready-toolchain/deepreport/pkg/dataset"
	"github.com/codeready-toolchain/deepreport/pkg/events"
	"github.com/codeready-toolchain/deepreport/pkg/metrics"
	"github.com/codeready-toolchain/deepreport/pkg/models"
	"github.com/codeready-toolchain/deepreport/pkg/sandbox"
)

const (
	introductionName  = "引言"
	introductionTitle = "报告概述"
	conclusionName    = "总结与建议"
	conclusionTitle   = "核心发现与行动建议"
	reportSummaryLen  = 200

	statusKnowledge = "正在分析数据知识库..."
	statusPlanning  = "正在规划报告结构..."
	statusSummary   = "正在生成引言和总结..."
	statusAssemble  = "正在组装报告..."
	noKnowledgeMsg  = "没有可用的数据知识库，请先上传数据文件"
)

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Planner    Planner
	Researcher Researcher
	Summary    Summarizer
	Datasets   Datasets
	Reports    ReportStore
	Events     EventSink
	Metrics    *metrics.Metrics
}

// Orchestrator runs report generation. One value serves every run.
type Orchestrator struct {
	deps              Deps
	heartbeatInterval time.Duration
	maxConcurrent     int
}

// New creates an Orchestrator. cfg may be nil for the defaults.
func New(deps Deps, cfg *config.ReportConfig) *Orchestrator {
	if cfg == nil {
		cfg = config.DefaultReportConfig()
	}
	o := &Orchestrator{
		deps:              deps,
		heartbeatInterval: cfg.HeartbeatInterval,
		maxConcurrent:     cfg.MaxConcurrentSections,
	}
	if o.heartbeatInterval <= 0 {
		o.heartbeatInterval = 15 * time.Second
	}
	return o
}

// run is the state of one generation run.
type run struct {
	req    Request
	report *models.Report
	log    *slog.Logger
}

// Generate runs the pipeline for req and publishes its events. It returns
// the report in its final state: completed, error, or draft when the
// planner asked for a clarification. The error is non-nil only when the
// report could not be opened or the run failed.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*models.Report, error) {
	report, err := o.open(ctx, req)
	if err != nil {
		return nil, err
	}
	r := &run{
		req:    req,
		report: report,
		log:    slog.With("session_id", req.SessionID, "report_id", report.ReportID),
	}
	r.log.Info("Report generation started", "resume", req.Clarification != nil)
	o.emit(ctx, r, events.ReportEvent{Type: events.EventTypeReportCreated})

	if err := o.generate(ctx, r); err != nil {
		return r.report, o.fail(ctx, r, err)
	}
	return r.report, nil
}

// open creates the report of a new run or reloads the one being resumed.
func (o *Orchestrator) open(ctx context.Context, req Request) (*models.Report, error) {
	if req.ReportID == "" {
		return o.deps.Reports.CreateReport(ctx, req.SessionID, req.Request)
	}
	if req.Clarification == nil {
		return nil, fmt.Errorf("report %s: %w", req.ReportID, ErrClarificationRequired)
	}
	report, err := o.deps.Reports.GetReport(ctx, req.ReportID)
	if err != nil {
		return nil, err
	}
	if report.Status.IsTerminal() {
		return nil, fmt.Errorf("report %s is %s: %w", report.ReportID, report.Status, ErrReportFinished)
	}
	if report.Status != models.ReportStatusDraft {
		return nil, fmt.Errorf("report %s is %s: %w", report.ReportID, report.Status, ErrNotAwaitingAnswer)
	}
	report.Status = models.ReportStatusGenerating
	if err := o.deps.Reports.SaveReport(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}

func (o *Orchestrator) generate(ctx context.Context, r *run) error {
	o.status(ctx, r, statusKnowledge)
	reg, err := o.deps.Datasets.Registry(ctx, r.req.SessionID)
	if errors.Is(err, dataset.ErrNoData) || (err == nil && len(reg) == 0) {
		return ErrNoKnowledge
	}
	if err != nil {
		return err
	}
	knowledge := dataset.Knowledge(reg)

	o.status(ctx, r, statusPlanning)
	out, err := o.deps.Planner.Plan(ctx, planner.Input{
		SessionID:     r.req.SessionID,
		Request:       o.request(r),
		Knowledge:     knowledge,
		Clarification: r.req.Clarification,
		Clarified:     r.req.ReportID != "",
	})
	if err != nil {
		return fmt.Errorf("planning failed: %w", err)
	}
	if out.Clarification != nil {
		if r.req.ReportID != "" {
			return ErrSecondClarification
		}
		return o.clarify(ctx, r, out.Clarification)
	}

	outline := out.Outline
	r.report.Title = outline.Topic
	o.emit(ctx, r, events.ReportEvent{Type: events.EventTypeOutline, Outline: outline})
	if err := o.deps.Reports.SaveReport(ctx, r.report); err != nil {
		r.log.Warn("Failed to save outline progress", "error", err)
	}

	sections, err := o.research(ctx, r, outline, knowledge, reg)
	if err != nil {
		return err
	}
	if n := section.NewDeduper().Report(sections); n > 0 {
		r.log.Info("Collapsed duplicate charts across sections", "duplicates", n)
	}

	o.status(ctx, r, statusSummary)
	sum := o.deps.Summary.Generate(ctx, summary.Input{
		SessionID:   r.req.SessionID,
		Request:     o.confirmedRequest(r),
		Topic:       outline.Topic,
		Parameters:  outline.Parameters,
		Conclusions: summary.Conclusions(sections),
	})
	if err := ctx.Err(); err != nil {
		return err
	}

	o.status(ctx, r, statusAssemble)
	r.report.Sections = assemble(sum, sections)
	r.report.Summary = agent.Truncate(sum.Introduction, reportSummaryLen)
	r.report.Status = models.ReportStatusCompleted
	r.report.Error = ""
	if err := o.deps.Reports.SaveReport(ctx, r.report); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	o.deps.Metrics.IncReport(string(models.ReportStatusCompleted))
	o.emit(ctx, r, events.ReportEvent{Type: events.EventTypeComplete, Report: r.report})
	r.log.Info("Report generation completed", "sections", len(r.report.Sections))
	return nil
}

// clarify parks the report as a draft and hands the question to the user.
func (o *Orchestrator) clarify(ctx context.Context, r *run, c *models.ClarificationContext) error {
	r.report.Status = models.ReportStatusDraft
	if err := o.deps.Reports.SaveReport(ctx, r.report); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	o.emit(ctx, r, events.ReportEvent{
		Type:          events.EventTypeClarification,
		Requirement:   c.Requirement,
		Clarification: c,
	})
	r.log.Info("Report waiting for clarification")
	return nil
}

// research fans out one task per section and collects them in completion
// order. The returned sections are in outline order; failed ones are left out.
func (o *Orchestrator) research(ctx context.Context, r *run, outline *models.Outline, knowledge string, reg sandbox.Registry) ([]models.Section, error) {
	total := len(outline.Sections)
	o.status(ctx, r, fmt.Sprintf("开始并发执行 %d 个章节研究...", total))
	for i, spec := range outline.Sections {
		o.emit(ctx, r, events.ReportEvent{
			Type:  events.EventTypeSectionStart,
			Index: ptr(i),
			Total: total,
			Title: spec.Title,
		})
	}

	runner := NewSectionRunner(ctx, o.deps.Researcher, o.maxConcurrent, total)
	defer runner.CancelAll()
	for i, spec := range outline.Sections {
		runner.Dispatch(i, researcher.Task{
			SessionID:  r.req.SessionID,
			Topic:      outline.Topic,
			Parameters: outline.Parameters,
			Spec:       spec,
			Knowledge:  knowledge,
			Registry:   reg,
		})
	}

	fan := &fanIn{o: o, ctx: ctx, run: r, total: total, done: make([]*models.Section, total)}
	if err := Collect(ctx, runner, o.heartbeatInterval, fan); err != nil {
		runner.CancelAll()
		waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		runner.WaitAll(waitCtx)
		cancel()
		return nil, err
	}

	sections := make([]models.Section, 0, total)
	for _, sec := range fan.done {
		if sec != nil {
			sections = append(sections, *sec)
		}
	}
	return sections, nil
}

// fanIn turns collected results into report events.
type fanIn struct {
	o     *Orchestrator
	ctx   context.Context
	run   *run
	total int
	done  []*models.Section
}

func (f *fanIn) OnResult(res *SectionResult, _ int) {
	if res.Err != nil {
		f.run.log.Warn("Section failed", "index", res.Index, "section_id", res.Spec.SectionID, "error", res.Err)
		f.o.deps.Metrics.IncSection("failed")
		f.o.emit(f.ctx, f.run, events.ReportEvent{
			Type:  events.EventTypeSectionError,
			Index: ptr(res.Index),
			Total: f.total,
			Title: res.Spec.Title,
			Error: res.Err.Error(),
		})
		return
	}
	outcome := "completed"
	if res.Section.Degraded() {
		outcome = "degraded"
	}
	f.o.deps.Metrics.IncSection(outcome)
	f.done[res.Index] = res.Section
	f.o.emit(f.ctx, f.run, events.ReportEvent{
		Type:    events.EventTypeSectionComplete,
		Index:   ptr(res.Index),
		Total:   f.total,
		Title:   res.Spec.Title,
		Section: res.Section,
	})
}

func (f *fanIn) OnIdle(completed, pending int) {
	f.o.emit(f.ctx, f.run, events.ReportEvent{
		Type:      events.EventTypeHeartbeat,
		Message:   fmt.Sprintf("正在处理... (%d/%d 章节完成, 还有 %d 个任务)", completed, f.total, pending),
		Total:     f.total,
		Completed: ptr(completed),
		Pending:   ptr(pending),
	})
}

// fail stores the report in status error and publishes the error event.
// It runs on a context detached from ctx so a cancelled run is still recorded.
func (o *Orchestrator) fail(ctx context.Context, r *run, err error) error {
	ctx = context.WithoutCancel(ctx)
	msg := failureMessage(err)
	r.log.Error("Report generation failed", "error", err)

	r.report.Status = models.ReportStatusError
	r.report.Error = msg
	if saveErr := o.deps.Reports.SaveReport(ctx, r.report); saveErr != nil {
		r.log.Error("Failed to save failed report", "error", saveErr)
	}
	o.deps.Metrics.IncReport(string(models.ReportStatusError))
	o.emit(ctx, r, events.ReportEvent{Type: events.EventTypeError, Message: msg})
	return err
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, ErrNoKnowledge):
		return noKnowledgeMsg
	case errors.Is(err, context.Canceled):
		return "报告生成已取消"
	}
	return "报告生成失败: " + err.Error()
}

func (o *Orchestrator) status(ctx context.Context, r *run, msg string) {
	o.emit(ctx, r, events.ReportEvent{Type: events.EventTypeStatus, Message: msg})
}

// emit publishes ev. Failures are logged and never stop the run.
func (o *Orchestrator) emit(ctx context.Context, r *run, ev events.ReportEvent) {
	ev.ReportID = r.report.ReportID
	ev.SessionID = r.req.SessionID
	ev.Timestamp = events.Now()
	if o.deps.Events != nil {
		if err := o.deps.Events.PublishReportEvent(ctx, r.req.SessionID, ev); err != nil {
			r.log.Warn("Failed to publish report event", "type", ev.Type, "error", err)
		}
	}
	if r.req.OnEvent != nil {
		r.req.OnEvent(ev)
	}
}

// request is what the planner plans from; a resumed run may omit it.
func (o *Orchestrator) request(r *run) string {
	if strings.TrimSpace(r.req.Request) != "" {
		return r.req.Request
	}
	return r.report.UserRequest
}

// confirmedRequest is what the summary writes for: the confirmed
// requirement after a clarification, else the original request.
func (o *Orchestrator) confirmedRequest(r *run) string {
	c := r.req.Clarification
	if c == nil {
		return o.request(r)
	}
	var parts []string
	for _, s := range []string{c.Requirement, c.Answer} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return o.request(r)
	}
	return strings.Join(parts, "\n")
}

// assemble orders the final document: introduction, researched sections,
// conclusion. The synthetic sections are only added when they have text.
func assemble(sum summary.Result, researched []models.Section) []models.Section {
	out := make([]models.Section, 0, len(researched)+2)
	if sum.Introduction != "" {
		out = append(out, syntheticSection(models.IntroductionSectionID, introductionName, introductionTitle, sum.Introduction))
	}
	out = append(out, researched...)
	if sum.SummaryAndRecommendations != "" {
		out = append(out, syntheticSection(models.SummarySectionID, conclusionName, conclusionTitle, sum.SummaryAndRecommendations))
	}
	return out
}

func syntheticSection(id, name, title, text string) models.Section {
	return models.Section{
		SectionID: id,
		Name:      name,
		Discoveries: []models.Discovery{{
			DiscoveryID: id + "_1",
			Title:       title,
			Insight:     text,
			Charts:      []models.Chart{},
		}},
	}
}

func ptr[T any](v T) *T { return &v }
