// Package orchestrator runs a whole report: planning, concurrent section
// research with heartbeats, the summary and the final ordered assembly.
// Progress is published as report events on the session channel.
package orchestrator

import (
	"context"
	"errors"

	"github.com/codeready-toolchain/deepreport/pkg/agent/planner"
	"github.com/codeready-toolchain/deepreport/pkg/agent/researcher"
	"github.com/codeready-toolchain/deepreport/pkg/agent/summary"
	"github.com/codeready-toolchain/deepreport/pkg/events"
	"github.com/codeready-toolchain/deepreport/pkg/models"
	"github.com/codeready-toolchain/deepreport/pkg/sandbox"
)

// Sentinel errors for generation runs.
var (
	ErrNoKnowledge           = errors.New("no dataset knowledge available")
	ErrReportFinished        = errors.New("report already finished")
	ErrNotAwaitingAnswer     = errors.New("report is not waiting for a clarification answer")
	ErrClarificationRequired = errors.New("resuming a report requires a clarification answer")
	ErrSecondClarification   = errors.New("planner asked for a second clarification")
)

// Planner produces the outline. Implemented by *planner.Planner.
type Planner interface {
	Plan(ctx context.Context, in planner.Input) (*planner.Outcome, error)
}

// Researcher produces one section. Implemented by *researcher.Researcher.
type Researcher interface {
	Research(ctx context.Context, task researcher.Task) (*models.Section, error)
}

// Summarizer writes the introduction and conclusion. Implemented by *summary.Agent.
type Summarizer interface {
	Generate(ctx context.Context, in summary.Input) summary.Result
}

// Datasets resolves the queryable tables of a session. Implemented by *dataset.Cache.
type Datasets interface {
	Registry(ctx context.Context, sessionID string) (sandbox.Registry, error)
}

// ReportStore persists report documents. Implemented by *services.ReportService.
type ReportStore interface {
	CreateReport(ctx context.Context, sessionID, userRequest string) (*models.Report, error)
	GetReport(ctx context.Context, reportID string) (*models.Report, error)
	SaveReport(ctx context.Context, report *models.Report) error
}

// EventSink publishes report events. Implemented by *events.EventPublisher.
type EventSink interface {
	PublishReportEvent(ctx context.Context, sessionID string, ev events.ReportEvent) error
}

// Request starts or resumes a generation run.
type Request struct {
	SessionID string
	// ReportID is set when resuming a draft report after a clarification.
	// Clarification must be set with it.
	ReportID string
	Request  string
	// Clarification carries the planner context and the user's answer.
	Clarification *models.ClarificationContext
	// OnEvent, when set, observes every report event of this run after it
	// was published. It is called from the generating goroutine.
	OnEvent func(ev events.ReportEvent)
}

// SectionResult is the outcome of one section research task.
type SectionResult struct {
	Index   int
	Spec    models.SectionSpec
	Section *models.Section
	Err     error
}
