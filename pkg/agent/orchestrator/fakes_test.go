package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/deepreport/pkg/agent/planner"
	"github.com/codeready-toolchain/deepreport/pkg/agent/researcher"
	"github.com/codeready-toolchain/deepreport/pkg/agent/summary"
	"github.com/codeready-toolchain/deepreport/pkg/events"
	"github.com/codeready-toolchain/deepreport/pkg/models"
	"github.com/codeready-toolchain/deepreport/pkg/sandbox"
	"github.com/codeready-toolchain/deepreport/pkg/sandbox/sandboxtest"
)

type fakePlanner struct {
	mu      sync.Mutex
	inputs  []planner.Input
	outcome *planner.Outcome
	err     error
}

func (p *fakePlanner) Plan(_ context.Context, in planner.Input) (*planner.Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inputs = append(p.inputs, in)
	return p.outcome, p.err
}

type researchFunc func(ctx context.Context, task researcher.Task) (*models.Section, error)

func (f researchFunc) Research(ctx context.Context, task researcher.Task) (*models.Section, error) {
	return f(ctx, task)
}

func researched(_ context.Context, task researcher.Task) (*models.Section, error) {
	return &models.Section{
		SectionID:   task.Spec.SectionID,
		Name:        task.Spec.Title,
		Discoveries: []models.Discovery{{DiscoveryID: "discovery_1", Title: "【现状】" + task.Spec.Title, Insight: "x"}},
		Conclusion:  task.Spec.Title + "结论",
	}, nil
}

type fakeSummary struct {
	mu     sync.Mutex
	inputs []summary.Input
	result summary.Result
}

func (s *fakeSummary) Generate(_ context.Context, in summary.Input) summary.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, in)
	return s.result
}

type fakeDatasets struct {
	reg sandbox.Registry
	err error
}

func (d *fakeDatasets) Registry(context.Context, string) (sandbox.Registry, error) {
	return d.reg, d.err
}

type memReports struct {
	mu      sync.Mutex
	reports map[string]models.Report
	saves   []models.ReportStatus
}

func newMemReports() *memReports {
	return &memReports{reports: make(map[string]models.Report)}
}

func (m *memReports) CreateReport(_ context.Context, sessionID, userRequest string) (*models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := models.Report{
		ReportID:    uuid.New().String(),
		SessionID:   sessionID,
		Title:       models.DefaultReportTopic,
		UserRequest: userRequest,
		Sections:    []models.Section{},
		Status:      models.ReportStatusGenerating,
	}
	m.reports[r.ReportID] = r
	return &r, nil
}

func (m *memReports) GetReport(_ context.Context, id string) (*models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, fmt.Errorf("report %s not found", id)
	}
	return &r, nil
}

func (m *memReports) SaveReport(_ context.Context, r *models.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[r.ReportID] = *r
	m.saves = append(m.saves, r.Status)
	return nil
}

func (m *memReports) get(id string) models.Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reports[id]
}

type eventLog struct {
	mu     sync.Mutex
	events []events.ReportEvent
}

func (l *eventLog) PublishReportEvent(_ context.Context, _ string, ev events.ReportEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) all() []events.ReportEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]events.ReportEvent(nil), l.events...)
}

// types returns event types without status events.
func (l *eventLog) types() []string {
	var out []string
	for _, ev := range l.all() {
		if ev.Type != events.EventTypeStatus {
			out = append(out, ev.Type)
		}
	}
	return out
}

func (l *eventLog) ofType(t string) []events.ReportEvent {
	var out []events.ReportEvent
	for _, ev := range l.all() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func salesRegistry() sandbox.Registry {
	return sandbox.NewRegistry([]*models.Dataset{
		sandboxtest.Dataset("sales", models.Row{"区域": "华东", "销售额": 10.0}),
	})
}

func outline(titles ...string) *models.Outline {
	o := &models.Outline{Topic: "2024年销售分析", Parameters: map[string]any{"year": 2024.0}}
	for i, t := range titles {
		o.Sections = append(o.Sections, models.SectionSpec{
			SectionID: fmt.Sprintf("section_%d", i+1),
			Title:     t,
			Name:      t,
		})
	}
	return o
}
