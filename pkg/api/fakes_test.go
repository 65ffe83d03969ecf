package api

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/deepreport/pkg/agent/orchestrator"
	"github.com/codeready-toolchain/deepreport/pkg/events"
	"github.com/codeready-toolchain/deepreport/pkg/models"
	"github.com/codeready-toolchain/deepreport/pkg/services"
)

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
}

func newFakeSessions(ids ...string) *fakeSessions {
	f := &fakeSessions{sessions: make(map[string]*models.Session)}
	for _, id := range ids {
		f.sessions[id] = &models.Session{ID: id, Title: "会话 " + id}
	}
	return f
}

func (f *fakeSessions) CreateSession(_ context.Context, req models.CreateSessionRequest) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess := &models.Session{ID: fmt.Sprintf("sess-%d", len(f.sessions)+1), Title: req.Title, CreatedAt: time.Now()}
	f.sessions[sess.ID] = sess
	return sess, nil
}

func (f *fakeSessions) GetSession(_ context.Context, id string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, services.ErrNotFound)
	}
	return sess, nil
}

func (f *fakeSessions) DeleteSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id]; !ok {
		return fmt.Errorf("session %s: %w", id, services.ErrNotFound)
	}
	delete(f.sessions, id)
	return nil
}

type fakeDatasets struct {
	created []models.CreateDatasetRequest
	list    []*models.Dataset
	err     error
}

func (f *fakeDatasets) CreateDataset(_ context.Context, sessionID string, req models.CreateDatasetRequest) (*models.Dataset, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, req)
	return &models.Dataset{ID: "ds-1", SessionID: sessionID, Name: req.Name, Rows: req.Rows, RowCount: len(req.Rows)}, nil
}

func (f *fakeDatasets) ListDatasets(_ context.Context, _ string, withRows bool) ([]*models.Dataset, error) {
	out := make([]*models.Dataset, 0, len(f.list))
	for _, ds := range f.list {
		cp := *ds
		if !withRows {
			cp.Rows = nil
		}
		out = append(out, &cp)
	}
	return out, nil
}

type fakeReports struct {
	mu      sync.Mutex
	reports map[string]*models.Report
	deleted []string
}

func newFakeReports(reports ...*models.Report) *fakeReports {
	f := &fakeReports{reports: make(map[string]*models.Report)}
	for _, r := range reports {
		f.reports[r.ReportID] = r
	}
	return f
}

func (f *fakeReports) GetReport(_ context.Context, id string) (*models.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reports[id]
	if !ok {
		return nil, fmt.Errorf("report %s: %w", id, services.ErrNotFound)
	}
	return r, nil
}

func (f *fakeReports) ListReports(_ context.Context, sessionID string) ([]models.ReportListItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.ReportListItem{}
	for _, r := range f.reports {
		if r.SessionID == sessionID {
			out = append(out, models.ReportListItem{ReportID: r.ReportID, Title: r.Title, Status: r.Status})
		}
	}
	return out, nil
}

func (f *fakeReports) DeleteReport(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.reports[id]; !ok {
		return fmt.Errorf("report %s: %w", id, services.ErrNotFound)
	}
	delete(f.reports, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeCache struct {
	mu          sync.Mutex
	invalidated []string
}

func (f *fakeCache) Invalidate(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, sessionID)
}

type generatorFunc func(ctx context.Context, req orchestrator.Request) (*models.Report, error)

func (f generatorFunc) Generate(ctx context.Context, req orchestrator.Request) (*models.Report, error) {
	return f(ctx, req)
}

// emitting returns a generator that publishes evs for report r1 and returns it.
func emitting(status models.ReportStatus, types ...string) generatorFunc {
	return func(_ context.Context, req orchestrator.Request) (*models.Report, error) {
		for _, typ := range types {
			req.OnEvent(events.ReportEvent{Type: typ, ReportID: "r1", SessionID: req.SessionID, Timestamp: events.Now()})
		}
		return &models.Report{ReportID: "r1", SessionID: req.SessionID, Status: status}, nil
	}
}

type testServer struct {
	*Server
	sessions *fakeSessions
	datasets *fakeDatasets
	reports  *fakeReports
	cache    *fakeCache
	broker   *events.Broker
}

func newTestServer(gen Generator) *testServer {
	gin.SetMode(gin.TestMode)
	ts := &testServer{
		sessions: newFakeSessions("s1"),
		datasets: &fakeDatasets{},
		reports:  newFakeReports(),
		cache:    &fakeCache{},
		broker:   events.NewBroker(nil),
	}
	ts.Server = NewServer(nil, nil, Deps{
		Sessions:  ts.sessions,
		Datasets:  ts.datasets,
		Reports:   ts.reports,
		Cache:     ts.cache,
		Generator: gen,
		Broker:    ts.broker,
	})
	return ts
}

type sseFrame struct {
	ID    string
	Event string
	Data  string
}

// readSSE parses frames from r until it ends or n frames were read (n <= 0 reads all).
func readSSE(r io.Reader, n int) []sseFrame {
	var (
		frames []sseFrame
		cur    sseFrame
		seen   bool
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if seen {
				frames = append(frames, cur)
				if n > 0 && len(frames) == n {
					return frames
				}
			}
			cur, seen = sseFrame{}, false
		case strings.HasPrefix(line, "id:"):
			cur.ID, seen = strings.TrimPrefix(line, "id:"), true
		case strings.HasPrefix(line, "event:"):
			cur.Event, seen = strings.TrimPrefix(line, "event:"), true
		case strings.HasPrefix(line, "data:"):
			cur.Data, seen = cur.Data+strings.TrimPrefix(line, "data:"), true
		}
	}
	return frames
}

func frameEvents(frames []sseFrame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Event
	}
	return out
}
