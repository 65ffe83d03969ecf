package api

import (
	"context"
	"sync"
)

// runRegistry holds the cancel functions of generation runs served by this
// process, keyed by report id.
type runRegistry struct {
	mu   sync.Mutex
	runs map[string]*activeRun
}

type activeRun struct {
	cancel context.CancelFunc
}

func newRunRegistry() *runRegistry {
	return &runRegistry{runs: make(map[string]*activeRun)}
}

// reserve registers a run for reportID unless one is already registered,
// in which case ok is false and the existing run is left untouched. The
// returned release removes the entry again and is safe to call twice.
func (r *runRegistry) reserve(reportID string, cancel context.CancelFunc) (release func(), ok bool) {
	run := &activeRun{cancel: cancel}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runs[reportID]; exists {
		return nil, false
	}
	r.runs[reportID] = run

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.runs[reportID] == run {
			delete(r.runs, reportID)
		}
	}, true
}

// cancel cancels the run of a report and reports whether one was running.
func (r *runRegistry) cancel(reportID string) bool {
	r.mu.Lock()
	run, ok := r.runs[reportID]
	r.mu.Unlock()
	if ok {
		run.cancel()
	}
	return ok
}

func (r *runRegistry) active(reportID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.runs[reportID]
	return ok
}

func (r *runRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func (r *runRegistry) cancelAll() {
	r.mu.Lock()
	runs := make([]*activeRun, 0, len(r.runs))
	for _, run := range r.runs {
		runs = append(runs, run)
	}
	r.mu.Unlock()
	for _, run := range runs {
		run.cancel()
	}
}
