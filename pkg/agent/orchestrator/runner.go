package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/codeready-toolchain/deepreport/pkg/agent/researcher"
	"github.com/codeready-toolchain/deepreport/pkg/models"
)

// SectionRunner runs section research tasks in goroutines, at most
// maxConcurrent at a time, and delivers results through a buffered channel
// in completion order.
type SectionRunner struct {
	researcher Researcher
	sem        *semaphore.Weighted

	// Capacity equals the number of tasks so a finishing task never blocks.
	resultsCh chan *SectionResult
	// Closed by CancelAll; undelivered results are dropped afterwards.
	closeCh   chan struct{}
	closeOnce sync.Once

	// Results not yet consumed.
	pending int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSectionRunner creates a runner for up to capacity tasks. Tasks run on
// a context derived from parentCtx.
func NewSectionRunner(parentCtx context.Context, r Researcher, maxConcurrent, capacity int) *SectionRunner {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(parentCtx)
	return &SectionRunner{
		researcher: r,
		sem:        semaphore.NewWeighted(int64(maxConcurrent)),
		resultsCh:  make(chan *SectionResult, capacity),
		closeCh:    make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Dispatch starts the research of one section and returns immediately.
func (r *SectionRunner) Dispatch(index int, task researcher.Task) {
	atomic.AddInt32(&r.pending, 1)
	r.wg.Add(1)
	go r.run(index, task)
}

func (r *SectionRunner) run(index int, task researcher.Task) {
	defer r.wg.Done()
	res := &SectionResult{Index: index, Spec: task.Spec}

	if err := r.sem.Acquire(r.ctx, 1); err != nil {
		res.Err = err
		r.deliver(res)
		return
	}
	res.Section, res.Err = r.research(task)
	r.sem.Release(1)
	r.deliver(res)
}

// research converts a panicking researcher into a section error.
func (r *SectionRunner) research(task researcher.Task) (sec *models.Section, err error) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("Section research panicked",
				"section_id", task.Spec.SectionID, "panic", p, "stack", string(debug.Stack()))
			sec, err = nil, fmt.Errorf("section research panicked: %v", p)
		}
	}()
	sec, err = r.researcher.Research(r.ctx, task)
	if err == nil && sec == nil {
		err = fmt.Errorf("section %s produced no result", task.Spec.SectionID)
	}
	return sec, err
}

func (r *SectionRunner) deliver(res *SectionResult) {
	select {
	case r.resultsCh <- res:
	case <-r.closeCh:
	}
}

// TryGetNext returns a finished result without blocking.
func (r *SectionRunner) TryGetNext() (*SectionResult, bool) {
	select {
	case res := <-r.resultsCh:
		atomic.AddInt32(&r.pending, -1)
		return res, true
	default:
		return nil, false
	}
}

// WaitForNext blocks until a result is available or ctx is done.
func (r *SectionRunner) WaitForNext(ctx context.Context) (*SectionResult, error) {
	select {
	case res := <-r.resultsCh:
		atomic.AddInt32(&r.pending, -1)
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pending returns the number of results not yet consumed.
func (r *SectionRunner) Pending() int {
	return int(atomic.LoadInt32(&r.pending))
}

// HasPending returns true while any result has not been consumed.
func (r *SectionRunner) HasPending() bool {
	return r.Pending() > 0
}

// CancelAll cancels every running task and drops undelivered results.
func (r *SectionRunner) CancelAll() {
	r.closeOnce.Do(func() { close(r.closeCh) })
	r.cancel()
}

// WaitAll waits for every task goroutine to return or ctx to end.
func (r *SectionRunner) WaitAll(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
