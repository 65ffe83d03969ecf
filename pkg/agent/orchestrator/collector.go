package orchestrator

import (
	"context"
	"errors"
	"time"
)

// Collector receives fan-in progress.
type Collector interface {
	// OnResult is called once per task, in completion order.
	OnResult(res *SectionResult, completed int)
	// OnIdle is called when a whole interval passed without a result.
	OnIdle(completed, pending int)
}

// Collect drains r until every dispatched task has reported. Results that
// finish together are handed over back to back; an interval with no result
// produces one OnIdle call. Only cancellation of ctx ends it early.
func Collect(ctx context.Context, r *SectionRunner, interval time.Duration, c Collector) error {
	completed := 0
	for r.HasPending() {
		waitCtx, cancel := context.WithTimeout(ctx, interval)
		res, err := r.WaitForNext(waitCtx)
		cancel()

		switch {
		case err == nil:
			completed++
			c.OnResult(res, completed)
			for {
				next, ok := r.TryGetNext()
				if !ok {
					break
				}
				completed++
				c.OnResult(next, completed)
			}
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			c.OnIdle(completed, r.Pending())
		default:
			return err
		}
	}
	return nil
}
