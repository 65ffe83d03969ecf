package agent

import (
	"context"
	"errors"
)

// MaxConsecutiveTimeouts ends a tool loop after this many model calls in a
// row ran out of time.
const MaxConsecutiveTimeouts = 2

// Budget bounds one agent's tool-calling loop. Not safe for concurrent use;
// every run creates its own.
type Budget struct {
	used     int
	max      int
	timeouts int
}

// NewBudget allows max model rounds.
func NewBudget(max int) *Budget {
	return &Budget{max: max}
}

// Next starts another round, or returns false when none are left.
func (b *Budget) Next() bool {
	if b.used >= b.max {
		return false
	}
	b.used++
	return true
}

// Round is the 1-based number of the current round.
func (b *Budget) Round() int { return b.used }

// Succeeded clears the timeout streak.
func (b *Budget) Succeeded() { b.timeouts = 0 }

// Failed records a failed model call and reports whether the loop should
// give up. Only deadline errors extend the streak.
func (b *Budget) Failed(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		b.timeouts++
	} else {
		b.timeouts = 0
	}
	return b.timeouts >= MaxConsecutiveTimeouts
}
