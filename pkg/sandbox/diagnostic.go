package sandbox

import (
	"errors"
	"fmt"
)

// ErrTimeout marks a query killed by the wall-clock limit.
var ErrTimeout = errors.New("query timed out")

// DiagnosticKind classifies why a query did not produce a result.
type DiagnosticKind string

const (
	// KindRejected: static validation refused the statement; the engine was never called.
	KindRejected DiagnosticKind = "rejected"
	// KindValidation: a table or column is not in the registry.
	KindValidation DiagnosticKind = "validation"
	// KindTimeout: the engine exceeded the wall-clock limit.
	KindTimeout DiagnosticKind = "timeout"
	// KindEngine: the engine failed for any other reason.
	KindEngine DiagnosticKind = "engine"
	// KindNoData: the registry is empty.
	KindNoData DiagnosticKind = "no_data"
)

// Diagnostic is the structured failure returned by Execute. Message is meant
// to be fed back to the model together with FixSuggestion.
type Diagnostic struct {
	Kind          DiagnosticKind `json:"kind"`
	Message       string         `json:"error"`
	FixSuggestion string         `json:"fix_suggestion,omitempty"`
	SQL           string         `json:"sql,omitempty"`
	Err           error          `json:"-"`
}

func (d *Diagnostic) Error() string {
	if d.FixSuggestion != "" {
		return fmt.Sprintf("%s (%s)", d.Message, d.FixSuggestion)
	}
	return d.Message
}

func (d *Diagnostic) Unwrap() error { return d.Err }

// AsDiagnostic extracts a Diagnostic from err.
func AsDiagnostic(err error) (*Diagnostic, bool) {
	var d *Diagnostic
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}

func rejected(msg, suggestion string) *Diagnostic {
	return &Diagnostic{Kind: KindRejected, Message: msg, FixSuggestion: suggestion}
}
