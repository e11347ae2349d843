// Package diag defines the error type surfaced to users.
//
// A Diagnostic carries a one-line summary, optional context lines, and
// numbered suggestions. The core never recovers from one; the CLI layer
// renders it and exits non-zero.
package diag

import (
	"fmt"
	"strings"
)

// Diagnostic is a user-facing error.
type Diagnostic struct {
	// Summary is the one-line description of what went wrong.
	Summary string

	// Context holds additional lines narrowing down the failure
	// (file paths, offending keys, conflicting requirements).
	Context []string

	// Suggestions are actionable follow-ups, rendered numbered.
	Suggestions []string

	// Cause is the underlying error, if any.
	Cause error
}

// New creates a diagnostic with a formatted summary.
func New(format string, args ...interface{}) *Diagnostic {
	return &Diagnostic{Summary: fmt.Sprintf(format, args...)}
}

// WithContext appends a formatted context line.
func (d *Diagnostic) WithContext(format string, args ...interface{}) *Diagnostic {
	d.Context = append(d.Context, fmt.Sprintf(format, args...))
	return d
}

// WithSuggestion appends a formatted suggestion.
func (d *Diagnostic) WithSuggestion(format string, args ...interface{}) *Diagnostic {
	d.Suggestions = append(d.Suggestions, fmt.Sprintf(format, args...))
	return d
}

// WithCause records the underlying error.
func (d *Diagnostic) WithCause(err error) *Diagnostic {
	d.Cause = err
	return d
}

func (d *Diagnostic) Error() string {
	var b strings.Builder
	b.WriteString(d.Summary)
	for _, c := range d.Context {
		b.WriteString("\n  ")
		b.WriteString(c)
	}
	if d.Cause != nil {
		fmt.Fprintf(&b, "\n  caused by: %v", d.Cause)
	}
	for i, s := range d.Suggestions {
		fmt.Fprintf(&b, "\n  %d. %s", i+1, s)
	}
	return b.String()
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (d *Diagnostic) Unwrap() error { return d.Cause }
