// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package diag generalizes the config package's ValidationError/
// ValidationErrors pattern into the three-tier diagnostic model the
// pipeline stages report against: Warning, Error, and Abort (spec.md §7).
package diag

import (
	"fmt"
	"strings"
)

// Severity is the closed three-tier diagnostic level.
type Severity string

const (
	SevWarning Severity = "warning"
	SevError   Severity = "error"
	SevAbort   Severity = "abort"
)

// Diagnostic is one recorded finding, attributed to the rule and stage that
// produced it so a user can locate the originating rule in the GUI (spec.md
// §7's "always preserve per-rule attribution").
type Diagnostic struct {
	RulePosition int
	RuleLabel    string
	Stage        string
	Message      string
	Severity     Severity
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("[%s] rule %d (%s) at %s: %s", d.Severity, d.RulePosition, d.RuleLabel, d.Stage, d.Message)
}

// AbortError is returned by a stage's step() to unwind the pipeline and the
// current (firewall, family) compile immediately (spec.md §7 "Abort").
type AbortError struct {
	Diagnostic Diagnostic
}

func (e *AbortError) Error() string {
	return e.Diagnostic.String()
}

// NewAbort builds an *AbortError for the given stage/rule/message.
func NewAbort(stage string, rulePosition int, ruleLabel, format string, args ...any) *AbortError {
	return &AbortError{Diagnostic: Diagnostic{
		RulePosition: rulePosition,
		RuleLabel:    ruleLabel,
		Stage:        stage,
		Message:      fmt.Sprintf(format, args...),
		Severity:     SevAbort,
	}}
}

// Sink accumulates per-rule diagnostics for the duration of one compile so
// the emitter can render them as inline comments (spec.md §7) and the
// driver can report "compiled with warnings"/"compiled with errors".
type Sink struct {
	byRule   map[int][]Diagnostic
	warnings int
	errors   int
}

// NewSink creates an empty diagnostic sink.
func NewSink() *Sink {
	return &Sink{byRule: make(map[int][]Diagnostic)}
}

// Warn records a Warning diagnostic; it never halts compilation.
func (s *Sink) Warn(stage string, rulePosition int, ruleLabel, format string, args ...any) {
	s.record(Diagnostic{rulePosition, ruleLabel, stage, fmt.Sprintf(format, args...), SevWarning})
}

// Error records an Error diagnostic. The rule still flows downstream; the
// caller does not stop the pipeline on account of this call.
func (s *Sink) Error(stage string, rulePosition int, ruleLabel, format string, args ...any) {
	s.record(Diagnostic{rulePosition, ruleLabel, stage, fmt.Sprintf(format, args...), SevError})
}

func (s *Sink) record(d Diagnostic) {
	s.byRule[d.RulePosition] = append(s.byRule[d.RulePosition], d)
	switch d.Severity {
	case SevWarning:
		s.warnings++
	case SevError:
		s.errors++
	}
}

// HasErrors reports whether any Error-severity diagnostic was recorded.
func (s *Sink) HasErrors() bool { return s.errors > 0 }

// HasWarnings reports whether any Warning-severity diagnostic was recorded.
func (s *Sink) HasWarnings() bool { return s.warnings > 0 }

// WarningCount and ErrorCount expose the running totals used for the
// driver's "compiled with warnings"/"compiled with errors" status line.
func (s *Sink) WarningCount() int { return s.warnings }
func (s *Sink) ErrorCount() int   { return s.errors }

// ForRule returns the diagnostics recorded against a given rule position, in
// the order they were recorded, for the emitter's inline-comment pass.
func (s *Sink) ForRule(rulePosition int) []Diagnostic {
	return s.byRule[rulePosition]
}

// InlineComment renders the diagnostics for a rule position as a single
// comment line suitable for appending after the emitted command, or "" if
// there are none.
func (s *Sink) InlineComment(rulePosition int) string {
	ds := s.ForRule(rulePosition)
	if len(ds) == 0 {
		return ""
	}
	parts := make([]string, 0, len(ds))
	for _, d := range ds {
		parts = append(parts, fmt.Sprintf("%s: %s", d.Severity, d.Message))
	}
	return "# " + strings.Join(parts, "; ")
}

// Status summarizes a finished compile for CLI / driver reporting.
func (s *Sink) Status() string {
	switch {
	case s.HasErrors():
		return "compiled with errors"
	case s.HasWarnings():
		return "compiled with warnings"
	default:
		return "compiled"
	}
}
