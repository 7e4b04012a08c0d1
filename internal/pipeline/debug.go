// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pipeline

import (
	"fmt"
	"io"
)

// RuleSetKind selects which pipeline a debug filter applies to (spec.md
// §6.3's "command-line flag per rule-set-kind").
type RuleSetKind string

const (
	RuleSetPolicy  RuleSetKind = "policy"
	RuleSetNAT     RuleSetKind = "nat"
	RuleSetRouting RuleSetKind = "routing"
)

// DebugFilter selects a single rule position to trace, per spec.md §6.3.
type DebugFilter struct {
	Kind     RuleSetKind
	Position int
	Enabled  bool
}

// Matches reports whether a rule at the given position, for the given
// rule-set kind, should be traced.
func (f DebugFilter) Matches(kind RuleSetKind, position int) bool {
	return f.Enabled && f.Kind == kind && f.Position == position
}

// Interceptor implements spec.md §4.1's debug harness: it slurps the entire
// upstream buffer, prints a separator naming the preceding stage, prints a
// canonical one-line view for every rule matching the filter position, then
// drains the buffered rules back out one at a time — so it is transparent
// to everything downstream except for the side-effect of writing to w.
type Interceptor[T any] struct {
	prevStageName string
	upstream      Puller[T]
	filter        DebugFilter
	kind          RuleSetKind
	position      func(T) int
	render        func(T) string
	w             io.Writer

	slurped bool
	buffer  []T
}

// NewInterceptor builds a debug interceptor. position extracts a rule's
// position for filter matching; render produces the canonical one-line view
// (source/dest/service/interface with negation prefixes, direction code,
// action code, chain, target, extra flags per spec.md §4.1).
func NewInterceptor[T any](prevStageName string, upstream Puller[T], filter DebugFilter, kind RuleSetKind, position func(T) int, render func(T) string, w io.Writer) *Interceptor[T] {
	return &Interceptor[T]{
		prevStageName: prevStageName,
		upstream:      upstream,
		filter:        filter,
		kind:          kind,
		position:      position,
		render:        render,
		w:             w,
	}
}

func (ic *Interceptor[T]) PullOne() (T, bool, error) {
	var zero T
	if !ic.slurped {
		rules, err := Slurp(ic.upstream)
		if err != nil {
			return zero, false, err
		}
		ic.buffer = rules
		ic.slurped = true

		printed := false
		for _, r := range rules {
			if ic.filter.Matches(ic.kind, ic.position(r)) {
				if !printed {
					fmt.Fprintf(ic.w, "--- %s ---\n", ic.prevStageName)
					printed = true
				}
				fmt.Fprintln(ic.w, ic.render(r))
			}
		}
	}
	if len(ic.buffer) == 0 {
		return zero, false, nil
	}
	v := ic.buffer[0]
	ic.buffer = ic.buffer[1:]
	return v, true, nil
}

// WrapIfEnabled inserts an Interceptor after upstream when filter.Enabled is
// true and insertAfter is true (pass-through progress stages are excluded
// per spec.md §4.1 "to avoid spamming"), otherwise it returns upstream
// unchanged.
func WrapIfEnabled[T any](prevStageName string, upstream Puller[T], filter DebugFilter, kind RuleSetKind, insertAfter bool, position func(T) int, render func(T) string, w io.Writer) Puller[T] {
	if !filter.Enabled || !insertAfter {
		return upstream
	}
	return NewInterceptor(prevStageName, upstream, filter, kind, position, render, w)
}
