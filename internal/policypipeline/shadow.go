// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policypipeline

import (
	"grimm.is/flywall/internal/compilectx"
	"grimm.is/flywall/internal/diag"
	"grimm.is/flywall/internal/objectmodel"
)

// DetectShadows runs ahead of the main compile (the driver calls it before
// Build; spec.md §4.2 end): it atomizes every rule to its fully cartesian
// form (Source x Destination x Service), then for each atomic rule checks
// whether an earlier atomic rule with a terminating action is a strict
// superset of its match. Only run when ctx.Options.CheckShading is set; it
// returns the first *diag.AbortError found, or nil when the rule set is
// clean (the "Shadow detection completeness" invariant of spec.md §8).
func DetectShadows(ctx *compilectx.Context, source []*Rule) *diag.AbortError {
	if !ctx.Options.CheckShading {
		return nil
	}

	var atoms []*Rule
	for _, r := range source {
		if r.Disabled {
			continue
		}
		atoms = append(atoms, atomizeForShadow(ctx, r)...)
	}

	for i, b := range atoms {
		for j := 0; j < i; j++ {
			a := atoms[j]
			if !a.StoredAction.IsTerminating() && !a.Action.IsTerminating() {
				continue
			}
			if strictSuperset(ctx, a, b) {
				return diag.NewAbort("shadow-detection", b.Position, b.Label,
					"rule %d shadows rule %d: every packet matching this rule also matched the earlier rule, which has a terminating action", b.Position, a.Position)
			}
		}
	}
	return nil
}

// atomizeForShadow expands groups and the cartesian product of Source x
// Destination x Service, without running the full policy pipeline, so
// shadow comparison operates on concrete object sets (spec.md §4.2 end).
func atomizeForShadow(ctx *compilectx.Context, r *Rule) []*Rule {
	srcObjs, err := ctx.Store.ExpandGroups(r.Source.Objects, ctx.Family)
	if err != nil {
		return nil
	}
	dstObjs, err := ctx.Store.ExpandGroups(r.Destination.Objects, ctx.Family)
	if err != nil {
		return nil
	}
	svcObjs, err := ctx.Store.ExpandGroups(r.Service.Objects, objectmodel.FamilyBoth)
	if err != nil {
		return nil
	}

	srcs := singletons(srcObjs)
	dsts := singletons(dstObjs)
	svcs := singletons(svcObjs)
	if r.Source.IsAny() {
		srcs = []objectmodel.Element{{Negation: r.Source.Negation}}
	}
	if r.Destination.IsAny() {
		dsts = []objectmodel.Element{{Negation: r.Destination.Negation}}
	}
	if r.Service.IsAny() {
		svcs = []objectmodel.Element{{Negation: r.Service.Negation}}
	}

	var out []*Rule
	for _, s := range srcs {
		for _, d := range dsts {
			for _, sv := range svcs {
				a := r.Clone()
				a.Source, a.Destination, a.Service = s, d, sv
				out = append(out, a)
			}
		}
	}
	return out
}

// strictSuperset reports whether a's match set strictly contains b's: every
// element a constrains, b's corresponding element is equal or more specific,
// with at least one element where a is strictly broader (spec.md §8's
// shadowing definition). "any" is the broadest possible match; a negated
// element covers only an equally negated element on the same single object.
func strictSuperset(ctx *compilectx.Context, a, b *Rule) bool {
	if a.Chain != "" && b.Chain != "" && a.Chain != b.Chain {
		return false
	}
	srcCmp := elementCovers(a.Source, b.Source)
	dstCmp := elementCovers(a.Destination, b.Destination)
	svcCmp := elementCovers(a.Service, b.Service)
	if !srcCmp || !dstCmp || !svcCmp {
		return false
	}
	broader := !sameElement(a.Source, b.Source) || !sameElement(a.Destination, b.Destination) || !sameElement(a.Service, b.Service)
	return broader
}

// elementCovers reports whether every packet matching b's element also
// matches a's element: a is "any" (unnegated), or a and b name the same
// single object, or a's single object equals b's.
func elementCovers(a, b objectmodel.Element) bool {
	if a.IsAny() && !a.Negation {
		return true
	}
	ah, aok := a.Single()
	bh, bok := b.Single()
	if aok && bok {
		return ah == bh && a.Negation == b.Negation
	}
	return false
}

func sameElement(a, b objectmodel.Element) bool {
	if a.IsAny() != b.IsAny() {
		return false
	}
	if a.IsAny() {
		return true
	}
	ah, aok := a.Single()
	bh, bok := b.Single()
	return aok && bok && ah == bh && a.Negation == b.Negation
}
