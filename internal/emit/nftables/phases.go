// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package nftables implements the nftables backend of spec.md §4.5: a
// simpler specialization of the policy pipeline that needs no temp-chain
// negation expansion (native set `!=`), no separate mangle-table pass, and
// inline log+verdict rules instead of a jump/LOG/action triad. It operates
// on the same policypipeline.Rule scratch type as the iptables backend so
// the object model and compile context are shared across backends.
package nftables

import (
	"grimm.is/flywall/internal/compilectx"
	"grimm.is/flywall/internal/diag"
	"grimm.is/flywall/internal/objectmodel"
	"grimm.is/flywall/internal/pipeline"
	"grimm.is/flywall/internal/policypipeline"
)

// Rule is the nftables pipeline's scratch type; it is the same shape as the
// iptables policy pipeline's because both backends start from the same
// loaded PolicyRule objects and need the same chain/target bookkeeping.
type Rule = policypipeline.Rule

// stageInit drops disabled rules and applies the global log_all override
// (the nftables analogue of policypipeline's phase 1, minus predefined-rule
// injection: spec.md §4.5 does not call for it, and the anti-lockout
// predefined rules are iptables INPUT/OUTPUT rules by construction).
func stageInit(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		if r.Disabled {
			return false, nil
		}
		if ctx.Options.LogAll {
			r.Options.Log = true
		}
		push(r)
		return false, nil
	}
}

// stageGroupExpand expands every rule element's groups, family-filtered
// (spec.md §4.5's collapsed equivalent of the iptables pipeline's phases
// 4/6/10).
func stageGroupExpand(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		for _, el := range []*objectmodel.Element{&r.Source, &r.Destination, &r.Interface, &r.Time} {
			expanded, err := ctx.Store.ExpandGroups(el.Objects, ctx.Family)
			if err != nil {
				return true, diag.NewAbort("nft-group-expand", r.Position, r.Label, "%v", err)
			}
			el.Objects = expanded
		}
		expanded, err := ctx.Store.ExpandGroups(r.Service.Objects, objectmodel.FamilyBoth)
		if err != nil {
			return true, diag.NewAbort("nft-group-expand", r.Position, r.Label, "%v", err)
		}
		r.Service.Objects = expanded
		push(r)
		return false, nil
	}
}

// stageNftNegation implements NftNegation (spec.md §4.5): unlike the
// iptables pipeline, negation on any element — single- or multi-object —
// needs no chain splitting, since `nft` sets support `!= {a, b, c}`
// natively. This stage only validates that a negated element is non-empty
// (negating "any" is meaningless) and leaves the Negation flag in place for
// the renderer.
func stageNftNegation() pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		for _, el := range []*objectmodel.Element{&r.Source, &r.Destination, &r.Service} {
			if el.Negation && el.IsAny() {
				return true, diag.NewAbort("nft-negation", r.Position, r.Label, "negating \"any\" is not meaningful")
			}
		}
		push(r)
		return false, nil
	}
}

// stageAddressFamilyFilter drops rules whose service does not apply to the
// active family (the nftables analogue of policypipeline's phase 16,
// simplified since a single `inet` family table serves both v4 and v6 and
// there is no per-interface address-presence check to make).
func stageAddressFamilyFilter(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		for _, h := range r.Service.Objects {
			o, got := ctx.Store.Get(h)
			if got && !ctx.Store.MatchesFamily(o, ctx.Family) {
				ctx.Diagnostics.Warn("nft-address-family-filter", r.Position, r.Label, "dropping wrong-family service %q", o.Name)
				return false, nil
			}
		}
		push(r)
		return false, nil
	}
}

// stageChainSelect assigns one of the three base hooks (input/output/
// forward) directly, since nftables has no separate mangle table pass
// (spec.md §4.5 "No mangle-table pass").
func stageChainSelect(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		if r.Chain != "" {
			push(r)
			return false, nil
		}
		switch {
		case matchesFirewall(ctx, r.Source):
			r.Chain = "output"
		case matchesFirewall(ctx, r.Destination):
			r.Chain = "input"
		default:
			if !ctx.Options.IPForward {
				ctx.Diagnostics.Warn("nft-chain-select", r.Position, r.Label, "dropping forward rule: ip_forward is disabled")
				return false, nil
			}
			r.Chain = "forward"
		}
		push(r)
		return false, nil
	}
}

func matchesFirewall(ctx *compilectx.Context, e objectmodel.Element) bool {
	fw := ctx.Firewall
	if fw == nil {
		return false
	}
	for _, h := range e.Objects {
		o, ok := ctx.Store.Get(h)
		if !ok {
			continue
		}
		if o.ID == fw.ID || ctx.Store.ComplexMatch(o, fw) {
			return true
		}
	}
	return false
}

// stageTargetSelect implements the Action→verdict mapping into Target.
// Tagging/classification/routing actions have no verdict in this backend:
// the rule is kept with an empty Target and an Error diagnostic is recorded
// in the context's sink; nothing is attached to the rule itself.
func stageTargetSelect(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		switch r.Action {
		case objectmodel.ActionAccept:
			r.Target = "accept"
		case objectmodel.ActionDeny:
			r.Target = "drop"
		case objectmodel.ActionReject:
			r.Target = "reject"
		case objectmodel.ActionReturn:
			r.Target = "return"
		case objectmodel.ActionContinue:
			r.Target = ""
		case objectmodel.ActionTag, objectmodel.ActionClassify, objectmodel.ActionRoute:
			ctx.Diagnostics.Error("nft-target-select", r.Position, r.Label, "action %s is not yet supported by the nftables backend", r.Action)
			r.Target = ""
		case objectmodel.ActionBranch:
			if rs, got := ctx.Store.Get(r.BranchTo); got {
				r.Target = "jump " + rs.Name
				ctx.NoteChainUse(rs.Name)
			}
		}
		push(r)
		return false, nil
	}
}

// stageLoggingNft occupies the Logging_nft slot (spec.md §4.5) of this
// stage list but passes every rule through unchanged: it neither turns a
// logging Continue rule into a standalone `log` rule nor adds a log prefix
// to any other rule.
func stageLoggingNft() pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		push(r)
		return false, nil
	}
}

// stageAtomizeAndMultiport marks the multiport flag when a rule carries two
// or more service objects of any protocol, then pushes one copy of the rule:
// singletons keeps each element's object list whole, so Source and
// Destination are not split into atomic rules and Time is left untouched
// (nft's range/set syntax has no 15-port ceiling, unlike iptables'
// multiport module, so no service-group splitting is needed — spec.md
// §4.5's "native sets (no multiport hack)").
func stageAtomizeAndMultiport() pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		if len(r.Service.Objects) > 1 {
			r.Multiport = true
		}
		srcs := singletons(r.Source.Objects)
		dsts := singletons(r.Destination.Objects)
		for _, s := range srcs {
			for _, d := range dsts {
				out := r.Clone()
				out.Source = objectmodel.Element{Objects: s.Objects, Negation: r.Source.Negation}
				out.Destination = objectmodel.Element{Objects: d.Objects, Negation: r.Destination.Negation}
				push(out)
			}
		}
		return false, nil
	}
}

func singletons(objs []objectmodel.Handle) []objectmodel.Element {
	if len(objs) <= 1 {
		return []objectmodel.Element{{Objects: objs}}
	}
	return []objectmodel.Element{{Objects: objs}}
}
