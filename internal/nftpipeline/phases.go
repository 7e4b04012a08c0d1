// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nftpipeline

import (
	"grimm.is/flywall/internal/compilectx"
	"grimm.is/flywall/internal/diag"
	"grimm.is/flywall/internal/objectmodel"
	"grimm.is/flywall/internal/pipeline"
)

const (
	ChainInput   = "input"
	ChainOutput  = "output"
	ChainForward = "forward"
)

// stageInit copies enabled, non-disabled rules through untouched; the
// driver has already injected predefined rules into source before Build is
// called (mirrors policypipeline's stage 1, minus the log_all override,
// which this pipeline does not apply: only a rule's own Log option turns
// on logging).
func stageInit() pipeline.StepFunc[*Rule] {
	return func(up pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := up.PullOne()
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
		if r.Disabled {
			return false, nil
		}
		push(r)
		return false, nil
	}
}

// stageDirectionNormalize mirrors policypipeline's phase 5 minus the
// wildcard-interface sentinel (nftables has no `-i +` equivalent to emit;
// "any interface, any direction" simply omits iifname/oifname).
func stageDirectionNormalize() pipeline.StepFunc[*Rule] {
	return func(up pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := up.PullOne()
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
		if !r.Interface.IsAny() && r.Direction == objectmodel.DirectionBoth {
			out := r.Clone()
			out.Direction = objectmodel.DirectionInbound
			push(out)
			in := r.Clone()
			in.Direction = objectmodel.DirectionOutbound
			push(in)
			return false, nil
		}
		push(r)
		return false, nil
	}
}

// stageGroupValidation aborts on recursive group membership across every
// positional element, matching policypipeline's phase 6 but without the
// ignore_empty_groups warn/remove branch (nftables renders an empty set as
// a no-op match the same way "any" does, so there is nothing to remove).
func stageGroupValidation(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(up pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := up.PullOne()
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
		for _, e := range []objectmodel.Element{r.Source, r.Destination, r.Service, r.Interface, r.Time} {
			for _, h := range e.Objects {
				if cyc := ctx.Store.DetectCycle(h); cyc != nil {
					return false, diag.NewAbort("group-validation", r.Position, r.Label, "recursive group membership: %v", cyc)
				}
			}
		}
		push(r)
		return false, nil
	}
}

// stageLoggingNFT is spec.md §4.5's single-stage Logging_nft: Continue+log
// becomes a standalone LOG rule (verdict empty, log only); any other action
// with logging enabled becomes one rule rendering `log prefix "..." <verdict>`
// inline — no jump-chain split is needed since nftables allows a log
// statement and a verdict statement in the same rule.
func stageLoggingNFT() pipeline.StepFunc[*Rule] {
	return func(up pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := up.PullOne()
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
		if !r.Options.Log {
			push(r)
			return false, nil
		}
		if r.Action == objectmodel.ActionContinue && !r.Options.Tagging && !r.Options.Classification && !r.Options.Routing {
			out := r.Clone()
			out.Verdict = "" // log-only, no verdict statement
			push(out)
			return false, nil
		}
		push(r) // log + verdict rendered together by the emitter
		return false, nil
	}
}

// stageGroupExpand expands every positional element's groups and
// deduplicates, mirroring policypipeline's phase 10 but without the
// compile-time/runtime multi-address swap (the nftables emitter renders a
// set directly from whatever handles survive, compile-time or resolved).
func stageGroupExpand(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(up pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := up.PullOne()
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
		var err2 error
		expand := func(e *objectmodel.Element) {
			if err2 != nil {
				return
			}
			out, err3 := ctx.Store.ExpandGroups(e.Objects, ctx.Family)
			if err3 != nil {
				err2 = err3
				return
			}
			e.Objects = out
		}
		expand(&r.Source)
		expand(&r.Destination)
		expand(&r.Service)
		expand(&r.Interface)
		expand(&r.Time)
		if err2 != nil {
			return false, diag.NewAbort("group-expand", r.Position, r.Label, "%v", err2)
		}
		push(r)
		return false, nil
	}
}

// stageAddressFamilyFilter drops rules whose service is family-exclusive
// for a family the rule does not apply to (icmp vs icmpv6), matching
// policypipeline's phase 16 simplified to the single check nftables' dual-
// stack `inet` table still needs (spec.md §4.5 "single inet family for
// dual-stack" removes most of the split but ICMP/ICMPv6 remain distinct
// protocols at the wire level).
func stageAddressFamilyFilter(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(up pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := up.PullOne()
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
		for _, h := range r.Service.Objects {
			o, ok := ctx.Store.Get(h)
			if !ok || o.Service == nil {
				continue
			}
			if ctx.Family == objectmodel.FamilyIPv4 && o.Kind == objectmodel.KindServiceICMPv6 {
				ctx.Diagnostics.Warn("address-family-filter", r.Position, r.Label, "dropping ICMPv6 service in IPv4 pass")
				return false, nil
			}
			if ctx.Family == objectmodel.FamilyIPv6 && o.Kind == objectmodel.KindServiceICMP {
				ctx.Diagnostics.Warn("address-family-filter", r.Position, r.Label, "dropping ICMPv4 service in IPv6 pass")
				return false, nil
			}
		}
		push(r)
		return false, nil
	}
}

// stageChainSelect assigns input/output/forward, the only three chains
// nftables' `inet filter` table needs (no PREROUTING/POSTROUTING split:
// spec.md §4.5 "no mangle-table pass").
func stageChainSelect(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(up pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := up.PullOne()
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
		switch {
		case matchesFirewall(ctx, r.Source):
			r.Chain = ChainOutput
		case matchesFirewall(ctx, r.Destination):
			r.Chain = ChainInput
		default:
			r.Chain = ChainForward
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

// stageVerdictSelect maps action to an nftables verdict statement, or
// records a structured-error placeholder for actions nftables does not yet
// support (spec.md §4.5: "tagging/classification/routing, when not yet
// supported, emit structured errors into the output rather than aborting").
func stageVerdictSelect(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(up pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := up.PullOne()
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
		if r.Options.Tagging || r.Options.Classification || r.Options.Routing {
			r.Unsupported = "tagging/classification/routing not yet supported by the nftables backend"
			push(r)
			return false, nil
		}
		switch r.Action {
		case objectmodel.ActionAccept:
			r.Verdict = "accept"
		case objectmodel.ActionDeny:
			r.Verdict = "drop"
		case objectmodel.ActionReject:
			r.Verdict = rejectVerdict(r.RejectKind)
		case objectmodel.ActionReturn:
			r.Verdict = "return"
		case objectmodel.ActionContinue:
			r.Verdict = ""
		case objectmodel.ActionBranch:
			target, ok := ctx.Store.Get(r.BranchTo)
			if !ok {
				return false, diag.NewAbort("verdict-select", r.Position, r.Label, "branch target does not resolve")
			}
			ctx.NoteChainUse(target.Name)
			r.Verdict = "jump " + target.Name
		default:
			r.Unsupported = "action " + r.Action.String() + " not yet supported by the nftables backend"
		}
		push(r)
		return false, nil
	}
}

func rejectVerdict(kind string) string {
	switch kind {
	case "tcp-reset":
		return "reject with tcp reset"
	case "":
		return "reject"
	default:
		return "reject with icmpx type " + kind
	}
}

// stagePreEmitValidation mirrors policypipeline's phase 25's cheap local
// checks that still make sense once nftables has no multiport/temp-chain
// machinery of its own: a MAC (physical-address) match in the output
// chain aborts the compile.
func stagePreEmitValidation(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(up pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := up.PullOne()
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
		if r.Chain == ChainOutput {
			for _, h := range r.Interface.Objects {
				o, ok := ctx.Store.Get(h)
				if ok && o.Kind == objectmodel.KindPhysicalAddress {
					return false, diag.NewAbort("pre-emit-validation", r.Position, r.Label, "MAC match not allowed in the output chain")
				}
			}
		}
		push(r)
		return false, nil
	}
}
