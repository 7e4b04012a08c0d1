// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policypipeline

import (
	"grimm.is/flywall/internal/compilectx"
	"grimm.is/flywall/internal/objectmodel"
	"grimm.is/flywall/internal/pipeline"
)

// stageFirewallOverlapSplit implements phase 14 (spec.md §4.2-14): a rule
// whose Source/Destination contains the firewall itself splits into an
// OUTPUT/INPUT copy (firewall only) plus the remainder.
func stageFirewallOverlapSplit(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		fw := ctx.Firewall
		if fw == nil || r.Chain != "" {
			push(r)
			return false, nil
		}

		if srcRest, hadFW := splitOutFirewall(ctx, r.Source.Objects, fw); hadFW {
			out := r.Clone()
			out.Chain = ChainOutput
			out.Source = objectmodel.Element{Objects: []objectmodel.Handle{fw.ID}}
			push(out)
			if len(srcRest) > 0 {
				r.Source.Objects = srcRest
			} else {
				push(r)
				return false, nil
			}
		}
		if dstRest, hadFW := splitOutFirewall(ctx, r.Destination.Objects, fw); hadFW {
			in := r.Clone()
			in.Chain = ChainInput
			in.Destination = objectmodel.Element{Objects: []objectmodel.Handle{fw.ID}}
			push(in)
			if len(dstRest) > 0 {
				r.Destination.Objects = dstRest
			} else {
				push(r)
				return false, nil
			}
		}
		push(r)
		return false, nil
	}
}

func splitOutFirewall(ctx *compilectx.Context, objs []objectmodel.Handle, fw *objectmodel.Object) ([]objectmodel.Handle, bool) {
	var rest []objectmodel.Handle
	had := false
	for _, h := range objs {
		if h == fw.ID {
			had = true
			continue
		}
		rest = append(rest, h)
	}
	return rest, had
}

// stagePerInterfaceAtomize implements phase 15 (spec.md §4.2-15): when a
// rule applies to N interfaces, generate N interface-specific jump rules
// into one shared body chain instead of N duplicate rule bodies.
func stagePerInterfaceAtomize(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		if len(r.Interface.Objects) <= 1 {
			push(r)
			return false, nil
		}
		chain := ctx.FreshChainName("ifbody")
		ctx.NoteChainUse(chain)
		for _, ih := range r.Interface.Objects {
			jump := r.Clone()
			jump.Interface = objectmodel.Element{Objects: []objectmodel.Handle{ih}}
			jump.Target = chain
			push(jump)
		}
		body := r.Clone()
		body.Chain = chain
		body.Interface = objectmodel.Element{}
		push(body)
		return false, nil
	}
}

// stageAddressFamilyFilter implements phase 16 (spec.md §4.2-16): drops
// rules whose service is wrong-family, or whose interface has no address
// in the active family (except dynamic/unnumbered/bridge-port/failover
// interfaces and interfaces with a parent interface, which are kept
// regardless).
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
			if !got {
				continue
			}
			if !ctx.Store.MatchesFamily(o, ctx.Family) {
				ctx.Diagnostics.Warn("address-family-filter", r.Position, r.Label, "dropping wrong-family service %q", o.Name)
				return false, nil
			}
		}
		if h, single := r.Interface.Single(); single {
			o, got := ctx.Store.Get(h)
			if got && o.Iface != nil && !o.Iface.Dynamic && !o.Iface.Unnumbered && !o.Iface.BridgePort && !o.Iface.DedicatedFailover && o.Iface.ParentInterface == objectmodel.InvalidHandle {
				if !ifaceHasFamilyAddress(ctx, o) {
					return false, nil
				}
			}
		}
		push(r)
		return false, nil
	}
}

func ifaceHasFamilyAddress(ctx *compilectx.Context, iface *objectmodel.Object) bool {
	if iface.Iface == nil || len(iface.Iface.Addresses) == 0 {
		return true // no declared addresses: can't prove absence, keep the rule
	}
	for _, ah := range iface.Iface.Addresses {
		ao, ok := ctx.Store.Get(ah)
		if ok && ctx.Store.MatchesFamily(ao, ctx.Family) {
			return true
		}
	}
	return false
}

// stageChainSelect implements phase 17 (spec.md §4.2-17): the final chain
// cascade.
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
			r.Chain = ChainOutput
			if r.Direction == objectmodel.DirectionBoth {
				r.Direction = objectmodel.DirectionOutbound
			}
		case matchesFirewall(ctx, r.Destination):
			r.Chain = ChainInput
			if r.Direction == objectmodel.DirectionBoth {
				r.Direction = objectmodel.DirectionInbound
			}
		case isLoopback(ctx, r.Interface) && r.Source.IsAny() && r.Destination.IsAny():
			if r.Direction == objectmodel.DirectionBoth {
				in, out := r.Clone(), r.Clone()
				in.Chain, in.Direction = ChainInput, objectmodel.DirectionInbound
				out.Chain, out.Direction = ChainOutput, objectmodel.DirectionOutbound
				push(in)
				push(out)
				return false, nil
			}
			if r.Direction == objectmodel.DirectionInbound {
				r.Chain = ChainInput
			} else {
				r.Chain = ChainOutput
			}
		case r.OriginatedWithClassification && r.Chain == "":
			r.Chain = ChainPostrouting
		default:
			if ctx.Table == compilectx.TableMangle {
				if r.Direction == objectmodel.DirectionOutbound {
					r.Chain = ChainPostrouting
				} else {
					r.Chain = ChainPrerouting
				}
			} else {
				if !ctx.Options.IPForward {
					ctx.Diagnostics.Warn("chain-select", r.Position, r.Label, "dropping FORWARD rule: ip_forward is disabled")
					return false, nil
				}
				r.Chain = ChainForward
			}
		}
		push(r)
		return false, nil
	}
}

// stageTargetSelect implements phase 18 (spec.md §4.2-18).
func stageTargetSelect(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		if r.Target == "" {
			switch r.Action {
			case objectmodel.ActionAccept:
				r.Target = "ACCEPT"
			case objectmodel.ActionDeny:
				r.Target = "DROP"
			case objectmodel.ActionReject:
				r.Target = "REJECT"
			case objectmodel.ActionReturn:
				r.Target = "RETURN"
			case objectmodel.ActionPipe:
				r.Target = "QUEUE"
			case objectmodel.ActionContinue:
				r.Target = "" // pseudo "continue" sentinel: no -j emitted
			case objectmodel.ActionCustom:
				r.Target = r.CustomRaw // pseudo "custom" sentinel
			case objectmodel.ActionTag:
				if r.Options.MarkConnection {
					r.Target = "CONNMARK"
				} else {
					r.Target = "MARK"
				}
			case objectmodel.ActionClassify:
				r.Target = "CLASSIFY"
			case objectmodel.ActionRoute:
				r.Target = "ROUTE"
			case objectmodel.ActionBranch:
				if rs, got := ctx.Store.Get(r.BranchTo); got {
					r.Target = rs.Name
					ctx.NoteChainUse(rs.Name)
				}
			}
		}
		push(r)
		return false, nil
	}
}
