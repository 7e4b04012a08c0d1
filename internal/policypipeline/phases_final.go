// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policypipeline

import (
	"fmt"
	"net"

	"grimm.is/flywall/internal/compilectx"
	"grimm.is/flywall/internal/diag"
	"grimm.is/flywall/internal/objectmodel"
	"grimm.is/flywall/internal/pipeline"
)

var zeroIPv4 = net.IPv4(0, 0, 0, 0)

// stageFirewallRefStrip implements phase 19 (spec.md §4.2-19): once chain
// is known, INPUT removes the firewall from Destination, OUTPUT removes it
// from Source. Skipped when the rule carries an upstream-negation flag.
func stageFirewallRefStrip(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		if r.UpstreamRuleNeg || ctx.Firewall == nil {
			push(r)
			return false, nil
		}
		fw := ctx.Firewall.ID
		switch r.Chain {
		case ChainInput:
			r.Destination.Objects = removeHandle(r.Destination.Objects, fw)
		case ChainOutput:
			r.Source.Objects = removeHandle(r.Source.Objects, fw)
		}
		push(r)
		return false, nil
	}
}

// stageRejectSplit implements phase 20 (spec.md §4.2-20): Reject+tcp-reset
// with non-TCP services splits one rule per service family.
func stageRejectSplit(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		if r.Action != objectmodel.ActionReject {
			push(r)
			return false, nil
		}
		if r.RejectKind == "" {
			r.RejectKind = ctx.Options.DefaultRejectWith
		}
		if r.RejectKind != "tcp-reset" || len(r.Service.Objects) <= 1 {
			push(r)
			return false, nil
		}
		tcp, other := splitByTCP(ctx, r.Service.Objects)
		if len(tcp) > 0 {
			t := r.Clone()
			t.Service.Objects = tcp
			push(t)
		}
		if len(other) > 0 {
			o := r.Clone()
			o.Service.Objects = other
			o.RejectKind = "icmp-port-unreachable"
			push(o)
		}
		return false, nil
	}
}

func splitByTCP(ctx *compilectx.Context, objs []objectmodel.Handle) (tcp, other []objectmodel.Handle) {
	for _, h := range objs {
		o, ok := ctx.Store.Get(h)
		if ok && o.Kind == objectmodel.KindServiceTCP {
			tcp = append(tcp, h)
		} else {
			other = append(other, h)
		}
	}
	return tcp, other
}

// stageServiceNormalize implements phase 21 (spec.md §4.2-21): groups
// services by protocol so each emitted rule carries one protocol;
// validates UserService is OUTPUT-only, Custom has a platform mapping, no
// "established" flag on TCP, and fixes stateless ICMPv6 with a warning.
func stageServiceNormalize(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}

		byProto := make(map[objectmodel.Kind][]objectmodel.Handle)
		var order []objectmodel.Kind
		for _, h := range r.Service.Objects {
			o, got := ctx.Store.Get(h)
			if !got {
				continue
			}
			if o.Kind == objectmodel.KindServiceTCP && o.Service != nil && o.Service.Established {
				return true, diag.NewAbort("service-normalize", r.Position, r.Label, "TCP 'established' flag is not supported on iptables")
			}
			if o.Kind == objectmodel.KindServiceICMPv6 && !r.Options.Stateless {
				ctx.Diagnostics.Warn("service-normalize", r.Position, r.Label, "forcing stateless match for ICMPv6 rule")
				r.Options.Stateless = true
			}
			if o.Kind == objectmodel.KindServiceUser && r.Chain != ChainOutput && r.Chain != "" {
				return true, diag.NewAbort("service-normalize", r.Position, r.Label, "UserService rules must be in the OUTPUT chain")
			}
			if o.Kind == objectmodel.KindServiceCustom {
				if o.Service == nil || o.Service.PlatformCode["iptables"] == "" {
					ctx.Diagnostics.Error("service-normalize", r.Position, r.Label, "custom service %q has no iptables code", o.Name)
				}
			}
			if _, seen := byProto[o.Kind]; !seen {
				order = append(order, o.Kind)
			}
			byProto[o.Kind] = append(byProto[o.Kind], h)
		}

		if len(order) <= 1 {
			push(r)
			return false, nil
		}
		for _, k := range order {
			split := r.Clone()
			split.Service.Objects = byProto[k]
			push(split)
		}
		return false, nil
	}
}

// stageOptimize1 implements spec.md §4.2-22 Optimize-1, run three times by
// the builder: picks the positional element with the smallest non-"any"
// population (<=15 objects) and factors its match out into a fresh temp
// chain, leaving the rest of the body inside it.
func stageOptimize1(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		if r.Chain == "" || r.Predefined {
			push(r)
			return false, nil
		}
		best := elementKind(-1)
		bestSize := 16
		for _, k := range []elementKind{elSource, elDestination, elService} {
			n := populationSize(*getElement(r, k))
			if n > 1 && n <= 15 && n < bestSize {
				best, bestSize = k, n
			}
		}
		if best < 0 {
			push(r)
			return false, nil
		}
		chain := ctx.FreshChainName("opt1")
		ctx.NoteChainUse(chain)
		jump := r.Clone()
		jump.Target = chain
		jump.Options.Log = false
		jump.Options.Limit = ""
		onlyFiltered := jump.Clone()
		*getElement(onlyFiltered, best) = *getElement(r, best)
		for _, k := range []elementKind{elSource, elDestination, elService} {
			if k != best {
				*getElement(onlyFiltered, k) = objectmodel.Element{}
			}
		}
		push(onlyFiltered)
		body := r.Clone()
		body.Chain = chain
		*getElement(body, best) = objectmodel.Element{}
		push(body)
		return false, nil
	}
}

// stageOptimize2 implements Optimize-2: inside a leaf rule whose action
// needs no protocol specificity, redundant Service re-match is reset to
// "any".
func stageOptimize2() pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		if r.Chain != "" && (r.Action == objectmodel.ActionAccept || r.Action == objectmodel.ActionDeny) {
			r.Service = objectmodel.Element{}
		}
		push(r)
		return false, nil
	}
}

// stageOptimize3 implements Optimize-3: deduplicate by serialized emission
// string. This is a slurp stage (spec.md §4.1's slurp contract).
func stageOptimize3() pipeline.StepFunc[*Rule] {
	var done bool
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		if done {
			return true, nil
		}
		rules, err := pipeline.Slurp(upstream)
		if err != nil {
			return true, err
		}
		seen := make(map[string]bool)
		for _, r := range rules {
			key := serializeForDedup(r)
			if seen[key] {
				continue
			}
			seen[key] = true
			push(r)
		}
		done = true
		return true, nil
	}
}

func serializeForDedup(r *Rule) string {
	return fmt.Sprintf("%s|%v|%v|%v|%v|%s|%s", r.Chain, r.Source.Objects, r.Destination.Objects, r.Service.Objects, r.Interface.Objects, r.Action, r.Target)
}

// stageOptimizeIfacePlus implements Optimize-iface-plus: drops a redundant
// wildcard interface match in INPUT (-i +) and OUTPUT (-o +).
func stageOptimizeIfacePlus() pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		if r.WildcardIface && (r.Chain == ChainInput || r.Chain == ChainOutput) {
			r.WildcardIface = false
			r.IfaceIsNil = true
		}
		push(r)
		return false, nil
	}
}

// stageAtomizeEmission implements phase 23 (spec.md §4.2-23): cartesian
// product over (Source x Destination), then over Time, so each rule ends
// with at most one source, one destination, and one interval.
func stageAtomizeEmission() pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		srcs := singletons(r.Source.Objects)
		dsts := singletons(r.Destination.Objects)
		times := singletons(r.Time.Objects)
		for _, s := range srcs {
			for _, d := range dsts {
				for _, t := range times {
					out := r.Clone()
					out.Source = s
					out.Destination = d
					out.Time = t
					push(out)
				}
			}
		}
		return false, nil
	}
}

func singletons(objs []objectmodel.Handle) []objectmodel.Element {
	if len(objs) == 0 {
		return []objectmodel.Element{{}}
	}
	out := make([]objectmodel.Element, len(objs))
	for i, h := range objs {
		out[i] = objectmodel.Element{Objects: []objectmodel.Handle{h}}
	}
	return out
}

// stagePrepareMultiport implements phase 24 (spec.md §4.2-24): 2..15
// TCP/UDP services set the multiport flag; >15 split into groups of 15; IP/
// ICMP/Custom emit one service per rule.
func stagePrepareMultiport(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		n := len(r.Service.Objects)
		if n <= 1 {
			push(r)
			return false, nil
		}
		if !servicesAreMultiportable(ctx, r.Service.Objects) {
			for _, h := range r.Service.Objects {
				one := r.Clone()
				one.Service = objectmodel.Element{Objects: []objectmodel.Handle{h}}
				push(one)
			}
			return false, nil
		}
		for i := 0; i < n; i += 15 {
			end := i + 15
			if end > n {
				end = n
			}
			group := r.Clone()
			group.Service = objectmodel.Element{Objects: r.Service.Objects[i:end]}
			group.Multiport = end-i > 1
			push(group)
		}
		return false, nil
	}
}

func servicesAreMultiportable(ctx *compilectx.Context, objs []objectmodel.Handle) bool {
	for _, h := range objs {
		o, ok := ctx.Store.Get(h)
		if !ok || (o.Kind != objectmodel.KindServiceTCP && o.Kind != objectmodel.KindServiceUDP) {
			return false
		}
	}
	return true
}

// stagePreEmitValidation implements phase 25 (spec.md §4.2-25).
func stagePreEmitValidation(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		for _, el := range []objectmodel.Element{r.Source, r.Destination} {
			for _, h := range el.Objects {
				o, got := ctx.Store.Get(h)
				if !got || o.Address == nil {
					continue
				}
				if o.Kind == objectmodel.KindAddressIPv4 && o.Address.IP != nil && o.Address.IP.Equal(zeroIPv4) {
					return true, diag.NewAbort("pre-emit-validation", r.Position, r.Label, "0.0.0.0 host address is not permitted (likely a typo)")
				}
			}
		}
		if h, single := r.Interface.Single(); single {
			o, got := ctx.Store.Get(h)
			if got && o.Iface != nil && o.Iface.Unnumbered {
				ctx.Diagnostics.Warn("pre-emit-validation", r.Position, r.Label, "interface %q is unnumbered", o.Name)
			}
		}
		if h, single := r.Interface.Single(); single {
			o, got := ctx.Store.Get(h)
			for _, ad := range r.Source.Objects {
				ao, _ := ctx.Store.Get(ad)
				if ao != nil && ao.Kind == objectmodel.KindPhysicalAddress && got && r.Chain == ChainOutput && o != nil {
					return true, diag.NewAbort("pre-emit-validation", r.Position, r.Label, "MAC address match is not allowed in the OUTPUT chain")
				}
			}
		}
		push(r)
		return false, nil
	}
}
