// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package natpipeline

import (
	"grimm.is/flywall/internal/compilectx"
	"grimm.is/flywall/internal/diag"
	"grimm.is/flywall/internal/objectmodel"
	"grimm.is/flywall/internal/pipeline"
)

// stageBeginNegation implements stage 1 (spec.md §4.3-1): single-object
// negation on Inbound-Interface/Outbound-Interface resolves inline;
// multi-object negation on an interface element is not meaningful for NAT
// (a NAT rule binds to at most one inbound and one outbound interface) and
// aborts.
func stageBeginNegation(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
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
		if r.InboundInterface.Negation {
			if len(r.InboundInterface.Objects) <= 1 {
				r.SingleObjNegIn = true
				r.InboundInterface.Negation = false
			} else {
				return true, diag.NewAbort("nat-begin", r.Position, r.Label, "multi-object negation on Inbound-Interface is not supported")
			}
		}
		if r.OutboundInterface.Negation {
			if len(r.OutboundInterface.Objects) <= 1 {
				r.SingleObjNegOut = true
				r.OutboundInterface.Negation = false
			} else {
				return true, diag.NewAbort("nat-begin", r.Position, r.Label, "multi-object negation on Outbound-Interface is not supported")
			}
		}
		push(r)
		return false, nil
	}
}

// stageExpandAndFilter implements stage 2 (spec.md §4.3-2): group
// expansion on every element, empty-element dropping (an empty non-any
// element after expansion becomes "any" with a warning), address-family
// filtering, and identity dedup within each element.
func stageExpandAndFilter(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		addrElems := []*objectmodel.Element{
			&r.OriginalSource, &r.OriginalDestination,
			&r.TranslatedSource, &r.TranslatedDestination,
			&r.InboundInterface, &r.OutboundInterface,
		}
		for _, el := range addrElems {
			wasAny := el.IsAny()
			expanded, err := ctx.Store.ExpandGroups(el.Objects, ctx.Family)
			if err != nil {
				return true, diag.NewAbort("nat-expand", r.Position, r.Label, "%v", err)
			}
			if !wasAny && len(expanded) == 0 {
				ctx.Diagnostics.Warn("nat-expand", r.Position, r.Label, "element reduced to empty after family/group filtering, treating as any")
			}
			el.Objects = expanded
		}
		expanded, err := ctx.Store.ExpandGroups(r.OriginalService.Objects, objectmodel.FamilyBoth)
		if err != nil {
			return true, diag.NewAbort("nat-expand", r.Position, r.Label, "%v", err)
		}
		r.OriginalService.Objects = expanded
		expanded, err = ctx.Store.ExpandGroups(r.TranslatedService.Objects, objectmodel.FamilyBoth)
		if err != nil {
			return true, diag.NewAbort("nat-expand", r.Position, r.Label, "%v", err)
		}
		r.TranslatedService.Objects = expanded
		push(r)
		return false, nil
	}
}

// stageClassify implements stage 3 (spec.md §4.3-3): classify the rule
// variant from which translated elements are set.
func stageClassify(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}

		if r.Action == objectmodel.ActionBranch {
			r.Variant = VariantNATBranch
			push(r)
			return false, nil
		}
		if r.Masquerade {
			r.Variant = VariantMasquerade
			push(r)
			return false, nil
		}

		srcSet := !r.TranslatedSource.IsAny()
		dstSet := !r.TranslatedDestination.IsAny()
		srvSet := !r.TranslatedService.IsAny()

		switch {
		case !srcSet && !dstSet && !srvSet:
			r.Variant = VariantNONAT
		case srcSet && (dstSet || srvSet):
			r.Variant = VariantSDNAT
		case dstSet && srvSet:
			r.Variant = VariantSDNAT
		case srcSet:
			if isNetworkLike(ctx, r.TranslatedSource) {
				r.Variant = VariantSNetNAT
			} else {
				r.Variant = VariantSNAT
			}
		case dstSet || srvSet:
			if dstSet && isNetworkLike(ctx, r.TranslatedDestination) {
				r.Variant = VariantDNetNAT
			} else {
				r.Variant = VariantDNAT
			}
		}
		push(r)
		return false, nil
	}
}

func isNetworkLike(ctx *compilectx.Context, e objectmodel.Element) bool {
	h, single := e.Single()
	if !single {
		return true
	}
	o, ok := ctx.Store.Get(h)
	if !ok {
		return false
	}
	return o.Kind == objectmodel.KindNetwork || o.Kind == objectmodel.KindNetworkIPv6 ||
		o.Kind == objectmodel.KindAddressRange || o.Kind == objectmodel.KindGroupObject
}

// stageVerifyNegation implements stage 4 (spec.md §4.3-4): negation on any
// translated element is never meaningful ("translate to NOT this address"
// has no iptables expression) and aborts the compile.
func stageVerifyNegation() pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		if r.TranslatedSource.Negation || r.TranslatedDestination.Negation || r.TranslatedService.Negation {
			return true, diag.NewAbort("nat-verify", r.Position, r.Label, "negation on a translated element is not supported")
		}
		push(r)
		return false, nil
	}
}

// stagePortTranslationNormalize implements stage 5 (spec.md §4.3-5): a
// DNAT-like rule with empty Translated-Destination but a Translated-Service
// targeting the firewall copies Original-Destination into
// Translated-Destination, so stage 6 reclassifies it as Redirect.
func stagePortTranslationNormalize(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		if (r.Variant == VariantDNAT || r.Variant == VariantDNetNAT) &&
			r.TranslatedDestination.IsAny() && !r.TranslatedService.IsAny() &&
			matchesFirewall(ctx, r.OriginalDestination) {
			r.TranslatedDestination = cloneElement(r.OriginalDestination)
		}
		push(r)
		return false, nil
	}
}

// stageRedirectDetect implements stage 6 (spec.md §4.3-6): a rule whose
// Translated-Destination now matches the firewall reclassifies to Redirect,
// emitting REDIRECT --to-ports instead of DNAT --to-destination.
func stageRedirectDetect(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		if (r.Variant == VariantDNAT || r.Variant == VariantDNetNAT) && matchesFirewall(ctx, r.TranslatedDestination) {
			r.Variant = VariantRedirect
		}
		push(r)
		return false, nil
	}
}

// stageNONATSplit implements stage 7 (spec.md §4.3-7): a NONAT rule becomes
// two ACCEPT rules that exempt the matched traffic from address
// translation: one in POSTROUTING, one in PREROUTING — or OUTPUT in place
// of PREROUTING when Original-Source is the firewall itself (traffic that
// never enters PREROUTING).
func stageNONATSplit(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		if r.Variant != VariantNONAT {
			push(r)
			return false, nil
		}
		post := r.Clone()
		post.Chain = ChainPostrouting
		post.Action = objectmodel.ActionAccept
		post.Target = "ACCEPT"
		push(post)

		pre := r.Clone()
		if matchesFirewall(ctx, r.OriginalSource) {
			pre.Chain = ChainOutput
		} else {
			pre.Chain = ChainPrerouting
		}
		pre.Action = objectmodel.ActionAccept
		pre.Target = "ACCEPT"
		push(pre)
		return false, nil
	}
}

// stageChainSelect implements stage 8 (spec.md §4.3-8).
func stageChainSelect() pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		if r.Chain == "" {
			switch r.Variant {
			case VariantSNAT, VariantSNetNAT, VariantMasquerade:
				r.Chain = ChainPostrouting
			case VariantDNAT, VariantDNetNAT, VariantRedirect:
				r.Chain = ChainPrerouting
			case VariantSDNAT:
				r.Chain = ChainPrerouting
			}
		}
		push(r)
		return false, nil
	}
}

// stageTargetSelect implements stage 9 (spec.md §4.3-9).
func stageTargetSelect(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		switch r.Variant {
		case VariantSNAT, VariantSNetNAT:
			r.Target = "SNAT"
		case VariantMasquerade:
			r.Target = "MASQUERADE"
		case VariantDNAT, VariantDNetNAT, VariantSDNAT:
			r.Target = "DNAT"
		case VariantRedirect:
			r.Target = "REDIRECT"
		case VariantNATBranch:
			if rs, got := ctx.Store.Get(r.BranchTo); got {
				r.Target = rs.Name
				ctx.NoteChainUse(rs.Name)
			}
		}
		push(r)
		return false, nil
	}
}

// stageReplaceFirewallObjects implements stage 10 (spec.md §4.3-10):
// replaces every firewall or cluster object in Original-Destination with its
// interface objects, then, depending on the variant, expands the
// host/firewall/cluster objects left in the other elements into their
// interfaces' addresses (SNAT/SNetNAT/DNAT/DNetNAT/SDNAT expand all four
// original+translated elements; Redirect expands three of four, skipping
// Translated-Destination since it is the firewall itself by construction;
// NONAT rules, including the pairs stage 7 split off, Masquerade and NAT
// branch rules get no expansion beyond the Original-Destination step).
func stageReplaceFirewallObjects(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		replaceFirewallWithInterfaces(ctx, &r.OriginalDestination)

		switch r.Variant {
		case VariantSNAT, VariantSNetNAT, VariantDNAT, VariantDNetNAT, VariantSDNAT:
			expandAddressElement(ctx, &r.OriginalSource)
			expandAddressElement(ctx, &r.OriginalDestination)
			expandAddressElement(ctx, &r.TranslatedSource)
			expandAddressElement(ctx, &r.TranslatedDestination)
		case VariantRedirect:
			expandAddressElement(ctx, &r.OriginalSource)
			expandAddressElement(ctx, &r.OriginalDestination)
			expandAddressElement(ctx, &r.TranslatedSource)
		}
		push(r)
		return false, nil
	}
}

func expandAddressElement(ctx *compilectx.Context, e *objectmodel.Element) {
	var out []objectmodel.Handle
	for _, h := range e.Objects {
		o, ok := ctx.Store.Get(h)
		if !ok {
			out = append(out, h)
			continue
		}
		if o.Kind == objectmodel.KindHost || o.Kind == objectmodel.KindFirewall || o.Kind == objectmodel.KindCluster {
			if o.HostFW != nil {
				for _, ih := range o.HostFW.Interfaces {
					if iface, ok := ctx.Store.Get(ih); ok && iface.Iface != nil {
						out = append(out, iface.Iface.Addresses...)
					}
				}
				continue
			}
		}
		out = append(out, h)
	}
	e.Objects = out
}

// stageServiceGroupAndMultiport implements the splitting half of stage 11
// (spec.md §4.3-11): a rule with more than one Original-Service object is
// split into rules of at most 15 services each, in their original order.
// Services are not grouped by protocol, so one rule can still mix
// protocols, and no multiport flag is set (Rule has no such field).
func stageServiceGroupAndMultiport() pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		n := len(r.OriginalService.Objects)
		if n <= 1 {
			push(r)
			return false, nil
		}
		for i := 0; i < n; i += 15 {
			end := i + 15
			if end > n {
				end = n
			}
			group := r.Clone()
			group.OriginalService = objectmodel.Element{Objects: r.OriginalService.Objects[i:end]}
			push(group)
		}
		return false, nil
	}
}

// stageAtomize implements the cartesian-product half of stage 11/12
// (spec.md §4.3-11/12): (OriginalSource x OriginalDestination), leaving at
// most one object per side for emission.
func stageAtomize() pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		srcs := singletons(r.OriginalSource.Objects)
		dsts := singletons(r.OriginalDestination.Objects)
		for _, s := range srcs {
			for _, d := range dsts {
				out := r.Clone()
				out.OriginalSource = s
				out.OriginalDestination = d
				push(out)
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

// stageAssignInterfaceAndCount implements stage 12's bookkeeping half
// (spec.md §4.3-12): NAT branch targets count toward chain-usage
// bookkeeping so the emitter can skip unreferenced chains. Interface
// elements pass through unchanged; the emitter itself renders a
// single-object interface element as -i/-o.
func stageAssignInterfaceAndCount(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		if r.Variant == VariantNATBranch && r.Target != "" {
			ctx.NoteChainUse(r.Target)
		}
		push(r)
		return false, nil
	}
}
