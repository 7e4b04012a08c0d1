// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package routingpipeline implements the routing pipeline spec.md §2
// mentions alongside the policy and NAT pipelines ("routing rules ->
// routing emitter") without giving it its own stage breakdown — unlike
// the policy/NAT pipelines, a routing rule set needs no chain/target
// assignment or negation expansion, only group expansion/dedup and a
// direct render, so it is implemented as a single pass rather than a
// multi-phase pipeline.Stage chain.
package routingpipeline

import (
	"fmt"
	"strings"

	"grimm.is/flywall/internal/compilectx"
	"grimm.is/flywall/internal/diag"
	"grimm.is/flywall/internal/objectmodel"
)

// Rule is the scratch-store copy of a routing rule.
type Rule struct {
	Position int
	Label    string
	Disabled bool

	Destination objectmodel.Element
	Gateway     objectmodel.Element
	Interface   objectmodel.Element
	Metric      int

	Options objectmodel.RuleOptions
}

// FromRoutingRule builds the scratch-store copy from a loaded object.
func FromRoutingRule(rr *objectmodel.RoutingRule) *Rule {
	return &Rule{
		Position:    rr.Position,
		Label:       rr.Label,
		Disabled:    rr.Disabled,
		Destination: cloneElement(rr.Destination),
		Gateway:     cloneElement(rr.Gateway),
		Interface:   cloneElement(rr.Interface),
		Metric:      rr.Metric,
		Options:     rr.Options,
	}
}

func cloneElement(e objectmodel.Element) objectmodel.Element {
	return objectmodel.Element{Objects: append([]objectmodel.Handle(nil), e.Objects...), Negation: e.Negation}
}

// Run expands groups on the Destination and Gateway elements, drops
// disabled rules, and renders
// the surviving set to `ip route add` lines (the routing emitter, spec.md
// §2). Unlike the policy/NAT emitters this produces platform-neutral `ip
// route` commands rather than iptables/nftables syntax — routing rules
// configure the kernel's FIB, not a packet-filter table, on every backend.
func Run(ctx *compilectx.Context, source []*Rule) ([]string, error) {
	var out []string
	for _, r := range source {
		if r.Disabled {
			continue
		}
		dest, err := ctx.Store.ExpandGroups(r.Destination.Objects, ctx.Family)
		if err != nil {
			return nil, diag.NewAbort("routing-expand", r.Position, r.Label, "%v", err)
		}
		r.Destination.Objects = dest
		gw, err := ctx.Store.ExpandGroups(r.Gateway.Objects, ctx.Family)
		if err != nil {
			return nil, diag.NewAbort("routing-expand", r.Position, r.Label, "%v", err)
		}
		r.Gateway.Objects = gw
		out = append(out, render(ctx, r)...)
	}
	return out, nil
}

func render(ctx *compilectx.Context, r *Rule) []string {
	dests := r.Destination.Objects
	if len(dests) == 0 {
		dests = []objectmodel.Handle{objectmodel.InvalidHandle}
	}
	var lines []string
	for _, dh := range dests {
		var b strings.Builder
		b.WriteString("ip route add ")
		b.WriteString(destLiteral(ctx, dh))
		if h, ok := r.Gateway.Single(); ok {
			if o, ok := ctx.Store.Get(h); ok && o.Address != nil {
				fmt.Fprintf(&b, " via %s", o.Address.IP)
			}
		}
		if h, ok := r.Interface.Single(); ok {
			if o, ok := ctx.Store.Get(h); ok {
				fmt.Fprintf(&b, " dev %s", o.Name)
			}
		}
		if r.Metric != 0 {
			fmt.Fprintf(&b, " metric %d", r.Metric)
		}
		lines = append(lines, b.String())
	}
	return lines
}

func destLiteral(ctx *compilectx.Context, h objectmodel.Handle) string {
	if h == objectmodel.InvalidHandle {
		return "default"
	}
	o, ok := ctx.Store.Get(h)
	if !ok || o.Address == nil {
		return "default"
	}
	if o.Kind == objectmodel.KindNetwork || o.Kind == objectmodel.KindNetworkIPv6 {
		ones, _ := o.Address.Mask.Size()
		return fmt.Sprintf("%s/%d", o.Address.IP, ones)
	}
	return o.Address.IP.String()
}
