// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package nftables implements the nftables backend's text emitter (spec.md
// §4.5, §6.2): it renders a nftpipeline.Rule stream into an `nft` batch
// file with `table inet filter { chain input {...} ... }`, predefined
// hook/priority bindings, and no table-per-address-family split.
package nftables

import (
	"fmt"
	"strconv"
	"strings"

	"grimm.is/flywall/internal/compilectx"
	"grimm.is/flywall/internal/natpipeline"
	"grimm.is/flywall/internal/nftpipeline"
	"grimm.is/flywall/internal/objectmodel"
)

// hookPriority binds a built-in chain to its hook and the conventional
// "filter" base-chain priority (nft's mnemonic `filter`, numeric 0).
var hookPriority = map[string]string{
	nftpipeline.ChainInput:   "type filter hook input priority filter; policy drop;",
	nftpipeline.ChainOutput:  "type filter hook output priority filter; policy drop;",
	nftpipeline.ChainForward: "type filter hook forward priority filter; policy drop;",
}

// Emitter accumulates rendered rule lines per chain, matching the
// `chain_rules` map spec.md §4.5 describes.
type Emitter struct {
	ctx        *compilectx.Context
	chainRules map[string][]string
	order      []string
}

// NewEmitter creates an emitter for one firewall's nftables policy compile.
func NewEmitter(ctx *compilectx.Context) *Emitter {
	return &Emitter{ctx: ctx, chainRules: make(map[string][]string)}
}

// Add renders one rule and files it under its chain. A rule with an
// Unsupported marker is rendered as a structured comment instead of a
// match/verdict line (spec.md §4.5).
func (e *Emitter) Add(r *nftpipeline.Rule) {
	chain := r.Chain
	if chain == "" {
		chain = nftpipeline.ChainForward
	}
	if _, seen := e.chainRules[chain]; !seen {
		e.order = append(e.order, chain)
	}
	if r.Unsupported != "" {
		e.chainRules[chain] = append(e.chainRules[chain],
			fmt.Sprintf("# unsupported: rule %d (%s): %s", r.Position, r.Label, r.Unsupported))
		return
	}
	e.chainRules[chain] = append(e.chainRules[chain], renderRule(e.ctx, r))
}

func renderRule(ctx *compilectx.Context, r *nftpipeline.Rule) string {
	var b strings.Builder
	b.WriteString("  ")
	writeMatch(&b, ctx, "iifname", r.Interface, r.Direction == objectmodel.DirectionInbound || r.Direction == objectmodel.DirectionBoth, r.Chain != nftpipeline.ChainOutput)
	writeMatch(&b, ctx, "oifname", r.Interface, r.Direction == objectmodel.DirectionOutbound, r.Chain != nftpipeline.ChainInput)
	writeProtoMatch(&b, ctx, r.Service)
	writeAddrMatch(&b, ctx, "saddr", r.Source)
	writeAddrMatch(&b, ctx, "daddr", r.Destination)
	writePortMatch(&b, ctx, "sport", r.Service, true)
	writePortMatch(&b, ctx, "dport", r.Service, false)
	if r.Options.Stateless == false && r.Action != objectmodel.ActionReject {
		b.WriteString("ct state new ")
	}
	if r.Options.Log {
		prefix := r.Options.LogPrefix
		if prefix == "" {
			prefix = fmt.Sprintf("rule-%d: ", r.Position)
		}
		fmt.Fprintf(&b, "log prefix %q ", prefix)
	}
	if r.Verdict != "" {
		b.WriteString(r.Verdict)
	} else {
		s := strings.TrimRight(b.String(), " ")
		return s
	}
	return strings.TrimRight(b.String(), " ")
}

// writeMatch only applies to a single-interface element; iifname/oifname
// use nftables' native string match, no physdev equivalent needed since
// nft's `br_netfilter` path is out of this backend's scope (spec.md §4.5
// lists no bridge-port special-case, unlike the iptables emitter).
func writeMatch(b *strings.Builder, ctx *compilectx.Context, kw string, e objectmodel.Element, directionApplies, chainApplies bool) {
	if !directionApplies || !chainApplies || e.IsAny() {
		return
	}
	h, single := e.Single()
	if !single {
		return
	}
	o, ok := ctx.Store.Get(h)
	if !ok {
		return
	}
	neg := ""
	if e.Negation {
		neg = "!= "
	}
	fmt.Fprintf(b, "%s %s%s ", kw, neg, o.Name)
}

func writeProtoMatch(b *strings.Builder, ctx *compilectx.Context, svc objectmodel.Element) {
	if svc.IsAny() {
		return
	}
	protos := map[string]bool{}
	for _, h := range svc.Objects {
		o, ok := ctx.Store.Get(h)
		if !ok || o.Service == nil {
			continue
		}
		switch o.Kind {
		case objectmodel.KindServiceTCP:
			protos["tcp"] = true
		case objectmodel.KindServiceUDP:
			protos["udp"] = true
		case objectmodel.KindServiceICMP:
			protos["icmp"] = true
		case objectmodel.KindServiceICMPv6:
			protos["icmpv6"] = true
		case objectmodel.KindServiceIP:
			fmt.Fprintf(b, "meta l4proto %d ", o.Service.Protocol)
		}
	}
	if len(protos) == 1 {
		for p := range protos {
			fmt.Fprintf(b, "meta l4proto %s ", p)
		}
	}
}

// writeAddrMatch renders the source/destination element as a native nft
// set when it holds more than one object (spec.md §4.5 "native sets, no
// multiport hack" — the same applies to address lists here), a bare value
// when singular, and nothing for "any".
func writeAddrMatch(b *strings.Builder, ctx *compilectx.Context, dir string, e objectmodel.Element) {
	if e.IsAny() {
		return
	}
	fam := "ip"
	neg := ""
	if e.Negation {
		neg = "!= "
	}
	val := setExpr(ctx, e)
	fmt.Fprintf(b, "%s %s %s%s ", fam, dir, neg, val)
}

func setExpr(ctx *compilectx.Context, e objectmodel.Element) string {
	if h, single := e.Single(); single {
		if o, ok := ctx.Store.Get(h); ok {
			return addrLiteral(o)
		}
	}
	var parts []string
	for _, h := range e.Objects {
		if o, ok := ctx.Store.Get(h); ok {
			parts = append(parts, addrLiteral(o))
		}
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

func addrLiteral(o *objectmodel.Object) string {
	if o.Address == nil {
		return o.Name
	}
	switch o.Kind {
	case objectmodel.KindNetwork, objectmodel.KindNetworkIPv6:
		ones, _ := o.Address.Mask.Size()
		return fmt.Sprintf("%s/%d", o.Address.IP, ones)
	case objectmodel.KindAddressRange:
		return fmt.Sprintf("%s-%s", o.Address.IP, o.Address.RangeEnd)
	default:
		return o.Address.IP.String()
	}
}

func writePortMatch(b *strings.Builder, ctx *compilectx.Context, kw string, svc objectmodel.Element, isSrc bool) {
	if svc.IsAny() {
		return
	}
	var parts []string
	for _, h := range svc.Objects {
		o, ok := ctx.Store.Get(h)
		if !ok || o.Service == nil {
			continue
		}
		if o.Kind != objectmodel.KindServiceTCP && o.Kind != objectmodel.KindServiceUDP {
			continue
		}
		from, to := o.Service.DstPortFrom, o.Service.DstPortTo
		if isSrc {
			from, to = o.Service.SrcPortFrom, o.Service.SrcPortTo
		}
		if from == 0 && to == 0 {
			continue
		}
		if from == to {
			parts = append(parts, strconv.Itoa(from))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", from, to))
		}
	}
	if len(parts) == 0 {
		return
	}
	if len(parts) == 1 {
		fmt.Fprintf(b, "%s %s ", kw, parts[0])
		return
	}
	fmt.Fprintf(b, "%s { %s } ", kw, strings.Join(parts, ", "))
}

// Batch renders the full `nft -f` batch file for this table: `flush
// ruleset` followed by one `table inet filter { ... }` block with its
// three built-in chains in the fixed order input, output, forward, then any
// user-defined branch
// chains referenced by a `jump` verdict, skipping those with zero usage
// (mirroring the iptables emitter's chain-usage closure, spec.md §8).
func (e *Emitter) Batch() string {
	var b strings.Builder
	b.WriteString("flush ruleset\n")
	b.WriteString("table inet filter {\n")
	for _, chain := range []string{nftpipeline.ChainInput, nftpipeline.ChainOutput, nftpipeline.ChainForward} {
		fmt.Fprintf(&b, "  chain %s {\n", chain)
		fmt.Fprintf(&b, "    %s\n", hookPriority[chain])
		for _, line := range e.chainRules[chain] {
			fmt.Fprintf(&b, "    %s;\n", line)
		}
		b.WriteString("  }\n")
	}
	for _, chain := range e.order {
		if chain == nftpipeline.ChainInput || chain == nftpipeline.ChainOutput || chain == nftpipeline.ChainForward {
			continue
		}
		if e.ctx.ChainUsage(chain) == 0 {
			continue
		}
		fmt.Fprintf(&b, "  chain %s {\n", chain)
		for _, line := range e.chainRules[chain] {
			fmt.Fprintf(&b, "    %s;\n", line)
		}
		b.WriteString("  }\n")
	}
	b.WriteString("}\n")
	return b.String()
}

// NATEmitter renders nftables' `table ip nat` block (spec.md §6.2) from the
// backend-agnostic natpipeline.Rule stream — NAT rule classification
// (spec.md §4.3-3) does not depend on the target syntax, only the emitted
// statement shape differs from the iptables NAT emitter.
type NATEmitter struct {
	ctx   *compilectx.Context
	lines map[string][]string
}

// NewNATEmitter creates an emitter for one firewall's nftables NAT compile.
func NewNATEmitter(ctx *compilectx.Context) *NATEmitter {
	return &NATEmitter{ctx: ctx, lines: map[string][]string{"prerouting": nil, "postrouting": nil}}
}

// Add renders one atomic NAT rule under its nft hook chain (prerouting for
// DNAT/redirect, postrouting for SNAT/masquerade, matching spec.md §4.3-8's
// iptables chain assignment one-for-one — nftables' nat table uses the same
// two hooks).
func (e *NATEmitter) Add(r *natpipeline.Rule) {
	hook := "postrouting"
	if r.Chain == natpipeline.ChainPrerouting {
		hook = "prerouting"
	}
	e.lines[hook] = append(e.lines[hook], renderNATRule(e.ctx, r))
}

func renderNATRule(ctx *compilectx.Context, r *natpipeline.Rule) string {
	var b strings.Builder
	writeAddrMatch(&b, ctx, "saddr", r.OriginalSource)
	writeAddrMatch(&b, ctx, "daddr", r.OriginalDestination)
	switch r.Variant {
	case natpipeline.VariantMasquerade:
		b.WriteString("masquerade")
	case natpipeline.VariantSNAT, natpipeline.VariantSNetNAT, natpipeline.VariantSDNAT:
		if h, single := r.TranslatedSource.Single(); single {
			if o, ok := ctx.Store.Get(h); ok {
				fmt.Fprintf(&b, "snat to %s", addrLiteral(o))
			}
		}
	case natpipeline.VariantDNAT, natpipeline.VariantDNetNAT:
		if h, single := r.TranslatedDestination.Single(); single {
			if o, ok := ctx.Store.Get(h); ok {
				fmt.Fprintf(&b, "dnat to %s", addrLiteral(o))
			}
		}
	case natpipeline.VariantRedirect:
		if r.RedirectPort != 0 {
			fmt.Fprintf(&b, "redirect to :%d", r.RedirectPort)
		} else {
			b.WriteString("redirect")
		}
	case natpipeline.VariantNONAT:
		b.WriteString("accept")
	}
	return strings.TrimSpace(b.String())
}

// Batch renders the `table ip nat` block with its two built-in hooks.
func (e *NATEmitter) Batch() string {
	var b strings.Builder
	b.WriteString("table ip nat {\n")
	for _, hook := range []string{"prerouting", "postrouting"} {
		fmt.Fprintf(&b, "  chain %s {\n", hook)
		fmt.Fprintf(&b, "    type nat hook %s priority %s;\n", hook, natPriority(hook))
		for _, line := range e.lines[hook] {
			fmt.Fprintf(&b, "    %s;\n", line)
		}
		b.WriteString("  }\n")
	}
	b.WriteString("}\n")
	return b.String()
}

func natPriority(hook string) string {
	if hook == "prerouting" {
		return "dstnat"
	}
	return "srcnat"
}
