// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package iptables implements the iptables emitter of spec.md §4.4: it
// renders a fully atomic policypipeline/natpipeline rule stream into shell
// commands, grouped per target chain, in three output variants (plain
// shell, iptables-restore, iptables-restore-with-echo).
package iptables

import (
	"crypto/sha1"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"grimm.is/flywall/internal/compilectx"
	"grimm.is/flywall/internal/natpipeline"
	"grimm.is/flywall/internal/objectmodel"
	"grimm.is/flywall/internal/policypipeline"
)

// maxChainLen is the Linux kernel's xt_table chain-name limit.
const maxChainLen = 29

// ChainName returns chain truncated-and-hashed to fit the kernel's ≤29-byte
// chain-name limit (spec.md §4.4 "Chain-name length is validated (≤30
// chars)"): names at or under the limit pass through unchanged; longer
// names keep a stable prefix and append an 8-hex-digit SHA-1 suffix so two
// different long names never collide after truncation.
func ChainName(chain string) string {
	if len(chain) <= maxChainLen {
		return chain
	}
	sum := sha1.Sum([]byte(chain))
	suffix := fmt.Sprintf("%x", sum[:4])
	keep := maxChainLen - len(suffix) - 1
	if keep < 0 {
		keep = 0
	}
	return chain[:keep] + "_" + suffix
}

// PolicyEmitter accumulates rendered policy-pipeline rule lines per chain.
type PolicyEmitter struct {
	ctx    *compilectx.Context
	table  compilectx.Table
	chains map[string][]string
	order  []string
}

// NewPolicyEmitter creates an emitter for one (firewall, family, table)
// compile's policy rule-set.
func NewPolicyEmitter(ctx *compilectx.Context) *PolicyEmitter {
	return &PolicyEmitter{ctx: ctx, table: ctx.Table, chains: make(map[string][]string)}
}

// Add renders one fully atomic rule and files it under its chain.
func (e *PolicyEmitter) Add(r *policypipeline.Rule) {
	if r.Dropped {
		return
	}
	chain := ChainName(r.Chain)
	if _, seen := e.chains[chain]; !seen {
		e.order = append(e.order, chain)
	}
	e.chains[chain] = append(e.chains[chain], renderPolicyRule(e.ctx, r, chain))
}

func renderPolicyRule(ctx *compilectx.Context, r *policypipeline.Rule, chain string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "-A %s", chain)

	writeDirection(&b, ctx, r)
	writeProtocol(&b, ctx, r.Service)
	writeAddress(&b, "-s", r.Source, r.SingleObjNegSrc)
	writeServicePorts(&b, ctx, r.Service, "--sport", true, r.Multiport)
	writeAddress(&b, "-d", r.Destination, r.SingleObjNegDst)
	writeServicePorts(&b, ctx, r.Service, "--dport", false, r.Multiport)
	if !r.Options.Stateless && r.Action != objectmodel.ActionReject {
		b.WriteString(" -m conntrack --ctstate NEW")
	}
	writeTime(&b, ctx, r.Time)
	writeLimit(&b, r.Options.Limit)

	if r.Target != "" {
		fmt.Fprintf(&b, " -j %s", r.Target)
		writeTargetParams(&b, r)
	}
	return b.String()
}

func writeDirection(b *strings.Builder, ctx *compilectx.Context, r *policypipeline.Rule) {
	if r.IfaceIsNil {
		return
	}
	h, single := r.Interface.Single()
	var o *objectmodel.Object
	var ok bool
	if single {
		o, ok = ctx.Store.Get(h)
	}
	switch {
	case r.WildcardIface:
		if r.Chain == policypipeline.ChainInput {
			b.WriteString(" -i +")
		} else if r.Chain == policypipeline.ChainOutput {
			b.WriteString(" -o +")
		}
	case ok && o.Iface != nil && o.Iface.BridgePort:
		flag := "--physdev-in"
		if r.Chain == policypipeline.ChainOutput {
			flag = "--physdev-out"
		}
		fmt.Fprintf(b, " -m physdev %s %s", flag, o.Name)
	case ok:
		flag := "-i"
		if r.Chain == policypipeline.ChainOutput || r.Chain == policypipeline.ChainPostrouting {
			flag = "-o"
		}
		fmt.Fprintf(b, " %s %s", flag, o.Name)
	}
}

func writeProtocol(b *strings.Builder, ctx *compilectx.Context, svc objectmodel.Element) {
	h, single := svc.Single()
	if !single {
		return
	}
	o, ok := ctx.Store.Get(h)
	if !ok || o.Service == nil {
		return
	}
	switch o.Kind {
	case objectmodel.KindServiceTCP:
		b.WriteString(" -p tcp -m tcp")
	case objectmodel.KindServiceUDP:
		b.WriteString(" -p udp -m udp")
	case objectmodel.KindServiceICMP:
		b.WriteString(" -p icmp -m icmp")
		if o.Service.ICMPType != 0 || o.Service.ICMPCode != 0 {
			fmt.Fprintf(b, " --icmp-type %d/%d", o.Service.ICMPType, o.Service.ICMPCode)
		}
	case objectmodel.KindServiceICMPv6:
		b.WriteString(" -p ipv6-icmp")
		if o.Service.ICMPType != 0 {
			fmt.Fprintf(b, " --icmpv6-type %d", o.Service.ICMPType)
		}
	case objectmodel.KindServiceIP:
		fmt.Fprintf(b, " -p %d", o.Service.Protocol)
	}
	if o.Kind == objectmodel.KindServiceTCP && (o.Service.TCPFlagsMask != "" || o.Service.TCPFlagsSet != "") {
		fmt.Fprintf(b, " --tcp-flags %s %s", orAll(o.Service.TCPFlagsMask), orAll(o.Service.TCPFlagsSet))
	}
}

func orAll(s string) string {
	if s == "" {
		return "ALL"
	}
	return s
}

func writeAddress(b *strings.Builder, flag string, e objectmodel.Element, singleNeg bool) {
	if e.IsAny() {
		return
	}
	h, single := e.Single()
	if !single {
		return
	}
	neg := ""
	if singleNeg || e.Negation {
		neg = "! "
	}
	fmt.Fprintf(b, " %s%s %s", neg, flag, fmt.Sprintf("$OBJ_%d", h))
}

func writeServicePorts(b *strings.Builder, ctx *compilectx.Context, svc objectmodel.Element, flag string, isSrc bool, multiport bool) {
	if multiport {
		mflag := "--sports"
		if !isSrc {
			mflag = "--dports"
		}
		var parts []string
		for _, h := range svc.Objects {
			o, ok := ctx.Store.Get(h)
			if !ok || o.Service == nil {
				continue
			}
			if pr := portRange(o, isSrc); pr != "" {
				parts = append(parts, pr)
			}
		}
		if len(parts) > 0 {
			fmt.Fprintf(b, " -m multiport %s %s", mflag, strings.Join(parts, ","))
		}
		return
	}
	h, single := svc.Single()
	if !single {
		return
	}
	o, ok := ctx.Store.Get(h)
	if !ok || o.Service == nil {
		return
	}
	pr := portRange(o, isSrc)
	if pr != "" {
		fmt.Fprintf(b, " %s %s", flag, pr)
	}
}

func portRange(o *objectmodel.Object, isSrc bool) string {
	from, to := o.Service.DstPortFrom, o.Service.DstPortTo
	if isSrc {
		from, to = o.Service.SrcPortFrom, o.Service.SrcPortTo
	}
	if from == 0 && to == 0 {
		return ""
	}
	if from == to {
		return strconv.Itoa(from)
	}
	return fmt.Sprintf("%d:%d", from, to)
}

func writeTime(b *strings.Builder, ctx *compilectx.Context, t objectmodel.Element) {
	h, single := t.Single()
	if !single {
		return
	}
	o, ok := ctx.Store.Get(h)
	if !ok || o.Interval == nil {
		return
	}
	iv := o.Interval
	b.WriteString(" -m time")
	if iv.StartTime != "" {
		fmt.Fprintf(b, " --timestart %s", iv.StartTime)
	}
	if iv.EndTime != "" {
		fmt.Fprintf(b, " --timestop %s", iv.EndTime)
	}
	if days := dayList(iv.DaysMask); days != "" {
		fmt.Fprintf(b, " --days %s", days)
	}
	if iv.StartDate != "" {
		fmt.Fprintf(b, " --datestart %s", iv.StartDate)
	}
	if iv.EndDate != "" {
		fmt.Fprintf(b, " --datestop %s", iv.EndDate)
	}
}

func dayList(mask uint8) string {
	names := []string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}
	var out []string
	for i, n := range names {
		if mask&(1<<uint(i)) != 0 {
			out = append(out, n)
		}
	}
	return strings.Join(out, ",")
}

func writeLimit(b *strings.Builder, limit string) {
	if limit == "" {
		return
	}
	fmt.Fprintf(b, " -m limit --limit %s", limit)
}

func writeTargetParams(b *strings.Builder, r *policypipeline.Rule) {
	switch r.Target {
	case "LOG":
		prefix := r.Options.LogPrefix
		if prefix == "" {
			prefix = fmt.Sprintf("rule-%d: ", r.Position)
		}
		fmt.Fprintf(b, " --log-prefix %q --log-level 6", prefix)
	case "REJECT":
		kind := r.RejectKind
		if kind == "" {
			kind = "icmp-port-unreachable"
		}
		fmt.Fprintf(b, " --reject-with %s", kind)
	case "MARK":
		fmt.Fprintf(b, " --set-mark %s", r.TargetParams)
	case "CONNMARK":
		fmt.Fprintf(b, " --set-xmark %s", r.TargetParams)
	}
}

// RenderChains returns the emitter's chain declarations and bodies in
// deterministic first-use order (spec.md §5's "chain creation order matches
// first-use order in emission"), skipping any chain whose usage counter is
// zero (spec.md §4.4's "-N chain is emitted once per chain... but only if
// chain_usage_counter[chain] > 0") — the five iptables built-ins are always
// emitted since they are never jump targets of a NoteChainUse call.
func (e *PolicyEmitter) RenderChains() []string {
	var out []string
	builtins := map[string]bool{
		policypipeline.ChainInput: true, policypipeline.ChainOutput: true,
		policypipeline.ChainForward: true, policypipeline.ChainPrerouting: true,
		policypipeline.ChainPostrouting: true,
	}
	for _, chain := range e.order {
		if !builtins[chain] && e.ctx.ChainUsage(chain) == 0 {
			continue
		}
		if !builtins[chain] && !e.ctx.MarkChainSeen(chain) {
			out = append(out, fmt.Sprintf(":%s - [0:0]", chain))
		}
	}
	for _, chain := range e.order {
		if !builtins[chain] && e.ctx.ChainUsage(chain) == 0 {
			continue
		}
		out = append(out, e.chains[chain]...)
	}
	return out
}

// PlainShell renders the plain-shell variant: one $IPTABLES invocation per
// line (spec.md §4.4).
func (e *PolicyEmitter) PlainShell() string {
	var b strings.Builder
	for _, chain := range sortedNewChains(e) {
		fmt.Fprintf(&b, "$IPTABLES -w -t %s -N %s\n", e.table, chain)
	}
	for _, chain := range e.order {
		if e.ctx.ChainUsage(chain) == 0 && !isBuiltinChain(chain) {
			continue
		}
		for _, line := range e.chains[chain] {
			fmt.Fprintf(&b, "$IPTABLES -w -t %s %s\n", e.table, line)
		}
	}
	return b.String()
}

func sortedNewChains(e *PolicyEmitter) []string {
	var out []string
	for _, chain := range e.order {
		if isBuiltinChain(chain) || e.ctx.ChainUsage(chain) == 0 {
			continue
		}
		out = append(out, chain)
	}
	sort.Strings(out)
	return out
}

func isBuiltinChain(chain string) bool {
	switch chain {
	case policypipeline.ChainInput, policypipeline.ChainOutput, policypipeline.ChainForward,
		policypipeline.ChainPrerouting, policypipeline.ChainPostrouting:
		return true
	default:
		return false
	}
}

// RestoreFormat renders the iptables-restore variant: a single `*table`
// block with `:chain policy [packets:bytes]` headers and a `COMMIT`
// trailer (spec.md §4.4).
func (e *PolicyEmitter) RestoreFormat() string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s\n", e.table)
	for _, chain := range e.order {
		if !isBuiltinChain(chain) {
			continue
		}
		fmt.Fprintf(&b, ":%s ACCEPT [0:0]\n", chain)
	}
	for _, chain := range sortedNewChains(e) {
		fmt.Fprintf(&b, ":%s - [0:0]\n", chain)
	}
	for _, chain := range e.order {
		if e.ctx.ChainUsage(chain) == 0 && !isBuiltinChain(chain) {
			continue
		}
		for _, line := range e.chains[chain] {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	b.WriteString("COMMIT\n")
	return b.String()
}

// RestoreWithEcho renders the iptables-restore-with-echo variant: every
// rule line is instead wrapped in a shell `echo` so the surrounding script
// can substitute runtime variables (dynamic interface names, resolved DNS
// addresses) before feeding the result to iptables-restore (spec.md §4.4).
func (e *PolicyEmitter) RestoreWithEcho() string {
	var b strings.Builder
	fmt.Fprintf(&b, "echo '*%s'\n", e.table)
	for _, chain := range e.order {
		if !isBuiltinChain(chain) {
			continue
		}
		fmt.Fprintf(&b, "echo ':%s ACCEPT [0:0]'\n", chain)
	}
	for _, chain := range sortedNewChains(e) {
		fmt.Fprintf(&b, "echo ':%s - [0:0]'\n", chain)
	}
	for _, chain := range e.order {
		if e.ctx.ChainUsage(chain) == 0 && !isBuiltinChain(chain) {
			continue
		}
		for _, line := range e.chains[chain] {
			fmt.Fprintf(&b, "echo \"%s\"\n", escapeForEcho(line))
		}
	}
	b.WriteString("echo 'COMMIT'\n")
	return b.String()
}

func escapeForEcho(line string) string {
	return strings.ReplaceAll(line, `"`, `\"`)
}

// NATEmitter mirrors PolicyEmitter for the NAT rule-set; natpipeline.Rule
// carries the original-side match and translated-side target parameters
// instead of policypipeline.Rule's action/target split.
type NATEmitter struct {
	ctx    *compilectx.Context
	chains map[string][]string
	order  []string
}

// NewNATEmitter creates an emitter for one firewall's NAT table compile.
func NewNATEmitter(ctx *compilectx.Context) *NATEmitter {
	return &NATEmitter{ctx: ctx, chains: make(map[string][]string)}
}

// Add renders one fully atomic NAT rule and files it under its chain.
func (e *NATEmitter) Add(r *natpipeline.Rule) {
	chain := ChainName(r.Chain)
	if _, seen := e.chains[chain]; !seen {
		e.order = append(e.order, chain)
	}
	e.chains[chain] = append(e.chains[chain], renderNATRule(e.ctx, r, chain))
}

func renderNATRule(ctx *compilectx.Context, r *natpipeline.Rule, chain string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "-A %s", chain)

	if h, single := r.InboundInterface.Single(); single {
		if o, ok := ctx.Store.Get(h); ok {
			neg := ""
			if r.SingleObjNegIn {
				neg = "! "
			}
			fmt.Fprintf(&b, " %s-i %s", neg, o.Name)
		}
	}
	if h, single := r.OutboundInterface.Single(); single {
		if o, ok := ctx.Store.Get(h); ok {
			neg := ""
			if r.SingleObjNegOut {
				neg = "! "
			}
			fmt.Fprintf(&b, " %s-o %s", neg, o.Name)
		}
	}
	writeProtocol(&b, ctx, r.OriginalService)
	writeAddress(&b, "-s", r.OriginalSource, false)
	writeServicePorts(&b, ctx, r.OriginalService, "--sport", true, false)
	writeAddress(&b, "-d", r.OriginalDestination, false)
	writeServicePorts(&b, ctx, r.OriginalService, "--dport", false, false)

	if r.Target != "" {
		fmt.Fprintf(&b, " -j %s", r.Target)
		writeNATTargetParams(&b, ctx, r)
	}
	return b.String()
}

func writeNATTargetParams(b *strings.Builder, ctx *compilectx.Context, r *natpipeline.Rule) {
	switch r.Target {
	case "SNAT":
		if h, single := r.TranslatedSource.Single(); single {
			fmt.Fprintf(b, " --to-source %s", addrRef(h))
		}
	case "DNAT":
		if h, single := r.TranslatedDestination.Single(); single {
			fmt.Fprintf(b, " --to-destination %s", addrRef(h))
		}
	case "REDIRECT":
		if r.RedirectPort != 0 {
			fmt.Fprintf(b, " --to-ports %d", r.RedirectPort)
		}
	}
}

func addrRef(h objectmodel.Handle) string {
	return fmt.Sprintf("$OBJ_%d", h)
}

// RenderChains returns the NAT emitter's body lines for every non-empty
// chain, in first-use order.
func (e *NATEmitter) RenderChains() []string {
	var out []string
	for _, chain := range e.order {
		out = append(out, e.chains[chain]...)
	}
	return out
}
