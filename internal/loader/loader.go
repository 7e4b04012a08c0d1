// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package loader decodes an HCL v2 source document (SPEC_FULL.md §10.1)
// into an objectmodel.Store. Blocks reference each other by name; the
// loader resolves every name to a Handle in a second pass, after every
// block has been allocated, so forward references (a rule in one ruleset
// naming a group declared later in the file) work the same as backward
// ones. Policy-inheritance (RuleSet.InheritsFrom, SPEC_FULL.md §12) is
// flattened here too, before the pipeline ever sees the graph.
package loader

import (
	"fmt"
	"net"
	"os"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"grimm.is/flywall/internal/objectmodel"
)

// Load reads and decodes the HCL document at path and builds a Store from it.
func Load(path string) (*objectmodel.Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loader: read %s: %w", path, err)
	}
	return LoadBytes(path, data)
}

// LoadBytes decodes an HCL document already in memory (filename is used
// only for diagnostic positions).
func LoadBytes(filename string, data []byte) (*objectmodel.Store, error) {
	doc, err := Decode(filename, data)
	if err != nil {
		return nil, err
	}
	return Build(doc)
}

// Decode parses data into a Document without building a Store, for
// callers that want to inspect or transform the raw declarations first.
func Decode(filename string, data []byte) (*Document, error) {
	var doc Document
	if err := hclsimple.Decode(filename, data, nil, &doc); err != nil {
		return nil, fmt.Errorf("loader: decode %s: %w", filename, err)
	}
	return &doc, nil
}

// builder carries the name->Handle map used to resolve cross-references
// across the whole two-pass build.
type builder struct {
	store *objectmodel.Store
	byName map[string]objectmodel.Handle
}

// Build resolves a decoded Document into a fresh objectmodel.Store.
func Build(doc *Document) (*objectmodel.Store, error) {
	b := &builder{store: objectmodel.NewStore(), byName: make(map[string]objectmodel.Handle)}

	if err := b.allocPass(doc); err != nil {
		return nil, err
	}
	if err := b.resolvePass(doc); err != nil {
		return nil, err
	}
	if err := b.flattenInheritance(); err != nil {
		return nil, err
	}
	return b.store, nil
}

func (b *builder) declare(name string, h objectmodel.Handle) error {
	if _, exists := b.byName[name]; exists {
		return fmt.Errorf("loader: duplicate object name %q", name)
	}
	b.byName[name] = h
	return nil
}

func (b *builder) handle(name string) (objectmodel.Handle, error) {
	if name == "" {
		return objectmodel.InvalidHandle, nil
	}
	h, ok := b.byName[name]
	if !ok {
		return objectmodel.InvalidHandle, fmt.Errorf("loader: reference to undeclared object %q", name)
	}
	return h, nil
}

func (b *builder) element(names []string, negate bool) (objectmodel.Element, error) {
	if len(names) == 0 {
		return objectmodel.Element{}, nil
	}
	objs := make([]objectmodel.Handle, 0, len(names))
	for _, n := range names {
		h, err := b.handle(n)
		if err != nil {
			return objectmodel.Element{}, err
		}
		objs = append(objs, h)
	}
	return objectmodel.Element{Objects: objs, Negation: negate}, nil
}

// allocPass allocates every named block as a Store object (without yet
// resolving any cross-references), so pass two can resolve references in
// any declaration order.
func (b *builder) allocPass(doc *Document) error {
	for _, a := range doc.Addresses {
		k, err := addressKind(a.Kind)
		if err != nil {
			return fmt.Errorf("loader: address %q: %w", a.Name, err)
		}
		o := b.store.Alloc(k, a.Name)
		if err := applyAddress(o, a); err != nil {
			return fmt.Errorf("loader: address %q: %w", a.Name, err)
		}
		if err := b.declare(a.Name, o.ID); err != nil {
			return err
		}
	}
	for _, s := range doc.Services {
		k, err := serviceKind(s.Kind)
		if err != nil {
			return fmt.Errorf("loader: service %q: %w", s.Name, err)
		}
		o := b.store.Alloc(k, s.Name)
		o.Service = &objectmodel.ServiceData{
			Protocol: s.Protocol, SrcPortFrom: s.SrcPortFrom, SrcPortTo: s.SrcPortTo,
			DstPortFrom: s.DstPortFrom, DstPortTo: s.DstPortTo,
			TCPFlagsMask: s.TCPFlagsMask, TCPFlagsSet: s.TCPFlagsSet, Established: s.Established,
			ICMPType: s.ICMPType, ICMPCode: s.ICMPCode, PlatformCode: s.PlatformCode,
			Mark: uint32(s.Mark), UID: s.UID,
		}
		if err := b.declare(s.Name, o.ID); err != nil {
			return err
		}
	}
	for _, iv := range doc.Intervals {
		o := b.store.Alloc(objectmodel.KindInterval, iv.Name)
		mask, err := daysMask(iv.Days)
		if err != nil {
			return fmt.Errorf("loader: interval %q: %w", iv.Name, err)
		}
		o.Interval = &objectmodel.IntervalData{
			StartDate: iv.StartDate, EndDate: iv.EndDate,
			StartTime: iv.StartTime, EndTime: iv.EndTime, DaysMask: mask,
		}
		if err := b.declare(iv.Name, o.ID); err != nil {
			return err
		}
	}
	for _, g := range doc.Groups {
		k, err := groupKind(g.Kind)
		if err != nil {
			return fmt.Errorf("loader: group %q: %w", g.Name, err)
		}
		o := b.store.Alloc(k, g.Name)
		o.Group = &objectmodel.GroupData{DynamicType: g.DynamicType, DynamicMatch: g.DynamicMatch}
		if err := b.declare(g.Name, o.ID); err != nil {
			return err
		}
	}
	for _, i := range doc.Interfaces {
		o := b.store.Alloc(objectmodel.KindInterface, i.Name)
		o.Iface = &objectmodel.InterfaceData{
			Loopback: i.Loopback, Dynamic: i.Dynamic, Unnumbered: i.Unnumbered,
			DedicatedFailover: i.DedicatedFailover, Management: i.Management,
			BridgePort: i.BridgePort, DeviceType: i.DeviceType,
		}
		if err := b.declare(i.Name, o.ID); err != nil {
			return err
		}
	}
	for _, f := range doc.Firewalls {
		o := b.store.Alloc(objectmodel.KindFirewall, f.Name)
		o.HostFW = &objectmodel.HostData{Platform: f.Platform, HostOS: f.HostOS}
		if err := b.declare(f.Name, o.ID); err != nil {
			return err
		}
	}
	for _, c := range doc.Clusters {
		o := b.store.Alloc(objectmodel.KindCluster, c.Name)
		o.HostFW = &objectmodel.HostData{}
		if err := b.declare(c.Name, o.ID); err != nil {
			return err
		}
	}
	for _, rs := range doc.PolicySets {
		fam, err := parseFamily(rs.Family)
		if err != nil {
			return fmt.Errorf("loader: policy_ruleset %q: %w", rs.Name, err)
		}
		o := b.store.Alloc(objectmodel.KindRuleSetPolicy, rs.Name)
		o.RuleSet = &objectmodel.RuleSetData{Family: fam, Top: rs.Top}
		if err := b.declare(rs.Name, o.ID); err != nil {
			return err
		}
	}
	for _, rs := range doc.NATSets {
		fam, err := parseFamily(rs.Family)
		if err != nil {
			return fmt.Errorf("loader: nat_ruleset %q: %w", rs.Name, err)
		}
		o := b.store.Alloc(objectmodel.KindRuleSetNAT, rs.Name)
		o.RuleSet = &objectmodel.RuleSetData{Family: fam, Top: rs.Top}
		if err := b.declare(rs.Name, o.ID); err != nil {
			return err
		}
	}
	for _, rs := range doc.RoutingSets {
		fam, err := parseFamily(rs.Family)
		if err != nil {
			return fmt.Errorf("loader: routing_ruleset %q: %w", rs.Name, err)
		}
		o := b.store.Alloc(objectmodel.KindRuleSetRouting, rs.Name)
		o.RuleSet = &objectmodel.RuleSetData{Family: fam, Top: rs.Top}
		if err := b.declare(rs.Name, o.ID); err != nil {
			return err
		}
	}
	return nil
}

// resolvePass fills in every cross-reference now that every name has a Handle.
func (b *builder) resolvePass(doc *Document) error {
	for _, g := range doc.Groups {
		o := b.store.MustGet(b.byName[g.Name])
		for _, m := range g.Members {
			h, err := b.handle(m)
			if err != nil {
				return fmt.Errorf("loader: group %q: %w", g.Name, err)
			}
			o.Group.Members = append(o.Group.Members, h)
		}
	}
	for _, i := range doc.Interfaces {
		o := b.store.MustGet(b.byName[i.Name])
		for _, a := range i.Addresses {
			h, err := b.handle(a)
			if err != nil {
				return fmt.Errorf("loader: interface %q: %w", i.Name, err)
			}
			o.Iface.Addresses = append(o.Iface.Addresses, h)
		}
		if i.ParentInterface != "" {
			h, err := b.handle(i.ParentInterface)
			if err != nil {
				return fmt.Errorf("loader: interface %q: %w", i.Name, err)
			}
			o.Iface.ParentInterface = h
		}
	}
	for _, f := range doc.Firewalls {
		o := b.store.MustGet(b.byName[f.Name])
		if err := resolveHandles(b, f.Interfaces, &o.HostFW.Interfaces); err != nil {
			return fmt.Errorf("loader: firewall %q: %w", f.Name, err)
		}
		if err := resolveHandles(b, f.Policies, &o.HostFW.Policies); err != nil {
			return fmt.Errorf("loader: firewall %q: %w", f.Name, err)
		}
		if err := resolveHandles(b, f.NATs, &o.HostFW.NATs); err != nil {
			return fmt.Errorf("loader: firewall %q: %w", f.Name, err)
		}
		if err := resolveHandles(b, f.Routings, &o.HostFW.Routings); err != nil {
			return fmt.Errorf("loader: firewall %q: %w", f.Name, err)
		}
		if f.ClusterOf != "" {
			h, err := b.handle(f.ClusterOf)
			if err != nil {
				return fmt.Errorf("loader: firewall %q: %w", f.Name, err)
			}
			o.HostFW.ClusterOf = h
			if cl, ok := b.store.Get(h); ok {
				cl.HostFW.Members = append(cl.HostFW.Members, o.ID)
			}
		}
		for _, ih := range o.HostFW.Interfaces {
			if iface, ok := b.store.Get(ih); ok && iface.Iface != nil {
				iface.Iface.OwnerFirewall = o.ID
			}
		}
	}
	for _, c := range doc.Clusters {
		o := b.store.MustGet(b.byName[c.Name])
		for _, m := range c.Members {
			h, err := b.handle(m)
			if err != nil {
				return fmt.Errorf("loader: cluster %q: %w", c.Name, err)
			}
			already := false
			for _, existing := range o.HostFW.Members {
				if existing == h {
					already = true
					break
				}
			}
			if !already {
				o.HostFW.Members = append(o.HostFW.Members, h)
			}
		}
		if c.StateSyncGroup != "" {
			h, err := b.handle(c.StateSyncGroup)
			if err != nil {
				return fmt.Errorf("loader: cluster %q: %w", c.Name, err)
			}
			o.HostFW.StateSyncGroup = h
		}
	}

	for _, rs := range doc.PolicySets {
		o := b.store.MustGet(b.byName[rs.Name])
		if rs.InheritsFrom != "" {
			h, err := b.handle(rs.InheritsFrom)
			if err != nil {
				return fmt.Errorf("loader: policy_ruleset %q: %w", rs.Name, err)
			}
			o.RuleSet.InheritsFrom = h
		}
		for _, rb := range rs.Rules {
			ruleO, err := b.buildPolicyRule(rb)
			if err != nil {
				return fmt.Errorf("loader: policy_ruleset %q: %w", rs.Name, err)
			}
			b.store.AddChild(o, ruleO)
			o.RuleSet.Rules = append(o.RuleSet.Rules, ruleO.ID)
		}
	}
	for _, rs := range doc.NATSets {
		o := b.store.MustGet(b.byName[rs.Name])
		if rs.InheritsFrom != "" {
			h, err := b.handle(rs.InheritsFrom)
			if err != nil {
				return fmt.Errorf("loader: nat_ruleset %q: %w", rs.Name, err)
			}
			o.RuleSet.InheritsFrom = h
		}
		for _, rb := range rs.Rules {
			ruleO, err := b.buildNATRule(rb)
			if err != nil {
				return fmt.Errorf("loader: nat_ruleset %q: %w", rs.Name, err)
			}
			b.store.AddChild(o, ruleO)
			o.RuleSet.Rules = append(o.RuleSet.Rules, ruleO.ID)
		}
	}
	for _, rs := range doc.RoutingSets {
		o := b.store.MustGet(b.byName[rs.Name])
		if rs.InheritsFrom != "" {
			h, err := b.handle(rs.InheritsFrom)
			if err != nil {
				return fmt.Errorf("loader: routing_ruleset %q: %w", rs.Name, err)
			}
			o.RuleSet.InheritsFrom = h
		}
		for _, rb := range rs.Rules {
			ruleO, err := b.buildRoutingRule(rb)
			if err != nil {
				return fmt.Errorf("loader: routing_ruleset %q: %w", rs.Name, err)
			}
			b.store.AddChild(o, ruleO)
			o.RuleSet.Rules = append(o.RuleSet.Rules, ruleO.ID)
		}
	}
	return nil
}

func resolveHandles(b *builder, names []string, out *[]objectmodel.Handle) error {
	for _, n := range names {
		h, err := b.handle(n)
		if err != nil {
			return err
		}
		*out = append(*out, h)
	}
	return nil
}

func (b *builder) buildPolicyRule(rb PolicyRuleBlock) (*objectmodel.Object, error) {
	o := b.store.Alloc(objectmodel.KindRulePolicy, rb.Label)
	action, err := parseAction(rb.Action)
	if err != nil {
		return nil, err
	}
	source, err := b.element(rb.Source, rb.SourceNegate)
	if err != nil {
		return nil, err
	}
	dest, err := b.element(rb.Destination, rb.DestinationNegate)
	if err != nil {
		return nil, err
	}
	svc, err := b.element(rb.Service, rb.ServiceNegate)
	if err != nil {
		return nil, err
	}
	iface, err := b.element(rb.Interface, rb.InterfaceNegate)
	if err != nil {
		return nil, err
	}
	tm, err := b.element(rb.Time, false)
	if err != nil {
		return nil, err
	}
	branch, err := b.handle(rb.BranchTo)
	if err != nil {
		return nil, err
	}
	o.PolicyRule = &objectmodel.PolicyRule{
		Label: rb.Label, Disabled: rb.Disabled, Comment: rb.Comment,
		Source: source, Destination: dest, Service: svc, Interface: iface, Time: tm,
		Direction: parseDirection(rb.Direction),
		Action:    action, RejectKind: rb.RejectKind, AccountChain: rb.AccountChain,
		CustomRaw: rb.CustomRaw, BranchTo: branch,
		Options: objectmodel.RuleOptions{
			Log: rb.Log, Stateless: rb.Stateless, Tagging: rb.Tagging,
			Classification: rb.Classification, Routing: rb.Routing,
			MarkConnection: rb.MarkConnection, LogPrefix: rb.LogPrefix, Limit: rb.Limit,
		},
	}
	return o, nil
}

func (b *builder) buildNATRule(rb NATRuleBlock) (*objectmodel.Object, error) {
	o := b.store.Alloc(objectmodel.KindRuleNAT, rb.Label)
	action, err := parseAction(rb.Action)
	if err != nil {
		return nil, err
	}
	osrc, err := b.element(rb.OriginalSource, false)
	if err != nil {
		return nil, err
	}
	odst, err := b.element(rb.OriginalDestination, false)
	if err != nil {
		return nil, err
	}
	osvc, err := b.element(rb.OriginalService, false)
	if err != nil {
		return nil, err
	}
	tsrc, err := b.element(rb.TranslatedSource, false)
	if err != nil {
		return nil, err
	}
	tdst, err := b.element(rb.TranslatedDestination, false)
	if err != nil {
		return nil, err
	}
	tsvc, err := b.element(rb.TranslatedService, false)
	if err != nil {
		return nil, err
	}
	inIf, err := b.element(rb.InboundInterface, false)
	if err != nil {
		return nil, err
	}
	outIf, err := b.element(rb.OutboundInterface, false)
	if err != nil {
		return nil, err
	}
	branch, err := b.handle(rb.BranchTo)
	if err != nil {
		return nil, err
	}
	o.NATRule = &objectmodel.NATRule{
		Label: rb.Label, Disabled: rb.Disabled, Comment: rb.Comment,
		OriginalSource: osrc, OriginalDestination: odst, OriginalService: osvc,
		TranslatedSource: tsrc, TranslatedDestination: tdst, TranslatedService: tsvc,
		InboundInterface: inIf, OutboundInterface: outIf,
		Action: action, Masquerade: rb.Masquerade, BranchTo: branch,
		Options: objectmodel.RuleOptions{
			Log: rb.Log, Stateless: rb.Stateless, MarkConnection: rb.MarkConnection,
			LogPrefix: rb.LogPrefix, Limit: rb.Limit,
		},
	}
	return o, nil
}

func (b *builder) buildRoutingRule(rb RoutingRuleBlock) (*objectmodel.Object, error) {
	o := b.store.Alloc(objectmodel.KindRuleRouting, rb.Label)
	dest, err := b.element(rb.Destination, false)
	if err != nil {
		return nil, err
	}
	gw, err := b.element(rb.Gateway, false)
	if err != nil {
		return nil, err
	}
	iface, err := b.element(rb.Interface, false)
	if err != nil {
		return nil, err
	}
	o.RoutingRule = &objectmodel.RoutingRule{
		Label: rb.Label, Disabled: rb.Disabled, Comment: rb.Comment,
		Destination: dest, Gateway: gw, Interface: iface, Metric: rb.Metric,
		Options: objectmodel.RuleOptions{Log: rb.Log, Limit: rb.Limit},
	}
	return o, nil
}

// flattenInheritance prepends each rule set's inherited-from rule list to
// its own, recursively, so that by the time a compile runs
// RuleSetData.Rules is already the fully flattened list (SPEC_FULL.md
// §12). Cyclic inheritance aborts the load.
func (b *builder) flattenInheritance() error {
	state := make(map[objectmodel.Handle]int) // 0=unvisited 1=visiting 2=done
	var flatten func(h objectmodel.Handle) error
	flatten = func(h objectmodel.Handle) error {
		if state[h] == 2 {
			return nil
		}
		if state[h] == 1 {
			return fmt.Errorf("loader: cyclic rule set inheritance at %q", b.store.MustGet(h).Name)
		}
		state[h] = 1
		o := b.store.MustGet(h)
		if o.RuleSet.InheritsFrom != objectmodel.InvalidHandle {
			parent := o.RuleSet.InheritsFrom
			if err := flatten(parent); err != nil {
				return err
			}
			parentRules := b.store.MustGet(parent).RuleSet.Rules
			o.RuleSet.Rules = append(append([]objectmodel.Handle(nil), parentRules...), o.RuleSet.Rules...)
		}
		state[h] = 2
		return nil
	}
	for _, o := range b.store.All() {
		if o.RuleSet != nil {
			if err := flatten(o.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func addressKind(s string) (objectmodel.Kind, error) {
	switch s {
	case "ipv4":
		return objectmodel.KindAddressIPv4, nil
	case "ipv6":
		return objectmodel.KindAddressIPv6, nil
	case "network":
		return objectmodel.KindNetwork, nil
	case "network_ipv6":
		return objectmodel.KindNetworkIPv6, nil
	case "range":
		return objectmodel.KindAddressRange, nil
	case "table":
		return objectmodel.KindAddressTable, nil
	case "dns":
		return objectmodel.KindDNSName, nil
	case "mac":
		return objectmodel.KindPhysicalAddress, nil
	default:
		return objectmodel.KindUnknown, fmt.Errorf("unknown address kind %q", s)
	}
}

func applyAddress(o *objectmodel.Object, a AddressBlock) error {
	data := &objectmodel.AddressData{
		TableFile: a.TableFile, LoadAtRun: a.LoadAtRun,
		Hostname: a.Hostname, ResolveRun: a.ResolveAtRun, Country: a.Country,
	}
	switch o.Kind {
	case objectmodel.KindNetwork, objectmodel.KindNetworkIPv6:
		ip, ipnet, err := net.ParseCIDR(a.IP)
		if err != nil {
			return fmt.Errorf("parse network %q: %w", a.IP, err)
		}
		data.IP = ip
		data.Mask = ipnet.Mask
	case objectmodel.KindAddressRange:
		data.IP = net.ParseIP(a.IP)
		data.RangeEnd = net.ParseIP(a.RangeEnd)
	case objectmodel.KindPhysicalAddress:
		mac, err := net.ParseMAC(a.MAC)
		if err != nil {
			return fmt.Errorf("parse MAC %q: %w", a.MAC, err)
		}
		data.MAC = mac
	case objectmodel.KindAddressIPv4, objectmodel.KindAddressIPv6:
		if a.IP != "" {
			data.IP = net.ParseIP(a.IP)
		}
	}
	o.Address = data
	return nil
}

func serviceKind(s string) (objectmodel.Kind, error) {
	switch s {
	case "tcp":
		return objectmodel.KindServiceTCP, nil
	case "udp":
		return objectmodel.KindServiceUDP, nil
	case "icmp":
		return objectmodel.KindServiceICMP, nil
	case "icmpv6":
		return objectmodel.KindServiceICMPv6, nil
	case "ip":
		return objectmodel.KindServiceIP, nil
	case "custom":
		return objectmodel.KindServiceCustom, nil
	case "tag":
		return objectmodel.KindServiceTag, nil
	case "user":
		return objectmodel.KindServiceUser, nil
	default:
		return objectmodel.KindUnknown, fmt.Errorf("unknown service kind %q", s)
	}
}

func groupKind(s string) (objectmodel.Kind, error) {
	switch s {
	case "object":
		return objectmodel.KindGroupObject, nil
	case "service":
		return objectmodel.KindGroupService, nil
	case "interval":
		return objectmodel.KindGroupInterval, nil
	case "dynamic":
		return objectmodel.KindGroupDynamic, nil
	default:
		return objectmodel.KindUnknown, fmt.Errorf("unknown group kind %q", s)
	}
}

func parseFamily(s string) (objectmodel.Family, error) {
	switch s {
	case "", "both":
		return objectmodel.FamilyBoth, nil
	case "ipv4":
		return objectmodel.FamilyIPv4, nil
	case "ipv6":
		return objectmodel.FamilyIPv6, nil
	default:
		return 0, fmt.Errorf("unknown family %q", s)
	}
}

func parseDirection(s string) objectmodel.Direction {
	switch s {
	case "inbound":
		return objectmodel.DirectionInbound
	case "outbound":
		return objectmodel.DirectionOutbound
	default:
		return objectmodel.DirectionBoth
	}
}

func parseAction(s string) (objectmodel.Action, error) {
	switch s {
	case "", "accept":
		return objectmodel.ActionAccept, nil
	case "deny":
		return objectmodel.ActionDeny, nil
	case "reject":
		return objectmodel.ActionReject, nil
	case "return":
		return objectmodel.ActionReturn, nil
	case "continue":
		return objectmodel.ActionContinue, nil
	case "accounting":
		return objectmodel.ActionAccounting, nil
	case "pipe":
		return objectmodel.ActionPipe, nil
	case "custom":
		return objectmodel.ActionCustom, nil
	case "branch":
		return objectmodel.ActionBranch, nil
	case "tag":
		return objectmodel.ActionTag, nil
	case "classify":
		return objectmodel.ActionClassify, nil
	case "route":
		return objectmodel.ActionRoute, nil
	case "modify":
		return objectmodel.ActionModify, nil
	case "scrub":
		return objectmodel.ActionScrub, nil
	case "skip":
		return objectmodel.ActionSkip, nil
	default:
		return 0, fmt.Errorf("unknown action %q", s)
	}
}

var weekdays = map[string]uint8{
	"sun": 1 << 0, "mon": 1 << 1, "tue": 1 << 2, "wed": 1 << 3,
	"thu": 1 << 4, "fri": 1 << 5, "sat": 1 << 6,
}

func daysMask(days []string) (uint8, error) {
	var mask uint8
	for _, d := range days {
		bit, ok := weekdays[d]
		if !ok {
			return 0, fmt.Errorf("unknown weekday %q", d)
		}
		mask |= bit
	}
	return mask, nil
}
