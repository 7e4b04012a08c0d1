// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policypipeline

import (
	"net"

	"grimm.is/flywall/internal/compilectx"
	"grimm.is/flywall/internal/diag"
	"grimm.is/flywall/internal/objectmodel"
	"grimm.is/flywall/internal/pipeline"
)

// stageGroupExpand implements phase 10 (spec.md §4.2-10): recursively
// expand object/service/interval groups filtered by family, deduplicated by
// identity, sorted for determinism.
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
				return true, diag.NewAbort("group-expand", r.Position, r.Label, "%v", err)
			}
			el.Objects = expanded
		}
		expanded, err := ctx.Store.ExpandGroups(r.Service.Objects, objectmodel.FamilyBoth)
		if err != nil {
			return true, diag.NewAbort("group-expand", r.Position, r.Label, "%v", err)
		}
		r.Service.Objects = expanded
		push(r)
		return false, nil
	}
}

// stageAnySplit implements phase 11 (spec.md §4.2-11): when
// firewall_is_part_of_any_and_networks is set, "any" (or singly-negated)
// Source with non-inbound direction gets an additional OUTPUT-chain copy;
// "any" Destination with non-outbound direction gets an additional
// INPUT-chain copy.
func stageAnySplit(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		push(r)
		if !ctx.Options.FirewallIsPartOfAnyAndNetworks || r.Chain != "" || r.WildcardIface {
			return false, nil
		}
		srcAny := r.Source.IsAny() || r.SingleObjNegSrc
		dstAny := r.Destination.IsAny() || r.SingleObjNegDst
		if srcAny && r.Direction != objectmodel.DirectionInbound {
			out := r.Clone()
			out.Chain = ChainOutput
			out.Destination, out.Service, out.Interface = objectmodel.Element{}, objectmodel.Element{}, objectmodel.Element{}
			push(out)
		}
		if dstAny && r.Direction != objectmodel.DirectionOutbound {
			in := r.Clone()
			in.Chain = ChainInput
			in.Source, in.Service, in.Interface = objectmodel.Element{}, objectmodel.Element{}, objectmodel.Element{}
			push(in)
		}
		return false, nil
	}
}

// stageMangleChainAssign implements phase 12 (spec.md §4.2-12): mangle
// rules get PREROUTING (inbound) or POSTROUTING (outbound); tag+route
// combinations force POSTROUTING.
func stageMangleChainAssign(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		if ctx.Table == compilectx.TableMangle && r.Chain == "" {
			if r.OriginatedWithTagging && r.OriginatedWithRouting {
				r.Chain = ChainPostrouting
			} else if r.Direction == objectmodel.DirectionOutbound {
				r.Chain = ChainPostrouting
			} else {
				r.Chain = ChainPrerouting
			}
		}
		push(r)
		return false, nil
	}
}

// stageAddressExpand implements phase 13 (spec.md §4.2-13): address ranges
// become minimal /n networks for IPv4 (kept as ranges for IPv6); host and
// firewall objects expand to their interface addresses.
func stageAddressExpand(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		r.Source.Objects = expandAddresses(ctx, r.Source.Objects, r)
		r.Destination.Objects = expandAddresses(ctx, r.Destination.Objects, r)
		push(r)
		return false, nil
	}
}

func expandAddresses(ctx *compilectx.Context, objs []objectmodel.Handle, r *Rule) []objectmodel.Handle {
	var out []objectmodel.Handle
	for _, h := range objs {
		o, ok := ctx.Store.Get(h)
		if !ok {
			out = append(out, h)
			continue
		}
		switch o.Kind {
		case objectmodel.KindAddressRange:
			if ctx.Family == objectmodel.FamilyIPv6 {
				out = append(out, h) // kept as range for -m iprange
				continue
			}
			out = append(out, expandRangeToNetworks(ctx, o)...)
		case objectmodel.KindHost, objectmodel.KindFirewall, objectmodel.KindCluster:
			out = append(out, hostInterfaceAddresses(ctx, o, r)...)
		default:
			out = append(out, h)
		}
	}
	return out
}

// expandRangeToNetworks converts an IPv4 address range into the minimal set
// of CIDR networks that exactly covers it.
func expandRangeToNetworks(ctx *compilectx.Context, rangeObj *objectmodel.Object) []objectmodel.Handle {
	if rangeObj.Address == nil {
		return nil
	}
	start := rangeObj.Address.IP.To4()
	end := rangeObj.Address.RangeEnd.To4()
	if start == nil || end == nil {
		return []objectmodel.Handle{rangeObj.ID}
	}
	var out []objectmodel.Handle
	s := ipToUint32(start)
	e := ipToUint32(end)
	for s <= e {
		maxSize := 32
		for maxSize > 0 {
			blockSize := uint32(1) << uint(32-(maxSize-1))
			if s%blockSize != 0 || s+blockSize-1 > e {
				break
			}
			maxSize--
		}
		netObj := ctx.Store.Alloc(objectmodel.KindNetwork, rangeObj.Name+"_net")
		netObj.Address = &objectmodel.AddressData{IP: uint32ToIP(s), Mask: net.CIDRMask(maxSize, 32)}
		out = append(out, netObj.ID)
		blockSize := uint32(1) << uint(32-maxSize)
		if e-s+1 < blockSize {
			break
		}
		s += blockSize
		if s == 0 {
			break
		}
	}
	return out
}

func ipToUint32(ip net.IP) uint32 {
	ip = ip.To4()
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}

func uint32ToIP(v uint32) net.IP {
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func hostInterfaceAddresses(ctx *compilectx.Context, host *objectmodel.Object, r *Rule) []objectmodel.Handle {
	if host.HostFW == nil {
		return nil
	}
	var out []objectmodel.Handle
	onLoopback := isLoopback(ctx, r.Interface)
	for _, ih := range host.HostFW.Interfaces {
		iface, ok := ctx.Store.Get(ih)
		if !ok || iface.Iface == nil {
			continue
		}
		if iface.Iface.Loopback && !onLoopback {
			continue
		}
		if iface.Iface.BridgePort {
			continue
		}
		if !ctx.Store.MatchesFamily(iface, ctx.Family) {
			continue
		}
		out = append(out, iface.Iface.Addresses...)
	}
	return out
}
