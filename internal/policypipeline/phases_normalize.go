// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policypipeline

import (
	"grimm.is/flywall/internal/compilectx"
	"grimm.is/flywall/internal/diag"
	"grimm.is/flywall/internal/objectmodel"
	"grimm.is/flywall/internal/pipeline"
)

// stageInterfaceNormalize implements phase 4 (spec.md §4.2-4): expand
// interface groups, replace cluster interfaces with the owning member's
// real interface, and resolve interface-element negation.
func stageInterfaceNormalize(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}

		expanded, err := ctx.Store.ExpandGroups(r.Interface.Objects, objectmodel.FamilyBoth)
		if err != nil {
			return true, diag.NewAbort("interface-normalize", r.Position, r.Label, "%v", err)
		}
		r.Interface.Objects = resolveClusterInterfaces(ctx, expanded)

		if r.Interface.Negation {
			if len(r.Interface.Objects) == 1 {
				r.SingleObjNegItf = true
				r.Interface.Negation = false
			} else if len(r.Interface.Objects) > 1 {
				r.Interface.Objects = complementInterfaces(ctx, r.Interface.Objects)
				r.Interface.Negation = false
			}
		}
		push(r)
		return false, nil
	}
}

func resolveClusterInterfaces(ctx *compilectx.Context, ifaces []objectmodel.Handle) []objectmodel.Handle {
	out := make([]objectmodel.Handle, 0, len(ifaces))
	for _, h := range ifaces {
		o, ok := ctx.Store.Get(h)
		if !ok {
			continue
		}
		if o.Iface != nil && o.Iface.OwnerFirewall != objectmodel.InvalidHandle {
			if owner, ok := ctx.Store.Get(o.Iface.OwnerFirewall); ok && owner.Kind == objectmodel.KindCluster {
				// Resolve to the compiling firewall's same-named real interface.
				if real, ok := ctx.InterfaceByName(o.Name); ok {
					out = append(out, real.ID)
					continue
				}
			}
		}
		out = append(out, h)
	}
	return out
}

// complementInterfaces returns every interface of the compiling firewall
// except those named, excluding loopback and bridge-port interfaces; bridge
// ports are excluded whether or not the firewall is bridging (spec.md §4.2-4).
func complementInterfaces(ctx *compilectx.Context, excluded []objectmodel.Handle) []objectmodel.Handle {
	ex := make(map[objectmodel.Handle]bool, len(excluded))
	for _, h := range excluded {
		ex[h] = true
	}
	var out []objectmodel.Handle
	for _, iface := range ctx.Interfaces() {
		if ex[iface.ID] {
			continue
		}
		if iface.Iface != nil && (iface.Iface.Loopback || iface.Iface.BridgePort) {
			continue
		}
		out = append(out, iface.ID)
	}
	return out
}

// stageDirectionNormalize implements phase 5 (spec.md §4.2-5).
func stageDirectionNormalize() pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}

		ifaceAny := r.Interface.IsAny()
		switch {
		case ifaceAny && r.Direction == objectmodel.DirectionBoth:
			r.IfaceIsNil = true
			push(r)
		case ifaceAny:
			r.WildcardIface = true
			push(r)
		case !ifaceAny && r.Direction == objectmodel.DirectionBoth:
			in := r.Clone()
			in.Direction = objectmodel.DirectionInbound
			out := r.Clone()
			out.Direction = objectmodel.DirectionOutbound
			push(in)
			push(out)
		default:
			push(r)
		}
		return false, nil
	}
}

// stageGroupValidation implements phase 6 (spec.md §4.2-6).
func stageGroupValidation(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}

		elements := []*objectmodel.Element{&r.Source, &r.Destination, &r.Service, &r.Interface}
		for _, el := range elements {
			for _, h := range el.Objects {
				o, got := ctx.Store.Get(h)
				if !got || !o.Kind.IsGroup() {
					continue
				}
				if cyc := ctx.Store.DetectCycle(h); cyc != nil {
					return true, diag.NewAbort("group-validation", r.Position, r.Label, "recursive group membership: %v", cyc)
				}
				if o.Group != nil && len(o.Group.Members) == 0 {
					if !ctx.Options.IgnoreEmptyGroups {
						return true, diag.NewAbort("group-validation", r.Position, r.Label, "empty group %q not permitted", o.Name)
					}
					ctx.Diagnostics.Warn("group-validation", r.Position, r.Label, "removing empty group %q", o.Name)
					el.Objects = removeHandle(el.Objects, h)
				}
			}
		}
		if len(r.Source.Objects) == 0 && r.Source.Negation {
			r.Source.Negation = false
		}
		push(r)
		return false, nil
	}
}

func removeHandle(list []objectmodel.Handle, h objectmodel.Handle) []objectmodel.Handle {
	out := list[:0]
	for _, v := range list {
		if v != h {
			out = append(out, v)
		}
	}
	return out
}
