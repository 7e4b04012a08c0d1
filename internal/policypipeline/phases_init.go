// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policypipeline

import (
	"grimm.is/flywall/internal/compilectx"
	"grimm.is/flywall/internal/diag"
	"grimm.is/flywall/internal/objectmodel"
	"grimm.is/flywall/internal/pipeline"
)

// Predefined builds the predefined rules phase 1 injects (spec.md §4.2-1):
// one inbound permit per management interface and, when compiling a
// cluster member, one cluster-failover permit. No anti-spoofing or
// state-sync rule is built. Each is marked Predefined so diagnostics and
// debug output can distinguish it from user-authored rules.
func Predefined(ctx *compilectx.Context) []*Rule {
	var out []*Rule
	pos := -1000 // predefined rules sort before user rules in debug output

	for _, iface := range ctx.Interfaces() {
		if iface.Iface == nil || !iface.Iface.Management {
			continue
		}
		out = append(out, &Rule{
			Position: pos,
			Label:    "predefined: ssh-to-management",
			Service:  objectmodel.Element{}, // any service is deliberately narrowed by caller via a service object if present
			Interface: objectmodel.Element{Objects: []objectmodel.Handle{iface.ID}},
			Direction: objectmodel.DirectionInbound,
			Action:    objectmodel.ActionAccept,
			Predefined: true,
		})
		pos--
	}

	if ctx.Cluster != nil && ctx.Cluster.HostFW != nil {
		out = append(out, &Rule{
			Position:   pos,
			Label:      "predefined: cluster-failover",
			Direction:  objectmodel.DirectionBoth,
			Action:     objectmodel.ActionAccept,
			Predefined: true,
		})
		pos--
	}

	return out
}

// stageInit implements phase 1 (spec.md §4.2-1): push the predefined rules
// ahead of the injected source stream, drop disabled rules, and apply the
// global log_all override.
func stageInit(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	injected := false
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		if !injected {
			injected = true
			for _, r := range Predefined(ctx) {
				push(r)
			}
		}
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
		if ctx.Options.LogAll {
			r.Options.Log = true
		}
		push(r)
		return false, nil
	}
}

// stageTableRouting implements phase 2 (spec.md §4.2-2).
func stageTableRouting(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		mangleIntent := r.Options.Tagging || r.Options.Classification || r.Options.Routing ||
			r.Action == objectmodel.ActionTag || r.Action == objectmodel.ActionClassify || r.Action == objectmodel.ActionRoute
		if ctx.Table == compilectx.TableMangle {
			if r.Action == objectmodel.ActionReject {
				return true, diag.NewAbort("table-routing", r.Position, r.Label, "Reject is not a legal action in the mangle table")
			}
			if !mangleIntent {
				return false, nil
			}
		} else {
			if mangleIntent && r.Action != objectmodel.ActionBranch {
				return false, nil
			}
		}
		push(r)
		return false, nil
	}
}

// stageActionSnapshot implements phase 3 (spec.md §4.2-3).
func stageActionSnapshot() pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		r.StoredAction = r.Action
		r.OriginatedWithTagging = r.Options.Tagging
		r.OriginatedWithClassification = r.Options.Classification
		r.OriginatedWithRouting = r.Options.Routing
		push(r)
		return false, nil
	}
}
