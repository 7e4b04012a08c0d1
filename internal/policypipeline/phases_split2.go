// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policypipeline

import (
	"grimm.is/flywall/internal/compilectx"
	"grimm.is/flywall/internal/objectmodel"
	"grimm.is/flywall/internal/pipeline"
)

// stageLogging implements phase 8 (spec.md §4.2-8): a Continue rule with no
// tag/classify/route becomes a LOG rule in place; everything else carrying
// Options.Log gets a jump/LOG/action triad in a fresh temp chain.
func stageLogging(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}
		if !r.Options.Log {
			push(r)
			return false, nil
		}

		if r.Action == objectmodel.ActionContinue && !r.Options.Tagging && !r.Options.Classification && !r.Options.Routing {
			r.Target = "LOG"
			push(r)
			return false, nil
		}

		chain := ctx.FreshChainName("log")
		ctx.NoteChainUse(chain)

		jump := r.Clone()
		jump.Target = chain
		jump.Options.Log = false
		jump.Options.Limit = ""

		logRule := r.Clone()
		logRule.Chain = chain
		logRule.Source = objectmodel.Element{}
		logRule.Destination = objectmodel.Element{}
		logRule.Service = objectmodel.Element{}
		logRule.Action = objectmodel.ActionContinue
		logRule.Target = "LOG"

		action := r.Clone()
		action.Chain = chain
		action.Options.Log = false
		if !(action.Action == objectmodel.ActionReject && action.RejectKind == "tcp-reset") {
			// Service already carried through on action; only dropped for
			// the LOG rule above.
		}

		push(jump)
		push(logRule)
		push(action)
		return false, nil
	}
}

// stageTagClassifyRouteSplit implements phase 9 (spec.md §4.2-9): a rule
// carrying more than one of {tag, classify, route} with any non-"any" match
// is split into a jump-rule plus one Continue rule per option, since MARK/
// CLASSIFY/ROUTE are all single-target and cannot share one iptables rule.
func stageTagClassifyRouteSplit(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}

		count := boolCount(r.Options.Tagging, r.Options.Classification, r.Options.Routing)
		hasMatch := !r.Source.IsAny() || !r.Destination.IsAny() || !r.Service.IsAny()
		if count <= 1 || !hasMatch {
			push(r)
			return false, nil
		}

		chain := ctx.FreshChainName("opt")
		ctx.NoteChainUse(chain)

		jump := r.Clone()
		jump.Target = chain

		if r.Options.Tagging {
			t := r.Clone()
			t.Chain = chain
			t.Source, t.Destination, t.Service = objectmodel.Element{}, objectmodel.Element{}, objectmodel.Element{}
			t.Action = objectmodel.ActionTag
			push(t)
		}
		if r.Options.Classification {
			c := r.Clone()
			c.Chain = chain
			c.Source, c.Destination, c.Service = objectmodel.Element{}, objectmodel.Element{}, objectmodel.Element{}
			c.Action = objectmodel.ActionClassify
			push(c)
		}
		if r.Options.Routing {
			rt := r.Clone()
			rt.Chain = chain
			rt.Source, rt.Destination, rt.Service = objectmodel.Element{}, objectmodel.Element{}, objectmodel.Element{}
			rt.Action = objectmodel.ActionRoute
			push(rt)
		}
		push(jump)
		return false, nil
	}
}

func boolCount(bs ...bool) int {
	n := 0
	for _, b := range bs {
		if b {
			n++
		}
	}
	return n
}
