// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policypipeline

import (
	"grimm.is/flywall/internal/compilectx"
	"grimm.is/flywall/internal/objectmodel"
	"grimm.is/flywall/internal/pipeline"
)

// elementKind identifies which positional slot a generic stage is operating
// on, standing in for the "rule-element accessor" parameterization called
// for by spec.md §9 ("base stages generic over the element type... become
// parameterized by a rule-element accessor").
type elementKind int

const (
	elSource elementKind = iota
	elDestination
	elService
	elTime
)

func getElement(r *Rule, k elementKind) *objectmodel.Element {
	switch k {
	case elSource:
		return &r.Source
	case elDestination:
		return &r.Destination
	case elService:
		return &r.Service
	default:
		return &r.Time
	}
}

func singleNegFlag(r *Rule, k elementKind) *bool {
	switch k {
	case elSource:
		return &r.SingleObjNegSrc
	case elDestination:
		return &r.SingleObjNegDst
	case elService:
		return &r.SingleObjNegSrv
	default:
		return &r.SingleObjNegTime
	}
}

// stageNegation implements phase 7 (spec.md §4.2-7): single-object negation
// is resolved inline; multi-object negation on Source/Destination/Service/
// Time expands into a three-part temp-chain (jump / RETURN.../ action).
func stageNegation(ctx *compilectx.Context) pipeline.StepFunc[*Rule] {
	kinds := []elementKind{elSource, elDestination, elService, elTime}
	return func(upstream pipeline.Puller[*Rule], push func(*Rule)) (bool, error) {
		r, ok, err := upstream.PullOne()
		if err != nil {
			return true, err
		}
		if !ok {
			return true, nil
		}

		for _, k := range kinds {
			el := getElement(r, k)
			if !el.Negation {
				continue
			}
			if len(el.Objects) <= 1 {
				*singleNegFlag(r, k) = true
				el.Negation = false
				continue
			}
			jump, returns, action := expandNegation(ctx, r, k)
			push(jump)
			for _, rr := range returns {
				push(rr)
			}
			push(action)
			return false, nil
		}
		push(r)
		return false, nil
	}
}

// expandNegation builds the jump/RETURN*/action triad of spec.md §4.2-7(b):
// the jump rule matches only the non-negated elements into a fresh user
// chain; one RETURN rule per negated object matches that single object in
// the temp chain; the action rule matches "any" on the negated element and
// carries the original action (Service preserved only for Reject+tcp-reset).
func expandNegation(ctx *compilectx.Context, r *Rule, k elementKind) (jump *Rule, returns []*Rule, action *Rule) {
	chain := ctx.FreshChainName("neg")

	negated := append([]objectmodel.Handle(nil), getElement(r, k).Objects...)
	origService := r.Service

	jump = r.Clone()
	jump.Target = chain
	jump.Options.Log = false
	jump.Options.Limit = ""
	*getElement(jump, k) = objectmodel.Element{}
	ctx.NoteChainUse(chain)

	for _, h := range negated {
		ret := r.Clone()
		ret.Chain = chain
		*getElement(ret, k) = objectmodel.Element{Objects: []objectmodel.Handle{h}}
		ret.Action = objectmodel.ActionReturn
		ret.Target = "RETURN"
		returns = append(returns, ret)
	}

	action = r.Clone()
	action.Chain = chain
	*getElement(action, k) = objectmodel.Element{}
	if k == elService && action.Action == objectmodel.ActionReject && action.RejectKind == "tcp-reset" {
		action.Service = origService
	}
	return jump, returns, action
}
