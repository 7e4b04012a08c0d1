// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package policypipeline implements the iptables policy pipeline of
// spec.md §4.2: the ~80-stage, phase-grouped sequence that rewrites a
// policy rule from its source form into an atomic, chain-and-target
// assigned, emission-ready rule.
package policypipeline

import "grimm.is/flywall/internal/objectmodel"

// Rule is the scratch-store copy of a policy rule plus the typed auxiliary
// record every stage reads/writes (spec.md §9's "per-rule mutable metadata
// bag... typed per-rule auxiliary record with a known closed set of
// fields"). The driver's source stage deep-copies each enabled,
// non-dummy PolicyRule into one of these; nothing downstream ever touches
// the original objectmodel.Object.
type Rule struct {
	Position int
	Label    string
	Disabled bool
	Comment  string

	Source      objectmodel.Element
	Destination objectmodel.Element
	Service     objectmodel.Element
	Interface   objectmodel.Element
	Time        objectmodel.Element
	Direction   objectmodel.Direction

	Action       objectmodel.Action
	RejectKind   string
	AccountChain string
	CustomRaw    string
	BranchTo     objectmodel.Handle

	Options objectmodel.RuleOptions

	// Auxiliary record (spec.md §9).
	Chain                         string
	Target                        string
	TargetParams                  string
	StoredAction                  objectmodel.Action
	SingleObjNegSrc               bool
	SingleObjNegDst               bool
	SingleObjNegSrv               bool
	SingleObjNegItf               bool
	SingleObjNegTime              bool
	OriginatedWithTagging         bool
	OriginatedWithClassification  bool
	OriginatedWithRouting         bool
	Multiport                     bool
	ActionOnReject                string
	UpstreamRuleNeg               bool
	IfaceIsNil                    bool // ".iface=nil": no -i/-o emitted at all
	WildcardIface                 bool // emits -i + / -o +
	Predefined                    bool // injected by stage 1, not user-authored
	Dropped                       bool // sentinel: filtered out by a stage
}

// Clone deep-copies a rule so splitting stages can produce independent
// derivatives without aliasing slices.
func (r *Rule) Clone() *Rule {
	c := *r
	c.Source.Objects = append([]objectmodel.Handle(nil), r.Source.Objects...)
	c.Destination.Objects = append([]objectmodel.Handle(nil), r.Destination.Objects...)
	c.Service.Objects = append([]objectmodel.Handle(nil), r.Service.Objects...)
	c.Interface.Objects = append([]objectmodel.Handle(nil), r.Interface.Objects...)
	c.Time.Objects = append([]objectmodel.Handle(nil), r.Time.Objects...)
	return &c
}

// FromPolicyRule builds the scratch-store copy from a loaded object.
func FromPolicyRule(pr *objectmodel.PolicyRule) *Rule {
	return &Rule{
		Position:     pr.Position,
		Label:        pr.Label,
		Disabled:     pr.Disabled,
		Comment:      pr.Comment,
		Source:       cloneElement(pr.Source),
		Destination:  cloneElement(pr.Destination),
		Service:      cloneElement(pr.Service),
		Interface:    cloneElement(pr.Interface),
		Time:         cloneElement(pr.Time),
		Direction:    pr.Direction,
		Action:       pr.Action,
		StoredAction: pr.Action,
		RejectKind:   pr.RejectKind,
		AccountChain: pr.AccountChain,
		CustomRaw:    pr.CustomRaw,
		BranchTo:     pr.BranchTo,
		Options:      pr.Options,
	}
}

func cloneElement(e objectmodel.Element) objectmodel.Element {
	return objectmodel.Element{Objects: append([]objectmodel.Handle(nil), e.Objects...), Negation: e.Negation}
}
