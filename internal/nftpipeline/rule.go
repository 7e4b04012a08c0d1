// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package nftpipeline implements the nftables specialization of the policy
// pipeline (spec.md §4.5): the same source rule model as policypipeline,
// rewritten through a shorter stage list that exploits nftables' native
// sets and `!=` negation instead of iptables' temp-chain/multiport tricks.
package nftpipeline

import "grimm.is/flywall/internal/objectmodel"

// Rule is the scratch-store copy of a policy rule for the nftables
// pipeline. It carries the same positional elements as policypipeline.Rule
// but a much smaller auxiliary record: no single-object-negation flags (the
// Element.Negation flag survives all the way to emission, rendered as a
// native `!=`), no multiport flag (services stay a set), no mangle-table
// split (spec.md §4.5 "no mangle-table pass").
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

	Action     objectmodel.Action
	RejectKind string
	BranchTo   objectmodel.Handle

	Options objectmodel.RuleOptions

	// Auxiliary record.
	Chain   string // input | output | forward
	Verdict string // accept | drop | return | reject [with ...] | "jump <chain>" | "" (Continue, or Unsupported set)
	Unsupported string // spec.md §4.5: tagging/classification/routing emit a structured error instead of aborting
	Dropped bool
}

// Clone deep-copies a rule so splitting stages (logging) can produce
// independent derivatives without aliasing slices.
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
		Position:    pr.Position,
		Label:       pr.Label,
		Disabled:    pr.Disabled,
		Comment:     pr.Comment,
		Source:      cloneElement(pr.Source),
		Destination: cloneElement(pr.Destination),
		Service:     cloneElement(pr.Service),
		Interface:   cloneElement(pr.Interface),
		Time:        cloneElement(pr.Time),
		Direction:   pr.Direction,
		Action:      pr.Action,
		RejectKind:  pr.RejectKind,
		BranchTo:    pr.BranchTo,
		Options:     pr.Options,
	}
}

func cloneElement(e objectmodel.Element) objectmodel.Element {
	return objectmodel.Element{Objects: append([]objectmodel.Handle(nil), e.Objects...), Negation: e.Negation}
}
