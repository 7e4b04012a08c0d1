// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package natpipeline implements the ~24-stage NAT pipeline of spec.md
// §4.3: classification of a NAT rule into one of nine variants, negation
// verification, redirect detection, NONAT splitting, chain/target
// selection, firewall-object replacement, and cartesian atomization for
// emission.
package natpipeline

import "grimm.is/flywall/internal/objectmodel"

// Variant is the closed set of NAT rule kinds spec.md §4.3-3 classifies
// into, derived from which of (Translated-Source, Translated-Destination,
// Translated-Service) are set.
type Variant uint8

const (
	VariantUnknown Variant = iota
	VariantSNAT
	VariantSNetNAT
	VariantDNAT
	VariantDNetNAT
	VariantRedirect
	VariantNONAT
	VariantSDNAT
	VariantNATBranch
	VariantMasquerade
)

func (v Variant) String() string {
	switch v {
	case VariantSNAT:
		return "snat"
	case VariantSNetNAT:
		return "snetnat"
	case VariantDNAT:
		return "dnat"
	case VariantDNetNAT:
		return "dnetnat"
	case VariantRedirect:
		return "redirect"
	case VariantNONAT:
		return "nonat"
	case VariantSDNAT:
		return "sdnat"
	case VariantNATBranch:
		return "nat-branch"
	case VariantMasquerade:
		return "masquerade"
	default:
		return "unknown"
	}
}

// Rule is the scratch-store copy of a NAT rule, mirroring policypipeline's
// Rule: the original objectmodel.NATRule fields plus an auxiliary record.
type Rule struct {
	Position int
	Label    string
	Disabled bool
	Comment  string

	OriginalSource      objectmodel.Element
	OriginalDestination objectmodel.Element
	OriginalService     objectmodel.Element
	TranslatedSource      objectmodel.Element
	TranslatedDestination objectmodel.Element
	TranslatedService     objectmodel.Element
	InboundInterface  objectmodel.Element
	OutboundInterface objectmodel.Element

	Action     objectmodel.Action
	Masquerade bool

	Options objectmodel.RuleOptions

	// Auxiliary record.
	Variant         Variant
	Chain           string
	Target          string
	TargetParams    string
	BranchTo        objectmodel.Handle
	SingleObjNegIn  bool
	SingleObjNegOut bool
	RedirectPort    int
}

// Clone deep-copies a rule so splitting stages can produce independent
// derivatives without aliasing slices.
func (r *Rule) Clone() *Rule {
	c := *r
	c.OriginalSource.Objects = append([]objectmodel.Handle(nil), r.OriginalSource.Objects...)
	c.OriginalDestination.Objects = append([]objectmodel.Handle(nil), r.OriginalDestination.Objects...)
	c.OriginalService.Objects = append([]objectmodel.Handle(nil), r.OriginalService.Objects...)
	c.TranslatedSource.Objects = append([]objectmodel.Handle(nil), r.TranslatedSource.Objects...)
	c.TranslatedDestination.Objects = append([]objectmodel.Handle(nil), r.TranslatedDestination.Objects...)
	c.TranslatedService.Objects = append([]objectmodel.Handle(nil), r.TranslatedService.Objects...)
	c.InboundInterface.Objects = append([]objectmodel.Handle(nil), r.InboundInterface.Objects...)
	c.OutboundInterface.Objects = append([]objectmodel.Handle(nil), r.OutboundInterface.Objects...)
	return &c
}

// FromNATRule builds the scratch-store copy from a loaded object.
func FromNATRule(nr *objectmodel.NATRule) *Rule {
	return &Rule{
		Position:              nr.Position,
		Label:                 nr.Label,
		Disabled:              nr.Disabled,
		Comment:               nr.Comment,
		OriginalSource:        cloneElement(nr.OriginalSource),
		OriginalDestination:   cloneElement(nr.OriginalDestination),
		OriginalService:       cloneElement(nr.OriginalService),
		TranslatedSource:      cloneElement(nr.TranslatedSource),
		TranslatedDestination: cloneElement(nr.TranslatedDestination),
		TranslatedService:     cloneElement(nr.TranslatedService),
		InboundInterface:      cloneElement(nr.InboundInterface),
		OutboundInterface:     cloneElement(nr.OutboundInterface),
		Action:                nr.Action,
		Masquerade:            nr.Masquerade,
		BranchTo:              nr.BranchTo,
		Options:               nr.Options,
	}
}

func cloneElement(e objectmodel.Element) objectmodel.Element {
	return objectmodel.Element{Objects: append([]objectmodel.Handle(nil), e.Objects...), Negation: e.Negation}
}
