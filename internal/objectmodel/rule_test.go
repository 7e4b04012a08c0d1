// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package objectmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestElementIsAny(t *testing.T) {
	var e Element
	assert.True(t, e.IsAny())

	e.Objects = []Handle{1}
	assert.False(t, e.IsAny())
}

func TestElementSingle(t *testing.T) {
	e := Element{Objects: []Handle{7}}
	h, ok := e.Single()
	assert.True(t, ok)
	assert.Equal(t, Handle(7), h)

	e.Objects = append(e.Objects, 8)
	_, ok = e.Single()
	assert.False(t, ok)
}

func TestActionIsTerminating(t *testing.T) {
	assert.True(t, ActionAccept.IsTerminating())
	assert.True(t, ActionDeny.IsTerminating())
	assert.True(t, ActionReject.IsTerminating())
	assert.False(t, ActionContinue.IsTerminating())
	assert.False(t, ActionBranch.IsTerminating())
}

func TestPolicyRuleRefsIncludesBranchTarget(t *testing.T) {
	pr := &PolicyRule{
		Source:   Element{Objects: []Handle{1}},
		BranchTo: 42,
	}
	refs := pr.refs()
	assert.Contains(t, refs, Handle(1))
	assert.Contains(t, refs, Handle(42))
}

func TestNATRuleRefs(t *testing.T) {
	nr := &NATRule{
		OriginalSource:    Element{Objects: []Handle{1}},
		TranslatedSource:  Element{Objects: []Handle{2}},
		InboundInterface:  Element{Objects: []Handle{3}},
	}
	refs := nr.refs()
	assert.ElementsMatch(t, []Handle{1, 2, 3}, refs)
}

func TestRoutingRuleRefs(t *testing.T) {
	rr := &RoutingRule{
		Destination: Element{Objects: []Handle{1}},
		Gateway:     Element{Objects: []Handle{2}},
	}
	refs := rr.refs()
	assert.ElementsMatch(t, []Handle{1, 2}, refs)
}
