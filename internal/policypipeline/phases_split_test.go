// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policypipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/flywall/internal/compilectx"
	"grimm.is/flywall/internal/diag"
	"grimm.is/flywall/internal/objectmodel"
)

func newNegationCtx(store *objectmodel.Store) *compilectx.Context {
	return compilectx.New(store, nil, objectmodel.FamilyBoth, compilectx.Options{}, diag.NewSink())
}

// spec.md §8 scenario 3: a multi-object negated Source must produce an
// unconditional jump rule (the negated element reset to "any", not left
// negated-and-populated), one RETURN rule per negated object, and one
// action rule.
func TestExpandNegationJumpMatchesOnlyNonNegatedElements(t *testing.T) {
	store := objectmodel.NewStore()
	a := store.Alloc(objectmodel.KindNetwork, "10.0.0.0/8")
	b := store.Alloc(objectmodel.KindNetwork, "172.16.0.0/12")

	ctx := newNegationCtx(store)
	r := &Rule{
		Position: 1,
		Chain:    "FORWARD",
		Action:   objectmodel.ActionAccept,
		Source: objectmodel.Element{
			Objects:  []objectmodel.Handle{a.ID, b.ID},
			Negation: true,
		},
	}

	jump, returns, action := expandNegation(ctx, r, elSource)

	require.True(t, jump.Source.IsAny(), "jump rule must match 'any' on the negated element")
	assert.False(t, jump.Source.Negation)
	assert.NotEmpty(t, jump.Target)

	require.Len(t, returns, 2)
	for i, ret := range returns {
		assert.Equal(t, jump.Target, ret.Chain)
		require.Len(t, ret.Source.Objects, 1)
		assert.Equal(t, r.Source.Objects[i], ret.Source.Objects[0])
		assert.Equal(t, "RETURN", ret.Target)
	}

	assert.Equal(t, jump.Target, action.Chain)
	assert.True(t, action.Source.IsAny())
	assert.Equal(t, objectmodel.ActionAccept, action.Action)
}

// spec.md §4.2-7(c): the action rule preserves Service only when the
// original action is Reject with a tcp-reset reject-kind.
func TestExpandNegationPreservesServiceOnlyForTCPResetReject(t *testing.T) {
	store := objectmodel.NewStore()
	svc := store.Alloc(objectmodel.KindServiceTCP, "tcp-svc")
	other := store.Alloc(objectmodel.KindServiceTCP, "other-svc")

	ctx := newNegationCtx(store)
	base := &Rule{
		Position:   1,
		Chain:      "FORWARD",
		Action:     objectmodel.ActionReject,
		RejectKind: "tcp-reset",
		Service: objectmodel.Element{
			Objects:  []objectmodel.Handle{svc.ID, other.ID},
			Negation: true,
		},
	}

	_, _, action := expandNegation(ctx, base, elService)
	require.Equal(t, []objectmodel.Handle{svc.ID, other.ID}, action.Service.Objects, "tcp-reset reject must preserve Service")

	accept := &Rule{
		Position: 2,
		Chain:    "FORWARD",
		Action:   objectmodel.ActionAccept,
		Service: objectmodel.Element{
			Objects:  []objectmodel.Handle{svc.ID, other.ID},
			Negation: true,
		},
	}
	_, _, action2 := expandNegation(ctx, accept, elService)
	assert.True(t, action2.Service.IsAny(), "non-reject action must not preserve Service")
}

// A negated non-Service element must leave the action rule's Service
// untouched (it was never the negated element).
func TestExpandNegationLeavesServiceAloneWhenOtherElementNegated(t *testing.T) {
	store := objectmodel.NewStore()
	svc := store.Alloc(objectmodel.KindServiceTCP, "svc")
	a := store.Alloc(objectmodel.KindNetwork, "a")
	b := store.Alloc(objectmodel.KindNetwork, "b")

	ctx := newNegationCtx(store)
	r := &Rule{
		Position: 1,
		Chain:    "FORWARD",
		Action:   objectmodel.ActionAccept,
		Service:  objectmodel.Element{Objects: []objectmodel.Handle{svc.ID}},
		Source: objectmodel.Element{
			Objects:  []objectmodel.Handle{a.ID, b.ID},
			Negation: true,
		},
	}

	_, _, action := expandNegation(ctx, r, elSource)
	assert.Equal(t, []objectmodel.Handle{svc.ID}, action.Service.Objects)
}
