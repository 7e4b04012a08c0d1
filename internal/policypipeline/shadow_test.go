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

func newShadowCtx(store *objectmodel.Store, checkShading bool) *compilectx.Context {
	ctx := compilectx.New(store, nil, objectmodel.FamilyBoth, compilectx.Options{CheckShading: checkShading}, diag.NewSink())
	return ctx
}

func TestDetectShadowsFlagsBroaderEarlierRule(t *testing.T) {
	store := objectmodel.NewStore()
	addr := store.Alloc(objectmodel.KindAddressIPv4, "host1")

	broad := &Rule{Position: 1, Label: "broad-deny", Action: objectmodel.ActionDeny, StoredAction: objectmodel.ActionDeny}
	narrow := &Rule{Position: 2, Label: "narrow-allow", Action: objectmodel.ActionAccept, StoredAction: objectmodel.ActionAccept,
		Source: objectmodel.Element{Objects: []objectmodel.Handle{addr.ID}}}

	ctx := newShadowCtx(store, true)
	err := DetectShadows(ctx, []*Rule{broad, narrow})
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "shadows")
}

func TestDetectShadowsSkippedWhenCheckShadingDisabled(t *testing.T) {
	store := objectmodel.NewStore()
	broad := &Rule{Position: 1, Label: "broad-deny", Action: objectmodel.ActionDeny, StoredAction: objectmodel.ActionDeny}
	narrow := &Rule{Position: 2, Label: "narrow-allow", Action: objectmodel.ActionAccept, StoredAction: objectmodel.ActionAccept}

	ctx := newShadowCtx(store, false)
	err := DetectShadows(ctx, []*Rule{broad, narrow})
	assert.Nil(t, err)
}

func TestDetectShadowsAllowsNonOverlappingRules(t *testing.T) {
	store := objectmodel.NewStore()
	a := store.Alloc(objectmodel.KindAddressIPv4, "a")
	b := store.Alloc(objectmodel.KindAddressIPv4, "b")

	r1 := &Rule{Position: 1, Label: "deny-a", Action: objectmodel.ActionDeny, StoredAction: objectmodel.ActionDeny,
		Source: objectmodel.Element{Objects: []objectmodel.Handle{a.ID}}}
	r2 := &Rule{Position: 2, Label: "allow-b", Action: objectmodel.ActionAccept, StoredAction: objectmodel.ActionAccept,
		Source: objectmodel.Element{Objects: []objectmodel.Handle{b.ID}}}

	ctx := newShadowCtx(store, true)
	err := DetectShadows(ctx, []*Rule{r1, r2})
	assert.Nil(t, err)
}

func TestDetectShadowsIgnoresNonTerminatingEarlierRule(t *testing.T) {
	store := objectmodel.NewStore()
	r1 := &Rule{Position: 1, Label: "log-all", Action: objectmodel.ActionContinue, StoredAction: objectmodel.ActionContinue}
	r2 := &Rule{Position: 2, Label: "allow", Action: objectmodel.ActionAccept, StoredAction: objectmodel.ActionAccept}

	ctx := newShadowCtx(store, true)
	err := DetectShadows(ctx, []*Rule{r1, r2})
	assert.Nil(t, err)
}

func TestElementCoversAnyCoversEverything(t *testing.T) {
	any := objectmodel.Element{}
	specific := objectmodel.Element{Objects: []objectmodel.Handle{1}}
	assert.True(t, elementCovers(any, specific))
	assert.False(t, elementCovers(specific, any))
}

func TestSameElement(t *testing.T) {
	a := objectmodel.Element{Objects: []objectmodel.Handle{1}}
	b := objectmodel.Element{Objects: []objectmodel.Handle{1}}
	c := objectmodel.Element{Objects: []objectmodel.Handle{2}}
	assert.True(t, sameElement(a, b))
	assert.False(t, sameElement(a, c))
}
