// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nftables

import (
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/flywall/internal/compilectx"
	"grimm.is/flywall/internal/diag"
	"grimm.is/flywall/internal/natpipeline"
	"grimm.is/flywall/internal/nftpipeline"
	"grimm.is/flywall/internal/objectmodel"
)

func newTestContext(t *testing.T) (*objectmodel.Store, *compilectx.Context) {
	t.Helper()
	store := objectmodel.NewStore()
	fw := store.Alloc(objectmodel.KindFirewall, "fw")
	fw.HostFW = &objectmodel.HostData{}
	ctx := compilectx.New(store, fw, objectmodel.FamilyIPv4, compilectx.Options{}, diag.NewSink())
	return store, ctx
}

func TestBatchRendersThreeBuiltinChainsWithHooks(t *testing.T) {
	_, ctx := newTestContext(t)
	e := NewEmitter(ctx)
	out := e.Batch()
	assert.True(t, strings.HasPrefix(out, "flush ruleset\ntable inet filter {\n"))
	assert.Contains(t, out, "chain input {")
	assert.Contains(t, out, "type filter hook input priority filter; policy drop;")
	assert.Contains(t, out, "chain output {")
	assert.Contains(t, out, "chain forward {")
}

func TestAddRendersAcceptVerdictWithSetMatch(t *testing.T) {
	store, ctx := newTestContext(t)
	lan := store.Alloc(objectmodel.KindNetwork, "lan")
	tcp := store.Alloc(objectmodel.KindServiceTCP, "http")
	tcp.Service = &objectmodel.ServiceData{DstPortFrom: 80, DstPortTo: 80}

	e := NewEmitter(ctx)
	e.Add(&nftpipeline.Rule{
		Source:  objectmodel.Element{Objects: []objectmodel.Handle{lan.ID}},
		Service: objectmodel.Element{Objects: []objectmodel.Handle{tcp.ID}},
		Chain:   nftpipeline.ChainInput,
		Verdict: "accept",
	})
	out := e.Batch()
	assert.Contains(t, out, "ip saddr lan")
	assert.Contains(t, out, "meta l4proto tcp")
	assert.Contains(t, out, "dport 80")
	assert.Contains(t, out, "accept;")
}

func TestNegationRendersNativeNotEquals(t *testing.T) {
	store, ctx := newTestContext(t)
	lan := store.Alloc(objectmodel.KindNetwork, "lan")
	e := NewEmitter(ctx)
	e.Add(&nftpipeline.Rule{
		Source:  objectmodel.Element{Objects: []objectmodel.Handle{lan.ID}, Negation: true},
		Chain:   nftpipeline.ChainForward,
		Verdict: "drop",
	})
	out := e.Batch()
	assert.Contains(t, out, "ip saddr != lan")
}

func TestMultiObjectElementRendersAsSet(t *testing.T) {
	store, ctx := newTestContext(t)
	a := store.Alloc(objectmodel.KindNetwork, "a")
	b := store.Alloc(objectmodel.KindNetwork, "b")
	e := NewEmitter(ctx)
	e.Add(&nftpipeline.Rule{
		Source:  objectmodel.Element{Objects: []objectmodel.Handle{a.ID, b.ID}},
		Chain:   nftpipeline.ChainForward,
		Verdict: "accept",
	})
	out := e.Batch()
	assert.Contains(t, out, "ip saddr { a, b }")
}

func TestUnsupportedMarkerRendersAsComment(t *testing.T) {
	_, ctx := newTestContext(t)
	e := NewEmitter(ctx)
	e.Add(&nftpipeline.Rule{
		Position:    3,
		Label:       "tag-rule",
		Chain:       nftpipeline.ChainInput,
		Unsupported: "tagging not supported on nftables backend",
	})
	out := e.Batch()
	assert.Contains(t, out, "# unsupported: rule 3 (tag-rule): tagging not supported on nftables backend;")
}

func TestUserChainSkippedWhenUnused(t *testing.T) {
	_, ctx := newTestContext(t)
	e := NewEmitter(ctx)
	e.Add(&nftpipeline.Rule{Chain: "branch_1", Verdict: "accept"})
	out := e.Batch()
	assert.NotContains(t, out, "branch_1")
}

func TestUserChainRenderedWhenJumpedTo(t *testing.T) {
	_, ctx := newTestContext(t)
	ctx.NoteChainUse("branch_1")
	e := NewEmitter(ctx)
	e.Add(&nftpipeline.Rule{Chain: "branch_1", Verdict: "accept"})
	out := e.Batch()
	assert.Contains(t, out, "chain branch_1 {")
}

// TestNATEmitterMasquerade matches spec.md §8 scenario 4 for the nftables
// backend's equivalent syntax.
func TestNATEmitterMasquerade(t *testing.T) {
	store, ctx := newTestContext(t)
	lan := store.Alloc(objectmodel.KindNetwork, "lan")
	e := NewNATEmitter(ctx)
	e.Add(&natpipeline.Rule{
		OriginalSource: objectmodel.Element{Objects: []objectmodel.Handle{lan.ID}},
		Chain:          natpipeline.ChainPostrouting,
		Variant:        natpipeline.VariantMasquerade,
	})
	out := e.Batch()
	require.Contains(t, out, "chain postrouting {")
	assert.Contains(t, out, "ip saddr lan masquerade;")
}

func TestNATEmitterDNATToPrerouting(t *testing.T) {
	store, ctx := newTestContext(t)
	dst := store.Alloc(objectmodel.KindAddressIPv4, "internal-host")
	dst.Address = &objectmodel.AddressData{IP: net.ParseIP("10.0.0.5")}
	e := NewNATEmitter(ctx)
	e.Add(&natpipeline.Rule{
		TranslatedDestination: objectmodel.Element{Objects: []objectmodel.Handle{dst.ID}},
		Chain:                 natpipeline.ChainPrerouting,
		Variant:               natpipeline.VariantDNAT,
	})
	out := e.Batch()
	assert.Contains(t, out, "chain prerouting {")
	assert.Contains(t, out, "dnat to 10.0.0.5;")
}

