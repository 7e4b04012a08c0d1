// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package iptables

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/flywall/internal/compilectx"
	"grimm.is/flywall/internal/diag"
	"grimm.is/flywall/internal/natpipeline"
	"grimm.is/flywall/internal/objectmodel"
	"grimm.is/flywall/internal/policypipeline"
)

func newTestContext(t *testing.T) (*objectmodel.Store, *compilectx.Context) {
	t.Helper()
	store := objectmodel.NewStore()
	fw := store.Alloc(objectmodel.KindFirewall, "fw")
	fw.HostFW = &objectmodel.HostData{}
	ctx := compilectx.New(store, fw, objectmodel.FamilyIPv4, compilectx.Options{}, diag.NewSink())
	return store, ctx
}

// TestPlainAccept matches spec.md §8 scenario 1: a single TCP/22 accept rule
// in INPUT renders as exactly one conntrack-NEW-qualified ACCEPT line.
func TestPlainAccept(t *testing.T) {
	store, ctx := newTestContext(t)
	tcp22 := store.Alloc(objectmodel.KindServiceTCP, "ssh")
	tcp22.Service = &objectmodel.ServiceData{DstPortFrom: 22, DstPortTo: 22}

	r := &policypipeline.Rule{
		Service: objectmodel.Element{Objects: []objectmodel.Handle{tcp22.ID}},
		Action:  objectmodel.ActionAccept,
		Chain:   policypipeline.ChainInput,
		Target:  "ACCEPT",
	}

	e := NewPolicyEmitter(ctx)
	e.Add(r)
	lines := e.RenderChains()
	require.Len(t, lines, 1)
	assert.Equal(t, "-A INPUT -p tcp -m tcp --dport 22 -m conntrack --ctstate NEW -j ACCEPT", lines[0])
}

func TestDroppedRuleNotRendered(t *testing.T) {
	_, ctx := newTestContext(t)
	e := NewPolicyEmitter(ctx)
	e.Add(&policypipeline.Rule{Chain: policypipeline.ChainInput, Target: "ACCEPT", Dropped: true})
	assert.Empty(t, e.RenderChains())
}

func TestSingleObjectNegationEmitsBang(t *testing.T) {
	store, ctx := newTestContext(t)
	net := store.Alloc(objectmodel.KindNetwork, "lan")
	r := &policypipeline.Rule{
		Source:          objectmodel.Element{Objects: []objectmodel.Handle{net.ID}, Negation: true},
		SingleObjNegSrc: true,
		Action:          objectmodel.ActionAccept,
		Chain:           policypipeline.ChainForward,
		Target:          "ACCEPT",
	}
	e := NewPolicyEmitter(ctx)
	e.Add(r)
	lines := e.RenderChains()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "! -s $OBJ_")
}

// TestMultiportGrouping matches spec.md §8 scenario 5.
func TestMultiportGrouping(t *testing.T) {
	store, ctx := newTestContext(t)
	var handles []objectmodel.Handle
	for _, p := range []int{22, 80, 443} {
		svc := store.Alloc(objectmodel.KindServiceTCP, "p")
		svc.Service = &objectmodel.ServiceData{DstPortFrom: p, DstPortTo: p}
		handles = append(handles, svc.ID)
	}
	r := &policypipeline.Rule{
		Service:   objectmodel.Element{Objects: handles},
		Multiport: true,
		Action:    objectmodel.ActionAccept,
		Chain:     policypipeline.ChainForward,
		Target:    "ACCEPT",
	}
	e := NewPolicyEmitter(ctx)
	e.Add(r)
	lines := e.RenderChains()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "-m multiport --dports 22,80,443")
}

func TestChainUsageClosureSkipsUnusedUserChains(t *testing.T) {
	_, ctx := newTestContext(t)
	e := NewPolicyEmitter(ctx)
	e.Add(&policypipeline.Rule{Chain: "tmp_1", Target: "ACCEPT"})
	// tmp_1 was never NoteChainUse'd as a jump target, so it must not appear.
	rendered := strings.Join(e.RenderChains(), "\n")
	assert.Empty(t, rendered)
}

func TestChainNameTruncatesAndHashesLongNames(t *testing.T) {
	long := strings.Repeat("x", 40)
	name := ChainName(long)
	assert.LessOrEqual(t, len(name), maxChainLen)
	assert.NotEqual(t, long, name)
	// Same input always hashes to the same output (spec.md §8 determinism).
	assert.Equal(t, name, ChainName(long))
}

func TestChainNamePassesThroughShortNames(t *testing.T) {
	assert.Equal(t, "INPUT", ChainName("INPUT"))
}

func TestRestoreFormatWrapsWithTableHeaderAndCommit(t *testing.T) {
	store, ctx := newTestContext(t)
	tcp := store.Alloc(objectmodel.KindServiceTCP, "http")
	tcp.Service = &objectmodel.ServiceData{DstPortFrom: 80, DstPortTo: 80}
	e := NewPolicyEmitter(ctx)
	e.Add(&policypipeline.Rule{
		Service: objectmodel.Element{Objects: []objectmodel.Handle{tcp.ID}},
		Action:  objectmodel.ActionAccept,
		Chain:   policypipeline.ChainInput,
		Target:  "ACCEPT",
	})
	out := e.RestoreFormat()
	assert.True(t, strings.HasPrefix(out, "*filter\n"))
	assert.True(t, strings.HasSuffix(out, "COMMIT\n"))
	assert.Contains(t, out, "-A INPUT -p tcp -m tcp --dport 80")
}

func TestRestoreWithEchoWrapsEveryLine(t *testing.T) {
	store, ctx := newTestContext(t)
	tcp := store.Alloc(objectmodel.KindServiceTCP, "http")
	tcp.Service = &objectmodel.ServiceData{DstPortFrom: 80, DstPortTo: 80}
	e := NewPolicyEmitter(ctx)
	e.Add(&policypipeline.Rule{
		Service: objectmodel.Element{Objects: []objectmodel.Handle{tcp.ID}},
		Action:  objectmodel.ActionAccept,
		Chain:   policypipeline.ChainInput,
		Target:  "ACCEPT",
	})
	out := e.RestoreWithEcho()
	assert.Contains(t, out, "echo \"-A INPUT")
	assert.True(t, strings.HasSuffix(out, "echo 'COMMIT'\n"))
}

// TestNATEmitterMasquerade matches spec.md §8 scenario 4.
func TestNATEmitterMasquerade(t *testing.T) {
	store, ctx := newTestContext(t)
	net := store.Alloc(objectmodel.KindNetwork, "lan")
	e := NewNATEmitter(ctx)
	e.Add(&natpipeline.Rule{
		OriginalSource: objectmodel.Element{Objects: []objectmodel.Handle{net.ID}},
		Chain:          policypipeline.ChainPostrouting,
		Target:         "MASQUERADE",
	})
	lines := e.RenderChains()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "-A POSTROUTING")
	assert.Contains(t, lines[0], "-s $OBJ_")
	assert.Contains(t, lines[0], "-j MASQUERADE")
}
