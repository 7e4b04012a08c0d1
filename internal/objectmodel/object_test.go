// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package objectmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreAllocGet(t *testing.T) {
	s := NewStore()
	o := s.Alloc(KindAddressIPv4, "web1")
	require.NotEqual(t, InvalidHandle, o.ID)

	got, ok := s.Get(o.ID)
	require.True(t, ok)
	assert.Same(t, o, got)

	_, ok = s.Get(InvalidHandle)
	assert.False(t, ok)
}

func TestStoreMustGetPanicsOnDangling(t *testing.T) {
	s := NewStore()
	assert.Panics(t, func() { s.MustGet(Handle(999)) })
}

func TestStoreAllReturnsEveryObject(t *testing.T) {
	s := NewStore()
	a := s.Alloc(KindAddressIPv4, "a")
	b := s.Alloc(KindServiceTCP, "b")

	all := s.All()
	ids := map[Handle]bool{}
	for _, o := range all {
		ids[o.ID] = true
	}
	assert.True(t, ids[a.ID])
	assert.True(t, ids[b.ID])
	assert.Len(t, all, 2)
}

func TestStoreAddChildAndChildren(t *testing.T) {
	s := NewStore()
	parent := s.Alloc(KindRuleSetPolicy, "parent")
	child := s.Alloc(KindRulePolicy, "child")

	s.AddChild(parent, child)

	assert.Equal(t, parent.ID, child.Parent)
	kids := s.Children(parent)
	require.Len(t, kids, 1)
	assert.Equal(t, child.ID, kids[0].ID)
}

func TestStoreChildrenSkipsDanglingHandles(t *testing.T) {
	s := NewStore()
	parent := s.Alloc(KindRuleSetPolicy, "parent")
	parent.Order = append(parent.Order, Handle(12345))

	assert.Empty(t, s.Children(parent))
}

func TestStoreRefsPolicyRule(t *testing.T) {
	s := NewStore()
	addr := s.Alloc(KindAddressIPv4, "addr")
	rule := s.Alloc(KindRulePolicy, "rule")
	rule.PolicyRule = &PolicyRule{
		Source: Element{Objects: []Handle{addr.ID}},
	}

	refs := s.Refs(rule)
	require.Len(t, refs, 1)
	assert.Equal(t, addr.ID, refs[0])
}

func TestStoreRefsGroup(t *testing.T) {
	s := NewStore()
	m1 := s.Alloc(KindAddressIPv4, "m1")
	grp := s.Alloc(KindGroupObject, "grp")
	grp.Group = &GroupData{Members: []Handle{m1.ID}}

	refs := s.Refs(grp)
	require.Len(t, refs, 1)
	assert.Equal(t, m1.ID, refs[0])
}

func TestComplexMatchIdentity(t *testing.T) {
	s := NewStore()
	o := s.Alloc(KindAddressIPv4, "self")
	assert.True(t, s.ComplexMatch(o, o))
}

func TestComplexMatchFirewallInterfaceAddress(t *testing.T) {
	s := NewStore()
	addr := s.Alloc(KindAddressIPv4, "addr")
	iface := s.Alloc(KindInterface, "eth0")
	iface.Iface = &InterfaceData{Addresses: []Handle{addr.ID}}
	fw := s.Alloc(KindFirewall, "fw1")
	fw.HostFW = &HostData{Interfaces: []Handle{iface.ID}}

	assert.True(t, s.ComplexMatch(addr, fw))

	other := s.Alloc(KindAddressIPv4, "unrelated")
	assert.False(t, s.ComplexMatch(other, fw))
}
