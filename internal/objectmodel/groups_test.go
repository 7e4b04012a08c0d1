// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package objectmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectCycleNone(t *testing.T) {
	s := NewStore()
	m := s.Alloc(KindAddressIPv4, "m")
	grp := s.Alloc(KindGroupObject, "grp")
	grp.Group = &GroupData{Members: []Handle{m.ID}}

	assert.Nil(t, s.DetectCycle(grp.ID))
}

func TestDetectCycleSelfReference(t *testing.T) {
	s := NewStore()
	grp := s.Alloc(KindGroupObject, "self-ref")
	grp.Group = &GroupData{Members: []Handle{grp.ID}}

	cyc := s.DetectCycle(grp.ID)
	require.NotNil(t, cyc)
	assert.Contains(t, cyc, "self-ref")
}

func TestDetectCycleIndirect(t *testing.T) {
	s := NewStore()
	a := s.Alloc(KindGroupObject, "a")
	b := s.Alloc(KindGroupObject, "b")
	a.Group = &GroupData{Members: []Handle{b.ID}}
	b.Group = &GroupData{Members: []Handle{a.ID}}

	assert.NotNil(t, s.DetectCycle(a.ID))
}

func TestExpandGroupsFlattensAndDedupes(t *testing.T) {
	s := NewStore()
	m1 := s.Alloc(KindAddressIPv4, "m1")
	m2 := s.Alloc(KindAddressIPv4, "m2")
	inner := s.Alloc(KindGroupObject, "inner")
	inner.Group = &GroupData{Members: []Handle{m1.ID, m2.ID}}
	outer := s.Alloc(KindGroupObject, "outer")
	outer.Group = &GroupData{Members: []Handle{inner.ID, m1.ID}}

	out, err := s.ExpandGroups([]Handle{outer.ID}, FamilyBoth)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestExpandGroupsDetectsCycle(t *testing.T) {
	s := NewStore()
	grp := s.Alloc(KindGroupObject, "cyclic")
	grp.Group = &GroupData{Members: []Handle{grp.ID}}

	_, err := s.ExpandGroups([]Handle{grp.ID}, FamilyBoth)
	assert.Error(t, err)
}

func TestExpandGroupsFiltersByFamily(t *testing.T) {
	s := NewStore()
	v4 := s.Alloc(KindAddressIPv4, "v4")
	v6 := s.Alloc(KindAddressIPv6, "v6")

	out, err := s.ExpandGroups([]Handle{v4.ID, v6.ID}, FamilyIPv4)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, v4.ID, out[0])
}

func TestExpandGroupsSortsByName(t *testing.T) {
	s := NewStore()
	b := s.Alloc(KindAddressIPv4, "bbb")
	a := s.Alloc(KindAddressIPv4, "aaa")

	out, err := s.ExpandGroups([]Handle{b.ID, a.ID}, FamilyBoth)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, a.ID, out[0])
	assert.Equal(t, b.ID, out[1])
}

func TestMatchesFamily(t *testing.T) {
	s := NewStore()
	v4 := s.Alloc(KindAddressIPv4, "v4")
	v6 := s.Alloc(KindAddressIPv6, "v6")
	tcp := s.Alloc(KindServiceTCP, "tcp")

	assert.True(t, s.MatchesFamily(v4, FamilyBoth))
	assert.True(t, s.MatchesFamily(v4, FamilyIPv4))
	assert.False(t, s.MatchesFamily(v4, FamilyIPv6))
	assert.True(t, s.MatchesFamily(v6, FamilyIPv6))
	assert.True(t, s.MatchesFamily(tcp, FamilyIPv4))
}
