// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sqliteindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/flywall/internal/loader"
	"grimm.is/flywall/internal/objectmodel"
)

const sampleHCL = `
address "lan-net" {
  kind = "network"
  ip   = "192.168.1.0/24"
}

group "lan-group" {
  kind    = "object"
  members = ["lan-net"]
}

policy_ruleset "edge" {
  family = "ipv4"
  rule {
    label  = "allow-lan"
    source = ["lan-group"]
    action = "accept"
  }
}
`

func buildTestIndex(t *testing.T) (*objectmodel.Store, *Index) {
	store, err := loader.LoadBytes("sample.hcl", []byte(sampleHCL))
	require.NoError(t, err)
	idx := New(store)
	require.NoError(t, idx.Build())
	t.Cleanup(func() { idx.Close() })
	return store, idx
}

func TestGetByNameResolvesToSameHandleAsStore(t *testing.T) {
	store, idx := buildTestIndex(t)

	var want objectmodel.Handle
	for _, o := range store.All() {
		if o.Name == "lan-net" {
			want = o.ID
		}
	}
	require.NotEqual(t, objectmodel.InvalidHandle, want)

	got, ok := idx.GetByName("lan-net")
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestGetByNameMissingReturnsFalse(t *testing.T) {
	_, idx := buildTestIndex(t)
	_, ok := idx.GetByName("does-not-exist")
	assert.False(t, ok)
}

func TestReferencedByFindsGroupMemberReferrer(t *testing.T) {
	store, idx := buildTestIndex(t)

	var addrHandle, groupHandle objectmodel.Handle
	for _, o := range store.All() {
		switch o.Name {
		case "lan-net":
			addrHandle = o.ID
		case "lan-group":
			groupHandle = o.ID
		}
	}
	require.NotEqual(t, objectmodel.InvalidHandle, addrHandle)
	require.NotEqual(t, objectmodel.InvalidHandle, groupHandle)

	referrers, err := idx.ReferencedBy(addrHandle)
	require.NoError(t, err)
	assert.Contains(t, referrers, groupHandle)
}

func TestReferencedByBeforeBuildErrors(t *testing.T) {
	store, err := loader.LoadBytes("sample.hcl", []byte(sampleHCL))
	require.NoError(t, err)
	idx := New(store)
	_, err = idx.ReferencedBy(1)
	assert.Error(t, err)
}

func TestGetByIDDelegatesToStore(t *testing.T) {
	store, idx := buildTestIndex(t)
	var want *objectmodel.Object
	for _, o := range store.All() {
		if o.Name == "lan-net" {
			want = o
		}
	}
	require.NotNil(t, want)

	got, ok := idx.GetByID(want.ID)
	require.True(t, ok)
	assert.Same(t, want, got)
}
