// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/flywall/internal/objectmodel"
)

const sampleHCL = `
address "lan-net" {
  kind = "network"
  ip   = "192.168.1.0/24"
}

address "web1" {
  kind = "ipv4"
  ip   = "203.0.113.10"
}

group "trusted" {
  kind    = "object"
  members = ["lan-net"]
}

service "http" {
  kind          = "tcp"
  dst_port_from = 80
  dst_port_to   = 80
}

interface "eth0" {
  addresses = ["web1"]
}

policy_ruleset "base" {
  family = "ipv4"
  rule {
    label       = "allow-lan-http"
    source      = ["trusted"]
    service     = ["http"]
    action      = "accept"
  }
}

policy_ruleset "edge" {
  family        = "ipv4"
  inherits_from = "base"
  rule {
    label  = "deny-rest"
    action = "deny"
  }
}

firewall "gw1" {
  platform   = "linux"
  interfaces = ["eth0"]
  policies   = ["edge"]
}
`

func TestLoadBytesBuildsCompleteGraph(t *testing.T) {
	store, err := LoadBytes("sample.hcl", []byte(sampleHCL))
	require.NoError(t, err)

	var fw *objectmodel.Object
	for _, o := range store.All() {
		if o.Kind == objectmodel.KindFirewall {
			fw = o
		}
	}
	require.NotNil(t, fw)
	require.Len(t, fw.HostFW.Policies, 1)

	ruleset, ok := store.Get(fw.HostFW.Policies[0])
	require.True(t, ok)
	assert.Equal(t, "edge", ruleset.Name)

	// inheritance flattening: edge's Rules should contain base's rule
	// first, then its own.
	require.Len(t, ruleset.RuleSet.Rules, 2)
	first, _ := store.Get(ruleset.RuleSet.Rules[0])
	second, _ := store.Get(ruleset.RuleSet.Rules[1])
	assert.Equal(t, "allow-lan-http", first.PolicyRule.Label)
	assert.Equal(t, "deny-rest", second.PolicyRule.Label)
}

func TestLoadBytesResolvesGroupMembers(t *testing.T) {
	store, err := LoadBytes("sample.hcl", []byte(sampleHCL))
	require.NoError(t, err)

	var grp *objectmodel.Object
	for _, o := range store.All() {
		if o.Name == "trusted" {
			grp = o
		}
	}
	require.NotNil(t, grp)
	require.Len(t, grp.Group.Members, 1)

	member, ok := store.Get(grp.Group.Members[0])
	require.True(t, ok)
	assert.Equal(t, "lan-net", member.Name)
}

func TestLoadBytesRejectsUndeclaredReference(t *testing.T) {
	src := `
policy_ruleset "bad" {
  rule {
    label  = "r1"
    source = ["does-not-exist"]
    action = "accept"
  }
}
`
	_, err := LoadBytes("bad.hcl", []byte(src))
	assert.Error(t, err)
}

func TestLoadBytesRejectsCyclicInheritance(t *testing.T) {
	src := `
policy_ruleset "a" {
  inherits_from = "b"
}
policy_ruleset "b" {
  inherits_from = "a"
}
`
	_, err := LoadBytes("cycle.hcl", []byte(src))
	assert.Error(t, err)
}

func TestLoadBytesRejectsDuplicateNames(t *testing.T) {
	src := `
address "dup" {
  kind = "ipv4"
  ip   = "10.0.0.1"
}
address "dup" {
  kind = "ipv4"
  ip   = "10.0.0.2"
}
`
	_, err := LoadBytes("dup.hcl", []byte(src))
	assert.Error(t, err)
}
