// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/flywall/internal/compilectx"
	"grimm.is/flywall/internal/loader"
	"grimm.is/flywall/internal/objectmodel"
)

const sampleHCL = `
address "lan-net" {
  kind = "network"
  ip   = "192.168.1.0/24"
}

service "http" {
  kind          = "tcp"
  dst_port_from = 80
  dst_port_to   = 80
}

interface "eth0" {}

policy_ruleset "edge" {
  family = "ipv4"
  rule {
    label   = "allow-lan-http"
    source  = ["lan-net"]
    service = ["http"]
    action  = "accept"
  }
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

func findFirewall(store *objectmodel.Store, name string) *objectmodel.Object {
	for _, o := range store.All() {
		if o.Kind == objectmodel.KindFirewall && o.Name == name {
			return o
		}
	}
	return nil
}

func TestCompileFirewallProducesHeaderAndBody(t *testing.T) {
	store, err := loader.LoadBytes("sample.hcl", []byte(sampleHCL))
	require.NoError(t, err)

	fw := findFirewall(store, "gw1")
	require.NotNil(t, fw)

	d := New(store)
	result, err := d.CompileFirewall(fw, objectmodel.FamilyIPv4, BackendIPTables, compilectx.Options{})
	require.NoError(t, err)

	assert.Equal(t, "gw1", result.Firewall)
	assert.Contains(t, result.Output, "#!/bin/sh")
	assert.Contains(t, result.Output, "Generated by flywall-compile for gw1")
	assert.Contains(t, result.Output, "$IPTABLES -F")
	assert.Contains(t, result.Output, "# end of compiled output")
	assert.Equal(t, "compiled", result.Status)
}

func TestCompileFirewallRejectsNonFirewallObject(t *testing.T) {
	store, err := loader.LoadBytes("sample.hcl", []byte(sampleHCL))
	require.NoError(t, err)

	var notFw *objectmodel.Object
	for _, o := range store.All() {
		if o.Kind == objectmodel.KindInterface {
			notFw = o
		}
	}
	require.NotNil(t, notFw)

	d := New(store)
	_, err = d.CompileFirewall(notFw, objectmodel.FamilyIPv4, BackendIPTables, compilectx.Options{})
	assert.Error(t, err)
}

func TestCompileFirewallRunsPreprocessor(t *testing.T) {
	store, err := loader.LoadBytes("sample.hcl", []byte(sampleHCL))
	require.NoError(t, err)
	fw := findFirewall(store, "gw1")

	called := false
	d := New(store)
	d.Preprocessor = preprocessorFunc(func(*objectmodel.Store, *objectmodel.Object) error {
		called = true
		return nil
	})

	_, err = d.CompileFirewall(fw, objectmodel.FamilyIPv4, BackendIPTables, compilectx.Options{})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestCompileFirewallSkipsRuleSetsOfOtherFamily(t *testing.T) {
	src := `
policy_ruleset "v6-only" {
  family = "ipv6"
  rule {
    label  = "deny"
    action = "deny"
  }
}
firewall "gw2" {
  policies = ["v6-only"]
}
`
	store, err := loader.LoadBytes("v6.hcl", []byte(src))
	require.NoError(t, err)
	fw := findFirewall(store, "gw2")

	d := New(store)
	result, err := d.CompileFirewall(fw, objectmodel.FamilyIPv4, BackendIPTables, compilectx.Options{})
	require.NoError(t, err)
	assert.NotContains(t, result.Output, "deny")
}

func TestChainRunsStepsInOrderAndStopsOnError(t *testing.T) {
	var order []string
	first := preprocessorFunc(func(*objectmodel.Store, *objectmodel.Object) error {
		order = append(order, "first")
		return nil
	})
	second := preprocessorFunc(func(*objectmodel.Store, *objectmodel.Object) error {
		order = append(order, "second")
		return assert.AnError
	})
	third := preprocessorFunc(func(*objectmodel.Store, *objectmodel.Object) error {
		order = append(order, "third")
		return nil
	})

	err := Chain(first, second, third).Preprocess(nil, nil)
	assert.Error(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
}

type preprocessorFunc func(store *objectmodel.Store, fw *objectmodel.Object) error

func (f preprocessorFunc) Preprocess(store *objectmodel.Store, fw *objectmodel.Object) error {
	return f(store, fw)
}

const natAndRoutingHCL = `
address "wan-gw" {
  kind = "ipv4"
  ip   = "203.0.113.1"
}

interface "eth0" {}
interface "wan0" {}

nat_ruleset "outbound" {
  family = "ipv4"
  rule {
    label      = "masq-lan"
    masquerade = true
  }
}

routing_ruleset "default" {
  rule {
    label     = "default-route"
    gateway   = ["wan-gw"]
    interface = ["wan0"]
    metric    = 10
  }
}

firewall "gw3" {
  interfaces = ["eth0", "wan0"]
  nats       = ["outbound"]
  routings   = ["default"]
}
`

func TestCompileFirewallCompilesNATAndRouting(t *testing.T) {
	store, err := loader.LoadBytes("nat.hcl", []byte(natAndRoutingHCL))
	require.NoError(t, err)
	fw := findFirewall(store, "gw3")
	require.NotNil(t, fw)

	d := New(store)
	result, err := d.CompileFirewall(fw, objectmodel.FamilyIPv4, BackendIPTables, compilectx.Options{})
	require.NoError(t, err)

	assert.Contains(t, result.Output, "*nat")
	assert.Contains(t, result.Output, "COMMIT")
	assert.Contains(t, result.Output, "ip route add default via 203.0.113.1 dev wan0 metric 10")
}

func TestCompileFirewallNFTablesBackend(t *testing.T) {
	store, err := loader.LoadBytes("sample.hcl", []byte(sampleHCL))
	require.NoError(t, err)
	fw := findFirewall(store, "gw1")
	require.NotNil(t, fw)

	d := New(store)
	result, err := d.CompileFirewall(fw, objectmodel.FamilyIPv4, BackendNFTables, compilectx.Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Output)
}
