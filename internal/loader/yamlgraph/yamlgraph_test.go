// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package yamlgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/flywall/internal/objectmodel"
)

const sampleYAML = `
address:
  - name: lan-net
    kind: network
    ip: 192.168.1.0/24
service:
  - name: http
    kind: tcp
    dst_port_from: 80
    dst_port_to: 80
interface:
  - name: eth0
policy_ruleset:
  - name: edge
    family: ipv4
    rule:
      - label: allow-lan-http
        source: [lan-net]
        service: [http]
        action: accept
      - label: deny-rest
        action: deny
firewall:
  - name: gw1
    platform: linux
    interfaces: [eth0]
    policies: [edge]
`

func TestLoadBytesBuildsCompleteGraph(t *testing.T) {
	store, err := LoadBytes([]byte(sampleYAML))
	require.NoError(t, err)

	var fw *objectmodel.Object
	for _, o := range store.All() {
		if o.Kind == objectmodel.KindFirewall && o.Name == "gw1" {
			fw = o
		}
	}
	require.NotNil(t, fw)
	assert.Len(t, fw.HostFW.Interfaces, 1)
	assert.Len(t, fw.HostFW.Policies, 1)
}

func TestDecodeProducesOneAddressBlock(t *testing.T) {
	doc, err := Decode([]byte(sampleYAML))
	require.NoError(t, err)
	require.Len(t, doc.Addresses, 1)
	assert.Equal(t, "lan-net", doc.Addresses[0].Name)
	assert.Equal(t, "network", doc.Addresses[0].Kind)
}

func TestLoadBytesRejectsMalformedYAML(t *testing.T) {
	_, err := LoadBytes([]byte("address: [this is not a mapping"))
	assert.Error(t, err)
}
