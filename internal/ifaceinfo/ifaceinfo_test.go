// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ifaceinfo

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/flywall/internal/objectmodel"
)

func TestPreprocessStampsResolvedAddressesForDynamicInterfaces(t *testing.T) {
	store := objectmodel.NewStore()
	addr := store.Alloc(objectmodel.KindAddressIPv4, "wan-addr")
	addr.Address = &objectmodel.AddressData{}

	iface := store.Alloc(objectmodel.KindInterface, "eth0")
	iface.Iface = &objectmodel.InterfaceData{Dynamic: true, Addresses: []objectmodel.Handle{addr.ID}}

	fw := store.Alloc(objectmodel.KindFirewall, "gw1")
	fw.HostFW = &objectmodel.HostData{Interfaces: []objectmodel.Handle{iface.ID}}

	r := &Resolver{lookup: func(name string) (*Info, error) {
		assert.Equal(t, "eth0", name)
		return &Info{Addresses: []string{"203.0.113.5/24"}, Up: true}, nil
	}}

	err := r.Preprocess(store, fw)
	require.NoError(t, err)
	require.Len(t, addr.Address.Resolved, 1)
	assert.Equal(t, "203.0.113.5", addr.Address.Resolved[0].String())
}

func TestPreprocessSkipsStaticInterfaces(t *testing.T) {
	store := objectmodel.NewStore()
	addr := store.Alloc(objectmodel.KindAddressIPv4, "static-addr")
	addr.Address = &objectmodel.AddressData{}

	iface := store.Alloc(objectmodel.KindInterface, "eth1")
	iface.Iface = &objectmodel.InterfaceData{Dynamic: false, Addresses: []objectmodel.Handle{addr.ID}}

	fw := store.Alloc(objectmodel.KindFirewall, "gw1")
	fw.HostFW = &objectmodel.HostData{Interfaces: []objectmodel.Handle{iface.ID}}

	r := &Resolver{lookup: func(name string) (*Info, error) {
		t.Fatalf("lookup should not be called for a static interface")
		return nil, nil
	}}

	err := r.Preprocess(store, fw)
	require.NoError(t, err)
	assert.Empty(t, addr.Address.Resolved)
}

func TestPreprocessToleratesLookupFailure(t *testing.T) {
	store := objectmodel.NewStore()
	iface := store.Alloc(objectmodel.KindInterface, "eth0")
	iface.Iface = &objectmodel.InterfaceData{Dynamic: true}
	fw := store.Alloc(objectmodel.KindFirewall, "gw1")
	fw.HostFW = &objectmodel.HostData{Interfaces: []objectmodel.Handle{iface.ID}}

	r := &Resolver{lookup: func(name string) (*Info, error) {
		return nil, fmt.Errorf("link not found")
	}}

	err := r.Preprocess(store, fw)
	assert.NoError(t, err)
}

func TestParseAllStripsCIDRSuffix(t *testing.T) {
	ips := parseAll([]string{"10.0.0.1/24", "not-an-ip", "2001:db8::1/64"})
	require.Len(t, ips, 2)
	assert.Equal(t, "10.0.0.1", ips[0].String())
	assert.Equal(t, "2001:db8::1", ips[1].String())
}
