// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ifaceinfo resolves live kernel interface state for interfaces
// marked Dynamic in the object model (spec.md §6.1's is_dynamic/addresses()
// facade), so a compile against a "dynamic" interface reflects the
// address the kernel currently holds rather than only the statically
// declared list. Grounded on the teacher's own netlink usage in
// internal/services/ha/netlink_linux.go.
package ifaceinfo

import (
	"net"
	"strings"

	"grimm.is/flywall/internal/objectmodel"
)

// Info is the live state resolved for one interface.
type Info struct {
	Addresses []string // CIDR-notation addresses currently bound to the link
	Up        bool
}

// Resolver implements driver.Preprocessor, stamping AddressData.Resolved
// for every Dynamic interface's member addresses from the live link state
// reported by the kernel.
type Resolver struct {
	lookup func(name string) (*Info, error)
}

// New builds a Resolver backed by the real netlink subsystem.
func New() *Resolver {
	return &Resolver{lookup: lookupLive}
}

// Preprocess walks the firewall's interfaces and, for each one marked
// Dynamic, replaces its declared address list's resolved IPs with the
// kernel's current view. A link that can't be found is left untouched
// (the firewall being compiled need not be the machine being compiled on).
func (r *Resolver) Preprocess(store *objectmodel.Store, fw *objectmodel.Object) error {
	if fw == nil || fw.HostFW == nil {
		return nil
	}
	for _, ih := range fw.HostFW.Interfaces {
		iface, ok := store.Get(ih)
		if !ok || iface.Iface == nil || !iface.Iface.Dynamic {
			continue
		}
		info, err := r.lookup(iface.Name)
		if err != nil {
			continue
		}
		for _, ah := range iface.Iface.Addresses {
			addrObj, ok := store.Get(ah)
			if !ok || addrObj.Address == nil {
				continue
			}
			addrObj.Address.Resolved = parseAll(info.Addresses)
		}
	}
	return nil
}

// parseAll parses a list of CIDR-notation addresses, discarding the mask
// and any entry that fails to parse as a live-lookup result is expected to
// always be well-formed.
func parseAll(cidrs []string) []net.IP {
	var out []net.IP
	for _, c := range cidrs {
		ipStr := c
		if i := strings.IndexByte(c, '/'); i >= 0 {
			ipStr = c[:i]
		}
		if ip := net.ParseIP(ipStr); ip != nil {
			out = append(out, ip)
		}
	}
	return out
}
