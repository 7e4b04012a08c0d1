// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux
// +build linux

package ifaceinfo

import (
	"fmt"

	"github.com/vishvananda/netlink"
)

// lookupLive asks the kernel for ifName's current address list and
// operational state, following the same LinkByName/AddrList shape as
// internal/services/ha/netlink_linux.go's addIPAddress/removeIPAddress.
func lookupLive(ifName string) (*Info, error) {
	link, err := netlink.LinkByName(ifName)
	if err != nil {
		return nil, fmt.Errorf("ifaceinfo: interface %s not found: %w", ifName, err)
	}
	addrs, err := netlink.AddrList(link, netlink.FAMILY_ALL)
	if err != nil {
		return nil, fmt.Errorf("ifaceinfo: list addresses on %s: %w", ifName, err)
	}
	info := &Info{Up: link.Attrs().OperState == netlink.OperUp}
	for _, a := range addrs {
		info.Addresses = append(info.Addresses, a.IPNet.String())
	}
	return info, nil
}
