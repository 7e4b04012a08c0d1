// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux
// +build !linux

package ifaceinfo

import "fmt"

// lookupLive is a no-op off Linux; netlink has no non-Linux backend.
func lookupLive(ifName string) (*Info, error) {
	return nil, fmt.Errorf("ifaceinfo: live interface lookup unsupported on this platform")
}
