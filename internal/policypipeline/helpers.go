// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policypipeline

import (
	"grimm.is/flywall/internal/compilectx"
	"grimm.is/flywall/internal/objectmodel"
)

const (
	ChainInput       = "INPUT"
	ChainOutput      = "OUTPUT"
	ChainForward     = "FORWARD"
	ChainPrerouting  = "PREROUTING"
	ChainPostrouting = "POSTROUTING"
)

// matchesFirewall reports whether element e contains (or is) the compiling
// firewall, directly or via an owned interface address (spec.md §6.1
// complex_match, used throughout chain selection).
func matchesFirewall(ctx *compilectx.Context, e objectmodel.Element) bool {
	fw := ctx.Firewall
	if fw == nil {
		return false
	}
	for _, h := range e.Objects {
		o, ok := ctx.Store.Get(h)
		if !ok {
			continue
		}
		if o.ID == fw.ID {
			return true
		}
		if ctx.Store.ComplexMatch(o, fw) {
			return true
		}
	}
	return false
}

// isLoopback reports whether e names only the loopback interface.
func isLoopback(ctx *compilectx.Context, e objectmodel.Element) bool {
	h, ok := e.Single()
	if !ok {
		return false
	}
	o, ok := ctx.Store.Get(h)
	if !ok || o.Iface == nil {
		return false
	}
	return o.Iface.Loopback
}

// isBridgePort reports whether e names only a bridge-port interface.
func isBridgePort(ctx *compilectx.Context, e objectmodel.Element) bool {
	h, ok := e.Single()
	if !ok {
		return false
	}
	o, ok := ctx.Store.Get(h)
	if !ok || o.Iface == nil {
		return false
	}
	return o.Iface.BridgePort
}

func populationSize(e objectmodel.Element) int {
	return len(e.Objects)
}
