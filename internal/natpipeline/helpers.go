// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package natpipeline

import (
	"grimm.is/flywall/internal/compilectx"
	"grimm.is/flywall/internal/objectmodel"
	"grimm.is/flywall/internal/policypipeline"
)

// Chain name constants are shared with the policy pipeline: both target the
// same five iptables built-in chains.
const (
	ChainInput       = policypipeline.ChainInput
	ChainOutput      = policypipeline.ChainOutput
	ChainForward     = policypipeline.ChainForward
	ChainPrerouting  = policypipeline.ChainPrerouting
	ChainPostrouting = policypipeline.ChainPostrouting
)

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
		if o.ID == fw.ID || ctx.Store.ComplexMatch(o, fw) {
			return true
		}
	}
	return false
}

func replaceFirewallWithInterfaces(ctx *compilectx.Context, e *objectmodel.Element) {
	fw := ctx.Firewall
	if fw == nil {
		return
	}
	var out []objectmodel.Handle
	for _, h := range e.Objects {
		o, ok := ctx.Store.Get(h)
		if ok && (o.ID == fw.ID || o.Kind == objectmodel.KindFirewall || o.Kind == objectmodel.KindCluster) {
			if o.HostFW != nil {
				out = append(out, o.HostFW.Interfaces...)
				continue
			}
		}
		out = append(out, h)
	}
	e.Objects = out
}
