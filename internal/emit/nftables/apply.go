// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nftables

import (
	"fmt"

	"github.com/google/nftables"
	"github.com/google/nftables/binaryutil"
	"github.com/google/nftables/expr"

	"grimm.is/flywall/internal/nftpipeline"
	"grimm.is/flywall/internal/objectmodel"
)

// Apply builds the `table inet filter` directly against the kernel's
// nftables subsystem over a real netlink connection, as a structured
// alternative to the text Batch() above; no CLI flag or other code in this
// module calls it. This is `github.com/google/nftables`'s
// primary home in this repo (SPEC_FULL.md §11), replacing the teacher's
// hand-rolled ScriptBuilder text assembler with structured expr.Meta/
// expr.Cmp/expr.Verdict construction for this one backend.
//
// Only plain accept/drop/return verdict rules with at most a single-protocol
// match are applied this way; a rule that matches on addresses, interfaces,
// time or ports, has a negated or multi-object service, or logs is skipped
// here and left to the text Batch() path, which is always available and is
// what the driver uses by default.
func Apply(conn *nftables.Conn, store *objectmodel.Store, rules []*nftpipeline.Rule) error {
	table := conn.AddTable(&nftables.Table{
		Name:   "filter",
		Family: nftables.TableFamilyINet,
	})

	chains := map[string]*nftables.Chain{
		nftpipeline.ChainInput:   chainFor(conn, table, nftpipeline.ChainInput, nftables.ChainHookInput),
		nftpipeline.ChainOutput:  chainFor(conn, table, nftpipeline.ChainOutput, nftables.ChainHookOutput),
		nftpipeline.ChainForward: chainFor(conn, table, nftpipeline.ChainForward, nftables.ChainHookForward),
	}

	for _, r := range rules {
		if r.Unsupported != "" || (r.Verdict != "accept" && r.Verdict != "drop" && r.Verdict != "return") {
			continue
		}
		if !r.Source.IsAny() || !r.Destination.IsAny() || !r.Interface.IsAny() || !r.Time.IsAny() ||
			r.Service.Negation || r.Options.Log {
			continue
		}
		if !r.Service.IsAny() {
			h, _ := r.Service.Single()
			o, _ := store.Get(h)
			if _, single := singleProto(store, r.Service); !single ||
				o.Service.SrcPortFrom|o.Service.SrcPortTo|o.Service.DstPortFrom|o.Service.DstPortTo != 0 {
				continue
			}
		}
		chain, ok := chains[r.Chain]
		if !ok {
			continue
		}
		exprs, err := ruleExprs(store, r)
		if err != nil {
			return fmt.Errorf("nftables apply: rule %d: %w", r.Position, err)
		}
		conn.AddRule(&nftables.Rule{
			Table: table,
			Chain: chain,
			Exprs: exprs,
		})
	}
	return conn.Flush()
}

func chainFor(conn *nftables.Conn, table *nftables.Table, name string, hook *nftables.ChainHook) *nftables.Chain {
	policy := nftables.ChainPolicyDrop
	return conn.AddChain(&nftables.Chain{
		Name:     name,
		Table:    table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  hook,
		Priority: nftables.ChainPriorityFilter,
		Policy:   &policy,
	})
}

// ruleExprs translates the subset of a rendered rule this path supports:
// an optional single-protocol match plus a terminal verdict.
func ruleExprs(store *objectmodel.Store, r *nftpipeline.Rule) ([]expr.Any, error) {
	var exprs []expr.Any
	if proto, ok := singleProto(store, r.Service); ok {
		exprs = append(exprs,
			&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{binaryutil.NativeEndian.PutUint16(uint16(proto))[0]}},
		)
	}
	switch r.Verdict {
	case "accept":
		exprs = append(exprs, &expr.Verdict{Kind: expr.VerdictAccept})
	case "drop":
		exprs = append(exprs, &expr.Verdict{Kind: expr.VerdictDrop})
	case "return":
		exprs = append(exprs, &expr.Verdict{Kind: expr.VerdictReturn})
	default:
		return nil, fmt.Errorf("verdict %q not supported by the structured live-apply path", r.Verdict)
	}
	return exprs, nil
}

// singleProto returns the IP protocol number for svc when it names exactly
// one TCP/UDP/ICMP/ICMPv6/IP service object, for the narrow expr.Meta/expr.Cmp match
// this path builds.
func singleProto(store *objectmodel.Store, svc objectmodel.Element) (uint8, bool) {
	h, single := svc.Single()
	if !single {
		return 0, false
	}
	o, ok := store.Get(h)
	if !ok || o.Service == nil {
		return 0, false
	}
	switch o.Kind {
	case objectmodel.KindServiceTCP:
		return 6, true
	case objectmodel.KindServiceUDP:
		return 17, true
	case objectmodel.KindServiceICMP:
		return 1, true
	case objectmodel.KindServiceICMPv6:
		return 58, true
	case objectmodel.KindServiceIP:
		return uint8(o.Service.Protocol), true
	default:
		return 0, false
	}
}
