// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package compilectx defines the shared, read-only-ish value passed to every
// pipeline stage (spec.md §4.6): the target firewall, the scratch store, the
// active address family/table, firewall options, interface lookup tables,
// chain-usage bookkeeping, and the diagnostics sink.
package compilectx

import (
	"grimm.is/flywall/internal/diag"
	"grimm.is/flywall/internal/objectmodel"
	"grimm.is/flywall/internal/pipeline"
)

// Table is the iptables table a policy compile targets.
type Table uint8

const (
	TableFilter Table = iota
	TableMangle
)

func (t Table) String() string {
	if t == TableMangle {
		return "mangle"
	}
	return "filter"
}

// Options mirrors the firewall-options view of spec.md §4.6: classification-
// of-packets / log-all / ip-forward / firewall-is-part-of-any-and-networks /
// ignore-empty-groups / check-shading / local-nat, plus anything else a
// platform option bag carries.
type Options struct {
	ClassifyPackets              bool
	LogAll                       bool
	IPForward                    bool
	FirewallIsPartOfAnyAndNetworks bool
	IgnoreEmptyGroups            bool
	CheckShading                 bool
	LocalNAT                     bool
	DefaultRejectWith            string // action_on_reject fallback
}

// Context is passed by value to constructors and by pointer is never
// required to be mutated concurrently — each (firewall, family) compile
// owns its own Context (spec.md §5's "independent compiles... share only
// the read-only source graph").
type Context struct {
	Store    *objectmodel.Store
	Firewall *objectmodel.Object // the firewall object.Kind == KindFirewall
	Cluster  *objectmodel.Object // nil if Firewall is not clustered

	Family objectmodel.Family
	Table  Table

	RuleSet *objectmodel.Object // the rule set currently being compiled

	Options Options

	Diagnostics *diag.Sink

	ifaceByName  map[string]objectmodel.Handle
	chainUsage   map[string]int
	chainsSeen   map[string]bool
	tempChainSeq int

	Debug pipeline.DebugFilter
}

// New builds a Context for one (firewall, family) compile.
func New(store *objectmodel.Store, fw *objectmodel.Object, fam objectmodel.Family, opts Options, sink *diag.Sink) *Context {
	c := &Context{
		Store:       store,
		Firewall:    fw,
		Family:      fam,
		Options:     opts,
		Diagnostics: sink,
		ifaceByName: make(map[string]objectmodel.Handle),
		chainUsage:  make(map[string]int),
		chainsSeen:  make(map[string]bool),
	}
	if fw != nil && fw.HostFW != nil {
		if fw.HostFW.ClusterOf != objectmodel.InvalidHandle {
			if cl, ok := store.Get(fw.HostFW.ClusterOf); ok {
				c.Cluster = cl
			}
		}
		for _, ih := range fw.HostFW.Interfaces {
			if iface, ok := store.Get(ih); ok {
				c.ifaceByName[iface.Name] = ih
			}
		}
	}
	return c
}

// InterfaceByName backs spec.md §4.6's "interface-lookup table (by name...)".
func (c *Context) InterfaceByName(name string) (*objectmodel.Object, bool) {
	h, ok := c.ifaceByName[name]
	if !ok {
		return nil, false
	}
	return c.Store.Get(h)
}

// Interfaces returns every interface owned by the compiling firewall.
func (c *Context) Interfaces() []*objectmodel.Object {
	out := make([]*objectmodel.Object, 0, len(c.ifaceByName))
	for _, h := range c.ifaceByName {
		if o, ok := c.Store.Get(h); ok {
			out = append(out, o)
		}
	}
	return out
}

// NoteChainUse increments the usage counter for chain, implementing spec.md
// §4.2-26's countChainUsage bookkeeping; the emitter skips -N creation (and
// all rules in) chains whose counter stays at zero.
func (c *Context) NoteChainUse(chain string) {
	c.chainUsage[chain]++
}

// ChainUsage returns how many times chain was referenced as a jump/branch
// target.
func (c *Context) ChainUsage(chain string) int {
	return c.chainUsage[chain]
}

// MarkChainSeen records that chain has already had its -N declaration
// emitted, for the emitter's per-chain dedup (spec.md §4.4).
func (c *Context) MarkChainSeen(chain string) bool {
	if c.chainsSeen[chain] {
		return true
	}
	c.chainsSeen[chain] = true
	return false
}

// FreshChainName allocates a deterministic temp-chain name built from a
// prefix and a monotonically increasing counter shared by every prefix in
// this Context (so the numbers under one prefix need not be consecutive),
// matching spec.md §5's "chain creation order matches first-use order in
// emission" ordering guarantee.
func (c *Context) FreshChainName(prefix string) string {
	c.tempChainSeq++
	return prefix + "_" + itoa(c.tempChainSeq)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
