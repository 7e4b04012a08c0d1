// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package driver implements the per-firewall orchestrator of spec.md §2:
// for each (firewall, address-family) pair it runs preprocessing, builds
// and runs the policy pipeline (once per table, for the iptables backend),
// the NAT pipeline, and the routing pipeline, then concatenates the
// results with a header, flush/clear commands, and predefined boilerplate.
package driver

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"grimm.is/flywall/internal/compilectx"
	"grimm.is/flywall/internal/diag"
	iptemit "grimm.is/flywall/internal/emit/iptables"
	nftemit "grimm.is/flywall/internal/emit/nftables"
	"grimm.is/flywall/internal/natpipeline"
	"grimm.is/flywall/internal/nftpipeline"
	"grimm.is/flywall/internal/objectmodel"
	"grimm.is/flywall/internal/pipeline"
	"grimm.is/flywall/internal/policypipeline"
	"grimm.is/flywall/internal/routingpipeline"
)

// Backend selects the target command language (spec.md §6.2).
type Backend string

const (
	BackendIPTables            Backend = "iptables"
	BackendIPTablesRestore     Backend = "iptables-restore"
	BackendIPTablesRestoreEcho Backend = "iptables-restore-echo"
	BackendNFTables            Backend = "nftables"
)

// Preprocessor resolves DNS names and address-table file references before
// a compile begins (spec.md §2 "preprocessor resolves DNS/address
// tables"). The concrete implementations (internal/resolve,
// internal/loader's address-table reader) are external collaborators; the
// driver only needs the narrow seam.
type Preprocessor interface {
	Preprocess(store *objectmodel.Store, fw *objectmodel.Object) error
}

// NoopPreprocessor skips DNS/address-table resolution, for compiles over a
// graph that was already fully resolved at load time (or has no such
// objects at all).
type NoopPreprocessor struct{}

// Preprocess implements Preprocessor by doing nothing.
func (NoopPreprocessor) Preprocess(*objectmodel.Store, *objectmodel.Object) error { return nil }

// Chain runs each Preprocessor in order, stopping at the first error. Used
// to combine internal/resolve's DNS-resolution pass with internal/geo's
// country-code stamping pass ahead of a single compile.
func Chain(steps ...Preprocessor) Preprocessor {
	return chainedPreprocessor(steps)
}

type chainedPreprocessor []Preprocessor

func (c chainedPreprocessor) Preprocess(store *objectmodel.Store, fw *objectmodel.Object) error {
	for _, step := range c {
		if err := step.Preprocess(store, fw); err != nil {
			return err
		}
	}
	return nil
}

// Result is one (firewall, family) compile's finished artifact.
type Result struct {
	Firewall string
	Family   objectmodel.Family
	Output   string
	Status   string // diag.Sink.Status()
	Warnings int     // diag.Sink.WarningCount(), for per-severity reporting (the -serve metrics exporter)
	Errors   int     // diag.Sink.ErrorCount()
}

// Driver runs compiles over a read-only object-model Store (spec.md §5:
// "the driver does not mutate the source graph").
type Driver struct {
	Store        *objectmodel.Store
	Preprocessor Preprocessor
	DebugOut     io.Writer
	DebugFilter  pipeline.DebugFilter
	Version      string // stamped into the header per spec.md §6.2/§6.4
}

// New builds a Driver over store with a no-op preprocessor; callers with a
// resolver/GeoIP backend should set d.Preprocessor afterward.
func New(store *objectmodel.Store) *Driver {
	return &Driver{Store: store, Preprocessor: NoopPreprocessor{}, Version: "dev"}
}

// CompileFirewall runs the full per-firewall pipeline sequence of spec.md
// §2 for one (firewall, family) pair and returns the assembled artifact.
// Independent calls over different (firewall, family) pairs may run
// concurrently (spec.md §5): CompileFirewall itself allocates its own
// compilectx.Context and scratch copies and never mutates d.Store.
func (d *Driver) CompileFirewall(fw *objectmodel.Object, fam objectmodel.Family, backend Backend, opts compilectx.Options) (*Result, error) {
	if fw == nil || fw.HostFW == nil {
		return nil, fmt.Errorf("driver: not a firewall object")
	}
	if err := d.Preprocessor.Preprocess(d.Store, fw); err != nil {
		return nil, fmt.Errorf("driver: preprocess: %w", err)
	}

	sink := diag.NewSink()
	var body strings.Builder

	for _, rsH := range fw.HostFW.NATs {
		rs, ok := d.Store.Get(rsH)
		if !ok || rs.RuleSet == nil || !familyApplies(rs.RuleSet.Family, fam) {
			continue
		}
		out, err := d.compileNAT(fw, rs, fam, backend, opts, sink)
		if err != nil {
			return nil, err
		}
		body.WriteString(out)
	}
	for _, rsH := range fw.HostFW.Policies {
		rs, ok := d.Store.Get(rsH)
		if !ok || rs.RuleSet == nil || !familyApplies(rs.RuleSet.Family, fam) {
			continue
		}
		out, err := d.compilePolicy(fw, rs, fam, backend, opts, sink)
		if err != nil {
			return nil, err
		}
		body.WriteString(out)
	}
	for _, rsH := range fw.HostFW.Routings {
		rs, ok := d.Store.Get(rsH)
		if !ok || rs.RuleSet == nil || !familyApplies(rs.RuleSet.Family, fam) {
			continue
		}
		out, err := d.compileRouting(fw, rs, fam, opts, sink)
		if err != nil {
			return nil, err
		}
		body.WriteString(out)
	}

	var final strings.Builder
	fmt.Fprintf(&final, "#!/bin/sh\n# Generated by flywall-compile for %s\n", fw.Name)
	fmt.Fprintf(&final, "# flywall-compile v%s\n", d.Version)
	fmt.Fprintln(&final, "$IPTABLES -F")
	final.WriteString(body.String())
	final.WriteString("# end of compiled output\n")

	return &Result{
		Firewall: fw.Name,
		Family:   fam,
		Output:   final.String(),
		Status:   sink.Status(),
		Warnings: sink.WarningCount(),
		Errors:   sink.ErrorCount(),
	}, nil
}

func familyApplies(rsFam, compileFam objectmodel.Family) bool {
	return rsFam == objectmodel.FamilyBoth || rsFam == compileFam
}

func (d *Driver) newPolicyCtx(fw, rs *objectmodel.Object, fam objectmodel.Family, table compilectx.Table, opts compilectx.Options, sink *diag.Sink) *compilectx.Context {
	ctx := compilectx.New(d.Store, fw, fam, opts, sink)
	ctx.Table = table
	ctx.RuleSet = rs
	return ctx
}

func (d *Driver) sourceRules(rs *objectmodel.Object) []*policypipeline.Rule {
	var out []*policypipeline.Rule
	for _, h := range rs.RuleSet.Rules {
		o, ok := d.Store.Get(h)
		if !ok || o.PolicyRule == nil || o.PolicyRule.Disabled {
			continue
		}
		out = append(out, policypipeline.FromPolicyRule(o.PolicyRule))
	}
	return out
}

func (d *Driver) compilePolicy(fw, rs *objectmodel.Object, fam objectmodel.Family, backend Backend, opts compilectx.Options, sink *diag.Sink) (string, error) {
	if backend == BackendNFTables {
		return d.compilePolicyNFT(fw, rs, fam, opts, sink)
	}

	var out strings.Builder
	for _, table := range []compilectx.Table{compilectx.TableFilter, compilectx.TableMangle} {
		ctx := d.newPolicyCtx(fw, rs, fam, table, opts, sink)
		source := d.sourceRules(rs)
		if shadowErr := policypipeline.DetectShadows(ctx, source); shadowErr != nil {
			return "", shadowErr
		}
		terminal := policypipeline.Build(ctx, source, d.DebugFilter, d.DebugOut)
		emitter := iptemit.NewPolicyEmitter(ctx)
		if err := drainPolicy(terminal, emitter); err != nil {
			return "", err
		}
		switch backend {
		case BackendIPTablesRestore:
			out.WriteString(emitter.RestoreFormat())
		case BackendIPTablesRestoreEcho:
			out.WriteString(emitter.RestoreWithEcho())
		default:
			out.WriteString(emitter.PlainShell())
		}
	}
	return out.String(), nil
}

func drainPolicy(p pipeline.Puller[*policypipeline.Rule], e *iptemit.PolicyEmitter) error {
	for {
		r, ok, err := p.PullOne()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		e.Add(r)
	}
}

func (d *Driver) compilePolicyNFT(fw, rs *objectmodel.Object, fam objectmodel.Family, opts compilectx.Options, sink *diag.Sink) (string, error) {
	ctx := d.newPolicyCtx(fw, rs, fam, compilectx.TableFilter, opts, sink)
	var source []*nftpipeline.Rule
	for _, h := range rs.RuleSet.Rules {
		o, ok := d.Store.Get(h)
		if !ok || o.PolicyRule == nil || o.PolicyRule.Disabled {
			continue
		}
		source = append(source, nftpipeline.FromPolicyRule(o.PolicyRule))
	}
	terminal := nftpipeline.Build(ctx, source, d.DebugFilter, d.DebugOut)
	emitter := nftemit.NewEmitter(ctx)
	for {
		r, ok, err := terminal.PullOne()
		if err != nil {
			return "", err
		}
		if !ok {
			break
		}
		emitter.Add(r)
	}
	return emitter.Batch(), nil
}

func (d *Driver) compileNAT(fw, rs *objectmodel.Object, fam objectmodel.Family, backend Backend, opts compilectx.Options, sink *diag.Sink) (string, error) {
	ctx := compilectx.New(d.Store, fw, fam, opts, sink)
	ctx.RuleSet = rs

	var source []*natpipeline.Rule
	for _, h := range rs.RuleSet.Rules {
		o, ok := d.Store.Get(h)
		if !ok || o.NATRule == nil || o.NATRule.Disabled {
			continue
		}
		source = append(source, natpipeline.FromNATRule(o.NATRule))
	}
	terminal := natpipeline.Build(ctx, source, d.DebugFilter, d.DebugOut)

	if backend == BackendNFTables {
		emitter := nftemit.NewNATEmitter(ctx)
		for {
			r, ok, err := terminal.PullOne()
			if err != nil {
				return "", err
			}
			if !ok {
				break
			}
			emitter.Add(r)
		}
		return emitter.Batch(), nil
	}

	emitter := iptemit.NewNATEmitter(ctx)
	for {
		r, ok, err := terminal.PullOne()
		if err != nil {
			return "", err
		}
		if !ok {
			break
		}
		emitter.Add(r)
	}
	var out strings.Builder
	out.WriteString("*nat\n")
	for _, line := range emitter.RenderChains() {
		fmt.Fprintf(&out, "$IPTABLES -w -t nat %s\n", line)
	}
	out.WriteString("COMMIT\n")
	return out.String(), nil
}

func (d *Driver) compileRouting(fw, rs *objectmodel.Object, fam objectmodel.Family, opts compilectx.Options, sink *diag.Sink) (string, error) {
	ctx := compilectx.New(d.Store, fw, fam, opts, sink)
	ctx.RuleSet = rs

	var source []*routingpipeline.Rule
	for _, h := range rs.RuleSet.Rules {
		o, ok := d.Store.Get(h)
		if !ok || o.RoutingRule == nil {
			continue
		}
		source = append(source, routingpipeline.FromRoutingRule(o.RoutingRule))
	}
	lines, err := routingpipeline.Run(ctx, source)
	if err != nil {
		return "", err
	}
	sort.Strings(lines) // deterministic output regardless of map-iteration order upstream
	var out strings.Builder
	for _, l := range lines {
		out.WriteString(l)
		out.WriteString("\n")
	}
	return out.String(), nil
}
