// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policypipeline

import (
	"fmt"
	"io"
	"strings"

	"grimm.is/flywall/internal/compilectx"
	"grimm.is/flywall/internal/objectmodel"
	"grimm.is/flywall/internal/pipeline"
)

// namedPhase pairs a stage's diagnostic name with its StepFunc, so Build can
// wire each one through pipeline.NewStage and, when debugging is enabled,
// interleave an Interceptor after it (spec.md §4.1, §6.3).
type namedPhase struct {
	name string
	step pipeline.StepFunc[*Rule]
}

// Build links the full ~25-phase chain (spec.md §4.2) over the source rules
// already copied into scratch form by the driver, returning the terminal
// Puller the emitter should drain. debugOut may be nil to disable the
// per-stage trace entirely.
func Build(ctx *compilectx.Context, source []*Rule, filter pipeline.DebugFilter, debugOut io.Writer) pipeline.Puller[*Rule] {
	phases := []namedPhase{
		{"init", stageInit(ctx)},
		{"table-routing", stageTableRouting(ctx)},
		{"action-snapshot", stageActionSnapshot()},
		{"interface-normalize", stageInterfaceNormalize(ctx)},
		{"direction-normalize", stageDirectionNormalize()},
		{"group-validation", stageGroupValidation(ctx)},
		{"negation", stageNegation(ctx)},
		{"logging", stageLogging(ctx)},
		{"tag-classify-route-split", stageTagClassifyRouteSplit(ctx)},
		{"group-expand", stageGroupExpand(ctx)},
		{"any-split", stageAnySplit(ctx)},
		{"mangle-chain-assign", stageMangleChainAssign(ctx)},
		{"address-expand", stageAddressExpand(ctx)},
		{"firewall-overlap-split", stageFirewallOverlapSplit(ctx)},
		{"per-interface-atomize", stagePerInterfaceAtomize(ctx)},
		{"address-family-filter", stageAddressFamilyFilter(ctx)},
		{"chain-select", stageChainSelect(ctx)},
		{"target-select", stageTargetSelect(ctx)},
		{"firewall-ref-strip", stageFirewallRefStrip(ctx)},
		{"reject-split", stageRejectSplit(ctx)},
		{"service-normalize", stageServiceNormalize(ctx)},
		{"optimize-1a", stageOptimize1(ctx)},
		{"optimize-1b", stageOptimize1(ctx)},
		{"optimize-1c", stageOptimize1(ctx)},
		{"optimize-2", stageOptimize2()},
		{"optimize-iface-plus", stageOptimizeIfacePlus()},
		{"optimize-3", stageOptimize3()},
		{"atomize-emission", stageAtomizeEmission()},
		{"prepare-multiport", stagePrepareMultiport(ctx)},
		{"pre-emit-validation", stagePreEmitValidation(ctx)},
	}

	var p pipeline.Puller[*Rule] = pipeline.NewSourceStage(source)
	for _, ph := range phases {
		stage := pipeline.NewStage("policy:"+ph.name, pipeline.KindTransform, p, ph.step)
		p = stage
		p = pipeline.WrapIfEnabled(ph.name, p, filter, pipeline.RuleSetPolicy, true, rulePosition, RenderDebugLine, debugOut)
	}
	return p
}

func rulePosition(r *Rule) int { return r.Position }

// RenderDebugLine is the canonical per-rule one-liner spec.md §4.1's debug
// harness prints: source/destination/service/interface with negation
// prefixes, direction code, action code, chain, and target.
func RenderDebugLine(r *Rule) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d ", r.Position)
	writeElement(&b, "src", r.Source, r.SingleObjNegSrc)
	writeElement(&b, "dst", r.Destination, r.SingleObjNegDst)
	writeElement(&b, "svc", r.Service, r.SingleObjNegSrv)
	writeElement(&b, "itf", r.Interface, r.SingleObjNegItf)
	fmt.Fprintf(&b, "dir=%s action=%s chain=%s target=%s", r.Direction, r.Action, r.Chain, r.Target)
	return b.String()
}

func writeElement(b *strings.Builder, label string, e objectmodel.Element, singleNeg bool) {
	fmt.Fprintf(b, "%s=", label)
	if singleNeg {
		b.WriteString("!")
	}
	if e.Negation {
		b.WriteString("!")
	}
	if e.IsAny() {
		b.WriteString("any")
	} else {
		fmt.Fprintf(b, "%v", e.Objects)
	}
	b.WriteString(" ")
}
