// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nftpipeline

import (
	"fmt"
	"io"
	"strings"

	"grimm.is/flywall/internal/compilectx"
	"grimm.is/flywall/internal/objectmodel"
	"grimm.is/flywall/internal/pipeline"
)

type namedPhase struct {
	name string
	step pipeline.StepFunc[*Rule]
}

// Build links the ~9-phase nftables policy chain (spec.md §4.5: "~30
// policy stages vs ~80 for iptables", compressed at the same phase
// granularity policypipeline uses). debugOut may be nil to disable tracing.
func Build(ctx *compilectx.Context, source []*Rule, filter pipeline.DebugFilter, debugOut io.Writer) pipeline.Puller[*Rule] {
	phases := []namedPhase{
		{"init", stageInit()},
		{"direction-normalize", stageDirectionNormalize()},
		{"group-validation", stageGroupValidation(ctx)},
		{"logging-nft", stageLoggingNFT()},
		{"group-expand", stageGroupExpand(ctx)},
		{"address-family-filter", stageAddressFamilyFilter(ctx)},
		{"chain-select", stageChainSelect(ctx)},
		{"verdict-select", stageVerdictSelect(ctx)},
		{"pre-emit-validation", stagePreEmitValidation(ctx)},
	}

	var p pipeline.Puller[*Rule] = pipeline.NewSourceStage(source)
	for _, ph := range phases {
		stage := pipeline.NewStage("nft:"+ph.name, pipeline.KindTransform, p, ph.step)
		p = stage
		p = pipeline.WrapIfEnabled(ph.name, p, filter, pipeline.RuleSetPolicy, true, rulePosition, RenderDebugLine, debugOut)
	}
	return p
}

func rulePosition(r *Rule) int { return r.Position }

// RenderDebugLine is the nftables pipeline's canonical per-rule debug view
// (spec.md §4.1, §6.3), mirroring policypipeline.RenderDebugLine.
func RenderDebugLine(r *Rule) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d ", r.Position)
	writeElement(&b, "src", r.Source)
	writeElement(&b, "dst", r.Destination)
	writeElement(&b, "svc", r.Service)
	writeElement(&b, "itf", r.Interface)
	fmt.Fprintf(&b, "dir=%s action=%s chain=%s verdict=%s", r.Direction, r.Action, r.Chain, r.Verdict)
	if r.Unsupported != "" {
		fmt.Fprintf(&b, " unsupported=%q", r.Unsupported)
	}
	return b.String()
}

func writeElement(b *strings.Builder, label string, e objectmodel.Element) {
	fmt.Fprintf(b, "%s=", label)
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
