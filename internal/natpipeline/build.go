// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package natpipeline

import (
	"io"

	"grimm.is/flywall/internal/compilectx"
	"grimm.is/flywall/internal/pipeline"
)

type namedPhase struct {
	name string
	step pipeline.StepFunc[*Rule]
}

// Build links the full NAT stage chain (spec.md §4.3) over the source rules
// already copied into scratch form by the driver, returning the terminal
// Puller the emitter should drain.
func Build(ctx *compilectx.Context, source []*Rule, filter pipeline.DebugFilter, debugOut io.Writer) pipeline.Puller[*Rule] {
	phases := []namedPhase{
		{"begin-negation", stageBeginNegation(ctx)},
		{"expand-and-filter", stageExpandAndFilter(ctx)},
		{"classify", stageClassify(ctx)},
		{"verify-negation", stageVerifyNegation()},
		{"port-translation-normalize", stagePortTranslationNormalize(ctx)},
		{"redirect-detect", stageRedirectDetect(ctx)},
		{"nonat-split", stageNONATSplit(ctx)},
		{"chain-select", stageChainSelect()},
		{"target-select", stageTargetSelect(ctx)},
		{"replace-firewall-objects", stageReplaceFirewallObjects(ctx)},
		{"service-group-multiport", stageServiceGroupAndMultiport()},
		{"atomize", stageAtomize()},
		{"assign-interface-count", stageAssignInterfaceAndCount(ctx)},
	}

	var p pipeline.Puller[*Rule] = pipeline.NewSourceStage(source)
	for _, ph := range phases {
		stage := pipeline.NewStage("nat:"+ph.name, pipeline.KindTransform, p, ph.step)
		p = stage
		p = pipeline.WrapIfEnabled(ph.name, p, filter, pipeline.RuleSetNAT, true, rulePosition, RenderDebugLine, debugOut)
	}
	return p
}

func rulePosition(r *Rule) int { return r.Position }

// RenderDebugLine is the NAT pipeline's canonical per-rule debug one-liner.
func RenderDebugLine(r *Rule) string {
	return "#" + itoa(r.Position) + " variant=" + r.Variant.String() + " chain=" + r.Chain + " target=" + r.Target
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
