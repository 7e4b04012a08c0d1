// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policypipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/flywall/internal/objectmodel"
	"grimm.is/flywall/internal/pipeline"
)

// spec.md §4.2-22 Optimize-2: a leaf rule (chain already assigned) whose
// action needs no protocol specificity must have its redundant Service
// re-match reset to "any".
func TestOptimize2ResetsServiceOnLeafRule(t *testing.T) {
	svc := objectmodel.Handle(1)
	r := &Rule{
		Chain:   "neg_abcd1234",
		Action:  objectmodel.ActionAccept,
		Service: objectmodel.Element{Objects: []objectmodel.Handle{svc}},
	}

	upstream := pipeline.NewSourceStage([]*Rule{r})
	step := stageOptimize2()
	_, err := step(upstream, func(out *Rule) {
		require.True(t, out.Service.IsAny(), "Optimize-2 must reset Service to any on a leaf rule")
	})
	require.NoError(t, err)
}

// A rule with no chain assigned yet (not a leaf rule) must be left alone.
func TestOptimize2LeavesNonLeafRuleAlone(t *testing.T) {
	svc := objectmodel.Handle(1)
	r := &Rule{
		Action:  objectmodel.ActionAccept,
		Service: objectmodel.Element{Objects: []objectmodel.Handle{svc}},
	}

	upstream := pipeline.NewSourceStage([]*Rule{r})
	step := stageOptimize2()
	_, err := step(upstream, func(out *Rule) {
		assert.False(t, out.Service.IsAny())
	})
	require.NoError(t, err)
}
