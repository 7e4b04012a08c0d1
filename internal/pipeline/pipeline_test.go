// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doubleStep(upstream Puller[int], push func(int)) (bool, error) {
	v, ok, err := upstream.PullOne()
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	push(v * 2)
	return false, nil
}

func TestStagePullOneDoublesEachValue(t *testing.T) {
	src := NewSourceStage([]int{1, 2, 3})
	stage := NewStage("double", KindTransform, src, doubleStep)

	out, err := Drain[int](stage)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 6}, out)
}

func TestStageDoneOnEmptySource(t *testing.T) {
	src := NewSourceStage([]int{})
	stage := NewStage("double", KindTransform, src, doubleStep)

	out, err := Drain[int](stage)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestSlurpPropagatesError(t *testing.T) {
	errStep := func(upstream Puller[int], push func(int)) (bool, error) {
		return false, assert.AnError
	}
	stage := NewStage("erroring", KindTransform, NewSourceStage([]int{1}), errStep)

	_, err := Slurp[int](stage)
	assert.Error(t, err)
}

func TestNameAndKind(t *testing.T) {
	stage := NewStage("mystage", KindFilter, nil, doubleStep)
	assert.Equal(t, "mystage", stage.Name())
	assert.Equal(t, KindFilter, stage.Kind())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "source", KindSource.String())
	assert.Equal(t, "emitter", KindEmitter.String())
	assert.Equal(t, "unknown", Kind(255).String())
}
