// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pipeline

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebugFilterMatches(t *testing.T) {
	f := DebugFilter{Kind: RuleSetPolicy, Position: 3, Enabled: true}
	assert.True(t, f.Matches(RuleSetPolicy, 3))
	assert.False(t, f.Matches(RuleSetPolicy, 4))
	assert.False(t, f.Matches(RuleSetNAT, 3))

	f.Enabled = false
	assert.False(t, f.Matches(RuleSetPolicy, 3))
}

func TestInterceptorPassesRulesThroughUnchanged(t *testing.T) {
	src := NewSourceStage([]int{1, 2, 3})
	var buf bytes.Buffer
	filter := DebugFilter{Kind: RuleSetPolicy, Position: 2, Enabled: true}

	ic := NewInterceptor("prev-stage", src, filter, RuleSetPolicy,
		func(v int) int { return v },
		func(v int) string { return "rule " + string(rune('0'+v)) },
		&buf,
	)

	out, err := Drain[int](ic)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, out)
	assert.Contains(t, buf.String(), "--- prev-stage ---")
	assert.Contains(t, buf.String(), "rule 2")
	assert.False(t, strings.Contains(buf.String(), "rule 1"))
}

func TestInterceptorSilentWhenNothingMatches(t *testing.T) {
	src := NewSourceStage([]int{1, 2})
	var buf bytes.Buffer
	filter := DebugFilter{Kind: RuleSetPolicy, Position: 99, Enabled: true}

	ic := NewInterceptor("prev", src, filter, RuleSetPolicy,
		func(v int) int { return v },
		func(v int) string { return "x" },
		&buf,
	)
	_, err := Drain[int](ic)
	require.NoError(t, err)
	assert.Empty(t, buf.String())
}

func TestWrapIfEnabled(t *testing.T) {
	src := NewSourceStage([]int{1})
	disabled := DebugFilter{Enabled: false}
	p := WrapIfEnabled("prev", src, disabled, RuleSetPolicy, true, func(v int) int { return v }, func(v int) string { return "" }, &bytes.Buffer{})
	_, isInterceptor := p.(*Interceptor[int])
	assert.False(t, isInterceptor)

	enabled := DebugFilter{Enabled: true, Kind: RuleSetPolicy, Position: 1}
	p2 := WrapIfEnabled("prev", NewSourceStage([]int{1}), enabled, RuleSetPolicy, true, func(v int) int { return v }, func(v int) string { return "" }, &bytes.Buffer{})
	_, isInterceptor2 := p2.(*Interceptor[int])
	assert.True(t, isInterceptor2)
}
