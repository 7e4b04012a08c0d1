// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package diag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinkStatusProgression(t *testing.T) {
	s := NewSink()
	assert.Equal(t, "compiled", s.Status())

	s.Warn("shadow", 1, "r1", "rule %d shadowed", 1)
	assert.Equal(t, "compiled with warnings", s.Status())
	assert.True(t, s.HasWarnings())
	assert.False(t, s.HasErrors())

	s.Error("validate", 2, "r2", "bad port")
	assert.Equal(t, "compiled with errors", s.Status())
	assert.True(t, s.HasErrors())
}

func TestSinkForRuleAndInlineComment(t *testing.T) {
	s := NewSink()
	s.Warn("shadow", 5, "r5", "shadowed by rule %d", 1)
	s.Error("validate", 5, "r5", "bad mask")

	ds := s.ForRule(5)
	require.Len(t, ds, 2)
	assert.Equal(t, SevWarning, ds[0].Severity)
	assert.Equal(t, SevError, ds[1].Severity)

	comment := s.InlineComment(5)
	assert.Contains(t, comment, "warning:")
	assert.Contains(t, comment, "error:")
	assert.True(t, comment[0] == '#')

	assert.Equal(t, "", s.InlineComment(999))
}

func TestSinkCounts(t *testing.T) {
	s := NewSink()
	s.Warn("a", 1, "r1", "w1")
	s.Warn("a", 2, "r2", "w2")
	s.Error("a", 3, "r3", "e1")

	assert.Equal(t, 2, s.WarningCount())
	assert.Equal(t, 1, s.ErrorCount())
}

func TestAbortErrorMessage(t *testing.T) {
	err := NewAbort("validate", 3, "r3", "missing %s", "gateway")
	assert.Contains(t, err.Error(), "abort")
	assert.Contains(t, err.Error(), "missing gateway")
	assert.Equal(t, SevAbort, err.Diagnostic.Severity)
}
