// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package compile

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveCompileIncrementsByStatusAndSeverity(t *testing.T) {
	m := NewMetrics()

	m.ObserveCompile("compiled with warnings", 10*time.Millisecond, 2, 0)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.CompilesTotal.WithLabelValues("compiled with warnings")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.DiagnosticsTotal.WithLabelValues("warning")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.DiagnosticsTotal.WithLabelValues("error")))
}

func TestObserveCompileTracksErrorSeverity(t *testing.T) {
	m := NewMetrics()
	m.ObserveCompile("error", time.Millisecond, 0, 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DiagnosticsTotal.WithLabelValues("error")))
}

func TestRegisterMetricsDoesNotPanic(t *testing.T) {
	m := NewMetrics()
	assert.NotPanics(t, func() { m.RegisterMetrics() })
}
