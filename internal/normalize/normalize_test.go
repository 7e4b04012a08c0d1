// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutputReplacesTimestampMidDocument(t *testing.T) {
	in := "#!/bin/sh\n# Generated by flywall-compile for gw1 at 2026-07-29T12:00:00Z\n$IPTABLES -F\n"
	out := Output(in)
	assert.Contains(t, out, "# Generated TIMESTAMP")
	assert.NotContains(t, out, "2026-07-29")
}

func TestOutputReplacesVersion(t *testing.T) {
	in := "# flywall-compile v1.2.3-beta\nbody\n"
	out := Output(in)
	assert.Contains(t, out, "# flywall-compile VERSION")
}

func TestOutputReplacesChainHashSuffix(t *testing.T) {
	in := "-N policy_cafef00d\n"
	out := Output(in)
	assert.Contains(t, out, "policy_CHAIN")
}

func TestOutputStripsTrailingWhitespace(t *testing.T) {
	in := "line one   \nline two\t\n"
	out := Output(in)
	assert.Equal(t, "line one\nline two\n", out)
}

func TestOutputIsIdempotent(t *testing.T) {
	in := "# Generated by flywall-compile for gw1 at t0\n# flywall-compile v1.0.0\n-N chain_deadbeef\n"
	once := Output(in)
	twice := Output(once)
	assert.Equal(t, once, twice)
}
