// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package objectmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindStringKnownAndUnknown(t *testing.T) {
	assert.Equal(t, "address_ipv4", KindAddressIPv4.String())
	assert.Equal(t, "ruleset_policy", KindRuleSetPolicy.String())
	assert.Equal(t, "unknown", Kind(255).String())
}

func TestKindIsGroup(t *testing.T) {
	assert.True(t, KindGroupObject.IsGroup())
	assert.True(t, KindGroupDynamic.IsGroup())
	assert.False(t, KindAddressIPv4.IsGroup())
}

func TestKindIsService(t *testing.T) {
	assert.True(t, KindServiceTCP.IsService())
	assert.False(t, KindAddressIPv4.IsService())
}

func TestFamilyString(t *testing.T) {
	assert.Equal(t, "both", FamilyBoth.String())
	assert.Equal(t, "ipv4", FamilyIPv4.String())
	assert.Equal(t, "ipv6", FamilyIPv6.String())
}
