// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpenMissingFileErrors(t *testing.T) {
	_, err := Open("testdata/does-not-exist.mmdb")
	assert.Error(t, err)
}
