// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package yamlgraph loads the legacy YAML persistent-format object graph
// (SPEC_FULL.md §11, spec.md §6.1 "YAML-loaded... in-memory database") as
// an alternative to the HCL config path. It decodes into the same
// loader.Document the HCL path builds and hands off to loader.Build, so
// both paths feed one objectmodel.Store through one allocate/resolve/
// flatten pipeline rather than duplicating it.
package yamlgraph

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"grimm.is/flywall/internal/loader"
	"grimm.is/flywall/internal/objectmodel"
)

// Load reads and decodes the YAML document at path and builds a Store
// from it.
func Load(path string) (*objectmodel.Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("yamlgraph: read %s: %w", path, err)
	}
	return LoadBytes(data)
}

// LoadBytes decodes a YAML document already in memory.
func LoadBytes(data []byte) (*objectmodel.Store, error) {
	doc, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return loader.Build(doc)
}

// Decode parses data into a loader.Document without building a Store, for
// callers that want to inspect or transform the raw declarations first.
func Decode(data []byte) (*loader.Document, error) {
	var doc loader.Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("yamlgraph: decode: %w", err)
	}
	return &doc, nil
}
