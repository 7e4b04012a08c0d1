// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package normalize implements the regression-test token substitution of
// spec.md §6.4: a compiled artifact is byte-identical across runs only
// modulo a timestamp, a version string, and generated-chain hashed names,
// which this package replaces with stable placeholders before a golden-file
// diff.
package normalize

import "regexp"

var (
	timestampRe = regexp.MustCompile(`(?m)# Generated .*$`)
	versionRe   = regexp.MustCompile(`# flywall-compile v[0-9][0-9A-Za-z.+-]*`)
	chainHashRe = regexp.MustCompile(`_[0-9a-f]{8}\b`)
	trailingWS  = regexp.MustCompile(`[ \t]+\n`)
)

// Output replaces the volatile tokens spec.md §6.4 names with fixed
// placeholders (TIMESTAMP, VERSION, CHAIN) and strips trailing whitespace,
// so two compiles of the same input diff cleanly even when run a day apart
// or against a different build's version string.
func Output(s string) string {
	s = timestampRe.ReplaceAllString(s, "# Generated TIMESTAMP")
	s = versionRe.ReplaceAllString(s, "# flywall-compile VERSION")
	s = chainHashRe.ReplaceAllString(s, "_CHAIN")
	s = trailingWS.ReplaceAllString(s, "\n")
	return s
}
