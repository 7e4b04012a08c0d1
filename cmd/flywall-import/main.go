// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command flywall-import reads an `iptables-save` dump and prints, for each
// rule set internal/iptimport reconstructed from it, a `policy_ruleset`
// skeleton with every rule's label and action (addresses and services are
// not printed), as a starting point for hand-editing into an HCL source
// document.
//
// Usage:
//
//	iptables-save | flywall-import
//	flywall-import -in rules.v4
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"

	"grimm.is/flywall/internal/iptimport"
	"grimm.is/flywall/internal/objectmodel"
)

func main() {
	inPath := flag.String("in", "", "iptables-save dump to read (default: stdin)")
	flag.Parse()

	in := os.Stdin
	if *inPath != "" {
		f, err := os.Open(*inPath)
		if err != nil {
			log.Fatalf("flywall-import: %v", err)
		}
		defer f.Close()
		in = f
	}

	store, err := iptimport.Import(bufio.NewReader(in))
	if err != nil {
		log.Fatalf("flywall-import: %v", err)
	}

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	for _, o := range store.All() {
		if o.Kind != objectmodel.KindRuleSetPolicy {
			continue
		}
		fmt.Fprintf(w, "policy_ruleset %q {\n", o.Name)
		for _, rh := range o.RuleSet.Rules {
			r, ok := store.Get(rh)
			if !ok || r.PolicyRule == nil {
				continue
			}
			fmt.Fprintf(w, "  rule { label = %q action = %q }\n", r.PolicyRule.Label, r.PolicyRule.Action)
		}
		fmt.Fprintln(w, "}")
	}
}
