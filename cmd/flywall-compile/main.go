// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command flywall-compile compiles an HCL source graph into firewall
// command scripts (SPEC_FULL.md §10.4.1), following the stdlib-flag
// convention the rest of this repo's cmd/ tree uses.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"grimm.is/flywall/internal/apiserver"
	"grimm.is/flywall/internal/compilectx"
	"grimm.is/flywall/internal/driver"
	"grimm.is/flywall/internal/loader"
	compilemetrics "grimm.is/flywall/internal/metrics/compile"
	"grimm.is/flywall/internal/objectmodel"
	"grimm.is/flywall/internal/pipeline"
)

func main() {
	configPath := flag.String("config", "", "Path to HCL source file")
	firewallName := flag.String("firewall", "", "Firewall object name to compile")
	family := flag.String("family", "v4", "Address family: v4 or v6")
	backend := flag.String("backend", "iptables", "iptables|iptables-restore|iptables-restore-echo|nftables")
	debugKind := flag.String("debug-rule-kind", "", "policy|nat|routing: enables the per-stage debug harness for this rule set kind")
	debugPosition := flag.Int("debug-position", 0, "Rule position to trace when -debug-rule-kind is set")
	outPath := flag.String("out", "", "Output file path (default: stdout)")
	serve := flag.Bool("serve", false, "Run as a compiler-as-a-service HTTP API instead of a one-shot compile")
	listen := flag.String("listen", ":8080", "Listen address for -serve")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "usage: flywall-compile -config <path> [-serve [-listen addr] | -firewall <name> [-family v4|v6] [-backend ...] [-debug-rule-kind policy|nat|routing] [-debug-position n] [-out <path>]]")
		os.Exit(2)
	}

	store, err := loader.Load(*configPath)
	if err != nil {
		log.Fatalf("flywall-compile: %v", err)
	}

	if *serve {
		m := compilemetrics.NewMetrics()
		m.RegisterMetrics()
		srv := apiserver.NewServer(store, m)
		log.Printf("flywall-compile: serving on %s", *listen)
		log.Fatal(http.ListenAndServe(*listen, srv.Routes()))
	}

	if *firewallName == "" {
		fmt.Fprintln(os.Stderr, "usage: flywall-compile -config <path> -firewall <name> [-family v4|v6] [-backend ...] [-debug-rule-kind policy|nat|routing] [-debug-position n] [-out <path>]")
		os.Exit(2)
	}

	fwHandle, ok := findFirewall(store, *firewallName)
	if !ok {
		log.Fatalf("flywall-compile: no firewall named %q", *firewallName)
	}
	fw, _ := store.Get(fwHandle)

	fam := objectmodel.FamilyIPv4
	if *family == "v6" {
		fam = objectmodel.FamilyIPv6
	}

	d := driver.New(store)
	if *debugKind != "" {
		d.DebugOut = os.Stderr
		d.DebugFilter = pipeline.DebugFilter{
			Kind:     pipeline.RuleSetKind(*debugKind),
			Position: *debugPosition,
			Enabled:  true,
		}
	}

	result, err := d.CompileFirewall(fw, fam, driver.Backend(*backend), compilectx.Options{})
	if err != nil {
		log.Fatalf("flywall-compile: %v", err)
	}

	out := os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			log.Fatalf("flywall-compile: %v", err)
		}
		defer f.Close()
		out = f
	}
	fmt.Fprint(out, result.Output)
	if result.Status != "" {
		log.Printf("flywall-compile: %s", result.Status)
	}
}

func findFirewall(store *objectmodel.Store, name string) (objectmodel.Handle, bool) {
	for _, o := range store.All() {
		if o.Kind == objectmodel.KindFirewall && o.Name == name {
			return o.ID, true
		}
	}
	return objectmodel.InvalidHandle, false
}
