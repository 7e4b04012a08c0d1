// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package resolve fills in DNSName address objects' resolved address sets
// before a compile runs (spec.md's preprocessor stage, driver.Preprocessor).
// It is grounded on the teacher's DNS-resolution idiom in
// ap.serviced/dns4.go: a plain `*dns.Client` exchange against a configured
// upstream server, not a full caching resolver stack.
package resolve

import (
	"fmt"
	"net"

	"github.com/miekg/dns"

	"grimm.is/flywall/internal/objectmodel"
)

// Resolver resolves DNSName objects via a single upstream nameserver,
// implementing driver.Preprocessor.
type Resolver struct {
	Server string // "host:53"
	Client *dns.Client
}

// New builds a Resolver against the given upstream nameserver address.
func New(server string) *Resolver {
	return &Resolver{Server: server, Client: new(dns.Client)}
}

// Preprocess walks every object in the store and re-resolves the DNSName
// address objects that are marked resolve-at-run (objectmodel.AddressData.
// ResolveRun), leaving load-time-resolved names untouched. A lookup
// failure is a hard error: spec.md's preprocessor aborts the compile
// rather than silently falling back to an empty address set, since an
// empty Source/Destination element compiles to "any" and would silently
// widen rather than narrow a policy.
func (r *Resolver) Preprocess(store *objectmodel.Store, _ *objectmodel.Object) error {
	for _, o := range store.All() {
		if o.Kind != objectmodel.KindDNSName || o.Address == nil || !o.Address.ResolveRun {
			continue
		}
		ips, err := r.lookup(o.Address.Hostname)
		if err != nil {
			return fmt.Errorf("resolve: %s: %w", o.Address.Hostname, err)
		}
		o.Address.Resolved = ips
	}
	return nil
}

// lookup queries both A and AAAA records for name and merges the results,
// matching spec.md §6.1's "addresses() returns every resolved address
// regardless of family" facade.
func (r *Resolver) lookup(name string) ([]net.IP, error) {
	var out []net.IP
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(name), qtype)
		m.RecursionDesired = true
		resp, _, err := r.Client.Exchange(m, r.Server)
		if err != nil {
			return nil, err
		}
		if resp.Rcode != dns.RcodeSuccess {
			continue
		}
		for _, rr := range resp.Answer {
			switch rec := rr.(type) {
			case *dns.A:
				out = append(out, rec.A)
			case *dns.AAAA:
				out = append(out, rec.AAAA)
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no A/AAAA records for %s", name)
	}
	return out, nil
}
