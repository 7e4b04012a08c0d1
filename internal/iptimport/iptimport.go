// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package iptimport parses `iptables-save` output into an objectmodel.Store
// (SPEC_FULL.md §12's supplemented "import an existing installation"
// feature), giving an operator migrating onto this compiler a starter
// object graph instead of a blank one. No pack example parses
// iptables-save specifically; the line-tokenizing approach here follows
// the teacher's general regexp-based text-validation idiom
// (internal/validation/validators.go's regexp.MustCompile-per-pattern
// style) rather than a dedicated parser library, since iptables-save's
// grammar is simple, line-oriented, and whitespace-tokenized.
package iptimport

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"grimm.is/flywall/internal/objectmodel"
)

var chainHeaderRe = regexp.MustCompile(`^:(\S+)\s+(\S+)`)

// Import parses iptables-save formatted text from r into a fresh Store,
// one KindRuleSetPolicy per table/chain pair named by a `:CHAIN` header or
// an -A/-I line. Rules whose target is a chain this import also saw become
// ActionBranch rules pointing at that chain's rule set; everything else
// maps to the nearest equivalent objectmodel.Action.
func Import(r io.Reader) (*objectmodel.Store, error) {
	store := objectmodel.NewStore()
	p := &parser{
		store:    store,
		addrByIP: make(map[string]objectmodel.Handle),
		svcByKey: make(map[string]objectmodel.Handle),
		chains:   make(map[string]*objectmodel.Object),
	}

	scanner := bufio.NewScanner(r)
	table := "filter"
	var position int
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
			continue
		case line == "COMMIT":
			continue
		case strings.HasPrefix(line, "*"):
			table = strings.TrimPrefix(line, "*")
			continue
		case chainHeaderRe.MatchString(line):
			m := chainHeaderRe.FindStringSubmatch(line)
			p.chain(table, m[1])
			continue
		case strings.HasPrefix(line, "-A ") || strings.HasPrefix(line, "-I "):
			position++
			if err := p.rule(table, line, position); err != nil {
				return nil, fmt.Errorf("iptimport: line %d: %w", position, err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("iptimport: %w", err)
	}
	return store, nil
}

type parser struct {
	store    *objectmodel.Store
	addrByIP map[string]objectmodel.Handle
	svcByKey map[string]objectmodel.Handle
	chains   map[string]*objectmodel.Object
}

// chain gets-or-creates the KindRuleSetPolicy backing table/name.
func (p *parser) chain(table, name string) *objectmodel.Object {
	key := table + "/" + name
	if o, ok := p.chains[key]; ok {
		return o
	}
	o := p.store.Alloc(objectmodel.KindRuleSetPolicy, name)
	o.RuleSet = &objectmodel.RuleSetData{Family: objectmodel.FamilyBoth}
	p.chains[key] = o
	return o
}

// rule parses one `-A <chain> ...` line into a PolicyRule appended to that
// chain's rule set.
func (p *parser) rule(table, line string, position int) error {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return fmt.Errorf("malformed rule line %q", line)
	}
	chainName := fields[1]
	chain := p.chain(table, chainName)

	pr := &objectmodel.PolicyRule{Position: position, Label: fmt.Sprintf("imported-%d", position)}

	var negateNext bool
	for i := 2; i < len(fields); i++ {
		switch fields[i] {
		case "!":
			// iptables-save emits "! -s <addr>" / "! -d <addr>" with the
			// negation token preceding the flag it applies to.
			negateNext = true
			continue
		case "-s", "--source":
			i++
			h := p.address(fields[i])
			pr.Source = objectmodel.Element{Objects: []objectmodel.Handle{h}, Negation: negateNext}
		case "-d", "--destination":
			i++
			h := p.address(fields[i])
			pr.Destination = objectmodel.Element{Objects: []objectmodel.Handle{h}, Negation: negateNext}
		case "-p", "--protocol":
			i++
			h := p.protocol(fields[i])
			pr.Service = objectmodel.Element{Objects: []objectmodel.Handle{h}, Negation: negateNext}
		case "--dport":
			i++
			p.addPort(pr, fields[i], false)
		case "--sport":
			i++
			p.addPort(pr, fields[i], true)
		case "-i", "--in-interface":
			i++
		case "-o", "--out-interface":
			i++
		case "-j", "--jump":
			i++
			pr.Action, pr.BranchTo = p.target(fields[i])
		}
		negateNext = false
	}

	o := p.store.Alloc(objectmodel.KindRulePolicy, pr.Label)
	o.PolicyRule = pr
	p.store.AddChild(chain, o)
	chain.RuleSet.Rules = append(chain.RuleSet.Rules, o.ID)
	return nil
}

func (p *parser) address(raw string) objectmodel.Handle {
	addr := strings.TrimSuffix(raw, "/32")
	if h, ok := p.addrByIP[addr]; ok {
		return h
	}
	kind := objectmodel.KindAddressIPv4
	if strings.Contains(addr, ":") {
		kind = objectmodel.KindAddressIPv6
	}
	if strings.Contains(raw, "/") && !strings.HasSuffix(raw, "/32") && !strings.HasSuffix(raw, "/128") {
		kind = objectmodel.KindNetwork
		if strings.Contains(addr, ":") {
			kind = objectmodel.KindNetworkIPv6
		}
	}
	o := p.store.Alloc(kind, raw)
	o.Address = &objectmodel.AddressData{}
	p.addrByIP[addr] = o.ID
	return o.ID
}

func (p *parser) protocol(proto string) objectmodel.Handle {
	key := "proto:" + proto
	if h, ok := p.svcByKey[key]; ok {
		return h
	}
	var kind objectmodel.Kind
	switch proto {
	case "tcp":
		kind = objectmodel.KindServiceTCP
	case "udp":
		kind = objectmodel.KindServiceUDP
	case "icmp":
		kind = objectmodel.KindServiceICMP
	case "icmpv6":
		kind = objectmodel.KindServiceICMPv6
	default:
		kind = objectmodel.KindServiceIP
	}
	o := p.store.Alloc(kind, proto)
	o.Service = &objectmodel.ServiceData{}
	p.svcByKey[key] = o.ID
	return o.ID
}

// addPort narrows the rule's protocol service object to the given port or
// port range, first giving the rule its own copy when the object is still
// the one protocol() shares between rules, so ports never leak from one
// rule into another. It does nothing when no -p flag preceded it in the
// line.
func (p *parser) addPort(pr *objectmodel.PolicyRule, portSpec string, isSrc bool) {
	h, ok := pr.Service.Single()
	if !ok {
		return
	}
	o, ok := p.store.Get(h)
	if !ok || o.Service == nil {
		return
	}
	if p.svcByKey["proto:"+o.Name] == h {
		c := p.store.Alloc(o.Kind, o.Name)
		svc := *o.Service
		c.Service = &svc
		pr.Service.Objects = []objectmodel.Handle{c.ID}
		o = c
	}
	from, to := parsePortRange(portSpec)
	if isSrc {
		o.Service.SrcPortFrom, o.Service.SrcPortTo = from, to
	} else {
		o.Service.DstPortFrom, o.Service.DstPortTo = from, to
	}
}

func parsePortRange(spec string) (int, int) {
	if i := strings.IndexByte(spec, ':'); i >= 0 {
		from, _ := strconv.Atoi(spec[:i])
		to, _ := strconv.Atoi(spec[i+1:])
		return from, to
	}
	n, _ := strconv.Atoi(spec)
	return n, n
}

func (p *parser) target(name string) (objectmodel.Action, objectmodel.Handle) {
	switch name {
	case "ACCEPT":
		return objectmodel.ActionAccept, objectmodel.InvalidHandle
	case "DROP":
		return objectmodel.ActionDeny, objectmodel.InvalidHandle
	case "REJECT":
		return objectmodel.ActionReject, objectmodel.InvalidHandle
	case "RETURN":
		return objectmodel.ActionReturn, objectmodel.InvalidHandle
	case "LOG":
		return objectmodel.ActionContinue, objectmodel.InvalidHandle
	default:
		// Jump to a user chain not yet known as a rule set becomes a
		// branch once that chain is (or was already) registered.
		return objectmodel.ActionBranch, p.chain("filter", name).ID
	}
}
