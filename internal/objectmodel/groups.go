// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package objectmodel

import (
	"fmt"
	"sort"
)

// DetectCycle runs a visited-set DFS from h looking for a path back to an
// ancestor group (spec.md §4.2-6, §9). It returns the cyclic path (group
// names, outermost first) when a cycle is found, or nil otherwise.
func (s *Store) DetectCycle(h Handle) []string {
	visiting := make(map[Handle]bool)
	visited := make(map[Handle]bool)
	var path []string

	var walk func(h Handle) []string
	walk = func(h Handle) []string {
		o, ok := s.Get(h)
		if !ok || !o.Kind.IsGroup() || o.Group == nil {
			return nil
		}
		if visiting[h] {
			return append(append([]string(nil), path...), o.Name)
		}
		if visited[h] {
			return nil
		}
		visiting[h] = true
		path = append(path, o.Name)
		defer func() {
			path = path[:len(path)-1]
			visiting[h] = false
			visited[h] = true
		}()
		for _, m := range o.Group.Members {
			if cyc := walk(m); cyc != nil {
				return cyc
			}
		}
		return nil
	}
	return walk(h)
}

// ExpandGroups recursively expands every group handle in objs into its
// terminal (non-group) members, filtering by family when fam is not
// FamilyBoth, deduplicating by identity, and sorting by name for
// determinism (spec.md §4.2-10, §5 ordering guarantees). Non-group handles
// in objs that are runtime multi-address objects (AddressTable/DNSName
// already resolved) pass through unexpanded, matching the "skipping
// already-resolved runtime multi-address objects" rule.
func (s *Store) ExpandGroups(objs []Handle, fam Family) ([]Handle, error) {
	seen := make(map[Handle]bool)
	var out []Handle

	var expand func(h Handle) error
	expand = func(h Handle) error {
		o, ok := s.Get(h)
		if !ok {
			return fmt.Errorf("objectmodel: dangling reference %d", h)
		}
		if o.Kind.IsGroup() {
			if cyc := s.DetectCycle(h); cyc != nil {
				return fmt.Errorf("objectmodel: recursive group membership: %v", cyc)
			}
			for _, m := range o.Group.Members {
				if err := expand(m); err != nil {
					return err
				}
			}
			return nil
		}
		if !s.matchesFamily(o, fam) {
			return nil
		}
		if !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
		return nil
	}

	for _, h := range objs {
		if err := expand(h); err != nil {
			return nil, err
		}
	}

	sort.Slice(out, func(i, j int) bool {
		oi, _ := s.Get(out[i])
		oj, _ := s.Get(out[j])
		return oi.Name < oj.Name
	})
	return out, nil
}

// MatchesFamily reports whether object o is relevant to address family fam
// (FamilyBoth always matches); used by stages that filter interface
// addresses and services by the active compile family.
func (s *Store) MatchesFamily(o *Object, fam Family) bool {
	return s.matchesFamily(o, fam)
}

func (s *Store) matchesFamily(o *Object, fam Family) bool {
	if fam == FamilyBoth {
		return true
	}
	switch o.Kind {
	case KindAddressIPv4, KindNetwork:
		return fam == FamilyIPv4
	case KindAddressIPv6, KindNetworkIPv6:
		return fam == FamilyIPv6
	case KindServiceICMP:
		return fam == FamilyIPv4
	case KindServiceICMPv6:
		return fam == FamilyIPv6
	default:
		return true
	}
}
