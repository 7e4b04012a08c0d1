// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package objectmodel

import (
	"net"

	"github.com/google/uuid"
)

// Handle is the internal, fast, cycle-safe key for an object in a Store.
// Cross-references between objects are always Handles, never owning
// pointers, so the arena can hold cyclic group membership without Go's
// ownership rules getting in the way.
type Handle int32

// InvalidHandle is never assigned by a Store.
const InvalidHandle Handle = 0

// Object is one node in the arena. Only the fields relevant to Kind are
// populated; callers type-switch on Kind rather than relying on zero-value
// fields being meaningful on their own.
type Object struct {
	ID     Handle
	UUID   uuid.UUID // random per Alloc: unique within a run, different on every run
	Kind   Kind
	Name   string
	Parent Handle
	Order  []Handle // ordered children, per spec.md's "ordered list of children"

	Attributes map[string]string
	Options    map[string]string

	Address     *AddressData
	Iface       *InterfaceData
	HostFW      *HostData
	Service     *ServiceData
	Group       *GroupData
	Interval    *IntervalData
	RuleSet     *RuleSetData
	PolicyRule  *PolicyRule
	NATRule     *NATRule
	RoutingRule *RoutingRule
}

// AddressData backs the address-class variants.
type AddressData struct {
	IP         net.IP     // IPv4/IPv6 address, or range start
	Mask       net.IPMask // network mask, when Kind is Network/NetworkIPv6
	RangeEnd   net.IP     // range end, when Kind is AddressRange
	TableFile  string     // backing file, when Kind is AddressTable
	LoadAtRun  bool       // AddressTable "load-time" flag
	Hostname   string     // DNS name, when Kind is DNSName
	ResolveRun bool       // DNS "resolve-time" flag
	MAC        net.HardwareAddr
	Resolved   []net.IP // filled in by internal/resolve for DNS/table objects
	Country    string   // ISO-3166 alpha-2, filled in by internal/geo
}

// InterfaceData backs KindInterface.
type InterfaceData struct {
	Addresses         []Handle
	Loopback          bool
	Dynamic           bool
	Unnumbered        bool
	DedicatedFailover bool
	Management        bool
	BridgePort        bool
	ParentInterface   Handle // VLAN/bond slave parent, InvalidHandle if none
	DeviceType        string // "ethernet" | "vlan" | "bridge" | "bonding"
	OwnerFirewall      Handle
}

// HostData backs KindHost, KindFirewall, and KindCluster.
type HostData struct {
	Interfaces []Handle

	// Firewall-only.
	Platform  string
	HostOS    string
	Policies  []Handle
	NATs      []Handle
	Routings  []Handle
	ClusterOf Handle // cluster this firewall is a member of, if any

	// Cluster-only.
	FailoverGroups []Handle
	StateSyncGroup Handle
	Members        []Handle
}

// ServiceData backs the service-class variants.
type ServiceData struct {
	Protocol      int    // IP protocol number, when Kind is KindServiceIP
	SrcPortFrom   int
	SrcPortTo     int
	DstPortFrom   int
	DstPortTo     int
	TCPFlagsMask  string
	TCPFlagsSet   string
	Established   bool
	ICMPType      int
	ICMPCode      int
	PlatformCode  map[string]string // Kind == KindServiceCustom: platform -> raw string
	Mark          uint32            // Kind == KindServiceTag
	UID           string            // Kind == KindServiceUser
}

// GroupData backs the group-class variants.
type GroupData struct {
	Members      []Handle
	DynamicType  string // KindGroupDynamic: keyword filter type
	DynamicMatch string
}

// IntervalData backs KindInterval.
type IntervalData struct {
	StartDate string
	EndDate   string
	StartTime string
	EndTime   string
	DaysMask  uint8 // bit 0 = Sunday ... bit 6 = Saturday
}

// RuleSetData backs the rule-set variants.
type RuleSetData struct {
	Family Family
	Top    bool
	Rules  []Handle
	// InheritsFrom is resolved by the loader before the pipeline ever runs
	// (SPEC_FULL.md §12 policy inheritance); by the time a compile begins,
	// Rules already contains the flattened, inherited list.
	InheritsFrom Handle
}

// NewStore creates an empty arena. Handles start at 1, so InvalidHandle (0)
// never collides with a real object.
func NewStore() *Store {
	s := &Store{objects: make(map[Handle]*Object)}
	s.next = 1
	return s
}

// Store is the arena. It is not safe for concurrent mutation; independent
// compiles over the same (read-only, already-built) Store may run
// concurrently per spec.md §5.
type Store struct {
	objects map[Handle]*Object
	next    Handle
}

// Alloc reserves a fresh handle and inserts a zero-value Object of kind k.
func (s *Store) Alloc(k Kind, name string) *Object {
	h := s.next
	s.next++
	obj := &Object{
		ID:         h,
		UUID:       uuid.New(),
		Kind:       k,
		Name:       name,
		Attributes: make(map[string]string),
		Options:    make(map[string]string),
	}
	s.objects[h] = obj
	return obj
}

// Get returns the object for h, or (nil, false) if it doesn't exist.
func (s *Store) Get(h Handle) (*Object, bool) {
	if h == InvalidHandle {
		return nil, false
	}
	o, ok := s.objects[h]
	return o, ok
}

// MustGet panics if h is not a valid handle in this store; callers use it
// only for handles the compiler itself allocated and is certain exist.
func (s *Store) MustGet(h Handle) *Object {
	o, ok := s.Get(h)
	if !ok {
		panic("objectmodel: dangling handle")
	}
	return o
}

// All returns every object in the arena, in unspecified order. Used by
// loaders and tooling that need to sweep the whole graph (e.g. flattening
// rule-set inheritance) rather than walking it via Order/membership.
func (s *Store) All() []*Object {
	out := make([]*Object, 0, len(s.objects))
	for _, o := range s.objects {
		out = append(out, o)
	}
	return out
}

// Children returns o's ordered child list resolved to objects, skipping any
// handle that no longer resolves (defensive; should not happen in a
// well-formed arena).
func (s *Store) Children(o *Object) []*Object {
	out := make([]*Object, 0, len(o.Order))
	for _, h := range o.Order {
		if c, ok := s.Get(h); ok {
			out = append(out, c)
		}
	}
	return out
}

// AddChild appends child to parent's ordered children and sets child.Parent.
func (s *Store) AddChild(parent, child *Object) {
	child.Parent = parent.ID
	parent.Order = append(parent.Order, child.ID)
}

// Refs returns the outgoing object references from o's rule elements (for
// rules) or group membership (for groups); for other kinds it is empty.
// This backs spec.md §6.1's `refs()` facade method.
func (s *Store) Refs(o *Object) []Handle {
	switch {
	case o.Group != nil:
		return append([]Handle(nil), o.Group.Members...)
	case o.PolicyRule != nil:
		return o.PolicyRule.refs()
	case o.NATRule != nil:
		return o.NATRule.refs()
	case o.RoutingRule != nil:
		return o.RoutingRule.refs()
	default:
		return nil
	}
}

// ComplexMatch reports whether o "complex-matches" other, used by the
// firewall-match splitting stages (spec.md §4.2-14): true when o is other
// itself, or when o is one of the address objects listed on other's
// interfaces. It compares handles only; it does not check whether o's
// addresses fall inside or overlap other's.
func (s *Store) ComplexMatch(o, other *Object) bool {
	if o.ID == other.ID {
		return true
	}
	if other.HostFW != nil {
		for _, ih := range other.HostFW.Interfaces {
			iface, ok := s.Get(ih)
			if !ok || iface.Iface == nil {
				continue
			}
			for _, ah := range iface.Iface.Addresses {
				if ah == o.ID {
					return true
				}
			}
		}
	}
	return false
}
