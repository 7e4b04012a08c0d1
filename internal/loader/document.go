// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package loader

// Document is the root of an HCL v2 source graph (SPEC_FULL.md §10.1): a
// flat list of named, typed blocks that internal/loader resolves into an
// objectmodel.Store. Every cross-reference (a rule's source list, a
// group's members, a firewall's interface list) is a block name, resolved
// to a Handle once every block has been allocated.
type Document struct {
	Addresses   []AddressBlock        `hcl:"address,block" json:"address,omitempty" yaml:"address,omitempty"`
	Services    []ServiceBlock        `hcl:"service,block" json:"service,omitempty" yaml:"service,omitempty"`
	Groups      []GroupBlock          `hcl:"group,block" json:"group,omitempty" yaml:"group,omitempty"`
	Intervals   []IntervalBlock       `hcl:"interval,block" json:"interval,omitempty" yaml:"interval,omitempty"`
	Interfaces  []InterfaceBlock      `hcl:"interface,block" json:"interface,omitempty" yaml:"interface,omitempty"`
	Firewalls   []FirewallBlock       `hcl:"firewall,block" json:"firewall,omitempty" yaml:"firewall,omitempty"`
	Clusters    []ClusterBlock        `hcl:"cluster,block" json:"cluster,omitempty" yaml:"cluster,omitempty"`
	PolicySets  []PolicyRuleSetBlock  `hcl:"policy_ruleset,block" json:"policy_ruleset,omitempty" yaml:"policy_ruleset,omitempty"`
	NATSets     []NATRuleSetBlock     `hcl:"nat_ruleset,block" json:"nat_ruleset,omitempty" yaml:"nat_ruleset,omitempty"`
	RoutingSets []RoutingRuleSetBlock `hcl:"routing_ruleset,block" json:"routing_ruleset,omitempty" yaml:"routing_ruleset,omitempty"`
}

// AddressBlock declares one address-class object. Kind selects which of
// the optional fields apply, mirroring objectmodel.AddressData's own
// Kind-discriminated layout.
type AddressBlock struct {
	Name string `hcl:"name,label" json:"name" yaml:"name"`
	Kind string `hcl:"kind" json:"kind" yaml:"kind"` // ipv4|ipv6|network|network_ipv6|range|table|dns|mac

	IP           string `hcl:"ip,optional" json:"ip,omitempty" yaml:"ip,omitempty"`
	Mask         string `hcl:"mask,optional" json:"mask,omitempty" yaml:"mask,omitempty"`
	RangeEnd     string `hcl:"range_end,optional" json:"range_end,omitempty" yaml:"range_end,omitempty"`
	TableFile    string `hcl:"table_file,optional" json:"table_file,omitempty" yaml:"table_file,omitempty"`
	LoadAtRun    bool   `hcl:"load_at_run,optional" json:"load_at_run,omitempty" yaml:"load_at_run,omitempty"`
	Hostname     string `hcl:"hostname,optional" json:"hostname,omitempty" yaml:"hostname,omitempty"`
	ResolveAtRun bool   `hcl:"resolve_at_run,optional" json:"resolve_at_run,omitempty" yaml:"resolve_at_run,omitempty"`
	MAC          string `hcl:"mac,optional" json:"mac,omitempty" yaml:"mac,omitempty"`
	Country      string `hcl:"country,optional" json:"country,omitempty" yaml:"country,omitempty"`
}

// ServiceBlock declares one service-class object.
type ServiceBlock struct {
	Name string `hcl:"name,label" json:"name" yaml:"name"`
	Kind string `hcl:"kind" json:"kind" yaml:"kind"` // tcp|udp|icmp|icmpv6|ip|custom|tag|user

	Protocol     int               `hcl:"protocol,optional" json:"protocol,omitempty" yaml:"protocol,omitempty"`
	SrcPortFrom  int               `hcl:"src_port_from,optional" json:"src_port_from,omitempty" yaml:"src_port_from,omitempty"`
	SrcPortTo    int               `hcl:"src_port_to,optional" json:"src_port_to,omitempty" yaml:"src_port_to,omitempty"`
	DstPortFrom  int               `hcl:"dst_port_from,optional" json:"dst_port_from,omitempty" yaml:"dst_port_from,omitempty"`
	DstPortTo    int               `hcl:"dst_port_to,optional" json:"dst_port_to,omitempty" yaml:"dst_port_to,omitempty"`
	TCPFlagsMask string            `hcl:"tcp_flags_mask,optional" json:"tcp_flags_mask,omitempty" yaml:"tcp_flags_mask,omitempty"`
	TCPFlagsSet  string            `hcl:"tcp_flags_set,optional" json:"tcp_flags_set,omitempty" yaml:"tcp_flags_set,omitempty"`
	Established  bool              `hcl:"established,optional" json:"established,omitempty" yaml:"established,omitempty"`
	ICMPType     int               `hcl:"icmp_type,optional" json:"icmp_type,omitempty" yaml:"icmp_type,omitempty"`
	ICMPCode     int               `hcl:"icmp_code,optional" json:"icmp_code,omitempty" yaml:"icmp_code,omitempty"`
	PlatformCode map[string]string `hcl:"platform_code,optional" json:"platform_code,omitempty" yaml:"platform_code,omitempty"`
	Mark         int               `hcl:"mark,optional" json:"mark,omitempty" yaml:"mark,omitempty"`
	UID          string            `hcl:"uid,optional" json:"uid,omitempty" yaml:"uid,omitempty"`
}

// GroupBlock declares one group-class object; Members names other blocks
// (of any kind matching Kind's class) by name.
type GroupBlock struct {
	Name string `hcl:"name,label" json:"name" yaml:"name"`
	Kind string `hcl:"kind" json:"kind" yaml:"kind"` // object|service|interval|dynamic

	Members      []string `hcl:"members,optional" json:"members,omitempty" yaml:"members,omitempty"`
	DynamicType  string   `hcl:"dynamic_type,optional" json:"dynamic_type,omitempty" yaml:"dynamic_type,omitempty"`
	DynamicMatch string   `hcl:"dynamic_match,optional" json:"dynamic_match,omitempty" yaml:"dynamic_match,omitempty"`
}

// IntervalBlock declares a named time window; Days holds lowercase
// three-letter weekday abbreviations ("sun".."sat").
type IntervalBlock struct {
	Name string `hcl:"name,label" json:"name" yaml:"name"`

	StartDate string   `hcl:"start_date,optional" json:"start_date,omitempty" yaml:"start_date,omitempty"`
	EndDate   string   `hcl:"end_date,optional" json:"end_date,omitempty" yaml:"end_date,omitempty"`
	StartTime string   `hcl:"start_time,optional" json:"start_time,omitempty" yaml:"start_time,omitempty"`
	EndTime   string   `hcl:"end_time,optional" json:"end_time,omitempty" yaml:"end_time,omitempty"`
	Days      []string `hcl:"days,optional" json:"days,omitempty" yaml:"days,omitempty"`
}

// InterfaceBlock declares a firewall network interface.
type InterfaceBlock struct {
	Name string `hcl:"name,label" json:"name" yaml:"name"`

	Addresses         []string `hcl:"addresses,optional" json:"addresses,omitempty" yaml:"addresses,omitempty"`
	Loopback          bool     `hcl:"loopback,optional" json:"loopback,omitempty" yaml:"loopback,omitempty"`
	Dynamic           bool     `hcl:"dynamic,optional" json:"dynamic,omitempty" yaml:"dynamic,omitempty"`
	Unnumbered        bool     `hcl:"unnumbered,optional" json:"unnumbered,omitempty" yaml:"unnumbered,omitempty"`
	DedicatedFailover bool     `hcl:"dedicated_failover,optional" json:"dedicated_failover,omitempty" yaml:"dedicated_failover,omitempty"`
	Management        bool     `hcl:"management,optional" json:"management,omitempty" yaml:"management,omitempty"`
	BridgePort        bool     `hcl:"bridge_port,optional" json:"bridge_port,omitempty" yaml:"bridge_port,omitempty"`
	ParentInterface   string   `hcl:"parent_interface,optional" json:"parent_interface,omitempty" yaml:"parent_interface,omitempty"`
	DeviceType        string   `hcl:"device_type,optional" json:"device_type,omitempty" yaml:"device_type,omitempty"`
}

// FirewallBlock declares a compile target.
type FirewallBlock struct {
	Name string `hcl:"name,label" json:"name" yaml:"name"`

	Platform   string   `hcl:"platform,optional" json:"platform,omitempty" yaml:"platform,omitempty"`
	HostOS     string   `hcl:"host_os,optional" json:"host_os,omitempty" yaml:"host_os,omitempty"`
	Interfaces []string `hcl:"interfaces,optional" json:"interfaces,omitempty" yaml:"interfaces,omitempty"`
	Policies   []string `hcl:"policies,optional" json:"policies,omitempty" yaml:"policies,omitempty"`
	NATs       []string `hcl:"nats,optional" json:"nats,omitempty" yaml:"nats,omitempty"`
	Routings   []string `hcl:"routings,optional" json:"routings,omitempty" yaml:"routings,omitempty"`
	ClusterOf  string   `hcl:"cluster_of,optional" json:"cluster_of,omitempty" yaml:"cluster_of,omitempty"`
}

// ClusterBlock declares a firewall failover cluster.
type ClusterBlock struct {
	Name string `hcl:"name,label" json:"name" yaml:"name"`

	Members        []string `hcl:"members,optional" json:"members,omitempty" yaml:"members,omitempty"`
	StateSyncGroup string   `hcl:"state_sync_group,optional" json:"state_sync_group,omitempty" yaml:"state_sync_group,omitempty"`
}

// PolicyRuleSetBlock declares one ordered policy rule list.
type PolicyRuleSetBlock struct {
	Name string `hcl:"name,label" json:"name" yaml:"name"`

	Family       string            `hcl:"family,optional" json:"family,omitempty" yaml:"family,omitempty"` // both|ipv4|ipv6
	Top          bool              `hcl:"top,optional" json:"top,omitempty" yaml:"top,omitempty"`
	InheritsFrom string            `hcl:"inherits_from,optional" json:"inherits_from,omitempty" yaml:"inherits_from,omitempty"`
	Rules        []PolicyRuleBlock `hcl:"rule,block" json:"rule,omitempty" yaml:"rule,omitempty"`
}

// PolicyRuleBlock mirrors objectmodel.PolicyRule field-for-field, with
// object references as name strings instead of Handles.
type PolicyRuleBlock struct {
	Label    string `hcl:"label,optional" json:"label,omitempty" yaml:"label,omitempty"`
	Disabled bool   `hcl:"disabled,optional" json:"disabled,omitempty" yaml:"disabled,omitempty"`
	Comment  string `hcl:"comment,optional" json:"comment,omitempty" yaml:"comment,omitempty"`

	Source            []string `hcl:"source,optional" json:"source,omitempty" yaml:"source,omitempty"`
	SourceNegate      bool     `hcl:"source_negate,optional" json:"source_negate,omitempty" yaml:"source_negate,omitempty"`
	Destination       []string `hcl:"destination,optional" json:"destination,omitempty" yaml:"destination,omitempty"`
	DestinationNegate bool     `hcl:"destination_negate,optional" json:"destination_negate,omitempty" yaml:"destination_negate,omitempty"`
	Service           []string `hcl:"service,optional" json:"service,omitempty" yaml:"service,omitempty"`
	ServiceNegate     bool     `hcl:"service_negate,optional" json:"service_negate,omitempty" yaml:"service_negate,omitempty"`
	Interface         []string `hcl:"interface,optional" json:"interface,omitempty" yaml:"interface,omitempty"`
	InterfaceNegate   bool     `hcl:"interface_negate,optional" json:"interface_negate,omitempty" yaml:"interface_negate,omitempty"`
	Time              []string `hcl:"time,optional" json:"time,omitempty" yaml:"time,omitempty"`
	Direction         string   `hcl:"direction,optional" json:"direction,omitempty" yaml:"direction,omitempty"`

	Action       string `hcl:"action,optional" json:"action,omitempty" yaml:"action,omitempty"`
	RejectKind   string `hcl:"reject_kind,optional" json:"reject_kind,omitempty" yaml:"reject_kind,omitempty"`
	AccountChain string `hcl:"account_chain,optional" json:"account_chain,omitempty" yaml:"account_chain,omitempty"`
	CustomRaw    string `hcl:"custom_raw,optional" json:"custom_raw,omitempty" yaml:"custom_raw,omitempty"`
	BranchTo     string `hcl:"branch_to,optional" json:"branch_to,omitempty" yaml:"branch_to,omitempty"`

	Log            bool   `hcl:"log,optional" json:"log,omitempty" yaml:"log,omitempty"`
	Stateless      bool   `hcl:"stateless,optional" json:"stateless,omitempty" yaml:"stateless,omitempty"`
	Tagging        bool   `hcl:"tagging,optional" json:"tagging,omitempty" yaml:"tagging,omitempty"`
	Classification bool   `hcl:"classification,optional" json:"classification,omitempty" yaml:"classification,omitempty"`
	Routing        bool   `hcl:"routing,optional" json:"routing,omitempty" yaml:"routing,omitempty"`
	MarkConnection bool   `hcl:"mark_connection,optional" json:"mark_connection,omitempty" yaml:"mark_connection,omitempty"`
	LogPrefix      string `hcl:"log_prefix,optional" json:"log_prefix,omitempty" yaml:"log_prefix,omitempty"`
	Limit          string `hcl:"limit,optional" json:"limit,omitempty" yaml:"limit,omitempty"`
}

// NATRuleSetBlock declares one ordered NAT rule list.
type NATRuleSetBlock struct {
	Name string `hcl:"name,label" json:"name" yaml:"name"`

	Family       string         `hcl:"family,optional" json:"family,omitempty" yaml:"family,omitempty"`
	Top          bool           `hcl:"top,optional" json:"top,omitempty" yaml:"top,omitempty"`
	InheritsFrom string         `hcl:"inherits_from,optional" json:"inherits_from,omitempty" yaml:"inherits_from,omitempty"`
	Rules        []NATRuleBlock `hcl:"rule,block" json:"rule,omitempty" yaml:"rule,omitempty"`
}

// NATRuleBlock mirrors objectmodel.NATRule field-for-field.
type NATRuleBlock struct {
	Label    string `hcl:"label,optional" json:"label,omitempty" yaml:"label,omitempty"`
	Disabled bool   `hcl:"disabled,optional" json:"disabled,omitempty" yaml:"disabled,omitempty"`
	Comment  string `hcl:"comment,optional" json:"comment,omitempty" yaml:"comment,omitempty"`

	OriginalSource        []string `hcl:"original_source,optional" json:"original_source,omitempty" yaml:"original_source,omitempty"`
	OriginalDestination   []string `hcl:"original_destination,optional" json:"original_destination,omitempty" yaml:"original_destination,omitempty"`
	OriginalService       []string `hcl:"original_service,optional" json:"original_service,omitempty" yaml:"original_service,omitempty"`
	TranslatedSource      []string `hcl:"translated_source,optional" json:"translated_source,omitempty" yaml:"translated_source,omitempty"`
	TranslatedDestination []string `hcl:"translated_destination,optional" json:"translated_destination,omitempty" yaml:"translated_destination,omitempty"`
	TranslatedService     []string `hcl:"translated_service,optional" json:"translated_service,omitempty" yaml:"translated_service,omitempty"`
	InboundInterface      []string `hcl:"inbound_interface,optional" json:"inbound_interface,omitempty" yaml:"inbound_interface,omitempty"`
	OutboundInterface     []string `hcl:"outbound_interface,optional" json:"outbound_interface,omitempty" yaml:"outbound_interface,omitempty"`

	Action     string `hcl:"action,optional" json:"action,omitempty" yaml:"action,omitempty"`
	Masquerade bool   `hcl:"masquerade,optional" json:"masquerade,omitempty" yaml:"masquerade,omitempty"`
	BranchTo   string `hcl:"branch_to,optional" json:"branch_to,omitempty" yaml:"branch_to,omitempty"`

	Log            bool   `hcl:"log,optional" json:"log,omitempty" yaml:"log,omitempty"`
	Stateless      bool   `hcl:"stateless,optional" json:"stateless,omitempty" yaml:"stateless,omitempty"`
	MarkConnection bool   `hcl:"mark_connection,optional" json:"mark_connection,omitempty" yaml:"mark_connection,omitempty"`
	LogPrefix      string `hcl:"log_prefix,optional" json:"log_prefix,omitempty" yaml:"log_prefix,omitempty"`
	Limit          string `hcl:"limit,optional" json:"limit,omitempty" yaml:"limit,omitempty"`
}

// RoutingRuleSetBlock declares one ordered routing rule list.
type RoutingRuleSetBlock struct {
	Name string `hcl:"name,label" json:"name" yaml:"name"`

	Family       string             `hcl:"family,optional" json:"family,omitempty" yaml:"family,omitempty"`
	Top          bool               `hcl:"top,optional" json:"top,omitempty" yaml:"top,omitempty"`
	InheritsFrom string             `hcl:"inherits_from,optional" json:"inherits_from,omitempty" yaml:"inherits_from,omitempty"`
	Rules        []RoutingRuleBlock `hcl:"rule,block" json:"rule,omitempty" yaml:"rule,omitempty"`
}

// RoutingRuleBlock mirrors objectmodel.RoutingRule field-for-field.
type RoutingRuleBlock struct {
	Label    string `hcl:"label,optional" json:"label,omitempty" yaml:"label,omitempty"`
	Disabled bool   `hcl:"disabled,optional" json:"disabled,omitempty" yaml:"disabled,omitempty"`
	Comment  string `hcl:"comment,optional" json:"comment,omitempty" yaml:"comment,omitempty"`

	Destination []string `hcl:"destination,optional" json:"destination,omitempty" yaml:"destination,omitempty"`
	Gateway     []string `hcl:"gateway,optional" json:"gateway,omitempty" yaml:"gateway,omitempty"`
	Interface   []string `hcl:"interface,optional" json:"interface,omitempty" yaml:"interface,omitempty"`
	Metric      int      `hcl:"metric,optional" json:"metric,omitempty" yaml:"metric,omitempty"`

	Log   bool   `hcl:"log,optional" json:"log,omitempty" yaml:"log,omitempty"`
	Limit string `hcl:"limit,optional" json:"limit,omitempty" yaml:"limit,omitempty"`
}
