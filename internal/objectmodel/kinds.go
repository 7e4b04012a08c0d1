// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package objectmodel implements the identity-addressed arena of network
// entities (addresses, services, interfaces, firewalls, rule sets, rules)
// that the compiler pipelines read from. Objects never hold owning pointers
// to each other; every cross-reference is a Handle resolved through a Store.
package objectmodel

// Kind is the closed set of object variants the arena can hold. Code that
// would otherwise switch on "is this object of type X" does an exhaustive
// switch over Kind.
type Kind uint8

const (
	KindUnknown Kind = iota

	// Address classes.
	KindAddressIPv4
	KindAddressIPv6
	KindNetwork
	KindNetworkIPv6
	KindAddressRange
	KindAddressTable
	KindDNSName
	KindPhysicalAddress

	// Host classes.
	KindHost
	KindFirewall
	KindCluster
	KindInterface

	// Service classes.
	KindServiceTCP
	KindServiceUDP
	KindServiceICMP
	KindServiceICMPv6
	KindServiceIP
	KindServiceCustom
	KindServiceTag
	KindServiceUser

	// Group classes.
	KindGroupObject
	KindGroupService
	KindGroupInterval
	KindGroupDynamic

	// Time.
	KindInterval

	// Library.
	KindLibrary

	// Rule sets.
	KindRuleSetPolicy
	KindRuleSetNAT
	KindRuleSetRouting

	// Rules.
	KindRulePolicy
	KindRuleNAT
	KindRuleRouting
)

func (k Kind) String() string {
	switch k {
	case KindAddressIPv4:
		return "address_ipv4"
	case KindAddressIPv6:
		return "address_ipv6"
	case KindNetwork:
		return "network"
	case KindNetworkIPv6:
		return "network_ipv6"
	case KindAddressRange:
		return "address_range"
	case KindAddressTable:
		return "address_table"
	case KindDNSName:
		return "dns_name"
	case KindPhysicalAddress:
		return "physical_address"
	case KindHost:
		return "host"
	case KindFirewall:
		return "firewall"
	case KindCluster:
		return "cluster"
	case KindInterface:
		return "interface"
	case KindServiceTCP:
		return "service_tcp"
	case KindServiceUDP:
		return "service_udp"
	case KindServiceICMP:
		return "service_icmp"
	case KindServiceICMPv6:
		return "service_icmpv6"
	case KindServiceIP:
		return "service_ip"
	case KindServiceCustom:
		return "service_custom"
	case KindServiceTag:
		return "service_tag"
	case KindServiceUser:
		return "service_user"
	case KindGroupObject:
		return "group_object"
	case KindGroupService:
		return "group_service"
	case KindGroupInterval:
		return "group_interval"
	case KindGroupDynamic:
		return "group_dynamic"
	case KindInterval:
		return "interval"
	case KindLibrary:
		return "library"
	case KindRuleSetPolicy:
		return "ruleset_policy"
	case KindRuleSetNAT:
		return "ruleset_nat"
	case KindRuleSetRouting:
		return "ruleset_routing"
	case KindRulePolicy:
		return "rule_policy"
	case KindRuleNAT:
		return "rule_nat"
	case KindRuleRouting:
		return "rule_routing"
	default:
		return "unknown"
	}
}

// IsGroup reports whether k is one of the group variants, which recurse
// through membership rather than holding terminal data.
func (k Kind) IsGroup() bool {
	switch k {
	case KindGroupObject, KindGroupService, KindGroupInterval, KindGroupDynamic:
		return true
	default:
		return false
	}
}

// IsAddress reports whether k is one of the address-class variants.
func (k Kind) IsAddress() bool {
	switch k {
	case KindAddressIPv4, KindAddressIPv6, KindNetwork, KindNetworkIPv6,
		KindAddressRange, KindAddressTable, KindDNSName, KindPhysicalAddress,
		KindHost, KindFirewall, KindCluster:
		return true
	default:
		return false
	}
}

// IsService reports whether k is one of the service-class variants.
func (k Kind) IsService() bool {
	switch k {
	case KindServiceTCP, KindServiceUDP, KindServiceICMP, KindServiceICMPv6,
		KindServiceIP, KindServiceCustom, KindServiceTag, KindServiceUser:
		return true
	default:
		return false
	}
}

// Family is the address-family scope of an object, rule set, or compile pass.
type Family uint8

const (
	FamilyBoth Family = iota
	FamilyIPv4
	FamilyIPv6
)

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "both"
	}
}
