// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package geo resolves the ISO-3166 country code for address objects that
// declare a `country` match (SPEC_FULL.md §12's SourceCountry/DestCountry
// supplemented feature), backed by a local MaxMind GeoIP2 database. No
// pack example reaches for GeoIP specifically; this package is named in
// SPEC_FULL.md §11's domain-dependency table and grounded in the general
// geoip2-golang/maxminddb-golang API shape rather than in a specific
// retrieved file.
package geo

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"

	"grimm.is/flywall/internal/objectmodel"
)

// DB wraps an open MaxMind country database.
type DB struct {
	reader *geoip2.Reader
}

// Open loads a GeoLite2-Country (or GeoIP2-Country) .mmdb file.
func Open(path string) (*DB, error) {
	r, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geo: open %s: %w", path, err)
	}
	return &DB{reader: r}, nil
}

// Close releases the underlying mmap'd database file.
func (db *DB) Close() error {
	return db.reader.Close()
}

// Country returns the ISO-3166 alpha-2 country code for ip, or "" when the
// address is not found (private/reserved ranges, typically).
func (db *DB) Country(ip net.IP) (string, error) {
	rec, err := db.reader.Country(ip)
	if err != nil {
		return "", fmt.Errorf("geo: lookup %s: %w", ip, err)
	}
	return rec.Country.IsoCode, nil
}

// CountryGroup pairs a country code with the address handles whose Country
// matches it. Nothing in this module builds or reads one: the policy/NAT
// pipelines never call into this package, and its only effect on a compile
// is Preprocess stamping AddressData.Country.
type CountryGroup struct {
	Code    string
	Members []objectmodel.Handle
}

// Preprocess implements driver.Preprocessor: it stamps AddressData.Country
// for every plain address object whose kind carries a single literal IP,
// using db to do the lookup. Group, address-table and DNS-name objects are
// skipped and get no Country, whether or not resolve.Resolver has filled in
// their Resolved list.
func (db *DB) Preprocess(store *objectmodel.Store, _ *objectmodel.Object) error {
	for _, o := range store.All() {
		if o.Address == nil || o.Address.Country != "" {
			continue
		}
		switch o.Kind {
		case objectmodel.KindAddressIPv4, objectmodel.KindAddressIPv6:
			if o.Address.IP == nil {
				continue
			}
			code, err := db.Country(o.Address.IP)
			if err != nil {
				return err
			}
			o.Address.Country = code
		}
	}
	return nil
}
