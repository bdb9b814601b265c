// Package geo resolves client IPs to country codes from a local MaxMind
// database.
package geo

import (
	"errors"
	"net/netip"

	"github.com/oschwald/maxminddb-golang"
	domain "github.com/x402gate/x402gate/internal/compliance/domain"
)

var ErrUnresolvable = errors.New("unresolvable_ip")

// Resolver reads country codes from an mmdb file.
type Resolver struct {
	db *maxminddb.Reader
}

func Open(path string) (*Resolver, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, err
	}
	return &Resolver{db: db}, nil
}

func (r *Resolver) Close() error { return r.db.Close() }

type countryRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

func (r *Resolver) Country(ip string) (string, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "", ErrUnresolvable
	}
	var record countryRecord
	if err := r.db.Lookup(addr.AsSlice(), &record); err != nil {
		return "", err
	}
	if record.Country.ISOCode == "" {
		return "", ErrUnresolvable
	}
	return record.Country.ISOCode, nil
}

// Static resolves from a fixed IP-to-country table. Used when no mmdb file is
// configured and in tests.
type Static map[string]string

func (s Static) Country(ip string) (string, error) {
	if code, ok := s[ip]; ok {
		return code, nil
	}
	return "", ErrUnresolvable
}

var _ domain.GeoResolver = (*Resolver)(nil)
var _ domain.GeoResolver = Static(nil)
