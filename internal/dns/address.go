package dns

import (
	"fmt"
	"net/netip"
	"strings"
)

// Family classifies an address as IPv4 or IPv6.
type Family int

const (
	IPv4 Family = iota + 1
	IPv6
)

func (f Family) String() string {
	switch f {
	case IPv4:
		return "IPv4"
	case IPv6:
		return "IPv6"
	default:
		return "unknown"
	}
}

// RecordType returns the record type that carries addresses of this family.
func (f Family) RecordType() string {
	if f == IPv6 {
		return TypeAAAA
	}
	return TypeA
}

// Address is a validated IPv4 or IPv6 literal. The family is computed once
// by ParseAddress and never re-derived from the string.
type Address struct {
	value  string
	family Family
}

// ParseAddress trims s and validates it as a dotted-quad IPv4 or colon-hex
// IPv6 literal. Zoned IPv6 addresses are rejected.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Address{}, fmt.Errorf("dns: empty address")
	}
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return Address{}, fmt.Errorf("dns: invalid address %q: %w", s, err)
	}
	if ip.Zone() != "" {
		return Address{}, fmt.Errorf("dns: zoned address %q not allowed", s)
	}
	family := IPv4
	if strings.Contains(s, ":") {
		family = IPv6
	}
	return Address{value: s, family: family}, nil
}

// MustParseAddress is like ParseAddress but panics on error.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IsValidAddress reports whether s is an IPv4 or IPv6 literal.
func IsValidAddress(s string) bool {
	_, err := ParseAddress(s)
	return err == nil
}

func (a Address) String() string { return a.value }

func (a Address) Family() Family { return a.family }

func (a Address) IsZero() bool { return a.value == "" }

// RecordType returns "A" or "AAAA" depending on the address family.
func (a Address) RecordType() string { return a.family.RecordType() }

// AddressSet is a set of addresses that remembers insertion order for display.
type AddressSet struct {
	order []Address
	seen  map[string]struct{}
}

// NewAddressSet builds a set from addrs, dropping duplicates.
func NewAddressSet(addrs ...Address) *AddressSet {
	s := &AddressSet{seen: make(map[string]struct{}, len(addrs))}
	for _, a := range addrs {
		s.Add(a)
	}
	return s
}

// Add inserts a and reports whether it was not already present.
func (s *AddressSet) Add(a Address) bool {
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[a.value]; ok {
		return false
	}
	s.seen[a.value] = struct{}{}
	s.order = append(s.order, a)
	return true
}

func (s *AddressSet) Contains(value string) bool {
	if s == nil {
		return false
	}
	_, ok := s.seen[value]
	return ok
}

func (s *AddressSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Addresses returns the members in insertion order.
func (s *AddressSet) Addresses() []Address {
	if s == nil {
		return nil
	}
	out := make([]Address, len(s.order))
	copy(out, s.order)
	return out
}

// Strings returns the members as strings in insertion order.
func (s *AddressSet) Strings() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.order))
	for _, a := range s.order {
		out = append(out, a.value)
	}
	return out
}

// Equal reports whether both sets hold the same members, ignoring order.
func (s *AddressSet) Equal(other *AddressSet) bool {
	if s.Len() != other.Len() {
		return false
	}
	for _, a := range s.Addresses() {
		if !other.Contains(a.value) {
			return false
		}
	}
	return true
}
