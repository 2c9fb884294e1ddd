// Package prefix derives per-link /64 subnets from a delegated IPv6 prefix.
package prefix

import (
	"errors"
	"fmt"
	"math/big"
	"net/netip"
)

// SubnetBits is the length of every derived sub-prefix.
const SubnetBits = 64

// maxSubnets bounds the number of /64s carved from a single delegation.
const maxSubnets = 1 << 16

var (
	// ErrNoSubnets is returned when the delegated prefix is longer than /64.
	ErrNoSubnets = errors.New("no /64 subnets available")
	// ErrIndexOutOfRange is returned when the sub-prefix index does not fit the delegation.
	ErrIndexOutOfRange = errors.New("sub-prefix index out of range")
)

// Prefix is an IPv6 prefix compared by value.
type Prefix struct {
	Addr netip.Addr
	Bits int
}

// New returns the prefix addr/bits with the host bits cleared.
func New(addr netip.Addr, bits int) Prefix {
	return Prefix{Addr: addr, Bits: bits}.Masked()
}

// Masked returns p with every bit past its length cleared, so one block
// always has one representation.
func (p Prefix) Masked() Prefix {
	if !p.IsValid() {
		return p
	}
	return Prefix{Addr: p.Netip().Masked().Addr(), Bits: p.Bits}
}

// Parse parses "2001:db8::/56".
func Parse(s string) (Prefix, error) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return Prefix{}, err
	}
	if !p.Addr().Is6() || p.Addr().Is4In6() {
		return Prefix{}, fmt.Errorf("%s: not an IPv6 prefix", s)
	}
	return New(p.Addr(), p.Bits()), nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Prefix {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// IsValid reports whether p holds an IPv6 address and a sane length.
func (p Prefix) IsValid() bool {
	return p.Addr.Is6() && p.Bits >= 0 && p.Bits <= 128
}

// Netip converts p to a netip.Prefix.
func (p Prefix) Netip() netip.Prefix {
	return netip.PrefixFrom(p.Addr, p.Bits)
}

func (p Prefix) String() string {
	return p.Netip().String()
}

// Host returns the address with the given host suffix added to the
// network address, e.g. Host(1) of 2001:db8::/64 is 2001:db8::1.
func (p Prefix) Host(suffix uint64) netip.Addr {
	return addOffset(p.Addr, new(big.Int).SetUint64(suffix))
}

// Subprefix returns the n-th consecutive /64 within p. The result only
// depends on (p, n).
func Subprefix(p Prefix, n int) (Prefix, error) {
	if p.Bits > SubnetBits {
		return Prefix{}, fmt.Errorf("%s: %w", p, ErrNoSubnets)
	}
	space := uint64(1) << uint(SubnetBits-p.Bits)
	if p.Bits == 0 || space > maxSubnets {
		return Prefix{}, fmt.Errorf("%s: %d subnets exceeds %d: %w", p, space, maxSubnets, ErrIndexOutOfRange)
	}
	if n < 0 || uint64(n) >= space {
		return Prefix{}, fmt.Errorf("%s: index %d not in [0,%d): %w", p, n, space, ErrIndexOutOfRange)
	}
	off := new(big.Int).Lsh(big.NewInt(int64(n)), SubnetBits)
	return Prefix{Addr: addOffset(p.Masked().Addr, off), Bits: SubnetBits}, nil
}

// Subprefix is the method form of the package-level Subprefix.
func (p Prefix) Subprefix(n int) (Prefix, error) {
	return Subprefix(p, n)
}

func addOffset(a netip.Addr, off *big.Int) netip.Addr {
	b := a.As16()
	v := new(big.Int).SetBytes(b[:])
	v.Add(v, off)
	// Wrap at 2^128 like fixed-width arithmetic.
	v.And(v, new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1)))
	var out [16]byte
	v.FillBytes(out[:])
	return netip.AddrFrom16(out)
}

// Contains reports whether list holds a prefix equal to p.
func Contains(list []Prefix, p Prefix) bool {
	for _, q := range list {
		if q == p {
			return true
		}
	}
	return false
}

// AppendUnique appends p to list unless an equal prefix is already present.
func AppendUnique(list []Prefix, p Prefix) []Prefix {
	if Contains(list, p) {
		return list
	}
	return append(list, p)
}
