package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"

	"github.com/codelaboratoryltd/dhcp6d/pkg/dhcp6"
)

var (
	// ErrPoolOutOfRange is returned when a pool does not lie inside its
	// subnet's prefix.
	ErrPoolOutOfRange = errors.New("pool outside subnet prefix")

	// ErrBadRange is returned when a pool's first address is greater
	// than its last.
	ErrBadRange = errors.New("pool range reversed")
)

// Pool is a contiguous closed range [First, Last] of IPv6 addresses
// inside one subnet from which IA_NA addresses are allocated.
type Pool struct {
	First net.IP
	Last  net.IP
}

// NewPool validates and constructs a pool from its bounds.
func NewPool(first, last net.IP) (Pool, error) {
	f, l := first.To16(), last.To16()
	if f == nil || first.To4() != nil || l == nil || last.To4() != nil {
		return Pool{}, fmt.Errorf("pool bounds must be IPv6 addresses: %s - %s", first, last)
	}
	if bytes.Compare(f, l) > 0 {
		return Pool{}, fmt.Errorf("%w: %s - %s", ErrBadRange, first, last)
	}
	return Pool{First: f, Last: l}, nil
}

// NewPoolFromPrefix constructs a pool spanning a whole prefix.
func NewPoolFromPrefix(prefix *net.IPNet) (Pool, error) {
	first := prefix.IP.To16()
	if first == nil || prefix.IP.To4() != nil {
		return Pool{}, fmt.Errorf("pool prefix must be IPv6: %s", prefix)
	}
	last := make(net.IP, 16)
	for i := 0; i < 16; i++ {
		last[i] = first[i] | ^prefix.Mask[i]
	}
	return Pool{First: append(net.IP(nil), first...), Last: last}, nil
}

// Contains reports whether ip falls inside the pool range.
func (p Pool) Contains(ip net.IP) bool {
	v6 := ip.To16()
	if v6 == nil {
		return false
	}
	return bytes.Compare(v6, p.First) >= 0 && bytes.Compare(v6, p.Last) <= 0
}

func (p Pool) String() string {
	return fmt.Sprintf("%s - %s", p.First, p.Last)
}

// Subnet is one administrator-configured IPv6 subnet: a prefix, the four
// lease timers handed to clients, the pools addresses are drawn from, and
// the optional interface name or relay interface-id that steers selection.
type Subnet struct {
	ID     uint32
	Prefix *net.IPNet

	T1        uint32
	T2        uint32
	Preferred uint32
	Valid     uint32

	Pools []Pool

	Interface   string
	InterfaceID []byte

	// Options configured for this subnet, returned when a client's ORO
	// requests their codes.
	Options []dhcp6.Option
}

// NewSubnet validates and constructs a subnet. Every pool must lie inside
// the prefix.
func NewSubnet(prefix *net.IPNet, t1, t2, preferred, valid uint32, pools ...Pool) (*Subnet, error) {
	if prefix.IP.To16() == nil || prefix.IP.To4() != nil {
		return nil, fmt.Errorf("subnet prefix must be IPv6: %s", prefix)
	}
	for _, pool := range pools {
		if !prefix.Contains(pool.First) || !prefix.Contains(pool.Last) {
			return nil, fmt.Errorf("%w: pool %s in subnet %s", ErrPoolOutOfRange, pool, prefix)
		}
	}
	return &Subnet{
		Prefix:    prefix,
		T1:        t1,
		T2:        t2,
		Preferred: preferred,
		Valid:     valid,
		Pools:     pools,
	}, nil
}

// AddPool appends a pool after validating it against the prefix.
func (s *Subnet) AddPool(pool Pool) error {
	if !s.Prefix.Contains(pool.First) || !s.Prefix.Contains(pool.Last) {
		return fmt.Errorf("%w: pool %s in subnet %s", ErrPoolOutOfRange, pool, s.Prefix)
	}
	s.Pools = append(s.Pools, pool)
	return nil
}

// InRange reports whether ip falls inside the subnet prefix.
func (s *Subnet) InRange(ip net.IP) bool {
	return s.Prefix.Contains(ip)
}

// InPool reports whether ip falls inside any of the subnet's pools.
func (s *Subnet) InPool(ip net.IP) bool {
	for _, pool := range s.Pools {
		if pool.Contains(ip) {
			return true
		}
	}
	return false
}

// FindOption returns the configured option with the given code, or nil.
func (s *Subnet) FindOption(code uint16) *dhcp6.Option {
	return dhcp6.FindOption(s.Options, code)
}

func (s *Subnet) String() string {
	return s.Prefix.String()
}
