package server

import (
	"bytes"
	"context"
	"net"

	"github.com/codelaboratoryltd/dhcp6d/pkg/config"
)

// pickAddress chooses an address to offer from the subnet's pools. A
// client hint wins when it lies inside a pool and is currently free;
// otherwise the pools are scanned in order for the first free address.
// Returns nil when every pool address is leased.
func (s *Server) pickAddress(ctx context.Context, subnet *config.Subnet, hint net.IP) (net.IP, error) {
	if hint != nil && subnet.InPool(hint) {
		free, err := s.addressFree(ctx, hint)
		if err != nil {
			return nil, err
		}
		if free {
			return hint.To16(), nil
		}
	}

	for _, pool := range subnet.Pools {
		for ip := append(net.IP(nil), pool.First...); ; ip = nextIPv6(ip) {
			free, err := s.addressFree(ctx, ip)
			if err != nil {
				return nil, err
			}
			if free {
				return ip, nil
			}
			if bytes.Equal(ip, pool.Last) {
				break
			}
		}
	}
	return nil, nil
}

func (s *Server) addressFree(ctx context.Context, addr net.IP) (bool, error) {
	existing, err := s.leases.GetByAddress(ctx, addr)
	if err != nil {
		return false, err
	}
	return existing == nil, nil
}

func nextIPv6(ip net.IP) net.IP {
	next := make(net.IP, 16)
	copy(next, ip.To16())
	for i := 15; i >= 0; i-- {
		next[i]++
		if next[i] != 0 {
			break
		}
	}
	return next
}
