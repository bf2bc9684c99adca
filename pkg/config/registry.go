package config

import (
	"bytes"
	"sync"

	"github.com/codelaboratoryltd/dhcp6d/pkg/dhcp6"
)

// Registry holds the live, ordered set of subnets. Mutation is
// administrative; the hot path only reads. Reconfiguration replaces the
// slice wholesale so in-flight requests keep the snapshot they started
// with.
type Registry struct {
	mu      sync.RWMutex
	subnets []*Subnet
	nextID  uint32
}

// NewRegistry creates an empty subnet registry.
func NewRegistry() *Registry {
	return &Registry{nextID: 1}
}

// Add appends a subnet, assigning the next subnet-id if the subnet has
// none.
func (r *Registry) Add(subnet *Subnet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(subnet)
}

func (r *Registry) add(subnet *Subnet) {
	if subnet.ID == 0 {
		subnet.ID = r.nextID
		r.nextID++
	} else if subnet.ID >= r.nextID {
		r.nextID = subnet.ID + 1
	}
	r.subnets = append(r.subnets, subnet)
}

// ReplaceAll swaps the whole subnet list in one step.
func (r *Registry) ReplaceAll(subnets []*Subnet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subnets = nil
	for _, subnet := range subnets {
		r.add(subnet)
	}
}

// Clear removes every subnet.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subnets = nil
}

// All returns a snapshot of the subnet list in configuration order.
func (r *Registry) All() []*Subnet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subnet, len(r.subnets))
	copy(out, r.subnets)
	return out
}

// Len returns the number of configured subnets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subnets)
}

// ByID returns the subnet with the given subnet-id, or nil.
func (r *Registry) ByID(id uint32) *Subnet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, subnet := range r.subnets {
		if subnet.ID == id {
			return subnet
		}
	}
	return nil
}

// Select picks the subnet for an inbound packet, or nil when the client
// cannot be placed. Rules are tried in fixed priority:
//
//  1. Relayed traffic: an interface-id match on the innermost relay wins;
//     otherwise the first subnet covering the relay's link-address.
//  2. Direct traffic with a known receiving interface: the first subnet
//     configured for that interface name.
//  3. Direct traffic from a link-local source with no interface hint:
//     nothing.
//  4. Otherwise the first subnet covering the source address.
func (r *Registry) Select(pkt *dhcp6.Packet) *Subnet {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if relay := pkt.InnermostRelay(); relay != nil {
		if id := relay.InterfaceID(); id != nil {
			for _, subnet := range r.subnets {
				if len(subnet.InterfaceID) > 0 && bytes.Equal(subnet.InterfaceID, id) {
					return subnet
				}
			}
		}
		for _, subnet := range r.subnets {
			if subnet.InRange(relay.LinkAddress) {
				return subnet
			}
		}
		return nil
	}

	if pkt.Interface != "" {
		for _, subnet := range r.subnets {
			if subnet.Interface == pkt.Interface {
				return subnet
			}
		}
		return nil
	}

	if pkt.RemoteAddr == nil {
		return nil
	}
	src := pkt.RemoteAddr.IP
	if src.IsLinkLocalUnicast() {
		return nil
	}
	for _, subnet := range r.subnets {
		if subnet.InRange(src) {
			return subnet
		}
	}
	return nil
}
