//go:build linux

package iface

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

// usableInterfaces resolves the interfaces to join the server multicast
// group on. On Linux the link list comes from netlink so operational
// state is honoured, not just the administrative up flag.
func usableInterfaces(names []string) ([]net.Interface, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}

	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}

	var ifaces []net.Interface
	for _, link := range links {
		attrs := link.Attrs()
		if len(names) > 0 && !wanted[attrs.Name] {
			continue
		}
		if attrs.Flags&net.FlagLoopback != 0 {
			continue
		}
		if attrs.Flags&net.FlagMulticast == 0 {
			continue
		}
		if attrs.OperState == netlink.OperDown || attrs.OperState == netlink.OperNotPresent {
			continue
		}
		ifaces = append(ifaces, net.Interface{
			Index:        attrs.Index,
			MTU:          attrs.MTU,
			Name:         attrs.Name,
			HardwareAddr: attrs.HardwareAddr,
			Flags:        attrs.Flags,
		})
	}

	if len(ifaces) == 0 {
		return nil, fmt.Errorf("no usable multicast interface found")
	}
	return ifaces, nil
}
