//go:build !linux

package iface

import (
	"fmt"
	"net"
)

// usableInterfaces resolves the interfaces to join the server multicast
// group on, filtering on the flags the portable API exposes.
func usableInterfaces(names []string) ([]net.Interface, error) {
	all, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}

	var ifaces []net.Interface
	for _, iface := range all {
		if len(names) > 0 && !wanted[iface.Name] {
			continue
		}
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&net.FlagMulticast == 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		ifaces = append(ifaces, iface)
	}

	if len(ifaces) == 0 {
		return nil, fmt.Errorf("no usable multicast interface found")
	}
	return ifaces, nil
}
