package config

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codelaboratoryltd/dhcp6d/pkg/dhcp6"
)

func mustSubnet(t *testing.T, cidr string) *Subnet {
	t.Helper()
	_, prefix, err := net.ParseCIDR(cidr)
	require.NoError(t, err)
	subnet, err := NewSubnet(prefix, 1, 2, 3, 4)
	require.NoError(t, err)
	return subnet
}

func directPacket(src string) *dhcp6.Packet {
	return &dhcp6.Packet{
		Type:          dhcp6.MsgTypeSolicit,
		TransactionID: [3]byte{0x00, 0x04, 0xD2},
		RemoteAddr:    &net.UDPAddr{IP: net.ParseIP(src), Port: dhcp6.ClientPort},
	}
}

func relayedPacket(linkAddr string, ifaceID []byte) *dhcp6.Packet {
	relay := dhcp6.RelayInfo{
		LinkAddress: net.ParseIP(linkAddr),
		PeerAddress: net.ParseIP("fe80::1"),
	}
	if ifaceID != nil {
		relay.Options = append(relay.Options, dhcp6.MakeInterfaceIDOption(ifaceID))
	}
	pkt := directPacket("fe80::abcd")
	pkt.Relays = []dhcp6.RelayInfo{relay}
	return pkt
}

func TestSelectSubnetBySourceAddress(t *testing.T) {
	registry := NewRegistry()
	subnet1 := mustSubnet(t, "2001:db8:1::/48")
	subnet2 := mustSubnet(t, "2001:db8:2::/48")
	subnet3 := mustSubnet(t, "2001:db8:3::/48")
	registry.ReplaceAll([]*Subnet{subnet1, subnet2, subnet3})

	// Global source covered by subnet2
	assert.Same(t, subnet2, registry.Select(directPacket("2001:db8:2::baca")))

	// Source covered by no subnet
	assert.Nil(t, registry.Select(directPacket("2001:db8:4::baca")))

	// A link-local source with no interface hint cannot be placed
	assert.Nil(t, registry.Select(directPacket("fe80::abcd")))
}

func TestSelectSubnetByInterface(t *testing.T) {
	registry := NewRegistry()
	subnet1 := mustSubnet(t, "2001:db8:1::/48")
	subnet2 := mustSubnet(t, "2001:db8:2::/48")
	subnet3 := mustSubnet(t, "2001:db8:3::/48")
	subnet1.Interface = "eth0"
	subnet3.Interface = "wifi1"
	registry.ReplaceAll([]*Subnet{subnet1, subnet2, subnet3})

	pkt := directPacket("fe80::abcd")

	pkt.Interface = "eth0"
	assert.Same(t, subnet1, registry.Select(pkt))

	pkt.Interface = "wifi1"
	assert.Same(t, subnet3, registry.Select(pkt))

	// No subnet configured for this interface
	pkt.Interface = "eth3"
	assert.Nil(t, registry.Select(pkt))
}

func TestSelectSubnetByRelayLinkAddress(t *testing.T) {
	registry := NewRegistry()
	subnet1 := mustSubnet(t, "2001:db8:1::/48")
	subnet2 := mustSubnet(t, "2001:db8:2::/48")
	subnet3 := mustSubnet(t, "2001:db8:3::/48")
	registry.ReplaceAll([]*Subnet{subnet1, subnet2, subnet3})

	// Relay link-address inside subnet2; the packet source is irrelevant
	pkt := relayedPacket("2001:db8:2::1234", nil)
	pkt.RemoteAddr = &net.UDPAddr{IP: net.ParseIP("2001:db8:1::baca"), Port: dhcp6.ServerPort}
	assert.Same(t, subnet2, registry.Select(pkt))

	// Relay from an undefined subnet
	assert.Nil(t, registry.Select(relayedPacket("2001:db8:4::1234", nil)))
}

func TestSelectSubnetByRelayInterfaceID(t *testing.T) {
	registry := NewRegistry()
	subnet1 := mustSubnet(t, "2001:db8:1::/48")
	subnet2 := mustSubnet(t, "2001:db8:2::/48")
	subnet2.InterfaceID = []byte("vlan42")
	registry.ReplaceAll([]*Subnet{subnet1, subnet2})

	// Interface-id match wins over link-address containment
	pkt := relayedPacket("2001:db8:1::1", []byte("vlan42"))
	assert.Same(t, subnet2, registry.Select(pkt))

	// Unknown interface-id falls back to link-address
	pkt = relayedPacket("2001:db8:1::1", []byte("vlan99"))
	assert.Same(t, subnet1, registry.Select(pkt))
}

func TestSelectUsesInnermostRelay(t *testing.T) {
	registry := NewRegistry()
	subnet1 := mustSubnet(t, "2001:db8:1::/48")
	subnet2 := mustSubnet(t, "2001:db8:2::/48")
	registry.ReplaceAll([]*Subnet{subnet1, subnet2})

	pkt := directPacket("fe80::abcd")
	pkt.Relays = []dhcp6.RelayInfo{
		{LinkAddress: net.ParseIP("2001:db8:1::1"), PeerAddress: net.ParseIP("fe80::1")},
		{LinkAddress: net.ParseIP("2001:db8:2::1"), PeerAddress: net.ParseIP("fe80::2")},
	}

	assert.Same(t, subnet2, registry.Select(pkt))
}

func TestSelectIsDeterministic(t *testing.T) {
	registry := NewRegistry()
	subnet1 := mustSubnet(t, "2001:db8:1::/48")
	overlap := mustSubnet(t, "2001:db8:1::/48")
	registry.ReplaceAll([]*Subnet{subnet1, overlap})

	pkt := directPacket("2001:db8:1::1")
	for i := 0; i < 10; i++ {
		assert.Same(t, subnet1, registry.Select(pkt))
	}
}

func TestRegistryAssignsSubnetIDs(t *testing.T) {
	registry := NewRegistry()
	subnet1 := mustSubnet(t, "2001:db8:1::/48")
	subnet2 := mustSubnet(t, "2001:db8:2::/48")
	registry.Add(subnet1)
	registry.Add(subnet2)

	assert.Equal(t, uint32(1), subnet1.ID)
	assert.Equal(t, uint32(2), subnet2.ID)
	assert.Same(t, subnet2, registry.ByID(2))
	assert.Nil(t, registry.ByID(99))
}

func TestRegistryReplaceAll(t *testing.T) {
	registry := NewRegistry()
	registry.Add(mustSubnet(t, "2001:db8:1::/48"))
	require.Equal(t, 1, registry.Len())

	registry.ReplaceAll([]*Subnet{
		mustSubnet(t, "2001:db8:2::/48"),
		mustSubnet(t, "2001:db8:3::/48"),
	})
	assert.Equal(t, 2, registry.Len())

	registry.Clear()
	assert.Zero(t, registry.Len())
}

func TestPoolValidation(t *testing.T) {
	subnet := mustSubnet(t, "2001:db8:1::/48")

	pool, err := NewPool(net.ParseIP("2001:db8:1:1::"), net.ParseIP("2001:db8:1:1::ffff"))
	require.NoError(t, err)
	require.NoError(t, subnet.AddPool(pool))

	// Reversed bounds
	_, err = NewPool(net.ParseIP("2001:db8:1:1::ffff"), net.ParseIP("2001:db8:1:1::"))
	assert.ErrorIs(t, err, ErrBadRange)

	// Pool outside the subnet prefix
	outside, err := NewPool(net.ParseIP("2001:db8:2::"), net.ParseIP("2001:db8:2::ffff"))
	require.NoError(t, err)
	assert.ErrorIs(t, subnet.AddPool(outside), ErrPoolOutOfRange)
}

func TestPoolContains(t *testing.T) {
	_, prefix, err := net.ParseCIDR("2001:db8:1:1::/64")
	require.NoError(t, err)
	pool, err := NewPoolFromPrefix(prefix)
	require.NoError(t, err)

	assert.True(t, pool.Contains(net.ParseIP("2001:db8:1:1::dead:beef")))
	assert.True(t, pool.Contains(net.ParseIP("2001:db8:1:1::")))
	assert.True(t, pool.Contains(net.ParseIP("2001:db8:1:1:ffff:ffff:ffff:ffff")))
	assert.False(t, pool.Contains(net.ParseIP("2001:db8:1:2::")))
	assert.False(t, pool.Contains(net.ParseIP("2001:db8:1::cafe:babe")))
}
