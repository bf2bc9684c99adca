// Package iface owns the UDP socket and interface handling: it binds the
// DHCPv6 server port, joins the All_DHCP_Relay_Agents_and_Servers group,
// and converts datagrams to and from packets stamped with the endpoints
// and receiving interface the processor needs.
package iface

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/ipv6"

	"github.com/codelaboratoryltd/dhcp6d/pkg/dhcp6"
)

// PacketConn is the packet-in/packet-out interface the processor depends
// on. Recv blocks until a packet arrives or the context is done.
type PacketConn interface {
	Recv(ctx context.Context) (*dhcp6.Packet, error)
	Send(ctx context.Context, pkt *dhcp6.Packet) error
	Close() error
}

// ErrParse wraps datagram parse failures so the receive loop can count
// and skip them without tearing the socket down.
var ErrParse = errors.New("datagram parse failed")

// UDPConn is the standard PacketConn over a UDP socket.
type UDPConn struct {
	conn   *net.UDPConn
	pc     *ipv6.PacketConn
	logger *zap.Logger
}

// Listen binds the DHCPv6 server port and joins the relay/server
// multicast group on the named interfaces (every multicast-capable
// interface when the list is empty).
func Listen(ifaceNames []string, logger *zap.Logger) (*UDPConn, error) {
	conn, err := net.ListenUDP("udp6", &net.UDPAddr{IP: net.IPv6unspecified, Port: dhcp6.ServerPort})
	if err != nil {
		return nil, fmt.Errorf("failed to listen on port %d: %w", dhcp6.ServerPort, err)
	}

	pc := ipv6.NewPacketConn(conn)
	if err := pc.SetControlMessage(ipv6.FlagInterface|ipv6.FlagDst, true); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable control messages: %w", err)
	}

	ifaces, err := usableInterfaces(ifaceNames)
	if err != nil {
		conn.Close()
		return nil, err
	}

	group := &net.UDPAddr{IP: dhcp6.AllDHCPRelayAgentsAndServers}
	for _, iface := range ifaces {
		iface := iface
		if err := pc.JoinGroup(&iface, group); err != nil {
			logger.Warn("Failed to join multicast group",
				zap.String("interface", iface.Name),
				zap.Error(err),
			)
			continue
		}
		logger.Info("Joined DHCPv6 multicast group",
			zap.String("interface", iface.Name),
			zap.String("group", dhcp6.AllDHCPRelayAgentsAndServers.String()),
		)
	}

	return &UDPConn{conn: conn, pc: pc, logger: logger}, nil
}

// Recv implements PacketConn. Parse failures return an error wrapping
// ErrParse; the socket stays usable.
func (c *UDPConn) Recv(ctx context.Context) (*dhcp6.Packet, error) {
	buf := make([]byte, 65535)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		c.conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, cm, src, err := c.pc.ReadFrom(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			return nil, err
		}

		pkt, err := dhcp6.ParsePacket(buf[:n])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}

		pkt.RemoteAddr = src.(*net.UDPAddr)
		if cm != nil {
			pkt.IfIndex = cm.IfIndex
			pkt.LocalAddr = &net.UDPAddr{IP: cm.Dst, Port: dhcp6.ServerPort}
			if iface, err := net.InterfaceByIndex(cm.IfIndex); err == nil {
				pkt.Interface = iface.Name
			}
		}

		return pkt, nil
	}
}

// Send implements PacketConn. The reply goes back to the packet's remote
// endpoint; direct clients are addressed on the client port.
func (c *UDPConn) Send(ctx context.Context, pkt *dhcp6.Packet) error {
	if pkt.RemoteAddr == nil {
		return fmt.Errorf("packet has no remote endpoint")
	}

	dst := &net.UDPAddr{
		IP:   pkt.RemoteAddr.IP,
		Port: pkt.RemoteAddr.Port,
		Zone: pkt.RemoteAddr.Zone,
	}
	if !pkt.Relayed() {
		dst.Port = dhcp6.ClientPort
	}

	var cm *ipv6.ControlMessage
	if pkt.IfIndex != 0 {
		cm = &ipv6.ControlMessage{IfIndex: pkt.IfIndex}
	}

	if _, err := c.pc.WriteTo(pkt.Serialize(), cm, dst); err != nil {
		return fmt.Errorf("failed to send to %s: %w", dst, err)
	}
	return nil
}

// Close implements PacketConn.
func (c *UDPConn) Close() error {
	return c.conn.Close()
}
