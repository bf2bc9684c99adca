// Package server is the DHCPv6 message processor: it sanity-checks each
// inbound message, selects the subnet, drives the per-message transition
// against the lease store, builds the reply, and invokes callouts at the
// three fixed hook points.
package server

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/codelaboratoryltd/dhcp6d/pkg/config"
	"github.com/codelaboratoryltd/dhcp6d/pkg/dhcp6"
	"github.com/codelaboratoryltd/dhcp6d/pkg/hooks"
	"github.com/codelaboratoryltd/dhcp6d/pkg/iface"
	"github.com/codelaboratoryltd/dhcp6d/pkg/lease"
	"github.com/codelaboratoryltd/dhcp6d/pkg/metrics"
)

// advertisePreference is the Preference option value attached to every
// ADVERTISE.
const advertisePreference = 255

// Config assembles the processor's collaborators. Everything is an
// explicit value so tests can run concurrent instances.
type Config struct {
	// ServerDUID is this server's identity, raw octets.
	ServerDUID []byte

	// Subnets is the configuration registry consulted for selection.
	Subnets *config.Registry

	// Leases is the lease store; NewMemoryStore when unset.
	Leases lease.Store

	// Hooks is the callout registry; an empty one when unset.
	Hooks *hooks.Registry

	// Metrics collectors; optional.
	Metrics *metrics.Metrics
}

// Server processes DHCPv6 messages one at a time.
type Server struct {
	duid    []byte
	subnets *config.Registry
	leases  lease.Store
	hooks   *hooks.Registry
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates a message processor.
func New(cfg Config, logger *zap.Logger) (*Server, error) {
	if len(cfg.ServerDUID) < dhcp6.MinDUIDLen || len(cfg.ServerDUID) > dhcp6.MaxDUIDLen {
		return nil, fmt.Errorf("server DUID length %d outside [%d, %d]",
			len(cfg.ServerDUID), dhcp6.MinDUIDLen, dhcp6.MaxDUIDLen)
	}
	if cfg.Subnets == nil {
		return nil, fmt.Errorf("subnet registry required")
	}
	if cfg.Leases == nil {
		cfg.Leases = lease.NewMemoryStore()
	}
	if cfg.Hooks == nil {
		cfg.Hooks = hooks.NewRegistry()
	}

	return &Server{
		duid:    append([]byte(nil), cfg.ServerDUID...),
		subnets: cfg.Subnets,
		leases:  cfg.Leases,
		hooks:   cfg.Hooks,
		metrics: cfg.Metrics,
		logger:  logger,
	}, nil
}

// DUID returns the server's identity octets.
func (s *Server) DUID() []byte {
	return append([]byte(nil), s.duid...)
}

// Run pulls packets from the connection until the context is done. One
// packet is processed to completion, and its reply sent, before the next
// is read.
func (s *Server) Run(ctx context.Context, conn iface.PacketConn) error {
	s.logger.Info("DHCPv6 processor started",
		zap.String("duid", dhcp6.FormatDUID(s.duid)),
		zap.Int("subnets", s.subnets.Len()),
	)

	for {
		pkt, err := conn.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("DHCPv6 processor stopping")
				return nil
			}
			if errors.Is(err, iface.ErrParse) {
				s.countParseFailure()
				s.logger.Debug("Dropping unparseable datagram", zap.Error(err))
				continue
			}
			return fmt.Errorf("receive failed: %w", err)
		}

		reply := s.Process(ctx, pkt)
		if reply == nil {
			continue
		}

		if err := conn.Send(ctx, reply); err != nil {
			s.logger.Error("Failed to send reply",
				zap.String("type", dhcp6.TypeName(reply.Type)),
				zap.Error(err),
			)
			continue
		}
		s.countReply(reply.Type)
	}
}

// Process runs one inbound packet through the full per-message state
// machine and returns the reply, or nil when the packet is dropped or
// produces no response.
func (s *Server) Process(ctx context.Context, pkt *dhcp6.Packet) *dhcp6.Packet {
	s.countReceived(pkt.Type)

	if s.hooks.HasCallouts(hooks.HookPkt6Receive) {
		h := &hooks.Handle{Packet: pkt}
		s.hooks.Dispatch(hooks.HookPkt6Receive, h)
		if h.Skip() {
			s.countSkip(hooks.HookPkt6Receive)
			s.logger.Debug("Packet dropped by pkt6_receive callout",
				zap.String("type", dhcp6.TypeName(pkt.Type)),
			)
			return nil
		}
	}

	var reply *dhcp6.Packet
	switch pkt.Type {
	case dhcp6.MsgTypeSolicit:
		reply = s.processSolicit(ctx, pkt)
	case dhcp6.MsgTypeRequest:
		reply = s.processRequest(ctx, pkt)
	case dhcp6.MsgTypeRenew:
		reply = s.processRenew(ctx, pkt)
	case dhcp6.MsgTypeRelease:
		reply = s.processRelease(ctx, pkt)
	default:
		s.countDropped("unhandled-type")
		s.logger.Debug("Ignoring unhandled message type",
			zap.String("type", dhcp6.TypeName(pkt.Type)),
		)
		return nil
	}
	if reply == nil {
		return nil
	}

	if s.hooks.HasCallouts(hooks.HookPkt6Send) {
		h := &hooks.Handle{Packet: reply}
		s.hooks.Dispatch(hooks.HookPkt6Send, h)
		if h.Skip() {
			s.countSkip(hooks.HookPkt6Send)
			s.logger.Debug("Reply dropped by pkt6_send callout",
				zap.String("type", dhcp6.TypeName(reply.Type)),
			)
			return nil
		}
	}

	return reply
}

// selectSubnet asks the registry for a candidate and gives the
// subnet6_select callouts a chance to override it. Skip keeps the
// registry's choice.
func (s *Server) selectSubnet(pkt *dhcp6.Packet) *config.Subnet {
	selected := s.subnets.Select(pkt)

	if s.hooks.HasCallouts(hooks.HookSubnet6Select) {
		h := &hooks.Handle{
			Packet:  pkt,
			Subnet:  selected,
			Subnets: s.subnets.All(),
		}
		s.hooks.Dispatch(hooks.HookSubnet6Select, h)
		if h.Skip() {
			s.countSkip(hooks.HookSubnet6Select)
			return selected
		}
		selected = h.Subnet
	}

	return selected
}

// newReply scaffolds a reply: message type, echoed transaction id,
// echoed Client-Id, our Server-Id, and the addressing the transport
// needs to route it back.
func (s *Server) newReply(msgType uint8, pkt *dhcp6.Packet) *dhcp6.Packet {
	reply := &dhcp6.Packet{
		Type:          msgType,
		TransactionID: pkt.TransactionID,
		RemoteAddr:    pkt.RemoteAddr,
		LocalAddr:     pkt.LocalAddr,
		Interface:     pkt.Interface,
		IfIndex:       pkt.IfIndex,
		Relays:        pkt.Relays,
	}
	if clientID := pkt.GetOption(dhcp6.OptClientID); clientID != nil {
		reply.AddOption(dhcp6.MakeClientIDOption(clientID.Data))
	}
	reply.AddOption(dhcp6.MakeServerIDOption(s.duid))
	return reply
}

// appendRequestedOptions honours the ORO: every requested code with
// configured data on the subnet is appended to the reply.
func (s *Server) appendRequestedOptions(reply, pkt *dhcp6.Packet, subnet *config.Subnet) {
	if subnet == nil {
		return
	}
	oro := pkt.GetOption(dhcp6.OptORO)
	if oro == nil {
		return
	}
	codes, err := dhcp6.ParseORO(oro.Data)
	if err != nil {
		s.logger.Debug("Ignoring malformed ORO", zap.Error(err))
		return
	}
	for _, code := range codes {
		if reply.GetOption(code) != nil {
			continue
		}
		if opt := subnet.FindOption(code); opt != nil {
			reply.AddOption(*opt)
		}
	}
}

// serverIDMatches reports whether the message's Server Identifier is our
// DUID. Messages addressed to another server are not ours to answer.
func (s *Server) serverIDMatches(pkt *dhcp6.Packet) bool {
	serverID := pkt.GetOption(dhcp6.OptServerID)
	return serverID != nil && dhcp6.MakeServerIDOption(s.duid).Equal(*serverID)
}

func (s *Server) dropSanity(pkt *dhcp6.Packet, err error) *dhcp6.Packet {
	s.countSanityFailure()
	s.logger.Debug("Message failed sanity check",
		zap.String("type", dhcp6.TypeName(pkt.Type)),
		zap.Error(err),
	)
	return nil
}

func (s *Server) countReceived(msgType uint8) {
	if s.metrics != nil {
		s.metrics.PacketsReceived.WithLabelValues(dhcp6.TypeName(msgType)).Inc()
	}
}

func (s *Server) countReply(msgType uint8) {
	if s.metrics != nil {
		s.metrics.RepliesSent.WithLabelValues(dhcp6.TypeName(msgType)).Inc()
	}
}

func (s *Server) countDropped(reason string) {
	if s.metrics != nil {
		s.metrics.PacketsDropped.WithLabelValues(reason).Inc()
	}
}

func (s *Server) countSkip(hook string) {
	if s.metrics != nil {
		s.metrics.CalloutSkips.WithLabelValues(hook).Inc()
	}
}

func (s *Server) countSanityFailure() {
	if s.metrics != nil {
		s.metrics.SanityFailures.Inc()
		s.metrics.PacketsDropped.WithLabelValues("sanity").Inc()
	}
}

func (s *Server) countParseFailure() {
	if s.metrics != nil {
		s.metrics.ParseFailures.Inc()
		s.metrics.PacketsDropped.WithLabelValues("parse").Inc()
	}
}

func (s *Server) leaseAdded() {
	if s.metrics != nil {
		s.metrics.ActiveLeases.Inc()
	}
}

func (s *Server) leaseRemoved() {
	if s.metrics != nil {
		s.metrics.ActiveLeases.Dec()
	}
}
