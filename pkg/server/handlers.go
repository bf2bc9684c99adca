package server

import (
	"bytes"
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/codelaboratoryltd/dhcp6d/pkg/config"
	"github.com/codelaboratoryltd/dhcp6d/pkg/dhcp6"
	"github.com/codelaboratoryltd/dhcp6d/pkg/lease"
)

// processSolicit answers a SOLICIT with an ADVERTISE. Addresses are
// offered but no lease is recorded.
func (s *Server) processSolicit(ctx context.Context, pkt *dhcp6.Packet) *dhcp6.Packet {
	if err := sanityCheck(pkt, Mandatory, Forbidden); err != nil {
		return s.dropSanity(pkt, err)
	}

	s.logger.Debug("Received Solicit", zap.String("from", remoteString(pkt)))

	subnet := s.selectSubnet(pkt)

	reply := s.newReply(dhcp6.MsgTypeAdvertise, pkt)
	reply.AddOption(dhcp6.MakePreferenceOption(advertisePreference))

	for _, ianaOpt := range pkt.GetAllOptions(dhcp6.OptIANA) {
		req, err := dhcp6.ParseIANA(ianaOpt.Data)
		if err != nil {
			s.countDropped("malformed-ia")
			s.logger.Debug("Dropping Solicit with malformed IA_NA", zap.Error(err))
			return nil
		}

		ia, _, err := s.offerIANA(ctx, subnet, req)
		if err != nil {
			s.logger.Error("Lease store failure during Solicit", zap.Error(err))
			ia = statusIANA(req.IAID, dhcp6.StatusUnspecFail, "Allocation failed.")
		}
		reply.AddOption(dhcp6.MakeIANAOption(ia))
	}

	s.appendRequestedOptions(reply, pkt, subnet)
	return reply
}

// processRequest answers a REQUEST with a REPLY, committing a lease for
// every address handed out.
func (s *Server) processRequest(ctx context.Context, pkt *dhcp6.Packet) *dhcp6.Packet {
	if err := sanityCheck(pkt, Mandatory, Mandatory); err != nil {
		return s.dropSanity(pkt, err)
	}
	if !s.serverIDMatches(pkt) {
		s.countDropped("wrong-server-id")
		s.logger.Debug("Request addressed to another server", zap.String("from", remoteString(pkt)))
		return nil
	}

	s.logger.Debug("Received Request", zap.String("from", remoteString(pkt)))

	subnet := s.selectSubnet(pkt)
	clientDUID := pkt.GetOption(dhcp6.OptClientID).Data

	reply := s.newReply(dhcp6.MsgTypeReply, pkt)

	for _, ianaOpt := range pkt.GetAllOptions(dhcp6.OptIANA) {
		req, err := dhcp6.ParseIANA(ianaOpt.Data)
		if err != nil {
			s.countDropped("malformed-ia")
			s.logger.Debug("Dropping Request with malformed IA_NA", zap.Error(err))
			return nil
		}

		ia := s.assignIANA(ctx, subnet, req, clientDUID)
		reply.AddOption(dhcp6.MakeIANAOption(ia))
	}

	s.appendRequestedOptions(reply, pkt, subnet)
	return reply
}

// processRenew answers a RENEW with a REPLY, refreshing the matching
// binding or reporting NoBinding.
func (s *Server) processRenew(ctx context.Context, pkt *dhcp6.Packet) *dhcp6.Packet {
	if err := sanityCheck(pkt, Mandatory, Mandatory); err != nil {
		return s.dropSanity(pkt, err)
	}
	if !s.serverIDMatches(pkt) {
		s.countDropped("wrong-server-id")
		s.logger.Debug("Renew addressed to another server", zap.String("from", remoteString(pkt)))
		return nil
	}

	s.logger.Debug("Received Renew", zap.String("from", remoteString(pkt)))

	subnet := s.selectSubnet(pkt)
	clientDUID := pkt.GetOption(dhcp6.OptClientID).Data

	reply := s.newReply(dhcp6.MsgTypeReply, pkt)

	for _, ianaOpt := range pkt.GetAllOptions(dhcp6.OptIANA) {
		req, err := dhcp6.ParseIANA(ianaOpt.Data)
		if err != nil {
			s.countDropped("malformed-ia")
			s.logger.Debug("Dropping Renew with malformed IA_NA", zap.Error(err))
			return nil
		}

		ia, err := s.renewIANA(ctx, subnet, req, clientDUID)
		if err != nil {
			s.logger.Error("Lease store failure during Renew", zap.Error(err))
			ia = statusIANA(req.IAID, dhcp6.StatusUnspecFail, "Renewal failed.")
		}
		reply.AddOption(dhcp6.MakeIANAOption(ia))
	}

	s.appendRequestedOptions(reply, pkt, subnet)
	return reply
}

// processRelease answers a RELEASE with a REPLY, deleting for each IA_NA
// the binding of its IA Address when the requesting client (DUID and
// IAID) owns it. The reply carries per-IA status codes
// and a message-level status code, and never an IA Address.
func (s *Server) processRelease(ctx context.Context, pkt *dhcp6.Packet) *dhcp6.Packet {
	if err := sanityCheck(pkt, Mandatory, Mandatory); err != nil {
		return s.dropSanity(pkt, err)
	}
	if !s.serverIDMatches(pkt) {
		s.countDropped("wrong-server-id")
		s.logger.Debug("Release addressed to another server", zap.String("from", remoteString(pkt)))
		return nil
	}

	s.logger.Debug("Received Release", zap.String("from", remoteString(pkt)))

	clientDUID := pkt.GetOption(dhcp6.OptClientID).Data

	reply := s.newReply(dhcp6.MsgTypeReply, pkt)
	allReleased := true

	for _, ianaOpt := range pkt.GetAllOptions(dhcp6.OptIANA) {
		req, err := dhcp6.ParseIANA(ianaOpt.Data)
		if err != nil {
			s.countDropped("malformed-ia")
			s.logger.Debug("Dropping Release with malformed IA_NA", zap.Error(err))
			return nil
		}

		ia, released := s.releaseIANA(ctx, req, clientDUID)
		if !released {
			allReleased = false
		}
		reply.AddOption(dhcp6.MakeIANAOption(ia))
	}

	if allReleased {
		reply.AddOption(dhcp6.MakeStatusCodeOption(dhcp6.StatusSuccess, "All addresses released."))
	} else {
		reply.AddOption(dhcp6.MakeStatusCodeOption(dhcp6.StatusNoBinding, "Some bindings were not found."))
	}
	return reply
}

// offerIANA picks an address for one requested IA without committing
// anything: the SOLICIT path, and the first half of the REQUEST path.
func (s *Server) offerIANA(ctx context.Context, subnet *config.Subnet, req *dhcp6.IANA) (*dhcp6.IANA, net.IP, error) {
	if subnet == nil {
		return statusIANA(req.IAID, dhcp6.StatusNoAddrsAvail, "No subnet available on this link."), nil, nil
	}

	addr, err := s.pickAddress(ctx, subnet, requestedAddress(req))
	if err != nil {
		return nil, nil, err
	}
	if addr == nil {
		return statusIANA(req.IAID, dhcp6.StatusNoAddrsAvail, "No addresses available."), nil, nil
	}

	ia := &dhcp6.IANA{
		IAID: req.IAID,
		T1:   subnet.T1,
		T2:   subnet.T2,
		Options: []dhcp6.Option{
			dhcp6.MakeIAAddressOption(&dhcp6.IAAddress{
				Address:           addr,
				PreferredLifetime: subnet.Preferred,
				ValidLifetime:     subnet.Valid,
			}),
		},
	}
	return ia, addr, nil
}

// assignIANA is the committing variant of offerIANA: a lease is inserted
// into the store before the reply leaves. Store conflicts fail over to
// NoAddrsAvail.
func (s *Server) assignIANA(ctx context.Context, subnet *config.Subnet, req *dhcp6.IANA, clientDUID []byte) *dhcp6.IANA {
	// A client re-requesting an IA it already holds gets its existing
	// binding refreshed, keeping one lease per (DUID, IAID, subnet).
	if subnet != nil {
		existing, err := s.leases.GetByClient(ctx, clientDUID, req.IAID, subnet.ID)
		if err != nil {
			s.logger.Error("Lease store failure during Request", zap.Error(err))
			return statusIANA(req.IAID, dhcp6.StatusUnspecFail, "Allocation failed.")
		}
		if existing != nil {
			ia, err := s.renewIANA(ctx, subnet, req, clientDUID)
			if err != nil {
				s.logger.Error("Lease store failure during Request", zap.Error(err))
				return statusIANA(req.IAID, dhcp6.StatusUnspecFail, "Allocation failed.")
			}
			return ia
		}
	}

	ia, addr, err := s.offerIANA(ctx, subnet, req)
	if err != nil {
		s.logger.Error("Lease store failure during Request", zap.Error(err))
		return statusIANA(req.IAID, dhcp6.StatusUnspecFail, "Allocation failed.")
	}
	if addr == nil {
		return ia
	}

	l := &lease.Lease{
		Address:   addr,
		DUID:      clientDUID,
		IAID:      req.IAID,
		SubnetID:  subnet.ID,
		T1:        subnet.T1,
		T2:        subnet.T2,
		Preferred: subnet.Preferred,
		Valid:     subnet.Valid,
		CLTT:      time.Now(),
	}

	if err := s.leases.Add(ctx, l); err != nil {
		if errors.Is(err, lease.ErrDuplicate) {
			s.logger.Debug("Address raced away during Request",
				zap.String("address", addr.String()),
			)
			return statusIANA(req.IAID, dhcp6.StatusNoAddrsAvail, "No addresses available.")
		}
		s.logger.Error("Failed to insert lease", zap.Error(err))
		return statusIANA(req.IAID, dhcp6.StatusUnspecFail, "Allocation failed.")
	}
	s.leaseAdded()

	s.logger.Info("Lease assigned",
		zap.String("address", addr.String()),
		zap.String("duid", dhcp6.FormatDUID(clientDUID)),
		zap.Uint32("iaid", req.IAID),
		zap.Uint32("subnet_id", subnet.ID),
	)
	return ia
}

// renewIANA refreshes one binding. NoBinding covers every reject: no
// binding at all, a binding under a different IAID, or an address owned
// by a different client.
func (s *Server) renewIANA(ctx context.Context, subnet *config.Subnet, req *dhcp6.IANA, clientDUID []byte) (*dhcp6.IANA, error) {
	if subnet == nil {
		return statusIANA(req.IAID, dhcp6.StatusNoBinding, "No binding found."), nil
	}

	l, err := s.leases.GetByClient(ctx, clientDUID, req.IAID, subnet.ID)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return statusIANA(req.IAID, dhcp6.StatusNoBinding, "No binding found."), nil
	}

	if reqAddr := requestedAddress(req); reqAddr != nil && !reqAddr.Equal(l.Address) {
		return statusIANA(req.IAID, dhcp6.StatusNoBinding, "Address does not match binding."), nil
	}

	l.T1 = subnet.T1
	l.T2 = subnet.T2
	l.Preferred = subnet.Preferred
	l.Valid = subnet.Valid
	l.CLTT = time.Now()

	if err := s.leases.Update(ctx, l); err != nil {
		if errors.Is(err, lease.ErrNotFound) {
			return statusIANA(req.IAID, dhcp6.StatusNoBinding, "No binding found."), nil
		}
		return nil, err
	}

	s.logger.Info("Lease renewed",
		zap.String("address", l.Address.String()),
		zap.String("duid", dhcp6.FormatDUID(clientDUID)),
		zap.Uint32("iaid", req.IAID),
	)

	return &dhcp6.IANA{
		IAID: req.IAID,
		T1:   subnet.T1,
		T2:   subnet.T2,
		Options: []dhcp6.Option{
			dhcp6.MakeIAAddressOption(&dhcp6.IAAddress{
				Address:           l.Address,
				PreferredLifetime: subnet.Preferred,
				ValidLifetime:     subnet.Valid,
			}),
		},
	}, nil
}

// releaseIANA deletes one binding if the requesting client owns it.
func (s *Server) releaseIANA(ctx context.Context, req *dhcp6.IANA, clientDUID []byte) (*dhcp6.IANA, bool) {
	addr := requestedAddress(req)
	if addr == nil {
		return statusIANA(req.IAID, dhcp6.StatusNoBinding, "No address in IA."), false
	}

	l, err := s.leases.GetByAddress(ctx, addr)
	if err != nil {
		s.logger.Error("Lease store failure during Release", zap.Error(err))
		return statusIANA(req.IAID, dhcp6.StatusUnspecFail, "Release failed."), false
	}
	if l == nil || !bytes.Equal(l.DUID, clientDUID) || l.IAID != req.IAID {
		return statusIANA(req.IAID, dhcp6.StatusNoBinding, "No binding found."), false
	}

	removed, err := s.leases.Delete(ctx, addr)
	if err != nil {
		s.logger.Error("Failed to delete lease", zap.Error(err))
		return statusIANA(req.IAID, dhcp6.StatusUnspecFail, "Release failed."), false
	}
	if removed {
		s.leaseRemoved()
	}

	s.logger.Info("Lease released",
		zap.String("address", addr.String()),
		zap.String("duid", dhcp6.FormatDUID(clientDUID)),
		zap.Uint32("iaid", req.IAID),
	)

	ia := &dhcp6.IANA{IAID: req.IAID}
	ia.Options = append(ia.Options, dhcp6.MakeStatusCodeOption(dhcp6.StatusSuccess, "Lease released."))
	return ia, true
}

// statusIANA builds an IA_NA carrying only a status code, with zeroed
// timers and no IA Address.
func statusIANA(iaid uint32, code uint16, message string) *dhcp6.IANA {
	return &dhcp6.IANA{
		IAID: iaid,
		Options: []dhcp6.Option{
			dhcp6.MakeStatusCodeOption(code, message),
		},
	}
}

// requestedAddress returns the first IA Address hint inside the IA, or
// nil. Malformed sub-options are treated as no hint.
func requestedAddress(ia *dhcp6.IANA) net.IP {
	opt := dhcp6.FindOption(ia.Options, dhcp6.OptIAAddr)
	if opt == nil {
		return nil
	}
	addr, err := dhcp6.ParseIAAddress(opt.Data)
	if err != nil {
		return nil
	}
	return addr.Address
}

func remoteString(pkt *dhcp6.Packet) string {
	if pkt.RemoteAddr == nil {
		return "unknown"
	}
	return pkt.RemoteAddr.String()
}
