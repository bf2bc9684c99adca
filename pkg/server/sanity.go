package server

import (
	"errors"
	"fmt"

	"github.com/codelaboratoryltd/dhcp6d/pkg/dhcp6"
)

// ErrRFCViolation is returned when a message fails the RFC 3315 presence
// rules; such messages are dropped without a reply.
var ErrRFCViolation = errors.New("RFC 3315 violation")

// Requirement is the tri-state expectation for an option's presence.
type Requirement int

const (
	// Optional allows at most one instance of the option.
	Optional Requirement = iota
	// Mandatory requires exactly one instance.
	Mandatory
	// Forbidden rejects any instance.
	Forbidden
)

func (r Requirement) String() string {
	switch r {
	case Mandatory:
		return "mandatory"
	case Forbidden:
		return "forbidden"
	default:
		return "optional"
	}
}

// sanityCheck enforces the per-message-type presence rules for the
// Client Identifier and Server Identifier options. Both options are
// unique: a duplicate fails the check regardless of the expectation.
func sanityCheck(pkt *dhcp6.Packet, clientID, serverID Requirement) error {
	if err := checkPresence(pkt, dhcp6.OptClientID, "client-id", clientID); err != nil {
		return err
	}
	return checkPresence(pkt, dhcp6.OptServerID, "server-id", serverID)
}

func checkPresence(pkt *dhcp6.Packet, code uint16, name string, req Requirement) error {
	count := len(pkt.GetAllOptions(code))

	switch {
	case count > 1:
		return fmt.Errorf("%w: %d %s options in %s, at most one allowed",
			ErrRFCViolation, count, name, dhcp6.TypeName(pkt.Type))
	case req == Mandatory && count == 0:
		return fmt.Errorf("%w: %s missing mandatory %s option",
			ErrRFCViolation, dhcp6.TypeName(pkt.Type), name)
	case req == Forbidden && count != 0:
		return fmt.Errorf("%w: %s carries forbidden %s option",
			ErrRFCViolation, dhcp6.TypeName(pkt.Type), name)
	}
	return nil
}
