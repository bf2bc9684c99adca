package dhcp6

import (
	"fmt"
	"net"
)

// maxRelayHops bounds relay unwrapping; RFC 3315 limits the hop count
// field to 32 relays.
const maxRelayHops = 32

// RelayInfo is one relay agent hop the packet traversed. Options holds
// the per-hop options other than the Relay Message itself, Interface-Id
// included when the relay inserted one.
type RelayInfo struct {
	HopCount    uint8
	LinkAddress net.IP
	PeerAddress net.IP
	Options     []Option
}

// InterfaceID returns the relay's Interface-Id option payload, or nil.
func (r *RelayInfo) InterfaceID() []byte {
	if opt := FindOption(r.Options, OptInterfaceID); opt != nil {
		return opt.Data
	}
	return nil
}

// Packet is a parsed or to-be-serialized DHCPv6 message together with
// the endpoints and interface it was seen on. For a relayed message the
// relay stack is ordered outermost hop first and the packet fields
// describe the innermost client message.
type Packet struct {
	Type          uint8
	TransactionID [3]byte
	Options       []Option

	RemoteAddr *net.UDPAddr
	LocalAddr  *net.UDPAddr
	Interface  string
	IfIndex    int

	Relays []RelayInfo
}

// ParsePacket parses a DHCPv6 message, unwrapping any RELAY-FORW
// encapsulation into the relay stack.
func ParsePacket(data []byte) (*Packet, error) {
	pkt := &Packet{}

	for len(data) >= 1 && (data[0] == MsgTypeRelayForw || data[0] == MsgTypeRelayRepl) {
		if len(pkt.Relays) >= maxRelayHops {
			return nil, fmt.Errorf("%w: more than %d relay hops", ErrMalformed, maxRelayHops)
		}
		if len(data) < 34 {
			return nil, fmt.Errorf("%w: relay header needs 34 bytes, got %d", ErrMalformed, len(data))
		}

		relay := RelayInfo{
			HopCount:    data[1],
			LinkAddress: append(net.IP(nil), data[2:18]...),
			PeerAddress: append(net.IP(nil), data[18:34]...),
		}

		opts, err := ParseOptions(data[34:])
		if err != nil {
			return nil, err
		}

		var inner []byte
		for _, opt := range opts {
			if opt.Code == OptRelayMsg {
				if inner != nil {
					return nil, fmt.Errorf("%w: duplicate Relay Message option", ErrMalformed)
				}
				inner = opt.Data
				continue
			}
			relay.Options = append(relay.Options, opt)
		}
		if inner == nil {
			return nil, fmt.Errorf("%w: relay frame without Relay Message option", ErrMalformed)
		}

		pkt.Relays = append(pkt.Relays, relay)
		data = inner
	}

	if len(data) < 4 {
		return nil, fmt.Errorf("%w: message needs 4 bytes, got %d", ErrMalformed, len(data))
	}

	pkt.Type = data[0]
	copy(pkt.TransactionID[:], data[1:4])

	opts, err := ParseOptions(data[4:])
	if err != nil {
		return nil, err
	}
	pkt.Options = opts

	return pkt, nil
}

// Serialize writes the client message: one-byte type, three-byte
// transaction id, then the options in insertion order. Relay frames are
// not re-encapsulated.
func (p *Packet) Serialize() []byte {
	buf := make([]byte, 4)
	buf[0] = p.Type
	copy(buf[1:4], p.TransactionID[:])
	buf = append(buf, SerializeOptions(p.Options)...)
	return buf
}

// AddOption appends an option to the packet.
func (p *Packet) AddOption(opt Option) {
	p.Options = append(p.Options, opt)
}

// GetOption returns the first option with the given code, or nil.
func (p *Packet) GetOption(code uint16) *Option {
	return FindOption(p.Options, code)
}

// GetAllOptions returns every option with the given code, in order.
func (p *Packet) GetAllOptions(code uint16) []Option {
	return FindAllOptions(p.Options, code)
}

// DeleteOption removes every option with the given code.
func (p *Packet) DeleteOption(code uint16) {
	kept := p.Options[:0]
	for _, opt := range p.Options {
		if opt.Code != code {
			kept = append(kept, opt)
		}
	}
	p.Options = kept
}

// Relayed reports whether the packet arrived through at least one relay.
func (p *Packet) Relayed() bool {
	return len(p.Relays) > 0
}

// InnermostRelay returns the relay closest to the client, or nil.
func (p *Packet) InnermostRelay() *RelayInfo {
	if len(p.Relays) == 0 {
		return nil
	}
	return &p.Relays[len(p.Relays)-1]
}

// TypeName returns a human-readable message type name for logging.
func TypeName(msgType uint8) string {
	switch msgType {
	case MsgTypeSolicit:
		return "SOLICIT"
	case MsgTypeAdvertise:
		return "ADVERTISE"
	case MsgTypeRequest:
		return "REQUEST"
	case MsgTypeConfirm:
		return "CONFIRM"
	case MsgTypeRenew:
		return "RENEW"
	case MsgTypeRebind:
		return "REBIND"
	case MsgTypeReply:
		return "REPLY"
	case MsgTypeRelease:
		return "RELEASE"
	case MsgTypeDecline:
		return "DECLINE"
	case MsgTypeReconfigure:
		return "RECONFIGURE"
	case MsgTypeInformationRequest:
		return "INFORMATION-REQUEST"
	case MsgTypeRelayForw:
		return "RELAY-FORW"
	case MsgTypeRelayRepl:
		return "RELAY-REPL"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", msgType)
	}
}
