package dhcp6

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
)

// DHCPv6 message types
const (
	MsgTypeSolicit            = 1
	MsgTypeAdvertise          = 2
	MsgTypeRequest            = 3
	MsgTypeConfirm            = 4
	MsgTypeRenew              = 5
	MsgTypeRebind             = 6
	MsgTypeReply              = 7
	MsgTypeRelease            = 8
	MsgTypeDecline            = 9
	MsgTypeReconfigure        = 10
	MsgTypeInformationRequest = 11
	MsgTypeRelayForw          = 12
	MsgTypeRelayRepl          = 13
)

// DHCPv6 option codes
const (
	OptClientID     = 1
	OptServerID     = 2
	OptIANA         = 3 // Identity Association for Non-temporary Addresses
	OptIATA         = 4 // Identity Association for Temporary Addresses
	OptIAAddr       = 5 // IA Address
	OptORO          = 6 // Option Request Option
	OptPreference   = 7
	OptElapsedTime  = 8
	OptRelayMsg     = 9
	OptAuth         = 11
	OptUnicast      = 12
	OptStatusCode   = 13
	OptRapidCommit  = 14
	OptUserClass    = 15
	OptVendorClass  = 16
	OptVendorOpts   = 17
	OptInterfaceID  = 18
	OptReconfMsg    = 19
	OptReconfAccept = 20
	OptDNSServers   = 23
	OptDomainList   = 24
	OptIAPD         = 25 // Identity Association for Prefix Delegation
	OptIAPrefix     = 26
	OptSNTPServers  = 31
	OptSubscriberID = 38
)

// DUID types
const (
	DUIDTypeLLT  = 1 // Link-layer address plus time
	DUIDTypeEN   = 2 // Vendor-assigned
	DUIDTypeLL   = 3 // Link-layer address
	DUIDTypeUUID = 4 // UUID
)

// Well-known multicast addresses
var (
	AllDHCPRelayAgentsAndServers = net.ParseIP("ff02::1:2")
	AllDHCPServers               = net.ParseIP("ff05::1:3")
)

// Ports
const (
	ClientPort = 546
	ServerPort = 547
)

// InfiniteLifetime on the wire means the lifetime never expires.
const InfiniteLifetime = 0xFFFFFFFF

// Option is a single DHCPv6 option. Container options (IA_NA, IA_PD,
// relay frames) keep their sub-options encoded inside Data; the typed
// accessors in ia.go decode them on demand.
type Option struct {
	Code uint16
	Data []byte
}

// Equal reports whether two options have the same code and payload.
func (o Option) Equal(other Option) bool {
	return o.Code == other.Code && bytes.Equal(o.Data, other.Data)
}

// Serialize writes the option header and payload.
func (o Option) Serialize() []byte {
	buf := make([]byte, 4+len(o.Data))
	binary.BigEndian.PutUint16(buf[0:2], o.Code)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(o.Data)))
	copy(buf[4:], o.Data)
	return buf
}

// ParseOptions parses a full option list from a byte slice. A declared
// length running past the buffer fails the whole list.
func ParseOptions(data []byte) ([]Option, error) {
	var opts []Option
	offset := 0

	for offset < len(data) {
		if offset+4 > len(data) {
			return nil, fmt.Errorf("%w: option header truncated at offset %d", ErrMalformed, offset)
		}
		code := binary.BigEndian.Uint16(data[offset : offset+2])
		length := binary.BigEndian.Uint16(data[offset+2 : offset+4])

		if offset+4+int(length) > len(data) {
			return nil, fmt.Errorf("%w: option %d length %d exceeds data", ErrMalformed, code, length)
		}

		opt := Option{
			Code: code,
			Data: make([]byte, length),
		}
		copy(opt.Data, data[offset+4:offset+4+int(length)])
		opts = append(opts, opt)

		offset += 4 + int(length)
	}

	return opts, nil
}

// SerializeOptions concatenates options in order.
func SerializeOptions(opts []Option) []byte {
	var buf []byte
	for _, opt := range opts {
		buf = append(buf, opt.Serialize()...)
	}
	return buf
}

// FindOption returns the first option with the given code, or nil.
func FindOption(opts []Option, code uint16) *Option {
	for i := range opts {
		if opts[i].Code == code {
			return &opts[i]
		}
	}
	return nil
}

// FindAllOptions returns every option with the given code, in order.
func FindAllOptions(opts []Option, code uint16) []Option {
	var found []Option
	for _, opt := range opts {
		if opt.Code == code {
			found = append(found, opt)
		}
	}
	return found
}

// MakeClientIDOption creates a Client Identifier option from raw DUID octets.
func MakeClientIDOption(duid []byte) Option {
	data := make([]byte, len(duid))
	copy(data, duid)
	return Option{Code: OptClientID, Data: data}
}

// MakeServerIDOption creates a Server Identifier option from raw DUID octets.
func MakeServerIDOption(duid []byte) Option {
	data := make([]byte, len(duid))
	copy(data, duid)
	return Option{Code: OptServerID, Data: data}
}

// MakePreferenceOption creates a Preference option.
func MakePreferenceOption(pref uint8) Option {
	return Option{Code: OptPreference, Data: []byte{pref}}
}

// MakeInterfaceIDOption creates an Interface-Id option.
func MakeInterfaceIDOption(id []byte) Option {
	data := make([]byte, len(id))
	copy(data, id)
	return Option{Code: OptInterfaceID, Data: data}
}

// MakeDNSServersOption creates a DNS recursive name server option.
func MakeDNSServersOption(servers []net.IP) Option {
	data := make([]byte, 16*len(servers))
	for i, srv := range servers {
		copy(data[i*16:(i+1)*16], srv.To16())
	}
	return Option{Code: OptDNSServers, Data: data}
}

// MakeOROOption creates an Option Request option from a list of codes.
func MakeOROOption(codes []uint16) Option {
	data := make([]byte, 2*len(codes))
	for i, code := range codes {
		binary.BigEndian.PutUint16(data[i*2:i*2+2], code)
	}
	return Option{Code: OptORO, Data: data}
}

// ParseORO decodes an Option Request option payload into option codes.
func ParseORO(data []byte) ([]uint16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: ORO length %d not a multiple of 2", ErrMalformed, len(data))
	}
	codes := make([]uint16, 0, len(data)/2)
	for i := 0; i+2 <= len(data); i += 2 {
		codes = append(codes, binary.BigEndian.Uint16(data[i:i+2]))
	}
	return codes, nil
}
