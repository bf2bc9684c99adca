package dhcp6

import (
	"encoding/binary"
	"fmt"
	"net"
)

// IANA is an Identity Association for Non-temporary Addresses.
type IANA struct {
	IAID    uint32
	T1      uint32 // Time until renewal
	T2      uint32 // Time until rebind
	Options []Option
}

// IAAddress is an IA Address option carried inside an IA_NA or IA_TA.
type IAAddress struct {
	Address           net.IP
	PreferredLifetime uint32
	ValidLifetime     uint32
	Options           []Option
}

// IAPrefix is a delegated prefix carried inside an IA_PD.
type IAPrefix struct {
	PreferredLifetime uint32
	ValidLifetime     uint32
	PrefixLength      uint8
	Prefix            net.IP
	Options           []Option
}

const iaprefixHeaderLen = 25

// ParseIANA parses an IA_NA option payload.
func ParseIANA(data []byte) (*IANA, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("%w: IA_NA needs 12 bytes, got %d", ErrOutOfRange, len(data))
	}

	iana := &IANA{
		IAID: binary.BigEndian.Uint32(data[0:4]),
		T1:   binary.BigEndian.Uint32(data[4:8]),
		T2:   binary.BigEndian.Uint32(data[8:12]),
	}

	if len(data) > 12 {
		opts, err := ParseOptions(data[12:])
		if err != nil {
			return nil, err
		}
		iana.Options = opts
	}

	return iana, nil
}

// Serialize writes the IA_NA payload: IAID, T1, T2, then sub-options.
func (ia *IANA) Serialize() []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], ia.IAID)
	binary.BigEndian.PutUint32(buf[4:8], ia.T1)
	binary.BigEndian.PutUint32(buf[8:12], ia.T2)
	buf = append(buf, SerializeOptions(ia.Options)...)
	return buf
}

// Addresses decodes every IA Address sub-option of the IA_NA.
func (ia *IANA) Addresses() ([]*IAAddress, error) {
	var addrs []*IAAddress
	for _, opt := range ia.Options {
		if opt.Code != OptIAAddr {
			continue
		}
		addr, err := ParseIAAddress(opt.Data)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// ParseIAAddress parses an IA Address option payload.
func ParseIAAddress(data []byte) (*IAAddress, error) {
	if len(data) < 24 {
		return nil, fmt.Errorf("%w: IA Address needs 24 bytes, got %d", ErrOutOfRange, len(data))
	}

	addr := &IAAddress{
		Address:           append(net.IP(nil), data[0:16]...),
		PreferredLifetime: binary.BigEndian.Uint32(data[16:20]),
		ValidLifetime:     binary.BigEndian.Uint32(data[20:24]),
	}

	if len(data) > 24 {
		opts, err := ParseOptions(data[24:])
		if err != nil {
			return nil, err
		}
		addr.Options = opts
	}

	return addr, nil
}

// Serialize writes the IA Address payload.
func (a *IAAddress) Serialize() []byte {
	buf := make([]byte, 24)
	copy(buf[0:16], a.Address.To16())
	binary.BigEndian.PutUint32(buf[16:20], a.PreferredLifetime)
	binary.BigEndian.PutUint32(buf[20:24], a.ValidLifetime)
	buf = append(buf, SerializeOptions(a.Options)...)
	return buf
}

// NewIAPrefix validates and constructs an IA Prefix. The prefix must be an
// IPv6 address and the length at most 128.
func NewIAPrefix(prefix net.IP, length uint8, preferred, valid uint32) (*IAPrefix, error) {
	if prefix.To16() == nil || prefix.To4() != nil {
		return nil, fmt.Errorf("%w: IA Prefix requires an IPv6 address, got %s", ErrBadValue, prefix)
	}
	if length > 128 {
		return nil, fmt.Errorf("%w: prefix length %d exceeds 128", ErrBadValue, length)
	}
	return &IAPrefix{
		PreferredLifetime: preferred,
		ValidLifetime:     valid,
		PrefixLength:      length,
		Prefix:            maskPrefix(prefix.To16(), length),
	}, nil
}

// ParseIAPrefix parses an IA Prefix option payload. Bits of the address
// beyond the prefix length are cleared.
func ParseIAPrefix(data []byte) (*IAPrefix, error) {
	if len(data) < iaprefixHeaderLen {
		return nil, fmt.Errorf("%w: IA Prefix needs %d bytes, got %d", ErrOutOfRange, iaprefixHeaderLen, len(data))
	}

	length := data[8]
	if length > 128 {
		return nil, fmt.Errorf("%w: prefix length %d exceeds 128", ErrBadValue, length)
	}

	prefix := &IAPrefix{
		PreferredLifetime: binary.BigEndian.Uint32(data[0:4]),
		ValidLifetime:     binary.BigEndian.Uint32(data[4:8]),
		PrefixLength:      length,
		Prefix:            maskPrefix(data[9:25], length),
	}

	if len(data) > iaprefixHeaderLen {
		opts, err := ParseOptions(data[iaprefixHeaderLen:])
		if err != nil {
			return nil, err
		}
		prefix.Options = opts
	}

	return prefix, nil
}

// Serialize writes the IA Prefix payload.
func (p *IAPrefix) Serialize() []byte {
	buf := make([]byte, iaprefixHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], p.PreferredLifetime)
	binary.BigEndian.PutUint32(buf[4:8], p.ValidLifetime)
	buf[8] = p.PrefixLength
	copy(buf[9:25], p.Prefix.To16())
	buf = append(buf, SerializeOptions(p.Options)...)
	return buf
}

// maskPrefix zeroes every bit of addr past the prefix length.
func maskPrefix(addr []byte, length uint8) net.IP {
	masked := make(net.IP, 16)
	copy(masked, addr[:16])
	fullBytes := int(length) / 8
	if fullBytes >= 16 {
		return masked
	}
	if rem := length % 8; rem != 0 {
		masked[fullBytes] &= byte(0xFF << (8 - rem))
		fullBytes++
	}
	for i := fullBytes; i < 16; i++ {
		masked[i] = 0
	}
	return masked
}

// MakeIANAOption wraps an IA_NA payload in its option frame.
func MakeIANAOption(iana *IANA) Option {
	return Option{Code: OptIANA, Data: iana.Serialize()}
}

// MakeIAAddressOption wraps an IA Address payload in its option frame.
func MakeIAAddressOption(addr *IAAddress) Option {
	return Option{Code: OptIAAddr, Data: addr.Serialize()}
}

// MakeIAPrefixOption wraps an IA Prefix payload in its option frame.
func MakeIAPrefixOption(prefix *IAPrefix) Option {
	return Option{Code: OptIAPrefix, Data: prefix.Serialize()}
}
