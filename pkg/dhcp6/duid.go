package dhcp6

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// DUID length bounds from RFC 3315 section 9.1.
const (
	MinDUIDLen = 1
	MaxDUIDLen = 128
)

// DUID is a DHCP Unique Identifier. The server treats client DUIDs as
// opaque octets; this type exists for the cases where the leading
// two-byte type matters (generating our own identity, diagnostics).
type DUID struct {
	Type uint16
	Data []byte
}

// ParseDUID splits the leading type from a raw DUID.
func ParseDUID(data []byte) (*DUID, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: DUID needs at least 2 bytes, got %d", ErrOutOfRange, len(data))
	}
	return &DUID{
		Type: binary.BigEndian.Uint16(data[0:2]),
		Data: data[2:],
	}, nil
}

// Serialize writes the DUID back to its wire form.
func (d *DUID) Serialize() []byte {
	buf := make([]byte, 2+len(d.Data))
	binary.BigEndian.PutUint16(buf[0:2], d.Type)
	copy(buf[2:], d.Data)
	return buf
}

// FormatDUID renders raw DUID octets as lowercase hex separated by colons,
// the on-disk form of the server identity.
func FormatDUID(duid []byte) string {
	parts := make([]string, len(duid))
	for i, b := range duid {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, ":")
}

// ParseDUIDText parses the colon-separated hex form, case-insensitively.
func ParseDUIDText(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty DUID text", ErrBadValue)
	}
	parts := strings.Split(s, ":")
	duid := make([]byte, 0, len(parts))
	for _, part := range parts {
		if len(part) != 2 {
			return nil, fmt.Errorf("%w: DUID octet %q is not two hex digits", ErrBadValue, part)
		}
		b, err := hex.DecodeString(strings.ToLower(part))
		if err != nil {
			return nil, fmt.Errorf("%w: DUID octet %q: %v", ErrBadValue, part, err)
		}
		duid = append(duid, b[0])
	}
	if len(duid) < MinDUIDLen || len(duid) > MaxDUIDLen {
		return nil, fmt.Errorf("%w: DUID length %d outside [%d, %d]", ErrBadValue, len(duid), MinDUIDLen, MaxDUIDLen)
	}
	return duid, nil
}
