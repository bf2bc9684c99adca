package dhcp6

import "errors"

var (
	// ErrMalformed is returned when a buffer underruns or a declared
	// option length runs past the end of the data during parse.
	ErrMalformed = errors.New("malformed message")

	// ErrBadValue is returned when a constructor receives a value outside
	// its domain, such as an IPv4 address where IPv6 is required.
	ErrBadValue = errors.New("bad value")

	// ErrOutOfRange is returned when an option payload is too short to
	// decode its fixed fields.
	ErrOutOfRange = errors.New("option payload out of range")
)
