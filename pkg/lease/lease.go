package lease

import (
	"net"
	"time"
)

// Lease is one server-side IA_NA binding: an address assigned to a
// (client DUID, IAID) pair within one subnet, with its timers and the
// client-last-transaction-time freshness stamp.
type Lease struct {
	Address  net.IP
	DUID     []byte
	IAID     uint32
	SubnetID uint32

	T1        uint32
	T2        uint32
	Preferred uint32
	Valid     uint32

	CLTT time.Time
}

// Clone returns a deep copy so stored leases never alias caller memory.
func (l *Lease) Clone() *Lease {
	if l == nil {
		return nil
	}
	dup := *l
	dup.Address = append(net.IP(nil), l.Address...)
	dup.DUID = append([]byte(nil), l.DUID...)
	return &dup
}
