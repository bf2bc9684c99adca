// Package serverid generates and persists the server's DHCP Unique
// Identifier. The DUID is created once, written to disk as colon-separated
// hex, and treated as immutable for every run that follows.
package serverid

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/insomniacslk/dhcp/iana"
	"go.uber.org/zap"

	"github.com/codelaboratoryltd/dhcp6d/pkg/dhcp6"
)

// duidEpoch is the DUID-LLT time base, 2000-01-01T00:00:00Z. Not the
// POSIX epoch.
var duidEpoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Load reads a DUID from the given file: ASCII hex octets separated by
// colons, case-insensitive.
func Load(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	duid, err := dhcp6.ParseDUIDText(string(data))
	if err != nil {
		return nil, fmt.Errorf("server-id file %s: %w", path, err)
	}
	return duid, nil
}

// Generate builds a fresh DUID-LLT from the first interface carrying a
// non-zero link-layer address: two-byte type, two-byte hardware type,
// four-byte seconds since the DUID epoch, then the address. Hosts with no
// usable interface fall back to a DUID-UUID so tests and containers still
// get an identity.
func Generate(logger *zap.Logger) []byte {
	if hwAddr := firstLinkLayerAddr(); hwAddr != nil {
		duid := make([]byte, 8+len(hwAddr))
		binary.BigEndian.PutUint16(duid[0:2], dhcp6.DUIDTypeLLT)
		binary.BigEndian.PutUint16(duid[2:4], uint16(iana.HWTypeEthernet))
		binary.BigEndian.PutUint32(duid[4:8], uint32(time.Since(duidEpoch).Seconds()))
		copy(duid[8:], hwAddr)
		return duid
	}

	logger.Warn("No interface with a usable link-layer address, generating DUID-UUID")
	u := uuid.New()
	duid := make([]byte, 2+len(u))
	binary.BigEndian.PutUint16(duid[0:2], dhcp6.DUIDTypeUUID)
	copy(duid[2:], u[:])
	return duid
}

// LoadOrGenerate loads the DUID from the file; on absence or parse
// failure it generates one and persists it back in the same format.
func LoadOrGenerate(path string, logger *zap.Logger) ([]byte, error) {
	duid, err := Load(path)
	if err == nil {
		logger.Info("Loaded server DUID",
			zap.String("file", path),
			zap.String("duid", dhcp6.FormatDUID(duid)),
		)
		return duid, nil
	}
	if !os.IsNotExist(err) {
		logger.Warn("Server DUID file unreadable, regenerating",
			zap.String("file", path),
			zap.Error(err),
		)
	}

	duid = Generate(logger)
	if err := os.WriteFile(path, []byte(dhcp6.FormatDUID(duid)), 0o644); err != nil {
		return nil, fmt.Errorf("failed to persist server DUID: %w", err)
	}
	logger.Info("Generated server DUID",
		zap.String("file", path),
		zap.String("duid", dhcp6.FormatDUID(duid)),
	)
	return duid, nil
}

func firstLinkLayerAddr() net.HardwareAddr {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		if bytes.Equal(iface.HardwareAddr, make([]byte, len(iface.HardwareAddr))) {
			continue
		}
		return iface.HardwareAddr
	}
	return nil
}
