package serverid

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codelaboratoryltd/dhcp6d/pkg/dhcp6"
)

func TestLoadParsesColonHex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server-id")
	require.NoError(t, os.WriteFile(path, []byte("00:01:00:01:ab:cd:ef:12:34:56"), 0o644))

	duid, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x01, 0x00, 0x01, 0xAB, 0xCD, 0xEF, 0x12, 0x34, 0x56}, duid)
}

func TestLoadIsCaseInsensitive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server-id")
	require.NoError(t, os.WriteFile(path, []byte("00:01:AB:Cd"), 0o644))

	duid, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x01, 0xAB, 0xCD}, duid)
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server-id")
	require.NoError(t, os.WriteFile(path, []byte("not a duid"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestGenerateProducesValidDUID(t *testing.T) {
	duid := Generate(zap.NewNop())

	require.GreaterOrEqual(t, len(duid), 2)
	require.LessOrEqual(t, len(duid), dhcp6.MaxDUIDLen)

	duidType := binary.BigEndian.Uint16(duid[0:2])
	switch duidType {
	case dhcp6.DUIDTypeLLT:
		// Type, hardware type, timestamp, then a non-zero link-layer
		// address.
		require.Greater(t, len(duid), 8)
		var zero = true
		for _, b := range duid[8:] {
			if b != 0 {
				zero = false
			}
		}
		assert.False(t, zero, "link-layer address must be non-zero")
	case dhcp6.DUIDTypeUUID:
		assert.Len(t, duid, 18)
	default:
		t.Fatalf("unexpected DUID type %d", duidType)
	}
}

func TestLoadOrGeneratePersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server-id")
	logger := zap.NewNop()

	duid, err := LoadOrGenerate(path, logger)
	require.NoError(t, err)

	// The file holds the colon-hex form of the same octets.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, dhcp6.FormatDUID(duid), string(data))

	// A second run adopts the persisted identity unchanged.
	again, err := LoadOrGenerate(path, logger)
	require.NoError(t, err)
	assert.Equal(t, duid, again)
}

func TestLoadOrGenerateRecoversFromCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server-id")
	require.NoError(t, os.WriteFile(path, []byte("zz:zz"), 0o644))

	duid, err := LoadOrGenerate(path, zap.NewNop())
	require.NoError(t, err)
	require.NotEmpty(t, duid)

	// The regenerated identity replaced the corrupt file.
	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, duid, reloaded)
}
