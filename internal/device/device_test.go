package device

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type memoryStore struct {
	machineID string
	name      string
	saves     int
}

func (s *memoryStore) MachineID(context.Context) (string, error) {
	return s.machineID, nil
}

func (s *memoryStore) Save(_ context.Context, machineID, name string) error {
	s.machineID = machineID
	s.name = name
	s.saves++
	return nil
}

func TestResolvePrefersStoredMachineID(t *testing.T) {
	store := &memoryStore{machineID: "stored-id"}
	r := NewResolver(store, zaptest.NewLogger(t))
	r.lookup = func() (string, error) { return "platform-id", nil }

	id, err := r.Resolve(context.Background(), 7, "phone")
	require.NoError(t, err)
	assert.Equal(t, Identity{DeviceID: 7, MachineID: "stored-id", Name: "phone"}, id)
	assert.Equal(t, 1, store.saves)
}

func TestResolveUsesPlatformThenPersists(t *testing.T) {
	store := &memoryStore{}
	r := NewResolver(store, zaptest.NewLogger(t))
	r.lookup = func() (string, error) { return "platform-id", nil }

	id, err := r.Resolve(context.Background(), 1, "laptop")
	require.NoError(t, err)
	assert.Equal(t, "platform-id", id.MachineID)
	assert.Equal(t, "platform-id", store.machineID)
	assert.Equal(t, "laptop", store.name)
}

func TestResolveFallsBackToUUID(t *testing.T) {
	r := NewResolver(nil, zaptest.NewLogger(t))
	r.lookup = func() (string, error) { return "", errors.New("no id") }

	id, err := r.Resolve(context.Background(), 1, "")
	require.NoError(t, err)
	_, err = uuid.Parse(id.MachineID)
	assert.NoError(t, err)
}

func TestResolveRejectsInvalidDeviceID(t *testing.T) {
	r := NewResolver(nil, zaptest.NewLogger(t))
	_, err := r.Resolve(context.Background(), 0, "x")
	assert.Error(t, err)
}

func TestParseField(t *testing.T) {
	ioreg := `+-o J314sAP  <class IOPlatformExpertDevice>
    "IOPlatformSerialNumber" = "C02XXXX"
    "IOPlatformUUID" = "1A2B3C4D-0000-1111-2222-333344445555"`
	v, err := parseField(ioreg, "IOPlatformUUID", "=")
	require.NoError(t, err)
	assert.Equal(t, "1A2B3C4D-0000-1111-2222-333344445555", v)

	reg := "\r\nHKEY_LOCAL_MACHINE\\SOFTWARE\\Microsoft\\Cryptography\r\n    MachineGuid    REG_SZ    9f1c-guid\r\n"
	v, err = parseField(reg, "MachineGuid", "REG_SZ")
	require.NoError(t, err)
	assert.Equal(t, "9f1c-guid", v)

	_, err = parseField("nothing here", "MachineGuid", "REG_SZ")
	assert.Error(t, err)
}
