package device

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Identity describes this agent installation. DeviceID is the collector's
// numeric id; MachineID and Name are local diagnostics.
type Identity struct {
	DeviceID  int    `json:"device_id"`
	MachineID string `json:"machine_id"`
	Name      string `json:"name"`
}

// IdentityStore persists the machine id between runs
type IdentityStore interface {
	MachineID(ctx context.Context) (string, error)
	Save(ctx context.Context, machineID, deviceName string) error
}

// Resolver determines the identity of this machine
type Resolver struct {
	store  IdentityStore
	lookup func() (string, error)
	logger *zap.Logger
}

// NewResolver creates a resolver. store may be nil.
func NewResolver(store IdentityStore, logger *zap.Logger) *Resolver {
	return &Resolver{
		store:  store,
		lookup: platformMachineID,
		logger: logger,
	}
}

// Resolve returns the identity for deviceID. The machine id comes from the
// store, then the platform, then a fresh UUID; the result is saved back.
func (r *Resolver) Resolve(ctx context.Context, deviceID int, name string) (Identity, error) {
	if deviceID <= 0 {
		return Identity{}, fmt.Errorf("device id must be positive, got %d", deviceID)
	}

	if name == "" {
		if hostname, err := os.Hostname(); err == nil {
			name = hostname
		}
	}

	machineID := ""
	if r.store != nil {
		stored, err := r.store.MachineID(ctx)
		if err != nil {
			r.logger.Warn("Failed to load stored machine id", zap.Error(err))
		}
		machineID = stored
	}

	if machineID == "" {
		id, err := r.lookup()
		if err != nil || id == "" {
			r.logger.Debug("Platform machine id unavailable, generating one", zap.Error(err))
			id = uuid.NewString()
		}
		machineID = id
	}

	if r.store != nil {
		if err := r.store.Save(ctx, machineID, name); err != nil {
			r.logger.Warn("Failed to save device identity", zap.Error(err))
		}
	}

	return Identity{DeviceID: deviceID, MachineID: machineID, Name: name}, nil
}

func platformMachineID() (string, error) {
	switch runtime.GOOS {
	case "linux":
		return firstFileLine("/etc/machine-id", "/var/lib/dbus/machine-id")
	case "darwin":
		return commandField([]string{"ioreg", "-rd1", "-c", "IOPlatformExpertDevice"}, "IOPlatformUUID", "=")
	case "windows":
		return commandField([]string{"reg", "query", `HKLM\SOFTWARE\Microsoft\Cryptography`, "/v", "MachineGuid"}, "MachineGuid", "REG_SZ")
	default:
		return "", fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

func firstFileLine(paths ...string) (string, error) {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("no machine id in %s", strings.Join(paths, ", "))
}

// commandField runs argv and returns the value after sep on the first line
// containing key
func commandField(argv []string, key, sep string) (string, error) {
	output, err := exec.Command(argv[0], argv[1:]...).Output()
	if err != nil {
		return "", fmt.Errorf("failed to run %s: %w", argv[0], err)
	}
	return parseField(string(output), key, sep)
}

func parseField(output, key, sep string) (string, error) {
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, key) {
			continue
		}
		parts := strings.SplitN(line, sep, 2)
		if len(parts) != 2 {
			continue
		}
		value := strings.Trim(strings.TrimSpace(parts[1]), `"`)
		if value != "" {
			return value, nil
		}
	}
	return "", fmt.Errorf("%s not found", key)
}
