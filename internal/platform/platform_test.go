package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePmset(t *testing.T) {
	ac := "Now drawing from 'AC Power'\n -InternalBattery-0 (id=4653155)\t100%; charged; 0:00 remaining present: true\n"
	status, err := parsePmset(ac)
	require.NoError(t, err)
	assert.True(t, status.Plugged)
	assert.Equal(t, 100, status.BatteryPercent)

	battery := "Now drawing from 'Battery Power'\n -InternalBattery-0 (id=4653155)\t57%; discharging; 3:12 remaining present: true\n"
	status, err = parsePmset(battery)
	require.NoError(t, err)
	assert.False(t, status.Plugged)
	assert.Equal(t, 57, status.BatteryPercent)

	_, err = parsePmset("garbage")
	assert.Error(t, err)
}

func writeSupply(t *testing.T, root, name string, files map[string]string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for file, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(content+"\n"), 0o644))
	}
}

func TestReadPowerSupply(t *testing.T) {
	t.Run("laptop on battery", func(t *testing.T) {
		root := t.TempDir()
		writeSupply(t, root, "AC", map[string]string{"type": "Mains", "online": "0"})
		writeSupply(t, root, "BAT0", map[string]string{"type": "Battery", "capacity": "42"})

		status, err := readPowerSupply(root)
		require.NoError(t, err)
		assert.False(t, status.Plugged)
		assert.Equal(t, 42, status.BatteryPercent)
	})

	t.Run("laptop plugged in", func(t *testing.T) {
		root := t.TempDir()
		writeSupply(t, root, "ADP1", map[string]string{"type": "Mains", "online": "1"})
		writeSupply(t, root, "BAT0", map[string]string{"type": "Battery", "capacity": "80"})

		status, err := readPowerSupply(root)
		require.NoError(t, err)
		assert.True(t, status.Plugged)
	})

	t.Run("desktop without battery", func(t *testing.T) {
		status, err := readPowerSupply(t.TempDir())
		require.NoError(t, err)
		assert.True(t, status.Plugged)
		assert.Equal(t, -1, status.BatteryPercent)
	})

	t.Run("missing directory", func(t *testing.T) {
		_, err := readPowerSupply(filepath.Join(t.TempDir(), "nope"))
		assert.Error(t, err)
	})
}

func TestUnsupportedPlatformError(t *testing.T) {
	err := &UnsupportedPlatformError{OS: "plan9"}
	assert.Equal(t, "unsupported platform: plan9", err.Error())
}
