package serial

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, Config{PortName: "COM1", BaudRate: 9600}.Validate())
	require.ErrorIs(t, Config{BaudRate: 9600}.Validate(), DeviceNotFound)
	require.ErrorIs(t, Config{PortName: "COM1"}.Validate(), InvalidBaud)
	require.ErrorIs(t, Config{PortName: "COM1", BaudRate: -1}.Validate(), InvalidBaud)
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{PortName: "COM1", BaudRate: 9600}.withDefaults()
	require.Equal(t, defaultDriver, cfg.Driver)
	require.Equal(t, "\n", cfg.Delimiter)
	require.Equal(t, DefaultReadTimeout, cfg.ReadTimeout)
	require.Equal(t, DefaultWriteTimeout, cfg.WriteTimeout)

	cfg = Config{ReadTimeout: NoTimeout, Driver: "tarm"}.withDefaults()
	require.Equal(t, NoTimeout, cfg.ReadTimeout)
	require.Equal(t, "tarm", cfg.Driver)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "serial.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: /dev/ttyACM0
baud: 9600
driver: bugst
read_timeout: 250ms
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, Config{
		PortName:    "/dev/ttyACM0",
		BaudRate:    9600,
		Driver:      "bugst",
		ReadTimeout: 250 * time.Millisecond,
	}, cfg)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("baud: [fast"), 0o644))
	_, err = LoadConfig(path)
	require.Error(t, err)
}
