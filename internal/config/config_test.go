package config

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.Equal(t, "/dev/arduino-relay", cfg.Port)
	require.Equal(t, 115200, cfg.Baud)
	require.Equal(t, 2000, cfg.TimeoutMs)
	require.Equal(t, 2000, cfg.SettleMs)
	require.Equal(t, "/tmp/hilrelay.sock", cfg.SocketPath)
	require.Equal(t, "/tmp/hilrelay.pid", cfg.PidPath)
	require.NoError(t, cfg.Validate())
}

func TestLoadStripsComments(t *testing.T) {
	raw := `{
		// serial settings
		"port": "/dev/ttyACM0",
		"baud": 9600, /* slow bench rig */
		"timeoutMs": 500
	}`
	cfg, err := LoadFromReader(strings.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, "/dev/ttyACM0", cfg.Port)
	require.Equal(t, 9600, cfg.Baud)
	require.Equal(t, 500, cfg.TimeoutMs)
	// untouched fields keep their defaults
	require.Equal(t, "/tmp/hilrelay.sock", cfg.SocketPath)
}

func TestLoadKeepsSchemedURLs(t *testing.T) {
	raw := `{
		"port": "/dev/ttyACM0",
		"mqtt": {
			"url": "tcp://broker.local:1883", // bench broker
			"clientName": "bench",
			"topicPrefix": "hil/bench"
		}
	}`
	cfg, err := LoadFromReader(strings.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, "tcp://broker.local:1883", cfg.MQTT.URL)
	require.Equal(t, "bench", cfg.MQTT.ClientName)
}

func TestStripJSONComments(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"slashes inside string", `{"url": "tcp://h:1883"}`, `{"url": "tcp://h:1883"}`},
		{"line comment after string", `{"a": "x//y" // note` + "\n" + `}`, `{"a": "x//y" ` + "\n" + `}`},
		{"block comment", `{/* gone */"a": 1}`, `{"a": 1}`},
		{"block markers inside string", `{"a": "/* keep */"}`, `{"a": "/* keep */"}`},
		{"escaped quote in string", `{"a": "say \"hi\" // ok"}`, `{"a": "say \"hi\" // ok"}`},
		{"unterminated block comment", `{"a": 1} /* trailing`, `{"a": 1} `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, string(stripJSONComments([]byte(tt.in))))
		})
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader(`{"prot": "/dev/ttyACM0"}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid JSON")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty port", `{"port": " "}`, "port is required"},
		{"zero baud", `{"baud": 0}`, "baud must be > 0"},
		{"negative settle", `{"settleMs": -1}`, "settleMs cannot be negative"},
		{"mqtt without client name", `{"mqtt": {"url": "tcp://localhost:1883", "clientName": ""}}`, "mqtt.clientName"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromReader(strings.NewReader(tt.raw))
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateCoercesTimeout(t *testing.T) {
	cfg := Default()
	cfg.TimeoutMs = 0
	require.NoError(t, cfg.Validate())
	require.Equal(t, 2000, cfg.TimeoutMs)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RELAY_PORT", "/dev/ttyUSB7")
	t.Setenv("RELAY_BAUD", "57600")
	t.Setenv("RELAY_TIMEOUT_MS", "750")
	t.Setenv("RELAY_SOCKET", "/run/hilrelay.sock")

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, "/dev/ttyUSB7", cfg.Port)
	require.Equal(t, 57600, cfg.Baud)
	require.Equal(t, 750, cfg.TimeoutMs)
	require.Equal(t, "/run/hilrelay.sock", cfg.SocketPath)
}

func TestEnvOverridesFileValues(t *testing.T) {
	t.Setenv("RELAY_BAUD", "19200")
	cfg, err := LoadFromReader(strings.NewReader(`{"baud": 9600}`))
	require.NoError(t, err)
	require.Equal(t, 19200, cfg.Baud, "environment wins over the file")
}

func TestLockPathKeyedByPort(t *testing.T) {
	a := Default()
	a.LockDir = "/tmp"
	a.Port = "/dev/arduino-relay"
	require.Equal(t, filepath.Join("/tmp", "hilrelay-dev-arduino-relay.lock"), a.LockPath())

	b := Default()
	b.LockDir = "/tmp"
	b.Port = "/dev/ttyACM1"
	require.NotEqual(t, a.LockPath(), b.LockPath(), "different devices never contend")
}
