// internal/config/config.go
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

/* =========================
   Types
   ========================= */

type Config struct {
	Port       string     `json:"port"`       // serial device path
	Baud       int        `json:"baud"`       // serial speed
	TimeoutMs  int        `json:"timeoutMs"`  // per read/write bound
	SettleMs   int        `json:"settleMs"`   // wait after open so the auto-reset finishes
	SocketPath string     `json:"socketPath"` // broker IPC endpoint
	PidPath    string     `json:"pidPath"`    // broker liveness proof
	LockDir    string     `json:"lockDir"`    // advisory lock files, keyed by port
	MQTT       MQTTConfig `json:"mqtt"`
}

type MQTTConfig struct {
	URL                  string `json:"url"` // empty disables publishing
	ClientName           string `json:"clientName"`
	TopicPrefix          string `json:"topicPrefix"`
	ConnectTimeoutMs     int    `json:"connectTimeoutMs"`
	PublishTimeoutMs     int    `json:"publishTimeoutMs"`
	HeartbeatIntervalSec int    `json:"heartbeatInterval"`
}

/* =========================
   Helpers
   ========================= */

func (c Config) Timeout() time.Duration { return time.Duration(c.TimeoutMs) * time.Millisecond }
func (c Config) Settle() time.Duration  { return time.Duration(c.SettleMs) * time.Millisecond }

func (m MQTTConfig) ConnectTimeout() time.Duration {
	return time.Duration(m.ConnectTimeoutMs) * time.Millisecond
}
func (m MQTTConfig) PublishTimeout() time.Duration {
	return time.Duration(m.PublishTimeoutMs) * time.Millisecond
}
func (m MQTTConfig) HeartbeatInterval() time.Duration {
	return time.Duration(m.HeartbeatIntervalSec) * time.Second
}

// LockPath is the advisory lock file for a device path. Keyed by port so
// gates for different devices never contend.
func (c Config) LockPath() string {
	name := strings.Trim(strings.ReplaceAll(c.Port, string(os.PathSeparator), "-"), "-")
	return filepath.Join(c.LockDir, "hilrelay-"+name+".lock")
}

func Default() *Config {
	return &Config{
		Port:       "/dev/arduino-relay",
		Baud:       115200,
		TimeoutMs:  2000,
		SettleMs:   2000,
		SocketPath: "/tmp/hilrelay.sock",
		PidPath:    "/tmp/hilrelay.pid",
		LockDir:    os.TempDir(),
		MQTT: MQTTConfig{
			ClientName:           "relayd",
			TopicPrefix:          "hil/relayd",
			ConnectTimeoutMs:     10000,
			PublishTimeoutMs:     5000,
			HeartbeatIntervalSec: 60,
		},
	}
}

/* =========================
   Strict load + validate
   ========================= */

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return loadBytes(raw)
}

func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return loadBytes(raw)
}

func loadBytes(raw []byte) (*Config, error) {
	clean := stripJSONComments(raw)

	dec := json.NewDecoder(strings.NewReader(string(clean)))
	dec.DisallowUnknownFields()

	cfg := Default()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// FromEnv builds a config without a file: defaults plus env overrides.
func FromEnv() (*Config, error) {
	cfg := Default()
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) ApplyEnv() {
	setString(&c.Port, "RELAY_PORT")
	setInt(&c.Baud, "RELAY_BAUD")
	setInt(&c.TimeoutMs, "RELAY_TIMEOUT_MS")
	setInt(&c.SettleMs, "RELAY_SETTLE_MS")
	setString(&c.SocketPath, "RELAY_SOCKET")
	setString(&c.PidPath, "RELAY_PIDFILE")
	setString(&c.LockDir, "RELAY_LOCK_DIR")
	setString(&c.MQTT.URL, "MQTT_URL")
	setString(&c.MQTT.ClientName, "RELAY_NAME")
}

func (c *Config) Validate() error {
	var errs multiErr

	if strings.TrimSpace(c.Port) == "" {
		errs.add("port is required")
	}
	if c.Baud <= 0 {
		errs.add("baud must be > 0")
	}
	if c.TimeoutMs <= 0 {
		c.TimeoutMs = 2000
	}
	if c.SettleMs < 0 {
		errs.add("settleMs cannot be negative")
	}
	if strings.TrimSpace(c.SocketPath) == "" {
		errs.add("socketPath is required")
	}
	if strings.TrimSpace(c.PidPath) == "" {
		errs.add("pidPath is required")
	}
	if strings.TrimSpace(c.LockDir) == "" {
		c.LockDir = os.TempDir()
	}

	if c.MQTT.URL != "" {
		if strings.TrimSpace(c.MQTT.ClientName) == "" {
			errs.add("mqtt.clientName is required when mqtt.url is set")
		}
		if strings.TrimSpace(c.MQTT.TopicPrefix) == "" {
			errs.addf("mqtt.topicPrefix is required when mqtt.url is set")
		}
		if c.MQTT.HeartbeatIntervalSec < 0 {
			errs.add("mqtt.heartbeatInterval cannot be negative")
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

/* =========================
   Comment stripping + utils
   ========================= */

// stripJSONComments removes // and /* */ comments but leaves string
// literals untouched, so schemed values like "tcp://host:1883" survive.
func stripJSONComments(in []byte) []byte {
	var out bytes.Buffer
	s := string(in)
	for i := 0; i < len(s); {
		switch {
		case s[i] == '"':
			j := i + 1
			for j < len(s) {
				if s[j] == '\\' {
					j += 2
					continue
				}
				if s[j] == '"' {
					j++
					break
				}
				j++
			}
			out.WriteString(s[i:j])
			i = j
		case s[i] == '/' && i+1 < len(s) && s[i+1] == '/':
			for i < len(s) && s[i] != '\n' {
				i++
			}
		case s[i] == '/' && i+1 < len(s) && s[i+1] == '*':
			i += 2
			for i+1 < len(s) && !(s[i] == '*' && s[i+1] == '/') {
				i++
			}
			if i+1 < len(s) {
				i += 2
			} else {
				i = len(s)
			}
		default:
			out.WriteByte(s[i])
			i++
		}
	}
	return out.Bytes()
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// small multi-error
type multiErr []string

func (m *multiErr) add(s string)            { *m = append(*m, s) }
func (m *multiErr) addf(f string, a ...any) { *m = append(*m, fmt.Sprintf(f, a...)) }
func (m multiErr) Error() string            { return "validation errors: " + strings.Join(m, "; ") }
