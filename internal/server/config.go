// Package server provides configuration helpers that define runtime
// defaults, file loading, and environment overrides for the chat relay.
package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes Go duration syntax ("10s", "250ms") from YAML, which
// gopkg.in/yaml.v3 does not do for time.Duration on its own.
type Duration time.Duration

// UnmarshalYAML implements custom unmarshaling for duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration back in Go syntax.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Config holds the relay's runtime settings. Zero values are replaced
// with defaults by sanitize, so a partially filled config is always
// usable.
type Config struct {
	// ListenAddr is the TCP endpoint for the framed chat protocol.
	ListenAddr string `yaml:"listen_addr"`
	// HTTPAddr serves the WebSocket gateway and health endpoint.
	// Empty disables the gateway entirely.
	HTTPAddr string `yaml:"http_addr"`
	// KeyFile is the path of the base64-encoded pre-shared key.
	KeyFile string `yaml:"key_file"`
	// DefaultRoom is where every session lands after the handshake.
	DefaultRoom string `yaml:"default_room"`
	// AllowedOrigins restricts WebSocket upgrades; "*" allows any.
	AllowedOrigins []string `yaml:"allowed_origins"`
	// MaxFrameSize caps the declared length of inbound frames.
	MaxFrameSize uint32 `yaml:"max_frame_size"`
	// HandshakeTimeout bounds the username exchange.
	HandshakeTimeout Duration `yaml:"handshake_timeout"`
	// ShutdownTimeout bounds how long Shutdown waits for handler
	// goroutines to drain.
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:  ":5555",
		HTTPAddr:    ":8080",
		KeyFile:     "secret.key",
		DefaultRoom: "#general",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxFrameSize:     64 * 1024,
		HandshakeTimeout: Duration(10 * time.Second),
		ShutdownTimeout:  Duration(10 * time.Second),
	}
}

func sanitizeConfig(cfg Config) Config {
	defaults := defaultConfig()

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaults.ListenAddr
	}
	if cfg.KeyFile == "" {
		cfg.KeyFile = defaults.KeyFile
	}
	if !strings.HasPrefix(cfg.DefaultRoom, RoomPrefix) {
		cfg.DefaultRoom = defaults.DefaultRoom
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = defaults.MaxFrameSize
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	return cfg
}

// NewConfig creates a Config populated with default values for all
// settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// LoadConfig reads a YAML config file and overlays it on the defaults.
// A missing file is not an error; the defaults are returned so the
// server runs out of the box.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg = sanitizeConfig(cfg)
			return &cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	cfg = sanitizeConfig(cfg)
	return &cfg, nil
}

// ApplyEnv overrides cfg fields from environment variables. Unset or
// unparsable variables leave the existing value in place.
func (cfg *Config) ApplyEnv() {
	if addr := os.Getenv("CHAT_LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}
	if addr := os.Getenv("CHAT_HTTP_ADDR"); addr != "" {
		cfg.HTTPAddr = addr
	}
	if path := os.Getenv("CHAT_KEY_FILE"); path != "" {
		cfg.KeyFile = path
	}
	if room := os.Getenv("CHAT_DEFAULT_ROOM"); room != "" {
		cfg.DefaultRoom = room
	}
	if origins := os.Getenv("CHAT_ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if size := os.Getenv("CHAT_MAX_FRAME_SIZE"); size != "" {
		cfg.MaxFrameSize = parseFrameSize(size, cfg.MaxFrameSize)
	}
	if timeout := os.Getenv("CHAT_HANDSHAKE_TIMEOUT"); timeout != "" {
		cfg.HandshakeTimeout = parseTimeout(timeout, cfg.HandshakeTimeout)
	}
	*cfg = sanitizeConfig(*cfg)
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseFrameSize(value string, defaultValue uint32) uint32 {
	if size, err := strconv.ParseUint(value, 10, 32); err == nil && size > 0 {
		return uint32(size)
	}
	return defaultValue
}

func parseTimeout(value string, defaultValue Duration) Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return Duration(d)
	}
	return defaultValue
}
