package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/edgeipc/internal/logging"
	"github.com/danmuck/edgeipc/internal/protocol"
	"github.com/danmuck/edgeipc/internal/protocol/conn"
	"github.com/danmuck/edgeipc/internal/protocol/frame"
	"github.com/danmuck/edgeipc/internal/protocol/structs"
)

// Config is the resolved runtime configuration. Zero limits mean frame.DefaultLimits.
type Config struct {
	SchemaPath  string
	SchemaExtra []string

	Limits          frame.Limits
	MaxEventEntries int

	Conn conn.Config

	LogLevel string

	AdminAddr   string
	AdminToken  string
	CorsOrigins []string
	RelayAddr   string
	RelayTarget string
}

func DefaultConfig() Config {
	return Config{
		SchemaPath:  structs.DefaultPath,
		Conn:        conn.DefaultConfig(),
		LogLevel:    "info",
		AdminAddr:   "127.0.0.1:9400",
		CorsOrigins: []string{},
	}
}

type fileConfig struct {
	Schema struct {
		Path  string   `toml:"path"`
		Extra []string `toml:"extra"`
	} `toml:"schema"`
	Limits struct {
		MaxMessageBytes uint64 `toml:"max_message_bytes"`
		MaxPDUs         uint32 `toml:"max_pdus"`
		MaxEventEntries int    `toml:"max_event_entries"`
	} `toml:"limits"`
	Conn struct {
		ConnectTimeout   string `toml:"connect_timeout"`
		ReadTimeout      string `toml:"read_timeout"`
		WriteTimeout     string `toml:"write_timeout"`
		HandshakeTimeout string `toml:"handshake_timeout"`
		DialAttempts     int    `toml:"dial_attempts"`
	} `toml:"conn"`
	Log struct {
		Level string `toml:"level"`
	} `toml:"log"`
	Admin struct {
		Addr        string   `toml:"addr"`
		Token       string   `toml:"token"`
		CorsOrigins []string `toml:"cors_origins"`
	} `toml:"admin"`
	Relay struct {
		Listen string `toml:"listen"`
		Target string `toml:"target"`
	} `toml:"relay"`
}

// Load overlays the keys present in the TOML file at path onto DefaultConfig and validates the
// result.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: config %s: unknown key %s", protocol.ErrInvalidArgument, path, undecoded[0])
	}

	if meta.IsDefined("schema", "path") {
		cfg.SchemaPath = strings.TrimSpace(raw.Schema.Path)
	}
	if meta.IsDefined("schema", "extra") {
		cfg.SchemaExtra = normalizeList(raw.Schema.Extra)
	}

	if meta.IsDefined("limits", "max_message_bytes") {
		cfg.Limits.MaxMessageBytes = raw.Limits.MaxMessageBytes
	}
	if meta.IsDefined("limits", "max_pdus") {
		cfg.Limits.MaxPDUs = raw.Limits.MaxPDUs
	}
	if meta.IsDefined("limits", "max_event_entries") {
		cfg.MaxEventEntries = raw.Limits.MaxEventEntries
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", raw.Conn.ConnectTimeout, &cfg.Conn.ConnectTimeout},
		{"read_timeout", raw.Conn.ReadTimeout, &cfg.Conn.ReadTimeout},
		{"write_timeout", raw.Conn.WriteTimeout, &cfg.Conn.WriteTimeout},
		{"handshake_timeout", raw.Conn.HandshakeTimeout, &cfg.Conn.HandshakeTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined("conn", d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse conn.%s: %w", d.key, err)
		}
		*d.dst = v
	}
	if meta.IsDefined("conn", "dial_attempts") {
		cfg.Conn.DialAttempts = raw.Conn.DialAttempts
	}

	if meta.IsDefined("log", "level") {
		cfg.LogLevel = strings.TrimSpace(raw.Log.Level)
	}

	if meta.IsDefined("admin", "addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.Admin.Addr)
	}
	if meta.IsDefined("admin", "token") {
		cfg.AdminToken = strings.TrimSpace(raw.Admin.Token)
	}
	if meta.IsDefined("admin", "cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.Admin.CorsOrigins)
	}
	if meta.IsDefined("relay", "listen") {
		cfg.RelayAddr = strings.TrimSpace(raw.Relay.Listen)
	}
	if meta.IsDefined("relay", "target") {
		cfg.RelayTarget = strings.TrimSpace(raw.Relay.Target)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if strings.Contains(cfg.SchemaPath, "\x00") {
		return fmt.Errorf("%w: schema.path contains NUL", protocol.ErrInvalidArgument)
	}
	for i, p := range cfg.SchemaExtra {
		if p == "" || strings.Contains(p, "\x00") {
			return fmt.Errorf("%w: schema.extra[%d] invalid", protocol.ErrInvalidArgument, i)
		}
	}
	if cfg.Limits.MaxMessageBytes > frame.PlatformMaxMessage() {
		return fmt.Errorf("%w: limits.max_message_bytes %d exceeds platform maximum %d",
			protocol.ErrInvalidArgument, cfg.Limits.MaxMessageBytes, frame.PlatformMaxMessage())
	}
	if (cfg.Limits.MaxMessageBytes == 0) != (cfg.Limits.MaxPDUs == 0) {
		return fmt.Errorf("%w: limits.max_message_bytes and limits.max_pdus must be set together", protocol.ErrInvalidArgument)
	}
	if cfg.MaxEventEntries < 0 {
		return fmt.Errorf("%w: limits.max_event_entries must not be negative", protocol.ErrInvalidArgument)
	}
	if cfg.Conn.ReadTimeout < 0 || cfg.Conn.WriteTimeout < 0 ||
		cfg.Conn.HandshakeTimeout < 0 || cfg.Conn.ConnectTimeout < 0 {
		return fmt.Errorf("%w: conn timeouts must not be negative", protocol.ErrInvalidArgument)
	}
	if cfg.Conn.DialAttempts < 1 {
		return fmt.Errorf("%w: conn.dial_attempts must be at least 1", protocol.ErrInvalidArgument)
	}
	if _, ok := logging.ParseLevel(cfg.LogLevel); !ok {
		return fmt.Errorf("%w: unknown log.level %q", protocol.ErrInvalidArgument, cfg.LogLevel)
	}
	if strings.TrimSpace(cfg.AdminAddr) == "" {
		return fmt.Errorf("%w: admin.addr is required", protocol.ErrInvalidArgument)
	}
	if (cfg.RelayAddr == "") != (cfg.RelayTarget == "") {
		return fmt.Errorf("%w: relay.listen and relay.target must be set together", protocol.ErrInvalidArgument)
	}
	return nil
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
