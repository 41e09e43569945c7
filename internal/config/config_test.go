package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/edgeipc/internal/protocol"
	"github.com/danmuck/edgeipc/internal/protocol/structs"
	"github.com/danmuck/edgeipc/internal/testutil/testlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "edgeipc.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsWhenKeysMissing(t *testing.T) {
	testlog.Start(t)
	cfg, err := Load(writeConfig(t, "[log]\nlevel = \"debug\"\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SchemaPath != structs.DefaultPath {
		t.Fatalf("schema path = %q", cfg.SchemaPath)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level = %q", cfg.LogLevel)
	}
	def := DefaultConfig()
	if cfg.Conn != def.Conn {
		t.Fatalf("conn = %+v, want %+v", cfg.Conn, def.Conn)
	}
	if cfg.Limits.MaxMessageBytes != 0 || cfg.Limits.MaxPDUs != 0 {
		t.Fatalf("limits = %+v", cfg.Limits)
	}
}

func TestLoadOverlaysValues(t *testing.T) {
	testlog.Start(t)
	cfg, err := Load(writeConfig(t, `
[schema]
path = " /srv/structs.bin "
extra = ["/srv/a.bin", " ", "/srv/b.bin"]

[limits]
max_message_bytes = 65536
max_pdus = 128
max_event_entries = 16

[conn]
read_timeout = "2s"
handshake_timeout = "750ms"
dial_attempts = 5

[admin]
addr = ":9500"
token = " s3cret "
cors_origins = ["http://ui.local"]

[relay]
listen = "127.0.0.1:9401"
target = "127.0.0.1:9402"
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SchemaPath != "/srv/structs.bin" {
		t.Fatalf("schema path = %q", cfg.SchemaPath)
	}
	if len(cfg.SchemaExtra) != 2 || cfg.SchemaExtra[1] != "/srv/b.bin" {
		t.Fatalf("schema extra = %v", cfg.SchemaExtra)
	}
	if cfg.Limits.MaxMessageBytes != 65536 || cfg.Limits.MaxPDUs != 128 || cfg.MaxEventEntries != 16 {
		t.Fatalf("limits = %+v events=%d", cfg.Limits, cfg.MaxEventEntries)
	}
	if cfg.Conn.ReadTimeout != 2*time.Second || cfg.Conn.HandshakeTimeout != 750*time.Millisecond {
		t.Fatalf("conn = %+v", cfg.Conn)
	}
	if cfg.Conn.WriteTimeout != DefaultConfig().Conn.WriteTimeout {
		t.Fatalf("write timeout overwritten: %v", cfg.Conn.WriteTimeout)
	}
	if cfg.Conn.DialAttempts != 5 || cfg.AdminAddr != ":9500" || cfg.AdminToken != "s3cret" || cfg.RelayTarget != "127.0.0.1:9402" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadRejectsInvalidFiles(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name    string
		body    string
		invalid bool
	}{
		{"unknown key", "[schema]\nbogus = 1\n", true},
		{"bad duration", "[conn]\nread_timeout = \"soon\"\n", false},
		{"limits half set", "[limits]\nmax_pdus = 4\n", true},
		{"bad level", "[log]\nlevel = \"loud\"\n", true},
		{"empty admin", "[admin]\naddr = \"\"\n", true},
		{"relay without target", "[relay]\nlisten = \":1\"\n", true},
		{"syntax", "[schema\n", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil {
				t.Fatalf("expected error")
			}
			if tc.invalid && !errors.Is(err, protocol.ErrInvalidArgument) {
				t.Fatalf("err = %v, want invalid argument", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	testlog.Start(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestTemplateLoadsAndRefusesOverwrite(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "edgeipc.toml")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if cfg.MaxEventEntries != 4096 || len(cfg.CorsOrigins) != 1 {
		t.Fatalf("template cfg = %+v", cfg)
	}
	if err := WriteTemplate(path, false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	if err := WriteTemplate(path, true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
}

func TestValidateDefaultConfig(t *testing.T) {
	testlog.Start(t)
	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
