package ipc

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/edgeipc/internal/config"
	"github.com/danmuck/edgeipc/internal/logging"
	"github.com/danmuck/edgeipc/internal/protocol"
	"github.com/danmuck/edgeipc/internal/protocol/conn"
	"github.com/danmuck/edgeipc/internal/protocol/frame"
	"github.com/danmuck/edgeipc/internal/protocol/message"
	"github.com/danmuck/edgeipc/internal/protocol/pdu"
	"github.com/danmuck/edgeipc/internal/protocol/structs"
	"github.com/danmuck/edgeipc/internal/testutil/testlog"
)

func writeSchema(t *testing.T, name string, def structs.Def) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := (structs.Writer{}).WriteFile(path, def); err != nil {
		t.Fatalf("write schema %s: %v", name, err)
	}
	return path
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.SchemaPath = writeSchema(t, "primary.bin", structs.Def{Namespace: "test", Structs: []structs.StructDef{
		{Name: "Point", Fields: []structs.FieldDef{{Name: "x", Type: "int32"}, {Name: "y", Type: "int32"}}},
	}})
	cfg.SchemaExtra = []string{writeSchema(t, "extra.bin", structs.Def{Structs: []structs.StructDef{
		{Name: "Link", Fields: []structs.FieldDef{{Name: "ifindex", Type: "uint32"}, {Name: "mtu", Type: "uint16"}}},
	}})}
	cfg.Limits = frame.Limits{MaxMessageBytes: 1 << 16, MaxPDUs: 256}
	cfg.MaxEventEntries = 8
	cfg.Conn.DialAttempts = 1
	return cfg
}

func newEngine(t *testing.T, cfg config.Config) *Engine {
	t.Helper()
	e, err := New(Options{Config: cfg, Logger: logging.For("ipc-test")})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func TestNewMergesSupplementarySchemas(t *testing.T) {
	testlog.Start(t)
	e := newEngine(t, testConfig(t))
	names := e.Catalogue().Names()
	if len(names) != 2 || names[0] != "Link" || names[1] != "Point" {
		t.Fatalf("names = %v", names)
	}
	if e.Catalogue().Namespace() != "test" {
		t.Fatalf("namespace = %q", e.Catalogue().Namespace())
	}
}

func TestNewRejectsCollidingSchemas(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t)
	cfg.SchemaExtra = append(cfg.SchemaExtra, writeSchema(t, "dup.bin", structs.Def{Structs: []structs.StructDef{
		{Name: "Point", Fields: []structs.FieldDef{{Name: "x", Type: "int64"}}},
	}}))
	_, err := New(Options{Config: cfg, Logger: logging.For("ipc-test")})
	if !errors.Is(err, protocol.ErrInvalidArgument) {
		t.Fatalf("err = %v, want invalid argument", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t)
	cfg.Conn.DialAttempts = 0
	if _, err := New(Options{Config: cfg, Logger: logging.For("ipc-test")}); err == nil {
		t.Fatalf("expected config error")
	}
}

func TestEngineRelaysBetweenPeers(t *testing.T) {
	testlog.Start(t)
	e := newEngine(t, testConfig(t))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	relayed := conn.NewBuffer(nil)
	done := make(chan error, 1)
	go func() {
		raw, err := ln.Accept()
		if err != nil {
			done <- err
			return
		}
		nc := conn.NewNetConn(raw)
		defer nc.Close()
		flags, err := e.Handshake(ctx, nc)
		if err != nil {
			done <- err
			return
		}
		m, err := e.Receive(ctx, nc, flags)
		if err != nil {
			done <- err
			return
		}
		defer m.Release()
		done <- e.Relay(ctx, m, relayed)
	}()

	nc, flags, err := e.Dial(ctx, "tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer nc.Close()
	if flags != (pdu.SwapFlags{}) {
		t.Fatalf("same-host peer reported swap flags %+v", flags)
	}

	point, err := e.Catalogue().Lookup("Point")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	v := structs.NewValue(point)
	_ = v.SetInt("x", 0, 7)
	_ = v.SetInt("y", 0, -9)

	s := e.NewEventStream()
	if err := s.AppendString("link-up"); err != nil {
		t.Fatalf("append string: %v", err)
	}
	if err := s.AppendValue(v); err != nil {
		t.Fatalf("append value: %v", err)
	}
	if err := e.Send(ctx, s, nc); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("relay side: %v", err)
	}

	out, err := message.Parse(relayed.Bytes(), message.Options{Catalogue: e.Catalogue()})
	if err != nil {
		t.Fatalf("parse relayed: %v", err)
	}
	defer out.Release()
	if !out.IsEvent() || out.Len() != 2 {
		t.Fatalf("relayed mode=%s len=%d", out.Mode(), out.Len())
	}
	if got, _ := out.String(0); got != "link-up" {
		t.Fatalf("string = %q", got)
	}
	got, err := out.Struct(1, "Point", point.Signature())
	if err != nil {
		t.Fatalf("struct: %v", err)
	}
	if y, _ := got.Int("y", 0); y != -9 {
		t.Fatalf("y = %d", y)
	}
}

func TestReceiveCanceledAndLimited(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t)
	cfg.Limits = frame.Limits{MaxMessageBytes: 16, MaxPDUs: 1}
	e := newEngine(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Receive(ctx, conn.NewBuffer(nil), pdu.SwapFlags{}); !protocol.IsCanceled(err) {
		t.Fatalf("err = %v, want canceled", err)
	}

	wire := conn.NewBuffer(nil)
	s := e.NewStream()
	if err := s.AppendUint8(1); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendUint8(2); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := e.Send(context.Background(), s, wire); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := e.Receive(context.Background(), wire, pdu.SwapFlags{}); !errors.Is(err, protocol.ErrMessageTooLarge) {
		t.Fatalf("err = %v, want too large", err)
	}
}

func TestClearCatalogueWhileReferenced(t *testing.T) {
	testlog.Start(t)
	e := newEngine(t, testConfig(t))
	point, err := e.Catalogue().Lookup("Point")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	point.Acquire()
	if err := e.ClearCatalogue(); !errors.Is(err, protocol.ErrBusy) {
		t.Fatalf("err = %v, want busy", err)
	}
	point.Release()
	if err := e.ClearCatalogue(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if e.Catalogue().Len() != 0 {
		t.Fatalf("len = %d after clear", e.Catalogue().Len())
	}
}

func TestRelayReleasesCatalogueReferences(t *testing.T) {
	testlog.Start(t)
	e := newEngine(t, testConfig(t))
	ctx := context.Background()

	link, err := e.Catalogue().Lookup("Link")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	v := structs.NewValue(link)
	_ = v.SetUint("ifindex", 0, 4)
	_ = v.SetUint("mtu", 0, 1500)

	wire := conn.NewBuffer(nil)
	s := e.NewStream()
	if err := s.AppendValue(v); err != nil {
		t.Fatalf("append value: %v", err)
	}
	if err := e.Send(ctx, s, wire); err != nil {
		t.Fatalf("send: %v", err)
	}
	s.Reset()

	m, err := e.Receive(ctx, wire, pdu.SwapFlags{})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	relayed := conn.NewBuffer(nil)
	if err := e.Relay(ctx, m, relayed); err != nil {
		t.Fatalf("relay: %v", err)
	}
	m.Release()
	if n := e.Catalogue().Refs(); n != 0 {
		t.Fatalf("refs = %d after relay", n)
	}
	if err := e.ClearCatalogue(); err != nil {
		t.Fatalf("clear after relay: %v", err)
	}

	// Supplementary schemas come back with the primary file on the next lookup.
	if _, err := e.Catalogue().Lookup("Link"); err != nil {
		t.Fatalf("lookup after clear: %v", err)
	}
	if names := e.Catalogue().Names(); len(names) != 2 {
		t.Fatalf("names after reload = %v", names)
	}
}
