// Package ipc wires the protocol packages to runtime configuration, logging and metrics.
package ipc

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/danmuck/edgeipc/internal/config"
	"github.com/danmuck/edgeipc/internal/observability"
	"github.com/danmuck/edgeipc/internal/protocol"
	"github.com/danmuck/edgeipc/internal/protocol/conn"
	"github.com/danmuck/edgeipc/internal/protocol/message"
	"github.com/danmuck/edgeipc/internal/protocol/pdu"
	"github.com/danmuck/edgeipc/internal/protocol/stream"
	"github.com/danmuck/edgeipc/internal/protocol/structs"
)

type Options struct {
	Config config.Config
	Logger zerolog.Logger
	// Catalogue overrides the catalogue built from Config.SchemaPath.
	Catalogue *structs.Catalogue
}

type Engine struct {
	cfg config.Config
	log zerolog.Logger
	cat *structs.Catalogue
}

// New builds an engine and merges every supplementary schema file. The primary schema file
// still loads lazily unless a supplementary file forces it.
func New(opts Options) (*Engine, error) {
	if err := config.Validate(opts.Config); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg: opts.Config,
		log: opts.Logger.With().Str("component", "ipc").Logger(),
		cat: opts.Catalogue,
	}
	if e.cat == nil {
		e.cat = structs.NewCatalogue(structs.Options{
			Path:   opts.Config.SchemaPath,
			Logger: opts.Logger,
			OnLoad: recordLoad,
		})
	}
	for _, path := range opts.Config.SchemaExtra {
		if err := e.cat.LoadFile(path); err != nil {
			return nil, fmt.Errorf("load schema %s: %w", path, err)
		}
	}
	return e, nil
}

func recordLoad(outcome string, n int) {
	observability.RecordCatalogueLoad(outcome)
	if outcome == structs.OutcomeLoaded {
		observability.AddCatalogueStructs(n)
	}
}

func (e *Engine) Catalogue() *structs.Catalogue { return e.cat }
func (e *Engine) Config() config.Config         { return e.cfg }

func (e *Engine) streamOptions() stream.Options {
	return stream.Options{Catalogue: e.cat, Limits: e.cfg.Limits}
}

func (e *Engine) NewStream() *stream.Stream      { return stream.New(e.streamOptions()) }
func (e *Engine) NewEventStream() *stream.Stream { return stream.NewEvent(e.streamOptions()) }

// Handshake exchanges byte-order markers with the peer on c.
func (e *Engine) Handshake(ctx context.Context, c conn.Conn) (pdu.SwapFlags, error) {
	ctx, cancel := e.cfg.Conn.HandshakeContext(ctx)
	defer cancel()
	flags, err := conn.Handshake(ctx, c)
	if err != nil {
		e.fail("handshake", err)
		return pdu.SwapFlags{}, err
	}
	return flags, nil
}

// Dial connects to addr and completes the handshake.
func (e *Engine) Dial(ctx context.Context, network, addr string) (*conn.NetConn, pdu.SwapFlags, error) {
	nc, err := conn.Dial(ctx, network, addr, e.cfg.Conn)
	if err != nil {
		e.fail("dial", err)
		return nil, pdu.SwapFlags{}, err
	}
	flags, err := e.Handshake(ctx, nc)
	if err != nil {
		_ = nc.Close()
		return nil, pdu.SwapFlags{}, err
	}
	return nc, flags, nil
}

func (e *Engine) Send(ctx context.Context, s *stream.Stream, c conn.Conn) error {
	ctx, cancel := e.cfg.Conn.WriteContext(ctx)
	defer cancel()
	if err := s.Send(ctx, c); err != nil {
		e.fail("send", err)
		return err
	}
	observability.RecordSend(s.Mode().String(), s.TotalSize())
	e.log.Trace().Str("mode", s.Mode().String()).Int("pdus", s.Len()).Uint64("bytes", s.TotalSize()).Msg("message sent")
	return nil
}

// Receive reads one message from a peer whose byte order is described by flags.
func (e *Engine) Receive(ctx context.Context, c conn.Conn, flags pdu.SwapFlags) (*message.Message, error) {
	ctx, cancel := e.cfg.Conn.ReadContext(ctx)
	defer cancel()
	m, err := message.Receive(ctx, c, message.Options{
		Flags:           flags,
		Limits:          e.cfg.Limits,
		Catalogue:       e.cat,
		MaxEventEntries: e.cfg.MaxEventEntries,
	})
	if err != nil {
		e.fail("receive", err)
		return nil, err
	}
	observability.RecordReceive(m.Mode().String(), m.TotalSize())
	e.log.Trace().Str("mode", m.Mode().String()).Int("pdus", m.Len()).Uint32("bytes", m.TotalSize()).Msg("message received")
	return m, nil
}

// Relay splices every PDU of src into a fresh stream of the same mode and sends it to dst. The
// stream is reset afterwards so spliced struct PDUs drop their catalogue references.
func (e *Engine) Relay(ctx context.Context, src *message.Message, dst conn.Conn) error {
	s := e.NewStream()
	if src.IsEvent() {
		s = e.NewEventStream()
	}
	defer s.Reset()
	n, _, err := s.Splice(src, 0, src.Len())
	if err != nil {
		e.fail("splice", err)
		return err
	}
	observability.RecordSplice(n)
	return e.Send(ctx, s, dst)
}

// ClearCatalogue drops every registered schema. It fails with protocol.ErrBusy while
// references are held.
func (e *Engine) ClearCatalogue() error {
	if err := e.cat.Clear(); err != nil {
		e.fail("clear", err)
		return err
	}
	observability.SetCatalogueStructs(0)
	return nil
}

func (e *Engine) fail(op string, err error) {
	kind := protocol.KindOf(err)
	observability.RecordError(op, kind.String())
	switch kind {
	case protocol.KindCanceled:
		e.log.Debug().Err(err).Str("op", op).Msg("operation canceled")
	case protocol.KindTimeout, protocol.KindIO:
		e.log.Warn().Err(err).Str("op", op).Str("kind", kind.String()).Msg("connection failure")
	default:
		e.log.Error().Err(err).Str("op", op).Str("kind", kind.String()).Msg("operation failed")
	}
}
