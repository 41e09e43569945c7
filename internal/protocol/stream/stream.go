// Package stream builds outbound messages. A Stream owns copies of everything appended to it
// and writes meta header, tag array and payloads in host byte order.
//
// A failed size check, splice or send leaves the stream broken: every later append or send
// fails with protocol.ErrStreamBroken until Reset. Streams carry no locking.
package stream

import (
	"context"
	"fmt"

	"github.com/danmuck/edgeipc/internal/protocol"
	"github.com/danmuck/edgeipc/internal/protocol/conn"
	"github.com/danmuck/edgeipc/internal/protocol/frame"
	"github.com/danmuck/edgeipc/internal/protocol/pdu"
	"github.com/danmuck/edgeipc/internal/protocol/structs"
)

type Options struct {
	// Catalogue resolves struct appends and spliced struct PDUs. Nil means structs.Default().
	Catalogue *structs.Catalogue
	Limits    frame.Limits
}

type Stream struct {
	pdus      []*pdu.PDU
	total     uint64
	event     bool
	broken    bool
	finalized bool
	cat       *structs.Catalogue
	limits    frame.Limits
}

// New returns a request stream. It can be sent once.
func New(opts Options) *Stream {
	s := &Stream{cat: opts.Catalogue, limits: opts.Limits}
	if s.cat == nil {
		s.cat = structs.Default()
	}
	return s
}

// NewEvent returns an event stream, which may be sent any number of times.
func NewEvent(opts Options) *Stream {
	s := New(opts)
	s.event = true
	return s
}

func (s *Stream) Len() int          { return len(s.pdus) }
func (s *Stream) TotalSize() uint64 { return s.total }
func (s *Stream) Broken() bool      { return s.broken }
func (s *Stream) Finalized() bool   { return s.finalized }
func (s *Stream) IsEvent() bool     { return s.event }

func (s *Stream) Mode() frame.Mode {
	if s.event {
		return frame.ModeEvent
	}
	return frame.ModeRequest
}

// Tags returns a copy of the tag array as it will be sent.
func (s *Stream) Tags() []pdu.Tag {
	tags := make([]pdu.Tag, len(s.pdus))
	for i, p := range s.pdus {
		tags[i] = p.Tag
	}
	return tags
}

func (s *Stream) ready() error {
	if s.broken {
		return protocol.ErrStreamBroken
	}
	if s.finalized {
		return protocol.ErrFinalized
	}
	return nil
}

// Append adds a constructed PDU, taking ownership of it. On failure p is destroyed.
func (s *Stream) Append(p *pdu.PDU) error {
	if err := s.ready(); err != nil {
		p.Destroy()
		return err
	}
	next := s.total + uint64(p.Tag.Size)
	if err := s.limits.CheckTotal(next); err != nil {
		p.Destroy()
		s.broken = true
		return err
	}
	p.Tag.Offset = uint32(s.total)
	s.total = next
	s.pdus = append(s.pdus, p)
	return nil
}

// Reset destroys every PDU, releasing struct references, and returns the stream to empty.
func (s *Stream) Reset() {
	for _, p := range s.pdus {
		p.Destroy()
	}
	s.pdus = nil
	s.total = 0
	s.broken = false
	s.finalized = false
}

type connWriter struct {
	ctx context.Context
	c   conn.Conn
}

func (w connWriter) Write(p []byte) (int, error) {
	if err := w.c.Write(w.ctx, p, false); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Send writes the message to c and flushes. Request streams are finalized by their first send
// attempt; event streams stay open.
func (s *Stream) Send(ctx context.Context, c conn.Conn) error {
	if err := s.ready(); err != nil {
		return err
	}
	if !s.event {
		s.finalized = true
	}
	if err := s.send(ctx, c); err != nil {
		s.broken = true
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

func (s *Stream) send(ctx context.Context, c conn.Conn) error {
	order := pdu.SwapFlags{}.IntOrder()
	meta := frame.Meta{Count: uint32(len(s.pdus)), TotalSize: uint32(s.total), Mode: s.Mode()}
	if err := c.Write(ctx, frame.EncodeMeta(order, meta), false); err != nil {
		return err
	}
	if len(s.pdus) > 0 {
		if err := c.Write(ctx, frame.EncodeTags(order, s.Tags()), false); err != nil {
			return err
		}
	}
	w := connWriter{ctx: ctx, c: c}
	for _, p := range s.pdus {
		if err := p.Write(w); err != nil {
			return err
		}
	}
	return c.Write(ctx, nil, true)
}
