// Package message parses inbound wire messages and exposes typed, index-checked getters.
//
// A Message keeps the payload exactly as received. Getters convert to host order on access
// using the swap flags the connection handshake produced. Messages carry no locking.
package message

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
	// Flags describe the sender's byte order relative to this host.
	Flags  pdu.SwapFlags
	Limits frame.Limits
	// Catalogue resolves struct PDUs. Nil means structs.Default().
	Catalogue *structs.Catalogue
	// MaxEventEntries bounds decoded event mask sets. Zero is unbounded.
	MaxEventEntries int
}

type Message struct {
	meta  frame.Meta
	tags  []pdu.Tag
	data  []byte
	flags pdu.SwapFlags
	cat   *structs.Catalogue

	maxEvents int

	held map[string]*structs.Schema
}

// Receive reads one message from c: meta header, tag array, then the payload in one read.
func Receive(ctx context.Context, c conn.Conn, opts Options) (*Message, error) {
	order := opts.Flags.IntOrder()
	var mb [frame.MetaSize]byte
	if err := c.ReadFull(ctx, mb[:]); err != nil {
		return nil, err
	}
	meta, err := frame.DecodeMeta(order, mb[:])
	if err != nil {
		return nil, err
	}
	if err := opts.Limits.CheckMeta(meta); err != nil {
		return nil, err
	}

	m := &Message{meta: meta, flags: opts.Flags, cat: opts.Catalogue, maxEvents: opts.MaxEventEntries}
	if m.cat == nil {
		m.cat = structs.Default()
	}
	if meta.Count == 0 {
		if meta.TotalSize != 0 {
			return nil, fmt.Errorf("%w: empty message declares %d payload bytes", protocol.ErrProtocol, meta.TotalSize)
		}
		m.data = []byte{}
		return m, nil
	}

	tb := make([]byte, int(meta.Count)*pdu.TagSize)
	if err := c.ReadFull(ctx, tb); err != nil {
		return nil, err
	}
	m.tags = make([]pdu.Tag, meta.Count)
	for i := range m.tags {
		tag, err := frame.DecodeTag(order, tb[i*pdu.TagSize:])
		if err != nil {
			return nil, err
		}
		m.tags[i] = tag
	}
	if err := validateTags(m.tags, meta.TotalSize); err != nil {
		return nil, err
	}

	m.data = make([]byte, meta.TotalSize)
	if meta.TotalSize > 0 {
		if err := c.ReadFull(ctx, m.data); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Parse decodes a complete message held in memory. Trailing bytes are a protocol error.
func Parse(data []byte, opts Options) (*Message, error) {
	buf := conn.NewBuffer(data)
	m, err := Receive(context.Background(), buf, opts)
	if err != nil {
		return nil, err
	}
	if buf.Len() != 0 {
		m.Release()
		return nil, fmt.Errorf("%w: %d trailing bytes", protocol.ErrProtocol, buf.Len())
	}
	return m, nil
}

// validateTags checks types, flags, fixed sizes and that payloads are packed in order with no
// gaps. Struct validity is checked on first access.
func validateTags(tags []pdu.Tag, total uint32) error {
	var running uint64
	for i, tag := range tags {
		if !tag.Type.Valid() {
			return fmt.Errorf("%w: pdu %d has unknown type %d", protocol.ErrProtocol, i, uint8(tag.Type))
		}
		if tag.Flags&^pdu.FlagNull != 0 {
			return fmt.Errorf("%w: pdu %d has unknown flags 0x%02x", protocol.ErrProtocol, i, uint8(tag.Flags))
		}
		if tag.Null() && tag.Size != 0 {
			return fmt.Errorf("%w: null pdu %d has size %d", protocol.ErrProtocol, i, tag.Size)
		}
		if tag.Null() && tag.Type != pdu.TypeNull && tag.Type != pdu.TypeBinary {
			return fmt.Errorf("%w: %s pdu %d cannot be null", protocol.ErrProtocol, tag.Type, i)
		}
		if tag.Type == pdu.TypeNull && (!tag.Null() || tag.Size != 0) {
			return fmt.Errorf("%w: null pdu %d is malformed", protocol.ErrProtocol, i)
		}
		if n := tag.Type.FixedSize(); n > 0 && tag.Size != n {
			return fmt.Errorf("%w: %s pdu %d has size %d, want %d", protocol.ErrProtocol, tag.Type, i, tag.Size, n)
		}
		if uint64(tag.Offset) != running {
			return fmt.Errorf("%w: pdu %d at offset %d, want %d", protocol.ErrProtocol, i, tag.Offset, running)
		}
		running = tag.End()
		if running > uint64(total) {
			return fmt.Errorf("%w: pdu %d ends at %d past total %d", protocol.ErrProtocol, i, running, total)
		}
	}
	if running != uint64(total) {
		return fmt.Errorf("%w: pdus cover %d of %d payload bytes", protocol.ErrProtocol, running, total)
	}
	return nil
}

func (m *Message) Len() int                 { return len(m.tags) }
func (m *Message) TotalSize() uint32        { return m.meta.TotalSize }
func (m *Message) Mode() frame.Mode         { return m.meta.Mode }
func (m *Message) IsEvent() bool            { return m.meta.Mode == frame.ModeEvent }
func (m *Message) SwapFlags() pdu.SwapFlags { return m.flags }
func (m *Message) Catalogue() *structs.Catalogue {
	return m.cat
}

// Tag returns the tag of PDU i.
func (m *Message) Tag(i int) (pdu.Tag, error) {
	if i < 0 || i >= len(m.tags) {
		return pdu.Tag{}, fmt.Errorf("%w: pdu index %d of %d", protocol.ErrInvalidArgument, i, len(m.tags))
	}
	return m.tags[i], nil
}

// Raw returns PDU i's payload as received, in the sender's byte order. Null PDUs return nil.
// The slice aliases the message.
func (m *Message) Raw(i int) ([]byte, error) {
	tag, err := m.Tag(i)
	if err != nil {
		return nil, err
	}
	if tag.Null() {
		return nil, nil
	}
	return m.data[tag.Offset:tag.End():tag.End()], nil
}

func (m *Message) typed(i int, t pdu.Type) ([]byte, error) {
	tag, err := m.Tag(i)
	if err != nil {
		return nil, err
	}
	if tag.Type != t {
		return nil, fmt.Errorf("%w: pdu %d is %s, not %s", protocol.ErrTypeMismatch, i, tag.Type, t)
	}
	return m.Raw(i)
}

// Release drops the schema references taken by struct getters.
func (m *Message) Release() {
	for name, s := range m.held {
		s.Release()
		delete(m.held, name)
	}
}
