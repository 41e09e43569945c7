// Package frame encodes the fixed sections of a wire message: the meta header and the packed
// tag array. Integers are written in the sender's byte order; decoders take the order the
// peer announced.
package frame

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"github.com/pbnjay/memory"

	"github.com/danmuck/edgeipc/internal/protocol"
	"github.com/danmuck/edgeipc/internal/protocol/pdu"
)

// MetaSize is the wire size of the meta header.
const MetaSize = 12

var (
	ErrShortMeta = fmt.Errorf("frame: short meta header: %w", protocol.ErrProtocol)
	ErrShortTag  = fmt.Errorf("frame: short tag: %w", protocol.ErrProtocol)
	ErrBadMode   = fmt.Errorf("frame: unknown transfer mode: %w", protocol.ErrProtocol)
)

// Mode is the transfer mode carried in the meta header.
type Mode uint8

const (
	ModeRequest Mode = 0
	ModeEvent   Mode = 1
)

func (m Mode) String() string {
	switch m {
	case ModeRequest:
		return "request"
	case ModeEvent:
		return "event"
	default:
		return "mode(" + strconv.Itoa(int(m)) + ")"
	}
}

// Meta is the message header.
//
//	0 ------ 4 ------- 8 ---- 9 -------- 12
//	| count  | total   | mode | reserved |
type Meta struct {
	Count     uint32
	TotalSize uint32
	Mode      Mode
}

func EncodeMeta(order binary.ByteOrder, m Meta) []byte {
	buf := make([]byte, MetaSize)
	order.PutUint32(buf[0:4], m.Count)
	order.PutUint32(buf[4:8], m.TotalSize)
	buf[8] = byte(m.Mode)
	return buf
}

func DecodeMeta(order binary.ByteOrder, b []byte) (Meta, error) {
	if len(b) < MetaSize {
		return Meta{}, ErrShortMeta
	}
	m := Meta{
		Count:     order.Uint32(b[0:4]),
		TotalSize: order.Uint32(b[4:8]),
		Mode:      Mode(b[8]),
	}
	if m.Mode != ModeRequest && m.Mode != ModeEvent {
		return Meta{}, ErrBadMode
	}
	return m, nil
}

func PutTag(order binary.ByteOrder, b []byte, t pdu.Tag) {
	b[0] = byte(t.Type)
	b[1] = byte(t.Flags)
	b[2], b[3] = 0, 0
	order.PutUint32(b[4:8], t.Size)
	order.PutUint32(b[8:12], t.Offset)
}

// EncodeTags packs tags into one contiguous array.
func EncodeTags(order binary.ByteOrder, tags []pdu.Tag) []byte {
	buf := make([]byte, len(tags)*pdu.TagSize)
	for i, t := range tags {
		PutTag(order, buf[i*pdu.TagSize:], t)
	}
	return buf
}

// DecodeTag reads one tag. Type validity is left to the caller.
func DecodeTag(order binary.ByteOrder, b []byte) (pdu.Tag, error) {
	if len(b) < pdu.TagSize {
		return pdu.Tag{}, ErrShortTag
	}
	return pdu.Tag{
		Type:   pdu.Type(b[0]),
		Flags:  pdu.Flags(b[1]),
		Size:   order.Uint32(b[4:8]),
		Offset: order.Uint32(b[8:12]),
	}, nil
}

// Limits constrains per-message memory use.
type Limits struct {
	MaxMessageBytes uint64
	MaxPDUs         uint32
}

// PlatformMaxMessage is the largest payload a message can declare on this host: the 32-bit
// total size field, capped further on 32-bit hosts.
func PlatformMaxMessage() uint64 {
	if strconv.IntSize == 32 {
		return math.MaxInt32
	}
	return math.MaxUint32
}

// DefaultLimits caps a message at the platform maximum or half of system memory, whichever is
// smaller.
func DefaultLimits() Limits {
	maxBytes := PlatformMaxMessage()
	if total := memory.TotalMemory(); total > 0 && total/2 < maxBytes {
		maxBytes = total / 2
	}
	return Limits{
		MaxMessageBytes: maxBytes,
		MaxPDUs:         uint32(min(maxBytes/pdu.TagSize, math.MaxUint32)),
	}
}

func (l Limits) orDefault() Limits {
	if l.MaxMessageBytes == 0 && l.MaxPDUs == 0 {
		return DefaultLimits()
	}
	return l
}

// CheckMeta rejects headers that would exceed the limits before anything is allocated.
func (l Limits) CheckMeta(m Meta) error {
	l = l.orDefault()
	if l.MaxPDUs > 0 && m.Count > l.MaxPDUs {
		return fmt.Errorf("%w: %d pdus, limit %d", protocol.ErrMessageTooLarge, m.Count, l.MaxPDUs)
	}
	if l.MaxMessageBytes > 0 && uint64(m.TotalSize) > l.MaxMessageBytes {
		return fmt.Errorf("%w: %d payload bytes, limit %d", protocol.ErrMessageTooLarge, m.TotalSize, l.MaxMessageBytes)
	}
	if l.MaxMessageBytes > 0 && uint64(m.Count)*pdu.TagSize > l.MaxMessageBytes {
		return fmt.Errorf("%w: %d tags exceed %d bytes", protocol.ErrMessageTooLarge, m.Count, l.MaxMessageBytes)
	}
	return nil
}

// CheckTotal reports whether a payload of total bytes is allowed.
func (l Limits) CheckTotal(total uint64) error {
	l = l.orDefault()
	limit := min(l.MaxMessageBytes, PlatformMaxMessage())
	if limit == 0 {
		limit = PlatformMaxMessage()
	}
	if total > limit {
		return fmt.Errorf("%w: %d payload bytes, limit %d", protocol.ErrMessageTooLarge, total, limit)
	}
	return nil
}
