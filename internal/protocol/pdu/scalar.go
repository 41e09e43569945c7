package pdu

import (
	"encoding/binary"
	"fmt"
	"math"
	"net/netip"

	"github.com/danmuck/edgeipc/internal/protocol"
)

func newScalar(t Type) *PDU {
	p := &PDU{Tag: Tag{Type: t, Size: t.FixedSize()}, ops: primitives[t]}
	return p
}

func NewInt8(v int8) *PDU {
	p := newScalar(TypeInt8)
	p.scalar[0] = byte(v)
	return p
}

func NewUint8(v uint8) *PDU {
	p := newScalar(TypeUint8)
	p.scalar[0] = v
	return p
}

func NewInt16(v int16) *PDU {
	p := newScalar(TypeInt16)
	binary.NativeEndian.PutUint16(p.scalar[:], uint16(v))
	return p
}

func NewUint16(v uint16) *PDU {
	p := newScalar(TypeUint16)
	binary.NativeEndian.PutUint16(p.scalar[:], v)
	return p
}

func NewInt32(v int32) *PDU {
	p := newScalar(TypeInt32)
	binary.NativeEndian.PutUint32(p.scalar[:], uint32(v))
	return p
}

func NewUint32(v uint32) *PDU {
	p := newScalar(TypeUint32)
	binary.NativeEndian.PutUint32(p.scalar[:], v)
	return p
}

func NewInt64(v int64) *PDU {
	p := newScalar(TypeInt64)
	binary.NativeEndian.PutUint64(p.scalar[:], uint64(v))
	return p
}

func NewUint64(v uint64) *PDU {
	p := newScalar(TypeUint64)
	binary.NativeEndian.PutUint64(p.scalar[:], v)
	return p
}

func NewFloat(v float32) *PDU {
	p := newScalar(TypeFloat)
	binary.NativeEndian.PutUint32(p.scalar[:], math.Float32bits(v))
	return p
}

func NewDouble(v float64) *PDU {
	p := newScalar(TypeDouble)
	binary.NativeEndian.PutUint64(p.scalar[:], math.Float64bits(v))
	return p
}

// NewIPv4 stores addr in network byte order.
func NewIPv4(addr netip.Addr) (*PDU, error) {
	if !addr.Is4() {
		return nil, fmt.Errorf("%w: %s is not an ipv4 address", protocol.ErrInvalidArgument, addr)
	}
	p := newScalar(TypeIPv4)
	a := addr.As4()
	copy(p.scalar[:], a[:])
	return p, nil
}

// NewIPv6 stores addr in network byte order. IPv4 addresses are stored in their mapped form.
func NewIPv6(addr netip.Addr) (*PDU, error) {
	if !addr.IsValid() {
		return nil, fmt.Errorf("%w: invalid ipv6 address", protocol.ErrInvalidArgument)
	}
	p := newScalar(TypeIPv6)
	a := addr.As16()
	copy(p.scalar[:], a[:])
	return p, nil
}

// NewString stores s followed by its terminating NUL.
func NewString(s string) *PDU {
	p := &PDU{Tag: Tag{Type: TypeString}, ops: primitives[TypeString]}
	b := make([]byte, len(s)+1)
	copy(b, s)
	p.adopt(b)
	return p
}

// NewBinary stores a private copy of b. A nil b produces a null BINARY PDU, distinct from an
// empty one.
func NewBinary(b []byte) *PDU {
	p := &PDU{Tag: Tag{Type: TypeBinary}, ops: primitives[TypeBinary]}
	p.SetData(b)
	return p
}

func NewNull() *PDU {
	return &PDU{Tag: Tag{Type: TypeNull, Flags: FlagNull}, ops: primitives[TypeNull]}
}

// Decoders read one value of the named type from b, which must hold at least the type's fixed
// size, in the byte order described by flags.

func DecodeInt16(b []byte, flags SwapFlags) int16 {
	return int16(flags.IntOrder().Uint16(b))
}

func DecodeUint16(b []byte, flags SwapFlags) uint16 {
	return flags.IntOrder().Uint16(b)
}

func DecodeInt32(b []byte, flags SwapFlags) int32 {
	return int32(flags.IntOrder().Uint32(b))
}

func DecodeUint32(b []byte, flags SwapFlags) uint32 {
	return flags.IntOrder().Uint32(b)
}

func DecodeInt64(b []byte, flags SwapFlags) int64 {
	return int64(flags.IntOrder().Uint64(b))
}

func DecodeUint64(b []byte, flags SwapFlags) uint64 {
	return flags.IntOrder().Uint64(b)
}

func DecodeFloat(b []byte, flags SwapFlags) float32 {
	return math.Float32frombits(flags.FloatOrder().Uint32(b))
}

func DecodeDouble(b []byte, flags SwapFlags) float64 {
	return math.Float64frombits(flags.FloatOrder().Uint64(b))
}

func DecodeIPv4(b []byte) netip.Addr {
	return netip.AddrFrom4([4]byte(b[:4]))
}

func DecodeIPv6(b []byte) netip.Addr {
	return netip.AddrFrom16([16]byte(b[:16]))
}
