package pdu

import (
	"encoding/binary"
	"math/bits"
)

// SwapFlags records which value classes a peer encodes in foreign byte order. Integers and floats
// are tracked separately because some architectures differ in int-vs-float native order.
type SwapFlags struct {
	Int   bool
	Float bool
}

func (f SwapFlags) Any() bool { return f.Int || f.Float }

var hostLittle = func() bool {
	var b [2]byte
	binary.NativeEndian.PutUint16(b[:], 1)
	return b[0] == 1
}()

// HostLittleEndian reports the integer byte order of this process.
func HostLittleEndian() bool { return hostLittle }

func foreignOrder() binary.ByteOrder {
	if hostLittle {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// IntOrder returns the byte order the peer used for integers.
func (f SwapFlags) IntOrder() binary.ByteOrder {
	if f.Int {
		return foreignOrder()
	}
	return binary.NativeEndian
}

// FloatOrder returns the byte order the peer used for floating point values.
func (f SwapFlags) FloatOrder() binary.ByteOrder {
	if f.Float {
		return foreignOrder()
	}
	return binary.NativeEndian
}

func (f SwapFlags) swaps(c orderClass) bool {
	switch c {
	case orderInt:
		return f.Int
	case orderFloat:
		return f.Float
	default:
		return false
	}
}

// SwapElements transcodes count contiguous elements of primitive type t from src into dst,
// reversing byte order when flags say the peer's order differs for t's class. Types with no
// multi-byte representation are copied raw. dst and src may be the same slice.
func SwapElements(t Type, dst, src []byte, count int, flags SwapFlags) {
	if !t.Primitive() || count <= 0 {
		return
	}
	info := typeTable[t]
	n := int(info.size) * count
	copy(dst[:n], src[:n])
	if !flags.swaps(info.order) {
		return
	}
	switch info.size {
	case 2:
		for off := 0; off < n; off += 2 {
			v := binary.NativeEndian.Uint16(dst[off:])
			binary.NativeEndian.PutUint16(dst[off:], bits.ReverseBytes16(v))
		}
	case 4:
		for off := 0; off < n; off += 4 {
			v := binary.NativeEndian.Uint32(dst[off:])
			binary.NativeEndian.PutUint32(dst[off:], bits.ReverseBytes32(v))
		}
	case 8:
		for off := 0; off < n; off += 8 {
			v := binary.NativeEndian.Uint64(dst[off:])
			binary.NativeEndian.PutUint64(dst[off:], bits.ReverseBytes64(v))
		}
	}
}

// CanSwap reports whether t has a byte-order dependent representation.
func CanSwap(t Type) bool {
	return t.Valid() && typeTable[t].order != orderNone && typeTable[t].size > 1
}
