package structs

import (
	"encoding/binary"
	"fmt"
	"math"
	"net/netip"

	"github.com/danmuck/edgeipc/internal/protocol"
	"github.com/danmuck/edgeipc/internal/protocol/pdu"
)

// Value is a typed view over one host-order struct instance.
type Value struct {
	schema *Schema
	data   []byte
}

// NewValue allocates a zeroed instance of s.
func NewValue(s *Schema) *Value {
	return &Value{schema: s, data: make([]byte, s.size)}
}

// ValueOf wraps data without copying. data must be exactly one instance of s.
func ValueOf(s *Schema, data []byte) (*Value, error) {
	if uint32(len(data)) != s.size {
		return nil, fmt.Errorf("%w: struct %s is %d bytes, got %d", protocol.ErrInvalidArgument, s.name, s.size, len(data))
	}
	return &Value{schema: s, data: data}, nil
}

func (v *Value) Schema() *Schema { return v.schema }
func (v *Value) Bytes() []byte   { return v.data }

func (v *Value) slot(name string, index int) (FieldInfo, []byte, error) {
	f, err := v.schema.Field(name)
	if err != nil {
		return FieldInfo{}, nil, err
	}
	if index < 0 || uint64(index) >= uint64(f.Count()) {
		return FieldInfo{}, nil, &FieldError{Path: fmt.Sprintf("%s[%d]", name, index), Err: fmt.Errorf("%w: index out of range", protocol.ErrInvalidArgument)}
	}
	off := f.Offset + uint32(index)*f.Size
	return f, v.data[off : off+f.Size], nil
}

func mismatch(name string, got pdu.Type, want string) error {
	return &FieldError{Path: name, Err: fmt.Errorf("%w: field is %s, not %s", protocol.ErrTypeMismatch, got, want)}
}

func (v *Value) Int(name string, index int) (int64, error) {
	f, b, err := v.slot(name, index)
	if err != nil {
		return 0, err
	}
	ne := binary.NativeEndian
	switch f.Type {
	case pdu.TypeInt8:
		return int64(int8(b[0])), nil
	case pdu.TypeInt16:
		return int64(int16(ne.Uint16(b))), nil
	case pdu.TypeInt32:
		return int64(int32(ne.Uint32(b))), nil
	case pdu.TypeInt64:
		return int64(ne.Uint64(b)), nil
	}
	return 0, mismatch(name, f.Type, "a signed integer")
}

func (v *Value) Uint(name string, index int) (uint64, error) {
	f, b, err := v.slot(name, index)
	if err != nil {
		return 0, err
	}
	ne := binary.NativeEndian
	switch f.Type {
	case pdu.TypeUint8:
		return uint64(b[0]), nil
	case pdu.TypeUint16:
		return uint64(ne.Uint16(b)), nil
	case pdu.TypeUint32:
		return uint64(ne.Uint32(b)), nil
	case pdu.TypeUint64:
		return ne.Uint64(b), nil
	}
	return 0, mismatch(name, f.Type, "an unsigned integer")
}

func (v *Value) Float(name string, index int) (float64, error) {
	f, b, err := v.slot(name, index)
	if err != nil {
		return 0, err
	}
	switch f.Type {
	case pdu.TypeFloat:
		return float64(math.Float32frombits(binary.NativeEndian.Uint32(b))), nil
	case pdu.TypeDouble:
		return math.Float64frombits(binary.NativeEndian.Uint64(b)), nil
	}
	return 0, mismatch(name, f.Type, "a float")
}

func (v *Value) IP(name string, index int) (netip.Addr, error) {
	f, b, err := v.slot(name, index)
	if err != nil {
		return netip.Addr{}, err
	}
	switch f.Type {
	case pdu.TypeIPv4:
		return pdu.DecodeIPv4(b), nil
	case pdu.TypeIPv6:
		return pdu.DecodeIPv6(b), nil
	}
	return netip.Addr{}, mismatch(name, f.Type, "an address")
}

// Struct returns a view of a nested struct field. The view aliases v.
func (v *Value) Struct(name string, index int) (*Value, error) {
	f, b, err := v.slot(name, index)
	if err != nil {
		return nil, err
	}
	if f.Struct == nil {
		return nil, mismatch(name, f.Type, "a struct")
	}
	return &Value{schema: f.Struct, data: b}, nil
}

func outOfRange(name string, val any, t pdu.Type) error {
	return &FieldError{Path: name, Err: fmt.Errorf("%w: %v overflows %s", protocol.ErrInvalidArgument, val, t)}
}

func (v *Value) SetInt(name string, index int, val int64) error {
	f, b, err := v.slot(name, index)
	if err != nil {
		return err
	}
	ne := binary.NativeEndian
	switch f.Type {
	case pdu.TypeInt8:
		if val < math.MinInt8 || val > math.MaxInt8 {
			return outOfRange(name, val, f.Type)
		}
		b[0] = byte(int8(val))
	case pdu.TypeInt16:
		if val < math.MinInt16 || val > math.MaxInt16 {
			return outOfRange(name, val, f.Type)
		}
		ne.PutUint16(b, uint16(int16(val)))
	case pdu.TypeInt32:
		if val < math.MinInt32 || val > math.MaxInt32 {
			return outOfRange(name, val, f.Type)
		}
		ne.PutUint32(b, uint32(int32(val)))
	case pdu.TypeInt64:
		ne.PutUint64(b, uint64(val))
	default:
		return mismatch(name, f.Type, "a signed integer")
	}
	return nil
}

func (v *Value) SetUint(name string, index int, val uint64) error {
	f, b, err := v.slot(name, index)
	if err != nil {
		return err
	}
	ne := binary.NativeEndian
	switch f.Type {
	case pdu.TypeUint8:
		if val > math.MaxUint8 {
			return outOfRange(name, val, f.Type)
		}
		b[0] = byte(val)
	case pdu.TypeUint16:
		if val > math.MaxUint16 {
			return outOfRange(name, val, f.Type)
		}
		ne.PutUint16(b, uint16(val))
	case pdu.TypeUint32:
		if val > math.MaxUint32 {
			return outOfRange(name, val, f.Type)
		}
		ne.PutUint32(b, uint32(val))
	case pdu.TypeUint64:
		ne.PutUint64(b, val)
	default:
		return mismatch(name, f.Type, "an unsigned integer")
	}
	return nil
}

func (v *Value) SetFloat(name string, index int, val float64) error {
	f, b, err := v.slot(name, index)
	if err != nil {
		return err
	}
	switch f.Type {
	case pdu.TypeFloat:
		binary.NativeEndian.PutUint32(b, math.Float32bits(float32(val)))
	case pdu.TypeDouble:
		binary.NativeEndian.PutUint64(b, math.Float64bits(val))
	default:
		return mismatch(name, f.Type, "a float")
	}
	return nil
}

func (v *Value) SetIP(name string, index int, addr netip.Addr) error {
	f, b, err := v.slot(name, index)
	if err != nil {
		return err
	}
	switch {
	case f.Type == pdu.TypeIPv4 && addr.Is4():
		a := addr.As4()
		copy(b, a[:])
	case f.Type == pdu.TypeIPv6 && addr.IsValid():
		a := addr.As16()
		copy(b, a[:])
	case f.Type == pdu.TypeIPv4 || f.Type == pdu.TypeIPv6:
		return &FieldError{Path: name, Err: fmt.Errorf("%w: %v does not fit %s", protocol.ErrInvalidArgument, addr, f.Type)}
	default:
		return mismatch(name, f.Type, "an address")
	}
	return nil
}
