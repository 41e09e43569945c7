package stream

import (
	"fmt"
	"net/netip"

	"github.com/danmuck/edgeipc/internal/protocol/eventmask"
	"github.com/danmuck/edgeipc/internal/protocol/pdu"
	"github.com/danmuck/edgeipc/internal/protocol/structs"
)

func (s *Stream) AppendInt8(v int8) error     { return s.Append(pdu.NewInt8(v)) }
func (s *Stream) AppendUint8(v uint8) error   { return s.Append(pdu.NewUint8(v)) }
func (s *Stream) AppendInt16(v int16) error   { return s.Append(pdu.NewInt16(v)) }
func (s *Stream) AppendUint16(v uint16) error { return s.Append(pdu.NewUint16(v)) }
func (s *Stream) AppendInt32(v int32) error   { return s.Append(pdu.NewInt32(v)) }
func (s *Stream) AppendUint32(v uint32) error { return s.Append(pdu.NewUint32(v)) }
func (s *Stream) AppendInt64(v int64) error   { return s.Append(pdu.NewInt64(v)) }
func (s *Stream) AppendUint64(v uint64) error { return s.Append(pdu.NewUint64(v)) }
func (s *Stream) AppendFloat(v float32) error { return s.Append(pdu.NewFloat(v)) }
func (s *Stream) AppendDouble(v float64) error {
	return s.Append(pdu.NewDouble(v))
}

func (s *Stream) AppendIPv4(addr netip.Addr) error {
	p, err := pdu.NewIPv4(addr)
	if err != nil {
		return err
	}
	return s.Append(p)
}

func (s *Stream) AppendIPv6(addr netip.Addr) error {
	p, err := pdu.NewIPv6(addr)
	if err != nil {
		return err
	}
	return s.Append(p)
}

// AppendString sends v with a terminating NUL.
func (s *Stream) AppendString(v string) error { return s.Append(pdu.NewString(v)) }

// AppendBinary sends a copy of b. A nil b is sent as a null BINARY, distinct from an empty one.
func (s *Stream) AppendBinary(b []byte) error { return s.Append(pdu.NewBinary(b)) }

func (s *Stream) AppendNull() error { return s.Append(pdu.NewNull()) }

// AppendStruct resolves name in the stream's catalogue, checks the caller's view of the layout
// (len(data), align and sig) against the loaded schema, and appends a copy of data.
func (s *Stream) AppendStruct(name string, align uint32, sig pdu.Signature, data []byte) error {
	if err := s.ready(); err != nil {
		return err
	}
	schema, err := s.cat.Lookup(name)
	if err != nil {
		return err
	}
	if err := schema.Check(uint32(len(data)), align, sig); err != nil {
		return err
	}
	return s.AppendStructSchema(schema, data)
}

// AppendStructSchema appends host-order data for an already resolved schema.
func (s *Stream) AppendStructSchema(schema *structs.Schema, data []byte) error {
	if err := s.ready(); err != nil {
		return err
	}
	p, err := pdu.NewStruct(schema.Operations(), data)
	if err != nil {
		return err
	}
	return s.Append(p)
}

func (s *Stream) AppendValue(v *structs.Value) error {
	return s.AppendStructSchema(v.Schema(), v.Bytes())
}

// AppendEventMask encodes set as a UINT32 entry count followed by a STRING name and UINT64 mask
// per entry.
func (s *Stream) AppendEventMask(set *eventmask.Set) error {
	if err := s.AppendUint32(uint32(set.Len())); err != nil {
		return err
	}
	var err error
	set.Range(func(name string, mask eventmask.Mask) bool {
		if err = s.AppendString(name); err == nil {
			err = s.AppendUint64(uint64(mask))
		}
		return err == nil
	})
	if err != nil {
		return fmt.Errorf("event mask: %w", err)
	}
	return nil
}
