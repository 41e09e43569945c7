package message

import (
	"fmt"
	"net/netip"

	"github.com/danmuck/edgeipc/internal/protocol"
	"github.com/danmuck/edgeipc/internal/protocol/pdu"
)

func (m *Message) Int8(i int) (int8, error) {
	b, err := m.typed(i, pdu.TypeInt8)
	if err != nil {
		return 0, err
	}
	return int8(b[0]), nil
}

func (m *Message) Uint8(i int) (uint8, error) {
	b, err := m.typed(i, pdu.TypeUint8)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (m *Message) Int16(i int) (int16, error) {
	b, err := m.typed(i, pdu.TypeInt16)
	if err != nil {
		return 0, err
	}
	return pdu.DecodeInt16(b, m.flags), nil
}

func (m *Message) Uint16(i int) (uint16, error) {
	b, err := m.typed(i, pdu.TypeUint16)
	if err != nil {
		return 0, err
	}
	return pdu.DecodeUint16(b, m.flags), nil
}

func (m *Message) Int32(i int) (int32, error) {
	b, err := m.typed(i, pdu.TypeInt32)
	if err != nil {
		return 0, err
	}
	return pdu.DecodeInt32(b, m.flags), nil
}

func (m *Message) Uint32(i int) (uint32, error) {
	b, err := m.typed(i, pdu.TypeUint32)
	if err != nil {
		return 0, err
	}
	return pdu.DecodeUint32(b, m.flags), nil
}

func (m *Message) Int64(i int) (int64, error) {
	b, err := m.typed(i, pdu.TypeInt64)
	if err != nil {
		return 0, err
	}
	return pdu.DecodeInt64(b, m.flags), nil
}

func (m *Message) Uint64(i int) (uint64, error) {
	b, err := m.typed(i, pdu.TypeUint64)
	if err != nil {
		return 0, err
	}
	return pdu.DecodeUint64(b, m.flags), nil
}

func (m *Message) Float(i int) (float32, error) {
	b, err := m.typed(i, pdu.TypeFloat)
	if err != nil {
		return 0, err
	}
	return pdu.DecodeFloat(b, m.flags), nil
}

func (m *Message) Double(i int) (float64, error) {
	b, err := m.typed(i, pdu.TypeDouble)
	if err != nil {
		return 0, err
	}
	return pdu.DecodeDouble(b, m.flags), nil
}

func (m *Message) IPv4(i int) (netip.Addr, error) {
	b, err := m.typed(i, pdu.TypeIPv4)
	if err != nil {
		return netip.Addr{}, err
	}
	return pdu.DecodeIPv4(b), nil
}

func (m *Message) IPv6(i int) (netip.Addr, error) {
	b, err := m.typed(i, pdu.TypeIPv6)
	if err != nil {
		return netip.Addr{}, err
	}
	return pdu.DecodeIPv6(b), nil
}

// String returns PDU i without its terminator. A missing terminator makes the message
// malformed.
func (m *Message) String(i int) (string, error) {
	b, err := m.typed(i, pdu.TypeString)
	if err != nil {
		return "", err
	}
	if len(b) == 0 || b[len(b)-1] != 0 {
		return "", fmt.Errorf("%w: string pdu %d is not terminated", protocol.ErrProtocol, i)
	}
	return string(b[:len(b)-1]), nil
}

// Binary returns a copy of PDU i. A null PDU returns nil, an empty one a non-nil empty slice.
func (m *Message) Binary(i int) ([]byte, error) {
	b, err := m.typed(i, pdu.TypeBinary)
	if err != nil || b == nil {
		return nil, err
	}
	return append([]byte{}, b...), nil
}

func (m *Message) IsNull(i int) (bool, error) {
	tag, err := m.Tag(i)
	if err != nil {
		return false, err
	}
	return tag.Null(), nil
}
