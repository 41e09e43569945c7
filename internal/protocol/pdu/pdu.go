package pdu

import (
	"fmt"
	"io"

	"github.com/danmuck/edgeipc/internal/protocol"
)

// Operations is the per-type behavior every PDU dispatches through. Primitive types share a
// static table; each loaded struct type gets its own record from InstallStructOperations.
type Operations interface {
	Type() Type
	// Size is the element size when the type is used as a struct field.
	Size() uint32
	// Align is 0 for types that cannot be aggregate fields.
	Align() uint32
	// Write serializes the PDU payload. Empty payloads write nothing.
	Write(w io.Writer, p *PDU) error
	// CanSwap is false when the type needs no byte swapping.
	CanSwap() bool
	// Swap transcodes count elements from src into dst.
	Swap(dst, src []byte, count int, flags SwapFlags)
	// Copy deep-copies a received payload into dst, converting it to host order. A nil src means
	// the received PDU was null.
	Copy(dst *PDU, src []byte, flags SwapFlags) error
	// Destroy releases anything p holds.
	Destroy(p *PDU)
}

// PDU is one outbound protocol data unit. Fixed-width payloads are held inline; STRING, BINARY
// and STRUCT payloads own a private buffer.
type PDU struct {
	Tag    Tag
	scalar [16]byte
	data   []byte
	ops    Operations
}

// New allocates a PDU of a primitive, string, binary or null type with a zeroed payload.
// Struct PDUs are created with NewWithOperations.
func New(t Type) (*PDU, error) {
	ops, err := OperationsFor(t)
	if err != nil {
		return nil, err
	}
	return &PDU{Tag: Tag{Type: t}, ops: ops}, nil
}

// NewWithOperations allocates a PDU bound to ops, typically a struct operations record.
func NewWithOperations(ops Operations) *PDU {
	return &PDU{Tag: Tag{Type: ops.Type()}, ops: ops}
}

func (p *PDU) Operations() Operations { return p.ops }

func (p *PDU) IsNull() bool { return p.Tag.Null() }

// Payload returns the host-order payload bytes. Null PDUs return nil.
func (p *PDU) Payload() []byte {
	if p.Tag.Null() {
		return nil
	}
	if n := p.Tag.Type.FixedSize(); n > 0 {
		return p.scalar[:n]
	}
	return p.data
}

// Write serializes p through its type operations.
func (p *PDU) Write(w io.Writer) error {
	return p.ops.Write(w, p)
}

// Destroy releases p's payload and any schema reference it holds.
func (p *PDU) Destroy() {
	if p.ops != nil {
		p.ops.Destroy(p)
	}
}

// SetData replaces a variable-length payload with a private copy of b. A nil b marks the PDU null.
func (p *PDU) SetData(b []byte) {
	if b == nil {
		p.data = nil
		p.Tag.Flags |= FlagNull
		p.Tag.Size = 0
		return
	}
	p.data = make([]byte, len(b))
	copy(p.data, b)
	p.Tag.Flags &^= FlagNull
	p.Tag.Size = uint32(len(b))
}

// adopt takes ownership of b without copying.
func (p *PDU) adopt(b []byte) {
	p.data = b
	p.Tag.Flags &^= FlagNull
	p.Tag.Size = uint32(len(b))
}

type primitiveOps struct {
	t Type
}

var primitives [typeCount]Operations

func init() {
	for t := TypeInt8; t < TypeStruct; t++ {
		primitives[t] = primitiveOps{t: t}
	}
}

// OperationsFor returns the static operations record of a non-struct type.
func OperationsFor(t Type) (Operations, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: unknown pdu type %d", protocol.ErrInvalidArgument, uint8(t))
	}
	if t == TypeStruct {
		return nil, fmt.Errorf("%w: struct operations are per schema", protocol.ErrInvalidArgument)
	}
	return primitives[t], nil
}

func (o primitiveOps) Type() Type    { return o.t }
func (o primitiveOps) Size() uint32  { return o.t.FixedSize() }
func (o primitiveOps) Align() uint32 { return o.t.Align() }
func (o primitiveOps) CanSwap() bool { return CanSwap(o.t) }

func (o primitiveOps) Write(w io.Writer, p *PDU) error {
	b := p.Payload()
	if len(b) == 0 {
		return nil
	}
	_, err := w.Write(b)
	return err
}

func (o primitiveOps) Swap(dst, src []byte, count int, flags SwapFlags) {
	SwapElements(o.t, dst, src, count, flags)
}

func (o primitiveOps) Copy(dst *PDU, src []byte, flags SwapFlags) error {
	dst.Tag.Type = o.t
	dst.ops = o
	if n := o.t.FixedSize(); n > 0 {
		if uint32(len(src)) != n {
			return fmt.Errorf("%w: %s payload is %d bytes, want %d", protocol.ErrProtocol, o.t, len(src), n)
		}
		SwapElements(o.t, dst.scalar[:n], src, 1, flags)
		dst.Tag.Size = n
		dst.Tag.Flags &^= FlagNull
		return nil
	}
	switch o.t {
	case TypeNull:
		dst.data = nil
		dst.Tag.Size = 0
		dst.Tag.Flags |= FlagNull
	case TypeString:
		if len(src) == 0 || src[len(src)-1] != 0 {
			return fmt.Errorf("%w: unterminated string payload", protocol.ErrProtocol)
		}
		dst.SetData(src)
	default:
		dst.SetData(src)
	}
	return nil
}

func (o primitiveOps) Destroy(p *PDU) {
	p.data = nil
}
