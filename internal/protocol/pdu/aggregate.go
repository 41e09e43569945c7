package pdu

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/danmuck/edgeipc/internal/protocol"
)

const (
	// SignatureLen is the length of a layout signature: an ASCII hex digest.
	SignatureLen = 64
	// MaxStructNameLen bounds struct type names on the wire and in schema files.
	MaxStructNameLen = 255
)

// Signature is a struct layout signature. It detects version skew between peers and is not a
// security mechanism.
type Signature [SignatureLen]byte

func (s Signature) String() string { return string(s[:]) }

func (s Signature) IsZero() bool { return s == Signature{} }

// ParseSignature accepts a 64 character lowercase hex digest.
func ParseSignature(v string) (Signature, error) {
	var sig Signature
	if len(v) != SignatureLen {
		return sig, fmt.Errorf("%w: signature length %d", protocol.ErrInvalidArgument, len(v))
	}
	if _, err := hex.DecodeString(v); err != nil {
		return sig, fmt.Errorf("%w: signature is not hex", protocol.ErrInvalidArgument)
	}
	copy(sig[:], v)
	return sig, nil
}

// Aggregate is the view of a struct schema the pdu layer needs to build struct operations.
type Aggregate interface {
	Name() string
	Size() uint32
	Align() uint32
	Signature() Signature
	// SwapFields transcodes one struct instance field by field.
	SwapFields(dst, src []byte, flags SwapFlags)
	Acquire()
	Release()
}

type structOps struct {
	agg Aggregate
}

// InstallStructOperations synthesizes the operations record for an aggregate type.
func InstallStructOperations(a Aggregate) Operations {
	return structOps{agg: a}
}

func (o structOps) Type() Type    { return TypeStruct }
func (o structOps) Size() uint32  { return o.agg.Size() }
func (o structOps) Align() uint32 { return o.agg.Align() }
func (o structOps) CanSwap() bool { return true }

func (o structOps) Write(w io.Writer, p *PDU) error {
	if len(p.data) == 0 {
		return nil
	}
	_, err := w.Write(p.data)
	return err
}

func (o structOps) Swap(dst, src []byte, count int, flags SwapFlags) {
	size := int(o.agg.Size())
	for i := 0; i < count; i++ {
		o.agg.SwapFields(dst[i*size:(i+1)*size], src[i*size:(i+1)*size], flags)
	}
}

func (o structOps) Copy(dst *PDU, src []byte, flags SwapFlags) error {
	name, sig, body, err := DecodeStructPrefix(src)
	if err != nil {
		return err
	}
	if name != o.agg.Name() {
		return fmt.Errorf("%w: struct %q copied as %q", protocol.ErrSchemaMismatch, name, o.agg.Name())
	}
	if sig != o.agg.Signature() {
		return fmt.Errorf("%w: struct %q signature differs", protocol.ErrSchemaMismatch, name)
	}
	if uint32(len(body)) != o.agg.Size() {
		return fmt.Errorf("%w: struct %q body is %d bytes, want %d", protocol.ErrProtocol, name, len(body), o.agg.Size())
	}
	payload := EncodeStructPrefix(name, sig, body)
	prefix := len(payload) - len(body)
	o.agg.SwapFields(payload[prefix:], body, flags)
	dst.Tag.Type = TypeStruct
	dst.ops = o
	dst.adopt(payload)
	o.agg.Acquire()
	return nil
}

func (o structOps) Destroy(p *PDU) {
	if p.data != nil {
		p.data = nil
		o.agg.Release()
	}
}

// NewStruct builds a struct PDU for agg from host-order body bytes, taking one schema reference.
func NewStruct(ops Operations, body []byte) (*PDU, error) {
	so, ok := ops.(structOps)
	if !ok {
		return nil, fmt.Errorf("%w: %s operations are not struct operations", protocol.ErrInvalidArgument, ops.Type())
	}
	if uint32(len(body)) != so.agg.Size() {
		return nil, fmt.Errorf("%w: struct %q body is %d bytes, want %d", protocol.ErrInvalidArgument, so.agg.Name(), len(body), so.agg.Size())
	}
	p := NewWithOperations(ops)
	p.adopt(EncodeStructPrefix(so.agg.Name(), so.agg.Signature(), body))
	so.agg.Acquire()
	return p, nil
}

// StructPrefixLen is the size of the self-describing header ahead of struct bytes.
func StructPrefixLen(name string) int { return 1 + len(name) + SignatureLen }

// EncodeStructPrefix returns [len(name)][name][signature][body] in a fresh buffer.
func EncodeStructPrefix(name string, sig Signature, body []byte) []byte {
	out := make([]byte, StructPrefixLen(name)+len(body))
	out[0] = byte(len(name))
	n := 1 + copy(out[1:], name)
	n += copy(out[n:], sig[:])
	copy(out[n:], body)
	return out
}

// DecodeStructPrefix splits a struct payload into its embedded name, signature and body. The
// body aliases b.
func DecodeStructPrefix(b []byte) (string, Signature, []byte, error) {
	var sig Signature
	if len(b) < 1 {
		return "", sig, nil, fmt.Errorf("%w: empty struct payload", protocol.ErrProtocol)
	}
	nameLen := int(b[0])
	if nameLen == 0 || len(b) < 1+nameLen+SignatureLen {
		return "", sig, nil, fmt.Errorf("%w: bad struct name length %d", protocol.ErrProtocol, nameLen)
	}
	name := string(b[1 : 1+nameLen])
	copy(sig[:], b[1+nameLen:])
	return name, sig, b[1+nameLen+SignatureLen:], nil
}
