package message

import (
	"fmt"
	"unsafe"

	"github.com/danmuck/edgeipc/internal/protocol"
	"github.com/danmuck/edgeipc/internal/protocol/eventmask"
	"github.com/danmuck/edgeipc/internal/protocol/pdu"
	"github.com/danmuck/edgeipc/internal/protocol/structs"
)

// StructName returns the type name embedded in struct PDU i without resolving it.
func (m *Message) StructName(i int) (string, error) {
	b, err := m.typed(i, pdu.TypeStruct)
	if err != nil {
		return "", err
	}
	name, _, _, err := pdu.DecodeStructPrefix(b)
	if err != nil {
		return "", fmt.Errorf("pdu %d: %w", i, err)
	}
	return name, nil
}

// resolveStruct authenticates struct PDU i against the local catalogue and returns its schema
// and the raw body. The embedded name must equal name and the embedded signature must equal the
// local one; a non-zero sig must match too.
func (m *Message) resolveStruct(i int, name string, sig pdu.Signature) (*structs.Schema, []byte, error) {
	b, err := m.typed(i, pdu.TypeStruct)
	if err != nil {
		return nil, nil, err
	}
	embedded, embeddedSig, body, err := pdu.DecodeStructPrefix(b)
	if err != nil {
		return nil, nil, fmt.Errorf("pdu %d: %w", i, err)
	}
	if embedded != name {
		return nil, nil, fmt.Errorf("%w: pdu %d carries struct %q, not %q", protocol.ErrSchemaMismatch, i, embedded, name)
	}
	s, err := m.schema(name)
	if err != nil {
		return nil, nil, err
	}
	if embeddedSig != s.Signature() {
		return nil, nil, fmt.Errorf("%w: pdu %d struct %s signature %.12s differs from local %.12s", protocol.ErrSchemaMismatch, i, name, embeddedSig.String(), s.Signature().String())
	}
	if !sig.IsZero() && sig != s.Signature() {
		return nil, nil, fmt.Errorf("%w: caller expects a different %s layout", protocol.ErrSchemaMismatch, name)
	}
	if uint32(len(body)) != s.Size() {
		return nil, nil, fmt.Errorf("%w: pdu %d struct %s body is %d bytes, want %d", protocol.ErrProtocol, i, name, len(body), s.Size())
	}
	return s, body, nil
}

// schema resolves name once per message and holds a reference until Release.
func (m *Message) schema(name string) (*structs.Schema, error) {
	if s, ok := m.held[name]; ok {
		return s, nil
	}
	s, err := m.cat.Lookup(name)
	if err != nil {
		return nil, err
	}
	s.Acquire()
	if m.held == nil {
		m.held = make(map[string]*structs.Schema)
	}
	m.held[name] = s
	return s, nil
}

// Struct returns a host-order copy of struct PDU i.
func (m *Message) Struct(i int, name string, sig pdu.Signature) (*structs.Value, error) {
	s, body, err := m.resolveStruct(i, name, sig)
	if err != nil {
		return nil, err
	}
	v := structs.NewValue(s)
	s.SwapFields(v.Bytes(), body, m.flags)
	return v, nil
}

// StructInto copies struct PDU i into dst in host order. dst must be exactly the struct size
// and aligned to the struct alignment.
func (m *Message) StructInto(i int, name string, sig pdu.Signature, dst []byte) error {
	s, body, err := m.resolveStruct(i, name, sig)
	if err != nil {
		return err
	}
	if uint32(len(dst)) != s.Size() {
		return fmt.Errorf("%w: buffer is %d bytes, struct %s needs %d", protocol.ErrInvalidArgument, len(dst), name, s.Size())
	}
	if addr := uintptr(unsafe.Pointer(unsafe.SliceData(dst))); addr%uintptr(s.Align()) != 0 {
		return fmt.Errorf("%w: buffer at %#x, struct %s aligns to %d", protocol.ErrAlignment, addr, name, s.Align())
	}
	s.SwapFields(dst, body, m.flags)
	return nil
}

// EventMask decodes an event mask set starting at PDU begin: a UINT32 entry count followed by
// one STRING name and UINT64 mask per entry. It returns the index after the last PDU used.
func (m *Message) EventMask(begin int) (*eventmask.Set, int, error) {
	n, err := m.Uint32(begin)
	if err != nil {
		return nil, begin, fmt.Errorf("event mask count: %w", err)
	}
	if uint64(begin)+1+2*uint64(n) > uint64(m.Len()) {
		return nil, begin, fmt.Errorf("%w: event mask of %d entries overruns %d pdus", protocol.ErrProtocol, n, m.Len())
	}
	set := eventmask.NewSetWithLimit(m.maxEvents)
	i := begin + 1
	for k := uint32(0); k < n; k++ {
		name, err := m.String(i)
		if err != nil {
			return nil, begin, fmt.Errorf("event mask entry %d: %w", k, err)
		}
		mask, err := m.Uint64(i + 1)
		if err != nil {
			return nil, begin, fmt.Errorf("event mask entry %d: %w", k, err)
		}
		if err := set.Add(name, eventmask.Mask(mask)); err != nil {
			return nil, begin, err
		}
		i += 2
	}
	return set, i, nil
}
