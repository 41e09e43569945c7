package structs

import (
	"fmt"
	"sync"

	"github.com/danmuck/edgeipc/internal/protocol"
	"github.com/danmuck/edgeipc/internal/protocol/pdu"
)

// Field is the layout of one struct field. Struct is set for nested struct fields.
type Field struct {
	Type     pdu.Type
	Struct   *Schema
	ArrayLen uint32
	Offset   uint32
	Size     uint32
	Align    uint32
}

// Count is the number of elements the field holds; scalars count as one.
func (f Field) Count() uint32 {
	if f.ArrayLen == 0 {
		return 1
	}
	return f.ArrayLen
}

// Span is the number of bytes the field occupies.
func (f Field) Span() uint32 { return f.Count() * f.Size }

// FieldInfo is a layout field with its resolved name.
type FieldInfo struct {
	Name  string
	Index int
	Field
}

// FieldError attaches a field path to a struct access failure.
type FieldError struct {
	Path string
	Err  error
}

func (e *FieldError) Error() string {
	if e.Path == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

type fieldMeta struct {
	infos  []FieldInfo
	byName map[string]int
}

// Schema is one loaded struct type. Schemas are immutable after load except for the lazily
// attached field metadata.
type Schema struct {
	name   string
	size   uint32
	align  uint32
	sig    pdu.Signature
	layout []Field
	ops    pdu.Operations
	cat    *Catalogue

	src   *fileImage
	index int

	metaOnce sync.Once
	meta     *fieldMeta
	metaErr  error
}

func (s *Schema) Name() string               { return s.name }
func (s *Schema) Size() uint32               { return s.size }
func (s *Schema) Align() uint32              { return s.align }
func (s *Schema) Signature() pdu.Signature   { return s.sig }
func (s *Schema) NumFields() int             { return len(s.layout) }
func (s *Schema) Operations() pdu.Operations { return s.ops }
func (s *Schema) Catalogue() *Catalogue      { return s.cat }
func (s *Schema) Layout() []Field            { return append([]Field(nil), s.layout...) }
func (s *Schema) String() string             { return fmt.Sprintf("struct %s (%d bytes)", s.name, s.size) }

// Acquire takes a reference on the schema's catalogue.
func (s *Schema) Acquire() {
	if s.cat != nil {
		s.cat.refs.Add(1)
	}
}

func (s *Schema) Release() {
	if s.cat != nil {
		s.cat.refs.Add(-1)
	}
}

// SwapFields transcodes one struct instance from src into dst field by field, recursing into
// nested structs. dst and src may be the same slice.
func (s *Schema) SwapFields(dst, src []byte, flags pdu.SwapFlags) {
	if len(dst) < int(s.size) || len(src) < int(s.size) {
		return
	}
	if !flags.Any() {
		copy(dst[:s.size], src[:s.size])
		return
	}
	// padding bytes are copied verbatim
	copy(dst[:s.size], src[:s.size])
	for _, f := range s.layout {
		start, end := f.Offset, f.Offset+f.Span()
		if f.Struct != nil {
			for i := uint32(0); i < f.Count(); i++ {
				off := start + i*f.Size
				f.Struct.SwapFields(dst[off:off+f.Size], dst[off:off+f.Size], flags)
			}
			continue
		}
		pdu.SwapElements(f.Type, dst[start:end], dst[start:end], int(f.Count()), flags)
	}
}

// Fields returns the named field list, running the field metadata pass on first use.
func (s *Schema) Fields() ([]FieldInfo, error) {
	m, err := s.fieldMeta()
	if err != nil {
		return nil, err
	}
	return append([]FieldInfo(nil), m.infos...), nil
}

// Field looks a field up by name.
func (s *Schema) Field(name string) (FieldInfo, error) {
	m, err := s.fieldMeta()
	if err != nil {
		return FieldInfo{}, err
	}
	i, ok := m.byName[name]
	if !ok {
		return FieldInfo{}, &FieldError{Path: name, Err: fmt.Errorf("%w: struct %s has no such field", protocol.ErrInvalidArgument, s.name)}
	}
	return m.infos[i], nil
}

func (s *Schema) fieldMeta() (*fieldMeta, error) {
	s.metaOnce.Do(func() {
		s.meta, s.metaErr = loadFieldMeta(s)
	})
	return s.meta, s.metaErr
}

// loadFieldMeta re-walks the schema's field records, resolving names.
func loadFieldMeta(s *Schema) (*fieldMeta, error) {
	if s.src == nil {
		return nil, fmt.Errorf("%w: struct %s has no field metadata", protocol.ErrUnknownStruct, s.name)
	}
	rec := s.src.structs[s.index]
	m := &fieldMeta{
		infos:  make([]FieldInfo, len(s.layout)),
		byName: make(map[string]int, len(s.layout)),
	}
	for i, f := range s.layout {
		fr := s.src.fields[rec.FirstField+uint32(i)]
		name, err := s.src.str(fr.NameOff)
		if err != nil {
			return nil, fmt.Errorf("struct %s field %d: %w", s.name, i, err)
		}
		if _, dup := m.byName[name]; dup {
			return nil, fmt.Errorf("%w: struct %s repeats field %q", protocol.ErrProtocol, s.name, name)
		}
		m.infos[i] = FieldInfo{Name: name, Index: i, Field: f}
		m.byName[name] = i
	}
	return m, nil
}
