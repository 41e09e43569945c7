package structs

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/danmuck/edgeipc/internal/protocol"
	"github.com/danmuck/edgeipc/internal/protocol/pdu"
)

// FieldDef declares one field. Type is a primitive type name or the name of a struct defined
// earlier in the same Def.
type FieldDef struct {
	Name  string `toml:"name"`
	Type  string `toml:"type"`
	Array uint32 `toml:"array"`
}

// StructDef declares one struct. Align 0 means the largest field alignment.
type StructDef struct {
	Name   string     `toml:"name"`
	Align  uint32     `toml:"align"`
	Fields []FieldDef `toml:"field"`
}

// Def is a schema file's source: structs in dependency order.
type Def struct {
	Namespace string      `toml:"namespace"`
	Structs   []StructDef `toml:"struct"`
}

// ParseDefs decodes a TOML struct definition document.
func ParseDefs(data []byte) (Def, error) {
	var def Def
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&def); err != nil {
		return Def{}, fmt.Errorf("%w: struct definitions: %v", protocol.ErrInvalidArgument, err)
	}
	return def, nil
}

// LoadDefs reads and decodes a TOML struct definition file.
func LoadDefs(path string) (Def, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Def{}, fmt.Errorf("struct definitions load failed (%s): %w", path, err)
	}
	return ParseDefs(data)
}

type builtField struct {
	name  string
	typ   pdu.Type
	ref   *builtStruct
	array uint32
	off   uint32
	size  uint32
	align uint32
}

type builtStruct struct {
	name   string
	size   uint32
	align  uint32
	sig    pdu.Signature
	fields []builtField
}

// Writer encodes struct definitions into the binary schema file format.
type Writer struct {
	// Order selects the file byte order; nil means host order.
	Order binary.ByteOrder
}

// Build lays out every struct, computes signatures and returns the encoded file.
func (w Writer) Build(def Def) ([]byte, error) {
	order := w.Order
	if order == nil {
		order = binary.NativeEndian
	}
	built, err := layoutDefs(def)
	if err != nil {
		return nil, err
	}

	var strtab stringTable
	strtab.init()
	nsOff := uint32(0)
	if def.Namespace != "" {
		nsOff = strtab.add(def.Namespace)
	}

	nfields := 0
	for _, s := range built {
		nfields += len(s.fields)
	}
	structOff := HeaderSize
	fieldOff := structOff + len(built)*StructRecordSize
	fieldSize := nfields * FieldRecordSize
	strOff := fieldOff + fieldSize

	structSec := make([]byte, len(built)*StructRecordSize)
	fieldSec := make([]byte, fieldSize)
	first := 0
	for i, s := range built {
		rec := structSec[i*StructRecordSize:]
		order.PutUint32(rec[0:], strtab.add(s.name))
		order.PutUint32(rec[4:], uint32(len(s.fields)))
		order.PutUint32(rec[8:], s.size)
		order.PutUint32(rec[12:], s.align)
		order.PutUint32(rec[16:], uint32(first))
		copy(rec[24:], s.sig[:])
		for j, f := range s.fields {
			fr := fieldSec[(first+j)*FieldRecordSize:]
			order.PutUint32(fr[0:], strtab.add(f.name))
			order.PutUint32(fr[4:], f.array)
			if f.ref != nil {
				order.PutUint32(fr[8:], FieldStructRef|strtab.add(f.ref.name))
			} else {
				order.PutUint32(fr[8:], uint32(f.typ))
			}
		}
		first += len(s.fields)
	}

	out := make([]byte, strOff, strOff+len(strtab.data))
	out[hdrMagic] = Magic
	out[hdrVersion] = FormatVersion
	out[hdrOrder] = orderByte(order)
	order.PutUint32(out[hdrStructCount:], uint32(len(built)))
	order.PutUint32(out[hdrNamespace:], nsOff)
	order.PutUint32(out[hdrFieldOff:], uint32(fieldOff))
	order.PutUint32(out[hdrFieldSize:], uint32(fieldSize))
	order.PutUint32(out[hdrStrtabOff:], uint32(strOff))
	order.PutUint32(out[hdrStrtabSize:], uint32(len(strtab.data)))
	copy(out[structOff:], structSec)
	copy(out[fieldOff:], fieldSec)
	out = append(out, strtab.data...)
	if len(out) > MaxFileSize {
		return nil, fmt.Errorf("%w: schema file would be %d bytes", protocol.ErrInvalidArgument, len(out))
	}
	return out, nil
}

// WriteFile builds def and writes it to path.
func (w Writer) WriteFile(path string, def Def) error {
	data, err := w.Build(def)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write schema %s: %w", path, err)
	}
	return nil
}

func orderByte(order binary.ByteOrder) byte {
	var probe [2]byte
	order.PutUint16(probe[:], 1)
	if probe[0] == 1 {
		return OrderLittle
	}
	return OrderBig
}

func layoutDefs(def Def) ([]*builtStruct, error) {
	byName := make(map[string]*builtStruct, len(def.Structs))
	out := make([]*builtStruct, 0, len(def.Structs))
	for _, sd := range def.Structs {
		if sd.Name == "" || len(sd.Name) > pdu.MaxStructNameLen {
			return nil, fmt.Errorf("%w: struct name %q", protocol.ErrInvalidArgument, sd.Name)
		}
		if _, dup := byName[sd.Name]; dup {
			return nil, fmt.Errorf("%w: struct %s defined twice", protocol.ErrInvalidArgument, sd.Name)
		}
		if len(sd.Fields) == 0 {
			return nil, fmt.Errorf("%w: struct %s has no fields", protocol.ErrInvalidArgument, sd.Name)
		}
		bs := &builtStruct{name: sd.Name, fields: make([]builtField, len(sd.Fields))}
		seen := make(map[string]bool, len(sd.Fields))
		var running uint64
		var maxAlign uint32 = 1
		for i, fd := range sd.Fields {
			if fd.Name == "" || len(fd.Name) > pdu.MaxStructNameLen || seen[fd.Name] {
				return nil, fmt.Errorf("%w: struct %s field %q", protocol.ErrInvalidArgument, sd.Name, fd.Name)
			}
			seen[fd.Name] = true
			bf := builtField{name: fd.Name, array: fd.Array}
			if t, ok := pdu.ParseType(fd.Type); ok {
				if !t.Primitive() {
					return nil, fmt.Errorf("%w: struct %s field %s: %s is not a field type", protocol.ErrInvalidArgument, sd.Name, fd.Name, t)
				}
				bf.typ, bf.size, bf.align = t, t.FixedSize(), t.Align()
			} else if ref, ok := byName[fd.Type]; ok {
				bf.typ, bf.ref, bf.size, bf.align = pdu.TypeStruct, ref, ref.size, ref.align
			} else {
				return nil, fmt.Errorf("%w: struct %s field %s: unknown type %q", protocol.ErrInvalidArgument, sd.Name, fd.Name, fd.Type)
			}
			running = alignUp(running, uint64(bf.align))
			bf.off = uint32(running)
			count := uint64(bf.array)
			if count == 0 {
				count = 1
			}
			running += count * uint64(bf.size)
			if running > MaxStructSize {
				return nil, fmt.Errorf("%w: struct %s exceeds %d bytes", protocol.ErrInvalidArgument, sd.Name, MaxStructSize)
			}
			maxAlign = max(maxAlign, bf.align)
			bs.fields[i] = bf
		}
		bs.align = sd.Align
		if bs.align == 0 {
			bs.align = maxAlign
		}
		if bs.align > MaxAlign || bs.align&(bs.align-1) != 0 {
			return nil, fmt.Errorf("%w: struct %s alignment %d", protocol.ErrInvalidArgument, sd.Name, bs.align)
		}
		bs.size = uint32(alignUp(running, uint64(bs.align)))
		bs.sig = bs.signature()
		byName[sd.Name] = bs
		out = append(out, bs)
	}
	return out, nil
}

func (bs *builtStruct) signature() pdu.Signature {
	parts := make([]sigField, len(bs.fields))
	for i, f := range bs.fields {
		parts[i] = sigField{name: f.name, typ: f.typ, array: f.array, off: f.off}
		if f.ref != nil {
			parts[i].nested = f.ref.sig
		}
	}
	return layoutSignature(bs.name, bs.size, bs.align, parts)
}

type sigField struct {
	name   string
	typ    pdu.Type
	nested pdu.Signature
	array  uint32
	off    uint32
}

// layoutSignature hashes a canonical rendering of the layout. Nested structs contribute their
// own signature, so a change anywhere below a struct changes its signature too.
func layoutSignature(name string, size, align uint32, fields []sigField) pdu.Signature {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%d|%d", name, size, align)
	for _, f := range fields {
		typ := f.typ.String()
		if f.typ == pdu.TypeStruct {
			typ = "struct:" + f.nested.String()
		}
		fmt.Fprintf(&b, "|%s:%s:%d:%d", f.name, typ, f.array, f.off)
	}
	sum := blake2b.Sum256([]byte(b.String()))
	var sig pdu.Signature
	hex.Encode(sig[:], sum[:])
	return sig
}

// ComputeSignature recomputes a loaded schema's signature from its field metadata. A mismatch
// with Signature means the file was produced by a different layout algorithm or was altered.
func ComputeSignature(s *Schema) (pdu.Signature, error) {
	fields, err := s.Fields()
	if err != nil {
		return pdu.Signature{}, err
	}
	parts := make([]sigField, len(fields))
	for i, f := range fields {
		parts[i] = sigField{name: f.Name, typ: f.Type, array: f.ArrayLen, off: f.Offset}
		if f.Struct != nil {
			parts[i].nested = f.Struct.Signature()
		}
	}
	return layoutSignature(s.name, s.size, s.align, parts), nil
}

type stringTable struct {
	data []byte
	offs map[string]uint32
}

// init reserves offset 0.
func (t *stringTable) init() {
	t.data = []byte{0}
	t.offs = make(map[string]uint32)
}

func (t *stringTable) add(s string) uint32 {
	if off, ok := t.offs[s]; ok {
		return off
	}
	off := uint32(len(t.data))
	t.data = append(t.data, s...)
	t.data = append(t.data, 0)
	t.offs[s] = off
	return off
}
