package structs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/danmuck/edgeipc/internal/protocol"
	"github.com/danmuck/edgeipc/internal/protocol/pdu"
)

const (
	Magic         byte = 0xE1
	FormatVersion byte = 1
	OrderLittle   byte = 1
	OrderBig      byte = 2

	HeaderSize       = 32
	StructRecordSize = 88
	FieldRecordSize  = 16

	MaxFileSize   = 64 << 20
	MaxStructSize = 1 << 20
	MaxAlign      = 8

	// FieldStructRef marks a field type code whose low bits are the string-table offset of a
	// referenced struct name.
	FieldStructRef uint32 = 0x80000000
)

// header field offsets
const (
	hdrMagic       = 0
	hdrVersion     = 1
	hdrOrder       = 2
	hdrStructCount = 8
	hdrNamespace   = 12
	hdrFieldOff    = 16
	hdrFieldSize   = 20
	hdrStrtabOff   = 24
	hdrStrtabSize  = 28
)

type fileHeader struct {
	Magic        byte
	Version      byte
	Order        byte
	StructCount  uint32
	NamespaceOff uint32
	FieldOff     uint32
	FieldSize    uint32
	StrtabOff    uint32
	StrtabSize   uint32
}

type structRecord struct {
	NameOff    uint32
	FieldCount uint32
	Size       uint32
	Align      uint32
	FirstField uint32
	Sig        pdu.Signature
}

type fieldRecord struct {
	NameOff  uint32
	ArrayLen uint32
	TypeCode uint32
}

// fileImage is the validated, host-order content of one schema file. It outlives the mapping so
// the field metadata pass can re-walk it.
type fileImage struct {
	path      string
	header    fileHeader
	structs   []structRecord
	fields    []fieldRecord
	strtab    []byte
	namespace string
}

func hostOrderByte() byte {
	if pdu.HostLittleEndian() {
		return OrderLittle
	}
	return OrderBig
}

// swapWords reverses each 32-bit word of b in place.
func swapWords(b []byte) {
	for off := 0; off+4 <= len(b); off += 4 {
		v := binary.NativeEndian.Uint32(b[off:])
		binary.NativeEndian.PutUint32(b[off:], bits.ReverseBytes32(v))
	}
}

// decodeImage validates raw (a private, writable copy of the file) and converts it to host
// order in place before decoding. Every layout violation is a protocol error.
func decodeImage(path string, raw []byte) (*fileImage, error) {
	if len(raw) < HeaderSize {
		return nil, fmt.Errorf("%w: schema file %s is %d bytes, below header size", protocol.ErrProtocol, path, len(raw))
	}
	if len(raw) > MaxFileSize {
		return nil, fmt.Errorf("%w: schema file %s exceeds %d bytes", protocol.ErrProtocol, path, MaxFileSize)
	}
	if raw[hdrMagic] != Magic {
		return nil, fmt.Errorf("%w: bad schema magic 0x%02x", protocol.ErrProtocol, raw[hdrMagic])
	}
	if raw[hdrVersion] != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported schema version %d", protocol.ErrProtocol, raw[hdrVersion])
	}
	order := raw[hdrOrder]
	if order != OrderLittle && order != OrderBig {
		return nil, fmt.Errorf("%w: bad schema byte order %d", protocol.ErrProtocol, order)
	}
	foreign := order != hostOrderByte()
	if foreign {
		swapWords(raw[hdrStructCount:HeaderSize])
	}

	ne := binary.NativeEndian
	h := fileHeader{
		Magic:        raw[hdrMagic],
		Version:      raw[hdrVersion],
		Order:        order,
		StructCount:  ne.Uint32(raw[hdrStructCount:]),
		NamespaceOff: ne.Uint32(raw[hdrNamespace:]),
		FieldOff:     ne.Uint32(raw[hdrFieldOff:]),
		FieldSize:    ne.Uint32(raw[hdrFieldSize:]),
		StrtabOff:    ne.Uint32(raw[hdrStrtabOff:]),
		StrtabSize:   ne.Uint32(raw[hdrStrtabSize:]),
	}
	if err := checkSections(h, uint64(len(raw))); err != nil {
		return nil, err
	}

	structEnd := uint64(HeaderSize) + uint64(h.StructCount)*StructRecordSize
	if foreign {
		for off := uint64(HeaderSize); off < structEnd; off += StructRecordSize {
			// the trailing signature is ASCII and has no byte order
			swapWords(raw[off : off+StructRecordSize-pdu.SignatureLen])
		}
		swapWords(raw[h.FieldOff : h.FieldOff+h.FieldSize])
	}

	img := &fileImage{
		path:    path,
		header:  h,
		structs: make([]structRecord, h.StructCount),
		fields:  make([]fieldRecord, h.FieldSize/FieldRecordSize),
		strtab:  append([]byte(nil), raw[h.StrtabOff:uint64(h.StrtabOff)+uint64(h.StrtabSize)]...),
	}
	for i := range img.structs {
		rec := raw[HeaderSize+i*StructRecordSize:]
		img.structs[i] = structRecord{
			NameOff:    ne.Uint32(rec[0:]),
			FieldCount: ne.Uint32(rec[4:]),
			Size:       ne.Uint32(rec[8:]),
			Align:      ne.Uint32(rec[12:]),
			FirstField: ne.Uint32(rec[16:]),
		}
		copy(img.structs[i].Sig[:], rec[24:24+pdu.SignatureLen])
	}
	for i := range img.fields {
		rec := raw[int(h.FieldOff)+i*FieldRecordSize:]
		img.fields[i] = fieldRecord{
			NameOff:  ne.Uint32(rec[0:]),
			ArrayLen: ne.Uint32(rec[4:]),
			TypeCode: ne.Uint32(rec[8:]),
		}
	}
	if h.NamespaceOff != 0 {
		ns, err := img.str(h.NamespaceOff)
		if err != nil {
			return nil, fmt.Errorf("namespace: %w", err)
		}
		img.namespace = ns
	}
	return img, nil
}

// checkSections enforces the exact, gapless section layout.
func checkSections(h fileHeader, size uint64) error {
	structEnd := uint64(HeaderSize) + uint64(h.StructCount)*StructRecordSize
	if structEnd > size {
		return fmt.Errorf("%w: struct section (%d records) overruns file", protocol.ErrProtocol, h.StructCount)
	}
	if uint64(h.FieldOff) != structEnd {
		return fmt.Errorf("%w: field section at %d, want %d", protocol.ErrProtocol, h.FieldOff, structEnd)
	}
	if h.FieldSize%FieldRecordSize != 0 {
		return fmt.Errorf("%w: field section size %d is not a multiple of %d", protocol.ErrProtocol, h.FieldSize, FieldRecordSize)
	}
	fieldEnd := uint64(h.FieldOff) + uint64(h.FieldSize)
	if uint64(h.StrtabOff) != fieldEnd {
		return fmt.Errorf("%w: string table at %d, want %d", protocol.ErrProtocol, h.StrtabOff, fieldEnd)
	}
	if h.StrtabSize == 0 {
		return fmt.Errorf("%w: empty string table", protocol.ErrProtocol)
	}
	if uint64(h.StrtabOff)+uint64(h.StrtabSize) != size {
		return fmt.Errorf("%w: string table ends at %d, file is %d bytes", protocol.ErrProtocol, uint64(h.StrtabOff)+uint64(h.StrtabSize), size)
	}
	return nil
}

// str resolves a string-table offset. Offset 0 is reserved.
func (img *fileImage) str(off uint32) (string, error) {
	if off == 0 || uint64(off) >= uint64(len(img.strtab)) {
		return "", fmt.Errorf("%w: bad string offset %d", protocol.ErrProtocol, off)
	}
	rest := img.strtab[off:]
	end := bytes.IndexByte(rest, 0)
	if end < 0 {
		return "", fmt.Errorf("%w: unterminated string at %d", protocol.ErrProtocol, off)
	}
	if end == 0 || end > pdu.MaxStructNameLen {
		return "", fmt.Errorf("%w: bad string length %d at %d", protocol.ErrProtocol, end, off)
	}
	return string(rest[:end]), nil
}
