package pdu

import "fmt"

// Type is the wire code of a PDU payload type.
type Type uint8

const (
	TypeInvalid Type = iota
	TypeInt8
	TypeUint8
	TypeInt16
	TypeUint16
	TypeInt32
	TypeUint32
	TypeInt64
	TypeUint64
	TypeFloat
	TypeDouble
	TypeIPv4
	TypeIPv6
	TypeString
	TypeBinary
	TypeNull
	TypeStruct

	typeCount
)

// Flags carries per-PDU tag bits.
type Flags uint8

const FlagNull Flags = 0x01

// TagSize is the packed wire size of one Tag.
const TagSize = 12

// Tag describes one PDU inside a message: its type and where its payload sits in the data blob.
//
//	0 ---- 8 ----- 16 ----- 32 ------ 64 ------- 96
//	| type | flags | pad    | size    | offset   |
//	+------+-------+--------+---------+----------+
type Tag struct {
	Type   Type
	Flags  Flags
	Size   uint32
	Offset uint32
}

func (t Tag) Null() bool { return t.Flags&FlagNull != 0 }

// End returns the first data byte past this PDU's payload.
func (t Tag) End() uint64 { return uint64(t.Offset) + uint64(t.Size) }

type orderClass uint8

const (
	orderNone orderClass = iota
	orderInt
	orderFloat
)

type typeInfo struct {
	name  string
	size  uint32
	align uint32
	order orderClass
}

var typeTable = [typeCount]typeInfo{
	TypeInvalid: {name: "invalid"},
	TypeInt8:    {name: "int8", size: 1, align: 1},
	TypeUint8:   {name: "uint8", size: 1, align: 1},
	TypeInt16:   {name: "int16", size: 2, align: 2, order: orderInt},
	TypeUint16:  {name: "uint16", size: 2, align: 2, order: orderInt},
	TypeInt32:   {name: "int32", size: 4, align: 4, order: orderInt},
	TypeUint32:  {name: "uint32", size: 4, align: 4, order: orderInt},
	TypeInt64:   {name: "int64", size: 8, align: 8, order: orderInt},
	TypeUint64:  {name: "uint64", size: 8, align: 8, order: orderInt},
	TypeFloat:   {name: "float", size: 4, align: 4, order: orderFloat},
	TypeDouble:  {name: "double", size: 8, align: 8, order: orderFloat},
	TypeIPv4:    {name: "ipv4", size: 4, align: 4},
	TypeIPv6:    {name: "ipv6", size: 16, align: 4},
	TypeString:  {name: "string"},
	TypeBinary:  {name: "binary"},
	TypeNull:    {name: "null"},
	TypeStruct:  {name: "struct"},
}

// Valid reports whether t is a known wire type.
func (t Type) Valid() bool { return t > TypeInvalid && t < typeCount }

// FixedSize returns the wire size of fixed-width types and 0 for variable-length ones.
func (t Type) FixedSize() uint32 {
	if !t.Valid() {
		return 0
	}
	return typeTable[t].size
}

// Align returns the in-struct alignment of t. Zero means t cannot be an aggregate field.
func (t Type) Align() uint32 {
	if !t.Valid() {
		return 0
	}
	return typeTable[t].align
}

// Primitive reports whether t may appear as a struct field.
func (t Type) Primitive() bool { return t.Align() != 0 }

func (t Type) String() string {
	if t < typeCount {
		return typeTable[t].name
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// ParseType maps a type name as printed by String back to its code.
func ParseType(name string) (Type, bool) {
	for i := TypeInt8; i < typeCount; i++ {
		if typeTable[i].name == name {
			return i, true
		}
	}
	return TypeInvalid, false
}
