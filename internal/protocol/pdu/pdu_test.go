package pdu

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"net/netip"
	"testing"

	"github.com/danmuck/edgeipc/internal/protocol"
	"github.com/danmuck/edgeipc/internal/testutil/testlog"
)

func TestOperationsForRejectsUnknownTypes(t *testing.T) {
	testlog.Start(t)
	for _, ty := range []Type{TypeInvalid, TypeStruct, Type(200)} {
		if _, err := OperationsFor(ty); !errors.Is(err, protocol.ErrInvalidArgument) {
			t.Fatalf("OperationsFor(%s): expected ErrInvalidArgument, got %v", ty, err)
		}
	}
	ops, err := OperationsFor(TypeUint32)
	if err != nil {
		t.Fatalf("OperationsFor(uint32): %v", err)
	}
	if ops.Size() != 4 || ops.Align() != 4 || !ops.CanSwap() {
		t.Fatalf("unexpected uint32 ops: size=%d align=%d swap=%v", ops.Size(), ops.Align(), ops.CanSwap())
	}
	ip, _ := OperationsFor(TypeIPv6)
	if ip.CanSwap() {
		t.Fatalf("ipv6 must not be byte swapped")
	}
	str, _ := OperationsFor(TypeString)
	if str.Align() != 0 {
		t.Fatalf("string must not be usable as an aggregate field")
	}
}

func TestNewZeroesPayload(t *testing.T) {
	testlog.Start(t)
	p, err := New(TypeUint64)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if p.Tag.Type != TypeUint64 || p.Tag.Size != 0 || p.Tag.Offset != 0 {
		t.Fatalf("unexpected tag: %+v", p.Tag)
	}
	if !bytes.Equal(p.Payload(), make([]byte, 8)) {
		t.Fatalf("payload not zeroed: %x", p.Payload())
	}
}

func TestSwapElementsRoundTrip(t *testing.T) {
	testlog.Start(t)
	src := make([]byte, 16)
	binary.NativeEndian.PutUint64(src, 0x0102030405060708)
	binary.NativeEndian.PutUint64(src[8:], 0x1122334455667788)
	swapped := make([]byte, 16)
	SwapElements(TypeUint64, swapped, src, 2, SwapFlags{Int: true})
	if binary.NativeEndian.Uint64(swapped) != 0x0807060504030201 {
		t.Fatalf("first element not swapped: %x", swapped[:8])
	}
	back := make([]byte, 16)
	SwapElements(TypeUint64, back, swapped, 2, SwapFlags{Int: true})
	if !bytes.Equal(back, src) {
		t.Fatalf("double swap mismatch: %x vs %x", back, src)
	}

	// the float flag alone must leave integers untouched
	same := make([]byte, 16)
	SwapElements(TypeUint64, same, src, 2, SwapFlags{Float: true})
	if !bytes.Equal(same, src) {
		t.Fatalf("int swapped under float flag")
	}
}

func TestSwapElementsInPlace(t *testing.T) {
	testlog.Start(t)
	b := make([]byte, 4)
	binary.NativeEndian.PutUint32(b, math.Float32bits(1.5))
	SwapElements(TypeFloat, b, b, 1, SwapFlags{Float: true})
	if got := DecodeFloat(b, SwapFlags{Float: true}); got != 1.5 {
		t.Fatalf("decode swapped float = %v", got)
	}
}

func TestDecodersHonorFlags(t *testing.T) {
	testlog.Start(t)
	flags := SwapFlags{Int: true, Float: true}
	b := make([]byte, 8)
	flags.IntOrder().PutUint32(b, 0xdeadbeef)
	if got := DecodeUint32(b, flags); got != 0xdeadbeef {
		t.Fatalf("uint32 = %x", got)
	}
	if got := DecodeUint32(b, SwapFlags{}); got == 0xdeadbeef {
		t.Fatalf("expected native decode to differ")
	}
	flags.FloatOrder().PutUint64(b, math.Float64bits(-2.25))
	if got := DecodeDouble(b, flags); got != -2.25 {
		t.Fatalf("double = %v", got)
	}
}

func TestBinaryNullDiffersFromEmpty(t *testing.T) {
	testlog.Start(t)
	null := NewBinary(nil)
	empty := NewBinary([]byte{})
	if !null.IsNull() || null.Payload() != nil {
		t.Fatalf("nil binary must be null")
	}
	if empty.IsNull() || empty.Payload() == nil || len(empty.Payload()) != 0 {
		t.Fatalf("empty binary must be non-null and empty")
	}
	var buf bytes.Buffer
	if err := empty.Write(&buf); err != nil || buf.Len() != 0 {
		t.Fatalf("empty write: n=%d err=%v", buf.Len(), err)
	}
}

func TestStringCarriesTerminator(t *testing.T) {
	testlog.Start(t)
	p := NewString("abc")
	if p.Tag.Size != 4 || p.Payload()[3] != 0 {
		t.Fatalf("string payload = %q", p.Payload())
	}
	var dst PDU
	ops, _ := OperationsFor(TypeString)
	if err := ops.Copy(&dst, []byte("abc"), SwapFlags{}); !errors.Is(err, protocol.ErrProtocol) {
		t.Fatalf("expected ErrProtocol for unterminated string, got %v", err)
	}
}

func TestIPConstructors(t *testing.T) {
	testlog.Start(t)
	if _, err := NewIPv4(netip.MustParseAddr("::1")); !errors.Is(err, protocol.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	p, err := NewIPv4(netip.MustParseAddr("10.1.2.3"))
	if err != nil {
		t.Fatalf("ipv4: %v", err)
	}
	if got := DecodeIPv4(p.Payload()); got.String() != "10.1.2.3" {
		t.Fatalf("ipv4 = %s", got)
	}
	p6, err := NewIPv6(netip.MustParseAddr("fe80::1"))
	if err != nil {
		t.Fatalf("ipv6: %v", err)
	}
	if got := DecodeIPv6(p6.Payload()); got.String() != "fe80::1" {
		t.Fatalf("ipv6 = %s", got)
	}
}

func TestPrimitiveCopyChecksSize(t *testing.T) {
	testlog.Start(t)
	ops, _ := OperationsFor(TypeInt32)
	var dst PDU
	if err := ops.Copy(&dst, []byte{1, 2}, SwapFlags{}); !errors.Is(err, protocol.ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
	src := make([]byte, 4)
	SwapFlags{Int: true}.IntOrder().PutUint32(src, uint32(0x7f000001))
	if err := ops.Copy(&dst, src, SwapFlags{Int: true}); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if got := binary.NativeEndian.Uint32(dst.Payload()); got != 0x7f000001 {
		t.Fatalf("copied value = %x", got)
	}
}

type fakeAggregate struct {
	refs int
	sig  Signature
}

func (f *fakeAggregate) Name() string         { return "pair" }
func (f *fakeAggregate) Size() uint32         { return 8 }
func (f *fakeAggregate) Align() uint32        { return 4 }
func (f *fakeAggregate) Signature() Signature { return f.sig }
func (f *fakeAggregate) Acquire()             { f.refs++ }
func (f *fakeAggregate) Release()             { f.refs-- }
func (f *fakeAggregate) SwapFields(dst, src []byte, flags SwapFlags) {
	SwapElements(TypeUint32, dst, src, 2, flags)
}

func TestStructOperationsCopyAndDestroy(t *testing.T) {
	testlog.Start(t)
	agg := &fakeAggregate{}
	copy(agg.sig[:], bytes.Repeat([]byte("a"), SignatureLen))
	ops := InstallStructOperations(agg)

	body := make([]byte, 8)
	binary.NativeEndian.PutUint32(body, 7)
	binary.NativeEndian.PutUint32(body[4:], 9)
	p, err := NewStruct(ops, body)
	if err != nil {
		t.Fatalf("new struct: %v", err)
	}
	if agg.refs != 1 {
		t.Fatalf("expected one reference, got %d", agg.refs)
	}

	var dst PDU
	if err := ops.Copy(&dst, p.Payload(), SwapFlags{}); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if agg.refs != 2 || !bytes.Equal(dst.Payload(), p.Payload()) {
		t.Fatalf("copy mismatch refs=%d", agg.refs)
	}
	dst.Destroy()
	p.Destroy()
	if agg.refs != 0 {
		t.Fatalf("references leaked: %d", agg.refs)
	}

	bad := EncodeStructPrefix("pair", Signature{}, body)
	if err := ops.Copy(&dst, bad, SwapFlags{}); !errors.Is(err, protocol.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestDecodeStructPrefixRejectsBadLength(t *testing.T) {
	testlog.Start(t)
	cases := [][]byte{
		nil,
		{0},
		append([]byte{10}, []byte("short")...),
	}
	for i, b := range cases {
		if _, _, _, err := DecodeStructPrefix(b); !errors.Is(err, protocol.ErrProtocol) {
			t.Fatalf("case %d: expected ErrProtocol, got %v", i, err)
		}
	}
}

func TestParseTypeMatchesString(t *testing.T) {
	testlog.Start(t)
	for ty := TypeInt8; ty <= TypeStruct; ty++ {
		got, ok := ParseType(ty.String())
		if !ok || got != ty {
			t.Fatalf("ParseType(%q) = %v,%v", ty.String(), got, ok)
		}
	}
}
