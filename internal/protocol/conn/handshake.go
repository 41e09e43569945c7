package conn

import (
	"context"
	"fmt"

	"github.com/danmuck/edgeipc/internal/protocol"
	"github.com/danmuck/edgeipc/internal/protocol/pdu"
)

const (
	handshakeSize        = 4
	orderLittle     byte = 1
	orderBig        byte = 2
	handshakeMagic0      = 'E'
	handshakeMagic1      = 'I'
)

func hostOrder() byte {
	if pdu.HostLittleEndian() {
		return orderLittle
	}
	return orderBig
}

// Handshake exchanges byte-order indicators with the peer and returns the swap flags to apply
// to every later message on c. Both sides send before reading.
func Handshake(ctx context.Context, c Conn) (pdu.SwapFlags, error) {
	order := hostOrder()
	out := []byte{handshakeMagic0, handshakeMagic1, order, order}
	if err := c.Write(ctx, out, true); err != nil {
		return pdu.SwapFlags{}, err
	}
	var in [handshakeSize]byte
	if err := c.ReadFull(ctx, in[:]); err != nil {
		return pdu.SwapFlags{}, err
	}
	if in[0] != handshakeMagic0 || in[1] != handshakeMagic1 {
		return pdu.SwapFlags{}, fmt.Errorf("%w: bad handshake magic %q", protocol.ErrProtocol, in[:2])
	}
	intOrder, floatOrder := in[2], in[3]
	for _, o := range []byte{intOrder, floatOrder} {
		if o != orderLittle && o != orderBig {
			return pdu.SwapFlags{}, fmt.Errorf("%w: bad handshake byte order %d", protocol.ErrProtocol, o)
		}
	}
	return pdu.SwapFlags{Int: intOrder != order, Float: floatOrder != order}, nil
}
