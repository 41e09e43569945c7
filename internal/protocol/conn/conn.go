package conn

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/danmuck/edgeipc/internal/protocol"
)

// Conn is a blocking byte stream bound to a context per call.
type Conn interface {
	// ReadFull fills p or fails.
	ReadFull(ctx context.Context, p []byte) error
	// Write queues p and, when flush is set, pushes everything queued to the peer.
	Write(ctx context.Context, p []byte, flush bool) error
}

// NetConn adapts a net.Conn with buffered reads and writes. Not safe for concurrent readers or
// concurrent writers.
type NetConn struct {
	c net.Conn
	r *bufio.Reader
	w *bufio.Writer
}

func NewNetConn(c net.Conn) *NetConn {
	return &NetConn{c: c, r: bufio.NewReader(c), w: bufio.NewWriter(c)}
}

func (n *NetConn) RemoteAddr() net.Addr { return n.c.RemoteAddr() }

func (n *NetConn) Close() error { return n.c.Close() }

func (n *NetConn) ReadFull(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return contextError(err)
	}
	deadline, _ := ctx.Deadline()
	if err := n.c.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set read deadline: %v", protocol.ErrIO, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = n.c.SetReadDeadline(time.Unix(1, 0)) })
	defer stop()
	_, err := io.ReadFull(n.r, p)
	return mapError(ctx, "read", err)
}

func (n *NetConn) Write(ctx context.Context, p []byte, flush bool) error {
	if err := ctx.Err(); err != nil {
		return contextError(err)
	}
	deadline, _ := ctx.Deadline()
	if err := n.c.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set write deadline: %v", protocol.ErrIO, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = n.c.SetWriteDeadline(time.Unix(1, 0)) })
	defer stop()
	if _, err := n.w.Write(p); err != nil {
		return mapError(ctx, "write", err)
	}
	if flush {
		return mapError(ctx, "flush", n.w.Flush())
	}
	return nil
}

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", protocol.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", protocol.ErrCanceled, err)
}

func mapError(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if cerr := ctx.Err(); cerr != nil {
		return contextError(cerr)
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", protocol.ErrTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %w", protocol.ErrIO, op, err)
}

// Dial connects with ConnectTimeout per attempt, retrying with backoff up to DialAttempts.
func Dial(ctx context.Context, network, addr string, cfg Config) (*NetConn, error) {
	attempts := max(cfg.DialAttempts, 1)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			t := time.NewTimer(cfg.Backoff.Delay(attempt-1, rng))
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, contextError(ctx.Err())
			case <-t.C:
			}
		}
		d := net.Dialer{Timeout: cfg.ConnectTimeout}
		c, err := d.DialContext(ctx, network, addr)
		if err == nil {
			return NewNetConn(c), nil
		}
		last = err
		if ctx.Err() != nil {
			return nil, contextError(ctx.Err())
		}
	}
	return nil, fmt.Errorf("%w: dial %s after %d attempts: %w", protocol.ErrIO, addr, attempts, last)
}

// Buffer is an in-memory Conn: writes append, reads consume from the front.
type Buffer struct {
	buf bytes.Buffer
}

func NewBuffer(b []byte) *Buffer {
	var c Buffer
	c.buf.Write(b)
	return &c
}

func (b *Buffer) ReadFull(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return contextError(err)
	}
	if _, err := io.ReadFull(&b.buf, p); err != nil {
		return fmt.Errorf("%w: read: %w", protocol.ErrIO, err)
	}
	return nil
}

func (b *Buffer) Write(ctx context.Context, p []byte, _ bool) error {
	if err := ctx.Err(); err != nil {
		return contextError(err)
	}
	b.buf.Write(p)
	return nil
}

func (b *Buffer) Bytes() []byte { return b.buf.Bytes() }
func (b *Buffer) Len() int      { return b.buf.Len() }
