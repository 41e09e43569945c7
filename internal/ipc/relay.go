package ipc

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/danmuck/edgeipc/internal/protocol"
	"github.com/danmuck/edgeipc/internal/protocol/conn"
)

// ServeRelay accepts peers on ln and forwards every message they send to target, one upstream
// connection per peer. Peers idle longer than the read timeout are dropped. It returns when ctx
// ends or ln fails.
func (e *Engine) ServeRelay(ctx context.Context, ln net.Listener, network, target string) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	e.log.Info().Str("listen", ln.Addr().String()).Str("target", target).Msg("relay listening")
	for {
		raw, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.relayPeer(ctx, conn.NewNetConn(raw), network, target)
		}()
	}
}

func (e *Engine) relayPeer(ctx context.Context, peer *conn.NetConn, network, target string) {
	log := e.log.With().Str("peer", peer.RemoteAddr().String()).Logger()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { _ = peer.Close() })
	defer stop()
	defer peer.Close()

	flags, err := e.Handshake(ctx, peer)
	if err != nil {
		return
	}
	upstream, _, err := e.Dial(ctx, network, target)
	if err != nil {
		return
	}
	defer upstream.Close()
	log.Debug().Interface("swap", flags).Msg("relay peer connected")

	for {
		m, err := e.Receive(ctx, peer, flags)
		if err != nil {
			if errors.Is(err, protocol.ErrIO) || protocol.IsCanceled(err) {
				log.Debug().Err(err).Msg("relay peer closed")
			}
			return
		}
		err = e.Relay(ctx, m, upstream)
		m.Release()
		if err != nil {
			return
		}
	}
}
