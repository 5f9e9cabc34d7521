// Package transport binds the client-facing TCP listener and spawns one
// connection task per accepted socket, enforcing the configured connection
// limit at accept time.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/pyr33x/goqttd/internal/broker"
	"github.com/pyr33x/goqttd/internal/connection"
	"github.com/pyr33x/goqttd/internal/er"
	"github.com/pyr33x/goqttd/internal/hook"
	"github.com/pyr33x/goqttd/internal/logger"
)

// Acceptor binds one TCP listener and hands every accepted socket to
// connection.Serve, sharing the router's inbound channel sender across all
// of them — the router's Incoming channel is many-producer, single-consumer.
type Acceptor struct {
	addr           string
	inbound        chan<- broker.Incoming
	hook           hook.Hook
	log            *logger.Logger
	maxConnections int32

	listener  net.Listener
	shutdown  atomic.Bool
	connCount atomic.Int32
}

func New(addr string, inbound chan<- broker.Incoming, h hook.Hook, maxConnections int, log *logger.Logger) *Acceptor {
	if h == nil {
		h = hook.Noop{}
	}
	return &Acceptor{
		addr:           addr,
		inbound:        inbound,
		hook:           h,
		log:            log,
		maxConnections: int32(maxConnections),
	}
}

// Start binds the listener and begins accepting in the background.
func (a *Acceptor) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", a.addr, err)
	}
	a.listener = ln
	go a.acceptLoop(ctx)
	return nil
}

// Stop closes the listener; in-flight connections are left to drain on
// their own via ctx cancellation.
func (a *Acceptor) Stop() error {
	a.shutdown.Store(true)
	if a.listener == nil {
		return nil
	}
	return a.listener.Close()
}

func (a *Acceptor) acceptLoop(ctx context.Context) {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if a.shutdown.Load() || ctx.Err() != nil {
				return
			}
			a.log.LogError(&er.Err{Context: "accept", Message: err}, "accept error")
			continue
		}

		if a.connCount.Load() >= a.maxConnections {
			a.log.LogError(&er.Err{Context: "accept", Message: er.ErrConnectionLimitReached}, "connection limit reached, rejecting",
				logger.String("remote", conn.RemoteAddr().String()), logger.Int("max", int(a.maxConnections)))
			conn.Close()
			continue
		}

		a.connCount.Add(1)
		a.log.LogClientConnection("", conn.RemoteAddr().String(), "accepted", logger.Int("active", int(a.connCount.Load())))
		go func() {
			defer a.connCount.Add(-1)
			connection.Serve(ctx, conn, a.inbound, a.hook, a.log)
		}()
	}
}
