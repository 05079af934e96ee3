package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
)

// IngressListener accepts TCP connections and, per connection, pipes a
// Framer through ParseIngressLine into a Dispatcher. The accept loop shape
// — a listener closed by a context-watching goroutine, Accept returning nil
// on context-cancelled shutdown rather than an error — follows the
// teacher's Forwarder.runTCP (server/proxy/tcp.go / internal/server/proxy/tcp.go
// in the pack).
type IngressListener struct {
	Dispatcher  *Dispatcher
	Diagnostics *Diagnostics
	Logger      *slog.Logger
}

// NewIngressListener builds an IngressListener over dispatcher.
func NewIngressListener(dispatcher *Dispatcher, diagnostics *Diagnostics, logger *slog.Logger) *IngressListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngressListener{Dispatcher: dispatcher, Diagnostics: diagnostics, Logger: logger}
}

// Serve accepts connections on ln until ctx is cancelled or Accept fails.
// Each connection is handled by an independent goroutine; Serve itself
// returns once the accept loop ends, without waiting for in-flight
// connection workers to finish (callers that need a drain deadline wait
// separately, per §5).
func (l *IngressListener) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ingress: accept: %w", err)
		}
		if l.Diagnostics != nil {
			l.Diagnostics.IngressConnectionOpened()
		}
		go l.handleConn(ctx, conn)
	}
}

// handleConn implements the ACCEPTED → READING → DISPATCHING state machine
// of §4.6: empty lines are discarded, parse errors are logged and do not
// close the connection, and dispatch is invoked synchronously so that
// successive lines on one connection dispatch in the order received.
func (l *IngressListener) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	framer := NewFramer(conn)
	for {
		line, err := framer.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			if errors.Is(err, ErrProtocolViolation) {
				l.Logger.Warn("ingress protocol violation", "remote", remote, "err", err)
				return
			}
			l.Logger.Warn("ingress read error", "remote", remote, "err", err)
			return
		}
		if line == "" {
			continue
		}

		msg, perr := ParseIngressLine(line)
		if perr != nil {
			l.Logger.Warn("ingress parse error", "remote", remote, "err", perr, "line", line)
			continue
		}

		l.Dispatcher.Dispatch(ctx, msg)
	}
}
