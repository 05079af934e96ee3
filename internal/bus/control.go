package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
)

// ControlListener accepts TCP connections on the control port and, per
// connection, pipes a Framer through the command interpreter, writing a
// textual reply for each command on the same connection. Its accept-loop
// shape mirrors IngressListener / the teacher's proxy forwarder.
type ControlListener struct {
	Registry    *Registry
	Diagnostics *Diagnostics
	Logger      *slog.Logger
}

// NewControlListener builds a ControlListener over registry.
func NewControlListener(registry *Registry, diagnostics *Diagnostics, logger *slog.Logger) *ControlListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &ControlListener{Registry: registry, Diagnostics: diagnostics, Logger: logger}
}

// Serve accepts connections on ln until ctx is cancelled or Accept fails.
func (l *ControlListener) Serve(ctx context.Context, ln net.Listener) error {
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
			return fmt.Errorf("control: accept: %w", err)
		}
		if l.Diagnostics != nil {
			l.Diagnostics.ControlConnectionOpened()
		}
		go l.handleConn(conn)
	}
}

func (l *ControlListener) handleConn(conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	framer := NewFramer(conn)
	for {
		line, err := framer.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				l.Logger.Warn("control connection error", "remote", remote, "err", err)
			}
			return
		}
		if line == "" {
			continue
		}

		reply, quit := l.execute(line)
		if _, werr := io.WriteString(conn, reply); werr != nil {
			l.Logger.Warn("control write error", "remote", remote, "err", werr)
			return
		}
		if quit {
			return
		}
	}
}

// execute runs one control-plane command and renders its reply. quit is
// true only for QUIT, after which the caller closes the connection.
func (l *ControlListener) execute(line string) (reply string, quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return errLine(ErrUnknownCommand), false
	}

	cmd := strings.ToUpper(fields[0])
	args := fields[1:]

	switch cmd {
	case "REGISTER":
		return l.executeRegister(args), false
	case "SUBSCRIBE":
		return l.executeSubscribe(args), false
	case "UNSUBSCRIBE":
		return l.executeUnsubscribe(args), false
	case "DEREGISTER":
		return l.executeDeregister(args), false
	case "LIST":
		return l.executeList(), false
	case "QUIT":
		return "BYE\n", true
	default:
		return errLine(ErrUnknownCommand), false
	}
}

func (l *ControlListener) executeRegister(args []string) string {
	if len(args) < 2 {
		return errLine(ErrBadArguments)
	}
	id := ConsumerID(args[0])
	if err := id.Validate(); err != nil {
		return errLine(err)
	}
	endpoint, err := ParseConsumerEndpoint(args[1])
	if err != nil {
		return errLine(err)
	}
	events := make([]EventName, 0, len(args)-2)
	for _, e := range args[2:] {
		event := EventName(e)
		if verr := event.Validate(); verr != nil {
			return errLine(verr)
		}
		events = append(events, event)
	}

	outcome, err := l.Registry.Register(id, endpoint, DefaultSendTimeout, events)
	if err != nil {
		return errLine(err)
	}
	return fmt.Sprintf("OK %s %s\n", outcome, id)
}

func (l *ControlListener) executeSubscribe(args []string) string {
	if len(args) != 2 {
		return errLine(ErrBadArguments)
	}
	if err := l.Registry.Subscribe(ConsumerID(args[0]), EventName(args[1])); err != nil {
		return errLine(err)
	}
	return "OK\n"
}

func (l *ControlListener) executeUnsubscribe(args []string) string {
	if len(args) != 2 {
		return errLine(ErrBadArguments)
	}
	if err := l.Registry.Unsubscribe(ConsumerID(args[0]), EventName(args[1])); err != nil {
		return errLine(err)
	}
	return "OK\n"
}

func (l *ControlListener) executeDeregister(args []string) string {
	if len(args) != 1 {
		return errLine(ErrBadArguments)
	}
	if err := l.Registry.Deregister(ConsumerID(args[0])); err != nil {
		return errLine(err)
	}
	return "OK\n"
}

func (l *ControlListener) executeList() string {
	var b strings.Builder
	for _, c := range l.Registry.List() {
		b.WriteString(string(c.ID))
		b.WriteByte(' ')
		b.WriteString(c.Endpoint.String())
		if len(c.Events) > 0 {
			b.WriteByte(' ')
			for i, e := range c.Events {
				if i > 0 {
					b.WriteByte(',')
				}
				b.WriteString(string(e))
			}
		}
		b.WriteByte('\n')
	}
	b.WriteString("END\n")
	return b.String()
}

// errLine renders a reply of the form "ERR <reason>". Every control-plane
// sentinel in types.go carries its reason code as its own message (e.g.
// ErrUnknownConsumer.Error() == "UNKNOWN_CONSUMER"); wrapped errors built
// with fmt.Errorf("%w: ...", sentinel, ...) unwrap back to that sentinel.
func errLine(err error) string {
	reason := err.Error()
	if unwrapped := errors.Unwrap(err); unwrapped != nil {
		reason = unwrapped.Error()
	}
	return fmt.Sprintf("ERR %s\n", reason)
}
