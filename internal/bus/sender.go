package bus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/bassosimone/errclass"
)

// Sender opens a TCP connection to a consumer endpoint, writes a payload,
// and closes — no pooling, no reuse, one attempt per call. This mirrors the
// single-shot net.DialTimeout dial in the teacher's proxy forwarder
// (server/proxy/tcp.go in the pack), generalized to classify failures into
// the §7 taxonomy instead of just relaying bytes.
type Sender struct {
	// Dialer allows tests to substitute a fake dialer; nil uses net.Dialer.
	Dialer func(ctx context.Context, network, address string) (net.Conn, error)
}

// NewSender returns a Sender that dials with the standard library.
func NewSender() *Sender {
	return &Sender{}
}

// Send opens endpoint.Address, writes payload+"\n" with a deadline of
// timeout, and closes. On failure it returns an error wrapping one of
// ErrConnectFailed, ErrWriteFailed, or ErrSendTimeout; the underlying error
// is included in the message text only, not wrapped.
func (s *Sender) Send(ctx context.Context, endpoint ConsumerEndpoint, payload string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := s.dial(dialCtx, "tcp", endpoint.Address)
	if err != nil {
		return classifyDialError(err)
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("%w: set write deadline: %s", ErrWriteFailed, err)
	}
	if _, err := conn.Write([]byte(payload + "\n")); err != nil {
		return classifyWriteError(err)
	}
	return nil
}

func (s *Sender) dial(ctx context.Context, network, address string) (net.Conn, error) {
	if s.Dialer != nil {
		return s.Dialer(ctx, network, address)
	}
	var d net.Dialer
	return d.DialContext(ctx, network, address)
}

// classifyDialError maps a dial failure to the §7 taxonomy, using the
// pack's bassosimone/errclass classifier (the same package the teacher's
// sibling repo bassosimone-nop uses for its TCP transports) to recognize
// the underlying syscall error rather than string-matching err.Error().
func classifyDialError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return fmt.Errorf("%w: %s", ErrSendTimeout, err)
	}
	switch errclass.New(err) {
	case errclass.ETIMEDOUT:
		return fmt.Errorf("%w: %s", ErrSendTimeout, err)
	default:
		return fmt.Errorf("%w: %s", ErrConnectFailed, err)
	}
}

// classifyWriteError maps a post-connect write failure to the §7 taxonomy.
func classifyWriteError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return fmt.Errorf("%w: %s", ErrSendTimeout, err)
	}
	return fmt.Errorf("%w: %s", ErrWriteFailed, err)
}
