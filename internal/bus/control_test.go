package bus_test

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/busline/busd/internal/bus"
)

func startControl(t *testing.T, ctx context.Context, r *bus.Registry) (net.Listener, *bufio.Reader, net.Conn) {
	t.Helper()
	l := bus.NewControlListener(r, bus.NewDiagnostics(r), nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go l.Serve(ctx, ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	return ln, bufio.NewReader(conn), conn
}

func sendLine(t *testing.T, conn net.Conn, reader *bufio.Reader, line string) string {
	t.Helper()
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("Write(%q): %v", line, err)
	}
	reply, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString after %q: %v", line, err)
	}
	return reply
}

func TestControlRegisterSubscribeListUnsubscribeDeregister(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := bus.NewRegistry()
	ln, reader, conn := startControl(t, ctx, r)
	defer ln.Close()
	defer conn.Close()

	reply := sendLine(t, conn, reader, "REGISTER c1 tcp://127.0.0.1:9001")
	if reply != "OK REGISTERED c1\n" {
		t.Fatalf("REGISTER reply = %q", reply)
	}

	reply = sendLine(t, conn, reader, "SUBSCRIBE c1 greet")
	if reply != "OK\n" {
		t.Fatalf("SUBSCRIBE reply = %q", reply)
	}

	conn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write([]byte("LIST\n")); err != nil {
		t.Fatalf("Write LIST: %v", err)
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if line != "c1 tcp://127.0.0.1:9001 greet\n" {
		t.Fatalf("LIST entry = %q", line)
	}
	line, err = reader.ReadString('\n')
	if err != nil || line != "END\n" {
		t.Fatalf("LIST terminator = %q, err=%v", line, err)
	}

	reply = sendLine(t, conn, reader, "UNSUBSCRIBE c1 greet")
	if reply != "OK\n" {
		t.Fatalf("UNSUBSCRIBE reply = %q", reply)
	}

	reply = sendLine(t, conn, reader, "DEREGISTER c1")
	if reply != "OK\n" {
		t.Fatalf("DEREGISTER reply = %q", reply)
	}

	reply = sendLine(t, conn, reader, "SUBSCRIBE c1 greet")
	if reply != "ERR UNKNOWN_CONSUMER\n" {
		t.Fatalf("SUBSCRIBE after deregister = %q", reply)
	}
}

func TestControlReRegisterReplaces(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := bus.NewRegistry()
	ln, reader, conn := startControl(t, ctx, r)
	defer ln.Close()
	defer conn.Close()

	sendLine(t, conn, reader, "REGISTER c1 tcp://127.0.0.1:9001")
	reply := sendLine(t, conn, reader, "REGISTER c1 tcp://127.0.0.1:9002")
	if reply != "OK REPLACED c1\n" {
		t.Fatalf("re-REGISTER reply = %q", reply)
	}
}

func TestControlUnknownCommand(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := bus.NewRegistry()
	ln, reader, conn := startControl(t, ctx, r)
	defer ln.Close()
	defer conn.Close()

	reply := sendLine(t, conn, reader, "FROBNICATE x y z")
	if reply != "ERR UNKNOWN_COMMAND\n" {
		t.Fatalf("reply = %q, want bare ERR UNKNOWN_COMMAND", reply)
	}
}

func TestControlBadArguments(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := bus.NewRegistry()
	ln, reader, conn := startControl(t, ctx, r)
	defer ln.Close()
	defer conn.Close()

	reply := sendLine(t, conn, reader, "REGISTER onlyid")
	if reply != "ERR BAD_ARGS\n" {
		t.Fatalf("reply = %q", reply)
	}
	reply = sendLine(t, conn, reader, "SUBSCRIBE onlyoneArg")
	if reply != "ERR BAD_ARGS\n" {
		t.Fatalf("reply = %q", reply)
	}
}

func TestControlQuitClosesConnection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := bus.NewRegistry()
	ln, reader, conn := startControl(t, ctx, r)
	defer ln.Close()
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write([]byte("QUIT\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	line, err := reader.ReadString('\n')
	if err != nil || line != "BYE\n" {
		t.Fatalf("QUIT reply = %q, err=%v", line, err)
	}

	buf := make([]byte, 1)
	if _, err := reader.Read(buf); err == nil {
		t.Fatal("expected connection to be closed after QUIT")
	}
}

func TestControlListEmptyRegistry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := bus.NewRegistry()
	ln, reader, conn := startControl(t, ctx, r)
	defer ln.Close()
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write([]byte("LIST\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	line, err := reader.ReadString('\n')
	if err != nil || line != "END\n" {
		t.Fatalf("LIST on empty registry = %q, err=%v", line, err)
	}
}
