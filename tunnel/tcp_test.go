package tunnel

import (
	"net"
	"testing"
	"time"

	"github.com/coalmux/wstun/wire"
)

// startEchoServer runs a one-shot TCP echo listener and returns its address.
func startEchoServer(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 1024)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				conn.Write(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

// TestTCPConnectHandshakeProducesAckAndData mirrors scenario S1: a
// TCP_CONNECT against a loopback echo server should yield a
// TCP_CONNECT_ACK, then an echoed TCP_DATA frame for whatever the caller
// writes into the native socket.
func TestTCPConnectHandshakeProducesAckAndData(t *testing.T) {
	addr := startEchoServer(t)
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}

	s := NewSession("egress-test", true, Config{}, nil, &EgressConfig{})
	payload, err := wire.EncodeTCPConnect(host, mustAtoi(t, portStr))
	if err != nil {
		t.Fatal(err)
	}

	const id = uint32(1)
	s.OnFrame(wire.Frame{Type: wire.TCPConnect, ResourceID: id, Payload: payload})

	ackFrame := waitForFrame(t, s, id, wire.TCPConnectAck, time.Second)
	if ackFrame.Type != wire.TCPConnectAck {
		t.Fatalf("want TCP_CONNECT_ACK, got %v", ackFrame.Type)
	}

	s.OnFrame(wire.Frame{Type: wire.TCPData, ResourceID: id, Payload: []byte("hello")})

	echoed := waitForFrame(t, s, id, wire.TCPData, time.Second)
	if string(echoed.Payload) != "hello" {
		t.Fatalf("want echoed payload %q, got %q", "hello", echoed.Payload)
	}
}

func mustAtoi(t *testing.T, s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			t.Fatalf("bad port %q", s)
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// waitForFrame drains the link's send queue until it finds a frame of the
// given type for id, failing the test if none arrives in time.
func waitForFrame(t *testing.T, s *Session, id uint32, want wire.MessageType, timeout time.Duration) wire.Frame {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case qf := <-s.link.queue:
			f, err := wire.Decode(qf.data)
			if err != nil {
				t.Fatal(err)
			}
			if f.Type == want && f.ResourceID == id {
				return f
			}
		case <-time.After(10 * time.Millisecond):
		}
	}
	t.Fatalf("timed out waiting for frame type %v on stream %d", want, id)
	return wire.Frame{}
}
