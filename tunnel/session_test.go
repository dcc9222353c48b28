package tunnel

import (
	"net"
	"testing"
	"time"

	"github.com/coalmux/wstun/wire"
)

func newTestSession() *Session {
	s := NewSession("test-session", false, Config{}, nil, nil)
	return s
}

func TestHeartbeatIsNeverEchoed(t *testing.T) {
	s := newTestSession()
	// OnFrame must return without enqueueing anything for HEARTBEAT;
	// Send queues frames even with no socket attached, so an empty send
	// queue shows that no reply was sent (property 7).
	s.OnFrame(wire.Frame{Type: wire.Heartbeat})
	if s.link.BufferedAmount() != 0 {
		t.Fatalf("heartbeat must not enqueue an outbound frame, got %d buffered bytes", s.link.BufferedAmount())
	}
}

func TestLateFrameGetsMatchingClose(t *testing.T) {
	s := newTestSession()
	s.OnFrame(wire.Frame{Type: wire.TCPData, ResourceID: 42, Payload: []byte("x")})
	if got := s.link.BufferedAmount(); got == 0 {
		t.Fatal("expected a TCP_CLOSE to be queued for the unknown stream")
	}
}

func TestLateUDPFrameGetsMatchingClose(t *testing.T) {
	s := newTestSession()
	s.OnFrame(wire.Frame{Type: wire.UDPData, ResourceID: 7, Payload: []byte("x")})
	if got := s.link.BufferedAmount(); got == 0 {
		t.Fatal("expected a UDP_CLOSE to be queued for the unknown stream")
	}
}

func TestLateHTTPBodyChunkGetsBodyEnd(t *testing.T) {
	s := newTestSession()
	s.OnFrame(wire.Frame{Type: wire.HTTPBodyChunk, ResourceID: 9, Payload: []byte("x")})
	if got := s.link.BufferedAmount(); got == 0 {
		t.Fatal("expected an HTTP_BODY_END to be queued for the unknown stream")
	}
}

func TestAtMostOneTerminalFrameResolvesPendingOnce(t *testing.T) {
	s := newTestSession()
	id := s.ids.Next()
	entry, err := s.pending.Register(id)
	if err != nil {
		t.Fatal(err)
	}
	s.OnFrame(wire.Frame{Type: wire.TCPConnectAck, ResourceID: id})
	s.OnFrame(wire.Frame{Type: wire.Error, ResourceID: id, Payload: []byte("too late")})

	res := <-entry.resultCh
	if res.err != nil {
		t.Fatalf("want the ACK to win as the sole terminal reply, got error %v", res.err)
	}
	if s.pending.Len() != 0 {
		t.Fatalf("want pending entry removed after first terminal reply, table has %d", s.pending.Len())
	}
}

func TestGraceWindowExpirationDestroysStreams(t *testing.T) {
	s := NewSession("grace-test", true, Config{ReconnectGraceWindow: 20 * time.Millisecond}, nil, nil)
	id := uint32(5)
	pr, pw := net.Pipe()
	s.tcp.add(id, pr)
	defer pw.Close()

	s.OnDisconnect()
	time.Sleep(60 * time.Millisecond)

	if s.tcp.len() != 0 {
		t.Fatalf("want all tcp streams closed after grace window, got %d", s.tcp.len())
	}
}
