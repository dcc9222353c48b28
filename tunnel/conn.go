package tunnel

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/coalmux/wstun/wire"
)

// TCPConn is the initiator-side handle returned by Session.ConnectTCP. It
// implements net.Conn over a tunneled stream: writes become TCP_DATA
// frames, reads drain the stream's StreamSink in the order frames arrived.
type TCPConn struct {
	sess *Session
	id   uint32
	body *StreamSink

	closeOnce sync.Once
}

var _ net.Conn = (*TCPConn)(nil)

func (c *TCPConn) Read(p []byte) (int, error) {
	return c.body.Read(p)
}

// Write sends p as one or more TCP_DATA frames, yielding cooperatively
// while the link is backpressured (§4.5 mirrored for the initiator side).
func (c *TCPConn) Write(p []byte) (int, error) {
	if err := c.sess.waitForCapacity(MaxWSBufferedTCP); err != nil {
		return 0, err
	}
	c.sess.link.Send(wire.Frame{Type: wire.TCPData, ResourceID: c.id, Payload: p})
	return len(p), nil
}

// Close sends TCP_CLOSE to the peer and drops the local pending entry.
// Idempotent.
func (c *TCPConn) Close() error {
	c.closeOnce.Do(func() {
		c.sess.link.Send(wire.Frame{Type: wire.TCPClose, ResourceID: c.id})
		c.sess.pending.Remove(c.id)
		c.sess.connStats.Close()
		c.body.Close()
	})
	return nil
}

func (c *TCPConn) LocalAddr() net.Addr                { return tunnelAddr(c.id) }
func (c *TCPConn) RemoteAddr() net.Addr                { return tunnelAddr(c.id) }
func (c *TCPConn) SetDeadline(t time.Time) error       { return nil }
func (c *TCPConn) SetReadDeadline(t time.Time) error   { return nil }
func (c *TCPConn) SetWriteDeadline(t time.Time) error  { return nil }

type tunnelAddr uint32

func (a tunnelAddr) Network() string { return "wstun" }
func (a tunnelAddr) String() string  { return "wstun-stream" }

// UDPBinding is the initiator-side handle returned by Session.BindUDP.
type UDPBinding struct {
	sess       *Session
	id         uint32
	BoundHost  string
	BoundPort  uint16
	incoming   *StreamSink // reused as a datagram queue: each Push is one decoded UDP_DATA payload
	closeOnce  sync.Once
}

// datagram is one received UDP_DATA payload, decoded.
type datagram struct {
	Host string
	Port uint16
	Data []byte
}

// Send transmits one datagram to (host, port) through the egress peer.
func (u *UDPBinding) Send(host string, port uint16, data []byte) error {
	payload, err := wire.EncodeUDPData(host, port, data)
	if err != nil {
		return err
	}
	u.sess.link.Send(wire.Frame{Type: wire.UDPData, ResourceID: u.id, Payload: payload})
	return nil
}

// Recv blocks for the next inbound datagram, or returns io.EOF once the
// binding is closed.
func (u *UDPBinding) Recv() (*datagram, error) {
	buf := make([]byte, wire.MaxUDPDataPayloadSize)
	n, err := u.incoming.Read(buf)
	if err != nil {
		return nil, err
	}
	host, port, dg, derr := wire.DecodeUDPData(buf[:n])
	if derr != nil {
		return nil, derr
	}
	return &datagram{Host: host, Port: port, Data: dg}, nil
}

func (u *UDPBinding) Close() error {
	u.closeOnce.Do(func() {
		u.sess.link.Send(wire.Frame{Type: wire.UDPClose, ResourceID: u.id})
		u.sess.pending.Remove(u.id)
		u.incoming.Close()
	})
	return nil
}

// HTTPResponse is the initiator-side result of Session.FetchHTTP: metadata
// plus a body stream the caller reads lazily, matching the spec's
// synchronously-wired-before-first-chunk guarantee (§4.4, §4.8).
type HTTPResponse struct {
	wire.HTTPResponseMeta
	Body io.ReadCloser
}

type httpBodyReadCloser struct {
	*StreamSink
}

func (h httpBodyReadCloser) Close() error {
	h.StreamSink.Close()
	return nil
}
