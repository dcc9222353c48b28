// Package wire implements the binary framing and sub-payload encodings of
// the tunnel multiplexing protocol: the 5-byte frame envelope, the
// little-endian length-prefixed TCP/UDP/DNS records, and the boundary
// between binary data frames and text control frames.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MessageType identifies the kind of a binary frame. Every octet not listed
// below is reserved; decoders must treat it as an unknown, droppable frame
// rather than a fatal transport error.
type MessageType byte

const (
	TCPConnect    MessageType = 0x01
	TCPConnectAck MessageType = 0x02
	TCPData       MessageType = 0x03
	TCPClose      MessageType = 0x04

	UDPBind    MessageType = 0x11
	UDPBindAck MessageType = 0x12
	UDPData    MessageType = 0x13
	UDPClose   MessageType = 0x14

	DNSQuery    MessageType = 0x21
	DNSResponse MessageType = 0x22

	HTTPRequest   MessageType = 0x31
	HTTPResponse  MessageType = 0x32
	HTTPBodyChunk MessageType = 0x33
	HTTPBodyEnd   MessageType = 0x34

	Error     MessageType = 0xfe
	Heartbeat MessageType = 0xff
)

func (t MessageType) String() string {
	switch t {
	case TCPConnect:
		return "TCP_CONNECT"
	case TCPConnectAck:
		return "TCP_CONNECT_ACK"
	case TCPData:
		return "TCP_DATA"
	case TCPClose:
		return "TCP_CLOSE"
	case UDPBind:
		return "UDP_BIND"
	case UDPBindAck:
		return "UDP_BIND_ACK"
	case UDPData:
		return "UDP_DATA"
	case UDPClose:
		return "UDP_CLOSE"
	case DNSQuery:
		return "DNS_QUERY"
	case DNSResponse:
		return "DNS_RESPONSE"
	case HTTPRequest:
		return "HTTP_REQUEST"
	case HTTPResponse:
		return "HTTP_RESPONSE"
	case HTTPBodyChunk:
		return "HTTP_BODY_CHUNK"
	case HTTPBodyEnd:
		return "HTTP_BODY_END"
	case Error:
		return "ERROR"
	case Heartbeat:
		return "HEARTBEAT"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", byte(t))
	}
}

// IsKnown reports whether t is one of the closed enum values understood by
// this implementation.
func (t MessageType) IsKnown() bool {
	switch t {
	case TCPConnect, TCPConnectAck, TCPData, TCPClose,
		UDPBind, UDPBindAck, UDPData, UDPClose,
		DNSQuery, DNSResponse,
		HTTPRequest, HTTPResponse, HTTPBodyChunk, HTTPBodyEnd,
		Error, Heartbeat:
		return true
	}
	return false
}

// FrameHeaderSize is the fixed size, in bytes, of every frame's envelope
// (type + resourceId), not counting the payload.
const FrameHeaderSize = 5

// Frame is the envelope carried by every binary transport message: a
// message type, the numeric stream it belongs to, and an opaque payload
// whose length is implicit from the underlying transport message boundary.
type Frame struct {
	Type       MessageType
	ResourceID uint32
	Payload    []byte
}

// ErrFrameTooShort is returned by Decode when fewer than FrameHeaderSize
// bytes are available.
var ErrFrameTooShort = errors.New("wire: frame too short")

// Encode serializes f into a newly allocated byte slice: one type byte,
// four big-endian resourceId bytes, then the payload verbatim.
func Encode(f Frame) []byte {
	buf := make([]byte, FrameHeaderSize+len(f.Payload))
	buf[0] = byte(f.Type)
	binary.BigEndian.PutUint32(buf[1:5], f.ResourceID)
	copy(buf[5:], f.Payload)
	return buf
}

// Decode parses a binary transport message into a Frame. The returned
// Frame's Payload aliases b; callers that retain it past the lifetime of
// the underlying transport buffer must copy it first.
func Decode(b []byte) (Frame, error) {
	if len(b) < FrameHeaderSize {
		return Frame{}, ErrFrameTooShort
	}
	f := Frame{
		Type:       MessageType(b[0]),
		ResourceID: binary.BigEndian.Uint32(b[1:5]),
		Payload:    b[5:],
	}
	return f, nil
}
