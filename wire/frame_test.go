package wire

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	cases := []Frame{
		{Type: TCPData, ResourceID: 1, Payload: []byte("hello")},
		{Type: Heartbeat, ResourceID: 0, Payload: nil},
		{Type: MessageType(0x99), ResourceID: 0xffffffff, Payload: []byte{0x01, 0x02}},
	}
	for _, f := range cases {
		enc := Encode(f)
		got, err := Decode(enc)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got.Type != f.Type || got.ResourceID != f.ResourceID || !bytes.Equal(got.Payload, f.Payload) {
			t.Errorf("round trip mismatch: want %+v got %+v", f, got)
		}
	}
}

func TestFrameEnvelopeEndianness(t *testing.T) {
	got := Encode(Frame{Type: HTTPRequest, ResourceID: 0x01020304, Payload: nil})
	want := []byte{0x31, 0x01, 0x02, 0x03, 0x04}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode: want %x got %x", want, got)
	}
}

func TestDecodeFrameTooShort(t *testing.T) {
	for _, n := range []int{0, 1, 4} {
		if _, err := Decode(make([]byte, n)); err != ErrFrameTooShort {
			t.Errorf("Decode(%d bytes): want ErrFrameTooShort, got %v", n, err)
		}
	}
}

func TestUnknownMessageTypeIsNotKnown(t *testing.T) {
	if MessageType(0x05).IsKnown() {
		t.Error("0x05 should not be a known message type")
	}
	if !TCPData.IsKnown() {
		t.Error("TCPData should be known")
	}
}
