package wire

import (
	"bytes"
	"testing"
)

func TestDNSQueryEndianness(t *testing.T) {
	got, err := EncodeDNSQuery("example.com", RecordA)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x0b, 0x00, 'e', 'x', 'a', 'm', 'p', 'l', 'e', '.', 'c', 'o', 'm', 0x00}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeDNSQuery: want %x got %x", want, got)
	}
	name, rt, err := DecodeDNSQuery(got)
	if err != nil {
		t.Fatal(err)
	}
	if name != "example.com" || rt != RecordA {
		t.Errorf("DecodeDNSQuery: got (%q, %v)", name, rt)
	}
}

func TestDNSQueryNameTooLong(t *testing.T) {
	long := make([]byte, MaxDNSNameLength+1)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := EncodeDNSQuery(string(long), RecordA); err == nil {
		t.Error("expected error for over-length DNS name")
	}
}

func TestDNSResponseRoundTrip(t *testing.T) {
	addrs := []string{"1.2.3.4", "5.6.7.8"}
	enc := EncodeDNSResponse(addrs)
	want := []byte{0x02, 0x00, 0x07, 0x00, '1', '.', '2', '.', '3', '.', '4', 0x07, 0x00, '5', '.', '6', '.', '7', '.', '8'}
	if !bytes.Equal(enc, want) {
		t.Errorf("EncodeDNSResponse: want %x got %x", want, enc)
	}
	got, err := DecodeDNSResponse(enc)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "1.2.3.4" || got[1] != "5.6.7.8" {
		t.Errorf("DecodeDNSResponse: got %v", got)
	}
}

func TestUDPBindRoundTrip(t *testing.T) {
	enc := EncodeUDPBind("0.0.0.0", 5353)
	host, port, err := DecodeUDPBind(enc)
	if err != nil {
		t.Fatal(err)
	}
	if host != "0.0.0.0" || port != 5353 {
		t.Errorf("DecodeUDPBind: got (%q, %d)", host, port)
	}
}

func TestUDPDataRoundTrip(t *testing.T) {
	dg := []byte{0xde, 0xad, 0xbe, 0xef}
	enc, err := EncodeUDPData("203.0.113.1", 53, dg)
	if err != nil {
		t.Fatal(err)
	}
	host, port, got, err := DecodeUDPData(enc)
	if err != nil {
		t.Fatal(err)
	}
	if host != "203.0.113.1" || port != 53 || !bytes.Equal(got, dg) {
		t.Errorf("DecodeUDPData: got (%q, %d, %x)", host, port, got)
	}
}

func TestUDPDataRejectsOversizeDatagram(t *testing.T) {
	big := make([]byte, MaxUDPPacketSize+1)
	if _, err := EncodeUDPData("h", 1, big); err == nil {
		t.Error("expected error for oversize datagram")
	}
}

func TestTCPConnectRoundTrip(t *testing.T) {
	enc, err := EncodeTCPConnect("127.0.0.1", 9)
	if err != nil {
		t.Fatal(err)
	}
	host, port, err := DecodeTCPConnect(enc)
	if err != nil {
		t.Fatal(err)
	}
	if host != "127.0.0.1" || port != 9 {
		t.Errorf("DecodeTCPConnect: got (%q, %d)", host, port)
	}
}

func TestHTTPRequestRoundTrip(t *testing.T) {
	m := HTTPRequestMeta{
		Method:  "GET",
		URL:     "http://example.com/x",
		Headers: map[string]string{"Accept": "*/*"},
	}
	enc, err := EncodeHTTPRequest(m)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeHTTPRequest(enc)
	if err != nil {
		t.Fatal(err)
	}
	if got.Method != m.Method || got.URL != m.URL || got.Headers["Accept"] != "*/*" {
		t.Errorf("DecodeHTTPRequest: got %+v", got)
	}
}

func TestHTTPResponseRoundTrip(t *testing.T) {
	m := HTTPResponseMeta{
		Status:     200,
		StatusText: "OK",
		Headers:    map[string]string{"Content-Type": "text/plain"},
		URL:        "http://example.com/x",
		HasBody:    true,
	}
	enc, err := EncodeHTTPResponse(m)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeHTTPResponse(enc)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != 200 || got.StatusText != "OK" || !got.HasBody || got.Headers["Content-Type"] != "text/plain" {
		t.Errorf("DecodeHTTPResponse: got %+v", got)
	}
}
