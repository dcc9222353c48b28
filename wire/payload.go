package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/coalmux/wstun/wire/bjson"
)

// RecordType enumerates the DNS_QUERY record type octet.
type RecordType byte

const (
	RecordA     RecordType = 0
	RecordAAAA  RecordType = 1
	RecordANAME RecordType = 2
	RecordCNAME RecordType = 3
	RecordNS    RecordType = 4
	RecordPTR   RecordType = 5
)

func (r RecordType) String() string {
	switch r {
	case RecordA:
		return "A"
	case RecordAAAA:
		return "AAAA"
	case RecordANAME:
		return "ANAME"
	case RecordCNAME:
		return "CNAME"
	case RecordNS:
		return "NS"
	case RecordPTR:
		return "PTR"
	default:
		return fmt.Sprintf("RecordType(%d)", byte(r))
	}
}

// MaxDNSNameLength is the longest name permitted in a DNS_QUERY payload.
const MaxDNSNameLength = 253

// MaxUDPPacketSize is the largest datagram a UDP_DATA payload may carry.
const MaxUDPPacketSize = 65535

// MaxHostLength is the longest host string EncodeUDPData accepts for a
// UDP_DATA payload — generous for any IPv4/IPv6 literal or DNS hostname.
// UDP_BIND payloads are not checked against it.
const MaxHostLength = 255

// MaxUDPDataPayloadSize is the full framed bound of a UDP_DATA payload:
// the length-prefixed host, the port, and the datagram itself. Callers
// that read a whole payload into one fixed buffer should size it to this.
const MaxUDPDataPayloadSize = 2 + MaxHostLength + 2 + MaxUDPPacketSize

func putLengthPrefixedString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func readLengthPrefixedString(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, errors.New("wire: truncated length-prefixed string")
	}
	n := int(binary.LittleEndian.Uint16(b))
	b = b[2:]
	if len(b) < n {
		return "", nil, errors.New("wire: truncated length-prefixed string")
	}
	return string(b[:n]), b[n:], nil
}

// EncodeDNSQuery builds a DNS_QUERY payload: nameLen u16 LE, name utf8,
// recordType u8.
func EncodeDNSQuery(name string, rt RecordType) ([]byte, error) {
	if len(name) > MaxDNSNameLength {
		return nil, fmt.Errorf("wire: DNS name %q exceeds %d bytes", name, MaxDNSNameLength)
	}
	buf := putLengthPrefixedString(nil, name)
	buf = append(buf, byte(rt))
	return buf, nil
}

// DecodeDNSQuery parses a DNS_QUERY payload.
func DecodeDNSQuery(b []byte) (name string, rt RecordType, err error) {
	name, rest, err := readLengthPrefixedString(b)
	if err != nil {
		return "", 0, err
	}
	if len(name) > MaxDNSNameLength {
		return "", 0, fmt.Errorf("wire: DNS name %q exceeds %d bytes", name, MaxDNSNameLength)
	}
	if len(rest) < 1 {
		return "", 0, errors.New("wire: truncated DNS_QUERY record type")
	}
	return name, RecordType(rest[0]), nil
}

// EncodeDNSResponse builds a DNS_RESPONSE payload: count u16 LE, then
// {ipLen u16 LE, ip utf8} * count.
func EncodeDNSResponse(addrs []string) []byte {
	buf := binary.LittleEndian.AppendUint16(nil, uint16(len(addrs)))
	for _, a := range addrs {
		buf = putLengthPrefixedString(buf, a)
	}
	return buf
}

// DecodeDNSResponse parses a DNS_RESPONSE payload.
func DecodeDNSResponse(b []byte) ([]string, error) {
	if len(b) < 2 {
		return nil, errors.New("wire: truncated DNS_RESPONSE count")
	}
	count := int(binary.LittleEndian.Uint16(b))
	b = b[2:]
	addrs := make([]string, 0, count)
	for i := 0; i < count; i++ {
		var ip string
		var err error
		ip, b, err = readLengthPrefixedString(b)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, ip)
	}
	return addrs, nil
}

// EncodeUDPBind builds a UDP_BIND (and UDP_BIND_ACK) payload: hostLen u16
// LE, host utf8, port u16 LE.
func EncodeUDPBind(host string, port uint16) []byte {
	buf := putLengthPrefixedString(nil, host)
	return binary.LittleEndian.AppendUint16(buf, port)
}

// DecodeUDPBind parses a UDP_BIND/UDP_BIND_ACK payload.
func DecodeUDPBind(b []byte) (host string, port uint16, err error) {
	host, rest, err := readLengthPrefixedString(b)
	if err != nil {
		return "", 0, err
	}
	if len(rest) < 2 {
		return "", 0, errors.New("wire: truncated UDP_BIND port")
	}
	return host, binary.LittleEndian.Uint16(rest), nil
}

// EncodeUDPData builds a UDP_DATA payload: hostLen u16 LE, host utf8, port
// u16 LE, datagram bytes (to end of payload).
func EncodeUDPData(host string, port uint16, datagram []byte) ([]byte, error) {
	if len(host) > MaxHostLength {
		return nil, fmt.Errorf("wire: UDP_DATA host %q exceeds %d bytes", host, MaxHostLength)
	}
	if len(datagram) > MaxUDPPacketSize {
		return nil, fmt.Errorf("wire: datagram of %d bytes exceeds %d byte limit", len(datagram), MaxUDPPacketSize)
	}
	buf := putLengthPrefixedString(nil, host)
	buf = binary.LittleEndian.AppendUint16(buf, port)
	return append(buf, datagram...), nil
}

// DecodeUDPData parses a UDP_DATA payload. The returned datagram aliases b.
func DecodeUDPData(b []byte) (host string, port uint16, datagram []byte, err error) {
	host, rest, err := readLengthPrefixedString(b)
	if err != nil {
		return "", 0, nil, err
	}
	if len(rest) < 2 {
		return "", 0, nil, errors.New("wire: truncated UDP_DATA port")
	}
	port = binary.LittleEndian.Uint16(rest)
	datagram = rest[2:]
	if len(datagram) > MaxUDPPacketSize {
		return "", 0, nil, fmt.Errorf("wire: datagram of %d bytes exceeds %d byte limit", len(datagram), MaxUDPPacketSize)
	}
	return host, port, datagram, nil
}

// EncodeTCPConnect builds a TCP_CONNECT payload: the opaque-codec-encoded
// pair (host, port).
func EncodeTCPConnect(host string, port int) ([]byte, error) {
	return bjson.Marshal([]interface{}{host, int64(port)})
}

// DecodeTCPConnect parses a TCP_CONNECT payload.
func DecodeTCPConnect(b []byte) (host string, port int, err error) {
	v, err := bjson.Unmarshal(b)
	if err != nil {
		return "", 0, err
	}
	arr, ok := v.([]interface{})
	if !ok || len(arr) != 2 {
		return "", 0, errors.New("wire: TCP_CONNECT payload is not a (host, port) pair")
	}
	host, ok = arr[0].(string)
	if !ok {
		return "", 0, errors.New("wire: TCP_CONNECT host is not a string")
	}
	portI64, ok := arr[1].(int64)
	if !ok {
		return "", 0, errors.New("wire: TCP_CONNECT port is not an integer")
	}
	return host, int(portI64), nil
}

// HTTPRequestMeta is the decoded form of an HTTP_REQUEST payload.
type HTTPRequestMeta struct {
	Method  string
	URL     string
	Headers map[string]string
}

// EncodeHTTPRequest builds an HTTP_REQUEST payload: the opaque-codec record
// {method, url, headers}.
func EncodeHTTPRequest(m HTTPRequestMeta) ([]byte, error) {
	headers := make(map[string]interface{}, len(m.Headers))
	for k, v := range m.Headers {
		headers[k] = v
	}
	return bjson.Marshal(map[string]interface{}{
		"method":  m.Method,
		"url":     m.URL,
		"headers": headers,
	})
}

// DecodeHTTPRequest parses an HTTP_REQUEST payload.
func DecodeHTTPRequest(b []byte) (HTTPRequestMeta, error) {
	v, err := bjson.Unmarshal(b)
	if err != nil {
		return HTTPRequestMeta{}, err
	}
	obj, ok := v.(map[string]interface{})
	if !ok {
		return HTTPRequestMeta{}, errors.New("wire: HTTP_REQUEST payload is not an object")
	}
	m := HTTPRequestMeta{Headers: map[string]string{}}
	m.Method, _ = obj["method"].(string)
	m.URL, _ = obj["url"].(string)
	if hdrs, ok := obj["headers"].(map[string]interface{}); ok {
		for k, hv := range hdrs {
			if s, ok := hv.(string); ok {
				m.Headers[k] = s
			}
		}
	}
	return m, nil
}

// HTTPResponseMeta is the decoded form of an HTTP_RESPONSE payload.
type HTTPResponseMeta struct {
	Status     int
	StatusText string
	Headers    map[string]string
	URL        string
	HasBody    bool
}

// EncodeHTTPResponse builds an HTTP_RESPONSE payload: the opaque-codec
// record {status, statusText, headers, url, body}. The caller must have
// already stripped transfer-encoding from Headers.
func EncodeHTTPResponse(m HTTPResponseMeta) ([]byte, error) {
	headers := make(map[string]interface{}, len(m.Headers))
	for k, v := range m.Headers {
		headers[k] = v
	}
	return bjson.Marshal(map[string]interface{}{
		"status":     int64(m.Status),
		"statusText": m.StatusText,
		"headers":    headers,
		"url":        m.URL,
		"body":       m.HasBody,
	})
}

// DecodeHTTPResponse parses an HTTP_RESPONSE payload.
func DecodeHTTPResponse(b []byte) (HTTPResponseMeta, error) {
	v, err := bjson.Unmarshal(b)
	if err != nil {
		return HTTPResponseMeta{}, err
	}
	obj, ok := v.(map[string]interface{})
	if !ok {
		return HTTPResponseMeta{}, errors.New("wire: HTTP_RESPONSE payload is not an object")
	}
	m := HTTPResponseMeta{Headers: map[string]string{}}
	if status, ok := obj["status"].(int64); ok {
		m.Status = int(status)
	}
	m.StatusText, _ = obj["statusText"].(string)
	m.URL, _ = obj["url"].(string)
	m.HasBody, _ = obj["body"].(bool)
	if hdrs, ok := obj["headers"].(map[string]interface{}); ok {
		for k, hv := range hdrs {
			if s, ok := hv.(string); ok {
				m.Headers[k] = s
			}
		}
	}
	return m, nil
}
