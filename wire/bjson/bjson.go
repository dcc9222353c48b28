// Package bjson implements the self-describing tagged binary codec used for
// opaque structured sub-payloads on the wire (TCP_CONNECT's (host, port)
// pair, HTTP_REQUEST/HTTP_RESPONSE metadata records). The format is fixed by
// the tunnel protocol; this package exists only to produce and consume bytes
// that match it byte-for-byte, so interoperates with any peer implementation
// regardless of language.
//
// Every value starts with a one-byte tag. Integer and length fields use
// ULEB128; Integer values are additionally ZigZag-encoded so small negative
// numbers stay short.
package bjson

import (
	"errors"
	"fmt"
	"math"
)

// Tag is the one-byte type marker that precedes every encoded value.
type Tag byte

const (
	TagFalse Tag = iota
	TagTrue
	TagNull
	TagUndefined
	TagInteger
	TagFloat
	TagString
	TagBinary
	TagArray
	TagObject
	TagPosInfinity
	TagNegInfinity
	TagNaN
	TagUnknown
)

// Undefined is a distinct sentinel value, distinct from nil, that may only
// appear inside an Array. It is elided entirely from Object values.
type Undefined struct{}

// ErrTrailingBytes is returned when Unmarshal finds bytes left over after
// decoding the single top-level value the format permits.
var ErrTrailingBytes = errors.New("bjson: trailing bytes after top-level value")

// Marshal encodes a single Go value into the tagged binary wire format.
// Supported input types: nil, bool, int/int8/../int64, uint/../uint64,
// float32/float64, string, []byte, []interface{} (Array), and
// map[string]interface{} (Object). Undefined is only valid nested inside a
// []interface{}.
func Marshal(v interface{}) ([]byte, error) {
	var buf []byte
	buf, err := appendValue(buf, v)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// Unmarshal decodes a single top-level tagged value from b. It is an error
// for any bytes to remain after that value.
func Unmarshal(b []byte) (interface{}, error) {
	v, rest, err := decodeValue(b)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, ErrTrailingBytes
	}
	return v, nil
}

func appendValue(buf []byte, v interface{}) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return append(buf, byte(TagNull)), nil
	case Undefined:
		return append(buf, byte(TagUndefined)), nil
	case bool:
		if x {
			return append(buf, byte(TagTrue)), nil
		}
		return append(buf, byte(TagFalse)), nil
	case int:
		return appendInteger(buf, int64(x)), nil
	case int8:
		return appendInteger(buf, int64(x)), nil
	case int16:
		return appendInteger(buf, int64(x)), nil
	case int32:
		return appendInteger(buf, int64(x)), nil
	case int64:
		return appendInteger(buf, x), nil
	case uint:
		return appendInteger(buf, int64(x)), nil
	case uint8:
		return appendInteger(buf, int64(x)), nil
	case uint16:
		return appendInteger(buf, int64(x)), nil
	case uint32:
		return appendInteger(buf, int64(x)), nil
	case uint64:
		return appendInteger(buf, int64(x)), nil
	case float32:
		return appendFloat(buf, float64(x)), nil
	case float64:
		return appendFloat(buf, x), nil
	case string:
		buf = append(buf, byte(TagString))
		buf = appendUleb128(buf, uint64(len(x)))
		return append(buf, x...), nil
	case []byte:
		buf = append(buf, byte(TagBinary))
		buf = appendUleb128(buf, uint64(len(x)))
		return append(buf, x...), nil
	case []interface{}:
		buf = append(buf, byte(TagArray))
		buf = appendUleb128(buf, uint64(len(x)))
		var err error
		for _, elem := range x {
			buf, err = appendValue(buf, elem)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil
	case map[string]interface{}:
		keys := make([]string, 0, len(x))
		for k, elem := range x {
			if _, isUndef := elem.(Undefined); isUndef {
				continue
			}
			keys = append(keys, k)
		}
		buf = append(buf, byte(TagObject))
		buf = appendUleb128(buf, uint64(len(keys)))
		var err error
		for _, k := range keys {
			buf = appendUleb128(buf, uint64(len(k)))
			buf = append(buf, k...)
			buf, err = appendValue(buf, x[k])
			if err != nil {
				return nil, err
			}
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("bjson: unsupported type %T", v)
	}
}

func appendFloat(buf []byte, f float64) []byte {
	switch {
	case math.IsNaN(f):
		return append(buf, byte(TagNaN))
	case math.IsInf(f, 1):
		return append(buf, byte(TagPosInfinity))
	case math.IsInf(f, -1):
		return append(buf, byte(TagNegInfinity))
	}
	buf = append(buf, byte(TagFloat))
	bits := math.Float64bits(f)
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(bits>>(8*i)))
	}
	return buf
}

func appendInteger(buf []byte, n int64) []byte {
	buf = append(buf, byte(TagInteger))
	return appendUleb128(buf, zigzagEncode(n))
}

func zigzagEncode(n int64) uint64 {
	return uint64((n << 1) ^ (n >> 63))
}

func zigzagDecode(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}

func appendUleb128(buf []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			buf = append(buf, b|0x80)
		} else {
			buf = append(buf, b)
			return buf
		}
	}
}

func readUleb128(b []byte) (uint64, []byte, error) {
	var v uint64
	var shift uint
	for i := 0; ; i++ {
		if i >= len(b) {
			return 0, nil, errors.New("bjson: truncated uleb128")
		}
		if shift >= 64 {
			return 0, nil, errors.New("bjson: uleb128 overflow")
		}
		c := b[i]
		v |= uint64(c&0x7f) << shift
		if c&0x80 == 0 {
			return v, b[i+1:], nil
		}
		shift += 7
	}
}

func decodeValue(b []byte) (interface{}, []byte, error) {
	if len(b) == 0 {
		return nil, nil, errors.New("bjson: empty input")
	}
	tag := Tag(b[0])
	rest := b[1:]
	switch tag {
	case TagFalse:
		return false, rest, nil
	case TagTrue:
		return true, rest, nil
	case TagNull:
		return nil, rest, nil
	case TagUndefined:
		return Undefined{}, rest, nil
	case TagPosInfinity:
		return math.Inf(1), rest, nil
	case TagNegInfinity:
		return math.Inf(-1), rest, nil
	case TagNaN:
		return math.NaN(), rest, nil
	case TagUnknown:
		return nil, rest, nil
	case TagInteger:
		u, rest2, err := readUleb128(rest)
		if err != nil {
			return nil, nil, err
		}
		return zigzagDecode(u), rest2, nil
	case TagFloat:
		if len(rest) < 8 {
			return nil, nil, errors.New("bjson: truncated float")
		}
		var bits uint64
		for i := 0; i < 8; i++ {
			bits |= uint64(rest[i]) << (8 * i)
		}
		return math.Float64frombits(bits), rest[8:], nil
	case TagString:
		n, rest2, err := readUleb128(rest)
		if err != nil {
			return nil, nil, err
		}
		if uint64(len(rest2)) < n {
			return nil, nil, errors.New("bjson: truncated string")
		}
		return string(rest2[:n]), rest2[n:], nil
	case TagBinary:
		n, rest2, err := readUleb128(rest)
		if err != nil {
			return nil, nil, err
		}
		if uint64(len(rest2)) < n {
			return nil, nil, errors.New("bjson: truncated binary")
		}
		out := make([]byte, n)
		copy(out, rest2[:n])
		return out, rest2[n:], nil
	case TagArray:
		n, rest2, err := readUleb128(rest)
		if err != nil {
			return nil, nil, err
		}
		arr := make([]interface{}, 0, n)
		for i := uint64(0); i < n; i++ {
			var elem interface{}
			elem, rest2, err = decodeValue(rest2)
			if err != nil {
				return nil, nil, err
			}
			arr = append(arr, elem)
		}
		return arr, rest2, nil
	case TagObject:
		n, rest2, err := readUleb128(rest)
		if err != nil {
			return nil, nil, err
		}
		obj := make(map[string]interface{}, n)
		for i := uint64(0); i < n; i++ {
			var klen uint64
			klen, rest2, err = readUleb128(rest2)
			if err != nil {
				return nil, nil, err
			}
			if uint64(len(rest2)) < klen {
				return nil, nil, errors.New("bjson: truncated object key")
			}
			key := string(rest2[:klen])
			rest2 = rest2[klen:]
			var val interface{}
			val, rest2, err = decodeValue(rest2)
			if err != nil {
				return nil, nil, err
			}
			obj[key] = val
		}
		return obj, rest2, nil
	default:
		return nil, nil, fmt.Errorf("bjson: unknown tag 0x%02x", byte(tag))
	}
}
