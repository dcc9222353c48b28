package bjson

import (
	"bytes"
	"math"
	"testing"
)

func TestRoundTripScalars(t *testing.T) {
	cases := []interface{}{
		nil,
		true,
		false,
		int64(0),
		int64(-1),
		int64(1),
		int64(-12345),
		int64(math.MaxInt32),
		3.5,
		"hello world",
		[]byte{1, 2, 3, 0xff},
	}
	for _, c := range cases {
		b, err := Marshal(c)
		if err != nil {
			t.Fatalf("Marshal(%v): %v", c, err)
		}
		got, err := Unmarshal(b)
		if err != nil {
			t.Fatalf("Unmarshal(%v): %v", c, err)
		}
		if bs, ok := c.([]byte); ok {
			gb, ok := got.([]byte)
			if !ok || !bytes.Equal(bs, gb) {
				t.Errorf("round trip mismatch for %v: got %v", c, got)
			}
			continue
		}
		if got != c {
			t.Errorf("round trip mismatch: want %#v got %#v", c, got)
		}
	}
}

func TestRoundTripArray(t *testing.T) {
	in := []interface{}{"example.com", int64(80)}
	b, err := Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Unmarshal(b)
	if err != nil {
		t.Fatal(err)
	}
	arr, ok := out.([]interface{})
	if !ok || len(arr) != 2 {
		t.Fatalf("unexpected decode: %#v", out)
	}
	if arr[0] != "example.com" || arr[1] != int64(80) {
		t.Errorf("unexpected decoded array: %#v", arr)
	}
}

func TestRoundTripObject(t *testing.T) {
	in := map[string]interface{}{
		"method": "GET",
		"url":    "http://example.com/",
		"headers": map[string]interface{}{
			"Accept": "*/*",
		},
	}
	b, err := Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Unmarshal(b)
	if err != nil {
		t.Fatal(err)
	}
	obj, ok := out.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected decode: %#v", out)
	}
	if obj["method"] != "GET" || obj["url"] != "http://example.com/" {
		t.Errorf("unexpected decoded object: %#v", obj)
	}
}

func TestTrailingBytesRejected(t *testing.T) {
	b, _ := Marshal(int64(1))
	b = append(b, 0x00)
	if _, err := Unmarshal(b); err != ErrTrailingBytes {
		t.Errorf("expected ErrTrailingBytes, got %v", err)
	}
}

func TestUndefinedElidedFromObject(t *testing.T) {
	in := map[string]interface{}{
		"a": "x",
		"b": Undefined{},
	}
	b, err := Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Unmarshal(b)
	if err != nil {
		t.Fatal(err)
	}
	obj := out.(map[string]interface{})
	if _, present := obj["b"]; present {
		t.Errorf("expected 'b' to be elided, got %#v", obj)
	}
	if obj["a"] != "x" {
		t.Errorf("unexpected object: %#v", obj)
	}
}
