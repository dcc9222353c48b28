package socks5proxy

import (
	"testing"
	"time"

	"github.com/coalmux/wstun/share"
	"github.com/coalmux/wstun/tunnel"
)

func TestDialLocalNegotiatesSocks5Handshake(t *testing.T) {
	sess := tunnel.NewSession("socks-test", false, tunnel.Config{}, nil, nil)
	p, err := New(sess, share.NewLogger("test", share.LogLevelInfo))
	if err != nil {
		t.Fatal(err)
	}

	conn, err := p.DialLocal()
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(time.Second))
	// no-auth method negotiation: version 5, one method, "no auth" (0x00)
	if _, err := conn.Write([]byte{0x05, 0x01, 0x00}); err != nil {
		t.Fatal(err)
	}
	reply := make([]byte, 2)
	if _, err := conn.Read(reply); err != nil {
		t.Fatal(err)
	}
	if reply[0] != 0x05 || reply[1] != 0x00 {
		t.Fatalf("want socks5 no-auth selection [5 0], got %v", reply)
	}
}

func TestParsePort(t *testing.T) {
	cases := map[string]int{
		"80":    80,
		"8080":  8080,
		"1":     1,
		"65535": 65535,
	}
	for in, want := range cases {
		got, err := parsePort(in)
		if err != nil {
			t.Fatalf("parsePort(%q): %s", in, err)
		}
		if got != want {
			t.Fatalf("parsePort(%q): want %d, got %d", in, want, got)
		}
	}
}

func TestParsePortRejectsNonDigits(t *testing.T) {
	if _, err := parsePort("80x"); err == nil {
		t.Fatal("want error for non-numeric port")
	}
}
