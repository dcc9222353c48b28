package tunnel

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseControlCommandStripsPrefixAndUppercasesVerb(t *testing.T) {
	cases := map[string]string{
		"/get status": "GET",
		"CMD ping":    "PING",
		"  help  ":    "HELP",
	}
	for in, want := range cases {
		verb, _ := parseControlCommand(in)
		if verb != want {
			t.Errorf("parseControlCommand(%q): want verb %q, got %q", in, want, verb)
		}
	}
}

func TestPingRepliesWithPong(t *testing.T) {
	s := newTestSession()
	resp := s.handleControl("PING")
	var out struct {
		Success bool `json:"success"`
		Message string `json:"message"`
		Data    struct {
			Timestamp int64 `json:"timestamp"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(resp), &out); err != nil {
		t.Fatal(err)
	}
	if !out.Success || out.Message != "PONG" || out.Data.Timestamp == 0 {
		t.Fatalf("want {success:true,message:PONG,data:{timestamp:<int>}}, got %s", resp)
	}
}

func TestGetStatusReturnsConnected(t *testing.T) {
	s := newTestSession()
	resp := s.handleControl("GET STATUS")
	var out struct {
		Success bool `json:"success"`
		Data    struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(resp), &out); err != nil {
		t.Fatal(err)
	}
	if !out.Success || out.Data.Status != "connected" {
		t.Fatalf("want {success:true, data:{status:connected}}, got %s", resp)
	}
}

func TestUnknownCommandYieldsFailure(t *testing.T) {
	s := newTestSession()
	resp := s.handleControl("BOGUS")
	var out struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal([]byte(resp), &out); err != nil {
		t.Fatal(err)
	}
	if out.Success {
		t.Fatal("want success:false for an unknown verb")
	}
}

func TestSetUUIDRecordsPeerIdentity(t *testing.T) {
	s := newTestSession()
	s.handleControl("SET UUID abc-123")
	if s.peerUUID != "abc-123" {
		t.Fatalf("want peerUUID recorded, got %q", s.peerUUID)
	}
}

func TestSetLogLevelRejectedOnInitiator(t *testing.T) {
	s := newTestSession() // isEgress=false
	resp := s.handleControl("SET LOGLEVEL debug")
	if !strings.Contains(resp, "server only") {
		t.Fatalf("want rejection on non-egress session, got %q", resp)
	}
}
