package tunnel

import (
	"io"
	"testing"
	"time"
)

func TestPendingResolveIsIdempotent(t *testing.T) {
	tbl := NewPendingTable(0)
	e, err := tbl.Register(1)
	if err != nil {
		t.Fatal(err)
	}
	e.resolve([]byte("first"))
	e.resolve([]byte("second"))
	e.reject(errUpstream("late"))

	res := <-e.resultCh
	if string(res.payload) != "first" {
		t.Fatalf("want first resolve to win, got %q", res.payload)
	}
	select {
	case <-e.resultCh:
		t.Fatal("expected exactly one terminal message")
	default:
	}
}

func TestPendingTableRejectsWhenFull(t *testing.T) {
	tbl := NewPendingTable(1)
	if _, err := tbl.Register(1); err != nil {
		t.Fatal(err)
	}
	if _, err := tbl.Register(2); err == nil {
		t.Fatal("expected queue-full error")
	}
}

func TestPendingTableSweepRejectsStale(t *testing.T) {
	tbl := NewPendingTable(0)
	e, _ := tbl.Register(1)
	e.createdAt = time.Now().Add(-3 * time.Minute)
	n := tbl.Sweep(2 * time.Minute)
	if n != 1 {
		t.Fatalf("want 1 swept entry, got %d", n)
	}
	res := <-e.resultCh
	if res.err == nil || res.err.Kind != KindTimeout {
		t.Fatalf("want timeout error, got %+v", res.err)
	}
	if tbl.Len() != 0 {
		t.Fatalf("want empty table after sweep, got %d", tbl.Len())
	}
}

func TestPendingUnknownResourceIDResolveIsNoop(t *testing.T) {
	tbl := NewPendingTable(0)
	if tbl.Resolve(99, nil) {
		t.Fatal("resolving an unknown id should report false")
	}
}

func TestStreamSinkOrderingAndEOF(t *testing.T) {
	s := NewStreamSink(4)
	s.Push([]byte("ab"))
	s.Push([]byte("cd"))
	s.Close()

	buf := make([]byte, 1)
	var got []byte
	for {
		n, err := s.Read(buf)
		got = append(got, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
	}
	if string(got) != "abcd" {
		t.Fatalf("want in-order concatenation abcd, got %q", got)
	}
}

func TestStreamSinkCloseWithErrorPropagates(t *testing.T) {
	s := NewStreamSink(1)
	wantErr := errUpstream("boom")
	s.CloseWithError(wantErr)
	if s.Push([]byte("x")) {
		t.Fatal("push after close should fail")
	}
	buf := make([]byte, 4)
	_, err := s.Read(buf)
	if err != wantErr {
		t.Fatalf("want %v, got %v", wantErr, err)
	}
}
