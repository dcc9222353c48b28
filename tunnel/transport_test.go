package tunnel

import (
	"testing"

	"github.com/coalmux/wstun/wire"
)

// TestQueueBoundDropsNewestWithoutReordering exercises property 10: once
// the queue is full, excess frames are dropped and the retained frames are
// never reordered.
func TestQueueBoundDropsNewestWithoutReordering(t *testing.T) {
	const maxQueue = 10
	const extra = 4
	l := NewLink(Config{MaxQueueSize: maxQueue}.withDefaults(false), nil, noopLinkHandler{})

	for i := 0; i < maxQueue+extra; i++ {
		l.Send(wire.Frame{Type: wire.TCPData, ResourceID: uint32(i + 1)})
	}

	if got := len(l.queue); got != maxQueue {
		t.Fatalf("want exactly %d frames retained, got %d", maxQueue, got)
	}

	for i := 0; i < maxQueue; i++ {
		qf := <-l.queue
		f, err := wire.Decode(qf.data)
		if err != nil {
			t.Fatal(err)
		}
		if f.ResourceID != uint32(i+1) {
			t.Fatalf("frame %d: want resourceId %d (FIFO, no reorder), got %d", i, i+1, f.ResourceID)
		}
	}
}

type noopLinkHandler struct{}

func (noopLinkHandler) OnFrame(f wire.Frame) {}
func (noopLinkHandler) OnText(msg string)    {}
func (noopLinkHandler) OnDisconnect()        {}
func (noopLinkHandler) OnTimeout()           {}
