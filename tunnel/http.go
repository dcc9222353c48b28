package tunnel

import (
	"context"
	"sync"
)

// httpTable is the egress-side Connection state for HTTP_REQUEST streams:
// resourceId → cancellation token, plus a second map resourceId →
// request-body sink for streamed uploads (§3).
type httpTable struct {
	mu      sync.Mutex
	cancels map[uint32]context.CancelFunc
	sinks   map[uint32]*StreamSink
}

func newHTTPTable() *httpTable {
	return &httpTable{
		cancels: make(map[uint32]context.CancelFunc),
		sinks:   make(map[uint32]*StreamSink),
	}
}

func (t *httpTable) addCancel(id uint32, cancel context.CancelFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancels[id] = cancel
}

func (t *httpTable) addSink(id uint32, sink *StreamSink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sinks[id] = sink
}

func (t *httpTable) sink(id uint32) *StreamSink {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sinks[id]
}

func (t *httpTable) cancel(id uint32) {
	t.mu.Lock()
	c := t.cancels[id]
	delete(t.cancels, id)
	s := t.sinks[id]
	delete(t.sinks, id)
	t.mu.Unlock()
	if c != nil {
		c()
	}
	if s != nil {
		s.Close()
	}
}

func (t *httpTable) closeAll() {
	t.mu.Lock()
	cancels := t.cancels
	sinks := t.sinks
	t.cancels = make(map[uint32]context.CancelFunc)
	t.sinks = make(map[uint32]*StreamSink)
	t.mu.Unlock()
	for _, c := range cancels {
		c()
	}
	for _, s := range sinks {
		s.Close()
	}
}
