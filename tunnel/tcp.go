package tunnel

import (
	"net"
	"sync"
)

// tcpStream is the egress-side Connection entry for one TCP resourceId: a
// native socket plus the idempotent "closing" guard from §3/§4.5.
type tcpStream struct {
	conn    net.Conn
	closing bool
}

// tcpTable is the per-session map described in §3: resourceId → native TCP
// socket, with a closing set folded into each entry rather than kept
// separately (equivalent, simpler to guard with one mutex).
type tcpTable struct {
	mu      sync.Mutex
	streams map[uint32]*tcpStream
}

func newTCPTable() *tcpTable {
	return &tcpTable{streams: make(map[uint32]*tcpStream)}
}

func (t *tcpTable) add(id uint32, conn net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.streams[id] = &tcpStream{conn: conn}
}

func (t *tcpTable) get(id uint32) (net.Conn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.streams[id]
	if !ok {
		return nil, false
	}
	return s.conn, true
}

// beginClose marks id as closing and returns its socket, unless it was
// already closing — callers use this to make TCP_CLOSE handling and
// read-loop teardown idempotent (§4.5: "close is idempotent").
func (t *tcpTable) beginClose(id uint32) (net.Conn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.streams[id]
	if !ok || s.closing {
		return nil, false
	}
	s.closing = true
	return s.conn, true
}

func (t *tcpTable) remove(id uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.streams, id)
}

func (t *tcpTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.streams)
}

// closeAll forcibly tears down every live stream, used on grace-window
// expiration (§5 "destroys all streams via closeAll/abortAll").
func (t *tcpTable) closeAll() []uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]uint32, 0, len(t.streams))
	for id, s := range t.streams {
		s.conn.Close()
		ids = append(ids, id)
	}
	t.streams = make(map[uint32]*tcpStream)
	return ids
}
