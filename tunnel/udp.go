package tunnel

import (
	"net"
	"sync"
)

// udpStream is the egress-side Connection entry for one UDP resourceId: the
// ephemeral datagram socket allocated for UDP_BIND, plus the closing guard.
type udpStream struct {
	conn    *net.UDPConn
	closing bool
}

type udpTable struct {
	mu      sync.Mutex
	streams map[uint32]*udpStream
}

func newUDPTable() *udpTable {
	return &udpTable{streams: make(map[uint32]*udpStream)}
}

func (t *udpTable) add(id uint32, conn *net.UDPConn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.streams[id] = &udpStream{conn: conn}
}

func (t *udpTable) get(id uint32) (*net.UDPConn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.streams[id]
	if !ok {
		return nil, false
	}
	return s.conn, true
}

func (t *udpTable) beginClose(id uint32) (*net.UDPConn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.streams[id]
	if !ok || s.closing {
		return nil, false
	}
	s.closing = true
	return s.conn, true
}

func (t *udpTable) remove(id uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.streams, id)
}

func (t *udpTable) closeAll() []uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]uint32, 0, len(t.streams))
	for id, s := range t.streams {
		s.conn.Close()
		ids = append(ids, id)
	}
	t.streams = make(map[uint32]*udpStream)
	return ids
}
