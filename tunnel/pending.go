package tunnel

import (
	"io"
	"sync"
	"time"
)

// pendingResult is what eventually resolves a pendingEntry's awaiter: either
// a reply payload or a terminal error.
type pendingResult struct {
	payload []byte
	err     *Error
}

// pendingEntry is the initiator-side PendingHandler: it joins an
// asynchronous awaiter to the egress peer's first reply and optionally
// feeds a lazy byte sequence (body, for TCP_DATA or HTTP_BODY_CHUNK).
type pendingEntry struct {
	createdAt time.Time
	resultCh  chan pendingResult
	body      *StreamSink // non-nil once a stream of data frames is expected

	mu       sync.Mutex
	resolved bool
}

func newPendingEntry() *pendingEntry {
	return &pendingEntry{
		createdAt: time.Now(),
		resultCh:  make(chan pendingResult, 1),
	}
}

// resolve delivers the first reply. Only the first call has any effect,
// matching the "at most one terminal message" invariant.
func (p *pendingEntry) resolve(payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resolved {
		return
	}
	p.resolved = true
	p.resultCh <- pendingResult{payload: payload}
}

func (p *pendingEntry) reject(err *Error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resolved {
		return
	}
	p.resolved = true
	p.resultCh <- pendingResult{err: err}
	if p.body != nil {
		p.body.CloseWithError(err)
	}
}

// PendingTable is the initiator-side table of in-flight streams, keyed by
// resourceId. Access is guarded by a single mutex, the Go analogue of the
// spec's single-threaded-scheduler serializability requirement (§5).
type PendingTable struct {
	mu      sync.Mutex
	entries map[uint32]*pendingEntry
	max     int
}

// NewPendingTable constructs an empty table bounded at max entries.
func NewPendingTable(max int) *PendingTable {
	if max <= 0 {
		max = MaxPendingRequests
	}
	return &PendingTable{entries: make(map[uint32]*pendingEntry), max: max}
}

// Register inserts a fresh pending entry for id, failing fast if the table
// is at capacity.
func (t *PendingTable) Register(id uint32) (*pendingEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.entries) >= t.max {
		return nil, errQueueFull("pending table full")
	}
	e := newPendingEntry()
	t.entries[id] = e
	return e, nil
}

// AttachBody installs a streaming sink on an already-registered entry.
func (t *PendingTable) AttachBody(id uint32, sink *StreamSink) {
	t.mu.Lock()
	e := t.entries[id]
	t.mu.Unlock()
	if e != nil {
		e.body = sink
	}
}

// Get returns the entry for id, if any, without removing it.
func (t *PendingTable) Get(id uint32) (*pendingEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	return e, ok
}

// Body returns the streaming sink attached to id, if any.
func (t *PendingTable) Body(id uint32) *StreamSink {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[id]; ok {
		return e.body
	}
	return nil
}

// Remove drops the entry for id, returning it if present.
func (t *PendingTable) Remove(id uint32) (*pendingEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	delete(t.entries, id)
	return e, ok
}

// Resolve finalizes id's awaiter with a reply payload. An entry with no
// body attached is one-shot and is dropped immediately, matching the
// design's "one-shot reply" channel. An entry with a body attached (a
// TCP/UDP/HTTP stream, per §9's two-channel model) survives the reply: it
// stays addressable by Body/Get so the multi-shot data channel keeps
// delivering, and is only dropped when its terminal frame arrives via
// Remove (called from the *_CLOSE/HTTP_BODY_END handlers).
func (t *PendingTable) Resolve(id uint32, payload []byte) bool {
	t.mu.Lock()
	e, ok := t.entries[id]
	if ok && e.body == nil {
		delete(t.entries, id)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	e.resolve(payload)
	return true
}

// Reject finalizes id's awaiter with an error and drops the entry.
func (t *PendingTable) Reject(id uint32, err *Error) bool {
	e, ok := t.Remove(id)
	if !ok {
		return false
	}
	e.reject(err)
	return true
}

// Len reports the current table size, for tests and STATS.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Sweep removes and rejects every entry older than maxAge, independent of
// any per-call timeout (the reaper, §3/§5).
func (t *PendingTable) Sweep(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	t.mu.Lock()
	var stale []*pendingEntry
	for id, e := range t.entries {
		if e.createdAt.Before(cutoff) {
			stale = append(stale, e)
			delete(t.entries, id)
		}
	}
	t.mu.Unlock()
	for _, e := range stale {
		e.reject(errTimeout("pending entry exceeded reaper max age"))
	}
	return len(stale)
}

// RejectAll rejects and drops every entry in the table, used on transport
// disconnect past the grace window.
func (t *PendingTable) RejectAll(err *Error) {
	t.mu.Lock()
	all := t.entries
	t.entries = make(map[uint32]*pendingEntry)
	t.mu.Unlock()
	for _, e := range all {
		e.reject(err)
	}
}

// StreamSink is the Go analogue of the spec's "lazy byte sequence": a
// channel-fed consumer-side stream used both for TCP_DATA replay and for
// HTTP_BODY_CHUNK replay. Exactly one goroutine is expected to Push/Close;
// any number may Read.
type StreamSink struct {
	ch      chan []byte
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	err     error
	closed  bool
	leftover []byte
}

// NewStreamSink constructs an empty sink with the given channel depth.
func NewStreamSink(depth int) *StreamSink {
	if depth <= 0 {
		depth = 64
	}
	return &StreamSink{
		ch:   make(chan []byte, depth),
		done: make(chan struct{}),
	}
}

// Push appends a chunk. It returns false if the sink is already closed, in
// which case the caller should send *_CLOSE upstream per §4.4 step 3.
func (s *StreamSink) Push(b []byte) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()
	select {
	case s.ch <- b:
		return true
	case <-s.done:
		return false
	}
}

// Close finalizes the sink with io.EOF semantics (no error).
func (s *StreamSink) Close() {
	s.CloseWithError(nil)
}

// CloseWithError finalizes the sink; a non-nil err propagates to Read.
// Idempotent, matching the spec's TCP_CLOSE / HTTP_BODY_END handling.
func (s *StreamSink) CloseWithError(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

// Read implements io.Reader by draining queued chunks in FIFO order,
// matching the spec's ordering requirement for a single stream (§5).
func (s *StreamSink) Read(p []byte) (int, error) {
	s.mu.Lock()
	if len(s.leftover) > 0 {
		n := copy(p, s.leftover)
		s.leftover = s.leftover[n:]
		s.mu.Unlock()
		return n, nil
	}
	s.mu.Unlock()

	select {
	case b, ok := <-s.ch:
		if !ok {
			return s.finalRead()
		}
		n := copy(p, b)
		if n < len(b) {
			s.mu.Lock()
			s.leftover = b[n:]
			s.mu.Unlock()
		}
		return n, nil
	case <-s.done:
		// Drain any chunks queued before the close raced us here.
		select {
		case b, ok := <-s.ch:
			if ok {
				n := copy(p, b)
				if n < len(b) {
					s.mu.Lock()
					s.leftover = b[n:]
					s.mu.Unlock()
				}
				return n, nil
			}
		default:
		}
		return s.finalRead()
	}
}

func (s *StreamSink) finalRead() (int, error) {
	s.mu.Lock()
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return 0, io.EOF
}
