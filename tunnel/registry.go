package tunnel

import (
	"sync"

	"github.com/coalmux/wstun/share"
)

// Registry is the egress-side UUID→Session map described in §4.3 point 5
// and §6: a fresh socket whose upgrade URL carries ?id=<uuid> re-binds the
// existing session instead of creating a new one; absence of id means "new
// session".
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	cfg      Config
	log      share.Logger
	egress   *EgressConfig
}

// NewRegistry constructs an empty egress-side session registry.
func NewRegistry(cfg Config, log share.Logger, egress *EgressConfig) *Registry {
	return &Registry{sessions: make(map[string]*Session), cfg: cfg, log: log, egress: egress}
}

// ErrUnknownSession is returned by Reattach when id was supplied but no
// matching session exists (§6: "reject if unknown").
type ErrUnknownSession struct{ ID string }

func (e *ErrUnknownSession) Error() string {
	return "wstun: unknown session id: " + e.ID
}

// New creates a fresh session (no id in the upgrade URL), tracked under its
// own internal id until the initiator's SET UUID reveals the id it will
// actually reconnect with (see rekey).
func (r *Registry) New() *Session {
	s := NewSession("", true, r.cfg, r.log, r.egress)
	s.onDestroy = r.remove
	s.onRekey = r.rekey
	r.mu.Lock()
	r.sessions[s.registryKey] = s
	r.mu.Unlock()
	return s
}

// Reattach resolves id to an existing session for a reconnecting socket, or
// returns ErrUnknownSession. id is the initiator-published session id set
// via SET UUID and re-keyed into this map by rekey, not the egress-side
// session's own internal id.
func (r *Registry) Reattach(id string) (*Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil, &ErrUnknownSession{ID: id}
	}
	return s, nil
}

// rekey moves s's registry entry from oldKey to newKey, invoked by
// Session.onPeerUUID when a SET UUID control message arrives (§4.3 point
// 5). Before that arrives a session is tracked under its own internal id
// so Len/CloseAll still see it; afterward it is tracked under the id a
// reconnecting socket's ?id= will actually carry.
func (r *Registry) rekey(s *Session, oldKey, newKey string) {
	if oldKey == newKey {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[oldKey]; ok && cur == s {
		delete(r.sessions, oldKey)
	}
	r.sessions[newKey] = s
}

func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.registryKey]; ok && cur == s {
		delete(r.sessions, s.registryKey)
	}
}

// Len reports the number of live sessions, for STATS/metrics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll tears down every registered session, used on process shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()
	for _, s := range sessions {
		s.OnTimeout()
		s.link.Close()
	}
}
