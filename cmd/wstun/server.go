package main

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/coalmux/wstun/share"
	"github.com/coalmux/wstun/tunnel"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
	Subprotocols:    []string{tunnel.ProtocolVersion},
}

// egressServer accepts websocket connections from initiators and binds
// each upgrade to a tunnel.Session, grounded on the teacher's
// Server.handleClientHandler upgrade check.
type egressServer struct {
	log      share.Logger
	registry *tunnel.Registry
	http     *share.HTTPServer
}

func newEgressServer(log share.Logger, cfg tunnel.Config, egress *tunnel.EgressConfig) *egressServer {
	return &egressServer{
		log:      log,
		registry: tunnel.NewRegistry(cfg, log, egress),
		http:     share.NewHTTPServer(log),
	}
}

func (e *egressServer) run(ctx context.Context, addr string) error {
	e.log.ILogf("Listening on %s...", addr)
	h := http.HandlerFunc(e.handleUpgrade)
	return e.http.ListenAndServe(ctx, addr, h)
}

func (e *egressServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if proto := r.Header.Get("Sec-WebSocket-Protocol"); proto != tunnel.ProtocolVersion {
		e.log.ILogf("rejecting upgrade with unsupported protocol %q", proto)
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.log.DLogf("upgrade failed: %s", err)
		return
	}

	id := r.URL.Query().Get("id")
	var sess *tunnel.Session
	if id != "" {
		sess, err = e.registry.Reattach(id)
	}
	if id == "" || err != nil {
		if err != nil {
			e.log.ILogf("reattach %s failed: %s, starting fresh session", id, err)
		}
		sess = e.registry.New()
		e.log.ILogf("new session %s from %s", sess.ID(), r.RemoteAddr)
		sess.Link().Attach(wsConn)
		return
	}

	e.log.ILogf("session %s reattached from %s", sess.ID(), r.RemoteAddr)
	sess.Reconnect(wsConn)
}
