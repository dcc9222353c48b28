package tunnel

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jpillora/sizestr"

	"github.com/coalmux/wstun/share"
	"github.com/coalmux/wstun/wire"
)

// Session is the transport session described in §3: one owner of the
// socket/queue (via Link), the per-stream tables for whichever engines are
// active, and — for the initiator role — the pending-handler table joining
// awaiters to replies. Both roles share this type, matching §2's framing
// that both peers run the same core components; cmd/ wiring decides which
// capabilities (EgressConfig) a given process exposes.
type Session struct {
	id      string
	isEgress bool
	cfg     Config
	log     share.Logger

	link *Link

	ids     *ResourceIDAllocator
	pending *PendingTable

	tcp   *tcpTable
	udp   *udpTable
	dns   *dnsTable
	httpT *httpTable

	egress *EgressConfig

	createdAt time.Time

	aliveMu   sync.Mutex
	lastAlive time.Time

	destroyMu  sync.Mutex
	graceTimer *time.Timer
	destroyed  bool
	onDestroy  func(*Session)

	peerUUID string

	// registryKey is the key under which an egress-side Registry currently
	// tracks this session: the session's own internal id until the
	// initiator's SET UUID control message reveals its published id, then
	// that published id (see onPeerUUID/onRekey and Registry.rekey).
	registryKey string
	onRekey     func(s *Session, oldKey, newKey string)

	reconnectCount int32

	connStats share.ConnStats

	reaperStop chan struct{}
}

// NewSession constructs a session. egress may be nil for an initiator-only
// session; id is the 32-character UUID (hex digits, no hyphens) identifying
// this session across reconnects. An empty id selects a freshly generated
// one; Registry.New always passes an empty id.
func NewSession(id string, isEgress bool, cfg Config, log share.Logger, egress *EgressConfig) *Session {
	if id == "" {
		id = strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	if log == nil {
		log = share.NewLogger("wstun", share.LogLevelInfo)
	}
	cfg = cfg.withDefaults(isEgress)
	s := &Session{
		id:          id,
		isEgress:    isEgress,
		cfg:         cfg,
		log:         log,
		ids:         NewResourceIDAllocator(),
		pending:     NewPendingTable(cfg.MaxPendingRequests),
		tcp:         newTCPTable(),
		udp:         newUDPTable(),
		dns:         newDNSTable(),
		httpT:       newHTTPTable(),
		egress:      egress,
		createdAt:   time.Now(),
		lastAlive:   time.Now(),
		registryKey: id,
		reaperStop:  make(chan struct{}),
	}
	s.link = NewLink(cfg, log, s)
	go s.reaperLoop()
	return s
}

// ID returns the session's UUID.
func (s *Session) ID() string { return s.id }

// Link exposes the underlying transport link, e.g. for cmd/ wiring to
// Attach a freshly upgraded socket.
func (s *Session) Link() *Link { return s.link }

// Start announces this session's identity to the peer, per §4.3 point 5.
// Call once after the first Attach.
func (s *Session) Start() {
	if !s.isEgress {
		s.link.SendText(fmt.Sprintf("SET UUID %s", s.id))
	}
}

func (s *Session) markAlive() {
	s.aliveMu.Lock()
	s.lastAlive = time.Now()
	s.aliveMu.Unlock()
}

// onPeerUUID records the initiator's published session id (§4.3 point 5)
// and, on the egress side, re-keys this session's Registry entry from its
// own internal id to that published id, so a later reconnect carrying
// ?id=<published id> finds this session via Reattach.
func (s *Session) onPeerUUID(id string) {
	s.peerUUID = id
	if s.onRekey != nil {
		old := s.registryKey
		s.registryKey = id
		s.onRekey(s, old, id)
	}
}

func (s *Session) stats() map[string]interface{} {
	return map[string]interface{}{
		"uptime":         time.Since(s.createdAt).String(),
		"pending":        s.pending.Len(),
		"tcpStreams":     s.tcp.len(),
		"connections":    s.connStats.String(),
		"queuedBytes":    sizestr.ToString(s.link.BufferedAmount()),
		"linkState":      s.link.State().String(),
		"reconnectCount": atomic.LoadInt32(&s.reconnectCount),
	}
}

// waitForCapacity cooperatively yields in BackpressurePollInterval
// increments while the link's queued bytes exceed threshold (§4.3
// Backpressure, §4.5, §4.8).
func (s *Session) waitForCapacity(threshold int64) error {
	for s.link.BufferedAmount() > threshold {
		if s.destroyedNow() {
			return errClosed("session destroyed")
		}
		time.Sleep(BackpressurePollInterval)
	}
	return nil
}

func (s *Session) destroyedNow() bool {
	s.destroyMu.Lock()
	defer s.destroyMu.Unlock()
	return s.destroyed
}

// ---- LinkHandler ----

func (s *Session) OnText(msg string) {
	s.markAlive()
	resp := s.handleControl(msg)
	if resp == "" {
		return
	}
	s.link.SendText(resp)
}

func (s *Session) OnDisconnect() {
	s.log.ILogf("session %s: transport disconnected, entering %s grace window", s.id, s.cfg.ReconnectGraceWindow)
	s.destroyMu.Lock()
	if s.destroyed {
		s.destroyMu.Unlock()
		return
	}
	if s.graceTimer != nil {
		s.graceTimer.Stop()
	}
	s.graceTimer = time.AfterFunc(s.cfg.ReconnectGraceWindow, s.onGraceExpired)
	s.destroyMu.Unlock()
}

func (s *Session) onGraceExpired() {
	s.link.Timeout()
}

// OnTimeout implements the grace-window-elapsed path: destroy all streams
// via closeAll/abortAll (§5).
func (s *Session) OnTimeout() {
	s.destroyMu.Lock()
	if s.destroyed {
		s.destroyMu.Unlock()
		return
	}
	s.destroyed = true
	s.destroyMu.Unlock()

	s.log.ILogf("session %s: grace window elapsed, destroying session", s.id)
	s.tcp.closeAll()
	s.udp.closeAll()
	s.dns.closeAll()
	s.httpT.closeAll()
	s.pending.RejectAll(errClosed("Connection closed"))
	close(s.reaperStop)
	if s.onDestroy != nil {
		s.onDestroy(s)
	}
}

// Reconnect re-binds a fresh socket to an existing session, cancelling any
// pending grace-window destruction (§5 "Reconnect grace window") and
// incrementing reconnectCount (§8 scenario S5). Callers must use this only
// for an actual reattach — a brand-new session's first socket should go
// through Link().Attach directly, which is not a reconnect.
func (s *Session) Reconnect(conn *websocket.Conn) {
	s.destroyMu.Lock()
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	s.destroyMu.Unlock()
	atomic.AddInt32(&s.reconnectCount, 1)
	s.link.Attach(conn)
}

func (s *Session) reaperLoop() {
	ticker := time.NewTicker(PendingReaperSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.pending.Sweep(PendingReaperMaxAge); n > 0 {
				s.log.DLogf("session %s: reaper swept %d stale pending entries", s.id, n)
			}
		case <-s.reaperStop:
			return
		}
	}
}

// OnFrame implements the demultiplexer (§4.4).
func (s *Session) OnFrame(f wire.Frame) {
	s.markAlive()
	if f.Type == wire.Heartbeat {
		return // liveness only; never echoed
	}
	switch f.Type {
	case wire.TCPConnect:
		s.handleTCPConnect(f)
	case wire.TCPConnectAck:
		s.pending.Resolve(f.ResourceID, nil)
	case wire.TCPData:
		s.handleTCPData(f)
	case wire.TCPClose:
		s.handleTCPClose(f)
	case wire.UDPBind:
		s.handleUDPBind(f)
	case wire.UDPBindAck:
		s.pending.Resolve(f.ResourceID, f.Payload)
	case wire.UDPData:
		s.handleUDPData(f)
	case wire.UDPClose:
		s.handleUDPClose(f)
	case wire.DNSQuery:
		s.handleDNSQuery(f)
	case wire.DNSResponse:
		s.pending.Resolve(f.ResourceID, f.Payload)
	case wire.HTTPRequest:
		s.handleHTTPRequest(f)
	case wire.HTTPResponse:
		s.handleHTTPResponseFrame(f)
	case wire.HTTPBodyChunk:
		s.handleHTTPBodyChunk(f)
	case wire.HTTPBodyEnd:
		s.handleHTTPBodyEnd(f)
	case wire.Error:
		s.pending.Reject(f.ResourceID, errUpstream("%s", string(f.Payload)))
	}
}

// replyUnknownResourceID implements §3's invariant (b): a leaked
// remote-side stream gets the matching terminal frame so the sender
// cleans up.
func (s *Session) replyUnknownResourceID(id uint32, reply wire.MessageType) {
	s.link.Send(wire.Frame{Type: reply, ResourceID: id})
}

// ---- TCP ----

func (s *Session) handleTCPConnect(f wire.Frame) {
	if s.egress == nil {
		s.link.Send(wire.Frame{Type: wire.Error, ResourceID: f.ResourceID, Payload: []byte("this peer does not act as egress")})
		return
	}
	host, port, err := wire.DecodeTCPConnect(f.Payload)
	if err != nil {
		s.link.Send(wire.Frame{Type: wire.Error, ResourceID: f.ResourceID, Payload: []byte(err.Error())})
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout)
		defer cancel()
		conn, err := s.egress.dialer().DialContext(ctx, "tcp", net.JoinHostPort(host, fmt.Sprint(port)))
		if err != nil {
			s.link.Send(wire.Frame{Type: wire.Error, ResourceID: f.ResourceID, Payload: []byte(err.Error())})
			return
		}
		s.tcp.add(f.ResourceID, conn)
		s.connStats.New()
		s.connStats.Open()
		s.link.Send(wire.Frame{Type: wire.TCPConnectAck, ResourceID: f.ResourceID})
		go s.tcpReadLoop(f.ResourceID, conn)
	}()
}

// tcpReadLoop is the egress-side read loop from §4.5: one fixed 64 KiB
// buffer per stream, forwarding bytes as TCP_DATA and cloning only when the
// buffer filled exactly (otherwise a borrowed subview is safe to send once
// since the frame is encoded before the buffer is reused).
func (s *Session) tcpReadLoop(id uint32, conn net.Conn) {
	buf := make([]byte, TCPReadBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if err := s.waitForCapacity(MaxWSBufferedTCP); err != nil {
				s.closeTCPStream(id, true)
				return
			}
			var payload []byte
			if n == len(buf) {
				payload = append([]byte(nil), buf[:n]...)
			} else {
				payload = buf[:n]
			}
			s.link.Send(wire.Frame{Type: wire.TCPData, ResourceID: id, Payload: payload})
		}
		if err != nil {
			s.closeTCPStream(id, !isExpectedTeardownError(err))
			return
		}
	}
}

// isExpectedTeardownError reports whether err is the ordinary EOF/closed
// family expected during stream teardown (§4.5: "closed|broken pipe|Bad
// resource" is swallowed; other errors are logged).
func isExpectedTeardownError(err error) bool {
	if err == io.EOF {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "closed") || strings.Contains(msg, "broken pipe") || strings.Contains(msg, "bad file descriptor") || strings.Contains(msg, "use of closed network connection")
}

func (s *Session) closeTCPStream(id uint32, logUnexpected bool) {
	conn, ok := s.tcp.beginClose(id)
	if !ok {
		return
	}
	if logUnexpected {
		s.log.DLogf("session %s: tcp stream %d closing on error", s.id, id)
	}
	conn.Close()
	s.tcp.remove(id)
	s.connStats.Close()
	s.link.Send(wire.Frame{Type: wire.TCPClose, ResourceID: id})
}

func (s *Session) handleTCPData(f wire.Frame) {
	if conn, ok := s.tcp.get(f.ResourceID); ok {
		if _, err := conn.Write(f.Payload); err != nil {
			s.closeTCPStream(f.ResourceID, true)
		}
		return
	}
	if body := s.pending.Body(f.ResourceID); body != nil {
		if !body.Push(f.Payload) {
			s.link.Send(wire.Frame{Type: wire.TCPClose, ResourceID: f.ResourceID})
		}
		return
	}
	s.replyUnknownResourceID(f.ResourceID, wire.TCPClose)
}

func (s *Session) handleTCPClose(f wire.Frame) {
	if conn, ok := s.tcp.beginClose(f.ResourceID); ok {
		conn.Close()
		s.tcp.remove(f.ResourceID)
		s.connStats.Close()
	}
	if body := s.pending.Body(f.ResourceID); body != nil {
		body.Close()
	}
	s.pending.Remove(f.ResourceID)
}

// ConnectTCP is the initiator-side entry point: allocate a resourceId,
// register a pending entry with an attached body stream, send TCP_CONNECT,
// and await TCP_CONNECT_ACK.
func (s *Session) ConnectTCP(ctx context.Context, host string, port int) (*TCPConn, error) {
	id := s.ids.Next()
	entry, err := s.pending.Register(id)
	if err != nil {
		return nil, err
	}
	body := NewStreamSink(64)
	entry.body = body

	payload, err := wire.EncodeTCPConnect(host, port)
	if err != nil {
		s.pending.Remove(id)
		return nil, err
	}
	s.link.Send(wire.Frame{Type: wire.TCPConnect, ResourceID: id, Payload: payload})

	select {
	case res := <-entry.resultCh:
		if res.err != nil {
			return nil, res.err
		}
		s.connStats.New()
		s.connStats.Open()
		return &TCPConn{sess: s, id: id, body: body}, nil
	case <-ctx.Done():
		s.abortPending(id, wire.TCPClose)
		return nil, ctx.Err()
	}
}

func (s *Session) abortPending(id uint32, closeType wire.MessageType) {
	s.link.Send(wire.Frame{Type: closeType, ResourceID: id})
	s.pending.Remove(id)
}

// ---- UDP ----

func (s *Session) handleUDPBind(f wire.Frame) {
	if s.egress == nil || !s.egress.AllowUDP {
		s.link.Send(wire.Frame{Type: wire.Error, ResourceID: f.ResourceID, Payload: []byte("this peer does not relay UDP")})
		return
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		s.link.Send(wire.Frame{Type: wire.Error, ResourceID: f.ResourceID, Payload: []byte(err.Error())})
		return
	}
	s.udp.add(f.ResourceID, conn)
	s.connStats.New()
	s.connStats.Open()
	addr := conn.LocalAddr().(*net.UDPAddr)
	ack := wire.EncodeUDPBind(addr.IP.String(), uint16(addr.Port))
	s.link.Send(wire.Frame{Type: wire.UDPBindAck, ResourceID: f.ResourceID, Payload: ack})
	go s.udpReceiveLoop(f.ResourceID, conn)
}

func (s *Session) udpReceiveLoop(id uint32, conn *net.UDPConn) {
	buf := make([]byte, MaxUDPPacketSize)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		payload, err := wire.EncodeUDPData(addr.IP.String(), uint16(addr.Port), buf[:n])
		if err != nil {
			s.log.DLogf("session %s: dropping oversize UDP datagram: %v", s.id, err)
			continue
		}
		if err := s.waitForCapacity(MaxWSBufferedUDP); err != nil {
			return
		}
		s.link.Send(wire.Frame{Type: wire.UDPData, ResourceID: id, Payload: payload})
	}
}

func (s *Session) handleUDPData(f wire.Frame) {
	if conn, ok := s.udp.get(f.ResourceID); ok {
		host, port, dg, err := wire.DecodeUDPData(f.Payload)
		if err != nil {
			s.log.DLogf("session %s: dropping malformed UDP_DATA: %v", s.id, err)
			return
		}
		addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, fmt.Sprint(port)))
		if err != nil {
			s.log.DLogf("session %s: udp send_to resolve failed: %v", s.id, err)
			return
		}
		if _, err := conn.WriteToUDP(dg, addr); err != nil {
			s.log.DLogf("session %s: udp send_to failed: %v", s.id, err)
		}
		return
	}
	if body := s.pending.Body(f.ResourceID); body != nil {
		body.Push(f.Payload)
		return
	}
	s.replyUnknownResourceID(f.ResourceID, wire.UDPClose)
}

func (s *Session) handleUDPClose(f wire.Frame) {
	if conn, ok := s.udp.beginClose(f.ResourceID); ok {
		conn.Close()
		s.udp.remove(f.ResourceID)
		s.connStats.Close()
	}
	if body := s.pending.Body(f.ResourceID); body != nil {
		body.Close()
	}
	s.pending.Remove(f.ResourceID)
}

// BindUDP is the initiator-side entry point for allocating a relayed UDP
// socket on the egress peer.
func (s *Session) BindUDP(ctx context.Context, host string, port uint16) (*UDPBinding, error) {
	id := s.ids.Next()
	entry, err := s.pending.Register(id)
	if err != nil {
		return nil, err
	}
	incoming := NewStreamSink(64)
	entry.body = incoming

	s.link.Send(wire.Frame{Type: wire.UDPBind, ResourceID: id, Payload: wire.EncodeUDPBind(host, port)})

	select {
	case res := <-entry.resultCh:
		if res.err != nil {
			return nil, res.err
		}
		boundHost, boundPort, err := wire.DecodeUDPBind(res.payload)
		if err != nil {
			return nil, err
		}
		return &UDPBinding{sess: s, id: id, BoundHost: boundHost, BoundPort: boundPort, incoming: incoming}, nil
	case <-ctx.Done():
		s.abortPending(id, wire.UDPClose)
		return nil, ctx.Err()
	}
}

// ---- DNS ----

func (s *Session) handleDNSQuery(f wire.Frame) {
	if s.egress == nil {
		s.link.Send(wire.Frame{Type: wire.Error, ResourceID: f.ResourceID, Payload: []byte("this peer does not act as egress")})
		return
	}
	name, rt, err := wire.DecodeDNSQuery(f.Payload)
	if err != nil {
		s.link.Send(wire.Frame{Type: wire.Error, ResourceID: f.ResourceID, Payload: []byte(err.Error())})
		return
	}
	rrtype, ok := dnsQueryTypeToRR[byte(rt)]
	if !ok {
		s.link.Send(wire.Frame{Type: wire.Error, ResourceID: f.ResourceID, Payload: []byte("unsupported DNS record type")})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DNSQueryTimeout)
	s.dns.add(f.ResourceID, cancel)
	go func() {
		defer s.dns.remove(f.ResourceID)
		defer cancel()
		addrs, err := s.egress.resolve(ctx, name, rrtype)
		if ctx.Err() != nil {
			s.link.Send(wire.Frame{Type: wire.Error, ResourceID: f.ResourceID, Payload: []byte("DNS query timeout")})
			return
		}
		if err != nil {
			s.link.Send(wire.Frame{Type: wire.Error, ResourceID: f.ResourceID, Payload: []byte(err.Error())})
			return
		}
		s.link.Send(wire.Frame{Type: wire.DNSResponse, ResourceID: f.ResourceID, Payload: wire.EncodeDNSResponse(addrs)})
	}()
}

// QueryDNS is the initiator-side entry point for resolving a name through
// the egress peer.
func (s *Session) QueryDNS(ctx context.Context, name string, rt wire.RecordType) ([]string, error) {
	id := s.ids.Next()
	entry, err := s.pending.Register(id)
	if err != nil {
		return nil, err
	}
	payload, err := wire.EncodeDNSQuery(name, rt)
	if err != nil {
		s.pending.Remove(id)
		return nil, err
	}
	s.link.Send(wire.Frame{Type: wire.DNSQuery, ResourceID: id, Payload: payload})

	select {
	case res := <-entry.resultCh:
		if res.err != nil {
			return nil, res.err
		}
		return wire.DecodeDNSResponse(res.payload)
	case <-ctx.Done():
		s.pending.Remove(id)
		return nil, ctx.Err()
	}
}

// ---- HTTP ----

func (s *Session) handleHTTPRequest(f wire.Frame) {
	if s.egress == nil {
		s.link.Send(wire.Frame{Type: wire.Error, ResourceID: f.ResourceID, Payload: []byte("this peer does not act as egress")})
		return
	}
	meta, err := wire.DecodeHTTPRequest(f.Payload)
	if err != nil {
		s.link.Send(wire.Frame{Type: wire.Error, ResourceID: f.ResourceID, Payload: []byte(err.Error())})
		return
	}
	u, err := url.Parse(meta.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		s.link.Send(wire.Frame{Type: wire.Error, ResourceID: f.ResourceID, Payload: []byte("invalid or unsupported URL scheme")})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTPFetchTimeout)
	s.httpT.addCancel(f.ResourceID, cancel)

	var body *StreamSink
	if hasBody(meta.Headers) {
		body = NewStreamSink(64)
		s.httpT.addSink(f.ResourceID, body)
	}

	go s.runHTTPFetch(ctx, cancel, f.ResourceID, meta, body)
}

func hasBody(headers map[string]string) bool {
	for k, v := range headers {
		lk := strings.ToLower(k)
		if lk == "content-length" && v != "0" {
			return true
		}
		if lk == "transfer-encoding" {
			return true
		}
	}
	return false
}

func (s *Session) runHTTPFetch(ctx context.Context, cancel context.CancelFunc, id uint32, meta wire.HTTPRequestMeta, body *StreamSink) {
	defer s.httpT.cancel(id)

	var bodyReader io.Reader
	if body != nil {
		bodyReader = body
	}

	req, err := http.NewRequestWithContext(ctx, meta.Method, meta.URL, bodyReader)
	if err != nil {
		s.link.Send(wire.Frame{Type: wire.Error, ResourceID: id, Payload: []byte(err.Error())})
		return
	}
	for k, v := range meta.Headers {
		if strings.EqualFold(k, "transfer-encoding") {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := s.egress.httpClient().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			s.link.Send(wire.Frame{Type: wire.Error, ResourceID: id, Payload: []byte("HTTP fetch timeout")})
		} else {
			s.link.Send(wire.Frame{Type: wire.Error, ResourceID: id, Payload: []byte(err.Error())})
		}
		return
	}
	defer resp.Body.Close()

	headers := map[string]string{}
	for k := range resp.Header {
		if strings.EqualFold(k, "transfer-encoding") {
			continue
		}
		headers[k] = resp.Header.Get(k)
	}
	respMeta := wire.HTTPResponseMeta{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Headers:    headers,
		URL:        meta.URL,
		HasBody:    resp.ContentLength != 0,
	}
	encMeta, err := wire.EncodeHTTPResponse(respMeta)
	if err != nil {
		s.link.Send(wire.Frame{Type: wire.Error, ResourceID: id, Payload: []byte(err.Error())})
		return
	}
	s.link.Send(wire.Frame{Type: wire.HTTPResponse, ResourceID: id, Payload: encMeta})

	buf := make([]byte, 32*1024)
	var total int64
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			total += int64(n)
			if total > MaxResponseSize {
				s.link.Send(wire.Frame{Type: wire.Error, ResourceID: id, Payload: []byte("response exceeded maximum size")})
				return
			}
			if werr := s.waitForCapacity(MaxWSBufferedHTTP); werr != nil {
				return
			}
			s.link.Send(wire.Frame{Type: wire.HTTPBodyChunk, ResourceID: id, Payload: append([]byte(nil), buf[:n]...)})
		}
		if err != nil {
			break
		}
	}
	s.link.Send(wire.Frame{Type: wire.HTTPBodyEnd, ResourceID: id})
}

func (s *Session) handleHTTPResponseFrame(f wire.Frame) {
	if _, err := wire.DecodeHTTPResponse(f.Payload); err != nil {
		s.pending.Reject(f.ResourceID, errUpstream("%s", err.Error()))
		return
	}
	entry, ok := s.pending.Get(f.ResourceID)
	if !ok {
		s.replyUnknownResourceID(f.ResourceID, wire.HTTPBodyEnd)
		return
	}
	// Wire the body sink before resolving so a concurrently arriving
	// HTTP_BODY_CHUNK (processed on the next OnFrame call) always finds
	// it attached.
	if entry.body == nil {
		entry.body = NewStreamSink(64)
	}
	s.pending.Resolve(f.ResourceID, f.Payload)
}

func (s *Session) handleHTTPBodyChunk(f wire.Frame) {
	if sink := s.httpT.sink(f.ResourceID); sink != nil {
		sink.Push(f.Payload)
		return
	}
	if body := s.pending.Body(f.ResourceID); body != nil {
		if !body.Push(f.Payload) {
			s.link.Send(wire.Frame{Type: wire.HTTPBodyEnd, ResourceID: f.ResourceID})
		}
		return
	}
	s.replyUnknownResourceID(f.ResourceID, wire.HTTPBodyEnd)
}

func (s *Session) handleHTTPBodyEnd(f wire.Frame) {
	if sink := s.httpT.sink(f.ResourceID); sink != nil {
		sink.Close()
	}
	if body := s.pending.Body(f.ResourceID); body != nil {
		body.Close()
	}
	s.pending.Remove(f.ResourceID)
}

// FetchHTTP is the initiator-side mirror described at the end of §4.8: the
// body stream is installed on the pending entry before HTTP_REQUEST is
// sent, so HTTP_BODY_CHUNKs arriving right behind HTTP_RESPONSE are never
// lost. The awaiter gives up after cfg.HTTPFetchTimeout.
func (s *Session) FetchHTTP(ctx context.Context, req wire.HTTPRequestMeta, reqBody io.Reader) (*HTTPResponse, error) {
	id := s.ids.Next()
	entry, err := s.pending.Register(id)
	if err != nil {
		return nil, err
	}
	entry.body = NewStreamSink(64)

	payload, err := wire.EncodeHTTPRequest(req)
	if err != nil {
		s.pending.Remove(id)
		return nil, err
	}
	s.link.Send(wire.Frame{Type: wire.HTTPRequest, ResourceID: id, Payload: payload})

	if reqBody != nil {
		go s.streamRequestBody(id, reqBody)
	}

	timer := time.NewTimer(s.cfg.HTTPFetchTimeout)
	defer timer.Stop()
	select {
	case res := <-entry.resultCh:
		if res.err != nil {
			return nil, res.err
		}
		meta, err := wire.DecodeHTTPResponse(res.payload)
		if err != nil {
			return nil, err
		}
		body := entry.body
		if body == nil {
			body = NewStreamSink(1)
			body.Close()
		}
		return &HTTPResponse{HTTPResponseMeta: meta, Body: httpBodyReadCloser{body}}, nil
	case <-timer.C:
		s.abortPending(id, wire.HTTPBodyEnd)
		return nil, errTimeout("HTTP fetch timeout")
	case <-ctx.Done():
		s.abortPending(id, wire.HTTPBodyEnd)
		return nil, ctx.Err()
	}
}

func (s *Session) streamRequestBody(id uint32, body io.Reader) {
	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if werr := s.waitForCapacity(MaxWSBufferedHTTP); werr != nil {
				return
			}
			s.link.Send(wire.Frame{Type: wire.HTTPBodyChunk, ResourceID: id, Payload: append([]byte(nil), buf[:n]...)})
		}
		if err != nil {
			break
		}
	}
	s.link.Send(wire.Frame{Type: wire.HTTPBodyEnd, ResourceID: id})
}
