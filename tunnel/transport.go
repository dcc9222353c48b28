package tunnel

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coalmux/wstun/share"
	"github.com/coalmux/wstun/wire"
)

// LinkState mirrors the transport's connect/disconnect/timeout/close event
// model from §4.3.
type LinkState int32

const (
	StateConnecting LinkState = iota
	StateConnected
	StateDisconnected
)

func (s LinkState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// LinkHandler receives frames and lifecycle events demultiplexed off a Link.
// Implemented by Session.
type LinkHandler interface {
	OnFrame(f wire.Frame)
	OnText(msg string)
	OnDisconnect()
	OnTimeout()
}

// Link owns one WebSocket socket on behalf of a transport session: framing,
// the bounded outbound queue, the heartbeat timer/watchdog, and the
// bufferedAmount() backpressure signal described in §4.3.
type Link struct {
	log share.Logger
	cfg Config

	mu     sync.Mutex
	conn   *websocket.Conn
	state  LinkState
	handler LinkHandler

	queue       chan queuedFrame
	queuedBytes int64

	watchdog   *time.Timer
	attachStop chan struct{}
	wg         sync.WaitGroup

	closeOnce sync.Once
	closed    chan struct{}
}

type queuedFrame struct {
	text bool
	data []byte
}

// NewLink constructs a Link with no socket attached; call Attach once the
// upgrade (or dial) completes.
func NewLink(cfg Config, log share.Logger, handler LinkHandler) *Link {
	if log == nil {
		log = share.NewLogger("wstun", share.LogLevelInfo)
	}
	l := &Link{
		log:     log,
		cfg:     cfg,
		state:   StateConnecting,
		handler: handler,
		queue:   make(chan queuedFrame, cfg.MaxQueueSize),
		closed:  make(chan struct{}),
	}
	return l
}

// BufferedAmount reports the bytes currently queued for send, the Go
// analogue of the browser WebSocket bufferedAmount() property consulted by
// the TCP/UDP/HTTP engines for backpressure.
func (l *Link) BufferedAmount() int64 {
	return atomic.LoadInt64(&l.queuedBytes)
}

// State reports the link's current connection state.
func (l *Link) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Attach binds (or rebinds, on reconnect) a live socket to this link and
// starts its reader/writer/heartbeat goroutines. Each Attach gets its own
// stop channel, closed by handleDisconnect, so a reconnect's fresh writer
// and heartbeat loop never run alongside a prior attachment's — otherwise
// the old writeLoop stays parked on the shared queue and can dequeue and
// fail-write a grace-window-queued frame to the dead socket.
func (l *Link) Attach(conn *websocket.Conn) {
	l.mu.Lock()
	l.conn = conn
	l.state = StateConnected
	stop := make(chan struct{})
	l.attachStop = stop
	l.mu.Unlock()

	l.resetWatchdog()
	l.wg.Add(2)
	go l.readLoop(conn)
	go l.writeLoop(conn, stop)
	go l.heartbeatLoop(stop)
}

// Send enqueues a binary frame. On overflow the newest frame is dropped and
// logged, per §4.3 point 1; FIFO order among frames that do get queued is
// preserved.
func (l *Link) Send(f wire.Frame) {
	b := wire.Encode(f)
	select {
	case l.queue <- queuedFrame{data: b}:
		atomic.AddInt64(&l.queuedBytes, int64(len(b)))
	default:
		l.log.ELogf("send queue full (%d), dropping %s frame for stream %d", l.cfg.MaxQueueSize, f.Type, f.ResourceID)
	}
}

// SendText enqueues a text control-channel frame (§4.9).
func (l *Link) SendText(msg string) {
	select {
	case l.queue <- queuedFrame{text: true, data: []byte(msg)}:
		atomic.AddInt64(&l.queuedBytes, int64(len(msg)))
	default:
		l.log.ELogf("send queue full, dropping text command %q", msg)
	}
}

func (l *Link) readLoop(conn *websocket.Conn) {
	defer l.wg.Done()
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			l.handleDisconnect()
			return
		}
		l.resetWatchdog()
		switch mt {
		case websocket.BinaryMessage:
			f, derr := wire.Decode(data)
			if derr != nil {
				l.log.DLogf("dropping malformed frame: %v", derr)
				continue
			}
			if !f.Type.IsKnown() {
				l.log.DLogf("dropping frame with unknown type 0x%02x", byte(f.Type))
				continue
			}
			cp := make([]byte, len(f.Payload))
			copy(cp, f.Payload)
			f.Payload = cp
			l.handler.OnFrame(f)
		case websocket.TextMessage:
			l.handler.OnText(string(data))
		}
	}
}

func (l *Link) writeLoop(conn *websocket.Conn, stop chan struct{}) {
	defer l.wg.Done()
	for {
		select {
		case qf, ok := <-l.queue:
			if !ok {
				return
			}
			atomic.AddInt64(&l.queuedBytes, -int64(len(qf.data)))
			mt := websocket.BinaryMessage
			if qf.text {
				mt = websocket.TextMessage
			}
			if err := conn.WriteMessage(mt, qf.data); err != nil {
				l.handleDisconnect()
				return
			}
		case <-stop:
			return
		case <-l.closed:
			return
		}
	}
}

// heartbeatLoop runs until either this attachment's own stop channel fires
// (on its disconnect) or the link is closed for good; it shares that stop
// channel with writeLoop so a reconnect never leaves a prior attachment's
// heartbeat or writer running alongside the new one.
func (l *Link) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(l.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Send(wire.Frame{Type: wire.Heartbeat})
		case <-stop:
			return
		case <-l.closed:
			return
		}
	}
}

func (l *Link) resetWatchdog() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watchdog != nil {
		l.watchdog.Stop()
	}
	l.watchdog = time.AfterFunc(l.cfg.HeartbeatTimeout, l.onWatchdogExpired)
}

func (l *Link) onWatchdogExpired() {
	l.log.ILogf("heartbeat watchdog expired, disconnecting")
	l.handleDisconnect()
}

func (l *Link) handleDisconnect() {
	l.mu.Lock()
	if l.state == StateDisconnected {
		l.mu.Unlock()
		return
	}
	l.state = StateDisconnected
	conn := l.conn
	l.conn = nil
	if l.watchdog != nil {
		l.watchdog.Stop()
	}
	if l.attachStop != nil {
		close(l.attachStop)
		l.attachStop = nil
	}
	l.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	l.handler.OnDisconnect()
}

// Detach tears down the current socket's goroutines without destroying the
// queue, so a subsequent Attach (reconnect) resumes draining it.
func (l *Link) Detach() {
	l.handleDisconnect()
}

// Timeout is invoked by the owning Session when the reconnect grace window
// elapses without a fresh Attach.
func (l *Link) Timeout() {
	l.handler.OnTimeout()
}

// Close permanently shuts the link down.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.mu.Lock()
		conn := l.conn
		l.state = StateDisconnected
		if l.attachStop != nil {
			close(l.attachStop)
			l.attachStop = nil
		}
		l.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
	})
	return nil
}

var errLinkClosed = errors.New("wstun: link closed")
