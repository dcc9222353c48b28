package tunnel

import "time"

// Protocol-level timing and sizing constants. These mirror the defaults
// fixed by the multiplexing protocol itself; they are not meant to be
// tuned per deployment beyond what Config exposes.
const (
	// HeartbeatInterval is how often a connected transport sends a
	// HEARTBEAT frame (resourceId 0).
	HeartbeatInterval = 30 * time.Second

	// HeartbeatTimeout is how long a transport will wait without
	// receiving any frame before it considers the socket dead.
	HeartbeatTimeout = 60 * time.Second

	// MaxQueueSize bounds the outbound send queue while the underlying
	// socket is absent (connecting, reconnecting, or in the grace
	// window). Overflow drops the newest frame, never reorders.
	MaxQueueSize = 1000

	// MaxWSBufferedTCP and MaxWSBufferedUDP are the backpressure
	// thresholds, in bytes of still-queued outbound data, above which
	// the TCP and UDP engines cooperatively yield before enqueueing
	// more frames.
	MaxWSBufferedTCP = 1 << 20
	MaxWSBufferedUDP = 1 << 20

	// MaxWSBufferedHTTP is the backpressure threshold for the HTTP
	// engine's response body streaming.
	MaxWSBufferedHTTP = 4 << 20

	// MaxUDPPacketSize is the largest datagram relayed as one UDP_DATA
	// frame; larger reads are dropped and logged at debug level.
	MaxUDPPacketSize = 65535

	// TCPReadBufferSize is the fixed buffer size used by the egress-side
	// TCP read loop.
	TCPReadBufferSize = 64 * 1024

	// BackpressurePollInterval is how long the TCP/UDP/HTTP engines
	// sleep between backpressure polls.
	BackpressurePollInterval = 5 * time.Millisecond

	// ConnectTimeout bounds an egress-side TCP dial.
	ConnectTimeout = 30 * time.Second

	// DNSQueryTimeout bounds an egress-side DNS resolution.
	DNSQueryTimeout = 10 * time.Second

	// HTTPFetchTimeoutEgress bounds an egress-side upstream HTTP fetch.
	// It is deliberately shorter than HTTPFetchTimeoutInitiator so the
	// egress side's ERROR frame wins the race against the initiator's
	// own timeout.
	HTTPFetchTimeoutEgress = 25 * time.Second

	// HTTPFetchTimeoutInitiator bounds the initiator's FetchHTTP
	// awaiter.
	HTTPFetchTimeoutInitiator = 30 * time.Second

	// MaxResponseSize is the total response body size, across all
	// HTTP_BODY_CHUNK frames, after which the egress side aborts the
	// stream.
	MaxResponseSize = 100 << 20

	// PendingReaperSweepInterval is how often the reaper scans the
	// pending table for stale entries.
	PendingReaperSweepInterval = 10 * time.Second

	// PendingReaperMaxAge is the hard upper bound on how long a pending
	// entry may live, independent of any per-call timeout.
	PendingReaperMaxAge = 2 * time.Minute

	// MaxPendingRequests bounds the size of the pending table; new
	// requests past this bound fail fast.
	MaxPendingRequests = 10000

	// ReconnectGraceWindow is how long a session survives a transport
	// disconnect, awaiting a fresh socket, before it is destroyed.
	ReconnectGraceWindow = 60 * time.Second

	// ProtocolVersion is advertised as the WebSocket subprotocol during
	// the upgrade handshake.
	ProtocolVersion = "wstun.v1"
)

// Config carries the tunable knobs a caller may override when constructing
// a Session; the zero value selects the protocol defaults above.
type Config struct {
	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration
	MaxQueueSize         int
	ConnectTimeout       time.Duration
	DNSQueryTimeout      time.Duration
	HTTPFetchTimeout     time.Duration
	ReconnectGraceWindow time.Duration
	MaxPendingRequests   int
}

func (c Config) withDefaults(isEgress bool) Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = HeartbeatTimeout
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = MaxQueueSize
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = ConnectTimeout
	}
	if c.DNSQueryTimeout <= 0 {
		c.DNSQueryTimeout = DNSQueryTimeout
	}
	if c.HTTPFetchTimeout <= 0 {
		if isEgress {
			c.HTTPFetchTimeout = HTTPFetchTimeoutEgress
		} else {
			c.HTTPFetchTimeout = HTTPFetchTimeoutInitiator
		}
	}
	if c.ReconnectGraceWindow <= 0 {
		c.ReconnectGraceWindow = ReconnectGraceWindow
	}
	if c.MaxPendingRequests <= 0 {
		c.MaxPendingRequests = MaxPendingRequests
	}
	return c
}
