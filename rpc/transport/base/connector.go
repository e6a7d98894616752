package base

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/wBridge/lib/util"
	"github.com/ValentinKolb/wBridge/rpc/common"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	gometrics "github.com/rcrowley/go-metrics"
)

var Logger = logger.GetLogger(common.LoggerTransport)

const (
	// DefaultPort of the message server
	DefaultPort = "4222"
	// readBufferSize is the size of the buffer of the reader goroutine
	readBufferSize = 32 * 1024
	// inboxPrefix is the subject prefix of reply inboxes
	inboxPrefix = "_INBOX."
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to the endpoint
	Connect(endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// -----------------------------------------------------------
// Endpoints
// -----------------------------------------------------------

// ParseEndpoint splits an endpoint of the form [nats://][user:pass@]host[:port]
// into the dial address and the credentials it carries
func ParseEndpoint(endpoint string) (address, user, password string, err error) {
	raw := endpoint
	if !strings.Contains(raw, "://") {
		raw = "nats://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", "", "", fmt.Errorf("invalid endpoint %q: %w", common.RedactEndpoint(endpoint), err)
	}
	if u.Scheme != "nats" && u.Scheme != "tcp" {
		return "", "", "", fmt.Errorf("invalid endpoint %q: unsupported scheme %q", common.RedactEndpoint(endpoint), u.Scheme)
	}
	if u.Hostname() == "" {
		return "", "", "", fmt.Errorf("invalid endpoint %q: missing host", common.RedactEndpoint(endpoint))
	}

	port := u.Port()
	if port == "" {
		port = DefaultPort
	}
	if u.User != nil {
		user = u.User.Username()
		password, _ = u.User.Password()
	}
	return net.JoinHostPort(u.Hostname(), port), user, password, nil
}

// newInbox returns a fresh reply subject with 128 random bits
func newInbox() string {
	id := uuid.New()
	return inboxPrefix + hex.EncodeToString(id[:])
}

// -----------------------------------------------------------
// Handshake payloads
// -----------------------------------------------------------

// serverInfo is the subset of the INFO json the client uses
type serverInfo struct {
	ServerID     string `json:"server_id"`
	Version      string `json:"version"`
	MaxPayload   int64  `json:"max_payload"`
	AuthRequired bool   `json:"auth_required"`
	Proto        int    `json:"proto"`
}

// connectOptions is the json sent with CONNECT
type connectOptions struct {
	Verbose     bool   `json:"verbose"`
	Pedantic    bool   `json:"pedantic"`
	TLSRequired bool   `json:"tls_required"`
	Name        string `json:"name,omitempty"`
	Lang        string `json:"lang"`
	Version     string `json:"version"`
	Protocol    int    `json:"protocol"`
	Echo        bool   `json:"echo"`
	User        string `json:"user,omitempty"`
	Pass        string `json:"pass,omitempty"`
}

type handshakeState uint8

const (
	awaitingInfo handshakeState = iota
	awaitingPong
	handshakeDone
)

// -----------------------------------------------------------
// Connection
// -----------------------------------------------------------

// responseResult contains the result of a request
type responseResult struct {
	data []byte
	err  error
}

// inboundEvent is pushed by the reader goroutine, either a frame or the error that stopped it
type inboundEvent struct {
	frame Frame
	err   error
}

// connectionSerial numbers connections process wide
var connectionSerial atomic.Uint64

// connection owns one socket. The socket writes, the outbound buffer and the
// registry are only touched by the event loop (see bridge.go).
type connection struct {
	serial   uint64
	endpoint string
	netConn  net.Conn
	config   common.ClientConfig
	user     string
	password string

	// shared with other goroutines
	inbound       *util.MPSC[inboundEvent]
	work          chan workItem
	pending       *xsync.MapOf[uint64, chan responseResult]
	nextRequestID atomic.Uint64
	nextSid       atomic.Uint64
	maxPayload    atomic.Int64
	closing       atomic.Bool
	ready         chan struct{} // closed when the handshake completed
	lost          chan struct{} // closed when the connection is gone
	done          chan struct{} // closed when the event loop exited
	lostErr       error         // written before lost is closed
	onLost        func(c *connection, err error)

	// owned by the event loop
	outbound    [][]byte
	registry    *subscriptionRegistry
	inflight    map[uint64]uint64 // request id -> inbox sid
	handshake   handshakeState
	pingsOut    int
	pongWaiters []chan struct{} // one per PING after the handshake, nil for keep-alive pings
	down        bool
	timer       *time.Timer
	timerAt     time.Time
	timerSet    bool

	// message and byte counters
	stats         gometrics.Registry
	msgsSent      gometrics.Counter
	bytesSent     gometrics.Counter
	msgsReceived  gometrics.Counter
	bytesReceived gometrics.Counter
}

// dial connects to endpoint, starts the reader goroutine and the event loop and waits
// until the protocol handshake completed
func dial(connector IClientConnector, endpoint string, config common.ClientConfig, onLost func(*connection, error)) (*connection, error) {
	_, user, password, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	if user == "" {
		user, password = config.Transport.User, config.Transport.Password
	}

	netConn, err := connector.Connect(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", common.RedactEndpoint(endpoint), err)
	}
	if err := connector.UpgradeConnection(netConn, config); err != nil {
		netConn.Close()
		return nil, fmt.Errorf("failed to upgrade connection to %s: %w", common.RedactEndpoint(endpoint), err)
	}

	c := newConnection(netConn, endpoint, config, user, password)
	c.onLost = onLost

	go c.readLoop()
	go c.run()

	handshakeTimeout := config.RequestTimeout()
	timer := time.NewTimer(handshakeTimeout)
	defer timer.Stop()

	select {
	case <-c.ready:
		return c, nil
	case <-c.lost:
		<-c.done
		return nil, fmt.Errorf("handshake with %s failed: %w", common.RedactEndpoint(endpoint), c.closedErr())
	case <-timer.C:
		_ = c.close()
		return nil, fmt.Errorf("handshake with %s failed: %w", common.RedactEndpoint(endpoint), common.ErrTimeout)
	}
}

func newConnection(netConn net.Conn, endpoint string, config common.ClientConfig, user, password string) *connection {
	queueSize := config.Transport.QueueSize
	if queueSize <= 0 {
		queueSize = common.DefaultQueueSize
	}

	c := &connection{
		serial:   connectionSerial.Add(1),
		endpoint: endpoint,
		netConn:  netConn,
		config:   config,
		user:     user,
		password: password,
		inbound:  util.NewMPSC[inboundEvent](),
		work:     make(chan workItem, queueSize),
		pending:  xsync.NewMapOf[uint64, chan responseResult](),
		ready:    make(chan struct{}),
		lost:     make(chan struct{}),
		done:     make(chan struct{}),
		inflight: make(map[uint64]uint64),
		stats:    gometrics.NewRegistry(),
	}
	c.registry = newSubscriptionRegistry(c.queue, c.allocSid)
	c.msgsSent = gometrics.GetOrRegisterCounter("msgs.sent", c.stats)
	c.bytesSent = gometrics.GetOrRegisterCounter("bytes.sent", c.stats)
	c.msgsReceived = gometrics.GetOrRegisterCounter("msgs.received", c.stats)
	c.bytesReceived = gometrics.GetOrRegisterCounter("bytes.received", c.stats)
	return c
}

func (c *connection) allocSid() uint64 {
	return c.nextSid.Add(1)
}

// isLost reports whether the connection is gone, safe from any goroutine
func (c *connection) isLost() bool {
	select {
	case <-c.lost:
		return true
	default:
		return false
	}
}

// closedErr is the error handed to callers once the connection is gone.
// lostErr is only read after lost was closed.
func (c *connection) closedErr() error {
	if !c.isLost() {
		return common.ErrConnectionClosed
	}
	return closedError(c.lostErr)
}

func closedError(cause error) error {
	if cause == nil || errors.Is(cause, common.ErrConnectionClosed) {
		return common.ErrConnectionClosed
	}
	return fmt.Errorf("%w: %v", common.ErrConnectionClosed, cause)
}

// readLoop feeds the socket into the frame parser and pushes complete frames to the event loop
func (c *connection) readLoop() {
	parser := &frameParser{}
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.netConn.Read(buf)
		if n > 0 {
			frames, perr := parser.Feed(buf[:n])
			for _, f := range frames {
				c.inbound.Push(inboundEvent{frame: f})
			}
			if perr != nil {
				c.inbound.Push(inboundEvent{err: perr})
				return
			}
		}
		if err != nil {
			c.inbound.Push(inboundEvent{err: fmt.Errorf("read: %w", err)})
			return
		}
	}
}

// --------------------------------------------------------------------------
// Outbound buffer (event loop only)
// --------------------------------------------------------------------------

// queue appends a command to the outbound buffer, priority commands go to the head
func (c *connection) queue(cmd []byte, priority bool) {
	if c.down {
		return
	}
	if priority {
		c.outbound = append(c.outbound, nil)
		copy(c.outbound[1:], c.outbound)
		c.outbound[0] = cmd
		return
	}
	c.outbound = append(c.outbound, cmd)
}

// send queues a command and flushes immediately
func (c *connection) send(cmd []byte, priority bool) {
	c.queue(cmd, priority)
	c.flush()
}

// flush writes the outbound buffer with a single vectored write.
// Nothing is written before the server sent its INFO.
func (c *connection) flush() {
	if c.down || c.handshake == awaitingInfo || len(c.outbound) == 0 {
		return
	}

	if timeout := c.config.RequestTimeout(); timeout > 0 {
		_ = c.netConn.SetWriteDeadline(time.Now().Add(timeout))
	}

	bufs := net.Buffers(c.outbound)
	_, err := bufs.WriteTo(c.netConn)
	clear(c.outbound)
	c.outbound = c.outbound[:0]

	if err != nil {
		c.fail(fmt.Errorf("write: %w", err))
	}
}

// --------------------------------------------------------------------------
// Handshake and keep-alive (event loop only)
// --------------------------------------------------------------------------

func (c *connection) processInfo(text string) {
	var info serverInfo
	if err := json.Unmarshal([]byte(text), &info); err != nil {
		c.fail(&common.ProtocolError{Line: truncate(text), Reason: "invalid INFO json"})
		return
	}
	if info.MaxPayload > 0 {
		c.maxPayload.Store(info.MaxPayload)
	}
	if c.handshake != awaitingInfo {
		return
	}

	opts, err := json.Marshal(connectOptions{
		Name:     c.config.Transport.Name,
		Lang:     "go",
		Version:  common.Version,
		Protocol: 1,
		Echo:     true,
		User:     c.user,
		Pass:     c.password,
	})
	if err != nil {
		c.fail(fmt.Errorf("encode CONNECT: %w", err))
		return
	}

	Logger.Debugf("Server %s (version %s) at %s, max payload %d", info.ServerID, info.Version, common.RedactEndpoint(c.endpoint), info.MaxPayload)

	c.handshake = awaitingPong
	c.queue(connectCmd(opts), true)
	c.queue(pingCmd, false)
	c.flush()
}

func (c *connection) processPong() {
	c.pingsOut = 0
	if c.handshake == awaitingPong {
		c.handshake = handshakeDone
		close(c.ready)
		return
	}
	if len(c.pongWaiters) == 0 {
		return
	}
	waiter := c.pongWaiters[0]
	c.pongWaiters = c.pongWaiters[1:]
	if waiter != nil {
		close(waiter)
	}
}

func (c *connection) processErr(text string) {
	if c.handshake != handshakeDone {
		c.fail(fmt.Errorf("server rejected connection: %s", text))
		return
	}
	Logger.Warningf("Server error on %s: %s", common.RedactEndpoint(c.endpoint), text)
}

// keepAlive sends a PING, the connection is lost after MaxPingsOut unanswered pings
func (c *connection) keepAlive() {
	if c.handshake != handshakeDone {
		return
	}
	maxOut := c.config.Transport.MaxPingsOut
	if maxOut <= 0 {
		maxOut = common.DefaultMaxPingsOut
	}
	if c.pingsOut >= maxOut {
		c.fail(fmt.Errorf("stale connection: %d pings unanswered", c.pingsOut))
		return
	}
	c.pingsOut++
	c.pongWaiters = append(c.pongWaiters, nil)
	c.send(pingCmd, false)
}

// --------------------------------------------------------------------------
// Lost state (event loop only)
// --------------------------------------------------------------------------

// fail transitions the connection to the lost state: the socket is closed, the reader
// stops, all subscriptions are dropped and all pending requests fail
func (c *connection) fail(err error) {
	if c.down {
		return
	}
	c.down = true
	c.lostErr = err

	_ = c.netConn.Close()
	c.inbound.Discard()
	c.registry.clear()
	clear(c.inflight)
	c.outbound = nil

	closedErr := closedError(err)
	c.pending.Range(func(id uint64, _ chan responseResult) bool {
		c.deliver(id, responseResult{err: closedErr})
		return true
	})
	close(c.lost)

	if c.closing.Load() {
		Logger.Debugf("Connection to %s closed", common.RedactEndpoint(c.endpoint))
		return
	}

	Logger.Warningf("Connection to %s lost: %v", common.RedactEndpoint(c.endpoint), err)
	common.IncConnectionsLost(c.endpoint)
	if c.onLost != nil && c.handshake == handshakeDone {
		go c.onLost(c, err)
	}
}

// deliver hands a result to the caller waiting for request id, at most once
func (c *connection) deliver(id uint64, res responseResult) {
	ch, ok := c.pending.LoadAndDelete(id)
	if !ok {
		return
	}
	select {
	case ch <- res:
	default:
	}
}

// snapshot returns the counters of the connection
func (c *connection) snapshot() map[string]int64 {
	m := make(map[string]int64)
	c.stats.Each(func(name string, i interface{}) {
		if counter, ok := i.(gometrics.Counter); ok {
			m[name] = counter.Count()
		}
	})
	return m
}
