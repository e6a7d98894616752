package base

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/wBridge/rpc/common"
	"github.com/ValentinKolb/wBridge/rpc/transport"
)

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// connSlot holds the current connection to one endpoint. A lost connection is
// replaced on the next use of the slot.
type connSlot struct {
	endpoint string
	mu       sync.Mutex
	conn     *connection
}

// clientTransport implements the core client transport functionality
// independent of the specific transport medium
type clientTransport struct {
	connector     IClientConnector
	config        common.ClientConfig
	slots         []*connSlot
	slotsMu       sync.RWMutex
	nextConnIndex atomic.Uint64 // Round Robin counter
	stopping      atomic.Bool
	minTimeout    time.Duration

	lostMu      sync.RWMutex
	lostHandler transport.ConnectionLostHandler
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector) transport.IRPCClientTransport {
	return &clientTransport{
		connector:  connector,
		minTimeout: common.MinRequestTimeout,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(config common.ClientConfig) error {
	if len(config.Transport.Endpoints) == 0 {
		return fmt.Errorf("no endpoints provided")
	}

	// Close all existing connections
	t.closeConnections()

	t.config = config
	t.stopping.Store(false)

	connectionsPerEP := max(1, config.Transport.ConnectionsPerEndpoint)

	slots := make([]*connSlot, 0, len(config.Transport.Endpoints)*connectionsPerEP)
	connected := 0
	var lastErr error

	for _, endpoint := range config.Transport.Endpoints {
		if _, _, _, err := ParseEndpoint(endpoint); err != nil {
			return err
		}

		// Create multiple connections per endpoint
		for i := 0; i < connectionsPerEP; i++ {
			slot := &connSlot{endpoint: endpoint}
			slots = append(slots, slot)

			// Establish the initial connection, failed slots are redialed on use
			if _, err := t.connectSlot(slot); err != nil {
				lastErr = err
				Logger.Warningf("Failed to connect to %s (connection %d/%d): %v", common.RedactEndpoint(endpoint), i+1, connectionsPerEP, err)
				continue
			}
			connected++
			Logger.Infof("Connected to %s (connection %d/%d)", common.RedactEndpoint(endpoint), i+1, connectionsPerEP)
		}
	}

	t.slotsMu.Lock()
	t.slots = slots
	t.slotsMu.Unlock()

	// Check if we have at least one connection
	if connected == 0 {
		t.closeConnections()
		return fmt.Errorf("failed to connect to any endpoint: %w", lastErr)
	}

	Logger.Infof("Connected %d out of %d connections to %d endpoints using %s transport",
		connected, len(slots), len(config.Transport.Endpoints), t.connector.GetName())

	return nil
}

func (t *clientTransport) Send(ctx context.Context, subject string, req []byte, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = t.config.RequestTimeout()
	}
	if timeout < t.minTimeout {
		timeout = t.minTimeout
	}

	start := time.Now()
	conn, err := t.getNextConnection()
	if err != nil {
		common.ObserveRequest(subject, start, err)
		return nil, err
	}

	resp, err := conn.request(ctx, subject, req, timeout)
	common.ObserveRequest(subject, start, err)
	if err != nil {
		Logger.Debugf("Request on %s failed after %s: %v", subject, time.Since(start), err)
	}
	return resp, err
}

func (t *clientTransport) Publish(subject, replyTo string, payload []byte) error {
	conn, err := t.getNextConnection()
	if err != nil {
		return err
	}
	return conn.publishAsync(subject, replyTo, payload)
}

func (t *clientTransport) Subscribe(subject, queueGroup string, handler transport.MsgHandler, maxMessages int) (transport.Subscription, error) {
	conn, err := t.getNextConnection()
	if err != nil {
		return transport.Subscription{}, err
	}
	sid, err := conn.subscribe(subject, queueGroup, handler, maxMessages)
	if err != nil {
		return transport.Subscription{}, err
	}
	return transport.Subscription{ID: sid, Subject: subject, Conn: conn.serial}, nil
}

func (t *clientTransport) Unsubscribe(sub transport.Subscription, maxMessages int) error {
	conn := t.findConnection(sub.Conn)
	if conn == nil {
		// the subscription went away with its connection
		return nil
	}
	return conn.unsubscribe(sub.ID, maxMessages)
}

func (t *clientTransport) Flush(ctx context.Context) error {
	t.slotsMu.RLock()
	conns := make([]*connection, 0, len(t.slots))
	for _, slot := range t.slots {
		slot.mu.Lock()
		if slot.conn != nil && !slot.conn.isLost() {
			conns = append(conns, slot.conn)
		}
		slot.mu.Unlock()
	}
	t.slotsMu.RUnlock()

	if len(conns) == 0 {
		return common.ErrNoConnection
	}
	timeout := max(t.config.RequestTimeout(), t.minTimeout)
	for _, conn := range conns {
		if err := conn.roundTrip(ctx, timeout); err != nil {
			return err
		}
	}
	return nil
}

func (t *clientTransport) SetConnectionLostHandler(handler transport.ConnectionLostHandler) {
	t.lostMu.Lock()
	defer t.lostMu.Unlock()
	t.lostHandler = handler
}

func (t *clientTransport) Stats() map[string]int64 {
	t.slotsMu.RLock()
	defer t.slotsMu.RUnlock()

	total := make(map[string]int64)
	for _, slot := range t.slots {
		slot.mu.Lock()
		conn := slot.conn
		slot.mu.Unlock()
		if conn == nil {
			continue
		}
		for name, v := range conn.snapshot() {
			total[name] += v
		}
	}
	return total
}

func (t *clientTransport) Close() error {
	t.stopping.Store(true)
	t.closeConnections()
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// connectSlot returns the live connection of a slot, dialing a new one if needed
func (t *clientTransport) connectSlot(slot *connSlot) (*connection, error) {
	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.conn != nil && !slot.conn.isLost() {
		return slot.conn, nil
	}
	if t.stopping.Load() {
		return nil, common.ErrConnectionClosed
	}
	if slot.conn != nil {
		Logger.Infof("Reconnecting to %s", common.RedactEndpoint(slot.endpoint))
		slot.conn = nil
	}

	conn, err := dial(t.connector, slot.endpoint, t.config, t.handleLost)
	if err != nil {
		return nil, err
	}
	slot.conn = conn
	return conn, nil
}

// getNextConnection selects the next connection via Round Robin, skipping slots that
// cannot be (re)connected
func (t *clientTransport) getNextConnection() (*connection, error) {
	t.slotsMu.RLock()
	slots := t.slots
	t.slotsMu.RUnlock()

	if len(slots) == 0 || t.stopping.Load() {
		return nil, common.ErrNoConnection
	}

	start := uint64(0)
	if len(slots) > 1 {
		start = t.nextConnIndex.Add(1)
	}

	var lastErr error
	for i := 0; i < len(slots); i++ {
		slot := slots[(start+uint64(i))%uint64(len(slots))]
		conn, err := t.connectSlot(slot)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", common.ErrNoConnection, lastErr)
}

// findConnection returns the live connection with the given serial
func (t *clientTransport) findConnection(serial uint64) *connection {
	t.slotsMu.RLock()
	defer t.slotsMu.RUnlock()

	for _, slot := range t.slots {
		slot.mu.Lock()
		conn := slot.conn
		slot.mu.Unlock()
		if conn != nil && conn.serial == serial && !conn.isLost() {
			return conn
		}
	}
	return nil
}

func (t *clientTransport) handleLost(conn *connection, err error) {
	t.lostMu.RLock()
	handler := t.lostHandler
	t.lostMu.RUnlock()

	if handler != nil {
		handler(conn.endpoint, err)
	}
}

// closeConnections closes all active connections
func (t *clientTransport) closeConnections() {
	t.slotsMu.Lock()
	slots := t.slots
	t.slots = nil
	t.slotsMu.Unlock()

	for _, slot := range slots {
		slot.mu.Lock()
		if slot.conn != nil {
			_ = slot.conn.close()
			slot.conn = nil
		}
		slot.mu.Unlock()
	}
}
