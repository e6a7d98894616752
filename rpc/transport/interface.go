package transport

import (
	"context"
	"time"

	"github.com/ValentinKolb/wBridge/rpc/common"
)

// --------------------------------------------------------------------------
// Subscriptions
// --------------------------------------------------------------------------

// MsgHandler is called for every message delivered to a subscription.
// replyTo is empty when the sender does not expect a reply.
// Handlers run on the event loop of the connection and must not block.
type MsgHandler func(payload []byte, replyTo, subject string)

// Subscription identifies a subscription made through a client transport
type Subscription struct {
	// ID is the subscription id on its connection (the sid of the wire protocol)
	ID uint64
	// Subject the subscription was made for
	Subject string
	// Conn is the serial of the connection holding the subscription
	Conn uint64
}

// ConnectionLostHandler is called once for every connection that was lost unexpectedly
type ConnectionLostHandler func(endpoint string, err error)

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the RPC client transport
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration.
	// It returns once at least one connection completed the protocol handshake.
	Connect(config common.ClientConfig) error
	// Send publishes req to subject and waits for the single reply.
	// A timeout of zero uses the configured request timeout.
	Send(ctx context.Context, subject string, req []byte, timeout time.Duration) (resp []byte, err error)
	// Publish sends payload to subject without waiting for a reply
	Publish(subject, replyTo string, payload []byte) error
	// Subscribe registers handler for subject. An empty queueGroup means broadcast delivery,
	// maxMessages > 0 removes the subscription after that many messages.
	Subscribe(subject, queueGroup string, handler MsgHandler, maxMessages int) (Subscription, error)
	// Unsubscribe removes a subscription. With maxMessages > 0 the subscription is removed
	// once it received that many messages in total.
	Unsubscribe(sub Subscription, maxMessages int) error
	// Flush returns once the server processed every command sent before on all live connections
	Flush(ctx context.Context) error
	// SetConnectionLostHandler registers the handler for unexpected connection losses
	SetConnectionLostHandler(handler ConnectionLostHandler)
	// Stats returns message and byte counters summed over all connections
	Stats() map[string]int64
	// Close closes the transport connection
	Close() error
}
