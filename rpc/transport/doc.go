// Package transport defines the contract between the RPC client and the messaging
// transport. A transport turns the asynchronous publish/subscribe primitives of
// the message server into a synchronous Send that waits for exactly one reply.
//
// Key Components:
//
//   - IRPCClientTransport: interface for client transports. Implementations manage
//     connections, correlate replies and expose the raw Publish/Subscribe primitives.
//
//   - MsgHandler: fixed callback signature for delivered messages.
//
//   - Subscription: handle returned by Subscribe and accepted by Unsubscribe.
package transport
