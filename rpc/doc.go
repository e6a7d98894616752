// Package rpc provides request/reply calls over the NATS text protocol. A
// client publishes a request with a private reply subject and waits for a
// single answer, a responder subscribed in a queue group produces it.
//
// The package is organized into several subpackages:
//
//   - common: routes, wire messages, error kinds, configuration, logging and metrics.
//
//   - transport: the client transport contract and its implementations. base holds
//     the frame codec, connector, subscription registry and request/reply bridge,
//     tcp dials plain tcp sockets.
//
//   - serializer: encoding of the wire messages (JSON).
//
//   - client: the remote catalog client with retry and reconciliation.
//
//   - server: the catalog responder.
package rpc
