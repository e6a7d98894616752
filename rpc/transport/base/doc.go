// Package base implements the client side of the message server text protocol,
// independent of how the socket is obtained. Protocol specific dialing is injected
// with an IClientConnector (see the tcp package).
//
// Key Components:
//
//   - frameParser (frame.go): a resumable parser for the inbound frames MSG, PING,
//     PONG, INFO, +OK and -ERR. Bytes can arrive in arbitrary chunks, a MSG is only
//     emitted once its payload and the trailing CRLF are buffered. Malformed input
//     is fatal for the connection.
//
//   - subscriptionRegistry (registry.go): sid to handler mapping with per
//     subscription message limits (UNSUB <sid> <max>) and timeouts kept in a
//     util.MapHeap.
//
//   - connection (connector.go, bridge.go): one socket with a reader goroutine and
//     an event loop. The reader pushes frames into a util.MPSC queue, other
//     goroutines submit work through a bounded channel. Only the event loop writes
//     to the socket. Outbound commands are batched and written with net.Buffers
//     once per loop iteration.
//
//   - clientTransport (client.go): a pool of connections with round-robin
//     selection. Lost connections are redialed on their next use.
//
// Request/Reply:
//
//	Every request subscribes a fresh _INBOX.<hex> subject limited to one message,
//	publishes with the inbox as reply subject and waits for the reply, the timeout,
//	the caller's context or the loss of the connection, whichever happens first.
//	Results are handed over through an xsync.MapOf of one-slot channels, so a
//	request is completed exactly once.
//
// Thread Safety:
//
//	All methods of clientTransport are safe for concurrent use. Handlers passed to
//	Subscribe run on the event loop of their connection and must not block.
package base
