// Package util provides small data structures used by the transport event loop.
//
// The package contains:
//   - mpsc: an unbounded lock-free Multi-Producer Single-Consumer queue that hands
//     parsed frames from a socket reader to the event loop without ever blocking the reader
//   - mapheap: a min-heap of deadlines addressable by key, used for subscription timeouts
//
// Neither structure knows anything about the wire protocol, they are generic
// building blocks for single-owner event loops.
package util
