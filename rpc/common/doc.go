// Package common provides the types shared by the catalog client, the responder
// and the transport.
//
// Key Components:
//
//   - Routes: the subjects of all catalog operations (app.client.*).
//
//   - Wire messages: request and reply bodies with their upper-case JSON keys,
//     and conversions to and from the catalog types.
//
//   - Errors: transport errors (ErrTimeout, ErrNoConnection, ...), IsTransient and
//     the translation of server error texts into catalog errors.
//
//   - ClientConfig and ServerConfig: configuration of connections and the responder.
//
//   - Logger: a dragonboat logger factory with consistent formatting.
//
//   - Metrics: retry, reconciliation and served request counters.
package common
