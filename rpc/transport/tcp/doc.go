// Package tcp connects the base transport to a message server over plain TCP.
//
// Endpoints are given as nats://[user:pass@]host[:port] (the scheme and the port
// are optional, the port defaults to 4222). After the socket is dialed the options
// of common.TCPConf and common.SocketConf are applied:
//
//   - TCPNoDelay disables Nagle's algorithm, recommended for small request/reply payloads
//   - TCPKeepAliveSec enables OS level keep-alive in addition to the protocol PINGs
//   - WriteBufferSize and ReadBufferSize set the socket buffers
//
// Everything else (handshake, framing, request correlation, reconnects) lives in
// the base package.
package tcp
