// Package embedded runs a message server inside the current process. It backs
// `wbridge serve --embedded` and the integration tests.
package embedded

import (
	"errors"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/nats-io/nats-server/v2/server"
)

var Logger = logger.GetLogger("embedded")

// ErrNotReady is returned when the server did not accept connections in time
var ErrNotReady = errors.New("embedded message server not ready within timeout")

// readyTimeout bounds the wait for the server to accept connections
const readyTimeout = 5 * time.Second

// Start starts a message server on host:port, a port of -1 picks a free one.
// It returns once the server accepts connections.
func Start(host string, port int) (*server.Server, error) {
	opts := &server.Options{
		Host:   host,
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, err
	}

	go ns.Start()

	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, ErrNotReady
	}

	Logger.Infof("Embedded message server listening on %s", ns.ClientURL())
	return ns, nil
}

// Stop shuts the server down and waits until all connections are closed
func Stop(ns *server.Server) {
	ns.Shutdown()
	ns.WaitForShutdown()
}
