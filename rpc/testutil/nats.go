// Package testutil provides an in-process message server for tests.
package testutil

import (
	"testing"
	"time"

	"github.com/ValentinKolb/wBridge/lib/embedded"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// StartEmbeddedNATS starts a message server on a random local port. The server is
// shut down when the test completes.
func StartEmbeddedNATS(t testing.TB) *server.Server {
	t.Helper()

	ns, err := embedded.Start("127.0.0.1", -1)
	if err != nil {
		t.Fatalf("Failed to start embedded message server: %v", err)
	}
	t.Cleanup(func() { embedded.Stop(ns) })
	return ns
}

// ConnectPeer connects an independent client to ns, used to observe or answer traffic
// produced by the code under test
func ConnectPeer(t testing.TB, ns *server.Server) *nats.Conn {
	t.Helper()

	nc, err := nats.Connect(ns.ClientURL(), nats.Timeout(2*time.Second))
	if err != nil {
		t.Fatalf("Failed to connect peer to embedded message server: %v", err)
	}
	t.Cleanup(nc.Close)
	return nc
}
