package base

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/wBridge/rpc/common"
	"github.com/ValentinKolb/wBridge/rpc/testutil"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// netConnector dials plain tcp, the tcp package cannot be imported from here
type netConnector struct{}

func (netConnector) GetName() string { return "tcp" }

func (netConnector) Connect(endpoint string) (net.Conn, error) {
	address, _, _, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	return net.Dial("tcp", address)
}

func (netConnector) UpgradeConnection(net.Conn, common.ClientConfig) error { return nil }

// newTestTransport connects a pool to the embedded server
func newTestTransport(t *testing.T, url string, connsPerEndpoint int) *clientTransport {
	t.Helper()
	cfg := testClientConfig()
	cfg.Transport.Endpoints = []string{url}
	cfg.Transport.ConnectionsPerEndpoint = connsPerEndpoint

	tr := NewBaseClientTransport(netConnector{}).(*clientTransport)
	require.NoError(t, tr.Connect(cfg))
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

// echoResponder answers every request on subject with its own payload
func echoResponder(t *testing.T, nc *nats.Conn, subject string) {
	t.Helper()
	_, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		_ = msg.Respond(msg.Data)
	})
	require.NoError(t, err)
	require.NoError(t, nc.Flush())
}

// TestConcurrentCorrelation checks that 50 concurrent callers each get their own reply
func TestConcurrentCorrelation(t *testing.T) {
	ns := testutil.StartEmbeddedNATS(t)
	echoResponder(t, testutil.ConnectPeer(t, ns), "app.client.echo")

	for _, conns := range []int{1, 3} {
		t.Run(fmt.Sprintf("Connections%d", conns), func(t *testing.T) {
			tr := newTestTransport(t, ns.ClientURL(), conns)

			const n = 50
			var g errgroup.Group
			for i := 0; i < n; i++ {
				g.Go(func() error {
					want := fmt.Sprintf(`{"caller":%d}`, i)
					got, err := tr.Send(context.Background(), "app.client.echo", []byte(want), 2*time.Second)
					if err != nil {
						return err
					}
					if string(got) != want {
						return fmt.Errorf("caller %d got reply %q", i, got)
					}
					return nil
				})
			}
			require.NoError(t, g.Wait())

			stats := tr.Stats()
			assert.Equal(t, int64(n), stats["msgs.sent"])
			assert.Equal(t, int64(n), stats["msgs.received"])
		})
	}
}

// TestSendTimeoutWithoutResponder sends to app.client.gp with a 2s timeout and nobody listening
func TestSendTimeoutWithoutResponder(t *testing.T) {
	ns := testutil.StartEmbeddedNATS(t)
	tr := newTestTransport(t, ns.ClientURL(), 1)

	start := time.Now()
	_, err := tr.Send(context.Background(), "app.client.gp", []byte(`{"id":"x"}`), 2*time.Second)
	assert.ErrorIs(t, err, common.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Second)
}

func TestSendTimeoutFloor(t *testing.T) {
	ns := testutil.StartEmbeddedNATS(t)
	tr := newTestTransport(t, ns.ClientURL(), 1)

	start := time.Now()
	_, err := tr.Send(context.Background(), "app.client.gp", []byte(`{}`), 10*time.Millisecond)
	assert.ErrorIs(t, err, common.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), common.MinRequestTimeout)
}

func TestSubscribeAndPublish(t *testing.T) {
	ns := testutil.StartEmbeddedNATS(t)
	peer := testutil.ConnectPeer(t, ns)
	tr := newTestTransport(t, ns.ClientURL(), 1)

	t.Run("MaxMessages", func(t *testing.T) {
		var calls atomic.Int32
		got := make(chan string, 4)
		_, err := tr.Subscribe("events.once", "", func(payload []byte, _, _ string) {
			calls.Add(1)
			got <- string(payload)
		}, 1)
		require.NoError(t, err)

		// the server processed the SUB before the publishes
		err = tr.Flush(context.Background())
		require.NoError(t, err)

		require.NoError(t, peer.Publish("events.once", []byte("a")))
		require.NoError(t, peer.Publish("events.once", []byte("b")))
		require.NoError(t, peer.Flush())

		assert.Equal(t, "a", <-got)
		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("ReplyToPeer", func(t *testing.T) {
		sub, err := tr.Subscribe("svc.hello", "", func(payload []byte, replyTo, _ string) {
			_ = tr.Publish(replyTo, "", append([]byte("hi "), payload...))
		}, 0)
		require.NoError(t, err)
		err = tr.Flush(context.Background())
		require.NoError(t, err)

		msg, err := peer.Request("svc.hello", []byte("peer"), 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, "hi peer", string(msg.Data))

		require.NoError(t, tr.Unsubscribe(sub, 0))
		err = tr.Flush(context.Background())
		require.NoError(t, err)

		_, err = peer.Request("svc.hello", []byte("peer"), 200*time.Millisecond)
		assert.Error(t, err, "unsubscribed handler must not answer")
	})

	t.Run("QueueGroup", func(t *testing.T) {
		var a, b atomic.Int32
		_, err := tr.Subscribe("work", "workers", func([]byte, string, string) { a.Add(1) }, 0)
		require.NoError(t, err)
		_, err = tr.Subscribe("work", "workers", func([]byte, string, string) { b.Add(1) }, 0)
		require.NoError(t, err)
		err = tr.Flush(context.Background())
		require.NoError(t, err)

		for i := 0; i < 20; i++ {
			require.NoError(t, peer.Publish("work", nil))
		}
		require.NoError(t, peer.Flush())

		assert.Eventually(t, func() bool {
			return a.Load()+b.Load() == 20
		}, 2*time.Second, 10*time.Millisecond, "each message goes to exactly one member of the group")
	})
}

func TestConnectErrors(t *testing.T) {
	tr := NewBaseClientTransport(netConnector{})

	err := tr.Connect(common.ClientConfig{})
	assert.Error(t, err)

	cfg := testClientConfig()
	cfg.Transport.Endpoints = []string{"http://localhost:4222"}
	assert.Error(t, tr.Connect(cfg))

	// nothing listens on port 1
	cfg.Transport.Endpoints = []string{"nats://127.0.0.1:1"}
	assert.Error(t, tr.Connect(cfg))

	_, err = tr.Send(context.Background(), "app.client.gp", nil, time.Second)
	assert.ErrorIs(t, err, common.ErrNoConnection)
	assert.ErrorIs(t, tr.Flush(context.Background()), common.ErrNoConnection)
}

func TestReconnectAfterLoss(t *testing.T) {
	ns := testutil.StartEmbeddedNATS(t)
	echoResponder(t, testutil.ConnectPeer(t, ns), "app.client.echo")
	tr := newTestTransport(t, ns.ClientURL(), 1)

	lost := make(chan string, 1)
	tr.SetConnectionLostHandler(func(endpoint string, err error) {
		lost <- endpoint
	})

	// drop the client connection from the pool's side of the socket
	slot := tr.slots[0]
	slot.mu.Lock()
	_ = slot.conn.netConn.Close()
	slot.mu.Unlock()

	select {
	case endpoint := <-lost:
		assert.Equal(t, ns.ClientURL(), endpoint)
	case <-time.After(2 * time.Second):
		t.Fatal("connection lost handler not called")
	}

	// the next call redials the slot
	got, err := tr.Send(context.Background(), "app.client.echo", []byte("again"), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "again", string(got))
}

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		endpoint, address, user, password string
		wantErr                           bool
	}{
		{endpoint: "localhost", address: "localhost:4222"},
		{endpoint: "127.0.0.1:4333", address: "127.0.0.1:4333"},
		{endpoint: "nats://host:1", address: "host:1"},
		{endpoint: "tcp://host", address: "host:4222"},
		{endpoint: "nats://bob:pw@host:2", address: "host:2", user: "bob", password: "pw"},
		{endpoint: "http://host", wantErr: true},
		{endpoint: "nats://", wantErr: true},
	}

	for _, c := range cases {
		t.Run(c.endpoint, func(t *testing.T) {
			address, user, password, err := ParseEndpoint(c.endpoint)
			if c.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.address, address)
			assert.Equal(t, c.user, user)
			assert.Equal(t, c.password, password)
		})
	}
}

func TestNewInbox(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		inbox := newInbox()
		require.True(t, validSubject(inbox))
		require.Len(t, inbox, len(inboxPrefix)+32)
		require.False(t, seen[inbox], "inbox reused")
		seen[inbox] = true
	}
}
