package client

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/wBridge/lib/catalog"
	"github.com/ValentinKolb/wBridge/lib/catalog/local"
	"github.com/ValentinKolb/wBridge/rpc/common"
	"github.com/ValentinKolb/wBridge/rpc/serializer"
	"github.com/ValentinKolb/wBridge/rpc/server"
	"github.com/ValentinKolb/wBridge/rpc/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Fake transport
// --------------------------------------------------------------------------

// outcome decides the fate of a single send. With apply the request reaches the
// catalog, a non nil err replaces the reply (e.g. a reply lost after the server applied it).
type outcome struct {
	apply bool
	err   error
}

// fakeTransport answers requests in process through the catalog adapter
type fakeTransport struct {
	mu      sync.Mutex
	cat     catalog.ICatalog
	adapter server.IRPCServerAdapter
	ser     serializer.IRPCSerializer
	sends   map[string]int
	// script returns the outcome of send number n (0 based) on subject, nil means deliver normally
	script func(subject string, n int) *outcome
}

func newFakeTransport(script func(subject string, n int) *outcome) *fakeTransport {
	ser := serializer.NewJSONSerializer()
	return &fakeTransport{
		cat:     local.NewLocalCatalog(),
		adapter: server.NewICatalogServerAdapter(ser),
		ser:     ser,
		sends:   make(map[string]int),
		script:  script,
	}
}

func (f *fakeTransport) Connect(common.ClientConfig) error { return nil }

func (f *fakeTransport) Send(ctx context.Context, subject string, req []byte, _ time.Duration) ([]byte, error) {
	f.mu.Lock()
	n := f.sends[subject]
	f.sends[subject]++
	f.mu.Unlock()

	o := outcome{apply: true}
	if f.script != nil {
		if scripted := f.script(subject, n); scripted != nil {
			o = *scripted
		}
	}

	var resp []byte
	if o.apply {
		var err error
		resp, err = f.ser.Serialize(f.adapter.Handle(ctx, subject, req, f.cat))
		if err != nil {
			return nil, err
		}
	}
	if o.err != nil {
		return nil, o.err
	}
	return resp, nil
}

func (f *fakeTransport) Publish(string, string, []byte) error { return nil }

func (f *fakeTransport) Subscribe(subject, _ string, _ transport.MsgHandler, _ int) (transport.Subscription, error) {
	return transport.Subscription{Subject: subject}, nil
}

func (f *fakeTransport) Unsubscribe(transport.Subscription, int) error { return nil }

func (f *fakeTransport) Flush(context.Context) error { return nil }

func (f *fakeTransport) SetConnectionLostHandler(transport.ConnectionLostHandler) {}

func (f *fakeTransport) Stats() map[string]int64 { return nil }

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) count(subject string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends[subject]
}

func newFakeCatalog(t *testing.T, f *fakeTransport) catalog.ICatalog {
	t.Helper()
	c, err := NewRPCCatalog(common.DefaultClientConfig(), f, f.ser)
	require.NoError(t, err)
	return c
}

// lostReply applies the request but the reply never arrives
var lostReply = &outcome{apply: true, err: common.ErrTimeout}

// neverArrives drops the request before it reaches the server
var neverArrives = &outcome{apply: false, err: common.ErrTimeout}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

// TestCreateExactlyOnceUnderDelayedReply checks that a create whose reply is lost is
// confirmed by the reconciliation read and never applied twice
func TestCreateExactlyOnceUnderDelayedReply(t *testing.T) {
	f := newFakeTransport(func(subject string, n int) *outcome {
		if subject == common.RouteCreateCollection && n == 0 {
			return lostReply
		}
		return nil
	})
	c := newFakeCatalog(t, f)

	id, err := c.CreateCollection(context.Background(), catalog.Collection{Name: "shots"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	assert.Equal(t, 1, f.count(common.RouteCreateCollection), "the create must not be resent")
	assert.Equal(t, 1, f.count(common.RouteFindCollection))

	found, err := f.cat.FindCollections(context.Background(), []catalog.QueryDesc{{Name: "shots"}}, 0, 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, id, found[0].Id)
}

func TestCreateResentWhenAbsent(t *testing.T) {
	f := newFakeTransport(func(subject string, n int) *outcome {
		if subject == common.RouteCreateCollection && n < 2 {
			return neverArrives
		}
		return nil
	})
	c := newFakeCatalog(t, f)

	id, err := c.CreateCollection(context.Background(), catalog.Collection{Name: "shots"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 3, f.count(common.RouteCreateCollection))
	assert.Equal(t, 2, f.count(common.RouteFindCollection))
}

// TestCreateTerminalTimeout checks that a create whose effect never lands fails with the
// last timeout after the configured number of attempts
func TestCreateTerminalTimeout(t *testing.T) {
	f := newFakeTransport(func(subject string, _ int) *outcome {
		if subject == common.RouteCreateItem {
			return neverArrives
		}
		return nil
	})
	c := newFakeCatalog(t, f)

	parent, err := c.CreateCollection(context.Background(), catalog.Collection{Name: "c"})
	require.NoError(t, err)

	_, err = c.CreateItem(context.Background(), catalog.Item{Parent: parent, ItemType: "model", Variant: "default"})
	assert.ErrorIs(t, err, common.ErrTimeout)
	assert.Equal(t, 1+common.DefaultRetryCount, f.count(common.RouteCreateItem))
	assert.Equal(t, 1+common.DefaultRetryCount, f.count(common.RouteFindItem))
}

func TestCreateReconcileMatchesNaturalKey(t *testing.T) {
	f := newFakeTransport(func(subject string, n int) *outcome {
		if subject == common.RouteCreateCollection && n == 0 {
			return neverArrives
		}
		return nil
	})
	c := newFakeCatalog(t, f)
	ctx := context.Background()

	// a child collection with the same name must not confirm a top level create
	parent, err := f.cat.CreateCollection(ctx, catalog.Collection{Name: "parent"})
	require.NoError(t, err)
	_, err = f.cat.CreateCollection(ctx, catalog.Collection{Name: "dup", Parent: parent})
	require.NoError(t, err)

	id, err := c.CreateCollection(ctx, catalog.Collection{Name: "dup"})
	require.NoError(t, err)
	assert.Equal(t, 2, f.count(common.RouteCreateCollection))

	found, err := f.cat.FindCollections(ctx, []catalog.QueryDesc{{Id: id}}, 0, 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "", found[0].Parent)
}

// TestCreateReconcileBeyondFirstPage checks that the reconciliation read looks past the
// first page when many objects share the queried fields
func TestCreateReconcileBeyondFirstPage(t *testing.T) {
	f := newFakeTransport(func(subject string, n int) *outcome {
		if subject == common.RouteCreateCollection && n == 0 {
			return lostReply
		}
		return nil
	})
	c := newFakeCatalog(t, f)
	ctx := context.Background()

	// more children named "dup" than fit on one page, all created before the top level one
	for i := 0; i <= catalog.DefaultQueryLimit; i++ {
		parent, err := f.cat.CreateCollection(ctx, catalog.Collection{Name: fmt.Sprintf("parent-%d", i)})
		require.NoError(t, err)
		_, err = f.cat.CreateCollection(ctx, catalog.Collection{Name: "dup", Parent: parent})
		require.NoError(t, err)
	}

	id, err := c.CreateCollection(ctx, catalog.Collection{Name: "dup"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.count(common.RouteCreateCollection), "create must not be resent")
	assert.Equal(t, 2, f.count(common.RouteFindCollection))

	found, err := f.cat.FindCollections(ctx, []catalog.QueryDesc{{Name: "dup"}}, 1000, 0)
	require.NoError(t, err)
	require.Len(t, found, catalog.DefaultQueryLimit+2)
	assert.Equal(t, id, found[len(found)-1].Id)
	assert.Equal(t, "", found[len(found)-1].Parent)
}

func TestConflictAfterUnconfirmedAttempt(t *testing.T) {
	f := newFakeTransport(func(subject string, n int) *outcome {
		switch {
		case subject == common.RouteCreateCollection && n == 0:
			return lostReply
		case subject == common.RouteFindCollection && n == 0:
			// the first reconciliation read fails as well
			return neverArrives
		}
		return nil
	})
	c := newFakeCatalog(t, f)

	id, err := c.CreateCollection(context.Background(), catalog.Collection{Name: "shots"})
	require.NoError(t, err, "the resend conflicts with the first attempt, which is then confirmed")
	assert.NotEmpty(t, id)
	assert.Equal(t, 2, f.count(common.RouteCreateCollection))
}

func TestServerErrorsAreNotRetried(t *testing.T) {
	f := newFakeTransport(nil)
	c := newFakeCatalog(t, f)
	ctx := context.Background()

	_, err := c.CreateCollection(ctx, catalog.Collection{Name: "shots"})
	require.NoError(t, err)

	_, err = c.CreateCollection(ctx, catalog.Collection{Name: "shots"})
	assert.ErrorIs(t, err, catalog.ErrAlreadyExists)
	assert.Equal(t, 2, f.count(common.RouteCreateCollection))
	assert.Equal(t, 0, f.count(common.RouteFindCollection))

	err = c.DeleteItem(ctx, "missing")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	assert.Equal(t, 1, f.count(common.RouteDeleteItem))

	var se *common.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, common.KindNotFound, se.Kind)
}

func TestQueueFullResendsWithoutReconciling(t *testing.T) {
	f := newFakeTransport(func(subject string, n int) *outcome {
		if subject == common.RouteCreateCollection && n == 0 {
			return &outcome{apply: false, err: common.ErrQueueFull}
		}
		return nil
	})
	c := newFakeCatalog(t, f)

	_, err := c.CreateCollection(context.Background(), catalog.Collection{Name: "shots"})
	require.NoError(t, err)
	assert.Equal(t, 2, f.count(common.RouteCreateCollection))
	assert.Equal(t, 0, f.count(common.RouteFindCollection))
}

func TestIdempotentRetry(t *testing.T) {
	f := newFakeTransport(func(subject string, n int) *outcome {
		if subject == common.RouteFindCollection && n < 2 {
			return &outcome{apply: false, err: common.ErrConnectionClosed}
		}
		return nil
	})
	c := newFakeCatalog(t, f)

	found, err := c.FindCollections(context.Background(), []catalog.QueryDesc{{Name: "x"}}, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.Equal(t, 3, f.count(common.RouteFindCollection))

	// invalid predicate sets never leave the process
	_, err = c.FindCollections(context.Background(), []catalog.QueryDesc{{}}, 0, 0)
	assert.ErrorIs(t, err, catalog.ErrInvalidInput)
	assert.Equal(t, 3, f.count(common.RouteFindCollection))
}

func TestIdempotentRetryExhausted(t *testing.T) {
	f := newFakeTransport(func(subject string, _ int) *outcome {
		if subject == common.RouteGetPublished {
			return neverArrives
		}
		return nil
	})
	c := newFakeCatalog(t, f)

	_, err := c.GetPublishedVersion(context.Background(), "item")
	assert.ErrorIs(t, err, common.ErrTimeout)
	assert.Equal(t, 1+common.DefaultRetryCount, f.count(common.RouteGetPublished))
}

func TestDeleteNotFoundAfterLostReply(t *testing.T) {
	f := newFakeTransport(func(subject string, n int) *outcome {
		if subject == common.RouteDeleteCollection && n == 0 {
			return lostReply
		}
		return nil
	})
	c := newFakeCatalog(t, f)
	ctx := context.Background()

	id, err := c.CreateCollection(ctx, catalog.Collection{Name: "gone"})
	require.NoError(t, err)

	require.NoError(t, c.DeleteCollection(ctx, id))
	assert.Equal(t, 2, f.count(common.RouteDeleteCollection))
}

func TestUpdateFacetsReconcile(t *testing.T) {
	t.Run("Confirmed", func(t *testing.T) {
		f := newFakeTransport(func(subject string, n int) *outcome {
			if subject == common.RouteUpdateItem && n == 0 {
				return lostReply
			}
			return nil
		})
		c := newFakeCatalog(t, f)
		ctx := context.Background()

		coll, err := c.CreateCollection(ctx, catalog.Collection{Name: "c"})
		require.NoError(t, err)
		item, err := c.CreateItem(ctx, catalog.Item{Parent: coll, ItemType: "t", Variant: "v"})
		require.NoError(t, err)

		require.NoError(t, c.UpdateItemFacets(ctx, item, catalog.Facets{"status": "done"}))
		assert.Equal(t, 1, f.count(common.RouteUpdateItem))
		assert.Equal(t, 1, f.count(common.RouteFindItem))
	})

	t.Run("Resent", func(t *testing.T) {
		f := newFakeTransport(func(subject string, n int) *outcome {
			if subject == common.RouteUpdateItem && n == 0 {
				return neverArrives
			}
			return nil
		})
		c := newFakeCatalog(t, f)
		ctx := context.Background()

		coll, err := c.CreateCollection(ctx, catalog.Collection{Name: "c"})
		require.NoError(t, err)
		item, err := c.CreateItem(ctx, catalog.Item{Parent: coll, ItemType: "t", Variant: "v"})
		require.NoError(t, err)

		require.NoError(t, c.UpdateItemFacets(ctx, item, catalog.Facets{"status": "done"}))
		assert.Equal(t, 2, f.count(common.RouteUpdateItem))

		found, err := c.FindItems(ctx, []catalog.QueryDesc{{Id: item}}, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, "done", found[0].Facets["status"])
	})

	t.Run("Vanished", func(t *testing.T) {
		var f *fakeTransport
		var coll string
		f = newFakeTransport(func(subject string, n int) *outcome {
			if subject == common.RouteUpdateCollection && n == 0 {
				// the object is deleted while the update is in flight
				_ = f.cat.DeleteCollection(context.Background(), coll)
				return neverArrives
			}
			return nil
		})
		c := newFakeCatalog(t, f)

		var err error
		coll, err = c.CreateCollection(context.Background(), catalog.Collection{Name: "c"})
		require.NoError(t, err)

		err = c.UpdateCollectionFacets(context.Background(), coll, catalog.Facets{"a": "b"})
		assert.ErrorIs(t, err, catalog.ErrNotFound)
		assert.Equal(t, 1, f.count(common.RouteUpdateCollection))
	})
}

func TestCreateVersionReturnsNumber(t *testing.T) {
	f := newFakeTransport(nil)
	c := newFakeCatalog(t, f)
	ctx := context.Background()

	coll, err := c.CreateCollection(ctx, catalog.Collection{Name: "c"})
	require.NoError(t, err)
	item, err := c.CreateItem(ctx, catalog.Item{Parent: coll, ItemType: "t", Variant: "v"})
	require.NoError(t, err)

	_, n, err := c.CreateVersion(ctx, catalog.Version{Parent: item})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	id, n, err := c.CreateVersion(ctx, catalog.Version{Parent: item})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, c.PublishVersion(ctx, id))
	v, err := c.GetPublishedVersion(ctx, item)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, id, v.Id)
	assert.Equal(t, 2, v.Number)
}

func TestContextCancelledDuringBackoff(t *testing.T) {
	f := newFakeTransport(func(string, int) *outcome { return neverArrives })
	c := newFakeCatalog(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.FindItems(ctx, []catalog.QueryDesc{{Name: "x"}}, 0, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, f.count(common.RouteFindItem))
}

func TestBackoff(t *testing.T) {
	for attempt := 0; attempt < 4; attempt++ {
		base := initialBackoff << attempt
		for i := 0; i < 20; i++ {
			d := backoff(attempt)
			assert.GreaterOrEqual(t, d, base*9/10)
			assert.LessOrEqual(t, d, base*11/10)
		}
	}
}
