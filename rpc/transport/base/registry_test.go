package base

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingRegistry returns a registry that records the queued commands
func recordingRegistry() (*subscriptionRegistry, *[]string) {
	var cmds []string
	var sid uint64
	r := newSubscriptionRegistry(func(cmd []byte, _ bool) {
		cmds = append(cmds, string(cmd))
	}, func() uint64 {
		sid++
		return sid
	})
	return r, &cmds
}

func TestRegistrySubscribeQueuesCommands(t *testing.T) {
	r, cmds := recordingRegistry()

	sid := r.subscribe(0, "foo", "", nil, 0)
	assert.Equal(t, uint64(1), sid)
	assert.Equal(t, []string{"SUB foo 1\r\n"}, *cmds)

	sid = r.subscribe(0, "_INBOX.abc", "", nil, 1)
	assert.Equal(t, uint64(2), sid)
	assert.Equal(t, []string{"SUB foo 1\r\n", "SUB _INBOX.abc 2\r\n", "UNSUB 2 1\r\n"}, *cmds)

	// a preallocated sid is kept
	sid = r.subscribe(77, "bar", "workers", nil, 0)
	assert.Equal(t, uint64(77), sid)
	assert.Equal(t, "SUB bar workers 77\r\n", (*cmds)[3])
	assert.Equal(t, 3, r.count())
}

func TestRegistryMaxMessagesAutoRemoval(t *testing.T) {
	r, _ := recordingRegistry()

	var got []string
	sid := r.subscribe(0, "foo", "", func(payload []byte, _, _ string) {
		got = append(got, string(payload))
	}, 1)

	assert.True(t, r.dispatch("foo", sid, []byte("first"), ""))
	_, ok := r.get(sid)
	assert.False(t, ok, "subscription must be removed after max messages")

	// the second message for the same sid is dropped without calling the handler
	assert.False(t, r.dispatch("foo", sid, []byte("second"), ""))
	assert.Equal(t, []string{"first"}, got)
	assert.Equal(t, 0, r.count())
}

func TestRegistryDispatchPassesReplyAndSubject(t *testing.T) {
	r, _ := recordingRegistry()

	var gotReply, gotSubject string
	sid := r.subscribe(0, "app.client.*", "", func(_ []byte, replyTo, subject string) {
		gotReply, gotSubject = replyTo, subject
	}, 0)

	r.dispatch("app.client.gp", sid, []byte("{}"), "_INBOX.1")
	assert.Equal(t, "_INBOX.1", gotReply)
	assert.Equal(t, "app.client.gp", gotSubject)

	sub, ok := r.get(sid)
	require.True(t, ok)
	assert.Equal(t, 1, sub.received)
}

func TestRegistryUnknownSidDropped(t *testing.T) {
	r, _ := recordingRegistry()
	assert.False(t, r.dispatch("foo", 42, []byte("x"), ""))
}

func TestRegistryUnsubscribe(t *testing.T) {
	t.Run("Immediate", func(t *testing.T) {
		r, cmds := recordingRegistry()
		sid := r.subscribe(0, "foo", "", nil, 0)

		r.unsubscribe(sid, 0)
		assert.Equal(t, "UNSUB 1\r\n", (*cmds)[len(*cmds)-1])
		assert.Equal(t, 0, r.count())
		assert.False(t, r.dispatch("foo", sid, nil, ""))
	})

	t.Run("AfterMax", func(t *testing.T) {
		r, cmds := recordingRegistry()
		calls := 0
		sid := r.subscribe(0, "foo", "", func([]byte, string, string) { calls++ }, 0)

		r.unsubscribe(sid, 2)
		assert.Equal(t, "UNSUB 1 2\r\n", (*cmds)[len(*cmds)-1])
		assert.Equal(t, 1, r.count())

		r.dispatch("foo", sid, nil, "")
		assert.Equal(t, 1, r.count())
		r.dispatch("foo", sid, nil, "")
		assert.Equal(t, 0, r.count())
		r.dispatch("foo", sid, nil, "")
		assert.Equal(t, 2, calls)
	})

	t.Run("MaxAlreadyReached", func(t *testing.T) {
		r, _ := recordingRegistry()
		sid := r.subscribe(0, "foo", "", nil, 0)
		r.dispatch("foo", sid, nil, "")
		r.dispatch("foo", sid, nil, "")

		r.unsubscribe(sid, 2)
		assert.Equal(t, 0, r.count())
	})

	t.Run("HandlerRemovesItself", func(t *testing.T) {
		r, _ := recordingRegistry()
		var sid uint64
		sid = r.subscribe(0, "foo", "", func([]byte, string, string) {
			r.unsubscribe(sid, 0)
		}, 3)

		assert.True(t, r.dispatch("foo", sid, nil, ""))
		assert.Equal(t, 0, r.count())
	})
}

func TestRegistryTimeout(t *testing.T) {
	t.Run("FiresAndAutoUnsubscribes", func(t *testing.T) {
		r, cmds := recordingRegistry()
		sid := r.subscribe(0, "_INBOX.x", "", nil, 1)

		var fired []uint64
		require.True(t, r.setTimeout(sid, time.Second, 1, true, func(sid uint64) {
			fired = append(fired, sid)
		}))

		deadline, ok := r.nextDeadline()
		require.True(t, ok)

		// nothing is due before the deadline
		r.expire(deadline.Add(-time.Millisecond))
		assert.Empty(t, fired)

		r.expire(deadline)
		assert.Equal(t, []uint64{sid}, fired)
		assert.Equal(t, "UNSUB 1\r\n", (*cmds)[len(*cmds)-1])
		assert.Equal(t, 0, r.count())

		_, ok = r.nextDeadline()
		assert.False(t, ok)
	})

	t.Run("WithoutAutoUnsubscribe", func(t *testing.T) {
		r, _ := recordingRegistry()
		sid := r.subscribe(0, "foo", "", nil, 0)

		fired := 0
		r.setTimeout(sid, time.Millisecond, 1, false, func(uint64) { fired++ })
		r.expire(time.Now().Add(time.Second))

		assert.Equal(t, 1, fired)
		assert.Equal(t, 1, r.count(), "subscription stays without auto unsubscribe")
	})

	t.Run("CancelledByExpectedMessages", func(t *testing.T) {
		r, _ := recordingRegistry()
		sid := r.subscribe(0, "foo", "", nil, 0)

		fired := 0
		r.setTimeout(sid, time.Second, 2, true, func(uint64) { fired++ })

		r.dispatch("foo", sid, nil, "")
		_, armed := r.nextDeadline()
		assert.True(t, armed, "one of two expected messages must not cancel the timeout")

		r.dispatch("foo", sid, nil, "")
		_, armed = r.nextDeadline()
		assert.False(t, armed)

		r.expire(time.Now().Add(time.Hour))
		assert.Equal(t, 0, fired)
		assert.Equal(t, 1, r.count())
	})

	t.Run("UnknownSid", func(t *testing.T) {
		r, _ := recordingRegistry()
		assert.False(t, r.setTimeout(9, time.Second, 1, true, nil))
	})

	t.Run("EarliestFirst", func(t *testing.T) {
		r, _ := recordingRegistry()
		a := r.subscribe(0, "a", "", nil, 0)
		b := r.subscribe(0, "b", "", nil, 0)

		var order []uint64
		record := func(sid uint64) { order = append(order, sid) }
		r.setTimeout(a, 2*time.Second, 1, false, record)
		r.setTimeout(b, time.Second, 1, false, record)

		r.expire(time.Now().Add(time.Minute))
		assert.Equal(t, []uint64{b, a}, order)
	})
}

func TestRegistryClear(t *testing.T) {
	r, cmds := recordingRegistry()
	sid := r.subscribe(0, "foo", "", nil, 0)
	r.setTimeout(sid, time.Second, 1, true, nil)
	before := len(*cmds)

	r.clear()
	assert.Equal(t, 0, r.count())
	assert.Len(t, *cmds, before, "clear must not queue commands")
	_, ok := r.nextDeadline()
	assert.False(t, ok)
}
