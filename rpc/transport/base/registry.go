package base

import (
	"time"

	"github.com/ValentinKolb/wBridge/lib/util"
	"github.com/ValentinKolb/wBridge/rpc/transport"
)

// subscription is the state of a single subscription on a connection
type subscription struct {
	sid        uint64
	subject    string
	queueGroup string
	handler    transport.MsgHandler
	received   int
	// max is the number of messages after which the subscription is removed, 0 means unlimited
	max int

	// timeout state, only valid while the sid is in the deadline heap
	expected  int
	autoUnsub bool
	onTimeout func(sid uint64)
}

// subscriptionRegistry maps sids to subscriptions.
// It is owned by the event loop of its connection and must not be used from other goroutines.
type subscriptionRegistry struct {
	subs      map[uint64]*subscription
	deadlines *util.MapHeap
	// queue appends a command to the outbound buffer of the connection
	queue   func(cmd []byte, priority bool)
	nextSid func() uint64
}

func newSubscriptionRegistry(queue func(cmd []byte, priority bool), nextSid func() uint64) *subscriptionRegistry {
	return &subscriptionRegistry{
		subs:      make(map[uint64]*subscription),
		deadlines: util.NewMapHeap(),
		queue:     queue,
		nextSid:   nextSid,
	}
}

// subscribe stores a subscription and queues the SUB command (and UNSUB <max> when max is set).
// A sid of zero allocates a new one. The sid is returned.
func (r *subscriptionRegistry) subscribe(sid uint64, subject, queueGroup string, handler transport.MsgHandler, max int) uint64 {
	if sid == 0 {
		sid = r.nextSid()
	}
	if max < 0 {
		max = 0
	}

	r.subs[sid] = &subscription{
		sid:        sid,
		subject:    subject,
		queueGroup: queueGroup,
		handler:    handler,
		max:        max,
	}

	r.queue(subCmd(subject, queueGroup, sid), false)
	if max > 0 {
		r.queue(unsubCmd(sid, max), false)
	}
	return sid
}

// unsubscribe queues the UNSUB command. Without max the subscription is removed immediately,
// with max it is removed once it received max messages in total.
func (r *subscriptionRegistry) unsubscribe(sid uint64, max int) {
	r.queue(unsubCmd(sid, max), false)

	sub, ok := r.subs[sid]
	if !ok {
		return
	}
	if max <= 0 || sub.received >= max {
		r.remove(sid)
		return
	}
	sub.max = max
}

// dispatch delivers a message to its subscription. Messages for unknown sids are dropped.
// It reports whether the message was delivered.
func (r *subscriptionRegistry) dispatch(subject string, sid uint64, payload []byte, replyTo string) bool {
	sub, ok := r.subs[sid]
	if !ok {
		return false
	}

	sub.received++
	if sub.handler != nil {
		sub.handler(payload, replyTo, subject)
	}

	// the handler may have removed the subscription
	if r.subs[sid] != sub {
		return true
	}

	if sub.max > 0 && sub.received >= sub.max {
		r.remove(sid)
		return true
	}
	if sub.received >= sub.expected && r.deadlines.Contains(sid) {
		r.cancelTimeout(sub)
	}
	return true
}

// setTimeout arms a timeout for a subscription. It is cancelled once the subscription
// received expected messages. On expiry the subscription is unsubscribed if autoUnsub is
// set and onTimeout is called. It reports false for unknown sids.
func (r *subscriptionRegistry) setTimeout(sid uint64, d time.Duration, expected int, autoUnsub bool, onTimeout func(sid uint64)) bool {
	sub, ok := r.subs[sid]
	if !ok {
		return false
	}
	if expected < 1 {
		expected = 1
	}

	sub.expected = expected
	sub.autoUnsub = autoUnsub
	sub.onTimeout = onTimeout
	r.deadlines.AddItem(sid, uint64(time.Now().Add(d).UnixNano()))
	return true
}

func (r *subscriptionRegistry) cancelTimeout(sub *subscription) {
	r.deadlines.RemoveByKey(sub.sid)
	sub.onTimeout = nil
	sub.autoUnsub = false
}

// expire fires all timeouts due at now
func (r *subscriptionRegistry) expire(now time.Time) {
	for _, sid := range r.deadlines.PopDue(uint64(now.UnixNano())) {
		sub, ok := r.subs[sid]
		if !ok {
			continue
		}
		onTimeout, autoUnsub := sub.onTimeout, sub.autoUnsub
		sub.onTimeout, sub.autoUnsub = nil, false

		if autoUnsub {
			r.unsubscribe(sid, 0)
		}
		if onTimeout != nil {
			onTimeout(sid)
		}
	}
}

// nextDeadline returns the earliest armed timeout
func (r *subscriptionRegistry) nextDeadline() (time.Time, bool) {
	_, prio, ok := r.deadlines.Peek()
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(0, int64(prio)), true
}

func (r *subscriptionRegistry) remove(sid uint64) {
	delete(r.subs, sid)
	r.deadlines.RemoveByKey(sid)
}

// clear drops all subscriptions without queueing commands, used when the connection is gone
func (r *subscriptionRegistry) clear() {
	r.subs = make(map[uint64]*subscription)
	r.deadlines = util.NewMapHeap()
}

func (r *subscriptionRegistry) count() int {
	return len(r.subs)
}

func (r *subscriptionRegistry) get(sid uint64) (*subscription, bool) {
	sub, ok := r.subs[sid]
	return sub, ok
}
