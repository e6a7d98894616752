package base

import (
	"context"
	"time"

	"github.com/ValentinKolb/wBridge/rpc/common"
	"github.com/ValentinKolb/wBridge/rpc/transport"
)

// inboxGrace is added to the request timeout before the event loop drops a stale inbox
const inboxGrace = time.Second

type workKind uint8

const (
	workRequest workKind = iota + 1
	workCancel
	workPublish
	workSubscribe
	workUnsubscribe
	workFlush
	workClose
)

// workItem is a unit of work for the event loop
type workItem struct {
	kind       workKind
	id         uint64 // request id or sid
	subject    string
	replyTo    string
	queueGroup string
	payload    []byte
	timeout    time.Duration
	handler    transport.MsgHandler
	max        int
	flushed    chan struct{}
}

// --------------------------------------------------------------------------
// Event loop
// --------------------------------------------------------------------------

// run is the event loop of the connection. It is the only goroutine that writes to the
// socket or touches the outbound buffer and the subscription registry.
func (c *connection) run() {
	defer close(c.done)

	var pingC <-chan time.Time
	if interval := time.Duration(c.config.Transport.PingIntervalSec) * time.Second; interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		pingC = ticker.C
	}

	c.timer = time.NewTimer(time.Hour)
	c.timer.Stop()
	defer c.timer.Stop()

	for !c.down {
		select {
		case ev, ok := <-c.inbound.Recv():
			if !ok {
				c.fail(common.ErrConnectionClosed)
				continue
			}
			c.handleInbound(ev)
		case item := <-c.work:
			if item.kind == workClose {
				c.shutdown()
				continue
			}
			c.handleWork(item)
		case <-c.timer.C:
			c.timerSet = false
			c.registry.expire(time.Now())
		case <-pingC:
			c.keepAlive()
		}
		c.flush()
		c.armTimer()
	}

	c.drainWork()
}

// armTimer points the loop timer at the earliest subscription timeout
func (c *connection) armTimer() {
	if c.down {
		return
	}
	next, ok := c.registry.nextDeadline()
	if !ok {
		if c.timerSet {
			c.timer.Stop()
			c.timerSet = false
		}
		return
	}
	if c.timerSet && next.Equal(c.timerAt) {
		return
	}
	c.timer.Reset(time.Until(next))
	c.timerAt, c.timerSet = next, true
}

func (c *connection) handleInbound(ev inboundEvent) {
	if ev.err != nil {
		c.fail(ev.err)
		return
	}

	f := ev.frame
	switch f.Kind {
	case FrameMsg:
		c.msgsReceived.Inc(1)
		c.bytesReceived.Inc(int64(len(f.Payload)))
		c.registry.dispatch(f.Subject, f.Sid, f.Payload, f.ReplyTo)
	case FramePing:
		c.send(pongCmd, true)
	case FramePong:
		c.processPong()
	case FrameInfo:
		c.processInfo(f.Text)
	case FrameOK:
	case FrameErr:
		c.processErr(f.Text)
	}
}

func (c *connection) handleWork(item workItem) {
	switch item.kind {
	case workRequest:
		c.startRequest(item)
	case workCancel:
		if sid, ok := c.inflight[item.id]; ok {
			delete(c.inflight, item.id)
			c.registry.unsubscribe(sid, 0)
		}
	case workPublish:
		c.publish(item.subject, item.replyTo, item.payload)
	case workSubscribe:
		c.registry.subscribe(item.id, item.subject, item.queueGroup, item.handler, item.max)
	case workUnsubscribe:
		c.registry.unsubscribe(item.id, item.max)
	case workFlush:
		c.pongWaiters = append(c.pongWaiters, item.flushed)
		c.send(pingCmd, false)
	}
}

// startRequest subscribes a fresh inbox for one message, publishes the request with the
// inbox as reply subject and arms the inbox timeout
func (c *connection) startRequest(item workItem) {
	id := item.id
	if _, waiting := c.pending.Load(id); !waiting {
		// the caller gave up while the request was queued
		return
	}
	if c.closing.Load() {
		c.deliver(id, responseResult{err: common.ErrConnectionClosed})
		return
	}

	inbox := newInbox()
	sid := c.registry.subscribe(0, inbox, "", func(payload []byte, _, _ string) {
		delete(c.inflight, id)
		c.deliver(id, responseResult{data: payload})
	}, 1)
	c.inflight[id] = sid

	c.registry.setTimeout(sid, item.timeout+inboxGrace, 1, true, func(uint64) {
		delete(c.inflight, id)
		c.deliver(id, responseResult{err: common.ErrTimeout})
	})

	c.publish(item.subject, inbox, item.payload)
}

func (c *connection) publish(subject, replyTo string, payload []byte) {
	c.queue(pubCmd(subject, replyTo, payload), false)
	c.msgsSent.Inc(1)
	c.bytesSent.Inc(int64(len(payload)))
}

// shutdown handles the poison pill: queued work is failed, the outbound buffer flushed
// and the connection closed
func (c *connection) shutdown() {
	c.drainWork()
	c.flush()
	c.fail(common.ErrConnectionClosed)
}

// drainWork fails all queued requests without blocking
func (c *connection) drainWork() {
	for {
		select {
		case item := <-c.work:
			if item.kind == workRequest {
				c.deliver(item.id, responseResult{err: c.closedErr()})
			}
		default:
			return
		}
	}
}

// --------------------------------------------------------------------------
// Entry points for other goroutines
// --------------------------------------------------------------------------

// enqueue hands a work item to the event loop without blocking
func (c *connection) enqueue(item workItem) error {
	if c.closing.Load() || c.isLost() {
		return c.closedErr()
	}
	select {
	case c.work <- item:
		return nil
	default:
		return common.ErrQueueFull
	}
}

// request publishes payload to subject and blocks until the reply arrived, the timeout
// elapsed, ctx was cancelled or the connection is gone
func (c *connection) request(ctx context.Context, subject string, payload []byte, timeout time.Duration) ([]byte, error) {
	if !validSubject(subject) {
		return nil, common.ErrBadSubject
	}
	if mp := c.maxPayload.Load(); mp > 0 && int64(len(payload)) > mp {
		return nil, common.ErrMaxPayload
	}

	id := c.nextRequestID.Add(1)
	ch := make(chan responseResult, 1)
	c.pending.Store(id, ch)

	if err := c.enqueue(workItem{kind: workRequest, id: id, subject: subject, payload: payload, timeout: timeout}); err != nil {
		c.pending.Delete(id)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.data, res.err
	case <-timer.C:
		if res, ok := c.abandon(id, ch); ok {
			return res.data, res.err
		}
		return nil, common.ErrTimeout
	case <-ctx.Done():
		if res, ok := c.abandon(id, ch); ok {
			return res.data, res.err
		}
		return nil, ctx.Err()
	case <-c.lost:
		if res, ok := c.abandon(id, ch); ok {
			return res.data, res.err
		}
		return nil, c.closedErr()
	}
}

// abandon removes a pending request. If the event loop already claimed it, the result
// it delivers is returned instead.
func (c *connection) abandon(id uint64, ch chan responseResult) (responseResult, bool) {
	if _, ok := c.pending.LoadAndDelete(id); !ok {
		return <-ch, true
	}
	// best effort, the inbox timeout removes the subscription otherwise
	select {
	case c.work <- workItem{kind: workCancel, id: id}:
	default:
	}
	return responseResult{}, false
}

func (c *connection) publishAsync(subject, replyTo string, payload []byte) error {
	if !validSubject(subject) || (replyTo != "" && !validSubject(replyTo)) {
		return common.ErrBadSubject
	}
	if mp := c.maxPayload.Load(); mp > 0 && int64(len(payload)) > mp {
		return common.ErrMaxPayload
	}
	return c.enqueue(workItem{kind: workPublish, subject: subject, replyTo: replyTo, payload: payload})
}

// subscribe allocates the sid and returns without waiting for the event loop
func (c *connection) subscribe(subject, queueGroup string, handler transport.MsgHandler, max int) (uint64, error) {
	if !validSubject(subject) || (queueGroup != "" && !validSubject(queueGroup)) {
		return 0, common.ErrBadSubject
	}
	sid := c.allocSid()
	err := c.enqueue(workItem{kind: workSubscribe, id: sid, subject: subject, queueGroup: queueGroup, handler: handler, max: max})
	if err != nil {
		return 0, err
	}
	return sid, nil
}

func (c *connection) unsubscribe(sid uint64, max int) error {
	return c.enqueue(workItem{kind: workUnsubscribe, id: sid, max: max})
}

// roundTrip sends a PING and waits for its PONG. The server answers in order, so every
// command queued before was processed by the server when roundTrip returns nil.
func (c *connection) roundTrip(ctx context.Context, timeout time.Duration) error {
	flushed := make(chan struct{})
	if err := c.enqueue(workItem{kind: workFlush, flushed: flushed}); err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-flushed:
		return nil
	case <-timer.C:
		return common.ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-c.lost:
		return c.closedErr()
	}
}

// close enqueues the poison pill and waits for the event loop to exit
func (c *connection) close() error {
	if !c.closing.CompareAndSwap(false, true) {
		<-c.done
		return nil
	}
	select {
	case c.work <- workItem{kind: workClose}:
	case <-c.done:
	}
	<-c.done
	return nil
}
