// Package sendqueue implements the per-connection outbound pipeline that
// absorbs TCP backpressure: WriteData either hands data straight to the
// transport or, once more is in flight than the transport currently accepts,
// queues it for the transport's sent callback to drain.
package sendqueue

import (
	"sync"

	"github.com/rhysbryant/simpleHTTPServer/pkg/transport"
)

type chunkForSend struct {
	data []byte
}

// CloseFunc is invoked once a connection marked CloseOnceSent has fully
// drained its queue.
type CloseFunc func()

// Queue is a connection's outbound byte pipeline. It implements
// response.Sender and websocket.Sender.
type Queue struct {
	mu sync.Mutex

	t transport.Transport

	queue []chunkForSend

	waitingForSendComplete int

	// closeOnceSent, when non-zero, is decremented each time the queue
	// fully drains; it reaches zero exactly once, at which point onClose
	// fires. A plain bool would fire repeatedly across keepalive reuses of
	// the same Queue, so this mirrors the original's counter rather than a
	// flag.
	closeOnceSent int
	onClose       CloseFunc
}

// New builds a Queue over t. t.SetSentCallback is wired to the queue's own
// bookkeeping; callers must not also register their own sent callback on t.
func New(t transport.Transport) *Queue {
	q := &Queue{t: t}
	t.SetSentCallback(q.sendCompleteCallback)
	return q
}

// WriteData queues data for send. If nothing is currently queued it submits
// data to the transport immediately; a net.Conn backed transport.Transport
// either accepts a write in full or fails it outright, so the immediate path
// never leaves a partial remainder to queue in practice. It returns false if
// the transport has already been shut down. flags is accepted for interface
// compatibility with the original write-flag set; a net.Conn backed
// transport.Transport always copies on write, so transport.WriteFlagZeroCopy
// has no observable effect here.
func (q *Queue) WriteData(data []byte, flags transport.WriteFlags) bool {
	q.mu.Lock()
	if q.t == nil {
		q.mu.Unlock()
		return false
	}
	sendNow := len(q.queue) == 0
	q.mu.Unlock()

	if sendNow {
		n, ok := q.submit(data)
		if !ok {
			return false
		}
		data = data[n:]
	}

	if len(data) == 0 {
		return true
	}

	q.mu.Lock()
	for len(data) > 0 {
		chunkCap := q.t.AvailableSendBuffer()
		size := len(data)
		if chunkCap > 0 && size > chunkCap {
			size = chunkCap
		}
		q.queue = append(q.queue, chunkForSend{data: data[:size]})
		data = data[size:]
	}
	q.mu.Unlock()
	return true
}

// submit hands data to the transport and accounts for it as in-flight before
// the call returns, not after. NetTransport's sent callback fires
// synchronously from inside Write (a net.Conn's Write blocks until the
// kernel accepts the bytes, so there's no separate async ack to wait for),
// which means sendCompleteCallback can run — and take q.mu — before Write
// unwinds back to this function. Incrementing first makes that ordering
// irrelevant; submit itself never holds q.mu while the transport call is in
// flight, so the reentrant callback never deadlocks on it.
//
// A transport is free to accept less than the full slice without treating
// that as an error; whatever it doesn't take is rolled back out of
// waitingForSendComplete so it isn't double counted once the caller queues
// the remainder and submits it again later.
func (q *Queue) submit(data []byte) (int, bool) {
	q.mu.Lock()
	q.waitingForSendComplete += len(data)
	q.mu.Unlock()

	n, err := q.t.Write(data, 0)
	if n < len(data) {
		q.mu.Lock()
		q.waitingForSendComplete -= len(data) - n
		q.mu.Unlock()
	}
	if err != nil {
		return n, false
	}
	return n, true
}

// sendCompleteCallback is registered with the transport and fires once
// length bytes of a previously submitted write have been accepted. It
// drains one further queued chunk as send capacity frees up — via submit,
// so a transport whose callback re-fires synchronously recurses safely
// instead of deadlocking — and runs the CloseFunc once the queue empties on
// a connection flagged CloseOnceSent.
func (q *Queue) sendCompleteCallback(length int) {
	q.mu.Lock()
	q.waitingForSendComplete -= length

	var next []byte
	if q.t.AvailableSendBuffer() > 0 && len(q.queue) > 0 {
		next = q.queue[0].data
		q.queue = q.queue[1:]
	}
	q.mu.Unlock()

	if next != nil {
		if _, ok := q.submit(next); !ok {
			return
		}
	}

	q.mu.Lock()
	// closeOnceSent is decremented first, then tested against zero: a
	// connection armed for close while already drained must still fire
	// exactly once, not be skipped because the test ran before the
	// decrement.
	drained := len(q.queue) == 0 && q.waitingForSendComplete <= 0
	var fire bool
	if drained && q.closeOnceSent > 0 {
		q.closeOnceSent--
		fire = q.closeOnceSent == 0
	}
	cb := q.onClose
	q.mu.Unlock()

	if fire && cb != nil {
		cb()
	}
}

// CloseOnceSent arms the queue to invoke fn once all currently queued and
// in-flight data has been acknowledged. Calling it again before fn fires
// extends the count, mirroring a connection that's asked to close mid-send
// more than once (e.g. a hijack racing a keepalive timeout).
func (q *Queue) CloseOnceSent(fn CloseFunc) {
	q.mu.Lock()
	q.closeOnceSent++
	q.onClose = fn
	empty := len(q.queue) == 0 && q.waitingForSendComplete <= 0
	q.mu.Unlock()
	if empty {
		q.sendCompleteCallback(0)
	}
}

// HasAvailableSendBuffer reports whether the transport currently has room
// for another chunk.
func (q *Queue) HasAvailableSendBuffer() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.t != nil && q.t.AvailableSendBuffer() > 0
}

// Pending reports the number of chunks still queued, for diagnostics.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}
