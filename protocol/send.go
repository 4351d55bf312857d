// Outbound path: compression-then-framing, the non-blocking partial
// write with FIFO retry, cork/uncork batching, and the close/terminate
// state transitions. Builds a writable-callback retry loop around
// per-item completion callbacks and cork batching.
package protocol

import (
	"github.com/kestrelws/core/api"
	"github.com/kestrelws/core/sendqueue"
)

type corkEntry struct {
	cb       SendCallback
	userData any
}

// freshDeflater is implemented by compress.Deflater; asserted here so
// the protocol package stays decoupled from the concrete compressor
// while still getting the atomic reset-and-deflate a group's shared
// instance needs.
type freshDeflater interface {
	DeflateFresh(in []byte) ([]byte, error)
}

// deflatePayload compresses payload with whichever compressor this
// connection uses. A sliding-window (per-connection) compressor keeps
// its dictionary across calls; the shared, group-wide one must reset
// and deflate as one atomic step so no other connection's message can
// interleave between the reset and the write (see compress.Deflater's
// DeflateFresh).
func (c *Connection) deflatePayload(payload []byte) ([]byte, error) {
	deflater := c.deflater()
	if c.slidingDeflater == nil {
		if fresh, ok := deflater.(freshDeflater); ok {
			return fresh.DeflateFresh(payload)
		}
	}
	return deflater.Deflate(payload)
}

// Send queues a data message for delivery. Compression is applied when
// the group negotiated it and opcode is a data opcode; cb, if non-nil,
// fires at most once: synchronously inside Send when the frame is
// written whole at once, from OnWritable (or Uncork, while corked) once
// a queued frame finishes, or with cancelled=true if the connection is
// already closed or closes first. When Send returns any other error (a
// failed deflate or socket write), cb is not invoked.
func (c *Connection) Send(opcode Opcode, payload []byte, cb SendCallback, userData any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() != StateOpen {
		if cb != nil {
			cb(c, userData, true)
		}
		return api.ErrConnectionClosed
	}

	compressed := c.CompressionState() != CompressionDisabled && opcode.IsData()
	var body []byte
	if compressed {
		deflated, err := c.deflatePayload(payload)
		if err != nil {
			return err
		}
		body = deflated
	} else {
		body = payload
	}

	return c.formatAndDispatchLocked(body, opcode, compressed, cb, userData)
}

// sendControl frames and dispatches a control frame; callers are not
// assumed to hold c.mu, so it takes the lock itself.
func (c *Connection) sendControl(opcode Opcode, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() == StateClosed {
		return api.ErrConnectionClosed
	}
	return c.formatAndDispatchLocked(payload, opcode, false, nil, nil)
}

// formatAndDispatchLocked frames body into a buffer borrowed from the
// group's BufferPool, dispatches it, and always returns the buffer
// before returning: either it was fully consumed synchronously (copied
// into the cork buffer, or written whole to the socket), or its
// contents were copied into a freshly allocated slice that outlives
// this call inside the retry queue. c.mu must be held.
func (c *Connection) formatAndDispatchLocked(body []byte, opcode Opcode, compressed bool, cb SendCallback, userData any) error {
	staging := c.group.BufferPool().Get(len(body) + HeaderMaxLen)
	defer staging.Release()

	n := FormatMessage(staging.Bytes(), body, c.role, opcode, compressed)
	frame := staging.Bytes()[:n]

	if c.corked {
		c.corkBuf = append(c.corkBuf, frame...)
		c.corkCallbacks = append(c.corkCallbacks, corkEntry{cb, userData})
		return nil
	}

	if c.queue.Len() > 0 {
		owned := make([]byte, n)
		copy(owned, frame)
		c.enqueueLocked(owned, cb, userData)
		return nil
	}

	written, err := c.sock.Write(frame)
	if err != nil {
		return err
	}
	if written == n {
		if cb != nil {
			cb(c, userData, false)
		}
		return nil
	}
	owned := make([]byte, n-written)
	copy(owned, frame[written:])
	c.enqueueLocked(owned, cb, userData)
	return nil
}

func (c *Connection) sendPong(payload []byte) error {
	return c.sendControl(OpPong, payload)
}

// writeOrQueueLocked attempts an immediate non-blocking write when the
// retry queue is empty (writes must stay in FIFO order, so anything
// already queued forces this frame to queue too). c.mu must be held.
func (c *Connection) writeOrQueueLocked(frame []byte, cb SendCallback, userData any) error {
	if c.queue.Len() > 0 {
		c.enqueueLocked(frame, cb, userData)
		return nil
	}

	n, err := c.sock.Write(frame)
	if err != nil {
		return err
	}
	if n == len(frame) {
		if cb != nil {
			cb(c, userData, false)
		}
		return nil
	}
	c.enqueueLocked(frame[n:], cb, userData)
	return nil
}

func (c *Connection) enqueueLocked(remainder []byte, cb SendCallback, userData any) {
	item := &sendqueue.Item{Data: remainder, UserData: userData}
	if cb != nil {
		item.Callback = func(userData any, cancelled bool) {
			conn := c
			if cancelled && c.State() == StateClosed {
				conn = nil // drained by teardown
			}
			cb(conn, userData, cancelled)
		}
	}
	c.queue.PushBack(item)
}

// OnWritable is invoked by the owning Loop when the socket becomes
// writable again; it drains the retry queue in FIFO order, stopping on
// the first short write (the queue preserves the remainder for the next
// writable event).
func (c *Connection) OnWritable() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		item := c.queue.Front()
		if item == nil {
			return
		}
		n, err := c.sock.Write(item.Data)
		if err != nil {
			c.queue.PopFront()
			if item.Callback != nil {
				item.Callback(item.UserData, true)
			}
			continue
		}
		if n < len(item.Data) {
			item.Data = item.Data[n:]
			return
		}
		c.queue.PopFront()
		if item.Callback != nil {
			item.Callback(item.UserData, false)
		}
	}
}

// Cork defers outbound frames into a single contiguous buffer instead of
// writing each one individually; used by the owning Loop to batch all
// Sends issued during one read-callback turn into one syscall. Cork must
// be paired with Uncork before the connection is touched again from a
// different turn.
func (c *Connection) Cork() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.corked = true
	c.corkBuf = c.corkBuf[:0]
	c.corkCallbacks = c.corkCallbacks[:0]
}

// Uncork flushes whatever was batched since Cork, as a single write
// attempt through the same FIFO path Send uses.
func (c *Connection) Uncork() error {
	c.mu.Lock()
	c.corked = false
	buf := c.corkBuf
	callbacks := c.corkCallbacks
	c.corkBuf = nil
	c.corkCallbacks = nil
	if len(buf) == 0 {
		c.mu.Unlock()
		return nil
	}
	err := c.writeOrQueueLocked(buf, func(conn *Connection, _ any, cancelled bool) {
		for _, e := range callbacks {
			if e.cb != nil {
				e.cb(conn, e.userData, cancelled)
			}
		}
	}, nil)
	c.mu.Unlock()
	return err
}

// Close initiates a graceful shutdown: moves to SHUTTING_DOWN, enqueues
// the outbound CLOSE frame, and reports the disconnect to the group
// right away — synchronously, exactly once, with the code and reason
// the caller passed, whether or not the peer ever answers with its own
// CLOSE. code defaults to 1000 when zero. The socket itself is only
// closed once that outbound frame finishes writing (or immediately, if
// some other teardown path — a hangup, the peer's answering CLOSE —
// gets there first).
func (c *Connection) Close(code int, reason []byte) error {
	c.mu.Lock()
	if c.State() != StateOpen {
		c.mu.Unlock()
		return api.ErrConnectionClosed
	}
	c.state.Store(int32(StateShuttingDown))
	if code == 0 {
		code = 1000
	}

	var payload [maxClosePayload]byte
	n := FormatClosePayload(payload[:], code, reason)
	// The completion callback below may run synchronously, inline,
	// before formatAndDispatchLocked returns (a whole write completes
	// immediately) — at which point c.mu is still held, so it must use
	// the already-locked teardown, not the one that takes the lock.
	err := c.formatAndDispatchLocked(payload[:n], OpClose, false, func(conn *Connection, _ any, cancelled bool) {
		if !cancelled {
			conn.teardownSocketLocked()
		}
	}, nil)
	c.mu.Unlock()

	c.notifyDisconnect(code, reason)
	return err
}

// handlePeerClose answers an inbound CLOSE frame per RFC 6455 §7.1.5: if
// we already initiated shutdown, this is the answering frame and the
// socket can close now; otherwise echo it back before closing. Either
// way the group's disconnect notification is idempotent: if Close
// already reported this connection's close, the peer's code/reason
// here are discarded.
func (c *Connection) handlePeerClose(code int, reason []byte) error {
	already := c.State() == StateShuttingDown
	if !already {
		var payload [maxClosePayload]byte
		n := FormatClosePayload(payload[:], code, reason)
		_ = c.sendControl(OpClose, payload[:n])
	}
	// Flush now, not when Feed's own Uncork runs: teardownSocket below
	// closes the socket, and Feed skips its Uncork once the connection
	// is closed, which would otherwise strand the echoed CLOSE (or any
	// other handler's corked send from this same read) in corkBuf.
	_ = c.Uncork()
	c.notifyDisconnect(code, reason)
	c.teardownSocket()
	return errConnectionDone
}

// Terminate force-closes a connection with no outstanding PONG, the
// keepalive-timeout path.
func (c *Connection) Terminate() {
	c.ForceClose(1006, nil)
}

// ForceClose tears down the connection abruptly, with no outbound CLOSE
// frame: the disconnect handler fires with the given code/reason unless
// a graceful Close already reported a different one, then the socket
// closes and any queued writes are cancelled.
func (c *Connection) ForceClose(code int, reason []byte) {
	c.notifyDisconnect(code, reason)
	c.teardownSocket()
}

// notifyDisconnect unlinks c from its group and invokes the group's
// disconnect handler exactly once, however many teardown paths (a local
// Close, the peer's answering CLOSE, ForceClose) race to reach it.
func (c *Connection) notifyDisconnect(code int, reason []byte) {
	c.closeOnce.Do(func() {
		c.group.Unlink(c)
		c.group.OnDisconnect(c, code, reason)
	})
}

// teardownSocket closes the socket and cancels any queued or corked
// writes. Safe
// to call more than once — Close's own write-completion callback, a
// peer's answering CLOSE, and a socket hangup can each reach here
// independently of one another.
func (c *Connection) teardownSocket() {
	c.mu.Lock()
	c.teardownSocketLocked()
	c.mu.Unlock()
}

// teardownSocketLocked is teardownSocket for callers that already hold
// c.mu — the send-completion callbacks this package runs inline while
// still holding the lock (see formatAndDispatchLocked, OnWritable).
func (c *Connection) teardownSocketLocked() {
	if c.State() == StateClosed {
		return
	}
	c.state.Store(int32(StateClosed))
	c.queue.DrainCancelled()
	for _, e := range c.corkCallbacks {
		if e.cb != nil {
			e.cb(nil, e.userData, true)
		}
	}
	c.corkBuf = nil
	c.corkCallbacks = nil
	_ = c.sock.Close()
}

// Feed hands a freshly read chunk of socket bytes to the frame codec,
// force-closing the connection with code 1006 on any protocol violation
// or payload limit breach the codec or fragment assembler raises. It is
// the single entry point an owning Loop's readable callback should
// call. Sends issued by handlers invoked from this one chunk (echoes,
// PONG replies) are corked into a single write, uncorked once Consume
// returns — unless the connection already closed while consuming (the
// peer's own answering CLOSE arrived in the same chunk), in which case
// there is no socket left to flush into.
func (c *Connection) Feed(data []byte) {
	c.Cork()
	err := c.codec.Consume(data, c)
	if c.State() != StateClosed {
		_ = c.Uncork()
	}
	if err == nil || err == errConnectionDone {
		return
	}
	c.ForceClose(1006, []byte(err.Error()))
}

// SendPing queues a PING control frame and marks a PONG as outstanding
// so the embedder's keepalive sweep can call Terminate if none arrives.
func (c *Connection) SendPing(payload []byte) error {
	c.mu.Lock()
	c.hasOutstandingPong = true
	c.mu.Unlock()
	return c.sendControl(OpPing, payload)
}
