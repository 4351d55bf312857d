// Package api
//
// Socket is the contract the connection state machine consumes from the
// underlying byte-stream/event-loop layer, per the core/socket boundary:
// the core never touches a file descriptor directly.

package api

// Socket is a non-blocking byte-stream endpoint driven by an external
// event loop. Write must never block: it writes as much of p as the
// kernel send buffer accepts right now and returns, exactly like a raw
// non-blocking fd write. A short write (n < len(p)) means the caller
// owns p[n:] and must resubmit it once the loop's writable callback
// fires for this socket.
type Socket interface {
	Write(p []byte) (n int, err error)

	// Close tears down the underlying descriptor.
	Close() error
}

// Loop is one event-loop thread. Groups are bound to exactly one Loop;
// Submit is the only way to safely touch a Loop's connections from
// another thread (used by cross-loop Transfer).
type Loop interface {
	// Submit schedules fn to run on this loop's thread. Safe to call
	// from any goroutine.
	Submit(fn func())

	// OnThread reports whether the calling goroutine is already the
	// loop's own thread (best-effort; used to skip a Submit round trip).
	OnThread() bool
}

// Migrator moves a Socket's registration from one Loop to another
// without closing the descriptor, backing the cross-loop Transfer path.
type Migrator interface {
	// Migrate deregisters sock from its current loop and arranges for
	// onTarget to run on target once the descriptor is re-registered
	// there. Between the call and onTarget firing, sock must not be
	// used by the caller.
	Migrate(sock Socket, target Loop, onTarget func()) error
}
