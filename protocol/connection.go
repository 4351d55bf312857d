// Connection is the per-socket WebSocket state machine: its data model
// and the OPEN/SHUTTING_DOWN/CLOSED lifecycle transitions. Generalized
// from a channel-driven, fixed-frame design to an incremental,
// fragment-aware, cork-batched one.
package protocol

import (
	"sync"
	"sync/atomic"

	"github.com/kestrelws/core/api"
	"github.com/kestrelws/core/sendqueue"
)

// State is the connection's lifecycle stage.
type State int32

const (
	StateOpen State = iota
	StateShuttingDown
	StateClosed
)

// CompressionState is the negotiated-capability/transient-marker enum
// for a connection. DISABLED/ENABLED track the handshake outcome;
// COMPRESSED_FRAME is asserted only between a compressed message's
// first frame and its delivery.
type CompressionState int32

const (
	CompressionDisabled CompressionState = iota
	CompressionEnabled
	CompressionCompressedFrame
)

// SendCallback fires once a Send'd frame has left the socket (or never
// will, if cancelled). conn is nil when invoked from a drain triggered
// by connection teardown.
type SendCallback func(conn *Connection, userData any, cancelled bool)

// GroupHandle is the slice of Group behavior a Connection needs: policy,
// handler dispatch, and membership linkage. Defined here (rather than
// importing package group) to avoid a Connection<->Group import cycle;
// *group.Group implements it structurally.
type GroupHandle interface {
	MaxPayload() int
	ServerIdentity() string
	ThreadSafe() bool
	TransfersEnabled() bool

	CompressionNegotiated() bool
	SlidingWindowEnabled() bool
	SharedDeflater() api.Compressor
	Inflater() api.Decompressor
	NewSlidingDeflater() api.Compressor
	BufferPool() api.BufferPool

	OnMessage(c *Connection, data []byte, opcode Opcode)
	OnPing(c *Connection, data []byte)
	OnPong(c *Connection, data []byte)
	OnDisconnect(c *Connection, code int, reason []byte)
	OnTransfer(c *Connection)

	Unlink(c *Connection)
	Link(c *Connection)

	Loop() api.Loop
}

// locker abstracts the thread-safety toggle: a real mutex when the
// group is threadsafe, a zero-cost no-op otherwise, so call sites never
// branch on the mode.
type locker interface {
	Lock()
	Unlock()
}

type noopLocker struct{}

func (noopLocker) Lock()   {}
func (noopLocker) Unlock() {}

// Connection is a single logical WebSocket endpoint.
type Connection struct {
	role  Role
	sock  api.Socket
	group GroupHandle
	codec *Codec

	mu locker

	state     atomic.Int32
	compState atomic.Int32

	slidingDeflater api.Compressor // non-nil iff the group uses per-connection sliding windows

	fragmentBuf []byte
	inMessage   bool
	msgOpcode   Opcode

	controlBuf []byte

	queue *sendqueue.Queue

	corked        bool
	corkBuf       []byte
	corkCallbacks []corkEntry

	hasOutstandingPong bool
	closeOnce          sync.Once

	// UserData is an opaque slot the embedder may use to correlate a
	// Connection with application state; never touched by the core.
	UserData any
}

// NewConnection constructs an OPEN connection bound to group over sock.
// compressionNegotiated reflects the outcome of the opening handshake's
// extension negotiation: DISABLED vs ENABLED initial state.
func NewConnection(role Role, sock api.Socket, group GroupHandle, compressionNegotiated bool) *Connection {
	c := &Connection{
		role:  role,
		sock:  sock,
		group: group,
		codec: NewCodec(role),
		queue: sendqueue.New(),
	}
	if group.ThreadSafe() {
		c.mu = &sync.Mutex{}
	} else {
		c.mu = noopLocker{}
	}
	c.state.Store(int32(StateOpen))
	if compressionNegotiated {
		c.compState.Store(int32(CompressionEnabled))
		if group.SlidingWindowEnabled() {
			c.slidingDeflater = group.NewSlidingDeflater()
		}
	} else {
		c.compState.Store(int32(CompressionDisabled))
	}
	return c
}

// State returns the connection's current lifecycle stage.
func (c *Connection) State() State { return State(c.state.Load()) }

// CompressionState returns the connection's current compression marker.
func (c *Connection) CompressionState() CompressionState {
	return CompressionState(c.compState.Load())
}

func (c *Connection) setCompressionState(s CompressionState) {
	c.compState.Store(int32(s))
}

// Role reports whether this connection masks outbound frames (client)
// or requires masked inbound ones (server).
func (c *Connection) Role() Role { return c.role }

// Group returns the owning group handle.
func (c *Connection) Group() GroupHandle { return c.group }

// HasOutstandingPong reports whether a PING was sent without a
// matching PONG yet observed; external keepalive logic drives Terminate
// off this.
func (c *Connection) HasOutstandingPong() bool { return c.hasOutstandingPong }

func (c *Connection) deflater() api.Compressor {
	if c.slidingDeflater != nil {
		return c.slidingDeflater
	}
	return c.group.SharedDeflater()
}

func (c *Connection) inflater() api.Decompressor { return c.group.Inflater() }

// errConnectionDone is a sentinel Consume uses to abort processing the
// remainder of a byte chunk once the connection left OPEN (or closed
// while handling the peer's CLOSE). It is never
// returned to a caller outside this package.
var errConnectionDone = &doneError{}

type doneError struct{}

func (*doneError) Error() string { return "connection no longer open" }
