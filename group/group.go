// Package group implements Group, the connection container and policy
// object: per-group max payload, compression and transfer policy, and
// handler dispatch to embedder-supplied callbacks. Uses a
// functional-options construction idiom, generalized away from HTTP
// routing toward connection-set membership and handler dispatch.
package group

import (
	"sync"

	"github.com/kestrelws/core/api"
	"github.com/kestrelws/core/compress"
	"github.com/kestrelws/core/pool"
	"github.com/kestrelws/core/protocol"
)

// MessageHandler receives a fully reassembled, decompressed, validated
// message.
type MessageHandler func(c *protocol.Connection, data []byte, opcode protocol.Opcode)

// ControlHandler receives a PING or PONG payload.
type ControlHandler func(c *protocol.Connection, data []byte)

// DisconnectHandler is invoked exactly once per connection, after the
// connection has been removed from its group. The socket may still be
// open at that point: a local Close reports before its outbound CLOSE
// frame has necessarily finished writing, and ForceClose reports before
// closing the socket.
type DisconnectHandler func(c *protocol.Connection, code int, reason []byte)

// TransferHandler is invoked on the destination group once a Transfer
// completes.
type TransferHandler func(c *protocol.Connection)

// Group owns a set of connections that share policy: max payload,
// compression negotiation, thread-safety mode, and transfer
// eligibility. A Group is bound to exactly one api.Loop for its
// lifetime; Transfer moves connections between groups, possibly across
// loops.
type Group struct {
	maxPayload     int
	serverIdentity string
	threadSafe     bool
	transfers      bool
	wantDeflate    bool
	wantSliding    bool
	loop           api.Loop

	onMessage    MessageHandler
	onPing       ControlHandler
	onPong       ControlHandler
	onDisconnect DisconnectHandler
	onTransfer   TransferHandler

	sharedDeflater api.Compressor
	sharedInflater api.Decompressor
	bufferPool     *pool.BufferPool

	connMu      sync.Mutex
	connections map[*protocol.Connection]struct{}
}

// Option configures a Group at construction time.
type Option func(*Group)

// WithMaxPayload bounds the size of a single reassembled message.
// 0 means unbounded.
func WithMaxPayload(n int) Option { return func(g *Group) { g.maxPayload = n } }

// WithServerIdentity sets the string the group reports, e.g. for a
// Server header an embedder writes alongside the handshake response.
func WithServerIdentity(id string) Option { return func(g *Group) { g.serverIdentity = id } }

// WithThreadSafe switches every connection in this group to a real
// mutex instead of the zero-cost no-op locker, for embedders that drive
// Send from goroutines other than the owning loop.
func WithThreadSafe(v bool) Option { return func(g *Group) { g.threadSafe = v } }

// WithTransfers opts this group into being a valid Transfer source or
// destination.
func WithTransfers(v bool) Option { return func(g *Group) { g.transfers = v } }

// WithDeflate opts this group into permessage-deflate. slidingWindow
// selects per-connection context-preserving streams over the shared,
// reset-per-message compressor.
func WithDeflate(slidingWindow bool) Option {
	return func(g *Group) {
		g.wantDeflate = true
		g.wantSliding = slidingWindow
	}
}

// WithLoop binds the group to the event loop that owns every
// connection added to it.
func WithLoop(l api.Loop) Option { return func(g *Group) { g.loop = l } }

// SetLoop binds (or rebinds) the group's loop after construction, for
// callers that only obtain their api.Loop once the server that drives
// it has been built (the loop, in turn, is usually built from the
// reactor that owns the listening socket).
func (g *Group) SetLoop(l api.Loop) { g.loop = l }

// OnMessage registers the data-message handler.
func OnMessage(h MessageHandler) Option { return func(g *Group) { g.onMessage = h } }

// OnPing registers the PING handler (the built-in PONG reply still
// happens regardless of whether a handler is registered).
func OnPing(h ControlHandler) Option { return func(g *Group) { g.onPing = h } }

// OnPong registers the PONG handler.
func OnPong(h ControlHandler) Option { return func(g *Group) { g.onPong = h } }

// OnDisconnect registers the disconnection handler.
func OnDisconnect(h DisconnectHandler) Option { return func(g *Group) { g.onDisconnect = h } }

// OnTransfer registers the post-transfer handler.
func OnTransfer(h TransferHandler) Option { return func(g *Group) { g.onTransfer = h } }

// New constructs a Group from the given options.
func New(opts ...Option) *Group {
	g := &Group{connections: make(map[*protocol.Connection]struct{}), bufferPool: pool.New()}
	for _, opt := range opts {
		opt(g)
	}
	if g.wantDeflate {
		g.sharedDeflater = compress.NewDeflater()
		g.sharedInflater = compress.NewInflater()
	}
	return g
}

var _ protocol.GroupHandle = (*Group)(nil)

func (g *Group) MaxPayload() int        { return g.maxPayload }
func (g *Group) ServerIdentity() string { return g.serverIdentity }
func (g *Group) ThreadSafe() bool       { return g.threadSafe }
func (g *Group) TransfersEnabled() bool { return g.transfers }
func (g *Group) Loop() api.Loop         { return g.loop }

func (g *Group) CompressionNegotiated() bool { return g.wantDeflate }
func (g *Group) SlidingWindowEnabled() bool  { return g.wantSliding }

// SharedDeflater returns the group's single non-context-takeover
// compressor, used by every connection that did not negotiate a sliding
// window of its own.
func (g *Group) SharedDeflater() api.Compressor { return g.sharedDeflater }

// Inflater returns the group's inflater. Per RFC 7692, a
// non-context-takeover receiver can share one inflater across
// connections exactly like the shared deflater, since every Inflate call
// starts from a fresh window; sliding-window receivers would need their
// own, but this core only offers sliding windows on the send side.
func (g *Group) Inflater() api.Decompressor { return g.sharedInflater }

// NewSlidingDeflater allocates a fresh per-connection compressor that
// preserves its dictionary across messages, for connections in a group
// with sliding windows enabled (server_no_context_takeover not sent;
// client_no_context_takeover is always sent).
func (g *Group) NewSlidingDeflater() api.Compressor { return compress.NewDeflater() }

// BufferPool returns the group's shared staging-buffer pool, used by
// every connection's send path to frame messages without a fresh
// allocation per call.
func (g *Group) BufferPool() api.BufferPool { return g.bufferPool }

func (g *Group) OnMessage(c *protocol.Connection, data []byte, opcode protocol.Opcode) {
	if g.onMessage != nil {
		g.onMessage(c, data, opcode)
	}
}

func (g *Group) OnPing(c *protocol.Connection, data []byte) {
	if g.onPing != nil {
		g.onPing(c, data)
	}
}

func (g *Group) OnPong(c *protocol.Connection, data []byte) {
	if g.onPong != nil {
		g.onPong(c, data)
	}
}

func (g *Group) OnDisconnect(c *protocol.Connection, code int, reason []byte) {
	if g.onDisconnect != nil {
		g.onDisconnect(c, code, reason)
	}
}

func (g *Group) OnTransfer(c *protocol.Connection) {
	if g.onTransfer != nil {
		g.onTransfer(c)
	}
}

// Link adds c to the group's membership set.
func (g *Group) Link(c *protocol.Connection) {
	g.connMu.Lock()
	g.connections[c] = struct{}{}
	g.connMu.Unlock()
}

// Unlink removes c from the group's membership set.
func (g *Group) Unlink(c *protocol.Connection) {
	g.connMu.Lock()
	delete(g.connections, c)
	g.connMu.Unlock()
}

// Len reports the number of connections currently linked to this group.
func (g *Group) Len() int {
	g.connMu.Lock()
	defer g.connMu.Unlock()
	return len(g.connections)
}

// Broadcast sends payload to every currently linked connection,
// skipping (not failing on) any that errors mid-broadcast.
func (g *Group) Broadcast(opcode protocol.Opcode, payload []byte) {
	g.connMu.Lock()
	targets := make([]*protocol.Connection, 0, len(g.connections))
	for c := range g.connections {
		targets = append(targets, c)
	}
	g.connMu.Unlock()

	for _, c := range targets {
		_ = c.Send(opcode, payload, nil, nil)
	}
}

// Transfer moves c from its current group into g, enforcing that both
// groups opted into TRANSFERS.
func (g *Group) Transfer(c *protocol.Connection) error {
	if !g.transfers || !c.Group().TransfersEnabled() {
		return api.NewError(api.ErrCodeNotSupported, "group did not opt in to TRANSFERS").
			WithContext("source_transfers_enabled", c.Group().TransfersEnabled()).
			WithContext("dest_transfers_enabled", g.transfers)
	}
	return protocol.Transfer(c, g)
}
