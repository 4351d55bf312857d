// Transfer moves an open connection from its current group to another,
// possibly on a different event loop, without tearing down the TCP
// connection. Builds on gorilla-websocket's and oesand-plow's shared
// assumption that a Conn is loop-agnostic at the transport layer; the
// Migrator abstraction in package api supplies the cross-loop handoff
// a single-loop-only reactor design never needed.
package protocol

import "github.com/kestrelws/core/api"

// Transfer relinks c from its current group to target. If both groups
// share the same Loop, relinking happens synchronously under the
// connection lock. Otherwise c's socket is migrated to target's loop via
// a Migrator, and the relink completes once the migration callback runs
// there; between the call returning and that callback firing, c must not
// be Sent to from the caller's side (the owning loop now drives it).
//
// Neither group needs to opt out: TRANSFERS is enforced by the caller
// (typically Group.Transfer) checking both groups' TransfersEnabled.
func Transfer(c *Connection, target GroupHandle) error {
	srcLoop := c.group.Loop()
	dstLoop := target.Loop()

	if srcLoop == dstLoop || dstLoop == nil || srcLoop == nil {
		c.relink(target)
		target.OnTransfer(c)
		return nil
	}

	migrator, ok := c.sock.(migratorSocket)
	if !ok {
		return api.ErrNotTransferable
	}

	return migrator.Migrate(c.sock, dstLoop, func() {
		c.relink(target)
		target.OnTransfer(c)
	})
}

// migratorSocket lets a Socket implementation also act as its own
// Migrator, sparing embedders from threading a separate Migrator value
// through Transfer's call sites.
type migratorSocket interface {
	api.Socket
	api.Migrator
}

func (c *Connection) relink(target GroupHandle) {
	c.mu.Lock()
	old := c.group
	c.group = target
	if target.SlidingWindowEnabled() && c.slidingDeflater == nil {
		c.slidingDeflater = target.NewSlidingDeflater()
	}
	c.mu.Unlock()

	old.Unlink(c)
	target.Link(c)
}
