package reactor

import "github.com/kestrelws/core/protocol"

// ConnHandler adapts a *protocol.Connection to the Handler interface
// Loop dispatches epoll events to.
type ConnHandler struct {
	Conn *protocol.Connection
}

func (h *ConnHandler) OnReadable(data []byte) { h.Conn.Feed(data) }
func (h *ConnHandler) OnWritable()            { h.Conn.OnWritable() }

// OnHup reports an abnormal closure (1006). If a local Close already
// reported a different code for this connection, ForceClose's
// disconnect notification is a no-op and only the (also idempotent)
// socket teardown proceeds here.
func (h *ConnHandler) OnHup() { h.Conn.ForceClose(1006, nil) }

var _ Handler = (*ConnHandler)(nil)
