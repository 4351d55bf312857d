package reactor

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/kestrelws/core/api"
)

// Socket is the api.Socket a Connection writes through: a non-blocking
// file descriptor registered with exactly one Loop at a time.
type Socket struct {
	fd   int
	loop *Loop
}

// Write implements api.Socket: a non-blocking write that reports EAGAIN
// as "wrote nothing, try later" rather than an error, since that is a
// normal outcome the Connection's send queue is built to handle.
func (s *Socket) Write(p []byte) (int, error) {
	n, err := unix.Write(s.fd, p)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, nil
		}
		return n, err
	}
	return n, nil
}

// Close implements api.Socket.
func (s *Socket) Close() error {
	return unix.Close(s.fd)
}

// Fd exposes the raw descriptor, for embedders that need it for
// accept() bookkeeping or logging; the core itself never calls this.
func (s *Socket) Fd() int { return s.fd }

// Migrate implements api.Migrator: deregister from the current loop and
// re-register on target, carrying the same Handler over. onTarget runs
// on target's own goroutine once re-registration completes.
func (s *Socket) Migrate(sock api.Socket, target api.Loop, onTarget func()) error {
	targetLoop, ok := target.(*Loop)
	if !ok {
		return api.ErrNotTransferable
	}
	if sock != api.Socket(s) {
		return api.ErrNotTransferable
	}

	h := s.loop.handlerFor(s.fd)
	s.loop.deregister(s.fd)

	targetLoop.Submit(func() {
		s.loop = targetLoop
		_ = targetLoop.attachExisting(s.fd, h, s)
		onTarget()
	})
	return nil
}

var (
	_ api.Socket   = (*Socket)(nil)
	_ api.Migrator = (*Socket)(nil)
)
