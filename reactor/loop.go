// Loop is the api.Loop/api.Migrator implementation that drives a
// Group's connections: one OS thread, pinned via LockOSThread, running
// epoll Wait in a tight loop and dispatching readable/writable events
// to whichever Handler a descriptor was registered with. Combines
// epoll mechanics with a self-pipe based cross-goroutine submission
// queue so both concerns live on the same thread-pinned loop instead
// of two unconnected pieces.
package reactor

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/kestrelws/core/api"
	"github.com/kestrelws/core/internal/logging"
)

// Handler receives readiness notifications for one registered
// descriptor.
type Handler interface {
	// OnReadable is called with up to len(scratch) freshly read bytes.
	// A read error (other than EAGAIN) or EOF (n==0) is not passed here;
	// it is reported through OnHup.
	OnReadable(scratch []byte)
	// OnWritable is called when the descriptor can accept more writes.
	OnWritable()
	// OnHup is called once, when the reactor reports the descriptor
	// hung up or errored; the handler should tear itself down.
	OnHup()
}

const readScratchSize = 64 * 1024

// Loop owns one epoll instance and the descriptors registered on it.
type Loop struct {
	reactor EventReactor

	mu       sync.Mutex
	sockets  map[int]*Socket
	handlers map[int]Handler

	submit chan func()
	wakeR  int
	wakeW  int

	tid     atomic.Int64
	closing atomic.Bool
	done    chan struct{}
}

// NewLoop constructs a Loop with its own epoll instance and wake pipe.
// Call Run in a dedicated goroutine to start it.
func NewLoop() (*Loop, error) {
	r, err := NewReactor()
	if err != nil {
		return nil, err
	}
	fds, err := unixPipe()
	if err != nil {
		r.Close()
		return nil, err
	}
	l := &Loop{
		reactor:  r,
		sockets:  make(map[int]*Socket),
		handlers: make(map[int]Handler),
		submit:   make(chan func(), 1024),
		wakeR:    fds[0],
		wakeW:    fds[1],
		done:     make(chan struct{}),
	}
	if err := r.Register(uintptr(l.wakeR), uintptr(l.wakeR)); err != nil {
		unix.Close(l.wakeR)
		unix.Close(l.wakeW)
		r.Close()
		return nil, err
	}
	return l, nil
}

func unixPipe() ([2]int, error) {
	var fds [2]int
	err := unix.Pipe2(fds[:], unix.O_NONBLOCK)
	return fds, err
}

// Register starts watching fd for readiness, wiring h to receive its
// events, and returns the Socket the owning Connection should be built
// with. Must be called from the loop's own goroutine (i.e. from within
// a Handler callback or via Submit) once the loop is running, except
// for the very first registration performed before Run starts.
func (l *Loop) Register(fd int, h Handler) (*Socket, error) {
	sock := &Socket{fd: fd, loop: l}
	if err := l.attachExisting(fd, h, sock); err != nil {
		return nil, err
	}
	return sock, nil
}

// attachExisting registers fd with the reactor and wires h to it,
// reusing sock rather than allocating a new Socket; used by Migrate so
// the Connection's original api.Socket value keeps working after the
// fd moves to a different Loop.
func (l *Loop) attachExisting(fd int, h Handler, sock *Socket) error {
	if err := l.reactor.Register(uintptr(fd), uintptr(fd)); err != nil {
		return err
	}
	l.mu.Lock()
	l.sockets[fd] = sock
	l.handlers[fd] = h
	l.mu.Unlock()
	return nil
}

func (l *Loop) deregister(fd int) {
	_ = l.reactor.Deregister(uintptr(fd))
	l.mu.Lock()
	delete(l.sockets, fd)
	delete(l.handlers, fd)
	l.mu.Unlock()
}

func (l *Loop) handlerFor(fd int) Handler {
	l.mu.Lock()
	h := l.handlers[fd]
	l.mu.Unlock()
	return h
}

// Submit implements api.Loop: schedules fn on the loop's own goroutine,
// running it inline when the caller is already on it.
func (l *Loop) Submit(fn func()) {
	if l.OnThread() {
		fn()
		return
	}
	l.submit <- fn
	l.wake()
}

// OnThread implements api.Loop, comparing the calling OS thread's id
// against the one Run pinned itself to.
func (l *Loop) OnThread() bool {
	return int64(unix.Gettid()) == l.tid.Load()
}

func (l *Loop) wake() {
	var b [1]byte
	_, _ = unix.Write(l.wakeW, b[:])
}

// Run pins the calling goroutine to its OS thread and services epoll
// events and submitted functions until Stop is called. Run returns when
// stopped.
func (l *Loop) Run() {
	runtime.LockOSThread()
	l.tid.Store(int64(unix.Gettid()))
	defer close(l.done)

	scratch := make([]byte, readScratchSize)
	events := make([]Event, 256)

	for !l.closing.Load() {
		n, err := l.reactor.Wait(events)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			logging.Error("reactor wait failed, stopping loop", "err", err)
			return
		}
		for i := 0; i < n; i++ {
			ev := events[i]
			fd := int(ev.Fd)
			if fd == l.wakeR {
				l.drainWake()
				l.drainSubmit()
				continue
			}
			h := l.handlerFor(fd)
			if h == nil {
				continue
			}
			if ev.Hup {
				h.OnHup()
				continue
			}
			if ev.Readable {
				l.dispatchReadable(fd, h, scratch)
			}
			if ev.Writable {
				h.OnWritable()
			}
		}
	}
}

func (l *Loop) dispatchReadable(fd int, h Handler, scratch []byte) {
	for {
		n, err := unix.Read(fd, scratch)
		if n > 0 {
			h.OnReadable(scratch[:n])
		}
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return
			}
			h.OnHup()
			return
		}
		if n == 0 {
			h.OnHup()
			return
		}
		if n < len(scratch) {
			return
		}
	}
}

func (l *Loop) drainWake() {
	var b [64]byte
	for {
		n, err := unix.Read(l.wakeR, b[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (l *Loop) drainSubmit() {
	for {
		select {
		case fn := <-l.submit:
			fn()
		default:
			return
		}
	}
}

// Stop requests the loop to exit after its current Wait returns.
func (l *Loop) Stop() {
	l.closing.Store(true)
	l.wake()
	<-l.done
	l.mu.Lock()
	for fd := range l.sockets {
		unix.Close(fd)
	}
	l.mu.Unlock()
	unix.Close(l.wakeR)
	unix.Close(l.wakeW)
	l.reactor.Close()
}

var _ api.Loop = (*Loop)(nil)
