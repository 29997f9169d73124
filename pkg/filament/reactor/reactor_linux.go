//go:build linux

// Package reactor drives the whole server from one goroutine: a single epoll
// instance, a descriptor-indexed handler arena, and a periodic tick for
// timeout sweeps. Nothing in the process blocks outside Poller.Wait, and the
// arena is mutated only from the loop goroutine, so there are no locks to
// get wrong.
package reactor

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Handler receives readiness callbacks for one registered descriptor.
// Implementations are listeners, client connections, and CGI pipe ends; each
// callback must drain its descriptor to a would-block indication before
// returning (edge-triggered delivery fires once per transition).
type Handler interface {
	OnReadable()
	OnWritable()

	// OnHangup is invoked for error/hang-up notifications and must tear the
	// owning entity down without touching any other descriptor.
	OnHangup()
}

// Ticker is invoked once per wait cycle with the current time; the server
// hangs its idle and CGI deadline sweeps here.
type Ticker interface {
	Tick(now time.Time)
}

// tickInterval bounds the poll wait so sweeps run even on a silent server.
const tickInterval = 250 * time.Millisecond

var errNotRegistered = errors.New("reactor: descriptor not registered")

// Reactor owns the handler table. Descriptors are small kernel-assigned
// integers, so the table is a plain slice arena indexed by fd rather than a
// map: O(1) dispatch and nothing to hash on the hot path.
type Reactor struct {
	poller   *Poller
	handlers []Handler
	ticker   Ticker
	log      zerolog.Logger

	registered int
}

// New creates a reactor with an empty table.
func New(log zerolog.Logger) (*Reactor, error) {
	p, err := NewPoller()
	if err != nil {
		return nil, err
	}
	return &Reactor{
		poller:   p,
		handlers: make([]Handler, 64),
		log:      log,
	}, nil
}

// SetTicker installs the sweep hook. Must be called before Run.
func (r *Reactor) SetTicker(t Ticker) {
	r.ticker = t
}

// Register adds fd with the given interest and owning handler.
func (r *Reactor) Register(fd int, events uint32, h Handler) error {
	if err := r.poller.Add(fd, events); err != nil {
		return err
	}
	for fd >= len(r.handlers) {
		r.handlers = append(r.handlers, make([]Handler, len(r.handlers))...)
	}
	r.handlers[fd] = h
	r.registered++
	metricRegisteredFDs.Inc()
	return nil
}

// Modify swaps the interest set for fd, used for the EPOLLIN↔EPOLLOUT flips
// as a connection moves between its read and write phases.
func (r *Reactor) Modify(fd int, events uint32) error {
	if fd >= len(r.handlers) || r.handlers[fd] == nil {
		return errNotRegistered
	}
	return r.poller.Mod(fd, events)
}

// Deregister removes fd from the interest set and frees its arena slot. It
// must be called strictly before the descriptor is closed: once the kernel
// reuses the number, a stale interest entry would route the new descriptor's
// events to dead state.
func (r *Reactor) Deregister(fd int) {
	if fd >= len(r.handlers) || r.handlers[fd] == nil {
		return
	}
	if err := r.poller.Del(fd); err != nil {
		r.log.Debug().Int("fd", fd).Err(err).Msg("epoll del")
	}
	r.handlers[fd] = nil
	r.registered--
	metricRegisteredFDs.Dec()
}

// Registered returns the number of live table entries (listeners included).
func (r *Reactor) Registered() int {
	return r.registered
}

// Run executes the loop until stop is closed. Ready descriptors are
// dispatched in the order the kernel reports them; a handler torn down by an
// earlier event in the same batch is skipped via the nil arena slot.
func (r *Reactor) Run(stop <-chan struct{}) error {
	events := make([]unix.EpollEvent, 128)
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		n, err := r.poller.Wait(events, int(tickInterval/time.Millisecond))
		if err != nil {
			return err
		}
		metricLoopWakeups.Inc()

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			flags := events[i].Events
			if fd >= len(r.handlers) {
				continue
			}
			h := r.handlers[fd]
			if h == nil {
				continue
			}
			metricDispatched.Inc()

			if flags&eventHangup != 0 {
				h.OnHangup()
				continue
			}
			if flags&EventRead != 0 {
				h.OnReadable()
			}
			// Re-check: the readable path may have deregistered the fd.
			if flags&EventWrite != 0 && r.handlers[fd] == h {
				h.OnWritable()
			}
		}

		if r.ticker != nil {
			r.ticker.Tick(time.Now())
		}
	}
}

// Close releases the epoll instance. Registered descriptors are owned and
// closed by their handlers, not by the reactor.
func (r *Reactor) Close() {
	r.poller.Close()
}
