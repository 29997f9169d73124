//go:build linux

package reactor

import (
	"golang.org/x/sys/unix"
)

// Poller is a thin wrapper over one epoll instance. It is the only place the
// readiness primitive is called; higher layers deal in Handler callbacks.
type Poller struct {
	epfd int
}

// Event interest bits, re-exported so callers don't import unix directly.
const (
	EventRead  = uint32(unix.EPOLLIN)
	EventWrite = uint32(unix.EPOLLOUT)

	// EventEdge requests edge-triggered delivery: one notification per
	// readiness transition, so every consumer must drain to EAGAIN.
	EventEdge = uint32(unix.EPOLLET)

	// eventHangup bits force teardown of the owning entity.
	eventHangup = uint32(unix.EPOLLERR | unix.EPOLLHUP | unix.EPOLLRDHUP)
)

// NewPoller creates the epoll instance.
func NewPoller() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Poller{epfd: epfd}, nil
}

// Add registers fd with the given interest. EPOLLRDHUP is always included so
// a peer half-close surfaces as a hangup rather than an endless zero-read.
func (p *Poller) Add(fd int, events uint32) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: events | uint32(unix.EPOLLRDHUP),
		Fd:     int32(fd),
	})
}

// Mod replaces the interest set for fd.
func (p *Poller) Mod(fd int, events uint32) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: events | uint32(unix.EPOLLRDHUP),
		Fd:     int32(fd),
	})
}

// Del drops fd from the interest set. Must happen strictly before close(fd).
func (p *Poller) Del(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks for up to msec milliseconds and fills events, retrying EINTR
// (signal delivery must not kill the loop).
func (p *Poller) Wait(events []unix.EpollEvent, msec int) (int, error) {
	for {
		n, err := unix.EpollWait(p.epfd, events, msec)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

// Close releases the epoll descriptor.
func (p *Poller) Close() {
	unix.Close(p.epfd)
}
