//go:build linux

// Package socket is the only layer that touches raw descriptors for network
// I/O. Every call maps the kernel's would-block indication to an explicit
// `again` result so the layers above (parser, router, state machine) never
// see EAGAIN or a raw errno.
package socket

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Listen opens a nonblocking listening socket bound to host:port.
// SO_REUSEADDR is set so the process can restart without waiting out
// TIME_WAIT, matching the tuning applied to every listener.
func Listen(host string, port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("socket: SO_REUSEADDR: %w", err)
	}

	sa := &unix.SockaddrInet4{Port: port}
	if host != "" && host != "0.0.0.0" {
		ip := net.ParseIP(host)
		if ip == nil || ip.To4() == nil {
			unix.Close(fd)
			return -1, fmt.Errorf("socket: bad listen host %q", host)
		}
		copy(sa.Addr[:], ip.To4())
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("socket: bind %s:%d: %w", host, port, err)
	}
	if err := unix.Listen(fd, 1024); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("socket: listen %s:%d: %w", host, port, err)
	}
	return fd, nil
}

// Accept performs one nonblocking accept. ok is false when the pending queue
// is drained (the caller's accept loop must run until then: edge-triggered
// notification fires once per readiness transition). The accepted socket is
// already nonblocking via SOCK_NONBLOCK.
func Accept(listenFd int) (fd int, remote string, ok bool, err error) {
	nfd, sa, err := unix.Accept4(listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return -1, "", false, nil
		}
		if err == unix.ECONNABORTED || err == unix.EINTR {
			// The peer vanished between readiness and accept; keep draining.
			return -1, "", true, nil
		}
		return -1, "", false, err
	}
	// Small responses must not sit behind Nagle; the write path already
	// batches head and body into one buffer.
	_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	if in4, isV4 := sa.(*unix.SockaddrInet4); isV4 {
		remote = fmt.Sprintf("%d.%d.%d.%d:%d",
			in4.Addr[0], in4.Addr[1], in4.Addr[2], in4.Addr[3], in4.Port)
	}
	return nfd, remote, true, nil
}

// Read performs one nonblocking read. n == 0 with again == false and a nil
// error means the peer closed its half of the connection. EINTR is retried
// here: the edge-triggered readiness event is already consumed, so handing
// the interruption upward would strand buffered data.
func Read(fd int, buf []byte) (n int, again bool, err error) {
	for {
		n, err = unix.Read(fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return 0, true, nil
			}
			return 0, false, err
		}
		return n, false, nil
	}
}

// Write performs one nonblocking write of as much of buf as the socket
// accepts. A partial count with again == true means the send buffer filled;
// the remainder is retried on the next writability event.
func Write(fd int, buf []byte) (n int, again bool, err error) {
	for {
		n, err = unix.Write(fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return 0, true, nil
			}
			return 0, false, err
		}
		if n < len(buf) {
			return n, true, nil
		}
		return n, false, nil
	}
}

// Sendfile transfers up to remaining bytes from src to the socket dst using
// sendfile(2), advancing *off. Zero-copy: no userspace buffer is involved,
// which matters for large static files on a single-threaded loop.
//
// written is always non-negative; the kernel's -1 error return must never
// reach the caller's remaining-count arithmetic. A zero count with
// again == false and a nil error means the source ran out of bytes short of
// remaining (the file shrank while being served).
func Sendfile(dst, src int, off *int64, remaining int64) (written int64, again bool, err error) {
	const maxChunk = 1 << 30
	chunk := remaining
	if chunk > maxChunk {
		chunk = maxChunk
	}
	for {
		n, err := unix.Sendfile(dst, src, off, int(chunk))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return 0, true, nil
			}
			return 0, false, err
		}
		if n == 0 {
			return 0, false, nil
		}
		if int64(n) < remaining {
			return int64(n), true, nil
		}
		return int64(n), false, nil
	}
}

// SetNonblock marks an arbitrary descriptor (CGI pipe ends) nonblocking.
func SetNonblock(fd int) error {
	return unix.SetNonblock(fd, true)
}

// Close releases a descriptor. Callers must have deregistered it from the
// reactor first, so a reused descriptor number can never be routed to stale
// state.
func Close(fd int) {
	unix.Close(fd)
}
