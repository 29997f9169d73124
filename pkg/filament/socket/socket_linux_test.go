//go:build linux

package socket

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func listenLoopback(t *testing.T) (fd, port int) {
	t.Helper()
	fd, err := Listen("127.0.0.1", 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { Close(fd) })
	sa, err := unix.Getsockname(fd)
	if err != nil {
		t.Fatal(err)
	}
	return fd, sa.(*unix.SockaddrInet4).Port
}

// acceptOne polls the nonblocking listener until the pending connection
// shows up.
func acceptOne(t *testing.T, listenFd int) (int, string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		fd, remote, ok, err := Accept(listenFd)
		if err != nil {
			t.Fatal(err)
		}
		if ok && fd >= 0 {
			t.Cleanup(func() { Close(fd) })
			return fd, remote
		}
		if time.Now().After(deadline) {
			t.Fatal("accept timed out")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestListenRejectsBadHost(t *testing.T) {
	if _, err := Listen("not-an-ip", 0); err == nil {
		t.Fatal("expected error for unparsable host")
	}
	if _, err := Listen("::1", 0); err == nil {
		t.Fatal("expected error for non-IPv4 host")
	}
}

func TestAcceptEmptyQueue(t *testing.T) {
	lfd, _ := listenLoopback(t)
	fd, _, ok, err := Accept(lfd)
	if err != nil {
		t.Fatal(err)
	}
	if ok || fd != -1 {
		t.Fatalf("fd=%d ok=%v, want drained queue", fd, ok)
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	lfd, port := listenLoopback(t)

	client, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	fd, remote := acceptOne(t, lfd)
	if remote == "" {
		t.Error("remote address missing")
	}

	if _, err := client.Write([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 64)
	deadline := time.Now().Add(5 * time.Second)
	var got []byte
	for len(got) < 4 {
		n, again, err := Read(fd, buf)
		if err != nil {
			t.Fatal(err)
		}
		if again {
			if time.Now().After(deadline) {
				t.Fatal("read timed out")
			}
			time.Sleep(time.Millisecond)
			continue
		}
		got = append(got, buf[:n]...)
	}
	if string(got) != "ping" {
		t.Fatalf("got %q", got)
	}

	if n, again, err := Write(fd, []byte("pong")); err != nil || again || n != 4 {
		t.Fatalf("write: n=%d again=%v err=%v", n, again, err)
	}
	reply := make([]byte, 4)
	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(client, reply); err != nil {
		t.Fatal(err)
	}
	if string(reply) != "pong" {
		t.Fatalf("reply %q", reply)
	}
}

func TestReadPeerClose(t *testing.T) {
	lfd, port := listenLoopback(t)
	client, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatal(err)
	}
	fd, _ := acceptOne(t, lfd)
	client.Close()

	buf := make([]byte, 16)
	deadline := time.Now().Add(5 * time.Second)
	for {
		n, again, err := Read(fd, buf)
		if err != nil {
			t.Fatal(err)
		}
		if !again {
			if n != 0 {
				t.Fatalf("n=%d, want EOF zero-read", n)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("EOF never observed")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSendfile(t *testing.T) {
	lfd, port := listenLoopback(t)
	client, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	fd, _ := acceptOne(t, lfd)

	path := filepath.Join(t.TempDir(), "payload")
	payload := make([]byte, 8192)
	for i := range payload {
		payload[i] = byte(i)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var off int64
	remaining := int64(len(payload))
	deadline := time.Now().Add(5 * time.Second)
	for remaining > 0 {
		n, again, err := Sendfile(fd, int(f.Fd()), &off, remaining)
		if err != nil {
			t.Fatal(err)
		}
		remaining -= n
		if again && time.Now().After(deadline) {
			t.Fatal("sendfile stalled")
		}
	}

	got := make([]byte, len(payload))
	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(client, got); err != nil {
		t.Fatal(err)
	}
	for i := range got {
		if got[i] != payload[i] {
			t.Fatalf("byte %d differs", i)
		}
	}
}

// A full send buffer must surface as (0, again) and never as a negative
// count, or the caller's remaining arithmetic runs backwards.
func TestSendfileBackpressure(t *testing.T) {
	lfd, port := listenLoopback(t)
	client, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	fd, _ := acceptOne(t, lfd)
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, 4096); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "big")
	size := int64(4 << 20)
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	// The client never reads, so the socket must push back well before the
	// file drains. Every reported count has to be non-negative and the
	// remaining total must only shrink.
	var off int64
	remaining := size
	deadline := time.Now().Add(5 * time.Second)
	for {
		n, again, err := Sendfile(fd, int(f.Fd()), &off, remaining)
		if err != nil {
			t.Fatal(err)
		}
		if n < 0 {
			t.Fatalf("written=%d, want non-negative", n)
		}
		remaining -= n
		if remaining > size {
			t.Fatalf("remaining grew to %d (started at %d)", remaining, size)
		}
		if again && n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("socket never pushed back")
		}
	}
	if remaining == size {
		t.Fatal("no bytes made it out before the would-block")
	}
	if off != size-remaining {
		t.Fatalf("off=%d, want %d", off, size-remaining)
	}
}

// A source at EOF with bytes still owed reports zero progress without a
// would-block, so the caller can tell a shrunken file from backpressure.
func TestSendfileSourceExhausted(t *testing.T) {
	lfd, port := listenLoopback(t)
	client, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	fd, _ := acceptOne(t, lfd)

	path := filepath.Join(t.TempDir(), "short")
	if err := os.WriteFile(path, []byte("stub"), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	off := int64(4)
	n, again, err := Sendfile(fd, int(f.Fd()), &off, 100)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 || again {
		t.Fatalf("n=%d again=%v, want zero-progress EOF signal", n, again)
	}
}
