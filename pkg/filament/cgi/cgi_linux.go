//go:build linux

// Package cgi bridges one child process per dynamic request into the
// readiness loop. The child's stdin and stdout are plain pipes whose parent
// ends are nonblocking and registered with the reactor under the same drain
// discipline as client sockets; the request body (chunked framing already
// decoded by the parser) streams in, the script output accumulates until
// pipe EOF or the handle's deadline.
package cgi

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/watt-toolkit/filament/pkg/filament/socket"
)

// StartOptions carries everything the CGI environment contract needs.
type StartOptions struct {
	Script      string
	Interpreter string // "" runs the script directly
	PathInfo    string

	Method        string
	Proto         string
	Query         string
	ContentType   string
	ContentLength int64
	ServerName    string
	ServerPort    int
	ScriptName    string // URI path of the script, for SCRIPT_NAME

	Body     []byte
	Deadline time.Time
}

// Handle is one live CGI child. Both descriptors are guaranteed deregistered
// and closed, and the child reaped exactly once, on every exit path: normal
// EOF, deadline kill, or a child that vanished under us.
type Handle struct {
	pid      int
	stdinFd  int
	stdoutFd int

	stdinOpen  bool
	stdoutOpen bool
	reaped     bool

	Deadline time.Time

	body    []byte
	bodyOff int
	out     []byte
}

// Start forks the child with its stdio wired to fresh pipes. The parent ends
// come back nonblocking; the caller registers them with the reactor.
func Start(opts StartOptions) (*Handle, error) {
	var in, out [2]int
	if err := unix.Pipe2(in[:], unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("cgi: pipe: %w", err)
	}
	if err := unix.Pipe2(out[:], unix.O_CLOEXEC); err != nil {
		unix.Close(in[0])
		unix.Close(in[1])
		return nil, fmt.Errorf("cgi: pipe: %w", err)
	}

	// Parent keeps in[1] (body sink) and out[0] (script output source); both
	// obey the same nonblocking discipline as client sockets.
	_ = socket.SetNonblock(in[1])
	_ = socket.SetNonblock(out[0])

	childIn := os.NewFile(uintptr(in[0]), "cgi-stdin")
	childOut := os.NewFile(uintptr(out[1]), "cgi-stdout")

	var cmd *exec.Cmd
	if opts.Interpreter != "" {
		cmd = exec.Command(opts.Interpreter, opts.Script)
	} else {
		cmd = exec.Command(opts.Script)
	}
	cmd.Dir = filepath.Dir(opts.Script)
	cmd.Stdin = childIn
	cmd.Stdout = childOut
	cmd.Stderr = os.Stderr
	cmd.Env = buildEnv(opts)

	err := cmd.Start()
	// The child holds its own copies now (or never will); the parent's
	// references to the child ends must go regardless.
	childIn.Close()
	childOut.Close()
	if err != nil {
		unix.Close(in[1])
		unix.Close(out[0])
		return nil, fmt.Errorf("cgi: start %s: %w", opts.Script, err)
	}

	return &Handle{
		pid:        cmd.Process.Pid,
		stdinFd:    in[1],
		stdoutFd:   out[0],
		stdinOpen:  true,
		stdoutOpen: true,
		Deadline:   opts.Deadline,
		body:       opts.Body,
	}, nil
}

func buildEnv(opts StartOptions) []string {
	env := []string{
		"GATEWAY_INTERFACE=CGI/1.1",
		"REQUEST_METHOD=" + opts.Method,
		"SERVER_PROTOCOL=" + opts.Proto,
		"SCRIPT_NAME=" + opts.ScriptName,
		"SCRIPT_FILENAME=" + opts.Script,
		"PATH_INFO=" + opts.PathInfo,
		"QUERY_STRING=" + opts.Query,
		"SERVER_NAME=" + opts.ServerName,
		"SERVER_PORT=" + strconv.Itoa(opts.ServerPort),
		"SERVER_SOFTWARE=filament",
	}
	if opts.ContentLength >= 0 {
		env = append(env, "CONTENT_LENGTH="+strconv.FormatInt(opts.ContentLength, 10))
	}
	if opts.ContentType != "" {
		env = append(env, "CONTENT_TYPE="+opts.ContentType)
	}
	return env
}

// StdinFd returns the body-sink descriptor, -1 once closed.
func (h *Handle) StdinFd() int {
	if !h.stdinOpen {
		return -1
	}
	return h.stdinFd
}

// StdoutFd returns the output-source descriptor, -1 once closed.
func (h *Handle) StdoutFd() int {
	if !h.stdoutOpen {
		return -1
	}
	return h.stdoutFd
}

// WriteBody pushes pending body bytes into the child, draining until the
// pipe would block or the body is exhausted. done means the caller must
// deregister and then CloseStdin so the script sees EOF.
func (h *Handle) WriteBody() (done bool, err error) {
	for h.bodyOff < len(h.body) {
		n, again, werr := socket.Write(h.stdinFd, h.body[h.bodyOff:])
		h.bodyOff += n
		if werr != nil {
			return false, werr
		}
		if again {
			return false, nil
		}
	}
	return true, nil
}

// ReadOutput drains the child's stdout into the handle's buffer. eof means
// the script closed its end and the output is complete.
func (h *Handle) ReadOutput() (eof bool, err error) {
	buf := make([]byte, 4096)
	for {
		n, again, rerr := socket.Read(h.stdoutFd, buf)
		if rerr != nil {
			return false, rerr
		}
		if again {
			return false, nil
		}
		if n == 0 {
			return true, nil
		}
		h.out = append(h.out, buf[:n]...)
	}
}

// Output returns the accumulated script output.
func (h *Handle) Output() []byte {
	return h.out
}

// CloseStdin closes the body sink (EOF for the script). The caller must have
// deregistered the descriptor first.
func (h *Handle) CloseStdin() {
	if h.stdinOpen {
		unix.Close(h.stdinFd)
		h.stdinOpen = false
	}
}

// CloseStdout closes the output source. The caller must have deregistered
// the descriptor first.
func (h *Handle) CloseStdout() {
	if h.stdoutOpen {
		unix.Close(h.stdoutFd)
		h.stdoutOpen = false
	}
}

// Kill forcibly terminates a child past its deadline. Reap still applies.
func (h *Handle) Kill() {
	if !h.reaped {
		unix.Kill(h.pid, unix.SIGKILL)
	}
}

// Reap collects the child's exit status without blocking the loop. It is
// idempotent: the child is waited on at most once. exited reports whether
// the child is gone; ok whether it exited zero.
func (h *Handle) Reap() (exited, ok bool) {
	if h.reaped {
		return true, true
	}
	var ws unix.WaitStatus
	pid, err := unix.Wait4(h.pid, &ws, unix.WNOHANG, nil)
	if err != nil || pid == 0 {
		// ECHILD means the child vanished (or was never ours to wait on);
		// treat it as reaped so teardown can finish.
		if err == unix.ECHILD {
			h.reaped = true
			return true, false
		}
		return false, false
	}
	h.reaped = true
	return true, ws.Exited() && ws.ExitStatus() == 0
}

// ReapBlocking is the deadline path: kill already happened, so the wait
// completes promptly. Used by the sweep to guarantee exactly-once reaping.
func (h *Handle) ReapBlocking() {
	if h.reaped {
		return
	}
	var ws unix.WaitStatus
	unix.Wait4(h.pid, &ws, 0, nil)
	h.reaped = true
}
