//go:build linux

package server

import (
	"time"

	"github.com/watt-toolkit/filament/pkg/filament/cgi"
	"github.com/watt-toolkit/filament/pkg/filament/config"
	"github.com/watt-toolkit/filament/pkg/filament/http11"
	"github.com/watt-toolkit/filament/pkg/filament/reactor"
	"github.com/watt-toolkit/filament/pkg/filament/router"
)

// cgiExchange tracks one in-flight CGI child and which of its pipe ends are
// still registered with the reactor. The connection stays in Dispatching
// until the exchange finalizes.
type cgiExchange struct {
	h                *cgi.Handle
	stdinRegistered  bool
	stdoutRegistered bool
}

// stdinHandler forwards body-sink writability to the owning connection.
type stdinHandler struct{ c *conn }

func (a stdinHandler) OnReadable() {}
func (a stdinHandler) OnWritable() { a.c.cgiStdinWritable() }
func (a stdinHandler) OnHangup()   { a.c.cgiStdinHangup() }

// stdoutHandler forwards script-output readiness. A hangup on a pipe read
// end can still carry buffered data, so it runs the same drain path.
type stdoutHandler struct{ c *conn }

func (a stdoutHandler) OnReadable() { a.c.cgiStdoutReadable() }
func (a stdoutHandler) OnWritable() {}
func (a stdoutHandler) OnHangup()   { a.c.cgiStdoutReadable() }

// startCGI spawns the child and registers its pipes. The body is pushed
// eagerly: most payloads fit the pipe buffer in one go and stdin can close
// (EOF for the script) without ever joining the interest set.
func (c *conn) startCGI(d router.Decision) bool {
	req := c.req
	serverName := config.CanonicalHost(req.Host())
	if serverName == "" {
		serverName = c.blk.Host
	}
	h, err := cgi.Start(cgi.StartOptions{
		Script:        d.Script,
		Interpreter:   d.Interpreter,
		PathInfo:      d.PathInfo,
		Method:        req.Method,
		Proto:         req.Proto,
		Query:         req.RawQuery,
		ContentType:   req.Header.Get("content-type"),
		ContentLength: int64(len(req.Body)),
		ServerName:    serverName,
		ServerPort:    c.port,
		ScriptName:    req.Path,
		Body:          req.Body,
		Deadline:      time.Now().Add(c.srv.cfg.CGITimeout),
	})
	if err != nil {
		c.srv.log.Error().Err(err).Str("script", d.Script).Msg("cgi start failed")
		return false
	}
	metricCGISpawned.Inc()
	x := &cgiExchange{h: h}
	c.cgi = x

	done, werr := h.WriteBody()
	if werr != nil || done {
		h.CloseStdin()
	} else {
		if err := c.srv.reactor.Register(h.StdinFd(), reactor.EventWrite|reactor.EventEdge, stdinHandler{c}); err != nil {
			c.abortCGI()
			return false
		}
		x.stdinRegistered = true
	}

	if err := c.srv.reactor.Register(h.StdoutFd(), reactor.EventRead|reactor.EventEdge, stdoutHandler{c}); err != nil {
		c.abortCGI()
		return false
	}
	x.stdoutRegistered = true
	return true
}

// cgiStdinWritable continues streaming the request body into the child.
func (c *conn) cgiStdinWritable() {
	x := c.cgi
	if x == nil {
		return
	}
	c.touch()
	done, err := x.h.WriteBody()
	if err != nil || done {
		// EPIPE here means the script stopped reading early, which CGI
		// permits; its output still decides the response.
		c.closeCGIStdin()
	}
}

// cgiStdinHangup: the child closed its read end. Stop feeding; wait for
// output.
func (c *conn) cgiStdinHangup() {
	c.closeCGIStdin()
}

// cgiStdoutReadable drains script output; pipe EOF completes the exchange.
func (c *conn) cgiStdoutReadable() {
	x := c.cgi
	if x == nil {
		return
	}
	c.touch()
	eof, err := x.h.ReadOutput()
	if err != nil {
		c.finalizeCGI(false)
		return
	}
	if eof {
		c.finalizeCGI(true)
	}
}

// finalizeCGI tears the exchange down on every path and writes the response.
// Both descriptors are deregistered before closing and the child is reaped
// exactly once, whether it exited normally, crashed, or has to be killed.
func (c *conn) finalizeCGI(outputComplete bool) {
	x := c.cgi
	if x == nil {
		return
	}
	c.closeCGIStdin()
	c.closeCGIStdout()

	exited, ok := x.h.Reap()
	if !exited {
		// Output side is done but the child lingers; it has nothing left to
		// tell us.
		x.h.Kill()
		x.h.ReapBlocking()
		ok = outputComplete
	}
	c.cgi = nil

	var resp *http11.Response
	if !outputComplete || !ok {
		resp = errorResponse(c.blk, 500)
	} else {
		resp = cgi.ParseOutput(x.h.Output())
	}
	c.writeResponse(resp)
}

// abortCGI is the no-response path (connection teardown): kill, reap, free
// the pipes.
func (c *conn) abortCGI() {
	x := c.cgi
	if x == nil {
		return
	}
	c.closeCGIStdin()
	c.closeCGIStdout()
	x.h.Kill()
	x.h.ReapBlocking()
	c.cgi = nil
}

// cgiDeadlineExpired is invoked by the sweep: kill, reap, synthesize 500.
func (c *conn) cgiDeadlineExpired() {
	x := c.cgi
	if x == nil {
		return
	}
	metricCGITimeouts.Inc()
	c.srv.log.Warn().Str("remote", c.remote).Msg("cgi deadline exceeded")
	c.closeCGIStdin()
	c.closeCGIStdout()
	x.h.Kill()
	x.h.ReapBlocking()
	c.cgi = nil
	c.closeAfter = true
	c.writeResponse(errorResponse(c.blk, 500))
}

func (c *conn) closeCGIStdin() {
	x := c.cgi
	if x == nil {
		return
	}
	if x.stdinRegistered {
		c.srv.reactor.Deregister(x.h.StdinFd())
		x.stdinRegistered = false
	}
	x.h.CloseStdin()
}

func (c *conn) closeCGIStdout() {
	x := c.cgi
	if x == nil {
		return
	}
	if x.stdoutRegistered {
		c.srv.reactor.Deregister(x.h.StdoutFd())
		x.stdoutRegistered = false
	}
	x.h.CloseStdout()
}
