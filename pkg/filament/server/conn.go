//go:build linux

package server

import (
	"os"
	"time"

	"github.com/valyala/bytebufferpool"

	"github.com/watt-toolkit/filament/pkg/filament/config"
	"github.com/watt-toolkit/filament/pkg/filament/http11"
	"github.com/watt-toolkit/filament/pkg/filament/reactor"
	"github.com/watt-toolkit/filament/pkg/filament/router"
	"github.com/watt-toolkit/filament/pkg/filament/socket"
)

// conn is one client connection, exclusively owned by the reactor loop:
// created on accept, destroyed on teardown, never shared. Its state machine
// is Reading → Dispatching → Writing → {Reading | closed}; read and write
// phases never interleave because the epoll interest set carries exactly one
// direction at a time.
type connState int

const (
	connReading connState = iota
	connDispatching
	connWriting
	connClosed
)

type conn struct {
	srv    *Server
	fd     int
	port   int
	remote string

	state  connState
	parser *http11.Parser
	req    *http11.Request
	blk    *config.ServerBlock

	// Write side: the head and in-memory body drain from out at outOff;
	// a file body then streams via sendfile from fileOff.
	out           *bytebufferpool.ByteBuffer
	outOff        int
	file          *os.File
	fileOff       int64
	fileRemaining int64

	cgi *cgiExchange

	lastActive time.Time
	sawBytes   bool
	closeAfter bool
}

func newConn(srv *Server, fd, port int, remote string) *conn {
	return &conn{
		srv:        srv,
		fd:         fd,
		port:       port,
		remote:     remote,
		parser:     http11.NewParser(),
		lastActive: time.Now(),
	}
}

func (c *conn) touch() {
	c.lastActive = time.Now()
}

// OnReadable drains the socket to a would-block indication, feeding every
// read into the parser. A zero-length read means the peer closed.
func (c *conn) OnReadable() {
	if c.state != connReading {
		return
	}
	c.touch()
	buf := c.srv.readBuf
	for {
		n, again, err := socket.Read(c.fd, buf)
		if err != nil {
			c.teardown()
			return
		}
		if again {
			return
		}
		if n == 0 {
			c.teardown()
			return
		}
		metricBytesIn.Add(float64(n))
		c.sawBytes = true
		if !c.advance(buf[:n]) {
			return
		}
	}
}

// OnWritable resumes draining the response.
func (c *conn) OnWritable() {
	if c.state != connWriting {
		return
	}
	c.touch()
	c.flush()
}

// OnHangup tears this connection down without touching any other.
func (c *conn) OnHangup() {
	c.teardown()
}

// advance runs the parser over newly read bytes (nil resumes buffered
// state). It returns false once the connection left the reading state:
// either a response is being written or the conn is gone.
func (c *conn) advance(data []byte) bool {
	outcome, perr := c.parser.Feed(data)
	for {
		if perr != nil {
			c.respondError(perr.Status)
			return false
		}
		switch outcome {
		case http11.NeedMore:
			return true

		case http11.HeadersComplete:
			// Host is known now: resolve the block lazily and hand the
			// parser its body bound before resuming.
			req := c.parser.Request()
			c.req = req
			c.blk = c.srv.router.ResolveBlock(c.port, req.Host())
			limit := int64(config.DefaultBodyLimit)
			if c.blk != nil {
				limit = c.blk.BodyLimit
			}
			c.parser.SetBodyLimit(limit)
			outcome, perr = c.parser.Feed(nil)

		case http11.Complete:
			c.dispatch()
			return false
		}
	}
}

// dispatch executes the routing decision for the completed request.
func (c *conn) dispatch() {
	c.state = connDispatching
	if c.blk == nil {
		c.respondError(500)
		return
	}
	d := c.srv.router.Decide(c.blk, c.req)

	if d.Kind == router.KindCGI {
		if c.startCGI(d) {
			return // response arrives from the bridge
		}
		c.closeAfter = true
		c.writeResponse(errorResponse(c.blk, 500))
		return
	}

	c.writeResponse(buildResponse(c.blk, c.req, d))
}

// respondError answers a failure detected before or during parsing. A
// malformed request never keeps the connection alive.
func (c *conn) respondError(status int) {
	c.closeAfter = true
	c.writeResponse(errorResponse(c.blk, status))
}

// writeResponse freezes the response into the out buffer and flips the
// connection into its write phase.
func (c *conn) writeResponse(resp *http11.Response) {
	req := c.req
	if req != nil {
		resp.Proto = req.Proto
		if req.Close {
			c.closeAfter = true
		}
	}
	if c.closeAfter {
		resp.SetHeader("Connection", "close")
	} else {
		resp.SetHeader("Connection", "keep-alive")
	}

	c.out = bytebufferpool.Get()
	c.out.B = resp.AppendHead(c.out.B)
	c.outOff = 0

	if req != nil && req.MethodID == http11.MethodHEAD {
		if resp.File != nil {
			resp.File.Close()
		}
	} else {
		c.out.B = append(c.out.B, resp.Body...)
		if resp.File != nil {
			c.file = resp.File
			c.fileOff = 0
			c.fileRemaining = resp.FileSize
		}
	}

	metricRequests.WithLabelValues(statusClass(resp.Status)).Inc()
	c.srv.log.Debug().
		Str("remote", c.remote).
		Int("status", resp.Status).
		Int64("bytes", resp.ContentLength()).
		Msg("response")

	c.state = connWriting
	if err := c.srv.reactor.Modify(c.fd, reactor.EventWrite|reactor.EventEdge); err != nil {
		c.teardown()
		return
	}
	c.flush()
}

// flush drains the out buffer, then the file region, retrying only on the
// next writability event when the socket pushes back.
func (c *conn) flush() {
	for c.outOff < len(c.out.B) {
		n, again, err := socket.Write(c.fd, c.out.B[c.outOff:])
		c.outOff += n
		metricBytesOut.Add(float64(n))
		if err != nil {
			c.teardown()
			return
		}
		if again {
			return
		}
	}
	for c.file != nil && c.fileRemaining > 0 {
		n, again, err := socket.Sendfile(c.fd, int(c.file.Fd()), &c.fileOff, c.fileRemaining)
		c.fileRemaining -= n
		metricBytesOut.Add(float64(n))
		if err != nil {
			c.teardown()
			return
		}
		if again {
			return
		}
		if n == 0 {
			// The file shrank beneath the announced length. The framing is
			// already on the wire, so the only honest move is to hang up;
			// waiting for a writability edge would hang forever.
			c.teardown()
			return
		}
	}
	c.finishRequest()
}

// finishRequest completes the response: close, or reset for keep-alive. Any
// pipelined bytes already buffered are parsed immediately, since they will
// never generate another readiness event.
func (c *conn) finishRequest() {
	c.releaseWriteState()
	if c.closeAfter {
		c.teardown()
		return
	}
	c.state = connReading
	c.req = nil
	c.blk = nil
	c.parser.Reset()
	c.sawBytes = c.parser.Buffered() > 0
	c.touch()
	if err := c.srv.reactor.Modify(c.fd, reactor.EventRead|reactor.EventEdge); err != nil {
		c.teardown()
		return
	}
	if c.parser.Buffered() > 0 {
		c.advance(nil)
	}
}

func (c *conn) releaseWriteState() {
	if c.out != nil {
		bytebufferpool.Put(c.out)
		c.out = nil
		c.outOff = 0
	}
	if c.file != nil {
		c.file.Close()
		c.file = nil
		c.fileRemaining = 0
	}
}

// teardown releases everything the connection owns: CGI child first (kill,
// reap, pipes), then the descriptor (deregister strictly before close), then
// buffers. Safe to call from any state; idempotent.
func (c *conn) teardown() {
	if c.state == connClosed {
		return
	}
	c.state = connClosed
	c.abortCGI()
	c.srv.reactor.Deregister(c.fd)
	socket.Close(c.fd)
	c.releaseWriteState()
	delete(c.srv.conns, c.fd)
	metricConnsActive.Dec()
	c.srv.log.Debug().Str("remote", c.remote).Msg("connection closed")
}
