//go:build linux

// Package server assembles the core: listeners, the connection table, the
// dispatch pipeline and the timeout sweeps, all running on the reactor's
// single goroutine.
package server

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/watt-toolkit/filament/pkg/filament/config"
	"github.com/watt-toolkit/filament/pkg/filament/reactor"
	"github.com/watt-toolkit/filament/pkg/filament/router"
	"github.com/watt-toolkit/filament/pkg/filament/socket"
)

// ErrNoListeners aborts startup when not a single configured address could
// be bound. One failing block must not stop the others, but zero listeners
// is a dead process.
var ErrNoListeners = errors.New("server: no listening socket could be bound")

// idleGrace extends the idle timeout for connections that already sent part
// of a request before the 408 is written.
const idleGrace = 5 * time.Second

// Server owns the connection table. Only reactor callbacks mutate it: the
// single-goroutine loop is the synchronization.
type Server struct {
	cfg     *config.Config
	router  *router.Router
	reactor *reactor.Reactor
	log     zerolog.Logger

	conns     map[int]*conn
	listeners []*listener

	// readBuf is shared across all connections; with one goroutine, at most
	// one read is in flight at any instant.
	readBuf []byte
}

// listener is one bound (host, port) pair registered with the reactor.
type listener struct {
	srv  *Server
	fd   int
	host string
	port int
}

// New binds every configured (host, port) pair and wires the reactor. Bind
// failures are logged and skipped; only a total failure is fatal.
func New(cfg *config.Config, log zerolog.Logger) (*Server, error) {
	re, err := reactor.New(log)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:     cfg,
		router:  router.New(cfg),
		reactor: re,
		log:     log,
		conns:   make(map[int]*conn),
		readBuf: make([]byte, 16*1024),
	}

	type hostPort struct {
		host string
		port int
	}
	bound := make(map[hostPort]bool)
	for i := range cfg.Servers {
		blk := &cfg.Servers[i]
		for _, port := range blk.Ports {
			hp := hostPort{blk.Host, port}
			if bound[hp] {
				continue
			}
			bound[hp] = true
			fd, err := socket.Listen(blk.Host, port)
			if err != nil {
				log.Error().Err(err).Str("host", blk.Host).Int("port", port).
					Msg("listen failed, block skipped")
				continue
			}
			l := &listener{srv: s, fd: fd, host: blk.Host, port: port}
			if err := re.Register(fd, reactor.EventRead, l); err != nil {
				socket.Close(fd)
				log.Error().Err(err).Int("port", port).Msg("listener registration failed")
				continue
			}
			s.listeners = append(s.listeners, l)
			log.Info().Str("host", blk.Host).Int("port", port).Msg("listening")
		}
	}
	if len(s.listeners) == 0 {
		re.Close()
		return nil, ErrNoListeners
	}
	re.SetTicker(s)
	return s, nil
}

// Run executes the reactor loop until stop closes, then releases every
// connection and listener.
func (s *Server) Run(stop <-chan struct{}) error {
	err := s.reactor.Run(stop)
	s.shutdown()
	return err
}

func (s *Server) shutdown() {
	for _, c := range s.connsSnapshot() {
		c.teardown()
	}
	for _, l := range s.listeners {
		s.reactor.Deregister(l.fd)
		socket.Close(l.fd)
	}
	s.reactor.Close()
}

// Tick runs the periodic sweeps: CGI deadlines first (they synthesize
// responses), then connection idle timeouts.
func (s *Server) Tick(now time.Time) {
	for _, c := range s.connsSnapshot() {
		if c.state == connClosed {
			continue
		}
		if c.cgi != nil {
			if now.After(c.cgi.h.Deadline) {
				c.cgiDeadlineExpired()
			}
			continue
		}
		idle := now.Sub(c.lastActive)
		if idle <= s.cfg.IdleTimeout {
			continue
		}
		switch {
		case c.state == connReading && !c.sawBytes:
			// Never spoke: close silently rather than answer a peer that
			// may be long gone.
			metricIdleClosed.Inc()
			c.teardown()
		case c.state == connReading && idle <= s.cfg.IdleTimeout+idleGrace:
			metricIdleClosed.Inc()
			c.respondError(408)
		default:
			// Mid-request past the grace period, or a write stalled beyond
			// the threshold: no response can help.
			metricIdleClosed.Inc()
			c.teardown()
		}
	}
}

// connsSnapshot copies the table so sweep-triggered teardowns may delete
// entries while iterating.
func (s *Server) connsSnapshot() []*conn {
	out := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

// OnReadable runs the accept-drain loop: with edge-triggered semantics
// downstream, accepting until EAGAIN is the only way not to strand pending
// connections until some unrelated event.
func (l *listener) OnReadable() {
	for {
		fd, remote, ok, err := socket.Accept(l.fd)
		if err != nil {
			l.srv.log.Error().Err(err).Int("port", l.port).Msg("accept failed")
			return
		}
		if !ok {
			return
		}
		if fd < 0 {
			continue // aborted in flight, keep draining
		}
		c := newConn(l.srv, fd, l.port, remote)
		if err := l.srv.reactor.Register(fd, reactor.EventRead|reactor.EventEdge, c); err != nil {
			l.srv.log.Error().Err(err).Msg("connection registration failed")
			socket.Close(fd)
			continue
		}
		l.srv.conns[fd] = c
		metricConnsAccepted.Inc()
		metricConnsActive.Inc()
		l.srv.log.Debug().Str("remote", remote).Int("port", l.port).Msg("accepted")
	}
}

func (l *listener) OnWritable() {}

// OnHangup on a listener is unusual but must not poison the loop; the
// remaining listeners keep serving.
func (l *listener) OnHangup() {
	l.srv.log.Error().Int("port", l.port).Msg("listener error, closing")
	l.srv.reactor.Deregister(l.fd)
	socket.Close(l.fd)
}
