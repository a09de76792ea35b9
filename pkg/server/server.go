// Package server accepts TCP connections and runs one request ingestion
// task per connection. Reads go through the raw file descriptor so the
// parser sees EAGAIN instead of blocking inside the runtime; the task
// parks itself on the poller between readable windows.
package server

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/NiceMatters/lwan/pkg/auth"
	"github.com/NiceMatters/lwan/pkg/logger"
	"github.com/NiceMatters/lwan/pkg/request"
	"github.com/NiceMatters/lwan/pkg/telemetry"
)

// Config carries the listener settings.
type Config struct {
	Addr             string
	BufferSize       int
	KeepAliveTimeout time.Duration
	ProxyProtocol    bool
}

// Server owns the listener and the per-connection tasks.
type Server struct {
	cfg     Config
	engine  *request.Engine
	limiter *auth.LimiterPool

	ln net.Listener
}

func New(cfg Config, engine *request.Engine, limiter *auth.LimiterPool) *Server {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}
	return &Server{cfg: cfg, engine: engine, limiter: limiter}
}

// Addr returns the bound listener address, or "" before ListenAndServe.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Listen binds the listener without accepting yet, so callers can learn
// the port when binding to :0.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	return nil
}

// ListenAndServe accepts connections until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	go func() {
		<-ctx.Done()
		_ = s.ln.Close()
	}()

	logger.Info("listening", "addr", s.ln.Addr().String())
	for {
		c, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Warn("accept failed", "err", err)
			continue
		}
		if s.limiter != nil {
			host, _, _ := net.SplitHostPort(c.RemoteAddr().String())
			if !s.limiter.Allow(host) {
				_ = c.Close()
				continue
			}
		}
		go s.serveConn(c)
	}
}

// errAborted unwinds a connection task from anywhere inside the request
// driver. Yield(Abort) never returns.
var errAborted = errors.New("connection task aborted")

func (s *Server) serveConn(nc net.Conn) {
	telemetry.ConnOpened()
	defer telemetry.ConnClosed()
	defer func() { _ = nc.Close() }()
	defer func() {
		if r := recover(); r != nil && r != errAborted {
			panic(r)
		}
	}()

	tc, ok := nc.(*net.TCPConn)
	if !ok {
		return
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		logger.Warn("raw conn unavailable", "err", err)
		return
	}

	conn := &request.Conn{
		Sock:   &rawSocket{rc: raw},
		Writer: nc,
	}
	if ap, err := netip.ParseAddrPort(nc.RemoteAddr().String()); err == nil {
		conn.Peer = ap
	}
	conn.Yield = func(a request.Action) {
		if a == request.Abort {
			panic(errAborted)
		}
		if err := s.waitReadable(tc, raw); err != nil {
			panic(errAborted)
		}
	}

	buf := &request.Buffer{Data: make([]byte, s.cfg.BufferSize)}
	next := -1
	for {
		req := &request.Request{Conn: conn}
		if s.cfg.ProxyProtocol {
			req.Flags |= request.AllowProxyReqs
		}
		next = s.engine.ProcessRequest(req, buf, next)
		if !conn.KeepAlive {
			return
		}
	}
}

// waitReadable parks the task on the runtime poller until the socket has
// data, bounded by the keep-alive timeout.
func (s *Server) waitReadable(tc *net.TCPConn, raw syscall.RawConn) error {
	if t := s.cfg.KeepAliveTimeout; t > 0 {
		if err := tc.SetReadDeadline(time.Now().Add(t)); err != nil {
			return err
		}
	}
	first := true
	return raw.Read(func(uintptr) bool {
		if first {
			first = false
			return false
		}
		return true
	})
}

// rawSocket reads straight from the non-blocking descriptor, surfacing
// EAGAIN to the caller instead of waiting.
type rawSocket struct {
	rc syscall.RawConn
}

func (s *rawSocket) Read(p []byte) (int, error) {
	var n int
	var rerr error
	err := s.rc.Read(func(fd uintptr) bool {
		n, rerr = unix.Read(int(fd), p)
		if n < 0 {
			n = 0
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	return n, rerr
}
