// Package telnetd is the TCP side of the bridge: one listening socket,
// at most one accepted peer, and just enough Telnet to put the remote
// terminal into character mode. Payload bytes are never interpreted.
package telnetd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// ErrAcceptTimeout is returned by Accept when no connection arrived
// within the probe window.
var ErrAcceptTimeout = errors.New("accept timed out")

// Server owns the listening socket.
type Server struct {
	ln  *net.TCPListener
	log *zap.SugaredLogger
}

// Listen binds an IPv4 listener on 0.0.0.0:port with SO_REUSEADDR set.
func Listen(port uint16, log *zap.SugaredLogger) (*Server, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var serr error
			if err := c.Control(func(fd uintptr) {
				serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return serr
		},
	}

	ln, err := lc.Listen(context.Background(), "tcp4", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on port %d: %w", port, err)
	}

	return &Server{ln: ln.(*net.TCPListener), log: log}, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Accept waits up to timeout for a connection. The accepted socket has
// Nagle disabled and keepalive enabled. ErrAcceptTimeout means nobody
// connected; any other error is a transient accept failure.
func (s *Server) Accept(timeout time.Duration) (*Peer, error) {
	if err := s.ln.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("failed to arm accept deadline: %w", err)
	}
	conn, err := s.ln.AcceptTCP()
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return nil, ErrAcceptTimeout
		}
		return nil, fmt.Errorf("failed to accept: %w", err)
	}

	if err := conn.SetNoDelay(true); err != nil {
		s.log.Warnw("failed to disable nagle", zap.Error(err))
	}
	if err := conn.SetKeepAlive(true); err != nil {
		s.log.Warnw("failed to enable keepalive", zap.Error(err))
	}

	return &Peer{conn: conn, log: s.log}, nil
}

// Close shuts the listener down.
func (s *Server) Close() error {
	return s.ln.Close()
}
