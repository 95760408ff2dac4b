package telnetd

import (
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// telnetPreamble is sent once after accept: WILL ECHO, WILL
// SUPPRESS-GO-AHEAD, WON'T WINDOW-SIZE.
var telnetPreamble = []byte{0xFF, 0xFB, 0x01, 0xFF, 0xFB, 0x03, 0xFF, 0xFC, 0x1F}

// negotiateReplyLen bounds how much of the peer's option reply is
// consumed and discarded.
const negotiateReplyLen = 6

// negotiateReplyWait bounds how long Negotiate waits for a reply from
// peers that send one.
const negotiateReplyWait = 200 * time.Millisecond

// Peer is one accepted Telnet connection.
type Peer struct {
	conn *net.TCPConn
	log  *zap.SugaredLogger
}

// RemoteAddr returns the peer's address.
func (p *Peer) RemoteAddr() net.Addr {
	return p.conn.RemoteAddr()
}

// Ready verifies the accepted socket is usable by issuing a FIONREAD
// query against it.
func (p *Peer) Ready() bool {
	err := p.raw(func(fd int) error {
		_, err := unix.IoctlGetInt(fd, unix.TIOCINQ)
		return err
	})
	return err == nil
}

// Negotiate sends the Telnet option preamble and consumes whatever the
// peer replies, best effort. Replies longer than the preamble answer
// are left in the stream and forwarded as payload, matching the probe
// behavior terminals expect.
func (p *Peer) Negotiate() error {
	if _, err := p.conn.Write(telnetPreamble); err != nil {
		return fmt.Errorf("failed to send telnet preamble: %w", err)
	}

	reply := make([]byte, negotiateReplyLen)
	if err := p.conn.SetReadDeadline(time.Now().Add(negotiateReplyWait)); err != nil {
		return err
	}
	n, _ := p.conn.Read(reply)
	if err := p.conn.SetReadDeadline(time.Time{}); err != nil {
		return err
	}
	p.log.Debugw("telnet negotiation done", zap.Int("reply_bytes", n))
	return nil
}

// Readable reports whether the socket has data (or an EOF) to read,
// waiting up to timeout.
func (p *Peer) Readable(timeout time.Duration) (bool, error) {
	return p.poll(unix.POLLIN, timeout)
}

// Writable reports whether the socket can be written, waiting up to
// timeout. A hung-up or errored socket returns an error.
func (p *Peer) Writable(timeout time.Duration) (bool, error) {
	return p.poll(unix.POLLOUT, timeout)
}

// Recv reads into buf. Zero bytes with an error (including EOF) means
// the connection is gone.
func (p *Peer) Recv(buf []byte) (int, error) {
	return p.conn.Read(buf)
}

// Send writes buf and returns how much was accepted. Anything short of
// len(buf) means the connection is gone.
func (p *Peer) Send(buf []byte) (int, error) {
	return p.conn.Write(buf)
}

// Close shuts both directions down and releases the socket.
func (p *Peer) Close() {
	if err := p.conn.CloseWrite(); err != nil {
		p.log.Debugw("failed to shut peer socket down", zap.Error(err))
	}
	if err := p.conn.Close(); err != nil {
		p.log.Debugw("failed to close peer socket", zap.Error(err))
	}
}

func (p *Peer) raw(fn func(fd int) error) error {
	rc, err := p.conn.SyscallConn()
	if err != nil {
		return err
	}
	var opErr error
	if err := rc.Control(func(fd uintptr) {
		opErr = fn(int(fd))
	}); err != nil {
		return err
	}
	return opErr
}

func (p *Peer) poll(events int16, timeout time.Duration) (bool, error) {
	var ready bool
	err := p.raw(func(fd int) error {
		fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
		for {
			n, err := unix.Poll(fds, int(timeout/time.Millisecond))
			if err == unix.EINTR {
				continue
			}
			if err != nil {
				return err
			}
			if n == 0 {
				return nil
			}
			if fds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
				return fmt.Errorf("peer socket failed (revents=%#x)", fds[0].Revents)
			}
			if events&unix.POLLIN != 0 {
				// A hangup is readable: the pending EOF must be
				// observed by Recv.
				ready = fds[0].Revents&(unix.POLLIN|unix.POLLHUP) != 0
				return nil
			}
			if fds[0].Revents&unix.POLLHUP != 0 {
				return fmt.Errorf("peer hung up")
			}
			ready = fds[0].Revents&events != 0
			return nil
		}
	})
	return ready, err
}
