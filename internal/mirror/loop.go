// Package mirror couples RTT channel 0 to the Telnet endpoint: a
// single poll-driven loop that drains the up ring toward the peer and
// feeds peer input into the down ring.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/songwenshuai/telnet-rtt/internal/hexdump"
	"github.com/songwenshuai/telnet-rtt/internal/ring"
	"github.com/songwenshuai/telnet-rtt/internal/telnetd"
	"github.com/songwenshuai/telnet-rtt/internal/transcript"
	"github.com/songwenshuai/telnet-rtt/internal/xcmd"
)

// scratchSize is the transfer buffer shared by both directions.
const scratchSize = 2048

// writableProbe bounds the per-iteration connection health check.
const writableProbe = 10 * time.Millisecond

// Config tunes the loop's polling behavior.
type Config struct {
	// IdleDelay bounds the accept probe and the threshold wait.
	IdleDelay time.Duration
	// SendThreshold is the up-ring fill level that cuts the threshold
	// wait short, batching small target writes into fewer probe reads
	// and TCP segments.
	SendThreshold uint32
	// PollInterval is the pause between up-ring fill queries during
	// the threshold wait.
	PollInterval time.Duration
	// LoopPause is the sleep at the end of every iteration.
	LoopPause time.Duration
	// ErrorPause is the back-off after a failed accept.
	ErrorPause time.Duration
}

// DefaultConfig returns the polling parameters used in production.
func DefaultConfig() *Config {
	return &Config{
		IdleDelay:     20 * time.Millisecond,
		SendThreshold: 512,
		PollInterval:  2 * time.Millisecond,
		LoopPause:     time.Millisecond,
		ErrorPause:    time.Second,
	}
}

// Loop is the bridge orchestrator. It is not safe for concurrent use;
// Run is the only executor.
type Loop struct {
	cfg    *Config
	engine *ring.Engine
	up     *ring.Ring
	down   *ring.Ring
	srv    *telnetd.Server
	rec    *transcript.Writer
	log    *zap.SugaredLogger

	scratch [scratchSize]byte
}

// New returns a Loop mirroring between the given rings and endpoint.
func New(cfg *Config, engine *ring.Engine, up, down *ring.Ring, srv *telnetd.Server, log *zap.SugaredLogger) *Loop {
	return &Loop{
		cfg:    cfg,
		engine: engine,
		up:     up,
		down:   down,
		srv:    srv,
		log:    log,
	}
}

// RecordTo mirrors forwarded traffic into the given transcript writer.
func (l *Loop) RecordTo(w *transcript.Writer) {
	l.rec = w
}

// Run drives the loop until the context is canceled or the probe link
// fails. Per-connection errors reset the session back to accepting; a
// ring engine error is fatal.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Infow("waiting for a connection", zap.Stringer("listen", l.srv.Addr()))

	var peer *telnetd.Peer
	defer func() {
		if peer != nil {
			peer.Close()
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if peer == nil {
			p, err := l.srv.Accept(l.cfg.IdleDelay)
			if errors.Is(err, telnetd.ErrAcceptTimeout) {
				continue
			}
			if err != nil {
				l.log.Warnw("failed to accept connection", zap.Error(err))
				if err := xcmd.Sleep(ctx, l.cfg.ErrorPause); err != nil {
					return err
				}
				continue
			}
			if !p.Ready() {
				l.log.Warn("accepted socket failed the readiness check")
				p.Close()
				if err := xcmd.Sleep(ctx, l.cfg.ErrorPause); err != nil {
					return err
				}
				continue
			}
			if err := p.Negotiate(); err != nil {
				l.log.Warnw("telnet negotiation failed", zap.Error(err))
				p.Close()
				continue
			}
			l.log.Infow("peer connected", zap.Stringer("peer", p.RemoteAddr()))
			peer = p
		} else {
			ok, err := peer.Writable(writableProbe)
			if err != nil {
				l.log.Infow("peer connection lost", zap.Error(err))
				peer.Close()
				peer = nil
				continue
			}
			if !ok {
				continue
			}
		}

		if err := l.waitThreshold(ctx); err != nil {
			return err
		}

		readable, err := peer.Readable(0)
		if err != nil {
			l.log.Infow("peer connection lost", zap.Error(err))
			peer.Close()
			peer = nil
			continue
		}
		if readable {
			n, rerr := peer.Recv(l.scratch[:])
			if n <= 0 {
				l.log.Infow("peer disconnected", zap.Error(rerr))
				peer.Close()
				peer = nil
				continue
			}
			written, err := l.engine.WriteDown(ctx, l.down, l.scratch[:n])
			if err != nil {
				return fmt.Errorf("failed to write down ring: %w", err)
			}
			if written < n {
				l.log.Debugw("down ring dropped input",
					zap.Int("received", n), zap.Int("written", written))
			}
			l.record(l.scratch[:written])
			l.dump("host -> target", l.scratch[:written])
		}

		n, err := l.engine.ReadUp(ctx, l.up, l.scratch[:])
		if err != nil {
			return fmt.Errorf("failed to read up ring: %w", err)
		}
		if n > 0 {
			sent, serr := peer.Send(l.scratch[:n])
			if sent > 0 {
				l.record(l.scratch[:sent])
				l.dump("target -> host", l.scratch[:sent])
			}
			if serr != nil || sent != n {
				l.log.Infow("peer disconnected on send",
					zap.Int("queued", n), zap.Int("sent", sent), zap.Error(serr))
				peer.Close()
				peer = nil
				continue
			}
		}

		if err := xcmd.Sleep(ctx, l.cfg.LoopPause); err != nil {
			return err
		}
	}
}

// waitThreshold polls the up-ring fill level until it reaches the send
// threshold or the idle-delay budget runs out.
func (l *Loop) waitThreshold(ctx context.Context) error {
	budget := l.cfg.IdleDelay
	for {
		used, err := l.engine.BytesInBuffer(ctx, l.up)
		if err != nil {
			return fmt.Errorf("failed to query up ring fill level: %w", err)
		}
		if used >= l.cfg.SendThreshold || budget <= 0 {
			return nil
		}
		if err := xcmd.Sleep(ctx, l.cfg.PollInterval); err != nil {
			return err
		}
		budget -= l.cfg.PollInterval
	}
}

func (l *Loop) record(p []byte) {
	if l.rec != nil && len(p) > 0 {
		l.rec.Record(p)
	}
}

func (l *Loop) dump(dir string, p []byte) {
	if len(p) > 0 && l.log.Level().Enabled(zap.DebugLevel) {
		l.log.Debugf("%s %d bytes\n%s", dir, len(p), hexdump.String(p))
	}
}
