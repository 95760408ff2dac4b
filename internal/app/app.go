// Package app wires the bridge together: debugger coordination, ring
// engine, Telnet endpoint and the mirror loop.
package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/songwenshuai/telnet-rtt/internal/mirror"
	"github.com/songwenshuai/telnet-rtt/internal/probe"
	"github.com/songwenshuai/telnet-rtt/internal/ring"
	"github.com/songwenshuai/telnet-rtt/internal/rttcb"
	"github.com/songwenshuai/telnet-rtt/internal/t32"
	"github.com/songwenshuai/telnet-rtt/internal/target"
	"github.com/songwenshuai/telnet-rtt/internal/telnetd"
	"github.com/songwenshuai/telnet-rtt/internal/transcript"
)

// terminalChannel is the RTT channel mirrored by the bridge. Channel 0
// is always present and reserved for Terminal traffic.
const terminalChannel = 0

// App is the assembled bridge.
type App struct {
	cfg    *Config
	client probe.Client
	log    *zap.SugaredLogger
}

// New returns an App for a validated configuration.
func New(cfg *Config, client probe.Client, log *zap.SugaredLogger) *App {
	return &App{cfg: cfg, client: client, log: log}
}

// Run brings the debugger up and mirrors RTT traffic until the context
// is canceled or a fatal error occurs. Fatal errors are mirrored into
// the transcript when one is configured.
func (a *App) Run(ctx context.Context) error {
	var rec *transcript.Writer
	if a.cfg.Record != "" {
		rec = transcript.NewWriter(a.cfg.Record, a.log)
		defer rec.Close()
	}

	err := a.run(ctx, rec)
	if err != nil && ctx.Err() == nil && rec != nil {
		rec.Record([]byte(fmt.Sprintf("ERROR: %v\n", err)))
	}
	return err
}

func (a *App) run(ctx context.Context, rec *transcript.Writer) error {
	coord := t32.NewCoordinator(&t32.Config{
		Node:    a.cfg.Node,
		Port:    a.cfg.TracePort,
		PackLen: a.cfg.PackLen,
		Script:  a.cfg.Script,
	}, a.client, a.log)

	base, err := coord.Setup(ctx)
	if err != nil {
		return err
	}
	// The shutdown path must run even when the context is already
	// canceled; it is what returns the target to a known state.
	defer coord.Shutdown(context.WithoutCancel(ctx))

	gw := target.NewGateway(a.client)

	acid, err := gw.ReadCString(ctx, rttcb.ACIDAddr(base), rttcb.ACIDLen)
	if err != nil {
		return fmt.Errorf("failed to read control block signature: %w", err)
	}
	if !strings.HasPrefix(string(acid), rttcb.Signature) {
		a.log.Warnw("unexpected control block signature", zap.ByteString("acid", acid))
	}
	if a.log.Level().Enabled(zap.DebugLevel) {
		if snap, err := rttcb.Dump(ctx, gw, base); err == nil {
			a.log.Debugf("control block at 0x%08X:\n%s", base, snap)
		}
	}

	maxUp, err := gw.ReadU32(ctx, rttcb.MaxNumUpAddr(base))
	if err != nil {
		return fmt.Errorf("failed to read up-buffer count: %w", err)
	}
	maxDown, err := gw.ReadU32(ctx, rttcb.MaxNumDownAddr(base))
	if err != nil {
		return fmt.Errorf("failed to read down-buffer count: %w", err)
	}
	if maxUp <= terminalChannel || maxDown <= terminalChannel {
		return fmt.Errorf("control block has no terminal channel (%d up, %d down buffers)", maxUp, maxDown)
	}

	engine := ring.NewEngine(gw)
	up, err := engine.Open(ctx, rttcb.UpDesc(base, terminalChannel))
	if err != nil {
		return fmt.Errorf("failed to open up ring: %w", err)
	}
	down, err := engine.Open(ctx, rttcb.DownDesc(base, maxUp, terminalChannel))
	if err != nil {
		return fmt.Errorf("failed to open down ring: %w", err)
	}
	a.log.Infow("terminal channel ready",
		zap.Uint32("up_size", up.Size()),
		zap.Uint32("down_size", down.Size()),
		zap.Uint32("down_mode", uint32(down.Mode())))

	srv, err := telnetd.Listen(a.cfg.lport, a.log)
	if err != nil {
		return err
	}
	defer srv.Close()

	loop := mirror.New(mirror.DefaultConfig(), engine, up, down, srv, a.log)
	if rec != nil {
		loop.RecordTo(rec)
	}
	return loop.Run(ctx)
}
