// Package t32 coordinates the debugger: it configures and attaches the
// remote API link, brings the target into a known run state, optionally
// runs a PRACTICE script, and resolves the RTT control block address.
package t32

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/songwenshuai/telnet-rtt/internal/probe"
	"github.com/songwenshuai/telnet-rtt/internal/target"
	"github.com/songwenshuai/telnet-rtt/internal/xcmd"
)

// rttSymbol is the linker symbol of the RTT control block.
const rttSymbol = "_SEGGER_RTT"

// scriptPollPause is the delay between PRACTICE state polls while a
// script is running.
const scriptPollPause = 2 * time.Second

// Config describes the debugger connection.
type Config struct {
	// Node is the host running the TRACE32 instance.
	Node string
	// Port is the remote API (RCL) port on the node.
	Port string
	// PackLen optionally caps the UDP packet length; it must match the
	// debugger-side configuration.
	PackLen string
	// Script is an optional PRACTICE script to run after attaching.
	Script string
}

// Coordinator drives the debugger through the probe client.
type Coordinator struct {
	cfg       *Config
	client    probe.Client
	pollPause time.Duration
	log       *zap.SugaredLogger
}

// NewCoordinator returns a Coordinator for the given connection.
func NewCoordinator(cfg *Config, client probe.Client, log *zap.SugaredLogger) *Coordinator {
	return &Coordinator{cfg: cfg, client: client, pollPause: scriptPollPause, log: log}
}

// Setup initializes the link, normalizes the target state, runs the
// configured script if any, and resolves the RTT control block. It
// returns the control block's base address.
//
// With a script the CPU is stopped first so the script owns the run
// state; without one the CPU is set running so the firmware can produce
// RTT data right away.
func (c *Coordinator) Setup(ctx context.Context) (uint32, error) {
	if err := c.configure(); err != nil {
		return 0, err
	}

	if err := c.client.Init(); err != nil {
		return 0, fmt.Errorf("failed to initialize remote API: %w", err)
	}
	if err := c.client.Attach(probe.DeviceICD); err != nil {
		return 0, fmt.Errorf("failed to attach to debugger: %w", err)
	}

	if c.cfg.Script != "" {
		if err := c.breakIfRunning(ctx); err != nil {
			return 0, err
		}
	} else {
		if err := c.goIfStopped(ctx); err != nil {
			return 0, err
		}
	}

	if err := c.client.Nop(); err != nil {
		return 0, fmt.Errorf("failed to issue nop: %w", err)
	}
	if err := c.client.Ping(); err != nil {
		return 0, fmt.Errorf("failed to ping debugger: %w", err)
	}

	if c.cfg.Script != "" {
		if err := c.runScript(ctx); err != nil {
			return 0, err
		}
	}

	sym, err := c.client.GetSymbol(rttSymbol)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve %s: %w", rttSymbol, err)
	}
	c.log.Infow("resolved RTT control block",
		zap.String("symbol", rttSymbol),
		zap.Uint32("address", sym.Address),
		zap.Uint32("size", sym.Size))
	return sym.Address, nil
}

// Shutdown returns the target to a canonical state and closes the
// remote API. Failures are logged but never block the exit path.
func (c *Coordinator) Shutdown(ctx context.Context) {
	state, err := c.scriptState(ctx)
	if err != nil {
		c.log.Warnw("failed to query script state on shutdown", zap.Error(err))
	} else if state == probe.ScriptStateRunning {
		c.log.Info("stopping running script")
		if err := c.client.Stop(); err != nil {
			c.log.Warnw("failed to stop script", zap.Error(err))
		}
	}

	cpu, err := c.cpuState(ctx)
	if err != nil {
		c.log.Warnw("failed to query CPU state on shutdown", zap.Error(err))
	} else if cpu == probe.CPUStateRunning {
		c.log.Info("breaking running CPU")
		if err := c.client.Break(); err != nil {
			c.log.Warnw("failed to break CPU", zap.Error(err))
		}
	}

	if err := c.client.Exit(); err != nil {
		c.log.Warnw("failed to close remote API", zap.Error(err))
	}
}

func (c *Coordinator) configure() error {
	pairs := [][2]string{
		{"NODE=", c.cfg.Node},
		{"PORT=", c.cfg.Port},
	}
	if c.cfg.PackLen != "" {
		pairs = append(pairs, [2]string{"PACKLEN=", c.cfg.PackLen})
	}
	for _, kv := range pairs {
		c.log.Debugw("setting transport parameter",
			zap.String("key", kv[0]), zap.String("value", kv[1]))
		if err := c.client.Config(kv[0], kv[1]); err != nil {
			return fmt.Errorf("failed to set %s%s: %w", kv[0], kv[1], err)
		}
	}
	return nil
}

// cpuState queries the CPU run state with the transport retry policy.
func (c *Coordinator) cpuState(ctx context.Context) (probe.CPUState, error) {
	var state probe.CPUState
	err := target.Retry(ctx, func() error {
		var err error
		state, err = c.client.GetState()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to query CPU state: %w", err)
	}
	return state, nil
}

// scriptState queries the PRACTICE engine state with the transport
// retry policy.
func (c *Coordinator) scriptState(ctx context.Context) (probe.ScriptState, error) {
	var state probe.ScriptState
	err := target.Retry(ctx, func() error {
		var err error
		state, err = c.client.GetPracticeState()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to query script state: %w", err)
	}
	return state, nil
}

func (c *Coordinator) breakIfRunning(ctx context.Context) error {
	state, err := c.cpuState(ctx)
	if err != nil {
		return err
	}
	if state == probe.CPUStateRunning {
		c.log.Info("CPU running, breaking")
		if err := c.client.Break(); err != nil {
			return fmt.Errorf("failed to break CPU: %w", err)
		}
	}
	return nil
}

func (c *Coordinator) goIfStopped(ctx context.Context) error {
	state, err := c.cpuState(ctx)
	if err != nil {
		return err
	}
	if state == probe.CPUStateStopped {
		c.log.Info("CPU stopped, resuming")
		if err := c.client.Go(); err != nil {
			return fmt.Errorf("failed to resume CPU: %w", err)
		}
	}
	return nil
}

// runScript asks the debugger to execute the configured PRACTICE
// script and waits for the script engine to come back to done. The
// script path is always passed as an absolute path; the debugger
// resolves relative paths against its own working directory, not ours.
func (c *Coordinator) runScript(ctx context.Context) error {
	path, err := filepath.Abs(c.cfg.Script)
	if err != nil {
		path = c.cfg.Script
	}

	if err := c.client.Cmd(`DO "%s"`, path); err != nil {
		return fmt.Errorf("failed to run script %q: %w", path, err)
	}
	c.log.Infow("running script remotely, this may take a while", zap.String("script", path))

	for {
		state, err := c.scriptState(ctx)
		if err != nil {
			return err
		}
		switch state {
		case probe.ScriptStateDone:
			c.log.Info("script done")
			return nil
		case probe.ScriptStateRunning:
			c.log.Debug("script still running")
			if err := xcmd.Sleep(ctx, c.pollPause); err != nil {
				return err
			}
		case probe.ScriptStateDialog:
			return fmt.Errorf("debugger is in dialog mode and waits for operator input")
		default:
			return fmt.Errorf("unknown script engine state %d", state)
		}
	}
}
