package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/songwenshuai/telnet-rtt/internal/app"
	"github.com/songwenshuai/telnet-rtt/internal/logging"
	"github.com/songwenshuai/telnet-rtt/internal/probe/t32api"
	"github.com/songwenshuai/telnet-rtt/internal/version"
	"github.com/songwenshuai/telnet-rtt/internal/xcmd"
)

var cmdArgs struct {
	node    string
	tport   string
	lport   string
	packlen string
	cmm     string
	record  string
}

var rootCmd = &cobra.Command{
	Use:   "telnet-rtt",
	Short: "Bridge a SEGGER RTT terminal channel to a local Telnet port",
	Long: `telnet-rtt mirrors RTT channel 0 of a target attached to a TRACE32
debugger: up-buffer output is served to a local Telnet client and
client input is fed into the down buffer, giving an interactive
terminal session with the firmware.`,
	Version:      version.Version(),
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&cmdArgs.node, "node", "n", "", "host running the TRACE32 instance (required)")
	flags.StringVarP(&cmdArgs.tport, "tport", "t", "", "TRACE32 remote API port; must match the RCL settings in config.t32 (required)")
	flags.StringVarP(&cmdArgs.lport, "lport", "l", "", "local TCP port to serve Telnet on (required)")
	flags.StringVarP(&cmdArgs.packlen, "packlen", "k", "", "maximum UDP data package length, at most 1024; no effect for TCP")
	flags.StringVarP(&cmdArgs.cmm, "cmm", "c", "", "PRACTICE script to run after attaching")
	flags.StringVarP(&cmdArgs.record, "record", "r", "", "record the session transcript to this file")
}

func run(cmd *cobra.Command, args []string) error {
	cfg := &app.Config{
		Node:       cmdArgs.node,
		TracePort:  cmdArgs.tport,
		ListenPort: cmdArgs.lport,
		PackLen:    cmdArgs.packlen,
		Script:     cmdArgs.cmm,
		Record:     cmdArgs.record,
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, _, err := logging.Init(&logging.Config{Level: zapcore.InfoLevel})
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Infow("starting", zap.String("name", "telnet-rtt"), zap.String("version", version.Version()))

	client, err := t32api.Connect()
	if err != nil {
		return err
	}

	a := app.New(cfg, client, log)

	wg, ctx := errgroup.WithContext(context.Background())
	wg.Go(func() error {
		return xcmd.WaitInterrupted(ctx)
	})
	wg.Go(func() error {
		return a.Run(ctx)
	})

	err = wg.Wait()
	var interrupted xcmd.Interrupted
	if errors.As(err, &interrupted) {
		log.Infof("terminated by signal: %s", interrupted.Signal)
	}
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var interrupted xcmd.Interrupted
		if errors.As(err, &interrupted) {
			os.Exit(interrupted.ExitCode())
		}
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}
