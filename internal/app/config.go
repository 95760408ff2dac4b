package app

import (
	"fmt"
	"strconv"
)

// maxPackLen is the largest UDP package length the debugger accepts.
const maxPackLen = 1024

// Config is the bridge configuration assembled from the command line.
type Config struct {
	// Node is the host running the TRACE32 instance.
	Node string
	// TracePort is the TRACE32 remote API port.
	TracePort string
	// ListenPort is the local TCP port to serve Telnet on.
	ListenPort string
	// PackLen optionally caps the UDP package length.
	PackLen string
	// Script is an optional PRACTICE script to run after attaching.
	Script string
	// Record is an optional transcript file path.
	Record string

	lport uint16
}

// Validate checks required options and parses the ports.
func (c *Config) Validate() error {
	if c.Node == "" {
		return fmt.Errorf("the --node option is required")
	}
	if c.TracePort == "" {
		return fmt.Errorf("the --tport option is required")
	}
	if _, err := strconv.ParseUint(c.TracePort, 10, 16); err != nil {
		return fmt.Errorf("invalid --tport %q: %w", c.TracePort, err)
	}
	if c.ListenPort == "" {
		return fmt.Errorf("the --lport option is required")
	}
	lport, err := strconv.ParseUint(c.ListenPort, 10, 16)
	if err != nil {
		return fmt.Errorf("invalid --lport %q: %w", c.ListenPort, err)
	}
	c.lport = uint16(lport)

	if c.PackLen != "" {
		n, err := strconv.Atoi(c.PackLen)
		if err != nil {
			return fmt.Errorf("invalid --packlen %q: %w", c.PackLen, err)
		}
		if n <= 0 || n > maxPackLen {
			return fmt.Errorf("--packlen must be between 1 and %d, got %d", maxPackLen, n)
		}
	}
	return nil
}
