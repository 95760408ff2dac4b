// Package target provides byte- and word-granular access to target
// memory over the debugger remote API, with a retry policy for
// transient transport failures.
package target

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/songwenshuai/telnet-rtt/internal/probe"
)

const (
	retryCount = 8
	retryPause = 5 * time.Millisecond
)

// Retry runs fn, retrying transport failures with a short constant pause
// for at most 8 attempts in all. Any other failure surfaces immediately. The same
// policy covers memory access and debugger state queries.
func Retry(ctx context.Context, fn func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := fn(); err != nil {
			if probe.IsTransport(err) {
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(retryPause)),
		backoff.WithMaxTries(retryCount),
	)
	return err
}

// Gateway reads and writes target memory through a probe client. All
// word accesses are 32-bit little-endian in the E: memory space.
type Gateway struct {
	client probe.Client
}

// NewGateway returns a Gateway on top of the given probe client.
func NewGateway(client probe.Client) *Gateway {
	return &Gateway{client: client}
}

// ReadBytes reads n bytes of target memory at addr.
func (g *Gateway) ReadBytes(ctx context.Context, addr uint32, n int) ([]byte, error) {
	buf := make([]byte, n)
	err := Retry(ctx, func() error {
		return g.client.ReadMemory(addr, probe.SpaceE, buf)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %d bytes at 0x%08X: %w", n, addr, err)
	}
	return buf, nil
}

// WriteBytes writes data to target memory at addr.
func (g *Gateway) WriteBytes(ctx context.Context, addr uint32, data []byte) error {
	err := Retry(ctx, func() error {
		return g.client.WriteMemory(addr, probe.SpaceE, data)
	})
	if err != nil {
		return fmt.Errorf("failed to write %d bytes at 0x%08X: %w", len(data), addr, err)
	}
	return nil
}

// ReadU32 reads a 32-bit word at addr.
func (g *Gateway) ReadU32(ctx context.Context, addr uint32) (uint32, error) {
	buf, err := g.ReadBytes(ctx, addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// WriteU32 writes a 32-bit word at addr.
func (g *Gateway) WriteU32(ctx context.Context, addr uint32, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return g.WriteBytes(ctx, addr, buf[:])
}

// ReadU8 reads one byte at addr.
func (g *Gateway) ReadU8(ctx context.Context, addr uint32) (byte, error) {
	buf, err := g.ReadBytes(ctx, addr, 1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

// WriteU8 writes one byte at addr.
func (g *Gateway) WriteU8(ctx context.Context, addr uint32, v byte) error {
	return g.WriteBytes(ctx, addr, []byte{v})
}

// ReadCString reads a NUL-terminated string at addr, one byte at a
// time, up to maxLen bytes. The terminator is not included.
func (g *Gateway) ReadCString(ctx context.Context, addr uint32, maxLen int) ([]byte, error) {
	var out []byte
	for len(out) < maxLen {
		b, err := g.ReadU8(ctx, addr+uint32(len(out)))
		if err != nil {
			return nil, err
		}
		if b == 0 {
			break
		}
		out = append(out, b)
	}
	return out, nil
}
