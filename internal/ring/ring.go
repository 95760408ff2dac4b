// Package ring implements the transfer engine for SEGGER RTT ring
// buffers accessed through the target memory gateway.
//
// Each ring is a single-producer/single-consumer FIFO over a circular
// byte buffer of SizeOfBuffer bytes with an effective capacity of
// SizeOfBuffer-1. WrOff == RdOff means empty, WrOff == RdOff-1 (mod
// size) means full. For up rings the target produces and this side
// consumes (we own RdOff); for down rings the roles flip (we own WrOff
// and the data area). The opposing offset is re-read before every
// decision; there is no other synchronization across the probe.
package ring

import (
	"context"
	"time"

	"github.com/songwenshuai/telnet-rtt/internal/rttcb"
	"github.com/songwenshuai/telnet-rtt/internal/target"
	"github.com/songwenshuai/telnet-rtt/internal/xcmd"
)

// Mode is the write-full policy of a down ring.
type Mode uint32

const (
	// ModeSkip drops a chunk entirely when it does not fit.
	ModeSkip Mode = 0
	// ModeTrim writes as much of a chunk as fits.
	ModeTrim Mode = 1
	// ModeBlock waits for the target to drain the ring until the whole
	// chunk is written.
	ModeBlock Mode = 2

	// ModeMask extracts the mode from the descriptor flags.
	ModeMask = 0x3
)

// blockPollPause rate-limits block-mode passes so a full ring does not
// saturate the debugger link.
const blockPollPause = 2 * time.Millisecond

// Ring is an opened ring: a descriptor address plus the fields that are
// immutable after initialization. WrOff and RdOff are always read
// fresh.
type Ring struct {
	desc rttcb.Desc
	buf  uint32
	size uint32
	mode Mode
}

// Size returns the ring's buffer size in bytes.
func (r *Ring) Size() uint32 { return r.size }

// Mode returns the ring's write-full policy.
func (r *Ring) Mode() Mode { return r.mode }

// Engine moves bytes between local buffers and on-target rings.
type Engine struct {
	gw *target.Gateway
}

// NewEngine returns an Engine on top of the given gateway.
func NewEngine(gw *target.Gateway) *Engine {
	return &Engine{gw: gw}
}

// Open fetches the immutable fields of the descriptor at desc.
func (e *Engine) Open(ctx context.Context, desc rttcb.Desc) (*Ring, error) {
	buf, err := e.gw.ReadU32(ctx, desc.BufferAddr())
	if err != nil {
		return nil, err
	}
	size, err := e.gw.ReadU32(ctx, desc.SizeAddr())
	if err != nil {
		return nil, err
	}
	flags, err := e.gw.ReadU32(ctx, desc.FlagsAddr())
	if err != nil {
		return nil, err
	}
	return &Ring{desc: desc, buf: buf, size: size, mode: Mode(flags & ModeMask)}, nil
}

// BytesInBuffer returns the fill level of an up ring. The wrapped case
// keeps the arithmetic of the original transfer code, which can
// overestimate; callers only compare the result against the send
// threshold.
func (e *Engine) BytesInBuffer(ctx context.Context, r *Ring) (uint32, error) {
	if r.size == 0 {
		return 0, nil
	}
	rd, err := e.gw.ReadU32(ctx, r.desc.RdOffAddr())
	if err != nil {
		return 0, err
	}
	wr, err := e.gw.ReadU32(ctx, r.desc.WrOffAddr())
	if err != nil {
		return 0, err
	}
	if rd <= wr {
		return wr - rd, nil
	}
	return r.size - (wr - rd), nil
}

// AvailWriteSpace returns the number of bytes a down ring can accept
// without blocking.
func (e *Engine) AvailWriteSpace(ctx context.Context, r *Ring) (uint32, error) {
	if r.size == 0 {
		return 0, nil
	}
	rd, err := e.gw.ReadU32(ctx, r.desc.RdOffAddr())
	if err != nil {
		return 0, err
	}
	wr, err := e.gw.ReadU32(ctx, r.desc.WrOffAddr())
	if err != nil {
		return 0, err
	}
	if rd <= wr {
		return r.size - 1 - wr + rd, nil
	}
	return rd - wr - 1, nil
}

// ReadUp drains an up ring into buf, handling wrap-around, and advances
// RdOff when anything was read. Returns the number of bytes copied.
func (e *Engine) ReadUp(ctx context.Context, r *Ring, buf []byte) (int, error) {
	if r.size == 0 || len(buf) == 0 {
		return 0, nil
	}
	rd, err := e.gw.ReadU32(ctx, r.desc.RdOffAddr())
	if err != nil {
		return 0, err
	}
	wr, err := e.gw.ReadU32(ctx, r.desc.WrOffAddr())
	if err != nil {
		return 0, err
	}

	n := 0
	space := len(buf)

	// Read from the current position to the wrap-around first.
	if rd > wr {
		chunk := int(r.size - rd)
		if chunk > space {
			chunk = space
		}
		data, err := e.gw.ReadBytes(ctx, r.buf+rd, chunk)
		if err != nil {
			return 0, err
		}
		copy(buf[n:], data)
		n += chunk
		space -= chunk
		rd += uint32(chunk)
		if rd == r.size {
			rd = 0
		}
	}

	// Then the remainder below the write offset.
	if wr > rd && space > 0 {
		chunk := int(wr - rd)
		if chunk > space {
			chunk = space
		}
		data, err := e.gw.ReadBytes(ctx, r.buf+rd, chunk)
		if err != nil {
			return 0, err
		}
		copy(buf[n:], data)
		n += chunk
		rd += uint32(chunk)
	}

	if n > 0 {
		if err := e.gw.WriteU32(ctx, r.desc.RdOffAddr(), rd); err != nil {
			return 0, err
		}
	}
	return n, nil
}

// WriteDown stores data into a down ring according to its write-full
// policy and returns the number of bytes accepted.
func (e *Engine) WriteDown(ctx context.Context, r *Ring, data []byte) (int, error) {
	if r.size == 0 || len(data) == 0 {
		return 0, nil
	}
	switch r.mode {
	case ModeSkip:
		avail, err := e.AvailWriteSpace(ctx, r)
		if err != nil {
			return 0, err
		}
		if avail < uint32(len(data)) {
			return 0, nil
		}
		if err := e.writeNoCheck(ctx, r, data); err != nil {
			return 0, err
		}
		return len(data), nil
	case ModeTrim:
		avail, err := e.AvailWriteSpace(ctx, r)
		if err != nil {
			return 0, err
		}
		n := len(data)
		if avail < uint32(n) {
			n = int(avail)
		}
		if n == 0 {
			return 0, nil
		}
		if err := e.writeNoCheck(ctx, r, data[:n]); err != nil {
			return 0, err
		}
		return n, nil
	case ModeBlock:
		return e.writeBlocking(ctx, r, data)
	default:
		return 0, nil
	}
}

// writeNoCheck copies data into the ring without a free-space check and
// advances WrOff. The caller has already established that data fits.
func (e *Engine) writeNoCheck(ctx context.Context, r *Ring, data []byte) error {
	wr, err := e.gw.ReadU32(ctx, r.desc.WrOffAddr())
	if err != nil {
		return err
	}
	rem := r.size - wr
	if rem > uint32(len(data)) {
		// All data fits before the wrap-around.
		if err := e.gw.WriteBytes(ctx, r.buf+wr, data); err != nil {
			return err
		}
		return e.gw.WriteU32(ctx, r.desc.WrOffAddr(), wr+uint32(len(data)))
	}
	// Split the copy at the end of the buffer.
	if err := e.gw.WriteBytes(ctx, r.buf+wr, data[:rem]); err != nil {
		return err
	}
	if len(data[rem:]) > 0 {
		if err := e.gw.WriteBytes(ctx, r.buf, data[rem:]); err != nil {
			return err
		}
	}
	return e.gw.WriteU32(ctx, r.desc.WrOffAddr(), uint32(len(data))-rem)
}

// writeBlocking writes all of data, waiting for the target to drain the
// ring as needed. RdOff is re-read on every pass; WrOff is held locally
// since nobody else moves it. A shutdown between passes leaves the
// target with a prefix of data; there is no rollback.
func (e *Engine) writeBlocking(ctx context.Context, r *Ring, data []byte) (int, error) {
	wr, err := e.gw.ReadU32(ctx, r.desc.WrOffAddr())
	if err != nil {
		return 0, err
	}

	written := 0
	for written < len(data) {
		rd, err := e.gw.ReadU32(ctx, r.desc.RdOffAddr())
		if err != nil {
			return written, err
		}

		var can uint32
		if rd > wr {
			can = rd - wr - 1
		} else {
			can = r.size - (wr - rd + 1)
		}
		if contig := r.size - wr; can > contig {
			can = contig
		}
		if rem := uint32(len(data) - written); can > rem {
			can = rem
		}
		if can == 0 {
			if err := xcmd.Sleep(ctx, blockPollPause); err != nil {
				return written, err
			}
			continue
		}

		if err := e.gw.WriteBytes(ctx, r.buf+wr, data[written:written+int(can)]); err != nil {
			return written, err
		}
		written += int(can)
		wr += can
		if wr == r.size {
			wr = 0
		}
		if err := e.gw.WriteU32(ctx, r.desc.WrOffAddr(), wr); err != nil {
			return written, err
		}
	}
	return written, nil
}
