package probetest

import (
	"github.com/songwenshuai/telnet-rtt/internal/probe"
	"github.com/songwenshuai/telnet-rtt/internal/rttcb"
)

// RingConfig describes one ring of a test control block.
type RingConfig struct {
	Size  uint32
	Flags uint32
}

// ControlBlock is a SEGGER RTT control block laid out in fake target
// memory, with channel 0 populated. The Target* methods act as the
// firmware side of the rings and bypass the probe interface entirely.
type ControlBlock struct {
	c    *Client
	Base uint32

	Up   rttcb.Desc
	Down rttcb.Desc

	upBuf    uint32
	downBuf  uint32
	upSize   uint32
	downSize uint32
}

// NewControlBlock builds a control block at base with maxUp up rings
// and maxDown down rings, populates channel 0 with the given ring
// configurations, and registers the _SEGGER_RTT symbol.
func NewControlBlock(c *Client, base uint32, maxUp, maxDown uint32, up, down RingConfig) *ControlBlock {
	cb := &ControlBlock{
		c:        c,
		Base:     base,
		Up:       rttcb.UpDesc(base, 0),
		Down:     rttcb.DownDesc(base, maxUp, 0),
		upSize:   up.Size,
		downSize: down.Size,
	}

	// Data areas and channel names follow the descriptor arrays.
	end := base + 0x18 + rttcb.DescSize*(maxUp+maxDown)
	nameAddr := end
	cb.upBuf = end + 0x20
	cb.downBuf = cb.upBuf + up.Size

	acid := make([]byte, rttcb.ACIDLen)
	copy(acid, rttcb.Signature)
	c.SetMemory(rttcb.ACIDAddr(base), acid)
	c.SetU32(rttcb.MaxNumUpAddr(base), maxUp)
	c.SetU32(rttcb.MaxNumDownAddr(base), maxDown)
	c.SetMemory(nameAddr, append([]byte("Terminal"), 0))

	c.SetU32(cb.Up.NameAddr(), nameAddr)
	c.SetU32(cb.Up.BufferAddr(), cb.upBuf)
	c.SetU32(cb.Up.SizeAddr(), up.Size)
	c.SetU32(cb.Up.WrOffAddr(), 0)
	c.SetU32(cb.Up.RdOffAddr(), 0)
	c.SetU32(cb.Up.FlagsAddr(), up.Flags)

	c.SetU32(cb.Down.NameAddr(), nameAddr)
	c.SetU32(cb.Down.BufferAddr(), cb.downBuf)
	c.SetU32(cb.Down.SizeAddr(), down.Size)
	c.SetU32(cb.Down.WrOffAddr(), 0)
	c.SetU32(cb.Down.RdOffAddr(), 0)
	c.SetU32(cb.Down.FlagsAddr(), down.Flags)

	c.SetSymbol("_SEGGER_RTT", probe.Symbol{Address: base, Size: end - base})

	return cb
}

// SetUpOffsets places the up ring's write and read offsets.
func (cb *ControlBlock) SetUpOffsets(wr, rd uint32) {
	cb.c.SetU32(cb.Up.WrOffAddr(), wr)
	cb.c.SetU32(cb.Up.RdOffAddr(), rd)
}

// SetDownOffsets places the down ring's write and read offsets.
func (cb *ControlBlock) SetDownOffsets(wr, rd uint32) {
	cb.c.SetU32(cb.Down.WrOffAddr(), wr)
	cb.c.SetU32(cb.Down.RdOffAddr(), rd)
}

// UpOffsets returns the up ring's write and read offsets.
func (cb *ControlBlock) UpOffsets() (wr, rd uint32) {
	return cb.c.U32(cb.Up.WrOffAddr()), cb.c.U32(cb.Up.RdOffAddr())
}

// DownOffsets returns the down ring's write and read offsets.
func (cb *ControlBlock) DownOffsets() (wr, rd uint32) {
	return cb.c.U32(cb.Down.WrOffAddr()), cb.c.U32(cb.Down.RdOffAddr())
}

// UpData returns the raw backing store of the up ring.
func (cb *ControlBlock) UpData() []byte {
	return cb.c.Memory(cb.upBuf, int(cb.upSize))
}

// SetUpData places bytes into the up ring's backing store at off.
func (cb *ControlBlock) SetUpData(off uint32, data []byte) {
	cb.c.SetMemory(cb.upBuf+off, data)
}

// DownData returns the raw backing store of the down ring.
func (cb *ControlBlock) DownData() []byte {
	return cb.c.Memory(cb.downBuf, int(cb.downSize))
}

// TargetWriteUp produces data into the up ring the way the firmware
// would: data area first, then WrOff. Returns the number of bytes that
// fit.
func (cb *ControlBlock) TargetWriteUp(data []byte) int {
	wr, rd := cb.UpOffsets()
	n := 0
	for _, b := range data {
		next := (wr + 1) % cb.upSize
		if next == rd {
			break
		}
		cb.c.SetMemory(cb.upBuf+wr, []byte{b})
		wr = next
		n++
	}
	cb.c.SetU32(cb.Up.WrOffAddr(), wr)
	return n
}

// TargetReadDown consumes up to max bytes from the down ring the way
// the firmware would, advancing RdOff.
func (cb *ControlBlock) TargetReadDown(max int) []byte {
	wr, rd := cb.DownOffsets()
	var out []byte
	for rd != wr && len(out) < max {
		out = append(out, cb.c.Memory(cb.downBuf+rd, 1)[0])
		rd = (rd + 1) % cb.downSize
	}
	cb.c.SetU32(cb.Down.RdOffAddr(), rd)
	return out
}

// TargetLoopback moves every pending down-ring byte into the up ring,
// emulating an echo firmware. Returns the number of bytes moved.
func (cb *ControlBlock) TargetLoopback() int {
	data := cb.TargetReadDown(int(cb.downSize))
	if len(data) == 0 {
		return 0
	}
	return cb.TargetWriteUp(data)
}
