// Package rttcb models the on-target layout of the SEGGER RTT control
// block. It is pure address arithmetic; all I/O happens in the callers.
//
// The control block starts with a 16-byte ASCII signature, followed by
// the up- and down-descriptor counts and the two descriptor arrays:
//
//	0x00  acID[16]
//	0x10  MaxNumUpBuffers
//	0x14  MaxNumDownBuffers
//	0x18  aUp[MaxNumUpBuffers]
//	0x18 + 24*MaxNumUpBuffers  aDown[MaxNumDownBuffers]
package rttcb

// ACIDLen is the size of the signature field.
const ACIDLen = 16

// DescSize is the size of one ring descriptor.
const DescSize = 24

const (
	offACID        = 0x00
	offMaxNumUp    = 0x10
	offMaxNumDown  = 0x14
	offDescriptors = 0x18
)

// Signature is the expected prefix of the acID field.
const Signature = "SEGGER RTT"

// ACIDAddr returns the address of the signature field.
func ACIDAddr(base uint32) uint32 {
	return base + offACID
}

// MaxNumUpAddr returns the address of the MaxNumUpBuffers field.
func MaxNumUpAddr(base uint32) uint32 {
	return base + offMaxNumUp
}

// MaxNumDownAddr returns the address of the MaxNumDownBuffers field.
func MaxNumDownAddr(base uint32) uint32 {
	return base + offMaxNumDown
}

// UpDesc returns the descriptor of up ring i.
func UpDesc(base uint32, i uint32) Desc {
	return Desc(base + offDescriptors + DescSize*i)
}

// DownDesc returns the descriptor of down ring i. maxUp is the
// MaxNumUpBuffers value read from the control block.
func DownDesc(base uint32, maxUp uint32, i uint32) Desc {
	return Desc(base + offDescriptors + DescSize*maxUp + DescSize*i)
}

// Desc is the target address of one ring descriptor. Fields live at
// fixed offsets in the order sName, pBuffer, SizeOfBuffer, WrOff,
// RdOff, Flags.
type Desc uint32

func (d Desc) NameAddr() uint32   { return uint32(d) + 0 }
func (d Desc) BufferAddr() uint32 { return uint32(d) + 4 }
func (d Desc) SizeAddr() uint32   { return uint32(d) + 8 }
func (d Desc) WrOffAddr() uint32  { return uint32(d) + 12 }
func (d Desc) RdOffAddr() uint32  { return uint32(d) + 16 }
func (d Desc) FlagsAddr() uint32  { return uint32(d) + 20 }
