package rttcb

import (
	"context"
	"fmt"
	"strings"
)

// MemoryReader is the slice of the target gateway the dump needs.
type MemoryReader interface {
	ReadU32(ctx context.Context, addr uint32) (uint32, error)
	ReadCString(ctx context.Context, addr uint32, maxLen int) ([]byte, error)
}

// Dump renders a human-readable snapshot of the control block at base,
// including every up and down descriptor and the channel names behind
// them. Diagnostics only; it does not touch any offsets.
func Dump(ctx context.Context, gw MemoryReader, base uint32) (string, error) {
	var b strings.Builder

	acid, err := gw.ReadCString(ctx, ACIDAddr(base), ACIDLen)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&b, "acID              = %q\n", acid)

	maxUp, err := gw.ReadU32(ctx, MaxNumUpAddr(base))
	if err != nil {
		return "", err
	}
	maxDown, err := gw.ReadU32(ctx, MaxNumDownAddr(base))
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&b, "MaxNumUpBuffers   = %d\n", maxUp)
	fmt.Fprintf(&b, "MaxNumDownBuffers = %d\n", maxDown)

	for i := uint32(0); i < maxUp; i++ {
		if err := dumpDesc(ctx, gw, &b, fmt.Sprintf("aUp[%d]", i), UpDesc(base, i)); err != nil {
			return "", err
		}
	}
	for i := uint32(0); i < maxDown; i++ {
		if err := dumpDesc(ctx, gw, &b, fmt.Sprintf("aDown[%d]", i), DownDesc(base, maxUp, i)); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

func dumpDesc(ctx context.Context, gw MemoryReader, b *strings.Builder, label string, d Desc) error {
	nameAddr, err := gw.ReadU32(ctx, d.NameAddr())
	if err != nil {
		return err
	}
	if nameAddr != 0 {
		name, err := gw.ReadCString(ctx, nameAddr, 32)
		if err != nil {
			return err
		}
		fmt.Fprintf(b, "%s.sName        = %q (0x%08X)\n", label, name, nameAddr)
	}
	for _, f := range []struct {
		name string
		addr uint32
		hex  bool
	}{
		{"pBuffer", d.BufferAddr(), true},
		{"SizeOfBuffer", d.SizeAddr(), false},
		{"WrOff", d.WrOffAddr(), false},
		{"RdOff", d.RdOffAddr(), false},
		{"Flags", d.FlagsAddr(), false},
	} {
		v, err := gw.ReadU32(ctx, f.addr)
		if err != nil {
			return err
		}
		if f.hex {
			fmt.Fprintf(b, "%s.%-12s = 0x%08X\n", label, f.name, v)
		} else {
			fmt.Fprintf(b, "%s.%-12s = %d\n", label, f.name, v)
		}
	}
	return nil
}
