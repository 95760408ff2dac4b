package ring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songwenshuai/telnet-rtt/internal/probe/probetest"
	"github.com/songwenshuai/telnet-rtt/internal/target"
)

const testBase = 0x20000000

func newTestRig(t *testing.T, up, down probetest.RingConfig) (*probetest.Client, *probetest.ControlBlock, *Engine, *Ring, *Ring) {
	t.Helper()

	client := probetest.New()
	cb := probetest.NewControlBlock(client, testBase, 3, 3, up, down)
	engine := NewEngine(target.NewGateway(client))

	upRing, err := engine.Open(context.Background(), cb.Up)
	require.NoError(t, err)
	downRing, err := engine.Open(context.Background(), cb.Down)
	require.NoError(t, err)

	return client, cb, engine, upRing, downRing
}

func TestOpenCachesDescriptor(t *testing.T) {
	_, _, _, upRing, downRing := newTestRig(t,
		probetest.RingConfig{Size: 16},
		probetest.RingConfig{Size: 8, Flags: 2},
	)

	assert.Equal(t, uint32(16), upRing.Size())
	assert.Equal(t, ModeSkip, upRing.Mode())
	assert.Equal(t, uint32(8), downRing.Size())
	assert.Equal(t, ModeBlock, downRing.Mode())
}

func TestReadUpEmptyIsIdempotent(t *testing.T) {
	client, cb, engine, upRing, _ := newTestRig(t,
		probetest.RingConfig{Size: 16},
		probetest.RingConfig{Size: 16},
	)

	buf := make([]byte, 64)
	n, err := engine.ReadUp(context.Background(), upRing, buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	wr, rd := cb.UpOffsets()
	assert.Equal(t, uint32(0), wr)
	assert.Equal(t, uint32(0), rd)
	// An empty read must not touch the ring at all.
	assert.Empty(t, client.Writes())
}

func TestReadUpBurst(t *testing.T) {
	_, cb, engine, upRing, _ := newTestRig(t,
		probetest.RingConfig{Size: 16},
		probetest.RingConfig{Size: 16},
	)

	require.Equal(t, 6, cb.TargetWriteUp([]byte("HELLO\n")))

	buf := make([]byte, 2048)
	n, err := engine.ReadUp(context.Background(), upRing, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("HELLO\n"), buf[:n])

	_, rd := cb.UpOffsets()
	assert.Equal(t, uint32(6), rd)
}

func TestReadUpWrapAround(t *testing.T) {
	_, cb, engine, upRing, _ := newTestRig(t,
		probetest.RingConfig{Size: 8},
		probetest.RingConfig{Size: 8},
	)

	// Five bytes present at indices 6,7,0,1,2.
	cb.SetUpData(6, []byte("AB"))
	cb.SetUpData(0, []byte("CDE"))
	cb.SetUpOffsets(3, 6)

	buf := make([]byte, 2048)
	n, err := engine.ReadUp(context.Background(), upRing, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("ABCDE"), buf[:n])

	_, rd := cb.UpOffsets()
	assert.Equal(t, uint32(3), rd)
}

func TestReadUpShortOutputBuffer(t *testing.T) {
	_, cb, engine, upRing, _ := newTestRig(t,
		probetest.RingConfig{Size: 8},
		probetest.RingConfig{Size: 8},
	)

	cb.SetUpData(6, []byte("AB"))
	cb.SetUpData(0, []byte("CDE"))
	cb.SetUpOffsets(3, 6)

	// Drain in two reads through a one-byte window, then the rest.
	buf := make([]byte, 1)
	n, err := engine.ReadUp(context.Background(), upRing, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("A"), buf[:n])
	_, rd := cb.UpOffsets()
	assert.Equal(t, uint32(7), rd)

	rest := make([]byte, 8)
	n, err = engine.ReadUp(context.Background(), upRing, rest)
	require.NoError(t, err)
	assert.Equal(t, []byte("BCDE"), rest[:n])
	_, rd = cb.UpOffsets()
	assert.Equal(t, uint32(3), rd)
}

func TestWriteDownSkipRejectsWhenFull(t *testing.T) {
	client, cb, engine, _, downRing := newTestRig(t,
		probetest.RingConfig{Size: 8},
		probetest.RingConfig{Size: 8, Flags: 0},
	)

	cb.SetDownOffsets(7, 0)
	before := len(client.Writes())

	n, err := engine.WriteDown(context.Background(), downRing, []byte("A"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	wr, rd := cb.DownOffsets()
	assert.Equal(t, uint32(7), wr)
	assert.Equal(t, uint32(0), rd)
	assert.Len(t, client.Writes(), before)
}

func TestWriteDownSkipAcceptsWhenFits(t *testing.T) {
	_, cb, engine, _, downRing := newTestRig(t,
		probetest.RingConfig{Size: 8},
		probetest.RingConfig{Size: 8, Flags: 0},
	)

	n, err := engine.WriteDown(context.Background(), downRing, []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	wr, _ := cb.DownOffsets()
	assert.Equal(t, uint32(2), wr)
	assert.Equal(t, []byte("hi"), cb.DownData()[:2])
}

func TestWriteDownTrim(t *testing.T) {
	_, cb, engine, _, downRing := newTestRig(t,
		probetest.RingConfig{Size: 8},
		probetest.RingConfig{Size: 8, Flags: 1},
	)

	// free = 8 - 1 - 4 + 0 = 3.
	cb.SetDownOffsets(4, 0)

	n, err := engine.WriteDown(context.Background(), downRing, []byte("ABCDE"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	wr, _ := cb.DownOffsets()
	assert.Equal(t, uint32(7), wr)
	assert.Equal(t, []byte("ABC"), cb.DownData()[4:7])
}

func TestWriteDownTrimFullReportsZero(t *testing.T) {
	_, cb, engine, _, downRing := newTestRig(t,
		probetest.RingConfig{Size: 8},
		probetest.RingConfig{Size: 8, Flags: 1},
	)

	cb.SetDownOffsets(7, 0)

	n, err := engine.WriteDown(context.Background(), downRing, []byte("ABCDE"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	wr, rd := cb.DownOffsets()
	assert.Equal(t, uint32(7), wr)
	assert.Equal(t, uint32(0), rd)
}

func TestWriteDownWrapExactly(t *testing.T) {
	_, cb, engine, _, downRing := newTestRig(t,
		probetest.RingConfig{Size: 8},
		probetest.RingConfig{Size: 8, Flags: 1},
	)

	cb.SetDownOffsets(7, 1)

	n, err := engine.WriteDown(context.Background(), downRing, []byte("X"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	wr, _ := cb.DownOffsets()
	assert.Equal(t, uint32(0), wr)
	assert.Equal(t, byte('X'), cb.DownData()[7])
}

func TestWriteDownBlockSplitCopy(t *testing.T) {
	_, cb, engine, _, downRing := newTestRig(t,
		probetest.RingConfig{Size: 8},
		probetest.RingConfig{Size: 8, Flags: 2},
	)

	cb.SetDownOffsets(6, 6)

	n, err := engine.WriteDown(context.Background(), downRing, []byte("1234567"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	wr, _ := cb.DownOffsets()
	assert.Equal(t, uint32(5), wr)
	data := cb.DownData()
	assert.Equal(t, []byte("12"), data[6:8])
	assert.Equal(t, []byte("34567"), data[0:5])
}

func TestWriteDownBlockFollowsConsumer(t *testing.T) {
	_, cb, engine, _, downRing := newTestRig(t,
		probetest.RingConfig{Size: 8},
		probetest.RingConfig{Size: 8, Flags: 2},
	)

	// Ring starts full: the writer cannot make progress until the
	// target consumes.
	cb.SetDownOffsets(5, 6)

	done := make(chan struct{})
	var n int
	var err error
	go func() {
		defer close(done)
		n, err = engine.WriteDown(context.Background(), downRing, []byte("abcd"))
	}()

	var consumed []byte
	require.Eventually(t, func() bool {
		consumed = append(consumed, cb.TargetReadDown(2)...)
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, err)
	assert.Equal(t, 4, n)
	// Drain what is left and check the stream the target saw.
	consumed = append(consumed, cb.TargetReadDown(16)...)
	assert.Equal(t, []byte("abcd"), consumed[len(consumed)-4:])
}

func TestWriteDownBlockCanceled(t *testing.T) {
	_, cb, engine, _, downRing := newTestRig(t,
		probetest.RingConfig{Size: 8},
		probetest.RingConfig{Size: 8, Flags: 2},
	)

	cb.SetDownOffsets(5, 6)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	n, err := engine.WriteDown(ctx, downRing, []byte("abcd"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, n)
}

func TestWriteDownUnknownModeReportsZero(t *testing.T) {
	_, cb, engine, _, downRing := newTestRig(t,
		probetest.RingConfig{Size: 8},
		probetest.RingConfig{Size: 8, Flags: 3},
	)

	n, err := engine.WriteDown(context.Background(), downRing, []byte("A"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	wr, rd := cb.DownOffsets()
	assert.Equal(t, uint32(0), wr)
	assert.Equal(t, uint32(0), rd)
}

func TestEmptyInputIsNoOp(t *testing.T) {
	client, _, engine, upRing, downRing := newTestRig(t,
		probetest.RingConfig{Size: 8},
		probetest.RingConfig{Size: 8, Flags: 2},
	)

	n, err := engine.WriteDown(context.Background(), downRing, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = engine.ReadUp(context.Background(), upRing, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.Empty(t, client.Writes())
}

func TestZeroSizedRingReportsZero(t *testing.T) {
	_, _, engine, upRing, downRing := newTestRig(t,
		probetest.RingConfig{Size: 0},
		probetest.RingConfig{Size: 0, Flags: 2},
	)

	n, err := engine.ReadUp(context.Background(), upRing, make([]byte, 16))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = engine.WriteDown(context.Background(), downRing, []byte("A"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	used, err := engine.BytesInBuffer(context.Background(), upRing)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), used)

	free, err := engine.AvailWriteSpace(context.Background(), downRing)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), free)
}

func TestBytesInBuffer(t *testing.T) {
	_, cb, engine, upRing, _ := newTestRig(t,
		probetest.RingConfig{Size: 16},
		probetest.RingConfig{Size: 16},
	)

	used, err := engine.BytesInBuffer(context.Background(), upRing)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), used)

	cb.TargetWriteUp([]byte("HELLO\n"))
	used, err = engine.BytesInBuffer(context.Background(), upRing)
	require.NoError(t, err)
	assert.Equal(t, uint32(6), used)
}

func TestAvailWriteSpace(t *testing.T) {
	_, cb, engine, _, downRing := newTestRig(t,
		probetest.RingConfig{Size: 8},
		probetest.RingConfig{Size: 8},
	)

	free, err := engine.AvailWriteSpace(context.Background(), downRing)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), free)

	cb.SetDownOffsets(7, 0)
	free, err = engine.AvailWriteSpace(context.Background(), downRing)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), free)

	cb.SetDownOffsets(0, 4)
	free, err = engine.AvailWriteSpace(context.Background(), downRing)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), free)
}

// The engine must never write fields owned by the target: everything in
// an up descriptor except RdOff, everything in a down descriptor except
// WrOff, and no up-ring data bytes.
func TestFieldOwnership(t *testing.T) {
	client, cb, engine, upRing, downRing := newTestRig(t,
		probetest.RingConfig{Size: 16},
		probetest.RingConfig{Size: 16, Flags: 2},
	)

	cb.TargetWriteUp([]byte("ping"))
	_, err := engine.ReadUp(context.Background(), upRing, make([]byte, 64))
	require.NoError(t, err)
	_, err = engine.WriteDown(context.Background(), downRing, []byte("pong"))
	require.NoError(t, err)

	up, down := cb.Up, cb.Down
	assert.False(t, client.WroteWithin(up.NameAddr(), up.WrOffAddr()+4),
		"wrote an up-descriptor field other than RdOff")
	assert.False(t, client.WroteWithin(up.FlagsAddr(), up.FlagsAddr()+4))
	assert.True(t, client.WroteWithin(up.RdOffAddr(), up.RdOffAddr()+4))

	assert.False(t, client.WroteWithin(down.NameAddr(), down.WrOffAddr()),
		"wrote a down-descriptor field before WrOff")
	assert.False(t, client.WroteWithin(down.RdOffAddr(), down.FlagsAddr()+4),
		"wrote down-descriptor RdOff or Flags")
	assert.True(t, client.WroteWithin(down.WrOffAddr(), down.WrOffAddr()+4))
}
