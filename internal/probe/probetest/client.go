// Package probetest provides a RAM-backed probe.Client for tests. It
// plays the role of the debugger and the target at once: tests script
// the debugger-visible state and poke target memory directly, the code
// under test only sees the probe.Client surface.
package probetest

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/songwenshuai/telnet-rtt/internal/probe"
)

// Write records one WriteMemory call.
type Write struct {
	Addr uint32
	Len  int
}

// End returns the first address past the written range.
func (w Write) End() uint32 {
	return w.Addr + uint32(w.Len)
}

// Client is a fake probe backed by a sparse byte map.
type Client struct {
	mu sync.Mutex

	mem     map[uint32]byte
	symbols map[string]probe.Symbol

	cpuState     probe.CPUState
	scriptStates []probe.ScriptState

	configs []string
	cmds    []string
	writes  []Write

	failReads  int
	failWrites int
	failStates int

	initialized bool
	attached    bool
	exited      bool
}

// New returns a Client with a running CPU and an idle script engine.
func New() *Client {
	return &Client{
		mem:      make(map[uint32]byte),
		symbols:  make(map[string]probe.Symbol),
		cpuState: probe.CPUStateRunning,
	}
}

func transportErr(op string) error {
	return probe.NewError(op, probe.CodeComReceiveFail)
}

// SetSymbol registers a symbol for GetSymbol lookups.
func (c *Client) SetSymbol(name string, sym probe.Symbol) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.symbols[name] = sym
}

// SetCPUState overrides the CPU run state.
func (c *Client) SetCPUState(s probe.CPUState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cpuState = s
}

// CPUState returns the current CPU run state.
func (c *Client) CPUState() probe.CPUState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cpuState
}

// QueueScriptStates sets the sequence of states GetPracticeState will
// report. The last state repeats once the queue drains.
func (c *Client) QueueScriptStates(states ...probe.ScriptState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scriptStates = states
}

// FailReads makes the next n ReadMemory calls fail with a transport
// error.
func (c *Client) FailReads(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failReads = n
}

// FailWrites makes the next n WriteMemory calls fail with a transport
// error.
func (c *Client) FailWrites(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failWrites = n
}

// FailStates makes the next n GetState/GetPracticeState calls fail with
// a transport error.
func (c *Client) FailStates(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failStates = n
}

// SetMemory copies data into target memory at addr.
func (c *Client) SetMemory(addr uint32, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.poke(addr, data)
}

// Memory returns n bytes of target memory starting at addr.
func (c *Client) Memory(addr uint32, n int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peek(addr, n)
}

// SetU32 stores a little-endian word at addr.
func (c *Client) SetU32(addr uint32, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	c.SetMemory(addr, b[:])
}

// U32 loads a little-endian word from addr.
func (c *Client) U32(addr uint32) uint32 {
	return binary.LittleEndian.Uint32(c.Memory(addr, 4))
}

// Writes returns every WriteMemory call made so far.
func (c *Client) Writes() []Write {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Write(nil), c.writes...)
}

// WroteWithin reports whether any recorded write overlaps [lo, hi).
func (c *Client) WroteWithin(lo, hi uint32) bool {
	for _, w := range c.Writes() {
		if w.Addr < hi && w.End() > lo {
			return true
		}
	}
	return false
}

// Cmds returns every command line executed via Cmd.
func (c *Client) Cmds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.cmds...)
}

// Configs returns every key=value pair passed to Config.
func (c *Client) Configs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.configs...)
}

// Exited reports whether Exit has been called.
func (c *Client) Exited() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exited
}

func (c *Client) poke(addr uint32, data []byte) {
	for i, b := range data {
		c.mem[addr+uint32(i)] = b
	}
}

func (c *Client) peek(addr uint32, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = c.mem[addr+uint32(i)]
	}
	return out
}

// Config implements probe.Client.
func (c *Client) Config(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configs = append(c.configs, key+value)
	return nil
}

// Init implements probe.Client.
func (c *Client) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialized = true
	return nil
}

// Attach implements probe.Client.
func (c *Client) Attach(device probe.Device) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return probe.NewError("T32_Attach", probe.CodeComSeqFail)
	}
	c.attached = true
	return nil
}

// Nop implements probe.Client.
func (c *Client) Nop() error { return nil }

// Ping implements probe.Client.
func (c *Client) Ping() error { return nil }

// Cmd implements probe.Client.
func (c *Client) Cmd(format string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cmds = append(c.cmds, fmt.Sprintf(format, args...))
	return nil
}

// GetSymbol implements probe.Client.
func (c *Client) GetSymbol(name string) (probe.Symbol, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sym, ok := c.symbols[name]
	if !ok {
		return probe.Symbol{}, probe.NewError("T32_GetSymbol", probe.Code(16))
	}
	return sym, nil
}

// GetState implements probe.Client.
func (c *Client) GetState() (probe.CPUState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failStates > 0 {
		c.failStates--
		return 0, transportErr("T32_GetState")
	}
	return c.cpuState, nil
}

// GetPracticeState implements probe.Client.
func (c *Client) GetPracticeState() (probe.ScriptState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failStates > 0 {
		c.failStates--
		return 0, transportErr("T32_GetPracticeState")
	}
	if len(c.scriptStates) == 0 {
		return probe.ScriptStateDone, nil
	}
	state := c.scriptStates[0]
	if len(c.scriptStates) > 1 {
		c.scriptStates = c.scriptStates[1:]
	}
	return state, nil
}

// Go implements probe.Client.
func (c *Client) Go() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cpuState = probe.CPUStateRunning
	return nil
}

// Break implements probe.Client.
func (c *Client) Break() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cpuState = probe.CPUStateStopped
	return nil
}

// Stop implements probe.Client.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scriptStates = []probe.ScriptState{probe.ScriptStateDone}
	return nil
}

// ReadMemory implements probe.Client.
func (c *Client) ReadMemory(addr uint32, space probe.MemorySpace, buf []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failReads > 0 {
		c.failReads--
		return transportErr("T32_ReadMemory")
	}
	copy(buf, c.peek(addr, len(buf)))
	return nil
}

// WriteMemory implements probe.Client.
func (c *Client) WriteMemory(addr uint32, space probe.MemorySpace, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrites > 0 {
		c.failWrites--
		return transportErr("T32_WriteMemory")
	}
	c.poke(addr, data)
	c.writes = append(c.writes, Write{Addr: addr, Len: len(data)})
	return nil
}

// Exit implements probe.Client.
func (c *Client) Exit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exited = true
	return nil
}
