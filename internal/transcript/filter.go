// Package transcript records forwarded terminal traffic to a plain-text
// file. Bytes pass through a VT/ANSI escape filter that keeps printable
// payload and line feeds only, so the file stays readable after cursor
// movement, coloring and device-control chatter.
package transcript

// Control bytes recognized by the filter.
const (
	ctlBEL = 0x07
	ctlLF  = 0x0A
	ctlCAN = 0x18
	ctlSUB = 0x1A
	ctlESC = 0x1B
	ctlDCS = 0x90
	ctlCSI = 0x9B
	ctlOSC = 0x9D
	ctlPM  = 0x9E
	ctlAPC = 0x9F
)

// State is the position of the filter inside an escape sequence.
type State int

const (
	StateNormal State = iota
	// StateEsc: an ESC byte was seen; the next byte selects the
	// sequence kind.
	StateEsc
	// StateCsi: inside a control sequence, waiting for its final byte.
	StateCsi
	// StateDcs: inside a device-control introducer.
	StateDcs
	// StateDcsString: inside a device-control string; everything is
	// dropped until CAN, SUB or a string terminator.
	StateDcsString
	// StateDropOne: an ESC intermediate was seen; the byte after it is
	// discarded.
	StateDropOne
)

// Step advances the filter by one input byte. It returns the next
// state, the byte to emit, and whether anything is emitted.
func (s State) Step(b byte) (State, byte, bool) {
	chr := int(b)

	if s == StateDropOne {
		return StateNormal, 0, false
	}

	// A 7-bit escape introducer maps onto the corresponding C1
	// control. This also terminates device-control strings (ESC \ is
	// the string terminator).
	if s == StateEsc && chr >= 0x40 && chr <= 0x5F {
		s = StateNormal
		chr += 0x40
	}

	switch chr {
	case ctlCAN, ctlSUB:
		return StateNormal, 0, false
	case ctlESC:
		return StateEsc, 0, false
	case ctlCSI:
		return StateCsi, 0, false
	case ctlDCS, ctlOSC, ctlPM, ctlAPC:
		return StateDcs, 0, false
	}

	// Controls go through regardless of state; only the line feed
	// makes it to the transcript.
	if chr&0x6F < 0x20 {
		if chr == ctlLF {
			return s, '\n', true
		}
		return s, 0, false
	}

	switch s {
	case StateNormal:
		return StateNormal, byte(chr), true
	case StateEsc:
		switch byte(chr) {
		case '#', ' ', '(', ')', '*', '+':
			return StateDropOne, 0, false
		}
		return StateNormal, 0, false
	case StateCsi:
		if chr >= 0x40 && chr <= 0x7E {
			return StateNormal, 0, false
		}
		return StateCsi, 0, false
	case StateDcs:
		if chr >= 0x40 && chr <= 0x7E {
			return StateDcsString, 0, false
		}
		return StateDcs, 0, false
	case StateDcsString:
		return StateDcsString, 0, false
	}
	return StateNormal, 0, false
}

// Filter strips escape sequences from a byte stream. The zero value is
// ready to use; state carries over between calls so sequences split
// across chunks are still recognized.
type Filter struct {
	state State
}

// Apply filters p and returns the bytes that survive.
func (f *Filter) Apply(p []byte) []byte {
	out := make([]byte, 0, len(p))
	for _, b := range p {
		next, emit, ok := f.state.Step(b)
		f.state = next
		if ok {
			out = append(out, emit)
		}
	}
	return out
}
