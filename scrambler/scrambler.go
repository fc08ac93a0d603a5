package scrambler

import (
	"math/bits"

	"github.com/holiman/uint256"

	"github.com/outofforest/pcs/types"
)

const (
	// StateBits is the length of the feedback register.
	StateBits = 58

	// TapHigh and TapLow are the register positions XORed to produce the feedback bit (x^58 + x^39 + 1).
	TapHigh = 57
	TapLow  = 38

	// DefaultSeed is the register value set on reset.
	DefaultSeed uint64 = 0

	// Distance, in bits, between the two taps measured from the newest bit of the history.
	nearTap = TapLow + 1
	farTap  = TapHigh + 1
)

var stateMask = types.Mask[uint64](StateBits)

// history keeps the last 58 bits of the stream with the oldest bit at position 0.
// It is the bit-reversed form of the feedback register, which allows processing 64 bits at once.
type history uint64

func historyFromState(state uint64) history {
	return history(bits.Reverse64(state&stateMask) >> (64 - StateBits))
}

func (h history) state() uint64 {
	return bits.Reverse64(uint64(h)) >> (64 - StateBits)
}

// feedback returns, for each of the 64 bits to be processed, the taps contributed by the history.
func (h history) feedback() uint64 {
	return uint64(h)>>(StateBits-nearTap) ^ uint64(h)
}

// New creates new scrambler.
func New(seed uint64) *Scrambler {
	return &Scrambler{
		history: historyFromState(seed),
	}
}

// Scrambler is the transmit side of the self-synchronizing scrambler.
// Each output bit is shifted into the register.
type Scrambler struct {
	history history
}

// State returns the feedback register. Bit 0 is the newest bit.
func (s *Scrambler) State() uint64 {
	return s.history.state()
}

// Reset sets the feedback register.
func (s *Scrambler) Reset(seed uint64) {
	s.history = historyFromState(seed)
}

// Scramble scrambles payload in place, from bit 0 of the first word up to bit 63 of the last one.
// When disabled, payload is not modified and register is held.
func (s *Scrambler) Scramble(payload []uint64, enable bool) {
	if !enable {
		return
	}
	for i, x := range payload {
		// Bits 0-38 depend on history only, higher bits on the outputs computed in the same word,
		// which at distance of 39 and 58 bits are always among the already final low bits.
		y := x ^ s.history.feedback()
		y ^= y<<nearTap ^ y<<farTap
		payload[i] = y
		s.history = history(y >> (64 - StateBits))
	}
}

// Scramble256 scrambles 256-bit payload in place.
func (s *Scrambler) Scramble256(payload *uint256.Int, enable bool) {
	s.Scramble(payload[:], enable)
}

// NewDescrambler creates new descrambler.
func NewDescrambler(seed uint64) *Descrambler {
	return &Descrambler{
		history: historyFromState(seed),
	}
}

// Descrambler is the receive side of the self-synchronizing scrambler.
// Each received (scrambled) bit is shifted into the register, so it converges to the transmitter state
// after 58 bits regardless of its initial value.
type Descrambler struct {
	history history
}

// State returns the feedback register. Bit 0 is the newest bit.
func (d *Descrambler) State() uint64 {
	return d.history.state()
}

// Reset sets the feedback register.
func (d *Descrambler) Reset(seed uint64) {
	d.history = historyFromState(seed)
}

// Descramble descrambles payload in place.
// When disabled, payload is not modified and register is held.
func (d *Descrambler) Descramble(payload []uint64, enable bool) {
	if !enable {
		return
	}
	for i, y := range payload {
		payload[i] = y ^ y<<nearTap ^ y<<farTap ^ d.history.feedback()
		d.history = history(y >> (64 - StateBits))
	}
}

// Descramble256 descrambles 256-bit payload in place.
func (d *Descrambler) Descramble256(payload *uint256.Int, enable bool) {
	d.Descramble(payload[:], enable)
}
