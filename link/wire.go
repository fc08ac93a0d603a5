package link

import (
	"math"

	"github.com/cespare/xxhash"
	"github.com/holiman/uint256"

	"github.com/outofforest/pcs/gearbox"
	"github.com/outofforest/pcs/sim"
	"github.com/outofforest/pcs/types"
	"github.com/outofforest/photon"
)

// WireConfig stores configuration of the serial link of one lane.
type WireConfig struct {
	// Lane is the TX lane driving the wire, it makes bit errors of different wires independent.
	Lane uint64

	// Seed selects the bit error pattern.
	Seed uint64

	// Delay is the time needed by the word to travel from transmitter to receiver.
	Delay sim.Time

	// Period is the period of the lane clocks.
	Period sim.Time

	// BitOffset is the number of zero bits sent in front of the stream.
	BitOffset uint64

	// BitErrorRate is the probability of flipping each bit.
	BitErrorRate float64
}

type errorKey struct {
	Seed  uint64
	Lane  uint64
	Index uint64
	Salt  uint64
}

// NewWire creates wire connecting TX lane domain to RX lane domain.
func NewWire(config WireConfig, tx, rx sim.DomainID) (*Wire, error) {
	// Words stay in flight for the whole delay, some more are kept to absorb the phase difference.
	inFlight := uint64(config.Delay/config.Period) + 8
	channel, err := gearbox.New(gearbox.Config{
		InWidth:        types.LaneWordBits,
		OutWidth:       types.LaneWordBits,
		Capacity:       8 * types.LaneWordBits,
		StartThreshold: 3 * types.LaneWordBits,
		RingCapacity:   inFlight,
		Latency:        config.Delay,
	}, tx, rx)
	if err != nil {
		return nil, err
	}

	return &Wire{
		config:    config,
		channel:   channel,
		threshold: errorThreshold(config.BitErrorRate),
	}, nil
}

// Wire models serial link between TX and RX lane: delay, bit offset and bit errors.
type Wire struct {
	config    WireConfig
	channel   *gearbox.Gearbox
	threshold uint64

	carry  uint64
	index  uint64
	errors uint64
}

// Errors returns number of bits flipped so far.
func (w *Wire) Errors() uint64 {
	return w.errors
}

// Send is executed on every edge of the TX lane clock.
func (w *Wire) Send(edge sim.Edge, data uint64, valid bool) error {
	if edge.Reset {
		w.carry = 0
		return w.channel.ResetWriter(edge)
	}
	if !valid {
		// Offset is inserted again once the stream restarts.
		w.carry = 0
		return w.channel.Write(edge, nil, false)
	}

	const mask = uint64(1)<<types.LaneWordBits - 1
	shifted := (data<<w.config.BitOffset | w.carry) & mask
	w.carry = (data & mask) >> (types.LaneWordBits - w.config.BitOffset)

	shifted ^= w.corruption()
	word := uint256.Int{shifted}
	return w.channel.Write(edge, &word, true)
}

// Receive is executed on every edge of the RX lane clock.
func (w *Wire) Receive(edge sim.Edge) (uint64, bool, error) {
	word, valid, err := w.channel.Read(edge, false)
	return word[0], valid, err
}

// corruption returns mask of bits flipped in the next word.
func (w *Wire) corruption() uint64 {
	if w.threshold == 0 {
		return 0
	}

	key := errorKey{
		Seed:  w.config.Seed,
		Lane:  w.config.Lane,
		Index: w.index,
	}
	w.index++
	if xxhash.Sum64(photon.NewFromValue(&key).B) >= w.threshold {
		return 0
	}

	key.Salt = 1
	w.errors++
	return 1 << (xxhash.Sum64(photon.NewFromValue(&key).B) % types.LaneWordBits)
}

// errorThreshold converts bit error rate to the threshold of the uniformly distributed hash
// below which one bit of the word is flipped.
func errorThreshold(ber float64) uint64 {
	p := ber * types.LaneWordBits
	if p <= 0 {
		return 0
	}
	if p >= 1 {
		return math.MaxUint64
	}
	return uint64(p * math.MaxUint64)
}
