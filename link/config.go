package link

import (
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/outofforest/pcs/blocksync"
	"github.com/outofforest/pcs/gearbox"
	"github.com/outofforest/pcs/marker"
	"github.com/outofforest/pcs/pcs"
	"github.com/outofforest/pcs/scrambler"
	"github.com/outofforest/pcs/sim"
	"github.com/outofforest/pcs/types"
)

const (
	// DefaultCorePeriod is the period of the core clock, one block per cycle.
	DefaultCorePeriod sim.Time = 66

	// DefaultLanePeriod is the period of the lane clock, one lane word per cycle.
	DefaultLanePeriod sim.Time = 32

	// DefaultResetCycles is the number of cycles every domain is held in reset when session starts.
	DefaultResetCycles = 4

	// MaxBitErrorRate is the highest bit error rate accepted by the wire model.
	MaxBitErrorRate = 0.01
)

// DefaultConfig is the configuration of the 4-lane loopback with skewed and reordered lanes.
var DefaultConfig = Config{
	Lanes:            types.DefaultLanes,
	CorePeriod:       DefaultCorePeriod,
	LanePeriod:       DefaultLanePeriod,
	RXCorePhase:      13,
	RXLanePhase:      []sim.Time{7, 11, 19, 29},
	Skew:             []uint64{0, 2, 1, 3},
	BitOffset:        []uint64{0, 5, 17, 31},
	Permutation:      []int{0, 1, 2, 3},
	PropagationDelay: 100,
	MarkerPeriod:     marker.DefaultPeriod,
	GoodThreshold:    blocksync.DefaultGoodThreshold,
	BadThreshold:     blocksync.DefaultBadThreshold,
	MaxSkew:          marker.DefaultMaxSkew,
	ScramblerSeed:    scrambler.DefaultSeed,
	MinFrameWords:    8,
	MaxFrameWords:    190,
	MinIdleWords:     1,
	MaxIdleWords:     4,
	ResetCycles:      DefaultResetCycles,
	Cycles:           200_000,
}

// Config stores loopback session configuration.
type Config struct {
	// Lanes is the number of PCS lanes.
	Lanes int

	// CorePeriod is the period of TX and RX core clocks.
	CorePeriod sim.Time

	// LanePeriod is the period of the lane clocks. Lane rate must match the core rate.
	LanePeriod sim.Time

	// RXCorePhase is the phase of RX core clock relative to TX core clock.
	RXCorePhase sim.Time

	// RXLanePhase is the phase of each RX lane clock. Empty means all zeros.
	RXLanePhase []sim.Time

	// Skew is the additional delay of each wire expressed in lane words. Empty means all zeros.
	Skew []uint64

	// BitOffset is the number of bits inserted in front of the stream of each wire. Empty means all zeros.
	BitOffset []uint64

	// Permutation tells which TX lane is connected to each RX lane. Empty means identity.
	Permutation []int

	// PropagationDelay is the delay common for all the wires.
	PropagationDelay sim.Time

	// BitErrorRate is the probability of flipping each transmitted bit.
	BitErrorRate float64

	MarkerPeriod  uint64
	GoodThreshold uint32
	BadThreshold  uint32
	MaxSkew       int

	// ScramblerSeed is the initial state of the scramblers.
	ScramblerSeed uint64

	// Seed selects the traffic pattern and bit errors.
	Seed uint64

	MinFrameWords uint64
	MaxFrameWords uint64
	MinIdleWords  uint64
	MaxIdleWords  uint64

	// ResetCycles is the number of cycles each domain is held in reset at the beginning.
	ResetCycles uint64

	// Cycles is the number of core cycles to simulate.
	Cycles uint64
}

// Validate verifies configuration.
func (c Config) Validate() error {
	if err := c.PCS().Validate(); err != nil {
		return err
	}
	if c.CorePeriod == 0 || c.LanePeriod == 0 {
		return errors.Wrap(types.ErrConfiguration, "clock periods must be positive")
	}
	if uint64(c.CorePeriod)*types.LaneWordBits != uint64(c.LanePeriod)*types.BlockBits {
		return errors.Wrapf(types.ErrConfiguration, "lane rate %d bits per %s does not match core rate %d bits per %s",
			types.LaneWordBits, c.LanePeriod, types.BlockBits, c.CorePeriod)
	}
	for name, n := range map[string]int{
		"RXLanePhase": len(c.RXLanePhase),
		"Skew":        len(c.Skew),
		"BitOffset":   len(c.BitOffset),
		"Permutation": len(c.Permutation),
	} {
		if n != 0 && n != c.Lanes {
			return errors.Wrapf(types.ErrConfiguration, "%s must be empty or have %d elements, got %d", name, c.Lanes, n)
		}
	}
	if lo.SomeBy(c.BitOffset, func(o uint64) bool { return o >= types.LaneWordBits }) {
		return errors.Wrapf(types.ErrConfiguration, "bit offset must be lower than %d", types.LaneWordBits)
	}
	if p := c.permutation(); len(lo.Uniq(p)) != c.Lanes || lo.SomeBy(p, func(l int) bool { return l < 0 || l >= c.Lanes }) {
		return errors.Wrapf(types.ErrConfiguration, "%v is not a permutation of %d lanes", c.Permutation, c.Lanes)
	}
	if c.BitErrorRate < 0 || c.BitErrorRate > MaxBitErrorRate {
		return errors.Wrapf(types.ErrConfiguration, "bit error rate must be in range 0-%g, got %g", MaxBitErrorRate,
			c.BitErrorRate)
	}
	if c.MinFrameWords == 0 || c.MaxFrameWords < c.MinFrameWords {
		return errors.Wrapf(types.ErrConfiguration, "invalid frame length range %d-%d", c.MinFrameWords,
			c.MaxFrameWords)
	}
	if c.MinIdleWords == 0 || c.MaxIdleWords < c.MinIdleWords {
		return errors.Wrapf(types.ErrConfiguration, "invalid idle length range %d-%d", c.MinIdleWords,
			c.MaxIdleWords)
	}
	if c.Cycles == 0 {
		return errors.Wrap(types.ErrConfiguration, "number of cycles must be positive")
	}
	return nil
}

// PCS returns configuration of the transmitter and receiver.
func (c Config) PCS() pcs.Config {
	config := pcs.DefaultConfig
	config.Lanes = c.Lanes
	config.Seed = c.ScramblerSeed
	config.Markers.Period = c.MarkerPeriod
	config.Sync = blocksync.Config{
		GoodThreshold: c.GoodThreshold,
		BadThreshold:  c.BadThreshold,
	}
	config.MaxSkew = c.MaxSkew
	config.TXGearbox = gearbox.TXConfig
	config.RXGearbox = gearbox.RXConfig
	return config
}

func (c Config) rxLanePhase(lane int) sim.Time {
	if len(c.RXLanePhase) == 0 {
		return 0
	}
	return c.RXLanePhase[lane]
}

func (c Config) skew(lane int) uint64 {
	if len(c.Skew) == 0 {
		return 0
	}
	return c.Skew[lane]
}

func (c Config) bitOffset(lane int) uint64 {
	if len(c.BitOffset) == 0 {
		return 0
	}
	return c.BitOffset[lane]
}

func (c Config) permutation() []int {
	if len(c.Permutation) == 0 {
		return lo.Range(c.Lanes)
	}
	return c.Permutation
}
