package pcs

import (
	"github.com/pkg/errors"

	"github.com/outofforest/pcs/blocksync"
	"github.com/outofforest/pcs/gearbox"
	"github.com/outofforest/pcs/marker"
	"github.com/outofforest/pcs/scrambler"
	"github.com/outofforest/pcs/sim"
	"github.com/outofforest/pcs/types"
)

// DefaultConfig is the configuration of 40GBASE-R PCS.
var DefaultConfig = Config{
	Lanes:     types.DefaultLanes,
	Seed:      scrambler.DefaultSeed,
	Markers:   marker.DefaultConfig,
	Sync:      blocksync.DefaultConfig,
	MaxSkew:   marker.DefaultMaxSkew,
	TXGearbox: gearbox.TXConfig,
	RXGearbox: gearbox.RXConfig,
}

// Config stores PCS configuration.
type Config struct {
	Lanes     int
	Seed      uint64
	Markers   marker.Config
	Sync      blocksync.Config
	MaxSkew   int
	TXGearbox gearbox.Config
	RXGearbox gearbox.Config
}

// Validate verifies configuration.
func (c Config) Validate() error {
	if c.Lanes <= 0 || c.Lanes > marker.Lanes {
		return errors.Wrapf(types.ErrConfiguration, "number of lanes must be in range 1-%d, got %d", marker.Lanes,
			c.Lanes)
	}
	if c.TXGearbox.InWidth != types.BlockBits || c.RXGearbox.OutWidth != types.BlockBits {
		return errors.Wrapf(types.ErrConfiguration, "gearboxes must convert %d-bit blocks", types.BlockBits)
	}
	if c.TXGearbox.OutWidth != c.RXGearbox.InWidth {
		return errors.Wrapf(types.ErrConfiguration, "TX lane width %d does not match RX lane width %d",
			c.TXGearbox.OutWidth, c.RXGearbox.InWidth)
	}
	if c.TXGearbox.OutWidth > 64 {
		return errors.Wrapf(types.ErrConfiguration, "lane width must not exceed 64 bits, got %d",
			c.TXGearbox.OutWidth)
	}
	if !c.RXGearbox.Bitslip {
		return errors.Wrap(types.ErrConfiguration, "RX gearbox must support bitslip")
	}
	for _, err := range []error{
		c.Markers.Validate(),
		c.Sync.Validate(),
		c.TXGearbox.Validate(),
		c.RXGearbox.Validate(),
		marker.DeskewConfig{Lanes: c.Lanes, MaxSkew: c.MaxSkew}.Validate(),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

// Source provides MAC words to transmit.
type Source interface {
	// Next fills row with the next words of the stream, one for each lane.
	Next(edge sim.Edge, row []types.Word)
}

// Sink receives decoded MAC words in the order they were transmitted.
type Sink interface {
	Receive(edge sim.Edge, w types.Word, err error)
}

func checkLanes(config Config, lanes []sim.DomainID) error {
	if err := config.Validate(); err != nil {
		return err
	}
	if len(lanes) != config.Lanes {
		return errors.Wrapf(types.ErrConfiguration, "%d lane domains provided, %d expected", len(lanes),
			config.Lanes)
	}
	return nil
}
