package marker

import (
	"github.com/outofforest/pcs/types"
)

// NewGenerator creates marker generator of the lane.
func NewGenerator(lane types.LaneID, config Config) (*Generator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Generator{
		lane:   lane,
		period: config.Period,
	}, nil
}

// Generator inserts marker into the block stream of one lane once per period.
// Marker is emitted on ticks 0, P, 2P, ... and the data block offered on such tick is not consumed,
// the caller must check Ready before pulling data.
type Generator struct {
	lane   types.LaneID
	period uint64

	counter uint64
	bip     uint8
}

// Ready reports whether next tick consumes data block.
func (g *Generator) Ready() bool {
	return g.counter != 0
}

// Tick returns the block to transmit. The second value is true if it is a marker.
func (g *Generator) Tick(b types.Block) (types.Block, bool) {
	isMarker := g.counter == 0
	if isMarker {
		b = Block(g.lane, g.bip)
		g.bip = 0
	}
	g.bip ^= Parity(b)

	g.counter++
	if g.counter == g.period {
		g.counter = 0
	}
	return b, isMarker
}

// Reset restarts the cadence, next tick emits marker.
func (g *Generator) Reset() {
	g.counter = 0
	g.bip = 0
}
