package marker

import (
	"github.com/pkg/errors"

	"github.com/outofforest/pcs/types"
)

// DeskewConfig stores configuration of lane deskew.
type DeskewConfig struct {
	Lanes   int
	MaxSkew int
}

// Validate verifies configuration.
func (c DeskewConfig) Validate() error {
	if c.Lanes <= 0 || c.Lanes > Lanes {
		return errors.Wrapf(types.ErrConfiguration, "number of lanes must be in range 1-%d, got %d", Lanes, c.Lanes)
	}
	if c.MaxSkew < 0 {
		return errors.Wrapf(types.ErrConfiguration, "maximum skew must not be negative, got %d", c.MaxSkew)
	}
	return nil
}

// DeskewStats stores deskew counters.
type DeskewStats struct {
	Alignments uint64
	Resets     uint64
}

// NewDeskew creates lane deskew.
func NewDeskew(config DeskewConfig) (*Deskew, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Deskew{
		config:  config,
		queues:  make([][]types.Block, config.Lanes),
		started: make([]bool, config.Lanes),
		logical: make([]types.LaneID, config.Lanes),
		order:   make([]int, config.Lanes),
		row:     make([]types.Block, config.Lanes),
	}, nil
}

// Deskew compensates relative delay between physical lanes and restores logical lane order.
// Every physical lane starts buffering at its marker, so the heads of all the queues belong to the same
// position of the transmitted stream once all lanes have seen the marker.
type Deskew struct {
	config DeskewConfig

	queues  [][]types.Block
	started []bool
	logical []types.LaneID
	order   []int
	row     []types.Block
	aligned bool
	stats   DeskewStats
}

// Aligned reports whether lanes are aligned.
func (d *Deskew) Aligned() bool {
	return d.aligned
}

// Stats returns counters.
func (d *Deskew) Stats() DeskewStats {
	return d.stats
}

// Order returns physical lane carrying each logical lane. Valid only when aligned.
func (d *Deskew) Order() []int {
	return d.order
}

// Reset drops alignment and buffered blocks.
func (d *Deskew) Reset() {
	if d.aligned {
		d.stats.Resets++
	}
	d.aligned = false
	for i := range d.queues {
		d.queues[i] = d.queues[i][:0]
		d.started[i] = false
	}
}

// Push stores block received on physical lane together with the result reported for it by the lane aligner.
// Error is returned when alignment is lost.
func (d *Deskew) Push(lane int, b types.Block, res Result) error {
	if !res.Locked {
		if d.started[lane] {
			d.Reset()
			return errors.Errorf("marker lock lost on lane %d", lane)
		}
		return nil
	}

	if res.Marker {
		switch {
		case !d.aligned:
			d.queues[lane] = d.queues[lane][:0]
			d.started[lane] = true
			d.logical[lane] = res.Lane
			d.tryAlign()
		case d.logical[lane] != res.Lane:
			d.Reset()
			return errors.Errorf("lane %d changed its logical lane from %d to %d", lane, d.logical[lane], res.Lane)
		}
		return nil
	}

	if !d.started[lane] {
		return nil
	}
	d.queues[lane] = append(d.queues[lane], b)
	if len(d.queues[lane]) > d.config.MaxSkew+1 {
		d.Reset()
		return errors.Errorf("skew on lane %d exceeds %d blocks", lane, d.config.MaxSkew)
	}
	return nil
}

// Pop returns next row of blocks, ordered by logical lane. Returned slice is reused by subsequent calls.
func (d *Deskew) Pop() ([]types.Block, bool) {
	if !d.aligned {
		return nil, false
	}
	for _, q := range d.queues {
		if len(q) == 0 {
			return nil, false
		}
	}
	for logical, physical := range d.order {
		d.row[logical] = d.queues[physical][0]
		d.queues[physical] = d.queues[physical][1:]
	}
	return d.row, true
}

func (d *Deskew) tryAlign() {
	for _, s := range d.started {
		if !s {
			return
		}
	}

	seen := make([]bool, d.config.Lanes)
	for physical, logical := range d.logical {
		if int(logical) >= d.config.Lanes || seen[logical] {
			// Lanes do not form a permutation, wait for the next markers.
			d.Reset()
			return
		}
		seen[logical] = true
		d.order[logical] = physical
	}
	d.aligned = true
	d.stats.Alignments++
}
