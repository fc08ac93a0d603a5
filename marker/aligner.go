package marker

import (
	"github.com/outofforest/pcs/types"
)

// Result is reported by aligner for every observed block.
type Result struct {
	// Marker is set when block is a marker expected by the cadence, such block must not be passed on.
	Marker bool

	// Lane is the logical lane carried by the last accepted marker.
	Lane types.LaneID

	Locked  bool
	Changed bool

	// BIPError is set when marker parity does not match the blocks received since previous marker.
	BIPError bool
}

// AlignerStats stores aligner counters.
type AlignerStats struct {
	Locks     uint64
	Losses    uint64
	Markers   uint64
	BIPErrors uint64
}

// NewAligner creates marker aligner for one received lane.
func NewAligner(config Config) (*Aligner, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Aligner{
		config: config,
	}, nil
}

// Aligner finds marker cadence in the block stream of one physical lane.
type Aligner struct {
	config Config

	locked  bool
	lane    types.LaneID
	found   uint32
	misses  uint32
	counter uint64
	bip     uint8
	stats   AlignerStats
}

// Locked reports whether marker cadence is locked.
func (a *Aligner) Locked() bool {
	return a.locked
}

// Lane returns logical lane identified by markers.
func (a *Aligner) Lane() types.LaneID {
	return a.lane
}

// Stats returns counters.
func (a *Aligner) Stats() AlignerStats {
	return a.stats
}

// Reset drops marker lock.
func (a *Aligner) Reset() {
	a.locked = false
	a.found = 0
	a.misses = 0
	a.counter = 0
	a.bip = 0
}

// Observe advances aligner by one block.
func (a *Aligner) Observe(b types.Block) Result {
	a.counter++
	if a.locked {
		return a.observeLocked(b)
	}
	return a.observeSearching(b)
}

func (a *Aligner) observeSearching(b types.Block) Result {
	lane, bip, isMarker := Parse(b)
	if !isMarker {
		a.bip ^= Parity(b)
		return Result{Lane: a.lane}
	}

	if a.found == 0 || lane != a.lane || a.counter != a.config.Period {
		a.found = 1
		a.lane = lane
		a.counter = 0
		a.bip = Parity(b)
		return Result{Lane: lane}
	}

	res := a.accept(b, bip)
	a.found++
	if a.found == a.config.LockMarkers {
		a.locked = true
		a.misses = 0
		a.stats.Locks++
		res.Locked = true
		res.Changed = true
		return res
	}
	// Until locked, markers stay in the stream.
	res.Marker = false
	return res
}

func (a *Aligner) observeLocked(b types.Block) Result {
	if a.counter != a.config.Period {
		a.bip ^= Parity(b)
		return Result{Lane: a.lane, Locked: true}
	}

	lane, bip, isMarker := Parse(b)
	if isMarker && lane == a.lane {
		a.misses = 0
		res := a.accept(b, bip)
		res.Locked = true
		return res
	}

	// Cadence is kept while marker is missing. Block at the marker position is dropped anyway,
	// so a corrupted marker does not shift the lane.
	a.counter = 0
	a.bip = Parity(b)
	a.misses++
	if a.misses == a.config.UnlockMisses {
		a.Reset()
		a.stats.Losses++
		return Result{Lane: a.lane, Changed: true}
	}
	return Result{Marker: true, Lane: a.lane, Locked: true}
}

func (a *Aligner) accept(b types.Block, bip uint8) Result {
	res := Result{
		Marker:   true,
		Lane:     a.lane,
		BIPError: bip != a.bip,
	}
	if res.BIPError {
		a.stats.BIPErrors++
	}
	a.stats.Markers++
	a.counter = 0
	a.bip = Parity(b)
	return res
}
