package pcs

import (
	"context"

	"github.com/holiman/uint256"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/pcs/blocksync"
	"github.com/outofforest/pcs/codec"
	"github.com/outofforest/pcs/gearbox"
	"github.com/outofforest/pcs/marker"
	"github.com/outofforest/pcs/scrambler"
	"github.com/outofforest/pcs/sim"
	"github.com/outofforest/pcs/types"
)

// RXStats stores receiver counters.
type RXStats struct {
	Blocks          uint64
	Rows            uint64
	DecodeErrors    uint64
	BIPErrors       uint64
	Slips           uint64
	LockAcquired    uint64
	LockLost        uint64
	MarkerLocks     uint64
	MarkerLosses    uint64
	Alignments      uint64
	AlignmentLosses uint64
}

type rxLane struct {
	gearbox *gearbox.Gearbox
	sync    *blocksync.Synchronizer
	aligner *marker.Aligner
	slip    bool
}

// NewRX creates receiver. Lane domains fill the gearboxes, core domain recovers MAC words.
func NewRX(config Config, core sim.DomainID, lanes []sim.DomainID, sink Sink) (*RX, error) {
	if err := checkLanes(config, lanes); err != nil {
		return nil, err
	}

	deskew, err := marker.NewDeskew(marker.DeskewConfig{Lanes: config.Lanes, MaxSkew: config.MaxSkew})
	if err != nil {
		return nil, err
	}

	rx := &RX{
		config:      config,
		deskew:      deskew,
		descrambler: scrambler.NewDescrambler(config.Seed),
		sink:        sink,
		lanes:       make([]*rxLane, 0, config.Lanes),
		payload:     make([]uint64, config.Lanes),
	}
	for _, d := range lanes {
		gb, err := gearbox.New(config.RXGearbox, d, core)
		if err != nil {
			return nil, err
		}
		s, err := blocksync.New(config.Sync)
		if err != nil {
			return nil, err
		}
		a, err := marker.NewAligner(config.Markers)
		if err != nil {
			return nil, err
		}
		rx.lanes = append(rx.lanes, &rxLane{
			gearbox: gb,
			sync:    s,
			aligner: a,
		})
	}
	return rx, nil
}

// RX is the receive path: RX gearboxes, block lock, marker alignment, deskew, descrambler and decoder.
type RX struct {
	config      Config
	deskew      *marker.Deskew
	descrambler *scrambler.Descrambler
	sink        Sink
	lanes       []*rxLane

	payload []uint64
	stats   RXStats
}

// Locked reports whether all the lanes are block locked and aligned.
func (rx *RX) Locked() bool {
	return rx.deskew.Aligned() && lo.EveryBy(rx.lanes, func(l *rxLane) bool {
		return l.sync.State() == blocksync.Locked
	})
}

// Order returns physical lane carrying each logical lane.
func (rx *RX) Order() []int {
	if !rx.deskew.Aligned() {
		return nil
	}
	return append([]int{}, rx.deskew.Order()...)
}

// Stats returns counters.
func (rx *RX) Stats() RXStats {
	stats := rx.stats
	stats.Slips = lo.SumBy(rx.lanes, func(l *rxLane) uint64 { return l.sync.Stats().Slips })
	stats.LockAcquired = lo.SumBy(rx.lanes, func(l *rxLane) uint64 { return l.sync.Stats().Acquisitions })
	stats.LockLost = lo.SumBy(rx.lanes, func(l *rxLane) uint64 { return l.sync.Stats().Losses })
	stats.MarkerLocks = lo.SumBy(rx.lanes, func(l *rxLane) uint64 { return l.aligner.Stats().Locks })
	stats.MarkerLosses = lo.SumBy(rx.lanes, func(l *rxLane) uint64 { return l.aligner.Stats().Losses })
	stats.BIPErrors = lo.SumBy(rx.lanes, func(l *rxLane) uint64 { return l.aligner.Stats().BIPErrors })
	deskewStats := rx.deskew.Stats()
	stats.Alignments = deskewStats.Alignments
	stats.AlignmentLosses = deskewStats.Resets
	return stats
}

// Lane is executed on every edge of the lane clock with the deserialized word.
func (rx *RX) Lane(edge sim.Edge, lane int, data uint64, valid bool) error {
	w := uint256.Int{data}
	return rx.lanes[lane].gearbox.Write(edge, &w, valid)
}

// Tick is executed on every edge of the core clock.
func (rx *RX) Tick(ctx context.Context, edge sim.Edge) error {
	if edge.Reset {
		return rx.reset(edge)
	}

	for i, l := range rx.lanes {
		w, valid, err := l.gearbox.Read(edge, l.slip)
		if err != nil {
			return err
		}
		l.slip = false
		if !valid {
			continue
		}
		rx.stats.Blocks++
		rx.observe(ctx, edge, i, l, types.BlockFromBits(&w))
	}

	for {
		row, ok := rx.deskew.Pop()
		if !ok {
			return nil
		}
		rx.deliver(edge, row)
	}
}

func (rx *RX) observe(ctx context.Context, edge sim.Edge, lane int, l *rxLane, b types.Block) {
	status := l.sync.Observe(b.Header)
	l.slip = status.Slip
	if status.Changed {
		log := logger.Get(ctx)
		if status.State == blocksync.Locked {
			log.Info("Block lock acquired", zap.Int("lane", lane), zap.Stringer("simTime", edge.Time))
		} else {
			log.Warn("Block lock lost", zap.Int("lane", lane), zap.Stringer("simTime", edge.Time))
		}
	}

	var res marker.Result
	switch {
	case status.State == blocksync.Locked:
		res = l.aligner.Observe(b)
		if res.Changed {
			log := logger.Get(ctx)
			if res.Locked {
				log.Info("Alignment marker lock acquired", zap.Int("lane", lane),
					zap.Uint8("logicalLane", uint8(res.Lane)), zap.Stringer("simTime", edge.Time))
			} else {
				// Block boundary is wrong if valid-looking headers come without markers.
				log.Warn("Alignment marker lock lost, restarting block lock", zap.Int("lane", lane),
					zap.Stringer("simTime", edge.Time))
				l.sync.Restart()
			}
		}
		if res.BIPError {
			logger.Get(ctx).Warn("BIP error", zap.Int("lane", lane), zap.Stringer("simTime", edge.Time))
		}
	case l.aligner.Locked():
		l.aligner.Reset()
	}

	aligned := rx.deskew.Aligned()
	if err := rx.deskew.Push(lane, b, res); err != nil {
		logger.Get(ctx).Warn("Lane alignment lost", zap.Stringer("simTime", edge.Time), zap.Error(err))
	}
	if !aligned && rx.deskew.Aligned() {
		logger.Get(ctx).Info("Lanes aligned", zap.Ints("order", rx.deskew.Order()),
			zap.Stringer("simTime", edge.Time))
	}
}

func (rx *RX) deliver(edge sim.Edge, row []types.Block) {
	rx.stats.Rows++
	for i, b := range row {
		rx.payload[i] = b.Payload
	}
	rx.descrambler.Descramble(rx.payload, true)
	for i, b := range row {
		w, err := codec.Decode(types.Block{Header: b.Header, Payload: rx.payload[i]})
		if err != nil {
			rx.stats.DecodeErrors++
		}
		rx.sink.Receive(edge, w, err)
	}
}

func (rx *RX) reset(edge sim.Edge) error {
	for _, l := range rx.lanes {
		if err := l.gearbox.ResetReader(edge); err != nil {
			return err
		}
		l.sync.Reset()
		l.aligner.Reset()
		l.slip = false
	}
	rx.deskew.Reset()
	rx.descrambler.Reset(rx.config.Seed)
	return nil
}
