package pcs

import (
	"context"

	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/pcs/codec"
	"github.com/outofforest/pcs/gearbox"
	"github.com/outofforest/pcs/marker"
	"github.com/outofforest/pcs/scrambler"
	"github.com/outofforest/pcs/sim"
	"github.com/outofforest/pcs/types"
)

// TXStats stores transmitter counters.
type TXStats struct {
	Rows     uint64
	Markers  uint64
	Rejected uint64
}

type txLane struct {
	generator *marker.Generator
	gearbox   *gearbox.Gearbox
}

// NewTX creates transmitter. Core domain produces blocks, lane domains drain lane words.
func NewTX(config Config, core sim.DomainID, lanes []sim.DomainID, source Source) (*TX, error) {
	if err := checkLanes(config, lanes); err != nil {
		return nil, err
	}

	tx := &TX{
		config:    config,
		encoder:   codec.NewEncoder(),
		scrambler: scrambler.New(config.Seed),
		source:    source,
		lanes:     make([]txLane, 0, config.Lanes),
		row:       make([]types.Word, config.Lanes),
		headers:   make([]types.Header, config.Lanes),
		payload:   make([]uint64, config.Lanes),
	}
	for i, d := range lanes {
		g, err := marker.NewGenerator(types.LaneID(i), config.Markers)
		if err != nil {
			return nil, err
		}
		gb, err := gearbox.New(config.TXGearbox, core, d)
		if err != nil {
			return nil, err
		}
		tx.lanes = append(tx.lanes, txLane{
			generator: g,
			gearbox:   gb,
		})
	}
	return tx, nil
}

// TX is the transmit path: encoder, scrambler, marker insertion and TX gearboxes.
type TX struct {
	config    Config
	encoder   *codec.Encoder
	scrambler *scrambler.Scrambler
	source    Source
	lanes     []txLane

	row     []types.Word
	headers []types.Header
	payload []uint64
	stats   TXStats
}

// Stats returns counters.
func (tx *TX) Stats() TXStats {
	return tx.stats
}

// Tick is executed on every edge of the core clock.
func (tx *TX) Tick(ctx context.Context, edge sim.Edge) error {
	if edge.Reset {
		tx.encoder.Reset()
		tx.scrambler.Reset(tx.config.Seed)
		for _, l := range tx.lanes {
			l.generator.Reset()
			if err := l.gearbox.ResetWriter(edge); err != nil {
				return err
			}
		}
		return nil
	}

	// All generators share the cadence.
	if tx.lanes[0].generator.Ready() {
		tx.encodeRow(ctx, edge)
	} else {
		tx.stats.Markers++
	}

	for i, l := range tx.lanes {
		b, _ := l.generator.Tick(types.Block{Header: tx.headers[i], Payload: tx.payload[i]})
		bits := b.Bits()
		if err := l.gearbox.Write(edge, &bits, true); err != nil {
			return err
		}
	}
	return nil
}

// Lane is executed on every edge of the lane clock and returns the word to be serialized.
func (tx *TX) Lane(edge sim.Edge, lane int) (uint64, bool, error) {
	w, valid, err := tx.lanes[lane].gearbox.Read(edge, false)
	return w[0], valid, err
}

func (tx *TX) encodeRow(ctx context.Context, edge sim.Edge) {
	tx.source.Next(edge, tx.row)
	for i, w := range tx.row {
		b, err := tx.encoder.Encode(w)
		if err != nil {
			tx.stats.Rejected++
			// Powers of two only, to keep the log readable when the source is broken.
			if tx.stats.Rejected&(tx.stats.Rejected-1) == 0 {
				logger.Get(ctx).Warn("Word rejected by encoder",
					zap.Int("lane", i),
					zap.Uint64("cycle", edge.Cycle),
					zap.Uint64("rejected", tx.stats.Rejected),
					zap.Error(err))
			}
			b = codec.ErrorBlock()
		}
		tx.headers[i] = b.Header
		tx.payload[i] = b.Payload
	}
	tx.scrambler.Scramble(tx.payload, true)
	tx.stats.Rows++
}
