package gearbox

import (
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/outofforest/pcs/sim"
	"github.com/outofforest/pcs/types"
)

const (
	// MaxWidth is the maximum width of input and output words.
	MaxWidth = 256

	// DefaultCapacity is the default capacity of the elastic buffer in bits.
	DefaultCapacity = 512

	// DefaultRingCapacity is the default number of messages which may be in flight between domains.
	DefaultRingCapacity = 64
)

// TXConfig is the configuration of the transmit gearbox converting blocks to lane words.
var TXConfig = Config{
	InWidth:        types.BlockBits,
	OutWidth:       types.LaneWordBits,
	Capacity:       DefaultCapacity,
	StartThreshold: types.BlockBits + 2*types.LaneWordBits,
	RingCapacity:   DefaultRingCapacity,
}

// RXConfig is the configuration of the receive gearbox converting lane words to blocks.
var RXConfig = Config{
	InWidth:        types.LaneWordBits,
	OutWidth:       types.BlockBits,
	Capacity:       DefaultCapacity,
	StartThreshold: types.LaneWordBits + 2*types.BlockBits,
	RingCapacity:   DefaultRingCapacity,
	Bitslip:        true,
}

// Config stores gearbox configuration.
type Config struct {
	// InWidth is the width of words written by the source domain.
	InWidth uint64

	// OutWidth is the width of words read by the destination domain.
	OutWidth uint64

	// Capacity is the maximum number of bits buffered by the reader.
	Capacity uint64

	// StartThreshold is the number of bits which must be buffered before the first word is produced.
	StartThreshold uint64

	// RingCapacity is the maximum number of messages in flight between domains.
	RingCapacity uint64

	// Latency is the time needed by the word to cross the domain boundary.
	Latency sim.Time

	// Bitslip enables bitslip input.
	Bitslip bool
}

// Validate verifies configuration.
func (c Config) Validate() error {
	if c.InWidth == 0 || c.InWidth > MaxWidth {
		return errors.Wrapf(types.ErrConfiguration, "input width must be in range 1-%d, got %d", MaxWidth, c.InWidth)
	}
	if c.OutWidth == 0 || c.OutWidth > MaxWidth {
		return errors.Wrapf(types.ErrConfiguration, "output width must be in range 1-%d, got %d", MaxWidth,
			c.OutWidth)
	}
	if c.StartThreshold < c.OutWidth {
		return errors.Wrapf(types.ErrConfiguration, "start threshold %d is lower than output width %d",
			c.StartThreshold, c.OutWidth)
	}
	if c.Capacity < c.StartThreshold+c.InWidth {
		return errors.Wrapf(types.ErrConfiguration, "capacity %d can't hold start threshold %d and input word",
			c.Capacity, c.StartThreshold)
	}
	if c.RingCapacity == 0 {
		return errors.Wrap(types.ErrConfiguration, "ring capacity must be positive")
	}
	return nil
}

// Stats stores gearbox counters.
type Stats struct {
	Written uint64
	Read    uint64
	Gaps    uint64
	Slips   uint64
	Flushes uint64
}

// New creates new gearbox transferring words from writer domain to reader domain.
func New(config Config, writer, reader sim.DomainID) (*Gearbox, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Gearbox{
		config: config,
		writer: writer,
		reader: reader,
		ring:   newRing(config.RingCapacity, writer, reader),
	}, nil
}

// Gearbox converts stream of InWidth-bit words clocked by writer domain into stream of OutWidth-bit words
// clocked by reader domain, preserving order of bits.
// Writer owns only the put side of the ring, everything else belongs to the reader.
type Gearbox struct {
	config         Config
	writer, reader sim.DomainID
	ring           *ring

	// Reader side.
	fifo     bitFIFO
	primed   bool
	active   bool
	slipDebt uint64
	stats    Stats
}

// Level returns number of bits buffered by the reader.
func (g *Gearbox) Level() uint64 {
	return g.fifo.Len()
}

// Stats returns counters.
func (g *Gearbox) Stats() Stats {
	return g.stats
}

// Write passes word from the source domain. Word with valid unset carries no bits,
// it informs the reader that the source is idle.
func (g *Gearbox) Write(edge sim.Edge, word *uint256.Int, valid bool) error {
	if edge.Domain != g.writer {
		return errors.Wrapf(types.ErrDomain, "gearbox written from domain %d, expected %d", edge.Domain, g.writer)
	}
	if edge.Reset {
		return g.ResetWriter(edge)
	}

	m := message{
		Time:  edge.Time,
		Type:  messageWord,
		Valid: valid,
	}
	if valid {
		m.Word = *word
	}
	return g.ring.Put(edge.Domain, m)
}

// ResetWriter resets the source side. Bits written before are dropped by the reader once it receives
// the reset notification.
func (g *Gearbox) ResetWriter(edge sim.Edge) error {
	if edge.Domain != g.writer {
		return errors.Wrapf(types.ErrDomain, "writer reset from domain %d, expected %d", edge.Domain, g.writer)
	}
	return g.ring.Put(edge.Domain, message{
		Time: edge.Time,
		Type: messageFlush,
	})
}

// Read produces word in the destination domain. If bitslip is set, one bit is discarded before the word is taken.
// Lack of data is reported by unset valid, error is returned only when the buffer runs dry
// while the source is streaming.
func (g *Gearbox) Read(edge sim.Edge, bitslip bool) (uint256.Int, bool, error) {
	if edge.Domain != g.reader {
		return uint256.Int{}, false, errors.Wrapf(types.ErrDomain, "gearbox read from domain %d, expected %d",
			edge.Domain, g.reader)
	}
	if edge.Reset {
		return uint256.Int{}, false, g.ResetReader(edge)
	}
	if err := g.receive(edge); err != nil {
		return uint256.Int{}, false, err
	}

	if bitslip {
		if !g.config.Bitslip {
			return uint256.Int{}, false, errors.Wrap(types.ErrConfiguration, "bitslip is not supported")
		}
		if g.fifo.Len() > 0 {
			g.fifo.Drop(1)
			if g.primed {
				g.slipDebt++
			}
		}
		g.stats.Slips++
	}

	if !g.primed {
		if g.fifo.Len() < g.config.StartThreshold {
			return uint256.Int{}, false, nil
		}
		g.primed = true
	}

	if g.fifo.Len() >= g.config.OutWidth {
		g.stats.Read++
		return g.fifo.Pop(g.config.OutWidth), true, nil
	}

	g.stats.Gaps++
	switch {
	case g.slipDebt > 0:
		// Every OutWidth slipped bits cost one missing word.
		g.slipDebt -= min(g.slipDebt, g.config.OutWidth)
	case g.active:
		return uint256.Int{}, false, errors.Wrapf(types.ErrUnderrun, "%d bits buffered, %d required",
			g.fifo.Len(), g.config.OutWidth)
	default:
		// Source stopped and buffer is drained, start from scratch once it resumes.
		g.primed = false
	}
	return uint256.Int{}, false, nil
}

// ResetReader resets the destination side, buffered bits and messages received so far are dropped.
func (g *Gearbox) ResetReader(edge sim.Edge) error {
	if edge.Domain != g.reader {
		return errors.Wrapf(types.ErrDomain, "reader reset from domain %d, expected %d", edge.Domain, g.reader)
	}
	for {
		m, ok, err := g.ring.Peek(edge.Domain)
		if err != nil {
			return err
		}
		if !ok || m.Time+g.config.Latency > edge.Time {
			break
		}
		if _, _, err := g.ring.Get(edge.Domain); err != nil {
			return err
		}
	}
	g.flush()
	return nil
}

func (g *Gearbox) receive(edge sim.Edge) error {
	for {
		m, ok, err := g.ring.Peek(edge.Domain)
		if err != nil {
			return err
		}
		if !ok || m.Time+g.config.Latency > edge.Time {
			return nil
		}

		switch {
		case m.Type == messageFlush:
			g.flush()
			g.stats.Flushes++
		case m.Valid:
			if g.fifo.Len()+g.config.InWidth > g.config.Capacity {
				return errors.Wrapf(types.ErrOverrun, "%d bits buffered, capacity is %d", g.fifo.Len(),
					g.config.Capacity)
			}
			g.fifo.Push(&m.Word, g.config.InWidth)
			g.active = true
			g.stats.Written++
		default:
			g.active = false
		}

		if _, _, err := g.ring.Get(edge.Domain); err != nil {
			return err
		}
	}
}

func (g *Gearbox) flush() {
	g.fifo.Reset()
	g.primed = false
	g.active = false
	g.slipDebt = 0
}
