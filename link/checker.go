package link

import (
	"github.com/outofforest/mass"
	"github.com/outofforest/pcs/sim"
	"github.com/outofforest/pcs/types"
)

// CheckerStats stores counters of the checker.
type CheckerStats struct {
	// Skipped is the number of words ignored before the first frame was recognized.
	Skipped uint64

	// FirstFrame is the sequence number of the first intact frame.
	FirstFrame uint64

	Received  uint64
	Corrupted uint64

	// Lost is the number of frames missing between intact ones and not counted as corrupted.
	Lost         uint64
	DecodeErrors uint64
	Unexpected   uint64
}

// maxFrameGap is the largest distance between expected and received sequence numbers accepted by the checker.
// Start word carrying sequence number further ahead is treated as corrupted.
const maxFrameGap = 1 << start4SeqBits

// receivedFrame records when the intact frame was delivered by the receiver.
type receivedFrame struct {
	Seq        uint64
	ReceivedAt sim.Time
}

// NewChecker creates checker of the frame stream generated by traffic with the same configuration.
// First skip words are ignored, they are received before descrambler synchronizes.
func NewChecker(config Config, skip uint64) *Checker {
	return &Checker{
		config:    config,
		skip:      skip,
		massFrame: mass.New[receivedFrame](massFrameSize),
	}
}

// Checker verifies frames delivered by the receiver.
// Words received before the first start word are ignored, as lanes are not aligned yet.
type Checker struct {
	config    Config
	skip      uint64
	massFrame *mass.Mass[receivedFrame]
	received  []*receivedFrame
	stats     CheckerStats

	synced   bool
	anchored bool
	inFrame  bool
	bad      bool
	seq      uint64
	next     uint64
	pos      uint64
	layout   layout
	startAt  sim.Time

	// corrupted counts frames found corrupted since the last intact one.
	corrupted uint64
}

// Stats returns counters.
func (c *Checker) Stats() CheckerStats {
	return c.stats
}

// Receive is called for every word delivered by the receiver.
func (c *Checker) Receive(edge sim.Edge, w types.Word, err error) {
	if !c.synced {
		if c.skip > 0 || err != nil || w.Mask != maskStart0 {
			if c.skip > 0 {
				c.skip--
			}
			c.stats.Skipped++
			return
		}
		c.synced = true
	}

	if err != nil {
		c.stats.DecodeErrors++
		if c.inFrame {
			c.bad = true
		}
		return
	}

	if !c.inFrame {
		c.idle(edge, w)
		return
	}

	switch {
	case c.pos < c.layout.DataWords:
		if w.Mask != maskData {
			// Frame ended prematurely, word is processed again as the one following the frame.
			c.bad = true
			c.finish()
			c.idle(edge, w)
			return
		}
		if w.Data != frameHash(c.config.Seed, c.seq, c.pos) {
			c.bad = true
		}
		c.pos++
	default:
		if w != termWord(c.config, c.seq, c.layout) {
			c.bad = true
		}
		c.finish()
	}
}

func (c *Checker) idle(edge sim.Edge, w types.Word) {
	switch w.Mask {
	case maskIdle, maskOrderedSet:
	case maskStart0:
		if !c.anchored {
			// Until the first intact frame, expected sequence number follows start words.
			c.next = w.Data >> 8
		}
		c.start(edge, w.Data>>8, false)
	case maskStart4:
		seq := c.next&^types.Mask[uint64](start4SeqBits) | w.Data>>start4Shift
		if seq < c.next {
			seq += 1 << start4SeqBits
		}
		c.start(edge, seq, true)
	default:
		c.stats.Unexpected++
	}
}

// start opens the frame. Sequence number taken from the start word is trusted only after
// the whole frame matches it, so a corrupted start word never moves the expected sequence number.
func (c *Checker) start(edge sim.Edge, seq uint64, start4 bool) {
	c.inFrame = true
	c.pos = 0
	c.startAt = edge.Time
	c.seq = seq
	c.layout = frameLayout(c.config, seq)
	c.bad = c.layout.Start4 != start4

	if seq < c.next || seq-c.next >= maxFrameGap {
		// Words are compared against the frame expected next.
		c.seq = c.next
		c.layout = frameLayout(c.config, c.next)
		c.bad = true
	}
}

func (c *Checker) finish() {
	c.inFrame = false
	if c.bad {
		c.stats.Corrupted++
		c.corrupted++
		return
	}

	if c.anchored {
		gap := c.seq - c.next
		c.stats.Lost += gap - min(gap, c.corrupted)
	} else {
		c.anchored = true
		c.stats.FirstFrame = c.seq
	}
	c.corrupted = 0
	c.next = c.seq + 1

	c.stats.Received++
	f := c.massFrame.New()
	*f = receivedFrame{
		Seq:        c.seq,
		ReceivedAt: c.startAt,
	}
	c.received = append(c.received, f)
}
