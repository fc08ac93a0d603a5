package link

import (
	"github.com/cespare/xxhash"

	"github.com/outofforest/mass"
	"github.com/outofforest/pcs/sim"
	"github.com/outofforest/pcs/types"
	"github.com/outofforest/photon"
)

// Byte validity masks of the words produced by the traffic generator.
const (
	maskIdle       uint8 = 0x00
	maskData       uint8 = 0xff
	maskStart0     uint8 = 0xfe
	maskStart4     uint8 = 0xe0
	maskOrderedSet uint8 = 0x0e
)

const (
	// start4Shift is the position of the sequence number in the word started at byte 4.
	start4Shift = 40

	// start4SeqBits is the number of sequence number bits carried by the word started at byte 4.
	start4SeqBits = 24

	// orderedSetData is the payload of ordered sets sent between frames.
	orderedSetData uint64 = 0x01000000

	// layoutIndex is the index used to derive frame layout from the hash.
	layoutIndex = ^uint64(0)

	massFrameSize = 1024
)

type frameKey struct {
	Seed  uint64
	Seq   uint64
	Index uint64
}

func frameHash(seed, seq, index uint64) uint64 {
	key := frameKey{
		Seed:  seed,
		Seq:   seq,
		Index: index,
	}
	return xxhash.Sum64(photon.NewFromValue(&key).B)
}

// layout describes the shape of the frame.
type layout struct {
	Start4     bool
	DataWords  uint64
	TermBytes  int
	IdleWords  uint64
	OrderedSet bool
}

func frameLayout(config Config, seq uint64) layout {
	h := frameHash(config.Seed, seq, layoutIndex)
	return layout{
		Start4:     h&0b11 == 0,
		TermBytes:  int(h>>2) % types.BytesPerWord,
		OrderedSet: (h>>5)&0b111 == 0,
		DataWords:  config.MinFrameWords + (h>>8)%(config.MaxFrameWords-config.MinFrameWords+1),
		IdleWords:  config.MinIdleWords + (h>>32)%(config.MaxIdleWords-config.MinIdleWords+1),
	}
}

// startWord returns the word opening the frame.
func startWord(seq uint64, start4 bool) types.Word {
	if start4 {
		return types.Word{
			Data: (seq & types.Mask[uint64](start4SeqBits)) << start4Shift,
			Mask: maskStart4,
		}
	}
	return types.Word{
		Data: seq << 8,
		Mask: maskStart0,
	}
}

// termWord returns the word closing the frame.
func termWord(config Config, seq uint64, l layout) types.Word {
	mask := uint8(types.Mask[uint64](uint(l.TermBytes)))
	return types.Word{
		Data: frameHash(config.Seed, seq, l.DataWords) & types.ByteMask(mask),
		Mask: mask,
	}
}

// sentFrame records when the frame left the transmitter.
type sentFrame struct {
	Seq    uint64
	SentAt sim.Time
}

// NewTraffic creates generator of the frame stream.
func NewTraffic(config Config) *Traffic {
	return &Traffic{
		config:    config,
		massFrame: mass.New[sentFrame](massFrameSize),
		layout:    frameLayout(config, 0),
	}
}

// Traffic generates deterministic stream of frames. Each frame is a start word carrying the sequence number,
// data words derived from seed and sequence number, terminate word, idle words and an occasional ordered set.
type Traffic struct {
	config    Config
	massFrame *mass.Mass[sentFrame]
	sent      []*sentFrame

	seq    uint64
	layout layout
	// pos is the position of the next word in the frame: 0 is the start word, then data words,
	// terminate word and the gap.
	pos uint64
}

// Sent returns number of frames started so far.
func (t *Traffic) Sent() uint64 {
	return uint64(len(t.sent))
}

// SentAt returns time when the frame was started.
func (t *Traffic) SentAt(seq uint64) (sim.Time, bool) {
	if seq >= uint64(len(t.sent)) {
		return 0, false
	}
	return t.sent[seq].SentAt, true
}

// Next fills the row with the next words of the stream.
func (t *Traffic) Next(edge sim.Edge, row []types.Word) {
	for i := range row {
		row[i] = t.next(edge)
	}
}

func (t *Traffic) next(edge sim.Edge) types.Word {
	l := t.layout
	pos := t.pos
	t.pos++

	switch {
	case pos == 0:
		f := t.massFrame.New()
		*f = sentFrame{
			Seq:    t.seq,
			SentAt: edge.Time,
		}
		t.sent = append(t.sent, f)
		return startWord(t.seq, l.Start4)
	case pos <= l.DataWords:
		return types.Word{
			Data: frameHash(t.config.Seed, t.seq, pos-1),
			Mask: maskData,
		}
	case pos == l.DataWords+1:
		return termWord(t.config, t.seq, l)
	}

	gap := pos - l.DataWords - 2
	if gap == l.IdleWords-1 {
		t.seq++
		t.layout = frameLayout(t.config, t.seq)
		t.pos = 0
	}
	if gap == 0 && l.OrderedSet {
		return types.Word{
			Data: orderedSetData,
			Mask: maskOrderedSet,
		}
	}
	return types.Word{Mask: maskIdle}
}
