package marker

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/outofforest/pcs/test"
	"github.com/outofforest/pcs/types"
)

const testPeriod = 16

var testConfig = Config{
	Period:       testPeriod,
	LockMarkers:  DefaultLockMarkers,
	UnlockMisses: DefaultUnlockMisses,
}

func dataBlock(n uint64, lane types.LaneID) types.Block {
	return types.Block{Header: types.HeaderData, Payload: n<<8 | uint64(lane)}
}

// laneStream produces blocks transmitted by the generator of the lane, fed with numbered data blocks.
func laneStream(requireT *require.Assertions, lane types.LaneID, config Config, length int) []types.Block {
	g, err := NewGenerator(lane, config)
	requireT.NoError(err)

	blocks := make([]types.Block, 0, length)
	var n uint64
	for range length {
		in := dataBlock(n, lane)
		if g.Ready() {
			n++
		}
		b, _ := g.Tick(in)
		blocks = append(blocks, b)
	}
	return blocks
}

func TestInvalidConfig(t *testing.T) {
	requireT := require.New(t)

	for _, c := range []Config{
		{Period: 1, LockMarkers: 2, UnlockMisses: 4},
		{Period: 16, LockMarkers: 1, UnlockMisses: 4},
		{Period: 16, LockMarkers: 2},
	} {
		_, err := NewGenerator(0, c)
		requireT.True(errors.Is(err, types.ErrConfiguration))
		_, err = NewAligner(c)
		requireT.True(errors.Is(err, types.ErrConfiguration))
	}

	_, err := NewDeskew(DeskewConfig{Lanes: 0})
	requireT.True(errors.Is(err, types.ErrConfiguration))
	_, err = NewDeskew(DeskewConfig{Lanes: 4, MaxSkew: -1})
	requireT.True(errors.Is(err, types.ErrConfiguration))
}

func TestIEEEMarkers(t *testing.T) {
	requireT := require.New(t)

	requireT.Equal(types.Block{Header: types.HeaderControl, Payload: 0x54b8896fab477690}, Block(0, 0xab))
	requireT.Equal(types.Block{Header: types.HeaderControl, Payload: 0xff193b0f00e6c4f0}, Block(1, 0x00))
	requireT.Equal(types.Block{Header: types.HeaderControl, Payload: 0x8e649a3a719b65c5}, Block(2, 0x71))
	requireT.Equal(types.Block{Header: types.HeaderControl, Payload: 0x00c2865dff3d79a2}, Block(3, 0xff))
}

func TestMarkersAreUnique(t *testing.T) {
	requireT := require.New(t)

	seen := map[[3]byte]bool{}
	for lane := range Lanes {
		m := laneMarkers[lane]
		requireT.False(seen[m], "lane %d", lane)
		seen[m] = true

		parsedLane, bip, ok := Parse(Block(types.LaneID(lane), uint8(lane*7)))
		requireT.True(ok)
		requireT.Equal(types.LaneID(lane), parsedLane)
		requireT.Equal(uint8(lane*7), bip)
	}
}

func TestParseRejects(t *testing.T) {
	requireT := require.New(t)

	b := Block(2, 0x12)

	_, _, ok := Parse(types.Block{Header: types.HeaderData, Payload: b.Payload})
	requireT.False(ok)

	_, _, ok = Parse(types.Block{Header: types.HeaderControl, Payload: b.Payload ^ 1<<40})
	requireT.False(ok)

	_, _, ok = Parse(types.Block{Header: types.HeaderControl, Payload: 0x1e})
	requireT.False(ok)
}

func TestParity(t *testing.T) {
	requireT := require.New(t)
	rnd := test.NewRand(t)

	for range 1000 {
		b := types.Block{Header: types.Header(rnd.IntN(4)), Payload: rnd.Uint64()}

		bits := b.Bits()
		var expected uint8
		for k := range types.BlockBits {
			if bits[k/64]>>(k%64)&1 == 0 {
				continue
			}
			switch k {
			case 0, 1:
				expected ^= 1 << (3 + k)
			default:
				expected ^= 1 << ((k - 2) % 8)
			}
		}
		requireT.Equal(expected, Parity(b))
	}
}

func TestGeneratorCadence(t *testing.T) {
	requireT := require.New(t)

	g, err := NewGenerator(1, testConfig)
	requireT.NoError(err)

	for tick := range 5 * testPeriod {
		requireT.Equal(tick%testPeriod != 0, g.Ready(), "tick %d", tick)

		in := dataBlock(uint64(tick), 1)
		out, isMarker := g.Tick(in)
		requireT.Equal(tick%testPeriod == 0, isMarker)
		if isMarker {
			lane, _, ok := Parse(out)
			requireT.True(ok)
			requireT.Equal(types.LaneID(1), lane)
		} else {
			requireT.Equal(in, out)
		}
	}
}

func TestGeneratorBIP(t *testing.T) {
	requireT := require.New(t)

	blocks := laneStream(requireT, 3, testConfig, 3*testPeriod+1)

	_, bip, ok := Parse(blocks[0])
	requireT.True(ok)
	requireT.Zero(bip)

	for m := 1; m <= 3; m++ {
		var expected uint8
		for _, b := range blocks[(m-1)*testPeriod : m*testPeriod] {
			expected ^= Parity(b)
		}
		_, bip, ok := Parse(blocks[m*testPeriod])
		requireT.True(ok)
		requireT.Equal(expected, bip)
	}
}

func TestGeneratorReset(t *testing.T) {
	requireT := require.New(t)

	g, err := NewGenerator(0, testConfig)
	requireT.NoError(err)

	g.Tick(dataBlock(0, 0))
	g.Tick(dataBlock(1, 0))
	requireT.True(g.Ready())

	g.Reset()
	requireT.False(g.Ready())
	b, isMarker := g.Tick(dataBlock(2, 0))
	requireT.True(isMarker)
	requireT.Equal(Block(0, 0), b)
}

func TestAlignerLocksAndStripsMarkers(t *testing.T) {
	requireT := require.New(t)

	// Stream starts in the middle of the cadence.
	blocks := laneStream(requireT, 2, testConfig, 6*testPeriod)[5:]

	a, err := NewAligner(testConfig)
	requireT.NoError(err)

	var n uint64
	for i, b := range blocks {
		res := a.Observe(b)
		switch {
		case i < testPeriod-5:
			requireT.False(res.Locked)
		case i == 2*testPeriod-5:
			// Second marker locks.
			requireT.Equal(Result{Marker: true, Lane: 2, Locked: true, Changed: true}, res)
		case i > 2*testPeriod-5:
			requireT.True(res.Locked)
			requireT.False(res.BIPError)
			requireT.False(res.Changed)
			if res.Marker {
				requireT.Zero((i + 5) % testPeriod)
				continue
			}
			if n == 0 {
				n = b.Payload >> 8
			}
			requireT.Equal(dataBlock(n, 2), b)
			n++
		}
	}
	requireT.Equal(AlignerStats{Locks: 1, Markers: 4}, a.Stats())
}

func TestAlignerDetectsBIPError(t *testing.T) {
	requireT := require.New(t)

	blocks := laneStream(requireT, 0, testConfig, 4*testPeriod+1)
	blocks[2*testPeriod+3].Payload ^= 1 << 17

	a, err := NewAligner(testConfig)
	requireT.NoError(err)

	var errs []int
	for i, b := range blocks {
		if a.Observe(b).BIPError {
			errs = append(errs, i)
		}
	}
	requireT.Equal([]int{3 * testPeriod}, errs)
	requireT.EqualValues(1, a.Stats().BIPErrors)
	requireT.True(a.Locked())
}

func TestAlignerRejectsWrongSpacing(t *testing.T) {
	requireT := require.New(t)

	a, err := NewAligner(testConfig)
	requireT.NoError(err)

	a.Observe(Block(1, 0))
	for range testPeriod - 2 {
		a.Observe(dataBlock(0, 1))
	}
	// Marker one block too early.
	res := a.Observe(Block(1, 0))
	requireT.False(res.Locked)

	// It becomes new reference.
	for range testPeriod - 1 {
		a.Observe(dataBlock(0, 1))
	}
	res = a.Observe(Block(1, 0))
	requireT.True(res.Locked)
	requireT.True(res.Changed)
}

func TestAlignerRejectsOtherLane(t *testing.T) {
	requireT := require.New(t)

	a, err := NewAligner(testConfig)
	requireT.NoError(err)

	a.Observe(Block(1, 0))
	for range testPeriod - 1 {
		a.Observe(dataBlock(0, 1))
	}
	requireT.False(a.Observe(Block(2, 0)).Locked)
	requireT.Equal(types.LaneID(2), a.Lane())
}

func TestAlignerUnlocksAfterMissedMarkers(t *testing.T) {
	requireT := require.New(t)

	blocks := laneStream(requireT, 1, testConfig, 10*testPeriod)
	for m := 3; m < 10; m++ {
		blocks[m*testPeriod] = dataBlock(0xabc, 1)
	}

	a, err := NewAligner(testConfig)
	requireT.NoError(err)

	for i, b := range blocks {
		res := a.Observe(b)
		if i >= testPeriod && i < (3+DefaultUnlockMisses-1)*testPeriod {
			requireT.True(res.Locked, "block %d", i)
		}
		if i == (3+DefaultUnlockMisses-1)*testPeriod {
			requireT.Equal(Result{Lane: 1, Changed: true}, res)
		}
		if i > (3+DefaultUnlockMisses-1)*testPeriod {
			requireT.False(res.Locked)
		}
	}
	requireT.Equal(AlignerStats{Locks: 1, Losses: 1, Markers: 2}, a.Stats())
}

func TestAlignerMissesBelowThresholdKeepLock(t *testing.T) {
	requireT := require.New(t)

	blocks := laneStream(requireT, 1, testConfig, 20*testPeriod)
	for m := 2; m < 20; m++ {
		if m%DefaultUnlockMisses != 0 {
			blocks[m*testPeriod] = dataBlock(0xabc, 1)
		}
	}

	a, err := NewAligner(testConfig)
	requireT.NoError(err)

	for _, b := range blocks {
		a.Observe(b)
	}
	requireT.True(a.Locked())
	requireT.Zero(a.Stats().Losses)
}

func TestAlignerDropsCorruptedMarker(t *testing.T) {
	requireT := require.New(t)

	blocks := laneStream(requireT, 3, testConfig, 5*testPeriod)
	blocks[3*testPeriod].Payload ^= 1 << 20

	a, err := NewAligner(testConfig)
	requireT.NoError(err)

	var dropped []int
	for i, b := range blocks {
		res := a.Observe(b)
		if res.Marker {
			dropped = append(dropped, i)
		}
	}
	requireT.Equal([]int{testPeriod, 2 * testPeriod, 3 * testPeriod, 4 * testPeriod}, dropped)
	requireT.True(a.Locked())
	// Corrupted bit is counted by the parity of the next marker.
	requireT.Equal(AlignerStats{Locks: 1, Markers: 3, BIPErrors: 1}, a.Stats())
}

func TestDeskew(t *testing.T) {
	requireT := require.New(t)
	rnd := test.NewRand(t)

	const lanes = 4
	const maxSkew = 8

	for range 20 {
		perm := rnd.Perm(lanes)
		streams := make([][]types.Block, lanes)
		aligners := make([]*Aligner, lanes)
		for p := range lanes {
			skew := rnd.IntN(maxSkew + 1)
			stream := make([]types.Block, 0, skew+8*testPeriod)
			for range skew {
				stream = append(stream, dataBlock(0xfff, 0xff))
			}
			streams[p] = append(stream, laneStream(requireT, types.LaneID(perm[p]), testConfig, 8*testPeriod)...)

			var err error
			aligners[p], err = NewAligner(testConfig)
			requireT.NoError(err)
		}

		d, err := NewDeskew(DeskewConfig{Lanes: lanes, MaxSkew: maxSkew})
		requireT.NoError(err)

		var rows int
		var next uint64
		for i := range 8 * testPeriod {
			for p := range lanes {
				b := streams[p][i]
				requireT.NoError(d.Push(p, b, aligners[p].Observe(b)))
			}
			for {
				row, ok := d.Pop()
				if !ok {
					break
				}
				if rows == 0 {
					next = row[0].Payload >> 8
				}
				for logical, b := range row {
					requireT.Equal(dataBlock(next, types.LaneID(logical)), b)
				}
				next++
				rows++
			}
		}

		requireT.True(d.Aligned())
		requireT.Greater(rows, 4*testPeriod)
		for logical, physical := range d.Order() {
			requireT.Equal(logical, perm[physical])
		}
	}
}

func TestDeskewExcessiveSkew(t *testing.T) {
	requireT := require.New(t)

	const lanes = 2
	streams := [][]types.Block{
		laneStream(requireT, 0, testConfig, 4*testPeriod),
		append(make([]types.Block, 6), laneStream(requireT, 1, testConfig, 4*testPeriod)...),
	}
	aligners := make([]*Aligner, lanes)
	for p := range aligners {
		var err error
		aligners[p], err = NewAligner(testConfig)
		requireT.NoError(err)
	}

	d, err := NewDeskew(DeskewConfig{Lanes: lanes, MaxSkew: 4})
	requireT.NoError(err)

	var failed bool
	for i := range 4 * testPeriod {
		for p := range lanes {
			b := streams[p][i]
			if err := d.Push(p, b, aligners[p].Observe(b)); err != nil {
				failed = true
			}
		}
	}
	requireT.True(failed)
	requireT.False(d.Aligned())
}

func TestDeskewRequiresPermutation(t *testing.T) {
	requireT := require.New(t)

	d, err := NewDeskew(DeskewConfig{Lanes: 2, MaxSkew: 4})
	requireT.NoError(err)

	requireT.NoError(d.Push(0, Block(0, 0), Result{Marker: true, Lane: 0, Locked: true}))
	requireT.NoError(d.Push(1, Block(0, 0), Result{Marker: true, Lane: 0, Locked: true}))
	requireT.False(d.Aligned())

	requireT.NoError(d.Push(0, Block(0, 0), Result{Marker: true, Lane: 0, Locked: true}))
	requireT.NoError(d.Push(1, Block(1, 0), Result{Marker: true, Lane: 1, Locked: true}))
	requireT.True(d.Aligned())

	err = d.Push(1, Block(0, 0), Result{Marker: true, Lane: 0, Locked: true})
	requireT.Error(err)
	requireT.False(d.Aligned())
	requireT.Equal(DeskewStats{Alignments: 1, Resets: 1}, d.Stats())
}
