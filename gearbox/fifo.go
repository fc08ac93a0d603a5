package gearbox

import (
	"github.com/holiman/uint256"

	"github.com/outofforest/pcs/types"
)

// bitFIFO stores bits in arrival order, bit 0 of the first word being the oldest one.
type bitFIFO struct {
	words []uint64
	start uint64
	n     uint64
}

// Len returns number of stored bits.
func (f *bitFIFO) Len() uint64 {
	return f.n
}

// Push appends width least significant bits of v.
func (f *bitFIFO) Push(v *uint256.Int, width uint64) {
	for off := uint64(0); off < width; off += 64 {
		c := min(64, width-off)
		f.pushBits(v[off/64]&types.Mask[uint64](uint(c)), c)
	}
}

// Pop removes width oldest bits.
func (f *bitFIFO) Pop(width uint64) uint256.Int {
	var v uint256.Int
	for off := uint64(0); off < width; off += 64 {
		v[off/64] = f.popBits(min(64, width-off))
	}
	return v
}

// Drop discards n oldest bits.
func (f *bitFIFO) Drop(n uint64) {
	n = min(n, f.n)
	f.start += n
	f.n -= n
	f.compact()
}

// Reset drops all the bits.
func (f *bitFIFO) Reset() {
	clear(f.words)
	f.words = f.words[:0]
	f.start = 0
	f.n = 0
}

func (f *bitFIFO) pushBits(x, c uint64) {
	end := f.start + f.n
	for uint64(len(f.words)) <= (end+c-1)/64 {
		f.words = append(f.words, 0)
	}

	idx, sh := end/64, end%64
	f.words[idx] |= x << sh
	if sh+c > 64 {
		f.words[idx+1] |= x >> (64 - sh)
	}
	f.n += c
}

func (f *bitFIFO) popBits(c uint64) uint64 {
	idx, sh := f.start/64, f.start%64
	x := f.words[idx] >> sh
	if sh+c > 64 {
		x |= f.words[idx+1] << (64 - sh)
	}

	f.start += c
	f.n -= c
	f.compact()
	return x & types.Mask[uint64](uint(c))
}

// compact removes fully consumed words. Words above the end of the data are always zero.
func (f *bitFIFO) compact() {
	w := f.start / 64
	if w == 0 {
		return
	}
	n := copy(f.words, f.words[w:])
	clear(f.words[n:])
	f.words = f.words[:n]
	f.start %= 64
}
