package types

import (
	"unsafe"

	"github.com/holiman/uint256"
	"golang.org/x/exp/constraints"
)

const (
	// HeaderBits is the number of bits in the sync header of a block.
	HeaderBits = 2

	// PayloadBits is the number of bits in the payload of a block.
	PayloadBits = 64

	// BlockBits is the number of bits in the whole 64b/66b block.
	BlockBits = HeaderBits + PayloadBits

	// BytesPerWord is the number of MAC bytes carried by one block.
	BytesPerWord = PayloadBits / 8

	// LaneWordBits is the width of the parallel interface between PCS lane and PMA.
	LaneWordBits = 32

	// DefaultLanes is the number of PCS lanes of the reference 40G link.
	DefaultLanes = 4
)

// Header is the 2-bit sync header. Bit 0 is transmitted first.
type Header uint8

const (
	// HeaderControl marks a control block.
	HeaderControl Header = 0b01

	// HeaderData marks a data block.
	HeaderData Header = 0b10
)

// Valid reports whether header is one of the two legal complementary patterns.
func (h Header) Valid() bool {
	return h == HeaderControl || h == HeaderData
}

// Block is the 66-bit unit transmitted on the wire.
type Block struct {
	Header  Header
	Payload uint64
}

// Bits packs the block into 66 bits, header first.
func (b Block) Bits() uint256.Int {
	var v uint256.Int
	v[0] = uint64(b.Header&0b11) | b.Payload<<HeaderBits
	v[1] = b.Payload >> (PayloadBits - HeaderBits)
	return v
}

// BlockFromBits unpacks block from the 66 least significant bits of v.
func BlockFromBits(v *uint256.Int) Block {
	return Block{
		Header:  Header(v[0] & 0b11),
		Payload: v[0]>>HeaderBits | v[1]<<(PayloadBits-HeaderBits),
	}
}

// Word is 64 bits of MAC data accompanied by the byte validity mask.
// Bit i of the mask set means byte i of data is live data.
type Word struct {
	Data uint64
	Mask uint8
}

// LiveData returns data with all the bytes not marked by the mask cleared.
func (w Word) LiveData() uint64 {
	return w.Data & ByteMask(w.Mask)
}

// ByteMask expands 8-bit byte validity mask to the 64-bit mask.
func ByteMask(mask uint8) uint64 {
	var m uint64
	for i := range BytesPerWord {
		if mask&(1<<i) != 0 {
			m |= 0xff << (8 * i)
		}
	}
	return m
}

// LaneID identifies PCS lane.
type LaneID uint8

// Mask returns value with n least significant bits set.
func Mask[T constraints.Unsigned](n uint) T {
	var zero T
	if n >= uint(8*unsafe.Sizeof(zero)) {
		return ^zero
	}
	return T(1)<<n - 1
}
