package marker

import (
	"github.com/pkg/errors"
	"github.com/zeebo/blake3"

	"github.com/outofforest/pcs/types"
	"github.com/outofforest/photon"
)

const (
	// DefaultPeriod is the distance, in blocks, between consecutive markers on a lane.
	DefaultPeriod = 16384

	// DefaultLockMarkers is the number of markers, found exactly one period apart, required to lock.
	DefaultLockMarkers = 2

	// DefaultUnlockMisses is the number of consecutive missing markers causing lock to be lost.
	DefaultUnlockMisses = 4

	// DefaultMaxSkew is the maximum difference, in blocks, between marker arrival on different lanes.
	DefaultMaxSkew = 64

	// Lanes is the number of lanes for which marker is defined.
	Lanes = 256
)

// ieeeLanes are the M0, M1, M2 values defined for 40GBASE-R lanes.
var ieeeLanes = [][3]byte{
	{0x90, 0x76, 0x47},
	{0xf0, 0xc4, 0xe6},
	{0xc5, 0x65, 0x9b},
	{0xa2, 0x79, 0x3d},
}

var (
	laneMarkers [Lanes][3]byte
	markerLanes = map[[3]byte]types.LaneID{}
)

func init() {
	for i := range Lanes {
		lane := types.LaneID(i)
		m := deriveMarker(lane)
		laneMarkers[i] = m
		markerLanes[m] = lane
	}
}

func deriveMarker(lane types.LaneID) [3]byte {
	if int(lane) < len(ieeeLanes) {
		return ieeeLanes[lane]
	}

	seed := photon.NewFromValue(&lane).B
	for {
		sum := blake3.Sum256(seed)
		for i := 0; i+3 <= len(sum); i += 3 {
			m := [3]byte{sum[i], sum[i+1], sum[i+2]}
			if _, exists := markerLanes[m]; !exists && !isIEEEMarker(m) {
				return m
			}
		}
		seed = sum[:]
	}
}

func isIEEEMarker(m [3]byte) bool {
	for _, l := range ieeeLanes {
		if l == m {
			return true
		}
	}
	return false
}

// Config stores marker cadence configuration shared by generators and aligners.
type Config struct {
	Period       uint64
	LockMarkers  uint32
	UnlockMisses uint32
}

// DefaultConfig is the configuration used by 40GBASE-R.
var DefaultConfig = Config{
	Period:       DefaultPeriod,
	LockMarkers:  DefaultLockMarkers,
	UnlockMisses: DefaultUnlockMisses,
}

// Validate verifies configuration.
func (c Config) Validate() error {
	if c.Period < 2 {
		return errors.Wrapf(types.ErrConfiguration, "marker period must be at least 2, got %d", c.Period)
	}
	if c.LockMarkers < 2 {
		return errors.Wrapf(types.ErrConfiguration, "at least 2 markers are required to lock, got %d", c.LockMarkers)
	}
	if c.UnlockMisses == 0 {
		return errors.Wrap(types.ErrConfiguration, "unlock threshold must be positive")
	}
	return nil
}

// Block returns marker block of the lane carrying provided parity.
func Block(lane types.LaneID, bip uint8) types.Block {
	m := laneMarkers[lane]
	payload := uint64(m[0]) | uint64(m[1])<<8 | uint64(m[2])<<16 | uint64(bip)<<24
	return types.Block{
		Header:  types.HeaderControl,
		Payload: payload | ^payload<<32,
	}
}

// Parse checks if block is a marker and returns its lane and parity.
func Parse(b types.Block) (types.LaneID, uint8, bool) {
	if b.Header != types.HeaderControl {
		return 0, 0, false
	}
	low := uint32(b.Payload)
	if ^low != uint32(b.Payload>>32) {
		return 0, 0, false
	}
	lane, exists := markerLanes[[3]byte{byte(low), byte(low >> 8), byte(low >> 16)}]
	if !exists {
		return 0, 0, false
	}
	return lane, byte(low >> 24), true
}

// Parity computes bit-interleaved parity of the block.
// Payload bit i contributes to parity bit i mod 8, header bits 0 and 1 to parity bits 3 and 4.
func Parity(b types.Block) uint8 {
	p := b.Payload ^ b.Payload>>32
	p ^= p >> 16
	p ^= p >> 8
	return uint8(p) ^ uint8(b.Header&0b01)<<3 ^ uint8(b.Header&0b10)<<3
}
