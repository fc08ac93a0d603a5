package codec

import (
	"github.com/pkg/errors"

	"github.com/outofforest/pcs/types"
)

// NewEncoder creates new block encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Encoder maps MAC words to 66-bit blocks.
// The only state kept is whether a frame is open, required to tell terminate-at-byte-0 from idle.
type Encoder struct {
	inFrame bool
}

// InFrame reports whether the last encoded word opened a frame which has not been terminated yet.
func (e *Encoder) InFrame() bool {
	return e.inFrame
}

// Reset brings encoder to its initial state.
func (e *Encoder) Reset() {
	e.inFrame = false
}

// Encode encodes MAC word into block.
// Unsupported mask is reported as configuration error and encoder state is left untouched.
func (e *Encoder) Encode(w types.Word) (types.Block, error) {
	switch w.Mask {
	case maskData:
		return types.Block{
			Header:  types.HeaderData,
			Payload: w.Data,
		}, nil
	case maskIdle:
		if e.inFrame {
			e.inFrame = false
			return terminateBlock(0, 0), nil
		}
		return IdleBlock(), nil
	case maskStart0:
		e.inFrame = true
		return controlBlock(TypeStart0, w.Data&^0xff), nil
	case maskStart4:
		e.inFrame = true
		return controlBlock(TypeStart4, w.Data&0xffffff0000000000), nil
	case maskOrderedSet0:
		// D1..D3 in bytes 1-3, O code in bits 32-35, four idle codes above.
		return controlBlock(TypeOrderedSet0, w.Data&0x00000000ffffff00|orderedSetSequence<<32), nil
	}

	n, ok := terminateBytes(w.Mask)
	if !ok {
		return types.Block{}, errors.Wrapf(types.ErrConfiguration, "unsupported byte validity mask %#02x", w.Mask)
	}
	e.inFrame = false
	return terminateBlock(n, w.Data), nil
}

// IdleBlock returns control block carrying eight idle codes.
func IdleBlock() types.Block {
	return controlBlock(TypeControl, 0)
}

// ErrorBlock returns control block carrying eight error codes.
func ErrorBlock() types.Block {
	var payload uint64
	for i := range 8 {
		payload |= uint64(codeError) << (8 + controlCodeBits*i)
	}
	return controlBlock(TypeControl, payload)
}

func controlBlock(t BlockType, payload uint64) types.Block {
	return types.Block{
		Header:  types.HeaderControl,
		Payload: payload&^0xff | uint64(t),
	}
}

// terminateBlock builds block with dataBytes data bytes followed by terminate character.
// Data occupies bytes 1..dataBytes, idle codes for the remaining positions are packed towards bit 63
// and the gap between is zero padding.
func terminateBlock(dataBytes int, data uint64) types.Block {
	payload := (data & types.Mask[uint64](uint(8*dataBytes))) << 8
	return controlBlock(terminateType(dataBytes), payload)
}
