package codec

import (
	"github.com/pkg/errors"

	"github.com/outofforest/pcs/types"
)

// Decode recovers MAC word from the block.
// Any header/payload combination outside the encoding table is reported as decode violation.
// Bytes which are not live data are returned as zeros.
func Decode(b types.Block) (types.Word, error) {
	switch b.Header {
	case types.HeaderData:
		return types.Word{
			Data: b.Payload,
			Mask: maskData,
		}, nil
	case types.HeaderControl:
	default:
		return types.Word{}, errors.Wrapf(types.ErrDecodeViolation, "invalid sync header %#02b", b.Header)
	}

	t := BlockType(b.Payload)
	switch t {
	case TypeControl:
		if err := checkControlCodes(b.Payload, 8, 8); err != nil {
			return types.Word{}, err
		}
		return types.Word{Mask: maskIdle}, nil
	case TypeStart0:
		return types.Word{
			Data: b.Payload &^ 0xff,
			Mask: maskStart0,
		}, nil
	case TypeStart4:
		if err := checkControlCodes(b.Payload, 8, 4); err != nil {
			return types.Word{}, err
		}
		if b.Payload&0xf000000000 != 0 {
			return types.Word{}, errors.Wrapf(types.ErrDecodeViolation, "non-zero padding in block type %#02x", t)
		}
		return types.Word{
			Data: b.Payload & 0xffffff0000000000,
			Mask: maskStart4,
		}, nil
	case TypeOrderedSet0:
		if o := (b.Payload >> 32) & 0xf; o != orderedSetSequence {
			return types.Word{}, errors.Wrapf(types.ErrDecodeViolation, "unsupported O code %#x", o)
		}
		if err := checkControlCodes(b.Payload, 36, 4); err != nil {
			return types.Word{}, err
		}
		return types.Word{
			Data: b.Payload & 0x00000000ffffff00,
			Mask: maskOrderedSet0,
		}, nil
	}

	n, ok := terminateBytesOfType(t)
	if !ok {
		return types.Word{}, errors.Wrapf(types.ErrDecodeViolation, "unknown block type %#02x", t)
	}

	// Everything above the data bytes (padding and idle codes) must be zero.
	if n < 7 && b.Payload>>(8+8*n) != 0 {
		return types.Word{}, errors.Wrapf(types.ErrDecodeViolation, "non-idle control codes in block type %#02x", t)
	}
	return types.Word{
		Data: b.Payload >> 8,
		Mask: uint8(types.Mask[uint64](uint(n))),
	}, nil
}

func checkControlCodes(payload uint64, offset, count int) error {
	for i := range count {
		if code := uint8(payload>>(offset+controlCodeBits*i)) & controlCodeMask; code != codeIdle {
			return errors.Wrapf(types.ErrDecodeViolation, "control code %#02x at position %d", code, i)
		}
	}
	return nil
}
