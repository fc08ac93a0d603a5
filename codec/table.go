package codec

// BlockType is the 8-bit block type field carried in the first byte of a control block payload.
type BlockType uint8

// Block types defined by the 64b/66b encoding.
const (
	// TypeControl carries eight control codes (idle or error).
	TypeControl BlockType = 0x1e

	// TypeStart0 carries the start character in byte 0 followed by 7 data bytes.
	TypeStart0 BlockType = 0x78

	// TypeStart4 carries 4 control codes, start character in byte 4 and 3 data bytes.
	TypeStart4 BlockType = 0x33

	// TypeOrderedSet0 carries ordered set in bytes 0-3 followed by 4 control codes.
	TypeOrderedSet0 BlockType = 0x4b

	// TypeTerminate0 ... TypeTerminate7 carry k data bytes followed by the terminate character.
	TypeTerminate0 BlockType = 0x87
	TypeTerminate1 BlockType = 0x99
	TypeTerminate2 BlockType = 0xaa
	TypeTerminate3 BlockType = 0xb4
	TypeTerminate4 BlockType = 0xcc
	TypeTerminate5 BlockType = 0xd2
	TypeTerminate6 BlockType = 0xe1
	TypeTerminate7 BlockType = 0xff
)

// Control codes carried in 7-bit control fields.
const (
	codeIdle  uint8 = 0x00
	codeError uint8 = 0x1e
)

const (
	controlCodeBits = 7
	controlCodeMask = 1<<controlCodeBits - 1

	// orderedSetSequence is the O code of the sequence ordered set.
	orderedSetSequence = 0x0
)

// Byte validity masks recognized by the encoder.
const (
	maskIdle        uint8 = 0x00
	maskData        uint8 = 0xff
	maskStart0      uint8 = 0xfe
	maskStart4      uint8 = 0xe0
	maskOrderedSet0 uint8 = 0x0e
)

var terminateTypes = [8]BlockType{
	TypeTerminate0, TypeTerminate1, TypeTerminate2, TypeTerminate3,
	TypeTerminate4, TypeTerminate5, TypeTerminate6, TypeTerminate7,
}

// terminateBytes returns the number of data bytes preceding the terminate character for the mask.
// The second value is false if mask is not the terminate pattern (contiguous low bytes, at most 7).
func terminateBytes(mask uint8) (int, bool) {
	if mask == maskData {
		return 0, false
	}
	n := 0
	for mask&1 == 1 {
		mask >>= 1
		n++
	}
	return n, mask == 0
}

func terminateType(dataBytes int) BlockType {
	return terminateTypes[dataBytes]
}

func terminateBytesOfType(t BlockType) (int, bool) {
	for i, tt := range terminateTypes {
		if tt == t {
			return i, true
		}
	}
	return 0, false
}
