package covscript

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/txscript"
)

const (
	// maxPushDataSize is the largest size a push-data prefix can encode.
	maxPushDataSize = 0xffffffff

	// maxSizePasses bounds the fixed-point search of NestedSizePrefix.
	maxSizePasses = 3
)

// PushDataEncodingLength returns the number of bytes of the push-data prefix
// needed to push size bytes: the opcode itself for sizes below
// OP_PUSHDATA1, plus one, two or four length bytes otherwise.
func PushDataEncodingLength(size uint64) int {
	switch {
	case size < txscript.OP_PUSHDATA1:
		return 1
	case size <= 0xff:
		return 2
	case size <= 0xffff:
		return 3
	default:
		return 5
	}
}

// EncodePushDataPrefix returns the minimal push-data prefix for size bytes.
func EncodePushDataPrefix(size uint64) ([]byte, error) {
	switch {
	case size < txscript.OP_PUSHDATA1:
		return []byte{byte(size)}, nil

	case size <= 0xff:
		return []byte{txscript.OP_PUSHDATA1, byte(size)}, nil

	case size <= 0xffff:
		b := []byte{txscript.OP_PUSHDATA2, 0, 0}
		binary.LittleEndian.PutUint16(b[1:], uint16(size))
		return b, nil

	case size <= maxPushDataSize:
		b := []byte{txscript.OP_PUSHDATA4, 0, 0, 0, 0}
		binary.LittleEndian.PutUint32(b[1:], uint32(size))
		return b, nil

	default:
		return nil, newErrf(ErrScriptTooLarge, "cannot push %d bytes",
			size)
	}
}

// DecodePushDataPrefix parses a push-data prefix at the start of b and
// returns the pushed size and the length of the prefix.
func DecodePushDataPrefix(b []byte) (uint64, int, error) {
	if len(b) == 0 {
		return 0, 0, newErrf(ErrMalformedPush, "empty prefix")
	}

	op := b[0]
	switch {
	case op < txscript.OP_PUSHDATA1:
		return uint64(op), 1, nil

	case op == txscript.OP_PUSHDATA1 && len(b) >= 2:
		return uint64(b[1]), 2, nil

	case op == txscript.OP_PUSHDATA2 && len(b) >= 3:
		return uint64(binary.LittleEndian.Uint16(b[1:3])), 3, nil

	case op == txscript.OP_PUSHDATA4 && len(b) >= 5:
		return uint64(binary.LittleEndian.Uint32(b[1:5])), 5, nil

	default:
		return 0, 0, newErrf(ErrMalformedPush, "invalid prefix %x", b)
	}
}

// NestedSizePrefix returns the push-data prefix of a body that consists of a
// script of scriptSize bytes preceded by a push of that very prefix. The
// prefix counts its own footprint: the pushed total is scriptSize plus the
// prefix length plus the single opcode that pushes the prefix. When counting
// the prefix moves the total into the next encoding class, the computation
// is repeated with the larger prefix.
func NestedSizePrefix(scriptSize uint64) ([]byte, error) {
	pushPrefixLen := PushDataEncodingLength(scriptSize)

	for pass := 0; pass < maxSizePasses; pass++ {
		outerPrefixLen := PushDataEncodingLength(uint64(pushPrefixLen))
		total := scriptSize + uint64(pushPrefixLen) +
			uint64(outerPrefixLen)

		if PushDataEncodingLength(total) == pushPrefixLen {
			log.Tracef("Nested size prefix for %d byte script "+
				"settled after %d pass(es) at %d bytes",
				scriptSize, pass+1, total)

			return EncodePushDataPrefix(total)
		}

		pushPrefixLen = PushDataEncodingLength(total)
	}

	return nil, newErrf(ErrSizeNotSettled, "script size %d", scriptSize)
}

// EncodeValue encodes an amount as the 8-byte little-endian form pushed by
// the value introspection opcodes.
func EncodeValue(value uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], value)
	return b[:]
}

// DecodeValue is the inverse of EncodeValue.
func DecodeValue(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, newErrf(ErrMalformedPush, "value of %d bytes", len(b))
	}
	return binary.LittleEndian.Uint64(b), nil
}
