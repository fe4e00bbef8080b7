package container

import (
	"encoding/binary"
	"fmt"
	"math/big"
)

// Variable-length integers use LEB128: seven value bits per byte,
// high bit set on every byte except the last. Signed values are not
// zigzag encoded; instead the magnitude is shifted left one bit and
// the sign stored in the lowest bit, which keeps arbitrary-precision
// encoding a plain shift.

// readUvarint decodes an unsigned varint starting at pos and returns
// the value and the position of the first byte after it.
func readUvarint(data []byte, pos int) (uint64, int, error) {
	if pos < 0 || pos > len(data) {
		return 0, 0, fmt.Errorf("%w: varint at %d", ErrUnexpectedEOF, pos)
	}
	v, n := binary.Uvarint(data[pos:])
	if n == 0 {
		return 0, 0, fmt.Errorf("%w: varint at %d", ErrUnexpectedEOF, pos)
	}
	if n < 0 {
		return 0, 0, fmt.Errorf("%w: varint at %d overflows 64 bits", ErrBadVarint, pos)
	}
	return v, pos + n, nil
}

// appendSvarint appends the sign-in-low-bit encoding of v, which may
// exceed 64 bits.
func appendSvarint(dst []byte, v *big.Int) []byte {
	m := new(big.Int).Abs(v)
	m.Lsh(m, 1)
	if v.Sign() < 0 {
		m.SetBit(m, 0, 1)
	}
	if m.IsUint64() {
		return binary.AppendUvarint(dst, m.Uint64())
	}
	for {
		b := byte(m.Bits()[0] & 0x7f)
		m.Rsh(m, 7)
		if m.Sign() == 0 {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

// readSvarint decodes a sign-in-low-bit varint of any width starting
// at pos.
func readSvarint(data []byte, pos int) (*big.Int, int, error) {
	enc := new(big.Int)
	var chunk big.Int
	shift := uint(0)
	p := pos
	for {
		if p < 0 || p >= len(data) {
			return nil, 0, fmt.Errorf("%w: varint at %d", ErrUnexpectedEOF, pos)
		}
		b := data[p]
		p++
		chunk.SetUint64(uint64(b & 0x7f))
		chunk.Lsh(&chunk, shift)
		enc.Or(enc, &chunk)
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	neg := enc.Bit(0) == 1
	enc.Rsh(enc, 1)
	if neg {
		enc.Neg(enc)
	}
	return enc, p, nil
}
