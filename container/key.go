package container

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"sort"

	"github.com/gvanrossum/pyco/program"
)

// Pool keys are compact byte strings encoding value identity. Keys are
// type aware: the integer 1, the boolean true, and the float 1.0 all
// intern separately even though many host languages compare them
// equal. Floats key on their IEEE 754 bits, so 0.0 and -0.0 stay
// distinct and equal-bit NaNs intern together. Every variable-length
// part is length prefixed, which keeps concatenated element keys
// inside tuple and set keys unambiguous.

func appendFloatBits(dst []byte, f float64) []byte {
	return binary.LittleEndian.AppendUint64(dst, math.Float64bits(f))
}

// Blob pool keys. Longs, floats, and byte strings share one pool, so
// each key starts with a kind tag.

func longBlobKey(v *big.Int) string {
	return "l" + v.String()
}

func floatBlobKey(f float64) string {
	return string(appendFloatBits([]byte{'f'}, f))
}

func bytesBlobKey(b []byte) string {
	return "y" + string(b)
}

// unitKey keys the unit pool by subtree identity digest.
func unitKey(id program.Digest) string {
	return string(id[:])
}

// constantKey returns the constants-pool key for c. units maps the
// unit indexes of the enclosing program record to unit pool indexes;
// it is nil for standalone constants, which therefore cannot hold
// unit references.
func constantKey(c *program.Constant, units []int) (string, error) {
	key, err := appendConstantKey(nil, c, units)
	if err != nil {
		return "", err
	}
	return string(key), nil
}

func appendConstantKey(dst []byte, c *program.Constant, units []int) ([]byte, error) {
	switch c.Kind {
	case program.KindNone:
		return append(dst, 'N'), nil
	case program.KindBool:
		if c.Bool {
			return append(dst, 'T'), nil
		}
		return append(dst, 'F'), nil
	case program.KindEllipsis:
		return append(dst, 'E'), nil
	case program.KindInt:
		if c.Int == nil {
			return nil, fmt.Errorf("%w: int constant without a value", ErrUnsupportedConstant)
		}
		dec := c.Int.String()
		dst = append(dst, 'i')
		dst = binary.AppendUvarint(dst, uint64(len(dec)))
		return append(dst, dec...), nil
	case program.KindFloat:
		return appendFloatBits(append(dst, 'f'), c.Float), nil
	case program.KindComplex:
		dst = appendFloatBits(append(dst, 'c'), c.Real)
		return appendFloatBits(dst, c.Imag), nil
	case program.KindBytes:
		dst = append(dst, 'y')
		dst = binary.AppendUvarint(dst, uint64(len(c.Bytes)))
		return append(dst, c.Bytes...), nil
	case program.KindString:
		dst = append(dst, 's')
		dst = binary.AppendUvarint(dst, uint64(len(c.Str)))
		return append(dst, c.Str...), nil
	case program.KindTuple:
		dst = append(dst, 't')
		dst = binary.AppendUvarint(dst, uint64(len(c.Elems)))
		for i := range c.Elems {
			var err error
			dst, err = appendConstantKey(dst, &c.Elems[i], units)
			if err != nil {
				return nil, err
			}
		}
		return dst, nil
	case program.KindSet:
		// Sets are unordered, so element keys are sorted to make the
		// key independent of record order.
		keys := make([]string, len(c.Elems))
		for i := range c.Elems {
			k, err := appendConstantKey(nil, &c.Elems[i], units)
			if err != nil {
				return nil, err
			}
			keys[i] = string(k)
		}
		sort.Strings(keys)
		dst = append(dst, 'S')
		dst = binary.AppendUvarint(dst, uint64(len(keys)))
		for _, k := range keys {
			dst = append(dst, k...)
		}
		return dst, nil
	case program.KindUnit:
		if units == nil {
			return nil, fmt.Errorf("%w: unit reference outside a program", ErrUnsupportedConstant)
		}
		if c.Unit < 0 || c.Unit >= len(units) {
			return nil, fmt.Errorf("%w: unit reference %d out of range", ErrUnsupportedConstant, c.Unit)
		}
		dst = append(dst, 'u')
		return binary.AppendUvarint(dst, uint64(units[c.Unit])), nil
	default:
		return nil, fmt.Errorf("%w: kind %s", ErrUnsupportedConstant, c.Kind)
	}
}
