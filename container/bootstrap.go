package container

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/gvanrossum/pyco/program"
)

// instr is one (opcode, operand) pair before operand-width expansion.
type instr struct {
	op  byte
	arg int
}

// bootstrapConstant is a constants-pool entry: a short instruction
// sequence the interpreter runs to reconstruct a compound value. The
// sequence leaves exactly one value on the stack and ends with
// ReturnConstant carrying the entry's own pool index so the result
// can be memoized. The payload is
//
//	u32 max_stack  u32 n_instrs  n_instrs opcode/operand pairs
type bootstrapConstant struct {
	ops      *OpcodeTable
	instrs   []instr
	depth    int
	maxDepth int
}

func (bc *bootstrapConstant) emit(op byte, arg, effect int) {
	bc.instrs = append(bc.instrs, instr{op: op, arg: arg})
	bc.depth += effect
	if bc.depth > bc.maxDepth {
		bc.maxDepth = bc.depth
	}
}

func (bc *bootstrapConstant) appendTo(dst []byte) ([]byte, error) {
	var code []byte
	for _, in := range bc.instrs {
		if in.arg < 0 {
			return nil, fmt.Errorf("negative operand %d for %s", in.arg, bc.ops.Name(in.op))
		}
		code = appendInstr(code, bc.ops.ExtendedArg, in.op, in.arg)
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(bc.maxDepth))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(code)/2))
	return append(dst, code...), nil
}

// appendInstr appends one instruction, expanding an operand that does
// not fit a byte into ExtendedArg prefixes, most significant first.
func appendInstr(dst []byte, extendedArg, op byte, arg int) []byte {
	if arg >= 256 {
		var parts []byte
		for v := arg; v != 0; v >>= 8 {
			parts = append(parts, byte(v))
		}
		for i := len(parts) - 1; i >= 1; i-- {
			dst = append(dst, extendedArg, parts[i])
		}
		return append(dst, op, parts[0])
	}
	return append(dst, op, byte(arg))
}

// generate appends the instructions that build c. units maps the
// enclosing program's unit indexes to unit pool indexes, nil for
// standalone constants.
func (b *Builder) generate(bc *bootstrapConstant, c *program.Constant, units []int) error {
	ops := b.ops
	switch c.Kind {
	case program.KindNone:
		bc.emit(ops.LoadCommonConstant, commonNone, 1)
	case program.KindBool:
		if c.Bool {
			bc.emit(ops.LoadCommonConstant, commonTrue, 1)
		} else {
			bc.emit(ops.LoadCommonConstant, commonFalse, 1)
		}
	case program.KindEllipsis:
		bc.emit(ops.LoadCommonConstant, commonEllipsis, 1)
	case program.KindInt:
		return b.generateInt(bc, c.Int)
	case program.KindFloat:
		idx, err := b.internFloatBlob(c.Float)
		if err != nil {
			return err
		}
		bc.emit(ops.MakeFloat, idx, 1)
	case program.KindComplex:
		re, err := b.internFloatBlob(c.Real)
		if err != nil {
			return err
		}
		im, err := b.internFloatBlob(c.Imag)
		if err != nil {
			return err
		}
		bc.emit(ops.MakeFloat, re, 1)
		bc.emit(ops.MakeFloat, im, 1)
		bc.emit(ops.MakeComplex, 0, -1)
	case program.KindBytes:
		idx, err := b.internBytesBlob(c.Bytes)
		if err != nil {
			return err
		}
		bc.emit(ops.MakeBytes, idx, 1)
	case program.KindString:
		idx, err := b.internString(c.Str)
		if err != nil {
			return err
		}
		bc.emit(ops.MakeString, idx, 1)
	case program.KindTuple, program.KindSet:
		// Elements that are already pooled constants load lazily by
		// absolute pool index; anything else is built inline.
		before := bc.depth
		for i := range c.Elems {
			el := &c.Elems[i]
			key, err := constantKey(el, units)
			if err != nil {
				return err
			}
			if idx, ok := b.consts.lookup(key); ok {
				bc.emit(ops.LazyLoadConstant, idx, 1)
			} else if err := b.generate(bc, el, units); err != nil {
				return err
			}
		}
		op := ops.BuildTuple
		if c.Kind == program.KindSet {
			op = ops.BuildSet
		}
		bc.emit(op, len(c.Elems), 1-len(c.Elems))
		if bc.depth != before+1 {
			return fmt.Errorf("stack imbalance building %s constant: depth %d, want %d",
				c.Kind, bc.depth, before+1)
		}
	case program.KindUnit:
		if units == nil {
			return fmt.Errorf("%w: unit reference outside a program", ErrUnsupportedConstant)
		}
		bc.emit(ops.MakeCodeObject, units[c.Unit], 1)
	default:
		return fmt.Errorf("%w: kind %s", ErrUnsupportedConstant, c.Kind)
	}
	return nil
}

// generateInt picks the narrowest encoding: small non-negative values
// are immediate operands, small negative ones negate an immediate, and
// everything else goes to the blob pool as a signed varint.
func (b *Builder) generateInt(bc *bootstrapConstant, v *big.Int) error {
	if v.IsInt64() {
		i := v.Int64()
		switch {
		case i >= 0 && i < 1<<16:
			bc.emit(b.ops.MakeInt, int(i), 1)
			return nil
		case i >= -256 && i < 0:
			bc.emit(b.ops.MakeInt, int(-i), 1)
			bc.emit(b.ops.UnaryNegative, 0, 0)
			return nil
		}
	}
	idx, err := b.internLongBlob(v)
	if err != nil {
		return err
	}
	bc.emit(b.ops.MakeLong, idx, 1)
	return nil
}
