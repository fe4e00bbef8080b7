package container

import (
	"encoding/binary"
	"fmt"

	"github.com/gvanrossum/pyco/program"
)

// Local variable kinds in the unit record's kind table.
const (
	localKindVar  = 0x20
	localKindCell = 0x40
	localKindFree = 0x80
)

// unitRecord is a units-pool entry under construction. Building runs
// in two phases: preload interns the unit's constants and names inside
// contiguous pool windows, because their indexes are baked into the
// rewritten code; finish interns everything whose index only appears
// in the record header, where any index works. The record layout is
//
//	u32 x15  argcount posonly kwonly stacksize flags filename name
//	         firstline docstring linetable exctable
//	         strings_start strings_size consts_start consts_size
//	u32 n_instrs, code, 2 pad bytes when n_instrs is odd
//	u32 count, string pool index per name
//	u32 count, string pool index per local, then one kind byte each
type unitRecord struct {
	b     *Builder
	u     *program.Unit
	units []int

	stringsStart, stringsSize int
	constsStart, constsSize   int

	// slots maps a constant window slot to its window-relative operand,
	// -1 for values rewritten to immediate instructions.
	slots []int
	code  []byte
}

// isImmediate reports whether c can be rewritten into a single
// instruction with no pool entry. Only consulted when the builder has
// immediate rewriting enabled.
func isImmediate(c *program.Constant) bool {
	switch c.Kind {
	case program.KindNone, program.KindBool, program.KindEllipsis:
		return true
	case program.KindInt:
		return c.Int != nil && c.Int.IsInt64() && c.Int.Int64() >= 0 && c.Int.Int64() < 256
	case program.KindTuple, program.KindSet:
		return len(c.Elems) == 0
	}
	return false
}

// windowConstants returns the constants that go through the window:
// everything except a function-shaped unit's docstring slot.
func (r *unitRecord) windowConstants() []program.Constant {
	consts := r.u.Constants
	if r.u.FunctionShaped() && len(consts) > 0 {
		consts = consts[1:]
	}
	return consts
}

// docstring returns the unit's docstring when it has one. A none in
// the docstring slot means no docstring.
func (r *unitRecord) docstring() (string, bool) {
	u := r.u
	if u.FunctionShaped() && len(u.Constants) > 0 && u.Constants[0].Kind == program.KindString {
		return u.Constants[0].Str, true
	}
	return "", false
}

func (r *unitRecord) preload() error {
	if err := r.preloadConstants(); err != nil {
		return err
	}
	if err := r.preloadNames(); err != nil {
		return err
	}
	var err error
	r.code, err = r.rewriteCode()
	return err
}

func (r *unitRecord) preloadConstants() error {
	b := r.b
	r.constsStart = b.consts.openWindow()
	defer b.consts.closeWindow()
	consts := r.windowConstants()
	slot := 0
	for i := range consts {
		c := &consts[i]
		if b.immediates && isImmediate(c) {
			r.slots = append(r.slots, -1)
			continue
		}
		idx, err := b.addConstant(c, r.units)
		if err != nil {
			return fmt.Errorf("unit %s: constant %d: %w", r.u.Name, i, err)
		}
		if idx != r.constsStart+slot {
			return fmt.Errorf("%w: constant %d of %s interned at %d, want %d",
				ErrWindowMismatch, i, r.u.Name, idx, r.constsStart+slot)
		}
		r.slots = append(r.slots, slot)
		slot++
	}
	r.constsSize = b.consts.len() - r.constsStart
	return nil
}

func (r *unitRecord) preloadNames() error {
	b := r.b
	r.stringsStart = b.strings.openWindow()
	defer b.strings.closeWindow()
	for i, name := range r.u.Names {
		idx, _, err := b.strings.intern(name, stringPayload(name))
		if err != nil {
			return fmt.Errorf("unit %s: name %q: %w", r.u.Name, name, err)
		}
		if idx != r.stringsStart+i {
			return fmt.Errorf("%w: name %q of %s interned at %d, want %d",
				ErrWindowMismatch, name, r.u.Name, idx, r.stringsStart+i)
		}
	}
	r.stringsSize = len(r.u.Names)
	return nil
}

// finish interns the strings and blobs referenced only by the record
// header: the unit's name, line and exception tables, filename,
// docstring, and local variable names.
func (r *unitRecord) finish() error {
	b := r.b
	u := r.u
	if _, err := b.internString(u.Name); err != nil {
		return err
	}
	if _, err := b.internBytesBlob(u.LineTable); err != nil {
		return err
	}
	if _, err := b.internBytesBlob(u.ExceptionTable); err != nil {
		return err
	}
	if _, err := b.internString(u.Filename); err != nil {
		return err
	}
	if doc, ok := r.docstring(); ok {
		if _, err := b.internString(doc); err != nil {
			return err
		}
	}
	for _, names := range [][]string{u.VarNames, u.FreeVars, u.CellVars} {
		for _, name := range names {
			if _, err := b.internString(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// rewriteCode rewrites every LoadConst into either a LazyLoadConstant
// with a window-relative operand or, for immediates, the instruction
// that materializes the value directly. All other instructions pass
// through untouched.
func (r *unitRecord) rewriteCode() ([]byte, error) {
	u := r.u
	ops := r.b.ops
	code := u.Code
	fnShaped := u.FunctionShaped()
	shift := 0
	if fnShaped && len(u.Constants) > 0 {
		shift = 1
	}
	out := make([]byte, 0, len(code))
	for i := 0; i+1 < len(code); i += 2 {
		op, arg := code[i], code[i+1]
		if op != ops.LoadConst {
			out = append(out, op, arg)
			continue
		}
		if i >= 2 && code[i-2] == ops.ExtendedArg {
			return nil, fmt.Errorf("%w in %s at line %d", ErrTooManyConstants, u.Name, u.FirstLine)
		}
		slot := int(arg) - shift
		if slot < 0 {
			return nil, fmt.Errorf("%w: %s loads its docstring slot", ErrBadIndex, u.Name)
		}
		if slot >= len(r.slots) {
			return nil, fmt.Errorf("%w: constant operand %d of %s, unit has %d",
				ErrBadIndex, arg, u.Name, len(u.Constants))
		}
		if r.slots[slot] >= 0 {
			out = append(out, ops.LazyLoadConstant, byte(r.slots[slot]))
			continue
		}
		c := &u.Constants[shift+slot]
		switch c.Kind {
		case program.KindNone:
			out = append(out, ops.LoadCommonConstant, commonNone)
		case program.KindBool:
			if c.Bool {
				out = append(out, ops.LoadCommonConstant, commonTrue)
			} else {
				out = append(out, ops.LoadCommonConstant, commonFalse)
			}
		case program.KindEllipsis:
			out = append(out, ops.LoadCommonConstant, commonEllipsis)
		case program.KindInt:
			out = append(out, ops.MakeInt, byte(c.Int.Int64()))
		case program.KindTuple:
			out = append(out, ops.BuildTuple, 0)
		case program.KindSet:
			out = append(out, ops.BuildSet, 0)
		default:
			return nil, fmt.Errorf("%w: kind %s marked immediate", ErrUnsupportedConstant, c.Kind)
		}
	}
	return out, nil
}

func (r *unitRecord) appendTo(dst []byte) ([]byte, error) {
	b := r.b
	u := r.u
	if !b.locked {
		return nil, ErrNotLocked
	}
	ltIdx, err := b.internBytesBlob(u.LineTable)
	if err != nil {
		return nil, err
	}
	etIdx, err := b.internBytesBlob(u.ExceptionTable)
	if err != nil {
		return nil, err
	}
	docIdx := 0
	if doc, ok := r.docstring(); ok {
		if docIdx, err = b.internString(doc); err != nil {
			return nil, err
		}
	}
	fileIdx, err := b.internString(u.Filename)
	if err != nil {
		return nil, err
	}
	nameIdx, err := b.internString(u.Name)
	if err != nil {
		return nil, err
	}

	fields := [15]uint32{
		u.ArgCount,
		u.PosOnlyArgCount,
		u.KwOnlyArgCount,
		u.StackSize,
		u.Flags,
		uint32(fileIdx),
		uint32(nameIdx),
		u.FirstLine,
		uint32(docIdx),
		uint32(ltIdx),
		uint32(etIdx),
		uint32(r.stringsStart),
		uint32(r.stringsSize),
		uint32(r.constsStart),
		uint32(r.constsSize),
	}
	for _, f := range fields {
		dst = binary.LittleEndian.AppendUint32(dst, f)
	}

	nInstrs := len(r.code) / 2
	dst = binary.LittleEndian.AppendUint32(dst, uint32(nInstrs))
	dst = append(dst, r.code...)
	if nInstrs%2 == 1 {
		dst = append(dst, 0, 0)
	}

	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(u.Names)))
	for _, name := range u.Names {
		idx, err := b.internString(name)
		if err != nil {
			return nil, err
		}
		dst = binary.LittleEndian.AppendUint32(dst, uint32(idx))
	}

	locals := len(u.VarNames) + len(u.FreeVars) + len(u.CellVars)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(locals))
	for _, names := range [][]string{u.VarNames, u.FreeVars, u.CellVars} {
		for _, name := range names {
			idx, err := b.internString(name)
			if err != nil {
				return nil, err
			}
			dst = binary.LittleEndian.AppendUint32(dst, uint32(idx))
		}
	}
	for range u.VarNames {
		dst = append(dst, localKindVar)
	}
	for range u.FreeVars {
		dst = append(dst, localKindFree)
	}
	for range u.CellVars {
		dst = append(dst, localKindCell)
	}
	return dst, nil
}
