package container

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"

	"github.com/gvanrossum/pyco/program"
)

const (
	containerMagic   = "PYC."
	containerVersion = 0
	headerSize       = 16
)

// Builder accumulates programs and standalone constants into the four
// container pools and serializes them. The zero value is not usable;
// call NewBuilder. A Builder is not safe for concurrent use.
//
// Building is a one-way street: add everything, Lock, then Bytes.
// After Lock the pool indexes are frozen, so adding a value that is
// not already interned fails with ErrPoolLocked.
type Builder struct {
	ops        *OpcodeTable
	units      *pool
	consts     *pool
	strings    *pool
	blobs      *pool
	locked     bool
	immediates bool
}

// NewBuilder returns an empty builder targeting the given opcode
// numbering; nil means DefaultOpcodes.
func NewBuilder(ops *OpcodeTable) *Builder {
	if ops == nil {
		ops = DefaultOpcodes()
	}
	return &Builder{
		ops:     ops,
		units:   newPool("unit"),
		consts:  newPool("constant"),
		strings: newPool("string"),
		blobs:   newPool("blob"),
	}
}

// SetImmediates toggles rewriting of trivially constructible constants
// (none, booleans, ellipsis, small non-negative ints, empty tuples and
// sets) into direct instructions instead of pool entries. Off by
// default: every constant gets a pool entry, which keeps pool indexes
// aligned with the unit's own constant numbering. Toggle only before
// the first add; units already added keep the mode they were built
// with.
func (b *Builder) SetImmediates(on bool) {
	b.immediates = on
}

// AddProgram interns every unit of p and returns the unit pool index
// of the outermost unit. Units the pool already holds, from this or an
// earlier program, are shared rather than re-encoded. The builder
// keeps references into p until Bytes is called, so the caller must
// not modify p afterwards.
//
// On error the builder may hold a partial interning of p and should be
// discarded.
func (b *Builder) AddProgram(p *program.Program) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	for i := range p.Units {
		if err := checkParamCells(&p.Units[i]); err != nil {
			return 0, err
		}
	}
	ids, err := p.UnitIdentities()
	if err != nil {
		return 0, err
	}

	// Register all units first so that nested unit references resolve
	// to pool indexes no matter where they appear; then build the
	// fresh ones. Preload must finish for every unit before any finish
	// runs, because finish grows the pools outside the windows.
	units := make([]int, len(p.Units))
	fresh := make([]bool, len(p.Units))
	for i := range p.Units {
		rec := &unitRecord{b: b, u: &p.Units[i], units: units}
		idx, isFresh, err := b.units.intern(unitKey(ids[i]), rec)
		if err != nil {
			return 0, fmt.Errorf("unit %s: %w", p.Units[i].Name, err)
		}
		units[i] = idx
		fresh[i] = isFresh
	}
	for i := range p.Units {
		if fresh[i] {
			if err := b.unitRecordAt(units[i]).preload(); err != nil {
				return 0, err
			}
		}
	}
	for i := range p.Units {
		if fresh[i] {
			if err := b.unitRecordAt(units[i]).finish(); err != nil {
				return 0, err
			}
		}
	}
	return units[0], nil
}

// AddConstant interns one standalone constant and returns its constant
// pool index. Unit references are only meaningful inside a program, so
// they are rejected here.
func (b *Builder) AddConstant(c program.Constant) (int, error) {
	return b.addConstant(&c, nil)
}

// Lock freezes the pool indexes. Required before Bytes.
func (b *Builder) Lock() {
	b.locked = true
	b.units.locked = true
	b.consts.locked = true
	b.strings.locked = true
	b.blobs.locked = true
}

// Counts returns the number of entries in each pool, redirects
// included.
func (b *Builder) Counts() (units, constants, strings, blobs int) {
	return b.units.len(), b.consts.len(), b.strings.len(), b.blobs.len()
}

// Bytes serializes the container. The builder must be locked.
func (b *Builder) Bytes() ([]byte, error) {
	if !b.locked {
		return nil, ErrNotLocked
	}
	pools := []*pool{b.units, b.consts, b.strings, b.blobs}
	dataStart := headerSize
	for _, p := range pools {
		dataStart += 4 + 4*p.len()
	}

	var data []byte
	offsets := make([][]uint32, len(pools))
	for pi, p := range pools {
		offs := make([]uint32, 0, p.len())
		for i := range p.entries {
			e := &p.entries[i]
			if e.isRedirect() {
				if uint64(e.target) > math.MaxUint32>>1 {
					return nil, fmt.Errorf("%w: redirect target %d", ErrTooLarge, e.target)
				}
				offs = append(offs, uint32(e.target)<<1|1)
				continue
			}
			off := dataStart + len(data)
			if uint64(off) > math.MaxUint32 {
				return nil, fmt.Errorf("%w: offset %d", ErrTooLarge, off)
			}
			offs = append(offs, uint32(off))
			var err error
			data, err = e.payload.appendTo(data)
			if err != nil {
				return nil, fmt.Errorf("failed to encode %s %d: %w", p.name, i, err)
			}
			for len(data)%4 != 0 {
				data = append(data, 0)
			}
		}
		offsets[pi] = offs
	}

	total := dataStart + len(data)
	if uint64(total) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, total)
	}
	out := make([]byte, 0, total)
	out = append(out, containerMagic...)
	out = binary.LittleEndian.AppendUint16(out, containerVersion)
	out = binary.LittleEndian.AppendUint16(out, 0) // flags
	out = binary.LittleEndian.AppendUint32(out, 0) // reserved metadata offset
	out = binary.LittleEndian.AppendUint32(out, uint32(total))
	for pi := range pools {
		out = binary.LittleEndian.AppendUint32(out, uint32(len(offsets[pi])))
		for _, off := range offsets[pi] {
			out = binary.LittleEndian.AppendUint32(out, off)
		}
	}
	if len(out) != dataStart {
		return nil, fmt.Errorf("%w: prefix is %d bytes, want %d", ErrSizeMismatch, len(out), dataStart)
	}
	return append(out, data...), nil
}

func (b *Builder) unitRecordAt(idx int) *unitRecord {
	return b.units.entries[idx].payload.(*unitRecord)
}

// addConstant interns c into the constants pool and, when the value is
// new, generates its bootstrap code.
func (b *Builder) addConstant(c *program.Constant, units []int) (int, error) {
	key, err := constantKey(c, units)
	if err != nil {
		return 0, err
	}
	bc := &bootstrapConstant{ops: b.ops}
	idx, fresh, err := b.consts.intern(key, bc)
	if err != nil {
		return 0, err
	}
	if fresh {
		if err := b.generate(bc, c, units); err != nil {
			return 0, err
		}
		bc.emit(b.ops.ReturnConstant, idx, 0)
	}
	return idx, nil
}

func (b *Builder) internString(s string) (int, error) {
	idx, _, err := b.strings.intern(s, stringPayload(s))
	return idx, err
}

func (b *Builder) internBytesBlob(v []byte) (int, error) {
	// Copied so later caller mutations cannot reach the pool.
	idx, _, err := b.blobs.intern(bytesBlobKey(v), bytesBlob(append([]byte(nil), v...)))
	return idx, err
}

func (b *Builder) internLongBlob(v *big.Int) (int, error) {
	idx, _, err := b.blobs.intern(longBlobKey(v), longBlob{value: new(big.Int).Set(v)})
	return idx, err
}

func (b *Builder) internFloatBlob(f float64) (int, error) {
	idx, _, err := b.blobs.intern(floatBlobKey(f), floatBlob(f))
	return idx, err
}

// checkParamCells rejects a unit whose parameters overlap its cell
// variables; the record's single kind byte per local cannot express a
// name that is both.
func checkParamCells(u *program.Unit) error {
	n := u.ParamCount()
	if n == 0 || len(u.CellVars) == 0 {
		return nil
	}
	cells := make(map[string]bool, len(u.CellVars))
	for _, name := range u.CellVars {
		cells[name] = true
	}
	for _, name := range u.VarNames[:n] {
		if cells[name] {
			return fmt.Errorf("%w: %q in %s at %s:%d",
				ErrParamCellCollision, name, u.Name, u.Filename, u.FirstLine)
		}
	}
	return nil
}
