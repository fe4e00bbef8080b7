package container

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
)

// Header is the fixed 16-byte container prefix.
type Header struct {
	Version   uint16
	Flags     uint16
	Reserved  uint32
	TotalSize uint32
}

// ConstantCode is a decoded constants-pool entry: the bootstrap
// instruction stream that rebuilds the value, and the stack room it
// needs. Code is a view into the container's data and must not be
// modified.
type ConstantCode struct {
	MaxStack uint32
	Code     []byte
}

// Unit is a decoded units-pool entry. Code, LineTable, and
// ExceptionTable are views into the container's data and must not be
// modified.
type Unit struct {
	Name      string
	Filename  string
	FirstLine uint32

	ArgCount        uint32
	PosOnlyArgCount uint32
	KwOnlyArgCount  uint32
	StackSize       uint32
	Flags           uint32

	// Docstring is set when HasDocstring is true. A unit whose
	// docstring happens to sit at string pool index zero reads back as
	// having none; index zero doubles as the absent marker.
	Docstring    string
	HasDocstring bool

	Code           []byte
	LineTable      []byte
	ExceptionTable []byte

	Names    []string
	VarNames []string
	FreeVars []string
	CellVars []string

	// The contiguous pool windows holding this unit's constants and
	// names, for interpreters that map operands straight to pool
	// indexes.
	StringsStart, StringsSize uint32
	ConstsStart, ConstsSize   uint32
}

// Reader gives lazy access to a serialized container. The header and
// offset tables are validated eagerly; entry payloads are decoded on
// first access and memoized. A Reader is not safe for concurrent use.
type Reader struct {
	data      []byte
	header    Header
	dataStart int

	unitOffs   []uint32
	constOffs  []uint32
	stringOffs []uint32
	blobOffs   []uint32

	units      []*Unit
	consts     []*ConstantCode
	strings    []string
	stringsSet []bool
	blobBytes  map[int][]byte
	blobInts   map[int]*big.Int
	blobFloats map[int]float64
}

// NewReader validates the header and offset tables of data and returns
// a reader over it. The reader keeps data; the caller must not modify
// it afterwards.
func NewReader(data []byte) (*Reader, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d byte container", ErrUnexpectedEOF, len(data))
	}
	if string(data[:4]) != containerMagic {
		return nil, fmt.Errorf("%w: got %q", ErrBadMagic, data[:4])
	}
	h := Header{
		Version:   binary.LittleEndian.Uint16(data[4:6]),
		Flags:     binary.LittleEndian.Uint16(data[6:8]),
		Reserved:  binary.LittleEndian.Uint32(data[8:12]),
		TotalSize: binary.LittleEndian.Uint32(data[12:16]),
	}
	if h.Version != containerVersion {
		return nil, fmt.Errorf("%w: version %d", ErrBadVersion, h.Version)
	}
	if h.Flags != 0 {
		return nil, fmt.Errorf("%w: flags 0x%04x", ErrBadFlags, h.Flags)
	}
	if h.Reserved != 0 {
		return nil, fmt.Errorf("%w: reserved metadata offset 0x%08x", ErrBadFlags, h.Reserved)
	}
	if uint64(h.TotalSize) != uint64(len(data)) {
		return nil, fmt.Errorf("%w: header says %d bytes, have %d", ErrSizeMismatch, h.TotalSize, len(data))
	}

	r := &Reader{
		data:       data,
		header:     h,
		blobBytes:  make(map[int][]byte),
		blobInts:   make(map[int]*big.Int),
		blobFloats: make(map[int]float64),
	}
	pos := headerSize
	var err error
	if r.unitOffs, pos, err = readOffsetTable(data, pos); err != nil {
		return nil, fmt.Errorf("failed to read unit table: %w", err)
	}
	if r.constOffs, pos, err = readOffsetTable(data, pos); err != nil {
		return nil, fmt.Errorf("failed to read constant table: %w", err)
	}
	if r.stringOffs, pos, err = readOffsetTable(data, pos); err != nil {
		return nil, fmt.Errorf("failed to read string table: %w", err)
	}
	if r.blobOffs, pos, err = readOffsetTable(data, pos); err != nil {
		return nil, fmt.Errorf("failed to read blob table: %w", err)
	}
	r.dataStart = pos
	r.units = make([]*Unit, len(r.unitOffs))
	r.consts = make([]*ConstantCode, len(r.constOffs))
	r.strings = make([]string, len(r.stringOffs))
	r.stringsSet = make([]bool, len(r.stringOffs))
	return r, nil
}

// Header returns the parsed container header.
func (r *Reader) Header() Header { return r.header }

// Counts returns the entry count of each pool, redirects included.
func (r *Reader) Counts() (units, constants, strings, blobs int) {
	return len(r.unitOffs), len(r.constOffs), len(r.stringOffs), len(r.blobOffs)
}

// ResolveConstantIndex returns the primary index behind constant pool
// index i, following at most one redirect.
func (r *Reader) ResolveConstantIndex(i int) (int, error) {
	return resolveIndex("constant", r.constOffs, i)
}

// ResolveStringIndex returns the primary index behind string pool
// index i, following at most one redirect.
func (r *Reader) ResolveStringIndex(i int) (int, error) {
	return resolveIndex("string", r.stringOffs, i)
}

// StringAt returns the string at pool index i.
func (r *Reader) StringAt(i int) (string, error) {
	if i >= 0 && i < len(r.strings) && r.stringsSet[i] {
		return r.strings[i], nil
	}
	off, err := r.resolve("string", r.stringOffs, i)
	if err != nil {
		return "", err
	}
	n, pos, err := readUvarint(r.data, off)
	if err != nil {
		return "", fmt.Errorf("string %d: %w", i, err)
	}
	if n > uint64(len(r.data)-pos) {
		return "", fmt.Errorf("%w: string %d wants %d bytes", ErrUnexpectedEOF, i, n)
	}
	s := string(r.data[pos : pos+int(n)])
	r.strings[i] = s
	r.stringsSet[i] = true
	return s, nil
}

// BlobBytesAt returns the length-prefixed byte string at blob pool
// index i. The result is a view into the container's data.
func (r *Reader) BlobBytesAt(i int) ([]byte, error) {
	if b, ok := r.blobBytes[i]; ok {
		return b, nil
	}
	off, err := r.resolve("blob", r.blobOffs, i)
	if err != nil {
		return nil, err
	}
	n, pos, err := readUvarint(r.data, off)
	if err != nil {
		return nil, fmt.Errorf("blob %d: %w", i, err)
	}
	if n > uint64(len(r.data)-pos) {
		return nil, fmt.Errorf("%w: blob %d wants %d bytes", ErrUnexpectedEOF, i, n)
	}
	b := r.data[pos : pos+int(n) : pos+int(n)]
	r.blobBytes[i] = b
	return b, nil
}

// BlobIntAt decodes the blob at pool index i as a signed varint.
func (r *Reader) BlobIntAt(i int) (*big.Int, error) {
	if v, ok := r.blobInts[i]; ok {
		return new(big.Int).Set(v), nil
	}
	off, err := r.resolve("blob", r.blobOffs, i)
	if err != nil {
		return nil, err
	}
	v, _, err := readSvarint(r.data, off)
	if err != nil {
		return nil, fmt.Errorf("blob %d: %w", i, err)
	}
	r.blobInts[i] = v
	return new(big.Int).Set(v), nil
}

// BlobFloatAt decodes the blob at pool index i as eight little-endian
// IEEE 754 bytes.
func (r *Reader) BlobFloatAt(i int) (float64, error) {
	if v, ok := r.blobFloats[i]; ok {
		return v, nil
	}
	off, err := r.resolve("blob", r.blobOffs, i)
	if err != nil {
		return 0, err
	}
	if len(r.data)-off < 8 {
		return 0, fmt.Errorf("%w: blob %d as float", ErrUnexpectedEOF, i)
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(r.data[off:]))
	r.blobFloats[i] = v
	return v, nil
}

// ConstantAt returns the bootstrap code at constant pool index i.
func (r *Reader) ConstantAt(i int) (*ConstantCode, error) {
	if i >= 0 && i < len(r.consts) && r.consts[i] != nil {
		return r.consts[i], nil
	}
	off, err := r.resolve("constant", r.constOffs, i)
	if err != nil {
		return nil, err
	}
	maxStack, pos, err := readUint32(r.data, off)
	if err != nil {
		return nil, fmt.Errorf("constant %d: %w", i, err)
	}
	nInstrs, pos, err := readUint32(r.data, pos)
	if err != nil {
		return nil, fmt.Errorf("constant %d: %w", i, err)
	}
	n := int(nInstrs) * 2
	if uint64(n) > uint64(len(r.data)-pos) {
		return nil, fmt.Errorf("%w: constant %d wants %d instructions", ErrUnexpectedEOF, i, nInstrs)
	}
	c := &ConstantCode{MaxStack: maxStack, Code: r.data[pos : pos+n : pos+n]}
	r.consts[i] = c
	return c, nil
}

// UnitAt returns the decoded unit at pool index i.
func (r *Reader) UnitAt(i int) (*Unit, error) {
	if i >= 0 && i < len(r.units) && r.units[i] != nil {
		return r.units[i], nil
	}
	off, err := r.resolve("unit", r.unitOffs, i)
	if err != nil {
		return nil, err
	}
	var f [15]uint32
	pos := off
	for j := range f {
		if f[j], pos, err = readUint32(r.data, pos); err != nil {
			return nil, fmt.Errorf("unit %d: %w", i, err)
		}
	}
	u := &Unit{
		ArgCount:        f[0],
		PosOnlyArgCount: f[1],
		KwOnlyArgCount:  f[2],
		StackSize:       f[3],
		Flags:           f[4],
		FirstLine:       f[7],
		StringsStart:    f[11],
		StringsSize:     f[12],
		ConstsStart:     f[13],
		ConstsSize:      f[14],
	}
	if u.Filename, err = r.StringAt(int(f[5])); err != nil {
		return nil, fmt.Errorf("unit %d filename: %w", i, err)
	}
	if u.Name, err = r.StringAt(int(f[6])); err != nil {
		return nil, fmt.Errorf("unit %d name: %w", i, err)
	}
	if f[8] != 0 {
		u.HasDocstring = true
		if u.Docstring, err = r.StringAt(int(f[8])); err != nil {
			return nil, fmt.Errorf("unit %d docstring: %w", i, err)
		}
	}
	if u.LineTable, err = r.BlobBytesAt(int(f[9])); err != nil {
		return nil, fmt.Errorf("unit %d line table: %w", i, err)
	}
	if u.ExceptionTable, err = r.BlobBytesAt(int(f[10])); err != nil {
		return nil, fmt.Errorf("unit %d exception table: %w", i, err)
	}

	nInstrs, pos, err := readUint32(r.data, pos)
	if err != nil {
		return nil, fmt.Errorf("unit %d: %w", i, err)
	}
	n := int(nInstrs) * 2
	if nInstrs%2 == 1 {
		n += 2 // code is padded to a 4-byte boundary
	}
	if uint64(n) > uint64(len(r.data)-pos) {
		return nil, fmt.Errorf("%w: unit %d wants %d instructions", ErrUnexpectedEOF, i, nInstrs)
	}
	u.Code = r.data[pos : pos+int(nInstrs)*2 : pos+int(nInstrs)*2]
	pos += n

	if u.Names, pos, err = r.readStringTable(pos); err != nil {
		return nil, fmt.Errorf("unit %d names: %w", i, err)
	}
	locals, pos, err := r.readStringTable(pos)
	if err != nil {
		return nil, fmt.Errorf("unit %d locals: %w", i, err)
	}
	if len(locals) > len(r.data)-pos {
		return nil, fmt.Errorf("%w: unit %d local kinds", ErrUnexpectedEOF, i)
	}
	for j, name := range locals {
		switch r.data[pos+j] {
		case localKindVar:
			u.VarNames = append(u.VarNames, name)
		case localKindFree:
			u.FreeVars = append(u.FreeVars, name)
		case localKindCell:
			u.CellVars = append(u.CellVars, name)
		default:
			return nil, fmt.Errorf("%w: unit %d local %q has kind 0x%02x",
				ErrMalformed, i, name, r.data[pos+j])
		}
	}
	r.units[i] = u
	return u, nil
}

// readStringTable reads a u32 count followed by that many string pool
// indexes and resolves them.
func (r *Reader) readStringTable(pos int) ([]string, int, error) {
	count, pos, err := readUint32(r.data, pos)
	if err != nil {
		return nil, 0, err
	}
	if uint64(count)*4 > uint64(len(r.data)-pos) {
		return nil, 0, fmt.Errorf("%w: table of %d entries", ErrUnexpectedEOF, count)
	}
	names := make([]string, 0, count)
	for j := 0; j < int(count); j++ {
		var idx uint32
		if idx, pos, err = readUint32(r.data, pos); err != nil {
			return nil, 0, err
		}
		s, err := r.StringAt(int(idx))
		if err != nil {
			return nil, 0, err
		}
		names = append(names, s)
	}
	return names, pos, nil
}

func (r *Reader) resolve(name string, offs []uint32, i int) (int, error) {
	p, err := resolveIndex(name, offs, i)
	if err != nil {
		return 0, err
	}
	off := int(offs[p])
	if off < r.dataStart || off >= len(r.data) {
		return 0, fmt.Errorf("%w: %s %d at offset %d", ErrMalformed, name, i, off)
	}
	return off, nil
}

// resolveIndex follows at most one redirect; a redirect pointing at
// another redirect is an error, chains are not part of the format.
func resolveIndex(name string, offs []uint32, i int) (int, error) {
	if i < 0 || i >= len(offs) {
		return 0, fmt.Errorf("%w: %s %d of %d", ErrBadIndex, name, i, len(offs))
	}
	if offs[i]&1 == 0 {
		return i, nil
	}
	t := int(offs[i] >> 1)
	if t < 0 || t >= len(offs) {
		return 0, fmt.Errorf("%w: %s %d redirects to %d of %d", ErrBadIndex, name, i, t, len(offs))
	}
	if offs[t]&1 != 0 {
		return 0, fmt.Errorf("%w: %s %d via %d", ErrRedirectChain, name, i, t)
	}
	return t, nil
}

func readOffsetTable(data []byte, pos int) ([]uint32, int, error) {
	count, pos, err := readUint32(data, pos)
	if err != nil {
		return nil, 0, err
	}
	if uint64(count)*4 > uint64(len(data)-pos) {
		return nil, 0, fmt.Errorf("%w: offset table of %d entries", ErrUnexpectedEOF, count)
	}
	offs := make([]uint32, count)
	for i := range offs {
		if offs[i], pos, err = readUint32(data, pos); err != nil {
			return nil, 0, err
		}
	}
	return offs, pos, nil
}

func readUint32(data []byte, pos int) (uint32, int, error) {
	if pos < 0 || len(data)-pos < 4 {
		return 0, 0, fmt.Errorf("%w: u32 at %d", ErrUnexpectedEOF, pos)
	}
	return binary.LittleEndian.Uint32(data[pos:]), pos + 4, nil
}
