package container

import (
	"encoding/binary"
	"errors"
	"math/big"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gvanrossum/pyco/program"
)

// rawContainer assembles a container with hand-picked offset tables and
// data region, for reader cases a builder would never produce.
func rawContainer(tables [4][]uint32, data []byte) []byte {
	size := headerSize + len(data)
	for _, tb := range tables {
		size += 4 + 4*len(tb)
	}
	out := make([]byte, 0, size)
	out = append(out, containerMagic...)
	out = binary.LittleEndian.AppendUint16(out, containerVersion)
	out = binary.LittleEndian.AppendUint16(out, 0)
	out = binary.LittleEndian.AppendUint32(out, 0)
	out = binary.LittleEndian.AppendUint32(out, uint32(size))
	for _, tb := range tables {
		out = binary.LittleEndian.AppendUint32(out, uint32(len(tb)))
		for _, w := range tb {
			out = binary.LittleEndian.AppendUint32(out, w)
		}
	}
	return append(out, data...)
}

func buildContainer(t *testing.T, consts ...program.Constant) []byte {
	t.Helper()
	b := NewBuilder(nil)
	for _, c := range consts {
		if _, err := b.AddConstant(c); err != nil {
			t.Fatalf("AddConstant: %v", err)
		}
	}
	b.Lock()
	data, err := b.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	return data
}

func TestNewReaderErrors(t *testing.T) {
	base := buildContainer(t, program.String("hi"))

	tests := []struct {
		name   string
		mutate func([]byte) []byte
		want   error
	}{
		{
			name:   "truncated header",
			mutate: func(d []byte) []byte { return d[:12] },
			want:   ErrUnexpectedEOF,
		},
		{
			name:   "bad magic",
			mutate: func(d []byte) []byte { d[0] = 'X'; return d },
			want:   ErrBadMagic,
		},
		{
			name:   "bad version",
			mutate: func(d []byte) []byte { d[4] = 1; return d },
			want:   ErrBadVersion,
		},
		{
			name:   "nonzero flags",
			mutate: func(d []byte) []byte { d[6] = 1; return d },
			want:   ErrBadFlags,
		},
		{
			name:   "nonzero reserved word",
			mutate: func(d []byte) []byte { d[8] = 1; return d },
			want:   ErrBadFlags,
		},
		{
			name:   "short data",
			mutate: func(d []byte) []byte { return d[:len(d)-1] },
			want:   ErrSizeMismatch,
		},
		{
			name:   "trailing garbage",
			mutate: func(d []byte) []byte { return append(d, 0) },
			want:   ErrSizeMismatch,
		},
		{
			name: "offset table overruns data",
			mutate: func(d []byte) []byte {
				binary.LittleEndian.PutUint32(d[headerSize:], 1<<30)
				return d
			},
			want: ErrUnexpectedEOF,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(append([]byte(nil), base...))
			if _, err := NewReader(data); !errors.Is(err, tt.want) {
				t.Errorf("NewReader = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestResolveRedirects(t *testing.T) {
	// String 0 redirects to 1, which is itself a redirect; string 2
	// redirects past the end of the table.
	data := rawContainer([4][]uint32{
		nil,
		nil,
		{1<<1 | 1, 0<<1 | 1, 9<<1 | 1},
		nil,
	}, nil)
	r, err := NewReader(data)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	if _, err := r.ResolveStringIndex(0); !errors.Is(err, ErrRedirectChain) {
		t.Errorf("ResolveStringIndex(0) = %v, want %v", err, ErrRedirectChain)
	}
	if _, err := r.ResolveStringIndex(2); !errors.Is(err, ErrBadIndex) {
		t.Errorf("ResolveStringIndex(2) = %v, want %v", err, ErrBadIndex)
	}
	if _, err := r.ResolveStringIndex(3); !errors.Is(err, ErrBadIndex) {
		t.Errorf("ResolveStringIndex(3) = %v, want %v", err, ErrBadIndex)
	}
	if _, err := r.ResolveStringIndex(-1); !errors.Is(err, ErrBadIndex) {
		t.Errorf("ResolveStringIndex(-1) = %v, want %v", err, ErrBadIndex)
	}
}

func TestEntryOffsetOutsideDataRegion(t *testing.T) {
	// Offset 8 points into the header, offset beyond the end is equally
	// invalid. Both words are even, so they are not redirects.
	data := rawContainer([4][]uint32{nil, nil, {8, 1 << 20}, nil}, nil)
	r, err := NewReader(data)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if _, err := r.StringAt(0); !errors.Is(err, ErrMalformed) {
		t.Errorf("StringAt(0) = %v, want %v", err, ErrMalformed)
	}
	if _, err := r.StringAt(1); !errors.Is(err, ErrMalformed) {
		t.Errorf("StringAt(1) = %v, want %v", err, ErrMalformed)
	}
}

func TestStringPayloadErrors(t *testing.T) {
	// dataStart for four offset tables with two string entries.
	start := uint32(headerSize + 4*4 + 2*4)
	overflow := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x02, 0}
	data := rawContainer([4][]uint32{
		nil,
		nil,
		{start, start + 4},
		nil,
	}, append([]byte{0xf0, 'h', 'i', 0}, overflow...))
	r, err := NewReader(data)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	// 0xf0 starts a varint that runs off the end of the data.
	if _, err := r.StringAt(0); !errors.Is(err, ErrUnexpectedEOF) {
		t.Errorf("StringAt(0) = %v, want %v", err, ErrUnexpectedEOF)
	}
	// Eleven continuation bytes overflow a 64-bit length.
	if _, err := r.StringAt(1); !errors.Is(err, ErrBadVarint) {
		t.Errorf("StringAt(1) = %v, want %v", err, ErrBadVarint)
	}
}

func TestReaderMemoizesEntries(t *testing.T) {
	data := buildContainer(t,
		program.String("memo"),
		program.Int(1<<40),
		program.Tuple(program.Int(7)),
	)
	r, err := NewReader(data)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	c1, err := r.ConstantAt(2)
	if err != nil {
		t.Fatalf("ConstantAt: %v", err)
	}
	c2, err := r.ConstantAt(2)
	if err != nil {
		t.Fatalf("ConstantAt again: %v", err)
	}
	if c1 != c2 {
		t.Errorf("ConstantAt(2) decoded twice")
	}

	// Cached big ints must be copies; a caller mutating one gets a
	// fresh value on the next read.
	v1, err := r.BlobIntAt(0)
	if err != nil {
		t.Fatalf("BlobIntAt: %v", err)
	}
	v1.SetInt64(0)
	v2, err := r.BlobIntAt(0)
	if err != nil {
		t.Fatalf("BlobIntAt again: %v", err)
	}
	if want := new(big.Int).Lsh(big.NewInt(1), 40); v2.Cmp(want) != 0 {
		t.Errorf("BlobIntAt(0) = %v after caller mutation, want %v", v2, want)
	}
}

func TestUnitAtRoundTrip(t *testing.T) {
	ops := DefaultOpcodes()
	u := program.Unit{
		Name:            "f",
		Filename:        "demo.py",
		FirstLine:       3,
		Flags:           program.FlagOptimized | program.FlagNewLocals,
		ArgCount:        2,
		PosOnlyArgCount: 1,
		KwOnlyArgCount:  0,
		StackSize:       5,
		VarNames:        []string{"x", "y", "tmp"},
		FreeVars:        []string{"outer"},
		CellVars:        []string{"shared"},
		Names:           []string{"len", "print"},
		Constants: []program.Constant{
			program.String("add the things"),
			program.Int(1),
		},
		LineTable:      []byte{1, 2, 3},
		ExceptionTable: []byte{4},
		Code:           []byte{ops.LoadConst, 1, opReturnValue, 0},
	}

	b := NewBuilder(nil)
	if _, err := b.AddProgram(singleUnitProgram(u)); err != nil {
		t.Fatalf("AddProgram: %v", err)
	}
	b.Lock()
	data, err := b.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	r, err := NewReader(data)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	got, err := r.UnitAt(0)
	if err != nil {
		t.Fatalf("UnitAt: %v", err)
	}

	want := &Unit{
		Name:            "f",
		Filename:        "demo.py",
		FirstLine:       3,
		ArgCount:        2,
		PosOnlyArgCount: 1,
		StackSize:       5,
		Flags:           program.FlagOptimized | program.FlagNewLocals,
		Docstring:       "add the things",
		HasDocstring:    true,
		Code:            []byte{ops.LazyLoadConstant, 0, opReturnValue, 0},
		LineTable:       []byte{1, 2, 3},
		ExceptionTable:  []byte{4},
		Names:           []string{"len", "print"},
		VarNames:        []string{"x", "y", "tmp"},
		FreeVars:        []string{"outer"},
		CellVars:        []string{"shared"},
		StringsStart:    got.StringsStart,
		StringsSize:     2,
		ConstsStart:     got.ConstsStart,
		ConstsSize:      1,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unit mismatch (-want +got):\n%s", diff)
	}

	// The name window covers exactly the operand table.
	for i, name := range want.Names {
		s, err := r.StringAt(int(got.StringsStart) + i)
		if err != nil {
			t.Fatalf("StringAt: %v", err)
		}
		if s != name {
			t.Errorf("window string %d = %q, want %q", i, s, name)
		}
	}
}

func TestUnitAtBadLocalKind(t *testing.T) {
	u := moduleUnit(nil, nil)
	u.VarNames = []string{"x"}

	b := NewBuilder(nil)
	if _, err := b.AddProgram(singleUnitProgram(u)); err != nil {
		t.Fatalf("AddProgram: %v", err)
	}
	b.Lock()
	data, err := b.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}

	probe, err := NewReader(data)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	// The kind byte trails the record: 15 header words, the instruction
	// count, the empty names table, and the one-entry locals table.
	kindAt := int(probe.unitOffs[0]) + 15*4 + 4 + 4 + 4 + 4
	data[kindAt] = 0x07

	r, err := NewReader(data)
	if err != nil {
		t.Fatalf("NewReader after corruption: %v", err)
	}
	if _, err := r.UnitAt(0); !errors.Is(err, ErrMalformed) {
		t.Errorf("UnitAt = %v, want %v", err, ErrMalformed)
	}
}

func TestConstantAtTruncatedCode(t *testing.T) {
	start := uint32(headerSize + 4*4 + 1*4)
	// Claims 100 instructions but carries none.
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint32(payload, 1)
	binary.LittleEndian.PutUint32(payload[4:], 100)
	data := rawContainer([4][]uint32{nil, {start}, nil, nil}, payload)
	r, err := NewReader(data)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if _, err := r.ConstantAt(0); !errors.Is(err, ErrUnexpectedEOF) {
		t.Errorf("ConstantAt = %v, want %v", err, ErrUnexpectedEOF)
	}
}
