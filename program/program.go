// Package program defines the compiled-program record shape consumed
// by the container builder. A front-end compiler produces a Program: a
// depth-first list of executable units (outermost first), each carrying
// its instruction stream, typed constants, and name tables. The package
// also provides the CBOR wire codec for shipping records between
// processes and BLAKE3 content digests for cache keying.
package program

import "math/big"

// Kind identifies the type of a constant. The set is closed: the
// container encodes each kind differently and rejects anything else.
type Kind uint8

const (
	KindNone Kind = iota
	KindBool
	KindEllipsis
	KindInt
	KindFloat
	KindComplex
	KindBytes
	KindString
	KindTuple
	KindSet
	KindUnit
)

// String returns the lowercase kind name for diagnostics.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindBool:
		return "bool"
	case KindEllipsis:
		return "ellipsis"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindComplex:
		return "complex"
	case KindBytes:
		return "bytes"
	case KindString:
		return "string"
	case KindTuple:
		return "tuple"
	case KindSet:
		return "set"
	case KindUnit:
		return "unit"
	default:
		return "invalid"
	}
}

// Constant is one typed constant value. Kind selects which payload
// fields are meaningful; the rest stay at their zero values.
//
// Numeric kinds are deliberately distinct: an integer 1 and the
// boolean true are different constants even though they compare equal
// in most host languages, because reconstructing one as the other
// would change program behavior.
type Constant struct {
	Kind  Kind       `cbor:"1,keyasint"`
	Bool  bool       `cbor:"2,keyasint,omitempty"`
	Int   *big.Int   `cbor:"3,keyasint,omitempty"`
	Float float64    `cbor:"4,keyasint"`
	Real  float64    `cbor:"5,keyasint"`
	Imag  float64    `cbor:"6,keyasint"`
	Bytes []byte     `cbor:"7,keyasint,omitempty"`
	Str   string     `cbor:"8,keyasint,omitempty"`
	Elems []Constant `cbor:"9,keyasint,omitempty"`
	Unit  int        `cbor:"10,keyasint,omitempty"`
}

// Unit is one compiled executable block reduced to an instruction
// stream plus metadata. Code is a sequence of fixed-width
// (opcode, operand) byte pairs. For function-shaped units the first
// constant is conventionally the docstring (a string or none).
type Unit struct {
	Name            string     `cbor:"1,keyasint"`
	Filename        string     `cbor:"2,keyasint"`
	FirstLine       uint32     `cbor:"3,keyasint,omitempty"`
	Flags           uint32     `cbor:"4,keyasint,omitempty"`
	ArgCount        uint32     `cbor:"5,keyasint,omitempty"`
	PosOnlyArgCount uint32     `cbor:"6,keyasint,omitempty"`
	KwOnlyArgCount  uint32     `cbor:"7,keyasint,omitempty"`
	StackSize       uint32     `cbor:"8,keyasint,omitempty"`
	Code            []byte     `cbor:"9,keyasint,omitempty"`
	Constants       []Constant `cbor:"10,keyasint,omitempty"`
	Names           []string   `cbor:"11,keyasint,omitempty"`
	VarNames        []string   `cbor:"12,keyasint,omitempty"`
	FreeVars        []string   `cbor:"13,keyasint,omitempty"`
	CellVars        []string   `cbor:"14,keyasint,omitempty"`
	LineTable       []byte     `cbor:"15,keyasint,omitempty"`
	ExceptionTable  []byte     `cbor:"16,keyasint,omitempty"`
}

// Program is a whole compiled program: the outermost unit followed by
// every nested unit, depth-first in definition order. A KindUnit
// constant references another unit by its index in Units and always
// points forward (nested units come after their parent).
type Program struct {
	Units []Unit `cbor:"1,keyasint"`
}

// Unit flag bits. The low two bits mark function bodies (optimized
// locals, fresh namespace); the next two mark *args / **kwargs
// parameters, which widen the parameter count.
const (
	FlagOptimized   uint32 = 0x1
	FlagNewLocals   uint32 = 0x2
	FlagVarArgs     uint32 = 0x4
	FlagVarKeywords uint32 = 0x8
)

const functionFlags = FlagOptimized | FlagNewLocals

// Comprehension bodies carry function flags but store no docstring in
// their constant slot 0, so they are excluded from the function shape.
var comprehensionNames = map[string]bool{
	"<genexpr>":  true,
	"<listcomp>": true,
	"<setcomp>":  true,
	"<dictcomp>": true,
}

// FunctionShaped reports whether the unit follows the function
// convention of storing its docstring as constant slot 0.
func (u *Unit) FunctionShaped() bool {
	return u.Flags&functionFlags == functionFlags && !comprehensionNames[u.Name]
}

// ParamCount returns how many leading VarNames entries are parameters:
// positional plus keyword-only, widened by one each for *args and
// **kwargs when the corresponding flag is set.
func (u *Unit) ParamCount() int {
	n := int(u.ArgCount) + int(u.KwOnlyArgCount)
	if u.Flags&FlagVarArgs != 0 {
		n++
	}
	if u.Flags&FlagVarKeywords != 0 {
		n++
	}
	return n
}

// ---------------------------------------------------------------------------
// Constant constructors
// ---------------------------------------------------------------------------

// None returns the none singleton constant.
func None() Constant { return Constant{Kind: KindNone} }

// Bool returns a boolean constant.
func Bool(v bool) Constant { return Constant{Kind: KindBool, Bool: v} }

// Ellipsis returns the ellipsis singleton constant.
func Ellipsis() Constant { return Constant{Kind: KindEllipsis} }

// Int returns an integer constant.
func Int(v int64) Constant { return Constant{Kind: KindInt, Int: big.NewInt(v)} }

// BigInt returns an integer constant holding v. The value is not
// copied; callers must not mutate it afterwards.
func BigInt(v *big.Int) Constant { return Constant{Kind: KindInt, Int: v} }

// Float returns a floating-point constant.
func Float(v float64) Constant { return Constant{Kind: KindFloat, Float: v} }

// Complex returns a complex constant from its real and imaginary parts.
func Complex(re, im float64) Constant { return Constant{Kind: KindComplex, Real: re, Imag: im} }

// Bytes returns a byte-string constant.
func Bytes(v []byte) Constant { return Constant{Kind: KindBytes, Bytes: v} }

// String returns a text constant.
func String(v string) Constant { return Constant{Kind: KindString, Str: v} }

// Tuple returns a tuple constant over the given elements.
func Tuple(elems ...Constant) Constant { return Constant{Kind: KindTuple, Elems: elems} }

// Set returns a frozen-set constant over the given elements.
func Set(elems ...Constant) Constant { return Constant{Kind: KindSet, Elems: elems} }

// UnitRef returns a constant referencing the unit at index i, used
// where a nested unit (a closure template) appears as a constant.
func UnitRef(i int) Constant { return Constant{Kind: KindUnit, Unit: i} }
