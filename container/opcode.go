package container

import "strconv"

// OpcodeTable names the host opcodes the builder rewrites or emits.
// The container format itself is opcode-agnostic; the numbers are a
// property of the interpreter the container targets, so they are
// passed in rather than hard-coded. DefaultOpcodes returns the table
// for the reference interpreter.
type OpcodeTable struct {
	// Host opcodes consumed or emitted while rewriting unit code.
	LoadConst     byte
	ExtendedArg   byte
	UnaryNegative byte
	BuildTuple    byte
	BuildSet      byte

	// Opcodes specific to lazily loaded container constants.
	LazyLoadConstant   byte
	MakeString         byte
	MakeInt            byte
	MakeLong           byte
	MakeFloat          byte
	MakeComplex        byte
	MakeFrozenSet      byte
	MakeCodeObject     byte
	MakeBytes          byte
	LoadCommonConstant byte
	ReturnConstant     byte

	// Mnemonics for opcodes the builder passes through untouched,
	// used only to render reports.
	Mnemonics map[byte]string
}

// Operand values for LoadCommonConstant.
const (
	commonNone     = 0
	commonFalse    = 1
	commonTrue     = 2
	commonEllipsis = 3
)

// DefaultOpcodes returns the opcode numbering of the reference
// interpreter: the container opcodes claim the unused range starting
// at 170.
func DefaultOpcodes() *OpcodeTable {
	return &OpcodeTable{
		LoadConst:     100,
		ExtendedArg:   144,
		UnaryNegative: 11,
		BuildTuple:    102,
		BuildSet:      104,

		LazyLoadConstant:   170,
		MakeString:         171,
		MakeInt:            172,
		MakeLong:           173,
		MakeFloat:          174,
		MakeComplex:        175,
		MakeFrozenSet:      176,
		MakeCodeObject:     177,
		MakeBytes:          178,
		LoadCommonConstant: 179,
		ReturnConstant:     180,

		Mnemonics: map[byte]string{
			1:   "POP_TOP",
			83:  "RETURN_VALUE",
			90:  "STORE_NAME",
			101: "LOAD_NAME",
			116: "LOAD_GLOBAL",
			124: "LOAD_FAST",
			125: "STORE_FAST",
			131: "CALL_FUNCTION",
			132: "MAKE_FUNCTION",
		},
	}
}

// Name returns the mnemonic for op, or its number when unknown.
func (t *OpcodeTable) Name(op byte) string {
	switch op {
	case t.LoadConst:
		return "LOAD_CONST"
	case t.ExtendedArg:
		return "EXTENDED_ARG"
	case t.UnaryNegative:
		return "UNARY_NEGATIVE"
	case t.BuildTuple:
		return "BUILD_TUPLE"
	case t.BuildSet:
		return "BUILD_SET"
	case t.LazyLoadConstant:
		return "LAZY_LOAD_CONSTANT"
	case t.MakeString:
		return "MAKE_STRING"
	case t.MakeInt:
		return "MAKE_INT"
	case t.MakeLong:
		return "MAKE_LONG"
	case t.MakeFloat:
		return "MAKE_FLOAT"
	case t.MakeComplex:
		return "MAKE_COMPLEX"
	case t.MakeFrozenSet:
		return "MAKE_FROZEN_SET"
	case t.MakeCodeObject:
		return "MAKE_CODE_OBJECT"
	case t.MakeBytes:
		return "MAKE_BYTES"
	case t.LoadCommonConstant:
		return "LOAD_COMMON_CONSTANT"
	case t.ReturnConstant:
		return "RETURN_CONSTANT"
	}
	if name, ok := t.Mnemonics[op]; ok {
		return name
	}
	return "op(" + strconv.Itoa(int(op)) + ")"
}
