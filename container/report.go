package container

import (
	"fmt"
	"io"
	"strings"
)

var commonConstantNames = [...]string{"None", "False", "True", "Ellipsis"}

// WriteReport writes a human-readable dump of the container to w:
// header summary, then every unit with a disassembly of its code,
// then the constant, string, and blob pools with redirects annotated.
// A nil ops uses DefaultOpcodes.
func (r *Reader) WriteReport(w io.Writer, ops *OpcodeTable) error {
	if ops == nil {
		ops = DefaultOpcodes()
	}
	rw := &reportWriter{w: w}

	h := r.header
	rw.printf("container: %d bytes, version %d\n", h.TotalSize, h.Version)
	rw.printf("units: %d, constants: %d%s, strings: %d%s, blobs: %d%s\n",
		len(r.unitOffs),
		len(r.constOffs), redirectNote(r.constOffs),
		len(r.stringOffs), redirectNote(r.stringOffs),
		len(r.blobOffs), redirectNote(r.blobOffs))

	for i := range r.unitOffs {
		if err := r.reportUnit(rw, ops, i); err != nil {
			return err
		}
	}
	for i, off := range r.constOffs {
		rw.printf("\n")
		if off&1 != 0 {
			rw.printf("constant %d -> %d (redirect)\n", i, off>>1)
			continue
		}
		c, err := r.ConstantAt(i)
		if err != nil {
			return err
		}
		rw.printf("constant %d @ %d: stack %d, %d instrs\n", i, off, c.MaxStack, len(c.Code)/2)
		rw.disassemble("  ", c.Code, ops, nil)
	}
	rw.printf("\n")
	for i, off := range r.stringOffs {
		if off&1 != 0 {
			rw.printf("string %d -> %d (redirect)\n", i, off>>1)
			continue
		}
		s, err := r.StringAt(i)
		if err != nil {
			return err
		}
		rw.printf("string %d @ %d: %q\n", i, off, s)
	}
	rw.printf("\n")
	for i, off := range r.blobOffs {
		if off&1 != 0 {
			rw.printf("blob %d -> %d (redirect)\n", i, off>>1)
			continue
		}
		rw.printf("blob %d @ %d\n", i, off)
	}
	return rw.err
}

func (r *Reader) reportUnit(rw *reportWriter, ops *OpcodeTable, i int) error {
	off := r.unitOffs[i]
	if off&1 != 0 {
		rw.printf("\nunit %d -> %d (redirect)\n", i, off>>1)
		return nil
	}
	u, err := r.UnitAt(i)
	if err != nil {
		return err
	}
	rw.printf("\nunit %d @ %d: %s (%s:%d)\n", i, off, u.Name, u.Filename, u.FirstLine)
	rw.printf("  flags 0x%x, args %d/%d/%d, stack %d\n",
		u.Flags, u.ArgCount, u.PosOnlyArgCount, u.KwOnlyArgCount, u.StackSize)
	rw.printf("  consts [%d, %d), names [%d, %d)\n",
		u.ConstsStart, u.ConstsStart+u.ConstsSize,
		u.StringsStart, u.StringsStart+u.StringsSize)
	if u.HasDocstring {
		rw.printf("  docstring %q\n", u.Docstring)
	}
	rw.printf("  code:\n")
	rw.disassemble("  ", u.Code, ops, u)
	if len(u.Names) > 0 {
		rw.printf("  names: %s\n", strings.Join(u.Names, ", "))
	}
	for _, l := range []struct {
		label string
		names []string
	}{
		{"varnames", u.VarNames},
		{"freevars", u.FreeVars},
		{"cellvars", u.CellVars},
	} {
		if len(l.names) > 0 {
			rw.printf("  %s: %s\n", l.label, strings.Join(l.names, ", "))
		}
	}
	return nil
}

// disassemble writes one line per instruction pair. EXTENDED_ARG
// prefixes are printed as-is but folded into the operand shown for the
// instruction they extend. When u is non-nil, lazy constant loads are
// annotated with the absolute pool index behind the window-relative
// operand.
func (rw *reportWriter) disassemble(indent string, code []byte, ops *OpcodeTable, u *Unit) {
	acc := 0
	for i := 0; i+1 < len(code); i += 2 {
		op, arg := code[i], int(code[i+1])
		if op == ops.ExtendedArg {
			rw.printf("%s%4d  %-22s %d\n", indent, i/2, ops.Name(op), arg)
			acc = (acc | arg) << 8
			continue
		}
		operand := acc | arg
		acc = 0
		note := ""
		switch {
		case op == ops.LoadCommonConstant && operand < len(commonConstantNames):
			note = fmt.Sprintf(" (%s)", commonConstantNames[operand])
		case u != nil && op == ops.LazyLoadConstant:
			note = fmt.Sprintf(" (constant %d)", int(u.ConstsStart)+operand)
		}
		rw.printf("%s%4d  %-22s %d%s\n", indent, i/2, ops.Name(op), operand, note)
	}
}

func redirectNote(offs []uint32) string {
	n := 0
	for _, off := range offs {
		if off&1 != 0 {
			n++
		}
	}
	if n == 0 {
		return ""
	}
	return fmt.Sprintf(" (%d redirects)", n)
}

// reportWriter collects the first write error so the report code can
// stay free of per-line checks.
type reportWriter struct {
	w   io.Writer
	err error
}

func (rw *reportWriter) printf(format string, args ...any) {
	if rw.err != nil {
		return
	}
	_, rw.err = fmt.Fprintf(rw.w, format, args...)
}
