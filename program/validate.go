package program

import (
	"errors"
	"fmt"
)

// ErrInvalidProgram is wrapped by every Validate failure.
var ErrInvalidProgram = errors.New("invalid program record")

// Validate checks the structural invariants the container builder
// relies on: at least one unit, even instruction streams, argument
// counts consistent with the local-variable table, typed constants
// with the payload their kind requires, and unit references that only
// point forward (a nested unit always follows its parent, so reference
// cycles are impossible).
func (p *Program) Validate() error {
	if len(p.Units) == 0 {
		return fmt.Errorf("%w: no units", ErrInvalidProgram)
	}
	for i := range p.Units {
		if err := p.validateUnit(i); err != nil {
			return err
		}
	}
	return nil
}

func (p *Program) validateUnit(i int) error {
	u := &p.Units[i]
	if len(u.Code)%2 != 0 {
		return fmt.Errorf("%w: unit %d (%s): odd code length %d", ErrInvalidProgram, i, u.Name, len(u.Code))
	}
	if u.PosOnlyArgCount > u.ArgCount {
		return fmt.Errorf("%w: unit %d (%s): %d positional-only arguments but only %d positional",
			ErrInvalidProgram, i, u.Name, u.PosOnlyArgCount, u.ArgCount)
	}
	if n := u.ParamCount(); n > len(u.VarNames) {
		return fmt.Errorf("%w: unit %d (%s): %d parameters but only %d local variables",
			ErrInvalidProgram, i, u.Name, n, len(u.VarNames))
	}
	if u.FunctionShaped() && len(u.Constants) > 0 {
		if k := u.Constants[0].Kind; k != KindString && k != KindNone {
			return fmt.Errorf("%w: unit %d (%s): docstring slot holds %s, want string or none",
				ErrInvalidProgram, i, u.Name, k)
		}
	}
	for j := range u.Constants {
		if err := p.validateConstant(i, &u.Constants[j]); err != nil {
			return fmt.Errorf("%w: unit %d (%s): constant %d: %v", ErrInvalidProgram, i, u.Name, j, err)
		}
	}
	return nil
}

// validateConstant checks one constant tree. owner is the index of the
// unit holding the constant; unit references must point past it.
func (p *Program) validateConstant(owner int, c *Constant) error {
	switch c.Kind {
	case KindNone, KindBool, KindEllipsis, KindFloat, KindComplex, KindBytes, KindString:
		return nil
	case KindInt:
		if c.Int == nil {
			return errors.New("int constant without a value")
		}
		return nil
	case KindTuple, KindSet:
		for j := range c.Elems {
			if err := p.validateConstant(owner, &c.Elems[j]); err != nil {
				return fmt.Errorf("element %d: %v", j, err)
			}
		}
		return nil
	case KindUnit:
		if c.Unit <= owner || c.Unit >= len(p.Units) {
			return fmt.Errorf("unit reference %d out of range (%d, %d)", c.Unit, owner, len(p.Units))
		}
		return nil
	default:
		return fmt.Errorf("unknown constant kind %d", c.Kind)
	}
}
