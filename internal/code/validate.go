package code

import "fmt"

// validateModule performs the structural checks spec.md requires before a
// module is trusted to run: every export and fun entry offset must fall
// within Code, arities must be representable, and the atom/import tables
// referenced by the code stream must already have been resolved.
//
// It does not disassemble Code itself (opcode/operand shape validation is
// internal/exec's job, since only the engine knows the instruction set) —
// this pass only bounds-checks the chunk-level tables the engine will
// index into.
func validateModule(m *Module) error {
	codeLen := len(m.Code)

	for key, off := range m.Exports {
		if off < 0 || off >= codeLen {
			return fmt.Errorf("%w: export %s/%d entry offset %d out of range [0,%d)", ErrValidation, key.Function, key.Arity, off, codeLen)
		}
		if key.Arity < 0 || key.Arity > 255 {
			return fmt.Errorf("%w: export %s/%d has invalid arity", ErrValidation, key.Function, key.Arity)
		}
	}

	for i, fe := range m.Funs {
		if fe.EntryOffset < 0 || fe.EntryOffset >= codeLen {
			return fmt.Errorf("%w: fun entry %d offset %d out of range [0,%d)", ErrValidation, i, fe.EntryOffset, codeLen)
		}
		if fe.Arity < 0 || fe.Arity > 255 {
			return fmt.Errorf("%w: fun entry %d has invalid arity", ErrValidation, i)
		}
	}

	for i, imp := range m.Imports {
		if imp.Module == "" || imp.Function == "" {
			return fmt.Errorf("%w: import %d has an empty module or function name", ErrValidation, i)
		}
		if imp.Arity < 0 || imp.Arity > 255 {
			return fmt.Errorf("%w: import %d has invalid arity", ErrValidation, i)
		}
	}

	if codeLen == 0 && len(m.Exports) > 0 {
		return fmt.Errorf("%w: module %q exports functions but has no code", ErrValidation, m.Name)
	}

	return nil
}
