package code

import "github.com/yenrab/iron-beam/internal/proctab"

// ProcTableSweeper adapts a *proctab.Table into a ProcessSweeper: it answers
// "is any live process still executing this module's old code" by pointer
// identity against the specific *Module Registry.Old currently holds for
// that name, not by name alone — a process running the new current version
// shares the same module name and must not count as still executing the old
// one.
type ProcTableSweeper struct {
	Registry *Registry
	Procs    *proctab.Table
}

// StillExecuting implements ProcessSweeper.
func (s *ProcTableSweeper) StillExecuting(moduleName string) bool {
	old, ok := s.Registry.Old(moduleName)
	if !ok {
		return false
	}

	still := false
	s.Procs.Each(func(h *proctab.Process) {
		if still {
			return
		}
		p := h.Unwrap()
		if p.CurrentCode == old {
			still = true
			return
		}
		for _, f := range p.Frames {
			if f.Code == old {
				still = true
				return
			}
		}
	})
	return still
}
