package heap

import "github.com/yenrab/iron-beam/internal/term"

// LiteralArea is an immutable heap region owned by a module version,
// shared read-only across every process that holds a reference into it.
// It is never copied or compacted by a process's GC; only a global
// literal-collection safepoint (see the code package's Collector) may free
// it, once every live process has been proven to hold no reference into it.
type LiteralArea struct {
	Words []term.Word
}

// NewLiteralArea materializes a literal area from a flattened, already
// boxed-and-linked word buffer, as produced by the module loader.
func NewLiteralArea(words []term.Word) *LiteralArea {
	return &LiteralArea{Words: words}
}

// Contains reports whether idx falls within this literal area. Literal
// pointers are told apart from heap pointers by their tag
// (term.TagLiteral), not by this check.
func (a *LiteralArea) Contains(idx uint32) bool {
	return a != nil && int(idx) < len(a.Words)
}
