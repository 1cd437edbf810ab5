package code

import (
	"errors"
	"fmt"
	"sync"

	"github.com/yenrab/iron-beam/internal/heap"
	"github.com/yenrab/iron-beam/internal/term"
)

// ErrOldVersionPresent is returned by Publish when a module already has two
// live versions (current and old) and a third load is attempted before the
// old one has been purged, per spec.md's hot-reload invariant: "at most two
// versions of a module may be resident; a third load attempt fails until
// the oldest is purged."
var ErrOldVersionPresent = errors.New("code: old version still resident, purge required before reload")

// ErrValidation wraps a bytecode validation failure.
var ErrValidation = errors.New("code: validation failed")

// Loader parses and validates module images against the runtime-global atom
// table, producing Modules ready for Registry.Publish.
type Loader struct {
	Atoms *term.AtomTable
}

// NewLoader creates a Loader bound to the given atom table. A nil table
// creates a fresh one.
func NewLoader(atoms *term.AtomTable) *Loader {
	if atoms == nil {
		atoms = term.NewAtomTable(0)
	}
	return &Loader{Atoms: atoms}
}

// Load parses data as a module image, interns its atoms, materializes its
// literal area, builds its export/import/fun tables, and validates the
// resulting Module before returning it. It does not publish the module into
// any Registry.
func (l *Loader) Load(name string, data []byte) (*Module, error) {
	chunks, err := ParseChunks(data)
	if err != nil {
		return nil, fmt.Errorf("code: parsing module %q: %w", name, err)
	}
	byTag, err := indexChunks(chunks)
	if err != nil {
		return nil, fmt.Errorf("code: indexing module %q: %w", name, err)
	}
	if err := requireChunks(byTag, TagAtoms, TagExports, TagImports, TagCode); err != nil {
		return nil, fmt.Errorf("code: module %q: %w", name, err)
	}

	localAtoms, err := parseAtomChunk(byTag[TagAtoms], l.Atoms)
	if err != nil {
		return nil, fmt.Errorf("code: module %q: %w", name, err)
	}

	exports, err := parseExportChunk(byTag[TagExports], localAtoms, l.Atoms)
	if err != nil {
		return nil, fmt.Errorf("code: module %q: %w", name, err)
	}
	imports, err := parseImportChunk(byTag[TagImports], localAtoms, l.Atoms)
	if err != nil {
		return nil, fmt.Errorf("code: module %q: %w", name, err)
	}

	var funs []FunEntry
	if payload, ok := byTag[TagFuns]; ok {
		funs, err = parseFunChunk(payload)
		if err != nil {
			return nil, fmt.Errorf("code: module %q: %w", name, err)
		}
	}

	var literals = heap.NewLiteralArea(nil)
	if payload, ok := byTag[TagLiterals]; ok {
		literals, err = parseLiteralChunk(payload)
		if err != nil {
			return nil, fmt.Errorf("code: module %q: %w", name, err)
		}
	}

	m := &Module{
		Name:            name,
		Code:            byTag[TagCode],
		Exports:         exports,
		Imports:         imports,
		Funs:            funs,
		Literals:        literals,
		Strings:         byTag[TagStrings],
		atomGlobalIndex: localAtoms,
	}

	if err := validateModule(m); err != nil {
		return nil, fmt.Errorf("code: module %q: %w", name, err)
	}

	return m, nil
}

// Registry is the runtime-wide module/code table (C4): it holds at most a
// current and an old version of each named module, publishing new versions
// atomically. The engine resolves every external (module-qualified) call
// against the current version, while local calls and returns stay in the
// version the process was already executing, so old code keeps running
// until it next makes an external call.
type Registry struct {
	mu sync.RWMutex
	// versions[name] holds [current, old]; old may be nil.
	versions map[string]*versionSlot
}

type versionSlot struct {
	current *Module
	old     *Module
}

// NewRegistry creates an empty module registry.
func NewRegistry() *Registry {
	return &Registry{versions: make(map[string]*versionSlot)}
}

// Current resolves a module name to its current version.
func (r *Registry) Current(name string) (*Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slot, ok := r.versions[name]
	if !ok || slot.current == nil {
		return nil, false
	}
	return slot.current, true
}

// Old resolves a module name to its old (superseded, not yet purged)
// version, used by processes that were already executing it when the
// reload happened.
func (r *Registry) Old(name string) (*Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slot, ok := r.versions[name]
	if !ok || slot.old == nil {
		return nil, false
	}
	return slot.old, true
}

// Publish installs m as the new current version of its module, demoting the
// previous current to old. It returns ErrOldVersionPresent if an old version
// is still resident (i.e. Purge has not yet been called to retire it), since
// the runtime permits at most two resident versions.
func (r *Registry) Publish(m *Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.versions[m.Name]
	if !ok {
		r.versions[m.Name] = &versionSlot{current: m}
		return nil
	}
	if slot.old != nil {
		return fmt.Errorf("%w: module %q", ErrOldVersionPresent, m.Name)
	}
	slot.old = slot.current
	slot.current = m
	return nil
}

// purge discards the old version of a module, per spec.md's hot-reload
// sequence. It is unexported: the only caller is Collector.processBatch,
// which has already confirmed via a safepoint sweep (ProcessSweeper) that no
// process still has an instruction pointer inside the old version's code.
// There is deliberately no exported unconditional purge path; code outside
// this package must go through a Collector.
func (r *Registry) purge(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.versions[name]
	if !ok || slot.old == nil {
		return false
	}
	slot.old = nil
	return true
}

// HasOld reports whether name currently has a resident old version awaiting
// purge.
func (r *Registry) HasOld(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slot, ok := r.versions[name]
	return ok && slot.old != nil
}

// Names returns every module name currently tracked by the registry,
// primarily for the literal collector's sweep and for diagnostics.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.versions))
	for name := range r.versions {
		out = append(out, name)
	}
	return out
}
