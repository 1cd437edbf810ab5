package nif

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"os/exec"
	"path/filepath"
	"plugin"

	"github.com/yenrab/iron-beam/internal/term"
)

// MarkerSymbol is the exported symbol every loadable plugin must provide,
// returning MarkerValue. It is the Go-native stand-in for spec.md's
// "dynamic library in one of the accepted target binaries" signature
// check — there is no FFI header to validate here, only a plugin.Plugin's
// exported symbol table.
const MarkerSymbol = "EmberNIFMarker"

// MarkerValue is MarkerSymbol's required return value ("SAFE" packed
// big-endian into a uint32).
const MarkerValue uint32 = 0x53414645

var (
	// ErrMissingMarker is returned when a plugin has no MarkerSymbol.
	ErrMissingMarker = fmt.Errorf("nif: missing %s symbol", MarkerSymbol)
	// ErrBadMarker is returned when MarkerSymbol returns the wrong value.
	ErrBadMarker = fmt.Errorf("nif: %s returned an unexpected value", MarkerSymbol)
	// ErrUnsafeImport is returned when a source extension imports a
	// package that could escape the sandbox.
	ErrUnsafeImport = fmt.Errorf("nif: source imports a disallowed package")
	// ErrCGOPresent is returned when the binary's symbol table shows
	// evidence of cgo, meaning it was not built with CGO_ENABLED=0.
	ErrCGOPresent = fmt.Errorf("nif: plugin was built with cgo enabled")
)

// disallowedImports are the import paths a source-mode extension may
// never use, matching spec.md §4.10's "safe-only mode rejects any
// unsafe-escape construct": unsafe breaks memory isolation outright, and
// plugin would let an extension load a second, unverified extension of
// its own.
var disallowedImports = map[string]bool{
	"unsafe": true,
	"plugin": true,
}

// Module is one loaded, verified native extension.
type Module struct {
	Path string
	p    *plugin.Plugin
}

// Loader loads plugin.Plugin files (or compiles them from Go source) and
// verifies each against spec.md §4.10's marker and memory-safety
// requirements before handing back a Module.
type Loader struct {
	// BuildDir is where source-mode compilation writes its output
	// plugin; an empty value uses os.MkdirTemp(\"\", ...).
	BuildDir string
}

// LoadPlugin opens an already-built plugin at path, verifies its marker
// symbol and its absence of cgo, and returns the ready-to-call Module.
func (l *Loader) LoadPlugin(path string) (*Module, error) {
	if err := verifyNoCGO(path); err != nil {
		return nil, err
	}

	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("nif: opening plugin: %w", err)
	}

	sym, err := p.Lookup(MarkerSymbol)
	if err != nil {
		return nil, ErrMissingMarker
	}
	markerFn, ok := sym.(func() uint32)
	if !ok || markerFn() != MarkerValue {
		return nil, ErrBadMarker
	}

	return &Module{Path: path, p: p}, nil
}

// CompileAndLoad statically rejects srcPath if it imports a disallowed
// package, then compiles it with `go build -buildmode=plugin` under
// CGO_ENABLED=0 and loads the result, per spec.md §4.10's source-mode
// safe-compilation path.
func (l *Loader) CompileAndLoad(srcPath string) (*Module, error) {
	if err := checkSafeSource(srcPath); err != nil {
		return nil, err
	}

	dir := l.BuildDir
	if dir == "" {
		var err error
		dir, err = os.MkdirTemp("", "iron-beam-nif-")
		if err != nil {
			return nil, fmt.Errorf("nif: creating build dir: %w", err)
		}
	}
	outPath := filepath.Join(dir, filepath.Base(srcPath)+".so")

	cmd := exec.Command("go", "build", "-buildmode=plugin", "-o", outPath, srcPath)
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("nif: compiling %s: %w: %s", srcPath, err, out)
	}

	return l.LoadPlugin(outPath)
}

// checkSafeSource parses srcPath far enough to read its import list and
// rejects any disallowed import, without fully type-checking the file —
// a deliberately cheap static gate, not a full verifier.
func checkSafeSource(srcPath string) error {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, srcPath, nil, parser.ImportsOnly)
	if err != nil {
		return fmt.Errorf("nif: parsing %s: %w", srcPath, err)
	}
	for _, imp := range f.Imports {
		path, err := stringLitValue(imp.Path)
		if err != nil {
			continue
		}
		if disallowedImports[path] {
			return fmt.Errorf("%w: %s", ErrUnsafeImport, path)
		}
	}
	return nil
}

func stringLitValue(lit *ast.BasicLit) (string, error) {
	if len(lit.Value) < 2 {
		return "", fmt.Errorf("nif: malformed import literal")
	}
	return lit.Value[1 : len(lit.Value)-1], nil
}

// Lookup resolves an exported native function by symbol name. The symbol
// must have been declared with the exact signature
// func(*nif.Env, []term.Word) (term.Word, error) — i.e. nif.Function.
func (m *Module) Lookup(symbol string) (Function, error) {
	sym, err := m.p.Lookup(symbol)
	if err != nil {
		return nil, fmt.Errorf("nif: looking up %s: %w", symbol, err)
	}
	fn, ok := sym.(func(*Env, []term.Word) (term.Word, error))
	if !ok {
		return nil, fmt.Errorf("nif: symbol %s has the wrong signature", symbol)
	}
	return Function(fn), nil
}
