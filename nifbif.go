package ironbeam

import (
	"github.com/yenrab/iron-beam/internal/exec"
	"github.com/yenrab/iron-beam/internal/nif"
	"github.com/yenrab/iron-beam/internal/term"
)

// registerBuiltinNIFs wires the runtime's always-available NIF-backed
// BIFs into rt.BIFs. internal/exec cannot construct these itself (it
// cannot import internal/nif without an import cycle, since nif.AsBIF
// needs exec.BIF/exec.DirtyClass/exec.Runtime), so the root package is
// where the two meet: it owns both dependencies and wires one BIF per
// NIF the runtime ships with out of the box.
func registerBuiltinNIFs(rt *exec.Runtime) {
	rt.BIFs.Register(nif.AsBIF("nif_identity", 1, exec.DirtyCPU, nil,
		func(_ *nif.Env, args []term.Word) (term.Word, error) {
			return args[0], nil
		}))
}
