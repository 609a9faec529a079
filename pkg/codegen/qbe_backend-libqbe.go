//go:build !windows

package codegen

import (
	"bytes"
	"strings"

	"github.com/xplshn/traitc/pkg/config"
	"github.com/xplshn/traitc/pkg/ir"
	"modernc.org/libqbe"
	"tlog.app/go/errors"
)

// Generate compiles the program's QBE text to assembly for cfg.QbeTarget.
func (b *qbeBackend) Generate(prog *ir.Program, cfg *config.Config) (*bytes.Buffer, error) {
	ssa, err := b.GenerateIR(prog, cfg)
	if err != nil {
		return nil, err
	}

	asm := new(bytes.Buffer)
	if err := libqbe.Main(cfg.QbeTarget, "traitc.ssa", strings.NewReader(ssa), asm, nil); err != nil {
		return nil, errors.Wrap(err, "libqbe (%s) rejected generated IR:\n%s\n", cfg.QbeTarget, ssa)
	}
	return asm, nil
}
