package codegen

import (
	"bytes"

	"github.com/xplshn/traitc/pkg/config"
	"github.com/xplshn/traitc/pkg/ir"
	"tlog.app/go/errors"
)

// Backend is the interface that all code generation backends must implement.
type Backend interface {
	// Generate takes an IR program and a configuration, and produces the target
	// assembly or intermediate language as a byte buffer.
	Generate(prog *ir.Program, cfg *config.Config) (*bytes.Buffer, error)
}

// NewBackend selects a backend by the name given to --backend.
func NewBackend(name string) (Backend, error) {
	switch name {
	case "", "qbe":
		return NewQBEBackend(), nil
	case "llvm":
		return NewLLVMBackend(), nil
	}
	return nil, errors.New("unknown backend '%s' (want qbe or llvm)", name)
}
