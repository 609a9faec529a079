//go:build windows

package codegen

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/xplshn/traitc/pkg/config"
	"github.com/xplshn/traitc/pkg/ir"
	"tlog.app/go/errors"
)

func (b *qbeBackend) Generate(prog *ir.Program, cfg *config.Config) (*bytes.Buffer, error) {
	fmt.Fprintln(cfg.Log, "Self-contained QBE backend is not supported on Windows. Falling back to the system's 'qbe'.")
	if _, err := exec.LookPath("qbe"); err != nil {
		return nil, errors.Wrap(err, "qbe not found in PATH")
	}

	qbeIR, err := b.GenerateIR(prog, cfg)
	if err != nil {
		return nil, err
	}

	inputFile, err := os.CreateTemp("", "traitc-qbe-*.temp.ssa")
	if err != nil {
		return nil, errors.Wrap(err, "create qbe input")
	}
	defer os.Remove(inputFile.Name())
	defer inputFile.Close()

	if _, err = inputFile.WriteString(qbeIR); err != nil {
		return nil, errors.Wrap(err, "write %v", inputFile.Name())
	}

	outputName := inputFile.Name() + ".asm"
	defer os.Remove(outputName)
	cmd := exec.Command("qbe", "-o", outputName, "-t", cfg.QbeTarget, inputFile.Name())
	if err = cmd.Run(); err != nil {
		return nil, errors.Wrap(err, "\n--- QBE Compilation Failed ---\nGenerated IR:\n%s\n\nqbe", qbeIR)
	}

	outputFile, err := os.Open(outputName)
	if err != nil {
		return nil, errors.Wrap(err, "open %v", outputName)
	}
	defer outputFile.Close()

	var asmBuf bytes.Buffer
	if _, err = io.Copy(&asmBuf, outputFile); err != nil {
		return nil, errors.Wrap(err, "read %v", outputName)
	}
	return &asmBuf, nil
}
