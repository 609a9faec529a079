package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	goruntime "runtime"
	"strings"

	"github.com/xplshn/traitc/pkg/ast"
	"github.com/xplshn/traitc/pkg/cli"
	"github.com/xplshn/traitc/pkg/codegen"
	"github.com/xplshn/traitc/pkg/config"
	"github.com/xplshn/traitc/pkg/ir"
	"github.com/xplshn/traitc/pkg/lexer"
	"github.com/xplshn/traitc/pkg/parser"
	"github.com/xplshn/traitc/pkg/runtime"
	"github.com/xplshn/traitc/pkg/token"
	"github.com/xplshn/traitc/pkg/typeChecker"
	"github.com/xplshn/traitc/pkg/util"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"
)

type options struct {
	output     string
	backend    string
	target     string
	configPath string
	verbose    bool
	run        bool
	dumpTokens bool
	dumpAST    bool
	dumpIR     bool
	emitLLVM   bool
	asmOnly    bool
	objOnly    bool
	linkerArgs []string
	warnFlags  []string
	featFlags  []string
}

var errCompile = errors.New("compilation failed")

func main() {
	app := cli.NewApp("traitc")
	app.Synopsis = "[options] <input.tc> ..."
	app.Description = "A compiler for a small language of structs, traits and methods. Programs are lowered to a basic-block IR and compiled through QBE or LLVM."
	app.Authors = []string{"xplshn"}
	app.Repository = "<https://github.com/xplshn/traitc>"
	app.Since = 2025

	var opt options
	fs := app.FlagSet
	fs.String(&opt.output, "output", "o", "", "Place the output into <file>.", "file")
	fs.String(&opt.backend, "backend", "b", "", "Code generator to use (qbe, llvm).", "backend")
	fs.String(&opt.target, "target", "t", "", "QBE target ABI, defaults to the host.", "target")
	fs.String(&opt.configPath, "config", "", "", "Read settings from a traitc.toml file.", "file")
	fs.Bool(&opt.verbose, "verbose", "v", false, "Report each compilation stage.")
	fs.Bool(&opt.run, "run", "r", false, "Execute main in the IR interpreter instead of linking.")
	fs.Bool(&opt.dumpTokens, "dump-tokens", "", false, "Print the token stream and exit.")
	fs.Bool(&opt.dumpAST, "dump-ast", "", false, "Print the checked syntax tree and exit.")
	fs.Bool(&opt.dumpIR, "dump-ir", "d", false, "Print the backend's intermediate form and exit.")
	fs.Bool(&opt.emitLLVM, "emit-llvm", "", false, "Write LLVM IR text instead of an executable.")
	fs.Bool(&opt.asmOnly, "assemble", "S", false, "Stop after generating assembly.")
	fs.Bool(&opt.objOnly, "compile-only", "c", false, "Stop after producing an object file.")
	fs.List(&opt.linkerArgs, "linker-arg", "L", []string{}, "Pass an argument to the linker.", "arg")
	fs.Special(&opt.warnFlags, "W", "Enable or disable a warning (-Wall, -Wno-all).", "warning")
	fs.Special(&opt.featFlags, "F", "Enable or disable a feature.", "feature")

	cfg := config.NewConfig()
	warningFlags, featureFlags := setupFlagGroups(cfg, fs)

	exitCode := 0
	app.Action = func(inputFiles []string) error {
		if len(inputFiles) == 0 {
			return errors.New("no input files specified")
		}
		tr := tlog.Span{}
		if opt.verbose {
			tr = tlog.Root()
		} else {
			cfg.Log = nil
		}
		if err := applyOptions(cfg, &opt, warningFlags, featureFlags); err != nil {
			return err
		}
		ctx := tlog.ContextWithSpan(context.Background(), tr)

		code, err := compile(ctx, cfg, &opt, inputFiles)
		exitCode = code
		return err
	}

	if err := app.Run(os.Args[1:]); err != nil {
		if err != errCompile {
			fmt.Fprintf(os.Stderr, "traitc: %v\n", err)
		}
		os.Exit(1)
	}
	os.Exit(exitCode)
}

// setupFlagGroups registers -W<name>/-Wno-<name> and -F<name>/-Fno-<name>
// for every known switch. Entry i corresponds to Warning(i) or Feature(i).
func setupFlagGroups(cfg *config.Config, fs *cli.FlagSet) (warnings, features []cli.FlagGroupEntry) {
	for i := config.Warning(0); i < config.WarnCount; i++ {
		info := cfg.Warnings[i]
		warnings = append(warnings, cli.FlagGroupEntry{Name: info.Name, Prefix: "W", Usage: info.Description, Enabled: new(bool), Disabled: new(bool)})
	}
	for i := config.Feature(0); i < config.FeatCount; i++ {
		info := cfg.Features[i]
		features = append(features, cli.FlagGroupEntry{Name: info.Name, Prefix: "F", Usage: info.Description, Enabled: new(bool), Disabled: new(bool)})
	}
	fs.AddFlagGroup("Warning Flags", "Diagnostics that do not stop compilation.", "warning", "Available Warnings:", warnings)
	fs.AddFlagGroup("Feature Flags", "Language features that can be switched off.", "feature", "Available Features:", features)
	return warnings, features
}

// applyOptions layers settings: defaults, then the project file, then the command line.
func applyOptions(cfg *config.Config, opt *options, warnings, features []cli.FlagGroupEntry) error {
	if opt.configPath != "" {
		file, err := config.LoadFile(opt.configPath)
		if err != nil {
			return err
		}
		if err := file.Apply(cfg); err != nil {
			return errors.Wrap(err, "%v", opt.configPath)
		}
	}

	var unknown []string
	for _, w := range opt.warnFlags {
		name := strings.TrimPrefix(w, "no-")
		if _, ok := cfg.WarningMap[name]; !ok && name != "all" {
			unknown = append(unknown, "-W"+w)
		}
	}
	for _, f := range opt.featFlags {
		if _, ok := cfg.FeatureMap[strings.TrimPrefix(f, "no-")]; !ok {
			unknown = append(unknown, "-F"+f)
		}
	}
	if len(unknown) > 0 {
		return errors.New("unknown switch %s", strings.Join(unknown, ", "))
	}
	cfg.ProcessFlags(func(apply func(name string)) {
		for _, w := range opt.warnFlags {
			apply("W" + w)
		}
		for _, f := range opt.featFlags {
			apply("F" + f)
		}
	})

	for i, entry := range warnings {
		if *entry.Enabled {
			cfg.SetWarning(config.Warning(i), true)
		}
		if *entry.Disabled {
			cfg.SetWarning(config.Warning(i), false)
		}
	}
	for i, entry := range features {
		if *entry.Enabled {
			cfg.SetFeature(config.Feature(i), true)
		}
		if *entry.Disabled {
			cfg.SetFeature(config.Feature(i), false)
		}
	}

	if opt.backend != "" {
		cfg.Backend = opt.backend
	}
	if opt.emitLLVM {
		cfg.Backend = "llvm"
	}
	if opt.output != "" {
		cfg.Output = opt.output
	}
	target := cfg.QbeTarget
	if opt.target != "" {
		target = opt.target
	}
	cfg.SetTarget(goruntime.GOOS, goruntime.GOARCH, target)
	return nil
}

func compile(ctx context.Context, cfg *config.Config, opt *options, inputFiles []string) (code int, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "compile", "files", inputFiles, "backend", cfg.Backend, "target", cfg.QbeTarget)
	defer tr.Finish("err", &err)

	rep := util.NewReporter(cfg)
	defer rep.Flush(os.Stderr)

	records, tokens, err := readAndTokenizeFiles(inputFiles, rep)
	if err != nil {
		return 1, err
	}
	util.SetSourceFiles(records)
	tr.Printw("tokenized", "files", len(records), "tokens", len(tokens))
	if opt.dumpTokens {
		dumpTokens(os.Stdout, records, tokens)
		return 0, nil
	}
	if rep.HasErrors() {
		return 1, errCompile
	}

	verbosef(opt, "Parsing tokens into AST...\n")
	decls, hasErrors := parser.NewParser(tokens, cfg, rep).Parse()
	tr.Printw("stage", "name", "parse", "decls", len(decls), "errors", rep.ErrorCount())
	if hasErrors {
		return 1, errCompile
	}

	verbosef(opt, "Type checking...\n")
	hasErrors = typeChecker.NewTypeChecker(cfg, rep).Check(decls)
	tr.Printw("stage", "name", "check", "decls", len(decls), "errors", rep.ErrorCount())
	if hasErrors || rep.HasErrors() {
		return 1, errCompile
	}
	if opt.dumpAST {
		ast.Dump(os.Stdout, decls)
		return 0, nil
	}

	verbosef(opt, "Lowering to IR...\n")
	prog := codegen.NewContext(cfg).GenerateIR(decls)
	tr.Printw("stage", "name", "lower", "funcs", len(prog.Funcs), "structs", len(prog.Structs), "externs", len(prog.Externs))

	if opt.run {
		return interpret(prog)
	}

	backend, err := codegen.NewBackend(cfg.Backend)
	if err != nil {
		return 1, err
	}
	if opt.dumpIR {
		if textual, ok := backend.(interface {
			GenerateIR(*ir.Program, *config.Config) (string, error)
		}); ok {
			text, err := textual.GenerateIR(prog, cfg)
			if err != nil {
				return 1, errors.Wrap(err, "%s IR", cfg.Backend)
			}
			fmt.Print(text)
			return 0, nil
		}
		ir.Dump(os.Stdout, prog)
		return 0, nil
	}

	verbosef(opt, "Generating code with '%s' backend...\n", cfg.Backend)
	out, err := backend.Generate(prog, cfg)
	if err != nil {
		return 1, errors.Wrap(err, "%s backend", cfg.Backend)
	}
	tr.Printw("stage", "name", "generate", "bytes", out.Len())

	if opt.emitLLVM || opt.asmOnly {
		name := outputName(cfg, opt)
		if err := os.WriteFile(name, out.Bytes(), 0o644); err != nil {
			return 1, errors.Wrap(err, "write %v", name)
		}
		return 0, nil
	}

	name := outputName(cfg, opt)
	verbosef(opt, "Linking to create '%s'...\n", name)
	if err := assembleAndLink(ctx, cfg, name, out, opt.objOnly, opt.linkerArgs); err != nil {
		return 1, err
	}
	verbosef(opt, "Done!\n")
	return 0, nil
}

func verbosef(opt *options, format string, args ...interface{}) {
	if opt.verbose {
		fmt.Printf(format, args...)
	}
}

func outputName(cfg *config.Config, opt *options) string {
	if cfg.Output != "" {
		return cfg.Output
	}
	switch {
	case opt.emitLLVM:
		return "out.ll"
	case opt.asmOnly && cfg.Backend == "llvm":
		return "out.ll"
	case opt.asmOnly:
		return "out.s"
	case opt.objOnly:
		return "out.o"
	}
	return "a.out"
}

// interpret runs main and turns its result into the process exit code.
func interpret(prog *ir.Program) (int, error) {
	entry := prog.FindFunc("main")
	if entry == nil {
		return 1, errors.New("no main function to run")
	}
	in := ir.NewInterpreter(prog)
	in.Out = os.Stdout
	in.SetInput(os.Stdin)
	bits, err := in.Call("main")
	if err != nil {
		return 1, err
	}
	return int(ir.IntValue(entry.ReturnType, bits) & 0xff), nil
}

func readAndTokenizeFiles(paths []string, rep *util.Reporter) ([]util.SourceFileRecord, []token.Token, error) {
	var records []util.SourceFileRecord
	var all []token.Token
	for i, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, errors.Wrap(err, "read %v", path)
		}
		src := []rune(string(content))
		records = append(records, util.SourceFileRecord{Name: path, Content: src})
		toks := lexer.Tokenize(src, i, rep)
		all = append(all, toks[:len(toks)-1]...)
	}
	all = append(all, token.Token{Type: token.EOF, FileIndex: len(paths) - 1})
	return records, all, nil
}

func dumpTokens(w io.Writer, records []util.SourceFileRecord, tokens []token.Token) {
	for _, tok := range tokens {
		file := "<eof>"
		if tok.FileIndex >= 0 && tok.FileIndex < len(records) {
			file = records[tok.FileIndex].Name
		}
		fmt.Fprintf(w, "%s:%d:%d\t%-12s %q\n", file, tok.Line, tok.Column, tok.Type, tok.Value)
	}
}

func writeTemp(pattern string, data []byte) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", errors.Wrap(err, "create temp file")
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		os.Remove(f.Name())
		return "", errors.Wrap(err, "write %v", f.Name())
	}
	return f.Name(), nil
}

// assembleAndLink hands the backend output and the C runtime to the system
// compiler. LLVM text needs clang; QBE assembly goes through cc.
func assembleAndLink(ctx context.Context, cfg *config.Config, outFile string, code *bytes.Buffer, objOnly bool, linkerArgs []string) (err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "link", "out", outFile, "object", objOnly)
	defer tr.Finish("err", &err)

	driver, pattern := "cc", "traitc-main-*.s"
	if cfg.Backend == "llvm" {
		driver, pattern = "clang", "traitc-main-*.ll"
	}
	mainFile, err := writeTemp(pattern, code.Bytes())
	if err != nil {
		return err
	}
	defer os.Remove(mainFile)

	// PIE breaks some of the QBE output, same as gbc.
	args := []string{"-no-pie", "-o", outFile}
	if objOnly {
		args = []string{"-c", "-o", outFile, mainFile}
	} else {
		rtFile, err := writeTemp("traitc-runtime-*.c", runtime.Source)
		if err != nil {
			return err
		}
		defer os.Remove(rtFile)
		args = append(args, mainFile, rtFile)
		args = append(args, linkerArgs...)
	}

	tr.Printw("exec", "cmd", driver, "args", args)
	cmd := exec.CommandContext(ctx, driver, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return errors.Wrap(err, "%s failed\nOutput:\n%s", driver, output)
	}
	return nil
}
