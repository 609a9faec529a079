package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/go-cmp/cmp"
	"tlog.app/go/errors"
)

type Execution struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exitCode"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out,omitempty"`
}

// Golden is the recorded behavior of one source file. Hash covers the
// source, its input file and the compiler arguments, so a golden that no
// longer matches them is reported as stale instead of silently compared.
type Golden struct {
	Hash    string     `json:"hash"`
	Args    []string   `json:"args,omitempty"`
	Input   string     `json:"input,omitempty"`
	Compile Execution  `json:"compile"`
	Run     *Execution `json:"run,omitempty"`
}

type Status string

const (
	StatusPass  Status = "PASS"
	StatusFail  Status = "FAIL"
	StatusStale Status = "STALE"
	StatusNew   Status = "NEW"
	StatusSkip  Status = "SKIP"
	StatusError Status = "ERROR"
)

type Result struct {
	File    string
	Status  Status
	Message string
	Diff    string
	Got     *Golden
}

type runner struct {
	compiler string
	args     []string
	native   bool
	timeout  time.Duration
	tempDir  string
	ignore   []string
}

func goldenPath(dir, source string) string {
	name := "." + filepath.Base(source) + ".json"
	if dir != "" {
		return filepath.Join(dir, name)
	}
	return filepath.Join(filepath.Dir(source), name)
}

// inputPath is the optional stdin fixture next to a source: prog.tc -> prog.in.
func inputPath(source string) string {
	return strings.TrimSuffix(source, filepath.Ext(source)) + ".in"
}

func hashInputs(source []byte, input string, args []string) string {
	h := xxhash.New()
	h.Write(source)
	h.Write([]byte{0})
	h.WriteString(input)
	for _, a := range args {
		h.Write([]byte{0})
		h.WriteString(a)
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

func readGolden(path string) (*Golden, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var g Golden
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, errors.Wrap(err, "parse %v", path)
	}
	return &g, nil
}

func writeGolden(path string, g *Golden) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal golden")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create %v", filepath.Dir(path))
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return errors.Wrap(err, "write %v", path)
	}
	return nil
}

func (r *runner) execute(ctx context.Context, stdin string, command string, args ...string) Execution {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	err := cmd.Run()

	ex := Execution{Stdout: stdout.String(), Stderr: stderr.String(), Duration: time.Since(start)}
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		ex.TimedOut, ex.ExitCode = true, -1
	case err != nil:
		if exitErr, ok := err.(*exec.ExitError); ok {
			ex.ExitCode = exitErr.ExitCode()
		} else {
			ex.ExitCode = -2
			ex.Stderr += "\nexecution error: " + err.Error()
		}
	}
	return ex
}

// observe compiles and runs one source. With native set the compiler writes a
// binary that is run separately; otherwise the compiler's interpreter runs it.
func (r *runner) observe(ctx context.Context, source, input, hash string) *Golden {
	g := &Golden{Hash: hash, Args: r.args, Input: input}
	if !r.native {
		args := append(append([]string{"--run"}, r.args...), source)
		g.Compile = r.execute(ctx, input, r.compiler, args...)
		return g
	}

	binary := filepath.Join(r.tempDir, hash)
	args := append(append([]string{"-o", binary}, r.args...), source)
	g.Compile = r.execute(ctx, "", r.compiler, args...)
	if g.Compile.ExitCode != 0 || g.Compile.TimedOut {
		return g
	}
	run := r.execute(ctx, input, binary)
	g.Run = &run
	return g
}

// filterOutput drops lines containing any of the ignored substrings.
func filterOutput(output string, ignored []string) string {
	if len(ignored) == 0 || output == "" {
		return output
	}
	lines := strings.Split(output, "\n")
	kept := lines[:0]
outer:
	for _, line := range lines {
		for _, sub := range ignored {
			if sub != "" && strings.Contains(line, sub) {
				continue outer
			}
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func compareExecution(stage string, want, got Execution, ignored []string, diffs *strings.Builder) {
	if want.ExitCode != got.ExitCode {
		fmt.Fprintf(diffs, "%s exit code mismatch:\n  - want: %d\n  + got:  %d\n", stage, want.ExitCode, got.ExitCode)
	}
	if want.TimedOut != got.TimedOut {
		fmt.Fprintf(diffs, "%s timeout mismatch: want %v, got %v\n", stage, want.TimedOut, got.TimedOut)
	}
	if d := cmp.Diff(filterOutput(want.Stdout, ignored), filterOutput(got.Stdout, ignored)); d != "" {
		fmt.Fprintf(diffs, "%s stdout mismatch (-want +got):\n%s", stage, d)
	}
	if d := cmp.Diff(filterOutput(want.Stderr, ignored), filterOutput(got.Stderr, ignored)); d != "" {
		fmt.Fprintf(diffs, "%s stderr mismatch (-want +got):\n%s", stage, d)
	}
}

// compareGolden reports the differences between a recorded and an observed run.
// Durations are never compared.
func compareGolden(want, got *Golden, ignored []string) string {
	var diffs strings.Builder
	compareExecution("compile", want.Compile, got.Compile, ignored, &diffs)
	switch {
	case want.Run == nil && got.Run != nil:
		diffs.WriteString("run present but the golden has none\n")
	case want.Run != nil && got.Run == nil:
		diffs.WriteString("run missing; the golden expected one\n")
	case want.Run != nil:
		compareExecution("run", *want.Run, *got.Run, ignored, &diffs)
	}
	return diffs.String()
}

// check runs one source against its golden, rewriting it when update is set.
func (r *runner) check(ctx context.Context, dir, source string, update bool) *Result {
	content, err := os.ReadFile(source)
	if err != nil {
		return &Result{File: source, Status: StatusError, Message: err.Error()}
	}
	input := ""
	if data, err := os.ReadFile(inputPath(source)); err == nil {
		input = string(data)
	}
	hash := hashInputs(content, input, r.args)
	path := goldenPath(dir, source)

	got := r.observe(ctx, source, input, hash)
	want, err := readGolden(path)
	switch {
	case update:
		if err := writeGolden(path, got); err != nil {
			return &Result{File: source, Status: StatusError, Message: err.Error(), Got: got}
		}
		return &Result{File: source, Status: StatusNew, Message: "golden written to " + path, Got: got}
	case os.IsNotExist(err):
		return &Result{File: source, Status: StatusSkip, Message: "no golden file; run with --update", Got: got}
	case err != nil:
		return &Result{File: source, Status: StatusError, Message: err.Error(), Got: got}
	case want.Hash != hash:
		return &Result{File: source, Status: StatusStale, Message: "source or arguments changed since the golden was recorded", Got: got}
	}

	if diff := compareGolden(want, got, r.ignore); diff != "" {
		return &Result{File: source, Status: StatusFail, Message: "output differs from golden", Diff: diff, Got: got}
	}
	return &Result{File: source, Status: StatusPass, Message: "matches golden", Got: got}
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%6dus", d.Microseconds())
	}
	return fmt.Sprintf("%6dms", d.Milliseconds())
}

func writeDiff(w io.Writer, diff string) {
	if diff == "" {
		return
	}
	fmt.Fprintln(w, "    --- Diff ---")
	for _, line := range strings.Split(strings.TrimRight(diff, "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "-"):
			fmt.Fprintln(w, "    "+failColor(line))
		case strings.HasPrefix(trimmed, "+"):
			fmt.Fprintln(w, "    "+passColor(line))
		default:
			fmt.Fprintln(w, "    "+line)
		}
	}
}
