package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashInputs(t *testing.T) {
	a := hashInputs([]byte("func main() {}"), "", nil)
	assert.Len(t, a, 16)
	assert.Equal(t, a, hashInputs([]byte("func main() {}"), "", nil))
	assert.NotEqual(t, a, hashInputs([]byte("func main() {}"), "1\n", nil))
	assert.NotEqual(t, a, hashInputs([]byte("func main() {}"), "", []string{"-Fno-while-loops"}))
	assert.NotEqual(t, hashInputs(nil, "ab", nil), hashInputs([]byte("a"), "b", nil))
}

func TestPaths(t *testing.T) {
	assert.Equal(t, filepath.Join("tests", ".fib.tc.json"), goldenPath("", filepath.Join("tests", "fib.tc")))
	assert.Equal(t, filepath.Join("gold", ".fib.tc.json"), goldenPath("gold", filepath.Join("tests", "fib.tc")))
	assert.Equal(t, filepath.Join("tests", "fib.in"), inputPath(filepath.Join("tests", "fib.tc")))
}

func TestFilterOutput(t *testing.T) {
	assert.Equal(t, "a\nc", filterOutput("a\nb tmp\nc", []string{"tmp"}))
	assert.Equal(t, "a\nb", filterOutput("a\nb", nil))
	assert.Equal(t, "a", filterOutput("a", []string{""}))
}

func TestCompareGolden(t *testing.T) {
	want := &Golden{Compile: Execution{Stdout: "7\n", ExitCode: 0, Duration: time.Second}}
	got := &Golden{Compile: Execution{Stdout: "7\n", ExitCode: 0, Duration: time.Millisecond}}
	assert.Empty(t, compareGolden(want, got, nil), "durations are ignored")

	got.Compile.ExitCode = 3
	got.Compile.Stdout = "8\n"
	diff := compareGolden(want, got, nil)
	assert.Contains(t, diff, "compile exit code mismatch")
	assert.Contains(t, diff, "compile stdout mismatch")

	want.Run = &Execution{}
	assert.Contains(t, compareGolden(want, &Golden{}, nil), "run missing")
}

// fakeCompiler writes a script that behaves like "traitc --run file": it
// echoes the file name, copies stdin and exits with status 3.
func fakeCompiler(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "traitc")
	script := "#!/bin/sh\necho \"ran $(basename \"$2\")\"\ncat\nexit 3\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestCheckLifecycle(t *testing.T) {
	r := &runner{compiler: fakeCompiler(t), timeout: 5 * time.Second, tempDir: t.TempDir()}
	dir := t.TempDir()
	src := filepath.Join(dir, "echo.tc")
	require.NoError(t, os.WriteFile(src, []byte("func main() {}\n"), 0o644))
	require.NoError(t, os.WriteFile(inputPath(src), []byte("hello\n"), 0o644))
	ctx := context.Background()

	res := r.check(ctx, "", src, false)
	assert.Equal(t, StatusSkip, res.Status)

	res = r.check(ctx, "", src, true)
	require.Equal(t, StatusNew, res.Status, res.Message)
	assert.Equal(t, "ran echo.tc\nhello\n", res.Got.Compile.Stdout)
	assert.Equal(t, 3, res.Got.Compile.ExitCode)

	res = r.check(ctx, "", src, false)
	assert.Equal(t, StatusPass, res.Status, res.Diff)

	g, err := readGolden(goldenPath("", src))
	require.NoError(t, err)
	g.Compile.Stdout = "ran echo.tc\nbye\n"
	require.NoError(t, writeGolden(goldenPath("", src), g))
	res = r.check(ctx, "", src, false)
	assert.Equal(t, StatusFail, res.Status)
	assert.Contains(t, res.Diff, "bye")

	require.NoError(t, os.WriteFile(inputPath(src), []byte("changed\n"), 0o644))
	res = r.check(ctx, "", src, false)
	assert.Equal(t, StatusStale, res.Status)
}

func TestSuiteSkipsDuplicates(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.tc", "b.tc", "skip.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("func main() {}\n"), 0o644))
	}
	files, err := discover(dir, "")
	require.NoError(t, err)
	require.Len(t, files, 2)

	only, err := discover(dir, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "b.tc")}, only)

	s := &suite{jobs: 2, runner: runner{compiler: fakeCompiler(t), timeout: 5 * time.Second, tempDir: t.TempDir()}}
	results := s.run(context.Background(), files)
	require.Len(t, results, 2)
	assert.Equal(t, StatusSkip, results[0].Status)
	assert.Equal(t, "no golden file; run with --update", results[0].Message)
	assert.Equal(t, StatusSkip, results[1].Status)
	assert.Contains(t, results[1].Message, "identical to")

	var out bytes.Buffer
	assert.False(t, printSummary(&out, results, true))
	assert.Contains(t, out.String(), "2 Skipped")
}
