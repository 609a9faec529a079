package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/xplshn/traitc/pkg/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"
)

var (
	passColor = color.New(color.FgGreen).SprintFunc()
	failColor = color.New(color.FgRed).SprintFunc()
	skipColor = color.New(color.FgYellow).SprintFunc()
	fileColor = color.New(color.FgCyan).SprintFunc()
	boldColor = color.New(color.Bold).SprintFunc()
)

type suite struct {
	dir       string
	goldenDir string
	filter    string
	update    bool
	verbose   bool
	jobs      int
	runner    runner
}

func main() {
	app := cli.NewApp("ttest")
	app.Synopsis = "[options] [file.tc ...]"
	app.Description = "Golden-output regression runner for traitc. Every source is compiled and run, and its exit code and output are compared with the recorded golden file next to it."
	app.Authors = []string{"xplshn"}
	app.Repository = "<https://github.com/xplshn/traitc>"
	app.Since = 2025

	var (
		s          suite
		compiler   string
		args       string
		ignore     string
		timeoutArg string
	)
	fs := app.FlagSet
	fs.String(&s.dir, "dir", "", "tests", "Directory searched for *.tc sources.", "dir")
	fs.String(&s.goldenDir, "golden-dir", "", "", "Directory for golden files (defaults to next to each source).", "dir")
	fs.String(&s.filter, "filter", "f", "", "Only test files whose name contains <substr>.", "substr")
	fs.Bool(&s.update, "update", "u", false, "Rewrite golden files from the current output.")
	fs.Bool(&s.verbose, "verbose", "v", false, "Print timings for every file.")
	fs.Int(&s.jobs, "jobs", "j", 4, "Number of parallel test jobs.", "n")
	fs.String(&compiler, "compiler", "c", "./traitc", "Compiler under test.", "path")
	fs.String(&args, "compiler-args", "", "", "Extra compiler arguments (space-separated).", "args")
	fs.Bool(&s.runner.native, "native", "n", false, "Build native binaries instead of using --run.")
	fs.String(&timeoutArg, "timeout", "t", "5s", "Timeout for each command.", "duration")
	fs.String(&ignore, "ignore-lines", "", "", "Comma-separated substrings ignored when comparing output.", "list")

	failed := false
	app.Action = func(files []string) error {
		timeout, err := time.ParseDuration(timeoutArg)
		if err != nil {
			return errors.Wrap(err, "--timeout")
		}
		s.runner.compiler = compiler
		s.runner.args = strings.Fields(args)
		s.runner.timeout = timeout
		if ignore != "" {
			s.runner.ignore = strings.Split(ignore, ",")
		}
		if s.jobs < 1 {
			s.jobs = 1
		}

		tempDir, err := os.MkdirTemp("", "ttest-*")
		if err != nil {
			return errors.Wrap(err, "create temp dir")
		}
		defer os.RemoveAll(tempDir)
		s.runner.tempDir = tempDir

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if s.verbose {
			ctx = tlog.ContextWithSpan(ctx, tlog.Root())
		}

		if len(files) == 0 {
			if files, err = discover(s.dir, s.filter); err != nil {
				return err
			}
		}
		results := s.run(ctx, files)
		failed = printSummary(os.Stdout, results, s.verbose)
		return nil
	}

	if err := app.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "ttest: %v\n", err)
		os.Exit(2)
	}
	if failed {
		os.Exit(1)
	}
}

// discover lists the *.tc files under dir whose base name contains filter.
func discover(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".tc" {
			return nil
		}
		if filter != "" && !strings.Contains(filepath.Base(path), filter) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan %v", dir)
	}
	sort.Strings(files)
	return files, nil
}

// run feeds the files to a pool of workers. Files with identical content are
// tested once.
func (s *suite) run(ctx context.Context, files []string) []*Result {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "suite", "files", len(files), "jobs", s.jobs, "update", s.update)
	defer tr.Finish()

	tasks := make(chan string, len(files))
	results := make(chan *Result, len(files))
	var wg sync.WaitGroup
	for i := 0; i < s.jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for file := range tasks {
				if ctx.Err() != nil {
					results <- &Result{File: file, Status: StatusSkip, Message: "interrupted"}
					continue
				}
				r := s.runner.check(ctx, s.goldenDir, file, s.update)
				tr.Printw("checked", "file", file, "status", r.Status)
				results <- r
			}
		}()
	}

	seen := make(map[string]string)
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			results <- &Result{File: file, Status: StatusError, Message: err.Error()}
			continue
		}
		key := hashInputs(content, "", nil)
		if orig, dup := seen[key]; dup {
			results <- &Result{File: file, Status: StatusSkip, Message: "content is identical to " + orig}
			continue
		}
		seen[key] = file
		tasks <- file
	}
	close(tasks)
	wg.Wait()
	close(results)

	var all []*Result
	for r := range results {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].File < all[j].File })
	return all
}

func statusLabel(st Status) string {
	switch st {
	case StatusPass, StatusNew:
		return passColor(string(st))
	case StatusSkip, StatusStale:
		return skipColor(string(st))
	}
	return failColor(string(st))
}

// printSummary reports every result and returns whether any file failed.
func printSummary(w io.Writer, results []*Result, verbose bool) bool {
	counts := make(map[Status]int)
	var total time.Duration
	for _, r := range results {
		counts[r.Status]++
		fmt.Fprintln(w, "----------------------------------------------------------------------")
		fmt.Fprintf(w, "Testing %s...\n", fileColor(r.File))
		fmt.Fprintf(w, "  [%s] %s\n", statusLabel(r.Status), r.Message)
		writeDiff(w, r.Diff)
		if r.Got == nil {
			continue
		}
		total += r.Got.Compile.Duration
		if verbose {
			fmt.Fprintf(w, "  compile: %s", formatDuration(r.Got.Compile.Duration))
			if r.Got.Run != nil {
				fmt.Fprintf(w, "  run: %s", formatDuration(r.Got.Run.Duration))
			}
			fmt.Fprintln(w)
		}
	}

	fmt.Fprintln(w, "----------------------------------------------------------------------")
	fmt.Fprintf(w, "%s %s, %s, %s, %s, %s, %d Total\n", boldColor("Test Summary:"),
		passColor(fmt.Sprintf("%d Passed", counts[StatusPass])),
		failColor(fmt.Sprintf("%d Failed", counts[StatusFail]+counts[StatusError])),
		skipColor(fmt.Sprintf("%d Stale", counts[StatusStale])),
		skipColor(fmt.Sprintf("%d Skipped", counts[StatusSkip])),
		passColor(fmt.Sprintf("%d Updated", counts[StatusNew])),
		len(results))
	if verbose && len(results) > 0 {
		fmt.Fprintf(w, "Average compile time: %s\n", formatDuration(total/time.Duration(len(results))))
	}
	return counts[StatusFail]+counts[StatusError]+counts[StatusStale] > 0
}
