package codegen

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/xplshn/traitc/pkg/config"
	"github.com/xplshn/traitc/pkg/ir"
	"github.com/yuin/goldmark"
	mdast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// A scenario file holds cases introduced by a "Test: name" heading. The
// traitc fence is the program; every other fence is an expectation.
const (
	fenceSource    = "traitc"
	fenceRun       = "run"
	fenceOutput    = "output"
	fenceFunctions = "functions"
	fenceStructs   = "structs"
	fenceErrors    = "errors"
	fenceInput     = "input"
)

type scenario struct {
	Name    string
	Line    int
	Source  string
	Input   string
	Expects map[string]string
}

func isExpectation(lang string) bool {
	switch lang {
	case fenceRun, fenceOutput, fenceFunctions, fenceStructs, fenceErrors:
		return true
	}
	return false
}

func headingText(n mdast.Node, source []byte) string {
	var buf bytes.Buffer
	mdast.Walk(n, func(n mdast.Node, entering bool) (mdast.WalkStatus, error) {
		if t, ok := n.(*mdast.Text); ok && entering {
			buf.Write(t.Segment.Value(source))
		}
		return mdast.WalkContinue, nil
	})
	return buf.String()
}

func fenceContent(n *mdast.FencedCodeBlock, source []byte) string {
	var buf bytes.Buffer
	for i := 0; i < n.Lines().Len(); i++ {
		line := n.Lines().At(i)
		buf.Write(line.Value(source))
	}
	return buf.String()
}

func lineOf(n mdast.Node, source []byte) int {
	if n.Lines().Len() == 0 {
		return 1
	}
	return bytes.Count(source[:n.Lines().At(0).Start], []byte("\n")) + 1
}

func extractScenarios(markdown []byte) ([]scenario, error) {
	doc := goldmark.New().Parser().Parse(text.NewReader(markdown))

	var out []scenario
	var cur *scenario
	finish := func() error {
		if cur == nil {
			return nil
		}
		if cur.Source == "" {
			return fmt.Errorf("test '%s' has no %s fence", cur.Name, fenceSource)
		}
		if len(cur.Expects) == 0 {
			return fmt.Errorf("test '%s' has no expectations", cur.Name)
		}
		out = append(out, *cur)
		return nil
	}

	err := mdast.Walk(doc, func(node mdast.Node, entering bool) (mdast.WalkStatus, error) {
		if !entering {
			return mdast.WalkContinue, nil
		}
		switch n := node.(type) {
		case *mdast.Heading:
			title := headingText(n, markdown)
			if !strings.HasPrefix(title, "Test: ") {
				return mdast.WalkContinue, nil
			}
			if err := finish(); err != nil {
				return mdast.WalkStop, err
			}
			cur = &scenario{Name: strings.TrimPrefix(title, "Test: "), Expects: make(map[string]string)}
		case *mdast.FencedCodeBlock:
			lang := string(n.Language(markdown))
			line := lineOf(n, markdown)
			if lang == "" {
				return mdast.WalkContinue, nil
			}
			if cur == nil {
				return mdast.WalkStop, fmt.Errorf("line %d: %s fence outside of a test", line, lang)
			}
			content := fenceContent(n, markdown)
			switch {
			case lang == fenceSource:
				if cur.Source != "" {
					return mdast.WalkStop, fmt.Errorf("line %d: test '%s' has two programs", line, cur.Name)
				}
				cur.Source, cur.Line = content, line
			case lang == fenceInput:
				cur.Input = content
			case isExpectation(lang):
				if _, dup := cur.Expects[lang]; dup {
					return mdast.WalkStop, fmt.Errorf("line %d: test '%s' repeats the %s fence", line, cur.Name, lang)
				}
				cur.Expects[lang] = content
			default:
				return mdast.WalkStop, fmt.Errorf("line %d: unknown fence language '%s' in test '%s'", line, lang, cur.Name)
			}
		}
		return mdast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}
	if err := finish(); err != nil {
		return nil, err
	}
	return out, nil
}

func lines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func structLines(prog *ir.Program) []string {
	var buf bytes.Buffer
	ir.Dump(&buf, prog)
	var out []string
	for _, l := range lines(buf.String()) {
		if strings.HasPrefix(l, "struct ") {
			out = append(out, strings.TrimPrefix(l, "struct "))
		}
	}
	return out
}

func runScenario(t *testing.T, sc scenario) {
	prog, rep := compile(t, config.NewConfig(), sc.Source)

	if want, ok := sc.Expects[fenceErrors]; ok {
		require.Nil(t, prog, "expected compilation to fail")
		if diff := cmp.Diff(lines(want), rep.Messages()); diff != "" {
			t.Errorf("diagnostics differ (-want +got):\n%s", diff)
		}
		return
	}
	require.NotNil(t, prog, "compilation failed: %v", rep.Messages())

	if want, ok := sc.Expects[fenceFunctions]; ok {
		if diff := cmp.Diff(lines(want), funcNames(prog)); diff != "" {
			t.Errorf("functions differ (-want +got):\n%s", diff)
		}
	}
	if want, ok := sc.Expects[fenceStructs]; ok {
		if diff := cmp.Diff(lines(want), structLines(prog)); diff != "" {
			t.Errorf("structs differ (-want +got):\n%s", diff)
		}
	}

	wantRun, hasRun := sc.Expects[fenceRun]
	wantOut, hasOut := sc.Expects[fenceOutput]
	if !hasRun && !hasOut {
		return
	}
	in := ir.NewInterpreter(prog)
	in.SetInput(strings.NewReader(sc.Input))
	var out strings.Builder
	in.Out = &out
	bits, err := in.Call("main")
	require.NoError(t, err)
	if hasRun {
		got := ir.IntValue(prog.FindFunc("main").ReturnType, bits)
		require.Equal(t, strings.TrimSpace(wantRun), fmt.Sprint(got), "result of main")
	}
	if hasOut {
		if diff := cmp.Diff(strings.TrimRight(wantOut, "\n"), strings.TrimRight(out.String(), "\n")); diff != "" {
			t.Errorf("output differs (-want +got):\n%s", diff)
		}
	}
}

func TestScenarios(t *testing.T) {
	files, err := filepath.Glob("testdata/*.md")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		t.Run(strings.TrimSuffix(filepath.Base(file), ".md"), func(t *testing.T) {
			content, err := os.ReadFile(file)
			require.NoError(t, err)
			scenarios, err := extractScenarios(content)
			require.NoError(t, err)
			require.NotEmpty(t, scenarios)
			for _, sc := range scenarios {
				t.Run(sc.Name, func(t *testing.T) { runScenario(t, sc) })
			}
		})
	}
}

func TestExtractScenariosRejectsMalformedFiles(t *testing.T) {
	tests := map[string]string{
		"stray fence":   "```run\n1\n```\n",
		"no program":    "### Test: a\n```run\n1\n```\n",
		"no expects":    "### Test: a\n```traitc\nfunc main() { }\n```\n",
		"unknown fence": "### Test: a\n```traitc\nfunc main() { }\n```\n```wasm\n```\n",
		"two programs":  "### Test: a\n```traitc\nfunc main() { }\n```\n```traitc\nfunc main() { }\n```\n",
	}
	for name, md := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := extractScenarios([]byte(md))
			require.Error(t, err)
		})
	}
}
