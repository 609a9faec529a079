package util

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/xplshn/traitc/pkg/config"
	"github.com/xplshn/traitc/pkg/token"
)

type Level int

const (
	LevelError Level = iota
	LevelWarning
)

// Diagnostic is a single recorded error or warning.
type Diagnostic struct {
	Level   Level
	Tok     token.Token
	Msg     string
	Warning config.Warning
	Flag    string
}

// SourceFileRecord tracks the name and content of a single source file.
type SourceFileRecord struct {
	Name    string
	Content []rune
}

var sourceFiles []SourceFileRecord

// SetSourceFiles stores the source code for all input files for rich error messages
func SetSourceFiles(files []SourceFileRecord) {
	sourceFiles = files
}

var (
	errorLabel   = color.New(color.FgRed).SprintFunc()
	warningLabel = color.New(color.FgYellow).SprintFunc()
	caretColor   = color.New(color.FgGreen).SprintFunc()
)

// Reporter collects diagnostics for one compilation.
type Reporter struct {
	cfg    *config.Config
	diags  []Diagnostic
	errors int
	// Out, when set, receives each diagnostic as soon as it is recorded.
	Out io.Writer
}

func NewReporter(cfg *config.Config) *Reporter {
	return &Reporter{cfg: cfg}
}

// Error records an error at tok.
func (r *Reporter) Error(tok token.Token, format string, args ...interface{}) {
	d := Diagnostic{Level: LevelError, Tok: tok, Msg: fmt.Sprintf(format, args...)}
	r.diags = append(r.diags, d)
	r.errors++
	if r.Out != nil {
		Render(r.Out, d)
	}
}

// Warn records a warning if wt is enabled.
func (r *Reporter) Warn(wt config.Warning, tok token.Token, format string, args ...interface{}) {
	if r.cfg != nil && !r.cfg.IsWarningEnabled(wt) {
		return
	}
	d := Diagnostic{Level: LevelWarning, Tok: tok, Msg: fmt.Sprintf(format, args...), Warning: wt, Flag: r.warningName(wt)}
	r.diags = append(r.diags, d)
	if r.Out != nil {
		Render(r.Out, d)
	}
}

func (r *Reporter) HasErrors() bool { return r.errors > 0 }

func (r *Reporter) ErrorCount() int { return r.errors }

func (r *Reporter) Diagnostics() []Diagnostic { return r.diags }

// Messages returns the text of every recorded error, in order.
func (r *Reporter) Messages() []string {
	var msgs []string
	for _, d := range r.diags {
		if d.Level == LevelError {
			msgs = append(msgs, d.Msg)
		}
	}
	return msgs
}

// Flush renders every recorded diagnostic to w.
func (r *Reporter) Flush(w io.Writer) {
	for _, d := range r.diags {
		Render(w, d)
	}
}

func (r *Reporter) warningName(wt config.Warning) string {
	if r.cfg == nil {
		return ""
	}
	return r.cfg.Warnings[wt].Name
}

// Render prints one diagnostic with its source line and a caret under the token.
func Render(w io.Writer, d Diagnostic) {
	filename, line, col := findFileAndLine(d.Tok)
	switch d.Level {
	case LevelWarning:
		fmt.Fprintf(w, "%s:%d:%d: %s %s", filename, line, col, warningLabel("warning:"), d.Msg)
		if d.Flag != "" {
			fmt.Fprintf(w, " [-W%s]", d.Flag)
		}
		fmt.Fprintln(w)
	default:
		fmt.Fprintf(w, "%s:%d:%d: %s %s\n", filename, line, col, errorLabel("error:"), d.Msg)
	}
	printErrorLine(w, d.Tok)
}

// findFileAndLine converts a global token to a file-specific location
func findFileAndLine(tok token.Token) (filename string, line, col int) {
	if tok.FileIndex < 0 || tok.FileIndex >= len(sourceFiles) {
		return "unknown", tok.Line, tok.Column
	}
	return sourceFiles[tok.FileIndex].Name, tok.Line, tok.Column
}

// printErrorLine prints the source line and a caret indicating the error position
func printErrorLine(w io.Writer, tok token.Token) {
	if tok.FileIndex < 0 || tok.FileIndex >= len(sourceFiles) || tok.Line == 0 {
		return
	}

	content := sourceFiles[tok.FileIndex].Content
	lineNum := tok.Line
	lineStart := 0
	for i, r := range content {
		if lineNum <= 1 {
			break
		}
		if r == '\n' {
			lineNum--
			lineStart = i + 1
		}
	}

	lineEnd := len(content)
	for i := lineStart; i < len(content); i++ {
		if content[i] == '\n' {
			lineEnd = i
			break
		}
	}

	fmt.Fprintf(w, "  %s\n", string(content[lineStart:lineEnd]))

	pad := tok.Column - 1
	if pad < 0 {
		pad = 0
	}
	underline := "^"
	if tok.Len > 1 {
		underline += strings.Repeat("~", tok.Len-1)
	}
	fmt.Fprintf(w, "  %s%s\n", strings.Repeat(" ", pad), caretColor(underline))
}

// Fatal prints an error that is not tied to a source position and exits.
func Fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "traitc: %s ", errorLabel("error:"))
	fmt.Fprintf(os.Stderr, format, args...)
	fmt.Fprintln(os.Stderr)
	os.Exit(1)
}
