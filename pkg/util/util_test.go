package util

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xplshn/traitc/pkg/config"
	"github.com/xplshn/traitc/pkg/token"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	m.Run()
}

func TestReporterCollects(t *testing.T) {
	cfg := config.NewConfig()
	cfg.SetWarning(config.WarnShadow, false)
	rep := NewReporter(cfg)

	rep.Warn(config.WarnShadow, token.Token{}, "suppressed")
	rep.Warn(config.WarnEmptyBody, token.Token{}, "Function '%s' has an empty body", "f")
	assert.False(t, rep.HasErrors())

	rep.Error(token.Token{}, "Undefined variable '%s'", "x")
	rep.Error(token.Token{}, "second")
	assert.True(t, rep.HasErrors())
	assert.Equal(t, 2, rep.ErrorCount())
	assert.Equal(t, []string{"Undefined variable 'x'", "second"}, rep.Messages())

	diags := rep.Diagnostics()
	require.Len(t, diags, 3)
	assert.Equal(t, LevelWarning, diags[0].Level)
	assert.Equal(t, "empty-body", diags[0].Flag)
}

func TestRender(t *testing.T) {
	SetSourceFiles([]SourceFileRecord{{Name: "main.tc", Content: []rune("var a = 1;\nvar bb = cc;\n")}})
	defer SetSourceFiles(nil)

	var buf bytes.Buffer
	Render(&buf, Diagnostic{Level: LevelError, Tok: token.Token{Line: 2, Column: 10, Len: 2}, Msg: "Undefined variable 'cc'"})
	assert.Equal(t, "main.tc:2:10: error: Undefined variable 'cc'\n  var bb = cc;\n           ^~\n", buf.String())

	buf.Reset()
	Render(&buf, Diagnostic{Level: LevelWarning, Tok: token.Token{Line: 1, Column: 1, Len: 3}, Msg: "unused", Flag: "unused-result"})
	assert.Equal(t, "main.tc:1:1: warning: unused [-Wunused-result]\n  var a = 1;\n  ^~~\n", buf.String())

	buf.Reset()
	Render(&buf, Diagnostic{Tok: token.Token{FileIndex: 5, Line: 3, Column: 4}, Msg: "lost"})
	assert.Equal(t, "unknown:3:4: error: lost\n", buf.String())
}

func TestReporterStreamsAndFlushes(t *testing.T) {
	var live, flushed bytes.Buffer
	rep := NewReporter(config.NewConfig())
	rep.Out = &live
	rep.Error(token.Token{FileIndex: -1}, "boom")
	rep.Flush(&flushed)
	assert.Equal(t, live.String(), flushed.String())
	assert.Contains(t, live.String(), "error: boom")
}
