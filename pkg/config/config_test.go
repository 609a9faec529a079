package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := NewConfig()
	assert.Equal(t, 8, c.WordSize)
	assert.Equal(t, "qbe", c.Backend)
	assert.True(t, c.IsFeatureEnabled(FeatStrictVarInit))
	assert.True(t, c.IsFeatureEnabled(FeatWhileLoops))
	assert.False(t, c.IsWarningEnabled(WarnShadow))
	assert.Len(t, c.FeatureMap, int(FeatCount))
	assert.Len(t, c.WarningMap, int(WarnCount))
}

func TestApplyFlag(t *testing.T) {
	c := NewConfig()
	assert.True(t, c.ApplyFlag("-Wshadow"))
	assert.True(t, c.IsWarningEnabled(WarnShadow))
	assert.True(t, c.ApplyFlag("-Fno-implicit-self"))
	assert.False(t, c.IsFeatureEnabled(FeatImplicitSelf))
	assert.True(t, c.ApplyFlag("-Wno-all"))
	for i := Warning(0); i < WarnCount; i++ {
		assert.False(t, c.IsWarningEnabled(i), c.Warnings[i].Name)
	}
	assert.False(t, c.ApplyFlag("-Wnonsense"))
	assert.False(t, c.ApplyFlag("-Fall"), "there is no feature group")
}

func TestProcessFlagsAppliesAllFirst(t *testing.T) {
	c := NewConfig()
	flags := []string{"Wshadow", "Wno-all"}
	c.ProcessFlags(func(apply func(string)) {
		for _, f := range flags {
			apply(f)
		}
	})
	assert.True(t, c.IsWarningEnabled(WarnShadow))
	assert.False(t, c.IsWarningEnabled(WarnExtra))
}

func TestSetTarget(t *testing.T) {
	var log bytes.Buffer
	c := NewConfig()
	c.Log = &log
	c.SetTarget("linux", "arm64", "arm64")
	assert.Equal(t, "arm64", c.QbeTarget)
	assert.Equal(t, 8, c.WordSize)
	assert.Contains(t, log.String(), "using specified target 'arm64'")

	log.Reset()
	c.SetTarget("linux", "amd64", "")
	assert.NotEmpty(t, c.QbeTarget)
	assert.Contains(t, log.String(), "defaulting to host target")

	log.Reset()
	c.SetTarget("linux", "amd64", "vax")
	assert.Contains(t, log.String(), "unrecognized or unsupported QBE target 'vax'")
}

func TestPrintSwitches(t *testing.T) {
	var buf bytes.Buffer
	c := NewConfig()
	c.PrintFeatures(&buf)
	c.PrintWarnings(&buf)
	assert.Contains(t, buf.String(), "strict-var-init")
	assert.Contains(t, buf.String(), "unused-result")
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "traitc.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `Target = "rv64"
Backend = "llvm"
Output = "prog"

[Features]
while-loops = false

[Warnings]
all = false
extra = true
`)
	f, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "rv64", f.Target)

	c := NewConfig()
	require.NoError(t, f.Apply(c))
	assert.Equal(t, "rv64", c.QbeTarget)
	assert.Equal(t, "llvm", c.Backend)
	assert.Equal(t, "prog", c.Output)
	assert.False(t, c.IsFeatureEnabled(FeatWhileLoops))
	assert.True(t, c.IsWarningEnabled(WarnExtra), "individual keys refine 'all'")
	assert.False(t, c.IsWarningEnabled(WarnEmptyBody))
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = LoadFile(writeFile(t, "Bogus = 1\n"))
	assert.Error(t, err)

	f, err := LoadFile(writeFile(t, "[Features]\ngenerics = true\n"))
	require.NoError(t, err)
	assert.ErrorContains(t, f.Apply(NewConfig()), `unknown feature "generics"`)

	f, err = LoadFile(writeFile(t, "[Warnings]\nloud = true\n"))
	require.NoError(t, err)
	assert.ErrorContains(t, f.Apply(NewConfig()), `unknown warning "loud"`)
}
