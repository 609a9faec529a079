package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"modernc.org/libqbe"
)

type Feature int

const (
	FeatStrictVarInit Feature = iota
	FeatImplicitSelf
	FeatWhileLoops
	FeatCount
)

type Warning int

const (
	WarnUnusedResult Warning = iota
	WarnShadow
	WarnEmptyBody
	WarnExtra
	WarnCount
)

type Info struct {
	Name        string
	Enabled     bool
	Description string
}

var defaultFeatures = [FeatCount]Info{
	FeatStrictVarInit: {"strict-var-init", true, "Require an annotated `var` initializer to match its annotation."},
	FeatImplicitSelf:  {"implicit-self", true, "Bind `self` in methods that do not list it as a parameter."},
	FeatWhileLoops:    {"while-loops", true, "Accept and lower `while` loops."},
}

var defaultWarnings = [WarnCount]Info{
	WarnUnusedResult: {"unused-result", true, "Warn about expression statements without side effects."},
	WarnShadow:       {"shadow", false, "Warn when a local variable shadows an outer one."},
	WarnEmptyBody:    {"empty-body", true, "Warn about functions with an empty body."},
	WarnExtra:        {"extra", true, "Enable extra miscellaneous warnings."},
}

// wordSizes lists the QBE targets traitc knows how to lay structs out for.
var wordSizes = map[string]int{
	"amd64_sysv":  8,
	"amd64_apple": 8,
	"arm64":       8,
	"arm64_apple": 8,
	"rv64":        8,
}

// Config holds the settings of one compilation. Features and Warnings are
// indexed by their enum values.
type Config struct {
	Features   []Info
	Warnings   []Info
	FeatureMap map[string]Feature
	WarningMap map[string]Warning
	QbeTarget  string
	WordSize   int
	Backend    string
	Output     string
	// Log receives informational messages from target selection.
	Log io.Writer
}

func NewConfig() *Config {
	cfg := &Config{
		Features:   append([]Info(nil), defaultFeatures[:]...),
		Warnings:   append([]Info(nil), defaultWarnings[:]...),
		FeatureMap: make(map[string]Feature, FeatCount),
		WarningMap: make(map[string]Warning, WarnCount),
		WordSize:   8,
		Backend:    "qbe",
		Log:        os.Stderr,
	}
	for i, info := range cfg.Features {
		cfg.FeatureMap[info.Name] = Feature(i)
	}
	for i, info := range cfg.Warnings {
		cfg.WarningMap[info.Name] = Warning(i)
	}
	return cfg
}

// SetTarget picks the QBE target, falling back to the host's when qbeTarget is empty.
func (c *Config) SetTarget(goos, goarch, qbeTarget string) {
	if qbeTarget == "" {
		c.QbeTarget = libqbe.DefaultTarget(goos, goarch)
		c.logf("traitc: info: no target specified, defaulting to host target '%s'\n", c.QbeTarget)
	} else {
		c.QbeTarget = qbeTarget
		c.logf("traitc: info: using specified target '%s'\n", c.QbeTarget)
	}

	size, ok := wordSizes[c.QbeTarget]
	if !ok {
		c.logf("traitc: warning: unrecognized or unsupported QBE target '%s'.\n", c.QbeTarget)
		c.logf("traitc: warning: defaulting to 64-bit properties. Compilation may fail.\n")
		size = 8
	}
	c.WordSize = size
}

func (c *Config) logf(format string, args ...interface{}) {
	if c.Log != nil {
		fmt.Fprintf(c.Log, format, args...)
	}
}

func (c *Config) SetFeature(ft Feature, enabled bool) {
	if ft >= 0 && ft < FeatCount {
		c.Features[ft].Enabled = enabled
	}
}

func (c *Config) IsFeatureEnabled(ft Feature) bool {
	return ft >= 0 && ft < FeatCount && c.Features[ft].Enabled
}

func (c *Config) SetWarning(wt Warning, enabled bool) {
	if wt >= 0 && wt < WarnCount {
		c.Warnings[wt].Enabled = enabled
	}
}

func (c *Config) IsWarningEnabled(wt Warning) bool {
	return wt >= 0 && wt < WarnCount && c.Warnings[wt].Enabled
}

func (c *Config) setAllWarnings(enabled bool) {
	for i := range c.Warnings {
		c.Warnings[i].Enabled = enabled
	}
}

// splitSwitch breaks "-Wno-shadow" into ('W', "shadow", false). A switch
// without a W or F prefix is read as a warning name.
func splitSwitch(flag string) (kind byte, name string, enable bool) {
	name = strings.TrimPrefix(flag, "-")
	kind = 'W'
	if strings.HasPrefix(name, "W") || strings.HasPrefix(name, "F") {
		kind, name = name[0], name[1:]
	}
	if rest, ok := strings.CutPrefix(name, "no-"); ok {
		return kind, rest, false
	}
	return kind, name, true
}

// ApplyFlag handles a single -W/-F style switch. It reports whether the name was known.
func (c *Config) ApplyFlag(flag string) bool {
	kind, name, enable := splitSwitch(flag)
	if kind == 'F' {
		ft, ok := c.FeatureMap[name]
		if ok {
			c.SetFeature(ft, enable)
		}
		return ok
	}
	if name == "all" {
		c.setAllWarnings(enable)
		return true
	}
	wt, ok := c.WarningMap[name]
	if ok {
		c.SetWarning(wt, enable)
	}
	return ok
}

// ProcessFlags applies -Wall/-Wno-all first so that individual switches can refine it.
func (c *Config) ProcessFlags(visitFlag func(fn func(name string))) {
	isAll := func(name string) bool { return name == "Wall" || name == "Wno-all" }
	visitFlag(func(name string) {
		if isAll(name) {
			c.ApplyFlag("-" + name)
		}
	})
	visitFlag(func(name string) {
		if !isAll(name) {
			c.ApplyFlag("-" + name)
		}
	})
}

func printInfos(w io.Writer, infos []Info) {
	for _, info := range infos {
		fmt.Fprintf(w, "  - %-20s: %v (%s)\n", info.Name, info.Enabled, info.Description)
	}
}

// PrintFeatures writes the status of every feature, in declaration order.
func (c *Config) PrintFeatures(w io.Writer) { printInfos(w, c.Features) }

func (c *Config) PrintWarnings(w io.Writer) { printInfos(w, c.Warnings) }
