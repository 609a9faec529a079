package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"
	"tlog.app/go/errors"
)

type IndentState struct {
	levels   []uint8
	baseUnit uint8
}

func NewIndentState() *IndentState {
	return &IndentState{levels: []uint8{0}, baseUnit: 4}
}

func (is *IndentState) Push() {
	is.levels = append(is.levels, is.levels[len(is.levels)-1]+1)
}

func (is *IndentState) Pop() {
	if len(is.levels) > 1 {
		is.levels = is.levels[:len(is.levels)-1]
	}
}

func (is *IndentState) Current() string {
	return strings.Repeat(" ", int(is.baseUnit*is.levels[len(is.levels)-1]))
}

func (is *IndentState) AtLevel(level int) string {
	return strings.Repeat(" ", int(is.baseUnit)*level)
}

type Value interface {
	String() string
	Set(string) error
	Get() any
}

type stringValue struct{ p *string }

func (v *stringValue) Set(s string) error { *v.p = s; return nil }
func (v *stringValue) String() string     { return *v.p }
func (v *stringValue) Get() any           { return *v.p }

type boolValue struct{ p *bool }

func (v *boolValue) Set(s string) error {
	if s == "" {
		*v.p = true
		return nil
	}
	val, err := strconv.ParseBool(s)
	if err != nil {
		return errors.New("invalid boolean value '%s'", s)
	}
	*v.p = val
	return nil
}
func (v *boolValue) String() string { return strconv.FormatBool(*v.p) }
func (v *boolValue) Get() any       { return *v.p }

type intValue struct{ p *int }

func (v *intValue) Set(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return errors.New("invalid integer value '%s'", s)
	}
	*v.p = n
	return nil
}
func (v *intValue) String() string { return strconv.Itoa(*v.p) }
func (v *intValue) Get() any       { return *v.p }

type listValue struct{ p *[]string }

func (v *listValue) Set(s string) error { *v.p = append(*v.p, s); return nil }
func (v *listValue) String() string     { return strings.Join(*v.p, ", ") }
func (v *listValue) Get() any           { return *v.p }

type Flag struct {
	Name         string
	Shorthand    string
	Usage        string
	Value        Value
	DefValue     string
	ExpectedType string
}

func (f *Flag) isBool() bool {
	_, ok := f.Value.(*boolValue)
	return ok
}

// FlagGroup is a family of on/off switches sharing a prefix, such as -W and -F.
type FlagGroup struct {
	Name                 string
	Description          string
	Flags                []FlagGroupEntry
	GroupType            string
	AvailableFlagsHeader string
}

type FlagGroupEntry struct {
	Name     string
	Prefix   string
	Usage    string
	Enabled  *bool
	Disabled *bool
}

type FlagSet struct {
	name          string
	flags         map[string]*Flag
	shorthands    map[string]*Flag
	specialPrefix map[string]*Flag
	args          []string
	flagGroups    []FlagGroup
}

func NewFlagSet(name string) *FlagSet {
	return &FlagSet{
		name:          name,
		flags:         make(map[string]*Flag),
		shorthands:    make(map[string]*Flag),
		specialPrefix: make(map[string]*Flag),
	}
}

func (f *FlagSet) Args() []string { return f.args }

func (f *FlagSet) Lookup(name string) *Flag { return f.flags[name] }

func (f *FlagSet) String(p *string, name, shorthand, value, usage, expectedType string) {
	*p = value
	f.Var(&stringValue{p}, name, shorthand, usage, value, expectedType)
}

func (f *FlagSet) Bool(p *bool, name, shorthand string, value bool, usage string) {
	*p = value
	f.Var(&boolValue{p}, name, shorthand, usage, strconv.FormatBool(value), "")
}

func (f *FlagSet) Int(p *int, name, shorthand string, value int, usage, expectedType string) {
	*p = value
	f.Var(&intValue{p}, name, shorthand, usage, strconv.Itoa(value), expectedType)
}

func (f *FlagSet) List(p *[]string, name, shorthand string, value []string, usage, expectedType string) {
	*p = value
	f.Var(&listValue{p}, name, shorthand, usage, fmt.Sprintf("%v", value), expectedType)
}

// Special registers a prefix flag whose value is glued to it, like -Wall or -Fno-x.
func (f *FlagSet) Special(p *[]string, prefix, usage, expectedType string) {
	*p = []string{}
	f.Var(&listValue{p}, prefix, "", usage, "", expectedType)
	f.specialPrefix[prefix] = f.flags[prefix]
}

func (f *FlagSet) AddFlagGroup(name, description, groupType, availableFlagsHeader string, entries []FlagGroupEntry) {
	for i := range entries {
		e := &entries[i]
		if e.Enabled != nil {
			f.Bool(e.Enabled, e.Prefix+e.Name, "", *e.Enabled, e.Usage)
		}
		if e.Disabled != nil {
			f.Bool(e.Disabled, e.Prefix+"no-"+e.Name, "", *e.Disabled, "Disable '"+e.Name+"'")
		}
	}
	f.flagGroups = append(f.flagGroups, FlagGroup{
		Name:                 name,
		Description:          description,
		Flags:                entries,
		GroupType:            groupType,
		AvailableFlagsHeader: availableFlagsHeader,
	})
}

func (f *FlagSet) Var(value Value, name, shorthand, usage, defValue, expectedType string) {
	if name == "" {
		panic("flag name cannot be empty")
	}
	if _, ok := f.flags[name]; ok {
		panic(fmt.Sprintf("flag redefined: %s", name))
	}
	flag := &Flag{Name: name, Shorthand: shorthand, Usage: usage, Value: value, DefValue: defValue, ExpectedType: expectedType}
	f.flags[name] = flag
	if shorthand != "" {
		if _, ok := f.shorthands[shorthand]; ok {
			panic(fmt.Sprintf("shorthand flag redefined: %s", shorthand))
		}
		f.shorthands[shorthand] = flag
	}
}

// Parse accepts --name, --name=value, -name (long names with one dash),
// -x value, -xvalue and prefix flags. Everything after "--" is positional.
func (f *FlagSet) Parse(arguments []string) error {
	f.args = []string{}
	for i := 0; i < len(arguments); i++ {
		arg := arguments[i]
		switch {
		case len(arg) < 2 || arg[0] != '-':
			f.args = append(f.args, arg)
		case arg == "--":
			f.args = append(f.args, arguments[i+1:]...)
			return nil
		case strings.HasPrefix(arg, "--"):
			if err := f.parseLong(arg[2:], "--", arguments, &i); err != nil {
				return err
			}
		default:
			name, _, _ := strings.Cut(arg[1:], "=")
			if _, ok := f.flags[name]; ok {
				if err := f.parseLong(arg[1:], "-", arguments, &i); err != nil {
					return err
				}
				continue
			}
			if err := f.parseShort(arg, arguments, &i); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *FlagSet) parseLong(arg, dashes string, arguments []string, i *int) error {
	name, value, hasValue := strings.Cut(arg, "=")
	if name == "" {
		return errors.New("empty flag name")
	}
	flag, ok := f.flags[name]
	if !ok {
		return errors.New("unknown flag: %s%s", dashes, name)
	}
	if hasValue {
		return setValue(flag, value, dashes+name)
	}
	if flag.isBool() {
		return flag.Value.Set("")
	}
	if *i+1 >= len(arguments) {
		return errors.New("flag needs an argument: %s%s", dashes, name)
	}
	*i++
	return setValue(flag, arguments[*i], dashes+name)
}

func setValue(flag *Flag, value, spelled string) error {
	if err := flag.Value.Set(value); err != nil {
		return errors.Wrap(err, "%s", spelled)
	}
	return nil
}

func (f *FlagSet) parseShort(arg string, arguments []string, i *int) error {
	prefixes := make([]string, 0, len(f.specialPrefix))
	for p := range f.specialPrefix {
		prefixes = append(prefixes, p)
	}
	// Longest prefix first so that overlapping prefixes resolve the same way every run.
	sort.Slice(prefixes, func(a, b int) bool { return len(prefixes[a]) > len(prefixes[b]) })
	for _, p := range prefixes {
		if strings.HasPrefix(arg, "-"+p) && len(arg) > len(p)+1 {
			return f.specialPrefix[p].Value.Set(arg[len(p)+1:])
		}
	}

	shorthand := arg[1:2]
	flag, ok := f.shorthands[shorthand]
	if !ok {
		return errors.New("unknown shorthand flag: -%s", shorthand)
	}
	if flag.isBool() {
		return flag.Value.Set("")
	}
	value := arg[2:]
	if value == "" {
		if *i+1 >= len(arguments) {
			return errors.New("flag needs an argument: -%s", shorthand)
		}
		*i++
		value = arguments[*i]
	}
	return setValue(flag, value, "-"+shorthand)
}

type App struct {
	Name        string
	Synopsis    string
	Description string
	Authors     []string
	Repository  string
	Since       int
	FlagSet     *FlagSet
	Action      func(args []string) error

	Stdout io.Writer
	Stderr io.Writer
}

func NewApp(name string) *App {
	return &App{
		Name:    name,
		FlagSet: NewFlagSet(name),
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
}

func (a *App) Run(arguments []string) error {
	help := false
	a.FlagSet.Bool(&help, "help", "h", false, "Display this information")

	if err := a.FlagSet.Parse(arguments); err != nil {
		fmt.Fprintf(a.Stderr, "%s: %v\n", a.Name, err)
		a.writeUsage(a.Stderr)
		return err
	}
	if help {
		a.writeHelp(a.Stdout)
		return nil
	}
	if a.Action != nil {
		return a.Action(a.FlagSet.Args())
	}
	return nil
}

func (a *App) writeUsage(w io.Writer) {
	var sb strings.Builder
	indent := NewIndentState()
	synopsis := a.Synopsis
	if synopsis == "" {
		synopsis = "[options] <input> ..."
	}
	fmt.Fprintf(&sb, "Usage: %s %s\n", a.Name, synopsis)

	if opts := a.optionFlags(); len(opts) > 0 {
		width := termWidth(w)
		leftWidth, usageWidth := a.columnWidths(opts, false)
		fmt.Fprintf(&sb, "\n%sOptions\n", indent.AtLevel(1))
		for _, flag := range opts {
			a.formatFlagLine(&sb, flag, indent, width, leftWidth, usageWidth)
		}
	}
	fmt.Fprintf(&sb, "\nRun '%s --help' for all available options and flags.\n", a.Name)
	io.WriteString(w, sb.String())
}

func (a *App) copyright() string {
	years := strconv.Itoa(time.Now().Year())
	if a.Since > 0 && a.Since < time.Now().Year() {
		years = fmt.Sprintf("%d-%s", a.Since, years)
	}
	return fmt.Sprintf("Copyright (c) %s: %s and contributors", years, strings.Join(a.Authors, ", "))
}

func (a *App) writeHelp(w io.Writer) {
	var sb strings.Builder
	indent := NewIndentState()
	width := termWidth(w)
	opts := a.optionFlags()
	leftWidth, usageWidth := a.columnWidths(opts, true)

	fmt.Fprintf(&sb, "\n%s%s\n", indent.AtLevel(1), a.copyright())
	if a.Repository != "" {
		fmt.Fprintf(&sb, "%sFor more details refer to %s\n", indent.AtLevel(1), a.Repository)
	}
	if a.Synopsis != "" {
		synopsis := strings.NewReplacer("[", "<", "]", ">").Replace(a.Synopsis)
		fmt.Fprintf(&sb, "\n%sSynopsis\n%s%s %s\n", indent.AtLevel(1), indent.AtLevel(2), a.Name, synopsis)
	}
	if a.Description != "" {
		fmt.Fprintf(&sb, "\n%sDescription\n", indent.AtLevel(1))
		for _, line := range wrapText(a.Description, width-len(indent.AtLevel(2))) {
			fmt.Fprintf(&sb, "%s%s\n", indent.AtLevel(2), line)
		}
	}
	if len(opts) > 0 {
		fmt.Fprintf(&sb, "\n%sOptions\n", indent.AtLevel(1))
		for _, flag := range opts {
			a.formatFlagLine(&sb, flag, indent, width, leftWidth, usageWidth)
		}
	}

	groups := append([]FlagGroup(nil), a.FlagSet.flagGroups...)
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	for _, g := range groups {
		a.formatFlagGroup(&sb, g, indent, width, leftWidth, usageWidth)
	}
	io.WriteString(w, sb.String())
}

// optionFlags lists the ordinary flags, sorted by name.
func (a *App) optionFlags() []*Flag {
	var out []*Flag
	for _, flag := range a.FlagSet.flags {
		if _, special := a.FlagSet.specialPrefix[flag.Name]; special || a.isGroupFlag(flag.Name) {
			continue
		}
		out = append(out, flag)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (a *App) isGroupFlag(name string) bool {
	for _, g := range a.FlagSet.flagGroups {
		for _, e := range g.Flags {
			if name == e.Prefix+e.Name || name == e.Prefix+"no-"+e.Name {
				return true
			}
		}
	}
	return false
}

func groupPlaceholders(g FlagGroup) (on, off string) {
	prefix := ""
	if len(g.Flags) > 0 {
		prefix = g.Flags[0].Prefix
	}
	kind := g.GroupType
	if kind == "" {
		kind = "flag"
	}
	return fmt.Sprintf("-%s<%s>", prefix, kind), fmt.Sprintf("-%sno-<%s>", prefix, kind)
}

// columnWidths returns the width of the flag column and of the usage column.
func (a *App) columnWidths(opts []*Flag, withGroups bool) (left, usage int) {
	grow := func(n *int, s string) {
		if len(s) > *n {
			*n = len(s)
		}
	}
	for _, flag := range opts {
		grow(&left, formatFlagString(flag))
		grow(&usage, flag.Usage)
	}
	if !withGroups {
		return left, usage
	}
	for _, g := range a.FlagSet.flagGroups {
		on, off := groupPlaceholders(g)
		grow(&left, on)
		grow(&left, off)
		for _, e := range g.Flags {
			grow(&left, e.Name)
			grow(&usage, e.Usage)
		}
	}
	return left, usage
}

func formatFlagString(flag *Flag) string {
	var sb strings.Builder
	if flag.Shorthand != "" {
		fmt.Fprintf(&sb, "-%s", flag.Shorthand)
		if !flag.isBool() {
			fmt.Fprintf(&sb, " <%s>", flag.ExpectedType)
		}
		fmt.Fprintf(&sb, ", --%s", flag.Name)
		if !flag.isBool() {
			fmt.Fprintf(&sb, " <%s>", flag.ExpectedType)
		}
		return sb.String()
	}
	fmt.Fprintf(&sb, "--%s", flag.Name)
	if !flag.isBool() && flag.ExpectedType != "" {
		fmt.Fprintf(&sb, "=%s", flag.ExpectedType)
	}
	return sb.String()
}

func formatEntry(sb *strings.Builder, indent *IndentState, width int, left, usage, right string, leftWidth, usageWidth int) {
	indentStr := indent.AtLevel(2)
	avail := width - len(indentStr) - leftWidth - 1 - 2 - len(right)
	if avail < 10 {
		avail = 10
	}
	if usageWidth > avail {
		usageWidth = avail
	}
	lines := wrapText(usage, avail)
	first := ""
	if len(lines) > 0 {
		first = lines[0]
	}
	if right != "" {
		fmt.Fprintf(sb, "%s%-*s %-*s  %s\n", indentStr, leftWidth, left, usageWidth, first, right)
	} else {
		fmt.Fprintf(sb, "%s%-*s %s\n", indentStr, leftWidth, left, first)
	}
	pad := strings.Repeat(" ", leftWidth+1)
	for _, l := range lines[min(1, len(lines)):] {
		fmt.Fprintf(sb, "%s%s%s\n", indentStr, pad, l)
	}
}

func (a *App) formatFlagLine(sb *strings.Builder, flag *Flag, indent *IndentState, width, leftWidth, usageWidth int) {
	right := ""
	if !flag.isBool() && flag.DefValue != "" && flag.DefValue != "[]" {
		right = fmt.Sprintf("|%s|", flag.DefValue)
	}
	formatEntry(sb, indent, width, formatFlagString(flag), flag.Usage, right, leftWidth, usageWidth)
}

func (a *App) formatFlagGroup(sb *strings.Builder, g FlagGroup, indent *IndentState, width, leftWidth, usageWidth int) {
	fmt.Fprintf(sb, "\n%s%s\n", indent.AtLevel(1), g.Name)
	if g.Description != "" {
		fmt.Fprintf(sb, "%s%s\n", indent.AtLevel(2), g.Description)
	}
	on, off := groupPlaceholders(g)
	kind := g.GroupType
	if kind == "" {
		kind = "flag"
	}
	fmt.Fprintf(sb, "%s%-*s Enable a specific %s\n", indent.AtLevel(2), leftWidth, on, kind)
	fmt.Fprintf(sb, "%s%-*s Disable a specific %s\n", indent.AtLevel(2), leftWidth, off, kind)
	if g.AvailableFlagsHeader != "" {
		fmt.Fprintf(sb, "%s%s\n", indent.AtLevel(1), g.AvailableFlagsHeader)
	}

	entries := append([]FlagGroupEntry(nil), g.Flags...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	for _, e := range entries {
		mark := "|-|"
		if e.Enabled != nil && *e.Enabled && (e.Disabled == nil || !*e.Disabled) {
			mark = "|x|"
		}
		formatEntry(sb, indent, width, e.Name, e.Usage, mark, leftWidth, usageWidth)
	}
}

// termWidth measures w when it is a terminal and assumes 80 columns otherwise.
func termWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 80
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 80
	}
	return max(width, 20)
}

func wrapText(text string, maxWidth int) []string {
	words := strings.Fields(text)
	if maxWidth <= 0 || len(words) == 0 {
		if len(words) == 0 {
			return nil
		}
		return []string{text}
	}
	var lines []string
	var line strings.Builder
	for _, word := range words {
		if line.Len() > 0 && line.Len()+1+len(word) > maxWidth {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return lines
}
