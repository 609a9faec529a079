package ir

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Dump writes a readable listing of prog.
func Dump(w io.Writer, prog *Program) {
	for _, l := range prog.Structs {
		fields := make([]string, len(l.Fields))
		for i, f := range l.Fields {
			if f.Struct != "" {
				fields[i] = f.Name + " :" + f.Struct
			} else {
				fields[i] = f.Name + " " + f.Type.String()
			}
		}
		fmt.Fprintf(w, "struct %s { %s }\n", l.Name, strings.Join(fields, ", "))
	}

	labels := make([]string, 0, len(prog.Strings))
	for s, label := range prog.Strings {
		labels = append(labels, label+" = "+strconv.Quote(s))
	}
	sort.Strings(labels)
	for _, l := range labels {
		fmt.Fprintf(w, "data $%s\n", l)
	}

	for _, e := range prog.Externs {
		params := make([]string, len(e.Params))
		for i, p := range e.Params {
			params[i] = p.String()
		}
		fmt.Fprintf(w, "extern $%s(%s) %s\n", e.Name, strings.Join(params, ", "), e.ReturnType)
	}

	for _, fn := range prog.Funcs {
		fmt.Fprintln(w)
		DumpFunc(w, fn)
	}
}

func DumpFunc(w io.Writer, fn *Func) {
	params := make([]string, len(fn.Params))
	for i, p := range fn.Params {
		params[i] = p.Val.String() + " " + p.Typ.String()
	}
	ret := fn.ReturnType.String()
	if fn.RetStruct != "" {
		ret = ":" + fn.RetStruct
	}
	fmt.Fprintf(w, "func $%s(%s) %s {\n", fn.Name, strings.Join(params, ", "), ret)
	for _, b := range fn.Blocks {
		fmt.Fprintf(w, "%s\n", b.Label)
		for _, in := range b.Instructions {
			fmt.Fprintf(w, "\t%s\n", in)
		}
	}
	fmt.Fprintln(w, "}")
}

func joinValues(vals []Value) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = v.String()
	}
	return strings.Join(parts, ", ")
}

func (in *Instruction) String() string {
	var sb strings.Builder
	if in.Result != nil {
		fmt.Fprintf(&sb, "%s =%s ", in.Result, in.Typ)
	}
	switch in.Op {
	case OpLoad:
		fmt.Fprintf(&sb, "load.%s %s", in.OperandType, in.Args[0])
	case OpStore:
		fmt.Fprintf(&sb, "store.%s %s", in.Typ, joinValues(in.Args))
	case OpAlloc:
		fmt.Fprintf(&sb, "alloc %s, %d", in.Args[0], in.Align)
		if in.Struct != "" {
			fmt.Fprintf(&sb, " :%s", in.Struct)
		}
	case OpFieldPtr:
		fmt.Fprintf(&sb, "fieldptr :%s %s", in.Struct, joinValues(in.Args))
	case OpCall:
		args := make([]string, len(in.Args)-1)
		for i, a := range in.Args[1:] {
			args[i] = in.ArgTypes[i].String() + " " + a.String()
		}
		fmt.Fprintf(&sb, "call %s(%s)", in.Args[0], strings.Join(args, ", "))
	case OpPhi:
		pairs := make([]string, 0, len(in.Args)/2)
		for i := 0; i+1 < len(in.Args); i += 2 {
			pairs = append(pairs, in.Args[i].String()+" "+in.Args[i+1].String())
		}
		fmt.Fprintf(&sb, "phi %s", strings.Join(pairs, ", "))
	default:
		sb.WriteString(in.Op.String())
		if in.OperandType != TypeNone {
			sb.WriteString("." + in.OperandType.String())
		}
		if len(in.Args) > 0 {
			sb.WriteString(" " + joinValues(in.Args))
		}
	}
	return sb.String()
}
