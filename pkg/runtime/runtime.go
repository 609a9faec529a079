// Package runtime holds the C support library linked into every program and
// the signatures of the intrinsics it provides.
package runtime

import (
	_ "embed"
	"sort"

	"github.com/xplshn/traitc/pkg/ast"
)

//go:embed runtime.c
var Source []byte

var intrinsics = make(map[string]*ast.Datatype)

func init() {
	scalars := []struct {
		suffix string
		typ    *ast.Datatype
	}{
		{"i8", ast.TypeInt8}, {"i16", ast.TypeInt16}, {"i32", ast.TypeInt32}, {"i64", ast.TypeInt64},
		{"u8", ast.TypeUint8}, {"u16", ast.TypeUint16}, {"u32", ast.TypeUint32}, {"u64", ast.TypeUint64},
		{"f32", ast.TypeFloat32}, {"f64", ast.TypeFloat64}, {"bool", ast.TypeBool},
	}
	for _, s := range scalars {
		printName, scanName := "print"+s.suffix, "scan"+s.suffix
		intrinsics[printName] = ast.Function(printName, "", ast.TypeVoid, []*ast.Datatype{s.typ})
		intrinsics[scanName] = ast.Function(scanName, "", s.typ, nil)
	}
	intrinsics["printstr"] = ast.Function("printstr", "", ast.TypeVoid, []*ast.Datatype{ast.TypeString})
	intrinsics["println"] = ast.Function("println", "", ast.TypeVoid, nil)
}

// Lookup returns the signature of a runtime intrinsic.
func Lookup(name string) (*ast.Datatype, bool) {
	t, ok := intrinsics[name]
	return t, ok
}

// Names lists every intrinsic in sorted order.
func Names() []string {
	names := make([]string, 0, len(intrinsics))
	for n := range intrinsics {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
