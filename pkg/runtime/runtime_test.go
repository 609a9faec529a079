package runtime

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xplshn/traitc/pkg/ast"
)

func TestEveryIntrinsicIsImplemented(t *testing.T) {
	names := Names()
	require.Len(t, names, 24)
	for _, name := range names {
		assert.True(t, bytes.Contains(Source, []byte(" "+name+"(")), "runtime.c lacks %s", name)
	}
}

func TestLookup(t *testing.T) {
	fn, ok := Lookup("printi64")
	require.True(t, ok)
	assert.Equal(t, ast.KindFunction, fn.Kind)
	assert.True(t, fn.Return.Equal(ast.TypeVoid))
	require.Len(t, fn.Params, 1)
	assert.True(t, fn.Params[0].Equal(ast.TypeInt64))

	fn, ok = Lookup("scanf32")
	require.True(t, ok)
	assert.Empty(t, fn.Params)
	assert.True(t, fn.Return.Equal(ast.TypeFloat32))

	_, ok = Lookup("printf")
	assert.False(t, ok)
}
