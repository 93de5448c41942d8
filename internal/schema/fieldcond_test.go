package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileFieldExpr_Empty(t *testing.T) {
	e := CompileFieldExpr("")
	require.True(t, e.Eval(nil, 0))
}

func TestCompileFieldExpr_BitAndCompare(t *testing.T) {
	// The documented fixture: ((Data Flags #BITAND# 63) != 0).
	e := CompileFieldExpr("((Data Flags #BITAND# 63) != 0)")

	assert.True(t, e.Eval(map[string]int64{"Data Flags": 7}, 0))
	assert.False(t, e.Eval(map[string]int64{"Data Flags": 64}, 0))
	assert.False(t, e.Eval(map[string]int64{}, 0))
}

func TestCompileFieldExpr_SymbolicBitAnd(t *testing.T) {
	e := CompileFieldExpr("(Data Flags & 63) != 0")
	assert.True(t, e.Eval(map[string]int64{"Data Flags": 7}, 0))
	assert.False(t, e.Eval(map[string]int64{"Data Flags": 64}, 0))
}

func TestCompileFieldExpr_BareValueMeansNotEqualZero(t *testing.T) {
	e := CompileFieldExpr("Has Vertex Weights")
	assert.True(t, e.Eval(map[string]int64{"Has Vertex Weights": 1}, 0))
	assert.False(t, e.Eval(map[string]int64{"Has Vertex Weights": 0}, 0))
	assert.False(t, e.Eval(map[string]int64{}, 0))
}

func TestCompileFieldExpr_MissingFieldIsZero(t *testing.T) {
	e := CompileFieldExpr("Num UV Sets == 0")
	assert.True(t, e.Eval(map[string]int64{}, 0))
	assert.False(t, e.Eval(map[string]int64{"Num UV Sets": 2}, 0))
}

func TestCompileFieldExpr_AndOr(t *testing.T) {
	e := CompileFieldExpr("Has Normals && (Has UV || Has Vertex Colors)")
	assert.True(t, e.Eval(map[string]int64{"Has Normals": 1, "Has UV": 1, "Has Vertex Colors": 0}, 0))
	assert.True(t, e.Eval(map[string]int64{"Has Normals": 1, "Has UV": 0, "Has Vertex Colors": 1}, 0))
	assert.False(t, e.Eval(map[string]int64{"Has Normals": 0, "Has UV": 1, "Has Vertex Colors": 1}, 0))
	assert.False(t, e.Eval(map[string]int64{"Has Normals": 1, "Has UV": 0, "Has Vertex Colors": 0}, 0))
}

func TestCompileFieldExpr_KeywordAliases(t *testing.T) {
	e := CompileFieldExpr("Vertex Format #BITAND# 4096 #NEQ# 0 #AND# #NOT# Consistency Flags #EQ# 0")
	assert.True(t, e.Eval(map[string]int64{"Vertex Format": 4096, "Consistency Flags": 1}, 0))
	assert.False(t, e.Eval(map[string]int64{"Vertex Format": 0, "Consistency Flags": 1}, 0))
}

func TestCompileFieldExpr_Not(t *testing.T) {
	e := CompileFieldExpr("!Has Faces")
	assert.True(t, e.Eval(map[string]int64{"Has Faces": 0}, 0))
	assert.False(t, e.Eval(map[string]int64{"Has Faces": 1}, 0))
}

func TestCompileFieldExpr_Arg(t *testing.T) {
	e := CompileFieldExpr("#ARG# == 1")
	assert.True(t, e.Eval(nil, 1))
	assert.False(t, e.Eval(nil, 2))
}

func TestCompileFieldExpr_HexLiteral(t *testing.T) {
	e := CompileFieldExpr("Block Type == 0x20")
	assert.True(t, e.Eval(map[string]int64{"Block Type": 0x20}, 0))
}

func TestCompileFieldExpr_ParenBooleanFallback(t *testing.T) {
	// Inner parens hold a genuine boolean expression, not a value expression:
	// the value-first attempt must backtrack cleanly.
	e := CompileFieldExpr("(Has UV || Has Vertex Colors) && Has Normals")
	assert.True(t, e.Eval(map[string]int64{"Has UV": 1, "Has Vertex Colors": 0, "Has Normals": 1}, 0))
	assert.False(t, e.Eval(map[string]int64{"Has UV": 0, "Has Vertex Colors": 0, "Has Normals": 1}, 0))
}

func TestCompileFieldExpr_MalformedFallsBackToTrue(t *testing.T) {
	cases := []string{
		"Data Flags #BITAND#",
		"(Data Flags",
		"== 5",
		"Data Flags && &&",
	}
	for _, c := range cases {
		e := CompileFieldExpr(c)
		assert.True(t, e.Eval(map[string]int64{"Data Flags": 0}, 0), "expr %q should fall back to always-true", c)
	}
}

func TestFieldExpr_Fields(t *testing.T) {
	e := CompileFieldExpr("(Data Flags #BITAND# 63) != 0 && Has UV")
	require.ElementsMatch(t, []string{"Data Flags", "Has UV"}, e.Fields())
}

func TestFieldExpr_FieldsEmptyOnFallback(t *testing.T) {
	e := CompileFieldExpr("Data Flags #BITAND#")
	require.Empty(t, e.Fields())
}

func TestFieldExpr_NilReceiverIsTrue(t *testing.T) {
	var e *FieldExpr
	assert.True(t, e.Eval(nil, 0))
	assert.Nil(t, e.Fields())
}
