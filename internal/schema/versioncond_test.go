package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileVersionExpr_Empty(t *testing.T) {
	e := CompileVersionExpr("")
	require.True(t, e.Eval(VersionTriple{}))
	require.True(t, e.Eval(VersionTriple{Version: 0x14020007}))
}

func TestCompileVersionExpr_SimpleCompare(t *testing.T) {
	e := CompileVersionExpr("#VER# == 335773031")
	assert.True(t, e.Eval(VersionTriple{Version: 335773031}))
	assert.False(t, e.Eval(VersionTriple{Version: 1}))
}

func TestCompileVersionExpr_HexLiteral(t *testing.T) {
	e := CompileVersionExpr("#VER# >= 0x14020007")
	assert.True(t, e.Eval(VersionTriple{Version: 0x14020007}))
	assert.True(t, e.Eval(VersionTriple{Version: 0x14020008}))
	assert.False(t, e.Eval(VersionTriple{Version: 0x14020006}))
}

func TestCompileVersionExpr_BSVerAndUserVer(t *testing.T) {
	e := CompileVersionExpr("#BSVER# > 83")
	assert.True(t, e.Eval(VersionTriple{BSVersion: 84}))
	assert.False(t, e.Eval(VersionTriple{BSVersion: 83}))

	e2 := CompileVersionExpr("#USER_VER# != 11")
	assert.True(t, e2.Eval(VersionTriple{UserVersion: 12}))
	assert.False(t, e2.Eval(VersionTriple{UserVersion: 11}))
}

func TestCompileVersionExpr_And(t *testing.T) {
	e := CompileVersionExpr("#VER# >= 10 && #VER# <= 20")
	assert.True(t, e.Eval(VersionTriple{Version: 15}))
	assert.False(t, e.Eval(VersionTriple{Version: 25}))
	assert.False(t, e.Eval(VersionTriple{Version: 5}))
}

func TestCompileVersionExpr_Or(t *testing.T) {
	e := CompileVersionExpr("#VER# == 1 || #VER# == 2 || #VER# == 3")
	assert.True(t, e.Eval(VersionTriple{Version: 1}))
	assert.True(t, e.Eval(VersionTriple{Version: 2}))
	assert.True(t, e.Eval(VersionTriple{Version: 3}))
	assert.False(t, e.Eval(VersionTriple{Version: 4}))
}

func TestCompileVersionExpr_OrOfAnds(t *testing.T) {
	// Exercises the top-level or-parser correctly chaining multiple
	// and-groups joined by ||, not just the first.
	e := CompileVersionExpr("(#VER# >= 1 && #VER# <= 5) || (#VER# >= 10 && #VER# <= 15) || #BSVER# == 99")
	assert.True(t, e.Eval(VersionTriple{Version: 3}))
	assert.True(t, e.Eval(VersionTriple{Version: 12}))
	assert.True(t, e.Eval(VersionTriple{Version: 0, BSVersion: 99}))
	assert.False(t, e.Eval(VersionTriple{Version: 7, BSVersion: 0}))
}

func TestCompileVersionExpr_Not(t *testing.T) {
	e := CompileVersionExpr("!(#VER# == 5)")
	assert.True(t, e.Eval(VersionTriple{Version: 6}))
	assert.False(t, e.Eval(VersionTriple{Version: 5}))
}

func TestCompileVersionExpr_Parens(t *testing.T) {
	e := CompileVersionExpr("(#VER# == 1 || #VER# == 2) && #BSVER# == 10")
	assert.True(t, e.Eval(VersionTriple{Version: 1, BSVersion: 10}))
	assert.False(t, e.Eval(VersionTriple{Version: 1, BSVersion: 11}))
	assert.False(t, e.Eval(VersionTriple{Version: 3, BSVersion: 10}))
}

func TestCompileVersionExpr_NegativeLiteral(t *testing.T) {
	e := CompileVersionExpr("#VER# != -1")
	assert.True(t, e.Eval(VersionTriple{Version: 5}))
}

func TestCompileVersionExpr_MalformedFallsBackToTrue(t *testing.T) {
	cases := []string{
		"#VER# ==",
		"#VER# == 1 &&",
		"((#VER# == 1)",
		"#VER# 1",
		"not an expression at all !! ##",
	}
	for _, c := range cases {
		e := CompileVersionExpr(c)
		assert.True(t, e.Eval(VersionTriple{Version: 12345}), "expr %q should fall back to always-true", c)
	}
}

func TestVersionExpr_NilReceiverIsTrue(t *testing.T) {
	var e *VersionExpr
	assert.True(t, e.Eval(VersionTriple{}))
}
