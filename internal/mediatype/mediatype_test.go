package mediatype

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromExtension(t *testing.T) {
	cases := map[string]MediaType{
		"a.ts":    TypeScript,
		"a.tsx":   TSX,
		"a.d.ts":  Dts,
		"a.mts":   MTS,
		"a.cts":   CTS,
		"a.js":    JavaScript,
		"a.mjs":   JavaScript,
		"a.cjs":   JavaScript,
		"a.jsx":   JSX,
		"a.json":  Json,
		"a.wasm":  Wasm,
		"a.xyz":   Unknown,
	}
	for path, want := range cases {
		require.Equal(t, want, FromExtension(path), path)
	}
}

func TestContentTypeWinsOverExtension(t *testing.T) {
	fallback := FromExtension("a.js")
	require.Equal(t, JavaScript, fallback)

	got := FromContentType("application/typescript; charset=utf-8", fallback)
	require.Equal(t, TypeScript, got)
}

func TestContentTypeFallsBackWhenUnrecognized(t *testing.T) {
	fallback := FromExtension("a.ts")
	got := FromContentType("", fallback)
	require.Equal(t, TypeScript, got)

	got = FromContentType("application/x-unknown-thing", fallback)
	require.Equal(t, TypeScript, got)
}

func TestJSXOnlyAcceptedForJSXMediaTypes(t *testing.T) {
	require.True(t, JSX.IsJSX())
	require.True(t, TSX.IsJSX())
	require.False(t, JavaScript.IsJSX())
	require.False(t, TypeScript.IsJSX())
}
