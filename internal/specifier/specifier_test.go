package specifier

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-modgraph/core/internal/config"
)

type fakeRedirects struct {
	m map[string]Specifier
}

func (f fakeRedirects) RedirectTo(from Specifier) (Specifier, bool) {
	s, ok := f.m[from.String()]
	return s, ok
}

func TestParseKnownSchemes(t *testing.T) {
	for _, text := range []string{
		"file:///a/b.ts",
		"https://example.com/a.ts",
		"http://example.com/a.ts",
		"data:text/plain,hello",
		"node:fs",
		"npm:left-pad",
		"jsr:@std/fs",
	} {
		_, err := Parse(text)
		require.NoError(t, err, text)
	}
}

func TestParseUnsupportedScheme(t *testing.T) {
	_, err := Parse("ftp://example.com/a.ts")
	require.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestResolveRelativeFile(t *testing.T) {
	r := NewResolver(config.ImportMap{}, 10)
	referrer, err := Parse("file:///project/src/main.ts")
	require.NoError(t, err)

	got, err := r.Resolve("./util.ts", &referrer, ESMConditions)
	require.NoError(t, err)
	require.Equal(t, "file:///project/src/util.ts", got.String())

	got, err = r.Resolve("../lib/helper.ts", &referrer, ESMConditions)
	require.NoError(t, err)
	require.Equal(t, "file:///project/lib/helper.ts", got.String())
}

func TestResolveBareWithoutMapFails(t *testing.T) {
	r := NewResolver(config.ImportMap{}, 10)
	referrer, _ := Parse("file:///project/src/main.ts")
	_, err := r.Resolve("left-pad", &referrer, ESMConditions)
	require.ErrorIs(t, err, ErrBareWithoutMap)
}

func TestResolveBareWithImportMap(t *testing.T) {
	r := NewResolver(config.ImportMap{
		Imports: map[string]string{
			"left-pad":  "https://esm.sh/left-pad",
			"std/":      "https://deno.land/std/",
		},
	}, 10)
	referrer, _ := Parse("file:///project/src/main.ts")

	got, err := r.Resolve("left-pad", &referrer, ESMConditions)
	require.NoError(t, err)
	require.Equal(t, "https://esm.sh/left-pad", got.String())

	got, err = r.Resolve("std/fs/mod.ts", &referrer, ESMConditions)
	require.NoError(t, err)
	require.Equal(t, "https://deno.land/std/fs/mod.ts", got.String())
}

func TestResolvePackageExportsHonorsConditions(t *testing.T) {
	r := NewResolver(config.ImportMap{
		PackageExports: map[string]map[string]interface{}{
			"pkg": {
				"import":  "https://esm.sh/pkg/mod.mjs",
				"require": "https://esm.sh/pkg/mod.cjs",
				"default": "https://esm.sh/pkg/mod.js",
			},
		},
	}, 10)
	referrer, _ := Parse("file:///project/src/main.ts")

	got, err := r.Resolve("pkg", &referrer, CJSConditions)
	require.NoError(t, err)
	require.Equal(t, "https://esm.sh/pkg/mod.cjs", got.String())

	got, err = r.Resolve("pkg", &referrer, ESMConditions)
	require.NoError(t, err)
	require.Equal(t, "https://esm.sh/pkg/mod.mjs", got.String())
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	r := NewResolver(config.ImportMap{}, 10)
	s, _ := Parse("https://Example.com/a.ts")
	redirects := fakeRedirects{m: map[string]Specifier{}}

	once, err := r.Canonicalize(s, redirects)
	require.NoError(t, err)

	twice, err := r.Canonicalize(once, redirects)
	require.NoError(t, err)

	require.Equal(t, once.String(), twice.String())
	require.Equal(t, "https://example.com/a.ts", once.String())
}

func TestCanonicalizeFollowsRedirectChain(t *testing.T) {
	r := NewResolver(config.ImportMap{}, 10)
	a, _ := Parse("https://a/x")
	b, _ := Parse("https://b/x")
	c, _ := Parse("https://c/x")

	redirects := fakeRedirects{m: map[string]Specifier{
		a.String(): b,
		b.String(): c,
	}}

	got, err := r.Canonicalize(a, redirects)
	require.NoError(t, err)
	require.Equal(t, c.String(), got.String())
}

func TestCanonicalizeDetectsLoop(t *testing.T) {
	r := NewResolver(config.ImportMap{}, 10)
	a, _ := Parse("https://a/x")
	b, _ := Parse("https://b/x")

	redirects := fakeRedirects{m: map[string]Specifier{
		a.String(): b,
		b.String(): a,
	}}

	_, err := r.Canonicalize(a, redirects)
	require.ErrorIs(t, err, ErrRedirectLoop)
}

func TestCanonicalizeTooManyRedirects(t *testing.T) {
	r := NewResolver(config.ImportMap{}, 2)
	a, _ := Parse("https://a/x")
	b, _ := Parse("https://b/x")
	c, _ := Parse("https://c/x")
	d, _ := Parse("https://d/x")

	redirects := fakeRedirects{m: map[string]Specifier{
		a.String(): b,
		b.String(): c,
		c.String(): d,
	}}

	_, err := r.Canonicalize(a, redirects)
	require.ErrorIs(t, err, ErrTooManyRedirects)
}

func TestResolveExportsConditionCJS(t *testing.T) {
	entry := map[string]interface{}{
		"import": "./mod.mjs",
		"require": "./mod.cjs",
		"default": "./mod.js",
	}
	target, ok := ResolveExportsCondition(entry, CJSConditions)
	require.True(t, ok)
	require.Equal(t, "./mod.cjs", target)

	target, ok = ResolveExportsCondition(entry, ESMConditions)
	require.True(t, ok)
	require.Equal(t, "./mod.mjs", target)
}
