package cjsshim

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-modgraph/core/internal/analyzer"
	"github.com/go-modgraph/core/internal/graph"
	"github.com/go-modgraph/core/internal/mediatype"
	"github.com/go-modgraph/core/internal/specifier"
)

func TestEmitWrapperS2Scenario(t *testing.T) {
	// spec.md §8 S2.
	out := Emit("/test/test.ts", []string{"3d", "app", "dashed-export", "server", "static"})

	require.Contains(t, out, `export const app = mod["app"];`)
	require.Contains(t, out, `export const server = mod["server"];`)

	require.Contains(t, out, `mod["3d"]`)
	require.Contains(t, out, `mod["dashed-export"]`)
	require.Contains(t, out, `mod["static"]`)
	require.NotContains(t, out, `export const 3d`)
	require.NotContains(t, out, `export const static`)
	require.NotContains(t, out, `export const dashed-export`)

	require.Contains(t, out, "export default mod;")
	require.Contains(t, out, `export { __deno_export_3__ as "module.exports" };`)
	require.True(t, strings.Contains(out, `import.meta.main`))
}

func TestEmitDeterministic(t *testing.T) {
	a := Emit("/x.ts", []string{"b", "a", "c"})
	b := Emit("/x.ts", []string{"b", "a", "c"})
	require.Equal(t, a, b)
}

type fakeFetcher struct {
	sources map[string]string
}

func (f *fakeFetcher) Fetch(ctx context.Context, canonical specifier.Specifier, kind graph.DependencyKind) (graph.SourceFile, error) {
	src, ok := f.sources[canonical.Path]
	if !ok {
		return graph.SourceFile{}, fakeNotFound{canonical.Path}
	}
	return graph.SourceFile{CanonicalSpecifier: canonical, MediaType: mediatype.JavaScript, Bytes: []byte(src)}, nil
}

type fakeNotFound struct{ path string }

func (f fakeNotFound) Error() string { return "not found: " + f.path }

type fakeResolver struct{}

func (fakeResolver) Resolve(text string, referrer *specifier.Specifier, conditions []string) (specifier.Specifier, error) {
	return specifier.Specifier{Scheme: specifier.SchemeFile, Path: text}, nil
}

// conditionsRecordingResolver behaves like fakeResolver but records the
// condition order each Resolve call was made with.
type conditionsRecordingResolver struct {
	seen [][]string
	mu   sync.Mutex
}

func (r *conditionsRecordingResolver) Resolve(text string, referrer *specifier.Specifier, conditions []string) (specifier.Specifier, error) {
	r.mu.Lock()
	r.seen = append(r.seen, conditions)
	r.mu.Unlock()
	return specifier.Specifier{Scheme: specifier.SchemeFile, Path: text}, nil
}

func TestDiscoverExportsResolvesReexportsWithCJSConditions(t *testing.T) {
	fetcher := &fakeFetcher{sources: map[string]string{
		"/entry.js": "module.exports = require('./a.js');\n",
		"./a.js":    "export const x = 1;\n",
	}}
	r := &conditionsRecordingResolver{}
	s := New(r, fetcher, analyzer.New())

	_, err := s.DiscoverExports(context.Background(), specifier.Specifier{Scheme: specifier.SchemeFile, Path: "/entry.js"})
	require.NoError(t, err)

	require.NotEmpty(t, r.seen)
	for _, conditions := range r.seen {
		require.Equal(t, specifier.CJSConditions, conditions)
	}
}

func TestDiscoverExportsChasesReexports(t *testing.T) {
	fetcher := &fakeFetcher{sources: map[string]string{
		"/entry.js": "module.exports = require('./a.js');\nObject.assign(exports, require('./b.js'));\n",
		"./a.js":    "export const x = 1;\nexport const shared = 1;\n",
		"./b.js":    "export const y = 2;\n",
	}}
	s := New(fakeResolver{}, fetcher, analyzer.New())

	names, err := s.DiscoverExports(context.Background(), specifier.Specifier{Scheme: specifier.SchemeFile, Path: "/entry.js"})
	require.NoError(t, err)
	require.Contains(t, names, "x")
	require.Contains(t, names, "y")
	require.Contains(t, names, "shared")
}

func TestDiscoverExportsS4Scenario(t *testing.T) {
	// spec.md §8 S4.
	fetcher := &fakeFetcher{sources: map[string]string{
		"/entry.js":  "module.exports = { a: 1, b: 2 }; require('./other.js');",
		"./other.js": "module.exports = { c: 3 };",
	}}
	s := New(fakeResolver{}, fetcher, analyzer.New())

	names, err := s.DiscoverExports(context.Background(), specifier.Specifier{Scheme: specifier.SchemeFile, Path: "/entry.js"})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, names)
}

func TestDiscoverExportsReturnsErrIsESMForESMEntry(t *testing.T) {
	fetcher := &fakeFetcher{sources: map[string]string{
		"/entry.js": "export const x = 1;\n",
	}}
	s := New(fakeResolver{}, fetcher, analyzer.New())

	_, err := s.DiscoverExports(context.Background(), specifier.Specifier{Scheme: specifier.SchemeFile, Path: "/entry.js"})
	require.ErrorIs(t, err, ErrIsESM)
}

func TestDiscoverExportsDropsDefault(t *testing.T) {
	fetcher := &fakeFetcher{sources: map[string]string{
		"/entry.js": "module.exports = require('./a.js');\n",
		"./a.js":    "export default function() {};\nexport const x = 1;\n",
	}}
	s := New(fakeResolver{}, fetcher, analyzer.New())

	names, err := s.DiscoverExports(context.Background(), specifier.Specifier{Scheme: specifier.SchemeFile, Path: "/entry.js"})
	require.NoError(t, err)
	require.NotContains(t, names, "default")
	require.Contains(t, names, "x")
}
