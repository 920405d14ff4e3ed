package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-modgraph/core/internal/specifier"
)

// fakeResolver treats every specifier text as already canonical and
// applies a fixed redirect table, mirroring the shape the real
// internal/specifier.Resolver exposes.
type fakeResolver struct {
	redirects map[string]string
}

func (f *fakeResolver) Resolve(text string, referrer *specifier.Specifier, conditions []string) (specifier.Specifier, error) {
	return specifier.Specifier{Scheme: specifier.SchemeFile, Path: text}, nil
}

func (f *fakeResolver) Canonicalize(s specifier.Specifier, redirects specifier.RedirectSource) (specifier.Specifier, error) {
	if to, ok := f.redirects[s.Path]; ok {
		return specifier.Specifier{Scheme: specifier.SchemeFile, Path: to}, nil
	}
	return s, nil
}

type fakeFetcher struct {
	sources map[string]string
}

func (f *fakeFetcher) Fetch(ctx context.Context, canonical specifier.Specifier, kind DependencyKind) (SourceFile, error) {
	src, ok := f.sources[canonical.Path]
	if !ok {
		return SourceFile{}, &GraphError{Specifier: canonical.String(), Err: errNotFound}
	}
	return SourceFile{CanonicalSpecifier: canonical, Bytes: []byte(src)}, nil
}

var errNotFound = &fetchNotFoundError{}

type fetchNotFoundError struct{}

func (*fetchNotFoundError) Error() string { return "not found" }

// fakeAnalyzer treats its source bytes as a newline-separated list of
// dependency specifier texts.
type fakeAnalyzer struct{}

func (fakeAnalyzer) Analyze(canonical specifier.Specifier, source SourceFile) (AnalyzedModule, error) {
	var deps []Dependency
	text := string(source.Bytes)
	start := 0
	for i := 0; i <= len(text); i++ {
		if i == len(text) || text[i] == '\n' {
			if i > start {
				deps = append(deps, Dependency{SpecifierText: text[start:i], Kind: Static})
			}
			start = i + 1
		}
	}
	return AnalyzedModule{Dependencies: deps}, nil
}

func TestBuildSimpleGraph(t *testing.T) {
	resolver := &fakeResolver{redirects: map[string]string{}}
	fetcher := &fakeFetcher{sources: map[string]string{
		"/a.ts": "/b.ts\n/c.ts",
		"/b.ts": "",
		"/c.ts": "",
	}}
	b := NewBuilder(resolver, fetcher, fakeAnalyzer{}, nil)

	g, err := b.Build(context.Background(), []string{"/a.ts"}, Options{})
	require.NoError(t, err)
	require.Len(t, g.Modules, 3)
	require.Contains(t, g.Modules, "file:/a.ts")
	require.Contains(t, g.Modules, "file:/b.ts")
	require.Contains(t, g.Modules, "file:/c.ts")
}

func TestBuildDeduplicatesDiamondDependency(t *testing.T) {
	resolver := &fakeResolver{redirects: map[string]string{}}
	fetcher := &fakeFetcher{sources: map[string]string{
		"/a.ts": "/b.ts\n/c.ts",
		"/b.ts": "/d.ts",
		"/c.ts": "/d.ts",
		"/d.ts": "",
	}}
	b := NewBuilder(resolver, fetcher, fakeAnalyzer{}, nil)

	g, err := b.Build(context.Background(), []string{"/a.ts"}, Options{})
	require.NoError(t, err)
	require.Len(t, g.Modules, 4)
}

func TestBuildMissingDependencyIsError(t *testing.T) {
	resolver := &fakeResolver{redirects: map[string]string{}}
	fetcher := &fakeFetcher{sources: map[string]string{
		"/a.ts": "/missing.ts",
	}}
	b := NewBuilder(resolver, fetcher, fakeAnalyzer{}, nil)

	_, err := b.Build(context.Background(), []string{"/a.ts"}, Options{})
	require.Error(t, err)
}

func TestBuildRecordsRedirects(t *testing.T) {
	resolver := &fakeResolver{redirects: map[string]string{"/old.ts": "/new.ts"}}
	fetcher := &fakeFetcher{sources: map[string]string{"/new.ts": ""}}
	b := NewBuilder(resolver, fetcher, fakeAnalyzer{}, nil)

	g, err := b.Build(context.Background(), []string{"/old.ts"}, Options{})
	require.NoError(t, err)
	require.Contains(t, g.Modules, "file:/new.ts")
	require.NotContains(t, g.Modules, "file:/old.ts")
	require.Equal(t, "file:/new.ts", g.Redirects["file:/old.ts"].String())
}
