// Package modgraph exposes the core's two operations: building a module
// graph from a set of entry points, and translating a single CommonJS
// module into a synthetic ESM wrapper. It's intended for embedding the
// graph core into other tools as a library — a CLI, an LSP server, a
// bundler frontend — each supplying its own filesystem, HTTP transport and
// Permissions implementation through BuildOptions.
//
// Example usage:
//
//	package main
//
//	import (
//	    "context"
//	    "fmt"
//
//	    "github.com/go-modgraph/core/internal/config"
//	    "github.com/go-modgraph/core/pkg/modgraph"
//	)
//
//	func main() {
//	    opts, _ := config.NewCoreOptions("1.0.0")
//	    result, err := modgraph.BuildGraph(context.Background(), []string{"file:///project/main.ts"}, modgraph.BuildOptions{
//	        Core: opts,
//	    })
//	    if err != nil {
//	        fmt.Println(err)
//	        return
//	    }
//	    fmt.Printf("%d modules\n", len(result.Graph.Modules))
//	}
package modgraph

import (
	"context"
	"net/http"

	"github.com/spf13/afero"

	"github.com/go-modgraph/core/internal/analyzer"
	"github.com/go-modgraph/core/internal/cache"
	"github.com/go-modgraph/core/internal/cjsshim"
	"github.com/go-modgraph/core/internal/config"
	"github.com/go-modgraph/core/internal/fetcher"
	"github.com/go-modgraph/core/internal/graph"
	"github.com/go-modgraph/core/internal/specifier"
)

// BuildOptions configures one BuildGraph invocation. Core is required;
// everything else falls back to the conventional default the teacher's
// api.BuildOptions would use (real OS filesystem, real HTTP client, no
// in-memory blob: entries).
type BuildOptions struct {
	Core *config.CoreOptions

	// FS overrides the filesystem the File Fetcher reads file: specifiers
	// from. Defaults to the real OS filesystem (afero.NewOsFs()).
	FS afero.Fs

	// HTTPClient overrides the transport used for http:/https: fetches.
	// Defaults to http.DefaultClient.
	HTTPClient fetcher.HTTPDoer

	// Blobs supplies in-memory blob: entries, e.g. for an embedder that
	// synthesizes sources on the fly. Defaults to an empty store.
	Blobs *fetcher.BlobStore

	// AbortOnFirstError requests fail-fast traversal instead of the
	// drain-then-report default (spec.md §4.6 step 5).
	AbortOnFirstError bool

	// SynthesisTargets names canonical specifiers (by Specifier.String())
	// to run through the CJS Export Synthesizer once the graph is
	// otherwise complete (spec.md §4.6 step 6). A caller that wants every
	// CJS module synthesized should populate this after an initial dry
	// Build pass, or use BuildAndSynthesizeAll.
	SynthesisTargets map[string]bool

	// CacheSetting governs the File Fetcher's reuse-vs-refetch policy
	// (spec.md §4.2). Zero value is fetcher.UseCache.
	CacheSetting fetcher.CacheSetting
}

// Result is the outcome of a successful BuildGraph call.
type Result struct {
	Graph *graph.Graph
}

// cachingFetcher adapts fetcher.Fetcher's richer signature to the narrow
// graph.Fetcher contract the Builder drives, fixing in the CacheSetting and
// redirect bound the caller configured for this invocation.
type cachingFetcher struct {
	f            *fetcher.Fetcher
	cacheSetting fetcher.CacheSetting
	maxRedirects int
}

func (c *cachingFetcher) Fetch(ctx context.Context, canonical specifier.Specifier, kind graph.DependencyKind) (graph.SourceFile, error) {
	return c.f.FetchWithOptions(ctx, canonical, fetcher.Options{CacheSetting: c.cacheSetting, MaxRedirects: c.maxRedirects})
}

func newFetcher(opts BuildOptions) (*fetcher.Fetcher, error) {
	fs := opts.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	blobs := opts.Blobs
	if blobs == nil {
		blobs = fetcher.NewBlobStore()
	}

	c, err := cache.New(fs, opts.Core.CacheRoot)
	if err != nil {
		return nil, err
	}
	if opts.Core.Logrus != nil {
		c.SetLogger(opts.Core.Logrus)
	}
	f := fetcher.New(fs, c, httpClient, blobs, opts.Core.Permissions)
	if opts.Core.Logrus != nil {
		f.SetLogger(opts.Core.Logrus)
	}
	return f, nil
}

func newBuilder(opts BuildOptions) (*graph.Builder, error) {
	f, err := newFetcher(opts)
	if err != nil {
		return nil, err
	}
	cf := &cachingFetcher{f: f, cacheSetting: opts.CacheSetting, maxRedirects: opts.Core.MaxRedirects}

	resolver := specifier.NewResolver(opts.Core.ImportMap, opts.Core.MaxRedirects)
	an := analyzer.New()
	synth := cjsshim.New(resolver, cf, an)

	b := graph.NewBuilder(resolver, cf, an, synth)
	if opts.Core.Logrus != nil {
		b.SetLogger(opts.Core.Logrus)
	}
	return b, nil
}

// BuildGraph implements spec.md §4.6: resolve every root, then fetch,
// analyze and traverse every reachable dependency concurrently, producing
// a single deduplicated Graph or the first error encountered (sorted by
// display text, per spec.md §5's determinism rule).
func BuildGraph(ctx context.Context, roots []string, opts BuildOptions) (*Result, error) {
	b, err := newBuilder(opts)
	if err != nil {
		return nil, err
	}

	g, err := b.Build(ctx, roots, graph.Options{
		AbortOnFirstError: opts.AbortOnFirstError,
		SynthesisTargets:  opts.SynthesisTargets,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Graph: g}, nil
}

// BuildAndSynthesizeAll runs BuildGraph once to discover which modules are
// CJS, then runs the CJS Export Synthesizer's post-pass over every CJS
// module found, so the caller doesn't need to know the synthesis targets
// ahead of time.
func BuildAndSynthesizeAll(ctx context.Context, roots []string, opts BuildOptions) (*Result, error) {
	b, err := newBuilder(opts)
	if err != nil {
		return nil, err
	}

	g, err := b.Build(ctx, roots, graph.Options{AbortOnFirstError: opts.AbortOnFirstError})
	if err != nil {
		return nil, err
	}

	targets := make(map[string]bool)
	for key, mod := range g.Modules {
		if !mod.IsExternal && mod.IsCJS {
			targets[key] = true
		}
	}
	if len(targets) == 0 {
		return &Result{Graph: g}, nil
	}

	g2, err := b.Build(ctx, roots, graph.Options{
		AbortOnFirstError: opts.AbortOnFirstError,
		SynthesisTargets:  targets,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Graph: g2}, nil
}

// TranslateCJSToESM runs the CJS Export Synthesizer directly against a
// single entry specifier, without building a full graph, returning the
// synthetic wrapper source. It returns cjsshim.ErrIsESM if the entry turns
// out to already be ESM.
func TranslateCJSToESM(ctx context.Context, entrySpecifier string, opts BuildOptions) ([]byte, error) {
	f, err := newFetcher(opts)
	if err != nil {
		return nil, err
	}
	cf := &cachingFetcher{f: f, cacheSetting: opts.CacheSetting, maxRedirects: opts.Core.MaxRedirects}

	resolver := specifier.NewResolver(opts.Core.ImportMap, opts.Core.MaxRedirects)
	an := analyzer.New()
	synth := cjsshim.New(resolver, cf, an)

	entry, err := resolver.Resolve(entrySpecifier, nil, specifier.CJSConditions)
	if err != nil {
		return nil, err
	}

	names, err := synth.DiscoverExports(ctx, entry)
	if err != nil {
		return nil, err
	}
	return []byte(cjsshim.Emit(entry.Path, names)), nil
}
