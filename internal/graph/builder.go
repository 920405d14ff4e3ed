package graph

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/go-modgraph/core/internal/specifier"
)

// Fetcher is the File Fetcher contract the Graph Builder drives (spec.md
// §4.2), injected so this package never imports internal/fetcher directly
// — the same inversion the teacher uses for its resolver/cache
// dependencies.
type Fetcher interface {
	Fetch(ctx context.Context, canonical specifier.Specifier, kind DependencyKind) (SourceFile, error)
}

// Analyzer is the Module Analyzer contract (spec.md §4.4).
type Analyzer interface {
	Analyze(canonical specifier.Specifier, source SourceFile) (AnalyzedModule, error)
}

// AnalyzedModule is what an Analyzer produces for one source file.
type AnalyzedModule struct {
	Dependencies []Dependency
	Exports      []string
	ReexportsAll []string
	IsCJS        bool
}

// Synthesizer is the CJS Export Synthesizer contract (spec.md §4.5),
// invoked in the Graph Builder's post-pass for modules marked as
// synthesis targets.
type Synthesizer interface {
	Synthesize(ctx context.Context, m *Module) ([]byte, error)
}

// Resolver is the subset of the Specifier Resolver the Graph Builder
// needs: resolve a reference against its referrer, then canonicalize it
// against the graph's own redirect table.
type Resolver interface {
	Resolve(specifierText string, referrer *specifier.Specifier, conditions []string) (specifier.Specifier, error)
	Canonicalize(s specifier.Specifier, redirects specifier.RedirectSource) (specifier.Specifier, error)
}

// Options configures one Build invocation.
type Options struct {
	// AbortOnFirstError stops dispatching new work once any task fails,
	// rather than draining all in-flight tasks first. spec.md §4.6 step 5
	// describes the default (drain-then-report) behavior; this is an
	// explicit opt-out for interactive tooling that wants to fail fast.
	AbortOnFirstError bool

	// SynthesisTargets names canonical specifiers (by String()) the
	// caller wants CJS-synthesized in the post-pass (spec.md §4.6 step 6).
	SynthesisTargets map[string]bool
}

// GraphError is returned by Build when the graph could not be fully
// constructed. Per spec.md §5's determinism guarantee, when multiple
// tasks fail concurrently the *first* error by sorted display text is
// returned here, and the rest are discarded.
type GraphError struct {
	Specifier string
	Referrer  string
	Err       error
}

func (e *GraphError) Error() string {
	if e.Referrer != "" {
		return fmt.Sprintf("%s (from %s): %v", e.Specifier, e.Referrer, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Specifier, e.Err)
}

func (e *GraphError) Unwrap() error { return e.Err }

// Builder is the Graph Builder: the top-level orchestrator described in
// spec.md §4.6.
type Builder struct {
	Resolver    Resolver
	Fetcher     Fetcher
	Analyzer    Analyzer
	Synthesizer Synthesizer
	Log         logrus.FieldLogger
}

func NewBuilder(resolver Resolver, fetcher Fetcher, analyzer Analyzer, synthesizer Synthesizer) *Builder {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	return &Builder{Resolver: resolver, Fetcher: fetcher, Analyzer: analyzer, Synthesizer: synthesizer, Log: discard}
}

// SetLogger attaches a logger for task-dispatch and dedup events. Passing
// nil restores the discarding default.
func (b *Builder) SetLogger(l logrus.FieldLogger) {
	if l == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		l = discard
	}
	b.Log = l
}

type workItem struct {
	specifierText string
	referrer      *specifier.Specifier
	kind          DependencyKind
}

// Build implements spec.md §4.6's algorithm: seed a work queue with the
// roots, fan out one task per newly discovered canonical specifier,
// coalesce concurrent requests for the same specifier via a singleflight
// group, and drain everything before reporting the single deterministic
// error (if any).
func (b *Builder) Build(ctx context.Context, roots []string, opts Options) (*Graph, error) {
	g := &Graph{
		Modules:   make(map[string]*Module),
		Redirects: make(map[string]specifier.Specifier),
	}

	var (
		mu      sync.Mutex
		errsMu  sync.Mutex
		errs    []*GraphError
		sf      singleflight.Group
		aborted atomic.Bool
	)

	eg, _ := errgroup.WithContext(ctx)

	var dispatch func(item workItem)
	dispatch = func(item workItem) {
		if opts.AbortOnFirstError && aborted.Load() {
			return
		}
		eg.Go(func() error {
			canonical, err := b.resolveAndCanonicalize(item, g)
			if err != nil {
				b.recordError(&errsMu, &errs, item.specifierText, referrerText(item.referrer), err)
				if opts.AbortOnFirstError {
					aborted.Store(true)
				}
				return nil
			}

			key := canonical.String()

			if IsExternalScheme(canonical.Scheme) || (canonical.Scheme == specifier.SchemeFile && IsVendoredNodeModules(canonical.Path)) {
				mu.Lock()
				if _, ok := g.Modules[key]; !ok {
					g.Modules[key] = &Module{CanonicalSpecifier: canonical, IsExternal: true}
				}
				mu.Unlock()
				return nil
			}

			mu.Lock()
			if _, ok := g.Modules[key]; ok {
				mu.Unlock()
				b.Log.WithField("specifier", key).Debug("graph: task deduped (already resolved)")
				return nil
			}
			mu.Unlock()

			b.Log.WithField("specifier", key).Debug("graph: task dispatched")
			_, err, shared := sf.Do(key, func() (interface{}, error) {
				mod, deps, taskErr := b.analyzeOne(ctx, canonical)
				if taskErr != nil {
					return nil, taskErr
				}
				mu.Lock()
				g.Modules[key] = mod
				mu.Unlock()
				for _, dep := range deps {
					next := workItem{
						specifierText: dep.SpecifierText,
						referrer:      &canonical,
						kind:          dep.Kind,
					}
					dispatch(next)
				}
				return nil, nil
			})
			if shared {
				b.Log.WithField("specifier", key).Debug("graph: task coalesced with in-flight request")
			}
			if err != nil {
				b.recordError(&errsMu, &errs, key, "", err)
				if opts.AbortOnFirstError {
					aborted.Store(true)
				}
			}
			return nil
		})
	}

	var rootSpecs []specifier.Specifier
	for _, root := range roots {
		rs, err := b.Resolver.Resolve(root, nil, specifier.ESMConditions)
		if err != nil {
			b.recordError(&errsMu, &errs, root, "", err)
			continue
		}
		rootSpecs = append(rootSpecs, rs)
		dispatch(workItem{specifierText: root, kind: Static})
	}
	g.Roots = rootSpecs

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	if len(errs) > 0 {
		sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
		return nil, errs[0]
	}

	if err := b.synthesizePostPass(ctx, g, opts.SynthesisTargets); err != nil {
		return nil, err
	}

	return g, nil
}

func (b *Builder) recordError(mu *sync.Mutex, errs *[]*GraphError, spec, referrer string, err error) {
	mu.Lock()
	defer mu.Unlock()
	*errs = append(*errs, &GraphError{Specifier: spec, Referrer: referrer, Err: err})
}

func (b *Builder) resolveAndCanonicalize(item workItem, g *Graph) (specifier.Specifier, error) {
	resolved, err := b.Resolver.Resolve(item.specifierText, item.referrer, specifier.ESMConditions)
	if err != nil {
		return specifier.Specifier{}, err
	}
	canonical, err := b.Resolver.Canonicalize(resolved, g)
	if err != nil {
		return specifier.Specifier{}, err
	}
	if canonical.String() != resolved.String() {
		g.Redirects[resolved.String()] = canonical
	}
	return canonical, nil
}

func (b *Builder) analyzeOne(ctx context.Context, canonical specifier.Specifier) (*Module, []Dependency, error) {
	source, err := b.Fetcher.Fetch(ctx, canonical, Static)
	if err != nil {
		return nil, nil, err
	}
	analyzed, err := b.Analyzer.Analyze(canonical, source)
	if err != nil {
		return nil, nil, err
	}
	mod := &Module{
		CanonicalSpecifier: canonical,
		MediaType:          source.MediaType,
		Source:             source,
		Dependencies:       analyzed.Dependencies,
		Exports:            analyzed.Exports,
		ReexportsAll:       analyzed.ReexportsAll,
		IsCJS:              analyzed.IsCJS,
	}
	return mod, analyzed.Dependencies, nil
}

// synthesizePostPass implements spec.md §4.6 step 6: for each module the
// caller marked as a CJS-synthesis target, replace its source with the
// synthetic ESM wrapper.
func (b *Builder) synthesizePostPass(ctx context.Context, g *Graph, targets map[string]bool) error {
	if b.Synthesizer == nil || len(targets) == 0 {
		return nil
	}
	keys := make([]string, 0, len(targets))
	for k, want := range targets {
		if want {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		mod, ok := g.Modules[key]
		if !ok || mod.IsExternal {
			continue
		}
		wrapper, err := b.Synthesizer.Synthesize(ctx, mod)
		if err != nil {
			return &GraphError{Specifier: key, Err: err}
		}
		mod.Source.Bytes = wrapper
	}
	return nil
}

func referrerText(r *specifier.Specifier) string {
	if r == nil {
		return ""
	}
	return r.String()
}
