// Package cjsshim implements the CJS Export Synthesizer (spec.md §4.5):
// for a CommonJS entry module, it recursively discovers the transitive set
// of exported names across re-export chains (CommonJS `require(...)`
// forwarding and `export * from`) and emits a synthetic ESM wrapper that
// re-exports each one via `require(...)`.
package cjsshim

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/go-modgraph/core/internal/graph"
	"github.com/go-modgraph/core/internal/specifier"
)

// Fetcher is the subset of the File Fetcher the Synthesizer needs to load
// re-exported modules during Phase 1.
type Fetcher interface {
	Fetch(ctx context.Context, canonical specifier.Specifier, kind graph.DependencyKind) (graph.SourceFile, error)
}

// Resolver is the subset of the Specifier Resolver the Synthesizer needs,
// honoring the CJS-flavored conditions during re-export resolution
// (spec.md §4.1/§6: `["deno","node","require","default"]`).
type Resolver interface {
	Resolve(specifierText string, referrer *specifier.Specifier, conditions []string) (specifier.Specifier, error)
}

// ExportAnalyzer is the subset of the Module Analyzer contract the
// Synthesizer drives in SourceOnly mode.
type ExportAnalyzer interface {
	AnalyzeSourceOnly(source graph.SourceFile) (exports, reexportsAll []string, isCJS bool, err error)
}

// ErrIsESM is returned by Synthesize when the entry's own analysis
// reveals it is actually ESM; per spec.md §4.5 Phase 1, the caller should
// use the original source unchanged in that case.
var ErrIsESM = fmt.Errorf("module is ESM, not CommonJS")

type loadError struct {
	specifierText string
	err           error
}

func (e *loadError) Error() string {
	return fmt.Sprintf("%s: %v", e.specifierText, e.err)
}

func (e *loadError) Unwrap() error { return e.err }

// Synthesizer is the CJS Export Synthesizer.
type Synthesizer struct {
	Resolver Resolver
	Fetcher  Fetcher
	Analyzer ExportAnalyzer
}

func New(resolver Resolver, fetcher Fetcher, analyzer ExportAnalyzer) *Synthesizer {
	return &Synthesizer{Resolver: resolver, Fetcher: fetcher, Analyzer: analyzer}
}

// Synthesize implements the graph.Synthesizer contract: it re-derives the
// export set for m's canonical specifier and returns the wrapper source
// bytes. Embedders driving the two phases directly should call
// DiscoverExports and Emit separately.
func (s *Synthesizer) Synthesize(ctx context.Context, m *graph.Module) ([]byte, error) {
	names, err := s.DiscoverExports(ctx, m.CanonicalSpecifier)
	if err != nil {
		return nil, err
	}
	return []byte(Emit(m.CanonicalSpecifier.Path, names)), nil
}

// DiscoverExports is Phase 1 (spec.md §4.5): analyze the entry in
// SourceOnly mode, then recursively chase every re-export target the
// Analyzer reports in ReexportsAll (CommonJS `require(...)` forwarding and
// `export * from`) reachable from it, accumulating a deduplicated, sorted
// set of export names with `"default"` dropped.
func (s *Synthesizer) DiscoverExports(ctx context.Context, entry specifier.Specifier) ([]string, error) {
	entrySource, err := s.Fetcher.Fetch(ctx, entry, graph.Static)
	if err != nil {
		return nil, err
	}
	exports, reexports, isCJS, err := s.Analyzer.AnalyzeSourceOnly(entrySource)
	if err != nil {
		return nil, err
	}
	if !isCJS {
		return nil, ErrIsESM
	}

	var (
		mu      sync.Mutex
		names   = make(map[string]struct{})
		visited = map[string]bool{entry.String(): true}
		errs    []*loadError
	)
	for _, n := range exports {
		names[n] = struct{}{}
	}

	eg, egCtx := errgroup.WithContext(ctx)

	var chase func(referrer specifier.Specifier, targets []string)
	chase = func(referrer specifier.Specifier, targets []string) {
		for _, targetText := range targets {
			targetText := targetText
			resolved, err := s.Resolver.Resolve(targetText, &referrer, specifier.CJSConditions)
			if err != nil {
				mu.Lock()
				errs = append(errs, &loadError{specifierText: targetText, err: err})
				mu.Unlock()
				continue
			}

			mu.Lock()
			if visited[resolved.String()] {
				mu.Unlock()
				continue
			}
			visited[resolved.String()] = true
			mu.Unlock()

			eg.Go(func() error {
				source, err := s.Fetcher.Fetch(egCtx, resolved, graph.ReExport)
				if err != nil {
					mu.Lock()
					errs = append(errs, &loadError{specifierText: resolved.String(), err: err})
					mu.Unlock()
					return nil
				}
				exp, reexp, _, err := s.Analyzer.AnalyzeSourceOnly(source)
				if err != nil {
					mu.Lock()
					errs = append(errs, &loadError{specifierText: resolved.String(), err: err})
					mu.Unlock()
					return nil
				}
				mu.Lock()
				for _, n := range exp {
					names[n] = struct{}{}
				}
				mu.Unlock()
				chase(resolved, reexp)
				return nil
			})
		}
	}
	chase(entry, reexports)

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	if len(errs) > 0 {
		sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
		return nil, errs[0]
	}

	delete(names, "default")
	return graph.SortedExportNames(names), nil
}

// validIdentifier reports whether name matches [A-Za-z_$][A-Za-z0-9_$]*
// and is not a reserved word, per spec.md §4.5.
func validIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		isLetter := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_' || r == '$'
		isDigit := r >= '0' && r <= '9'
		if i == 0 {
			if !isLetter {
				return false
			}
		} else if !isLetter && !isDigit {
			return false
		}
	}
	return !reservedWords[name]
}

var reservedWords = func() map[string]bool {
	words := []string{
		"break", "case", "catch", "class", "const", "continue", "debugger",
		"default", "delete", "do", "else", "enum", "export", "extends",
		"false", "finally", "for", "function", "if", "import", "in",
		"instanceof", "new", "null", "return", "super", "switch", "this",
		"throw", "true", "try", "typeof", "var", "void", "while", "with",
		"arguments", "await", "async", "let", "yield", "static", "implements",
		"interface", "package", "private", "protected", "public",
	}
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}()

// Emit is Phase 2 (spec.md §4.5): produce the deterministic ESM wrapper
// source for entryPath given the sorted set of exported names.
func Emit(entryPath string, sortedExports []string) string {
	quotedPath := jsonQuote(entryPath)

	var b strings.Builder
	b.WriteString("import { createRequire as __ICR, Module as __IM } from \"node:module\";\n")
	b.WriteString("const require = __ICR(import.meta.url);\n")
	b.WriteString("let mod;\n")
	fmt.Fprintf(&b, "if (import.meta.main) { mod = __IM._load(%s, null, true) }\n", quotedPath)
	fmt.Fprintf(&b, "else                   { mod = require(%s) }\n", quotedPath)

	tempCounter := 0
	for _, name := range sortedExports {
		if name == "default" || name == "module.exports" {
			continue
		}
		quotedName := jsonQuote(name)
		if validIdentifier(name) {
			fmt.Fprintf(&b, "export const %s = mod[%s];\n", name, quotedName)
		} else {
			fmt.Fprintf(&b, "const __deno_export_%d__ = mod[%s];\n", tempCounter, quotedName)
			fmt.Fprintf(&b, "export { __deno_export_%d__ as %s };\n", tempCounter, quotedName)
			tempCounter++
		}
	}

	b.WriteString("export default mod;\n")
	fmt.Fprintf(&b, "const __deno_export_%d__ = mod;\n", tempCounter)
	fmt.Fprintf(&b, "export { __deno_export_%d__ as \"module.exports\" };\n", tempCounter)

	return b.String()
}

func jsonQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
