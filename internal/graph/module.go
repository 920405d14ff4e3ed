// Package graph implements the Graph Builder and the Module/Graph data
// model from spec.md §3 and §4.6: the top-level orchestrator that drives
// Resolver → Fetcher → Analyzer → (optionally) Synthesizer concurrently
// for every reachable specifier, deduplicating by canonical specifier.
package graph

import (
	"sort"

	"github.com/go-modgraph/core/internal/mediatype"
	"github.com/go-modgraph/core/internal/specifier"
)

// DependencyKind classifies how a module referenced another, mirroring
// spec.md §3's Dependency.kind variant.
type DependencyKind uint8

const (
	Static DependencyKind = iota
	Dynamic
	TypeOnly
	ReExport
	ExportAll
)

func (k DependencyKind) String() string {
	switch k {
	case Static:
		return "static"
	case Dynamic:
		return "dynamic"
	case TypeOnly:
		return "type-only"
	case ReExport:
		return "re-export"
	case ExportAll:
		return "export-all"
	default:
		return "unknown"
	}
}

// SourceRange is the (line, col) location of a dependency reference in the
// importing source, 1-indexed to match editor conventions.
type SourceRange struct {
	Line int
	Col  int
}

// Dependency is one edge out of a Module, per spec.md §3.
type Dependency struct {
	SpecifierText   string
	Kind            DependencyKind
	Range           SourceRange
	LeadingComments []string

	// ImportAttributeType is the "type" attribute from a `with { type:
	// "..." }` clause, or "" if none was present. spec.md §9 pins
	// attribute handling to the `with` form only; `assert` clauses are
	// accepted syntactically but their attributes are not interpreted.
	ImportAttributeType string
}

// SourceFile is the bytes + provenance returned by the File Fetcher, per
// spec.md §3.
type SourceFile struct {
	Specifier          specifier.Specifier
	CanonicalSpecifier specifier.Specifier
	MediaType          mediatype.MediaType
	Bytes              []byte
	Headers            map[string]string
	MtimeMillis        *int64

	// SourceMapData is the raw JSON of an inline (`//# sourceMappingURL=
	// data:...`) source map accompanying already-compiled fetched output,
	// once validated by the File Fetcher. Sidecar `.js.map` files are not
	// read into it. Nil when the fetched source carries no inline map.
	SourceMapData []byte
}

// Module is a single node in the graph, per spec.md §3. A Module is never
// mutated after full analysis completes; the only post-construction change
// allowed is the CJS Synthesizer's post-pass replacement of Source for
// modules selected for synthesis.
type Module struct {
	CanonicalSpecifier specifier.Specifier
	MediaType          mediatype.MediaType
	Source             SourceFile
	Dependencies       []Dependency
	Exports            []string
	ReexportsAll       []string

	// IsExternal marks a terminal node per spec.md §4.6: a node:/npm:/jsr:
	// specifier or a vendor-marked node_modules file. External nodes carry
	// no Source, Dependencies, or Exports and are never traversed further.
	IsExternal bool

	// IsCJS records the Analyzer's ESM/CJS discrimination (spec.md §4.4).
	// The Graph Builder's post-pass does not read it (it takes its targets
	// from Options.SynthesisTargets); modgraph.BuildAndSynthesizeAll uses it
	// to pick the CJS-synthesis targets.
	IsCJS bool
}

// Graph is the fully resolved, deduplicated module graph, per spec.md §3.
type Graph struct {
	Roots     []specifier.Specifier
	Modules   map[string]*Module // keyed by CanonicalSpecifier.String()
	Redirects map[string]specifier.Specifier
}

// RedirectTo implements specifier.RedirectSource over the Graph's own
// redirect table, letting the Resolver canonicalize against redirects the
// Graph Builder has already recorded.
func (g *Graph) RedirectTo(from specifier.Specifier) (specifier.Specifier, bool) {
	to, ok := g.Redirects[from.String()]
	return to, ok
}

// SortedExportNames returns names sorted lexicographically, matching
// spec.md §5's ordering guarantee for CjsAnalysis.exports.
func SortedExportNames(names map[string]struct{}) []string {
	out := make([]string, 0, len(names))
	for n := range names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// IsVendoredNodeModules reports whether a file: path falls within a
// node_modules subtree, per spec.md §4.6's External-terminal rule.
func IsVendoredNodeModules(path string) bool {
	const marker = "/node_modules/"
	for i := 0; i+len(marker) <= len(path); i++ {
		if path[i:i+len(marker)] == marker {
			return true
		}
	}
	return false
}

// IsExternalScheme reports whether a scheme is always treated as an
// External terminal (spec.md §4.6): node built-ins, npm, and jsr packages
// are named but not resolved into the graph by this core.
func IsExternalScheme(scheme specifier.Scheme) bool {
	switch scheme {
	case specifier.SchemeNode, specifier.SchemeNpm, specifier.SchemeJsr:
		return true
	default:
		return false
	}
}
