// Package analyzer implements the Module Analyzer (spec.md §4.4): it
// parses a source text for a given media type and extracts the ordered
// list of dependencies and the exported names, and decides whether a
// module is ESM or CommonJS.
package analyzer

import (
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/go-modgraph/core/internal/graph"
	"github.com/go-modgraph/core/internal/specifier"
)

// Mode selects how much of a module the Analyzer extracts, per spec.md
// §4.5's two-phase Synthesizer operation.
type Mode uint8

const (
	// SourceImportsAndExports extracts both dependencies() and exports(),
	// the default the Graph Builder uses.
	SourceImportsAndExports Mode = iota
	// SourceOnly extracts only exports()/reexports(), used by the
	// Synthesizer's Phase 1 export analysis so it never pays for
	// dependency-range bookkeeping it will not use.
	SourceOnly
)

// ParseError is spec.md §7's Syntax/UnsupportedMediaType kind.
type ParseError struct {
	Line, Col int
	Msg       string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Col, e.Msg)
}

// These patterns lean on regexp2's lookahead, which the standard regexp
// package lacks and which this grammar needs (to tell a literal dynamic
// import's string argument apart from a computed one without a full
// parser).
var (
	reStaticImport = regexp2.MustCompile(
		`(?m)^[ \t]*import\s+(type\s+)?(?:[\s\S]*?\bfrom\s+)?["'`+"`"+`]([^"'`+"`"+`]+)["'`+"`"+`]\s*(?:(with|assert)\s*\{([^}]*)\})?\s*;?`,
		regexp2.None)

	reDynamicImportLiteral = regexp2.MustCompile(
		`\bimport\s*\(\s*["'`+"`"+`]([^"'`+"`"+`]+)["'`+"`"+`][\s\S]*?\)`,
		regexp2.None)

	reDynamicImportComputed = regexp2.MustCompile(
		`\bimport\s*\(\s*(?!["'`+"`"+`])`,
		regexp2.None)

	reExportFrom = regexp2.MustCompile(
		`(?m)^[ \t]*export\s+(\*(?:\s+as\s+[A-Za-z_$][\w$]*)?|\{[^}]*\})\s+from\s+["'`+"`"+`]([^"'`+"`"+`]+)["'`+"`"+`]\s*;?`,
		regexp2.None)

	reNamedExportDecl = regexp2.MustCompile(
		`(?m)^[ \t]*export\s+(?:default\s+)?(?:declare\s+)?(?:async\s+)?(?:function\*?|class|const|let|var|enum|interface|type)\s+([A-Za-z_$][\w$]*)`,
		regexp2.None)

	reExportBraces = regexp2.MustCompile(
		`(?m)^[ \t]*export\s*\{([^}]*)\}\s*;?\s*$`,
		regexp2.None)

	reExportDefault = regexp2.MustCompile(`(?m)^[ \t]*export\s+default\b`, regexp2.None)

	reTopLevelAwait = regexp2.MustCompile(`(?m)^[ \t]*(?:const|let|var)?\s*\S*\s*=?\s*await\s+`, regexp2.None)

	reBareAngleStart = regexp2.MustCompile(`(?m)^[ \t]*<[A-Za-z]`, regexp2.None)

	// reCJSDirectReexport matches `module.exports = require("...")`, the
	// CommonJS idiom that stands in for `export * from` in a CJS module.
	// This is not ESM syntax, so matching it never flips hasESM.
	reCJSDirectReexport = regexp2.MustCompile(
		`(?m)^[ \t]*module\.exports\s*=\s*require\s*\(\s*["'`+"`"+`]([^"'`+"`"+`]+)["'`+"`"+`]\s*\)`,
		regexp2.None)

	// reCJSHelperReexport matches `Object.assign(exports, require("..."))`
	// and the `__exportStar(require("..."), exports)` helper TypeScript/
	// esbuild emit for `export *` when lowering to CommonJS.
	reCJSHelperReexport = regexp2.MustCompile(
		`(?m)^[ \t]*(?:Object\.assign\s*\(\s*(?:module\.)?exports\s*,\s*|__exportStar\s*\(\s*)require\s*\(\s*["'`+"`"+`]([^"'`+"`"+`]+)["'`+"`"+`]\s*\)`,
		regexp2.None)

	// reCJSBareRequireStatement matches a `require("...")` call that stands
	// on its own as a statement (preceded only by a statement boundary),
	// rather than feeding a variable or another call. Real CJS modules use
	// this shape to pull in side-effecting or object-spread exports without
	// a visible forwarding idiom, so it is treated as a reexport candidate
	// the same way `module.exports = require(...)` is.
	reCJSBareRequireStatement = regexp2.MustCompile(
		`(?m)(?:^|[;{])[ \t]*require\s*\(\s*["'`+"`"+`]([^"'`+"`"+`]+)["'`+"`"+`]\s*\)\s*;?`,
		regexp2.None)

	// reCJSExportsObjectLiteral matches `module.exports = { a: 1, b: 2 }`,
	// the direct CJS export idiom (as opposed to reCJSDirectReexport's
	// `module.exports = require(...)` forwarding form).
	reCJSExportsObjectLiteral = regexp2.MustCompile(
		`(?m)^[ \t]*module\.exports\s*=\s*\{([^}]*)\}`,
		regexp2.None)

	// reCJSPropertyExport matches `exports.foo = ...` and
	// `module.exports.foo = ...`, the incremental CJS named-export idiom.
	reCJSPropertyExport = regexp2.MustCompile(
		`(?m)^[ \t]*(?:module\.)?exports\.([A-Za-z_$][\w$]*)\s*=(?!=)`,
		regexp2.None)
)

// Analyzer is the Module Analyzer.
type Analyzer struct{}

func New() *Analyzer { return &Analyzer{} }

// AnalyzeSourceOnly runs SourceOnly mode and unpacks the export-shaped
// fields, for callers (the CJS Export Synthesizer) that only need
// exports/reexports/IsCJS and would rather not depend on graph.Analyzer's
// fuller interface.
func (a *Analyzer) AnalyzeSourceOnly(source graph.SourceFile) (exports, reexportsAll []string, isCJS bool, err error) {
	mod, err := a.AnalyzeMode(source, SourceOnly)
	if err != nil {
		return nil, nil, false, err
	}
	return mod.Exports, mod.ReexportsAll, mod.IsCJS, nil
}

// Analyze implements the graph.Analyzer contract used by the Graph
// Builder.
func (a *Analyzer) Analyze(canonical specifier.Specifier, source graph.SourceFile) (graph.AnalyzedModule, error) {
	return a.AnalyzeMode(source, SourceImportsAndExports)
}

// AnalyzeMode runs analysis at the given Mode, used directly by the CJS
// Export Synthesizer's Phase 1 (SourceOnly) and by the Graph Builder's
// per-module analysis (SourceImportsAndExports).
func (a *Analyzer) AnalyzeMode(source graph.SourceFile, mode Mode) (graph.AnalyzedModule, error) {
	text := string(source.Bytes)

	if !source.MediaType.IsJSX() {
		if idx := firstBareAngleIndex(text); idx >= 0 {
			line, col := lineCol(text, idx)
			return graph.AnalyzedModule{}, &ParseError{Line: line, Col: col, Msg: "unexpected token '<'"}
		}
	}

	exports, reexportsAll, hasESMSyntax := extractExports(text)
	isCJS := source.MediaType.IsJS() && !hasESMSyntax

	if mode == SourceOnly {
		return graph.AnalyzedModule{Exports: exports, ReexportsAll: reexportsAll, IsCJS: isCJS}, nil
	}

	deps := extractDependencies(text)
	return graph.AnalyzedModule{Dependencies: deps, Exports: exports, ReexportsAll: reexportsAll, IsCJS: isCJS}, nil
}

func firstBareAngleIndex(text string) int {
	m, _ := reBareAngleStart.FindStringMatch(text)
	if m == nil {
		return -1
	}
	return m.Index
}

type depHit struct {
	index int
	dep   graph.Dependency
}

// extractDependencies walks static imports, dynamic imports, and
// export-from forms, then sorts by source position, producing spec.md
// §3's Dependency list with leading comments attached.
func extractDependencies(text string) []graph.Dependency {
	var hits []depHit

	for m, _ := reStaticImport.FindStringMatch(text); m != nil; m, _ = reStaticImport.FindNextMatch(m) {
		groups := m.Groups()
		isType := groups[1].String() != ""
		specText := groups[2].String()
		kind := graph.Static
		if isType {
			kind = graph.TypeOnly
		}
		var attrType string
		if groups[3].String() == "with" {
			attrType = importAttributeType(groups[4].String())
		}
		line, col := lineCol(text, m.Index)
		hits = append(hits, depHit{index: m.Index, dep: graph.Dependency{
			SpecifierText:       specText,
			Kind:                kind,
			Range:               graph.SourceRange{Line: line, Col: col},
			LeadingComments:     leadingComments(text, m.Index),
			ImportAttributeType: attrType,
		}})
	}

	for m, _ := reDynamicImportLiteral.FindStringMatch(text); m != nil; m, _ = reDynamicImportLiteral.FindNextMatch(m) {
		specText := m.Groups()[1].String()
		line, col := lineCol(text, m.Index)
		hits = append(hits, depHit{index: m.Index, dep: graph.Dependency{
			SpecifierText:   specText,
			Kind:            graph.Dynamic,
			Range:           graph.SourceRange{Line: line, Col: col},
			LeadingComments: leadingComments(text, m.Index),
		}})
	}

	for m, _ := reDynamicImportComputed.FindStringMatch(text); m != nil; m, _ = reDynamicImportComputed.FindNextMatch(m) {
		line, col := lineCol(text, m.Index)
		hits = append(hits, depHit{index: m.Index, dep: graph.Dependency{
			SpecifierText: "<computed>",
			Kind:          graph.Dynamic,
			Range:         graph.SourceRange{Line: line, Col: col},
		}})
	}

	for m, _ := reExportFrom.FindStringMatch(text); m != nil; m, _ = reExportFrom.FindNextMatch(m) {
		groups := m.Groups()
		clause := groups[1].String()
		specText := groups[2].String()
		kind := graph.ReExport
		if strings.HasPrefix(strings.TrimSpace(clause), "*") {
			kind = graph.ExportAll
		}
		line, col := lineCol(text, m.Index)
		hits = append(hits, depHit{index: m.Index, dep: graph.Dependency{
			SpecifierText:   specText,
			Kind:            kind,
			Range:           graph.SourceRange{Line: line, Col: col},
			LeadingComments: leadingComments(text, m.Index),
		}})
	}

	sortHitsByIndex(hits)

	deps := make([]graph.Dependency, 0, len(hits))
	for _, h := range hits {
		deps = append(deps, h.dep)
	}
	return deps
}

// importAttributeType pulls the `type` value out of a `with { ... }`
// clause body, e.g. `type: "json"` -> "json".
func importAttributeType(body string) string {
	for _, field := range strings.Split(body, ",") {
		field = strings.TrimSpace(field)
		parts := strings.SplitN(field, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key != "type" {
			continue
		}
		val := strings.TrimSpace(parts[1])
		val = strings.Trim(val, `"'`+"`")
		return val
	}
	return ""
}

func sortHitsByIndex(hits []depHit) {
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].index < hits[j-1].index; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
}

// extractExports collects named exports and export-all re-export targets,
// and reports whether any ESM syntactic form was observed.
func extractExports(text string) (named []string, reexportAll []string, hasESM bool) {
	seen := make(map[string]struct{})
	add := func(name string) {
		if name != "" {
			seen[name] = struct{}{}
		}
	}

	if m, _ := reStaticImport.FindStringMatch(text); m != nil {
		hasESM = true
	}
	if m, _ := reExportDefault.FindStringMatch(text); m != nil {
		hasESM = true
		add("default")
	}

	for m, _ := reNamedExportDecl.FindStringMatch(text); m != nil; m, _ = reNamedExportDecl.FindNextMatch(m) {
		hasESM = true
		add(m.Groups()[1].String())
	}

	for m, _ := reExportBraces.FindStringMatch(text); m != nil; m, _ = reExportBraces.FindNextMatch(m) {
		hasESM = true
		for _, clause := range strings.Split(m.Groups()[1].String(), ",") {
			clause = strings.TrimSpace(clause)
			if clause == "" {
				continue
			}
			parts := strings.Fields(clause)
			if len(parts) == 3 && parts[1] == "as" {
				add(parts[2])
			} else {
				add(parts[0])
			}
		}
	}

	for m, _ := reExportFrom.FindStringMatch(text); m != nil; m, _ = reExportFrom.FindNextMatch(m) {
		hasESM = true
		groups := m.Groups()
		clause := strings.TrimSpace(groups[1].String())
		specText := groups[2].String()
		if strings.HasPrefix(clause, "*") {
			if idx := strings.Index(clause, " as "); idx >= 0 {
				add(strings.TrimSpace(clause[idx+4:]))
			} else {
				reexportAll = append(reexportAll, specText)
			}
		} else {
			inner := strings.TrimSuffix(strings.TrimPrefix(clause, "{"), "}")
			for _, part := range strings.Split(inner, ",") {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				fields := strings.Fields(part)
				if len(fields) == 3 && fields[1] == "as" {
					add(fields[2])
				} else {
					add(fields[0])
				}
			}
		}
	}

	for m, _ := reCJSDirectReexport.FindStringMatch(text); m != nil; m, _ = reCJSDirectReexport.FindNextMatch(m) {
		reexportAll = append(reexportAll, m.Groups()[1].String())
	}
	for m, _ := reCJSHelperReexport.FindStringMatch(text); m != nil; m, _ = reCJSHelperReexport.FindNextMatch(m) {
		reexportAll = append(reexportAll, m.Groups()[1].String())
	}
	for m, _ := reCJSBareRequireStatement.FindStringMatch(text); m != nil; m, _ = reCJSBareRequireStatement.FindNextMatch(m) {
		reexportAll = append(reexportAll, m.Groups()[1].String())
	}

	// Direct CJS named exports: `module.exports = { a: 1, b: 2 }` and
	// incremental `exports.foo = ...` / `module.exports.foo = ...`
	// assignments. Neither form is ESM syntax, so neither sets hasESM.
	for m, _ := reCJSExportsObjectLiteral.FindStringMatch(text); m != nil; m, _ = reCJSExportsObjectLiteral.FindNextMatch(m) {
		for _, key := range cjsObjectLiteralKeys(m.Groups()[1].String()) {
			add(key)
		}
	}
	for m, _ := reCJSPropertyExport.FindStringMatch(text); m != nil; m, _ = reCJSPropertyExport.FindNextMatch(m) {
		add(m.Groups()[1].String())
	}

	if !hasESM {
		if m, _ := reTopLevelAwait.FindStringMatch(text); m != nil {
			hasESM = true
		}
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	return names, reexportAll, hasESM
}

// cjsObjectLiteralKeys pulls top-level property names out of a
// `module.exports = { ... }` object literal body: `key: value`, shorthand
// `key`, and method-shorthand `key() {...}` all yield "key"; `...spread`
// entries are skipped since the spread source can't be resolved
// statically here.
func cjsObjectLiteralKeys(body string) []string {
	var keys []string
	for _, field := range splitTopLevelCommas(body) {
		field = strings.TrimSpace(field)
		if field == "" || strings.HasPrefix(field, "...") {
			continue
		}
		key := field
		if idx := strings.IndexByte(field, ':'); idx >= 0 {
			key = field[:idx]
		} else if idx := strings.IndexByte(field, '('); idx >= 0 {
			key = field[:idx]
		}
		key = strings.TrimSpace(key)
		key = strings.Trim(key, `"'`+"`")
		if key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

// splitTopLevelCommas splits s on commas that are not nested inside
// braces, brackets, or parens, so an array or nested-object property
// value doesn't fracture the split.
func splitTopLevelCommas(s string) []string {
	var parts []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '{', '[', '(':
			depth++
		case '}', ']', ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// leadingComments collects the block of consecutive "//" comment lines
// immediately preceding the line containing byteIndex, so that pragmas
// like "// @ts-types=..." travel with their import (spec.md §4.4).
func leadingComments(text string, byteIndex int) []string {
	lineStart := strings.LastIndexByte(text[:byteIndex], '\n') + 1
	prevLineEnd := lineStart - 1 // index of the '\n' ending the previous line, or -1
	var comments []string
	for prevLineEnd >= 0 {
		start := strings.LastIndexByte(text[:prevLineEnd], '\n') + 1
		line := strings.TrimSpace(text[start:prevLineEnd])
		if !strings.HasPrefix(line, "//") {
			break
		}
		comments = append([]string{line}, comments...)
		prevLineEnd = start - 1
	}
	return comments
}

func lineCol(text string, byteIndex int) (line, col int) {
	line = 1
	lastNewline := -1
	for i := 0; i < byteIndex && i < len(text); i++ {
		if text[i] == '\n' {
			line++
			lastNewline = i
		}
	}
	col = byteIndex - lastNewline
	return line, col
}
