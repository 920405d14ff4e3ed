package specifier

import (
	"strings"

	"github.com/go-modgraph/core/internal/config"
)

// RedirectSource is the read interface the Graph owns over its redirect
// table (spec.md §3: "the Resolver holds only transient references while
// canonicalizing"). The Graph Builder supplies the read-write side.
type RedirectSource interface {
	RedirectTo(from Specifier) (Specifier, bool)
}

type Resolver struct {
	ImportMap    config.ImportMap
	MaxRedirects int
}

func NewResolver(importMap config.ImportMap, maxRedirects int) *Resolver {
	if maxRedirects <= 0 {
		maxRedirects = config.DefaultMaxRedirects
	}
	return &Resolver{ImportMap: importMap, MaxRedirects: maxRedirects}
}

// Resolve converts a (specifierText, referrer) pair into a Specifier,
// honoring the import map before URL-relative resolution (spec.md §4.1).
// conditions orders which branch of a conditional "exports" subtree wins
// when specifierText falls under an ImportMap.PackageExports prefix;
// callers doing plain ESM graph traversal pass ESMConditions, the CJS
// Export Synthesizer's re-export chase passes CJSConditions.
func (r *Resolver) Resolve(specifierText string, referrer *Specifier, conditions []string) (Specifier, error) {
	text := r.applyImportMap(specifierText, referrer, conditions)

	if _, _, ok := schemeOf(text); ok {
		return Parse(text)
	}

	if isRelative(text) {
		if referrer == nil {
			return Specifier{}, &ResolveError{Op: "resolve", Text: specifierText, Underlying: ErrBareWithoutMap}
		}
		return r.resolveRelative(text, *referrer)
	}

	// A bare specifier with no import map entry and no package-scope
	// resolver to consult (the package-scope resolver is the npm/jsr
	// resolution machinery, out of scope here) cannot be resolved.
	return Specifier{}, &ResolveError{
		Op: "resolve", Text: specifierText,
		Referrer:   referrerText(referrer),
		Underlying: ErrBareWithoutMap,
	}
}

func referrerText(referrer *Specifier) string {
	if referrer == nil {
		return ""
	}
	return referrer.String()
}

func (r *Resolver) resolveRelative(text string, referrer Specifier) (Specifier, error) {
	switch referrer.Scheme {
	case SchemeFile:
		base := referrer.Path
		if !strings.HasSuffix(base, "/") {
			base = parentDir(base)
		}
		p := collapseDotSegments(joinPath(base, text))
		p = lowercaseDriveLetter(p)
		return Specifier{Scheme: SchemeFile, Path: p}, nil
	case SchemeHTTP, SchemeHTTPS:
		base := referrer.Path
		if !strings.HasSuffix(base, "/") {
			base = parentDir(base)
		}
		p := collapseDotSegments(joinPath(base, stripQuery(text)))
		return Specifier{Scheme: referrer.Scheme, Host: referrer.Host, Path: p, Query: queryOf(text)}, nil
	default:
		return Specifier{}, &ResolveError{Op: "resolve", Text: text, Referrer: referrer.String(), Underlying: ErrUnsupportedScheme}
	}
}

func stripQuery(text string) string {
	if i := strings.IndexByte(text, '?'); i >= 0 {
		return text[:i]
	}
	return text
}

func queryOf(text string) string {
	if i := strings.IndexByte(text, '?'); i >= 0 {
		return text[i+1:]
	}
	return ""
}

func parentDir(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return ""
	}
	return p[:i+1]
}

func joinPath(base, rel string) string {
	if strings.HasPrefix(rel, "/") {
		return rel
	}
	return base + rel
}

// applyImportMap resolves bare specifiers through an exact "imports" entry
// first, then falls back to the longest matching trailing-"/" prefix entry,
// as web import maps do; spec.md leaves this detail open. A
// PackageExports match is tried first, since it is the more specific,
// package-scoped mapping.
func (r *Resolver) applyImportMap(specifierText string, referrer *Specifier, conditions []string) string {
	if target, ok := r.applyPackageExports(specifierText, conditions); ok {
		return target
	}

	if r.ImportMap.Imports == nil {
		return specifierText
	}

	scope := r.ImportMap.Imports
	if referrer != nil {
		if scoped, ok := bestScope(r.ImportMap.Scopes, referrer.String()); ok {
			merged := make(map[string]string, len(scope)+len(scoped))
			for k, v := range scope {
				merged[k] = v
			}
			for k, v := range scoped {
				merged[k] = v
			}
			scope = merged
		}
	}

	if target, ok := scope[specifierText]; ok {
		return target
	}

	var bestPrefix, bestTarget string
	for key, target := range scope {
		if !strings.HasSuffix(key, "/") {
			continue
		}
		if strings.HasPrefix(specifierText, key) && len(key) > len(bestPrefix) {
			bestPrefix, bestTarget = key, target
		}
	}
	if bestPrefix != "" {
		return bestTarget + specifierText[len(bestPrefix):]
	}
	return specifierText
}

// applyPackageExports finds the longest ImportMap.PackageExports prefix
// matching specifierText and resolves its conditional subtree against
// conditions, returning the rewritten target with any subpath remainder
// appended.
func (r *Resolver) applyPackageExports(specifierText string, conditions []string) (string, bool) {
	if r.ImportMap.PackageExports == nil {
		return "", false
	}
	var bestPrefix string
	var bestEntry map[string]interface{}
	for prefix, entry := range r.ImportMap.PackageExports {
		if prefix == specifierText || strings.HasSuffix(prefix, "/") && strings.HasPrefix(specifierText, prefix) {
			if len(prefix) > len(bestPrefix) {
				bestPrefix, bestEntry = prefix, entry
			}
		}
	}
	if bestEntry == nil {
		return "", false
	}
	target, ok := ResolveExportsCondition(bestEntry, conditions)
	if !ok {
		return "", false
	}
	return target + specifierText[len(bestPrefix):], true
}

func bestScope(scopes map[string]map[string]string, referrerText string) (map[string]string, bool) {
	var bestPrefix string
	var best map[string]string
	for prefix, m := range scopes {
		if strings.HasPrefix(referrerText, prefix) && len(prefix) > len(bestPrefix) {
			bestPrefix, best = prefix, m
		}
	}
	return best, best != nil
}

// Canonicalize follows stored redirects up to MaxRedirects and applies the
// NFC path normalization + host lowercasing that makes canonicalization
// idempotent (spec.md §8: canonicalize(s) == canonicalize(canonicalize(s))).
func (r *Resolver) Canonicalize(s Specifier, redirects RedirectSource) (Specifier, error) {
	normalized := normalize(s)

	visited := map[string]bool{normalized.String(): true}
	current := normalized
	for i := 0; i <= r.MaxRedirects; i++ {
		next, ok := redirects.RedirectTo(current)
		if !ok {
			return current, nil
		}
		next = normalize(next)
		if visited[next.String()] {
			return Specifier{}, &ResolveError{Op: "canonicalize", Text: s.String(), Underlying: ErrRedirectLoop}
		}
		visited[next.String()] = true
		current = next
	}
	return Specifier{}, &ResolveError{Op: "canonicalize", Text: s.String(), Underlying: ErrTooManyRedirects}
}

func normalize(s Specifier) Specifier {
	s.Host = strings.ToLower(s.Host)
	s.Path = normalizePathNFC(s.Path)
	return s
}
