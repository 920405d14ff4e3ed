// Package specifier implements the Specifier Resolver: parsing and
// normalizing module specifiers, applying import maps, and canonicalizing
// redirect chains (spec.md §4.1).
package specifier

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

type Scheme string

const (
	SchemeFile  Scheme = "file"
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
	SchemeData  Scheme = "data"
	SchemeBlob  Scheme = "blob"
	SchemeNode  Scheme = "node"
	SchemeNpm   Scheme = "npm"
	SchemeJsr   Scheme = "jsr"
)

var knownSchemes = map[string]Scheme{
	"file":  SchemeFile,
	"http":  SchemeHTTP,
	"https": SchemeHTTPS,
	"data":  SchemeData,
	"blob":  SchemeBlob,
	"node":  SchemeNode,
	"npm":   SchemeNpm,
	"jsr":   SchemeJsr,
}

// Specifier is a parsed module specifier. Two specifiers are equal iff
// their canonical serializations are equal: scheme, host lowercased, path
// normalized, query preserved, fragment dropped (spec.md §3).
type Specifier struct {
	Scheme Scheme
	Host   string // empty for file/node/npm/jsr
	Path   string
	Query  string
}

func (s Specifier) String() string {
	var b strings.Builder
	b.WriteString(string(s.Scheme))
	b.WriteString(":")
	if s.Host != "" {
		b.WriteString("//")
		b.WriteString(s.Host)
	}
	b.WriteString(s.Path)
	if s.Query != "" {
		b.WriteString("?")
		b.WriteString(s.Query)
	}
	return b.String()
}

// Errors named in spec.md §7 ResolveError.
var (
	ErrInvalidSpecifier  = errors.New("invalid specifier")
	ErrUnsupportedScheme = errors.New("unsupported scheme")
	ErrBareWithoutMap    = errors.New("bare specifier without an import map entry")
	ErrTooManyRedirects  = errors.New("too many redirects")
	ErrRedirectLoop      = errors.New("redirect loop")
)

type ResolveError struct {
	Op         string
	Text       string
	Referrer   string
	Underlying error
}

func (e *ResolveError) Error() string {
	if e.Referrer != "" {
		return fmt.Sprintf("%s: cannot resolve %q from %q: %v", e.Op, e.Text, e.Referrer, e.Underlying)
	}
	return fmt.Sprintf("%s: cannot resolve %q: %v", e.Op, e.Text, e.Underlying)
}

func (e *ResolveError) Unwrap() error { return e.Underlying }

func isRelative(text string) bool {
	return strings.HasPrefix(text, "./") || strings.HasPrefix(text, "../") || strings.HasPrefix(text, "/")
}

func schemeOf(text string) (Scheme, string, bool) {
	i := strings.Index(text, ":")
	if i <= 1 { // a single letter before ':' is a Windows drive letter, not a scheme
		return "", "", false
	}
	name := strings.ToLower(text[:i])
	sch, ok := knownSchemes[name]
	return sch, text[i+1:], ok
}

// Parse parses a specifier that is already absolute (carries a known
// scheme). It does not apply import maps or resolve relative to a
// referrer; use Resolver.Resolve for that.
func Parse(text string) (Specifier, error) {
	sch, rest, ok := schemeOf(text)
	if !ok {
		return Specifier{}, &ResolveError{Op: "parse", Text: text, Underlying: ErrUnsupportedScheme}
	}
	switch sch {
	case SchemeFile:
		return parseFileURL(text)
	case SchemeHTTP, SchemeHTTPS:
		u, err := url.Parse(text)
		if err != nil {
			return Specifier{}, &ResolveError{Op: "parse", Text: text, Underlying: fmt.Errorf("%w: %v", ErrInvalidSpecifier, err)}
		}
		return Specifier{Scheme: sch, Host: strings.ToLower(u.Host), Path: u.Path, Query: u.RawQuery}, nil
	case SchemeData, SchemeBlob:
		return Specifier{Scheme: sch, Path: rest}, nil
	case SchemeNode, SchemeNpm, SchemeJsr:
		return Specifier{Scheme: sch, Path: rest}, nil
	default:
		return Specifier{}, &ResolveError{Op: "parse", Text: text, Underlying: ErrUnsupportedScheme}
	}
}

func parseFileURL(text string) (Specifier, error) {
	u, err := url.Parse(text)
	if err != nil {
		return Specifier{}, &ResolveError{Op: "parse", Text: text, Underlying: fmt.Errorf("%w: %v", ErrInvalidSpecifier, err)}
	}
	p := u.Path
	p = collapseDotSegments(p)
	p = lowercaseDriveLetter(p)
	return Specifier{Scheme: SchemeFile, Path: p}, nil
}

// lowercaseDriveLetter normalizes "/C:/foo" to "/c:/foo" so that Windows
// drive letters compare equal regardless of case, per spec.md §4.1.
func lowercaseDriveLetter(p string) string {
	if len(p) >= 3 && p[0] == '/' && isASCIILetter(p[1]) && p[2] == ':' {
		return "/" + strings.ToLower(p[1:2]) + p[2:]
	}
	return p
}

func isASCIILetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func collapseDotSegments(p string) string {
	if p == "" {
		return p
	}
	trailingSlash := strings.HasSuffix(p, "/") && p != "/"
	cleaned := path.Clean(p)
	if trailingSlash && !strings.HasSuffix(cleaned, "/") {
		cleaned += "/"
	}
	return cleaned
}
