// Package fetcher implements the File Fetcher (spec.md §4.2): given a
// canonical specifier, produce a SourceFile or a redirect indication,
// consulting the Source Cache first unless a reload policy forbids it.
package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/go-sourcemap/sourcemap"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/go-modgraph/core/internal/cache"
	"github.com/go-modgraph/core/internal/config"
	"github.com/go-modgraph/core/internal/graph"
	"github.com/go-modgraph/core/internal/mediatype"
	"github.com/go-modgraph/core/internal/specifier"
)

// CacheSetting is the policy named in spec.md §4.2.
type CacheSetting uint8

const (
	UseCache CacheSetting = iota
	ReloadAll
	Only
	RespectHeaders
)

// ErrorKind enumerates spec.md §7's FetchError taxonomy.
type ErrorKind uint8

const (
	NotFound ErrorKind = iota
	NotCached
	PermissionDenied
	Network
	ReadingFile
	DataUrlDecode
	UnsupportedScheme
	ChecksumIntegrity
	RedirectResolution
	InvalidHeader
	TooManyRedirects
)

// Error is the concrete FetchError type.
type Error struct {
	Kind       ErrorKind
	Specifier  string
	Expected   string
	Actual     string
	Underlying error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ChecksumIntegrity:
		return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.Specifier, e.Expected, e.Actual)
	default:
		if e.Underlying != nil {
			return fmt.Sprintf("fetch %s: %v", e.Specifier, e.Underlying)
		}
		return fmt.Sprintf("fetch %s: kind %d", e.Specifier, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Underlying }

// Options configures one fetch, per spec.md §4.2.
type Options struct {
	CacheSetting CacheSetting
	MaxRedirects int
	Accept       string
	AuthName     string
	AuthValue    string
	Checksum     []byte
}

// Redirect is returned by FetchNoFollow on a 3xx response or a cached
// redirect entry.
type Redirect struct {
	Next specifier.Specifier
}

// BlobStore is the in-process blob: store named in spec.md §4.2. It is
// populated by the host (e.g. a `URL.createObjectURL` implementation) and
// consulted read-only here.
type BlobStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func NewBlobStore() *BlobStore {
	return &BlobStore{entries: make(map[string][]byte)}
}

func (s *BlobStore) Put(id string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = data
}

func (s *BlobStore) Get(id string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.entries[id]
	return b, ok
}

// HTTPDoer is the minimal interface the Fetcher needs from an HTTP
// client, satisfied directly by *http.Client and easily faked in tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher is the File Fetcher.
type Fetcher struct {
	FS          afero.Fs
	Cache       *cache.Cache
	HTTP        HTTPDoer
	Blobs       *BlobStore
	Permissions config.Permissions
	Log         logrus.FieldLogger
}

func New(fs afero.Fs, c *cache.Cache, httpClient HTTPDoer, blobs *BlobStore, perms config.Permissions) *Fetcher {
	if perms == nil {
		perms = config.AllowAllPermissions{}
	}
	if blobs == nil {
		blobs = NewBlobStore()
	}
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	return &Fetcher{FS: fs, Cache: c, HTTP: httpClient, Blobs: blobs, Permissions: perms, Log: discard}
}

// SetLogger attaches a logger for fetch-attempt, redirect, and cache-hit
// events on HTTP(S) fetches. Passing nil restores the discarding default.
func (f *Fetcher) SetLogger(l logrus.FieldLogger) {
	if l == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		l = discard
	}
	f.Log = l
}

// Fetch implements the graph.Fetcher contract: it follows redirects up to
// the default bound, using UseCache semantics and default permission
// checks. Embedders that need finer control call FetchWithOptions
// directly.
func (f *Fetcher) Fetch(ctx context.Context, canonical specifier.Specifier, kind graph.DependencyKind) (graph.SourceFile, error) {
	return f.FetchWithOptions(ctx, canonical, Options{CacheSetting: UseCache, MaxRedirects: config.DefaultMaxRedirects})
}

// FetchWithOptions implements spec.md §4.2's `fetch`: it loops over
// FetchNoFollow up to opts.MaxRedirects, dropping the auth header when a
// redirect crosses origins.
func (f *Fetcher) FetchWithOptions(ctx context.Context, s specifier.Specifier, opts Options) (graph.SourceFile, error) {
	maxRedirects := opts.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = config.DefaultMaxRedirects
	}

	current := s
	curOpts := opts
	for i := 0; i <= maxRedirects; i++ {
		result, redirect, err := f.FetchNoFollow(ctx, current, curOpts)
		if err != nil {
			return graph.SourceFile{}, err
		}
		if redirect == nil {
			return result, nil
		}
		if !sameOrigin(current, redirect.Next) {
			curOpts.AuthName, curOpts.AuthValue = "", ""
		}
		current = redirect.Next
	}
	return graph.SourceFile{}, &Error{Kind: TooManyRedirects, Specifier: current.String()}
}

func sameOrigin(a, b specifier.Specifier) bool {
	return a.Scheme == b.Scheme && a.Host == b.Host
}

// resolveLocation turns a Location header value into an absolute
// specifier, resolving it against base when it is relative.
func resolveLocation(base specifier.Specifier, loc string) (specifier.Specifier, error) {
	baseURL, err := url.Parse(base.String())
	if err != nil {
		return specifier.Specifier{}, err
	}
	locURL, err := url.Parse(loc)
	if err != nil {
		return specifier.Specifier{}, err
	}
	return specifier.Parse(baseURL.ResolveReference(locURL).String())
}

// FetchNoFollow implements spec.md §4.2's `fetch_no_follow`: checks
// permissions, dispatches per scheme, and returns either a SourceFile or a
// Redirect without following it.
func (f *Fetcher) FetchNoFollow(ctx context.Context, s specifier.Specifier, opts Options) (graph.SourceFile, *Redirect, error) {
	if err := f.checkPermission(s); err != nil {
		return graph.SourceFile{}, nil, err
	}

	switch s.Scheme {
	case specifier.SchemeFile:
		sf, err := f.fetchFile(s)
		return sf, nil, err
	case specifier.SchemeData:
		sf, err := f.fetchData(s)
		return sf, nil, err
	case specifier.SchemeBlob:
		sf, err := f.fetchBlob(s)
		return sf, nil, err
	case specifier.SchemeHTTP, specifier.SchemeHTTPS:
		return f.fetchHTTP(ctx, s, opts)
	default:
		return graph.SourceFile{}, nil, &Error{Kind: UnsupportedScheme, Specifier: s.String()}
	}
}

func (f *Fetcher) checkPermission(s specifier.Specifier) error {
	switch s.Scheme {
	case specifier.SchemeFile:
		if err := f.Permissions.CheckReadFile(s.Path); err != nil {
			return &Error{Kind: PermissionDenied, Specifier: s.String(), Underlying: err}
		}
	case specifier.SchemeHTTP, specifier.SchemeHTTPS:
		if err := f.Permissions.CheckNet(s.Host); err != nil {
			return &Error{Kind: PermissionDenied, Specifier: s.String(), Underlying: err}
		}
	}
	return nil
}

// GetCached returns a previously cached SourceFile without touching the
// network or the filesystem, per spec.md §4.2's `get_cached`.
func (f *Fetcher) GetCached(canonical specifier.Specifier) (graph.SourceFile, bool) {
	bytes, meta, ok := f.Cache.GetSource(canonical.String())
	if !ok {
		return graph.SourceFile{}, false
	}
	return sourceFileFromCache(canonical, bytes, meta), true
}

func sourceFileFromCache(canonical specifier.Specifier, bytes []byte, meta cache.RemoteMetadata) graph.SourceFile {
	mt := mediatype.FromContentType(meta.Headers["content-type"], mediatype.FromExtension(canonical.Path))
	return graph.SourceFile{
		Specifier:          canonical,
		CanonicalSpecifier: canonical,
		MediaType:          mt,
		Bytes:              bytes,
		Headers:            meta.Headers,
	}
}

func (f *Fetcher) fetchFile(s specifier.Specifier) (graph.SourceFile, error) {
	info, err := f.FS.Stat(s.Path)
	if err != nil {
		return graph.SourceFile{}, &Error{Kind: NotFound, Specifier: s.String(), Underlying: err}
	}
	fh, err := f.FS.Open(s.Path)
	if err != nil {
		return graph.SourceFile{}, &Error{Kind: ReadingFile, Specifier: s.String(), Underlying: err}
	}
	defer fh.Close()
	data, err := io.ReadAll(fh)
	if err != nil {
		return graph.SourceFile{}, &Error{Kind: ReadingFile, Specifier: s.String(), Underlying: err}
	}

	mtimeMillis := info.ModTime().UnixMilli()
	sf := graph.SourceFile{
		Specifier:          s,
		CanonicalSpecifier: s,
		MediaType:          mediatype.FromExtension(s.Path),
		Bytes:              data,
		MtimeMillis:        &mtimeMillis,
	}
	sf.SourceMapData = inlineSourceMapData(s.Path, data)
	return sf, nil
}

// fetchData decodes a data: URL inline, per spec.md §4.2.
func (f *Fetcher) fetchData(s specifier.Specifier) (graph.SourceFile, error) {
	// s.Path holds everything after "data:", e.g. "text/plain,hello" or
	// "application/javascript;base64,ZXhwb3J0...".
	comma := strings.IndexByte(s.Path, ',')
	if comma < 0 {
		return graph.SourceFile{}, &Error{Kind: DataUrlDecode, Specifier: s.String(), Underlying: fmt.Errorf("missing comma")}
	}
	meta, payload := s.Path[:comma], s.Path[comma+1:]

	isBase64 := strings.HasSuffix(meta, ";base64")
	contentType := strings.TrimSuffix(meta, ";base64")

	var data []byte
	var err error
	if isBase64 {
		data, err = base64.StdEncoding.DecodeString(payload)
	} else {
		decoded, uerr := url.QueryUnescape(payload)
		data, err = []byte(decoded), uerr
	}
	if err != nil {
		return graph.SourceFile{}, &Error{Kind: DataUrlDecode, Specifier: s.String(), Underlying: err}
	}

	mt := mediatype.FromContentType(contentType, mediatype.JavaScript)
	return graph.SourceFile{
		Specifier:          s,
		CanonicalSpecifier: s,
		MediaType:          mt,
		Bytes:              data,
	}, nil
}

func (f *Fetcher) fetchBlob(s specifier.Specifier) (graph.SourceFile, error) {
	data, ok := f.Blobs.Get(s.Path)
	if !ok {
		return graph.SourceFile{}, &Error{Kind: NotFound, Specifier: s.String()}
	}
	return graph.SourceFile{
		Specifier:          s,
		CanonicalSpecifier: s,
		MediaType:          mediatype.JavaScript,
		Bytes:              data,
	}, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, s specifier.Specifier, opts Options) (graph.SourceFile, *Redirect, error) {
	key := s.String()

	if opts.CacheSetting == Only {
		if cached, meta, ok := f.Cache.GetSource(key); ok {
			if loc, isRedirect := meta.Headers["location"]; isRedirect {
				next, err := resolveLocation(s, loc)
				if err != nil {
					return graph.SourceFile{}, nil, &Error{Kind: RedirectResolution, Specifier: key, Underlying: err}
				}
				f.Log.WithFields(logrus.Fields{"specifier": key, "location": next.String()}).Debug("fetcher: redirect follow (cache-only)")
				return graph.SourceFile{}, &Redirect{Next: next}, nil
			}
			f.Log.WithField("specifier", key).Debug("fetcher: cache hit (cache-only)")
			return sourceFileFromCache(s, cached, meta), nil, nil
		}
		return graph.SourceFile{}, nil, &Error{Kind: NotCached, Specifier: key}
	}

	if opts.CacheSetting == UseCache || opts.CacheSetting == RespectHeaders {
		if cached, meta, ok := f.Cache.GetSource(key); ok {
			if loc, isRedirect := meta.Headers["location"]; isRedirect {
				next, err := resolveLocation(s, loc)
				if err != nil {
					return graph.SourceFile{}, nil, &Error{Kind: RedirectResolution, Specifier: key, Underlying: err}
				}
				f.Log.WithFields(logrus.Fields{"specifier": key, "location": next.String()}).Debug("fetcher: redirect follow")
				return graph.SourceFile{}, &Redirect{Next: next}, nil
			}
			if opts.CacheSetting == UseCache || !cacheControlForbids(meta.Headers) {
				f.Log.WithField("specifier", key).Debug("fetcher: cache hit")
				return sourceFileFromCache(s, cached, meta), nil, nil
			}
		}
	}

	f.Log.WithField("specifier", key).Info("fetcher: fetch attempt")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.String(), nil)
	if err != nil {
		return graph.SourceFile{}, nil, &Error{Kind: Network, Specifier: key, Underlying: err}
	}
	if opts.Accept != "" {
		req.Header.Set("Accept", opts.Accept)
	}
	if opts.AuthName != "" {
		req.Header.Set(opts.AuthName, opts.AuthValue)
	}
	req.Header.Set("Accept-Encoding", "gzip, br")

	resp, err := f.HTTP.Do(req)
	if err != nil {
		return graph.SourceFile{}, nil, &Error{Kind: Network, Specifier: key, Underlying: err}
	}
	defer resp.Body.Close()

	headers := flattenHeaders(resp.Header)

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		loc := resp.Header.Get("Location")
		if loc == "" {
			return graph.SourceFile{}, nil, &Error{Kind: RedirectResolution, Specifier: key, Underlying: fmt.Errorf("redirect with no Location header")}
		}
		next, err := resolveLocation(s, loc)
		if err != nil {
			return graph.SourceFile{}, nil, &Error{Kind: RedirectResolution, Specifier: key, Underlying: err}
		}
		redirMeta := cache.RemoteMetadata{URL: key, Headers: map[string]string{"location": loc}, Now: time.Now().UTC().Format(time.RFC3339)}
		if err := f.Cache.PutSource(key, nil, redirMeta); err != nil {
			return graph.SourceFile{}, nil, &Error{Kind: Network, Specifier: key, Underlying: err}
		}
		f.Log.WithFields(logrus.Fields{"specifier": key, "location": next.String()}).Info("fetcher: redirect received")
		return graph.SourceFile{}, &Redirect{Next: next}, nil
	}

	if resp.StatusCode == http.StatusNotFound {
		return graph.SourceFile{}, nil, &Error{Kind: NotFound, Specifier: key}
	}
	if resp.StatusCode >= 400 {
		return graph.SourceFile{}, nil, &Error{Kind: Network, Specifier: key, Underlying: fmt.Errorf("status %d", resp.StatusCode)}
	}

	body, err := decompress(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return graph.SourceFile{}, nil, &Error{Kind: Network, Specifier: key, Underlying: err}
	}

	if opts.Checksum != nil {
		sum := sha256.Sum256(body)
		actual := hex.EncodeToString(sum[:])
		expected := hex.EncodeToString(opts.Checksum)
		if actual != expected {
			return graph.SourceFile{}, nil, &Error{Kind: ChecksumIntegrity, Specifier: key, Expected: expected, Actual: actual}
		}
	}

	meta := cache.RemoteMetadata{URL: key, Headers: headers, Now: time.Now().UTC().Format(time.RFC3339)}
	if err := f.Cache.PutSource(key, body, meta); err != nil {
		return graph.SourceFile{}, nil, &Error{Kind: Network, Specifier: key, Underlying: err}
	}

	mt := mediatype.FromContentType(resp.Header.Get("Content-Type"), mediatype.FromExtension(s.Path))
	return graph.SourceFile{
		Specifier:          s,
		CanonicalSpecifier: s,
		MediaType:          mt,
		Bytes:              body,
		Headers:            headers,
		SourceMapData:      inlineSourceMapData(s.Path, body),
	}, nil, nil
}

// inlineSourceMapData looks for a trailing `//# sourceMappingURL=data:...`
// comment, decodes the inline base64 JSON payload, and validates it with
// the sourcemap library before attaching it to the fetched SourceFile. A
// missing or malformed directive is not an error — most fetched sources
// carry no map at all — so this returns nil rather than surfacing one.
func inlineSourceMapData(sourcePath string, body []byte) []byte {
	const marker = "//# sourceMappingURL="
	idx := strings.LastIndex(string(body), marker)
	if idx < 0 {
		return nil
	}
	rest := string(body[idx+len(marker):])
	if nl := strings.IndexAny(rest, "\r\n"); nl >= 0 {
		rest = rest[:nl]
	}
	rest = strings.TrimSpace(rest)

	const dataPrefix = "data:application/json;base64,"
	if !strings.HasPrefix(rest, dataPrefix) {
		return nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(rest, dataPrefix))
	if err != nil {
		return nil
	}
	if _, err := sourcemap.Parse(sourcePath, decoded); err != nil {
		return nil
	}
	return decoded
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[strings.ToLower(k)] = h.Get(k)
	}
	return out
}

func cacheControlForbids(headers map[string]string) bool {
	cc := strings.ToLower(headers["cache-control"])
	return strings.Contains(cc, "no-cache") || strings.Contains(cc, "no-store")
}

func decompress(r io.Reader, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case "br":
		return io.ReadAll(brotli.NewReader(r))
	default:
		return io.ReadAll(r)
	}
}
