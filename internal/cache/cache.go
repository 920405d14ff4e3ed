// Package cache implements the Source Cache from spec.md §4.3: a
// disk-backed, content-addressed store for fetched source bytes, remote
// response metadata, and compiled artifacts keyed by a version hash.
//
// Every write goes through afero's write-temp-then-rename so a reader
// never observes a partial file; a per-key mutex set gives the
// at-most-one-concurrent-write-per-key guarantee spec.md §4.3 requires
// without serializing unrelated keys against each other.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/go-modgraph/core/internal/specifier"
)

// RemoteMetadata is the `<urlhash>.metadata.json` sidecar described in
// spec.md §6: the response headers and fetch time recorded alongside the
// raw bytes of a remote fetch.
type RemoteMetadata struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Now     string            `json:"now"`
}

// CompiledMetadata is the `<urlhash>.meta` sidecar: the provenance of a
// compiled artifact, used to decide whether it is still valid for its
// source.
type CompiledMetadata struct {
	SourcePath  string `json:"source_path"`
	VersionHash string `json:"version_hash"`
}

// VersionHash computes the SHA-256 fingerprint of (source, runtimeVersion,
// configHash) per spec.md §8 S1. The three inputs are concatenated as raw
// bytes with no separator or length prefix — changing the boundary between
// them (e.g. inserting a delimiter) would change every existing hash, so
// this concatenation order is pinned by the test vectors and must not be
// "improved".
func VersionHash(source, runtimeVersion, configHash string) string {
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte(runtimeVersion))
	h.Write([]byte(configHash))
	return hex.EncodeToString(h.Sum(nil))
}

// keyHash derives the on-disk filename stem for a canonical URL string.
// The scheme is an implementation choice (spec.md §6); SHA-256 gives a
// fixed-width, collision-resistant, filesystem-safe name.
func keyHash(canonicalURL string) string {
	sum := sha256.Sum256([]byte(canonicalURL))
	return hex.EncodeToString(sum[:])
}

// Cache is the Source Cache. One Cache instance owns one directory on disk
// plus the locking needed to serialize writes to a given key.
type Cache struct {
	fs   afero.Fs
	root string
	log  logrus.FieldLogger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New opens (and, if necessary, creates) a Source Cache rooted at dir. The
// cache logs nothing by default; call SetLogger to attach operational
// logging of hits and misses.
func New(fs afero.Fs, dir string) (*Cache, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create root %q: %w", dir, err)
	}
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	return &Cache{fs: fs, root: dir, log: discard, locks: make(map[string]*sync.Mutex)}, nil
}

// SetLogger attaches a logger for cache hit/miss events. Passing nil
// restores the discarding default.
func (c *Cache) SetLogger(l logrus.FieldLogger) {
	if l == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		l = discard
	}
	c.log = l
}

func (c *Cache) lockFor(key string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	return l
}

func (c *Cache) path(canonicalURL, suffix string) string {
	return c.root + "/" + keyHash(canonicalURL) + suffix
}

// writeAtomic writes data to path via a temp file in the same directory
// followed by a rename, so concurrent readers never see a partial write.
func writeAtomic(fs afero.Fs, path string, data []byte) error {
	tmp := path + fmt.Sprintf(".tmp-%d", time.Now().UnixNano())
	f, err := fs.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		fs.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		fs.Remove(tmp)
		return err
	}
	return fs.Rename(tmp, path)
}

func readAll(fs afero.Fs, path string) ([]byte, error) {
	return afero.ReadFile(fs, path)
}

// PutSource atomically stores the raw bytes of a fetched remote resource
// together with its response metadata sidecar.
func (c *Cache) PutSource(canonicalURL string, bytes []byte, meta RemoteMetadata) error {
	l := c.lockFor(canonicalURL)
	l.Lock()
	defer l.Unlock()

	if err := writeAtomic(c.fs, c.path(canonicalURL, ""), bytes); err != nil {
		return fmt.Errorf("cache: put source %q: %w", canonicalURL, err)
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("cache: marshal metadata for %q: %w", canonicalURL, err)
	}
	if err := writeAtomic(c.fs, c.path(canonicalURL, ".metadata.json"), metaBytes); err != nil {
		return fmt.Errorf("cache: put metadata %q: %w", canonicalURL, err)
	}
	c.log.WithField("specifier", canonicalURL).Debug("cache: source stored")
	return nil
}

// GetSource returns the previously cached raw bytes and metadata for a
// canonical URL, or ok=false if nothing is cached.
func (c *Cache) GetSource(canonicalURL string) (bytes []byte, meta RemoteMetadata, ok bool) {
	bytes, err := readAll(c.fs, c.path(canonicalURL, ""))
	if err != nil {
		c.log.WithField("specifier", canonicalURL).Debug("cache: source miss")
		return nil, RemoteMetadata{}, false
	}
	metaBytes, err := readAll(c.fs, c.path(canonicalURL, ".metadata.json"))
	if err != nil {
		c.log.WithField("specifier", canonicalURL).Debug("cache: source miss (metadata unreadable)")
		return nil, RemoteMetadata{}, false
	}
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		c.log.WithField("specifier", canonicalURL).Debug("cache: source miss (metadata corrupt)")
		return nil, RemoteMetadata{}, false
	}
	c.log.WithField("specifier", canonicalURL).Debug("cache: source hit")
	return bytes, meta, true
}

// PutCompiled atomically stores a compiled artifact, its version-hash
// sidecar, and an optional source map. Per spec.md §4.3's invariant, this
// is only meaningful following a PutSource for the same canonicalURL in
// the same logical operation — the cache itself does not enforce that
// ordering, since it has no notion of "logical operation" boundaries; that
// is the Graph Builder's responsibility.
func (c *Cache) PutCompiled(canonicalURL string, compiled []byte, sourcePath, versionHash string, sourceMap []byte) error {
	l := c.lockFor(canonicalURL)
	l.Lock()
	defer l.Unlock()

	if err := writeAtomic(c.fs, c.path(canonicalURL, ".js"), compiled); err != nil {
		return fmt.Errorf("cache: put compiled %q: %w", canonicalURL, err)
	}
	meta := CompiledMetadata{SourcePath: sourcePath, VersionHash: versionHash}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("cache: marshal compiled metadata for %q: %w", canonicalURL, err)
	}
	if err := writeAtomic(c.fs, c.path(canonicalURL, ".meta"), metaBytes); err != nil {
		return fmt.Errorf("cache: put compiled metadata %q: %w", canonicalURL, err)
	}
	if sourceMap != nil {
		if err := writeAtomic(c.fs, c.path(canonicalURL, ".js.map"), sourceMap); err != nil {
			return fmt.Errorf("cache: put source map %q: %w", canonicalURL, err)
		}
	}
	c.log.WithField("specifier", canonicalURL).Debug("cache: compiled artifact stored")
	return nil
}

// GetCompiled returns a cached compiled artifact only if its stored
// version hash matches wantVersionHash; a stale or missing artifact
// returns ok=false so the caller recompiles.
func (c *Cache) GetCompiled(canonicalURL, wantVersionHash string) (compiled []byte, ok bool) {
	metaBytes, err := readAll(c.fs, c.path(canonicalURL, ".meta"))
	if err != nil {
		c.log.WithField("specifier", canonicalURL).Debug("cache: compiled miss")
		return nil, false
	}
	var meta CompiledMetadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil || meta.VersionHash != wantVersionHash {
		c.log.WithField("specifier", canonicalURL).Debug("cache: compiled stale (version hash mismatch)")
		return nil, false
	}
	compiled, err = readAll(c.fs, c.path(canonicalURL, ".js"))
	if err != nil {
		c.log.WithField("specifier", canonicalURL).Debug("cache: compiled miss (body unreadable)")
		return nil, false
	}
	c.log.WithField("specifier", canonicalURL).Debug("cache: compiled hit")
	return compiled, true
}

// GetMetadata returns the compiled-artifact metadata sidecar, independent
// of whether the artifact itself is still considered valid.
func (c *Cache) GetMetadata(canonicalURL string) (CompiledMetadata, bool) {
	metaBytes, err := readAll(c.fs, c.path(canonicalURL, ".meta"))
	if err != nil {
		return CompiledMetadata{}, false
	}
	var meta CompiledMetadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return CompiledMetadata{}, false
	}
	return meta, true
}

// GetSourceMap returns a cached source map sidecar, if one was stored.
func (c *Cache) GetSourceMap(canonicalURL string) ([]byte, bool) {
	b, err := readAll(c.fs, c.path(canonicalURL, ".js.map"))
	if err != nil {
		return nil, false
	}
	return b, true
}

// ScriptVersion implements spec.md §4.3's `script_version`, the signal an
// LSP-like consumer polls to decide whether to re-parse: for a `file:`
// specifier it is the filesystem mtime in milliseconds as a decimal
// string; for anything else it is the version hash of the most recently
// cached source against runtimeVersion and configHash. ok is false if the
// local file can't be stat'd or nothing is cached for canonical yet.
func (c *Cache) ScriptVersion(canonical specifier.Specifier, runtimeVersion, configHash string) (version string, ok bool) {
	if canonical.Scheme == specifier.SchemeFile {
		info, err := c.fs.Stat(canonical.Path)
		if err != nil {
			c.log.WithField("specifier", canonical.String()).Debug("cache: script_version miss (stat failed)")
			return "", false
		}
		return strconv.FormatInt(info.ModTime().UnixMilli(), 10), true
	}

	bytes, _, ok := c.GetSource(canonical.String())
	if !ok {
		return "", false
	}
	return VersionHash(string(bytes), runtimeVersion, configHash), true
}
