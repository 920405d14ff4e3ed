package cache

import (
	"strconv"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/go-modgraph/core/internal/specifier"
)

func TestVersionHashVectors(t *testing.T) {
	// spec.md §8 S1.
	require.Equal(t,
		"0185b42de0686b4c93c314daaa8dee159f768a9e9a336c2a5e3d5b8ca6c4208c",
		VersionHash("1+2", "0.4.0", "{}"))
	require.Equal(t,
		"e58631f1b6b6ce2b300b133ec2ad16a8a5ba6b7ecf812a8c06e59056638571ac",
		VersionHash("1", "0.4.0", "{}"))
	require.Equal(t,
		"307e6200347a88dbbada453102deb91c12939c65494e987d2d8978f6609b5633",
		VersionHash("1", "0.1.0", "{}"))
	require.Equal(t,
		"195eaf104a591d1d7f69fc169c60a41959c2b7a21373cd23a8f675f877ec385f",
		VersionHash("1", "0.4.0", `{"compilerOptions": {}}`))
}

func TestVersionHashSensitiveToEachInput(t *testing.T) {
	base := VersionHash("src", "0.4.0", "{}")
	require.NotEqual(t, base, VersionHash("src2", "0.4.0", "{}"))
	require.NotEqual(t, base, VersionHash("src", "0.5.0", "{}"))
	require.NotEqual(t, base, VersionHash("src", "0.4.0", `{"x":1}`))
}

func TestPutGetSourceRoundTrip(t *testing.T) {
	c, err := New(afero.NewMemMapFs(), "/cache")
	require.NoError(t, err)

	meta := RemoteMetadata{URL: "https://example.com/a.ts", Headers: map[string]string{"content-type": "text/typescript"}, Now: "2026-01-01T00:00:00Z"}
	require.NoError(t, c.PutSource("https://example.com/a.ts", []byte("export const x = 1"), meta))

	bytes, gotMeta, ok := c.GetSource("https://example.com/a.ts")
	require.True(t, ok)
	require.Equal(t, "export const x = 1", string(bytes))
	require.Equal(t, meta, gotMeta)
}

func TestGetSourceMissingIsNotOK(t *testing.T) {
	c, err := New(afero.NewMemMapFs(), "/cache")
	require.NoError(t, err)
	_, _, ok := c.GetSource("https://example.com/missing.ts")
	require.False(t, ok)
}

func TestCompiledInvalidatedByVersionHash(t *testing.T) {
	c, err := New(afero.NewMemMapFs(), "/cache")
	require.NoError(t, err)

	url := "https://example.com/a.ts"
	vh := VersionHash("export const x = 1", "0.4.0", "{}")
	require.NoError(t, c.PutCompiled(url, []byte("compiled"), "/a.ts", vh, nil))

	compiled, ok := c.GetCompiled(url, vh)
	require.True(t, ok)
	require.Equal(t, "compiled", string(compiled))

	_, ok = c.GetCompiled(url, "stale-hash")
	require.False(t, ok)
}

func TestPutCompiledStoresSourceMap(t *testing.T) {
	c, err := New(afero.NewMemMapFs(), "/cache")
	require.NoError(t, err)

	url := "https://example.com/a.ts"
	require.NoError(t, c.PutCompiled(url, []byte("compiled"), "/a.ts", "hash", []byte(`{"version":3}`)))

	m, ok := c.GetSourceMap(url)
	require.True(t, ok)
	require.Equal(t, `{"version":3}`, string(m))
}

func TestScriptVersionForLocalFileIsMtimeMillis(t *testing.T) {
	fs := afero.NewMemMapFs()
	c, err := New(fs, "/cache")
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, "/project/a.ts", []byte("export const x = 1"), 0o644))

	info, err := fs.Stat("/project/a.ts")
	require.NoError(t, err)

	version, ok := c.ScriptVersion(specifier.Specifier{Scheme: specifier.SchemeFile, Path: "/project/a.ts"}, "0.4.0", "{}")
	require.True(t, ok)
	require.Equal(t, strconv.FormatInt(info.ModTime().UnixMilli(), 10), version)
}

func TestScriptVersionForLocalFileMissingIsNotOK(t *testing.T) {
	c, err := New(afero.NewMemMapFs(), "/cache")
	require.NoError(t, err)

	_, ok := c.ScriptVersion(specifier.Specifier{Scheme: specifier.SchemeFile, Path: "/project/missing.ts"}, "0.4.0", "{}")
	require.False(t, ok)
}

func TestScriptVersionForRemoteIsVersionHash(t *testing.T) {
	c, err := New(afero.NewMemMapFs(), "/cache")
	require.NoError(t, err)

	url := "https://example.com/a.ts"
	meta := RemoteMetadata{URL: url, Headers: map[string]string{"content-type": "text/typescript"}}
	require.NoError(t, c.PutSource(url, []byte("export const x = 1"), meta))

	s, err := specifier.Parse(url)
	require.NoError(t, err)

	version, ok := c.ScriptVersion(s, "0.4.0", "{}")
	require.True(t, ok)
	require.Equal(t, VersionHash("export const x = 1", "0.4.0", "{}"), version)
}

func TestScriptVersionForRemoteUncachedIsNotOK(t *testing.T) {
	c, err := New(afero.NewMemMapFs(), "/cache")
	require.NoError(t, err)

	s, err := specifier.Parse("https://example.com/missing.ts")
	require.NoError(t, err)

	_, ok := c.ScriptVersion(s, "0.4.0", "{}")
	require.False(t, ok)
}
