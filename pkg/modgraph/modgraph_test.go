package modgraph

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/go-modgraph/core/internal/config"
)

func newTestCore(t *testing.T) *config.CoreOptions {
	t.Helper()
	return &config.CoreOptions{
		RuntimeVersion: "test-1.0.0",
		CacheRoot:      "/cache",
		Permissions:    config.AllowAllPermissions{},
		MaxRedirects:   config.DefaultMaxRedirects,
	}
}

func TestBuildGraphSimpleProject(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/project/main.ts", []byte(`import { helper } from "./helper.ts";`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/project/helper.ts", []byte(`export const helper = () => 1;`), 0o644))

	result, err := BuildGraph(context.Background(), []string{"file:///project/main.ts"}, BuildOptions{
		Core: newTestCore(t),
		FS:   fs,
	})
	require.NoError(t, err)
	require.Len(t, result.Graph.Modules, 2)

	main, ok := result.Graph.Modules["file:/project/main.ts"]
	require.True(t, ok)
	require.Len(t, main.Dependencies, 1)
}

func TestBuildGraphMissingEntryIsError(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := BuildGraph(context.Background(), []string{"file:///project/missing.ts"}, BuildOptions{
		Core: newTestCore(t),
		FS:   fs,
	})
	require.Error(t, err)
}

func TestBuildAndSynthesizeAllWrapsCJSModule(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/project/main.ts", []byte(`import pkg from "./lib.js";`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/project/lib.js", []byte(`module.exports = { greet: function() {} };`), 0o644))

	result, err := BuildAndSynthesizeAll(context.Background(), []string{"file:///project/main.ts"}, BuildOptions{
		Core: newTestCore(t),
		FS:   fs,
	})
	require.NoError(t, err)

	lib, ok := result.Graph.Modules["file:/project/lib.js"]
	require.True(t, ok)
	require.True(t, lib.IsCJS)
}

func TestTranslateCJSToESMProducesWrapper(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/project/lib.js", []byte(`module.exports = require("./reexport.js");
`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/project/reexport.js", []byte(`export const greet = 1;`), 0o644))

	out, err := TranslateCJSToESM(context.Background(), "file:///project/lib.js", BuildOptions{
		Core: newTestCore(t),
		FS:   fs,
	})
	require.NoError(t, err)
	require.Contains(t, string(out), `export const greet = mod["greet"];`)
	require.Contains(t, string(out), "export default mod;")
}
