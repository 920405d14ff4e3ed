// Package config holds CoreOptions, the one process-wide configuration
// object that is threaded explicitly through every component (spec.md §9:
// "pass them as explicit parameters... never mutated after construction").
package config

import (
	"os"

	"github.com/mstoykov/envconfig"
	"github.com/sirupsen/logrus"

	"github.com/go-modgraph/core/internal/logger"
)

// EnvConfig captures the advisory environment variables named in spec.md
// §6. They are read exactly once at CoreOptions construction time and
// never consulted live from inside a running build.
type EnvConfig struct {
	CacheDir      string `envconfig:"DENO_DIR"`
	NoColor       bool   `envconfig:"NO_COLOR"`
	NoUpdateCheck bool   `envconfig:"DENO_NO_UPDATE_CHECK"`
}

func LoadEnvConfig() (EnvConfig, error) {
	var cfg EnvConfig
	err := envconfig.Process("", &cfg, os.LookupEnv)
	return cfg, err
}

// Permissions is the opaque capability check named in spec.md §1 as an
// external collaborator: its contract is named here, not implemented.
type Permissions interface {
	CheckReadFile(path string) error
	CheckNet(host string) error
}

// AllowAllPermissions is a permissive Permissions implementation useful for
// tests and embedders that enforce their own access control upstream.
type AllowAllPermissions struct{}

func (AllowAllPermissions) CheckReadFile(string) error { return nil }
func (AllowAllPermissions) CheckNet(string) error      { return nil }

// ImportMap is the user-supplied mapping from bare specifier text (or a
// trailing-slash prefix) to a replacement specifier text, consulted before
// URL-relative resolution (spec.md §4.1, GLOSSARY).
type ImportMap struct {
	Imports map[string]string
	Scopes  map[string]map[string]string

	// PackageExports maps a bare specifier prefix (typically a package
	// name, with a trailing "/" for subpath exports) to its package.json
	// "exports" subtree, resolved against a caller-supplied condition
	// order rather than a flat string (spec.md §6).
	PackageExports map[string]map[string]interface{}
}

// CoreOptions is constructed once by the embedder (the CLI, an LSP server,
// etc. — all out of scope here) and passed down unmutated.
type CoreOptions struct {
	RuntimeVersion string
	CacheRoot      string
	Permissions    Permissions
	ImportMap      ImportMap
	Log            *logger.Log
	Logrus         logrus.FieldLogger

	// MaxRedirects bounds specifier canonicalization and fetch redirect
	// following (spec.md §4.1/§4.2). Zero means the spec's default of 10.
	MaxRedirects int

	Env EnvConfig
}

const DefaultMaxRedirects = 10

// NewCoreOptions builds a CoreOptions with the conventional defaults: the
// environment is read once, a permissive Permissions is installed unless
// the caller overrides it, and logging falls back to a discarding logrus
// logger so callers never need a nil check.
func NewCoreOptions(runtimeVersion string) (*CoreOptions, error) {
	env, err := LoadEnvConfig()
	if err != nil {
		return nil, err
	}

	cacheRoot := env.CacheDir
	if cacheRoot == "" {
		cacheRoot = defaultCacheRoot()
	}

	lr := logrus.New()
	if env.NoColor {
		lr.SetFormatter(&logrus.TextFormatter{DisableColors: true})
	}

	return &CoreOptions{
		RuntimeVersion: runtimeVersion,
		CacheRoot:      cacheRoot,
		Permissions:    AllowAllPermissions{},
		Log:            logger.NewLog(),
		Logrus:         lr,
		MaxRedirects:   DefaultMaxRedirects,
		Env:            env,
	}, nil
}

func defaultCacheRoot() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ".modgraph-cache"
	}
	return dir + string(os.PathSeparator) + "modgraph"
}
