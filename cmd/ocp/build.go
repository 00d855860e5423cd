package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/chazu/ocp/buildcache"
	"github.com/chazu/ocp/compiler"
	"github.com/chazu/ocp/manifest"
	"github.com/chazu/ocp/vm"
	"github.com/chazu/ocp/vm/dialect"
)

// ErrNoManifest is returned by build when no ocp.toml is found.
var ErrNoManifest = errors.New("no " + manifest.FileName + " found")

// cmdBuild processes the `ocp build` subcommand.
// Usage:
//
//	ocp build             # project containing the current directory
//	ocp build -C fonts/   # project containing fonts/
func cmdBuild(e *env, args []string) error {
	fs := newFlagSet(e, "build", "[-C dir]")
	dir := fs.String("C", ".", "Directory to search for "+manifest.FileName)
	if err := parseArgs(fs, args, 0); err != nil {
		return err
	}

	m, err := manifest.FindAndLoad(*dir)
	if err != nil {
		return err
	}
	if m == nil {
		return errors.Wrapf(ErrNoManifest, "in %s or any parent", *dir)
	}
	if err := m.Validate(); err != nil {
		return err
	}

	ctx := context.Background()
	var cache *buildcache.Cache
	if path := m.CachePath(); path != "" {
		cache, err = buildcache.Open(ctx, path)
		if err != nil {
			return err
		}
		defer cache.Close()
	}

	if err := os.MkdirAll(m.OutputDir(), 0o755); err != nil {
		return errors.Wrap(err, "creating output directory")
	}

	hits := 0
	for _, s := range m.Sources {
		hit, err := buildSource(ctx, m, s, cache)
		if err != nil {
			return err
		}
		if hit {
			hits++
		}
		if e.verbose > 0 {
			fmt.Fprintf(e.stderr, "%s -> %s\n", s.Path, m.OutputPath(s))
		}
	}

	log.Infof("built %d sources (%d from cache)", len(m.Sources), hits)
	fmt.Fprintf(e.stdout, "Built %d sources (%d cached)\n", len(m.Sources), hits)
	return nil
}

// buildSource compiles one manifest source, consulting cache when it is
// non-nil, and writes the result. It reports whether the program came from
// the cache.
func buildSource(ctx context.Context, m *manifest.Manifest, s manifest.Source, cache *buildcache.Cache) (bool, error) {
	path := m.SourcePath(s)
	src, err := os.ReadFile(path)
	if err != nil {
		return false, errors.Wrapf(err, "read %s", s.Path)
	}

	var (
		p   *vm.Program
		hit bool
		key = buildcache.Key(src)
	)
	if cache != nil {
		p, hit, err = cache.Program(ctx, key)
		if err != nil {
			return false, err
		}
	}
	if !hit {
		p, err = compiler.Compile(string(src))
		if err != nil {
			return false, &sourceError{path: s.Path, err: err}
		}
		if cache != nil {
			if err := cache.PutProgram(ctx, key, p); err != nil {
				return false, err
			}
		}
	}

	data, err := dialect.Encode(m.DialectFor(s), p)
	if err != nil {
		return false, errors.Wrapf(err, "encode %s", s.Path)
	}
	out := m.OutputPath(s)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return false, errors.Wrap(err, "creating output directory")
	}
	if err := vm.WriteFileAtomic(out, data); err != nil {
		return false, err
	}
	return hit, nil
}
