// Package manifest handles ocp.toml project configuration.
package manifest

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/chazu/ocp/vm/dialect"
	"github.com/cockroachdb/errors"
)

// FileName is the name of the manifest file.
const FileName = "ocp.toml"

// ErrInvalid marks manifests that parse but cannot be built.
var ErrInvalid = errors.New("invalid manifest")

// Manifest represents an ocp.toml project configuration.
type Manifest struct {
	Project Project  `toml:"project"`
	Build   Build    `toml:"build"`
	Sources []Source `toml:"source"`

	// Dir is the directory containing the ocp.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Build configures where and how programs are written.
type Build struct {
	Output  string `toml:"output"`
	Dialect string `toml:"dialect"`
	Cache   string `toml:"cache"`
}

// Source is one OTP file to compile.
type Source struct {
	Path    string `toml:"path"`
	Output  string `toml:"output"`
	Dialect string `toml:"dialect"`
}

// Load parses an ocp.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read %s", path)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parse error in %s", path)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot resolve path %s", dir)
	}
	return m, nil
}

// Parse decodes manifest text and fills in defaults. Dir is left empty.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Wrapf(ErrInvalid, "unknown key %s", undecoded[0])
	}

	// Defaults
	if m.Build.Output == "" {
		m.Build.Output = "build"
	}
	if m.Build.Dialect == "" {
		m.Build.Dialect = dialect.Default
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find an ocp.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks that every source exists, every dialect is known and no
// two sources write the same output.
func (m *Manifest) Validate() error {
	if len(m.Sources) == 0 {
		return errors.Wrap(ErrInvalid, "no [[source]] entries")
	}
	if _, err := dialect.Lookup(m.Build.Dialect); err != nil {
		return errors.Wrap(err, "[build] dialect")
	}

	outputs := make(map[string]string, len(m.Sources))
	for i, s := range m.Sources {
		if s.Path == "" {
			return errors.Wrapf(ErrInvalid, "source %d has no path", i+1)
		}
		if s.Dialect != "" {
			if _, err := dialect.Lookup(s.Dialect); err != nil {
				return errors.Wrapf(err, "source %s", s.Path)
			}
		}
		info, err := os.Stat(m.SourcePath(s))
		if err != nil {
			return errors.Wrapf(ErrInvalid, "source %s: %v", s.Path, err)
		}
		if info.IsDir() {
			return errors.Wrapf(ErrInvalid, "source %s is a directory", s.Path)
		}
		out := m.OutputPath(s)
		if prev, dup := outputs[out]; dup {
			return errors.Wrapf(ErrInvalid, "sources %s and %s both write %s", prev, s.Path, out)
		}
		outputs[out] = s.Path
	}
	return nil
}

// OutputDir returns the absolute build output directory.
func (m *Manifest) OutputDir() string {
	return m.resolve(m.Build.Output)
}

// CachePath returns the absolute path of the build cache, or "" when
// caching is disabled.
func (m *Manifest) CachePath() string {
	if m.Build.Cache == "" {
		return ""
	}
	return m.resolve(m.Build.Cache)
}

// SourcePath returns the absolute path of a source file.
func (m *Manifest) SourcePath(s Source) string {
	return m.resolve(s.Path)
}

// OutputPath returns where the compiled form of s is written. Without an
// explicit output it is the source's base name with the extension of its
// dialect.
func (m *Manifest) OutputPath(s Source) string {
	name := s.Output
	if name == "" {
		base := filepath.Base(s.Path)
		name = strings.TrimSuffix(base, filepath.Ext(base)) + dialect.Extension(m.DialectFor(s))
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(m.OutputDir(), name)
}

// DialectFor returns the dialect s is written in.
func (m *Manifest) DialectFor(s Source) string {
	if s.Dialect != "" {
		return s.Dialect
	}
	return m.Build.Dialect
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
