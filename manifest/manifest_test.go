package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/ocp/vm/dialect"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, FileName), `
[project]
name = "omega-latin"
version = "1.0"

[build]
output = "out"
dialect = "omega"
cache = ".ocp/cache.db"

[[source]]
path = "otp/in88593.otp"
output = "latin3.ocp"

[[source]]
path = "otp/quotes.otp"
dialect = "listing"
`)

	m, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "omega-latin", m.Project.Name)
	assert.Equal(t, "1.0", m.Project.Version)
	assert.Equal(t, "omega", m.Build.Dialect)
	require.Len(t, m.Sources, 2)

	abs, err := filepath.Abs(dir)
	require.NoError(t, err)
	assert.Equal(t, abs, m.Dir)
	assert.Equal(t, filepath.Join(abs, "out"), m.OutputDir())
	assert.Equal(t, filepath.Join(abs, ".ocp", "cache.db"), m.CachePath())
	assert.Equal(t, filepath.Join(abs, "otp", "in88593.otp"), m.SourcePath(m.Sources[0]))
	assert.Equal(t, filepath.Join(abs, "out", "latin3.ocp"), m.OutputPath(m.Sources[0]))
	assert.Equal(t, filepath.Join(abs, "out", "quotes.txt"), m.OutputPath(m.Sources[1]))
	assert.Equal(t, "omega", m.DialectFor(m.Sources[0]))
	assert.Equal(t, "listing", m.DialectFor(m.Sources[1]))
}

func TestLoadManifestDefaults(t *testing.T) {
	m, err := Parse([]byte(`
[project]
name = "minimal"

[[source]]
path = "tifinagh.otp"
`))
	require.NoError(t, err)

	assert.Equal(t, "build", m.Build.Output)
	assert.Equal(t, dialect.Default, m.Build.Dialect)
	assert.Empty(t, m.CachePath())

	m.Dir = "/proj"
	assert.Equal(t, filepath.Join("/proj", "build", "tifinagh.ocp"), m.OutputPath(m.Sources[0]))
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("[build]\noutputs = \"x\"\n"))
	assert.True(t, errors.Is(err, ErrInvalid), "%v", err)

	_, err = Parse([]byte("[build\n"))
	assert.Error(t, err)
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	require.NoError(t, os.MkdirAll(subDir, 0o755))
	writeFile(t, filepath.Join(dir, FileName), "[project]\nname = \"found-project\"\n")

	m, err := FindAndLoad(subDir)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "found-project", m.Project.Name)
}

func TestFindAndLoadNotFound(t *testing.T) {
	m, err := FindAndLoad(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.otp"), "expressions: . => \\1;\n")
	writeFile(t, filepath.Join(dir, "b.otp"), "expressions: . => \\1;\n")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.otp"), 0o755))

	tests := []struct {
		name    string
		m       Manifest
		unknown bool
	}{
		{name: "no sources", m: Manifest{Build: Build{Dialect: "native"}}},
		{name: "unknown build dialect", m: Manifest{Build: Build{Dialect: "dvi"}, Sources: []Source{{Path: "a.otp"}}}, unknown: true},
		{name: "unknown source dialect", m: Manifest{Build: Build{Dialect: "native"}, Sources: []Source{{Path: "a.otp", Dialect: "pdf"}}}, unknown: true},
		{name: "empty path", m: Manifest{Build: Build{Dialect: "native"}, Sources: []Source{{}}}},
		{name: "missing source", m: Manifest{Build: Build{Dialect: "native"}, Sources: []Source{{Path: "nope.otp"}}}},
		{name: "directory source", m: Manifest{Build: Build{Dialect: "native"}, Sources: []Source{{Path: "sub.otp"}}}},
		{name: "clashing outputs", m: Manifest{Build: Build{Dialect: "native"}, Sources: []Source{{Path: "a.otp", Output: "x.ocp"}, {Path: "b.otp", Output: "x.ocp"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.m.Dir = dir
			err := tt.m.Validate()
			require.Error(t, err)
			if tt.unknown {
				assert.True(t, errors.Is(err, dialect.ErrUnknownDialect), "%v", err)
			} else {
				assert.True(t, errors.Is(err, ErrInvalid), "%v", err)
			}
		})
	}

	ok := Manifest{Dir: dir, Build: Build{Output: "build", Dialect: "native"}, Sources: []Source{{Path: "a.otp"}, {Path: "b.otp"}}}
	assert.NoError(t, ok.Validate())
}
