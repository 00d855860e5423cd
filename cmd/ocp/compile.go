package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/chazu/ocp/compiler"
	"github.com/chazu/ocp/vm"
	"github.com/chazu/ocp/vm/dialect"
)

// sourceError prefixes a compile error with the file it came from, giving
// the usual file:line:col: kind: message form.
type sourceError struct {
	path string
	err  error
}

func (e *sourceError) Error() string {
	var ce *compiler.Error
	if errors.As(e.err, &ce) && ce.Pos.Line > 0 {
		return e.path + ":" + e.err.Error()
	}
	return e.path + ": " + e.err.Error()
}

func (e *sourceError) Unwrap() error {
	return e.err
}

// compileSource compiles one OTP file.
func compileSource(path string) (*vm.Program, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	p, err := compiler.Compile(string(src))
	if err != nil {
		return nil, &sourceError{path: path, err: err}
	}
	return p, nil
}

// loadProgram returns the program in path: OTP sources are compiled,
// anything else is loaded as a native OCP file.
func loadProgram(path string) (*vm.Program, error) {
	if strings.EqualFold(filepath.Ext(path), ".otp") {
		return compileSource(path)
	}
	p, err := vm.LoadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return p, nil
}

// ---------------------------------------------------------------------------
// ocp compile
// ---------------------------------------------------------------------------

func cmdCompile(e *env, args []string) error {
	fs := newFlagSet(e, "compile", "[-o out] [-dialect name] file.otp")
	out := fs.String("o", "", "Output file (default: source name with the dialect's extension)")
	name := fs.String("dialect", dialect.Default, "Output dialect: "+strings.Join(dialect.Names(), ", "))
	if err := parseArgs(fs, args, 1); err != nil {
		return err
	}
	src := fs.Arg(0)

	if _, err := dialect.Lookup(*name); err != nil {
		return err
	}

	p, err := compileSource(src)
	if err != nil {
		return err
	}
	data, err := dialect.Encode(*name, p)
	if err != nil {
		return err
	}

	dst := *out
	if dst == "" {
		dst = strings.TrimSuffix(src, filepath.Ext(src)) + dialect.Extension(*name)
	}
	if err := vm.WriteFileAtomic(dst, data); err != nil {
		return err
	}

	log.Infof("compiled %s to %s (%s)", src, dst, *name)
	if e.verbose > 0 {
		fmt.Fprintf(e.stderr, "%s: %d states, %d tables, %d instructions -> %s\n",
			src, len(p.States), len(p.Tables), p.InstructionCount(), dst)
	}
	return nil
}

// ---------------------------------------------------------------------------
// ocp dump
// ---------------------------------------------------------------------------

func cmdDump(e *env, args []string) error {
	fs := newFlagSet(e, "dump", "[-dialect name] file.ocp")
	name := fs.String("dialect", "listing", "Dialect to render: "+strings.Join(dialect.Names(), ", "))
	if err := parseArgs(fs, args, 1); err != nil {
		return err
	}

	p, err := loadProgram(fs.Arg(0))
	if err != nil {
		return err
	}
	data, err := dialect.Encode(*name, p)
	if err != nil {
		return err
	}
	if _, err := e.stdout.Write(data); err != nil {
		return errors.Wrap(err, "write output")
	}
	return nil
}
