package main

import (
	"bytes"
	"os"

	"github.com/cockroachdb/errors"

	"github.com/chazu/ocp/server"
	"github.com/chazu/ocp/vm"
)

// ---------------------------------------------------------------------------
// ocp run
// ---------------------------------------------------------------------------

func cmdRun(e *env, args []string) error {
	fs := newFlagSet(e, "run", "[-i in] [-o out] program.ocp")
	inPath := fs.String("i", "", "Input file (default: stdin)")
	outPath := fs.String("o", "", "Output file (default: stdout)")
	if err := parseArgs(fs, args, 1); err != nil {
		return err
	}

	p, err := loadProgram(fs.Arg(0))
	if err != nil {
		return err
	}

	in := e.stdin
	if *inPath != "" {
		f, err := os.Open(*inPath)
		if err != nil {
			return errors.Wrapf(err, "open %s", *inPath)
		}
		defer f.Close()
		in = f
	}

	cur := vm.Run(p, in)
	if *outPath == "" {
		_, err := cur.WriteTo(e.stdout)
		return err
	}

	// A failed run must leave any previous output file in place.
	var buf bytes.Buffer
	n, err := cur.WriteTo(&buf)
	if err != nil {
		return err
	}
	if err := vm.WriteFileAtomic(*outPath, buf.Bytes()); err != nil {
		return err
	}
	log.Infof("wrote %d bytes to %s", n, *outPath)
	return nil
}

// ---------------------------------------------------------------------------
// ocp lsp
// ---------------------------------------------------------------------------

func cmdLSP(e *env, args []string) error {
	fs := newFlagSet(e, "lsp", "")
	if err := parseArgs(fs, args, 0); err != nil {
		return err
	}
	return server.NewLSP().Run()
}
