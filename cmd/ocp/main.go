// OCP CLI - compiles OTP sources and runs OCP programs
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("ocp.cli")

// errUsage is returned for malformed command lines; the message has
// already been printed.
var errUsage = errors.New("usage error")

// verbosity is a repeatable -v flag.
type verbosity int

func (v *verbosity) String() string { return strconv.Itoa(int(*v)) }

func (v *verbosity) Set(s string) error {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	if b {
		*v++
	}
	return nil
}

func (v *verbosity) IsBoolFlag() bool { return true }

// env carries the streams a command reads and writes.
type env struct {
	stdin          io.Reader
	stdout, stderr io.Writer
	verbose        int
}

type command struct {
	name    string
	summary string
	run     func(e *env, args []string) error
}

var commands = []command{
	{"compile", "compile an OTP source into an OCP program", cmdCompile},
	{"dump", "render an OCP program in another dialect", cmdDump},
	{"run", "translate a byte stream through a program", cmdRun},
	{"build", "compile every source listed in ocp.toml", cmdBuild},
	{"lsp", "start the language server on stdio", cmdLSP},
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes one command line and returns the process exit code.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ocp", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var v verbosity
	fs.Var(&v, "v", "Verbose output (repeat for more)")
	fs.Usage = func() { usage(stderr, fs) }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	commonlog.Configure(int(v), nil)

	rest := fs.Args()
	if len(rest) == 0 {
		usage(stderr, fs)
		return 2
	}
	e := &env{stdin: stdin, stdout: stdout, stderr: stderr, verbose: int(v)}
	for _, c := range commands {
		if c.name != rest[0] {
			continue
		}
		err := c.run(e, rest[1:])
		switch {
		case err == nil:
			return 0
		case errors.Is(err, errUsage):
			return 2
		case errors.Is(err, flag.ErrHelp):
			return 0
		}
		fmt.Fprintf(stderr, "ocp %s: %v\n", c.name, err)
		return 1
	}
	fmt.Fprintf(stderr, "ocp: unknown command %q\n", rest[0])
	usage(stderr, fs)
	return 2
}

func usage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, "Usage: ocp [-v] <command> [options] [args]\n\n")
	fmt.Fprintf(w, "Commands:\n")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-8s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(w, "\nOptions:\n")
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintf(w, "\nExamples:\n")
	fmt.Fprintf(w, "  ocp compile -o latin3.ocp in88593.otp   # Compile one source\n")
	fmt.Fprintf(w, "  ocp dump -dialect omega latin3.ocp      # Show the Omega word container\n")
	fmt.Fprintf(w, "  ocp run -i page.txt latin3.ocp          # Translate a file to stdout\n")
	fmt.Fprintf(w, "  ocp build -C fonts/                     # Build the project in fonts/\n")
}

// newFlagSet creates a subcommand flag set that reports errors on stderr.
func newFlagSet(e *env, name, synopsis string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	fs.Usage = func() {
		fmt.Fprintf(e.stderr, "Usage: ocp %s %s\n", name, synopsis)
		fs.PrintDefaults()
	}
	return fs
}

// parseArgs parses subcommand flags and checks the positional count.
func parseArgs(fs *flag.FlagSet, args []string, want int) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return errUsage
	}
	if fs.NArg() != want {
		fs.Usage()
		return errUsage
	}
	return nil
}
