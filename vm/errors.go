package vm

import (
	"github.com/cockroachdb/errors"
)

// ---------------------------------------------------------------------------
// Error kinds
// ---------------------------------------------------------------------------

var (
	// ErrCorruptProgram reports a malformed OCP header or body.
	ErrCorruptProgram = errors.New("corrupt OCP program")

	// ErrStalled reports a run in which rules keep firing without
	// consuming input or producing output.
	ErrStalled = errors.New("ocp program made no progress")

	// ErrIO marks failures of the underlying reader or writer.
	ErrIO = errors.New("ocp i/o error")
)

// corruptf wraps ErrCorruptProgram with context.
func corruptf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrCorruptProgram, format, args...)
}

// ioError marks err as an I/O failure while keeping its own identity.
func ioError(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrIO)
}
