package compiler

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ---------------------------------------------------------------------------
// Error kinds
// ---------------------------------------------------------------------------

var (
	ErrSyntax                 = errors.New("syntax error")
	ErrUnexpectedEOF          = errors.New("unexpected end of file")
	ErrUndefinedAlias         = errors.New("undefined alias")
	ErrDuplicateAlias         = errors.New("duplicate alias")
	ErrDuplicateTable         = errors.New("duplicate table")
	ErrCyclicAlias            = errors.New("cyclic alias")
	ErrInvalidRange           = errors.New("invalid range")
	ErrArgumentTooBig         = errors.New("argument too big")
	ErrUndefinedBackReference = errors.New("undefined back reference")
	ErrUndefinedState         = errors.New("undefined state")
	ErrUndefinedTable         = errors.New("undefined table")
	ErrAlreadyCompiled        = errors.New("compiler already used")
)

// Error is a compile failure at a source position. Kind is one of the
// sentinel errors above, so errors.Is(err, ErrSyntax) and friends work on
// any error the compiler returns.
type Error struct {
	Kind error
	Pos  Position
	Msg  string
}

func (e *Error) Error() string {
	if e.Pos.Line == 0 {
		return fmt.Sprintf("%v: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("%d:%d: %v: %s", e.Pos.Line, e.Pos.Column, e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func errorAt(kind error, pos Position, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// withPos fills in the position of a compiler error that has none.
func withPos(err error, pos Position) error {
	var ce *Error
	if errors.As(err, &ce) && ce.Pos.Line == 0 {
		ce.Pos = pos
	}
	return err
}
