package compiler

import (
	"math"
	"unicode"
	"unicode/utf8"
)

// EOF is returned by the scanner at end of input.
const EOF rune = -1

// ---------------------------------------------------------------------------
// Scanner: character reader with one rune of pushback
// ---------------------------------------------------------------------------

// Scanner reads OTP source one rune at a time and keeps track of positions
// for diagnostics.
type Scanner struct {
	src  string
	off  int // byte offset of the next rune
	line int // position of the next rune
	col  int

	last Position // position of the rune last returned
	prev Position // last, before that rune was read

	pending     bool
	pendingRune rune
	pendingPos  Position
}

// NewScanner creates a scanner over src.
func NewScanner(src string) *Scanner {
	return &Scanner{src: src, line: 1, col: 1}
}

func (s *Scanner) here() Position {
	return Position{Offset: s.off, Line: s.line, Column: s.col}
}

// Pos returns the position of the rune most recently returned by Read or
// SkipSpace.
func (s *Scanner) Pos() Position {
	return s.last
}

// Read returns the next rune, or EOF.
func (s *Scanner) Read() rune {
	s.prev = s.last
	if s.pending {
		s.pending = false
		s.last = s.pendingPos
		return s.pendingRune
	}
	s.last = s.here()
	if s.off >= len(s.src) {
		return EOF
	}
	r, size := utf8.DecodeRuneInString(s.src[s.off:])
	s.off += size
	if r == '\n' {
		s.line++
		s.col = 1
	} else {
		s.col++
	}
	return r
}

// Peek returns the next rune without consuming it.
func (s *Scanner) Peek() rune {
	if s.pending {
		return s.pendingRune
	}
	if s.off >= len(s.src) {
		return EOF
	}
	r, _ := utf8.DecodeRuneInString(s.src[s.off:])
	return r
}

// Unread pushes r back so the next Read returns it again. Only one rune can
// be pending; a second Unread before the next Read panics.
func (s *Scanner) Unread(r rune) {
	if s.pending {
		panic("compiler: Scanner.Unread with a rune already pending")
	}
	s.pending = true
	s.pendingRune = r
	s.pendingPos = s.last
	s.last = s.prev
}

// SkipSpace skips blanks and % comments and returns the next rune, or EOF.
func (s *Scanner) SkipSpace() rune {
	for {
		r := s.Read()
		switch {
		case r == '%':
			for r != '\n' && r != EOF {
				r = s.Read()
			}
			if r == EOF {
				return EOF
			}
		case r == EOF:
			return EOF
		case !unicode.IsSpace(r):
			return r
		}
	}
}

// Expect skips blanks and consumes c.
func (s *Scanner) Expect(c rune) error {
	r := s.SkipSpace()
	switch r {
	case c:
		return nil
	case EOF:
		return errorAt(ErrUnexpectedEOF, s.Pos(), "expected %q", c)
	}
	return errorAt(ErrSyntax, s.Pos(), "expected %q, got %q", c, r)
}

// ParseID reads an identifier whose first rune has already been read.
func (s *Scanner) ParseID(first rune) string {
	buf := []rune{first}
	for isIdentRune(s.Peek()) {
		buf = append(buf, s.Read())
	}
	return string(buf)
}

// ParseNumber reads a number whose first rune has already been read:
// decimal digits, @"hex or @'octal.
func (s *Scanner) ParseNumber(first rune) (int, error) {
	start := s.Pos()
	base := 10
	if first == '@' {
		switch s.Read() {
		case '"':
			base = 16
		case '\'':
			base = 8
		case EOF:
			return 0, errorAt(ErrUnexpectedEOF, start, "number prefix @ at end of file")
		default:
			return 0, errorAt(ErrSyntax, start, `expected @" or @' number prefix`)
		}
		first = s.Read()
	}

	if digitValue(first) >= base {
		if first == EOF {
			return 0, errorAt(ErrUnexpectedEOF, start, "number has no digits")
		}
		return 0, errorAt(ErrSyntax, start, "number has no digits")
	}
	n := digitValue(first)
	for digitValue(s.Peek()) < base {
		n = n*base + digitValue(s.Read())
		if n > math.MaxUint32 {
			return 0, errorAt(ErrArgumentTooBig, start, "number exceeds 32 bits")
		}
	}
	return n, nil
}

func digitValue(r rune) int {
	switch {
	case r >= '0' && r <= '9':
		return int(r - '0')
	case r >= 'a' && r <= 'f':
		return int(r-'a') + 10
	case r >= 'A' && r <= 'F':
		return int(r-'A') + 10
	}
	return 99
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
