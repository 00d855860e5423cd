package compiler

import "github.com/cockroachdb/errors"

// ---------------------------------------------------------------------------
// Lexer: OTP tokens on top of the Scanner
// ---------------------------------------------------------------------------

// Lexer tokenizes OTP source. After a TokenError, Err reports the
// underlying failure.
type Lexer struct {
	s   *Scanner
	err error
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{s: NewScanner(input)}
}

// Err returns the error behind the first TokenError.
func (l *Lexer) Err() error {
	return l.err
}

func (l *Lexer) fail(err error) Token {
	if l.err == nil {
		l.err = err
	}
	var pos Position
	var ce *Error
	if errors.As(err, &ce) {
		pos = ce.Pos
	}
	return Token{Type: TokenError, Literal: err.Error(), Pos: pos}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	r := l.s.SkipSpace()
	pos := l.s.Pos()

	switch {
	case r == EOF:
		return Token{Type: TokenEOF, Pos: pos}

	case r == '=':
		if l.s.Peek() == '>' {
			l.s.Read()
			return Token{Type: TokenArrow, Literal: "=>", Pos: pos}
		}
		return Token{Type: TokenEquals, Literal: "=", Pos: pos}

	case r == '<':
		if l.s.Peek() == '=' {
			l.s.Read()
			return Token{Type: TokenPushback, Literal: "<=", Pos: pos}
		}
		return Token{Type: TokenLAngle, Literal: "<", Pos: pos}

	case r == '`':
		return l.readChar(pos)

	case r == '"':
		return l.readString(pos)

	case r == '@' || (r >= '0' && r <= '9'):
		n, err := l.s.ParseNumber(r)
		if err != nil {
			return l.fail(err)
		}
		return Token{Type: TokenNumber, Literal: l.s.src[pos.Offset:l.s.off], Value: n, Pos: pos}

	case isIdentStart(r):
		id := l.s.ParseID(r)
		if l.s.Peek() == ':' {
			l.s.Read()
			return Token{Type: TokenKeyword, Literal: id + ":", Pos: pos}
		}
		return Token{Type: TokenIdentifier, Literal: id, Pos: pos}
	}

	if t, ok := singleCharTokens[r]; ok {
		return Token{Type: t, Literal: string(r), Pos: pos}
	}
	return l.fail(errorAt(ErrSyntax, pos, "unexpected character %q", r))
}

// readChar reads a backtick-quoted character; the opening quote has been
// consumed.
func (l *Lexer) readChar(pos Position) Token {
	c := l.s.Read()
	if c == EOF {
		return l.fail(errorAt(ErrUnexpectedEOF, pos, "unterminated character literal"))
	}
	switch l.s.Read() {
	case '`':
	case EOF:
		return l.fail(errorAt(ErrUnexpectedEOF, pos, "unterminated character literal"))
	default:
		return l.fail(errorAt(ErrSyntax, pos, "character literal holds more than one character"))
	}
	return Token{Type: TokenChar, Literal: string(c), Value: int(c), Pos: pos}
}

// readString reads a double-quoted string; the opening quote has been
// consumed.
func (l *Lexer) readString(pos Position) Token {
	var buf []rune
	for {
		c := l.s.Read()
		switch c {
		case EOF:
			return l.fail(errorAt(ErrUnexpectedEOF, pos, "unterminated string"))
		case '"':
			return Token{Type: TokenString, Literal: string(buf), Pos: pos}
		}
		buf = append(buf, c)
	}
}

// Tokenize returns all tokens of input, up to and including EOF or the
// first error.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF || tok.Type == TokenError {
			return tokens
		}
	}
}
