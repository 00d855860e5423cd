package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Token types for the OTP lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Literals
	TokenNumber     // 42, @"2D30, @'17
	TokenChar       // `a`
	TokenString     // "ffi"
	TokenIdentifier // latin, VERBATIM
	TokenKeyword    // input:, expressions:, push:, div:

	// Operators
	TokenArrow    // =>
	TokenPushback // <=

	// Delimiters
	TokenLParen    // (
	TokenRParen    // )
	TokenLBrace    // {
	TokenRBrace    // }
	TokenLBracket  // [
	TokenRBracket  // ]
	TokenLAngle    // <
	TokenRAngle    // >
	TokenComma     // ,
	TokenSemicolon // ;
	TokenEquals    // =
	TokenBar       // |
	TokenCaret     // ^
	TokenPeriod    // .
	TokenMinus     // -
	TokenPlus      // +
	TokenStar      // *
	TokenHash      // #
	TokenBackslash // \
	TokenDollar    // $
)

var tokenNames = map[TokenType]string{
	TokenEOF:        "EOF",
	TokenError:      "ERROR",
	TokenNumber:     "NUMBER",
	TokenChar:       "CHAR",
	TokenString:     "STRING",
	TokenIdentifier: "IDENTIFIER",
	TokenKeyword:    "KEYWORD",
	TokenArrow:      "=>",
	TokenPushback:   "<=",
	TokenLParen:     "(",
	TokenRParen:     ")",
	TokenLBrace:     "{",
	TokenRBrace:     "}",
	TokenLBracket:   "[",
	TokenRBracket:   "]",
	TokenLAngle:     "<",
	TokenRAngle:     ">",
	TokenComma:      ",",
	TokenSemicolon:  ";",
	TokenEquals:     "=",
	TokenBar:        "|",
	TokenCaret:      "^",
	TokenPeriod:     ".",
	TokenMinus:      "-",
	TokenPlus:       "+",
	TokenStar:       "*",
	TokenHash:       "#",
	TokenBackslash:  "\\",
	TokenDollar:     "$",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string   // raw text; decoded contents for strings
	Value   int      // numbers and backtick characters
	Pos     Position // start position
}

func (t Token) String() string {
	switch t.Type {
	case TokenEOF:
		return "EOF"
	case TokenError:
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	}
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}

// Section and rule keywords.
const (
	KeywordInput       = "input:"
	KeywordOutput      = "output:"
	KeywordTables      = "tables:"
	KeywordStates      = "states:"
	KeywordAliases     = "aliases:"
	KeywordExpressions = "expressions:"
	KeywordBeg         = "beg:"
	KeywordEnd         = "end:"
	KeywordPush        = "push:"
	KeywordPop         = "pop:"
	KeywordDiv         = "div:"
	KeywordMod         = "mod:"
)

// SectionKeywords lists the keywords that may start a top-level section.
var SectionKeywords = []string{
	KeywordInput, KeywordOutput, KeywordTables, KeywordStates, KeywordAliases, KeywordExpressions,
}

var singleCharTokens = map[rune]TokenType{
	'(':  TokenLParen,
	')':  TokenRParen,
	'{':  TokenLBrace,
	'}':  TokenRBrace,
	'[':  TokenLBracket,
	']':  TokenRBracket,
	'>':  TokenRAngle,
	',':  TokenComma,
	';':  TokenSemicolon,
	'|':  TokenBar,
	'^':  TokenCaret,
	'.':  TokenPeriod,
	'-':  TokenMinus,
	'+':  TokenPlus,
	'*':  TokenStar,
	'#':  TokenHash,
	'\\': TokenBackslash,
	'$':  TokenDollar,
}
