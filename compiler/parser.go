package compiler

import (
	"github.com/chazu/ocp/vm"
)

// ---------------------------------------------------------------------------
// Parser: Recursive descent parser for OTP source
// ---------------------------------------------------------------------------

// Parser parses OTP source into a Compiler. Parsing stops at the first
// error.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
	c         *Compiler
}

// NewParser creates a parser that declares into a fresh Compiler.
func NewParser(input string) *Parser {
	return NewParserFor(New(), input)
}

// NewParserFor creates a parser that declares into c.
func NewParserFor(c *Compiler, input string) *Parser {
	p := &Parser{lexer: NewLexer(input), c: c}
	// Read two tokens to fill curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// Compiler returns the compiler the parser declares into.
func (p *Parser) Compiler() *Compiler {
	return p.c
}

// Parse parses a complete OTP file. The returned compiler holds everything
// declared before any error, which is enough for editor tooling.
func Parse(src string) (*Compiler, error) {
	p := NewParser(src)
	err := p.ParseFile()
	return p.c, err
}

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	if p.curToken.Type == TokenError {
		p.peekToken = p.curToken
		return
	}
	p.peekToken = p.lexer.NextToken()
}

func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

func (p *Parser) curKeywordIs(kw string) bool {
	return p.curToken.Type == TokenKeyword && p.curToken.Literal == kw
}

// unexpected builds the error for the current token.
func (p *Parser) unexpected(want string) error {
	switch p.curToken.Type {
	case TokenError:
		return p.lexer.Err()
	case TokenEOF:
		return errorAt(ErrUnexpectedEOF, p.curToken.Pos, "expected %s", want)
	}
	return errorAt(ErrSyntax, p.curToken.Pos, "expected %s, got %s", want, p.curToken)
}

// expect consumes a token of type t.
func (p *Parser) expect(t TokenType) error {
	if !p.curTokenIs(t) {
		return p.unexpected(t.String())
	}
	p.nextToken()
	return nil
}

func (p *Parser) expectIdent() (Token, error) {
	tok := p.curToken
	if err := p.expect(TokenIdentifier); err != nil {
		return tok, err
	}
	return tok, nil
}

// expectNumber consumes a number or backtick character.
func (p *Parser) expectNumber() (Token, error) {
	tok := p.curToken
	if tok.Type != TokenNumber && tok.Type != TokenChar {
		return tok, p.unexpected("number")
	}
	p.nextToken()
	return tok, nil
}

// ---------------------------------------------------------------------------
// Top-level parsing
// ---------------------------------------------------------------------------

// ParseFile parses headers, sections and rules up to end of input.
func (p *Parser) ParseFile() error {
	for !p.curTokenIs(TokenEOF) {
		if !p.curTokenIs(TokenKeyword) {
			return p.unexpected("section keyword")
		}
		kw := p.curToken
		p.nextToken()

		var err error
		switch kw.Literal {
		case KeywordInput, KeywordOutput:
			err = p.parseArity(kw)
		case KeywordTables:
			for p.curTokenIs(TokenIdentifier) && err == nil {
				err = p.parseTable()
			}
		case KeywordStates:
			err = p.parseStates()
		case KeywordAliases:
			for p.curTokenIs(TokenIdentifier) && err == nil {
				err = p.parseAlias()
			}
		case KeywordExpressions:
			for !p.curTokenIs(TokenEOF) && err == nil {
				err = p.parseRule()
			}
		default:
			err = errorAt(ErrSyntax, kw.Pos, "unknown section %s", kw.Literal)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Parser) parseArity(kw Token) error {
	n, err := p.expectNumber()
	if err != nil {
		return err
	}
	if kw.Literal == KeywordInput {
		err = p.c.SetInputArity(n.Value)
	} else {
		err = p.c.SetOutputArity(n.Value)
	}
	if err != nil {
		return withPos(err, n.Pos)
	}
	return p.expect(TokenSemicolon)
}

// parseTable parses name[size] = { v, v, ... };
func (p *Parser) parseTable() error {
	name, err := p.expectIdent()
	if err != nil {
		return err
	}
	if err := p.expect(TokenLBracket); err != nil {
		return err
	}
	size, err := p.expectNumber()
	if err != nil {
		return err
	}
	if err := p.expect(TokenRBracket); err != nil {
		return err
	}
	if err := p.expect(TokenEquals); err != nil {
		return err
	}
	if err := p.expect(TokenLBrace); err != nil {
		return err
	}
	var values []int
	for {
		v, err := p.expectNumber()
		if err != nil {
			return err
		}
		values = append(values, v.Value)
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	if err := p.expect(TokenRBrace); err != nil {
		return err
	}
	if len(values) != size.Value {
		return errorAt(ErrSyntax, size.Pos, "table %s declares %d entries but lists %d", name.Literal, size.Value, len(values))
	}
	if err := p.c.DeclareTable(name.Literal, values); err != nil {
		return withPos(err, name.Pos)
	}
	return p.expect(TokenSemicolon)
}

// parseStates parses NAME, NAME, ... ;
func (p *Parser) parseStates() error {
	for {
		name, err := p.expectIdent()
		if err != nil {
			return err
		}
		if _, err := p.c.DeclareState(name.Literal); err != nil {
			return withPos(err, name.Pos)
		}
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	return p.expect(TokenSemicolon)
}

// parseAlias parses name = leftlist ;
func (p *Parser) parseAlias() error {
	name, err := p.expectIdent()
	if err != nil {
		return err
	}
	if err := p.expect(TokenEquals); err != nil {
		return err
	}
	left, err := p.ParseLeftList()
	if err != nil {
		return err
	}
	if err := p.c.DeclareAlias(name.Literal, left); err != nil {
		return withPos(err, name.Pos)
	}
	return p.expect(TokenSemicolon)
}

// ---------------------------------------------------------------------------
// Rules
// ---------------------------------------------------------------------------

// parseRule parses [<S>] [beg:] leftlist [end:] => right* [<= right*] [stateop] ;
func (p *Parser) parseRule() error {
	r := Rule{Pos: p.curToken.Pos}

	if p.curTokenIs(TokenLAngle) {
		p.nextToken()
		name, err := p.expectIdent()
		if err != nil {
			return err
		}
		if err := p.expect(TokenRAngle); err != nil {
			return err
		}
		r.State = name.Literal
	}
	if p.curKeywordIs(KeywordBeg) {
		r.Begin = true
		p.nextToken()
	}

	left, err := p.ParseLeftList()
	if err != nil {
		return err
	}
	r.Left = left

	if p.curKeywordIs(KeywordEnd) {
		r.End = true
		p.nextToken()
	}
	if err := p.expect(TokenArrow); err != nil {
		return err
	}

	if r.Output, err = p.parseRights(); err != nil {
		return err
	}
	if p.curTokenIs(TokenPushback) {
		p.nextToken()
		if r.Pushback, err = p.parseRights(); err != nil {
			return err
		}
	}
	if p.curTokenIs(TokenLAngle) {
		if r.Next, err = p.parseStateOp(); err != nil {
			return err
		}
	}
	if err := p.expect(TokenSemicolon); err != nil {
		return err
	}
	return p.c.AddRule(r)
}

// parseStateOp parses <S>, <push: S> or <pop:>.
func (p *Parser) parseStateOp() (StateOp, error) {
	op := StateOp{Pos: p.curToken.Pos}
	p.nextToken() // <
	switch {
	case p.curKeywordIs(KeywordPush):
		p.nextToken()
		op.Kind = StatePush
	case p.curKeywordIs(KeywordPop):
		p.nextToken()
		op.Kind = StatePop
	default:
		op.Kind = StateSwitch
	}
	if op.Kind != StatePop {
		name, err := p.expectIdent()
		if err != nil {
			return op, err
		}
		op.Name = name.Literal
	}
	return op, p.expect(TokenRAngle)
}

func (p *Parser) parseRights() ([]Right, error) {
	var out []Right
	for {
		switch p.curToken.Type {
		case TokenSemicolon, TokenPushback, TokenLAngle:
			return out, nil
		}
		rights, err := p.parseRight()
		if err != nil {
			return nil, err
		}
		out = append(out, rights...)
	}
}

// parseRight parses one output item. Strings expand to one item per
// character.
func (p *Parser) parseRight() ([]Right, error) {
	tok := p.curToken
	switch tok.Type {
	case TokenNumber, TokenChar:
		p.nextToken()
		return []Right{{Kind: RightConst, Value: tok.Value, Pos: tok.Pos}}, nil

	case TokenString:
		p.nextToken()
		var out []Right
		for i, r := range []rune(tok.Literal) {
			pos := tok.Pos
			pos.Column += i + 1
			out = append(out, Right{Kind: RightConst, Value: int(r), Pos: pos})
		}
		return out, nil

	case TokenBackslash:
		p.nextToken()
		switch p.curToken.Type {
		case TokenNumber:
			n := p.curToken
			p.nextToken()
			return []Right{{Kind: RightCapture, Value: n.Value, Pos: tok.Pos}}, nil
		case TokenDollar:
			p.nextToken()
			return []Right{{Kind: RightLast, Pos: tok.Pos}}, nil
		case TokenLParen:
			r, err := p.parseSlice(tok.Pos)
			return []Right{r}, err
		}
		return nil, p.unexpected(`\N, \$ or \(*...)`)

	case TokenHash:
		p.nextToken()
		if err := p.expect(TokenLParen); err != nil {
			return nil, err
		}
		a, err := p.parseArith()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return []Right{{Kind: RightExpr, Expr: a, Pos: tok.Pos}}, nil
	}
	return nil, p.unexpected("output item")
}

// parseSlice parses (*+front-back) after a backslash.
func (p *Parser) parseSlice(pos Position) (Right, error) {
	r := Right{Kind: RightSlice, Pos: pos}
	p.nextToken() // (
	if err := p.expect(TokenStar); err != nil {
		return r, err
	}
	if p.curTokenIs(TokenPlus) {
		p.nextToken()
		n, err := p.expectNumber()
		if err != nil {
			return r, err
		}
		r.Front = n.Value
	}
	if p.curTokenIs(TokenMinus) {
		p.nextToken()
		n, err := p.expectNumber()
		if err != nil {
			return r, err
		}
		r.Back = n.Value
	}
	return r, p.expect(TokenRParen)
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

func (p *Parser) parseArith() (*Arith, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.curTokenIs(TokenPlus) || p.curTokenIs(TokenMinus) {
		op := vm.ExprAdd
		if p.curTokenIs(TokenMinus) {
			op = vm.ExprSub
		}
		pos := p.curToken.Pos
		p.nextToken()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &Arith{Kind: ArithBinary, Op: op, L: left, R: right, Pos: pos}
	}
	return left, nil
}

func (p *Parser) parseTerm() (*Arith, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for {
		var op vm.ExprOpcode
		switch {
		case p.curTokenIs(TokenStar):
			op = vm.ExprMul
		case p.curKeywordIs(KeywordDiv):
			op = vm.ExprDiv
		case p.curKeywordIs(KeywordMod):
			op = vm.ExprMod
		default:
			return left, nil
		}
		pos := p.curToken.Pos
		p.nextToken()
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = &Arith{Kind: ArithBinary, Op: op, L: left, R: right, Pos: pos}
	}
}

func (p *Parser) parseFactor() (*Arith, error) {
	tok := p.curToken
	switch tok.Type {
	case TokenNumber, TokenChar:
		p.nextToken()
		return &Arith{Kind: ArithConst, Value: tok.Value, Pos: tok.Pos}, nil

	case TokenBackslash:
		p.nextToken()
		switch p.curToken.Type {
		case TokenNumber:
			n := p.curToken
			p.nextToken()
			return &Arith{Kind: ArithCapture, Value: n.Value, Pos: tok.Pos}, nil
		case TokenDollar:
			p.nextToken()
			return &Arith{Kind: ArithLast, Pos: tok.Pos}, nil
		}
		return nil, p.unexpected(`\N or \$`)

	case TokenIdentifier:
		p.nextToken()
		if err := p.expect(TokenLBracket); err != nil {
			return nil, err
		}
		index, err := p.parseArith()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokenRBracket); err != nil {
			return nil, err
		}
		return &Arith{Kind: ArithLookup, Table: tok.Literal, L: index, Pos: tok.Pos}, nil

	case TokenLParen:
		p.nextToken()
		a, err := p.parseArith()
		if err != nil {
			return nil, err
		}
		return a, p.expect(TokenRParen)
	}
	return nil, p.unexpected("arithmetic operand")
}

// ---------------------------------------------------------------------------
// Left patterns
// ---------------------------------------------------------------------------

// ParseLeft parses one pattern item with its optional repetition suffix.
func (p *Parser) ParseLeft() (NodeID, error) {
	a := p.c.Arena()
	tok := p.curToken
	var id NodeID

	switch tok.Type {
	case TokenLParen:
		p.nextToken()
		inner, err := p.ParseOrList()
		if err != nil {
			return NoNode, err
		}
		if err := p.expect(TokenRParen); err != nil {
			return NoNode, err
		}
		id = inner

	case TokenLBrace:
		p.nextToken()
		name, err := p.expectIdent()
		if err != nil {
			return NoNode, err
		}
		if err := p.expect(TokenRBrace); err != nil {
			return NoNode, err
		}
		id = a.Alias(name.Literal, tok.Pos)

	case TokenCaret:
		p.nextToken()
		if err := p.expect(TokenLParen); err != nil {
			return NoNode, err
		}
		inner, err := p.ParseOrList()
		if err != nil {
			return NoNode, err
		}
		if err := p.expect(TokenRParen); err != nil {
			return NoNode, err
		}
		id = a.Not(inner, tok.Pos)

	case TokenPeriod:
		p.nextToken()
		id = a.Point(tok.Pos)

	case TokenNumber, TokenChar:
		p.nextToken()
		if p.curTokenIs(TokenMinus) {
			p.nextToken()
			hi, err := p.expectNumber()
			if err != nil {
				return NoNode, err
			}
			if tok.Value > hi.Value {
				return NoNode, errorAt(ErrInvalidRange, tok.Pos, "range %s-%s is empty", tok.Literal, hi.Literal)
			}
			id = a.Range(tok.Value, hi.Value, tok.Pos)
		} else {
			id = a.Constant(tok.Value, tok.Pos)
		}

	case TokenString:
		p.nextToken()
		runes := []rune(tok.Literal)
		if len(runes) == 0 {
			return NoNode, errorAt(ErrSyntax, tok.Pos, "empty string in pattern")
		}
		items := make([]NodeID, len(runes))
		for i, r := range runes {
			pos := tok.Pos
			pos.Column += i + 1
			items[i] = a.Constant(int(r), pos)
		}
		if len(items) == 1 {
			id = items[0]
		} else {
			id = a.Sequence(items, tok.Pos)
		}

	default:
		return NoNode, p.unexpected("pattern")
	}

	if p.curTokenIs(TokenLAngle) {
		return p.parseRepetition(id)
	}
	return id, nil
}

// parseRepetition parses <from,to> or <from,> after a pattern item.
func (p *Parser) parseRepetition(body NodeID) (NodeID, error) {
	pos := p.curToken.Pos
	p.nextToken()
	from, err := p.expectNumber()
	if err != nil {
		return NoNode, err
	}
	if err := p.expect(TokenComma); err != nil {
		return NoNode, err
	}
	to := Unbounded
	if p.curTokenIs(TokenNumber) {
		to = p.curToken.Value
		p.nextToken()
	}
	if err := p.expect(TokenRAngle); err != nil {
		return NoNode, err
	}
	if to != Unbounded && from.Value > to {
		return NoNode, errorAt(ErrInvalidRange, pos, "repetition <%d,%d> has from > to", from.Value, to)
	}
	return p.c.Arena().Bounded(body, from.Value, to, pos), nil
}

// ParseLeftList parses pattern items up to =>, end:, ;, | or ).
func (p *Parser) ParseLeftList() (NodeID, error) {
	pos := p.curToken.Pos
	var items []NodeID
	for !p.atLeftListEnd() {
		id, err := p.ParseLeft()
		if err != nil {
			return NoNode, err
		}
		items = append(items, id)
	}
	switch len(items) {
	case 0:
		return NoNode, p.unexpected("pattern")
	case 1:
		return items[0], nil
	}
	return p.c.Arena().Sequence(items, pos), nil
}

func (p *Parser) atLeftListEnd() bool {
	switch p.curToken.Type {
	case TokenArrow, TokenSemicolon, TokenBar, TokenRParen, TokenEOF, TokenError:
		return true
	}
	return p.curKeywordIs(KeywordEnd)
}

// ParseOrList parses alternatives separated by |.
func (p *Parser) ParseOrList() (NodeID, error) {
	pos := p.curToken.Pos
	first, err := p.ParseLeftList()
	if err != nil {
		return NoNode, err
	}
	alts := []NodeID{first}
	for p.curTokenIs(TokenBar) {
		p.nextToken()
		alt, err := p.ParseLeftList()
		if err != nil {
			return NoNode, err
		}
		alts = append(alts, alt)
	}
	if len(alts) == 1 {
		return first, nil
	}
	return p.c.Arena().Or(alts, pos), nil
}
