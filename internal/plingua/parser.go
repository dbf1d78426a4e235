package plingua

import (
	"fmt"
	"os"
	"strconv"

	"github.com/daniacca/membranedb/internal/psystem"
)

// Parser is a recursive-descent parser for membrane system definitions.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token

	model     string
	name      string
	defPos    Position
	structure []membraneDecl
	muPos     *Position
	initial   map[psystem.MembraneID]psystem.Multiset
	initOrder []psystem.MembraneID
	rules     []psystem.Rule
}

type membraneDecl struct {
	id     psystem.MembraneID
	label  psystem.Label
	parent psystem.MembraneID
}

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{
		lexer:   NewLexer(input),
		initial: make(map[psystem.MembraneID]psystem.Multiset),
	}
	// Read two tokens to initialize curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses src into a System.
func Parse(src string) (*psystem.System, error) {
	return NewParser(src).ParseSystem()
}

// ParseFile reads and parses the file at path.
func ParseFile(path string) (*psystem.System, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(string(data))
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

func (p *Parser) peekTokenIs(t TokenType) bool {
	return p.peekToken.Type == t
}

// expect consumes the current token if it has type t.
func (p *Parser) expect(t TokenType) (Token, error) {
	tok := p.curToken
	if tok.Type != t {
		return tok, p.unexpected(fmt.Sprintf("%q", t.String()))
	}
	p.nextToken()
	return tok, nil
}

func (p *Parser) unexpected(expected string) error {
	return &SyntaxError{Pos: p.curToken.Pos, Expected: expected, Got: p.curToken}
}

func (p *Parser) semanticf(pos Position, format string, args ...any) error {
	return &SemanticError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// ParseSystem parses the whole program and builds the System it defines.
func (p *Parser) ParseSystem() (*psystem.System, error) {
	if p.curTokenIs(TokenAt) && p.peekTokenIs(TokenModel) {
		if err := p.parseModelHeader(); err != nil {
			return nil, err
		}
	}

	if err := p.parseDefinition(); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenEOF); err != nil {
		return nil, err
	}

	return p.build()
}

// @model<name>
func (p *Parser) parseModelHeader() error {
	p.nextToken() // @
	p.nextToken() // model
	if _, err := p.expect(TokenLess); err != nil {
		return err
	}
	tok, err := p.expect(TokenIdentifier)
	if err != nil {
		return err
	}
	p.model = tok.Literal
	_, err = p.expect(TokenGreater)
	return err
}

// def name() { statement* }
func (p *Parser) parseDefinition() error {
	def, err := p.expect(TokenDef)
	if err != nil {
		return err
	}
	p.defPos = def.Pos

	name, err := p.expect(TokenIdentifier)
	if err != nil {
		return err
	}
	p.name = name.Literal

	for _, t := range []TokenType{TokenLParen, TokenRParen, TokenLBrace} {
		if _, err := p.expect(t); err != nil {
			return err
		}
	}

	for !p.curTokenIs(TokenRBrace) {
		if p.curTokenIs(TokenEOF) {
			return p.unexpected(`"}"`)
		}
		if err := p.parseStatement(); err != nil {
			return err
		}
	}
	p.nextToken() // }
	return nil
}

func (p *Parser) parseStatement() error {
	switch p.curToken.Type {
	case TokenAt:
		return p.parseDirective()
	case TokenLBracket:
		return p.parseRule()
	default:
		return p.unexpected(`"@" or "["`)
	}
}

// @mu = structure; or @ms(id) = multiset;
func (p *Parser) parseDirective() error {
	at := p.curToken
	p.nextToken()

	name, err := p.expect(TokenIdentifier)
	if err != nil {
		return err
	}

	switch name.Literal {
	case "mu":
		if p.muPos != nil {
			return p.semanticf(at.Pos, "membrane structure already defined at %s", *p.muPos)
		}
		p.muPos = &at.Pos
		if _, err := p.expect(TokenEquals); err != nil {
			return err
		}
		if err := p.parseStructure(psystem.NoMembrane); err != nil {
			return err
		}

	case "ms":
		if _, err := p.expect(TokenLParen); err != nil {
			return err
		}
		id, err := p.parseInt()
		if err != nil {
			return err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return err
		}
		if _, err := p.expect(TokenEquals); err != nil {
			return err
		}
		m, err := p.parseMultiset()
		if err != nil {
			return err
		}
		mid := psystem.MembraneID(id)
		if _, seen := p.initial[mid]; !seen {
			p.initOrder = append(p.initOrder, mid)
		}
		p.initial[mid] = p.initial[mid].Union(m)

	default:
		return &SyntaxError{Pos: name.Pos, Expected: `"mu" or "ms"`, Got: name}
	}

	_, err = p.expect(TokenSemicolon)
	return err
}

// [ structure* ]'label, ids assigned in preorder starting at 1.
func (p *Parser) parseStructure(parent psystem.MembraneID) error {
	if _, err := p.expect(TokenLBracket); err != nil {
		return err
	}

	id := psystem.MembraneID(len(p.structure) + 1)
	idx := len(p.structure)
	p.structure = append(p.structure, membraneDecl{id: id, parent: parent})

	for p.curTokenIs(TokenLBracket) {
		if err := p.parseStructure(id); err != nil {
			return err
		}
	}

	if _, err := p.expect(TokenRBracket); err != nil {
		return err
	}
	label, err := p.parseLabel()
	if err != nil {
		return err
	}
	p.structure[idx].label = label
	return nil
}

// [lhs]'label --> rhs;
func (p *Parser) parseRule() error {
	start := p.curToken.Pos
	p.nextToken() // [

	lhs, err := p.parseMultiset()
	if err != nil {
		return err
	}
	if _, err := p.expect(TokenRBracket); err != nil {
		return err
	}
	label, err := p.parseLabel()
	if err != nil {
		return err
	}
	if _, err := p.expect(TokenArrow); err != nil {
		return err
	}

	rule := psystem.NewRule(label, lhs, psystem.EmptyMultiset())

	switch p.curToken.Type {
	case TokenLBracket:
		bracket := p.curToken.Pos
		p.nextToken()
		rhs, err := p.parseMultiset()
		if err != nil {
			return err
		}
		if _, err := p.expect(TokenRBracket); err != nil {
			return err
		}
		rhsLabel, err := p.parseLabel()
		if err != nil {
			return err
		}
		if rhsLabel != label {
			return p.semanticf(bracket, "right-hand side label %d does not match left-hand side label %d", rhsLabel, label)
		}
		rule.RHS = rhs
		// a bare empty bracket is the dissolution form
		if rhs.IsEmpty() {
			rule = rule.Dissolving()
		}

	case TokenLParen:
		p.nextToken()
		rhs, err := p.parseMultiset()
		if err != nil {
			return err
		}
		if _, err := p.expect(TokenComma); err != nil {
			return err
		}
		target, err := p.parseTarget()
		if err != nil {
			return err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return err
		}
		rule.RHS = rhs
		rule = rule.To(target)

	default:
		return p.unexpected(`"[" or "("`)
	}

	// trailing [] marks dissolution
	if p.curTokenIs(TokenLBracket) {
		p.nextToken()
		if _, err := p.expect(TokenRBracket); err != nil {
			return err
		}
		rule = rule.Dissolving()
	}

	if _, err := p.expect(TokenSemicolon); err != nil {
		return err
	}

	if rule.LHS.IsEmpty() {
		return p.semanticf(start, "rule left-hand side must not be empty")
	}
	p.rules = append(p.rules, rule)
	return nil
}

// out | in'label
func (p *Parser) parseTarget() (psystem.Target, error) {
	switch p.curToken.Type {
	case TokenOut:
		p.nextToken()
		return psystem.ToParent(), nil
	case TokenIn:
		p.nextToken()
		label, err := p.parseLabel()
		if err != nil {
			return psystem.Target{}, err
		}
		return psystem.ToChildLabel(label), nil
	default:
		return psystem.Target{}, p.unexpected(`"out" or "in"`)
	}
}

// 'n
func (p *Parser) parseLabel() (psystem.Label, error) {
	if _, err := p.expect(TokenQuote); err != nil {
		return 0, err
	}
	n, err := p.parseInt()
	if err != nil {
		return 0, err
	}
	return psystem.Label(n), nil
}

func (p *Parser) parseInt() (int, error) {
	tok, err := p.expect(TokenInteger)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(tok.Literal)
	if err != nil {
		return 0, &SemanticError{Pos: tok.Pos, Msg: fmt.Sprintf("integer %s out of range", tok.Literal), Err: err}
	}
	return n, nil
}

// term (',' term)*, possibly empty.
func (p *Parser) parseMultiset() (psystem.Multiset, error) {
	counts := make(map[psystem.Object]int)
	if !p.curTokenIs(TokenIdentifier) {
		return psystem.EmptyMultiset(), nil
	}
	for {
		obj, n, err := p.parseTerm()
		if err != nil {
			return psystem.Multiset{}, err
		}
		counts[obj] += n
		if !p.curTokenIs(TokenComma) || !p.peekTokenIs(TokenIdentifier) {
			break
		}
		p.nextToken() // ,
	}
	return psystem.NewMultiset(counts), nil
}

// name or name{count}
func (p *Parser) parseTerm() (psystem.Object, int, error) {
	tok, err := p.expect(TokenIdentifier)
	if err != nil {
		return "", 0, err
	}
	if !p.curTokenIs(TokenLBrace) {
		return psystem.Object(tok.Literal), 1, nil
	}
	p.nextToken()
	countTok := p.curToken
	n, err := p.parseInt()
	if err != nil {
		return "", 0, err
	}
	if n <= 0 {
		return "", 0, p.semanticf(countTok.Pos, "multiplicity of %s must be positive, got %d", tok.Literal, n)
	}
	if _, err := p.expect(TokenRBrace); err != nil {
		return "", 0, err
	}
	return psystem.Object(tok.Literal), n, nil
}

func (p *Parser) build() (*psystem.System, error) {
	b := psystem.NewSystemBuilder(p.name).WithModel(p.model)

	if len(p.structure) == 0 {
		b.WithMembrane(1, 1, psystem.NoMembrane)
	}
	for _, m := range p.structure {
		b.WithMembrane(m.id, m.label, m.parent)
	}
	for _, id := range p.initOrder {
		b.WithInitial(id, p.initial[id])
	}
	b.WithRules(p.rules...)

	sys, err := b.Build()
	if err != nil {
		return nil, &SemanticError{Pos: p.defPos, Msg: fmt.Sprintf("definition %s", p.name), Err: err}
	}
	return sys, nil
}
