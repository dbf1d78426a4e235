package plingua

import (
	"unicode"
	"unicode/utf8"
)

// Lexer tokenizes membrane system definitions. It never fails: characters
// outside the language become TokenUnknown and are reported by the parser.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      rune // current character
	line    int  // line of ch (1-based)
	col     int  // column of ch (1-based)
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
		col:   0,
	}
	l.readChar()
	return l
}

// readChar advances to the next character.
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	if l.readPos >= len(l.input) {
		l.ch = 0 // EOF
		l.pos = l.readPos
		l.col++
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
	l.col++
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

func (l *Lexer) position() Position {
	return Position{Offset: l.pos, Line: l.line, Column: l.col}
}

func (l *Lexer) single(t TokenType, pos Position) Token {
	lit := string(l.ch)
	l.readChar()
	return Token{Type: t, Literal: lit, Pos: pos}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()

	pos := l.position()

	switch {
	case l.ch == 0 && l.pos >= len(l.input):
		return Token{Type: TokenEOF, Literal: "", Pos: pos}
	case l.ch == '(':
		return l.single(TokenLParen, pos)
	case l.ch == ')':
		return l.single(TokenRParen, pos)
	case l.ch == '[':
		return l.single(TokenLBracket, pos)
	case l.ch == ']':
		return l.single(TokenRBracket, pos)
	case l.ch == '{':
		return l.single(TokenLBrace, pos)
	case l.ch == '}':
		return l.single(TokenRBrace, pos)
	case l.ch == ',':
		return l.single(TokenComma, pos)
	case l.ch == ';':
		return l.single(TokenSemicolon, pos)
	case l.ch == '=':
		return l.single(TokenEquals, pos)
	case l.ch == ':':
		return l.single(TokenColon, pos)
	case l.ch == '\'':
		return l.single(TokenQuote, pos)
	case l.ch == '@':
		return l.single(TokenAt, pos)
	case l.ch == '<':
		return l.single(TokenLess, pos)
	case l.ch == '>':
		return l.single(TokenGreater, pos)

	case l.ch == '-' && l.peekChar() == '-':
		start := l.pos
		l.readChar()
		l.readChar()
		if l.ch == '>' {
			l.readChar()
			return Token{Type: TokenArrow, Literal: "-->", Pos: pos}
		}
		return Token{Type: TokenUnknown, Literal: l.input[start:l.pos], Pos: pos}

	case isDigit(l.ch):
		start := l.pos
		for isDigit(l.ch) {
			l.readChar()
		}
		return Token{Type: TokenInteger, Literal: l.input[start:l.pos], Pos: pos}

	case isLetter(l.ch) || l.ch == '_':
		start := l.pos
		for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
			l.readChar()
		}
		lit := l.input[start:l.pos]
		if kw, ok := keywords[lit]; ok {
			return Token{Type: kw, Literal: lit, Pos: pos}
		}
		return Token{Type: TokenIdentifier, Literal: lit, Pos: pos}

	default:
		return l.single(TokenUnknown, pos)
	}
}

// skipWhitespaceAndComments skips whitespace, // line comments and
// /* block */ comments. An unterminated block comment runs to EOF.
func (l *Lexer) skipWhitespaceAndComments() {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
			l.readChar()
		}

		if l.ch == '/' && l.peekChar() == '/' {
			for l.ch != '\n' && !l.atEOF() {
				l.readChar()
			}
			continue
		}

		if l.ch == '/' && l.peekChar() == '*' {
			l.readChar()
			l.readChar()
			for !l.atEOF() && !(l.ch == '*' && l.peekChar() == '/') {
				l.readChar()
			}
			if !l.atEOF() {
				l.readChar()
				l.readChar()
			}
			continue
		}

		break
	}
}

func (l *Lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

func isLetter(r rune) bool {
	return unicode.IsLetter(r)
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// Tokenize returns every token of input, ending with TokenEOF.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens
		}
	}
}
