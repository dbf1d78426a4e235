package plingua

import "fmt"

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenUnknown

	// Literals
	TokenIdentifier // a, trigger, product_2
	TokenInteger    // 42

	// Keywords
	TokenModel // model
	TokenDef   // def
	TokenOut   // out
	TokenIn    // in

	// Operators and delimiters
	TokenArrow     // -->
	TokenLParen    // (
	TokenRParen    // )
	TokenLBracket  // [
	TokenRBracket  // ]
	TokenLBrace    // {
	TokenRBrace    // }
	TokenComma     // ,
	TokenSemicolon // ;
	TokenEquals    // =
	TokenColon     // :
	TokenQuote     // '
	TokenAt        // @
	TokenLess      // <
	TokenGreater   // >
)

var tokenNames = map[TokenType]string{
	TokenEOF:        "EOF",
	TokenUnknown:    "UNKNOWN",
	TokenIdentifier: "IDENTIFIER",
	TokenInteger:    "INTEGER",
	TokenModel:      "model",
	TokenDef:        "def",
	TokenOut:        "out",
	TokenIn:         "in",
	TokenArrow:      "-->",
	TokenLParen:     "(",
	TokenRParen:     ")",
	TokenLBracket:   "[",
	TokenRBracket:   "]",
	TokenLBrace:     "{",
	TokenRBrace:     "}",
	TokenComma:      ",",
	TokenSemicolon:  ";",
	TokenEquals:     "=",
	TokenColon:      ":",
	TokenQuote:      "'",
	TokenAt:         "@",
	TokenLess:       "<",
	TokenGreater:    ">",
}

var keywords = map[string]TokenType{
	"model": TokenModel,
	"def":   TokenDef,
	"out":   TokenOut,
	"in":    TokenIn,
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// Position is a location in the source text. Line and Column are 1-based.
type Position struct {
	Offset int
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("line %d, column %d", p.Line, p.Column)
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string   // the raw text
	Pos     Position // start position
}

func (t Token) String() string {
	switch t.Type {
	case TokenEOF:
		return "EOF"
	case TokenIdentifier, TokenInteger:
		return fmt.Sprintf("%s(%s)", t.Type, t.Literal)
	case TokenUnknown:
		return fmt.Sprintf("UNKNOWN(%q)", t.Literal)
	default:
		return fmt.Sprintf("%q", t.Literal)
	}
}
