package plingua

import "fmt"

// SyntaxError reports an unexpected token. Parsing stops at the first one.
type SyntaxError struct {
	Pos      Position
	Expected string
	Got      Token
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Pos, e.Expected, e.Got)
}

// SemanticError reports a well-formed program that does not describe a
// valid system. Err carries the underlying cause when there is one, such
// as the *psystem.BuildError from building the parsed definition.
type SemanticError struct {
	Pos Position
	Msg string
	Err error
}

func (e *SemanticError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Pos, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

func (e *SemanticError) Unwrap() error {
	return e.Err
}
