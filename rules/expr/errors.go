package expr

import "fmt"

// ParseError reports malformed or forbidden expression text. Pos and End are
// byte offsets of the offending token in the source.
type ParseError struct {
	Pos   int
	End   int
	Token string
	Msg   string
}

func (e *ParseError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("parse error at offset %d: %s", e.Pos, e.Msg)
	}
	return fmt.Sprintf("parse error at offset %d near %q: %s", e.Pos, e.Token, e.Msg)
}

func errAt(tok token, format string, args ...any) *ParseError {
	return &ParseError{
		Pos:   tok.pos,
		End:   tok.end,
		Token: tok.text,
		Msg:   fmt.Sprintf(format, args...),
	}
}

// CELError reports a construct that has no CEL equivalent.
type CELError struct {
	Construct string
}

func (e *CELError) Error() string {
	return fmt.Sprintf("cel export: %s has no CEL equivalent", e.Construct)
}
