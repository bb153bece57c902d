package policy

import (
	"fmt"
	"strings"
	"unicode"
)

// tokenKind classifies lexer output
type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokOp     // == > < >= <=
	tokColon  // :
	tokLParen // (
	tokRParen // )
	tokComma  // ,
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of input"
	case tokIdent:
		return "identifier"
	case tokString:
		return "string"
	case tokNumber:
		return "number"
	case tokOp:
		return "operator"
	case tokColon:
		return "':'"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokComma:
		return "','"
	default:
		return "unknown token"
	}
}

// token is one lexical unit with its source position
type token struct {
	kind tokenKind
	text string
	line int
	col  int
}

// ParseError describes a syntax violation with its source position
type ParseError struct {
	Line int
	Col  int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d:%d: %s", e.Line, e.Col, e.Msg)
}

// lexer turns rule source into a token stream. Whitespace and newlines are
// insignificant; comments start with '#' and run to end of line.
type lexer struct {
	src  string
	pos  int
	line int
	col  int
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1, col: 1}
}

func (l *lexer) peek() byte {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *lexer) advance() byte {
	c := l.src[l.pos]
	l.pos++
	if c == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return c
}

func (l *lexer) skipSpaceAndComments() {
	for l.pos < len(l.src) {
		c := l.peek()
		switch {
		case c == '#':
			for l.pos < len(l.src) && l.peek() != '\n' {
				l.advance()
			}
		case unicode.IsSpace(rune(c)):
			l.advance()
		default:
			return
		}
	}
}

// next returns the next token or a ParseError for malformed input
func (l *lexer) next() (token, *ParseError) {
	l.skipSpaceAndComments()

	if l.pos >= len(l.src) {
		return token{kind: tokEOF, line: l.line, col: l.col}, nil
	}

	startLine, startCol := l.line, l.col
	c := l.peek()

	switch {
	case c == '"':
		return l.lexString(startLine, startCol)

	case c == ':':
		l.advance()
		return token{kind: tokColon, text: ":", line: startLine, col: startCol}, nil
	case c == '(':
		l.advance()
		return token{kind: tokLParen, text: "(", line: startLine, col: startCol}, nil
	case c == ')':
		l.advance()
		return token{kind: tokRParen, text: ")", line: startLine, col: startCol}, nil
	case c == ',':
		l.advance()
		return token{kind: tokComma, text: ",", line: startLine, col: startCol}, nil

	case c == '=':
		l.advance()
		if l.peek() != '=' {
			return token{}, &ParseError{Line: startLine, Col: startCol, Msg: "expected '==' (single '=' is not an operator)"}
		}
		l.advance()
		return token{kind: tokOp, text: OpEq, line: startLine, col: startCol}, nil

	case c == '>' || c == '<':
		l.advance()
		op := string(c)
		if l.peek() == '=' {
			l.advance()
			op += "="
		}
		return token{kind: tokOp, text: op, line: startLine, col: startCol}, nil

	case c == '-' || unicode.IsDigit(rune(c)):
		return l.lexNumber(startLine, startCol)

	case unicode.IsLetter(rune(c)) || c == '_':
		return l.lexIdent(startLine, startCol)

	default:
		return token{}, &ParseError{Line: startLine, Col: startCol, Msg: fmt.Sprintf("unexpected character %q", c)}
	}
}

func (l *lexer) lexString(line, col int) (token, *ParseError) {
	l.advance() // opening quote
	var sb strings.Builder
	for {
		if l.pos >= len(l.src) {
			return token{}, &ParseError{Line: line, Col: col, Msg: "unterminated string literal"}
		}
		c := l.advance()
		if c == '"' {
			return token{kind: tokString, text: sb.String(), line: line, col: col}, nil
		}
		if c == '\n' {
			return token{}, &ParseError{Line: line, Col: col, Msg: "unterminated string literal"}
		}
		sb.WriteByte(c)
	}
}

func (l *lexer) lexNumber(line, col int) (token, *ParseError) {
	start := l.pos
	if l.peek() == '-' {
		l.advance()
	}
	digits := 0
	for l.pos < len(l.src) && unicode.IsDigit(rune(l.peek())) {
		l.advance()
		digits++
	}
	if l.peek() == '.' {
		l.advance()
		for l.pos < len(l.src) && unicode.IsDigit(rune(l.peek())) {
			l.advance()
			digits++
		}
	}
	if digits == 0 {
		return token{}, &ParseError{Line: line, Col: col, Msg: "malformed number"}
	}
	return token{kind: tokNumber, text: l.src[start:l.pos], line: line, col: col}, nil
}

func (l *lexer) lexIdent(line, col int) (token, *ParseError) {
	start := l.pos
	for l.pos < len(l.src) {
		c := l.peek()
		if unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c)) || c == '_' || c == '.' {
			l.advance()
			continue
		}
		break
	}
	return token{kind: tokIdent, text: l.src[start:l.pos], line: line, col: col}, nil
}
