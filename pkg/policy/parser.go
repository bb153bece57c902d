package policy

import (
	"fmt"
	"strconv"
)

// Parse reads a complete rule document and returns the policies it defines.
// Parsing is all-or-nothing: the first syntax error aborts the whole document
// and no partial result is returned.
//
// Grammar:
//
//	document  := policy*
//	policy    := POLICY "<name>" ':' WHEN condition (AND condition)* THEN action [PRIORITY <int>]
//	condition := field op literal
//	action    := restart '(' service ')' | scale '(' service ',' <int> ')'
func Parse(src string) ([]Policy, error) {
	p := &parser{lex: newLexer(src)}
	if err := p.prime(); err != nil {
		return nil, err
	}

	var policies []Policy
	for p.cur.kind != tokEOF {
		pol, err := p.parsePolicy()
		if err != nil {
			return nil, err
		}
		policies = append(policies, pol)
	}
	return policies, nil
}

type parser struct {
	lex *lexer
	cur token
}

func (p *parser) prime() error {
	return p.advance()
}

func (p *parser) advance() error {
	tok, perr := p.lex.next()
	if perr != nil {
		return perr
	}
	p.cur = tok
	return nil
}

func (p *parser) errHere(format string, args ...interface{}) error {
	return &ParseError{Line: p.cur.line, Col: p.cur.col, Msg: fmt.Sprintf(format, args...)}
}

// expectKeyword consumes an identifier with the exact given text
func (p *parser) expectKeyword(kw string) error {
	if p.cur.kind != tokIdent || p.cur.text != kw {
		return p.errHere("expected %s, got %s %q", kw, p.cur.kind, p.cur.text)
	}
	return p.advance()
}

func (p *parser) expect(kind tokenKind) (token, error) {
	if p.cur.kind != kind {
		return token{}, p.errHere("expected %s, got %s %q", kind, p.cur.kind, p.cur.text)
	}
	tok := p.cur
	if err := p.advance(); err != nil {
		return token{}, err
	}
	return tok, nil
}

func (p *parser) parsePolicy() (Policy, error) {
	var pol Policy

	if err := p.expectKeyword("POLICY"); err != nil {
		return pol, err
	}
	name, err := p.expect(tokString)
	if err != nil {
		return pol, err
	}
	if name.text == "" {
		return pol, &ParseError{Line: name.line, Col: name.col, Msg: "policy name must not be empty"}
	}
	pol.Name = name.text

	if _, err := p.expect(tokColon); err != nil {
		return pol, err
	}
	if err := p.expectKeyword("WHEN"); err != nil {
		return pol, err
	}

	cond, err := p.parseCondition()
	if err != nil {
		return pol, err
	}
	pol.Conditions = append(pol.Conditions, cond)

	for p.cur.kind == tokIdent && p.cur.text == "AND" {
		if err := p.advance(); err != nil {
			return pol, err
		}
		cond, err := p.parseCondition()
		if err != nil {
			return pol, err
		}
		pol.Conditions = append(pol.Conditions, cond)
	}

	if err := p.expectKeyword("THEN"); err != nil {
		return pol, err
	}
	pol.Action, err = p.parseAction()
	if err != nil {
		return pol, err
	}

	if p.cur.kind == tokIdent && p.cur.text == "PRIORITY" {
		if err := p.advance(); err != nil {
			return pol, err
		}
		num, err := p.expect(tokNumber)
		if err != nil {
			return pol, err
		}
		pri, convErr := strconv.Atoi(num.text)
		if convErr != nil {
			return pol, &ParseError{Line: num.line, Col: num.col, Msg: fmt.Sprintf("priority must be an integer, got %q", num.text)}
		}
		pol.Priority = pri
	}

	return pol, nil
}

func (p *parser) parseCondition() (Condition, error) {
	var cond Condition

	field, err := p.expect(tokIdent)
	if err != nil {
		return cond, err
	}
	switch field.text {
	case FieldAnomalyType, FieldAnomalyScore, FieldRcaCause, FieldRcaProbability:
		cond.Field = field.text
	default:
		return cond, &ParseError{Line: field.line, Col: field.col, Msg: fmt.Sprintf("unknown field %q", field.text)}
	}

	op, err := p.expect(tokOp)
	if err != nil {
		return cond, err
	}
	cond.Op = op.text

	switch p.cur.kind {
	case tokString:
		cond.Value = Value{Kind: ValueString, Str: p.cur.text}
	case tokNumber:
		n, convErr := strconv.ParseFloat(p.cur.text, 64)
		if convErr != nil {
			return cond, p.errHere("malformed number %q", p.cur.text)
		}
		cond.Value = Value{Kind: ValueNumber, Num: n}
	default:
		return cond, p.errHere("expected string or number literal, got %s %q", p.cur.kind, p.cur.text)
	}
	if err := p.advance(); err != nil {
		return cond, err
	}

	// Ordering comparisons only make sense for numbers
	if cond.Value.Kind == ValueString && cond.Op != OpEq {
		return cond, p.errHere("operator %s requires a numeric literal", cond.Op)
	}

	return cond, nil
}

func (p *parser) parseAction() (Action, error) {
	var act Action

	kind, err := p.expect(tokIdent)
	if err != nil {
		return act, err
	}
	switch kind.text {
	case string(ActionRestart):
		act.Kind = ActionRestart
	case string(ActionScale):
		act.Kind = ActionScale
	default:
		return act, &ParseError{Line: kind.line, Col: kind.col, Msg: fmt.Sprintf("unknown action %q (want restart or scale)", kind.text)}
	}

	if _, err := p.expect(tokLParen); err != nil {
		return act, err
	}
	if err := p.expectKeyword("service"); err != nil {
		return act, err
	}

	if act.Kind == ActionScale {
		if _, err := p.expect(tokComma); err != nil {
			return act, err
		}
		num, err := p.expect(tokNumber)
		if err != nil {
			return act, err
		}
		n, convErr := strconv.Atoi(num.text)
		if convErr != nil {
			return act, &ParseError{Line: num.line, Col: num.col, Msg: fmt.Sprintf("replica count must be an integer, got %q", num.text)}
		}
		act.Replicas = n
	}

	if _, err := p.expect(tokRParen); err != nil {
		return act, err
	}
	return act, nil
}
