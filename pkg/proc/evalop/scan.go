package evalop

import (
	"fmt"
	"strings"
)

// Token is an operator of the expression language.
type Token uint8

const (
	ILLEGAL Token = iota

	Add  // +
	Sub  // -
	Mul  // *
	Div  // /
	Mod  // %
	And  // &
	Or   // |
	Xor  // ^
	Shl  // <<
	Shr  // >>
	Not  // ~
	LNot // !
	LAnd // &&
	LOr  // ||
	Eql  // ==
	Neq  // !=
	Lss  // <
	Leq  // <=
	Gtr  // >
	Geq  // >=

	AssignOp    // =
	AddAssign   // +=
	SubAssign   // -=
	MulAssign   // *=
	DivAssign   // /=
	ModAssign   // %=
	AndAssign   // &=
	OrAssign    // |=
	XorAssign   // ^=
	ShlAssign   // <<=
	ShrAssign   // >>=
	numTokens
)

var tokenText = [numTokens]string{
	ILLEGAL: "ILLEGAL",

	Add: "+", Sub: "-", Mul: "*", Div: "/", Mod: "%",
	And: "&", Or: "|", Xor: "^", Shl: "<<", Shr: ">>",
	Not: "~", LNot: "!", LAnd: "&&", LOr: "||",
	Eql: "==", Neq: "!=", Lss: "<", Leq: "<=", Gtr: ">", Geq: ">=",

	AssignOp: "=", AddAssign: "+=", SubAssign: "-=", MulAssign: "*=",
	DivAssign: "/=", ModAssign: "%=", AndAssign: "&=", OrAssign: "|=",
	XorAssign: "^=", ShlAssign: "<<=", ShrAssign: ">>=",
}

func (tok Token) String() string {
	if tok < numTokens {
		return tokenText[tok]
	}
	return fmt.Sprintf("Token(%d)", tok)
}

// IsAssign reports whether tok is a plain or compound assignment.
func (tok Token) IsAssign() bool {
	return tok >= AssignOp && tok <= ShrAssign
}

// Binary returns the binary operator applied by a compound assignment.
func (tok Token) Binary() Token {
	switch tok {
	case AddAssign:
		return Add
	case SubAssign:
		return Sub
	case MulAssign:
		return Mul
	case DivAssign:
		return Div
	case ModAssign:
		return Mod
	case AndAssign:
		return And
	case OrAssign:
		return Or
	case XorAssign:
		return Xor
	case ShlAssign:
		return Shl
	case ShrAssign:
		return Shr
	}
	return ILLEGAL
}

// operators sorted so that longer operators are matched first.
var operators = []Token{
	ShlAssign, ShrAssign,
	Shl, Shr, Leq, Geq, Eql, Neq, LAnd, LOr,
	AddAssign, SubAssign, MulAssign, DivAssign, ModAssign, AndAssign, OrAssign, XorAssign,
	Add, Sub, Mul, Div, Mod, And, Or, Xor, Not, LNot, Lss, Gtr, AssignOp,
}

const operatorChars = "+-*/%&|^~!<>="

type itemKind uint8

const (
	itemEOF itemKind = iota
	itemLeaf
	itemOp
	itemLParen
	itemRParen
)

type item struct {
	kind itemKind
	tok  Token
	text string
	pos  int
}

func (it item) String() string {
	switch it.kind {
	case itemEOF:
		return "end of expression"
	case itemOp:
		return fmt.Sprintf("operator %s", it.tok)
	case itemLParen:
		return "'('"
	case itemRParen:
		return "')'"
	}
	return fmt.Sprintf("%q", it.text)
}

// scan splits expr into operands, operators and parentheses. Operands keep
// bracketed memory references whole, including any operator or space
// inside the brackets, so that "byte:[esp + 4]" is a single operand.
func scan(expr string) []item {
	var items []item
	i := 0
	for i < len(expr) {
		ch := expr[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			i++
		case ch == '(':
			items = append(items, item{kind: itemLParen, pos: i})
			i++
		case ch == ')':
			items = append(items, item{kind: itemRParen, pos: i})
			i++
		case strings.IndexByte(operatorChars, ch) >= 0:
			tok := ILLEGAL
			for _, op := range operators {
				if strings.HasPrefix(expr[i:], op.String()) {
					tok = op
					break
				}
			}
			items = append(items, item{kind: itemOp, tok: tok, text: tok.String(), pos: i})
			i += len(tok.String())
		default:
			start := i
			i = scanLeaf(expr, i)
			items = append(items, item{kind: itemLeaf, text: expr[start:i], pos: start})
		}
	}
	items = append(items, item{kind: itemEOF, pos: len(expr)})
	return items
}

// scanLeaf returns the end of the operand starting at i.
func scanLeaf(expr string, i int) int {
	start := i
	for i < len(expr) {
		ch := expr[i]
		switch {
		case ch == '[':
			depth := 0
			for ; i < len(expr); i++ {
				if expr[i] == '[' {
					depth++
				} else if expr[i] == ']' {
					depth--
					if depth == 0 {
						break
					}
				}
			}
			if i < len(expr) {
				i++
			}
			continue
		case ch == '-' && expr[start:i] == ".":
			// negative decimal literal
			i++
			continue
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '(' || ch == ')':
			return i
		case strings.IndexByte(operatorChars, ch) >= 0:
			return i
		}
		i++
	}
	return i
}
