// Package evalop compiles debugger expressions ("eax+4", "[esp+8]*2",
// "kernel32:CreateFileW", "eax=byte:[esi]") into a program for a small
// stack machine. Operands are not interpreted here: each one becomes a
// PushLeaf instruction resolved by the value engine when the program runs.
package evalop

import (
	"fmt"
	"strings"

	"github.com/go-delve/dbgval/pkg/logflags"
)

// SyntaxError is returned for expressions that can not be compiled.
type SyntaxError struct {
	Pos int
	Msg string
}

func (err *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %d: %s", err.Pos, err.Msg)
}

type compileCtx struct {
	items  []item
	cur    int
	canSet bool
	ops    []Op
}

// binary operator precedence, higher binds tighter
var precedence = map[Token]int{
	LOr:  1,
	LAnd: 2,
	Or:   3,
	Xor:  4,
	And:  5,
	Eql:  6, Neq: 6,
	Lss: 7, Leq: 7, Gtr: 7, Geq: 7,
	Shl: 8, Shr: 8,
	Add: 9, Sub: 9,
	Mul: 10, Div: 10, Mod: 10,
}

// Compile compiles expr into a program that leaves exactly one value on
// the stack. Assignments are only accepted if canSet is true.
func Compile(expr string, canSet bool) ([]Op, error) {
	ctx := &compileCtx{items: scan(expr), canSet: canSet}
	if ctx.peek().kind == itemEOF {
		return nil, &SyntaxError{Pos: 0, Msg: "empty expression"}
	}
	if err := ctx.compileAssign(); err != nil {
		return nil, err
	}
	if it := ctx.peek(); it.kind != itemEOF {
		return nil, &SyntaxError{Pos: it.pos, Msg: fmt.Sprintf("unexpected %s", it)}
	}
	if err := ctx.depthCheck(1); err != nil {
		return nil, err
	}
	if logflags.Evalop() {
		logflags.EvalopLogger().Debugf("compiled %q:\n%s", expr, Listing(nil, ctx.ops))
	}
	return ctx.ops, nil
}

// IsSingleLeaf returns the operand of a program consisting only of one
// operand.
func IsSingleLeaf(ops []Op) (string, bool) {
	if len(ops) != 1 {
		return "", false
	}
	leaf, ok := ops[0].(*PushLeaf)
	if !ok {
		return "", false
	}
	return leaf.Token, true
}

func (ctx *compileCtx) peek() item {
	return ctx.items[ctx.cur]
}

func (ctx *compileCtx) next() item {
	it := ctx.items[ctx.cur]
	if it.kind != itemEOF {
		ctx.cur++
	}
	return it
}

func (ctx *compileCtx) pushOp(op Op) {
	ctx.ops = append(ctx.ops, op)
}

// depthCheck validates the list of instructions produced by Compile.
// Every jump target must see the same stack depth from every path.
func (ctx *compileCtx) depthCheck(endDepth int) error {
	depth := make([]int, len(ctx.ops)+1) // depth[i] is the depth of the stack before i-th instruction
	for i := range depth {
		depth[i] = -1
	}
	depth[0] = 0

	var err error
	checkAndSet := func(j, d int) { // sets depth[j] to d after checking that we can
		if depth[j] < 0 {
			depth[j] = d
		}
		if d != depth[j] {
			err = fmt.Errorf("internal error: depth check error at instruction %d: expected depth %d have %d (jump target)\n%s", j, d, depth[j], Listing(depth, ctx.ops))
		}
	}

	for i, op := range ctx.ops {
		npop, npush := op.depthCheck()
		if depth[i] < npop {
			return fmt.Errorf("internal error: depth check error at instruction %d: expected at least %d have %d\n%s", i, npop, depth[i], Listing(depth, ctx.ops))
		}
		d := depth[i] - npop + npush
		checkAndSet(i+1, d)
		if jmp, _ := op.(*Jump); jmp != nil {
			checkAndSet(jmp.Target, d)
		}
		if err != nil {
			return err
		}
	}

	if depth[len(ctx.ops)] != endDepth {
		return fmt.Errorf("internal error: depth check failed: depth at the end is not %d (got %d)\n%s", endDepth, depth[len(ctx.ops)], Listing(depth, ctx.ops))
	}
	return nil
}

// compileAssign compiles an assignment or, if the expression does not start
// with "operand =", a binary expression. Assignments are right associative.
func (ctx *compileCtx) compileAssign() error {
	lhs := ctx.peek()
	if lhs.kind == itemLeaf {
		if op := ctx.items[ctx.cur+1]; op.kind == itemOp && op.tok.IsAssign() {
			if !ctx.canSet {
				return &SyntaxError{Pos: op.pos, Msg: fmt.Sprintf("assignment to %s not allowed", lhs.text)}
			}
			ctx.cur += 2
			if err := ctx.compileAssign(); err != nil {
				return err
			}
			ctx.pushOp(&Assign{Lhs: lhs.text, Op: op.tok})
			return nil
		}
	}
	return ctx.compileBinary(1)
}

func (ctx *compileCtx) compileBinary(minPrec int) error {
	if err := ctx.compileUnary(); err != nil {
		return err
	}
	for {
		it := ctx.peek()
		if it.kind != itemOp {
			return nil
		}
		if it.tok.IsAssign() {
			return &SyntaxError{Pos: it.pos, Msg: "left side of assignment must be a single operand"}
		}
		prec, ok := precedence[it.tok]
		if !ok || prec < minPrec {
			return nil
		}
		ctx.next()

		var jmp *Jump
		switch it.tok {
		case LAnd:
			jmp = &Jump{When: JumpIfFalse}
		case LOr:
			jmp = &Jump{When: JumpIfTrue}
		}
		if jmp != nil {
			ctx.pushOp(jmp)
		}
		if err := ctx.compileBinary(prec + 1); err != nil {
			return err
		}
		ctx.pushOp(&Binary{Op: it.tok})
		if jmp != nil {
			jmp.Target = len(ctx.ops)
			ctx.pushOp(&Truth{})
		}
	}
}

func (ctx *compileCtx) compileUnary() error {
	it := ctx.peek()
	if it.kind == itemOp {
		switch it.tok {
		case Sub, Add, Not, LNot:
			ctx.next()
			if err := ctx.compileUnary(); err != nil {
				return err
			}
			ctx.pushOp(&Unary{Op: it.tok})
			return nil
		}
	}
	return ctx.compilePrimary()
}

func (ctx *compileCtx) compilePrimary() error {
	it := ctx.next()
	switch it.kind {
	case itemLeaf:
		ctx.pushOp(&PushLeaf{Token: it.text, Pos: it.pos})
		return nil
	case itemLParen:
		if ctx.peek().kind == itemRParen {
			return &SyntaxError{Pos: it.pos, Msg: "empty parentheses"}
		}
		if err := ctx.compileAssign(); err != nil {
			return err
		}
		if end := ctx.next(); end.kind != itemRParen {
			return &SyntaxError{Pos: end.pos, Msg: fmt.Sprintf("expected ')', found %s", end)}
		}
		return nil
	}
	return &SyntaxError{Pos: it.pos, Msg: fmt.Sprintf("unexpected %s", it)}
}

// Listing returns a human readable listing of ops, with the stack depth
// before and after each instruction if depth is not nil.
func Listing(depth []int, ops []Op) string {
	if depth == nil {
		depth = make([]int, len(ops)+1)
	}
	buf := new(strings.Builder)
	for i, op := range ops {
		fmt.Fprintf(buf, " %3d  (%2d->%2d) %v\n", i, depth[i], depth[i+1], op)
	}
	return buf.String()
}
