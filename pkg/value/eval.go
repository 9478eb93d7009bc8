package value

import (
	"fmt"

	"github.com/go-delve/dbgval/pkg/logflags"
	"github.com/go-delve/dbgval/pkg/proc/evalop"
)

// evalStack runs a program produced by evalop.Compile.
type evalStack struct {
	e    *Engine
	opts ResolveOptions
	mode evalop.Mode

	stack []uint64
	ops   []evalop.Op
	pc    int
	err   error
}

func (stack *evalStack) push(v uint64) {
	stack.stack = append(stack.stack, stack.mode.Mask(v))
}

func (stack *evalStack) pop() uint64 {
	v := stack.peek()
	stack.stack = stack.stack[:len(stack.stack)-1]
	return v
}

func (stack *evalStack) peek() uint64 {
	return stack.stack[len(stack.stack)-1]
}

func (stack *evalStack) run(ops []evalop.Op) (uint64, error) {
	stack.ops = ops
	for stack.pc < len(stack.ops) && stack.err == nil {
		if logflags.Value() {
			stack.e.log().Debugf("%d\t%s\t%#x", stack.pc, stack.ops[stack.pc], stack.stack)
		}
		stack.executeOp()
		stack.pc++
	}
	if stack.err != nil {
		return 0, stack.err
	}
	if len(stack.stack) != 1 {
		return 0, fmt.Errorf("internal error: stack depth %d at end of expression", len(stack.stack))
	}
	return stack.pop(), nil
}

// leaf resolves one operand of the expression. Operands are always resolved
// without assignment, assignments are compiled into Assign instructions.
func (stack *evalStack) leaf(token string) (uint64, error) {
	opts := stack.opts
	opts.AllowAssign = false
	res, err := stack.e.ResolveNoExpr(token, opts)
	return res.Value, err
}

func (stack *evalStack) executeOp() {
	switch op := stack.ops[stack.pc].(type) {
	case *evalop.PushLeaf:
		v, err := stack.leaf(op.Token)
		if err != nil {
			stack.err = err
			return
		}
		stack.push(v)

	case *evalop.PushConst:
		stack.push(op.Value)

	case *evalop.Unary:
		v, err := evalop.UnaryOp(op.Op, stack.pop(), stack.mode)
		if err != nil {
			stack.err = err
			return
		}
		stack.push(v)

	case *evalop.Binary:
		y := stack.pop()
		x := stack.pop()
		v, err := evalop.BinaryOp(op.Op, x, y, stack.mode)
		if err != nil {
			stack.err = err
			return
		}
		stack.push(v)

	case *evalop.Truth:
		if stack.pop() != 0 {
			stack.push(1)
		} else {
			stack.push(0)
		}

	case *evalop.Jump:
		x := stack.peek()
		if op.Pop {
			stack.pop()
		}
		if (op.When == evalop.JumpIfTrue) == (x != 0) {
			// the loop in run increments pc
			stack.pc = op.Target - 1
		}

	case *evalop.Assign:
		v := stack.pop()
		if op.Op != evalop.AssignOp {
			old, err := stack.leaf(op.Lhs)
			if err != nil {
				stack.err = err
				return
			}
			v, err = evalop.BinaryOp(op.Op.Binary(), old, v, stack.mode)
			if err != nil {
				stack.err = err
				return
			}
		}
		if err := stack.e.Assign(op.Lhs, v, stack.opts.Silent); err != nil {
			stack.err = err
			return
		}
		stack.push(v)

	default:
		stack.err = fmt.Errorf("internal error: unknown instruction %T", op)
	}
}
