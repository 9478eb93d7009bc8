package evalop

import "fmt"

// Op is a stack machine opcode
type Op interface {
	depthCheck() (npop, npush int)
}

// PushLeaf resolves an operand (a number, register, flag, memory
// reference, symbol or variable) and pushes its value on the stack.
type PushLeaf struct {
	Token string
	Pos   int
}

func (*PushLeaf) depthCheck() (npop, npush int) { return 0, 1 }

// PushConst pushes a constant on the stack.
type PushConst struct {
	Value uint64
}

func (*PushConst) depthCheck() (npop, npush int) { return 0, 1 }

// Unary applies a unary operator to the value at the top of the stack.
type Unary struct {
	Op Token
}

func (*Unary) depthCheck() (npop, npush int) { return 1, 1 }

// Binary pops two values from the stack, applies a binary operator and
// pushes the result.
type Binary struct {
	Op Token
}

func (*Binary) depthCheck() (npop, npush int) { return 2, 1 }

// Truth replaces the value at the top of the stack with 1 if it is not
// zero and 0 otherwise.
type Truth struct {
}

func (*Truth) depthCheck() (npop, npush int) { return 1, 1 }

// Jump looks at the value at the top of the stack and jumps to Target
// if it is non-zero (When is JumpIfTrue) or zero (When is JumpIfFalse). If
// Pop is set the value is removed from the stack.
type Jump struct {
	When   JumpCond
	Pop    bool
	Target int
}

func (jmpop *Jump) depthCheck() (npop, npush int) {
	if jmpop.Pop {
		return 1, 0
	}
	return 0, 0
}

// JumpCond specifies a condition for the Jump instruction.
type JumpCond uint8

const (
	JumpIfFalse JumpCond = iota
	JumpIfTrue
)

// Assign pops a value from the stack and writes it to the operand Lhs. For
// compound assignments (Op is not AssignOp) the current value of Lhs is
// combined with the popped value first. The assigned value is pushed back.
type Assign struct {
	Lhs string
	Op  Token
}

func (*Assign) depthCheck() (npop, npush int) { return 1, 1 }

func (op *PushLeaf) String() string  { return fmt.Sprintf("PushLeaf %q", op.Token) }
func (op *PushConst) String() string { return fmt.Sprintf("PushConst %#x", op.Value) }
func (op *Unary) String() string     { return fmt.Sprintf("Unary %s", op.Op) }
func (op *Binary) String() string    { return fmt.Sprintf("Binary %s", op.Op) }
func (op *Truth) String() string     { return "Truth" }
func (op *Assign) String() string    { return fmt.Sprintf("Assign %s %s", op.Lhs, op.Op) }

func (jmpop *Jump) String() string {
	cond := "false"
	if jmpop.When == JumpIfTrue {
		cond = "true"
	}
	pop := ""
	if jmpop.Pop {
		pop = " pop"
	}
	return fmt.Sprintf("Jump if %s to %d%s", cond, jmpop.Target, pop)
}
