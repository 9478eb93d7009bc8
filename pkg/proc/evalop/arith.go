package evalop

import (
	"errors"
	"fmt"
)

// ErrDivideByZero is returned by Div and Mod with a zero divisor.
var ErrDivideByZero = errors.New("division by zero")

// Mode controls the arithmetic of a running program. Values are machine
// words of PtrSize bytes; Signed selects two's complement division,
// remainder, right shift and comparisons.
type Mode struct {
	Signed  bool
	PtrSize int
}

// Mask truncates v to the word size of m.
func (m Mode) Mask(v uint64) uint64 {
	if m.PtrSize == 4 {
		return v & 0xffffffff
	}
	return v
}

func (m Mode) signed(v uint64) int64 {
	if m.PtrSize == 4 {
		return int64(int32(v))
	}
	return int64(v)
}

func boolToWord(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// UnaryOp applies op to x.
func UnaryOp(op Token, x uint64, mode Mode) (uint64, error) {
	switch op {
	case Sub:
		return mode.Mask(-x), nil
	case Add:
		return mode.Mask(x), nil
	case Not:
		return mode.Mask(^x), nil
	case LNot:
		return boolToWord(mode.Mask(x) == 0), nil
	}
	return 0, fmt.Errorf("unknown unary operator %s", op)
}

// BinaryOp applies op to x and y.
func BinaryOp(op Token, x, y uint64, mode Mode) (uint64, error) {
	x, y = mode.Mask(x), mode.Mask(y)
	sx, sy := mode.signed(x), mode.signed(y)
	switch op {
	case Add:
		return mode.Mask(x + y), nil
	case Sub:
		return mode.Mask(x - y), nil
	case Mul:
		return mode.Mask(x * y), nil
	case Div, Mod:
		if y == 0 {
			return 0, ErrDivideByZero
		}
		switch {
		case mode.Signed && op == Div:
			return mode.Mask(uint64(sx / sy)), nil
		case mode.Signed:
			return mode.Mask(uint64(sx % sy)), nil
		case op == Div:
			return x / y, nil
		default:
			return x % y, nil
		}
	case Shl:
		if y >= 64 {
			return 0, nil
		}
		return mode.Mask(x << y), nil
	case Shr:
		if mode.Signed {
			if y >= 64 {
				y = 63
			}
			return mode.Mask(uint64(sx >> y)), nil
		}
		if y >= 64 {
			return 0, nil
		}
		return x >> y, nil
	case And:
		return x & y, nil
	case Or:
		return x | y, nil
	case Xor:
		return x ^ y, nil
	case LAnd:
		return boolToWord(x != 0 && y != 0), nil
	case LOr:
		return boolToWord(x != 0 || y != 0), nil
	case Eql:
		return boolToWord(x == y), nil
	case Neq:
		return boolToWord(x != y), nil
	case Lss:
		if mode.Signed {
			return boolToWord(sx < sy), nil
		}
		return boolToWord(x < y), nil
	case Leq:
		if mode.Signed {
			return boolToWord(sx <= sy), nil
		}
		return boolToWord(x <= y), nil
	case Gtr:
		if mode.Signed {
			return boolToWord(sx > sy), nil
		}
		return boolToWord(x > y), nil
	case Geq:
		if mode.Signed {
			return boolToWord(sx >= sy), nil
		}
		return boolToWord(x >= y), nil
	}
	return 0, fmt.Errorf("unknown binary operator %s", op)
}
