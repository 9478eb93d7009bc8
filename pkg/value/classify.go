package value

import (
	"strconv"

	"github.com/go-delve/dbgval/pkg/proc"
)

// Kind is the category of a token that can be determined without a
// debuggee.
type Kind int

const (
	KindVariable Kind = iota // anything that is not a literal or a constant
	KindDecimal
	KindHex
	KindConstant
)

func (k Kind) String() string {
	switch k {
	case KindDecimal:
		return "decimal"
	case KindHex:
		return "hex"
	case KindConstant:
		return "constant"
	}
	return "variable"
}

// Classify returns the category of token and, for literals and constants,
// its value. Decimal literals start with '.', an optional '-' and digits;
// hex literals have an optional "0x" or "x" prefix. A literal that
// overflows 64 bits is classified but has no value.
func Classify(token string, arch proc.Arch, consts Constants) (Kind, uint64) {
	k, v, _ := classify(token, arch, consts)
	return k, v
}

func classify(token string, arch proc.Arch, consts Constants) (Kind, uint64, bool) {
	switch {
	case token == "":
		return KindVariable, 0, false
	case isDecNumber(token):
		v, ok := parseDecimal(token[1:])
		return KindDecimal, arch.PtrMask(v), ok
	case isHexNumber(token):
		v, err := strconv.ParseUint(trimHexPrefix(token), 16, 64)
		return KindHex, arch.PtrMask(v), err == nil
	}
	if consts != nil {
		if v, ok := consts.Constant(token); ok {
			return KindConstant, arch.PtrMask(v), true
		}
	}
	return KindVariable, 0, false
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isHexDigit(ch byte) bool {
	return isDigit(ch) || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')
}

func isDecNumber(s string) bool {
	if len(s) < 2 || s[0] != '.' {
		return false
	}
	s = s[1:]
	if s[0] == '-' {
		s = s[1:]
		if s == "" {
			return false
		}
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

func trimHexPrefix(s string) string {
	switch {
	case len(s) >= 2 && s[0] == '0' && s[1] == 'x':
		return s[2:]
	case len(s) >= 1 && s[0] == 'x':
		return s[1:]
	}
	return s
}

func isHexNumber(s string) bool {
	s = trimHexPrefix(s)
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isHexDigit(s[i]) {
			return false
		}
	}
	return true
}

// parseDecimal parses an unsigned decimal number. A leading '-' negates
// the value modulo 2^64.
func parseDecimal(s string) (uint64, bool) {
	neg := false
	if s != "" && s[0] == '-' {
		neg, s = true, s[1:]
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	if neg {
		v = -v
	}
	return v, true
}

// atoi parses the optionally negative leading decimal digits of s,
// ignoring anything after them. A string that does not start with a digit
// is 0. Negative numbers wrap, so that they are out of range for every
// register index.
func atoi(s string) uint64 {
	neg := false
	if s != "" && s[0] == '-' {
		neg, s = true, s[1:]
	}
	var v uint64
	for i := 0; i < len(s) && isDigit(s[i]); i++ {
		if v > 1<<32 {
			break
		}
		v = v*10 + uint64(s[i]-'0')
	}
	if neg {
		v = -v
	}
	return v
}
