package value

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-delve/dbgval/pkg/proc/evalop"
	"github.com/go-delve/dbgval/pkg/regnum"
)

// ResolveOptions controls Resolve and ResolveNoExpr.
type ResolveOptions struct {
	// AllowAssign accepts assignment operators in the expression.
	AllowAssign bool
	// Silent suppresses console messages.
	Silent bool
	// BaseOnly stops the resolution chain before exports, labels, symbols
	// and modules.
	BaseOnly bool
}

// Result is a resolved value. Size, IsVar and Hex are only set for
// expressions consisting of a single operand.
type Result struct {
	Value uint64
	// Size is the size of the operand in bytes, 0 for literals, constants
	// and flags.
	Size int
	// IsVar is set for operands that can be assigned: registers, flags,
	// memory references and user variables.
	IsVar bool
	// Hex is set when the value is an address and is better displayed in
	// hexadecimal.
	Hex bool
}

// Resolve evaluates expr. An empty expression evaluates to 0.
func (e *Engine) Resolve(expr string, opts ResolveOptions) (Result, error) {
	if strings.TrimSpace(expr) == "" {
		return Result{}, nil
	}
	ops, err := evalop.Compile(expr, opts.AllowAssign)
	if err != nil {
		e.log().Debugf("compiling %q: %v", expr, err)
		return Result{}, err
	}
	if leaf, ok := evalop.IsSingleLeaf(ops); ok {
		return e.ResolveNoExpr(leaf, opts)
	}
	stack := &evalStack{e: e, opts: opts, mode: e.mode()}
	v, err := stack.run(ops)
	if err != nil {
		return Result{}, err
	}
	return Result{Value: v}, nil
}

// ResolveNoExpr resolves a single operand. The stages are tried in order:
//
//  1. decimal and hex literals, named constants
//  2. memory references
//  3. user variables
//  4. registers
//  5. flags and FPU fields ("_ZF", "_x87SW_TOP", "_XMM0")
//  6. hooks
//  7. exports, labels, symbols, "sub_" function starts and modules,
//     unless opts.BaseOnly is set
func (e *Engine) ResolveNoExpr(token string, opts ResolveOptions) (Result, error) {
	if token == "" {
		return Result{}, tokenError(token, ErrUnknownToken)
	}
	arch := e.Arch()

	switch kind, v, ok := classify(token, arch, e.consts); {
	case kind == KindVariable:
	case !ok:
		e.printf(opts.Silent, "Invalid value: \"%s\"!\n", token)
		return Result{}, tokenError(token, fmt.Errorf("%w: %s literal out of range", ErrUnknownToken, kind))
	default:
		e.log().Debugf("%q is a %s", token, kind)
		return Result{Value: v}, nil
	}

	if isMemRef(token, arch) {
		return e.readMemRef(token, opts)
	}

	if v, size, ok := e.vars.Get(token); ok {
		return Result{Value: v, Size: size, IsVar: true}, nil
	}

	if a, ok := regnum.Lookup(token, arch.Is64()); ok {
		if !e.Debugging() {
			e.printf(opts.Silent, "Not debugging!\n")
			return Result{IsVar: true}, nil
		}
		v, size, err := e.readRegister(a)
		if err != nil {
			return Result{}, tokenError(token, err)
		}
		return Result{Value: v, Size: size, IsVar: true}, nil
	}

	if len(token) > 1 && token[0] == '_' {
		if res, ok, err := e.resolveUnderscore(token, opts); ok || err != nil {
			return res, err
		}
	}

	found := func(v uint64) (Result, error) {
		return Result{Value: v, Size: arch.PtrSize(), Hex: true}, nil
	}

	for _, h := range e.hookList() {
		if v, ok := h.ResolveToken(token); ok {
			e.log().Debugf("%q resolved by hook", token)
			return found(v)
		}
	}

	if opts.BaseOnly {
		return Result{}, tokenError(token, ErrUnknownToken)
	}

	if v, ok := e.resolveAPI(token, opts.Silent); ok {
		return found(v)
	}

	if e.Debugging() {
		if labels := e.target.Labels(); labels != nil {
			if v, ok := labels.LabelFromName(token); ok {
				return found(v)
			}
		}
		if syms := e.target.Symbols(); syms != nil {
			if v, ok := syms.AddrFromName(token); ok {
				return found(v)
			}
		}
		if len(token) > 4 && strings.HasPrefix(token, "sub_") {
			if addr, ok := e.functionStart(token[4:]); ok {
				return found(addr)
			}
			return Result{}, tokenError(token, fmt.Errorf("%w: not the start of a function", ErrUnknownToken))
		}
		if v, ok := e.moduleBase(token); ok {
			return found(v)
		}
	}

	e.printf(opts.Silent, "Invalid value: \"%s\"!\n", token)
	return Result{}, tokenError(token, ErrUnknownToken)
}

// resolveUnderscore resolves "_"-prefixed flags and FPU fields. The second
// result is false if token names neither.
func (e *Engine) resolveUnderscore(token string, opts ResolveOptions) (Result, bool, error) {
	name := token[1:]
	if IsFlag(name) {
		if !e.Debugging() {
			e.printf(opts.Silent, "Not debugging!\n")
			return Result{IsVar: true}, true, nil
		}
		set, err := e.Flag(name)
		if err != nil {
			return Result{}, true, tokenError(token, err)
		}
		var v uint64
		if set {
			v = 1
		}
		return Result{Value: v, IsVar: true}, true, nil
	}
	if !e.Debugging() {
		if !isFPUField(name, e.Arch().Is64()) {
			return Result{}, false, nil
		}
		e.printf(opts.Silent, "Not debugging!\n")
		return Result{IsVar: true}, true, nil
	}
	v, size, recognized, err := e.readFPUField(name)
	if !recognized {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, true, tokenError(token, err)
	}
	return Result{Value: v, Size: size, IsVar: true}, true, nil
}

// functionStart parses the hex address of a "sub_" token and checks that a
// function starts there.
func (e *Engine) functionStart(hex string) (uint64, bool) {
	addr, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return 0, false
	}
	funcs := e.target.Functions()
	if funcs == nil {
		return 0, false
	}
	start, ok := funcs.FunctionStart(addr)
	return addr, ok && start == addr
}

func (e *Engine) moduleBase(name string) (uint64, bool) {
	modules := e.target.Modules()
	lock := modules.RLocker()
	lock.Lock()
	defer lock.Unlock()
	base := modules.BaseFromName(name)
	return base, base != 0
}

func (e *Engine) mode() evalop.Mode {
	return evalop.Mode{Signed: e.SignedCalc(), PtrSize: e.Arch().PtrSize()}
}
