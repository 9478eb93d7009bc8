// Package value resolves the operands of debugger expressions: numbers,
// named constants, registers, flags, FPU and SIMD fields, memory
// references, module exports, labels, symbols and user variables. It also
// implements the inverse operation, assigning a value to any of them.
//
// Resolve and Assign are the two entry points. Resolve compiles the whole
// expression with evalop and calls ResolveNoExpr for every operand.
package value

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/go-delve/dbgval/pkg/logflags"
	"github.com/go-delve/dbgval/pkg/proc"
)

// Notifier receives the view refresh requests issued after a write.
type Notifier interface {
	UpdateAllViews()
	UpdatePatches()
	UpdateRegisterView()
	UpdateStack(csp uint64)
	// FollowIP is called after the instruction pointer was written.
	FollowIP(cip uint64)
	// TraceExecute records a manual change of the instruction pointer in
	// the execution trace.
	TraceExecute(cip uint64)
}

// NopNotifier ignores every notification.
type NopNotifier struct{}

func (NopNotifier) UpdateAllViews()     {}
func (NopNotifier) UpdatePatches()      {}
func (NopNotifier) UpdateRegisterView() {}
func (NopNotifier) UpdateStack(uint64)  {}
func (NopNotifier) FollowIP(uint64)     {}
func (NopNotifier) TraceExecute(uint64) {}

// Selection reports the start of the selection of the disassembly view,
// used as the module of "module:export" references with an empty module.
type Selection interface {
	DisassemblySelection() uint64
}

// SelectionFunc adapts a function to the Selection interface.
type SelectionFunc func() uint64

func (f SelectionFunc) DisassemblySelection() uint64 { return f() }

// Hook can claim tokens before they reach the export, label, symbol and
// module stages of the read path, or before they become user variables on
// the write path.
type Hook interface {
	ResolveToken(tok string) (uint64, bool)
	AssignToken(tok string, v uint64) bool
}

// HookFuncs adapts a pair of functions to the Hook interface. A nil
// function never claims a token.
type HookFuncs struct {
	Resolve func(tok string) (uint64, bool)
	Assign  func(tok string, v uint64) bool
}

func (h HookFuncs) ResolveToken(tok string) (uint64, bool) {
	if h.Resolve == nil {
		return 0, false
	}
	return h.Resolve(tok)
}

func (h HookFuncs) AssignToken(tok string, v uint64) bool {
	if h.Assign == nil {
		return false
	}
	return h.Assign(tok, v)
}

// Config contains the collaborators of an Engine. Every field is optional.
type Config struct {
	// Target is the debuggee. A nil Target behaves like a detached one.
	Target    proc.Target
	Variables Variables
	Constants Constants
	Selection Selection
	Notifier  Notifier
	// Console receives the messages printed by non silent calls.
	Console io.Writer
	Hooks   []Hook

	SignedCalc bool
	// MaxAPIMatches limits the number of additional matches printed for an
	// ambiguous export name, 0 means no limit.
	MaxAPIMatches int
}

// Engine resolves and assigns expression operands.
type Engine struct {
	target        proc.Target
	vars          Variables
	consts        Constants
	sel           Selection
	notify        Notifier
	console       io.Writer
	maxAPIMatches int

	hooksMu sync.RWMutex
	hooks   []Hook

	signed int32
}

// New returns a new Engine.
func New(cfg Config) *Engine {
	e := &Engine{
		target:        cfg.Target,
		vars:          cfg.Variables,
		consts:        cfg.Constants,
		sel:           cfg.Selection,
		notify:        cfg.Notifier,
		console:       cfg.Console,
		maxAPIMatches: cfg.MaxAPIMatches,
		hooks:         append([]Hook(nil), cfg.Hooks...),
	}
	if e.vars == nil {
		vt := NewVarTable()
		vt.SetPtrSize(e.Arch().PtrSize())
		e.vars = vt
	}
	if e.consts == nil {
		e.consts = ConstTable{}
	}
	if e.notify == nil {
		e.notify = NopNotifier{}
	}
	if e.console == nil {
		e.console = io.Discard
	}
	e.SetSignedCalc(cfg.SignedCalc)
	return e
}

// Target returns the debuggee of e.
func (e *Engine) Target() proc.Target {
	return e.target
}

// Variables returns the user variables of e.
func (e *Engine) Variables() Variables {
	return e.vars
}

// AddHook registers h after the hooks already registered. The first hook
// claiming a token wins.
func (e *Engine) AddHook(h Hook) {
	e.hooksMu.Lock()
	e.hooks = append(e.hooks, h)
	e.hooksMu.Unlock()
}

func (e *Engine) hookList() []Hook {
	e.hooksMu.RLock()
	defer e.hooksMu.RUnlock()
	return e.hooks
}

// SetSignedCalc selects signed (true) or unsigned arithmetic for division,
// remainder, right shifts and comparisons.
func (e *Engine) SetSignedCalc(signed bool) {
	var v int32
	if signed {
		v = 1
	}
	atomic.StoreInt32(&e.signed, v)
}

// SignedCalc returns the arithmetic mode set by SetSignedCalc.
func (e *Engine) SignedCalc() bool {
	return atomic.LoadInt32(&e.signed) != 0
}

// SetMaxAPIMatches limits the alternative matches listed when an export
// name is ambiguous. Zero lists all of them.
func (e *Engine) SetMaxAPIMatches(n int) {
	e.maxAPIMatches = n
}

// Debugging reports whether a debug session is active.
func (e *Engine) Debugging() bool {
	return e.target != nil && e.target.Attached()
}

// Arch returns the architecture of the target, x64 without a target.
func (e *Engine) Arch() proc.Arch {
	if e.target == nil {
		return proc.X64
	}
	return e.target.Arch()
}

func (e *Engine) thread() (proc.Thread, error) {
	if !e.Debugging() {
		return nil, ErrNotDebugging
	}
	return e.target.CurrentThread()
}

func (e *Engine) printf(silent bool, format string, args ...interface{}) {
	if silent {
		return
	}
	fmt.Fprintf(e.console, format, args...)
}

func (e *Engine) log() logflags.Logger {
	return logflags.ValueLogger()
}
