package starbind

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"sync"
	"unicode"

	startime "go.starlark.net/lib/time"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"

	"github.com/go-delve/dbgval/pkg/value"
)

const (
	// globals named command_xxx become the terminal command xxx
	commandPrefix = "command_"
	cancelKey     = "dbgval_cancel"
)

func init() {
	resolve.AllowNestedDef = true
	resolve.AllowLambda = true
	resolve.AllowFloat = true
	resolve.AllowSet = true
	resolve.AllowBitwise = true
	resolve.AllowRecursion = true
	resolve.AllowGlobalReassign = true
}

// Context is the context in which starlark scripts are evaluated.
// It gives access to the expression engine and to the commands of the
// terminal.
type Context interface {
	Engine() *value.Engine
	RegisterCommand(name, helpMsg string, cmdfn func(args string) error)
	CallCommand(cmdstr string) error
}

// EchoWriter receives the output of scripts. Echo records the lines typed
// in the starlark REPL.
type EchoWriter interface {
	io.Writer
	Echo(string)
	Flush()
}

// Env is the environment used to evaluate starlark scripts.
type Env struct {
	globals starlark.StringDict
	doc     map[string]string
	ctx     Context
	out     EchoWriter
	loader  *loader

	mu      sync.Mutex
	running *starlark.Thread
	cancel  context.CancelFunc
}

// New creates a new starlark binding environment.
func New(ctx Context, out EchoWriter) *Env {
	env := &Env{ctx: ctx, out: out, doc: map[string]string{}}
	starlark.Universe["time"] = startime.Module
	env.globals = env.predeclare()
	env.loader = newLoader(env.globals)
	return env
}

// Execute runs the script at path, or source when it is not nil (a
// string, a []byte or an io.Reader). Globals named command_xxx are
// registered as terminal commands and capitalized globals stay visible to
// later scripts. The function called mainFnName, if the script defines
// one, is then called with args.
func (env *Env) Execute(path string, source interface{}, mainFnName string, args []interface{}) (ret starlark.Value, err error) {
	defer func() {
		if ierr := recover(); ierr != nil {
			err = fmt.Errorf("panic executing starlark script: %v", ierr)
			fmt.Fprintf(env.out, "%v\n%s", err, debug.Stack())
		}
	}()

	thread := env.newThread()
	globals, err := starlark.ExecFile(thread, path, source, env.globals)
	if err != nil {
		return starlark.None, err
	}
	env.export(globals)

	if mainFnName == "" || globals[mainFnName] == nil {
		return starlark.None, nil
	}
	mainfn, ok := globals[mainFnName].(*starlark.Function)
	if !ok {
		return starlark.None, fmt.Errorf("%s is not a function", mainFnName)
	}
	if mainfn.NumParams() != len(args) {
		return starlark.None, fmt.Errorf("%s takes %d arguments, %d given", mainFnName, mainfn.NumParams(), len(args))
	}
	argtuple := make(starlark.Tuple, len(args))
	for i := range args {
		argtuple[i] = env.toStarlark(args[i])
	}
	return starlark.Call(thread, mainfn, argtuple, nil)
}

func (env *Env) export(globals starlark.StringDict) {
	for _, name := range globals.Keys() {
		val := globals[name]
		if strings.HasPrefix(name, commandPrefix) {
			if fn, ok := val.(*starlark.Function); ok {
				env.registerCommand(name[len(commandPrefix):], fn)
			}
			continue
		}
		if unicode.IsUpper(rune(name[0])) {
			env.globals[name] = val
		}
	}
}

// registerCommand turns fn into a terminal command. A function with a
// single parameter called args receives the command line verbatim,
// otherwise the command line is evaluated as its argument list.
func (env *Env) registerCommand(name string, fn *starlark.Function) {
	helpMsg := fn.Doc()
	if helpMsg == "" {
		helpMsg = "user defined"
	}
	raw := false
	if fn.NumParams() == 1 {
		p0, _ := fn.Param(0)
		raw = p0 == "args"
	}

	env.ctx.RegisterCommand(name, helpMsg, func(args string) error {
		thread := env.newThread()
		var argtuple starlark.Tuple
		switch {
		case raw:
			argtuple = starlark.Tuple{starlark.String(args)}
		case strings.TrimSpace(args) != "":
			v, err := starlark.Eval(thread, "<input>", "("+args+",)", env.globals)
			if err != nil {
				return err
			}
			argtuple = v.(starlark.Tuple)
		}
		_, err := starlark.Call(thread, fn, argtuple, nil)
		return err
	})
}

// Cancel stops the script or function currently running.
func (env *Env) Cancel() {
	if env == nil {
		return
	}
	env.mu.Lock()
	defer env.mu.Unlock()
	if env.cancel != nil {
		env.cancel()
		env.cancel = nil
	}
	if env.running != nil {
		env.running.Cancel("user interrupt")
	}
}

func (env *Env) newThread() *starlark.Thread {
	ctx, cancel := context.WithCancel(context.Background())
	thread := &starlark.Thread{
		Print: func(_ *starlark.Thread, msg string) { fmt.Fprintln(env.out, msg) },
		Load:  env.loader.load,
	}
	thread.SetLocal(cancelKey, ctx)
	env.mu.Lock()
	env.running, env.cancel = thread, cancel
	env.mu.Unlock()
	return thread
}

func checkCancelled(thread *starlark.Thread) error {
	ctx, ok := thread.Local(cancelKey).(context.Context)
	if !ok {
		return nil
	}
	return ctx.Err()
}

// withPosition prefixes err with the script position of the caller.
func withPosition(thread *starlark.Thread, err error) error {
	if err == nil {
		return nil
	}
	pos := thread.CallFrame(1).Pos
	if pos.Col > 0 {
		return fmt.Errorf("%s:%d:%d: %v", pos.Filename(), pos.Line, pos.Col, err)
	}
	return fmt.Errorf("%s:%d: %v", pos.Filename(), pos.Line, err)
}

// loader loads starlark modules once, modules see the predeclared names
// of the environment.
type loader struct {
	predeclared starlark.StringDict

	mu    sync.Mutex
	cache map[string]*loadResult
}

type loadResult struct {
	globals starlark.StringDict
	err     error
}

func newLoader(predeclared starlark.StringDict) *loader {
	return &loader{predeclared: predeclared, cache: map[string]*loadResult{}}
}

func (l *loader) load(thread *starlark.Thread, module string) (starlark.StringDict, error) {
	l.mu.Lock()
	r, seen := l.cache[module]
	if seen {
		l.mu.Unlock()
		if r == nil {
			return nil, fmt.Errorf("cycle in load graph at %s", module)
		}
		return r.globals, r.err
	}
	l.cache[module] = nil
	l.mu.Unlock()

	child := &starlark.Thread{Name: "load " + module, Print: thread.Print, Load: l.load}
	child.SetLocal(cancelKey, thread.Local(cancelKey))
	globals, err := starlark.ExecFile(child, module, nil, l.predeclared)

	l.mu.Lock()
	l.cache[module] = &loadResult{globals, err}
	l.mu.Unlock()
	return globals, err
}
