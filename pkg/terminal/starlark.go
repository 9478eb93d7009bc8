package terminal

import (
	"github.com/go-delve/dbgval/pkg/terminal/starbind"
	"github.com/go-delve/dbgval/pkg/value"
)

// starlarkContext lets scripts reach the engine and the command table of a
// terminal.
type starlarkContext struct {
	term *Term
}

var _ starbind.Context = starlarkContext{}

func (ctx starlarkContext) Engine() *value.Engine {
	return ctx.term.engine
}

// RegisterCommand adds a script command, replacing a builtin with the same
// name or alias.
func (ctx starlarkContext) RegisterCommand(name, helpMsg string, fn func(args string) error) {
	ctx.term.cmds.Register(name, func(_ *Term, _ callContext, args string) error {
		return fn(args)
	}, helpMsg)
}

func (ctx starlarkContext) CallCommand(cmdstr string) error {
	return ctx.term.cmds.Call(cmdstr, ctx.term)
}
