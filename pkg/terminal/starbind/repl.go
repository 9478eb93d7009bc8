package starbind

// Code in this file is derived from go.starlark.net/repl/repl.go
// Which is licensed under the following copyright:
//
// Copyright (c) 2017 The Bazel Authors.  All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are
// met:
//
// 1. Redistributions of source code must retain the above copyright
//    notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
//    notice, this list of conditions and the following disclaimer in the
//    documentation and/or other materials provided with the
//    distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
//    contributors may be used to endorse or promote products derived
//    from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS
// "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT
// LIMITED TO, THE IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR
// A PARTICULAR PURPOSE ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT
// HOLDER OR CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT
// LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR SERVICES; LOSS OF USE,
// DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER CAUSED AND ON ANY
// THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT
// (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

import (
	"fmt"
	"io"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/go-delve/liner"

	"github.com/go-delve/dbgval/pkg/value"
)

const (
	normalPrompt = ">>> "
	extraPrompt  = "... "

	exitCommand = "exit"

	// lines starting with exprPrefix are debugger expressions
	exprPrefix = "?"
)

// replSession is the state of one starlark REPL.
type replSession struct {
	env     *Env
	rl      *liner.State
	thread  *starlark.Thread
	globals starlark.StringDict
}

// REPL reads and executes starlark statements until exit or end of input.
// The globals it defines are exported like the ones of a script.
func (env *Env) REPL() error {
	s := &replSession{
		env:     env,
		rl:      liner.NewLiner(),
		thread:  env.newThread(),
		globals: make(starlark.StringDict, len(env.globals)),
	}
	defer s.rl.Close()
	for k, v := range env.globals {
		s.globals[k] = v
	}

	for {
		if err := checkCancelled(s.thread); err != nil {
			return err
		}
		err := s.step()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	fmt.Fprintln(env.out)
	env.export(s.globals)
	return nil
}

// step reads one, possibly multiline, statement and executes it. Only
// failures to read the terminal are returned, starlark errors are printed.
func (s *replSession) step() error {
	out := s.env.out
	defer out.Flush()

	prompt := normalPrompt
	eof := false
	readline := func() ([]byte, error) {
		line, err := s.rl.Prompt(prompt)
		out.Echo(prompt + line)
		if err != nil {
			eof = err == io.EOF
			return nil, err
		}
		if prompt == normalPrompt {
			switch {
			case line == exitCommand:
				eof = true
				return nil, io.EOF
			case strings.HasPrefix(line, exprPrefix):
				s.rl.AppendHistory(line)
				s.env.evalExpr(strings.TrimSpace(line[len(exprPrefix):]))
				return []byte("\n"), nil
			}
		}
		s.rl.AppendHistory(line)
		prompt = extraPrompt
		return []byte(line + "\n"), nil
	}

	f, err := syntax.ParseCompoundStmt("<stdin>", readline)
	if err != nil {
		if eof {
			return io.EOF
		}
		s.env.printError(err)
		return nil
	}

	if len(f.Stmts) == 1 {
		if stmt, ok := f.Stmts[0].(*syntax.ExprStmt); ok {
			v, err := starlark.EvalExpr(s.thread, stmt.X, s.globals)
			if err != nil {
				s.env.printError(err)
			} else if v != starlark.None {
				fmt.Fprintln(out, v)
			}
			return nil
		}
	}

	prog, err := starlark.FileProgram(f, s.globals.Has)
	if err != nil {
		s.env.printError(err)
		return nil
	}
	// globals defined before a failure are kept
	res, err := prog.Init(s.thread, s.globals)
	if err != nil {
		s.env.printError(err)
	}
	for k, v := range res {
		s.globals[k] = v
	}
	return nil
}

// evalExpr prints the value of a debugger expression.
func (env *Env) evalExpr(expr string) {
	res, err := env.ctx.Engine().Resolve(expr, value.ResolveOptions{AllowAssign: true})
	if err != nil {
		env.printError(err)
		return
	}
	fmt.Fprintf(env.out, "%#x\n", res.Value)
}

// printError prints err, with the starlark backtrace when there is one.
func (env *Env) printError(err error) {
	if evalErr, ok := err.(*starlark.EvalError); ok {
		fmt.Fprintln(env.out, evalErr.Backtrace())
		return
	}
	fmt.Fprintln(env.out, err)
}
