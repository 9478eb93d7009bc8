package starbind

import (
	"errors"
	"fmt"
	"io/ioutil"
	"math/big"
	"sort"
	"strings"

	"github.com/holiman/uint256"
	"go.starlark.net/starlark"

	"github.com/go-delve/dbgval/pkg/proc"
	"github.com/go-delve/dbgval/pkg/value"
)

var errNotDebugging = errors.New("not debugging")

// ResolveIn are the arguments of resolve.
type ResolveIn struct {
	Expr        string
	AllowAssign bool
	Silent      bool
	BaseOnly    bool
}

// AssignIn are the arguments of assign. Value is an integer, possibly
// wider than 64 bits for vector registers, or an expression string.
type AssignIn struct {
	Token  string
	Value  starlark.Value
	Silent bool
}

// ReadMemoryIn are the arguments of read_memory.
type ReadMemoryIn struct {
	Addr uint64
	Len  int
}

// RegisterIn are the arguments of read_register.
type RegisterIn struct {
	Name string
}

// FileOffsetIn are the arguments of file_offset_to_va.
type FileOffsetIn struct {
	Module string
	Offset uint64
}

// AddrIn are the arguments of va_to_file_offset.
type AddrIn struct {
	Addr uint64
}

// SignedIn are the arguments of signed_calc.
type SignedIn struct {
	Enable bool
}

// ReadFileIn are the arguments of read_file.
type ReadFileIn struct {
	Path string
}

// WriteFileIn are the arguments of write_file.
type WriteFileIn struct {
	Path string
	Text starlark.Value
}

type builtinFn func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error)

func (env *Env) predeclare() starlark.StringDict {
	r := starlark.StringDict{}

	add := func(name, args, descr string, fn builtinFn) {
		r[name] = starlark.NewBuiltin(name, func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := checkCancelled(thread); err != nil {
				return starlark.None, withPosition(thread, err)
			}
			ret, err := fn(thread, args, kwargs)
			if err != nil {
				return starlark.None, withPosition(thread, err)
			}
			return env.toStarlark(ret), nil
		})
		env.doc[name] = "builtin " + name + args + "\n\n" + descr
	}

	add("dbgval_command", "(Command, Args...)", "dbgval_command executes a terminal command, the arguments are joined with spaces.", func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		if len(kwargs) > 0 {
			return nil, errors.New("dbgval_command does not take keyword arguments")
		}
		words := make([]string, len(args))
		for i := range args {
			s, ok := starlark.AsString(args[i])
			if !ok {
				return nil, fmt.Errorf("argument %d of dbgval_command is not a string", i)
			}
			words[i] = s
		}
		return nil, env.ctx.CallCommand(strings.Join(words, " "))
	})

	add("read_file", "(Path)", "read_file returns the contents of a file as a string.", func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		var in ReadFileIn
		if err := unpackArgs(args, kwargs, &in); err != nil {
			return nil, err
		}
		buf, err := ioutil.ReadFile(in.Path)
		if err != nil {
			return nil, err
		}
		return string(buf), nil
	})

	add("write_file", "(Path, Text)", "write_file writes Text to a file, replacing its contents.", func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		var in WriteFileIn
		if err := unpackArgs(args, kwargs, &in); err != nil {
			return nil, err
		}
		text, ok := starlark.AsString(in.Text)
		if !ok && in.Text != nil {
			text = in.Text.String()
		}
		return nil, ioutil.WriteFile(in.Path, []byte(text), 0640)
	})

	add("help", "(Object)", "help prints the documentation of a builtin or a function, or the list of builtins.", func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		if len(args) > 1 || len(kwargs) > 0 {
			return nil, errors.New("help takes at most one argument")
		}
		if len(args) == 0 {
			names := make([]string, 0, len(env.doc))
			for name := range env.doc {
				names = append(names, name)
			}
			sort.Strings(names)
			fmt.Fprintf(env.out, "Available builtins:\n\t%s\n", strings.Join(names, "\n\t"))
			return nil, nil
		}
		switch x := args[0].(type) {
		case *starlark.Builtin:
			if d := env.doc[x.Name()]; d != "" {
				fmt.Fprintln(env.out, d)
			} else {
				fmt.Fprintf(env.out, "no help for builtin %s\n", x.Name())
			}
		case *starlark.Function:
			fmt.Fprintf(env.out, "user defined function %s\n", x.Name())
			if d := x.Doc(); d != "" {
				fmt.Fprintln(env.out, d)
			}
		default:
			fmt.Fprintf(env.out, "no help for %s\n", args[0].Type())
		}
		return nil, nil
	})

	add("resolve", "(Expr, AllowAssign, Silent, BaseOnly)", "resolve evaluates Expr and returns its value with the metadata of a lone operand (Size, IsVar, Hex).", func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		var in ResolveIn
		if err := unpackArgs(args, kwargs, &in); err != nil {
			return nil, err
		}
		return env.ctx.Engine().Resolve(in.Expr, value.ResolveOptions{AllowAssign: in.AllowAssign, Silent: in.Silent, BaseOnly: in.BaseOnly})
	})

	add("assign", "(Token, Value, Silent)", "assign writes Value to Token, a register, flag, FPU field, memory reference or variable.\nValue can be an integer or an expression.", func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		var in AssignIn
		if err := unpackArgs(args, kwargs, &in); err != nil {
			return nil, err
		}
		e := env.ctx.Engine()
		switch v := in.Value.(type) {
		case starlark.Int:
			wide, err := toUint256(v)
			if err != nil {
				return nil, err
			}
			return nil, e.AssignWide(in.Token, wide, in.Silent)
		case starlark.String:
			res, err := e.Resolve(string(v), value.ResolveOptions{Silent: in.Silent})
			if err != nil {
				return nil, err
			}
			return nil, e.Assign(in.Token, res.Value, in.Silent)
		case nil:
			return nil, fmt.Errorf("missing argument Value")
		}
		return nil, fmt.Errorf("can not assign a %s", in.Value.Type())
	})

	add("read_memory", "(Addr, Len)", "read_memory returns Len bytes of memory starting at Addr.", func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		var in ReadMemoryIn
		if err := unpackArgs(args, kwargs, &in); err != nil {
			return nil, err
		}
		t := env.ctx.Engine().Target()
		if t == nil || !t.Attached() {
			return nil, errNotDebugging
		}
		if in.Len < 0 || in.Len > 1<<20 {
			return nil, fmt.Errorf("invalid length %d", in.Len)
		}
		buf := make([]byte, in.Len)
		n, err := t.Memory().ReadMemory(buf, in.Addr)
		if err != nil {
			return nil, err
		}
		return buf[:n], nil
	})

	add("read_register", "(Name)", "read_register returns the value of a general purpose, x87, MMX, SSE, AVX or AVX-512 register.", func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		var in RegisterIn
		if err := unpackArgs(args, kwargs, &in); err != nil {
			return nil, err
		}
		e := env.ctx.Engine()
		if e.IsRegister(in.Name) {
			v, _, err := e.Register(in.Name)
			return v, err
		}
		v, _, err := e.ReadVector(in.Name)
		return v, err
	})

	add("modules", "()", "modules returns the list of loaded modules.", func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		t := env.ctx.Engine().Target()
		if t == nil || !t.Attached() {
			return nil, errNotDebugging
		}
		var mods []proc.Module
		tbl := t.Modules()
		l := tbl.RLocker()
		l.Lock()
		tbl.Enum(func(m *proc.Module) {
			mods = append(mods, *m)
		})
		l.Unlock()
		return mods, nil
	})

	add("file_offset_to_va", "(Module, Offset)", "file_offset_to_va converts an offset in the file of Module to a virtual address.", func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		var in FileOffsetIn
		if err := unpackArgs(args, kwargs, &in); err != nil {
			return nil, err
		}
		va, ok := env.ctx.Engine().FileOffsetToVA(in.Module, in.Offset)
		if !ok {
			return nil, nil
		}
		return va, nil
	})

	add("va_to_file_offset", "(Addr)", "va_to_file_offset converts a virtual address to an offset in the file of its module.", func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		var in AddrIn
		if err := unpackArgs(args, kwargs, &in); err != nil {
			return nil, err
		}
		off, ok := env.ctx.Engine().VAToFileOffset(in.Addr)
		if !ok {
			return nil, nil
		}
		return off, nil
	})

	add("signed_calc", "(Enable)", "signed_calc selects signed or unsigned division, shifts and comparisons and returns the previous setting.", func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		e := env.ctx.Engine()
		old := e.SignedCalc()
		if len(args) == 0 && len(kwargs) == 0 {
			return old, nil
		}
		var in SignedIn
		if err := unpackArgs(args, kwargs, &in); err != nil {
			return nil, err
		}
		e.SetSignedCalc(in.Enable)
		return old, nil
	})

	return r
}

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// toUint256 converts a starlark integer to 256 bits, negative numbers are
// converted to their two's complement.
func toUint256(v starlark.Int) (*uint256.Int, error) {
	if u, ok := v.Uint64(); ok {
		return uint256.NewInt(u), nil
	}
	b := v.BigInt()
	if b.Sign() < 0 {
		if b.BitLen() > 64 {
			return nil, fmt.Errorf("value %s out of range", v)
		}
		return uint256.NewInt(uint64(b.Int64())), nil
	}
	if b.Cmp(maxUint256) > 0 {
		return nil, fmt.Errorf("value %s does not fit in 256 bits", v)
	}
	r, _ := uint256.FromBig(b)
	return r, nil
}
