package starbind

import (
	"bytes"
	"strings"
	"testing"

	"github.com/go-delve/dbgval/pkg/proc/core"
	"github.com/go-delve/dbgval/pkg/value"
)

const testSnapshot = `
arch: x64
teb: 0x7ff000
registers:
  rax: 0x10
  rip: 0x401000
  rsp: 0x1000
memory:
- addr: 0x1000
  size: 0x100
  data: "78563412 00100000"
- addr: 0x7ff000
  size: 0x2000
modules:
- name: kernel32.dll
  base: 0x76000000
  size: 0x100000
  entry: 0x76010000
  ordinal-base: 1
  exports:
  - name: Sleep
    rva: 0x4000
  sections:
  - name: .text
    rva: 0x1000
    vsize: 0x5000
    raw-offset: 0x400
    raw-size: 0x5000
`

type echoBuffer struct {
	bytes.Buffer
}

func (b *echoBuffer) Echo(string) {}
func (b *echoBuffer) Flush()      {}

type fakeContext struct {
	e        *value.Engine
	cmds     map[string]func(string) error
	executed []string
}

func (ctx *fakeContext) Engine() *value.Engine { return ctx.e }

func (ctx *fakeContext) RegisterCommand(name, helpMsg string, cmdfn func(args string) error) {
	ctx.cmds[name] = cmdfn
}

func (ctx *fakeContext) CallCommand(cmdstr string) error {
	ctx.executed = append(ctx.executed, cmdstr)
	return nil
}

func newTestEnv(t *testing.T) (*Env, *fakeContext, *echoBuffer) {
	p, err := core.Load([]byte(testSnapshot), 0)
	if err != nil {
		t.Fatalf("could not load snapshot: %v", err)
	}
	ctx := &fakeContext{e: value.New(value.Config{Target: p}), cmds: map[string]func(string) error{}}
	out := new(echoBuffer)
	return New(ctx, out), ctx, out
}

func exec(t *testing.T, env *Env, script string) {
	t.Helper()
	if _, err := env.Execute("<test>", script, "main", nil); err != nil {
		t.Fatalf("script failed: %v\n%s", err, script)
	}
}

func TestResolveAssign(t *testing.T) {
	env, _, out := newTestEnv(t)
	exec(t, env, `
def main():
	r = resolve("rax+1")
	print(hex(r.Value))
	r = resolve("rax")
	print(r.Size, r.IsVar, r.Hex)
	assign("rax", 5)
	print(read_register("rax"))
	assign("rbx", "rax*2")
	print(resolve("rbx").Value)
	resolve("rcx=7", AllowAssign=True)
	print(read_register("rcx"))
	print(hex(resolve("kernel32:Sleep").Value))
`)
	want := "0x11\n8 True False\n5\n10\n7\n0x76004000\n"
	if got := out.String(); got != want {
		t.Errorf("output %q, expected %q", got, want)
	}
}

func TestWideRegisters(t *testing.T) {
	env, ctx, out := newTestEnv(t)
	exec(t, env, `
def main():
	assign("_YMM1", 1 << 200)
	print(read_register("YMM1") == 1 << 200)
	print(resolve("_YMM1").Value)
`)
	if got := out.String(); got != "True\n0\n" {
		t.Errorf("output %q", got)
	}
	v, size, err := ctx.e.ReadVector("YMM1")
	if err != nil || size != 32 || v.BitLen() != 201 {
		t.Errorf("YMM1 = %v %d %v", v, size, err)
	}
}

func TestReadMemoryModules(t *testing.T) {
	env, _, out := newTestEnv(t)
	exec(t, env, `
def main():
	print(read_memory(0x1000, 4) == b"\x78\x56\x34\x12")
	mods = modules()
	print(len(mods), mods[0].Name, mods[0].Ext, hex(mods[0].Base))
	print(mods[0].Exports[0].Name)
	print(hex(file_offset_to_va("kernel32", 0x500)))
	print(hex(va_to_file_offset(0x76001100)))
	print(va_to_file_offset(0x10))
`)
	want := "True\n1 kernel32 .dll 0x76000000\nSleep\n0x76001100\n0x500\nNone\n"
	if got := out.String(); got != want {
		t.Errorf("output %q, expected %q", got, want)
	}
}

func TestSignedCalc(t *testing.T) {
	env, ctx, out := newTestEnv(t)
	exec(t, env, `
def main():
	print(signed_calc(True))
	print(signed_calc())
	print(hex(resolve("-2/2").Value))
`)
	if got := out.String(); got != "False\nTrue\n0xffffffffffffffff\n" {
		t.Errorf("output %q", got)
	}
	if !ctx.e.SignedCalc() {
		t.Errorf("signed arithmetic not enabled")
	}
}

func TestErrors(t *testing.T) {
	env, _, _ := newTestEnv(t)
	for _, script := range []string{
		`resolve("nosuchname", Silent=True)`,
		`assign("$pid", 1)`,
		`read_register("nosuchreg")`,
		`read_memory(0x50000, 4)`,
		`assign("rax", 1 << 300)`,
	} {
		if _, err := env.Execute("<test>", script, "", nil); err == nil {
			t.Errorf("%s: no error", script)
		}
	}
}

func TestCommands(t *testing.T) {
	env, ctx, out := newTestEnv(t)
	exec(t, env, `
def command_double(args):
	"doubles a register"
	assign(args, resolve(args).Value * 2)

def main():
	dbgval_command("eval", "rax")
`)
	if len(ctx.executed) != 1 || ctx.executed[0] != "eval rax" {
		t.Errorf("executed %q", ctx.executed)
	}
	cmd := ctx.cmds["double"]
	if cmd == nil {
		t.Fatalf("command not registered")
	}
	if err := cmd("rax"); err != nil {
		t.Fatal(err)
	}
	if v, _, _ := ctx.e.Register("rax"); v != 0x20 {
		t.Errorf("rax = %#x", v)
	}

	out.Reset()
	exec(t, env, `help(resolve)`)
	if !strings.HasPrefix(out.String(), "builtin resolve(Expr") {
		t.Errorf("help output %q", out.String())
	}
}
