package terminal

import (
	"bytes"
	"flag"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/go-delve/dbgval/pkg/config"
	"github.com/go-delve/dbgval/pkg/logflags"
	"github.com/go-delve/dbgval/pkg/proc/core"
	"github.com/go-delve/dbgval/pkg/value"
)

func TestMain(m *testing.M) {
	var logConf string
	flag.StringVar(&logConf, "log", "", "configures logging")
	flag.Parse()
	logflags.Setup(logConf != "", logConf, "")
	os.Exit(m.Run())
}

const testSnapshot = `
arch: x64
teb: 0x7ff000
registers:
  rax: 0x10
  rbx: 0x3
  rip: 0x401000
  rsp: 0x1000
memory:
- addr: 0x1000
  size: 0x100
  data: "78563412 00100000"
- addr: 0x401000
  size: 0x100
  data: "90 b8 01 00 00 00 c3"
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
  - name: HeapAlloc
    forward: ntdll.RtlAllocateHeap
  sections:
  - name: .text
    rva: 0x1000
    vsize: 0x5000
    raw-offset: 0x400
    raw-size: 0x5000
`

type FakeTerminal struct {
	*Term
	t testing.TB
}

const logCommandOutput = false

func (ft *FakeTerminal) Exec(cmdstr string) (outstr string, err error) {
	var buf bytes.Buffer
	termstdout := ft.Term.stdout.w
	ft.Term.stdout.w = &buf
	defer func() {
		ft.Term.stdout.w = termstdout
		outstr = buf.String()
		if logCommandOutput {
			ft.t.Logf("command %q -> %q", cmdstr, outstr)
		}
	}()
	err = ft.cmds.Call(cmdstr, ft.Term)
	return
}

func (ft *FakeTerminal) ExecStarlark(starlarkProgram string) (outstr string, err error) {
	var buf bytes.Buffer
	termstdout := ft.Term.stdout.w
	ft.Term.stdout.w = &buf
	defer func() {
		ft.Term.stdout.w = termstdout
		outstr = buf.String()
		if logCommandOutput {
			ft.t.Logf("command %q -> %q", starlarkProgram, outstr)
		}
	}()
	_, err = ft.Term.starlarkEnv.Execute("<stdin>", starlarkProgram, "main", nil)
	return
}

func (ft *FakeTerminal) MustExec(cmdstr string) string {
	outstr, err := ft.Exec(cmdstr)
	if err != nil {
		ft.t.Errorf("output of %q: %q", cmdstr, outstr)
		ft.t.Fatalf("Error executing <%s>: %v", cmdstr, err)
	}
	return outstr
}

func (ft *FakeTerminal) MustExecStarlark(starlarkProgram string) string {
	outstr, err := ft.ExecStarlark(starlarkProgram)
	if err != nil {
		ft.t.Errorf("output of %q: %q", starlarkProgram, outstr)
		ft.t.Fatalf("Error executing <%s>: %v", starlarkProgram, err)
	}
	return outstr
}

func (ft *FakeTerminal) AssertExec(cmdstr, tgt string) {
	out := ft.MustExec(cmdstr)
	if out != tgt {
		ft.t.Fatalf("Error executing %q, expected %q got %q", cmdstr, tgt, out)
	}
}

func (ft *FakeTerminal) AssertExecContains(cmdstr string, tgts ...string) string {
	out := ft.MustExec(cmdstr)
	for _, tgt := range tgts {
		if !strings.Contains(out, tgt) {
			ft.t.Errorf("output of %q does not contain %q:\n%s", cmdstr, tgt, out)
		}
	}
	return out
}

func (ft *FakeTerminal) AssertExecError(cmdstr, tgterr string) {
	_, err := ft.Exec(cmdstr)
	if err == nil {
		ft.t.Fatalf("Expected error executing %q", cmdstr)
	}
	if err.Error() != tgterr {
		ft.t.Fatalf("Expected error %q executing %q, got error %q", tgterr, cmdstr, err.Error())
	}
}

func withTestTerminal(t testing.TB, fn func(*FakeTerminal)) {
	p, err := core.Load([]byte(testSnapshot), 0)
	if err != nil {
		t.Fatalf("could not load snapshot: %v", err)
	}
	withTestTerminalTarget(t, p, fn)
}

func withTestTerminalTarget(t testing.TB, p *core.Process, fn func(*FakeTerminal)) {
	os.Setenv(config.ConfigDirEnv, t.TempDir())
	term := New(p, &config.Config{})
	defer term.Close()
	fn(&FakeTerminal{t: t, Term: term})
}

func TestPrintCommand(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.AssertExec("print rax+1", "11 .17\n")
		term.AssertExec("p rax", "10 .16\n")
		term.AssertExec("? rax*2", "20 .32\n")
		term.AssertExec("?rbx", "3 .3\n")
		term.AssertExec("print $result+1", "4 .4\n")
		term.AssertExec("print .10", "A .10\n")
		term.AssertExec("print rax=rbx", "3 .3\n")
		term.AssertExec("print rax", "3 .3\n")
		term.AssertExec("print kernel32:Sleep", "76004000 .1979727872\n")
		if _, err := term.Exec("print"); err == nil {
			t.Errorf("print without arguments succeeded")
		}
		if _, err := term.Exec("print nosuchname"); err == nil {
			t.Errorf("unknown operand accepted")
		}
	})
}

func TestSilentPrefix(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.MustExec("detach")
		term.AssertExec("print rax", "Not debugging!\n0 .0\n")
		term.AssertExec("silent print rax", "0 .0\n")
		if _, err := term.Exec("silent regs"); err == nil {
			t.Errorf("silent prefix accepted for regs")
		}
		term.MustExec("attach")
		term.AssertExec("print rax", "10 .16\n")
	})
}

func TestSetCommand(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.AssertExec("set rax 20", "rax=20\n")
		term.AssertExec("print rax", "20 .32\n")
		term.AssertExec("set al ff", "al=FF\n")
		term.AssertExec("print rax", "FF .255\n")
		term.AssertExec("set myvar rax + 1", "myvar=100\n")
		term.AssertExec("vars ^myvar$", "myvar = 100\n")
		term.AssertExec("set _ZF 1", "_ZF=1\n")
		term.AssertExec("set byte:[1000] 99", "byte:[1000]=99\n")
		term.AssertExec("print dword:[1000]", "12345699 .305419929\n")
		if _, err := term.Exec("set rax"); err == nil {
			t.Errorf("set without a value succeeded")
		}
		if _, err := term.Exec("set $pid 1"); err == nil {
			t.Errorf("read only variable written")
		}
	})
}

func TestDeleteVarCommand(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.MustExec("set counter 5")
		term.AssertExec("vars ^counter$", "counter = 5\n")
		term.MustExec("delv COUNTER")
		term.AssertExec("vars ^counter$", "")
		if _, err := term.Exec("print counter"); err == nil {
			t.Errorf("deleted variable still resolves")
		}
		term.AssertExecError("delv counter", "counter: no such variable or read only")
		term.AssertExecError("delv $pid", "$pid: no such variable or read only")
		term.AssertExecError("delv", "not enough arguments")
	})
}

func TestSetWideCommand(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.MustExec("setv _XMM0 0x112233445566778899aabbccddeeff00")
		v, size, err := term.Engine().ReadVector("_XMM0")
		if err != nil || size != 16 {
			t.Fatalf("ReadVector: %v %d %v", v, size, err)
		}
		if got := v.Hex(); got != "0x112233445566778899aabbccddeeff00" {
			t.Errorf("_XMM0 = %s", got)
		}
		term.MustExec("setv _YMM1 ff")
		v, _, _ = term.Engine().ReadVector("_YMM1")
		if !v.IsUint64() || v.Uint64() != 0xff {
			t.Errorf("_YMM1 = %s", v.Hex())
		}
		if _, err := term.Exec("setv _XMM0 xyz"); err == nil {
			t.Errorf("invalid hexadecimal value accepted")
		}
	})
}

func TestSignedCommand(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.AssertExec("signed", "unsigned\n")
		term.AssertExec("print -2/2", "7FFFFFFFFFFFFFFF .9223372036854775807\n")
		term.AssertExec("signed on", "signed\n")
		term.AssertExec("print -2/2", "FFFFFFFFFFFFFFFF .18446744073709551615\n")
		term.AssertExec("signed off", "unsigned\n")
		if _, err := term.Exec("signed maybe"); err == nil {
			t.Errorf("invalid argument accepted")
		}
	})
}

func TestRegsCommand(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		out := term.AssertExecContains("regs", "rax    = 0000000000000010", "rip    = 0000000000401000", "r15    = 0000000000000000")
		if strings.Contains(out, "dr7") {
			t.Errorf("debug registers listed without -a")
		}
		term.MustExec("set _CF 1")
		term.AssertExecContains("regs -a", "dr7", "lasterror", "flags", "CF")
		term.MustExec("set dr0 401000")
		term.MustExec("set dr7 0xd0001")
		term.AssertExecContains("regs -a", "dr0 0x401000 w4")
		term.MustExec("detach")
		if _, err := term.Exec("regs"); err != value.ErrNotDebugging {
			t.Errorf("regs while detached: %v", err)
		}
	})
}

func TestExamineMemory(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		out := term.MustExec("x -size 4 -count 2 1000")
		if !strings.HasPrefix(out, "0x1000:") || !strings.Contains(out, "0x12345678") || !strings.Contains(out, "0x00001000") {
			t.Errorf("examinemem output %q", out)
		}
		out = term.MustExec("examinemem -fmt dec -len 2 rsp + 1")
		if !strings.HasPrefix(out, "0x1001:") || !strings.Contains(out, "086") || !strings.Contains(out, "052") {
			t.Errorf("examinemem output %q", out)
		}
		term.AssertExecError("x -size 9 1000", "size must be a positive integer (<=8)")
		term.AssertExecError("x -count 2000 1000", "read memory range (count*size) must be less than or equal to 1000 bytes")
		term.AssertExecError("x -fmt roman 1000", "\"roman\" is not a valid format")
		term.AssertExecError("x", "no address specified")
	})
}

func TestPrettyExamineMemory(t *testing.T) {
	mem := []byte{0x78, 0x56, 0x34, 0x12}
	if got := prettyExamineMemory(0x1000, mem, 'x', 2); !strings.Contains(got, "0x5678") || !strings.Contains(got, "0x1234") {
		t.Errorf("hex words %q", got)
	}
	if got := prettyExamineMemory(0x1000, mem[:1], 'b', 1); !strings.Contains(got, "01111000") {
		t.Errorf("binary %q", got)
	}
	if got := prettyExamineMemory(0x1000, mem, 'q', 1); got != "not supported format \"q\"\n" {
		t.Errorf("bad format %q", got)
	}
}

func TestDisassembleCommand(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		out := term.AssertExecContains("dis -count 3 rip", "nop", "mov eax, 0x1", "ret")
		lines := strings.Split(strings.TrimSpace(out), "\n")
		if len(lines) != 3 {
			t.Fatalf("expected 3 instructions:\n%s", out)
		}
		if !strings.HasPrefix(lines[0], "=>") || strings.HasPrefix(lines[1], "=>") {
			t.Errorf("instruction pointer not marked:\n%s", out)
		}
		if sel := term.disassemblySelection(); sel != 0x401000 {
			t.Errorf("selection %#x", sel)
		}
		out = term.MustExec("disassemble -count 1 401001")
		if !strings.Contains(out, "0000000000401001") || !strings.Contains(out, "b801000000") {
			t.Errorf("disassemble output %q", out)
		}
		term.AssertExecError("dis -count", disasmUsageError.Error())
	})
}

func TestFollowIP(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		out := term.MustExec("set rip 401001")
		if !strings.Contains(out, "=> 0000000000401001\tmov eax, 0x1\n") {
			t.Errorf("instruction pointer change output %q", out)
		}
		if sel := term.disassemblySelection(); sel != 0x401001 {
			t.Errorf("selection %#x", sel)
		}
	})
}

func TestModulesCommand(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		out := term.AssertExecContains("modules", "kernel32.dll 0000000076000000-0000000076100000 entry 0000000076010000")
		if strings.Contains(out, "Sleep") {
			t.Errorf("exports listed without -v")
		}
		term.AssertExecContains("modules -v kernel", "#1 Sleep 0000000076004000", "#2 HeapAlloc -> ntdll.RtlAllocateHeap", ".text")
		out = term.MustExec("libraries ntdll")
		if strings.Contains(out, "kernel32") {
			t.Errorf("filter ignored: %q", out)
		}
	})
}

func TestOffsetCommand(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.AssertExec("offset kernel32 500", "0000000076001100\n")
		term.AssertExec("offset kernel32:Sleep", "3400\n")
		if _, err := term.Exec("offset 10"); err == nil {
			t.Errorf("address outside of any module converted")
		}
		if _, err := term.Exec("offset"); err == nil {
			t.Errorf("offset without arguments succeeded")
		}
	})
}

func TestPatchesCommand(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.MustExec("set dword:[1004] 0")
		term.AssertExec("patches", "0000000000001005 10 -> 00\n")
		term.AssertExec("patches -restore", "patches restored\n")
		term.AssertExec("print dword:[1004]", "1000 .4096\n")
		term.AssertExec("patches", "")
	})
}

func TestLabelCommand(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.MustExec("label start rip+1")
		term.AssertExec("print start", "401001 .4198401\n")
	})
}

func TestSaveCommand(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.MustExec("set rax 1234")
		path := filepath.Join(t.TempDir(), "saved snapshot.yml")
		term.MustExec("save \"" + path + "\"")
		p, err := core.Open(path, 0)
		if err != nil {
			t.Fatalf("could not reload snapshot: %v", err)
		}
		withTestTerminalTarget(t, p, func(term2 *FakeTerminal) {
			term2.AssertExec("print rax", "1234 .4660\n")
		})
	})
}

func TestNoTarget(t *testing.T) {
	os.Setenv(config.ConfigDirEnv, t.TempDir())
	term := &FakeTerminal{t: t, Term: New(nil, nil)}
	defer term.Close()
	term.AssertExec("print 1+1", "2 .2\n")
	term.AssertExec("print rax", "Not debugging!\n0 .0\n")
	for _, cmd := range []string{"modules", "patches", "detach", "label x 1", "save x.yml", "dis 0"} {
		if _, err := term.Exec(cmd); err != errNoTarget {
			t.Errorf("%s: %v", cmd, err)
		}
	}
}

func TestHelpCommand(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.AssertExecContains("help", "Evaluating and assigning expressions", "print (alias: p | ?)", "Type help followed by a command")
		term.AssertExecContains("help x", "Examine raw memory")
		term.AssertExecError("help nosuchcommand", noCmdError.Error())
	})
}

func TestConfigCommand(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.MustExec("config signed-calc true")
		if !term.Engine().SignedCalc() {
			t.Errorf("signed-calc not applied")
		}
		term.MustExec("config max-api-matches 3")
		if term.conf.MaxAPIMatches != 3 {
			t.Errorf("max-api-matches %d", term.conf.MaxAPIMatches)
		}
		term.MustExec("config snapshot \"/tmp/a b.yml\"")
		if term.conf.Snapshot != "/tmp/a b.yml" {
			t.Errorf("snapshot %q", term.conf.Snapshot)
		}
		out := term.AssertExecContains("config -list", "signed-calc", "\"/tmp/a b.yml\"")
		if !regexp.MustCompile(`max-api-matches\s+3\n`).MatchString(out) {
			t.Errorf("config -list output:\n%s", out)
		}
		term.AssertExecError("config nosuchoption 1", "\"nosuchoption\" is not a configuration parameter")
		term.AssertExecError("config max-api-matches -1", "argument to \"max-api-matches\" must be a number greater than zero")

		term.MustExec("config alias print pp")
		term.AssertExec("pp 1", "1 .1\n")
		term.MustExec("config alias pp")
		if _, err := term.Exec("pp 1"); err != noCmdError {
			t.Errorf("removed alias still works: %v", err)
		}
	})
}

func TestSourceCommand(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		dir := t.TempDir()
		cmds := filepath.Join(dir, "cmds.txt")
		if err := ioutil.WriteFile(cmds, []byte("# comment\nset rax 5\n\nprint rax*2\nnosuchcommand\n"), 0600); err != nil {
			t.Fatal(err)
		}
		term.AssertExec("source "+cmds, "rax=5\nA .10\n"+cmds+":5: command not available\n")

		star := filepath.Join(dir, "cmds.star")
		script := `
def command_double(args):
	"doubles its argument"
	r = resolve(args)
	print(hex(r.Value * 2))

def main():
	dbgval_command("set rbx 7")
`
		if err := ioutil.WriteFile(star, []byte(script), 0600); err != nil {
			t.Fatal(err)
		}
		term.AssertExec("source "+star, "rbx=7\n")
		term.AssertExec("double rbx", "0xe\n")
		term.AssertExecContains("help double", "doubles its argument")
	})
}

func TestStarlarkBuiltins(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		out := term.MustExecStarlark(`
def main():
	assign("rcx", 0x20)
	print(read_register("rcx"))
	print(hex(resolve("kernel32:Sleep").Value))
	dbgval_command("print rcx+1")
`)
		if out != "32\n0x76004000\n21 .33\n" {
			t.Errorf("output %q", out)
		}
	})
}

func TestTranscriptCommand(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		path := filepath.Join(t.TempDir(), "transcript.txt")
		term.MustExec("transcript " + path)
		term.AssertExec("print 1", "1 .1\n")
		term.MustExec("transcript -off")
		term.MustExec("print 2")
		term.MustExec("transcript -x " + path)
		term.AssertExec("print 3", "")
		term.MustExec("transcript -off")

		buf, err := ioutil.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if string(buf) != "1 .1\n3 .3\n" {
			t.Errorf("transcript %q", buf)
		}
		term.AssertExecError("transcript", "no output path specified")
		term.AssertExecError("transcript -z", "unrecognized option \"-z\"")
	})
}

func TestComplete(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		tests := []struct {
			line string
			want string
		}{
			{"pri", "print"},
			{"disa", "disassemble"},
			{"print ra", "print rax"},
			{"print rax+rb", "print rax+rbx"},
			{"print _z", "print _ZF"},
			{"print _xm", "print _XMM0"},
			{"print kernel32:Sl", "print kernel32:Sleep"},
			{"print kern", "print kernel32"},
			{"print page_exe", "print PAGE_EXECUTE"},
			{"set $res", "set $result"},
		}
		for _, tc := range tests {
			got := term.complete(tc.line)
			found := false
			for _, c := range got {
				if c == tc.want {
					found = true
				}
			}
			if !found {
				t.Errorf("complete(%q) = %v, expected %q among the results", tc.line, got, tc.want)
			}
		}
		if got := term.complete("print kernel32:He"); len(got) != 1 || got[0] != "print kernel32:HeapAlloc" {
			t.Errorf("export completion %v", got)
		}
		term.MustExec("set zzvar 1")
		if got := term.complete("print zz"); len(got) != 1 || got[0] != "print zzvar" {
			t.Errorf("variable completion %v", got)
		}
	})
}
