// Package terminal is the interactive command line of dbgval: it reads
// commands, runs them against the expression engine and prints results.
package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"
	"github.com/holiman/uint256"
	"github.com/xlab/treeprint"

	"github.com/go-delve/dbgval/pkg/proc"
	"github.com/go-delve/dbgval/pkg/proc/amd64util"
	"github.com/go-delve/dbgval/pkg/regnum"
	"github.com/go-delve/dbgval/pkg/value"
)

type cmdPrefix int

const (
	noPrefix     = cmdPrefix(0)
	silentPrefix = cmdPrefix(1 << iota)
)

type callContext struct {
	Prefix cmdPrefix
}

// silent reports whether engine notices should be suppressed.
func (ctx callContext) silent(t *Term) bool {
	return ctx.Prefix == silentPrefix || t.conf.Silent
}

type cmdfunc func(t *Term, ctx callContext, args string) error

type command struct {
	aliases         []string
	builtinAliases  []string
	group           commandGroup
	allowedPrefixes cmdPrefix
	helpMsg         string
	cmdFn           cmdfunc
}

func (c command) match(name string) bool {
	for _, alias := range c.aliases {
		if alias == name {
			return true
		}
	}
	return false
}

// Commands represents the commands of the dbgval terminal.
type Commands struct {
	cmds []command
}

var errNoTarget = errors.New("no target loaded, start dbgval with --snapshot")

// DebugCommands returns the builtin commands, sorted by name.
func DebugCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"print", "p", "?"}, group: evalCmds, allowedPrefixes: silentPrefix, cmdFn: printExpr, helpMsg: `Evaluate an expression.

	[silent] print <expression>

Operands are registers (eax, rip, cip, al...), flags (_ZF, _CF...), FPU
and vector fields (_x87r0, _XMM1, _MxCsr_RC...), memory references
([esp+4], byte:[addr], fs:[0x30]), module exports (kernel32:Sleep,
ntdll:entry, mod:#fileoffset), labels, symbols, variables and numbers.
Numbers are hexadecimal unless prefixed with a dot (.10 is ten).

Assignments (rax=1, [esp]+=4, myvar=rip) are allowed. The result is
stored in $result.

With the silent prefix notices such as "Not debugging!" are not printed.`},
		{aliases: []string{"set"}, group: evalCmds, allowedPrefixes: silentPrefix, cmdFn: setVar, helpMsg: `Changes the value of an operand.

	[silent] set <operand> <expression>

The operand may be anything that can be assigned to: a register, a flag,
an FPU or vector field, a memory reference or a variable. Unknown names
create a new variable.`},
		{aliases: []string{"setv"}, group: evalCmds, allowedPrefixes: silentPrefix, cmdFn: setWide, helpMsg: `Writes a vector register.

	setv <register> <hexadecimal value>

The value may be up to 256 bits wide: setv _YMM0 0x112233445566778899aabbccddeeff00112233445566778899aabbccddeeff00`},
		{aliases: []string{"vars"}, group: evalCmds, cmdFn: vars, helpMsg: `Print variables.

	vars [<regex>]

If regex is specified only the variables matching it will be returned.`},
		{aliases: []string{"delv"}, group: evalCmds, cmdFn: deleteVar, helpMsg: `Deletes a user variable.

	delv <name>

Read only variables such as $pid can not be deleted.`},
		{aliases: []string{"signed"}, group: evalCmds, cmdFn: signedCmd, helpMsg: `Switches between signed and unsigned arithmetic.

	signed [on|off]

Without arguments prints the current mode. In signed mode division,
modulo, right shift and comparisons treat operands as signed integers.`},
		{aliases: []string{"regs"}, group: dataCmds, cmdFn: regs, helpMsg: `Print contents of CPU registers.

	regs [-a]

Argument -a shows more registers: segment and debug registers, flags,
MXCSR and the x87 control words.`},
		{aliases: []string{"examinemem", "x"}, group: dataCmds, cmdFn: examineMemoryCmd, helpMsg: `Examine raw memory at the given address.

	examinemem [-fmt <format>] [-count|-len <count>] [-size <size>] <address>

Format represents the data format and the value is one of this list (default hex): bin(binary), oct(octal), dec(decimal), hex(hexadecimal).
Length is the number of bytes (default 1) and must be less than or equal to 1000.
Address is an expression, for example:

	x -fmt hex -len 20 rsp
	x -size 4 -count 4 kernel32:Sleep`},
		{aliases: []string{"disassemble", "dis"}, group: dataCmds, cmdFn: disassCommand, helpMsg: `Disassembler.

	disassemble [-count <n>] [<address>]

Without an address the disassembly continues from the current selection,
which is the instruction pointer unless moved. The address becomes the
new selection: expressions without a module name, such as :entry, refer
to the module containing it.`},
		{aliases: []string{"modules", "libraries"}, group: dataCmds, cmdFn: modules, helpMsg: `List loaded modules.

	modules [-v] [<regex>]

With -v sections and exports are listed as well.`},
		{aliases: []string{"offset"}, group: dataCmds, cmdFn: offsetCmd, helpMsg: `Converts between file offsets and virtual addresses.

	offset <address>
	offset <module> <file offset>

The first form prints the file offset of an address, the second the
address a file offset of the module is mapped at.`},
		{aliases: []string{"patches"}, group: targetCmds, cmdFn: patches, helpMsg: `List memory patches.

	patches [-restore]

With -restore the original bytes are written back.`},
		{aliases: []string{"label"}, group: targetCmds, cmdFn: labelCmd, helpMsg: `Names an address.

	label <name> <address>`},
		{aliases: []string{"detach"}, group: targetCmds, cmdFn: detach, helpMsg: `Ends the debugging session.

	detach

Registers and memory can not be accessed until the next attach.`},
		{aliases: []string{"attach"}, group: targetCmds, cmdFn: attach, helpMsg: `Resumes the debugging session.

	attach`},
		{aliases: []string{"save"}, group: targetCmds, cmdFn: saveCmd, helpMsg: `Saves the target to a snapshot file.

	save <file>`},
		{aliases: []string{"source"}, group: scriptCmds, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of dbgval commands.

	source <path>

If path ends with the .star extension it will be interpreted as a starlark script. Call help() from the script to list the available builtins.

If path is a single '-' character an interactive starlark interpreter will start instead. Type 'exit' to exit.`},
		{aliases: []string{"transcript"}, group: scriptCmds, cmdFn: transcript, helpMsg: `Appends command output to a file.

	transcript [-t] [-x] <output file>
	transcript -off

Output of dbgval's command is appended to the specified output file. If '-t' is specified and the output file exists it is truncated. If '-x' is specified output to stdout is suppressed instead.

Using the -off option disables the transcript.`},
		{aliases: []string{"config"}, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save

Saves the configuration file to disk, overwriting the current configuration file.

	config <parameter> <value>

Changes the value of a configuration parameter.

	config alias <command> <alias>
	config alias <alias>

Defines <alias> as an alias to <command> or removes an alias.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: `Exit the debugger.

	exit`},
		{aliases: []string{"silent"}, group: evalCmds, cmdFn: c.silentCmd, helpMsg: `Executes a command without engine notices.

	silent <command> <args>

Supported commands: print, set and setv.`},
	}

	sort.Slice(c.cmds, func(i, j int) bool { return c.cmds[i].aliases[0] < c.cmds[j].aliases[0] })
	return c
}

// Register adds a command called name, or replaces the function and help
// of the command already answering to name.
func (c *Commands) Register(name string, cf cmdfunc, helpMsg string) {
	if cmd := c.lookup(name); cmd != nil {
		cmd.cmdFn, cmd.helpMsg = cf, helpMsg
		return
	}
	c.cmds = append(c.cmds, command{aliases: []string{name}, cmdFn: cf, helpMsg: helpMsg})
}

func (c *Commands) lookup(name string) *command {
	for i := range c.cmds {
		if c.cmds[i].match(name) {
			return &c.cmds[i]
		}
	}
	return nil
}

// Find returns the function of the command called name. Commands that do
// not accept prefix, and unknown names, yield noCmdAvailable.
func (c *Commands) Find(name string, prefix cmdPrefix) cmdfunc {
	if name == "" {
		return nullCommand
	}
	cmd := c.lookup(name)
	if cmd == nil || (prefix != noPrefix && cmd.allowedPrefixes&prefix == 0) {
		return noCmdAvailable
	}
	return cmd.cmdFn
}

// CallWithContext runs the command line cmdstr.
func (c *Commands) CallWithContext(cmdstr string, t *Term, ctx callContext) error {
	v := split2PartsBySpace(strings.TrimSpace(cmdstr))
	cmdname, args := v[0], ""
	if len(v) == 2 {
		args = v[1]
	}
	// "?rax" is accepted as well as "? rax"
	if len(cmdname) > 1 && cmdname[0] == '?' {
		args = strings.TrimSpace(cmdname[1:] + " " + args)
		cmdname = "?"
	}
	return c.Find(cmdname, ctx.Prefix)(t, ctx, args)
}

func (c *Commands) Call(cmdstr string, t *Term) error {
	return c.CallWithContext(cmdstr, t, callContext{Prefix: noPrefix})
}

// Merge sets the aliases configured for each command, in addition to its
// builtin ones. Aliases set by a previous Merge are dropped.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		cmd := &c.cmds[i]
		if cmd.builtinAliases == nil {
			cmd.builtinAliases = append([]string(nil), cmd.aliases...)
		}
		cmd.aliases = append(append([]string(nil), cmd.builtinAliases...), allAliases[cmd.builtinAliases[0]]...)
	}
}

var noCmdError = errors.New("command not available")

func noCmdAvailable(t *Term, ctx callContext, args string) error {
	return noCmdError
}

func nullCommand(t *Term, ctx callContext, args string) error {
	return nil
}

func (c *Commands) help(t *Term, ctx callContext, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return noCmdError
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

func (c *Commands) silentCmd(t *Term, ctx callContext, args string) error {
	if args == "" {
		return errors.New("not enough arguments")
	}
	ctx.Prefix = silentPrefix
	return c.CallWithContext(args, t, ctx)
}

func split2PartsBySpace(s string) []string {
	v := strings.SplitN(s, " ", 2)
	for i := range v {
		v[i] = strings.TrimSpace(v[i])
	}
	return v
}

// splitQuoted splits args the way a shell would, for commands taking
// file names.
func splitQuoted(args string) ([]string, error) {
	if strings.TrimSpace(args) == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("Backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal arguments '%s'", args)
	}
	return v[0], nil
}

func (t *Term) ptrDigits() int {
	return t.engine.Arch().PtrSize() * 2
}

func printExpr(t *Term, ctx callContext, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("not enough arguments")
	}
	res, err := t.engine.Resolve(args, value.ResolveOptions{AllowAssign: true, Silent: ctx.silent(t)})
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "%X .%d\n", res.Value, res.Value)
	t.engine.Assign("$result", res.Value, true)
	return nil
}

func setVar(t *Term, ctx callContext, args string) error {
	v := split2PartsBySpace(args)
	if len(v) != 2 || v[1] == "" {
		return errors.New("wrong number of arguments: set <operand> <expression>")
	}
	silent := ctx.silent(t)
	res, err := t.engine.Resolve(v[1], value.ResolveOptions{Silent: silent})
	if err != nil {
		return err
	}
	if err := t.engine.Assign(v[0], res.Value, silent); err != nil {
		return err
	}
	newres, err := t.engine.ResolveNoExpr(v[0], value.ResolveOptions{Silent: true})
	if err != nil {
		return nil
	}
	fmt.Fprintf(t.stdout, "%s=%X\n", v[0], newres.Value)
	return nil
}

func setWide(t *Term, ctx callContext, args string) error {
	v := split2PartsBySpace(args)
	if len(v) != 2 || v[1] == "" {
		return errors.New("wrong number of arguments: setv <register> <hexadecimal value>")
	}
	s := v[1]
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	s = "0x" + strings.TrimLeft(s[2:], "0")
	if s == "0x" {
		s = "0x0"
	}
	n, err := uint256.FromHex(s)
	if err != nil {
		return fmt.Errorf("invalid value %q: %v", v[1], err)
	}
	return t.engine.AssignWide(v[0], n, ctx.silent(t))
}

func vars(t *Term, ctx callContext, args string) error {
	var reg *regexp.Regexp
	if args != "" {
		var err error
		reg, err = regexp.Compile(args)
		if err != nil {
			return fmt.Errorf("invalid filter argument: %s", err.Error())
		}
	}
	vt, ok := t.engine.Variables().(interface{ Names() []string })
	if !ok {
		return errors.New("variables can not be listed")
	}
	w := tabwriter.NewWriter(t.stdout, 0, 8, 1, ' ', 0)
	for _, name := range vt.Names() {
		if reg != nil && !reg.MatchString(name) {
			continue
		}
		v, _, ok := t.engine.Variables().Get(name)
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s\t= %X\n", name, v)
	}
	return w.Flush()
}

func deleteVar(t *Term, ctx callContext, args string) error {
	if args == "" {
		return errors.New("not enough arguments")
	}
	vt, ok := t.engine.Variables().(interface{ Delete(string) bool })
	if !ok {
		return errors.New("variables can not be deleted")
	}
	if !vt.Delete(args) {
		return fmt.Errorf("%s: no such variable or read only", args)
	}
	return nil
}

func signedCmd(t *Term, ctx callContext, args string) error {
	switch args {
	case "":
	case "on", "true":
		t.engine.SetSignedCalc(true)
	case "off", "false":
		t.engine.SetSignedCalc(false)
	default:
		return fmt.Errorf("invalid argument %q, expected on or off", args)
	}
	if t.engine.SignedCalc() {
		fmt.Fprintln(t.stdout, "signed")
	} else {
		fmt.Fprintln(t.stdout, "unsigned")
	}
	return nil
}

func regs(t *Term, ctx callContext, args string) error {
	all := false
	switch args {
	case "":
	case "-a":
		all = true
	default:
		return fmt.Errorf("unknown argument %q", args)
	}
	if !t.engine.Debugging() {
		return value.ErrNotDebugging
	}
	x64 := t.engine.Arch().Is64()
	var names []string
	for s := regnum.CAX; s <= regnum.CFLAGS; s++ {
		if n := s.Name(x64); n != "" {
			names = append(names, n)
		}
	}
	if all {
		for s := regnum.GS; s <= regnum.DR7; s++ {
			names = append(names, s.Name(x64))
		}
		names = append(names, "lasterror", "laststatus", "_MxCsr", "_x87ControlWord", "_x87StatusWord", "_x87TagWord")
	}

	w := tabwriter.NewWriter(t.stdout, 0, 8, 1, ' ', 0)
	for _, name := range names {
		res, err := t.engine.ResolveNoExpr(name, value.ResolveOptions{Silent: true})
		if err != nil {
			fmt.Fprintf(w, "%s\t<%v>\n", name, err)
			continue
		}
		digits := res.Size * 2
		if digits == 0 {
			digits = t.ptrDigits()
		}
		fmt.Fprintf(w, "%s\t= %0*X\n", name, digits, res.Value)
	}
	if all {
		var set []string
		for _, f := range proc.EflagsDescription.Names() {
			if on, err := t.engine.Flag(f); err == nil && on {
				set = append(set, f)
			}
		}
		fmt.Fprintf(w, "flags\t= [%s]\n", strings.Join(set, " "))
		if bps := t.hwBreakpoints(); len(bps) > 0 {
			for _, bp := range bps {
				fmt.Fprintf(w, "hw\t= %s\n", bp)
			}
		}
	}
	return w.Flush()
}

// hwBreakpoints decodes the breakpoints armed in the debug registers.
func (t *Term) hwBreakpoints() []amd64util.HWBreakpoint {
	var drs [6]uint64
	for i, s := range []regnum.Slot{regnum.DR0, regnum.DR1, regnum.DR2, regnum.DR3, regnum.DR6, regnum.DR7} {
		v, _, err := t.engine.Register(s.Name(t.engine.Arch().Is64()))
		if err != nil {
			return nil
		}
		drs[i] = v
	}
	return amd64util.DecodeDebugRegisters([4]uint64{drs[0], drs[1], drs[2], drs[3]}, drs[4], drs[5])
}

func examineMemoryCmd(t *Term, ctx callContext, args string) error {
	v := strings.FieldsFunc(args, func(c rune) bool {
		return c == ' '
	})

	var (
		address uint64
		hasAddr bool
		ok      bool
	)

	// Default value
	priFmt := byte('x')
	count := 1
	size := 1

	for i := 0; i < len(v); i++ {
		switch v[i] {
		case "-fmt":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -fmt")
			}
			fmtMapToPriFmt := map[string]byte{
				"oct":         'o',
				"octal":       'o',
				"hex":         'x',
				"hexadecimal": 'x',
				"dec":         'd',
				"decimal":     'd',
				"bin":         'b',
				"binary":      'b',
			}
			priFmt, ok = fmtMapToPriFmt[v[i]]
			if !ok {
				return fmt.Errorf("%q is not a valid format", v[i])
			}
		case "-count", "-len":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -count/-len")
			}
			var err error
			count, err = strconv.Atoi(v[i])
			if err != nil || count <= 0 {
				return fmt.Errorf("count/len must be a positive integer")
			}
		case "-size":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -size")
			}
			var err error
			size, err = strconv.Atoi(v[i])
			if err != nil || size <= 0 || size > 8 {
				return fmt.Errorf("size must be a positive integer (<=8)")
			}
		default:
			res, err := t.engine.Resolve(strings.Join(v[i:], " "), value.ResolveOptions{Silent: ctx.silent(t)})
			if err != nil {
				return err
			}
			address, hasAddr = res.Value, true
			i = len(v)
		}
	}

	if count*size > 1000 {
		return fmt.Errorf("read memory range (count*size) must be less than or equal to 1000 bytes")
	}

	if !hasAddr {
		return fmt.Errorf("no address specified")
	}

	target, err := t.requireTarget()
	if err != nil {
		return err
	}
	if !target.Attached() {
		return value.ErrNotDebugging
	}
	memArea := make([]byte, count*size)
	n, err := target.Memory().ReadMemory(memArea, address)
	if n == 0 && err != nil {
		return err
	}
	fmt.Fprint(t.stdout, prettyExamineMemory(address, memArea[:n], priFmt, size))
	return nil
}

// prettyExamineMemory formats little endian memory into rows of columns
// of size bytes each.
func prettyExamineMemory(address uint64, memArea []byte, format byte, size int) string {
	var (
		cols      int
		colFormat string
		colBytes  = size

		addrLen int
		addrFmt string
	)

	switch format {
	case 'b':
		cols = 4 // Avoid emitting rows that are too long when using binary format
		colFormat = fmt.Sprintf("%%0%db", colBytes*8)
	case 'o':
		cols = 8
		colFormat = fmt.Sprintf("0%%0%do", colBytes*3) // Always keep one leading zero for octal.
	case 'd':
		cols = 8
		colFormat = fmt.Sprintf("%%0%dd", colBytes*3)
	case 'x':
		cols = 8
		colFormat = fmt.Sprintf("0x%%0%dx", colBytes*2) // Always keep one leading '0x' for hex.
	default:
		return fmt.Sprintf("not supported format %q\n", string(format))
	}
	colFormat += "\t"

	l := len(memArea)
	rows := l / (cols * colBytes)
	if l%(cols*colBytes) != 0 {
		rows++
	}

	// Avoid the lens of two adjacent address are different, so always use the last addr's len to format.
	if l != 0 {
		addrLen = len(fmt.Sprintf("%x", address+uint64(l)))
	}
	addrFmt = "0x%0" + strconv.Itoa(addrLen) + "x:\t"

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 3, ' ', 0)

	for i := 0; i < rows; i++ {
		fmt.Fprintf(w, addrFmt, address)

		for j := 0; j < cols; j++ {
			offset := i*(cols*colBytes) + j*colBytes
			if offset+colBytes <= len(memArea) {
				var n uint64
				for k := colBytes - 1; k >= 0; k-- {
					n = n<<8 | uint64(memArea[offset+k])
				}
				fmt.Fprintf(w, colFormat, n)
			}
		}
		fmt.Fprintln(w, "")
		address += uint64(cols * colBytes)
	}
	w.Flush()
	return b.String()
}

var disasmUsageError = errors.New("wrong number of arguments: disassemble [-count <n>] [<address>]")

func disassCommand(t *Term, ctx callContext, args string) error {
	count := 10
	v := split2PartsBySpace(args)
	if v[0] == "-count" {
		if len(v) != 2 {
			return disasmUsageError
		}
		w := split2PartsBySpace(v[1])
		n, err := strconv.Atoi(w[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("count must be a positive integer")
		}
		count = n
		args = ""
		if len(w) == 2 {
			args = w[1]
		}
	}

	target, err := t.requireTarget()
	if err != nil {
		return err
	}
	if !target.Attached() {
		return value.ErrNotDebugging
	}

	addr := t.disassemblySelection()
	if args != "" {
		res, err := t.engine.Resolve(args, value.ResolveOptions{Silent: ctx.silent(t)})
		if err != nil {
			return err
		}
		addr = res.Value
	}

	var pc uint64
	if th, err := target.CurrentThread(); err == nil {
		pc, _ = th.Register(regnum.CIP)
	}
	insts, err := proc.Disassemble(target, addr, count, pc)
	if err != nil {
		return err
	}
	t.setSelection(addr)
	disasmPrint(insts, t.stdout, target.Arch().PtrSize())
	return nil
}

func modules(t *Term, ctx callContext, args string) error {
	verbose := false
	if args == "-v" || strings.HasPrefix(args, "-v ") {
		verbose = true
		args = strings.TrimSpace(args[2:])
	}
	var reg *regexp.Regexp
	if args != "" {
		var err error
		reg, err = regexp.Compile(args)
		if err != nil {
			return fmt.Errorf("invalid filter argument: %s", err.Error())
		}
	}
	target, err := t.requireTarget()
	if err != nil {
		return err
	}

	digits := t.ptrDigits()
	tree := treeprint.New()
	mods := target.Modules()
	l := mods.RLocker()
	l.Lock()
	mods.Enum(func(m *proc.Module) {
		if reg != nil && !reg.MatchString(m.FullName()) {
			return
		}
		br := tree.AddBranch(fmt.Sprintf("%s %0*X-%0*X entry %0*X", m.FullName(), digits, m.Base, digits, m.Base+m.Size, digits, m.Entry))
		if !verbose {
			return
		}
		if len(m.Sections) > 0 {
			secs := br.AddBranch("sections")
			for _, s := range m.Sections {
				secs.AddNode(fmt.Sprintf("%-8s %0*X size %#x file %#x", s.Name, digits, m.Base+s.VirtualAddress, s.VirtualSize, s.RawOffset))
			}
		}
		if len(m.Exports) > 0 {
			exps := br.AddBranch("exports")
			for i, e := range m.Exports {
				ord := m.OrdinalBase + uint64(i)
				if e.Forward != "" {
					exps.AddNode(fmt.Sprintf("#%d %s -> %s", ord, e.Name, e.Forward))
				} else {
					exps.AddNode(fmt.Sprintf("#%d %s %0*X", ord, e.Name, digits, m.Base+e.RVA))
				}
			}
		}
	})
	l.Unlock()
	fmt.Fprint(t.stdout, tree.String())
	return nil
}

func offsetCmd(t *Term, ctx callContext, args string) error {
	v := split2PartsBySpace(args)
	switch {
	case v[0] == "":
		return errors.New("wrong number of arguments: offset <address> | offset <module> <file offset>")
	case len(v) == 1:
		res, err := t.engine.Resolve(v[0], value.ResolveOptions{Silent: ctx.silent(t)})
		if err != nil {
			return err
		}
		off, ok := t.engine.VAToFileOffset(res.Value)
		if !ok {
			return fmt.Errorf("%#x is not mapped from a module file", res.Value)
		}
		fmt.Fprintf(t.stdout, "%X\n", off)
	default:
		res, err := t.engine.Resolve(v[1], value.ResolveOptions{Silent: ctx.silent(t)})
		if err != nil {
			return err
		}
		va, ok := t.engine.FileOffsetToVA(v[0], res.Value)
		if !ok {
			return fmt.Errorf("offset %#x is not mapped by %s", res.Value, v[0])
		}
		fmt.Fprintf(t.stdout, "%0*X\n", t.ptrDigits(), va)
	}
	return nil
}

func patches(t *Term, ctx callContext, args string) error {
	target, err := t.requireTarget()
	if err != nil {
		return err
	}
	switch args {
	case "":
	case "-restore":
		if err := target.RestorePatches(); err != nil {
			return err
		}
		fmt.Fprintln(t.stdout, "patches restored")
		return nil
	default:
		return fmt.Errorf("unknown argument %q", args)
	}
	w := tabwriter.NewWriter(t.stdout, 0, 8, 1, ' ', 0)
	for _, p := range target.Patches() {
		fmt.Fprintf(w, "%0*X\t%02X -> %02X\n", t.ptrDigits(), p.Addr, p.Old, p.New)
	}
	return w.Flush()
}

func labelCmd(t *Term, ctx callContext, args string) error {
	v := split2PartsBySpace(args)
	if len(v) != 2 || v[1] == "" {
		return errors.New("wrong number of arguments: label <name> <address>")
	}
	target, err := t.requireTarget()
	if err != nil {
		return err
	}
	res, err := t.engine.Resolve(v[1], value.ResolveOptions{Silent: ctx.silent(t)})
	if err != nil {
		return err
	}
	target.AddLabel(v[0], res.Value)
	return nil
}

func detach(t *Term, ctx callContext, args string) error {
	target, err := t.requireTarget()
	if err != nil {
		return err
	}
	target.Detach()
	return nil
}

func attach(t *Term, ctx callContext, args string) error {
	target, err := t.requireTarget()
	if err != nil {
		return err
	}
	target.Attach()
	t.setSelection(0)
	return nil
}

func saveCmd(t *Term, ctx callContext, args string) error {
	v, err := splitQuoted(args)
	if err != nil {
		return err
	}
	if len(v) != 1 {
		return errors.New("wrong number of arguments: save <file>")
	}
	target, err := t.requireTarget()
	if err != nil {
		return err
	}
	return target.Save(v[0])
}

func (c *Commands) sourceCommand(t *Term, ctx callContext, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("wrong number of arguments: source <filename>")
	}

	if filepath.Ext(args) == ".star" {
		_, err := t.starlarkEnv.Execute(args, nil, "main", nil)
		return err
	}

	if args == "-" {
		return t.starlarkEnv.REPL()
	}

	return c.executeFile(t, args)
}

func transcript(t *Term, ctx callContext, args string) error {
	argv, err := splitQuoted(args)
	if err != nil {
		return err
	}
	truncate := false
	fileOnly := false
	disable := false
	path := ""
	for _, arg := range argv {
		switch arg {
		case "-x":
			fileOnly = true
		case "-t":
			truncate = true
		case "-off":
			disable = true
		default:
			if path != "" || strings.HasPrefix(arg, "-") {
				return fmt.Errorf("unrecognized option %q", arg)
			} else {
				path = arg
			}
		}
	}

	if disable {
		if path != "" {
			return errors.New("-o option specified with an output path")
		}
		return t.stdout.CloseTranscript()
	}

	if path == "" {
		return errors.New("no output path specified")
	}

	flags := os.O_APPEND | os.O_WRONLY | os.O_CREATE
	if truncate {
		flags |= os.O_TRUNC
	}
	fh, err := os.OpenFile(path, flags, 0660)
	if err != nil {
		return err
	}

	if err := t.stdout.TranscribeTo(fh, fileOnly); err != nil {
		fh.Close()
		return err
	}
	return nil
}

// ExitRequestError is returned when the user
// exits dbgval.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, ctx callContext, args string) error {
	return ExitRequestError{}
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()
	return c.executeReader(t, name, fh)
}

func (c *Commands) executeReader(t *Term, name string, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}
