package terminal

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/derekparker/trie"
	"github.com/go-delve/liner"

	"github.com/go-delve/dbgval/pkg/config"
	"github.com/go-delve/dbgval/pkg/logflags"
	"github.com/go-delve/dbgval/pkg/proc"
	"github.com/go-delve/dbgval/pkg/proc/core"
	"github.com/go-delve/dbgval/pkg/regnum"
	"github.com/go-delve/dbgval/pkg/terminal/starbind"
	"github.com/go-delve/dbgval/pkg/value"
)

const (
	historyFile                 string = ".dbgval_history"
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiBlack   = 30
	ansiBlue    = 34
	ansiWhite   = 37
	ansiBrBlack = 90
	ansiBrWhite = 97
)

// Term represents the terminal running dbgval.
type Term struct {
	engine   *value.Engine
	target   *core.Process
	conf     *config.Config
	prompt   string
	line     *liner.State
	cmds     *Commands
	dumb     bool
	stdout   *transcriptWriter
	InitFile string

	starlarkEnv *starbind.Env

	selMu     sync.Mutex
	selection uint64
}

// New returns a new Term. The target may be nil, expressions are then
// evaluated without a debugging session.
func New(target *core.Process, conf *config.Config) *Term {
	cmds := DebugCommands()
	if conf != nil && conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if conf == nil {
		conf = &config.Config{}
	}

	w, dumb := colorableStdout()

	if (conf.PromptColor > ansiWhite && conf.PromptColor < ansiBrBlack) ||
		conf.PromptColor < ansiBlack ||
		conf.PromptColor > ansiBrWhite {
		conf.PromptColor = ansiBlue
	}

	t := &Term{
		target: target,
		conf:   conf,
		prompt: "(dbgval) ",
		line:   liner.NewLiner(),
		cmds:   cmds,
		dumb:   dumb,
		stdout: &transcriptWriter{w: w},
	}
	t.engine = newEngine(t, target)
	t.starlarkEnv = starbind.New(starlarkContext{t}, t.stdout)
	return t
}

func newEngine(t *Term, target *core.Process) *value.Engine {
	cfg := value.Config{
		Constants:     value.WindowsConstants,
		Notifier:      views{t},
		Console:       t.stdout,
		Selection:     value.SelectionFunc(t.disassemblySelection),
		SignedCalc:    t.conf.SignedCalc,
		MaxAPIMatches: t.conf.MaxAPIMatches,
	}
	if target != nil {
		cfg.Target = target
	}
	return value.New(cfg)
}

// Engine returns the expression engine of t.
func (t *Term) Engine() *value.Engine {
	return t.engine
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	t.line.Close()
	if err := t.stdout.CloseTranscript(); err != nil {
		fmt.Fprintf(os.Stderr, "error closing transcript file: %v\n", err)
	}
}

func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		t.starlarkEnv.Cancel()
	}
}

// Run begins running dbgval in the terminal.
func (t *Term) Run() (int, error) {
	defer t.Close()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	go t.sigintGuard(ch)

	t.line.SetCompleter(t.complete)

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}

	if f != nil {
		t.line.ReadHistory(f)
		f.Close()
	}
	fmt.Println("Type 'help' for list of commands.")

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("Prompt for input failed.\n")
		}
		t.stdout.Echo(t.prompt + cmdstr + "\n")

		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}
		t.stdout.Flush()
	}
}

func (t *Term) promptForInput() (string, error) {
	prompt := t.prompt
	if !t.dumb {
		prompt = fmt.Sprintf(terminalHighlightEscapeCode, t.conf.PromptColor) + prompt + terminalResetEscapeCode
	}
	l, err := t.line.Prompt(prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
	} else {
		if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR|os.O_TRUNC, 0666); err == nil {
			_, err = t.line.WriteHistory(f)
			if err != nil {
				fmt.Println("readline history error:", err)
			}
			f.Close()
		}
	}
	return 0, nil
}

// disassemblySelection returns the address selected in the disassembly,
// the instruction pointer unless a dis command or a FollowIP notification
// moved it.
func (t *Term) disassemblySelection() uint64 {
	t.selMu.Lock()
	sel := t.selection
	t.selMu.Unlock()
	if sel != 0 || t.target == nil {
		return sel
	}
	th, err := t.target.CurrentThread()
	if err != nil {
		return 0
	}
	cip, _ := th.Register(regnum.CIP)
	return cip
}

func (t *Term) setSelection(addr uint64) {
	t.selMu.Lock()
	t.selection = addr
	t.selMu.Unlock()
}

// requireTarget returns the target of t or an error if dbgval was started
// without a snapshot.
func (t *Term) requireTarget() (*core.Process, error) {
	if t.target == nil {
		return nil, errNoTarget
	}
	return t.target, nil
}

const completionSeparators = " \t+-*/%&|^~!<>=()[],"

// complete returns the completions of line. The first word completes to a
// command, later words complete to register, flag, variable and module
// names. After "module:" the exports of that module are offered.
func (t *Term) complete(line string) []string {
	if !strings.ContainsAny(line, " \t") {
		return prefixMatches(t.commandTrie(), line, "")
	}
	i := strings.LastIndexAny(line, completionSeparators+":")
	head, word := line[:i+1], line[i+1:]
	if line[i] == ':' {
		j := strings.LastIndexAny(line[:i], completionSeparators)
		if exports := t.exportTrie(line[j+1 : i]); exports != nil {
			return prefixMatches(exports, word, head)
		}
	}
	return prefixMatches(t.nameTrie(), word, head)
}

func prefixMatches(tr *trie.Trie, word, head string) []string {
	var r []string
	for _, key := range tr.PrefixSearch(strings.ToLower(word)) {
		node, ok := tr.Find(key)
		if !ok {
			continue
		}
		r = append(r, head+node.Meta().(string))
	}
	sort.Strings(r)
	return r
}

func addName(tr *trie.Trie, name string) {
	tr.Add(strings.ToLower(name), name)
}

func (t *Term) commandTrie() *trie.Trie {
	tr := trie.New()
	for _, cmd := range t.cmds.cmds {
		for _, alias := range cmd.aliases {
			addName(tr, alias)
		}
	}
	return tr
}

func (t *Term) nameTrie() *trie.Trie {
	tr := trie.New()
	for _, name := range value.Names(t.engine.Arch()) {
		addName(tr, name)
	}
	if vt, ok := t.engine.Variables().(interface{ Names() []string }); ok {
		for _, name := range vt.Names() {
			addName(tr, name)
		}
	}
	for name := range value.WindowsConstants {
		addName(tr, name)
	}
	if t.target != nil {
		mods := t.target.Modules()
		l := mods.RLocker()
		l.Lock()
		mods.Enum(func(m *proc.Module) {
			addName(tr, m.Name)
		})
		l.Unlock()
	}
	return tr
}

func (t *Term) exportTrie(modname string) *trie.Trie {
	if t.target == nil || modname == "" {
		return nil
	}
	mods := t.target.Modules()
	l := mods.RLocker()
	l.Lock()
	defer l.Unlock()
	base := mods.BaseFromName(modname)
	if base == 0 {
		return nil
	}
	m := mods.InfoFromAddr(base)
	if m == nil {
		return nil
	}
	tr := trie.New()
	for _, exp := range m.Exports {
		addName(tr, exp.Name)
	}
	return tr
}

func (t *Term) log() logflags.Logger {
	return logflags.TerminalLogger()
}
