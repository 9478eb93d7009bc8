package cmds

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/go-delve/dbgval/cmd/dbgval/cmds/helphelpers"
	"github.com/go-delve/dbgval/pkg/config"
	"github.com/go-delve/dbgval/pkg/logflags"
	"github.com/go-delve/dbgval/pkg/proc/core"
	"github.com/go-delve/dbgval/pkg/terminal"
	"github.com/go-delve/dbgval/pkg/value"
	"github.com/go-delve/dbgval/pkg/version"
	"github.com/go-delve/dbgval/service/dap"
)

// Flag values, shared by the subcommands.
var (
	log       bool
	logOutput string
	logDest   string

	addr       string
	initFile   string
	configFile string
	snapshot   string
	// signed overrides signed-calc when given
	signed bool
	// write saves the snapshot after eval
	write bool

	rootCommand *cobra.Command
	conf        *config.Config
)

const dbgvalCommandLongDesc = `dbgval evaluates debugger expressions against a process snapshot.

Expressions follow the x64dbg syntax: registers (rax, al, xmm0), flags (_ZF),
memory references (dword:[rsp+8], gs:[0x30]), exports (kernel32.Sleep,
kernel32:$0x1000), labels, user variables ($result) and numbers, combined
with the usual C operators.

The snapshot is a YAML file holding the thread context, memory regions and
loaded modules, see 'dbgval help snapshot'.`

// New returns the dbgval command tree.
func New() *cobra.Command {
	// Main dbgval root command.
	rootCommand = &cobra.Command{
		Use:   "dbgval",
		Short: "dbgval is a debugger expression evaluator.",
		Long:  dbgvalCommandLongDesc,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd)
		},
	}

	rootCommand.PersistentFlags().StringVarP(&addr, "listen", "l", "127.0.0.1:0", "DAP server listen address.")

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'dbgval help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'dbgval help log').")

	rootCommand.PersistentFlags().StringVar(&initFile, "init", "", "Init file, executed by the terminal client.")
	rootCommand.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file to use instead of the one in the user configuration directory.")
	rootCommand.PersistentFlags().StringVarP(&snapshot, "snapshot", "s", "", "Snapshot file, defaults to the snapshot configuration option.")
	rootCommand.PersistentFlags().BoolVar(&signed, "signed", false, "Evaluate comparisons, divisions and shifts as signed integers.")

	// 'repl' subcommand.
	replCommand := &cobra.Command{
		Use:   "repl [snapshot]",
		Short: "Starts an interactive session.",
		Long: `Starts an interactive session.

Without a snapshot expressions are evaluated with no debuggee, registers read
as zero and memory references fail.`,
		Args: cobra.MaximumNArgs(1),
		Run:  replCmd,
	}
	rootCommand.AddCommand(replCommand)

	// 'eval' subcommand.
	evalCommand := &cobra.Command{
		Use:   "eval <expression>...",
		Short: "Evaluates expressions and prints their values.",
		Long: `Evaluates every argument as an expression and prints its value in
hexadecimal, one per line.

Assignments are accepted, use --write to save the modified snapshot.`,
		Args:         cobra.MinimumNArgs(1),
		RunE:         evalCmd,
		SilenceUsage: true,
	}
	evalCommand.Flags().BoolVarP(&write, "write", "w", false, "Save the snapshot after evaluating.")
	rootCommand.AddCommand(evalCommand)

	// 'dap' subcommand.
	dapCommand := &cobra.Command{
		Use:   "dap",
		Short: "Starts a headless TCP server communicating via Debug Adaptor Protocol (DAP).",
		Long: `Starts a headless TCP server communicating via Debug Adaptor Protocol (DAP).

The server is always headless and serves a single client. Frontends evaluate
expressions through the 'evaluate', 'setExpression', 'readMemory' and
'disassemble' requests. The server exits when the client disconnects.`,
		Args: cobra.NoArgs,
		Run:  dapCmd,
	}
	rootCommand.AddCommand(dapCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dbgval\n%s\n", version.DbgvalVersion)
			if log {
				fmt.Fprintln(cmd.OutOrStdout(), version.BuildInfo())
			}
		},
	}
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `With --log dbgval writes debug messages of the layers named by
--log-output, a comma separated list of:

	value		resolution and assignment of every operand (default)
	evalop		compiled expressions
	core		snapshot loading and memory patches
	dap		every DAP message
	terminal	terminal view updates

Errors are logged for every layer. Logs go to stderr, or to --log-dest
which is either a file descriptor number or a file path.
`,
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "snapshot",
		Short: "Help about the snapshot file format.",
		Long: `A snapshot is a YAML file describing a stopped process:

	arch: x64                   # x86 or x64
	detached: false             # true evaluates as if no session was active
	teb: 0x7ff000               # thread environment block
	registers:
	  rax: 0x10
	  rip: 0x401000
	memory:
	- addr: 0x401000
	  size: 0x1000
	  data: "90 c3"             # hex, zero extended to size
	  read-only: true
	modules:
	- name: kernel32.dll
	  base: 0x76000000
	  size: 0x100000
	  exports:
	  - name: Sleep
	    rva: 0x4000
	labels:
	  main: 0x401000

The 'save' command of the terminal and 'eval --write' write the snapshot back
with the applied patches and register values.
`,
	})

	defaultHelp := rootCommand.HelpFunc()
	rootCommand.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		helphelpers.Prepare(cmd)
		defaultHelp(cmd, args)
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

// loadConfig reads the configuration and applies the flags overriding it.
func loadConfig(cmd *cobra.Command) error {
	if configFile != "" {
		c, err := config.ReadConfig(configFile)
		if err != nil {
			return err
		}
		conf = c
	} else {
		conf = config.LoadConfig()
	}
	if cmd.Flags().Changed("signed") {
		conf.SignedCalc = signed
	}
	if snapshot == "" {
		snapshot = conf.Snapshot
	}
	return nil
}

// openSnapshot opens the snapshot selected by path, the --snapshot flag or
// the configuration, in this order. It returns nil if none is selected.
func openSnapshot(path string) (*core.Process, error) {
	if path == "" {
		path = snapshot
	}
	if path == "" {
		return nil, nil
	}
	return core.Open(path, conf.ExportCacheSize)
}

func replCmd(cmd *cobra.Command, args []string) {
	status := func() int {
		if err := logflags.Setup(log, logOutput, logDest); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		defer logflags.Close()

		var path string
		if len(args) > 0 {
			path = args[0]
		}
		target, err := openSnapshot(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}

		term := terminal.New(target, conf)
		term.InitFile = initFile
		status, err := term.Run()
		if err != nil {
			fmt.Println(err)
		}
		return status
	}()
	os.Exit(status)
}

var errNothingToWrite = errors.New("--write requires a snapshot")

func evalCmd(cmd *cobra.Command, args []string) error {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		return err
	}
	defer logflags.Close()

	target, err := openSnapshot("")
	if err != nil {
		return err
	}
	if write && target == nil {
		return errNothingToWrite
	}

	cfg := value.Config{
		Constants:     value.WindowsConstants,
		Console:       cmd.ErrOrStderr(),
		SignedCalc:    conf.SignedCalc,
		MaxAPIMatches: conf.MaxAPIMatches,
	}
	if target != nil {
		cfg.Target = target
	}
	engine := value.New(cfg)

	out := cmd.OutOrStdout()
	for _, expr := range args {
		res, err := engine.Resolve(expr, value.ResolveOptions{AllowAssign: true, Silent: conf.Silent})
		if err != nil {
			return fmt.Errorf("%s: %v", expr, err)
		}
		fmt.Fprintf(out, "%X\n", res.Value)
	}

	if write {
		return target.Save(snapshot)
	}
	return nil
}

func dapCmd(cmd *cobra.Command, args []string) {
	status := func() int {
		if err := logflags.Setup(log, logOutput, logDest); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		defer logflags.Close()

		if initFile != "" {
			fmt.Fprint(os.Stderr, "Warning: init file ignored with dap\n")
		}

		target, err := openSnapshot("")
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}

		listener, err := net.Listen("tcp", addr)
		if err != nil {
			fmt.Printf("couldn't start listener: %s\n", err)
			return 1
		}
		fmt.Printf("DAP server listening at: %s\n", listener.Addr())
		disconnectChan := make(chan struct{})
		server := dap.NewServer(&dap.Config{
			Listener:       listener,
			Target:         target,
			SignedCalc:     conf.SignedCalc,
			MaxAPIMatches:  conf.MaxAPIMatches,
			DisconnectChan: disconnectChan,
		})
		defer server.Stop()

		server.Run()
		waitForDisconnectSignal(disconnectChan)
		return 0
	}()
	os.Exit(status)
}

// waitForDisconnectSignal blocks until Ctrl-C or until the client
// disconnects.
func waitForDisconnectSignal(disconnected <-chan struct{}) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	select {
	case <-ch:
	case <-disconnected:
	}
}
