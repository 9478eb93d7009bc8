package helphelpers

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// hiddenFlags lists, for each subcommand, the persistent flags of the root
// command that it ignores. A nil entry hides every flag.
var hiddenFlags = map[string][]string{
	"dbgval":  nil,
	"help":    nil,
	"version": nil,
	"log":     nil,
	"repl":    {"listen"},
	"eval":    {"listen", "init"},
	"dap":     {"init"},
}

// Prepare hides from the usage of cmd the flags that cmd accepts, because
// they are defined on the root command, but does not use. After Prepare
// cmd should only be used to print its usage.
func Prepare(cmd *cobra.Command) {
	names, ok := hiddenFlags[cmd.Name()]
	if !ok {
		return
	}
	if names == nil {
		hide := func(f *pflag.Flag) { f.Hidden = true }
		cmd.PersistentFlags().VisitAll(hide)
		cmd.Flags().VisitAll(hide)
		return
	}
	for _, name := range names {
		hideFlag(cmd, name)
	}
}

// hideFlag hides name on cmd or on the closest ancestor defining it.
func hideFlag(cmd *cobra.Command, name string) {
	for ; cmd != nil; cmd = cmd.Parent() {
		if f := cmd.Flags().Lookup(name); f != nil {
			f.Hidden = true
			return
		}
	}
}
