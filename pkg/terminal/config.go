package terminal

import (
	"fmt"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/go-delve/dbgval/pkg/config"
)

// configOption is a setting that can be changed with the config command.
type configOption struct {
	name string
	show func(c *config.Config) string
	set  func(c *config.Config, arg string) error
}

func boolOption(name string, field func(c *config.Config) *bool) configOption {
	return configOption{
		name: name,
		show: func(c *config.Config) string { return strconv.FormatBool(*field(c)) },
		set: func(c *config.Config, arg string) error {
			*field(c) = arg == "true"
			return nil
		},
	}
}

func intOption(name string, field func(c *config.Config) *int) configOption {
	return configOption{
		name: name,
		show: func(c *config.Config) string { return strconv.Itoa(*field(c)) },
		set: func(c *config.Config, arg string) error {
			n, err := strconv.Atoi(arg)
			if err != nil {
				return fmt.Errorf("argument to %q must be a number", name)
			}
			if n < 0 {
				return fmt.Errorf("argument to %q must be a number greater than zero", name)
			}
			*field(c) = n
			return nil
		},
	}
}

func stringOption(name string, field func(c *config.Config) *string) configOption {
	return configOption{
		name: name,
		show: func(c *config.Config) string {
			if *field(c) == "" {
				return "<not defined>"
			}
			return strconv.Quote(*field(c))
		},
		set: func(c *config.Config, arg string) error {
			argv, err := splitQuoted(arg)
			if err != nil {
				return err
			}
			switch len(argv) {
			case 0:
				*field(c) = ""
			case 1:
				*field(c) = argv[0]
			default:
				return fmt.Errorf("too many arguments to %q", name)
			}
			return nil
		},
	}
}

var configOptions = []configOption{
	boolOption("signed-calc", func(c *config.Config) *bool { return &c.SignedCalc }),
	boolOption("silent", func(c *config.Config) *bool { return &c.Silent }),
	stringOption("snapshot", func(c *config.Config) *string { return &c.Snapshot }),
	intOption("prompt-color", func(c *config.Config) *int { return &c.PromptColor }),
	intOption("max-api-matches", func(c *config.Config) *int { return &c.MaxAPIMatches }),
	intOption("export-cache-size", func(c *config.Config) *int { return &c.ExportCacheSize }),
}

func findConfigOption(name string) (configOption, bool) {
	for _, opt := range configOptions {
		if opt.name == name {
			return opt, true
		}
	}
	return configOption{}, false
}

func configureCmd(t *Term, ctx callContext, args string) error {
	switch args {
	case "-list":
		return configureList(t)
	case "-save":
		return config.SaveConfig(t.conf)
	case "":
		return fmt.Errorf("wrong number of arguments to \"config\"")
	}

	v := split2PartsBySpace(args)
	name, rest := v[0], ""
	if len(v) == 2 {
		rest = v[1]
	}
	if name == "alias" {
		return configureAlias(t, rest)
	}
	opt, ok := findConfigOption(name)
	if !ok {
		return fmt.Errorf("%q is not a configuration parameter", name)
	}
	if err := opt.set(t.conf, rest); err != nil {
		return err
	}

	// settings read by the engine take effect immediately
	t.engine.SetSignedCalc(t.conf.SignedCalc)
	t.engine.SetMaxAPIMatches(t.conf.MaxAPIMatches)
	return nil
}

func configureList(t *Term) error {
	w := tabwriter.NewWriter(t.stdout, 0, 8, 1, ' ', 0)
	for _, opt := range configOptions {
		fmt.Fprintf(w, "%s\t%s\n", opt.name, opt.show(t.conf))
	}
	cmds := make([]string, 0, len(t.conf.Aliases))
	for cmd := range t.conf.Aliases {
		if len(t.conf.Aliases[cmd]) > 0 {
			cmds = append(cmds, cmd)
		}
	}
	sort.Strings(cmds)
	for _, cmd := range cmds {
		fmt.Fprintf(w, "alias\t%s %v\n", cmd, t.conf.Aliases[cmd])
	}
	return w.Flush()
}

// configureAlias adds an alias with "config alias <cmd> <alias>" and
// removes it with "config alias <alias>".
func configureAlias(t *Term, rest string) error {
	argv, err := splitQuoted(rest)
	if err != nil {
		return err
	}
	switch len(argv) {
	case 1:
		for cmd, aliases := range t.conf.Aliases {
			kept := aliases[:0]
			for _, a := range aliases {
				if a != argv[0] {
					kept = append(kept, a)
				}
			}
			t.conf.Aliases[cmd] = kept
		}
	case 2:
		if t.conf.Aliases == nil {
			t.conf.Aliases = make(map[string][]string)
		}
		t.conf.Aliases[argv[0]] = append(t.conf.Aliases[argv[0]], argv[1])
	default:
		return fmt.Errorf("wrong number of arguments to \"config alias\"")
	}
	t.cmds.Merge(t.conf.Aliases)
	return nil
}
