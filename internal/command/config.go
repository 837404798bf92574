package command

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/joeycumines/taskgraph/internal/config"
)

// ConfigCommand shows the effective configuration.
type ConfigCommand struct {
	*BaseCommand
	config     *config.Config
	configPath string
	showSchema bool
}

// NewConfigCommand creates a new config command. configPath is only
// displayed.
func NewConfigCommand(cfg *config.Config, configPath string) *ConfigCommand {
	return &ConfigCommand{
		BaseCommand: NewBaseCommand(
			"config",
			"Show effective configuration, the option reference, or validation warnings",
			"config [-schema] [validate | <key>]",
		),
		config:     cfg,
		configPath: configPath,
	}
}

// SetupFlags configures the flags for the config command.
func (c *ConfigCommand) SetupFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.showSchema, "schema", false, "Print every known option with its type, default and env var")
}

// Execute prints the requested view.
func (c *ConfigCommand) Execute(_ context.Context, args []string, stdout, stderr io.Writer) error {
	schema := config.DefaultSchema()
	cfg := cfgOrEmpty(c.config)

	if c.showSchema {
		_, _ = fmt.Fprint(stdout, schema.FormatHelp())
		return nil
	}

	switch {
	case len(args) == 0:
		if c.configPath != "" {
			_, _ = fmt.Fprintf(stdout, "Config file: %s\n\n", c.configPath)
		}
		w := tabwriter.NewWriter(stdout, 0, 8, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "OPTION\tVALUE\tSOURCE")
		for _, opt := range schema.GlobalOptions() {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", opt.Key, schema.Resolve(cfg, opt.Key), source(cfg, opt))
		}
		sections := make([]string, 0, len(cfg.Commands))
		for sec := range cfg.Commands {
			sections = append(sections, sec)
		}
		sort.Strings(sections)
		for _, sec := range sections {
			keys := make([]string, 0, len(cfg.Commands[sec]))
			for k := range cfg.Commands[sec] {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				_, _ = fmt.Fprintf(w, "[%s] %s\t%s\tconfig\n", sec, k, cfg.Commands[sec][k])
			}
		}
		return w.Flush()

	case len(args) == 1 && args[0] == "validate":
		issues := config.ValidateConfig(cfg, schema)
		if len(issues) == 0 {
			_, _ = fmt.Fprintln(stdout, "Configuration is valid.")
			return nil
		}
		for _, issue := range issues {
			_, _ = fmt.Fprintf(stdout, "  - %s\n", issue)
		}
		return fmt.Errorf("configuration has %d issue(s)", len(issues))

	case len(args) == 1:
		if schema.Lookup("", args[0]) == nil {
			if v, ok := cfg.GetGlobalOption(args[0]); ok {
				_, _ = fmt.Fprintln(stdout, v)
				return nil
			}
			return fmt.Errorf("unknown option: %s", args[0])
		}
		_, _ = fmt.Fprintln(stdout, schema.Resolve(cfg, args[0]))
		return nil

	default:
		_, _ = fmt.Fprintf(stderr, "Usage: %s\n", c.Usage())
		return fmt.Errorf("unexpected arguments")
	}
}

func source(cfg *config.Config, opt config.ConfigOption) string {
	if opt.EnvVar != "" {
		if _, ok := os.LookupEnv(opt.EnvVar); ok {
			return "env " + opt.EnvVar
		}
	}
	if _, ok := cfg.GetGlobalOption(opt.Key); ok {
		return "config"
	}
	return "default"
}
