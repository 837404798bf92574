package command

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/joeycumines/taskgraph/internal/config"
	"github.com/joeycumines/taskgraph/internal/graph"
	"github.com/joeycumines/taskgraph/internal/logging"
)

// ValidateCommand checks graph documents without running them.
type ValidateCommand struct {
	*BaseCommand
	config *config.Config
}

// NewValidateCommand creates a new validate command.
func NewValidateCommand(cfg *config.Config) *ValidateCommand {
	return &ValidateCommand{
		BaseCommand: NewBaseCommand(
			"validate",
			"Check graph documents for structural errors and unknown tasks",
			"validate <graph.yaml> [graph.yaml...]",
		),
		config: cfg,
	}
}

// Execute validates every file, reporting each result. It fails if any
// file is invalid.
func (c *ValidateCommand) Execute(_ context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		_, _ = fmt.Fprintf(stderr, "Usage: %s\n", c.Usage())
		return fmt.Errorf("no graph files given")
	}
	reg, err := newTaskRegistry(c.config, logging.Discard())
	if err != nil {
		return err
	}

	failed := 0
	for _, path := range args {
		tpl, err := graph.LoadFile(path)
		if err == nil {
			if missing := reg.Missing(tpl.TaskIDs()); len(missing) > 0 {
				err = fmt.Errorf("unknown tasks: %s", strings.Join(missing, ", "))
			}
		}
		if err != nil {
			failed++
			_, _ = fmt.Fprintf(stdout, "FAIL %s: %v\n", path, err)
			continue
		}
		_, _ = fmt.Fprintf(stdout, "ok   %s: template %q, %d nodes, %d variables, tasks [%s]\n",
			path, tpl.ID(), tpl.Len(), tpl.Schema().Len(), strings.Join(tpl.TaskIDs(), " "))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d graph files invalid", failed, len(args))
	}
	return nil
}
