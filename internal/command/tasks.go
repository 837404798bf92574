package command

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/joeycumines/taskgraph/internal/config"
	"github.com/joeycumines/taskgraph/internal/logging"
	"github.com/joeycumines/taskgraph/internal/tasks"
)

// TasksCommand lists the registered task ids.
type TasksCommand struct {
	*BaseCommand
	config *config.Config
}

// NewTasksCommand creates a new tasks command.
func NewTasksCommand(cfg *config.Config) *TasksCommand {
	return &TasksCommand{
		BaseCommand: NewBaseCommand(
			"tasks",
			"List the task ids graphs can reference",
			"tasks",
		),
		config: cfg,
	}
}

// Execute prints one task per line.
func (c *TasksCommand) Execute(_ context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 {
		_, _ = fmt.Fprintf(stderr, "unexpected arguments: %v\n", args)
		return fmt.Errorf("unexpected arguments")
	}
	reg, err := newTaskRegistry(c.config, logging.Discard())
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(stdout, 0, 8, 2, ' ', 0)
	for _, id := range reg.IDs() {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", id, tasks.Descriptions[id])
	}
	return w.Flush()
}
