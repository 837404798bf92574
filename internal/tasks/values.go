package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joeycumines/taskgraph/internal/blackboard"
	"github.com/joeycumines/taskgraph/internal/task"
)

// SetValue writes `value` to the blackboard variable named by `key`. It
// fails when the write is rejected.
type SetValue struct{}

func (SetValue) Execute(task.Params) task.Status { return task.Failure }

func (SetValue) ExecuteWithContext(ctx *task.Context, params task.Params) task.Status {
	key := params.String("key", "")
	if key == "" || ctx == nil || ctx.Blackboard == nil {
		return task.Failure
	}
	if !ctx.Blackboard.Set(key, params.Get("value")) {
		return task.Failure
	}
	return task.Success
}

func (SetValue) Abort() {}

// Log emits `message` at `level` (debug, info, warn, error; default info).
// Every other parameter is attached as an attribute.
type Log struct {
	logger *slog.Logger
}

func (l *Log) Execute(params task.Params) task.Status {
	return l.ExecuteWithContext(nil, params)
}

func (l *Log) ExecuteWithContext(ctx *task.Context, params task.Params) task.Status {
	logger := loggerOf(ctx, l.logger)
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(params.String("level", "info"))); err != nil {
		level = slog.LevelInfo
	}
	args := make([]any, 0, 2*len(params)+2)
	if ctx != nil {
		args = append(args, "entity", uint64(ctx.Entity))
	}
	for _, name := range params.Names() {
		if name == "message" || name == "level" {
			continue
		}
		args = append(args, name, params.Get(name).String())
	}
	logger.Log(context.Background(), level, params.String("message", ""), args...)
	return task.Success
}

func (l *Log) Abort() {}

// Compare tests the blackboard variable `key` against `value` with `op`
// (==, !=, <, <=, >, >=). Numbers compare numerically across int and
// float; strings order lexicographically; other types support equality
// only.
type Compare struct {
	logger *slog.Logger
	warned bool
}

func (c *Compare) Execute(task.Params) task.Status { return task.Failure }

func (c *Compare) ExecuteWithContext(ctx *task.Context, params task.Params) task.Status {
	if ctx == nil || ctx.Blackboard == nil {
		return task.Failure
	}
	left := ctx.Blackboard.Get(params.String("key", ""))
	ok, err := CompareValues(left, params.String("op", "=="), params.Get("value"))
	if err != nil {
		if !c.warned {
			c.warned = true
			loggerOf(ctx, c.logger).Warn("[Task] compare failed", "entity", uint64(ctx.Entity), "error", err)
		}
		return task.Failure
	}
	if ok {
		return task.Success
	}
	return task.Failure
}

func (c *Compare) Abort() {}

// CompareValues applies op to a and b.
func CompareValues(a blackboard.Value, op string, b blackboard.Value) (bool, error) {
	op = strings.TrimSpace(op)
	if !a.IsValid() || !b.IsValid() {
		return false, fmt.Errorf("compare %s: missing operand", op)
	}
	var cmp int
	af, aNum := a.AsFloat()
	bf, bNum := b.AsFloat()
	as, aStr := a.AsString()
	bs, bStr := b.AsString()
	switch {
	case aNum && bNum:
		cmp = compareOrdered(af, bf)
	case aStr && bStr:
		cmp = strings.Compare(as, bs)
	default:
		switch op {
		case "==":
			return a.Equal(b), nil
		case "!=":
			return !a.Equal(b), nil
		}
		return false, fmt.Errorf("compare %s: %s and %s are not ordered", op, a.Type(), b.Type())
	}
	switch op {
	case "==":
		return cmp == 0, nil
	case "!=":
		return cmp != 0, nil
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	default:
		return false, fmt.Errorf("compare: unknown operator %q", op)
	}
}

func compareOrdered(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
