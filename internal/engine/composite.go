package engine

import (
	"fmt"
	"strings"

	"github.com/joeycumines/taskgraph/internal/graph"
	"github.com/joeycumines/taskgraph/internal/task"
)

// ParallelPolicy supplies the success threshold of a Parallel node that
// does not declare one.
type ParallelPolicy uint8

const (
	// PolicyAll requires every child to succeed.
	PolicyAll ParallelPolicy = iota
	// PolicyOne succeeds as soon as one child succeeds.
	PolicyOne
)

func (p ParallelPolicy) String() string {
	switch p {
	case PolicyAll:
		return "all"
	case PolicyOne:
		return "one"
	default:
		return fmt.Sprintf("policy(%d)", p)
	}
}

// ParseParallelPolicy parses "all" or "one".
func ParseParallelPolicy(s string) (ParallelPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "all", "":
		return PolicyAll, nil
	case "one", "any":
		return PolicyOne, nil
	default:
		return PolicyAll, fmt.Errorf("unknown parallel policy %q (want all or one)", s)
	}
}

// The functions below are the composite and decorator semantics, kept free
// of runner state so they can be checked in isolation.

// shortCircuit reports whether a Sequence or Selector stops at a child
// result, and with what status. A Sequence continues past Success; a
// Selector continues past Failure.
func shortCircuit(kind graph.Kind, child task.Status) (task.Status, bool) {
	cont := task.Success
	if kind == graph.KindSelector {
		cont = task.Failure
	}
	if child == cont {
		return 0, false
	}
	if child != task.Running && !child.IsTerminal() {
		child = task.Failure
	}
	return child, true
}

// exhausted is the result of a Sequence or Selector whose children all
// continued.
func exhausted(kind graph.Kind) task.Status {
	if kind == graph.KindSelector {
		return task.Failure
	}
	return task.Success
}

func invert(s task.Status) task.Status {
	switch s {
	case task.Success:
		return task.Failure
	case task.Failure:
		return task.Success
	case task.Running:
		return task.Running
	default:
		return task.Failure
	}
}

// until resolves UntilSuccess/UntilFailure: the awaited status resolves
// the decorator, everything else keeps it Running.
func until(kind graph.Kind, child task.Status) task.Status {
	want := task.Success
	if kind == graph.KindUntilFailure {
		want = task.Failure
	}
	if child == want {
		return want
	}
	return task.Running
}

// parallelThreshold returns how many of m children must succeed.
func parallelThreshold(declared, m int, policy ParallelPolicy) int {
	if declared > 0 {
		if declared > m {
			return m
		}
		return declared
	}
	if policy == PolicyOne {
		return 1
	}
	return m
}

// parallelOutcome aggregates one tick of child results. Failure is decided
// once the threshold can no longer be reached.
func parallelOutcome(successes, failures, m, need int) task.Status {
	switch {
	case successes >= need:
		return task.Success
	case failures > m-need:
		return task.Failure
	default:
		return task.Running
	}
}

// repeatStep advances a Repeater by one child result and returns the new
// iteration count with the Repeater's status. count <= 0 repeats forever.
func repeatStep(count, iterations int, child task.Status) (int, task.Status) {
	switch child {
	case task.Running:
		return iterations, task.Running
	case task.Success:
		if count <= 0 {
			return 0, task.Running
		}
		iterations++
		if iterations >= count {
			return 0, task.Success
		}
		return iterations, task.Running
	default:
		return 0, task.Failure
	}
}
