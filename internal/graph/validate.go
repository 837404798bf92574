package graph

// Validate checks the structural invariants of the template:
//
//   - the root index is in range and is the only node without a parent;
//   - every child index is in range, and no node has two parents;
//   - the children relation is acyclic and every node is reachable;
//   - arity matches the kind (composite >= 1, decorator == 1, leaf == 0);
//   - leaves name a task, decorators carry sane parameters.
//
// Errors are *GraphError values wrapping ErrInvalidGraph or ErrCycleFound.
func (t *Template) Validate() error {
	if len(t.nodes) == 0 {
		return invalidf("template %q has no nodes", t.id)
	}
	if t.root < 0 || t.root >= len(t.nodes) {
		return invalidf("root index %d out of range [0,%d)", t.root, len(t.nodes))
	}

	for i := range t.nodes {
		n := &t.nodes[i]
		if err := checkArity(n); err != nil {
			return err
		}
		for _, c := range n.Children {
			if c < 0 || c >= len(t.nodes) {
				return invalidf("node %q child index %d out of range", n.ID, c)
			}
		}
	}

	if path := t.findCycle(); path != nil {
		return cycleError(path)
	}

	parent := make([]int, len(t.nodes))
	for i := range parent {
		parent[i] = -1
	}
	for i := range t.nodes {
		n := &t.nodes[i]
		for _, c := range n.Children {
			switch parent[c] {
			case -1:
				parent[c] = i
			case i:
				return invalidf("node %q lists child %q twice", n.ID, t.nodes[c].ID)
			default:
				return invalidf("node %q has two parents (%q, %q)", t.nodes[c].ID, t.nodes[parent[c]].ID, n.ID)
			}
		}
	}

	for i, p := range parent {
		if p == -1 && i != t.root {
			return invalidf("node %q has no parent but is not the root", t.nodes[i].ID)
		}
	}
	if parent[t.root] != -1 {
		return invalidf("root %q has parent %q", t.nodes[t.root].ID, t.nodes[parent[t.root]].ID)
	}
	return nil
}

func checkArity(n *Node) error {
	switch {
	case n.Kind.IsComposite():
		if len(n.Children) < 1 {
			return invalidf("%s %q needs at least one child", n.Kind, n.ID)
		}
		if n.Kind == KindParallel && (n.Threshold < 0 || n.Threshold > len(n.Children)) {
			return invalidf("parallel %q threshold %d out of range [0,%d]", n.ID, n.Threshold, len(n.Children))
		}
	case n.Kind.IsDecorator():
		if len(n.Children) != 1 {
			return invalidf("%s %q needs exactly one child, has %d", n.Kind, n.ID, len(n.Children))
		}
		if n.Kind == KindCooldown && n.Duration < 0 {
			return invalidf("cooldown %q has negative duration", n.ID)
		}
	case n.Kind.IsLeaf():
		if len(n.Children) != 0 {
			return invalidf("%s %q must not have children", n.Kind, n.ID)
		}
		if n.TaskID == "" {
			return invalidf("%s %q has no task id", n.Kind, n.ID)
		}
	default:
		return invalidf("node %q has invalid kind %s", n.ID, n.Kind)
	}
	return nil
}

// findCycle performs a deterministic DFS over node indices and returns one
// cycle path (by node ID), or nil.
func (t *Template) findCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]int, len(t.nodes))
	stack := make([]int, 0, len(t.nodes))

	var visit func(i int) []string
	visit = func(i int) []string {
		color[i] = gray
		stack = append(stack, i)
		for _, c := range t.nodes[i].Children {
			if c < 0 || c >= len(t.nodes) {
				continue
			}
			switch color[c] {
			case gray:
				var path []string
				for j := len(stack) - 1; j >= 0; j-- {
					if stack[j] == c {
						for _, k := range stack[j:] {
							path = append(path, t.nodes[k].ID)
						}
						break
					}
				}
				return append(path, t.nodes[c].ID)
			case white:
				if p := visit(c); p != nil {
					return p
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[i] = black
		return nil
	}

	for i := range t.nodes {
		if color[i] == white {
			if p := visit(i); p != nil {
				return p
			}
		}
	}
	return nil
}
