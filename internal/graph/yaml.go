package graph

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joeycumines/taskgraph/internal/blackboard"
)

// document is the YAML authoring shape:
//
//	id: guard
//	root: root
//	variables:
//	  - {name: goal, type: vector, default: [5, 5]}
//	nodes:
//	  - {id: root, kind: sequence, children: [path, walk]}
//	  - id: path
//	    kind: action
//	    task: find_path
//	    params:
//	      target: {var: goal}
//	  - {id: walk, kind: action, task: move_to, params: {target: {var: waypoint}, speed: 2.5}}
//
// A parameter is either {var: name}, {value: x, type: t}, or a bare value
// whose type is inferred.
type document struct {
	ID        string        `yaml:"id"`
	Root      string        `yaml:"root"`
	Variables []variableDoc `yaml:"variables"`
	Nodes     []nodeDoc     `yaml:"nodes"`
}

type variableDoc struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Default any    `yaml:"default"`
}

type nodeDoc struct {
	ID        string         `yaml:"id"`
	Name      string         `yaml:"name"`
	Kind      string         `yaml:"kind"`
	Children  []string       `yaml:"children"`
	Task      string         `yaml:"task"`
	Params    map[string]any `yaml:"params"`
	Count     int            `yaml:"count"`
	Duration  any            `yaml:"duration"`
	Threshold int            `yaml:"threshold"`
	Reactive  bool           `yaml:"reactive"`
}

// ParseYAML decodes and validates a template document.
func ParseYAML(data []byte) (*Template, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("graph: document is empty")
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("graph: decode document: %w", err)
	}
	return doc.build()
}

// LoadFile reads and parses a YAML template from disk.
func LoadFile(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("graph: read %s: %w", path, err)
	}
	t, err := ParseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("graph: %s: %w", path, err)
	}
	return t, nil
}

func (d *document) build() (*Template, error) {
	if d.ID == "" {
		return nil, invalidf("document has no id")
	}

	vars := make([]blackboard.VarDef, 0, len(d.Variables))
	for _, v := range d.Variables {
		typ, err := blackboard.ParseType(v.Type)
		if err != nil {
			return nil, invalidf("variable %q: %v", v.Name, err)
		}
		def := blackboard.VarDef{Name: v.Name, Type: typ}
		if v.Default != nil {
			if def.Default, err = blackboard.Coerce(v.Default, typ); err != nil {
				return nil, invalidf("variable %q default: %v", v.Name, err)
			}
		}
		vars = append(vars, def)
	}
	schema, err := blackboard.NewSchema(vars...)
	if err != nil {
		return nil, invalidf("%v", err)
	}

	index := make(map[string]int, len(d.Nodes))
	for i, n := range d.Nodes {
		if n.ID == "" {
			return nil, invalidf("node %d has no id", i)
		}
		if _, dup := index[n.ID]; dup {
			return nil, invalidf("duplicate node id %q", n.ID)
		}
		index[n.ID] = i
	}

	nodes := make([]Node, len(d.Nodes))
	for i, n := range d.Nodes {
		kind, err := ParseKind(n.Kind)
		if err != nil {
			return nil, invalidf("node %q: %v", n.ID, err)
		}
		node := Node{
			ID:        n.ID,
			Name:      n.Name,
			Kind:      kind,
			TaskID:    n.Task,
			Count:     n.Count,
			Threshold: n.Threshold,
			Reactive:  n.Reactive,
		}
		for _, c := range n.Children {
			ci, ok := index[c]
			if !ok {
				return nil, invalidf("node %q references unknown child %q", n.ID, c)
			}
			node.Children = append(node.Children, ci)
		}
		if node.Duration, err = parseDuration(n.Duration); err != nil {
			return nil, invalidf("node %q duration: %v", n.ID, err)
		}
		if node.Params, err = parseParams(n.Params); err != nil {
			return nil, invalidf("node %q: %v", n.ID, err)
		}
		nodes[i] = node
	}

	root := 0
	if d.Root != "" {
		ri, ok := index[d.Root]
		if !ok {
			return nil, invalidf("root %q is not a node", d.Root)
		}
		root = ri
	}
	return New(d.ID, root, nodes, schema)
}

func parseDuration(x any) (time.Duration, error) {
	switch v := x.(type) {
	case nil:
		return 0, nil
	case string:
		return time.ParseDuration(v)
	case int:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	default:
		return 0, fmt.Errorf("unsupported duration %T", x)
	}
}

func parseParams(raw map[string]any) ([]Binding, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(raw))
	for k := range raw {
		names = append(names, k)
	}
	sort.Strings(names)

	out := make([]Binding, 0, len(names))
	for _, name := range names {
		b, err := parseBinding(name, raw[name])
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", name, err)
		}
		out = append(out, b)
	}
	return out, nil
}

func parseBinding(name string, x any) (Binding, error) {
	if m, ok := x.(map[string]any); ok {
		if v, ok := m["var"]; ok {
			s, ok := v.(string)
			if !ok || s == "" {
				return Binding{}, fmt.Errorf("var must be a non-empty string")
			}
			return Var(name, s), nil
		}
		if v, ok := m["value"]; ok {
			if ts, ok := m["type"].(string); ok {
				typ, err := blackboard.ParseType(ts)
				if err != nil {
					return Binding{}, err
				}
				val, err := blackboard.Coerce(v, typ)
				if err != nil {
					return Binding{}, err
				}
				return Lit(name, val), nil
			}
			x = v
		}
	}
	val, err := blackboard.FromAny(x)
	if err != nil {
		return Binding{}, err
	}
	return Lit(name, val), nil
}
