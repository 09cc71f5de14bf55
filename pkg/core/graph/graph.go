// Package graph defines the static interview question graph and its
// deterministic transition rules.
package graph

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrUnknownNode indicates a lookup for a node id that is not part of the
// graph. This is a configuration defect, not a runtime condition.
var ErrUnknownNode = errors.New("unknown question node")

// Rule routes an answer to a target node when any of its keywords occurs in
// the answer text (case-insensitive substring match). An empty Next on a
// matched rule ends the conversation.
type Rule struct {
	Contains []string `yaml:"contains"`
	Next     string   `yaml:"next,omitempty"`
}

// Node is one question in the graph. Rules are evaluated in order; the first
// match wins. When no rule matches, Next is the default target, and an empty
// Next means the graph is exhausted at this node.
type Node struct {
	ID     string `yaml:"id"`
	Prompt string `yaml:"prompt"`
	Rules  []Rule `yaml:"rules,omitempty"`
	Next   string `yaml:"next,omitempty"`
}

type document struct {
	Start string `yaml:"start"`
	Nodes []Node `yaml:"nodes"`
}

// Graph is an immutable directed graph of question nodes. It is built once at
// startup and only ever read afterwards. Cycles are not structurally
// forbidden; bounding the session is the session clock's job, so callers must
// not assume the graph alone terminates.
type Graph struct {
	start string
	nodes map[string]Node
}

// Parse builds a graph from its YAML definition.
func Parse(data []byte) (*Graph, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse question graph: %w", err)
	}
	if strings.TrimSpace(doc.Start) == "" {
		return nil, fmt.Errorf("question graph: start node is required")
	}
	g := &Graph{
		start: doc.Start,
		nodes: make(map[string]Node, len(doc.Nodes)),
	}
	for _, n := range doc.Nodes {
		id := strings.TrimSpace(n.ID)
		if id == "" {
			return nil, fmt.Errorf("question graph: node with empty id")
		}
		if _, dup := g.nodes[id]; dup {
			return nil, fmt.Errorf("question graph: duplicate node %q", id)
		}
		if strings.TrimSpace(n.Prompt) == "" {
			return nil, fmt.Errorf("question graph: node %q has no prompt", id)
		}
		g.nodes[id] = n
	}
	if err := g.validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// LoadFile parses a graph definition from disk.
func LoadFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question graph %q: %w", path, err)
	}
	return Parse(data)
}

func (g *Graph) validate() error {
	if _, ok := g.nodes[g.start]; !ok {
		return fmt.Errorf("question graph: start node %q is not defined", g.start)
	}
	for id, n := range g.nodes {
		if n.Next != "" {
			if _, ok := g.nodes[n.Next]; !ok {
				return fmt.Errorf("question graph: node %q points at undefined node %q", id, n.Next)
			}
		}
		for i, r := range n.Rules {
			if len(r.Contains) == 0 {
				return fmt.Errorf("question graph: node %q rule %d has no keywords", id, i)
			}
			if r.Next == "" {
				continue
			}
			if _, ok := g.nodes[r.Next]; !ok {
				return fmt.Errorf("question graph: node %q rule %d points at undefined node %q", id, i, r.Next)
			}
		}
	}
	return nil
}

// Start returns the id of the entry node.
func (g *Graph) Start() string { return g.start }

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int { return len(g.nodes) }

// Prompt returns the question text for a node.
func (g *Graph) Prompt(nodeID string) (string, error) {
	n, ok := g.nodes[nodeID]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownNode, nodeID)
	}
	return n.Prompt, nil
}

// Transition computes the node that follows nodeID given the answer text.
// It is a pure function of its inputs: rules are matched in order against the
// case-folded answer, falling back to the node's default target. An empty
// next id means the conversation has reached its natural end.
func (g *Graph) Transition(nodeID, answer string) (string, error) {
	n, ok := g.nodes[nodeID]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownNode, nodeID)
	}
	folded := strings.ToLower(answer)
	for _, r := range n.Rules {
		for _, kw := range r.Contains {
			if kw == "" {
				continue
			}
			if strings.Contains(folded, strings.ToLower(kw)) {
				return r.Next, nil
			}
		}
	}
	return n.Next, nil
}

var (
	defaultOnce  sync.Once
	defaultGraph *Graph
	defaultErr   error
)

// Default returns the stock mock-interview graph compiled into the binary.
func Default() (*Graph, error) {
	defaultOnce.Do(func() {
		defaultGraph, defaultErr = Parse(interviewYAML)
	})
	return defaultGraph, defaultErr
}
