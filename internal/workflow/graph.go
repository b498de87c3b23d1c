package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/amishk599/jobflow/internal/retry"
)

// Terminal is the edge destination that ends an execution successfully.
const Terminal = "END"

// ErrInvalidGraph wraps every graph construction problem.
var ErrInvalidGraph = errors.New("invalid workflow graph")

// Action transforms the run state. It receives a private snapshot and returns
// the updated state; on error the returned state is discarded.
type Action func(ctx context.Context, s State) (State, error)

// Guard selects whether an edge fires after its source step succeeds.
type Guard func(s State) bool

// Step is a named unit of work with its own retry policy.
type Step struct {
	Name   string
	Action Action
	Retry  retry.Policy
}

// Edge is a directed control-flow edge. A nil Guard marks the fallback edge.
type Edge struct {
	From  string
	To    string
	Guard Guard
	Label string
}

// Fallback reports whether e fires unconditionally.
func (e Edge) Fallback() bool { return e.Guard == nil }

// Graph is a validated, immutable workflow definition.
type Graph struct {
	name  string
	entry string
	steps map[string]Step
	order []string
	edges map[string][]Edge
}

func (g *Graph) Name() string  { return g.name }
func (g *Graph) Entry() string { return g.entry }

// Steps returns step names in registration order.
func (g *Graph) Steps() []string {
	return append([]string(nil), g.order...)
}

// Step returns the named step.
func (g *Graph) Step(name string) (Step, bool) {
	s, ok := g.steps[name]
	return s, ok
}

// Edges returns the outgoing edges of a step in declaration order.
func (g *Graph) Edges(from string) []Edge {
	return append([]Edge(nil), g.edges[from]...)
}

// Next evaluates the outgoing guards of from against s, in declaration order,
// and returns the destination of the first satisfied edge.
func (g *Graph) Next(from string, s State) (string, error) {
	for _, e := range g.edges[from] {
		if e.Guard == nil || e.Guard(s) {
			return e.To, nil
		}
	}
	// Unreachable for graphs produced by Build.
	return "", fmt.Errorf("step %q: no outgoing edge satisfied", from)
}

// Builder assembles a Graph. Problems are collected and reported by Build.
type Builder struct {
	name  string
	entry string
	steps []Step
	edges []Edge
}

// NewBuilder starts a graph definition.
func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// Entry sets the entry point.
func (b *Builder) Entry(step string) *Builder {
	b.entry = step
	return b
}

// Step registers a step.
func (b *Builder) Step(name string, action Action, policy retry.Policy) *Builder {
	b.steps = append(b.steps, Step{Name: name, Action: action, Retry: policy})
	return b
}

// Edge adds an unconditional (fallback) edge.
func (b *Builder) Edge(from, to string) *Builder {
	b.edges = append(b.edges, Edge{From: from, To: to})
	return b
}

// When adds a guarded edge.
func (b *Builder) When(from string, label string, guard Guard, to string) *Builder {
	b.edges = append(b.edges, Edge{From: from, To: to, Guard: guard, Label: label})
	return b
}

// Build validates the definition and returns the graph.
func (b *Builder) Build() (*Graph, error) {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	g := &Graph{
		name:  b.name,
		entry: b.entry,
		steps: make(map[string]Step, len(b.steps)),
		edges: make(map[string][]Edge),
	}

	if b.name == "" {
		add("graph has no name")
	}

	for _, s := range b.steps {
		switch {
		case s.Name == "":
			add("step with empty name")
			continue
		case s.Name == Terminal:
			add("step name %q is reserved", Terminal)
			continue
		case s.Action == nil:
			add("step %q has no action", s.Name)
		}
		if _, dup := g.steps[s.Name]; dup {
			add("step name %q registered twice", s.Name)
			continue
		}
		g.steps[s.Name] = s
		g.order = append(g.order, s.Name)
	}

	if b.entry == "" {
		add("no entry point")
	} else if _, ok := g.steps[b.entry]; !ok {
		add("entry point %q is not a registered step", b.entry)
	}

	for _, e := range b.edges {
		if _, ok := g.steps[e.From]; !ok {
			add("edge %s -> %s: unknown source step", e.From, e.To)
			continue
		}
		if _, ok := g.steps[e.To]; !ok && e.To != Terminal {
			add("edge %s -> %s: unknown destination step", e.From, e.To)
			continue
		}
		g.edges[e.From] = append(g.edges[e.From], e)
	}

	for _, name := range g.order {
		out := g.edges[name]
		if len(out) == 0 {
			add("step %q has no outgoing edge", name)
			continue
		}
		fallbacks := 0
		for i, e := range out {
			if !e.Fallback() {
				continue
			}
			fallbacks++
			if i != len(out)-1 {
				add("step %q: fallback edge to %q must be declared last", name, e.To)
			}
		}
		switch {
		case fallbacks > 1:
			add("step %q has %d fallback edges, want at most 1", name, fallbacks)
		case fallbacks == 0:
			add("step %q has only guarded edges and no fallback", name)
		}
	}

	if len(problems) == 0 {
		for _, name := range g.unreachable() {
			add("step %q is unreachable from entry point %q", name, g.entry)
		}
		for _, name := range g.deadEnds() {
			add("step %q has no path to %s", name, Terminal)
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidGraph, b.name, errors.Join(problems...))
	}
	return g, nil
}

// unreachable lists steps not reachable from the entry point.
func (g *Graph) unreachable() []string {
	seen := map[string]bool{g.entry: true}
	queue := []string{g.entry}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.edges[cur] {
			if e.To == Terminal || seen[e.To] {
				continue
			}
			seen[e.To] = true
			queue = append(queue, e.To)
		}
	}
	var out []string
	for _, name := range g.order {
		if !seen[name] {
			out = append(out, name)
		}
	}
	return out
}

// deadEnds lists steps with no path to Terminal.
func (g *Graph) deadEnds() []string {
	reverse := make(map[string][]string)
	for from, out := range g.edges {
		for _, e := range out {
			reverse[e.To] = append(reverse[e.To], from)
		}
	}
	seen := make(map[string]bool)
	queue := []string{Terminal}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, from := range reverse[cur] {
			if seen[from] {
				continue
			}
			seen[from] = true
			queue = append(queue, from)
		}
	}
	var out []string
	for _, name := range g.order {
		if !seen[name] {
			out = append(out, name)
		}
	}
	return out
}
