package workflow

import (
	"fmt"
	"sort"
)

// Factory builds a graph. It is called once, when the registry is created.
type Factory func() (*Graph, error)

// Entry is one row of the static workflow table.
type Entry struct {
	Name    string
	Factory Factory
}

// Registry maps workflow names to validated graphs. A name whose factory failed
// keeps its configuration error; other names are unaffected.
type Registry struct {
	names  []string
	graphs map[string]*Graph
	errs   map[string]error
}

// NewRegistry builds and validates every graph in table eagerly.
func NewRegistry(table []Entry) *Registry {
	r := &Registry{
		graphs: make(map[string]*Graph, len(table)),
		errs:   make(map[string]error),
	}
	for _, e := range table {
		if _, dup := r.graphs[e.Name]; dup {
			r.errs[e.Name] = fmt.Errorf("%w: workflow %q registered twice", ErrInvalidGraph, e.Name)
			delete(r.graphs, e.Name)
			continue
		}
		if _, dup := r.errs[e.Name]; dup {
			continue
		}
		r.names = append(r.names, e.Name)
		if e.Factory == nil {
			r.errs[e.Name] = fmt.Errorf("%w: workflow %q has no factory", ErrInvalidGraph, e.Name)
			continue
		}
		g, err := e.Factory()
		if err != nil {
			r.errs[e.Name] = err
			continue
		}
		if g.Name() != e.Name {
			r.errs[e.Name] = fmt.Errorf("%w: workflow %q built graph named %q", ErrInvalidGraph, e.Name, g.Name())
			continue
		}
		r.graphs[e.Name] = g
	}
	return r
}

// Names returns registered workflow names in table order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Graph returns the named graph, or its configuration error.
func (r *Registry) Graph(name string) (*Graph, error) {
	if err, ok := r.errs[name]; ok {
		return nil, err
	}
	g, ok := r.graphs[name]
	if !ok {
		return nil, fmt.Errorf("unknown workflow %q", name)
	}
	return g, nil
}

// Errors returns the configuration errors keyed by workflow name.
func (r *Registry) Errors() map[string]error {
	out := make(map[string]error, len(r.errs))
	for k, v := range r.errs {
		out[k] = v
	}
	return out
}

// Invalid lists workflow names that failed validation, sorted.
func (r *Registry) Invalid() []string {
	out := make([]string, 0, len(r.errs))
	for k := range r.errs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
