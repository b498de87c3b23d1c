package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amishk599/jobflow/internal/retry"
)

func noop(_ context.Context, s State) (State, error) { return s, nil }

func once() retry.Policy { return retry.Policy{MaxAttempts: 1} }

func TestBuild_ValidLinearGraph(t *testing.T) {
	g, err := NewBuilder("linear").
		Entry("a").
		Step("a", noop, once()).
		Step("b", noop, once()).
		Edge("a", "b").
		Edge("b", Terminal).
		Build()
	require.NoError(t, err)
	assert.Equal(t, "linear", g.Name())
	assert.Equal(t, "a", g.Entry())
	assert.Equal(t, []string{"a", "b"}, g.Steps())
}

func TestBuild_LoopWithGuardIsValid(t *testing.T) {
	_, err := NewBuilder("loop").
		Entry("page").
		Step("page", noop, once()).
		When("page", "more", func(s State) bool { return s.Bool("more") }, "page").
		Edge("page", Terminal).
		Build()
	require.NoError(t, err)
}

func TestBuild_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		build   func() *Builder
		problem string
	}{
		{
			name: "unreachable step",
			build: func() *Builder {
				return NewBuilder("g").Entry("a").
					Step("a", noop, once()).Step("orphan", noop, once()).
					Edge("a", Terminal).Edge("orphan", Terminal)
			},
			problem: `step "orphan" is unreachable`,
		},
		{
			name: "no path to terminal",
			build: func() *Builder {
				return NewBuilder("g").Entry("a").
					Step("a", noop, once()).Step("b", noop, once()).
					When("a", "x", func(State) bool { return true }, Terminal).
					Edge("a", "b").
					Edge("b", "b")
			},
			problem: `step "b" has no path to END`,
		},
		{
			name: "no outgoing edge",
			build: func() *Builder {
				return NewBuilder("g").Entry("a").Step("a", noop, once())
			},
			problem: `step "a" has no outgoing edge`,
		},
		{
			name: "duplicate step",
			build: func() *Builder {
				return NewBuilder("g").Entry("a").
					Step("a", noop, once()).Step("a", noop, once()).
					Edge("a", Terminal)
			},
			problem: `step name "a" registered twice`,
		},
		{
			name: "missing entry",
			build: func() *Builder {
				return NewBuilder("g").Step("a", noop, once()).Edge("a", Terminal)
			},
			problem: "no entry point",
		},
		{
			name: "fallback not last",
			build: func() *Builder {
				return NewBuilder("g").Entry("a").
					Step("a", noop, once()).Step("b", noop, once()).
					Edge("a", Terminal).
					When("a", "x", func(State) bool { return true }, "b").
					Edge("b", Terminal)
			},
			problem: "must be declared last",
		},
		{
			name: "two fallbacks",
			build: func() *Builder {
				return NewBuilder("g").Entry("a").
					Step("a", noop, once()).Step("b", noop, once()).
					Edge("a", "b").Edge("a", Terminal).
					Edge("b", Terminal)
			},
			problem: "2 fallback edges",
		},
		{
			name: "guards without fallback",
			build: func() *Builder {
				return NewBuilder("g").Entry("a").
					Step("a", noop, once()).
					When("a", "x", func(State) bool { return true }, Terminal)
			},
			problem: "no fallback",
		},
		{
			name: "unknown destination",
			build: func() *Builder {
				return NewBuilder("g").Entry("a").Step("a", noop, once()).Edge("a", "nowhere")
			},
			problem: "unknown destination step",
		},
		{
			name: "nil action",
			build: func() *Builder {
				return NewBuilder("g").Entry("a").Step("a", nil, once()).Edge("a", Terminal)
			},
			problem: `step "a" has no action`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := tt.build().Build()
			require.Error(t, err)
			assert.Nil(t, g)
			assert.True(t, errors.Is(err, ErrInvalidGraph))
			assert.Contains(t, err.Error(), tt.problem)
		})
	}
}

func TestNext_FirstSatisfiedGuardWins(t *testing.T) {
	g, err := NewBuilder("g").Entry("a").
		Step("a", noop, once()).Step("b", noop, once()).Step("c", noop, once()).
		When("a", "to-b", func(s State) bool { return s.Int("n") > 0 }, "b").
		When("a", "to-c", func(s State) bool { return s.Int("n") > 0 }, "c").
		Edge("a", Terminal).
		Edge("b", Terminal).
		Edge("c", Terminal).
		Build()
	require.NoError(t, err)

	s := NewState("x", "", nil)
	to, err := g.Next("a", s)
	require.NoError(t, err)
	assert.Equal(t, Terminal, to)

	s.Set("n", 1)
	to, err = g.Next("a", s)
	require.NoError(t, err)
	assert.Equal(t, "b", to)
}

func TestRegistry_IsolatesInvalidGraph(t *testing.T) {
	valid := func(name string) Factory {
		return func() (*Graph, error) {
			return NewBuilder(name).Entry("a").Step("a", noop, once()).Edge("a", Terminal).Build()
		}
	}
	broken := func() (*Graph, error) {
		return NewBuilder("two").Entry("a").
			Step("a", noop, once()).Step("island", noop, once()).
			Edge("a", Terminal).Edge("island", Terminal).
			Build()
	}

	r := NewRegistry([]Entry{
		{Name: "one", Factory: valid("one")},
		{Name: "two", Factory: broken},
		{Name: "three", Factory: valid("three")},
		{Name: "four", Factory: valid("four")},
	})

	assert.Equal(t, []string{"one", "two", "three", "four"}, r.Names())
	assert.Equal(t, []string{"two"}, r.Invalid())

	_, err := r.Graph("two")
	assert.ErrorIs(t, err, ErrInvalidGraph)
	for _, name := range []string{"one", "three", "four"} {
		g, err := r.Graph(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, g.Name())
	}

	_, err = r.Graph("missing")
	assert.Error(t, err)
}

func TestRegistry_RejectsNameMismatch(t *testing.T) {
	r := NewRegistry([]Entry{{Name: "alias", Factory: func() (*Graph, error) {
		return NewBuilder("real").Entry("a").Step("a", noop, once()).Edge("a", Terminal).Build()
	}}})
	_, err := r.Graph("alias")
	assert.ErrorIs(t, err, ErrInvalidGraph)
}
