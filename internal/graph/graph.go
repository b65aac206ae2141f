// internal/graph/graph.go
package graph

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/solatis/surveyvars/internal/types"
)

/*
 * Dependency graph.
 *
 * The graph is a read cache over Store.ListVariables. It is loaded lazily on
 * first use and dropped by Invalidate after every write, so a cached node is
 * never trusted past the next write.
 *
 * Traversal uses three-color DFS with an explicit depth bound:
 *
 *   - white: not yet visited
 *   - gray:  on the current path; reaching a gray node is a cycle
 *   - black: fully explored
 *
 * A cycle or a path deeper than maxDepth aborts the walk with
 * ErrCyclicDefinition. The abort is logged with the walk's start node.
 */

// Store persists variable configurations and their dependency edges.
// ListVariables and GetVariable return configurations with both edge lists set.
// UpdateVariables writes all of cfgs or none of them.
type Store interface {
	ListVariables(ctx context.Context) ([]*types.VariableConfiguration, error)
	GetVariable(ctx context.Context, id types.VariableID) (*types.VariableConfiguration, error)
	InsertVariable(ctx context.Context, cfg *types.VariableConfiguration) error
	UpdateVariables(ctx context.Context, cfgs ...*types.VariableConfiguration) error
	DeleteVariable(ctx context.Context, id types.VariableID) error
}

// Graph caches every variable of a scope with its dependency edges.
type Graph struct {
	mu       sync.Mutex
	store    Store
	maxDepth int
	logger   zerolog.Logger

	// nodes is nil until loaded.
	nodes map[types.VariableID]*types.VariableConfiguration
}

// NewGraph creates a graph over store. maxDepth <= 0 uses types.DefaultMaxDependencyDepth.
func NewGraph(store Store, maxDepth int, logger zerolog.Logger) *Graph {
	if maxDepth <= 0 {
		maxDepth = types.DefaultMaxDependencyDepth
	}
	return &Graph{
		store:    store,
		maxDepth: maxDepth,
		logger:   logger.With().Str("component", "graph").Logger(),
	}
}

// Invalidate drops the cache. The next read reloads from the store.
func (g *Graph) Invalidate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = nil
}

// load fills the cache. Callers must hold g.mu.
func (g *Graph) load(ctx context.Context) error {
	if g.nodes != nil {
		return nil
	}
	variables, err := g.store.ListVariables(ctx)
	if err != nil {
		return fmt.Errorf("failed to load variables: %w", err)
	}
	nodes := make(map[types.VariableID]*types.VariableConfiguration, len(variables))
	for _, v := range variables {
		nodes[v.ID] = v.Clone()
	}
	g.nodes = nodes
	g.logger.Debug().Int("variables", len(nodes)).Msg("Dependency graph loaded")
	return nil
}

// Variables returns copies of every cached variable, ordered by identifier.
func (g *Graph) Variables(ctx context.Context) ([]*types.VariableConfiguration, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.load(ctx); err != nil {
		return nil, err
	}
	out := make([]*types.VariableConfiguration, 0, len(g.nodes))
	for _, v := range g.nodes {
		out = append(out, v.Clone())
	}
	slices.SortFunc(out, func(a, b *types.VariableConfiguration) int {
		return strings.Compare(a.Identifier, b.Identifier)
	})
	return out, nil
}

// Variable returns a copy of one cached variable.
func (g *Graph) Variable(ctx context.Context, id types.VariableID) (*types.VariableConfiguration, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.load(ctx); err != nil {
		return nil, err
	}
	v, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrVariableNotFound, id)
	}
	return v.Clone(), nil
}

// TransitiveDependencies returns every variable id depends on, directly or
// not, deepest first. The variable itself is not included.
func (g *Graph) TransitiveDependencies(ctx context.Context, id types.VariableID) ([]*types.VariableConfiguration, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.load(ctx); err != nil {
		return nil, err
	}

	order, err := g.walk(id, g.dependencies)
	if err != nil {
		return nil, err
	}
	return g.resolve(order, id), nil
}

// TransitiveDependents returns every variable depending on id, directly or
// not, nearest first: a variable always precedes the variables that depend
// on it. The variable itself is not included.
func (g *Graph) TransitiveDependents(ctx context.Context, id types.VariableID) ([]*types.VariableConfiguration, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.load(ctx); err != nil {
		return nil, err
	}

	order, err := g.walk(id, g.dependents)
	if err != nil {
		return nil, err
	}
	slices.Reverse(order)
	return g.resolve(order, id), nil
}

// CheckDependencies reports whether giving id the dependency set deps would
// create a self reference or a cycle.
func (g *Graph) CheckDependencies(ctx context.Context, id types.VariableID, deps []types.VariableID) error {
	if slices.Contains(deps, id) {
		return fmt.Errorf("%w: %s", types.ErrSelfReference, id)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.load(ctx); err != nil {
		return err
	}

	proposed := func(n types.VariableID) []types.VariableID {
		if n == id {
			return deps
		}
		return g.dependencies(n)
	}
	_, err := g.walk(id, proposed)
	return err
}

func (g *Graph) dependencies(id types.VariableID) []types.VariableID {
	if v, ok := g.nodes[id]; ok {
		return v.Dependencies
	}
	return nil
}

func (g *Graph) dependents(id types.VariableID) []types.VariableID {
	if v, ok := g.nodes[id]; ok {
		return v.Dependents
	}
	return nil
}

// resolve maps ids to cached copies, skipping skip and ids without a node.
func (g *Graph) resolve(order []types.VariableID, skip types.VariableID) []*types.VariableConfiguration {
	out := make([]*types.VariableConfiguration, 0, len(order))
	for _, id := range order {
		if id == skip {
			continue
		}
		if v, ok := g.nodes[id]; ok {
			out = append(out, v.Clone())
		}
	}
	return out
}

type color int

const (
	white color = iota
	gray
	black
)

// walk explores edges from start and returns the visited ids in post-order.
func (g *Graph) walk(start types.VariableID, edges func(types.VariableID) []types.VariableID) ([]types.VariableID, error) {
	colors := make(map[types.VariableID]color)
	parent := make(map[types.VariableID]types.VariableID)
	var order []types.VariableID

	var visit func(n types.VariableID, depth int) error
	visit = func(n types.VariableID, depth int) error {
		if depth > g.maxDepth {
			g.logger.Error().
				Str("start", g.name(start)).
				Int("depth", depth).
				Int("max_depth", g.maxDepth).
				Msg("Dependency walk exceeded depth guard")
			return fmt.Errorf("%w: dependency chain from %s is deeper than %d", types.ErrCyclicDefinition, g.name(start), g.maxDepth)
		}

		colors[n] = gray
		for _, next := range edges(n) {
			switch colors[next] {
			case gray:
				path := g.formatCycle(reconstructCycle(n, next, parent))
				g.logger.Error().
					Str("start", g.name(start)).
					Int("depth", depth).
					Str("cycle", path).
					Msg("Dependency cycle detected")
				return fmt.Errorf("%w: %s", types.ErrCyclicDefinition, path)
			case white:
				parent[next] = n
				if err := visit(next, depth+1); err != nil {
					return err
				}
			}
		}
		colors[n] = black
		order = append(order, n)
		return nil
	}

	if err := visit(start, 0); err != nil {
		return nil, err
	}
	return order, nil
}

// reconstructCycle builds the cycle path from parent pointers; from is where
// the back edge to to was found.
func reconstructCycle(from, to types.VariableID, parent map[types.VariableID]types.VariableID) []types.VariableID {
	cycle := []types.VariableID{to}
	for n := from; n != to; n = parent[n] {
		cycle = append([]types.VariableID{n}, cycle...)
	}
	return append([]types.VariableID{to}, cycle...)
}

func (g *Graph) formatCycle(cycle []types.VariableID) string {
	parts := make([]string, len(cycle))
	for i, id := range cycle {
		parts[i] = g.name(id)
	}
	return strings.Join(parts, " -> ")
}

// name prefers the identifier of a cached node over its id.
func (g *Graph) name(id types.VariableID) string {
	if v, ok := g.nodes[id]; ok && v.Identifier != "" {
		return v.Identifier
	}
	return string(id)
}
