package graph

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/solatis/surveyvars/internal/types"
)

// memStore keeps variables in memory and derives Dependents from the
// Dependencies of every other variable, like the SQL edge table does.
// Identifiers are unique and a batch update is all or nothing.
type memStore struct {
	mu     sync.Mutex
	vars   map[types.VariableID]*types.VariableConfiguration
	writes int

	// failDelete, when set, is returned by DeleteVariable.
	failDelete error
}

func newMemStore(vars ...*types.VariableConfiguration) *memStore {
	s := &memStore{vars: make(map[types.VariableID]*types.VariableConfiguration)}
	for _, v := range vars {
		s.vars[v.ID] = v.Clone()
	}
	return s
}

func (s *memStore) withEdges(v *types.VariableConfiguration) *types.VariableConfiguration {
	out := v.Clone()
	out.Dependents = nil
	for _, other := range s.vars {
		if slices.Contains(other.Dependencies, v.ID) {
			out.Dependents = append(out.Dependents, other.ID)
		}
	}
	slices.Sort(out.Dependents)
	return out
}

func (s *memStore) ListVariables(context.Context) ([]*types.VariableConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.VariableConfiguration, 0, len(s.vars))
	for _, v := range s.vars {
		out = append(out, s.withEdges(v))
	}
	slices.SortFunc(out, func(a, b *types.VariableConfiguration) int { return strings.Compare(string(a.ID), string(b.ID)) })
	return out, nil
}

func (s *memStore) GetVariable(_ context.Context, id types.VariableID) (*types.VariableConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vars[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrVariableNotFound, id)
	}
	return s.withEdges(v), nil
}

func (s *memStore) identifierTaken(identifier string, except types.VariableID) bool {
	for id, v := range s.vars {
		if id != except && v.Identifier == identifier {
			return true
		}
	}
	return false
}

func (s *memStore) InsertVariable(_ context.Context, cfg *types.VariableConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vars[cfg.ID]; ok {
		return fmt.Errorf("duplicate id %s", cfg.ID)
	}
	if s.identifierTaken(cfg.Identifier, cfg.ID) {
		return fmt.Errorf("duplicate identifier %q", cfg.Identifier)
	}
	s.vars[cfg.ID] = cfg.Clone()
	s.writes++
	return nil
}

func (s *memStore) UpdateVariables(_ context.Context, cfgs ...*types.VariableConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := maps.Clone(s.vars)
	for _, cfg := range cfgs {
		if _, ok := staged[cfg.ID]; !ok {
			return fmt.Errorf("%w: %s", types.ErrVariableNotFound, cfg.ID)
		}
		staged[cfg.ID] = cfg.Clone()
	}
	for _, cfg := range cfgs {
		for id, v := range staged {
			if id != cfg.ID && v.Identifier == cfg.Identifier {
				return fmt.Errorf("duplicate identifier %q", cfg.Identifier)
			}
		}
	}
	s.vars = staged
	s.writes++
	return nil
}

func (s *memStore) DeleteVariable(_ context.Context, id types.VariableID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDelete != nil {
		return s.failDelete
	}
	if _, ok := s.vars[id]; !ok {
		return fmt.Errorf("%w: %s", types.ErrVariableNotFound, id)
	}
	if len(s.withEdges(s.vars[id]).Dependents) > 0 {
		return errors.New("foreign key constraint failed")
	}
	delete(s.vars, id)
	s.writes++
	return nil
}

// fakeDeclarer records declarations by identifier and every call in order.
type fakeDeclarer struct {
	declared map[string]string
	calls    []string

	// failDeclare, when set, is returned by DeclareOrUpdate.
	failDeclare error
}

func newFakeDeclarer() *fakeDeclarer {
	return &fakeDeclarer{declared: make(map[string]string)}
}

func (d *fakeDeclarer) DeclareOrUpdate(_ context.Context, cfg *types.VariableConfiguration, expression string) error {
	if d.failDeclare != nil {
		return d.failDeclare
	}
	d.declared[cfg.Identifier] = expression
	d.calls = append(d.calls, "declare "+cfg.Identifier)
	return nil
}

func (d *fakeDeclarer) Delete(_ context.Context, cfg *types.VariableConfiguration) error {
	delete(d.declared, cfg.Identifier)
	d.calls = append(d.calls, "delete "+cfg.Identifier)
	return nil
}

func (d *fakeDeclarer) GetDeclared(_ context.Context, identifier string) (string, bool, error) {
	expr, ok := d.declared[identifier]
	return expr, ok, nil
}

type fakeRegistrar struct {
	types map[string][]types.Grouping

	// failSync, when set, is returned by SyncEntityType.
	failSync error
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{types: make(map[string][]types.Grouping)}
}

func (r *fakeRegistrar) RegisterEntityType(_ context.Context, def types.GroupedDefinition) error {
	if _, ok := r.types[def.ToEntityTypeName]; ok {
		return fmt.Errorf("entity type %q exists", def.ToEntityTypeName)
	}
	r.types[def.ToEntityTypeName] = def.Groups
	return nil
}

func (r *fakeRegistrar) SyncEntityType(_ context.Context, def types.GroupedDefinition) error {
	if r.failSync != nil {
		return r.failSync
	}
	r.types[def.ToEntityTypeName] = def.Groups
	return nil
}

func (r *fakeRegistrar) UnregisterEntityType(_ context.Context, name string) error {
	delete(r.types, name)
	return nil
}

func fieldVar(id, identifier, expression string, deps ...string) *types.VariableConfiguration {
	v := &types.VariableConfiguration{
		ID:          types.VariableID(id),
		Identifier:  identifier,
		DisplayName: strings.ToUpper(identifier[:1]) + identifier[1:],
		Definition:  types.FieldExpressionDefinition{Expression: expression},
	}
	for _, d := range deps {
		v.Dependencies = append(v.Dependencies, types.VariableID(d))
	}
	return v
}

func identifiers(vars []*types.VariableConfiguration) []string {
	out := make([]string, len(vars))
	for i, v := range vars {
		out[i] = v.Identifier
	}
	return out
}
