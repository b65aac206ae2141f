// internal/graph/manager.go
package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/solatis/surveyvars/internal/compiler"
	"github.com/solatis/surveyvars/internal/types"
)

/*
 * Write path for variable configurations.
 *
 * Every write runs under one mutex and ends by invalidating the graph cache.
 * Expressions are compiled before anything is written, so a definition the
 * compiler rejects never reaches the store.
 *
 * The store is written before any entity type or declaration. When a later
 * step of Create fails, the variable and its entity type are removed again.
 * Delete retracts the declaration only after the store delete succeeded.
 *
 * Update:
 *   1. fetch the previous configuration from the store
 *   2. persist the change together with every dependent rewritten by an
 *      identifier rename, in one store call
 *   3. sync the entity type; on failure the store write is reverted
 *   4. retract the old declaration when the identifier changed
 *   5. redeclare the variable
 *   6. redeclare every transitive dependent of the previous configuration,
 *      nearest first
 *
 * UpdateMany applies Update per item and stops at the first failure. Items
 * already applied stay applied.
 */

// Declarer registers compiled expressions with the evaluation engine.
type Declarer interface {
	DeclareOrUpdate(ctx context.Context, cfg *types.VariableConfiguration, expression string) error
	Delete(ctx context.Context, cfg *types.VariableConfiguration) error
	// GetDeclared returns the declared expression of identifier, if any.
	GetDeclared(ctx context.Context, identifier string) (string, bool, error)
}

// EntityTypeRegistrar owns the synthetic entity types of grouped variables.
type EntityTypeRegistrar interface {
	RegisterEntityType(ctx context.Context, def types.GroupedDefinition) error
	SyncEntityType(ctx context.Context, def types.GroupedDefinition) error
	UnregisterEntityType(ctx context.Context, name string) error
}

// VariableUpdate is one item of an update. A nil Dependencies derives the
// dependency set from the definition's components.
type VariableUpdate struct {
	Config       *types.VariableConfiguration
	Dependencies []string
}

// Manager creates, updates and deletes variables while keeping declarations,
// entity types and dependency edges consistent.
type Manager struct {
	mu          sync.Mutex
	graph       *Graph
	store       Store
	declarer    Declarer
	entityTypes EntityTypeRegistrar
	opts        compiler.Options
	logger      zerolog.Logger
}

// NewManager creates a manager and the graph cache it maintains.
func NewManager(store Store, declarer Declarer, entityTypes EntityTypeRegistrar,
	opts compiler.Options, maxDepth int, logger zerolog.Logger) *Manager {
	return &Manager{
		graph:       NewGraph(store, maxDepth, logger),
		store:       store,
		declarer:    declarer,
		entityTypes: entityTypes,
		opts:        opts,
		logger:      logger.With().Str("component", "manager").Logger(),
	}
}

// Graph returns the dependency graph the manager keeps current.
func (m *Manager) Graph() *Graph {
	return m.graph
}

// Create persists a new variable. deps is the authoritative set of
// identifiers it reads; identifiers of other variables become dependency
// edges, anything else is a plain field and gets no edge.
func (m *Manager) Create(ctx context.Context, cfg *types.VariableConfiguration, deps []string) (*types.VariableConfiguration, error) {
	if cfg == nil || cfg.Definition == nil {
		return nil, types.ErrNilDefinition
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cfg = cfg.Clone()
	if cfg.ID == "" {
		cfg.ID = types.NewVariableID()
	}
	if !types.IsValidIdentifier(cfg.Identifier) {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidIdentifier, cfg.Identifier)
	}

	edges, err := m.resolveDependencies(ctx, deps)
	if err != nil {
		return nil, err
	}
	if err := m.graph.CheckDependencies(ctx, cfg.ID, edges); err != nil {
		return nil, err
	}
	cfg.Dependencies = edges
	cfg.Dependents = nil

	expression, compilable, err := m.compile(cfg)
	if err != nil {
		return nil, err
	}

	if err := m.store.InsertVariable(ctx, cfg); err != nil {
		return nil, err
	}
	m.graph.Invalidate()

	g, grouped := types.Grouped(cfg.Definition)
	if grouped {
		if err := m.entityTypes.RegisterEntityType(ctx, g); err != nil {
			m.undoCreate(ctx, cfg, false)
			return nil, err
		}
	}
	if compilable {
		if err := m.declarer.DeclareOrUpdate(ctx, cfg, expression); err != nil {
			m.undoCreate(ctx, cfg, grouped)
			return nil, err
		}
	}

	m.logger.Info().
		Str("variable_id", string(cfg.ID)).
		Str("identifier", cfg.Identifier).
		Int("dependencies", len(edges)).
		Msg("Variable created")
	return cfg, nil
}

// Update applies one change. See the file comment for the sequence.
func (m *Manager) Update(ctx context.Context, u VariableUpdate) (*types.VariableConfiguration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.update(ctx, u)
}

// UpdateMany applies updates in order and stops at the first failure.
// Updates before the failing one are not rolled back; their results are
// returned alongside the error.
func (m *Manager) UpdateMany(ctx context.Context, updates []VariableUpdate) ([]*types.VariableConfiguration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	applied := make([]*types.VariableConfiguration, 0, len(updates))
	for i, u := range updates {
		cfg, err := m.update(ctx, u)
		if err != nil {
			m.logger.Error().
				Err(err).
				Int("index", i).
				Int("applied", len(applied)).
				Int("total", len(updates)).
				Msg("Batch update failed partway; applied updates are kept")
			return applied, fmt.Errorf("update %d of %d: %w", i+1, len(updates), err)
		}
		applied = append(applied, cfg)
	}
	return applied, nil
}

func (m *Manager) update(ctx context.Context, u VariableUpdate) (*types.VariableConfiguration, error) {
	if u.Config == nil || u.Config.Definition == nil {
		return nil, types.ErrNilDefinition
	}
	cfg := u.Config.Clone()
	if !types.IsValidIdentifier(cfg.Identifier) {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidIdentifier, cfg.Identifier)
	}

	previous, err := m.store.GetVariable(ctx, cfg.ID)
	if err != nil {
		return nil, err
	}

	// Entity type names never change after creation.
	prevGroup, wasGrouped := types.Grouped(previous.Definition)
	if g, ok := types.Grouped(cfg.Definition); ok && wasGrouped {
		g.ToEntityTypeName = prevGroup.ToEntityTypeName
		cfg.Definition = types.WithGrouped(cfg.Definition, g)
	}

	deps := u.Dependencies
	if deps == nil {
		deps = m.derivedDependencies(cfg)
	}
	edges, err := m.resolveDependencies(ctx, deps)
	if err != nil {
		return nil, err
	}
	if err := m.graph.CheckDependencies(ctx, cfg.ID, edges); err != nil {
		return nil, err
	}
	cfg.Dependencies = edges
	cfg.Dependents = previous.Dependents

	expression, compilable, err := m.compile(cfg)
	if err != nil {
		return nil, err
	}

	dependents, err := m.graph.TransitiveDependents(ctx, previous.ID)
	if err != nil {
		return nil, err
	}

	renamed := previous.Identifier != cfg.Identifier
	var rewritten []*types.VariableConfiguration
	if renamed {
		rewritten, err = renameInDependents(dependents, previous.Identifier, cfg.Identifier)
		if err != nil {
			return nil, err
		}
	}
	if err := m.store.UpdateVariables(ctx, append([]*types.VariableConfiguration{cfg}, rewritten...)...); err != nil {
		return nil, err
	}
	m.graph.Invalidate()
	for _, dependent := range rewritten {
		m.logger.Debug().
			Str("identifier", dependent.Identifier).
			Str("from", previous.Identifier).
			Str("to", cfg.Identifier).
			Msg("Rewrote references in dependent")
	}

	if err := m.syncEntityType(ctx, previous.Definition, cfg.Definition); err != nil {
		m.revertUpdate(ctx, previous, dependents, rewritten)
		return nil, err
	}

	if renamed {
		if err := m.retract(ctx, previous); err != nil {
			return nil, err
		}
	}
	if compilable {
		if err := m.declarer.DeclareOrUpdate(ctx, cfg, expression); err != nil {
			return nil, err
		}
	} else if err := m.retract(ctx, cfg); err != nil {
		return nil, err
	}

	if err := m.redeclare(ctx, dependents); err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("variable_id", string(cfg.ID)).
		Str("identifier", cfg.Identifier).
		Bool("renamed", renamed).
		Int("dependents", len(dependents)).
		Msg("Variable updated")
	return cfg, nil
}

// Delete removes a variable nothing depends on.
func (m *Manager) Delete(ctx context.Context, id types.VariableID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, err := m.store.GetVariable(ctx, id)
	if err != nil {
		return err
	}

	if len(cfg.Dependents) > 0 {
		names := make([]string, 0, len(cfg.Dependents))
		for _, depID := range cfg.Dependents {
			dependent, err := m.store.GetVariable(ctx, depID)
			if err != nil {
				names = append(names, string(depID))
				continue
			}
			names = append(names, dependent.DisplayName)
		}
		return fmt.Errorf("%w: %q is referenced by %s", types.ErrDeleteConflict, cfg.DisplayName, strings.Join(names, ", "))
	}

	if err := m.store.DeleteVariable(ctx, id); err != nil {
		return err
	}
	m.graph.Invalidate()

	if err := m.retract(ctx, cfg); err != nil {
		return err
	}
	if g, ok := types.Grouped(cfg.Definition); ok {
		if err := m.entityTypes.UnregisterEntityType(ctx, g.ToEntityTypeName); err != nil {
			return err
		}
	}

	m.logger.Info().
		Str("variable_id", string(id)).
		Str("identifier", cfg.Identifier).
		Msg("Variable deleted")
	return nil
}

// compile returns the expression of cfg and whether it has one.
func (m *Manager) compile(cfg *types.VariableConfiguration) (string, bool, error) {
	if !compiler.ContainsCompilableExpression(cfg.Definition) {
		return "", false, nil
	}
	expression, err := compiler.Compile(cfg.Definition, m.opts)
	if err != nil {
		return "", false, fmt.Errorf("failed to compile %q: %w", cfg.Identifier, err)
	}
	return expression, true, nil
}

func (m *Manager) derivedDependencies(cfg *types.VariableConfiguration) []string {
	if _, ok := types.Expression(cfg.Definition); ok {
		m.logger.Warn().
			Str("identifier", cfg.Identifier).
			Msg("Field expression dependencies cannot be derived; the variable keeps no dependency edges and may fail at evaluation")
	}
	return compiler.ReferencedIdentifiers(cfg.Definition)
}

// resolveDependencies maps identifiers to variable ids. Identifiers that are
// not variables are fields and produce no edge.
func (m *Manager) resolveDependencies(ctx context.Context, deps []string) ([]types.VariableID, error) {
	if len(deps) == 0 {
		return nil, nil
	}
	variables, err := m.graph.Variables(ctx)
	if err != nil {
		return nil, err
	}
	byIdentifier := make(map[string]types.VariableID, len(variables))
	for _, v := range variables {
		byIdentifier[v.Identifier] = v.ID
	}

	var edges []types.VariableID
	seen := make(map[types.VariableID]struct{}, len(deps))
	for _, identifier := range deps {
		id, ok := byIdentifier[identifier]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		edges = append(edges, id)
	}
	return edges, nil
}

// renameInDependents returns copies of the dependents whose definitions
// reference oldIdentifier, rewritten to newIdentifier. dependents is not
// modified.
func renameInDependents(dependents []*types.VariableConfiguration, oldIdentifier, newIdentifier string) ([]*types.VariableConfiguration, error) {
	var rewritten []*types.VariableConfiguration
	for _, dependent := range dependents {
		def, changed, err := compiler.RenameReferences(dependent.Definition, oldIdentifier, newIdentifier)
		if err != nil {
			return nil, fmt.Errorf("failed to rename references in %q: %w", dependent.Identifier, err)
		}
		if !changed {
			continue
		}
		out := dependent.Clone()
		out.Definition = def
		rewritten = append(rewritten, out)
	}
	return rewritten, nil
}

// undoCreate removes a variable whose creation failed after the insert.
// Failures are logged; the caller reports the original error.
func (m *Manager) undoCreate(ctx context.Context, cfg *types.VariableConfiguration, registered bool) {
	if g, ok := types.Grouped(cfg.Definition); ok && registered {
		if err := m.entityTypes.UnregisterEntityType(ctx, g.ToEntityTypeName); err != nil {
			m.logger.Error().Err(err).Str("entity_type", g.ToEntityTypeName).Msg("Failed to unregister entity type of aborted create")
		}
	}
	if err := m.store.DeleteVariable(ctx, cfg.ID); err != nil {
		m.logger.Error().Err(err).Str("identifier", cfg.Identifier).Msg("Failed to remove variable of aborted create")
	}
	m.graph.Invalidate()
}

// revertUpdate writes back previous and the original definitions of the
// rewritten dependents.
func (m *Manager) revertUpdate(ctx context.Context, previous *types.VariableConfiguration,
	dependents, rewritten []*types.VariableConfiguration) {
	restore := []*types.VariableConfiguration{previous}
	for _, r := range rewritten {
		for _, d := range dependents {
			if d.ID == r.ID {
				restore = append(restore, d)
			}
		}
	}
	if err := m.store.UpdateVariables(ctx, restore...); err != nil {
		m.logger.Error().Err(err).Str("identifier", previous.Identifier).Msg("Failed to revert variable update")
	}
	m.graph.Invalidate()
}

// redeclare recompiles and redeclares dependents from their current state.
func (m *Manager) redeclare(ctx context.Context, dependents []*types.VariableConfiguration) error {
	for _, stale := range dependents {
		dependent, err := m.graph.Variable(ctx, stale.ID)
		if errors.Is(err, types.ErrVariableNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		expression, compilable, err := m.compile(dependent)
		if err != nil {
			return err
		}
		if !compilable {
			continue
		}
		if err := m.declarer.DeclareOrUpdate(ctx, dependent, expression); err != nil {
			return fmt.Errorf("failed to redeclare dependent %q: %w", dependent.Identifier, err)
		}
		m.logger.Debug().Str("identifier", dependent.Identifier).Msg("Redeclared dependent")
	}
	return nil
}

// retract removes the declaration of cfg's identifier if one exists.
func (m *Manager) retract(ctx context.Context, cfg *types.VariableConfiguration) error {
	_, declared, err := m.declarer.GetDeclared(ctx, cfg.Identifier)
	if err != nil {
		return err
	}
	if !declared {
		return nil
	}
	if err := m.declarer.Delete(ctx, cfg); err != nil {
		return err
	}
	m.logger.Debug().Str("identifier", cfg.Identifier).Msg("Retracted declaration")
	return nil
}

func (m *Manager) syncEntityType(ctx context.Context, before, after types.Definition) error {
	prev, wasGrouped := types.Grouped(before)
	next, isGrouped := types.Grouped(after)

	switch {
	case wasGrouped && isGrouped:
		return m.entityTypes.SyncEntityType(ctx, next)
	case wasGrouped:
		return m.entityTypes.UnregisterEntityType(ctx, prev.ToEntityTypeName)
	case isGrouped:
		return m.entityTypes.RegisterEntityType(ctx, next)
	}
	return nil
}
