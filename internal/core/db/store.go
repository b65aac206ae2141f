package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/solatis/surveyvars/internal/types"
)

// Scope selects the product and sub-product a store reads and writes.
type Scope struct {
	ProductShortCode string
	SubProductID     string
}

// VariableStore persists variable configurations and their dependency edges.
// Definitions are stored as JSON documents.
type VariableStore struct {
	q     *Queries
	scope Scope
	now   func() time.Time
}

// NewVariableStore creates a store bound to scope.
func NewVariableStore(q *Queries, scope Scope) *VariableStore {
	return &VariableStore{q: q, scope: scope, now: time.Now}
}

type variableRow struct {
	ID               string `db:"variable_id"`
	ProductShortCode string `db:"product_short_code"`
	SubProductID     string `db:"sub_product_id"`
	Identifier       string `db:"identifier"`
	DisplayName      string `db:"display_name"`
	Definition       string `db:"definition"`
}

type edgeRow struct {
	VariableID   string `db:"variable_id"`
	DependencyID string `db:"dependency_id"`
}

func (r variableRow) config() (*types.VariableConfiguration, error) {
	def, err := types.UnmarshalDefinition([]byte(r.Definition))
	if err != nil {
		return nil, fmt.Errorf("variable %s has an unreadable definition: %w", r.ID, err)
	}
	return &types.VariableConfiguration{
		ID:               types.VariableID(r.ID),
		ProductShortCode: r.ProductShortCode,
		SubProductID:     r.SubProductID,
		Identifier:       r.Identifier,
		DisplayName:      r.DisplayName,
		Definition:       def,
	}, nil
}

// ListVariables returns every variable of the scope, ordered by identifier,
// with both edge lists filled.
func (s *VariableStore) ListVariables(ctx context.Context) ([]*types.VariableConfiguration, error) {
	var rows []variableRow
	if err := s.q.Select(ctx, "list-variables", &rows, s.scope.ProductShortCode, s.scope.SubProductID); err != nil {
		return nil, fmt.Errorf("failed to list variables: %w", err)
	}
	var edges []edgeRow
	if err := s.q.Select(ctx, "list-scope-dependencies", &edges, s.scope.ProductShortCode, s.scope.SubProductID); err != nil {
		return nil, fmt.Errorf("failed to list dependencies: %w", err)
	}

	out := make([]*types.VariableConfiguration, 0, len(rows))
	byID := make(map[types.VariableID]*types.VariableConfiguration, len(rows))
	for _, r := range rows {
		cfg, err := r.config()
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
		byID[cfg.ID] = cfg
	}
	for _, e := range edges {
		from, to := types.VariableID(e.VariableID), types.VariableID(e.DependencyID)
		if v, ok := byID[from]; ok {
			v.Dependencies = append(v.Dependencies, to)
		}
		if v, ok := byID[to]; ok {
			v.Dependents = append(v.Dependents, from)
		}
	}
	return out, nil
}

// GetVariable returns one variable of the scope with both edge lists filled.
// A variable of another scope is reported as not found.
func (s *VariableStore) GetVariable(ctx context.Context, id types.VariableID) (*types.VariableConfiguration, error) {
	var row variableRow
	if err := s.q.Get(ctx, "get-variable", &row, string(id), s.scope.ProductShortCode, s.scope.SubProductID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", types.ErrVariableNotFound, id)
		}
		return nil, fmt.Errorf("failed to get variable %s: %w", id, err)
	}
	cfg, err := row.config()
	if err != nil {
		return nil, err
	}

	var deps, dependents []string
	if err := s.q.Select(ctx, "list-dependencies-of", &deps, string(id), s.scope.ProductShortCode, s.scope.SubProductID); err != nil {
		return nil, fmt.Errorf("failed to list dependencies of %s: %w", id, err)
	}
	if err := s.q.Select(ctx, "list-dependents-of", &dependents, string(id), s.scope.ProductShortCode, s.scope.SubProductID); err != nil {
		return nil, fmt.Errorf("failed to list dependents of %s: %w", id, err)
	}
	cfg.Dependencies = toIDs(deps)
	cfg.Dependents = toIDs(dependents)
	return cfg, nil
}

// InsertVariable stores a new variable and its dependency edges in one transaction.
// The variable is written into the store's scope.
func (s *VariableStore) InsertVariable(ctx context.Context, cfg *types.VariableConfiguration) error {
	definition, err := types.MarshalDefinition(cfg.Definition)
	if err != nil {
		return err
	}
	now := s.q.timestamp(s.now())

	return s.q.InTx(ctx, func(tx *Tx) error {
		if _, err := tx.Exec(ctx, "insert-variable",
			string(cfg.ID), s.scope.ProductShortCode, s.scope.SubProductID,
			cfg.Identifier, cfg.DisplayName, string(definition), now, now,
		); err != nil {
			return fmt.Errorf("failed to insert variable %q: %w", cfg.Identifier, err)
		}
		return insertEdges(ctx, tx, cfg)
	})
}

// UpdateVariables rewrites variables of the scope and replaces their
// dependency edges. All of cfgs are written in one transaction.
func (s *VariableStore) UpdateVariables(ctx context.Context, cfgs ...*types.VariableConfiguration) error {
	definitions := make([]string, len(cfgs))
	for i, cfg := range cfgs {
		definition, err := types.MarshalDefinition(cfg.Definition)
		if err != nil {
			return err
		}
		definitions[i] = string(definition)
	}
	now := s.q.timestamp(s.now())

	return s.q.InTx(ctx, func(tx *Tx) error {
		for i, cfg := range cfgs {
			res, err := tx.Exec(ctx, "update-variable",
				cfg.Identifier, cfg.DisplayName, definitions[i], now,
				string(cfg.ID), s.scope.ProductShortCode, s.scope.SubProductID,
			)
			if err != nil {
				return fmt.Errorf("failed to update variable %q: %w", cfg.Identifier, err)
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				return fmt.Errorf("%w: %s", types.ErrVariableNotFound, cfg.ID)
			}
			if _, err := tx.Exec(ctx, "delete-dependencies-of", string(cfg.ID)); err != nil {
				return fmt.Errorf("failed to clear dependencies of %q: %w", cfg.Identifier, err)
			}
			if err := insertEdges(ctx, tx, cfg); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteVariable removes a variable of the scope and its outgoing edges. A
// variable that still has dependents is refused with ErrDeleteConflict.
func (s *VariableStore) DeleteVariable(ctx context.Context, id types.VariableID) error {
	return s.q.InTx(ctx, func(tx *Tx) error {
		var dependents []string
		if err := tx.Select(ctx, "list-dependents-of", &dependents, string(id), s.scope.ProductShortCode, s.scope.SubProductID); err != nil {
			return fmt.Errorf("failed to list dependents of %s: %w", id, err)
		}
		if len(dependents) > 0 {
			return fmt.Errorf("%w: %s has %d dependents", types.ErrDeleteConflict, id, len(dependents))
		}
		res, err := tx.Exec(ctx, "delete-variable", string(id), s.scope.ProductShortCode, s.scope.SubProductID)
		if err != nil {
			return fmt.Errorf("failed to delete variable %s: %w", id, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("%w: %s", types.ErrVariableNotFound, id)
		}
		return nil
	})
}

func insertEdges(ctx context.Context, tx *Tx, cfg *types.VariableConfiguration) error {
	for _, dep := range cfg.Dependencies {
		if _, err := tx.Exec(ctx, "insert-dependency", string(cfg.ID), string(dep)); err != nil {
			return fmt.Errorf("failed to record dependency %s -> %s: %w", cfg.ID, dep, err)
		}
	}
	return nil
}

// MetricNames lists the metric names of the scope.
func (s *VariableStore) MetricNames(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.q.Select(ctx, "list-metric-names", &names, s.scope.ProductShortCode, s.scope.SubProductID); err != nil {
		return nil, fmt.Errorf("failed to list metric names: %w", err)
	}
	return names, nil
}

// FieldNames lists the response field names of the scope.
func (s *VariableStore) FieldNames(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.q.Select(ctx, "list-field-names", &names, s.scope.ProductShortCode, s.scope.SubProductID); err != nil {
		return nil, fmt.Errorf("failed to list field names: %w", err)
	}
	return names, nil
}

// AddMetric registers a metric name in the scope.
func (s *VariableStore) AddMetric(ctx context.Context, name string) error {
	if _, err := s.q.Exec(ctx, "insert-metric", s.scope.ProductShortCode, s.scope.SubProductID, name); err != nil {
		return fmt.Errorf("failed to add metric %q: %w", name, err)
	}
	return nil
}

// AddField registers a response field name in the scope.
func (s *VariableStore) AddField(ctx context.Context, name string) error {
	if _, err := s.q.Exec(ctx, "insert-field", s.scope.ProductShortCode, s.scope.SubProductID, name); err != nil {
		return fmt.Errorf("failed to add field %q: %w", name, err)
	}
	return nil
}

func toIDs(ids []string) []types.VariableID {
	out := make([]types.VariableID, len(ids))
	for i, id := range ids {
		out[i] = types.VariableID(id)
	}
	return out
}
