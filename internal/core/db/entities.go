package db

import (
	"context"
	"fmt"

	"github.com/solatis/surveyvars/internal/types"
)

// SyntheticSubset is the subset every instance of a grouped variable's
// entity type is stored under.
const SyntheticSubset = "all"

// EntityTypeStore reads response entity types and owns the synthetic ones
// grouped variables create.
type EntityTypeStore struct {
	q     *Queries
	scope Scope
}

// NewEntityTypeStore creates a store bound to scope.
func NewEntityTypeStore(q *Queries, scope Scope) *EntityTypeStore {
	return &EntityTypeStore{q: q, scope: scope}
}

// EntityTypeExists reports whether the scope has an entity type called name.
func (s *EntityTypeStore) EntityTypeExists(ctx context.Context, name string) (bool, error) {
	var n int
	if err := s.q.Get(ctx, "count-entity-types", &n, s.scope.ProductShortCode, s.scope.SubProductID, name); err != nil {
		return false, fmt.Errorf("failed to look up entity type %q: %w", name, err)
	}
	return n > 0, nil
}

// InstanceIDsBySubset returns the instance ids of an entity type keyed by subset.
func (s *EntityTypeStore) InstanceIDsBySubset(ctx context.Context, name string) (map[string][]int, error) {
	var rows []struct {
		SubsetID   string `db:"subset_id"`
		InstanceID int    `db:"instance_id"`
	}
	if err := s.q.Select(ctx, "list-entity-instances", &rows, s.scope.ProductShortCode, s.scope.SubProductID, name); err != nil {
		return nil, fmt.Errorf("failed to list instances of %q: %w", name, err)
	}
	out := make(map[string][]int)
	for _, r := range rows {
		out[r.SubsetID] = append(out[r.SubsetID], r.InstanceID)
	}
	return out, nil
}

// AddEntityType registers a respondent-level entity type with its instances
// per subset. Used to seed the read model outside of grouped variables.
func (s *EntityTypeStore) AddEntityType(ctx context.Context, name, displayNamePlural string, instances map[string][]int) error {
	return s.q.InTx(ctx, func(tx *Tx) error {
		if _, err := tx.Exec(ctx, "insert-entity-type",
			s.scope.ProductShortCode, s.scope.SubProductID, name, displayNamePlural, false,
		); err != nil {
			return fmt.Errorf("failed to add entity type %q: %w", name, err)
		}
		for subset, ids := range instances {
			for _, id := range ids {
				if _, err := tx.Exec(ctx, "insert-entity-instance",
					s.scope.ProductShortCode, s.scope.SubProductID, name, subset, id, "",
				); err != nil {
					return fmt.Errorf("failed to add instance %d of %q: %w", id, name, err)
				}
			}
		}
		return nil
	})
}

// RegisterEntityType creates the synthetic entity type of a grouped
// definition, one instance per group.
func (s *EntityTypeStore) RegisterEntityType(ctx context.Context, def types.GroupedDefinition) error {
	return s.q.InTx(ctx, func(tx *Tx) error {
		if _, err := tx.Exec(ctx, "insert-entity-type",
			s.scope.ProductShortCode, s.scope.SubProductID,
			def.ToEntityTypeName, def.ToEntityTypeDisplayNamePlural, true,
		); err != nil {
			return fmt.Errorf("failed to register entity type %q: %w", def.ToEntityTypeName, err)
		}
		return s.insertGroups(ctx, tx, def)
	})
}

// SyncEntityType replaces the instances of a synthetic entity type with the
// definition's current groups, creating the type if it is missing.
func (s *EntityTypeStore) SyncEntityType(ctx context.Context, def types.GroupedDefinition) error {
	return s.q.InTx(ctx, func(tx *Tx) error {
		res, err := tx.Exec(ctx, "update-entity-type",
			def.ToEntityTypeDisplayNamePlural, s.scope.ProductShortCode, s.scope.SubProductID, def.ToEntityTypeName,
		)
		if err != nil {
			return fmt.Errorf("failed to update entity type %q: %w", def.ToEntityTypeName, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			if _, err := tx.Exec(ctx, "insert-entity-type",
				s.scope.ProductShortCode, s.scope.SubProductID,
				def.ToEntityTypeName, def.ToEntityTypeDisplayNamePlural, true,
			); err != nil {
				return fmt.Errorf("failed to register entity type %q: %w", def.ToEntityTypeName, err)
			}
		}
		if _, err := tx.Exec(ctx, "delete-entity-instances",
			s.scope.ProductShortCode, s.scope.SubProductID, def.ToEntityTypeName,
		); err != nil {
			return fmt.Errorf("failed to clear instances of %q: %w", def.ToEntityTypeName, err)
		}
		return s.insertGroups(ctx, tx, def)
	})
}

// UnregisterEntityType removes an entity type and its instances.
func (s *EntityTypeStore) UnregisterEntityType(ctx context.Context, name string) error {
	return s.q.InTx(ctx, func(tx *Tx) error {
		if _, err := tx.Exec(ctx, "delete-entity-instances", s.scope.ProductShortCode, s.scope.SubProductID, name); err != nil {
			return fmt.Errorf("failed to clear instances of %q: %w", name, err)
		}
		if _, err := tx.Exec(ctx, "delete-entity-type", s.scope.ProductShortCode, s.scope.SubProductID, name); err != nil {
			return fmt.Errorf("failed to unregister entity type %q: %w", name, err)
		}
		return nil
	})
}

func (s *EntityTypeStore) insertGroups(ctx context.Context, tx *Tx, def types.GroupedDefinition) error {
	for _, g := range def.Groups {
		if _, err := tx.Exec(ctx, "insert-entity-instance",
			s.scope.ProductShortCode, s.scope.SubProductID, def.ToEntityTypeName,
			SyntheticSubset, g.ToEntityInstanceID, g.ToEntityInstanceName,
		); err != nil {
			return fmt.Errorf("failed to add group %q to %q: %w", g.ToEntityInstanceName, def.ToEntityTypeName, err)
		}
	}
	return nil
}
