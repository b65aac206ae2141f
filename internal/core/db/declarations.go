package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/solatis/surveyvars/internal/types"
)

// DeclarationStore records the compiled expression declared for each
// variable identifier. The evaluation engine reads declarations from here.
type DeclarationStore struct {
	q     *Queries
	scope Scope
	now   func() time.Time
}

// NewDeclarationStore creates a store bound to scope.
func NewDeclarationStore(q *Queries, scope Scope) *DeclarationStore {
	return &DeclarationStore{q: q, scope: scope, now: time.Now}
}

// DeclareOrUpdate sets the expression declared under cfg's identifier.
func (s *DeclarationStore) DeclareOrUpdate(ctx context.Context, cfg *types.VariableConfiguration, expression string) error {
	if _, err := s.q.Exec(ctx, "upsert-declaration",
		s.scope.ProductShortCode, s.scope.SubProductID, cfg.Identifier,
		string(cfg.ID), expression, s.q.timestamp(s.now()),
	); err != nil {
		return fmt.Errorf("failed to declare %q: %w", cfg.Identifier, err)
	}
	return nil
}

// Delete retracts the declaration under cfg's identifier. Retracting a
// missing declaration is not an error.
func (s *DeclarationStore) Delete(ctx context.Context, cfg *types.VariableConfiguration) error {
	if _, err := s.q.Exec(ctx, "delete-declaration", s.scope.ProductShortCode, s.scope.SubProductID, cfg.Identifier); err != nil {
		return fmt.Errorf("failed to retract %q: %w", cfg.Identifier, err)
	}
	return nil
}

// GetDeclared returns the expression declared under identifier, if any.
func (s *DeclarationStore) GetDeclared(ctx context.Context, identifier string) (string, bool, error) {
	var expression string
	err := s.q.Get(ctx, "get-declaration", &expression, s.scope.ProductShortCode, s.scope.SubProductID, identifier)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read declaration %q: %w", identifier, err)
	}
	return expression, true, nil
}
