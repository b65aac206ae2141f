package cmd

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/solatis/surveyvars/internal/compiler"
	"github.com/solatis/surveyvars/internal/core/db"
	"github.com/solatis/surveyvars/internal/graph"
	"github.com/solatis/surveyvars/internal/validate"
)

// app wires the stores, validator and manager for one scope.
type app struct {
	conn         *sqlx.DB
	variables    *db.VariableStore
	entityTypes  *db.EntityTypeStore
	declarations *db.DeclarationStore
	validator    *validate.Validator
	manager      *graph.Manager
}

func compilerOptions() compiler.Options {
	return compiler.Options{
		IncludeResultTypes: cfg.Compiler.IncludeResultTypes,
		PrimaryEntityTypes: cfg.Compiler.PrimaryEntityTypes,
	}
}

func openApp(ctx context.Context) (*app, error) {
	if cfg.Scope.ProductShortCode == "" {
		return nil, fmt.Errorf("scope.product is required (set SV_SCOPE_PRODUCT or scope.product in the config file)")
	}

	conn, err := db.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	queries, err := db.LoadQueries(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	scope := db.Scope{
		ProductShortCode: cfg.Scope.ProductShortCode,
		SubProductID:     cfg.Scope.SubProductID,
	}
	a := &app{
		conn:         conn,
		variables:    db.NewVariableStore(queries, scope),
		entityTypes:  db.NewEntityTypeStore(queries, scope),
		declarations: db.NewDeclarationStore(queries, scope),
	}
	opts := compilerOptions()
	a.validator = validate.New(a.variables, a.variables, a.entityTypes, nil, opts, logger)
	a.manager = graph.NewManager(a.variables, a.declarations, a.entityTypes, opts, cfg.Graph.MaxDependencyDepth, logger)

	logger.Debug().
		Str("product", scope.ProductShortCode).
		Str("sub_product", scope.SubProductID).
		Str("driver", conn.DriverName()).
		Msg("Store opened")
	return a, nil
}

func (a *app) Close() error {
	return a.conn.Close()
}
