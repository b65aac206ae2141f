// Package validate gatekeeps variable configurations before they are
// compiled, persisted or declared.
//
// Structural checks live on the types themselves. This package adds the
// checks that need read models: name uniqueness, entity type and instance id
// references, and the dependencies recovered from the compiled expression.
//
// The validator only reads. A write that changes the read models between
// Validate and the caller's persist is not detected here.
package validate

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/solatis/surveyvars/internal/compiler"
	"github.com/solatis/surveyvars/internal/types"
)

// VariableLister lists every persisted variable of the current scope.
type VariableLister interface {
	ListVariables(ctx context.Context) ([]*types.VariableConfiguration, error)
}

// NameLister lists the metric and response field names variables must not shadow.
type NameLister interface {
	MetricNames(ctx context.Context) ([]string, error)
	FieldNames(ctx context.Context) ([]string, error)
}

// EntityTypeRepository answers response entity type questions.
type EntityTypeRepository interface {
	EntityTypeExists(ctx context.Context, name string) (bool, error)
	// InstanceIDsBySubset returns the instance ids of an entity type keyed by subset.
	InstanceIDsBySubset(ctx context.Context, name string) (map[string][]int, error)
}

// ExpressionParser recovers the references of a compiled expression.
type ExpressionParser interface {
	Parse(expression string) (compiler.References, error)
}

// Result is what a successful validation recovered from the definition.
type Result struct {
	// Dependencies are the variable and field identifiers the expression reads.
	Dependencies []string
	// EntityTypes are the result entity types the expression is bound to.
	EntityTypes []string
}

// Validator checks variable configurations against the current read models.
type Validator struct {
	variables   VariableLister
	names       NameLister
	entityTypes EntityTypeRepository
	parser      ExpressionParser
	opts        compiler.Options
	logger      zerolog.Logger
}

// New creates a validator. A nil parser uses compiler.ReferenceParser.
func New(variables VariableLister, names NameLister, entityTypes EntityTypeRepository,
	parser ExpressionParser, opts compiler.Options, logger zerolog.Logger) *Validator {
	if parser == nil {
		parser = compiler.ReferenceParser{}
	}
	return &Validator{
		variables:   variables,
		names:       names,
		entityTypes: entityTypes,
		parser:      parser,
		opts:        opts,
		logger:      logger.With().Str("component", "validator").Logger(),
	}
}

// Validate checks cfg. previous is the persisted configuration when cfg is an
// update of an existing variable and nil for a new one.
func (v *Validator) Validate(ctx context.Context, cfg, previous *types.VariableConfiguration) (Result, error) {
	if cfg == nil || cfg.Definition == nil {
		return Result{}, types.ErrNilDefinition
	}
	if !types.IsValidIdentifier(cfg.Identifier) {
		return Result{}, fmt.Errorf("%w: %q", types.ErrInvalidIdentifier, cfg.Identifier)
	}

	variables, err := v.variables.ListVariables(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list variables: %w", err)
	}
	fields, err := v.names.FieldNames(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list field names: %w", err)
	}
	if err := v.checkNames(ctx, cfg, previous, variables, fields); err != nil {
		return Result{}, err
	}

	if err := types.ValidateDefinition(cfg.Definition); err != nil {
		return Result{}, err
	}

	if g, ok := types.Grouped(cfg.Definition); ok && previous == nil {
		exists, err := v.entityTypes.EntityTypeExists(ctx, g.ToEntityTypeName)
		if err != nil {
			return Result{}, fmt.Errorf("failed to look up entity type %q: %w", g.ToEntityTypeName, err)
		}
		if exists {
			return Result{}, fmt.Errorf("%w: entity type %q already exists", types.ErrDuplicateName, g.ToEntityTypeName)
		}
	}

	if err := v.checkInstanceLists(ctx, cfg.Definition); err != nil {
		return Result{}, err
	}

	if !compiler.ContainsCompilableExpression(cfg.Definition) {
		return Result{}, nil
	}

	expression, err := compiler.Compile(cfg.Definition, v.opts)
	if err != nil {
		return Result{}, fmt.Errorf("failed to compile %q: %w", cfg.Identifier, err)
	}
	refs, err := v.parser.Parse(expression)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %w", types.ErrExpressionParse, cfg.Identifier, err)
	}

	if err := v.checkReferences(ctx, cfg, previous, refs, variables, fields); err != nil {
		return Result{}, err
	}

	v.logger.Debug().
		Str("identifier", cfg.Identifier).
		Strs("dependencies", refs.VariableIdentifiers).
		Strs("entity_types", refs.ResultEntityTypes).
		Msg("Variable validated")

	return Result{Dependencies: refs.VariableIdentifiers, EntityTypes: refs.ResultEntityTypes}, nil
}

// checkNames rejects identifiers and display names already in use. Names held
// by the record's own prior identity are allowed.
func (v *Validator) checkNames(ctx context.Context, cfg, previous *types.VariableConfiguration,
	variables []*types.VariableConfiguration, fields []string) error {
	metrics, err := v.names.MetricNames(ctx)
	if err != nil {
		return fmt.Errorf("failed to list metric names: %w", err)
	}

	own := func(name string) bool {
		return previous != nil &&
			(strings.EqualFold(name, previous.Identifier) || strings.EqualFold(name, previous.DisplayName))
	}

	for _, other := range variables {
		if other.ID == cfg.ID {
			continue
		}
		if strings.EqualFold(other.Identifier, cfg.Identifier) {
			return fmt.Errorf("%w: identifier %q is used by variable %q", types.ErrDuplicateName, cfg.Identifier, other.DisplayName)
		}
		if strings.EqualFold(other.DisplayName, cfg.DisplayName) {
			return fmt.Errorf("%w: display name %q is used by another variable", types.ErrDuplicateName, cfg.DisplayName)
		}
	}

	for _, name := range metrics {
		if own(name) {
			continue
		}
		if strings.EqualFold(name, cfg.Identifier) || strings.EqualFold(name, cfg.DisplayName) {
			return fmt.Errorf("%w: %q is a metric name", types.ErrDuplicateName, name)
		}
	}
	for _, name := range fields {
		if own(name) {
			continue
		}
		if strings.EqualFold(name, cfg.Identifier) || strings.EqualFold(name, cfg.DisplayName) {
			return fmt.Errorf("%w: %q is a field name", types.ErrDuplicateName, name)
		}
	}
	return nil
}

// checkInstanceLists verifies every instance list references a known entity
// type and only instance ids configured in at least one subset.
func (v *Validator) checkInstanceLists(ctx context.Context, def types.Definition) error {
	var result *multierror.Error
	allowed := make(map[string]map[int]struct{})

	for _, group := range types.Groupings(def) {
		for leaf := range types.Descendants(group.Component, true) {
			list, ok := leaf.(types.InstanceListComponent)
			if !ok {
				continue
			}

			ids, seen := allowed[list.FromEntityTypeName]
			if !seen {
				exists, err := v.entityTypes.EntityTypeExists(ctx, list.FromEntityTypeName)
				if err != nil {
					return fmt.Errorf("failed to look up entity type %q: %w", list.FromEntityTypeName, err)
				}
				if exists {
					ids, err = v.instanceUnion(ctx, list.FromEntityTypeName)
					if err != nil {
						return err
					}
				}
				allowed[list.FromEntityTypeName] = ids
			}

			if ids == nil {
				result = multierror.Append(result, fmt.Errorf("%w: group %q: entity type %q does not exist",
					types.ErrReference, group.ToEntityInstanceName, list.FromEntityTypeName))
				continue
			}
			var unknown []int
			for _, id := range list.InstanceIDs {
				if _, ok := ids[id]; !ok {
					unknown = append(unknown, id)
				}
			}
			if len(unknown) > 0 {
				result = multierror.Append(result, fmt.Errorf("%w: group %q: instance ids %v are not configured for %q",
					types.ErrReference, group.ToEntityInstanceName, unknown, list.FromEntityTypeName))
			}
		}
	}
	return result.ErrorOrNil()
}

func (v *Validator) instanceUnion(ctx context.Context, entityType string) (map[int]struct{}, error) {
	bySubset, err := v.entityTypes.InstanceIDsBySubset(ctx, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances of %q: %w", entityType, err)
	}
	union := make(map[int]struct{})
	for _, ids := range bySubset {
		for _, id := range ids {
			union[id] = struct{}{}
		}
	}
	return union, nil
}

// checkReferences rejects self references and references to unknown
// variables, fields or result entity types.
func (v *Validator) checkReferences(ctx context.Context, cfg, previous *types.VariableConfiguration,
	refs compiler.References, variables []*types.VariableConfiguration, fields []string) error {
	for _, dep := range refs.VariableIdentifiers {
		if dep == cfg.Identifier || (previous != nil && dep == previous.Identifier) {
			return fmt.Errorf("%w: %q", types.ErrSelfReference, cfg.Identifier)
		}
	}

	known := make(map[string]struct{}, len(variables)+len(fields))
	for _, other := range variables {
		if other.ID != cfg.ID {
			known[other.Identifier] = struct{}{}
		}
	}
	for _, name := range fields {
		known[name] = struct{}{}
	}

	var result *multierror.Error
	for _, dep := range refs.VariableIdentifiers {
		if _, ok := known[dep]; !ok {
			result = multierror.Append(result, fmt.Errorf("%w: %q is not a variable or field", types.ErrReference, dep))
		}
	}

	var ownType string
	if g, ok := types.Grouped(cfg.Definition); ok {
		ownType = g.ToEntityTypeName
	}
	for _, entityType := range refs.ResultEntityTypes {
		if entityType == ownType {
			continue
		}
		exists, err := v.entityTypes.EntityTypeExists(ctx, entityType)
		if err != nil {
			return fmt.Errorf("failed to look up entity type %q: %w", entityType, err)
		}
		if !exists {
			result = multierror.Append(result, fmt.Errorf("%w: result entity type %q does not exist", types.ErrReference, entityType))
		}
	}
	return result.ErrorOrNil()
}
