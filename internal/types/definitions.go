package types

import (
	"fmt"
	"strings"
)

// Definition is the outer variable-definition variant. The set of implementations is closed.
type Definition interface {
	definitionType() string
}

// AggregationType reduces several matching values to one.
type AggregationType int

const (
	// MaxOfSingleReferenced takes the max of the referenced field's raw values.
	MaxOfSingleReferenced AggregationType = iota
	// MaxOfMatchingCondition takes the max only among values satisfying the condition.
	MaxOfMatchingCondition
)

// Grouping pairs a synthetic entity instance with the condition a respondent must meet to belong to it.
type Grouping struct {
	ToEntityInstanceName string
	ToEntityInstanceID   int
	Component            Component
}

// FieldExpressionDefinition is a literal expression in the target grammar.
type FieldExpressionDefinition struct {
	Expression string
}

// BaseFieldExpressionDefinition is a field expression used as a base, scoped to result entity types.
type BaseFieldExpressionDefinition struct {
	Expression            string
	ResultEntityTypeNames []string
}

// GroupedDefinition maps respondents onto a new entity type, one instance per group.
type GroupedDefinition struct {
	ToEntityTypeName              string
	ToEntityTypeDisplayNamePlural string
	Groups                        []Grouping
}

// BaseGroupedDefinition is a grouped definition carrying an explicit aggregation.
type BaseGroupedDefinition struct {
	GroupedDefinition
	AggregationType AggregationType
}

// SingleGroupDefinition produces an aggregate value for respondents matching one group.
type SingleGroupDefinition struct {
	Group           Grouping
	AggregationType AggregationType
}

// QuestionDefinition is generated from raw question metadata and compiled by
// the question importer, never by this module.
type QuestionDefinition struct {
	QuestionVarCode string
	EntityTypeNames []string
}

func (FieldExpressionDefinition) definitionType() string     { return "fieldExpression" }
func (BaseFieldExpressionDefinition) definitionType() string { return "baseFieldExpression" }
func (GroupedDefinition) definitionType() string             { return "grouped" }
func (BaseGroupedDefinition) definitionType() string         { return "baseGrouped" }
func (SingleGroupDefinition) definitionType() string         { return "singleGroup" }
func (QuestionDefinition) definitionType() string            { return "question" }

// Expression returns the literal expression of field-expression definitions.
func Expression(def Definition) (string, bool) {
	switch d := def.(type) {
	case FieldExpressionDefinition:
		return d.Expression, true
	case BaseFieldExpressionDefinition:
		return d.Expression, true
	}
	return "", false
}

// Grouped returns the grouping part of grouped definitions (plain or base).
func Grouped(def Definition) (GroupedDefinition, bool) {
	switch d := def.(type) {
	case GroupedDefinition:
		return d, true
	case BaseGroupedDefinition:
		return d.GroupedDefinition, true
	}
	return GroupedDefinition{}, false
}

// WithGrouped replaces the grouping part of a grouped definition, keeping its flavor.
func WithGrouped(def Definition, g GroupedDefinition) Definition {
	switch d := def.(type) {
	case GroupedDefinition:
		return g
	case BaseGroupedDefinition:
		d.GroupedDefinition = g
		return d
	}
	return def
}

// Groupings returns every grouping of a definition: all groups of grouped
// kinds, the one group of a single-group definition, none otherwise.
func Groupings(def Definition) []Grouping {
	if g, ok := Grouped(def); ok {
		return g.Groups
	}
	if s, ok := def.(SingleGroupDefinition); ok {
		return []Grouping{s.Group}
	}
	return nil
}

// ValidateGroups checks the structural invariants of a grouped definition:
// at least one group, unique instance ids and valid components.
func (g GroupedDefinition) ValidateGroups() error {
	if len(g.Groups) == 0 {
		return fmt.Errorf("%w: at least one group is required", ErrStructural)
	}
	seen := make(map[int]string, len(g.Groups))
	for _, group := range g.Groups {
		if other, dup := seen[group.ToEntityInstanceID]; dup {
			return fmt.Errorf("%w: groups %q and %q share id %d", ErrStructural,
				other, group.ToEntityInstanceName, group.ToEntityInstanceID)
		}
		seen[group.ToEntityInstanceID] = group.ToEntityInstanceName
		if err := group.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (g Grouping) validate() error {
	if strings.TrimSpace(g.ToEntityInstanceName) == "" {
		return fmt.Errorf("%w: group %d has no name", ErrStructural, g.ToEntityInstanceID)
	}
	if g.Component == nil {
		return fmt.Errorf("%w: group %q has no condition", ErrStructural, g.ToEntityInstanceName)
	}
	if err := g.Component.IsValid(); err != nil {
		return fmt.Errorf("group %q: %w", g.ToEntityInstanceName, err)
	}
	return nil
}

// ValidateDefinition checks the structure of a definition, independent of any read model.
func ValidateDefinition(def Definition) error {
	switch d := def.(type) {
	case nil:
		return ErrNilDefinition
	case FieldExpressionDefinition:
		return validateExpression(d.Expression)
	case BaseFieldExpressionDefinition:
		return validateExpression(d.Expression)
	case GroupedDefinition:
		return d.ValidateGroups()
	case BaseGroupedDefinition:
		return d.ValidateGroups()
	case SingleGroupDefinition:
		return d.Group.validate()
	case QuestionDefinition:
		return nil
	default:
		return fmt.Errorf("%w: unknown definition %T", ErrStructural, def)
	}
}

func validateExpression(expression string) error {
	if strings.TrimSpace(expression) == "" {
		return fmt.Errorf("%w: expression must not be blank", ErrStructural)
	}
	return nil
}
