// internal/compiler/compile.go
package compiler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/solatis/surveyvars/internal/types"
)

/*
 * Definition compilation.
 *
 * A definition compiles to one of three shapes:
 *
 *   - field expression:  the user expression, made None-safe with "or None"
 *   - single group:      <max(component)> if <condition(component)> else None
 *   - grouped:           result.T if ((result.T == id) and (cond)) or ... else None
 *
 * A grouped definition with exactly one group compiles to the single group
 * shape, so a one-bucket variable yields the underlying value rather than the
 * bucket id. When that shape is not available for the group's component the
 * general grouped shape is used instead.
 *
 * Question definitions are backed directly by survey data and have no
 * compiled form.
 */

// Compile renders def as an expression string.
func Compile(def types.Definition, opts Options) (string, error) {
	switch d := def.(type) {
	case nil:
		return "", types.ErrNilDefinition
	case types.FieldExpressionDefinition:
		return fieldExpression(d.Expression), nil
	case types.BaseFieldExpressionDefinition:
		return fieldExpression(d.Expression), nil
	case types.GroupedDefinition:
		return compileGrouped(d, types.MaxOfSingleReferenced, opts)
	case types.BaseGroupedDefinition:
		return compileGrouped(d.GroupedDefinition, d.AggregationType, opts)
	case types.SingleGroupDefinition:
		return compileSingleGroup(d.Group, d.AggregationType, opts)
	case types.QuestionDefinition:
		return "", fmt.Errorf("%w: question definitions have no expression", types.ErrNotSupported)
	default:
		return "", fmt.Errorf("%w: definition %T", types.ErrNotSupported, def)
	}
}

// ContainsCompilableExpression reports whether def has an expression form.
// Field expressions always do; grouped and single-group definitions do when
// every grouping's component is condition-compilable.
func ContainsCompilableExpression(def types.Definition) bool {
	switch d := def.(type) {
	case types.FieldExpressionDefinition, types.BaseFieldExpressionDefinition:
		return true
	case types.SingleGroupDefinition:
		return d.Group.Component != nil && IsConditionCompilable(d.Group.Component)
	case types.GroupedDefinition, types.BaseGroupedDefinition:
		groups := types.Groupings(d)
		if len(groups) == 0 {
			return false
		}
		for _, g := range groups {
			if g.Component == nil || !IsConditionCompilable(g.Component) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// fieldExpression coerces falsy results to None unless the author already did.
func fieldExpression(expr string) string {
	if strings.TrimSpace(expr) == "" || strings.Contains(strings.ToLower(expr), "or none") {
		return expr
	}
	return "(" + expr + ") or None"
}

func compileSingleGroup(g types.Grouping, agg types.AggregationType, opts Options) (string, error) {
	if g.Component == nil {
		return "", fmt.Errorf("%w: group %d has no component", types.ErrStructural, g.ToEntityInstanceID)
	}
	value, err := CompileMax(g.Component, agg, opts)
	if err != nil {
		return "", err
	}
	condition, err := CompileCondition(g.Component, opts)
	if err != nil {
		return "", err
	}
	return value + " if " + condition + " else None", nil
}

func compileGrouped(g types.GroupedDefinition, agg types.AggregationType, opts Options) (string, error) {
	if len(g.Groups) == 0 {
		return "", fmt.Errorf("%w: grouped definition must have at least one group", types.ErrStructural)
	}

	if len(g.Groups) == 1 {
		expr, err := compileSingleGroup(g.Groups[0], agg, opts)
		if err == nil {
			return expr, nil
		}
		if !errors.Is(err, types.ErrNotSupported) {
			return "", err
		}
	}

	entityType, err := ident(g.ToEntityTypeName)
	if err != nil {
		return "", err
	}

	tests := make([]string, 0, len(g.Groups))
	for _, group := range g.Groups {
		if group.Component == nil {
			return "", fmt.Errorf("%w: group %d has no component", types.ErrStructural, group.ToEntityInstanceID)
		}
		condition, err := CompileCondition(group.Component, opts)
		if err != nil {
			return "", fmt.Errorf("group %d (%s): %w", group.ToEntityInstanceID, group.ToEntityInstanceName, err)
		}
		tests = append(tests, fmt.Sprintf("((result.%s == %d) and (%s))", entityType, group.ToEntityInstanceID, condition))
	}

	return fmt.Sprintf("result.%s if %s else None", entityType, strings.Join(tests, " or ")), nil
}
