package compiler

import (
	"fmt"
	"strings"

	"github.com/solatis/surveyvars/internal/types"
)

// CompileCondition renders the boolean condition of a component.
// DateRange and SurveyID components only take part in groupings handled by
// the caller and return ErrNotSupported.
func CompileCondition(c types.Component, opts Options) (string, error) {
	switch v := c.(type) {
	case types.InclusiveRangeComponent:
		values, err := responseValues(v.FromIdentifier, "", v.ResultEntityTypeNames, opts)
		if err != nil {
			return "", err
		}
		cmp, err := rangeComparison(v, "r")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("any(%s for r in %s)", cmp, values), nil

	case types.InstanceListComponent:
		return compileInstanceList(v, opts)

	case types.CompositeComponent:
		if len(v.Components) == 0 {
			return "", fmt.Errorf("%w: composite must contain at least one component", types.ErrStructural)
		}
		parts := make([]string, 0, len(v.Components))
		for _, child := range v.Components {
			part, err := CompileCondition(child, opts)
			if err != nil {
				return "", err
			}
			parts = append(parts, part)
		}
		return "(" + strings.Join(parts, separator(v.Separator)) + ")", nil

	case types.DateRangeComponent, types.SurveyIDComponent:
		return "", fmt.Errorf("%w: %T has no standalone condition", types.ErrNotSupported, c)

	default:
		return "", fmt.Errorf("%w: condition for %T", types.ErrNotSupported, c)
	}
}

// IsConditionCompilable reports whether CompileCondition can succeed structurally for c.
func IsConditionCompilable(c types.Component) bool {
	switch v := c.(type) {
	case types.InclusiveRangeComponent, types.InstanceListComponent:
		return true
	case types.CompositeComponent:
		if len(v.Components) == 0 {
			return false
		}
		for _, child := range v.Components {
			if !IsConditionCompilable(child) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func separator(s types.Separator) string {
	if s == types.SeparatorOr {
		return " or "
	}
	return " and "
}

func compileInstanceList(c types.InstanceListComponent, opts Options) (string, error) {
	switch c.Operator {
	case types.InstanceOr:
		return answeredWithInstanceIDs(c, c.InstanceIDs, opts)
	case types.InstanceAnd:
		parts := make([]string, 0, len(c.InstanceIDs))
		for _, id := range c.InstanceIDs {
			part, err := answeredWithInstanceIDs(c, []int{id}, opts)
			if err != nil {
				return "", err
			}
			parts = append(parts, part)
		}
		return strings.Join(parts, " and "), nil
	case types.InstanceNot:
		id, err := ident(c.FromIdentifier)
		if err != nil {
			return "", err
		}
		answered, err := answeredWithInstanceIDs(c, c.InstanceIDs, opts)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("len(response.%s()) and not %s", id, answered), nil
	default:
		return "", fmt.Errorf("%w: instance operator %d", types.ErrNotSupported, c.Operator)
	}
}

// answeredWithInstanceIDs is true when any answer for the given instances is
// present and within the component's answer bounds.
func answeredWithInstanceIDs(c types.InstanceListComponent, ids []int, opts Options) (string, error) {
	values, err := instanceValues(c, ids, opts)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("any((answer != None%s) for answer in %s)", answerBounds(c), values), nil
}

func answerBounds(c types.InstanceListComponent) string {
	var b strings.Builder
	if c.AnswerMin != nil {
		fmt.Fprintf(&b, " and answer >= %d", *c.AnswerMin)
	}
	if c.AnswerMax != nil {
		fmt.Fprintf(&b, " and answer <= %d", *c.AnswerMax)
	}
	return b.String()
}
