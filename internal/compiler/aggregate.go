package compiler

import (
	"fmt"
	"strings"

	"github.com/solatis/surveyvars/internal/types"
)

// CompileMax renders the aggregate value expression of a component.
//
// MaxOfSingleReferenced takes the max of the one field the component refers
// to. MaxOfMatchingCondition takes the max only of values that satisfy the
// condition; instance lists with the Not operator have no such value and
// return ErrNotSupported.
func CompileMax(c types.Component, agg types.AggregationType, opts Options) (string, error) {
	switch agg {
	case types.MaxOfSingleReferenced:
		identifier, resultTypes, err := singleReferenced(c)
		if err != nil {
			return "", err
		}
		values, err := responseValues(identifier, "", resultTypes, opts)
		if err != nil {
			return "", err
		}
		return "max(" + values + ")", nil
	case types.MaxOfMatchingCondition:
		return maxOfMatching(c, opts)
	default:
		return "", fmt.Errorf("%w: aggregation type %d", types.ErrNotSupported, agg)
	}
}

func maxOfMatching(c types.Component, opts Options) (string, error) {
	switch v := c.(type) {
	case types.CompositeComponent:
		if len(v.Components) == 0 {
			return "", fmt.Errorf("%w: composite must contain at least one component", types.ErrStructural)
		}
		parts := make([]string, 0, len(v.Components))
		for _, child := range v.Components {
			part, err := maxOfMatching(child, opts)
			if err != nil {
				return "", err
			}
			parts = append(parts, part)
		}
		return fmt.Sprintf("max(a for a in [%s] if a != None)", strings.Join(parts, ", ")), nil

	case types.InstanceListComponent:
		if v.Operator != types.InstanceOr && v.Operator != types.InstanceAnd {
			return "", fmt.Errorf("%w: max of matching condition for instance operator %d", types.ErrNotSupported, v.Operator)
		}
		values, err := instanceValues(v, v.InstanceIDs, opts)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("max((answer for answer in %s if answer != None%s), default=None)", values, answerBounds(v)), nil

	case types.InclusiveRangeComponent:
		values, err := responseValues(v.FromIdentifier, "", v.ResultEntityTypeNames, opts)
		if err != nil {
			return "", err
		}
		cmp, err := rangeComparison(v, "r")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("max((r for r in %s if %s), default=None)", values, cmp), nil

	default:
		return "", fmt.Errorf("%w: max of matching condition for %T", types.ErrNotSupported, c)
	}
}

// singleReferenced finds the one field a component tree refers to.
// Composites qualify only when every leaf refers to the same field.
func singleReferenced(c types.Component) (string, []string, error) {
	identifier := ""
	var resultTypes []string
	seenTypes := make(map[string]struct{})

	for leaf := range types.Descendants(c, true) {
		var from string
		var leafTypes []string
		switch v := leaf.(type) {
		case types.InclusiveRangeComponent:
			from, leafTypes = v.FromIdentifier, v.ResultEntityTypeNames
		case types.InstanceListComponent:
			from, leafTypes = v.FromIdentifier, v.ResultEntityTypeNames
		default:
			return "", nil, fmt.Errorf("%w: max of single referenced for %T", types.ErrNotSupported, leaf)
		}
		if identifier != "" && from != identifier {
			return "", nil, fmt.Errorf("%w: max of single referenced over %q and %q", types.ErrNotSupported, identifier, from)
		}
		identifier = from
		for _, t := range leafTypes {
			if _, ok := seenTypes[t]; !ok {
				seenTypes[t] = struct{}{}
				resultTypes = append(resultTypes, t)
			}
		}
	}

	if identifier == "" {
		return "", nil, fmt.Errorf("%w: max of single referenced without a field", types.ErrNotSupported)
	}
	return identifier, resultTypes, nil
}
