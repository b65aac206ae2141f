// internal/compiler/operators.go
package compiler

import (
	"fmt"

	"github.com/solatis/surveyvars/internal/types"
)

/*
 * Range comparison rendering.
 *
 * Renders the per-value predicate of an InclusiveRangeComponent against a
 * loop variable. Inversion never wraps the whole predicate blindly; each
 * operator inverts the way the evaluator expects:
 *
 *   - Between:      [not ]Min <= r <= Max   (Min/Max swapped when reversed)
 *   - Exactly:      r == v / r != v for one value, [not ]r in [v1,v2] for many,
 *                   r == Min when no exact values are set
 *   - GreaterThan:  r >= Min, inverted r < Min
 *   - LessThan:     r < Max,  inverted r >= Max
 */

// rangeComparison renders the predicate of c for loop variable v.
func rangeComparison(c types.InclusiveRangeComponent, v string) (string, error) {
	not := ""
	if c.Inverted {
		not = "not "
	}

	switch c.Operator {
	case types.RangeBetween:
		lo, hi := c.Min, c.Max
		if lo > hi {
			lo, hi = hi, lo
		}
		return fmt.Sprintf("%s%d <= %s <= %d", not, lo, v, hi), nil
	case types.RangeExactly:
		switch len(c.ExactValues) {
		case 0:
			return equality(v, c.Min, c.Inverted), nil
		case 1:
			return equality(v, c.ExactValues[0], c.Inverted), nil
		default:
			return fmt.Sprintf("%s%s in [%s]", not, v, joinInts(c.ExactValues)), nil
		}
	case types.RangeGreaterThan:
		if c.Inverted {
			return fmt.Sprintf("%s < %d", v, c.Min), nil
		}
		return fmt.Sprintf("%s >= %d", v, c.Min), nil
	case types.RangeLessThan:
		if c.Inverted {
			return fmt.Sprintf("%s >= %d", v, c.Max), nil
		}
		return fmt.Sprintf("%s < %d", v, c.Max), nil
	default:
		return "", fmt.Errorf("%w: range operator %d", types.ErrNotSupported, c.Operator)
	}
}

func equality(v string, value int, inverted bool) string {
	if inverted {
		return fmt.Sprintf("%s != %d", v, value)
	}
	return fmt.Sprintf("%s == %d", v, value)
}
