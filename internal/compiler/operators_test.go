// internal/compiler/operators_test.go
package compiler

import (
	"regexp"
	"strings"
	"testing"

	"github.com/expr-lang/expr"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/solatis/surveyvars/internal/types"
)

func TestRangeComparison(t *testing.T) {
	tests := []struct {
		name     string
		operator types.RangeOperator
		min, max int
		exact    []int
		inverted bool
		want     string
	}{
		{"between", types.RangeBetween, 1, 5, nil, false, "1 <= r <= 5"},
		{"between inverted", types.RangeBetween, 1, 5, nil, true, "not 1 <= r <= 5"},
		{"between swapped", types.RangeBetween, 9, 2, nil, false, "2 <= r <= 9"},
		{"exactly one", types.RangeExactly, 0, 0, []int{4}, false, "r == 4"},
		{"exactly one inverted", types.RangeExactly, 0, 0, []int{4}, true, "r != 4"},
		{"exactly many", types.RangeExactly, 0, 0, []int{1, 2, 3}, false, "r in [1,2,3]"},
		{"exactly many inverted", types.RangeExactly, 0, 0, []int{1, 2}, true, "not r in [1,2]"},
		{"exactly falls back to min", types.RangeExactly, 7, 0, nil, false, "r == 7"},
		{"exactly falls back to min inverted", types.RangeExactly, 7, 0, nil, true, "r != 7"},
		{"greater than", types.RangeGreaterThan, 10, 99, nil, false, "r >= 10"},
		{"greater than inverted", types.RangeGreaterThan, 10, 99, nil, true, "r < 10"},
		{"less than", types.RangeLessThan, 10, 99, nil, false, "r < 99"},
		{"less than inverted", types.RangeLessThan, 10, 99, nil, true, "r >= 99"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := types.InclusiveRangeComponent{
				FromIdentifier: "x",
				Operator:       tt.operator,
				Min:            tt.min,
				Max:            tt.max,
				ExactValues:    tt.exact,
				Inverted:       tt.inverted,
			}
			got, err := rangeComparison(c, "r")
			if err != nil {
				t.Fatalf("rangeComparison() error = %v, want nil", err)
			}
			if got != tt.want {
				t.Errorf("rangeComparison() = %v, want %v", got, tt.want)
			}
		})
	}
}

var chainedComparison = regexp.MustCompile(`^(-?\d+) <= r <= (-?\d+)$`)

// evalPredicate evaluates a rendered predicate with expr-lang. Chained
// comparisons and the leading "not" are rewritten into expr syntax first.
func evalPredicate(t *testing.T, predicate string, r int) bool {
	t.Helper()

	negate := false
	if rest, ok := strings.CutPrefix(predicate, "not "); ok {
		negate = true
		predicate = rest
	}
	predicate = chainedComparison.ReplaceAllString(predicate, "($1 <= r and r <= $2)")

	env := map[string]any{"r": r}
	program, err := expr.Compile(predicate, expr.Env(env), expr.AsBool())
	if err != nil {
		t.Fatalf("expr.Compile(%q) error = %v", predicate, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		t.Fatalf("expr.Run(%q) error = %v", predicate, err)
	}
	return out.(bool) != negate
}

// Property-based test: inverting a range negates its predicate for every value
func TestRangeComparison_PropertyInversion(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("inverted predicate is the negation of the plain predicate", prop.ForAll(
		func(c types.InclusiveRangeComponent, r int) bool {
			c.Inverted = false
			plain, err := rangeComparison(c, "r")
			if err != nil {
				return false
			}
			c.Inverted = true
			inverted, err := rangeComparison(c, "r")
			if err != nil {
				return false
			}
			return evalPredicate(t, plain, r) != evalPredicate(t, inverted, r)
		},
		genRange(),
		gen.IntRange(-60, 60),
	))

	properties.TestingRun(t)
}

func TestRangeComparison_Semantics(t *testing.T) {
	between := types.InclusiveRangeComponent{Operator: types.RangeBetween, Min: 18, Max: 34}
	predicate, err := rangeComparison(between, "r")
	if err != nil {
		t.Fatalf("rangeComparison() error = %v, want nil", err)
	}

	for r, want := range map[int]bool{17: false, 18: true, 25: true, 34: true, 35: false} {
		if got := evalPredicate(t, predicate, r); got != want {
			t.Errorf("%s with r=%d = %v, want %v", predicate, r, got, want)
		}
	}
}
