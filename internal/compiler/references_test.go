package compiler

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/solatis/surveyvars/internal/types"
)

func TestParseReferences(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		want       References
	}{
		{
			name:       "compiled grouped expression",
			expression: "result.AgeGroup if ((result.AgeGroup == 1) and (any(18 <= r <= 34 for r in response.age()))) else None",
			want:       References{VariableIdentifiers: []string{"age"}, ResultEntityTypes: []string{"AgeGroup"}},
		},
		{
			name:       "bindings and several fields",
			expression: "max(response.spend(Brand=result.Brand)) + len(response.brand(Brand=[1,2]))",
			want:       References{VariableIdentifiers: []string{"brand", "spend"}, ResultEntityTypes: []string{"Brand"}},
		},
		{
			name:       "string literals are ignored",
			expression: `'response.fake()' if response.real() else "result.Nope"`,
			want:       References{VariableIdentifiers: []string{"real"}, ResultEntityTypes: []string{}},
		},
		{
			name:       "attribute chains are not accessors",
			expression: "x.response.age() + response.age",
			want:       References{VariableIdentifiers: []string{}, ResultEntityTypes: []string{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseReferences(tt.expression)
			if err != nil {
				t.Fatalf("ParseReferences() error = %v, want nil", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseReferences() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseReferences_Errors(t *testing.T) {
	for _, expression := range []string{
		"max(response.age()",
		"response.age())",
		"any(r for r in response.age(])",
		"'unterminated",
	} {
		if _, err := ParseReferences(expression); !errors.Is(err, types.ErrExpressionParse) {
			t.Errorf("ParseReferences(%q) error = %v, want %v", expression, err, types.ErrExpressionParse)
		}
	}
}

func TestReferencedIdentifiers(t *testing.T) {
	def := types.GroupedDefinition{
		ToEntityTypeName: "Segment",
		Groups: []types.Grouping{
			{ToEntityInstanceName: "A", ToEntityInstanceID: 1, Component: types.CompositeComponent{Components: []types.Component{
				ageRange(),
				types.InstanceListComponent{FromIdentifier: "brand", FromEntityTypeName: "Brand", InstanceIDs: []int{1}},
			}}},
			{ToEntityInstanceName: "B", ToEntityInstanceID: 2, Component: ageRange()},
		},
	}

	want := []string{"age", "brand"}
	if diff := cmp.Diff(want, ReferencedIdentifiers(def)); diff != "" {
		t.Errorf("ReferencedIdentifiers() mismatch (-want +got):\n%s", diff)
	}

	if got := ReferencedIdentifiers(types.FieldExpressionDefinition{Expression: "response.age()"}); len(got) != 0 {
		t.Errorf("ReferencedIdentifiers(field expression) = %v, want empty", got)
	}
}

func TestRenameReferences(t *testing.T) {
	t.Run("field expression", func(t *testing.T) {
		def := types.FieldExpressionDefinition{Expression: "response.age() + response.age_band() + len('response.age()')"}
		got, changed, err := RenameReferences(def, "age", "years")
		if err != nil {
			t.Fatalf("RenameReferences() error = %v, want nil", err)
		}
		if !changed {
			t.Errorf("changed = false, want true")
		}
		want := types.FieldExpressionDefinition{Expression: "response.years() + response.age_band() + len('response.age()')"}
		if diff := cmp.Diff(types.Definition(want), got); diff != "" {
			t.Errorf("RenameReferences() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("grouped", func(t *testing.T) {
		def := types.BaseGroupedDefinition{
			GroupedDefinition: types.GroupedDefinition{
				ToEntityTypeName: "AgeGroup",
				Groups: []types.Grouping{
					{ToEntityInstanceName: "Young", ToEntityInstanceID: 1, Component: types.CompositeComponent{
						Components: []types.Component{ageRange()},
					}},
				},
			},
			AggregationType: types.MaxOfMatchingCondition,
		}
		got, changed, err := RenameReferences(def, "age", "years")
		if err != nil {
			t.Fatalf("RenameReferences() error = %v, want nil", err)
		}
		if !changed {
			t.Errorf("changed = false, want true")
		}
		if refs := ReferencedIdentifiers(got); !cmp.Equal(refs, []string{"years"}) {
			t.Errorf("ReferencedIdentifiers(renamed) = %v, want [years]", refs)
		}
		if refs := ReferencedIdentifiers(def); !cmp.Equal(refs, []string{"age"}) {
			t.Errorf("original definition was mutated: %v", refs)
		}
	})

	t.Run("unrelated", func(t *testing.T) {
		_, changed, err := RenameReferences(types.SingleGroupDefinition{
			Group: types.Grouping{ToEntityInstanceName: "A", ToEntityInstanceID: 1, Component: ageRange()},
		}, "income", "salary")
		if err != nil {
			t.Fatalf("RenameReferences() error = %v, want nil", err)
		}
		if changed {
			t.Errorf("changed = true, want false")
		}
	})

	t.Run("invalid new identifier", func(t *testing.T) {
		_, _, err := RenameReferences(types.FieldExpressionDefinition{Expression: "response.age()"}, "age", "not valid")
		if !errors.Is(err, types.ErrInvalidIdentifier) {
			t.Errorf("RenameReferences() error = %v, want %v", err, types.ErrInvalidIdentifier)
		}
	})
}
