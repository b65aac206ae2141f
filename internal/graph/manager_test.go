package graph

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/solatis/surveyvars/internal/compiler"
	"github.com/solatis/surveyvars/internal/types"
)

type managerFixture struct {
	store     *memStore
	declarer  *fakeDeclarer
	registrar *fakeRegistrar
	manager   *Manager
}

func newManagerFixture() *managerFixture {
	f := &managerFixture{
		store:     newMemStore(),
		declarer:  newFakeDeclarer(),
		registrar: newFakeRegistrar(),
	}
	f.manager = NewManager(f.store, f.declarer, f.registrar, compiler.Options{}, 0, zerolog.Nop())
	return f
}

// seed creates base <- double <- triple, where each reads the previous one.
func (f *managerFixture) seed(t *testing.T) (base, double, triple *types.VariableConfiguration) {
	t.Helper()
	ctx := context.Background()

	var err error
	base, err = f.manager.Create(ctx, fieldVar("", "base", "max(response.age())"), []string{"age"})
	if err != nil {
		t.Fatalf("Create(base) error = %v", err)
	}
	double, err = f.manager.Create(ctx, fieldVar("", "double", "response.base() * 2"), []string{"base"})
	if err != nil {
		t.Fatalf("Create(double) error = %v", err)
	}
	triple, err = f.manager.Create(ctx, fieldVar("", "triple", "response.double() + response.base()"), []string{"double", "base"})
	if err != nil {
		t.Fatalf("Create(triple) error = %v", err)
	}
	f.declarer.calls = nil
	return base, double, triple
}

func ageGroups() types.GroupedDefinition {
	return types.GroupedDefinition{
		ToEntityTypeName: "AgeGroup",
		Groups: []types.Grouping{
			{ToEntityInstanceName: "Young", ToEntityInstanceID: 1, Component: types.InclusiveRangeComponent{
				FromIdentifier: "age", Operator: types.RangeBetween, Min: 18, Max: 34,
			}},
			{ToEntityInstanceName: "Older", ToEntityInstanceID: 2, Component: types.InclusiveRangeComponent{
				FromIdentifier: "age", Operator: types.RangeGreaterThan, Min: 35,
			}},
		},
	}
}

func TestManager_Create(t *testing.T) {
	f := newManagerFixture()
	ctx := context.Background()
	base, double, _ := f.seed(t)

	if base.ID == "" {
		t.Fatalf("Create() left ID empty")
	}
	if len(base.Dependencies) != 0 {
		t.Errorf("base.Dependencies = %v, want none (age is a field)", base.Dependencies)
	}
	if diff := cmp.Diff([]types.VariableID{base.ID}, double.Dependencies); diff != "" {
		t.Errorf("double.Dependencies mismatch (-want +got):\n%s", diff)
	}
	if got := f.declarer.declared["double"]; got != "(response.base() * 2) or None" {
		t.Errorf("declared[double] = %q, want %q", got, "(response.base() * 2) or None")
	}

	grouped := &types.VariableConfiguration{Identifier: "age_group", DisplayName: "Age group", Definition: ageGroups()}
	if _, err := f.manager.Create(ctx, grouped, []string{"age"}); err != nil {
		t.Fatalf("Create(grouped) error = %v", err)
	}
	if got := len(f.registrar.types["AgeGroup"]); got != 2 {
		t.Errorf("registered AgeGroup instances = %v, want 2", got)
	}
	if _, ok := f.declarer.declared["age_group"]; !ok {
		t.Errorf("age_group was not declared")
	}
}

func TestManager_CreateUndoesPartialWrites(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *managerFixture)
	}{
		{
			name: "entity type already registered",
			setup: func(f *managerFixture) {
				f.registrar.types["AgeGroup"] = nil
			},
		},
		{
			name: "declaration fails",
			setup: func(f *managerFixture) {
				f.declarer.failDeclare = errors.New("engine unavailable")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newManagerFixture()
			ctx := context.Background()
			tt.setup(f)
			_, preRegistered := f.registrar.types["AgeGroup"]

			grouped := &types.VariableConfiguration{Identifier: "age_group", DisplayName: "Age group", Definition: ageGroups()}
			if _, err := f.manager.Create(ctx, grouped, []string{"age"}); err == nil {
				t.Fatalf("Create() error = nil, want an error")
			}

			vars, err := f.store.ListVariables(ctx)
			if err != nil {
				t.Fatalf("ListVariables() error = %v", err)
			}
			if len(vars) != 0 {
				t.Errorf("store holds %v after a failed create, want nothing", identifiers(vars))
			}
			if _, ok := f.registrar.types["AgeGroup"]; ok != preRegistered {
				t.Errorf("AgeGroup registered = %v, want %v", ok, preRegistered)
			}
			if graphVars, _ := f.manager.Graph().Variables(ctx); len(graphVars) != 0 {
				t.Errorf("graph holds %v after a failed create", identifiers(graphVars))
			}

			f.declarer.failDeclare = nil
			delete(f.registrar.types, "AgeGroup")
			if _, err := f.manager.Create(ctx, grouped, []string{"age"}); err != nil {
				t.Errorf("Create() retry error = %v, want nil", err)
			}
		})
	}
}

func TestManager_CreateRejectsUncompilable(t *testing.T) {
	f := newManagerFixture()
	cfg := &types.VariableConfiguration{
		Identifier:  "non_buyers",
		DisplayName: "Non buyers",
		Definition: types.SingleGroupDefinition{Group: types.Grouping{
			ToEntityInstanceName: "Any", ToEntityInstanceID: 1, Component: types.InstanceListComponent{
				FromIdentifier: "brand", FromEntityTypeName: "Brand", Operator: types.InstanceNot, InstanceIDs: []int{1},
			},
		}, AggregationType: types.MaxOfMatchingCondition},
	}

	_, err := f.manager.Create(context.Background(), cfg, nil)
	if !errors.Is(err, types.ErrNotSupported) {
		t.Fatalf("Create() error = %v, want %v", err, types.ErrNotSupported)
	}
	if f.store.writes != 0 {
		t.Errorf("store writes = %v, want 0", f.store.writes)
	}
}

func TestManager_UpdateRedeclaresDependentsNearestFirst(t *testing.T) {
	f := newManagerFixture()
	base, _, _ := f.seed(t)

	base.Definition = types.FieldExpressionDefinition{Expression: "min(response.age())"}
	if _, err := f.manager.Update(context.Background(), VariableUpdate{Config: base, Dependencies: []string{"age"}}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	want := []string{"declare base", "declare double", "declare triple"}
	if diff := cmp.Diff(want, f.declarer.calls); diff != "" {
		t.Errorf("declarer calls mismatch (-want +got):\n%s", diff)
	}
	if got := f.declarer.declared["base"]; got != "(min(response.age())) or None" {
		t.Errorf("declared[base] = %q", got)
	}
}

func TestManager_UpdateRename(t *testing.T) {
	f := newManagerFixture()
	ctx := context.Background()
	base, double, triple := f.seed(t)

	base.Identifier = "baseline"
	if _, err := f.manager.Update(ctx, VariableUpdate{Config: base, Dependencies: []string{"age"}}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if _, ok := f.declarer.declared["base"]; ok {
		t.Errorf("old declaration of base was not retracted")
	}
	if _, ok := f.declarer.declared["baseline"]; !ok {
		t.Errorf("baseline was not declared")
	}

	tests := []struct {
		id   types.VariableID
		want string
	}{
		{double.ID, "(response.baseline() * 2) or None"},
		{triple.ID, "(response.double() + response.baseline()) or None"},
	}
	for _, tt := range tests {
		got, err := f.store.GetVariable(ctx, tt.id)
		if err != nil {
			t.Fatalf("GetVariable() error = %v", err)
		}
		compiled, err := compiler.Compile(got.Definition, compiler.Options{})
		if err != nil {
			t.Fatalf("Compile() error = %v", err)
		}
		if compiled != tt.want {
			t.Errorf("%s compiled = %q, want %q", got.Identifier, compiled, tt.want)
		}
		if f.declarer.declared[got.Identifier] != tt.want {
			t.Errorf("declared[%s] = %q, want %q", got.Identifier, f.declarer.declared[got.Identifier], tt.want)
		}
	}
}

func TestManager_UpdateRenameFailureKeepsDependents(t *testing.T) {
	f := newManagerFixture()
	ctx := context.Background()
	base, double, _ := f.seed(t)
	if _, err := f.manager.Create(ctx, fieldVar("", "other", "1"), nil); err != nil {
		t.Fatalf("Create(other) error = %v", err)
	}
	f.declarer.calls = nil

	base.Identifier = "other"
	if _, err := f.manager.Update(ctx, VariableUpdate{Config: base, Dependencies: []string{"age"}}); err == nil {
		t.Fatalf("Update() renaming onto a taken identifier error = nil, want an error")
	}

	got, err := f.store.GetVariable(ctx, double.ID)
	if err != nil {
		t.Fatalf("GetVariable() error = %v", err)
	}
	want := types.FieldExpressionDefinition{Expression: "response.base() * 2"}
	if diff := cmp.Diff(types.Definition(want), got.Definition); diff != "" {
		t.Errorf("double.Definition mismatch (-want +got):\n%s", diff)
	}
	gotBase, err := f.store.GetVariable(ctx, base.ID)
	if err != nil {
		t.Fatalf("GetVariable() error = %v", err)
	}
	if gotBase.Identifier != "base" {
		t.Errorf("base.Identifier = %q, want %q", gotBase.Identifier, "base")
	}
	if len(f.declarer.calls) != 0 {
		t.Errorf("declarer calls = %v, want none", f.declarer.calls)
	}
}

func TestManager_UpdateRevertsWhenEntityTypeSyncFails(t *testing.T) {
	f := newManagerFixture()
	ctx := context.Background()

	created, err := f.manager.Create(ctx, &types.VariableConfiguration{
		Identifier: "age_group", DisplayName: "Age group", Definition: ageGroups(),
	}, []string{"age"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	syncErr := errors.New("entity store unavailable")
	f.registrar.failSync = syncErr
	created.DisplayName = "Age bands"
	if _, err := f.manager.Update(ctx, VariableUpdate{Config: created}); !errors.Is(err, syncErr) {
		t.Fatalf("Update() error = %v, want %v", err, syncErr)
	}

	got, err := f.store.GetVariable(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetVariable() error = %v", err)
	}
	if got.DisplayName != "Age group" {
		t.Errorf("DisplayName = %q, want the update reverted to %q", got.DisplayName, "Age group")
	}
}

func TestManager_UpdateRejectsCycle(t *testing.T) {
	f := newManagerFixture()
	ctx := context.Background()
	base, _, _ := f.seed(t)
	writes := f.store.writes

	base.Definition = types.FieldExpressionDefinition{Expression: "response.triple()"}
	_, err := f.manager.Update(ctx, VariableUpdate{Config: base, Dependencies: []string{"triple"}})
	if !errors.Is(err, types.ErrCyclicDefinition) {
		t.Fatalf("Update() error = %v, want %v", err, types.ErrCyclicDefinition)
	}
	if f.store.writes != writes {
		t.Errorf("store writes = %v, want %v", f.store.writes, writes)
	}
	if len(f.declarer.calls) != 0 {
		t.Errorf("declarer calls = %v, want none", f.declarer.calls)
	}
}

func TestManager_UpdateKeepsEntityTypeName(t *testing.T) {
	f := newManagerFixture()
	ctx := context.Background()

	created, err := f.manager.Create(ctx, &types.VariableConfiguration{
		Identifier: "age_group", DisplayName: "Age group", Definition: ageGroups(),
	}, []string{"age"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	edited := ageGroups()
	edited.ToEntityTypeName = "Renamed"
	edited.Groups = edited.Groups[:1]
	created.Definition = edited
	updated, err := f.manager.Update(ctx, VariableUpdate{Config: created})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	g, _ := types.Grouped(updated.Definition)
	if g.ToEntityTypeName != "AgeGroup" {
		t.Errorf("ToEntityTypeName = %q, want %q", g.ToEntityTypeName, "AgeGroup")
	}
	if got := len(f.registrar.types["AgeGroup"]); got != 1 {
		t.Errorf("synced AgeGroup instances = %v, want 1", got)
	}
	if _, ok := f.registrar.types["Renamed"]; ok {
		t.Errorf("entity type was retargeted to Renamed")
	}
}

func TestManager_UpdateToUncompilableRetracts(t *testing.T) {
	f := newManagerFixture()
	ctx := context.Background()
	_, _, triple := f.seed(t)

	triple.Definition = types.QuestionDefinition{QuestionVarCode: "Q7"}
	if _, err := f.manager.Update(ctx, VariableUpdate{Config: triple, Dependencies: []string{}}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if _, ok := f.declarer.declared["triple"]; ok {
		t.Errorf("stale declaration of triple was kept")
	}
}

func TestManager_UpdateMany_PartialFailure(t *testing.T) {
	f := newManagerFixture()
	ctx := context.Background()
	base, double, _ := f.seed(t)

	base.DisplayName = "Base (edited)"
	double.Definition = types.FieldExpressionDefinition{Expression: "response.double()"}

	applied, err := f.manager.UpdateMany(ctx, []VariableUpdate{
		{Config: base, Dependencies: []string{"age"}},
		{Config: double, Dependencies: []string{"double"}},
	})
	if !errors.Is(err, types.ErrSelfReference) {
		t.Fatalf("UpdateMany() error = %v, want %v", err, types.ErrSelfReference)
	}
	if !strings.Contains(err.Error(), "update 2 of 2") {
		t.Errorf("UpdateMany() error = %q, want it to name the failing item", err.Error())
	}
	if len(applied) != 1 {
		t.Fatalf("len(applied) = %v, want 1", len(applied))
	}

	stored, err := f.store.GetVariable(ctx, base.ID)
	if err != nil {
		t.Fatalf("GetVariable() error = %v", err)
	}
	if stored.DisplayName != "Base (edited)" {
		t.Errorf("first update was rolled back: DisplayName = %q", stored.DisplayName)
	}
}

func TestManager_UpdateDerivesDependencies(t *testing.T) {
	f := newManagerFixture()
	ctx := context.Background()

	source, err := f.manager.Create(ctx, fieldVar("", "score", "max(response.rating())"), []string{"rating"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	seg, err := f.manager.Create(ctx, &types.VariableConfiguration{
		Identifier: "segment", DisplayName: "Segment", Definition: types.GroupedDefinition{
			ToEntityTypeName: "Segment",
			Groups: []types.Grouping{
				{ToEntityInstanceName: "Low", ToEntityInstanceID: 1, Component: types.InclusiveRangeComponent{
					FromIdentifier: "age", Operator: types.RangeLessThan, Max: 3,
				}},
			},
		},
	}, []string{"age"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	g, _ := types.Grouped(seg.Definition)
	g.Groups = []types.Grouping{
		{ToEntityInstanceName: "Low", ToEntityInstanceID: 1, Component: types.InclusiveRangeComponent{
			FromIdentifier: "score", Operator: types.RangeLessThan, Max: 3,
		}},
	}
	seg.Definition = g
	updated, err := f.manager.Update(ctx, VariableUpdate{Config: seg})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if diff := cmp.Diff([]types.VariableID{source.ID}, updated.Dependencies); diff != "" {
		t.Errorf("Dependencies mismatch (-want +got):\n%s", diff)
	}
}

func TestManager_Delete(t *testing.T) {
	f := newManagerFixture()
	ctx := context.Background()
	base, double, triple := f.seed(t)
	writes := f.store.writes

	err := f.manager.Delete(ctx, base.ID)
	if !errors.Is(err, types.ErrDeleteConflict) {
		t.Fatalf("Delete(base) error = %v, want %v", err, types.ErrDeleteConflict)
	}
	for _, name := range []string{"Double", "Triple"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("Delete(base) error = %q, want it to name %s", err.Error(), name)
		}
	}
	if f.store.writes != writes {
		t.Errorf("store writes = %v, want %v", f.store.writes, writes)
	}
	if _, ok := f.declarer.declared["base"]; !ok {
		t.Errorf("declaration of base was retracted by a refused delete")
	}

	if err := f.manager.Delete(ctx, triple.ID); err != nil {
		t.Fatalf("Delete(triple) error = %v", err)
	}
	if err := f.manager.Delete(ctx, double.ID); err != nil {
		t.Fatalf("Delete(double) error = %v", err)
	}
	if err := f.manager.Delete(ctx, base.ID); err != nil {
		t.Fatalf("Delete(base) after dependents error = %v", err)
	}
	if len(f.declarer.declared) != 0 {
		t.Errorf("declarations left = %v, want none", f.declarer.declared)
	}
	if vars, _ := f.manager.Graph().Variables(ctx); len(vars) != 0 {
		t.Errorf("graph still holds %v", identifiers(vars))
	}
}

func TestManager_DeleteFailureKeepsDeclaration(t *testing.T) {
	f := newManagerFixture()
	ctx := context.Background()
	_, _, triple := f.seed(t)

	deleteErr := errors.New("database is locked")
	f.store.failDelete = deleteErr
	if err := f.manager.Delete(ctx, triple.ID); !errors.Is(err, deleteErr) {
		t.Fatalf("Delete() error = %v, want %v", err, deleteErr)
	}
	if _, ok := f.declarer.declared["triple"]; !ok {
		t.Errorf("declaration of triple was retracted although the delete failed")
	}
}

func TestManager_DeleteUnregistersEntityType(t *testing.T) {
	f := newManagerFixture()
	ctx := context.Background()

	created, err := f.manager.Create(ctx, &types.VariableConfiguration{
		Identifier: "age_group", DisplayName: "Age group", Definition: ageGroups(),
	}, nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := f.manager.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := f.registrar.types["AgeGroup"]; ok {
		t.Errorf("AgeGroup is still registered")
	}
	if _, err := f.store.GetVariable(ctx, created.ID); !errors.Is(err, types.ErrVariableNotFound) {
		t.Errorf("GetVariable() after Delete error = %v, want %v", err, types.ErrVariableNotFound)
	}
}
