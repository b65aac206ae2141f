package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/solatis/surveyvars/internal/graph"
	"github.com/solatis/surveyvars/internal/types"
)

// withApp opens the stores for the configured scope around fn.
func withApp(ctx context.Context, fn func(*app) error) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func identifierIndex(ctx context.Context, a *app) (map[types.VariableID]string, []*types.VariableConfiguration, error) {
	vars, err := a.manager.Graph().Variables(ctx)
	if err != nil {
		return nil, nil, err
	}
	index := make(map[types.VariableID]string, len(vars))
	for _, v := range vars {
		index[v.ID] = v.Identifier
	}
	return index, vars, nil
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the variables of the configured scope",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withApp(ctx, func(a *app) error {
			_, vars, err := identifierIndex(ctx, a)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tIDENTIFIER\tDISPLAY NAME\tKIND\tDEPENDS ON\tUSED BY")
			for _, v := range vars {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
					v.ID, v.Identifier, v.DisplayName, kindOf(v.Definition), len(v.Dependencies), len(v.Dependents))
			}
			return w.Flush()
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Print a variable as YAML with its declared expression",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := types.ParseVariableID(args[0])
		if err != nil {
			return fmt.Errorf("invalid variable id %q: %w", args[0], err)
		}
		return withApp(ctx, func(a *app) error {
			index, _, err := identifierIndex(ctx, a)
			if err != nil {
				return err
			}
			v, err := a.manager.Graph().Variable(ctx, id)
			if err != nil {
				return err
			}
			doc, err := documentOf(v, index)
			if err != nil {
				return err
			}
			if expression, ok, err := a.declarations.GetDeclared(ctx, v.Identifier); err != nil {
				return err
			} else if ok {
				doc.Expression = expression
			}

			out, err := yaml.Marshal(doc)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		})
	},
}

var createCmd = &cobra.Command{
	Use:   "create FILE",
	Short: "Validate, compile and store a new variable",
	Long: `Create reads a variable file, validates it against the scope's variables,
metrics, fields and entity types, stores it and declares its expression.
Without an identifier one is derived from the display name.`,
	Example: `  surveyvars create age_group.yaml`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		doc, def, err := readDocument(args[0])
		if err != nil {
			return err
		}
		return withApp(ctx, func(a *app) error {
			_, vars, err := identifierIndex(ctx, a)
			if err != nil {
				return err
			}
			params := types.NewVariableParams{
				ProductShortCode: cfg.Scope.ProductShortCode,
				SubProductID:     cfg.Scope.SubProductID,
				Identifier:       doc.Identifier,
				DisplayName:      doc.DisplayName,
				Definition:       def,
			}
			for _, v := range vars {
				// An explicit identifier is checked by the validator instead of renamed.
				if doc.Identifier == "" {
					params.TakenIdentifiers = append(params.TakenIdentifiers, v.Identifier)
				}
				if g, ok := types.Grouped(v.Definition); ok {
					params.TakenEntityTypeNames = append(params.TakenEntityTypeNames, g.ToEntityTypeName)
				}
			}
			variable := types.NewVariableConfiguration(params)

			result, err := a.validator.Validate(ctx, variable, nil)
			if err != nil {
				return err
			}
			deps := result.Dependencies
			if doc.Dependencies != nil {
				deps = doc.Dependencies
			}

			created, err := a.manager.Create(ctx, variable, deps)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", created.ID, created.Identifier)
			return nil
		})
	},
}

var updateCmd = &cobra.Command{
	Use:   "update ID FILE",
	Short: "Replace a variable's definition and redeclare everything depending on it",
	Long: `Update replaces the definition of a stored variable. Renaming the
identifier rewrites every variable that references it. Every transitive
dependent is redeclared afterwards, nearest first.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := types.ParseVariableID(args[0])
		if err != nil {
			return fmt.Errorf("invalid variable id %q: %w", args[0], err)
		}
		doc, def, err := readDocument(args[1])
		if err != nil {
			return err
		}
		return withApp(ctx, func(a *app) error {
			previous, err := a.variables.GetVariable(ctx, id)
			if err != nil {
				return err
			}
			variable := previous.Clone()
			variable.Definition = def
			if doc.Identifier != "" {
				variable.Identifier = doc.Identifier
			}
			if doc.DisplayName != "" {
				variable.DisplayName = doc.DisplayName
			}

			result, err := a.validator.Validate(ctx, variable, previous)
			if err != nil {
				return err
			}
			deps := result.Dependencies
			if doc.Dependencies != nil {
				deps = doc.Dependencies
			}

			updated, err := a.manager.Update(ctx, graph.VariableUpdate{Config: variable, Dependencies: deps})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", updated.ID, updated.Identifier)
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a variable nothing references",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := types.ParseVariableID(args[0])
		if err != nil {
			return fmt.Errorf("invalid variable id %q: %w", args[0], err)
		}
		return withApp(ctx, func(a *app) error {
			return a.manager.Delete(ctx, id)
		})
	},
}

var depsCmd = &cobra.Command{
	Use:   "deps ID",
	Short: "Print the transitive dependencies and dependents of a variable",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := types.ParseVariableID(args[0])
		if err != nil {
			return fmt.Errorf("invalid variable id %q: %w", args[0], err)
		}
		return withApp(ctx, func(a *app) error {
			g := a.manager.Graph()
			dependencies, err := g.TransitiveDependencies(ctx, id)
			if err != nil {
				return err
			}
			dependents, err := g.TransitiveDependents(ctx, id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "depends on (deepest first):")
			for _, v := range dependencies {
				fmt.Fprintf(out, "  %s\t%s\n", v.Identifier, v.ID)
			}
			fmt.Fprintln(out, "used by (nearest first):")
			for _, v := range dependents {
				fmt.Fprintf(out, "  %s\t%s\n", v.Identifier, v.ID)
			}
			return nil
		})
	},
}
