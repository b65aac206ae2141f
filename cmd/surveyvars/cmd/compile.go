package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/solatis/surveyvars/internal/compiler"
	"github.com/solatis/surveyvars/internal/types"
)

var compileCmd = &cobra.Command{
	Use:   "compile FILE",
	Short: "Compile a definition file and print the expression and its references",
	Long: `Compile reads a variable or bare definition from a YAML or JSON file and
prints the expression it compiles to after structural validation. No
database is needed.`,
	Example: `  surveyvars compile age_group.yaml`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, def, err := readDocument(args[0])
		if err != nil {
			return err
		}
		if err := types.ValidateDefinition(def); err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		if !compiler.ContainsCompilableExpression(def) {
			return fmt.Errorf("%s: %s definitions are compiled elsewhere", args[0], kindOf(def))
		}

		expression, err := compiler.Compile(def, compilerOptions())
		if err != nil {
			return err
		}
		refs, err := compiler.ParseReferences(expression)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, expression)
		fmt.Fprintf(out, "references: %s\n", strings.Join(refs.VariableIdentifiers, ", "))
		if len(refs.ResultEntityTypes) > 0 {
			fmt.Fprintf(out, "result types: %s\n", strings.Join(refs.ResultEntityTypes, ", "))
		}
		return nil
	},
}
