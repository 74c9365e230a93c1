package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jacentio/grove/bootstrap"
)

var schemasCmd = &cobra.Command{
	Use:   "schemas",
	Short: "Schema file tools",
}

var schemasValidateCmd = &cobra.Command{
	Use:   "validate <file>...",
	Short: "Validate schema files without touching the store",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSchemasValidate,
}

func init() {
	rootCmd.AddCommand(schemasCmd)
	schemasCmd.AddCommand(schemasValidateCmd)
}

func runSchemasValidate(cmd *cobra.Command, args []string) error {
	schemas, err := bootstrap.ReadSchemaFiles(args)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d schema(s) valid\n", len(schemas))
	for _, s := range schemas {
		fmt.Fprintf(out, "  %s: %d field(s), %d index(es)\n", s.Model, len(s.Fields), len(s.Indexes))
	}
	return nil
}
