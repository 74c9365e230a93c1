package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex [model...]",
	Short: "Recreate declared indexes",
	Long: `Drops indexes no longer declared by a model's schema and creates
the missing ones. Without arguments every registered model is reindexed.`,
	RunE: runReindex,
}

func init() {
	rootCmd.AddCommand(reindexCmd)
}

func runReindex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close(ctx)

	if len(args) == 0 {
		if err := app.Registry.ReindexAll(ctx); err != nil {
			return err
		}
		args = app.Registry.Models()
	} else {
		for _, name := range args {
			if err := app.Registry.Reindex(ctx, name); err != nil {
				return fmt.Errorf("reindex %s: %w", name, err)
			}
		}
	}
	for _, name := range args {
		fmt.Fprintf(cmd.OutOrStdout(), "reindexed %s\n", name)
	}
	return nil
}
