package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"
	"gopkg.in/yaml.v3"

	"github.com/jacentio/grove/odm"
	"github.com/jacentio/grove/store"
)

var (
	whereFlags []string
	orFlags    []string
	sortFlags  []string
	skipFlag   int64
	limitFlag  int64
	noCache    bool
)

var findCmd = &cobra.Command{
	Use:   "find <model>",
	Short: "Run a finder and print matching entities as extended JSON",
	Long: `Predicates take the form "field op value", for example
"rank gte 3" or "status in [draft, review]". Values are YAML scalars or
sequences. Sort keys prefixed with "-" sort descending.`,
	Args: cobra.ExactArgs(1),
	RunE: runFind,
}

var countCmd = &cobra.Command{
	Use:   "count <model>",
	Short: "Count entities matching the predicates",
	Args:  cobra.ExactArgs(1),
	RunE:  runCount,
}

func init() {
	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(countCmd)

	for _, c := range []*cobra.Command{findCmd, countCmd} {
		c.Flags().StringArrayVarP(&whereFlags, "where", "w", nil, `and-predicate "field op value"`)
		c.Flags().StringArrayVar(&orFlags, "or", nil, `or-predicate "field op value"`)
		c.Flags().BoolVar(&noCache, "no-cache", false, "bypass the finder cache")
	}
	findCmd.Flags().StringArrayVarP(&sortFlags, "sort", "s", nil, "sort key, -field for descending")
	findCmd.Flags().Int64Var(&skipFlag, "skip", 0, "results to skip")
	findCmd.Flags().Int64VarP(&limitFlag, "limit", "l", 0, "maximum results (0 for all)")
}

// parsePredicate splits "field op value" and decodes value as YAML.
func parsePredicate(s string) (name, op string, v any, err error) {
	parts := strings.Fields(s)
	if len(parts) < 3 {
		return "", "", nil, fmt.Errorf("predicate %q: want \"field op value\"", s)
	}
	name, op = parts[0], parts[1]
	raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), name))
	raw = strings.TrimSpace(strings.TrimPrefix(raw, op))
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return "", "", nil, fmt.Errorf("predicate %q: %w", s, err)
	}
	return name, op, v, nil
}

func buildFinder(reg *odm.Registry, model string) (*odm.Finder, error) {
	f := reg.Find(model)
	for _, group := range []struct {
		logic string
		preds []string
	}{{"and", whereFlags}, {"or", orFlags}} {
		for _, p := range group.preds {
			name, op, v, err := parsePredicate(p)
			if err != nil {
				return nil, err
			}
			f = f.Where(group.logic, name, op, v)
		}
	}
	for _, key := range sortFlags {
		if name, ok := strings.CutPrefix(key, "-"); ok {
			f = f.Sort(name, store.Desc)
		} else {
			f = f.Sort(key, store.Asc)
		}
	}
	if noCache {
		f = f.NoCache()
	}
	return f, f.Err()
}

func runFind(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close(ctx)

	f, err := buildFinder(app.Registry, args[0])
	if err != nil {
		return err
	}
	entities, err := f.Skip(skipFlag).Limit(limitFlag).All(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, e := range entities {
		doc, err := e.Storable(false)
		if err != nil {
			return fmt.Errorf("%s: %w", e, err)
		}
		line, err := bson.MarshalExtJSON(doc, false, false)
		if err != nil {
			return fmt.Errorf("%s: %w", e, err)
		}
		fmt.Fprintln(out, string(line))
	}
	return nil
}

func runCount(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close(ctx)

	f, err := buildFinder(app.Registry, args[0])
	if err != nil {
		return err
	}
	n, err := f.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), n)
	return nil
}
