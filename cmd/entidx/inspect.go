package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/entidx/persistence"
)

func newInspectCmd(cfg func() (*config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Print the latest snapshot and its collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := cfg()
			if err != nil {
				return err
			}
			return runInspect(cmd, c)
		},
	}
}

func runInspect(cmd *cobra.Command, cfg *config) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, store, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	out := cmd.OutOrStdout()
	m, err := persistence.NewManager(store).ReadManifest(ctx)
	switch {
	case errors.Is(err, persistence.ErrNoSnapshot):
		fmt.Fprintln(out, "no snapshot")
		return nil
	case err != nil:
		return err
	}
	fmt.Fprintf(out, "snapshot %d  %s  %s/%s  %d bytes\n",
		m.ID, m.CreatedAt.Format(time.RFC3339), m.Codec, m.Compression, m.Size())

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COLLECTION\tINDEX\tNAME\tENTRIES")
	for _, name := range db.CollectionNames() {
		coll, err := db.LookupCollection(name)
		if err != nil {
			return err
		}
		s := coll.Stats(ctx)
		fmt.Fprintf(w, "%s\tprimary keys\t\t%d\n", name, s.Records)
		for _, attr := range sortedKeys(s.Attributes) {
			fmt.Fprintf(w, "%s\tattribute\t%s\t%d\n", name, attr, s.Attributes[attr])
		}
		for _, r := range sortedKeys(s.Ranges) {
			fmt.Fprintf(w, "%s\trange\t%s\t%d\n", name, r, s.Ranges[r])
		}
	}
	return w.Flush()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
