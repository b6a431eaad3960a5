package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd(cfg func() (*config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check index invariants of every collection in the latest snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := cfg()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			db, _, err := openDB(ctx, c)
			if err != nil {
				return err
			}
			defer db.Close()

			var errs []error
			for _, name := range db.CollectionNames() {
				coll, err := db.LookupCollection(name)
				if err != nil {
					return err
				}
				if err := coll.Validate(ctx); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", name, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", name)
			}
			return errors.Join(errs...)
		},
	}
}
