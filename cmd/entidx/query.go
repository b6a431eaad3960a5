package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/entidx/codec"
	"github.com/hupe1980/entidx/query"
)

type queryFlags struct {
	collection string
	filter     string
	orderBy    string
	desc       bool
	offset     int
	limit      int
	jsonOut    bool
}

func newQueryCmd(cfg func() (*config, error)) *cobra.Command {
	var f queryFlags
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Print the ids of records matching a JSON predicate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := cfg()
			if err != nil {
				return err
			}
			return runQuery(cmd, c, f)
		},
	}
	cmd.Flags().StringVarP(&f.collection, "collection", "c", "", "collection to query")
	cmd.Flags().StringVarP(&f.filter, "filter", "f", "", "JSON predicate; empty matches every record")
	cmd.Flags().StringVar(&f.orderBy, "order-by", "", "attribute to sort by; empty sorts by id")
	cmd.Flags().BoolVar(&f.desc, "desc", false, "sort descending")
	cmd.Flags().IntVar(&f.offset, "offset", 0, "matches to skip")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "maximum ids to print; 0 prints all")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "print the result as JSON")
	_ = cmd.MarkFlagRequired("collection")
	return cmd
}

func (f queryFlags) request() (query.Request, error) {
	req := query.Request{Offset: f.offset, Limit: f.limit}
	if f.filter != "" {
		var p query.Predicate
		if err := codec.Default.Unmarshal([]byte(f.filter), &p); err != nil {
			return query.Request{}, fmt.Errorf("filter: %w", err)
		}
		req.Filter = &p
	}
	if f.orderBy != "" || f.desc {
		req.OrderBy = &query.Order{Attribute: f.orderBy, Descending: f.desc}
	}
	return req, nil
}

func runQuery(cmd *cobra.Command, cfg *config, f queryFlags) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := f.request()
	if err != nil {
		return err
	}

	db, _, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := db.Query(ctx, f.collection, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if f.jsonOut {
		data, err := codec.Default.Marshal(res)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}
	for _, id := range res.IDs {
		fmt.Fprintln(out, id)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d matches\n", len(res.IDs), res.Total)
	return nil
}
