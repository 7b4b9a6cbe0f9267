package main

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hatlonely/odm/query"
)

var (
	filterArgs []string
	orderBy    string
	orderDesc  bool
	limit      int
	offset     int
)

var queryCmd = &cobra.Command{
	Use:   "query <entityType>",
	Short: "Run a single query page and print the records as JSON",
	Long: `Run a single query page and print the records as JSON.

Filters are given as field:operator:value; the value is parsed as JSON
and falls back to a plain string.

Examples:
  odm query product --filter price:gt:10 --filter tags:array_contains_any:["go","rust"]
  odm query product --order price --desc --limit 5 --offset 10
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := buildQuery(args[0])
		if err != nil {
			return err
		}
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		resp, err := client.RawQuery(context.Background(), q)
		if err != nil {
			return err
		}
		if err := printJSON(resp.Data); err != nil {
			return err
		}
		if resp.Total != nil {
			color.New(color.FgGreen).Printf("%d of %d records\n", len(resp.Data), *resp.Total)
		}
		return nil
	},
}

var countCmd = &cobra.Command{
	Use:   "count <entityType>",
	Short: "Count the records matching the filters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := buildQuery(args[0])
		if err != nil {
			return err
		}
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		n, err := client.RawCount(context.Background(), q)
		if err != nil {
			return err
		}
		color.New(color.FgGreen, color.Bold).Println(n)
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{queryCmd, countCmd} {
		cmd.Flags().StringArrayVarP(&filterArgs, "filter", "f", nil, "filter as field:operator:value, repeatable")
	}
	queryCmd.Flags().StringVar(&orderBy, "order", "", "order by field")
	queryCmd.Flags().BoolVar(&orderDesc, "desc", false, "descending order")
	queryCmd.Flags().IntVar(&limit, "limit", 20, "page size, 0 for no limit")
	queryCmd.Flags().IntVar(&offset, "offset", 0, "records to skip")
}

func buildQuery(entityType string) (query.Options, error) {
	q := query.New(entityType).WithOffset(offset)
	for _, arg := range filterArgs {
		f, err := parseFilter(arg)
		if err != nil {
			return q, err
		}
		q = q.WithFilters(f)
	}
	if orderBy != "" {
		q = q.WithOrder(orderBy, orderDesc)
	}
	if limit > 0 {
		q = q.WithLimit(limit)
	}
	return q, nil
}

// parseFilter 解析 field:operator:value，value 优先按 JSON 解析
func parseFilter(arg string) (query.Filter, error) {
	parts := strings.SplitN(arg, ":", 3)
	if len(parts) != 3 {
		return query.Filter{}, errors.Errorf("invalid filter %q, expected field:operator:value", arg)
	}
	var value any
	if err := json.Unmarshal([]byte(parts[2]), &value); err != nil {
		value = parts[2]
	}
	return query.NewFilter(parts[0], query.Operator(parts[1]), value), nil
}
