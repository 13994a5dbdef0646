package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/siddimore/x402-ui-components/internal/components"
	"github.com/siddimore/x402-ui-components/internal/config"
	"github.com/siddimore/x402-ui-components/pkg/solana"
)

var templatesOpts struct {
	catalog  string
	price    string
	decimals int
	json     bool
}

type templateRow struct {
	Name   string `json:"name"`
	Title  string `json:"title"`
	Price  string `json:"price"`
	Atomic string `json:"maxAmountRequired"`
}

func runTemplates(cmd *cobra.Command, _ []string) error {
	rows, err := listTemplates()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if templatesOpts.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTITLE\tPRICE\tATOMIC")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Name, r.Title, r.Price, r.Atomic)
	}
	return tw.Flush()
}

// listTemplates resolves flags, falling back to the same environment the
// server reads.
func listTemplates() ([]templateRow, error) {
	if err := config.LoadEnvFiles(envFiles...); err != nil {
		return nil, err
	}
	path := templatesOpts.catalog
	if path == "" {
		path = os.Getenv("CATALOG_PATH")
	}
	price := templatesOpts.price
	if price == "" {
		price = envOr("PRICE", "0.001")
	}
	decimals := templatesOpts.decimals
	if decimals < 0 {
		d, err := strconv.Atoi(envOr("ASSET_DECIMALS", "9"))
		if err != nil {
			return nil, fmt.Errorf("ASSET_DECIMALS: %w", err)
		}
		decimals = d
	}

	def, err := solana.ParseAmount(price, decimals)
	if err != nil {
		return nil, fmt.Errorf("price: %w", err)
	}
	catalog, err := components.LoadCatalog(path, decimals)
	if err != nil {
		return nil, err
	}

	var rows []templateRow
	for _, name := range catalog.Names() {
		t, err := catalog.Get(name)
		if err != nil {
			return nil, err
		}
		amount := catalog.Price(name, def)
		rows = append(rows, templateRow{
			Name:   name,
			Title:  t.Title,
			Price:  solana.FormatAmount(amount, decimals),
			Atomic: strconv.FormatUint(amount, 10),
		})
	}
	return rows, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
