package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/catalog-crawler/internal/config"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "catalogcrawler",
		Short: "Crawls a paginated catalog and extracts item details.",
		Long: `catalogcrawler harvests item links from the listing pages of a catalog
site and scrapes every linked item page with a pool of headless browser tabs,
writing one row per item to CSV (and optionally Postgres).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")

	cmd.AddCommand(newCrawlCmd(opts))
	cmd.AddCommand(newValidateCmd(opts))
	return cmd
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration without crawling",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: seed=%s concurrency=%d rate=%d/min\n",
				cfg.Crawl.SeedURL, cfg.Executor.MaxConcurrent, cfg.Executor.RateLimitPerMinute)
			return nil
		},
	}
}
