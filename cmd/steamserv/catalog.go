package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheGojiOG/steamserv/internal/logging"
)

func catalogCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Search or refresh the list of installable titles",
	}
	cmd.AddCommand(catalogRefreshCmd(a), catalogSearchCmd(a))
	return cmd
}

func catalogRefreshCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Fetch Steam's app list into the local cache",
		Args:  exactArgs(0, "no arguments"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := a.catalog()
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			if !force && !cat.Stale(now) {
				fmt.Fprintf(a.out, "Catalog is up to date (last refreshed %s); use --force to refresh anyway\n",
					cat.LastUpdate().Local().Format("2006-01-02 15:04"))
				return nil
			}

			fmt.Fprintln(a.out, "Fetching app list from Steam...")
			n, err := cat.Refresh(cmd.Context(), now)
			if activity, histErr := a.history(); histErr == nil {
				activity.LogOperation("", "", logging.ActivityCatalogRefresh, fmt.Sprintf("Catalog refresh: %d titles", n), err, nil)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Cached %d titles\n", n)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "refresh even if the cache is fresh")
	return cmd
}

func catalogSearchCmd(a *app) *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search titles by name",
		Args:  exactArgs(1, "a search query"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := a.catalog()
			if err != nil {
				return err
			}
			apps := cat.Search(args[0], limit)
			if asJSON {
				return writeJSON(a.out, apps)
			}
			if len(apps) == 0 {
				fmt.Fprintf(a.out, "No titles match %q\n", args[0])
				if cat.LastUpdate().IsZero() {
					fmt.Fprintln(a.out, "The remote catalog has not been fetched yet; run steamserv catalog refresh")
				}
				return nil
			}
			return writeAppTable(a.out, apps)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 25, "maximum results (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
