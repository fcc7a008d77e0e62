package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheGojiOG/steamserv/internal/errs"
)

func historyCmd(a *app) *cobra.Command {
	var server, activityType string
	var limit int
	var since time.Duration
	var asJSON, prune bool
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded lifecycle operations",
		Args:  exactArgs(0, "no arguments"),
		RunE: func(cmd *cobra.Command, args []string) error {
			activity, err := a.history()
			if err != nil {
				return err
			}
			if prune {
				if olderThan <= 0 {
					retention, err := a.cfg.HistoryRetention()
					if err != nil {
						return errs.E(errs.InvalidRequest, "history", "", err)
					}
					olderThan = retention
				}
				if olderThan <= 0 {
					return errs.Ef(errs.InvalidRequest, "history", "", "--prune needs --older-than or history.retention")
				}
				n, err := activity.Prune(time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Pruned %d activities older than %s\n", n, olderThan)
				return nil
			}
			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}
			entries, err := activity.GetActivities(server, activityType, from, limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(a.out, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(a.out, "No history recorded")
				return nil
			}

			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tSERVER\tTYPE\tRESULT\tDESCRIPTION")
			for _, e := range entries {
				result := "ok"
				if !e.Success {
					result = "failed"
				}
				description := e.Description
				if e.ErrorMessage != "" {
					description += ": " + e.ErrorMessage
				}
				name := e.Server
				if name == "" {
					name = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Timestamp.Local().Format("2006-01-02 15:04:05"),
					name, e.ActivityType, result, description)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "only this server")
	cmd.Flags().StringVar(&activityType, "type", "", "only this activity type (server.install, status.change, ...)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum entries (0 for all)")
	cmd.Flags().DurationVar(&since, "since", 0, "only entries newer than this (e.g. 24h)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().BoolVar(&prune, "prune", false, "delete old entries instead of listing")
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "with --prune, the age cutoff (default history.retention)")
	return cmd
}
