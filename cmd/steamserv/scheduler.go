package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TheGojiOG/steamserv/internal/errs"
	"github.com/TheGojiOG/steamserv/internal/prompt"
	"github.com/TheGojiOG/steamserv/internal/scheduler"
)

func schedulerCmd(a *app) *cobra.Command {
	var once string

	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Run the auto-update and backup schedules in the foreground",
		Long: `Run the cron schedules from the config file until interrupted:
schedule.auto_update updates every server installed with --auto-update, and
schedule.backup backs up every installed server, and schedule.prune_history
drops activity history older than history.retention. Meant to run as its
own systemd service.`,
		Args: exactArgs(0, "no arguments"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, err := a.controller()
			if err != nil {
				return err
			}
			retention, err := a.cfg.HistoryRetention()
			if err != nil {
				return errs.E(errs.InvalidRequest, "scheduler", "", err)
			}
			history, err := a.history()
			if err != nil {
				return err
			}
			opts := scheduler.Options{
				AutoUpdate:       a.cfg.Schedule.AutoUpdate,
				Backup:           a.cfg.Schedule.Backup,
				Password:         os.Getenv(prompt.PasswordEnv),
				PruneHistory:     a.cfg.Schedule.PruneHistory,
				HistoryRetention: retention,
				History:          history,
			}
			s, err := scheduler.New(ctl, opts)
			if err != nil {
				return errs.E(errs.InvalidRequest, "scheduler", "", err)
			}

			switch once {
			case "":
			case "auto-update":
				return s.RunAutoUpdate(cmd.Context())
			case "backup":
				return s.RunBackups(cmd.Context())
			case "prune-history":
				if retention <= 0 {
					return errs.Ef(errs.InvalidRequest, "scheduler", "", "history.retention is not set")
				}
				n, err := s.RunPrune()
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Pruned %d activities\n", n)
				return nil
			default:
				return errs.Ef(errs.InvalidRequest, "scheduler", "", "--once must be auto-update, backup or prune-history, got %q", once)
			}

			fmt.Fprintln(a.out, "Scheduler running; interrupt to stop")
			if err := s.Run(cmd.Context()); err != nil {
				return errs.E(errs.InvalidRequest, "scheduler", "", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&once, "once", "", "run one job now and exit (auto-update, backup or prune-history)")
	return cmd
}
