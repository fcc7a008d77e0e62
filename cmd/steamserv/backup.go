package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func backupCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list, restore and delete server backups",
	}
	cmd.AddCommand(backupCreateCmd(a), backupListCmd(a), backupRestoreCmd(a), backupDeleteCmd(a))
	return cmd
}

func backupCreateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Archive a server's install directory",
		Args:  exactArgs(1, "a server name"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, err := a.controller()
			if err != nil {
				return err
			}
			b, err := ctl.Backup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Created backup %s (%s, %s) at %s\n", shortID(b.ID), b.Filename, humanBytes(b.Size), b.Destination)
			return nil
		},
	}
}

func backupListCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list [name]",
		Short: "List backups, newest first",
		Args:  maxArgs(1, "one server name"),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.backupManager()
			if err != nil {
				return err
			}
			server := ""
			if len(args) == 1 {
				server = args[0]
			}
			backups, err := mgr.List(cmd.Context(), server)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(a.out, backups)
			}
			if len(backups) == 0 {
				fmt.Fprintln(a.out, "No backups found")
				return nil
			}

			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSERVER\tCREATED\tSIZE\tDESTINATION\tFILE")
			for _, b := range backups {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", shortID(b.ID), b.Server,
					b.CreatedAt.Local().Format("2006-01-02 15:04"), humanBytes(b.Size), b.Destination, b.Filename)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func backupRestoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <name> <backup-id>",
		Short: "Unpack a backup over a stopped server's install directory",
		Args:  exactArgs(2, "a server name and a backup id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, err := a.controller()
			if err != nil {
				return err
			}
			b, err := ctl.Restore(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Restored %s into %s\n", b.Filename, args[0])
			return nil
		},
	}
}

func backupDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <backup-id>",
		Short: "Delete a backup and its archive",
		Args:  exactArgs(1, "a backup id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.backupManager()
			if err != nil {
				return err
			}
			if err := mgr.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Deleted backup %s\n", args[0])
			return nil
		},
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
