package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/TheGojiOG/steamserv/internal/errs"
	"github.com/TheGojiOG/steamserv/internal/lifecycle"
	"github.com/TheGojiOG/steamserv/internal/models"
	"github.com/TheGojiOG/steamserv/internal/prompt"
)

func installCmd(a *app) *cobra.Command {
	var f prompt.InstallFlags

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install a dedicated server",
		Long: `Install a dedicated server with SteamCMD and generate its systemd unit.

Values missing from the flags are asked for interactively when running on a
terminal. Steam account passwords are never stored; set
STEAMSERV_STEAM_PASSWORD to supply one without a prompt.`,
		Example: `  steamserv install --appid 730 --server-name cs-server
  steamserv install --title "Rust" --server-name rust-main --port 28015`,
		Args: exactArgs(0, "no arguments"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, err := a.controller()
			if err != nil {
				return err
			}
			req, err := a.prompter().ResolveInstall(f, a.cat)
			if err != nil {
				return err
			}

			rec, err := ctl.Install(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Installed %s (%s) at %s\n", rec.Name, rec.DisplayName(), rec.InstallPath)
			fmt.Fprintf(a.out, "Unit: %s\n", rec.UnitName)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&f.AppID, "appid", 0, "Steam app id of the dedicated server")
	flags.StringVar(&f.Title, "title", "", "game title to look up in the catalog instead of --appid")
	flags.StringVar(&f.Name, "server-name", "", "unique name for this server")
	flags.StringVar(&f.Username, "username", "", "Steam username (default anonymous)")
	flags.StringVar(&f.InstallDir, "install-dir", "", "parent directory for the install (default from config)")
	flags.IntVar(&f.Port, "port", 0, "game port, exported to the unit as STEAMSERV_PORT")
	flags.BoolVar(&f.AutoUpdate, "auto-update", false, "update this server from the scheduler")
	flags.StringVar(&f.LaunchCommand, "launch", "", "start command relative to the install directory")
	flags.BoolVar(&f.SkipValidate, "skip-validate", false, "skip SteamCMD file validation")
	return cmd
}

func updateCmd(a *app) *cobra.Command {
	var all, skipValidate bool
	var serverName string

	cmd := &cobra.Command{
		Use:   "update [name]",
		Short: "Update an installed server",
		Long: `Update an installed server with SteamCMD. A running server is stopped for
the update and started again afterwards, even when the update fails.

Without a name the server is picked from a list on a terminal.`,
		Args: serverArgs(a, &serverName, &all),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, err := a.controller()
			if err != nil {
				return err
			}
			p := a.prompter()

			if all {
				if len(args) > 0 || serverName != "" {
					return errs.Ef(errs.InvalidRequest, "update", serverName, "--all takes no server name")
				}
				updated, err := ctl.UpdateAll(cmd.Context(), os.Getenv(prompt.PasswordEnv))
				for _, name := range updated {
					fmt.Fprintf(a.out, "Updated %s\n", name)
				}
				return err
			}
			name, err := a.selectServer("update", args, serverName, true)
			if err != nil {
				return err
			}
			rec, err := a.reg.Get(name)
			if err != nil {
				return err
			}
			password, err := p.Password("update", name, rec.OwnerUsername)
			if err != nil {
				return err
			}

			rec, err = ctl.Update(cmd.Context(), lifecycle.UpdateRequest{
				Name:         name,
				Password:     password,
				SkipValidate: skipValidate,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Updated %s (%s)\n", rec.Name, rec.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&serverName, "server-name", "", "server to update")
	cmd.Flags().BoolVar(&all, "all", false, "update every server with auto-update enabled")
	cmd.Flags().BoolVar(&skipValidate, "skip-validate", false, "skip SteamCMD file validation")
	return cmd
}

func uninstallCmd(a *app) *cobra.Command {
	var opts lifecycle.UninstallOptions
	var yes bool
	var serverName string

	cmd := &cobra.Command{
		Use:   "uninstall [name]",
		Short: "Remove a stopped server, its files and its unit",
		Args:  serverArgs(a, &serverName, nil),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := a.selectServer("uninstall", args, serverName, false)
			if err != nil {
				return err
			}
			ctl := a.ctl
			rec, err := a.reg.Get(name)
			if err != nil {
				return err
			}

			p := a.prompter()
			if !yes && p.Interactive() {
				question := fmt.Sprintf("Remove %s", name)
				if !opts.KeepFiles && rec.InstallPath != "" {
					question += " and delete " + rec.InstallPath
				}
				ok, err := p.Confirm(question+"?", false)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(a.out, "Aborted")
					return nil
				}
			}

			removed, err := ctl.Uninstall(cmd.Context(), name, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Uninstalled %s\n", removed.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&serverName, "server-name", "", "server to remove")
	cmd.Flags().BoolVar(&opts.Backup, "backup", false, "archive the install directory first")
	cmd.Flags().BoolVar(&opts.KeepFiles, "keep-files", false, "leave the install directory on disk")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func listCmd(a *app) *cobra.Command {
	var filter string
	var installed, available, asJSON bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List managed servers, or catalog titles with --available",
		Args:    exactArgs(0, "no arguments"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if available {
				cat, err := a.catalog()
				if err != nil {
					return err
				}
				apps := cat.Search(filter, 0)
				if asJSON {
					return writeJSON(a.out, apps)
				}
				return writeAppTable(a.out, apps)
			}

			ctl, err := a.controller()
			if err != nil {
				return err
			}
			records := make([]models.ServerRecord, 0)
			for rec := range ctl.List(filter, installed) {
				records = append(records, rec)
			}
			if asJSON {
				return writeJSON(a.out, records)
			}
			if len(records) == 0 {
				fmt.Fprintln(a.out, "No servers found")
				return nil
			}
			return writeServerTable(a.out, records)
		},
	}

	cmd.Flags().StringVar(&filter, "filter", "", "only names or titles containing this text")
	cmd.Flags().BoolVar(&installed, "installed", false, "only servers with a usable install")
	cmd.Flags().BoolVar(&available, "available", false, "list installable titles from the catalog")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func writeServerTable(w io.Writer, records []models.ServerRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tAPP ID\tSTATUS\tPATH")
	for _, rec := range records {
		path := rec.InstallPath
		if path == "" {
			path = "-"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", rec.Name, rec.AppID, rec.Status, path)
	}
	return tw.Flush()
}

func writeAppTable(w io.Writer, apps []models.AppInfo) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "APP ID\tNAME\tLOGIN")
	for _, app := range apps {
		login := string(models.LoginAnonymous)
		if !app.Anonymous {
			login = "account"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", app.AppID, app.Name, login)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// serverActionCmd builds start, stop and restart: each takes one server and
// reports what the controller did.
func serverActionCmd(a *app, use, short string, run func(ctx context.Context, ctl *lifecycle.Controller, name string) (string, error)) *cobra.Command {
	var serverName string
	op := strings.Fields(use)[0]

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  serverArgs(a, &serverName, nil),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := a.selectServer(op, args, serverName, true)
			if err != nil {
				return err
			}
			msg, err := run(cmd.Context(), a.ctl, name)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, msg)
			return nil
		},
	}
	cmd.Flags().StringVar(&serverName, "server-name", "", "server to "+op)
	return cmd
}

func startCmd(a *app) *cobra.Command {
	return serverActionCmd(a, "start [name]", "Start a server's unit", func(ctx context.Context, ctl *lifecycle.Controller, name string) (string, error) {
		res, err := ctl.Start(ctx, name)
		if err != nil {
			return "", err
		}
		if res.Noop {
			return name + " is already running", nil
		}
		return "Started " + name, nil
	})
}

func stopCmd(a *app) *cobra.Command {
	return serverActionCmd(a, "stop [name]", "Stop a running server", func(ctx context.Context, ctl *lifecycle.Controller, name string) (string, error) {
		res, err := ctl.Stop(ctx, name)
		if err != nil {
			return "", err
		}
		if res.Noop {
			return name + " is not running", nil
		}
		return "Stopped " + name, nil
	})
}

func restartCmd(a *app) *cobra.Command {
	return serverActionCmd(a, "restart [name]", "Restart a server, starting it if it is not running", func(ctx context.Context, ctl *lifecycle.Controller, name string) (string, error) {
		if _, err := ctl.Restart(ctx, name); err != nil {
			return "", err
		}
		return "Restarted " + name, nil
	})
}
