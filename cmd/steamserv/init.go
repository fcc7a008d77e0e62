package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/TheGojiOG/steamserv/internal/config"
	"github.com/TheGojiOG/steamserv/internal/errs"
	"github.com/TheGojiOG/steamserv/internal/steamcmd"
)

func initCmd(a *app) *cobra.Command {
	var installDir, steamcmdPath string
	var noDownload, force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "First-run setup: pick directories, fetch SteamCMD, write the config",
		Args:  exactArgs(0, "no arguments"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if cfg.Initialized && !force {
				fmt.Fprintf(a.out, "%s already exists; use --force to run setup again\n", cfg.Path())
				return nil
			}
			p := a.prompter()

			if installDir == "" {
				answer, err := p.Ask("Install servers under", cfg.Storage.InstallDir)
				if err != nil {
					return err
				}
				installDir = answer
			}
			if steamcmdPath == "" {
				answer, err := p.Ask("SteamCMD location", cfg.SteamCMD.Path)
				if err != nil {
					return err
				}
				steamcmdPath = answer
			}

			var err error
			if cfg.Storage.InstallDir, err = filepath.Abs(installDir); err != nil {
				return errs.E(errs.InvalidRequest, "init", "", err)
			}
			if cfg.SteamCMD.Path, err = filepath.Abs(steamcmdPath); err != nil {
				return errs.E(errs.InvalidRequest, "init", "", err)
			}

			if !noDownload {
				download, err := p.Confirm(fmt.Sprintf("Download SteamCMD to %s if missing?", filepath.Dir(cfg.SteamCMD.Path)), true)
				if err != nil {
					return err
				}
				if download {
					path, err := steamcmd.EnsureSteamCMD(cmd.Context(), cfg.SteamCMD.Path, cfg.SteamCMD.DownloadURL)
					if err != nil {
						return errs.E(errs.AdapterFailure, "init", "", err)
					}
					fmt.Fprintf(a.out, "SteamCMD ready at %s\n", path)
				}
			}

			cfg.Initialized = true
			if err := cfg.Validate(); err != nil {
				return errs.E(errs.InvalidRequest, "init", "", err)
			}
			if err := config.Save(cfg, cfg.Path()); err != nil {
				return errs.E(errs.FilesystemError, "init", "", err)
			}
			fmt.Fprintf(a.out, "Wrote %s\n", cfg.Path())
			return nil
		},
	}

	cmd.Flags().StringVar(&installDir, "install-dir", "", "directory that server installs go under")
	cmd.Flags().StringVar(&steamcmdPath, "steamcmd", "", "path to steamcmd.sh")
	cmd.Flags().BoolVar(&noDownload, "no-download", false, "do not download SteamCMD")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "run setup even if already initialized")
	return cmd
}
