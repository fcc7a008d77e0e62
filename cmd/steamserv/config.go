package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/TheGojiOG/steamserv/internal/config"
)

const redacted = "********"

func configCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	var asJSON bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  exactArgs(0, "no arguments"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := redactConfig(a.cfg)
			source := a.cfg.Path()
			if !a.cfg.Loaded() {
				source += " (not found, using defaults)"
			}
			if asJSON {
				return writeJSON(a.out, cfg)
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			fmt.Fprintf(a.out, "# %s\n", source)
			_, err = a.out.Write(data)
			return err
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	cmd.AddCommand(show)
	return cmd
}

// redactConfig returns a copy with credentials masked.
func redactConfig(cfg *config.Config) config.Config {
	out := *cfg
	out.Backup.Exclude = append([]string(nil), cfg.Backup.Exclude...)
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&out.Backup.S3.AccessKey)
	mask(&out.Backup.S3.SecretKey)
	mask(&out.Backup.SFTP.Password)
	return out
}
