package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func unitCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unit",
		Short: "Inspect or rewrite a server's systemd unit",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show <name>",
			Short: "Print the unit file a server would get",
			Args:  exactArgs(1, "a server name"),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctl, err := a.controller()
				if err != nil {
					return err
				}
				content, err := ctl.RenderUnit(args[0])
				if err != nil {
					return err
				}
				_, err = a.out.Write(content)
				return err
			},
		},
		&cobra.Command{
			Use:   "regenerate <name>",
			Short: "Rewrite the unit file and reload systemd",
			Args:  exactArgs(1, "a server name"),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctl, err := a.controller()
				if err != nil {
					return err
				}
				path, err := ctl.RegenerateUnit(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Wrote %s\n", path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "status <name>",
			Short: "Show systemd's view of the server",
			Args:  exactArgs(1, "a server name"),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctl, err := a.controller()
				if err != nil {
					return err
				}
				rec, err := a.reg.Get(args[0])
				if err != nil {
					return err
				}
				state, err := ctl.UnitState(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s: registry %s, unit %s is %s\n", rec.Name, rec.Status, rec.UnitName, state)
				return nil
			},
		},
	)
	return cmd
}
