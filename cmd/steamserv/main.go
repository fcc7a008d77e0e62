// Command steamserv installs, updates and runs Steam dedicated servers as
// systemd units on the local machine.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TheGojiOG/steamserv/internal/errs"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

// Exit codes.
const (
	exitOK             = 0
	exitError          = 1
	exitInvalidRequest = 2
	exitLocked         = 3
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin *os.File, stdout, stderr io.Writer) int {
	a := newApp(stdin, stdout, stderr)
	defer a.Close()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, formatError(err))
		return exitCode(err)
	}
	return exitOK
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "steamserv",
		Short: "Manage Steam dedicated servers on this machine",
		Long: `steamserv installs and updates dedicated servers with SteamCMD, keeps a
registry of what is installed, and runs each server as a systemd unit.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig()
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default: $STEAMSERV_CONFIG or the standard locations)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "mirror log output to stderr")

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return errs.E(errs.InvalidRequest, cmd.Name(), "", err)
	})

	root.AddCommand(
		installCmd(a),
		updateCmd(a),
		uninstallCmd(a),
		listCmd(a),
		startCmd(a),
		stopCmd(a),
		restartCmd(a),
		initCmd(a),
		catalogCmd(a),
		unitCmd(a),
		backupCmd(a),
		historyCmd(a),
		schedulerCmd(a),
		configCmd(a),
		versionCmd(),
	)
	return root
}

// formatError renders err for the terminal as
// "error: <op> <server>: <Kind>: <detail>".
func formatError(err error) string {
	return "error: " + err.Error()
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errs.Is(err, errs.RegistryLocked):
		return exitLocked
	case errs.Is(err, errs.InvalidRequest):
		return exitInvalidRequest
	default:
		return exitError
	}
}

// exactArgs is cobra.ExactArgs with the usage error classified as an invalid
// request.
func exactArgs(n int, what string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return errs.Ef(errs.InvalidRequest, cmd.Name(), "", "expected %s, got %d argument(s)", what, len(args))
		}
		return nil
	}
}

func maxArgs(n int, what string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) > n {
			return errs.Ef(errs.InvalidRequest, cmd.Name(), "", "expected at most %s, got %d argument(s)", what, len(args))
		}
		return nil
	}
}

// serverArgs accepts one optional server name. With neither it nor
// --server-name, the server is picked interactively, so off a terminal
// that is a usage error. skip, when set, makes the name unnecessary.
func serverArgs(a *app, flag *string, skip *bool) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) > 1 {
			return errs.Ef(errs.InvalidRequest, cmd.Name(), "", "expected at most one server name, got %d argument(s)", len(args))
		}
		name := strings.TrimSpace(*flag)
		if len(args) == 1 && name != "" && name != args[0] {
			return errs.Ef(errs.InvalidRequest, cmd.Name(), args[0], "--server-name %q does not match the argument", name)
		}
		if len(args) == 0 && name == "" && (skip == nil || !*skip) && !a.prompter().Interactive() {
			return errs.Ef(errs.InvalidRequest, cmd.Name(), "", "a server name or --server-name is required when not running on a terminal")
		}
		return nil
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  exactArgs(0, "no arguments"),
		// Skip config loading.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "steamserv %s (%s)\n", version, commit)
		},
	}
}
