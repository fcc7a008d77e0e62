package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/TheGojiOG/steamserv/internal/backup"
	"github.com/TheGojiOG/steamserv/internal/catalog"
	"github.com/TheGojiOG/steamserv/internal/config"
	"github.com/TheGojiOG/steamserv/internal/database"
	"github.com/TheGojiOG/steamserv/internal/errs"
	"github.com/TheGojiOG/steamserv/internal/lifecycle"
	"github.com/TheGojiOG/steamserv/internal/logging"
	"github.com/TheGojiOG/steamserv/internal/prompt"
	"github.com/TheGojiOG/steamserv/internal/registry"
	"github.com/TheGojiOG/steamserv/internal/steamcmd"
	"github.com/TheGojiOG/steamserv/internal/supervisor"
	"github.com/TheGojiOG/steamserv/internal/unit"
)

// app holds the components a command needs. Everything past the config is
// opened on first use so cheap commands stay cheap.
type app struct {
	configPath string
	verbose    bool

	stdin  *os.File
	out    io.Writer
	errOut io.Writer

	prompts  *prompt.Prompter
	cfg      *config.Config
	reg      *registry.Registry
	db       *database.DB
	activity *logging.ActivityLogger
	cat      *catalog.Catalog
	backups  *backup.Manager
	ctl      *lifecycle.Controller

	closers []func() error
}

func newApp(stdin *os.File, out, errOut io.Writer) *app {
	return &app{stdin: stdin, out: out, errOut: errOut}
}

// loadConfig reads the config file and starts file logging.
func (a *app) loadConfig() error {
	if a.cfg != nil {
		return nil
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return errs.E(errs.InvalidRequest, "config.load", "", err)
	}
	if a.verbose {
		cfg.Logging.Console = true
	}
	if _, err := logging.Init(cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	a.closers = append(a.closers, logging.Close)
	a.cfg = cfg
	return nil
}

// prompter is shared by every question one command asks; it buffers stdin.
func (a *app) prompter() *prompt.Prompter {
	if a.prompts == nil {
		a.prompts = prompt.New(a.stdin, a.out)
	}
	return a.prompts
}

// selectServer resolves the server a command targets from its argument or
// --server-name, asking on a terminal when neither names a managed server.
func (a *app) selectServer(op string, args []string, flag string, installedOnly bool) (string, error) {
	given := strings.TrimSpace(flag)
	if len(args) > 0 {
		given = args[0]
	}
	ctl, err := a.controller()
	if err != nil {
		return "", err
	}
	var names []string
	for rec := range ctl.List("", installedOnly) {
		names = append(names, rec.Name)
	}
	return a.prompter().SelectServer(op, given, names)
}

// registry opens the state file and repairs records left behind by
// interrupted operations. A corrupt state file is fatal.
func (a *app) registry() (*registry.Registry, error) {
	if a.reg != nil {
		return a.reg, nil
	}
	timeout, err := a.cfg.LockTimeout()
	if err != nil {
		return nil, errs.E(errs.InvalidRequest, "config.load", "", err)
	}
	reg, err := registry.Open(a.cfg.Storage.StateFile, registry.WithLockTimeout(timeout))
	if err != nil {
		return nil, err
	}

	changes, err := reg.Reconcile()
	if err != nil {
		if !errs.Is(err, errs.RegistryLocked) {
			return nil, err
		}
		log.Printf("[Registry] Skipping reconcile: %v", err)
	}
	activity, actErr := a.history()
	for _, c := range changes {
		fmt.Fprintf(a.errOut, "warning: %s was %s, now %s: %s\n", c.Name, c.From, c.To, c.Reason)
		if actErr == nil {
			if err := activity.LogOperation("", c.Name, logging.ActivityServerReconcile, c.Reason, nil, map[string]interface{}{
				"from": string(c.From),
				"to":   string(c.To),
			}); err != nil {
				log.Printf("[Registry] Failed to record reconcile of %s: %v", c.Name, err)
			}
		}
	}

	a.reg = reg
	return reg, nil
}

// history opens the history database and the activity log.
func (a *app) history() (*logging.ActivityLogger, error) {
	if a.activity != nil {
		return a.activity, nil
	}
	db, err := database.NewDB(a.cfg.Storage.HistoryDB)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	if err := db.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}
	a.db = db

	activity, err := logging.NewActivityLogger(db.DB, a.cfg.Storage.ActivityDir)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, activity.Close)
	a.activity = activity
	return activity, nil
}

func (a *app) catalog() (*catalog.Catalog, error) {
	if a.cat != nil {
		return a.cat, nil
	}
	ttl, err := a.cfg.CatalogTTL()
	if err != nil {
		return nil, errs.E(errs.InvalidRequest, "config.load", "", err)
	}
	cat, err := catalog.New(catalog.Options{
		CachePath:     a.cfg.Storage.CatalogCache,
		URL:           a.cfg.Catalog.URL,
		TTL:           ttl,
		DedicatedOnly: a.cfg.Catalog.DedicatedOnly,
	})
	if err != nil {
		return nil, err
	}
	a.cat = cat
	return cat, nil
}

func (a *app) backupManager() (*backup.Manager, error) {
	if a.backups != nil {
		return a.backups, nil
	}
	if _, err := a.history(); err != nil {
		return nil, err
	}
	dest, err := backup.NewDestination(backup.DestinationConfigFrom(a.cfg))
	if err != nil {
		return nil, errs.E(errs.InvalidRequest, "backup", "", err)
	}
	a.closers = append(a.closers, dest.Close)

	a.backups = backup.NewManager(a.db.DB, dest, backup.Options{
		WorkDir: filepath.Join(a.cfg.Storage.DataDir, "tmp"),
		Compression: backup.CompressionConfig{
			Type:  a.cfg.Backup.Compression,
			Level: a.cfg.Backup.CompressionLevel,
		},
		Exclude:   a.cfg.Backup.Exclude,
		Retention: a.cfg.Backup.Retention,
	})
	return a.backups, nil
}

// control picks the systemd control backend. D-Bus falls back to the
// systemctl binary when the bus is unreachable.
func (a *app) control() supervisor.Control {
	userMode := a.cfg.Supervisor.UserMode
	if a.cfg.Supervisor.Backend == "dbus" {
		ctl, err := supervisor.NewDBusControl(userMode)
		if err == nil {
			a.closers = append(a.closers, ctl.Close)
			return ctl
		}
		log.Printf("[Supervisor] D-Bus unavailable, using systemctl: %v", err)
	}
	return supervisor.NewSystemctlControl(supervisor.LocalExecutor{}, userMode)
}

// controller wires the lifecycle controller and everything under it.
func (a *app) controller() (*lifecycle.Controller, error) {
	if a.ctl != nil {
		return a.ctl, nil
	}
	reg, err := a.registry()
	if err != nil {
		return nil, err
	}
	activity, err := a.history()
	if err != nil {
		return nil, err
	}
	cat, err := a.catalog()
	if err != nil {
		return nil, err
	}
	backups, err := a.backupManager()
	if err != nil {
		return nil, err
	}

	sc := a.cfg.Supervisor
	a.ctl = lifecycle.New(lifecycle.Deps{
		Registry: reg,
		Catalog:  cat,
		Installer: &bootstrapInstaller{
			adapter:     steamcmd.NewAdapter(a.cfg.SteamCMD.Path, a.cfg.SteamCMD.DiagnosticLines),
			path:        a.cfg.SteamCMD.Path,
			downloadURL: a.cfg.SteamCMD.DownloadURL,
			enabled:     a.cfg.SteamCMD.AutoBootstrap,
		},
		Supervisor: supervisor.NewSystemd(sc.UnitDir, sc.Enable, a.control()),
		Units: unit.NewGenerator(unit.Options{
			User:     sc.User,
			Group:    sc.Group,
			Restart:  sc.Restart,
			UserMode: sc.UserMode,
		}),
		Activity:   activity,
		Backups:    backups,
		InstallDir: a.cfg.Storage.InstallDir,
		Out:        a.out,
	})
	return a.ctl, nil
}

// Close releases everything in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Printf("[steamserv] Close failed: %v", err)
		}
	}
	a.closers = nil
}

// bootstrapInstaller downloads SteamCMD the first time it is needed.
type bootstrapInstaller struct {
	adapter     *steamcmd.Adapter
	path        string
	downloadURL string
	enabled     bool
}

func (b *bootstrapInstaller) Install(ctx context.Context, req steamcmd.Request, out io.Writer) steamcmd.Result {
	if _, err := os.Stat(b.path); err != nil {
		if !b.enabled {
			return steamcmd.Result{ExitCode: -1, Diagnostic: fmt.Sprintf("steamcmd not found at %s; run steamserv init", b.path)}
		}
		fmt.Fprintf(out, "SteamCMD not found, downloading to %s\n", filepath.Dir(b.path))
		if _, err := steamcmd.EnsureSteamCMD(ctx, b.path, b.downloadURL); err != nil {
			return steamcmd.Result{ExitCode: -1, Diagnostic: err.Error()}
		}
	}
	return b.adapter.Install(ctx, req, out)
}
