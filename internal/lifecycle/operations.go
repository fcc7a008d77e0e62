package lifecycle

import (
	"context"
	"errors"
	"log"
	"os"

	"github.com/TheGojiOG/steamserv/internal/errs"
	"github.com/TheGojiOG/steamserv/internal/logging"
	"github.com/TheGojiOG/steamserv/internal/models"
)

// UninstallOptions tunes Uninstall.
type UninstallOptions struct {
	// Backup archives the install directory before anything is removed.
	Backup bool
	// KeepFiles leaves the install directory on disk.
	KeepFiles bool
}

// Uninstall removes a stopped server's files and unit, then its record.
// A filesystem error leaves the record in place.
func (c *Controller) Uninstall(ctx context.Context, name string, opts UninstallOptions) (models.ServerRecord, error) {
	opID := newOperationID()

	rec, err := c.reg.Get(name)
	if err != nil {
		return models.ServerRecord{}, err
	}

	switch rec.Status {
	case models.StatusRunning:
		return rec, errs.Ef(errs.ServerBusy, "uninstall", name, "server is running; stop it first")
	case models.StatusInstalled, models.StatusStopped, models.StatusFailed:
	case models.StatusPending:
		if c.reg.LeaseActive(rec) {
			return rec, c.busyOrInvalid("uninstall", rec)
		}
		// Abandoned install: settle it as Failed so it can be removed.
		if rec, err = c.transition(opID, name, models.StatusFailed); err != nil {
			return rec, err
		}
	default:
		return rec, c.busyOrInvalid("uninstall", rec)
	}

	if opts.Backup && rec.InstallPath != "" {
		if _, err := c.Backup(ctx, name); err != nil {
			c.record(opID, name, logging.ActivityServerUninstall, "Pre-uninstall backup failed", err, nil)
			return rec, err
		}
	}

	if rec.Status == models.StatusFailed {
		// A failed update may have left the unit running.
		if _, err := os.Stat(c.sup.UnitPath(rec.UnitName)); err == nil {
			if err := c.sup.Stop(ctx, rec.UnitName); err != nil {
				log.Printf("[Lifecycle] Warning: failed to stop %s before uninstall: %v", name, err)
			}
		}
	}

	if rec.InstallPath != "" && !opts.KeepFiles {
		c.printf("Removing %s", rec.InstallPath)
		if err := c.removeInstallTree(name, rec.InstallPath); err != nil {
			c.record(opID, name, logging.ActivityServerUninstall, "Uninstall aborted", err, nil)
			return rec, err
		}
	}

	if err := c.sup.RemoveUnit(ctx, rec.UnitName); err != nil {
		err = errs.Wrap(err, errs.SupervisorFailure, "uninstall", name)
		c.record(opID, name, logging.ActivityServerUninstall, "Uninstall aborted", err, nil)
		return rec, err
	}

	removed, err := c.reg.Remove(name)
	if err != nil {
		c.record(opID, name, logging.ActivityServerUninstall, "Uninstall aborted", err, nil)
		return rec, err
	}
	if logErr := c.activity.LogStatusChange(opID, name, string(rec.Status), string(models.StatusUninstalled)); logErr != nil {
		log.Printf("[Lifecycle] Failed to record status change for %s: %v", name, logErr)
	}

	c.record(opID, name, logging.ActivityServerUninstall, "Uninstalled "+removed.DisplayName(), nil, map[string]interface{}{
		"app_id":     removed.AppID,
		"kept_files": opts.KeepFiles,
	})
	return removed, nil
}

// Start starts the server's unit. Starting a running server is a no-op.
func (c *Controller) Start(ctx context.Context, name string) (Outcome, error) {
	opID := newOperationID()

	rec, err := c.reg.Get(name)
	if err != nil {
		return Outcome{}, err
	}
	switch rec.Status {
	case models.StatusRunning:
		return Outcome{Server: rec, Noop: true}, nil
	case models.StatusInstalled, models.StatusStopped:
	default:
		return Outcome{Server: rec}, c.busyOrInvalid("start", rec)
	}

	rec, err = c.start(ctx, opID, rec)
	c.record(opID, name, logging.ActivityServerStart, "Start "+name, err, nil)
	if err != nil {
		return Outcome{Server: rec}, err
	}
	return Outcome{Server: rec}, nil
}

func (c *Controller) start(ctx context.Context, opID string, rec models.ServerRecord) (models.ServerRecord, error) {
	if err := c.ensureUnit(ctx, rec); err != nil {
		return rec, err
	}
	if err := c.sup.Start(ctx, rec.UnitName); err != nil {
		return rec, errs.Wrap(err, errs.SupervisorFailure, "start", rec.Name)
	}
	return c.transition(opID, rec.Name, models.StatusRunning)
}

// Stop stops a running server. Stopping a server that is not running is a
// no-op.
func (c *Controller) Stop(ctx context.Context, name string) (Outcome, error) {
	opID := newOperationID()

	rec, err := c.reg.Get(name)
	if err != nil {
		return Outcome{}, err
	}
	switch rec.Status {
	case models.StatusStopped, models.StatusInstalled:
		return Outcome{Server: rec, Noop: true}, nil
	case models.StatusRunning:
	default:
		return Outcome{Server: rec}, c.busyOrInvalid("stop", rec)
	}

	if err := c.sup.Stop(ctx, rec.UnitName); err != nil {
		err = errs.Wrap(err, errs.SupervisorFailure, "stop", name)
		c.record(opID, name, logging.ActivityServerStop, "Stop "+name, err, nil)
		return Outcome{Server: rec}, err
	}
	rec, err = c.transition(opID, name, models.StatusStopped)
	c.record(opID, name, logging.ActivityServerStop, "Stop "+name, err, nil)
	return Outcome{Server: rec}, err
}

// Restart restarts a running server, or starts one that is not running.
func (c *Controller) Restart(ctx context.Context, name string) (Outcome, error) {
	opID := newOperationID()

	rec, err := c.reg.Get(name)
	if err != nil {
		return Outcome{}, err
	}
	switch rec.Status {
	case models.StatusRunning:
		if err := c.ensureUnit(ctx, rec); err != nil {
			return Outcome{Server: rec}, err
		}
		if err := c.sup.Restart(ctx, rec.UnitName); err != nil {
			err = errs.Wrap(err, errs.SupervisorFailure, "restart", name)
			c.record(opID, name, logging.ActivityServerRestart, "Restart "+name, err, nil)
			return Outcome{Server: rec}, err
		}
	case models.StatusInstalled, models.StatusStopped:
		rec, err = c.start(ctx, opID, rec)
		if err != nil {
			c.record(opID, name, logging.ActivityServerRestart, "Restart "+name, err, nil)
			return Outcome{Server: rec}, err
		}
	default:
		return Outcome{Server: rec}, c.busyOrInvalid("restart", rec)
	}

	c.record(opID, name, logging.ActivityServerRestart, "Restart "+name, nil, nil)
	return Outcome{Server: rec}, nil
}

// RegenerateUnit rewrites the unit file for an installed server and returns
// its path.
func (c *Controller) RegenerateUnit(ctx context.Context, name string) (string, error) {
	opID := newOperationID()

	rec, err := c.reg.Get(name)
	if err != nil {
		return "", err
	}
	if !rec.Status.IsInstalled() {
		return "", c.busyOrInvalid("unit.regenerate", rec)
	}

	err = c.installUnit(ctx, rec)
	c.record(opID, name, logging.ActivityUnitRegenerate, "Regenerated unit "+rec.UnitName, err, nil)
	if err != nil {
		return "", err
	}
	return c.sup.UnitPath(rec.UnitName), nil
}

// RenderUnit returns the unit text for a server without writing it.
func (c *Controller) RenderUnit(name string) ([]byte, error) {
	rec, err := c.reg.Get(name)
	if err != nil {
		return nil, err
	}
	content, err := c.units.Render(rec)
	if err != nil {
		return nil, errs.E(errs.InvalidRequest, "unit.render", name, err)
	}
	return content, nil
}

// UnitState asks the supervisor for the unit's live ActiveState.
func (c *Controller) UnitState(ctx context.Context, name string) (string, error) {
	rec, err := c.reg.Get(name)
	if err != nil {
		return "", err
	}
	return c.sup.ActiveState(ctx, rec.UnitName)
}

// Backup archives a server's install directory.
func (c *Controller) Backup(ctx context.Context, name string) (*models.Backup, error) {
	opID := newOperationID()

	if c.backups == nil {
		return nil, errs.Ef(errs.InvalidRequest, "backup", name, "backups are not configured")
	}
	rec, err := c.reg.Get(name)
	if err != nil {
		return nil, err
	}
	if rec.Status == models.StatusUpdating || rec.Status == models.StatusPending {
		return nil, c.busyOrInvalid("backup", rec)
	}
	if rec.InstallPath == "" {
		return nil, errs.Ef(errs.InvalidTransition, "backup", name, "server has no install directory")
	}
	if _, err := os.Stat(rec.InstallPath); err != nil {
		return nil, errs.E(errs.FilesystemError, "backup", name, err)
	}

	c.printf("Backing up %s", rec.InstallPath)
	b, err := c.backups.Create(ctx, name, rec.InstallPath)
	if err != nil {
		var kindErr *errs.Error
		if !errors.As(err, &kindErr) {
			err = errs.E(errs.FilesystemError, "backup", name, err)
		}
		c.record(opID, name, logging.ActivityServerBackup, "Backup failed", err, nil)
		return nil, err
	}

	c.record(opID, name, logging.ActivityServerBackup, "Backup "+b.Filename, nil, map[string]interface{}{
		"backup_id":   b.ID,
		"size":        b.Size,
		"destination": b.Destination,
	})
	return b, nil
}

// Restore unpacks backup id over a stopped server's install directory.
func (c *Controller) Restore(ctx context.Context, name, id string) (*models.Backup, error) {
	opID := newOperationID()

	if c.backups == nil {
		return nil, errs.Ef(errs.InvalidRequest, "restore", name, "backups are not configured")
	}
	rec, err := c.reg.Get(name)
	if err != nil {
		return nil, err
	}
	switch rec.Status {
	case models.StatusInstalled, models.StatusStopped, models.StatusFailed:
	case models.StatusRunning:
		return nil, errs.Ef(errs.ServerBusy, "restore", name, "server is running; stop it first")
	default:
		return nil, c.busyOrInvalid("restore", rec)
	}
	if rec.InstallPath == "" {
		return nil, errs.Ef(errs.InvalidTransition, "restore", name, "server has no install directory")
	}

	c.printf("Restoring backup %s into %s", id, rec.InstallPath)
	b, err := c.backups.Restore(ctx, id, rec.InstallPath)
	if err == nil && b.Server != name {
		log.Printf("[Lifecycle] Restored backup of %s into %s", b.Server, name)
	}
	if err != nil {
		var kindErr *errs.Error
		if !errors.As(err, &kindErr) {
			err = errs.E(errs.FilesystemError, "restore", name, err)
		}
		c.record(opID, name, logging.ActivityServerRestore, "Restore failed", err, map[string]interface{}{"backup_id": id})
		return nil, err
	}

	c.record(opID, name, logging.ActivityServerRestore, "Restored "+b.Filename, nil, map[string]interface{}{
		"backup_id": b.ID,
		"source":    b.Server,
	})
	return b, nil
}
