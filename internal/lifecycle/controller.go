// Package lifecycle orchestrates install, update, uninstall and run-state
// changes across the registry, SteamCMD and systemd.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/TheGojiOG/steamserv/internal/errs"
	"github.com/TheGojiOG/steamserv/internal/logging"
	"github.com/TheGojiOG/steamserv/internal/models"
	"github.com/TheGojiOG/steamserv/internal/registry"
	"github.com/TheGojiOG/steamserv/internal/steamcmd"
	"github.com/TheGojiOG/steamserv/internal/supervisor"
	"github.com/TheGojiOG/steamserv/internal/unit"
)

// Catalog is the subset of the catalog the controller needs.
type Catalog interface {
	Lookup(appID int) (models.AppInfo, error)
	Resolve(query string) (models.AppInfo, error)
	Search(query string, limit int) []models.AppInfo
}

// Archiver takes and restores backups of a server's install directory.
type Archiver interface {
	Create(ctx context.Context, server, sourceDir string) (*models.Backup, error)
	Restore(ctx context.Context, id, targetDir string) (*models.Backup, error)
}

// Deps wires a Controller.
type Deps struct {
	Registry   *registry.Registry
	Catalog    Catalog
	Installer  steamcmd.Installer
	Supervisor supervisor.Supervisor
	Units      *unit.Generator
	Activity   *logging.ActivityLogger
	Backups    Archiver
	// InstallDir is where servers go unless a request overrides it.
	InstallDir string
	// Out receives operator-facing progress, including SteamCMD output.
	Out io.Writer
}

// Controller runs lifecycle operations. It is not safe for concurrent use;
// separate processes coordinate through the registry lock.
type Controller struct {
	reg        *registry.Registry
	catalog    Catalog
	installer  steamcmd.Installer
	sup        supervisor.Supervisor
	units      *unit.Generator
	activity   *logging.ActivityLogger
	backups    Archiver
	installDir string
	out        io.Writer
}

// New creates a controller.
func New(d Deps) *Controller {
	out := d.Out
	if out == nil {
		out = io.Discard
	}
	units := d.Units
	if units == nil {
		units = unit.NewGenerator(unit.Options{})
	}
	return &Controller{
		reg:        d.Registry,
		catalog:    d.Catalog,
		installer:  d.Installer,
		sup:        d.Supervisor,
		units:      units,
		activity:   d.Activity,
		backups:    d.Backups,
		installDir: d.InstallDir,
		out:        out,
	}
}

// Outcome reports what a run-state operation did.
type Outcome struct {
	Server models.ServerRecord
	// Noop is set when the server was already in the requested state.
	Noop bool
}

// List is a read-through to the registry.
func (c *Controller) List(filter string, installedOnly bool) iter.Seq[models.ServerRecord] {
	return c.reg.List(filter, installedOnly)
}

// ListAvailable returns catalog titles matching filter.
func (c *Controller) ListAvailable(filter string) []models.AppInfo {
	if c.catalog == nil {
		return nil
	}
	return c.catalog.Search(filter, 0)
}

func newOperationID() string {
	return uuid.NewString()
}

func (c *Controller) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.out, format+"\n", args...)
}

// transition moves a record and records the status change in the history.
func (c *Controller) transition(opID, name string, to models.Status, installPath ...string) (models.ServerRecord, error) {
	before, err := c.reg.Get(name)
	if err != nil {
		return before, err
	}
	rec, err := c.reg.UpdateStatus(name, to, installPath...)
	if err != nil {
		return rec, err
	}
	if logErr := c.activity.LogStatusChange(opID, name, string(before.Status), string(to)); logErr != nil {
		log.Printf("[Lifecycle] Failed to record status change for %s: %v", name, logErr)
	}
	return rec, nil
}

func (c *Controller) record(opID, server, activityType, description string, opErr error, metadata map[string]interface{}) {
	if logErr := c.activity.LogOperation(opID, server, activityType, description, opErr, metadata); logErr != nil {
		log.Printf("[Lifecycle] Failed to record %s for %s: %v", activityType, server, logErr)
	}
}

// installUnit renders rec's unit and hands it to the supervisor.
func (c *Controller) installUnit(ctx context.Context, rec models.ServerRecord) error {
	content, err := c.units.Render(rec)
	if err != nil {
		return errs.E(errs.InvalidRequest, "unit.render", rec.Name, err)
	}
	if err := c.sup.InstallUnit(ctx, rec.UnitName, content); err != nil {
		return errs.Wrap(err, errs.SupervisorFailure, "unit.install", rec.Name)
	}
	return nil
}

// ensureUnit writes the unit file if the supervisor has none for rec.
func (c *Controller) ensureUnit(ctx context.Context, rec models.ServerRecord) error {
	if _, err := os.Stat(c.sup.UnitPath(rec.UnitName)); err == nil {
		return nil
	}
	log.Printf("[Lifecycle] Unit file for %s missing, regenerating", rec.Name)
	return c.installUnit(ctx, rec)
}

// busyOrInvalid classifies a record that cannot take part in op.
func (c *Controller) busyOrInvalid(op string, rec models.ServerRecord) error {
	switch {
	case rec.Status == models.StatusUpdating,
		rec.Status == models.StatusPending && c.reg.LeaseActive(rec):
		return errs.Ef(errs.ServerBusy, op, rec.Name, "server is %s", rec.Status)
	default:
		return errs.Ef(errs.InvalidTransition, op, rec.Name, "not allowed while %s", rec.Status)
	}
}

// installPathFor returns the absolute directory a new server goes into.
func (c *Controller) installPathFor(name, override string) (string, error) {
	dir := override
	if dir == "" {
		dir = c.installDir
	}
	if dir == "" {
		return "", errs.Ef(errs.InvalidRequest, "install", name, "no install directory configured")
	}
	abs, err := filepath.Abs(filepath.Join(dir, name))
	if err != nil {
		return "", errs.E(errs.InvalidRequest, "install", name, err)
	}
	return abs, nil
}

// removeInstallTree deletes a server's files, refusing obviously wrong targets.
func (c *Controller) removeInstallTree(name, path string) error {
	clean := filepath.Clean(path)
	if !filepath.IsAbs(clean) || clean == string(filepath.Separator) || clean == filepath.Clean(c.installDir) {
		return errs.Ef(errs.FilesystemError, "uninstall", name, "refusing to remove %q", path)
	}
	if err := os.RemoveAll(clean); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errs.E(errs.FilesystemError, "uninstall", name, fmt.Errorf("failed to remove %s: %w", clean, err))
	}
	return nil
}
