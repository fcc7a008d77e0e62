package lifecycle

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/TheGojiOG/steamserv/internal/errs"
	"github.com/TheGojiOG/steamserv/internal/logging"
	"github.com/TheGojiOG/steamserv/internal/models"
	"github.com/TheGojiOG/steamserv/internal/steamcmd"
)

// InstallRequest is a fully resolved install, whether it came from flags or
// prompts.
type InstallRequest struct {
	AppID int
	// Title is resolved through the catalog when AppID is zero.
	Title      string
	Name       string
	Username   string
	Password   string
	InstallDir string
	AutoUpdate bool
	Port       int
	// LaunchCommand overrides the catalog's default start command.
	LaunchCommand string
	// SkipValidate drops SteamCMD's file verification pass.
	SkipValidate bool
}

// UpdateRequest names the server to update. Password is only needed for
// titles that require a Steam account.
type UpdateRequest struct {
	Name         string
	Password     string
	SkipValidate bool
}

// Install resolves the title, claims the name in the registry, runs SteamCMD
// and installs the unit file. A failed attempt leaves a Failed record that
// the same request can retry.
func (c *Controller) Install(ctx context.Context, req InstallRequest) (models.ServerRecord, error) {
	opID := newOperationID()
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return models.ServerRecord{}, errs.Ef(errs.InvalidRequest, "install", "", "server name is required")
	}

	app, err := c.resolveApp(req)
	if err != nil {
		return models.ServerRecord{}, errs.Wrap(err, errs.InvalidRequest, "install", name)
	}

	path, err := c.installPathFor(name, req.InstallDir)
	if err != nil {
		return models.ServerRecord{}, err
	}

	launch := strings.TrimSpace(req.LaunchCommand)
	if launch == "" {
		launch = app.Launch
	}
	candidate := models.ServerRecord{
		Name:          name,
		AppID:         app.AppID,
		AppName:       app.Name,
		InstallPath:   path,
		OwnerUsername: strings.TrimSpace(req.Username),
		AutoUpdate:    req.AutoUpdate,
		Port:          req.Port,
		LaunchCommand: launch,
		Operation:     &models.OperationLease{ID: opID, Action: "install"},
	}
	if models.IsAnonymous(candidate.OwnerUsername) {
		candidate.OwnerUsername = "anonymous"
	}

	rec, err := c.reg.Insert(candidate)
	if errs.Is(err, errs.NameConflict) {
		rec, err = c.reg.Retry(candidate)
	}
	if err != nil {
		c.record(opID, name, logging.ActivityServerInstall, "Install rejected", err, map[string]interface{}{"app_id": app.AppID})
		return models.ServerRecord{}, err
	}

	log.Printf("[Lifecycle] Installing %s (app %d) into %s [op %s]", name, rec.AppID, rec.InstallPath, opID)
	c.printf("Installing %s (app %d) into %s", rec.DisplayName(), rec.AppID, rec.InstallPath)

	res := c.installer.Install(ctx, steamcmd.Request{
		AppID:    rec.AppID,
		Dir:      rec.InstallPath,
		Username: rec.OwnerUsername,
		Password: req.Password,
		Validate: !req.SkipValidate,
	}, c.out)

	if !res.Success {
		failure := errs.Ef(errs.AdapterFailure, "install", name, "steamcmd failed").WithDetail(diagnosticSummary(res))
		c.markFailed(opID, name, res.Diagnostic)
		c.record(opID, name, logging.ActivityServerInstall, "Install failed", failure, map[string]interface{}{
			"app_id":    rec.AppID,
			"exit_code": res.ExitCode,
		})
		return models.ServerRecord{}, failure
	}

	rec, err = c.transition(opID, name, models.StatusInstalled, res.Path)
	if err != nil {
		c.record(opID, name, logging.ActivityServerInstall, "Install finished but registry update failed", err, nil)
		return models.ServerRecord{}, err
	}

	if err := c.installUnit(ctx, rec); err != nil {
		c.record(opID, name, logging.ActivityServerInstall, "Installed without unit file", err, nil)
		return rec, err
	}

	c.record(opID, name, logging.ActivityServerInstall, "Installed "+rec.DisplayName(), nil, map[string]interface{}{
		"app_id":       rec.AppID,
		"install_path": rec.InstallPath,
		"unit":         rec.UnitName,
	})
	return rec, nil
}

// resolveApp maps the request to catalog metadata. An app id the catalog
// does not know is still installable; SteamCMD has the final word.
func (c *Controller) resolveApp(req InstallRequest) (models.AppInfo, error) {
	if req.AppID <= 0 && strings.TrimSpace(req.Title) == "" {
		return models.AppInfo{}, errs.Ef(errs.InvalidRequest, "install", req.Name, "an app id or title is required")
	}
	if c.catalog == nil {
		if req.AppID <= 0 {
			return models.AppInfo{}, errs.Ef(errs.InvalidRequest, "install", req.Name, "no catalog to resolve %q", req.Title)
		}
		return models.AppInfo{AppID: req.AppID, Anonymous: true}, nil
	}
	if req.AppID <= 0 {
		return c.catalog.Resolve(req.Title)
	}

	app, err := c.catalog.Lookup(req.AppID)
	if errs.Is(err, errs.NotFound) {
		log.Printf("[Lifecycle] App %d is not in the catalog, installing anyway", req.AppID)
		return models.AppInfo{AppID: req.AppID, Anonymous: true}, nil
	}
	return app, err
}

// markFailed stores the diagnostic and moves the record to Failed.
func (c *Controller) markFailed(opID, name, diagnostic string) {
	if _, err := c.reg.Modify(name, func(rec *models.ServerRecord) error {
		rec.LastError = diagnostic
		return nil
	}); err != nil {
		log.Printf("[Lifecycle] Failed to store diagnostic for %s: %v", name, err)
	}
	if _, err := c.transition(opID, name, models.StatusFailed); err != nil {
		log.Printf("[Lifecycle] Failed to mark %s failed: %v", name, err)
	}
}

func diagnosticSummary(res steamcmd.Result) string {
	diag := strings.TrimSpace(res.Diagnostic)
	if diag == "" {
		return "no output"
	}
	return diag
}

// Update runs SteamCMD against an installed server's directory. A running
// server is stopped first and started again afterwards, whatever the outcome.
func (c *Controller) Update(ctx context.Context, req UpdateRequest) (models.ServerRecord, error) {
	opID := newOperationID()
	name := req.Name

	rec, err := c.reg.Get(name)
	if err != nil {
		return models.ServerRecord{}, err
	}
	if !rec.Status.IsInstalled() {
		return models.ServerRecord{}, c.busyOrInvalid("update", rec)
	}

	wasRunning := rec.Status == models.StatusRunning
	if wasRunning {
		c.printf("Stopping %s for the update", name)
		if err := c.sup.Stop(ctx, rec.UnitName); err != nil {
			err = errs.Wrap(err, errs.SupervisorFailure, "update", name)
			c.record(opID, name, logging.ActivityServerUpdate, "Could not stop server for update", err, nil)
			return rec, err
		}
	}

	// From here on the unit is down if it was running; every outcome goes
	// through the restart below.
	rec, res, opErr := c.runUpdate(ctx, opID, rec, req, wasRunning)

	if res.Ran {
		// Unit text is deterministic, so rewriting it is safe either way.
		if err := c.installUnit(ctx, rec); err != nil {
			log.Printf("[Lifecycle] Failed to regenerate unit for %s: %v", name, err)
			opErr = errors.Join(opErr, err)
		}
	}

	if wasRunning {
		rec, err = c.restoreRunning(ctx, opID, rec)
		opErr = errors.Join(opErr, err)
	}

	description := "Updated " + rec.DisplayName()
	if opErr != nil {
		description = "Update failed"
	}
	c.record(opID, name, logging.ActivityServerUpdate, description, opErr, map[string]interface{}{
		"app_id":      rec.AppID,
		"was_running": wasRunning,
		"exit_code":   res.ExitCode,
	})
	return rec, opErr
}

// updateRun is what runUpdate reports about the SteamCMD step.
type updateRun struct {
	Ran      bool
	ExitCode int
}

// runUpdate moves the record through Updating and runs SteamCMD. The
// returned record is always the best known state of name, never a zero value.
func (c *Controller) runUpdate(ctx context.Context, opID string, rec models.ServerRecord, req UpdateRequest, wasRunning bool) (models.ServerRecord, updateRun, error) {
	name := rec.Name

	if wasRunning {
		next, err := c.transition(opID, name, models.StatusStopped)
		if err != nil {
			return rec, updateRun{}, err
		}
		rec = next
	}

	next, err := c.transition(opID, name, models.StatusUpdating)
	if err != nil {
		return rec, updateRun{}, err
	}
	rec = next

	log.Printf("[Lifecycle] Updating %s (app %d) [op %s]", name, rec.AppID, opID)
	c.printf("Updating %s (app %d) in %s", rec.DisplayName(), rec.AppID, rec.InstallPath)

	res := c.installer.Install(ctx, steamcmd.Request{
		AppID:    rec.AppID,
		Dir:      rec.InstallPath,
		Username: rec.OwnerUsername,
		Password: req.Password,
		Validate: !req.SkipValidate,
	}, c.out)
	run := updateRun{Ran: true, ExitCode: res.ExitCode}

	if !res.Success {
		failure := errs.Ef(errs.AdapterFailure, "update", name, "steamcmd failed").WithDetail(diagnosticSummary(res))
		c.markFailed(opID, name, res.Diagnostic)
		return c.current(rec), run, failure
	}

	next, err = c.transition(opID, name, models.StatusInstalled)
	if err != nil {
		// Left alone the record would stay Updating under this process's
		// lease, which a long-running scheduler never gives up.
		c.markFailed(opID, name, "update finished but the registry was not updated: "+err.Error())
		return c.current(rec), run, err
	}
	return next, run, nil
}

// restoreRunning starts the unit again after an update and, when the record
// came out of the update usable, marks it Running.
func (c *Controller) restoreRunning(ctx context.Context, opID string, rec models.ServerRecord) (models.ServerRecord, error) {
	c.printf("Starting %s again", rec.Name)
	if err := c.sup.Start(ctx, rec.UnitName); err != nil {
		return rec, errs.Wrap(err, errs.SupervisorFailure, "update", rec.Name)
	}
	switch rec.Status {
	case models.StatusInstalled, models.StatusStopped:
		started, err := c.transition(opID, rec.Name, models.StatusRunning)
		if err != nil {
			return rec, err
		}
		return started, nil
	}
	return rec, nil
}

// current re-reads name, falling back to rec when the registry cannot be read.
func (c *Controller) current(rec models.ServerRecord) models.ServerRecord {
	if latest, err := c.reg.Get(rec.Name); err == nil {
		return latest
	}
	return rec
}

// UpdateAll updates every installed server with auto_update set. Failures
// are collected; one server failing does not stop the rest.
func (c *Controller) UpdateAll(ctx context.Context, password string) ([]string, error) {
	var names []string
	for rec := range c.reg.List("", true) {
		if rec.AutoUpdate {
			names = append(names, rec.Name)
		}
	}

	var updated []string
	var errList []error
	for _, name := range names {
		if ctx.Err() != nil {
			errList = append(errList, ctx.Err())
			break
		}
		if _, err := c.Update(ctx, UpdateRequest{Name: name, Password: password}); err != nil {
			log.Printf("[Lifecycle] Auto-update of %s failed: %v", name, err)
			errList = append(errList, err)
			continue
		}
		updated = append(updated, name)
	}
	return updated, errors.Join(errList...)
}
