// Package supervisor writes unit files and drives systemd for managed servers.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/TheGojiOG/steamserv/internal/errs"
)

// Supervisor is the process-supervisor boundary used by the lifecycle
// controller.
type Supervisor interface {
	InstallUnit(ctx context.Context, unitName string, content []byte) error
	RemoveUnit(ctx context.Context, unitName string) error
	Start(ctx context.Context, unitName string) error
	Stop(ctx context.Context, unitName string) error
	Restart(ctx context.Context, unitName string) error
	ActiveState(ctx context.Context, unitName string) (string, error)
	UnitPath(unitName string) string
}

// Control is systemd's control interface, reached over D-Bus or systemctl.
type Control interface {
	Reload(ctx context.Context) error
	Enable(ctx context.Context, unitName string) error
	Disable(ctx context.Context, unitName string) error
	Start(ctx context.Context, unitName string) error
	Stop(ctx context.Context, unitName string) error
	Restart(ctx context.Context, unitName string) error
	ActiveState(ctx context.Context, unitName string) (string, error)
}

// Systemd implements Supervisor on top of a unit directory and a Control.
type Systemd struct {
	unitDir string
	enable  bool
	ctl     Control
}

// NewSystemd creates a supervisor writing units to unitDir. When enable is
// set, installed units are enabled so servers come back after a reboot.
func NewSystemd(unitDir string, enable bool, ctl Control) *Systemd {
	return &Systemd{unitDir: unitDir, enable: enable, ctl: ctl}
}

// UnitPath returns where the unit file for unitName lives.
func (s *Systemd) UnitPath(unitName string) string {
	return filepath.Join(s.unitDir, unitName)
}

// InstallUnit writes the unit file, reloads systemd and optionally enables it.
// Rewriting identical content is harmless.
func (s *Systemd) InstallUnit(ctx context.Context, unitName string, content []byte) error {
	path := s.UnitPath(unitName)
	if err := writeFileAtomic(path, content, 0644); err != nil {
		return errs.E(errs.FilesystemError, "unit.write", "", err)
	}
	log.Printf("[Supervisor] Wrote unit file %s", path)

	if err := s.ctl.Reload(ctx); err != nil {
		return errs.E(errs.SupervisorFailure, "unit.reload", "", err)
	}
	if s.enable {
		if err := s.ctl.Enable(ctx, unitName); err != nil {
			return errs.E(errs.SupervisorFailure, "unit.enable", "", err)
		}
	}
	return nil
}

// RemoveUnit disables and deletes the unit file. A missing file is not an
// error.
func (s *Systemd) RemoveUnit(ctx context.Context, unitName string) error {
	path := s.UnitPath(unitName)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err := s.ctl.Disable(ctx, unitName); err != nil {
		log.Printf("[Supervisor] Warning: failed to disable %s: %v", unitName, err)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errs.E(errs.FilesystemError, "unit.remove", "", fmt.Errorf("failed to remove unit file: %w", err))
	}
	log.Printf("[Supervisor] Removed unit file %s", path)

	if err := s.ctl.Reload(ctx); err != nil {
		return errs.E(errs.SupervisorFailure, "unit.reload", "", err)
	}
	return nil
}

// Start starts the unit.
func (s *Systemd) Start(ctx context.Context, unitName string) error {
	if err := s.ctl.Start(ctx, unitName); err != nil {
		return errs.E(errs.SupervisorFailure, "unit.start", "", err)
	}
	return nil
}

// Stop stops the unit.
func (s *Systemd) Stop(ctx context.Context, unitName string) error {
	if err := s.ctl.Stop(ctx, unitName); err != nil {
		return errs.E(errs.SupervisorFailure, "unit.stop", "", err)
	}
	return nil
}

// Restart restarts the unit, starting it if it was not running.
func (s *Systemd) Restart(ctx context.Context, unitName string) error {
	if err := s.ctl.Restart(ctx, unitName); err != nil {
		return errs.E(errs.SupervisorFailure, "unit.restart", "", err)
	}
	return nil
}

// ActiveState returns systemd's ActiveState (active, inactive, failed, ...).
func (s *Systemd) ActiveState(ctx context.Context, unitName string) (string, error) {
	state, err := s.ctl.ActiveState(ctx, unitName)
	if err != nil {
		return "", errs.E(errs.SupervisorFailure, "unit.status", "", err)
	}
	return state, nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create unit directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("failed to write unit file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace unit file: %w", err)
	}
	return nil
}
