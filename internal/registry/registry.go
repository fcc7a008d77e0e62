// Package registry persists the set of managed servers and enforces their
// lifecycle state machine.
//
// Every mutating call takes an exclusive flock on <state>.lock, re-reads the
// state file, applies the change and renames a fresh file into place before
// releasing the lock. A second process waits up to the configured timeout and
// then fails with RegistryLocked. Reads take no lock; they re-read the file
// whenever it changed on disk.
package registry

import (
	"fmt"
	"iter"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/TheGojiOG/steamserv/internal/errs"
	"github.com/TheGojiOG/steamserv/internal/models"
	"github.com/TheGojiOG/steamserv/internal/unit"
)

const (
	defaultLockTimeout  = 10 * time.Second
	defaultPollInterval = 50 * time.Millisecond
)

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// Registry is the handle to one state file.
type Registry struct {
	path         string
	lockPath     string
	lockTimeout  time.Duration
	pollInterval time.Duration
	pid          int
	alive        func(pid int) bool
	now          func() time.Time

	mu      sync.RWMutex
	records map[string]models.ServerRecord
	info    os.FileInfo
}

// Change is one status correction made by Reconcile.
type Change struct {
	Name   string
	From   models.Status
	To     models.Status
	Reason string
}

// Option configures a Registry.
type Option func(*Registry)

// WithLockTimeout bounds how long a mutating call waits for another process.
// Zero means a single attempt.
func WithLockTimeout(d time.Duration) Option {
	return func(r *Registry) { r.lockTimeout = d }
}

// WithPollInterval sets how often a blocked call retries the lock.
func WithPollInterval(d time.Duration) Option {
	return func(r *Registry) { r.pollInterval = d }
}

// WithProcessCheck overrides how lease owners are checked for liveness.
func WithProcessCheck(alive func(pid int) bool) Option {
	return func(r *Registry) { r.alive = alive }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithOwnerPID sets the pid recorded in leases taken by this handle.
func WithOwnerPID(pid int) Option {
	return func(r *Registry) { r.pid = pid }
}

// New creates a handle without reading the state file.
func New(path string, opts ...Option) *Registry {
	r := &Registry{
		path:         path,
		lockPath:     path + ".lock",
		lockTimeout:  defaultLockTimeout,
		pollInterval: defaultPollInterval,
		pid:          os.Getpid(),
		alive:        processAlive,
		now:          func() time.Time { return time.Now().UTC().Truncate(time.Second) },
		records:      map[string]models.ServerRecord{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open creates a handle and loads the state file.
func Open(path string, opts ...Option) (*Registry, error) {
	r := New(path, opts...)
	if err := r.Load(); err != nil {
		return nil, err
	}
	return r, nil
}

// Path returns the state file path.
func (r *Registry) Path() string {
	return r.path
}

// Load reads the state file. A missing file is an empty registry; an
// unparseable one is CorruptState.
func (r *Registry) Load() error {
	records, info, err := readState(r.path)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.records = records
	r.info = info
	r.mu.Unlock()

	log.Printf("[Registry] Loaded %d servers from %s", len(records), r.path)
	return nil
}

// Reconcile demotes records whose disk or owner state contradicts their
// status: installed records with a missing install path, and Pending or
// Updating records whose owning process is gone. Records are never deleted.
// The lock is only taken when something needs correcting.
func (r *Registry) Reconcile() ([]Change, error) {
	if err := r.refresh(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	pending := r.drift(r.records)
	r.mu.RUnlock()
	if len(pending) == 0 {
		return nil, nil
	}

	var changes []Change
	err := r.mutate("registry.reconcile", func(records map[string]models.ServerRecord) error {
		changes = r.drift(records)
		for _, c := range changes {
			rec := records[c.Name]
			if rec.Status == models.StatusPending {
				rec.InstallPath = ""
			}
			rec.Status = c.To
			rec.LastError = c.Reason
			rec.Operation = nil
			records[c.Name] = rec
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, c := range changes {
		log.Printf("[Registry] Reconciled %s: %s -> %s (%s)", c.Name, c.From, c.To, c.Reason)
	}
	return changes, nil
}

func (r *Registry) drift(records map[string]models.ServerRecord) []Change {
	var changes []Change
	for _, rec := range sortedRecords(records) {
		switch {
		case rec.Status == models.StatusPending || rec.Status == models.StatusUpdating:
			if r.LeaseActive(rec) {
				continue
			}
			action := "operation"
			if rec.Operation != nil && rec.Operation.Action != "" {
				action = rec.Operation.Action
			}
			changes = append(changes, Change{
				Name:   rec.Name,
				From:   rec.Status,
				To:     models.StatusFailed,
				Reason: fmt.Sprintf("interrupted %s", action),
			})
		case rec.Status.IsInstalled():
			if rec.InstallPath == "" {
				changes = append(changes, Change{
					Name:   rec.Name,
					From:   rec.Status,
					To:     models.StatusFailed,
					Reason: "no install path recorded",
				})
				continue
			}
			if _, err := os.Stat(rec.InstallPath); err != nil {
				changes = append(changes, Change{
					Name:   rec.Name,
					From:   rec.Status,
					To:     models.StatusFailed,
					Reason: fmt.Sprintf("install path %s is missing", rec.InstallPath),
				})
			}
		}
	}
	return changes
}

// LeaseActive reports whether rec is owned by a live operation.
func (r *Registry) LeaseActive(rec models.ServerRecord) bool {
	if rec.Operation == nil || rec.Operation.PID <= 0 {
		return false
	}
	return r.alive(rec.Operation.PID)
}

// Get returns the named record.
func (r *Registry) Get(name string) (models.ServerRecord, error) {
	if err := r.refresh(); err != nil {
		return models.ServerRecord{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[name]
	if !ok {
		return models.ServerRecord{}, errs.Ef(errs.NotFound, "registry.get", name, "no server named %q", name)
	}
	return rec.Clone(), nil
}

// List yields records ordered by name. filter matches a case-insensitive
// substring of the name; installedOnly keeps Installed, Stopped and Running.
// Each iteration re-reads the state file if it changed.
func (r *Registry) List(filter string, installedOnly bool) iter.Seq[models.ServerRecord] {
	needle := strings.ToLower(strings.TrimSpace(filter))

	return func(yield func(models.ServerRecord) bool) {
		if err := r.refresh(); err != nil {
			log.Printf("[Registry] Listing from last good state: %v", err)
		}

		r.mu.RLock()
		snapshot := sortedRecords(r.records)
		r.mu.RUnlock()

		for _, rec := range snapshot {
			if needle != "" && !strings.Contains(strings.ToLower(rec.Name), needle) {
				continue
			}
			if installedOnly && !rec.Status.IsInstalled() {
				continue
			}
			if !yield(rec.Clone()) {
				return
			}
		}
	}
}

// Insert adds candidate as Pending.
func (r *Registry) Insert(candidate models.ServerRecord) (models.ServerRecord, error) {
	if err := validateCandidate(candidate); err != nil {
		return models.ServerRecord{}, errs.Wrap(err, errs.InvalidRequest, "registry.insert", candidate.Name)
	}

	var stored models.ServerRecord
	err := r.mutate("registry.insert", func(records map[string]models.ServerRecord) error {
		if _, exists := records[candidate.Name]; exists {
			return errs.Ef(errs.NameConflict, "registry.insert", candidate.Name, "server %q already exists", candidate.Name)
		}
		if err := checkPath("registry.insert", records, candidate.Name, candidate.InstallPath); err != nil {
			return err
		}

		rec := candidate.Clone()
		rec.InstallPath = cleanPath(rec.InstallPath)
		rec.Status = models.StatusPending
		rec.UnitName = unit.NameFor(rec.Name)
		rec.LoginType = models.LoginTypeFor(rec.OwnerUsername)
		rec.InstalledAt = nil
		rec.UpdatedAt = nil
		rec.LastError = ""
		rec.Operation = r.lease(candidate.Operation, "install")

		records[rec.Name] = rec
		stored = rec.Clone()
		return nil
	})
	if err != nil {
		return models.ServerRecord{}, err
	}

	log.Printf("[Registry] Inserted %s (app %d) as pending", stored.Name, stored.AppID)
	return stored, nil
}

// Retry reclaims a Failed or abandoned Pending record for another install
// attempt. The app id must match the existing record.
func (r *Registry) Retry(candidate models.ServerRecord) (models.ServerRecord, error) {
	if err := validateCandidate(candidate); err != nil {
		return models.ServerRecord{}, errs.Wrap(err, errs.InvalidRequest, "registry.retry", candidate.Name)
	}

	var stored models.ServerRecord
	err := r.mutate("registry.retry", func(records map[string]models.ServerRecord) error {
		existing, ok := records[candidate.Name]
		if !ok {
			return errs.Ef(errs.NotFound, "registry.retry", candidate.Name, "no server named %q", candidate.Name)
		}
		if existing.AppID != candidate.AppID {
			return errs.Ef(errs.NameConflict, "registry.retry", candidate.Name,
				"server %q is app %d, not app %d", candidate.Name, existing.AppID, candidate.AppID)
		}
		switch existing.Status {
		case models.StatusFailed:
		case models.StatusPending:
			if r.LeaseActive(existing) && existing.Operation.PID != r.pid {
				return errs.Ef(errs.ServerBusy, "registry.retry", candidate.Name,
					"install already running in process %d", existing.Operation.PID)
			}
		default:
			return errs.Ef(errs.NameConflict, "registry.retry", candidate.Name,
				"server %q already exists with status %s", candidate.Name, existing.Status)
		}
		if err := checkPath("registry.retry", records, candidate.Name, candidate.InstallPath); err != nil {
			return err
		}

		rec := existing.Clone()
		rec.InstallPath = cleanPath(candidate.InstallPath)
		rec.OwnerUsername = candidate.OwnerUsername
		rec.LoginType = models.LoginTypeFor(candidate.OwnerUsername)
		if candidate.AppName != "" {
			rec.AppName = candidate.AppName
		}
		if candidate.LaunchCommand != "" {
			rec.LaunchCommand = candidate.LaunchCommand
		}
		if candidate.Port != 0 {
			rec.Port = candidate.Port
		}
		rec.AutoUpdate = candidate.AutoUpdate
		rec.Status = models.StatusPending
		rec.LastError = ""
		rec.Operation = r.lease(candidate.Operation, "install")

		records[rec.Name] = rec
		stored = rec.Clone()
		return nil
	})
	if err != nil {
		return models.ServerRecord{}, err
	}

	log.Printf("[Registry] Reclaimed %s for another install attempt", stored.Name)
	return stored, nil
}

// UpdateStatus moves the named record to status to. installPath, if given,
// sets the path on a Pending -> Installed transition; any other transition
// must not change an existing path.
func (r *Registry) UpdateStatus(name string, to models.Status, installPath ...string) (models.ServerRecord, error) {
	if to == models.StatusUninstalled {
		return r.Remove(name)
	}

	path := ""
	if len(installPath) > 0 {
		path = cleanPath(installPath[0])
	}

	var stored models.ServerRecord
	var from models.Status
	err := r.mutate("registry.update_status", func(records map[string]models.ServerRecord) error {
		rec, ok := records[name]
		if !ok {
			return errs.Ef(errs.NotFound, "registry.update_status", name, "no server named %q", name)
		}
		from = rec.Status
		if !to.Valid() || !CanTransition(from, to) {
			return errs.Ef(errs.InvalidTransition, "registry.update_status", name, "%s -> %s is not allowed", from, to)
		}

		now := r.now()
		switch {
		case from == models.StatusPending && to == models.StatusInstalled:
			if path == "" {
				path = rec.InstallPath
			}
			if path == "" {
				return errs.Ef(errs.InvalidTransition, "registry.update_status", name, "installed servers need an install path")
			}
			if err := checkPath("registry.update_status", records, name, path); err != nil {
				return err
			}
			rec.InstallPath = path
			rec.InstalledAt = &now
			rec.UpdatedAt = &now
			rec.LastError = ""
		case path != "" && path != rec.InstallPath:
			return errs.Ef(errs.InvalidTransition, "registry.update_status", name,
				"install path is fixed at %s", rec.InstallPath)
		}

		switch to {
		case models.StatusFailed:
			if from == models.StatusPending {
				rec.InstallPath = ""
			}
		case models.StatusInstalled:
			if from == models.StatusUpdating || from == models.StatusRunning || from == models.StatusStopped {
				rec.UpdatedAt = &now
				rec.LastError = ""
			}
		}

		if to == models.StatusUpdating {
			rec.Operation = r.lease(rec.Operation, "update")
		} else {
			rec.Operation = nil
		}
		rec.Status = to

		records[name] = rec
		stored = rec.Clone()
		return nil
	})
	if err != nil {
		return models.ServerRecord{}, err
	}

	log.Printf("[Registry] %s: %s -> %s", name, from, to)
	return stored, nil
}

// Remove marks the record Uninstalled and drops it from the active set. The
// returned record carries the Uninstalled status.
func (r *Registry) Remove(name string) (models.ServerRecord, error) {
	var removed models.ServerRecord
	err := r.mutate("registry.remove", func(records map[string]models.ServerRecord) error {
		rec, ok := records[name]
		if !ok {
			return errs.Ef(errs.NotFound, "registry.remove", name, "no server named %q", name)
		}
		if !CanTransition(rec.Status, models.StatusUninstalled) {
			return errs.Ef(errs.InvalidTransition, "registry.remove", name, "%s -> %s is not allowed", rec.Status, models.StatusUninstalled)
		}
		delete(records, name)
		rec.Status = models.StatusUninstalled
		rec.Operation = nil
		removed = rec
		return nil
	})
	if err != nil {
		return models.ServerRecord{}, err
	}

	log.Printf("[Registry] Removed %s", name)
	return removed, nil
}

// Modify applies fn to the named record's metadata. Identity fields and the
// status cannot be changed this way.
func (r *Registry) Modify(name string, fn func(rec *models.ServerRecord) error) (models.ServerRecord, error) {
	var stored models.ServerRecord
	err := r.mutate("registry.modify", func(records map[string]models.ServerRecord) error {
		rec, ok := records[name]
		if !ok {
			return errs.Ef(errs.NotFound, "registry.modify", name, "no server named %q", name)
		}
		updated := rec.Clone()
		if err := fn(&updated); err != nil {
			return errs.Wrap(err, errs.InvalidRequest, "registry.modify", name)
		}
		if updated.Name != rec.Name || updated.AppID != rec.AppID || updated.Status != rec.Status ||
			updated.InstallPath != rec.InstallPath || updated.UnitName != rec.UnitName {
			return errs.Ef(errs.InvalidRequest, "registry.modify", name, "identity fields and status are immutable")
		}
		updated.LoginType = models.LoginTypeFor(updated.OwnerUsername)
		records[name] = updated
		stored = updated.Clone()
		return nil
	})
	if err != nil {
		return models.ServerRecord{}, err
	}
	return stored, nil
}

// Save rewrites the state file under the lock. If another process changed the
// file since this handle last read it, the newer file wins and is adopted.
func (r *Registry) Save() error {
	lock, err := acquireLock(r.lockPath, r.lockTimeout, r.pollInterval)
	if err != nil {
		return err
	}
	defer lock.release()

	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := os.Stat(r.path)
	if err != nil && !os.IsNotExist(err) {
		return errs.E(errs.FilesystemError, "registry.save", "", err)
	}
	if err == nil && !sameFile(r.info, current) {
		records, info, err := readState(r.path)
		if err != nil {
			return err
		}
		r.records = records
		r.info = info
	}

	info, err := writeState(r.path, r.records)
	if err != nil {
		return errs.E(errs.FilesystemError, "registry.save", "", err)
	}
	r.info = info
	return nil
}

// mutate runs fn against a fresh copy of the on-disk state while holding the
// file lock, then persists the result. If fn fails nothing is written and the
// in-memory state is left as it was.
func (r *Registry) mutate(op string, fn func(records map[string]models.ServerRecord) error) error {
	lock, err := acquireLock(r.lockPath, r.lockTimeout, r.pollInterval)
	if err != nil {
		return err
	}
	defer lock.release()

	r.mu.Lock()
	defer r.mu.Unlock()

	records, info, err := readState(r.path)
	if err != nil {
		return err
	}
	r.records = records
	r.info = info

	working := copyRecords(records)
	if err := fn(working); err != nil {
		return err
	}

	newInfo, err := writeState(r.path, working)
	if err != nil {
		return errs.E(errs.FilesystemError, op, "", err)
	}
	r.records = working
	r.info = newInfo
	return nil
}

// refresh re-reads the state file if it changed since the last read.
func (r *Registry) refresh() error {
	current, err := os.Stat(r.path)
	if err != nil && !os.IsNotExist(err) {
		return errs.E(errs.FilesystemError, "registry.load", "", err)
	}
	if err != nil {
		current = nil
	}

	r.mu.RLock()
	unchanged := sameFile(r.info, current)
	r.mu.RUnlock()
	if unchanged {
		return nil
	}

	records, info, err := readState(r.path)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.records = records
	r.info = info
	r.mu.Unlock()
	return nil
}

func (r *Registry) lease(existing *models.OperationLease, action string) *models.OperationLease {
	lease := &models.OperationLease{
		Action:    action,
		PID:       r.pid,
		StartedAt: r.now(),
	}
	if existing != nil {
		lease.ID = existing.ID
		if existing.Action != "" {
			lease.Action = existing.Action
		}
	}
	return lease
}

func validateCandidate(c models.ServerRecord) error {
	if !validName.MatchString(c.Name) {
		return fmt.Errorf("invalid server name %q: use letters, digits, '.', '_' or '-' (max 64)", c.Name)
	}
	if c.AppID <= 0 {
		return fmt.Errorf("invalid app id %d", c.AppID)
	}
	if c.InstallPath != "" && !filepath.IsAbs(c.InstallPath) {
		return fmt.Errorf("install path %q must be absolute", c.InstallPath)
	}
	return nil
}

// checkPath rejects a path equal to, inside, or containing another record's.
func checkPath(op string, records map[string]models.ServerRecord, name, path string) error {
	path = cleanPath(path)
	if path == "" {
		return nil
	}
	for _, other := range sortedRecords(records) {
		if other.Name == name || other.InstallPath == "" {
			continue
		}
		if pathsOverlap(path, other.InstallPath) {
			return errs.Ef(errs.PathConflict, op, name,
				"%s overlaps the install path of %s (%s)", path, other.Name, other.InstallPath)
		}
	}
	return nil
}

func pathsOverlap(a, b string) bool {
	a, b = cleanPath(a), cleanPath(b)
	if a == b {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(a, b+sep) || strings.HasPrefix(b, a+sep)
}

func cleanPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	return filepath.Clean(p)
}

func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
