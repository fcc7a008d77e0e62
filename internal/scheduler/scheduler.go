// Package scheduler runs auto-update and backup jobs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/TheGojiOG/steamserv/internal/models"
)

// Controller is the part of the lifecycle controller the jobs drive.
type Controller interface {
	UpdateAll(ctx context.Context, password string) ([]string, error)
	Backup(ctx context.Context, name string) (*models.Backup, error)
	List(filter string, installedOnly bool) iter.Seq[models.ServerRecord]
}

// Pruner drops activity history recorded before a cutoff.
type Pruner interface {
	Prune(before time.Time) (int64, error)
}

// Options selects the schedules. An empty expression disables that job.
type Options struct {
	AutoUpdate string
	Backup     string
	// Password is handed to SteamCMD for servers owned by a Steam account.
	Password string

	// PruneHistory runs only with a positive HistoryRetention and a History.
	PruneHistory     string
	HistoryRetention time.Duration
	History          Pruner
}

// Scheduler owns a cron runner with the configured jobs.
type Scheduler struct {
	ctl  Controller
	opts Options
	cron *cron.Cron
	now  func() time.Time

	// run serializes jobs; the controller is not safe for concurrent use.
	run sync.Mutex
}

// New validates the expressions and registers the jobs. Jobs never overlap
// with themselves; a run still in progress makes the next tick a no-op.
func New(ctl Controller, opts Options) (*Scheduler, error) {
	c := cron.New(
		cron.WithLogger(cron.VerbosePrintfLogger(log.Default())),
		cron.WithChain(cron.Recover(cron.PrintfLogger(log.Default())), cron.SkipIfStillRunning(cron.PrintfLogger(log.Default()))),
	)
	s := &Scheduler{ctl: ctl, opts: opts, cron: c, now: time.Now}

	if spec := strings.TrimSpace(opts.AutoUpdate); spec != "" {
		if _, err := c.AddFunc(spec, func() { s.runAutoUpdate(context.Background()) }); err != nil {
			return nil, fmt.Errorf("invalid auto_update schedule %q: %w", spec, err)
		}
	}
	if spec := strings.TrimSpace(opts.Backup); spec != "" {
		if _, err := c.AddFunc(spec, func() { s.runBackups(context.Background()) }); err != nil {
			return nil, fmt.Errorf("invalid backup schedule %q: %w", spec, err)
		}
	}
	if spec := strings.TrimSpace(opts.PruneHistory); spec != "" && opts.HistoryRetention > 0 && opts.History != nil {
		if _, err := c.AddFunc(spec, func() { s.runPrune() }); err != nil {
			return nil, fmt.Errorf("invalid prune_history schedule %q: %w", spec, err)
		}
	}
	return s, nil
}

// Entries lists the registered jobs with their next run times.
func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}

// ErrNoSchedules is returned by Run when no job is configured.
var ErrNoSchedules = errors.New("no schedules configured")

// Run starts the cron runner and blocks until ctx is done, then waits for
// in-flight jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.cron.Entries()) == 0 {
		return ErrNoSchedules
	}
	log.Printf("[Scheduler] Starting with %d job(s)", len(s.cron.Entries()))
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		log.Printf("[Scheduler] Job %d next run at %s", e.ID, e.Next.Format("2006-01-02 15:04:05"))
	}

	<-ctx.Done()
	log.Printf("[Scheduler] Stopping, waiting for running jobs")
	<-s.cron.Stop().Done()
	return nil
}

// RunAutoUpdate runs the auto-update job once.
func (s *Scheduler) RunAutoUpdate(ctx context.Context) error {
	return s.runAutoUpdate(ctx)
}

// RunBackups runs the backup job once.
func (s *Scheduler) RunBackups(ctx context.Context) error {
	return s.runBackups(ctx)
}

// RunPrune drops history older than the configured retention once.
func (s *Scheduler) RunPrune() (int64, error) {
	if s.opts.History == nil || s.opts.HistoryRetention <= 0 {
		return 0, errors.New("history retention is not configured")
	}
	return s.runPrune()
}

func (s *Scheduler) runPrune() (int64, error) {
	s.run.Lock()
	defer s.run.Unlock()

	cutoff := s.now().Add(-s.opts.HistoryRetention)
	n, err := s.opts.History.Prune(cutoff)
	if err != nil {
		log.Printf("[Scheduler] History prune failed: %v", err)
		return n, err
	}
	log.Printf("[Scheduler] Pruned %d activities older than %s", n, s.opts.HistoryRetention)
	return n, nil
}

func (s *Scheduler) runAutoUpdate(ctx context.Context) error {
	s.run.Lock()
	defer s.run.Unlock()

	log.Printf("[Scheduler] Auto-update run starting")
	updated, err := s.ctl.UpdateAll(ctx, s.opts.Password)
	log.Printf("[Scheduler] Auto-update run finished: %d server(s) updated", len(updated))
	if err != nil {
		log.Printf("[Scheduler] Auto-update errors: %v", err)
	}
	return err
}

// runBackups backs up every installed server. One failure does not stop the
// rest.
func (s *Scheduler) runBackups(ctx context.Context) error {
	s.run.Lock()
	defer s.run.Unlock()

	var names []string
	for rec := range s.ctl.List("", true) {
		if rec.InstallPath != "" {
			names = append(names, rec.Name)
		}
	}

	log.Printf("[Scheduler] Backup run starting for %d server(s)", len(names))
	var errList []error
	for _, name := range names {
		if ctx.Err() != nil {
			errList = append(errList, ctx.Err())
			break
		}
		b, err := s.ctl.Backup(ctx, name)
		if err != nil {
			log.Printf("[Scheduler] Backup of %s failed: %v", name, err)
			errList = append(errList, err)
			continue
		}
		log.Printf("[Scheduler] Backed up %s to %s", name, b.Filename)
	}
	return errors.Join(errList...)
}
