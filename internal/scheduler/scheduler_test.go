package scheduler

import (
	"context"
	"errors"
	"iter"
	"slices"
	"testing"
	"time"

	"github.com/TheGojiOG/steamserv/internal/models"
)

type fakeController struct {
	servers   []models.ServerRecord
	passwords []string
	backedUp  []string
	failOn    string
}

func (f *fakeController) UpdateAll(ctx context.Context, password string) ([]string, error) {
	f.passwords = append(f.passwords, password)
	return []string{"cs-server"}, nil
}

func (f *fakeController) Backup(ctx context.Context, name string) (*models.Backup, error) {
	if name == f.failOn {
		return nil, errors.New("disk full")
	}
	f.backedUp = append(f.backedUp, name)
	return &models.Backup{ID: "b-" + name, Server: name, Filename: name + ".tar.gz"}, nil
}

func (f *fakeController) List(filter string, installedOnly bool) iter.Seq[models.ServerRecord] {
	return slices.Values(f.servers)
}

func TestRunRequiresASchedule(t *testing.T) {
	s, err := New(&fakeController{}, Options{})
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	if err := s.Run(context.Background()); !errors.Is(err, ErrNoSchedules) {
		t.Fatalf("expected ErrNoSchedules, got %v", err)
	}
}

func TestNewRejectsInvalidExpression(t *testing.T) {
	if _, err := New(&fakeController{}, Options{Backup: "every day"}); err == nil {
		t.Fatalf("expected error for invalid cron expression")
	}
}

func TestEntriesRegistered(t *testing.T) {
	s, err := New(&fakeController{}, Options{AutoUpdate: "0 4 * * *", Backup: "@daily"})
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	if got := len(s.Entries()); got != 2 {
		t.Fatalf("expected 2 entries, got %d", got)
	}
}

func TestRunAutoUpdatePassesPassword(t *testing.T) {
	ctl := &fakeController{}
	s, err := New(ctl, Options{AutoUpdate: "@hourly", Password: "hunter2"})
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	if err := s.RunAutoUpdate(context.Background()); err != nil {
		t.Fatalf("auto-update failed: %v", err)
	}
	if len(ctl.passwords) != 1 || ctl.passwords[0] != "hunter2" {
		t.Fatalf("unexpected passwords: %v", ctl.passwords)
	}
}

func TestRunBackupsContinuesAfterFailure(t *testing.T) {
	ctl := &fakeController{
		servers: []models.ServerRecord{
			{Name: "cs-server", InstallPath: "/srv/cs"},
			{Name: "rust", InstallPath: "/srv/rust"},
			{Name: "valheim", InstallPath: "/srv/valheim"},
		},
		failOn: "rust",
	}
	s, err := New(ctl, Options{Backup: "@daily"})
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}

	if err := s.RunBackups(context.Background()); err == nil {
		t.Fatalf("expected the failure to be reported")
	}
	if !slices.Equal(ctl.backedUp, []string{"cs-server", "valheim"}) {
		t.Fatalf("unexpected backups: %v", ctl.backedUp)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s, err := New(&fakeController{}, Options{Backup: "@yearly"})
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
}

type fakePruner struct {
	cutoffs []time.Time
}

func (f *fakePruner) Prune(before time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, before)
	return 3, nil
}

func TestPruneJobNeedsRetentionAndHistory(t *testing.T) {
	s, err := New(&fakeController{}, Options{PruneHistory: "@daily"})
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	if got := len(s.Entries()); got != 0 {
		t.Fatalf("expected no entries without retention, got %d", got)
	}
	if _, err := s.RunPrune(); err == nil {
		t.Fatalf("expected error without retention")
	}

	s, err = New(&fakeController{}, Options{PruneHistory: "@daily", HistoryRetention: time.Hour, History: &fakePruner{}})
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	if got := len(s.Entries()); got != 1 {
		t.Fatalf("expected prune entry, got %d", got)
	}
}

func TestRunPruneUsesRetentionCutoff(t *testing.T) {
	history := &fakePruner{}
	s, err := New(&fakeController{}, Options{HistoryRetention: 48 * time.Hour, History: history})
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	n, err := s.RunPrune()
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 pruned, got %d", n)
	}
	if len(history.cutoffs) != 1 || !history.cutoffs[0].Equal(now.Add(-48*time.Hour)) {
		t.Fatalf("unexpected cutoffs: %v", history.cutoffs)
	}
}
