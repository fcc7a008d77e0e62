package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/TheGojiOG/steamserv/internal/database"
	"github.com/TheGojiOG/steamserv/internal/errs"
)

func newTestManager(t *testing.T, retention int) (*Manager, string) {
	t.Helper()
	root := t.TempDir()

	db, err := database.NewDB(filepath.Join(root, "history.db"))
	if err != nil {
		t.Fatalf("failed to create db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	backupDir := filepath.Join(root, "backups")
	m := NewManager(db.DB, NewLocalDestination(backupDir), Options{
		WorkDir:   filepath.Join(root, "tmp"),
		Exclude:   []string{"*.log"},
		Retention: retention,
	})

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return m, backupDir
}

func TestManagerCreateListRestore(t *testing.T) {
	ctx := context.Background()
	m, backupDir := newTestManager(t, 0)

	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"srcds_run":   "#!/bin/sh\n",
		"console.log": "noise",
	})

	b, err := m.Create(ctx, "cs-server", src)
	if err != nil {
		t.Fatalf("failed to create backup: %v", err)
	}
	if b.Server != "cs-server" || b.Destination != "local" || b.Size == 0 {
		t.Fatalf("unexpected backup: %+v", b)
	}
	if _, err := os.Stat(filepath.Join(backupDir, b.Filename)); err != nil {
		t.Fatalf("expected archive at destination: %v", err)
	}

	list, err := m.List(ctx, "cs-server")
	if err != nil {
		t.Fatalf("failed to list backups: %v", err)
	}
	if len(list) != 1 || list[0].ID != b.ID {
		t.Fatalf("expected the new backup to be listed, got %+v", list)
	}
	if !list[0].CreatedAt.Equal(b.CreatedAt) {
		t.Fatalf("created_at did not survive storage: %v vs %v", list[0].CreatedAt, b.CreatedAt)
	}

	got, err := m.Get(ctx, b.ID[:8])
	if err != nil {
		t.Fatalf("failed to get backup by prefix: %v", err)
	}
	if got.ID != b.ID {
		t.Fatalf("prefix lookup returned %s", got.ID)
	}

	target := filepath.Join(t.TempDir(), "restored")
	if _, err := m.Restore(ctx, b.ID, target); err != nil {
		t.Fatalf("failed to restore: %v", err)
	}
	if _, err := os.Stat(filepath.Join(target, "srcds_run")); err != nil {
		t.Fatalf("expected restored file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(target, "console.log")); !os.IsNotExist(err) {
		t.Fatalf("expected excluded file to be absent")
	}
}

func TestManagerRetentionKeepsNewest(t *testing.T) {
	ctx := context.Background()
	m, backupDir := newTestManager(t, 2)

	src := t.TempDir()
	writeTree(t, src, map[string]string{"data.bin": "x"})

	var ids []string
	for i := 0; i < 3; i++ {
		b, err := m.Create(ctx, "cs-server", src)
		if err != nil {
			t.Fatalf("failed to create backup %d: %v", i, err)
		}
		ids = append(ids, b.ID)
	}

	list, err := m.List(ctx, "cs-server")
	if err != nil {
		t.Fatalf("failed to list backups: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 backups after retention, got %d", len(list))
	}
	if list[0].ID != ids[2] || list[1].ID != ids[1] {
		t.Fatalf("expected the two newest backups to survive, got %s and %s", list[0].ID, list[1].ID)
	}

	entries, err := os.ReadDir(backupDir)
	if err != nil {
		t.Fatalf("failed to read backup dir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 archives on disk, got %d", len(entries))
	}
}

func TestManagerDeleteAndNotFound(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, 0)

	src := t.TempDir()
	writeTree(t, src, map[string]string{"data.bin": "x"})
	b, err := m.Create(ctx, "valheim", src)
	if err != nil {
		t.Fatalf("failed to create backup: %v", err)
	}

	if err := m.Delete(ctx, b.ID); err != nil {
		t.Fatalf("failed to delete backup: %v", err)
	}
	if _, err := m.Get(ctx, b.ID); !errs.Is(err, errs.NotFound) {
		t.Fatalf("expected NotFound after delete, got %v", err)
	}
	if err := m.Delete(ctx, b.ID); !errs.Is(err, errs.NotFound) {
		t.Fatalf("expected NotFound deleting twice, got %v", err)
	}
}
