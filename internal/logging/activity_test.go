package logging

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/TheGojiOG/steamserv/internal/database"
)

func TestActivityLoggerLogOperation(t *testing.T) {
	root := t.TempDir()
	dbPath := filepath.Join(root, "data", "test.db")
	logDir := filepath.Join(root, "activity")

	db, err := database.NewDB(dbPath)
	if err != nil {
		t.Fatalf("failed to create db: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate db: %v", err)
	}

	logger, err := NewActivityLogger(db.DB, logDir)
	if err != nil {
		t.Fatalf("failed to create activity logger: %v", err)
	}
	defer logger.Close()

	if err := logger.LogOperation("op-1", "cs-server", ActivityServerInstall, "install app 730", nil, map[string]interface{}{"app_id": 730}); err != nil {
		t.Fatalf("failed to log activity: %v", err)
	}
	if err := logger.LogOperation("op-2", "cs-server", ActivityServerUpdate, "update", errors.New("steamcmd exited 8"), nil); err != nil {
		t.Fatalf("failed to log activity: %v", err)
	}
	if err := logger.LogStatusChange("op-2", "other", "installed", "failed"); err != nil {
		t.Fatalf("failed to log status change: %v", err)
	}

	activities, err := logger.GetActivities("cs-server", "", time.Time{}, 10)
	if err != nil {
		t.Fatalf("failed to read activities: %v", err)
	}
	if len(activities) != 2 {
		t.Fatalf("expected 2 activities, got %d", len(activities))
	}

	var failed *Activity
	for _, a := range activities {
		if a.ActivityType == ActivityServerUpdate {
			failed = a
		}
	}
	if failed == nil || failed.Success || failed.ErrorMessage != "steamcmd exited 8" {
		t.Fatalf("unexpected failed activity: %+v", failed)
	}

	entries, err := os.ReadDir(logDir)
	if err != nil {
		t.Fatalf("failed to read log dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one daily log file, got %d", len(entries))
	}
}

func TestPruneRemovesOldRowsAndDailyFiles(t *testing.T) {
	root := t.TempDir()
	logDir := filepath.Join(root, "activity")

	db, err := database.NewDB(filepath.Join(root, "history.db"))
	if err != nil {
		t.Fatalf("failed to create db: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate db: %v", err)
	}

	logger, err := NewActivityLogger(db.DB, logDir)
	if err != nil {
		t.Fatalf("failed to create activity logger: %v", err)
	}
	defer logger.Close()

	old := time.Date(2020, 1, 1, 12, 0, 0, 0, time.Local)
	if err := logger.LogActivity(&Activity{Timestamp: old, Server: "ark", ActivityType: ActivityServerStart, Success: true}); err != nil {
		t.Fatalf("failed to log old activity: %v", err)
	}
	if err := logger.LogActivity(&Activity{Server: "ark", ActivityType: ActivityServerStop, Success: true}); err != nil {
		t.Fatalf("failed to log activity: %v", err)
	}

	removed, err := logger.Prune(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("failed to prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned row, got %d", removed)
	}

	left, err := logger.GetActivities("ark", "", time.Time{}, 0)
	if err != nil {
		t.Fatalf("failed to read activities: %v", err)
	}
	if len(left) != 1 || left[0].ActivityType != ActivityServerStop {
		t.Fatalf("expected only the recent activity to survive, got %+v", left)
	}

	matches, err := filepath.Glob(filepath.Join(logDir, "activity-2020-01-01.log*"))
	if err != nil {
		t.Fatalf("failed to glob: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected 2020 daily files to be removed, found %v", matches)
	}
	today := filepath.Join(logDir, "activity-"+time.Now().Format("2006-01-02")+".log")
	if _, err := os.Stat(today); err != nil {
		t.Fatalf("expected today's file to survive: %v", err)
	}
}

func TestActivityLoggerCompressesPreviousDays(t *testing.T) {
	logDir := t.TempDir()
	old := filepath.Join(logDir, "activity-2020-01-01.log")
	if err := os.WriteFile(old, []byte("{}\n"), 0644); err != nil {
		t.Fatalf("failed to seed old log: %v", err)
	}

	logger, err := NewActivityLogger(nil, logDir)
	if err != nil {
		t.Fatalf("failed to create activity logger: %v", err)
	}
	defer logger.Close()

	if err := logger.LogActivity(&Activity{Server: "ark", ActivityType: ActivityServerStart, Success: true}); err != nil {
		t.Fatalf("failed to log activity: %v", err)
	}

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected old log to be replaced by its archive")
	}
	if _, err := os.Stat(old + ".gz"); err != nil {
		t.Fatalf("expected compressed archive: %v", err)
	}
}
