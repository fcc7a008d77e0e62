package logging

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

// ActivityLogger records lifecycle operations to the history database and a
// daily JSON-lines file.
type ActivityLogger struct {
	db          *sql.DB
	logDir      string
	currentFile *os.File
	currentDate string
	mu          sync.Mutex
}

// Activity represents a logged activity
type Activity struct {
	Timestamp    time.Time              `json:"timestamp"`
	OperationID  string                 `json:"operation_id,omitempty"`
	Server       string                 `json:"server"`
	ActivityType string                 `json:"activity_type"`
	Description  string                 `json:"description"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Success      bool                   `json:"success"`
	ErrorMessage string                 `json:"error_message,omitempty"`
}

// Activity type constants
const (
	ActivityServerInstall      = "server.install"
	ActivityServerUpdate       = "server.update"
	ActivityServerUninstall    = "server.uninstall"
	ActivityServerStart        = "server.start"
	ActivityServerStop         = "server.stop"
	ActivityServerRestart      = "server.restart"
	ActivityServerReconcile    = "server.reconcile"
	ActivityServerBackup       = "server.backup"
	ActivityServerRestore      = "server.restore"
	ActivityUnitRegenerate     = "unit.regenerate"
	ActivityServerStatusChange = "status.change"
	ActivityCatalogRefresh     = "catalog.refresh"
	ActivityError              = "error"
)

// NewActivityLogger creates a new activity logger. db may be nil, in which
// case only the file log is written.
func NewActivityLogger(db *sql.DB, logDir string) (*ActivityLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logger := &ActivityLogger{
		db:     db,
		logDir: logDir,
	}

	log.Printf("[ActivityLogger] Initialized (log directory: %s)", logDir)

	return logger, nil
}

// LogActivity logs an activity to both database and file
func (al *ActivityLogger) LogActivity(activity *Activity) error {
	if al == nil {
		return nil
	}

	al.mu.Lock()
	defer al.mu.Unlock()

	if activity.Timestamp.IsZero() {
		activity.Timestamp = time.Now()
	}

	if err := al.logToDatabase(activity); err != nil {
		log.Printf("[ActivityLogger] Error logging to database: %v", err)
		// Don't return error, continue with file logging
	}

	if err := al.logToFile(activity); err != nil {
		log.Printf("[ActivityLogger] Error logging to file: %v", err)
		return err
	}

	return nil
}

// LogOperation records the outcome of one lifecycle operation.
func (al *ActivityLogger) LogOperation(operationID, server, activityType, description string, opErr error, metadata map[string]interface{}) error {
	activity := &Activity{
		OperationID:  operationID,
		Server:       server,
		ActivityType: activityType,
		Description:  description,
		Metadata:     metadata,
		Success:      opErr == nil,
	}
	if opErr != nil {
		activity.ErrorMessage = opErr.Error()
	}
	return al.LogActivity(activity)
}

// LogStatusChange logs a server status change
func (al *ActivityLogger) LogStatusChange(operationID, server, oldStatus, newStatus string) error {
	return al.LogActivity(&Activity{
		OperationID:  operationID,
		Server:       server,
		ActivityType: ActivityServerStatusChange,
		Description:  fmt.Sprintf("Status changed: %s -> %s", oldStatus, newStatus),
		Metadata: map[string]interface{}{
			"old_status": oldStatus,
			"new_status": newStatus,
		},
		Success: true,
	})
}

// GetActivities retrieves activities from the database
func (al *ActivityLogger) GetActivities(server string, activityType string, since time.Time, limit int) ([]*Activity, error) {
	if al == nil || al.db == nil {
		return nil, fmt.Errorf("database not available")
	}

	query := `
		SELECT timestamp, operation_id, server, activity_type, description, metadata, success, error_message
		FROM activity_log
		WHERE 1=1
	`
	args := make([]interface{}, 0)

	if server != "" {
		query += " AND server = ?"
		args = append(args, server)
	}

	if activityType != "" {
		query += " AND activity_type = ?"
		args = append(args, activityType)
	}

	if !since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, since.UTC())
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := al.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	activities := make([]*Activity, 0)

	for rows.Next() {
		activity := &Activity{}
		var operationID, server, description, metadataJSON, errorMessage sql.NullString

		err := rows.Scan(
			&activity.Timestamp,
			&operationID,
			&server,
			&activity.ActivityType,
			&description,
			&metadataJSON,
			&activity.Success,
			&errorMessage,
		)
		if err != nil {
			log.Printf("[ActivityLogger] Error scanning row: %v", err)
			continue
		}

		activity.OperationID = operationID.String
		activity.Server = server.String
		activity.Description = description.String
		activity.ErrorMessage = errorMessage.String

		if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &activity.Metadata); err != nil {
				log.Printf("[ActivityLogger] Error unmarshaling metadata: %v", err)
			}
		}

		activities = append(activities, activity)
	}

	return activities, rows.Err()
}

func (al *ActivityLogger) logToDatabase(activity *Activity) error {
	if al.db == nil {
		return nil
	}

	metadataJSON, err := json.Marshal(activity.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO activity_log (
			timestamp, operation_id, server, activity_type,
			description, metadata, success, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = al.db.Exec(
		query,
		activity.Timestamp.UTC(),
		activity.OperationID,
		activity.Server,
		activity.ActivityType,
		activity.Description,
		string(metadataJSON),
		activity.Success,
		activity.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity: %w", err)
	}

	return nil
}

func (al *ActivityLogger) logToFile(activity *Activity) error {
	currentDate := activity.Timestamp.Format("2006-01-02")

	if al.currentFile == nil || al.currentDate != currentDate {
		if err := al.rotateLogFile(currentDate); err != nil {
			return fmt.Errorf("failed to rotate log file: %w", err)
		}
	}

	line, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	if _, err := fmt.Fprintf(al.currentFile, "%s\n", line); err != nil {
		return fmt.Errorf("failed to write to log file: %w", err)
	}

	if !activity.Success {
		al.currentFile.Sync()
	}

	return nil
}

func (al *ActivityLogger) rotateLogFile(date string) error {
	if al.currentFile != nil {
		al.currentFile.Close()
		al.currentFile = nil
	}

	logPath := filepath.Join(al.logDir, fmt.Sprintf("activity-%s.log", date))

	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	al.currentFile = file
	al.currentDate = date

	if err := al.compressOldLogs(date); err != nil {
		log.Printf("[ActivityLogger] Failed to compress old logs: %v", err)
	}

	return nil
}

// compressOldLogs gzips every daily file older than the current one.
func (al *ActivityLogger) compressOldLogs(currentDate string) error {
	matches, err := filepath.Glob(filepath.Join(al.logDir, "activity-*.log"))
	if err != nil {
		return err
	}

	current := fmt.Sprintf("activity-%s.log", currentDate)
	for _, path := range matches {
		if filepath.Base(path) == current {
			continue
		}
		if err := gzipFile(path); err != nil {
			return err
		}
		log.Printf("[ActivityLogger] Compressed old log: %s", path)
	}
	return nil
}

func gzipFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dstPath := path + ".gz"
	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	zw := gzip.NewWriter(dst)
	zw.Name = strings.TrimSuffix(filepath.Base(path), ".gz")
	if _, err := io.Copy(zw, src); err != nil {
		zw.Close()
		dst.Close()
		os.Remove(dstPath)
		return err
	}
	if err := zw.Close(); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

// Close closes the activity logger
func (al *ActivityLogger) Close() error {
	if al == nil {
		return nil
	}

	al.mu.Lock()
	defer al.mu.Unlock()

	if al.currentFile != nil {
		err := al.currentFile.Close()
		al.currentFile = nil
		return err
	}

	return nil
}

// Prune deletes history recorded before the cutoff: database rows and
// every daily file for a day that ended before it. It returns the number
// of rows removed.
func (al *ActivityLogger) Prune(before time.Time) (int64, error) {
	if al == nil || al.db == nil {
		return 0, fmt.Errorf("database not available")
	}

	al.mu.Lock()
	defer al.mu.Unlock()

	result, err := al.db.Exec(`DELETE FROM activity_log WHERE timestamp < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune activities: %w", err)
	}
	rows, _ := result.RowsAffected()

	files, err := al.pruneFiles(before.Format("2006-01-02"))
	if err != nil {
		return rows, fmt.Errorf("failed to prune activity files: %w", err)
	}

	log.Printf("[ActivityLogger] Pruned %d activities and %d daily files before %s", rows, files, before.Format(time.RFC3339))
	return rows, nil
}

func (al *ActivityLogger) pruneFiles(cutoffDate string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(al.logDir, "activity-*.log*"))
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, path := range matches {
		date := strings.TrimPrefix(filepath.Base(path), "activity-")
		date = strings.TrimSuffix(strings.TrimSuffix(date, ".gz"), ".log")
		if _, err := time.Parse("2006-01-02", date); err != nil {
			continue
		}
		if date >= cutoffDate || date == al.currentDate {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
