package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TheGojiOG/steamserv/internal/errs"
	"github.com/TheGojiOG/steamserv/internal/models"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Options configures a Manager.
type Options struct {
	// WorkDir holds archives while they are built or restored.
	WorkDir     string
	Compression CompressionConfig
	Exclude     []string
	// Retention keeps this many newest backups per server; 0 keeps all.
	Retention int
}

// Manager archives server directories, ships them to a Destination and
// indexes them in the backups table.
type Manager struct {
	db   *sql.DB
	dest Destination
	opts Options
	now  func() time.Time
}

// NewManager creates a backup manager.
func NewManager(db *sql.DB, dest Destination, opts Options) *Manager {
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	opts.Compression = normalizeCompression(opts.Compression)
	return &Manager{db: db, dest: dest, opts: opts, now: time.Now}
}

// Create archives sourceDir, uploads it and records it, then applies the
// retention policy for server.
func (m *Manager) Create(ctx context.Context, server, sourceDir string) (*models.Backup, error) {
	id := uuid.NewString()
	createdAt := m.now().UTC()
	filename := fmt.Sprintf("%s-%s-%s%s", server, createdAt.Format("20060102-150405"), id[:8], archiveExtension(m.opts.Compression))

	log.Printf("[Backup] Creating backup %s of %s", filename, sourceDir)

	if err := os.MkdirAll(m.opts.WorkDir, 0755); err != nil {
		return nil, errs.E(errs.FilesystemError, "backup", server, err)
	}
	tmp, err := os.CreateTemp(m.opts.WorkDir, "steamserv-backup-*")
	if err != nil {
		return nil, errs.E(errs.FilesystemError, "backup", server, err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	info, err := createArchive(tmp, sourceDir, m.opts.Exclude, m.opts.Compression)
	if err != nil {
		return nil, errs.E(errs.FilesystemError, "backup", server, fmt.Errorf("failed to create archive: %w", err))
	}
	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, errs.E(errs.FilesystemError, "backup", server, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, errs.E(errs.FilesystemError, "backup", server, err)
	}

	if err := m.dest.Upload(ctx, filename, tmp, size); err != nil {
		return nil, errs.E(errs.FilesystemError, "backup", server, err)
	}

	b := &models.Backup{
		ID:          id,
		Server:      server,
		Filename:    filename,
		Size:        size,
		Destination: m.dest.GetType(),
		CreatedAt:   createdAt,
	}
	if _, err := m.db.ExecContext(ctx,
		`INSERT INTO backups (id, server, filename, size_bytes, destination, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.Server, b.Filename, b.Size, b.Destination, createdAt.Format(timeLayout),
	); err != nil {
		if delErr := m.dest.Delete(ctx, filename); delErr != nil {
			log.Printf("[Backup] Failed to remove orphaned archive %s: %v", filename, delErr)
		}
		return nil, fmt.Errorf("failed to record backup: %w", err)
	}

	log.Printf("[Backup] Stored %s (%d files, %d bytes) at %s", filename, info.Files, size, b.Destination)

	if err := m.EnforceRetention(ctx, server, m.opts.Retention); err != nil {
		log.Printf("[Backup] Retention for %s failed: %v", server, err)
	}
	return b, nil
}

// List returns backups newest first. An empty server lists every server.
func (m *Manager) List(ctx context.Context, server string) ([]models.Backup, error) {
	query := `SELECT id, server, filename, size_bytes, destination, created_at FROM backups`
	var args []interface{}
	if server != "" {
		query += ` WHERE server = ?`
		args = append(args, server)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query backups: %w", err)
	}
	defer rows.Close()

	var out []models.Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// Get returns one backup by id, or by a unique id prefix.
func (m *Manager) Get(ctx context.Context, id string) (*models.Backup, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errs.Ef(errs.InvalidRequest, "backup.get", "", "backup id is required")
	}
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, server, filename, size_bytes, destination, created_at FROM backups WHERE id = ? OR id LIKE ? ORDER BY id LIMIT 2`,
		id, id+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to query backup: %w", err)
	}
	defer rows.Close()

	var found []*models.Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, err
		}
		if b.ID == id {
			return b, nil
		}
		found = append(found, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, errs.Ef(errs.NotFound, "backup.get", "", "backup %s not found", id)
	case 1:
		return found[0], nil
	default:
		return nil, errs.Ef(errs.InvalidRequest, "backup.get", "", "backup id %s is ambiguous", id)
	}
}

// Delete removes the archive and its record.
func (m *Manager) Delete(ctx context.Context, id string) error {
	b, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	log.Printf("[Backup] Deleting backup %s (%s)", b.ID, b.Filename)

	if b.Destination != m.dest.GetType() {
		log.Printf("[Backup] Backup %s lives at %s, not %s; removing record only", b.ID, b.Destination, m.dest.GetType())
	} else if err := m.dest.Delete(ctx, b.Filename); err != nil {
		return errs.E(errs.FilesystemError, "backup.delete", b.Server, err)
	}

	if _, err := m.db.ExecContext(ctx, `DELETE FROM backups WHERE id = ?`, b.ID); err != nil {
		return fmt.Errorf("failed to delete backup record: %w", err)
	}
	return nil
}

// Restore downloads a backup and unpacks it into targetDir.
func (m *Manager) Restore(ctx context.Context, id, targetDir string) (*models.Backup, error) {
	b, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Destination != m.dest.GetType() {
		return nil, errs.Ef(errs.InvalidRequest, "backup.restore", b.Server,
			"backup is stored at %s but the configured destination is %s", b.Destination, m.dest.GetType())
	}

	log.Printf("[Backup] Restoring %s into %s", b.Filename, targetDir)

	if err := os.MkdirAll(m.opts.WorkDir, 0755); err != nil {
		return nil, errs.E(errs.FilesystemError, "backup.restore", b.Server, err)
	}
	tmp, err := os.CreateTemp(m.opts.WorkDir, "steamserv-restore-*")
	if err != nil {
		return nil, errs.E(errs.FilesystemError, "backup.restore", b.Server, err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := m.dest.Download(ctx, b.Filename, tmp); err != nil {
		return nil, errs.E(errs.FilesystemError, "backup.restore", b.Server, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, errs.E(errs.FilesystemError, "backup.restore", b.Server, err)
	}

	if err := extractArchive(tmp, filepath.Clean(targetDir), compressionFromFilename(b.Filename)); err != nil {
		return nil, errs.E(errs.FilesystemError, "backup.restore", b.Server, fmt.Errorf("failed to extract archive: %w", err))
	}
	return b, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBackup(row rowScanner) (*models.Backup, error) {
	var b models.Backup
	var createdAt string
	if err := row.Scan(&b.ID, &b.Server, &b.Filename, &b.Size, &b.Destination, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.Ef(errs.NotFound, "backup.get", "", "backup not found")
		}
		return nil, fmt.Errorf("failed to scan backup record: %w", err)
	}
	if t, err := time.Parse(timeLayout, createdAt); err == nil {
		b.CreatedAt = t
	} else if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		b.CreatedAt = t
	}
	return &b, nil
}
