package backup

import (
	"context"
	"fmt"
	"log"
)

// EnforceRetention deletes all but the keep newest backups of server.
// keep <= 0 keeps everything.
func (m *Manager) EnforceRetention(ctx context.Context, server string, keep int) error {
	if keep <= 0 {
		return nil
	}

	backups, err := m.List(ctx, server)
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}
	if len(backups) <= keep {
		return nil
	}

	deleted := 0
	for _, b := range backups[keep:] {
		log.Printf("[Backup] Retention: deleting %s (created %s)", b.Filename, b.CreatedAt.Format("2006-01-02 15:04:05"))
		if err := m.Delete(ctx, b.ID); err != nil {
			log.Printf("[Backup] Retention: failed to delete %s: %v", b.ID, err)
			continue
		}
		deleted++
	}

	log.Printf("[Backup] Retention for %s: kept %d, deleted %d", server, keep, deleted)
	return nil
}
