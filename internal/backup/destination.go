package backup

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/TheGojiOG/steamserv/internal/config"
)

// Destination stores backup archives by filename.
type Destination interface {
	// Upload stores reader under filename.
	Upload(ctx context.Context, filename string, reader io.Reader, sizeBytes int64) error

	// Download writes the stored archive to writer.
	Download(ctx context.Context, filename string, writer io.Writer) error

	Delete(ctx context.Context, filename string) error

	// List returns all archives at the destination
	List(ctx context.Context) ([]BackupFile, error)

	// GetType returns "local", "s3" or "sftp"
	GetType() string

	Close() error
}

// BackupFile represents a file in a backup destination
type BackupFile struct {
	Filename  string
	SizeBytes int64
	CreatedAt time.Time
}

// DestinationConfig contains configuration for a backup destination
type DestinationConfig struct {
	Type string // "local", "sftp", "s3"
	Path string // Local directory, SFTP remote dir or S3 key prefix

	// SFTP specific
	SFTPHost        string
	SFTPPort        int
	SFTPUsername    string
	SFTPPassword    string
	SFTPKeyPath     string
	KnownHostsPath  string
	TrustOnFirstUse bool

	// S3 specific
	S3Bucket    string
	S3Region    string
	S3AccessKey string
	S3SecretKey string
	S3Endpoint  string // Optional, for S3-compatible storage
}

// DestinationConfigFrom maps the backup section of the config file.
func DestinationConfigFrom(cfg *config.Config) *DestinationConfig {
	b := cfg.Backup
	dc := &DestinationConfig{Type: b.Destination}
	switch b.Destination {
	case "s3":
		dc.Path = b.S3.Prefix
		dc.S3Bucket = b.S3.Bucket
		dc.S3Region = b.S3.Region
		dc.S3AccessKey = b.S3.AccessKey
		dc.S3SecretKey = b.S3.SecretKey
		dc.S3Endpoint = b.S3.Endpoint
	case "sftp":
		dc.Path = b.SFTP.RemoteDir
		dc.SFTPHost = b.SFTP.Host
		dc.SFTPPort = b.SFTP.Port
		dc.SFTPUsername = b.SFTP.Username
		dc.SFTPPassword = b.SFTP.Password
		dc.SFTPKeyPath = b.SFTP.KeyPath
		dc.KnownHostsPath = b.SFTP.KnownHostsPath
		dc.TrustOnFirstUse = b.SFTP.TrustOnFirstUse
	default:
		dc.Type = "local"
		dc.Path = cfg.Storage.BackupDir
	}
	return dc
}

// NewDestination creates a new backup destination based on config. SFTP
// destinations connect lazily on first use.
func NewDestination(config *DestinationConfig) (Destination, error) {
	switch config.Type {
	case "local":
		return NewLocalDestination(config.Path), nil
	case "sftp":
		return NewSFTPDestination(config)
	case "s3":
		return NewS3Destination(config)
	default:
		return nil, fmt.Errorf("unsupported destination type: %s", config.Type)
	}
}
