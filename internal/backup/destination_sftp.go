package backup

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"sync"

	"github.com/pkg/sftp"
	xssh "golang.org/x/crypto/ssh"

	sshclient "github.com/TheGojiOG/steamserv/internal/ssh"
)

// SFTPDestination stores backups on a remote SFTP server
type SFTPDestination struct {
	config *DestinationConfig

	mu         sync.Mutex
	sshClient  *xssh.Client
	sftpClient *sftp.Client
}

// NewSFTPDestination creates an SFTP destination. The connection is opened
// on first use.
func NewSFTPDestination(config *DestinationConfig) (*SFTPDestination, error) {
	if config.SFTPHost == "" || config.SFTPUsername == "" {
		return nil, fmt.Errorf("sftp destination requires host and username")
	}
	return &SFTPDestination{config: config}, nil
}

// client connects if needed and returns the SFTP session.
func (sd *SFTPDestination) client(ctx context.Context) (*sftp.Client, error) {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	if sd.sftpClient != nil {
		return sd.sftpClient, nil
	}

	addr := fmt.Sprintf("%s:%d", sd.config.SFTPHost, sd.config.SFTPPort)
	log.Printf("[SFTPDest] Connecting to %s...", addr)

	sshClient, err := sshclient.Dial(ctx, &sshclient.ClientConfig{
		Host:            sd.config.SFTPHost,
		Port:            sd.config.SFTPPort,
		Username:        sd.config.SFTPUsername,
		Password:        sd.config.SFTPPassword,
		KeyPath:         sd.config.SFTPKeyPath,
		KnownHostsPath:  sd.config.KnownHostsPath,
		TrustOnFirstUse: sd.config.TrustOnFirstUse,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SSH server: %w", err)
	}

	sftpClient, err := sftp.NewClient(sshClient,
		sftp.MaxPacketUnchecked(131072),
		sftp.UseConcurrentWrites(true),
		sftp.MaxConcurrentRequestsPerFile(64),
	)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("failed to create SFTP client: %w", err)
	}

	if sd.config.Path != "" {
		if err := sftpClient.MkdirAll(sd.config.Path); err != nil {
			sftpClient.Close()
			sshClient.Close()
			return nil, fmt.Errorf("failed to create base directory: %w", err)
		}
	}

	sd.sshClient = sshClient
	sd.sftpClient = sftpClient
	log.Printf("[SFTPDest] Connected successfully")
	return sftpClient, nil
}

// Close closes the SFTP and SSH connections
func (sd *SFTPDestination) Close() error {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	if sd.sftpClient != nil {
		sd.sftpClient.Close()
		sd.sftpClient = nil
	}
	if sd.sshClient != nil {
		sd.sshClient.Close()
		sd.sshClient = nil
	}
	return nil
}

func (sd *SFTPDestination) remotePath(filename string) string {
	return path.Join(sd.config.Path, filename)
}

// Upload uploads a backup file to the SFTP destination
func (sd *SFTPDestination) Upload(ctx context.Context, filename string, reader io.Reader, sizeBytes int64) error {
	client, err := sd.client(ctx)
	if err != nil {
		return err
	}

	destPath := sd.remotePath(filename)
	tmpPath := destPath + ".partial"
	log.Printf("[SFTPDest] Uploading %s to %s (%d bytes)", filename, destPath, sizeBytes)

	file, err := client.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}

	written, err := file.ReadFrom(&ctxReader{ctx: ctx, r: reader})
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		client.Remove(tmpPath)
		return fmt.Errorf("failed to write remote file: %w", err)
	}
	if sizeBytes >= 0 && written != sizeBytes {
		client.Remove(tmpPath)
		return fmt.Errorf("size mismatch: expected %d bytes, wrote %d bytes", sizeBytes, written)
	}

	if err := client.PosixRename(tmpPath, destPath); err != nil {
		client.Remove(tmpPath)
		return fmt.Errorf("failed to store remote file: %w", err)
	}
	return nil
}

// Download downloads a backup file from the SFTP destination
func (sd *SFTPDestination) Download(ctx context.Context, filename string, writer io.Writer) error {
	client, err := sd.client(ctx)
	if err != nil {
		return err
	}

	file, err := client.Open(sd.remotePath(filename))
	if err != nil {
		return fmt.Errorf("failed to open remote file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteTo(writer); err != nil {
		return fmt.Errorf("failed to read remote file: %w", err)
	}
	return nil
}

// Delete removes a backup file from the SFTP destination
func (sd *SFTPDestination) Delete(ctx context.Context, filename string) error {
	client, err := sd.client(ctx)
	if err != nil {
		return err
	}

	destPath := sd.remotePath(filename)
	log.Printf("[SFTPDest] Deleting %s", destPath)
	if err := client.Remove(destPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete remote file: %w", err)
	}
	return nil
}

// List returns all backup files in the SFTP destination
func (sd *SFTPDestination) List(ctx context.Context) ([]BackupFile, error) {
	client, err := sd.client(ctx)
	if err != nil {
		return nil, err
	}

	dir := sd.config.Path
	if dir == "" {
		dir = "."
	}
	entries, err := client.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read remote directory: %w", err)
	}

	var files []BackupFile
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) == ".partial" {
			continue
		}
		files = append(files, BackupFile{
			Filename:  entry.Name(),
			SizeBytes: entry.Size(),
			CreatedAt: entry.ModTime(),
		})
	}
	return files, nil
}

// GetType returns the destination type
func (sd *SFTPDestination) GetType() string {
	return "sftp"
}
