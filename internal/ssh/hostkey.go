package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/TheGojiOG/steamserv/internal/logging"
)

// knownHostsStore verifies host keys against a known_hosts file and, when
// trustOnFirstUse is set, records keys for hosts it has never seen.
type knownHostsStore struct {
	path            string
	trustOnFirstUse bool

	mu    sync.Mutex
	check ssh.HostKeyCallback
}

// NewHostKeyCallback returns a host key callback backed by knownHostsPath.
// A changed key is always rejected.
func NewHostKeyCallback(knownHostsPath string, trustOnFirstUse bool) (ssh.HostKeyCallback, error) {
	if strings.TrimSpace(knownHostsPath) == "" {
		return nil, errors.New("a known_hosts path is required")
	}
	if err := ensureKnownHostsFile(knownHostsPath); err != nil {
		return nil, err
	}

	store := &knownHostsStore{path: knownHostsPath, trustOnFirstUse: trustOnFirstUse}
	if err := store.reload(); err != nil {
		return nil, err
	}
	return store.verify, nil
}

func (s *knownHostsStore) reload() error {
	check, err := knownhosts.New(s.path)
	if err != nil {
		return fmt.Errorf("failed to read known_hosts: %w", err)
	}
	s.check = check
	return nil
}

func (s *knownHostsStore) verify(hostname string, remote net.Addr, key ssh.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.check(hostname, remote, key)
	if err == nil {
		return nil
	}

	var keyErr *knownhosts.KeyError
	if !errors.As(err, &keyErr) {
		return err
	}

	fingerprint := ssh.FingerprintSHA256(key)
	if len(keyErr.Want) > 0 {
		logging.Component("sftp").Warn("sftp_host_key_mismatch", "host", hostname, "fingerprint", fingerprint)
		return fmt.Errorf("host key for %s changed (now %s); remove the old entry from %s if this is expected",
			hostname, fingerprint, s.path)
	}

	if !s.trustOnFirstUse {
		return fmt.Errorf("unknown host key %s for %s; add it to %s", fingerprint, hostname, s.path)
	}

	if err := appendKnownHost(s.path, hostname, remote, key); err != nil {
		return err
	}
	logging.Component("sftp").Info("sftp_host_key_trusted", "host", hostname, "fingerprint", fingerprint)
	return s.reload()
}

func ensureKnownHostsFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create known_hosts directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open known_hosts file: %w", err)
	}
	return file.Close()
}

func appendKnownHost(path, hostname string, remote net.Addr, key ssh.PublicKey) error {
	line := knownhosts.Line(knownHostsAddresses(hostname, remote), key) + "\n"

	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open known_hosts file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(line); err != nil {
		return fmt.Errorf("failed to write known_hosts entry: %w", err)
	}
	return nil
}

// knownHostsAddresses lists the dialed name and, if different, the remote IP.
// knownhosts.Normalize drops the default port and brackets the rest.
func knownHostsAddresses(hostname string, remote net.Addr) []string {
	var addrs []string
	if hostname != "" {
		addrs = append(addrs, knownhosts.Normalize(hostname))
	}
	if remote != nil {
		ip := knownhosts.Normalize(remote.String())
		if len(addrs) == 0 || ip != addrs[0] {
			addrs = append(addrs, ip)
		}
	}
	return addrs
}
