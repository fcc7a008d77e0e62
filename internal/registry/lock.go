package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/TheGojiOG/steamserv/internal/errs"
)

// fileLock is an exclusive flock(2) on the registry's lock file. Each
// acquisition opens its own descriptor, so two handles in one process
// exclude each other the same way two processes do.
type fileLock struct {
	file *os.File
}

func acquireLock(path string, timeout, poll time.Duration) (*fileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errs.E(errs.FilesystemError, "registry.lock", "", fmt.Errorf("failed to create lock directory: %w", err))
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errs.E(errs.FilesystemError, "registry.lock", "", fmt.Errorf("failed to open lock file: %w", err))
	}

	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)

	for {
		err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &fileLock{file: file}, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			file.Close()
			return nil, errs.E(errs.FilesystemError, "registry.lock", "", fmt.Errorf("failed to lock %s: %w", path, err))
		}
		if !time.Now().Before(deadline) {
			file.Close()
			return nil, errs.Ef(errs.RegistryLocked, "registry.lock", "", "%s is held by another steamserv process (waited %s)", path, timeout)
		}
		time.Sleep(poll)
	}
}

func (l *fileLock) release() {
	if l == nil || l.file == nil {
		return
	}
	unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	l.file.Close()
	l.file = nil
}
