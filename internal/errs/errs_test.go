package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorMatchesSentinelByKind(t *testing.T) {
	err := E(NotFound, "get", "cs-server", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected NotFound to match sentinel")
	}
	if errors.Is(err, ErrNameConflict) {
		t.Fatalf("NotFound must not match NameConflict")
	}

	wrapped := fmt.Errorf("outer: %w", err)
	if !errors.Is(wrapped, ErrNotFound) {
		t.Fatalf("expected wrapped error to match sentinel")
	}
	if KindOf(wrapped) != NotFound {
		t.Fatalf("unexpected kind: %s", KindOf(wrapped))
	}
}

func TestErrorMessageNamesServerOpAndKind(t *testing.T) {
	err := Ef(ServerBusy, "uninstall", "cs-server", "stop it first")
	msg := err.Error()
	for _, want := range []string{"uninstall", "cs-server", "ServerBusy", "stop it first"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q missing %q", msg, want)
		}
	}
}

func TestWrapKeepsExistingKind(t *testing.T) {
	inner := E(PathConflict, "", "", errors.New("taken"))
	err := Wrap(inner, FilesystemError, "install", "ark")
	if KindOf(err) != PathConflict {
		t.Fatalf("expected PathConflict, got %s", KindOf(err))
	}
	if !strings.HasPrefix(err.Error(), "install ark: PathConflict") {
		t.Fatalf("unexpected message: %s", err)
	}

	plain := Wrap(errors.New("disk full"), FilesystemError, "install", "ark")
	if !errors.Is(plain, ErrFilesystem) {
		t.Fatalf("expected FilesystemError, got %v", plain)
	}

	if Wrap(nil, FilesystemError, "install", "ark") != nil {
		t.Fatalf("expected nil for nil error")
	}
}
