package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TheGojiOG/steamserv/internal/config"
	"github.com/TheGojiOG/steamserv/internal/errs"
	"github.com/TheGojiOG/steamserv/internal/models"
)

// logDir outlives the per-test temp dirs; the process logger may still write
// to it after a test's own directory is gone.
var logDir string

func TestMain(m *testing.M) {
	var err error
	logDir, err = os.MkdirTemp("", "steamserv-cli-logs")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	code := m.Run()
	os.RemoveAll(logDir)
	os.Exit(code)
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	path := filepath.Join(root, "config.yaml")
	content := fmt.Sprintf(`storage:
  data_dir: %s
steamcmd:
  auto_bootstrap: false
supervisor:
  backend: systemctl
  unit_dir: %s
logging:
  file: %s
backup:
  s3:
    secret_key: do-not-print
`, filepath.Join(root, "data"), filepath.Join(root, "units"), filepath.Join(logDir, "steamserv.log"))
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, os.Stdin, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestExitCodes(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{errors.New("boom"), exitError},
		{errs.Ef(errs.NotFound, "start", "cs-server", "no server"), exitError},
		{errs.Ef(errs.InvalidRequest, "install", "", "--appid is required"), exitInvalidRequest},
		{fmt.Errorf("wrapped: %w", errs.Ef(errs.RegistryLocked, "registry.insert", "", "held")), exitLocked},
	}
	for _, c := range cases {
		if got := exitCode(c.err); got != c.want {
			t.Fatalf("exitCode(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestFormatError(t *testing.T) {
	err := errs.Ef(errs.ServerBusy, "uninstall", "cs-server", "server is running; stop it first")
	want := "error: uninstall cs-server: ServerBusy: server is running; stop it first"
	if got := formatError(err); got != want {
		t.Fatalf("formatError = %q, want %q", got, want)
	}
}

func TestWriteServerTable(t *testing.T) {
	var buf bytes.Buffer
	err := writeServerTable(&buf, []models.ServerRecord{
		{Name: "cs-server", AppID: 730, Status: models.StatusRunning, InstallPath: "/srv/cs-server"},
		{Name: "rust", AppID: 258550, Status: models.StatusFailed},
	})
	if err != nil {
		t.Fatalf("failed to write table: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %q", buf.String())
	}
	if fields := strings.Fields(lines[0]); strings.Join(fields, " ") != "NAME APP ID STATUS PATH" {
		t.Fatalf("unexpected header %q", lines[0])
	}
	if fields := strings.Fields(lines[2]); len(fields) != 4 || fields[3] != "-" {
		t.Fatalf("expected placeholder path for failed server, got %q", lines[2])
	}
}

func TestHumanBytes(t *testing.T) {
	cases := map[int64]string{
		512:             "512 B",
		2048:            "2.0 KiB",
		5 * 1024 * 1024: "5.0 MiB",
	}
	for in, want := range cases {
		if got := humanBytes(in); got != want {
			t.Fatalf("humanBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestRedactConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Backup.S3.SecretKey = "secret"
	cfg.Backup.SFTP.Password = "hunter2"

	out := redactConfig(cfg)
	if out.Backup.S3.SecretKey != redacted || out.Backup.SFTP.Password != redacted {
		t.Fatalf("expected secrets masked: %+v", out.Backup)
	}
	if out.Backup.S3.AccessKey != "" {
		t.Fatalf("empty secrets should stay empty")
	}
	if cfg.Backup.S3.SecretKey != "secret" {
		t.Fatalf("original config was modified")
	}
}

func TestVersionSkipsConfig(t *testing.T) {
	code, stdout, _ := runCLI(t, "version", "--config", "/nonexistent/dir/config.yaml")
	if code != exitOK || !strings.HasPrefix(stdout, "steamserv ") {
		t.Fatalf("unexpected version output %d %q", code, stdout)
	}
}

func TestUsageErrorsAreInvalidRequests(t *testing.T) {
	code, _, stderr := runCLI(t, "start")
	if code != exitInvalidRequest {
		t.Fatalf("expected exit %d, got %d (%s)", exitInvalidRequest, code, stderr)
	}
	if !strings.HasPrefix(stderr, "error: start: InvalidRequest") {
		t.Fatalf("unexpected error output %q", stderr)
	}

	code, _, _ = runCLI(t, "list", "--no-such-flag")
	if code != exitInvalidRequest {
		t.Fatalf("expected exit %d for unknown flag, got %d", exitInvalidRequest, code)
	}
}

func TestListEmptyRegistry(t *testing.T) {
	cfgPath := writeTestConfig(t)
	code, stdout, stderr := runCLI(t, "--config", cfgPath, "list")
	if code != exitOK {
		t.Fatalf("list failed with %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "No servers found") {
		t.Fatalf("unexpected list output %q", stdout)
	}
}

func TestStartUnknownServer(t *testing.T) {
	cfgPath := writeTestConfig(t)
	code, _, stderr := runCLI(t, "--config", cfgPath, "start", "ghost")
	if code != exitError {
		t.Fatalf("expected exit %d, got %d", exitError, code)
	}
	if !strings.Contains(stderr, "ghost: NotFound") {
		t.Fatalf("expected NotFound error, got %q", stderr)
	}
}

func TestListAvailable(t *testing.T) {
	cfgPath := writeTestConfig(t)
	code, stdout, stderr := runCLI(t, "--config", cfgPath, "list", "--available", "--filter", "rust")
	if code != exitOK {
		t.Fatalf("list --available failed with %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "258550") || !strings.Contains(stdout, "Rust Dedicated Server") {
		t.Fatalf("expected Rust in catalog listing, got %q", stdout)
	}
}

func TestConfigShowMasksSecrets(t *testing.T) {
	cfgPath := writeTestConfig(t)
	code, stdout, stderr := runCLI(t, "--config", cfgPath, "config", "show")
	if code != exitOK {
		t.Fatalf("config show failed with %d: %s", code, stderr)
	}
	if strings.Contains(stdout, "do-not-print") {
		t.Fatalf("secret leaked into config show output")
	}
	if !strings.Contains(stdout, "backend: systemctl") {
		t.Fatalf("expected effective config in output, got %q", stdout)
	}
}

func TestHistoryPrune(t *testing.T) {
	cfgPath := writeTestConfig(t)
	code, stdout, stderr := runCLI(t, "--config", cfgPath, "history", "--prune", "--older-than", "24h")
	if code != exitOK {
		t.Fatalf("history --prune failed with %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Pruned 0 activities older than 24h0m0s") {
		t.Fatalf("unexpected prune output %q", stdout)
	}

	code, stdout, stderr = runCLI(t, "--config", cfgPath, "scheduler", "--once", "prune-history")
	if code != exitOK {
		t.Fatalf("scheduler --once prune-history failed with %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Pruned 0 activities") {
		t.Fatalf("unexpected scheduler output %q", stdout)
	}
}

func TestServerNameFlag(t *testing.T) {
	cfgPath := writeTestConfig(t)
	code, _, stderr := runCLI(t, "--config", cfgPath, "stop", "--server-name", "ghost")
	if code != exitError || !strings.Contains(stderr, "ghost: NotFound") {
		t.Fatalf("expected NotFound for --server-name ghost, got %d %q", code, stderr)
	}

	code, _, stderr = runCLI(t, "--config", cfgPath, "restart", "one", "--server-name", "two")
	if code != exitInvalidRequest {
		t.Fatalf("expected exit %d for conflicting names, got %d (%s)", exitInvalidRequest, code, stderr)
	}

	code, _, stderr = runCLI(t, "--config", cfgPath, "uninstall", "--yes")
	if code != exitInvalidRequest || !strings.Contains(stderr, "--server-name") {
		t.Fatalf("expected usage error naming --server-name, got %d %q", code, stderr)
	}
}
