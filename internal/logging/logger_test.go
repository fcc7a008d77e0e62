package logging

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TheGojiOG/steamserv/internal/config"
)

func TestInitRoutesStdLogToFile(t *testing.T) {
	root := t.TempDir()
	logPath := filepath.Join(root, "logs", "steamserv.log")

	_, err := Init(config.LoggingConfig{
		Level:      "debug",
		Format:     "json",
		File:       logPath,
		MaxSize:    10,
		MaxBackups: 1,
		MaxAge:     1,
	})
	if err != nil {
		t.Fatalf("failed to init logger: %v", err)
	}

	log.Printf("[Registry] loaded %d servers", 3)
	L().Info("test_log", "server", "cs-server")
	if err := Close(); err != nil {
		t.Fatalf("failed to close logger: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, `"msg":"loaded 3 servers"`) || !strings.Contains(content, `"component":"registry"`) {
		t.Fatalf("expected std log line tagged with its component, got: %s", content)
	}
	if !strings.Contains(content, "cs-server") {
		t.Fatalf("expected slog attribute in file, got: %s", content)
	}
}

func TestComponentTagsWarnings(t *testing.T) {
	root := t.TempDir()
	logPath := filepath.Join(root, "steamserv.log")

	if _, err := Init(config.LoggingConfig{Level: "info", Format: "json", File: logPath}); err != nil {
		t.Fatalf("failed to init logger: %v", err)
	}
	log.Printf("[Supervisor] Warning: failed to disable %s: %v", "cs.service", "boom")
	Component("SFTP").Info("sftp_host_key_trusted", "host", "backup.example")
	if err := Close(); err != nil {
		t.Fatalf("failed to close logger: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 records, got %d: %s", len(lines), data)
	}
	if !strings.Contains(lines[0], `"level":"WARN"`) || !strings.Contains(lines[0], `"component":"supervisor"`) {
		t.Fatalf("expected warning from supervisor, got: %s", lines[0])
	}
	if !strings.Contains(lines[0], `"msg":"failed to disable cs.service: boom"`) {
		t.Fatalf("expected prefix stripped from message, got: %s", lines[0])
	}
	if !strings.Contains(lines[1], `"component":"sftp"`) {
		t.Fatalf("expected sftp component, got: %s", lines[1])
	}
}

func TestSplitComponent(t *testing.T) {
	tests := []struct {
		in, name, rest string
	}{
		{"[Registry] Removed cs", "registry", "Removed cs"},
		{"no tag here", "", "no tag here"},
		{"[] empty", "", "[] empty"},
		{"[unterminated", "", "[unterminated"},
	}
	for _, tt := range tests {
		name, rest := splitComponent(tt.in)
		if name != tt.name || rest != tt.rest {
			t.Fatalf("splitComponent(%q) = %q, %q; want %q, %q", tt.in, name, rest, tt.name, tt.rest)
		}
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("warning").String() != "WARN" {
		t.Fatalf("expected warning to map to WARN")
	}
	if parseLevel("bogus").String() != "INFO" {
		t.Fatalf("expected unknown level to map to INFO")
	}
}
