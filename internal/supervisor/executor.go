package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandExecutor runs a local command and returns its trimmed stdout.
type CommandExecutor interface {
	Execute(ctx context.Context, name string, args ...string) (string, error)
}

// LocalExecutor runs commands on this host.
type LocalExecutor struct{}

func (LocalExecutor) Execute(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return strings.TrimSpace(stdout.String()), fmt.Errorf("%s %s failed: %w (stderr: %s)",
			name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// MockCommandExecutor for testing
type MockCommandExecutor struct {
	MockOutput string
	MockError  error
	Handlers   map[string]func(command string) (string, error)
	Commands   []string
}

func (m *MockCommandExecutor) Execute(ctx context.Context, name string, args ...string) (string, error) {
	command := strings.TrimSpace(name + " " + strings.Join(args, " "))
	m.Commands = append(m.Commands, command)
	if m.Handlers != nil {
		for prefix, handler := range m.Handlers {
			if strings.HasPrefix(command, prefix) {
				return handler(command)
			}
		}
	}
	return m.MockOutput, m.MockError
}
