package supervisor

import (
	"context"
	"strings"
)

// SystemctlControl drives systemd through the systemctl binary.
type SystemctlControl struct {
	exec     CommandExecutor
	userMode bool
}

// NewSystemctlControl creates a Control that shells out to systemctl.
func NewSystemctlControl(executor CommandExecutor, userMode bool) *SystemctlControl {
	if executor == nil {
		executor = LocalExecutor{}
	}
	return &SystemctlControl{exec: executor, userMode: userMode}
}

func (c *SystemctlControl) run(ctx context.Context, args ...string) (string, error) {
	if c.userMode {
		args = append([]string{"--user"}, args...)
	}
	return c.exec.Execute(ctx, "systemctl", args...)
}

func (c *SystemctlControl) Reload(ctx context.Context) error {
	_, err := c.run(ctx, "daemon-reload")
	return err
}

func (c *SystemctlControl) Enable(ctx context.Context, unitName string) error {
	_, err := c.run(ctx, "enable", unitName)
	return err
}

func (c *SystemctlControl) Disable(ctx context.Context, unitName string) error {
	_, err := c.run(ctx, "disable", unitName)
	return err
}

func (c *SystemctlControl) Start(ctx context.Context, unitName string) error {
	_, err := c.run(ctx, "start", unitName)
	return err
}

func (c *SystemctlControl) Stop(ctx context.Context, unitName string) error {
	_, err := c.run(ctx, "stop", unitName)
	return err
}

func (c *SystemctlControl) Restart(ctx context.Context, unitName string) error {
	_, err := c.run(ctx, "restart", unitName)
	return err
}

func (c *SystemctlControl) ActiveState(ctx context.Context, unitName string) (string, error) {
	out, err := c.run(ctx, "show", "--property=ActiveState", "--value", unitName)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
