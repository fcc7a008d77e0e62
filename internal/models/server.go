package models

import (
	"strconv"
	"strings"
	"time"
)

// Status is the lifecycle state of a managed server.
type Status string

const (
	StatusPending     Status = "pending"
	StatusInstalled   Status = "installed"
	StatusUpdating    Status = "updating"
	StatusStopped     Status = "stopped"
	StatusRunning     Status = "running"
	StatusFailed      Status = "failed"
	StatusUninstalled Status = "uninstalled"
)

// AllStatuses lists every status in declaration order.
var AllStatuses = []Status{
	StatusPending,
	StatusInstalled,
	StatusUpdating,
	StatusStopped,
	StatusRunning,
	StatusFailed,
	StatusUninstalled,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsInstalled reports whether the status implies files on disk.
func (s Status) IsInstalled() bool {
	return s == StatusInstalled || s == StatusStopped || s == StatusRunning
}

// LoginType is how SteamCMD authenticates for a server's app.
type LoginType string

const (
	LoginAnonymous    LoginType = "anonymous"
	LoginSteamAccount LoginType = "steam_account"
)

// LoginTypeFor derives the login type from a SteamCMD username.
func LoginTypeFor(username string) LoginType {
	if IsAnonymous(username) {
		return LoginAnonymous
	}
	return LoginSteamAccount
}

// IsAnonymous reports whether username means an anonymous SteamCMD login.
func IsAnonymous(username string) bool {
	u := strings.TrimSpace(username)
	return u == "" || strings.EqualFold(u, "anonymous")
}

// OperationLease marks a record as owned by a running operation.
type OperationLease struct {
	ID        string    `yaml:"id" json:"id"`
	Action    string    `yaml:"action" json:"action"`
	PID       int       `yaml:"pid" json:"pid"`
	StartedAt time.Time `yaml:"started_at" json:"started_at"`
}

// ServerRecord is one managed game server instance.
type ServerRecord struct {
	Name          string          `yaml:"name" json:"name"`
	AppID         int             `yaml:"app_id" json:"app_id"`
	AppName       string          `yaml:"app_name,omitempty" json:"app_name,omitempty"`
	InstallPath   string          `yaml:"install_path,omitempty" json:"install_path,omitempty"`
	OwnerUsername string          `yaml:"owner_username,omitempty" json:"owner_username,omitempty"`
	LoginType     LoginType       `yaml:"login_type" json:"login_type"`
	Status        Status          `yaml:"status" json:"status"`
	UnitName      string          `yaml:"unit_name" json:"unit_name"`
	AutoUpdate    bool            `yaml:"auto_update" json:"auto_update"`
	Port          int             `yaml:"port,omitempty" json:"port,omitempty"`
	LaunchCommand string          `yaml:"launch_command,omitempty" json:"launch_command,omitempty"`
	InstalledAt   *time.Time      `yaml:"installed_at,omitempty" json:"installed_at,omitempty"`
	UpdatedAt     *time.Time      `yaml:"updated_at,omitempty" json:"updated_at,omitempty"`
	LastError     string          `yaml:"last_error,omitempty" json:"last_error,omitempty"`
	Operation     *OperationLease `yaml:"operation,omitempty" json:"operation,omitempty"`
}

// Clone returns a deep copy of the record.
func (r ServerRecord) Clone() ServerRecord {
	c := r
	if r.InstalledAt != nil {
		t := *r.InstalledAt
		c.InstalledAt = &t
	}
	if r.UpdatedAt != nil {
		t := *r.UpdatedAt
		c.UpdatedAt = &t
	}
	if r.Operation != nil {
		op := *r.Operation
		c.Operation = &op
	}
	return c
}

// DisplayName prefers the catalog name and falls back to the app id.
func (r ServerRecord) DisplayName() string {
	if r.AppName != "" {
		return r.AppName
	}
	return "app " + strconv.Itoa(r.AppID)
}
