package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	SteamCMD   SteamCMDConfig   `yaml:"steamcmd" json:"steamcmd"`
	Catalog    CatalogConfig    `yaml:"catalog" json:"catalog"`
	Supervisor SupervisorConfig `yaml:"supervisor" json:"supervisor"`
	Registry   RegistryConfig   `yaml:"registry" json:"registry"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	Backup     BackupConfig     `yaml:"backup" json:"backup"`
	History    HistoryConfig    `yaml:"history" json:"history"`
	Schedule   ScheduleConfig   `yaml:"schedule" json:"schedule"`

	// Initialized is set by the init wizard.
	Initialized bool `yaml:"initialized" json:"initialized"`

	path   string
	loaded bool
}

// StorageConfig contains storage paths
type StorageConfig struct {
	DataDir      string `yaml:"data_dir" json:"data_dir"`
	StateFile    string `yaml:"state_file" json:"state_file"`
	InstallDir   string `yaml:"install_dir" json:"install_dir"`
	CatalogCache string `yaml:"catalog_cache" json:"catalog_cache"`
	HistoryDB    string `yaml:"history_db" json:"history_db"`
	ActivityDir  string `yaml:"activity_dir" json:"activity_dir"`
	BackupDir    string `yaml:"backup_dir" json:"backup_dir"`
}

// SteamCMDConfig locates the content delivery tool
type SteamCMDConfig struct {
	Path            string `yaml:"path" json:"path"`
	AutoBootstrap   bool   `yaml:"auto_bootstrap" json:"auto_bootstrap"`
	DownloadURL     string `yaml:"download_url" json:"download_url"`
	DiagnosticLines int    `yaml:"diagnostic_lines" json:"diagnostic_lines"`
}

// CatalogConfig controls the remote app listing
type CatalogConfig struct {
	URL           string `yaml:"url" json:"url"`
	CacheTTL      string `yaml:"cache_ttl" json:"cache_ttl"`
	DedicatedOnly bool   `yaml:"dedicated_only" json:"dedicated_only"`
}

// SupervisorConfig contains systemd settings
type SupervisorConfig struct {
	Backend  string `yaml:"backend" json:"backend"` // "dbus" or "systemctl"
	UnitDir  string `yaml:"unit_dir" json:"unit_dir"`
	User     string `yaml:"user" json:"user"`
	Group    string `yaml:"group" json:"group"`
	UserMode bool   `yaml:"user_mode" json:"user_mode"`
	Restart  string `yaml:"restart" json:"restart"`
	Enable   bool   `yaml:"enable" json:"enable"`
}

// RegistryConfig contains state file locking settings
type RegistryConfig struct {
	LockTimeout string `yaml:"lock_timeout" json:"lock_timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
	Compress   bool   `yaml:"compress" json:"compress"`
	// Console mirrors log records to stderr.
	Console bool `yaml:"console" json:"console"`
}

// BackupConfig selects where server archives go
type BackupConfig struct {
	Destination      string     `yaml:"destination" json:"destination"` // "local", "s3", "sftp"
	Retention        int        `yaml:"retention" json:"retention"`
	Compression      string     `yaml:"compression" json:"compression"` // "gzip", "none"
	CompressionLevel int        `yaml:"compression_level" json:"compression_level"`
	Exclude          []string   `yaml:"exclude" json:"exclude"`
	S3               S3Config   `yaml:"s3" json:"s3"`
	SFTP             SFTPConfig `yaml:"sftp" json:"sftp"`
}

// S3Config contains S3 destination settings
type S3Config struct {
	Bucket    string `yaml:"bucket" json:"bucket"`
	Region    string `yaml:"region" json:"region"`
	Prefix    string `yaml:"prefix" json:"prefix"`
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	AccessKey string `yaml:"access_key" json:"-"`
	SecretKey string `yaml:"secret_key" json:"-"`
}

// SFTPConfig contains SFTP destination settings
type SFTPConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port"`
	Username        string `yaml:"username" json:"username"`
	Password        string `yaml:"password" json:"-"`
	KeyPath         string `yaml:"key_path" json:"key_path"`
	RemoteDir       string `yaml:"remote_dir" json:"remote_dir"`
	KnownHostsPath  string `yaml:"known_hosts_path" json:"known_hosts_path"`
	TrustOnFirstUse bool   `yaml:"trust_on_first_use" json:"trust_on_first_use"`
}

// HistoryConfig bounds the activity history
type HistoryConfig struct {
	// Retention is how long activities are kept; empty keeps everything.
	Retention string `yaml:"retention" json:"retention"`
}

// ScheduleConfig contains cron expressions for background jobs
type ScheduleConfig struct {
	AutoUpdate   string `yaml:"auto_update" json:"auto_update"`
	Backup       string `yaml:"backup" json:"backup"`
	PruneHistory string `yaml:"prune_history" json:"prune_history"`
}

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() *Config {
	return &Config{
		SteamCMD: SteamCMDConfig{
			AutoBootstrap:   true,
			DownloadURL:     "https://steamcdn-a.akamaihd.net/client/installer/steamcmd_linux.tar.gz",
			DiagnosticLines: 20,
		},
		Catalog: CatalogConfig{
			URL:           "https://api.steampowered.com/ISteamApps/GetAppList/v2/",
			CacheTTL:      "168h", // 7 days
			DedicatedOnly: true,
		},
		Supervisor: SupervisorConfig{
			Backend: "dbus",
			Restart: "on-failure",
			Enable:  true,
		},
		Registry: RegistryConfig{
			LockTimeout: "10s",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     30,
		},
		Backup: BackupConfig{
			Destination: "local",
			Retention:   5,
			Compression: "gzip",
			SFTP: SFTPConfig{
				Port:            22,
				TrustOnFirstUse: true,
			},
		},
		History: HistoryConfig{
			Retention: "2160h", // 90 days
		},
		Schedule: ScheduleConfig{
			AutoUpdate:   "0 4 * * *",
			PruneHistory: "@daily",
		},
	}
}

// Load loads configuration from file and environment variables. An empty
// path resolves through STEAMSERV_CONFIG and the standard locations; a
// missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	configPath := strings.TrimSpace(path)
	if configPath == "" {
		configPath = os.Getenv("STEAMSERV_CONFIG")
	}
	if configPath == "" {
		configPath = resolveConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		cfg.loaded = true
	}

	cfg.applyEnv()

	cfg.path = configPath
	cfg.normalizePaths(configPath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	if dataDir := os.Getenv("STEAMSERV_DATA_DIR"); dataDir != "" {
		c.Storage.DataDir = dataDir
	}

	if installDir := os.Getenv("STEAMSERV_INSTALL_DIR"); installDir != "" {
		c.Storage.InstallDir = installDir
	}

	if stateFile := os.Getenv("STEAMSERV_STATE_FILE"); stateFile != "" {
		c.Storage.StateFile = stateFile
	}

	if steamcmd := os.Getenv("STEAMSERV_STEAMCMD_PATH"); steamcmd != "" {
		c.SteamCMD.Path = steamcmd
	}

	if unitDir := os.Getenv("STEAMSERV_UNIT_DIR"); unitDir != "" {
		c.Supervisor.UnitDir = unitDir
	}

	if backend := os.Getenv("STEAMSERV_SUPERVISOR_BACKEND"); backend != "" {
		c.Supervisor.Backend = backend
	}

	if logLevel := os.Getenv("STEAMSERV_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Supervisor.Backend {
	case "dbus", "systemctl":
	default:
		return fmt.Errorf("supervisor.backend must be dbus or systemctl, got %q", c.Supervisor.Backend)
	}

	switch c.Supervisor.Restart {
	case "no", "always", "on-failure", "on-abnormal", "on-abort", "on-success", "on-watchdog":
	default:
		return fmt.Errorf("supervisor.restart %q is not a systemd restart policy", c.Supervisor.Restart)
	}

	if _, err := c.LockTimeout(); err != nil {
		return err
	}

	if _, err := c.CatalogTTL(); err != nil {
		return err
	}

	if _, err := c.HistoryRetention(); err != nil {
		return err
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}

	switch c.Backup.Compression {
	case "", "gzip", "none":
	default:
		return fmt.Errorf("backup.compression must be gzip or none, got %q", c.Backup.Compression)
	}

	switch c.Backup.Destination {
	case "", "local":
	case "s3":
		if c.Backup.S3.Bucket == "" || c.Backup.S3.Region == "" {
			return fmt.Errorf("backup.s3 requires bucket and region")
		}
	case "sftp":
		if c.Backup.SFTP.Host == "" || c.Backup.SFTP.Username == "" {
			return fmt.Errorf("backup.sftp requires host and username")
		}
		if c.Backup.SFTP.KeyPath == "" && c.Backup.SFTP.Password == "" {
			return fmt.Errorf("backup.sftp requires key_path or password")
		}
	default:
		return fmt.Errorf("unsupported backup destination: %s", c.Backup.Destination)
	}

	if c.Backup.Retention < 0 {
		return fmt.Errorf("backup.retention must not be negative")
	}

	for name, spec := range map[string]string{
		"schedule.auto_update":   c.Schedule.AutoUpdate,
		"schedule.backup":        c.Schedule.Backup,
		"schedule.prune_history": c.Schedule.PruneHistory,
	} {
		if strings.TrimSpace(spec) == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%s: invalid cron expression %q: %w", name, spec, err)
		}
	}

	return nil
}

// LockTimeout returns the registry lock wait bound.
func (c *Config) LockTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Registry.LockTimeout)
	if err != nil {
		return 0, fmt.Errorf("registry.lock_timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("registry.lock_timeout must not be negative")
	}
	return d, nil
}

// CatalogTTL returns how long a fetched catalog stays fresh.
func (c *Config) CatalogTTL() (time.Duration, error) {
	if strings.TrimSpace(c.Catalog.CacheTTL) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Catalog.CacheTTL)
	if err != nil {
		return 0, fmt.Errorf("catalog.cache_ttl: %w", err)
	}
	return d, nil
}

// HistoryRetention returns how long activities are kept. Zero keeps
// everything.
func (c *Config) HistoryRetention() (time.Duration, error) {
	if strings.TrimSpace(c.History.Retention) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.History.Retention)
	if err != nil {
		return 0, fmt.Errorf("history.retention: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("history.retention must not be negative")
	}
	return d, nil
}

// Path returns the file the configuration was loaded from (or would be saved to).
func (c *Config) Path() string {
	return c.path
}

// Loaded reports whether a config file existed.
func (c *Config) Loaded() bool {
	return c.loaded
}

func resolveConfigPath() string {
	var candidates []string
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "steamserv", "config.yaml"))
	}
	candidates = append(candidates, "/etc/steamserv/config.yaml")

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	if os.Geteuid() == 0 || len(candidates) == 1 {
		return candidates[len(candidates)-1]
	}
	return candidates[0]
}

// Save writes the configuration back to disk
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace config: %w", err)
	}
	cfg.path = path
	cfg.loaded = true
	return nil
}

func (c *Config) normalizePaths(configPath string) {
	baseDir := filepath.Dir(configPath)
	if !filepath.IsAbs(baseDir) {
		if absBase, err := filepath.Abs(baseDir); err == nil {
			baseDir = absBase
		}
	}

	resolvePath := func(value string) string {
		trimmed := expandHome(strings.TrimSpace(value))
		if trimmed == "" {
			return ""
		}
		if filepath.IsAbs(trimmed) {
			return filepath.Clean(trimmed)
		}
		return filepath.Clean(filepath.Join(baseDir, trimmed))
	}

	if strings.TrimSpace(c.Storage.DataDir) == "" {
		c.Storage.DataDir = defaultDataDir(baseDir)
	}
	c.Storage.DataDir = resolvePath(c.Storage.DataDir)

	defaults := []struct {
		target *string
		value  string
	}{
		{&c.Storage.StateFile, filepath.Join(c.Storage.DataDir, "servers.yaml")},
		{&c.Storage.InstallDir, filepath.Join(c.Storage.DataDir, "servers")},
		{&c.Storage.CatalogCache, filepath.Join(c.Storage.DataDir, "server_cache.json")},
		{&c.Storage.HistoryDB, filepath.Join(c.Storage.DataDir, "history.db")},
		{&c.Storage.ActivityDir, filepath.Join(c.Storage.DataDir, "activity")},
		{&c.Storage.BackupDir, filepath.Join(c.Storage.DataDir, "backups")},
		{&c.SteamCMD.Path, filepath.Join(c.Storage.DataDir, "steamcmd", "steamcmd.sh")},
		{&c.Backup.SFTP.KnownHostsPath, filepath.Join(c.Storage.DataDir, "known_hosts")},
		{&c.Logging.File, filepath.Join(c.Storage.DataDir, "logs", "steamserv.log")},
	}
	for _, d := range defaults {
		if strings.TrimSpace(*d.target) == "" {
			*d.target = d.value
		}
		*d.target = resolvePath(*d.target)
	}

	if strings.TrimSpace(c.Supervisor.UnitDir) == "" {
		c.Supervisor.UnitDir = defaultUnitDir(c.Supervisor.UserMode)
	}
	c.Supervisor.UnitDir = resolvePath(c.Supervisor.UnitDir)

	if c.Backup.SFTP.KeyPath != "" {
		c.Backup.SFTP.KeyPath = resolvePath(c.Backup.SFTP.KeyPath)
	}
}

func defaultDataDir(configDir string) string {
	if os.Geteuid() == 0 {
		return "/var/lib/steamserv"
	}
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "steamserv")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "steamserv")
	}
	return filepath.Join(configDir, "data")
}

func defaultUnitDir(userMode bool) string {
	if userMode {
		if dir, err := os.UserConfigDir(); err == nil {
			return filepath.Join(dir, "systemd", "user")
		}
	}
	return "/etc/systemd/system"
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
