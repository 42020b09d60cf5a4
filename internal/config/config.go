// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"hostmonitor/internal/database"
)

type Config struct {
	Server        ServerConfig       `yaml:"server"`
	Database      DatabaseConfig     `yaml:"database"`
	Prometheus    PrometheusConfig   `yaml:"prometheus"`
	Monitoring    MonitoringConfig   `yaml:"monitoring"`
	Logging       LoggingConfig      `yaml:"logging"`
	Notifications NotificationConfig `yaml:"notifications"`
	Hosts         []HostConfig       `yaml:"hosts"`
	Include       IncludeConfig      `yaml:"include"`
}

type ServerConfig struct {
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Type string `yaml:"type"` // boltdb | memory
	Path string `yaml:"path"`
}

type PrometheusConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MetricsPath string `yaml:"metrics_path"`
}

type MonitoringConfig struct {
	AutoStart       *bool         `yaml:"auto_start"`
	EventBuffer     int           `yaml:"event_buffer"`
	HistorySize     int           `yaml:"history_size"`
	OfflineReminder time.Duration `yaml:"offline_reminder"`
	CheckTimeout    time.Duration `yaml:"check_timeout"`
}

// ShouldAutoStart reports whether monitoring starts with the process.
func (m MonitoringConfig) ShouldAutoStart() bool {
	return m.AutoStart == nil || *m.AutoStart
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type NotificationConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Pushover PushoverConfig `yaml:"pushover"`
}

type IncludeConfig struct {
	Directory string `yaml:"directory"`
	Pattern   string `yaml:"pattern"`
	Enabled   bool   `yaml:"enabled"`
}

type HostConfig struct {
	ID        string         `yaml:"id"`
	Name      string         `yaml:"name"`
	Hostname  string         `yaml:"hostname"`
	IPAddress string         `yaml:"ip_address"`
	Group     string         `yaml:"group"`
	Type      string         `yaml:"type"`
	Methods   []MethodConfig `yaml:"methods"`
}

type MethodConfig struct {
	Type     string        `yaml:"type"`
	Enabled  *bool         `yaml:"enabled"`
	Port     int           `yaml:"port"`
	Timeout  time.Duration `yaml:"timeout"`
	Interval time.Duration `yaml:"interval"`
}

// SeedID returns the configured id, or one derived from name and address so
// the same seed maps to the same stored host across restarts.
func (h HostConfig) SeedID() string {
	if h.ID != "" {
		return h.ID
	}
	key := strings.Join([]string{h.Name, h.Hostname, h.IPAddress}, "|")
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("hostmonitor:seed:"+key)).String()
}

// ToHost converts a seed definition into a repository host. Durations are
// truncated to whole milliseconds / seconds; zero falls back to the defaults.
func (h HostConfig) ToHost() database.Host {
	host := database.Host{
		ID:        h.SeedID(),
		Name:      h.Name,
		Hostname:  h.Hostname,
		IPAddress: h.IPAddress,
		Group:     h.Group,
		Type:      database.HostType(strings.ToLower(h.Type)),
	}
	for _, m := range h.Methods {
		host.Methods = append(host.Methods, database.CheckMethod{
			Type:            database.MethodType(strings.ToLower(m.Type)),
			Enabled:         m.Enabled == nil || *m.Enabled,
			Port:            m.Port,
			TimeoutMs:       int(m.Timeout.Milliseconds()),
			IntervalSeconds: int(m.Interval / time.Second),
		})
	}
	return host
}

// PartialConfig is the shape of an include file.
type PartialConfig struct {
	Hosts []HostConfig `yaml:"hosts,omitempty"`
}

func Load(filename string) (*Config, error) {
	config, err := loadConfigFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load main config file: %w", err)
	}

	if config.Include.Enabled && config.Include.Directory != "" {
		if err := loadIncludes(config, filepath.Dir(filename)); err != nil {
			return nil, fmt.Errorf("failed to load includes: %w", err)
		}
	}

	SetDefaults(config)

	if err := validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Default returns a configuration with every default applied and no hosts.
func Default() *Config {
	cfg := &Config{}
	SetDefaults(cfg)
	return cfg
}

func loadConfigFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &config, nil
}

func loadIncludes(config *Config, baseDir string) error {
	includeDir := config.Include.Directory
	if !filepath.IsAbs(includeDir) {
		includeDir = filepath.Join(baseDir, includeDir)
	}

	if _, err := os.Stat(includeDir); os.IsNotExist(err) {
		return fmt.Errorf("include directory does not exist: %s", includeDir)
	}

	pattern := config.Include.Pattern
	if pattern == "" {
		pattern = "*.yaml"
	}

	matches, err := filepath.Glob(filepath.Join(includeDir, pattern))
	if err != nil {
		return fmt.Errorf("failed to glob include pattern: %w", err)
	}
	if pattern == "*.yaml" {
		ymlMatches, err := filepath.Glob(filepath.Join(includeDir, "*.yml"))
		if err != nil {
			return fmt.Errorf("failed to glob .yml files: %w", err)
		}
		matches = append(matches, ymlMatches...)
	}

	sort.Slice(matches, func(i, j int) bool {
		return filepath.Base(matches[i]) < filepath.Base(matches[j])
	})

	for _, match := range matches {
		if err := loadAndMergeInclude(config, match); err != nil {
			return fmt.Errorf("failed to load include file %s: %w", match, err)
		}
	}

	return nil
}

func loadAndMergeInclude(config *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read include file: %w", err)
	}

	var partial PartialConfig
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("failed to parse include file YAML: %w", err)
	}

	mergeHosts(config, partial.Hosts)
	return nil
}

// mergeHosts appends new hosts; a host with an ID already present replaces it.
func mergeHosts(config *Config, hosts []HostConfig) {
	index := make(map[string]int, len(config.Hosts))
	for i, h := range config.Hosts {
		if h.ID != "" {
			index[h.ID] = i
		}
	}

	for _, h := range hosts {
		if i, ok := index[h.ID]; ok && h.ID != "" {
			config.Hosts[i] = h
			continue
		}
		config.Hosts = append(config.Hosts, h)
		if h.ID != "" {
			index[h.ID] = len(config.Hosts) - 1
		}
	}
}

func SetDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8000"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}

	if cfg.Database.Type == "" {
		cfg.Database.Type = "boltdb"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/hostmonitor.db"
	}

	if cfg.Include.Pattern == "" {
		cfg.Include.Pattern = "*.yaml"
	}

	if cfg.Monitoring.EventBuffer == 0 {
		cfg.Monitoring.EventBuffer = 500
	}
	if cfg.Monitoring.HistorySize == 0 {
		cfg.Monitoring.HistorySize = 60
	}
	if cfg.Monitoring.OfflineReminder == 0 {
		cfg.Monitoring.OfflineReminder = 30 * time.Second
	}
	if cfg.Monitoring.CheckTimeout == 0 {
		cfg.Monitoring.CheckTimeout = 30 * time.Second
	}

	if cfg.Prometheus.MetricsPath == "" {
		cfg.Prometheus.MetricsPath = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 10
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 5
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 14
	}

	if cfg.Notifications.Pushover.Title == "" {
		cfg.Notifications.Pushover.Title = "Host Monitor: {{.Host}}"
	}
	if cfg.Notifications.Pushover.Template == "" {
		cfg.Notifications.Pushover.Template = "{{.Message}}"
	}
	if len(cfg.Notifications.Pushover.OnlyOn) == 0 {
		cfg.Notifications.Pushover.OnlyOn = []string{"offline", "online", "reminder"}
	}
	if cfg.Notifications.Pushover.Sound == "" {
		cfg.Notifications.Pushover.Sound = "pushover"
	}
	if cfg.Notifications.Pushover.Throttle.Window == 0 {
		cfg.Notifications.Pushover.Throttle.Window = 15 * time.Minute
	}
	if cfg.Notifications.Pushover.Throttle.MaxPerHost == 0 {
		cfg.Notifications.Pushover.Throttle.MaxPerHost = 5
	}
	if cfg.Notifications.Pushover.Throttle.MaxTotal == 0 {
		cfg.Notifications.Pushover.Throttle.MaxTotal = 20
	}
}

var validMethodTypes = map[database.MethodType]bool{
	database.MethodPing: true,
	database.MethodTCP:  true,
}

// validate collects every problem instead of stopping at the first one.
func validate(cfg *Config) error {
	var errs error

	if cfg.Database.Type != "boltdb" && cfg.Database.Type != "memory" {
		errs = multierr.Append(errs, fmt.Errorf("database.type must be boltdb or memory, got %q", cfg.Database.Type))
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		errs = multierr.Append(errs, fmt.Errorf("logging.format must be text or json, got %q", cfg.Logging.Format))
	}
	if cfg.Monitoring.OfflineReminder < 0 {
		errs = multierr.Append(errs, errors.New("monitoring.offline_reminder must not be negative"))
	}

	if cfg.Notifications.Enabled {
		if err := cfg.Notifications.Pushover.Validate(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("notifications.pushover: %w", err))
		}
	}

	if cfg.Include.Enabled {
		if cfg.Include.Directory == "" {
			errs = multierr.Append(errs, errors.New("include.directory must be specified when include.enabled is true"))
		}
		if !isValidGlobPattern(cfg.Include.Pattern) {
			errs = multierr.Append(errs, fmt.Errorf("include.pattern contains invalid glob pattern: %s", cfg.Include.Pattern))
		}
	}

	hostIDs := make(map[string]bool)
	for i, hc := range cfg.Hosts {
		label := hc.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		id := hc.SeedID()
		if hostIDs[id] {
			errs = multierr.Append(errs, fmt.Errorf("duplicate host ID: %s", id))
		}
		hostIDs[id] = true

		for _, m := range hc.Methods {
			if m.Interval > 0 && m.Interval < time.Second {
				errs = multierr.Append(errs, fmt.Errorf("host %s: %s interval %s is below one second", label, m.Type, m.Interval))
			}
		}

		host := hc.ToHost()
		if err := host.Validate(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("host %s: %w", label, err))
		}
		for _, m := range host.Methods {
			if !validMethodTypes[m.Type] {
				errs = multierr.Append(errs, fmt.Errorf("host %s: unknown method type %q", label, m.Type))
			}
		}
	}

	return errs
}

func isValidGlobPattern(pattern string) bool {
	if strings.Contains(pattern, "/") || strings.Contains(pattern, "\\") {
		return false
	}
	_, err := filepath.Match(pattern, "test.yaml")
	return err == nil
}
