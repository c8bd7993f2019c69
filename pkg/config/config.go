package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is used when no --config path is given.
const DefaultFileName = "mastodb.yaml"

// DefaultDiscoveryEndpoint is the instances.social listing API.
const DefaultDiscoveryEndpoint = "https://instances.social/api/1.0/instances/list"

// MaxPageSize is the largest page Mastodon serves on public timelines.
const MaxPageSize = 40

// Config holds all configuration for the crawler
type Config struct {
	Store          StoreConfig          `yaml:"store" json:"store"`
	Discovery      DiscoveryConfig      `yaml:"discovery" json:"discovery"`
	InstanceFilter InstanceFilterConfig `yaml:"instance_filter" json:"instance_filter"`
	PostFilter     PostFilterConfig     `yaml:"post_filter" json:"post_filter"`
	Attributes     AttributesConfig     `yaml:"attributes" json:"attributes"`
	Fetch          FetchConfig          `yaml:"fetch" json:"fetch"`
	Logging        LoggingConfig        `yaml:"logging" json:"logging"`
	Checkpoint     CheckpointConfig     `yaml:"checkpoint" json:"checkpoint"`
}

// StoreConfig selects and connects the persistent store.
type StoreConfig struct {
	// Driver is one of postgres, sqlite or memory.
	Driver   string `yaml:"driver" json:"driver"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Database string `yaml:"database" json:"database"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	// Path is the database file for the sqlite driver.
	Path     string `yaml:"path" json:"path"`
	MaxConns int32  `yaml:"max_conns" json:"max_conns"`
}

// DiscoveryConfig configures the instances.social client.
type DiscoveryConfig struct {
	Endpoint string        `yaml:"endpoint" json:"endpoint"`
	Token    string        `yaml:"token" json:"token"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// InstanceFilterConfig selects candidate instances from discovery.
type InstanceFilterConfig struct {
	AmountOfInstances int      `yaml:"amount_of_instances" json:"amount_of_instances"`
	MinUsers          int      `yaml:"min_users" json:"min_users"`
	MinActiveUsers    int      `yaml:"min_active_users" json:"min_active_users"`
	AmountStatuses    int      `yaml:"amount_statuses" json:"amount_statuses"`
	Languages         []string `yaml:"languages" json:"languages"`
	IncludeClosed     bool     `yaml:"include_closed" json:"include_closed"`
	MinObsScore       *float64 `yaml:"min_obs_score" json:"min_obs_score"`
}

// PostFilterConfig selects which fetched statuses are stored. Nil means the
// criterion is not applied.
type PostFilterConfig struct {
	HasMedia  *bool    `yaml:"has_media" json:"has_media"`
	HasImage  *bool    `yaml:"has_image" json:"has_image"`
	HasVideo  *bool    `yaml:"has_video" json:"has_video"`
	Substring *string  `yaml:"substring" json:"substring"`
	Languages []string `yaml:"languages" json:"languages"`
}

// AttributesConfig enables the fields projected into stored posts.
type AttributesConfig struct {
	Date              bool `yaml:"date" json:"date"`
	Content           bool `yaml:"content" json:"content"`
	HTMLParsedContent bool `yaml:"html_parsed_content" json:"html_parsed_content"`
	Language          bool `yaml:"language" json:"language"`
	URL               bool `yaml:"url" json:"url"`
	UID               bool `yaml:"uid" json:"uid"`
	Sensitive         bool `yaml:"sensitive" json:"sensitive"`
	FavouritesCount   bool `yaml:"favourites_count" json:"favourites_count"`
	Tags              bool `yaml:"tags" json:"tags"`
	Media             bool `yaml:"media" json:"media"`
}

// FetchConfig tunes the pagination loops and bootstrap probes.
type FetchConfig struct {
	PageSize             int           `yaml:"page_size" json:"page_size"`
	RequestTimeout       time.Duration `yaml:"request_timeout" json:"request_timeout"`
	SeedTimeout          time.Duration `yaml:"seed_timeout" json:"seed_timeout"`
	InfoTimeout          time.Duration `yaml:"info_timeout" json:"info_timeout"`
	RequestsPerMinute    int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	Burst                int           `yaml:"burst" json:"burst"`
	MaxFailedAttempts    int           `yaml:"max_failed_attempts" json:"max_failed_attempts"`
	BackoffBase          time.Duration `yaml:"backoff_base" json:"backoff_base"`
	BackoffMax           time.Duration `yaml:"backoff_max" json:"backoff_max"`
	BootstrapConcurrency int           `yaml:"bootstrap_concurrency" json:"bootstrap_concurrency"`
	UserAgent            string        `yaml:"user_agent" json:"user_agent"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	// Format is console or json.
	Format string `yaml:"format" json:"format"`
	File   string `yaml:"file" json:"file"`
}

// CheckpointConfig locates the telemetry spill file.
type CheckpointConfig struct {
	Dir string `yaml:"dir" json:"dir"`
}

// requiredKeys are the documented keys every config file must carry, even
// when their value is null.
var requiredKeys = map[string][]string{
	"store":           {"host", "port", "database", "username", "password"},
	"instance_filter": {"amount_of_instances", "min_users", "min_active_users", "amount_statuses", "languages", "include_closed", "min_obs_score"},
	"post_filter":     {"has_media", "has_image", "has_video", "substring", "languages"},
	"attributes":      {"date", "content", "html_parsed_content", "language", "url", "uid", "sensitive", "favourites_count", "tags", "media"},
}

// MissingKeysError reports documented keys absent from a config file.
type MissingKeysError struct {
	Path string
	Keys []string
}

func (e *MissingKeysError) Error() string {
	return fmt.Sprintf("%s is missing required keys %s; delete the file to recreate it with defaults",
		e.Path, strings.Join(e.Keys, ", "))
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Driver:   "postgres",
			Host:     "localhost",
			Port:     5432,
			Database: "mastodb",
			Username: "mastodb",
			Password: "",
			Path:     "mastodb.sqlite",
			MaxConns: 10,
		},
		Discovery: DiscoveryConfig{
			Endpoint: DefaultDiscoveryEndpoint,
			Timeout:  30 * time.Second,
		},
		InstanceFilter: InstanceFilterConfig{
			AmountOfInstances: 100,
			MinUsers:          800,
			MinActiveUsers:    20,
			AmountStatuses:    10,
		},
		Attributes: AttributesConfig{
			Content: true,
			URL:     true,
		},
		Fetch: FetchConfig{
			PageSize:             MaxPageSize,
			RequestTimeout:       30 * time.Second,
			SeedTimeout:          10 * time.Second,
			InfoTimeout:          3 * time.Second,
			RequestsPerMinute:    60,
			Burst:                5,
			MaxFailedAttempts:    5,
			BackoffBase:          time.Second,
			BackoffMax:           time.Minute,
			BootstrapConcurrency: 16,
			UserAgent:            "mastodb/1.0",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	strs := map[string]*string{
		"MASTODB_STORE_DRIVER":    &c.Store.Driver,
		"MASTODB_STORE_HOST":      &c.Store.Host,
		"MASTODB_STORE_DATABASE":  &c.Store.Database,
		"MASTODB_STORE_USERNAME":  &c.Store.Username,
		"MASTODB_STORE_PASSWORD":  &c.Store.Password,
		"MASTODB_STORE_PATH":      &c.Store.Path,
		"MASTODB_DISCOVERY_TOKEN": &c.Discovery.Token,
		"MASTODB_LOG_LEVEL":       &c.Logging.Level,
		"MASTODB_LOG_FORMAT":      &c.Logging.Format,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"MASTODB_STORE_PORT":          &c.Store.Port,
		"MASTODB_REQUESTS_PER_MINUTE": &c.Fetch.RequestsPerMinute,
	}
	var errs []error
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		*dst = n
	}
	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file. The file must contain
// every documented key.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	if missing := missingKeys(raw); len(missing) > 0 {
		return &MissingKeysError{Path: path, Keys: missing}
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func missingKeys(raw map[string]any) []string {
	var missing []string
	for section, keys := range requiredKeys {
		values, ok := raw[section].(map[string]any)
		if !ok {
			missing = append(missing, section)
			continue
		}
		for _, key := range keys {
			if _, ok := values[key]; !ok {
				missing = append(missing, section+"."+key)
			}
		}
	}
	sort.Strings(missing)
	return missing
}

// EnsureFile writes a default configuration to path if nothing exists there.
// It reports whether a file was created.
func EnsureFile(path string) (bool, error) {
	info, err := os.Stat(path)
	if err == nil {
		if info.IsDir() {
			return false, fmt.Errorf("config path %s is a directory", path)
		}
		return false, nil
	}
	if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := DefaultConfig().Save(path); err != nil {
		return false, err
	}
	return true, nil
}

const fileHeader = `# mastodb configuration
#
# Keys set to null are not applied. Every key below must stay present.
# Environment variables prefixed with MASTODB_ override file values,
# for example MASTODB_STORE_PASSWORD or MASTODB_DISCOVERY_TOKEN.

`

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, append([]byte(fileHeader), data...), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case "postgres":
		if c.Store.Host == "" {
			errs = append(errs, errors.New("store host is required for postgres"))
		}
		if c.Store.Port <= 0 || c.Store.Port > 65535 {
			errs = append(errs, errors.New("store port must be between 1 and 65535"))
		}
		if c.Store.Database == "" {
			errs = append(errs, errors.New("store database is required for postgres"))
		}
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store path is required for sqlite"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}

	if c.InstanceFilter.AmountOfInstances <= 0 {
		errs = append(errs, errors.New("amount_of_instances must be positive"))
	}
	if c.InstanceFilter.MinUsers < 0 || c.InstanceFilter.MinActiveUsers < 0 || c.InstanceFilter.AmountStatuses < 0 {
		errs = append(errs, errors.New("instance filter thresholds cannot be negative"))
	}
	for _, lang := range append(append([]string{}, c.InstanceFilter.Languages...), c.PostFilter.Languages...) {
		if strings.TrimSpace(lang) == "" {
			errs = append(errs, errors.New("language tags cannot be empty"))
			break
		}
	}

	f := c.Fetch
	if f.PageSize <= 0 || f.PageSize > MaxPageSize {
		errs = append(errs, fmt.Errorf("page_size must be between 1 and %d", MaxPageSize))
	}
	if f.RequestTimeout <= 0 || f.SeedTimeout <= 0 || f.InfoTimeout <= 0 {
		errs = append(errs, errors.New("fetch timeouts must be positive"))
	}
	if f.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("requests_per_minute cannot be negative"))
	}
	if f.RequestsPerMinute > 0 && f.Burst <= 0 {
		errs = append(errs, errors.New("burst must be positive when rate limiting"))
	}
	if f.MaxFailedAttempts <= 0 {
		errs = append(errs, errors.New("max_failed_attempts must be positive"))
	}
	if f.BackoffBase <= 0 || f.BackoffMax < f.BackoffBase {
		errs = append(errs, errors.New("backoff_base must be positive and not exceed backoff_max"))
	}
	if f.BootstrapConcurrency <= 0 {
		errs = append(errs, errors.New("bootstrap_concurrency must be positive"))
	}

	if c.Discovery.Endpoint != "" {
		if _, err := url.ParseRequestURI(c.Discovery.Endpoint); err != nil {
			errs = append(errs, fmt.Errorf("invalid discovery endpoint: %w", err))
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "warning": true, "error": true, "disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Logging.Level))
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		errs = append(errs, fmt.Errorf("invalid log format %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// PostgresDSN builds a connection URL from the store settings.
func (s StoreConfig) PostgresDSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(s.Host, strconv.Itoa(s.Port)),
		Path:   "/" + s.Database,
	}
	if s.Username != "" {
		if s.Password != "" {
			u.User = url.UserPassword(s.Username, s.Password)
		} else {
			u.User = url.User(s.Username)
		}
	}
	return u.String()
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := flags["store"].(string); ok && v != "" {
		c.Store.Driver = v
	}
	if v, ok := flags["sqlite-path"].(string); ok && v != "" {
		c.Store.Path = v
	}
	if v, ok := flags["page-size"].(int); ok && v > 0 {
		c.Fetch.PageSize = v
	}
	if v, ok := flags["rate-limit"].(int); ok && v >= 0 {
		c.Fetch.RequestsPerMinute = v
	}
	if v, ok := flags["token"].(string); ok && v != "" {
		c.Discovery.Token = v
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
//
// A missing config file is created with defaults first.
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")

	if configPath == "" {
		configPath = DefaultFileName
	}
	if _, err := EnsureFile(configPath); err != nil {
		return nil, err
	}

	config := DefaultConfig()
	if err := config.LoadFromFile(configPath); err != nil {
		return nil, err
	}
	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}
