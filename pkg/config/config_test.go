package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const fullConfig = `
store:
  driver: sqlite
  host: db.internal
  port: 5433
  database: crawl
  username: crawler
  password: secret
  path: crawl.sqlite
instance_filter:
  amount_of_instances: 50
  min_users: 100
  min_active_users: 5
  amount_statuses: 1000
  languages: [en, de]
  include_closed: true
  min_obs_score: 75.5
post_filter:
  has_media: null
  has_image: true
  has_video: null
  substring: "fediverse"
  languages: [en]
attributes:
  date: true
  content: true
  html_parsed_content: true
  language: false
  url: true
  uid: false
  sensitive: false
  favourites_count: true
  tags: false
  media: true
fetch:
  page_size: 20
  request_timeout: 15s
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mastodb.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Fetch.PageSize != 40 {
		t.Errorf("Expected default page size to be 40, got %d", config.Fetch.PageSize)
	}
	if config.InstanceFilter.MinUsers != 800 || config.InstanceFilter.MinActiveUsers != 20 {
		t.Errorf("Unexpected instance filter defaults: %+v", config.InstanceFilter)
	}
	if !config.Attributes.Content || !config.Attributes.URL || config.Attributes.HTMLParsedContent {
		t.Errorf("Unexpected attribute defaults: %+v", config.Attributes)
	}
	if config.PostFilter.HasMedia != nil || config.InstanceFilter.MinObsScore != nil {
		t.Error("Expected nullable filter settings to default to nil")
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Default config should validate, got %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, fullConfig)

	config := DefaultConfig()
	if err := config.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if config.Store.Driver != "sqlite" || config.Store.Port != 5433 {
		t.Errorf("Unexpected store config: %+v", config.Store)
	}
	if config.PostFilter.HasImage == nil || !*config.PostFilter.HasImage {
		t.Error("Expected has_image to be true")
	}
	if config.PostFilter.HasMedia != nil {
		t.Error("Expected has_media to stay nil")
	}
	if config.PostFilter.Substring == nil || *config.PostFilter.Substring != "fediverse" {
		t.Error("Expected substring to be set")
	}
	if config.InstanceFilter.MinObsScore == nil || *config.InstanceFilter.MinObsScore != 75.5 {
		t.Error("Expected min_obs_score to be 75.5")
	}
	if config.Fetch.PageSize != 20 || config.Fetch.RequestTimeout != 15*time.Second {
		t.Errorf("Unexpected fetch config: %+v", config.Fetch)
	}
	// Keys absent from the file keep their defaults.
	if config.Fetch.SeedTimeout != 10*time.Second {
		t.Errorf("Expected default seed timeout, got %v", config.Fetch.SeedTimeout)
	}
}

func TestLoadFromFileMissingKeys(t *testing.T) {
	body := strings.Replace(fullConfig, "  substring: \"fediverse\"\n", "", 1)
	body = strings.Replace(body, "  password: secret\n", "", 1)
	path := writeConfig(t, body)

	err := DefaultConfig().LoadFromFile(path)
	var missing *MissingKeysError
	if !errors.As(err, &missing) {
		t.Fatalf("Expected MissingKeysError, got %v", err)
	}
	want := []string{"post_filter.substring", "store.password"}
	if strings.Join(missing.Keys, ",") != strings.Join(want, ",") {
		t.Errorf("Missing keys = %v, want %v", missing.Keys, want)
	}
}

func TestLoadFromFileMalformed(t *testing.T) {
	path := writeConfig(t, "store: [unclosed\n")
	if err := DefaultConfig().LoadFromFile(path); err == nil {
		t.Error("Expected parse error for malformed YAML")
	}
}

func TestLoadCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mastodb.yaml")

	config, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Expected config file to be created: %v", err)
	}
	if config.Fetch.PageSize != MaxPageSize {
		t.Errorf("Expected default page size, got %d", config.Fetch.PageSize)
	}

	// The created file must pass the required-keys check on reload.
	if err := DefaultConfig().LoadFromFile(path); err != nil {
		t.Errorf("Reloading generated defaults failed: %v", err)
	}
}

func TestEnsureFileRejectsDirectory(t *testing.T) {
	if _, err := EnsureFile(t.TempDir()); err == nil {
		t.Error("Expected error for directory path")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MASTODB_STORE_PASSWORD", "from-env")
	t.Setenv("MASTODB_STORE_PORT", "6543")
	t.Setenv("MASTODB_DISCOVERY_TOKEN", "tok")

	config := DefaultConfig()
	if err := config.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if config.Store.Password != "from-env" || config.Store.Port != 6543 {
		t.Errorf("Unexpected store config: %+v", config.Store)
	}
	if config.Discovery.Token != "tok" {
		t.Errorf("Expected token from env, got %q", config.Discovery.Token)
	}

	t.Setenv("MASTODB_STORE_PORT", "not-a-number")
	if err := DefaultConfig().LoadFromEnv(); err == nil {
		t.Error("Expected error for non-numeric port")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"sqlite without path", func(c *Config) { c.Store.Driver = "sqlite"; c.Store.Path = "" }, true},
		{"memory store", func(c *Config) { c.Store.Driver = "memory" }, false},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, true},
		{"page size too large", func(c *Config) { c.Fetch.PageSize = 80 }, true},
		{"zero failed attempts", func(c *Config) { c.Fetch.MaxFailedAttempts = 0 }, true},
		{"backoff max below base", func(c *Config) { c.Fetch.BackoffMax = time.Millisecond }, true},
		{"rate limiting disabled", func(c *Config) { c.Fetch.RequestsPerMinute = 0; c.Fetch.Burst = 0 }, false},
		{"empty language tag", func(c *Config) { c.PostFilter.Languages = []string{"en", " "} }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	s := StoreConfig{Host: "db", Port: 5432, Database: "crawl", Username: "u", Password: "p@ss"}
	if got := s.PostgresDSN(); got != "postgres://u:p%40ss@db:5432/crawl" {
		t.Errorf("PostgresDSN() = %s", got)
	}
}

func TestMergeCommandLineFlags(t *testing.T) {
	config := DefaultConfig()
	config.MergeCommandLineFlags(map[string]interface{}{
		"log-level": "debug",
		"store":     "memory",
		"page-size": 10,
	})
	if config.Logging.Level != "debug" || config.Store.Driver != "memory" || config.Fetch.PageSize != 10 {
		t.Errorf("Flags not merged: %+v %+v", config.Logging, config.Fetch)
	}
}
