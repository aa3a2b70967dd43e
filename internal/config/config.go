package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const FileName = "s13.yml"

// Config models s13.yml.
type Config struct {
	Report struct {
		Congregation     string `yaml:"congregation"`
		MaxSlots         int    `yaml:"max_slots"`
		MatchWindowHours int    `yaml:"match_window_hours"`
		Timezone         string `yaml:"timezone"`
	} `yaml:"report"`
	Export struct {
		OutputDir string `yaml:"output_dir"`
		Printer   string `yaml:"printer"`
		ChromeBin string `yaml:"chrome_bin"`
	} `yaml:"export"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`
	Source struct {
		Kind          string `yaml:"kind"`
		Path          string `yaml:"path"`
		MongoURI      string `yaml:"mongo_uri"`
		MongoDatabase string `yaml:"mongo_database"`
	} `yaml:"source"`
	Archive struct {
		Schema string `yaml:"schema"`
	} `yaml:"archive"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig posts store events to URL while the API server runs. An empty Events list
// subscribes to every event type.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

func (w WebhookConfig) Active() bool {
	return (w.Enabled == nil || *w.Enabled) && strings.TrimSpace(w.URL) != ""
}

const (
	SourceJSON   = "json"
	SourceSQLite = "sqlite"
	SourceMongo  = "mongo"

	PrinterHTML = "html"
	PrinterPDF  = "pdf"
)

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Report.MaxSlots < 1 {
		return fmt.Errorf("config.report.max_slots must be at least 1")
	}
	if c.Report.MatchWindowHours < 1 {
		return fmt.Errorf("config.report.match_window_hours must be at least 1")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("config.report.timezone: %w", err)
	}
	switch c.Export.Printer {
	case PrinterHTML, PrinterPDF:
	default:
		return fmt.Errorf("config.export.printer must be 'html' or 'pdf'")
	}
	switch c.Source.Kind {
	case SourceJSON:
		if c.Source.Path == "" {
			return fmt.Errorf("config.source.path is required for json sources")
		}
	case SourceSQLite:
	case SourceMongo:
		if c.Source.MongoDatabase == "" {
			return fmt.Errorf("config.source.mongo_database is required for mongo sources")
		}
	default:
		return fmt.Errorf("config.source.kind must be one of json, sqlite, mongo")
	}
	if c.Server.BasePath != "" && c.Server.BasePath[0] != '/' {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	for i, hook := range c.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		u, err := url.Parse(strings.TrimSpace(hook.URL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("config.webhooks[%d].url must be an http(s) url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level %q is not a known level", c.Log.Level)
	}
	return nil
}

// Location resolves report.timezone; empty means the local zone.
func (c *Config) Location() (*time.Location, error) {
	switch c.Report.Timezone {
	case "", "Local":
		return time.Local, nil
	}
	return time.LoadLocation(c.Report.Timezone)
}

// MatchWindow is the assigned-date tolerance used when pairing history records.
func (c *Config) MatchWindow() time.Duration {
	return time.Duration(c.Report.MatchWindowHours) * time.Hour
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault(congregation string) string {
	return fmt.Sprintf(defaultTemplate, congregation)
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config %s not found; create one with s13 config init", path)
	}
	return FromFile(path)
}

// LoadOptional falls back to the defaults when the workspace has no config file.
func LoadOptional(workspace string) (*Config, error) {
	cfg, err := FromFile(Path(workspace))
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, ""))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys left out keep their
// default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `report:
  congregation: "%s"
  max_slots: 4
  match_window_hours: 24
  timezone: Local

export:
  output_dir: .
  printer: html
  chrome_bin: ""

server:
  addr: 127.0.0.1:8080
  base_path: ""

log:
  level: info
  file: ""

source:
  # json: a territories/territoryHistory export file
  # sqlite: the workspace store filled by s13 import
  # mongo: territories and territoryHistory collections
  kind: sqlite
  path: ""
  mongo_uri: ""
  mongo_database: ""

archive:
  schema: s13_archive

# Notified by s13 serve, e.g.
# webhooks:
#   - url: https://example.org/hooks/s13
#     events: [report.generated]
#     secret: ""
webhooks: []
`
