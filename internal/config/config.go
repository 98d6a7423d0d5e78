// Package config loads the teo YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stackinspector/teo-utils/internal/archive"
)

// Config models the YAML configuration file.
type Config struct {
	Credentials string         `yaml:"credentials"`
	Region      string         `yaml:"region"`
	Logsave     LogsaveConfig  `yaml:"logsave"`
	Ledger      LedgerConfig   `yaml:"ledger"`
	Upload      UploadConfig   `yaml:"upload"`
	Metrics     MetricsConfig  `yaml:"metrics"`
	Schedule    ScheduleConfig `yaml:"schedule"`
	Cert        CertConfig     `yaml:"cert"`
}

// LogsaveConfig configures the day pipeline.
type LogsaveConfig struct {
	Zone        string   `yaml:"zone"`
	UTCOffset   int      `yaml:"utc_offset"`
	OutputDir   string   `yaml:"output_dir"`
	Limit       uint32   `yaml:"limit"`
	Domains     []string `yaml:"domains"`
	Paginate    bool     `yaml:"paginate"`
	FullDay     bool     `yaml:"full_day"`
	Concurrency int      `yaml:"concurrency"`
	Codec       string   `yaml:"codec"`
	Recipients  []string `yaml:"recipients"`
}

// LedgerConfig locates the SQLite ledger. An empty path disables it.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// UploadConfig configures archive upload to S3-compatible storage.
type UploadConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// MetricsConfig names the node-exporter textfile. Empty disables it.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// ScheduleConfig configures the archive daemon.
type ScheduleConfig struct {
	// Cron is a six-field cron expression with seconds, evaluated in the logsave
	// UTC offset.
	Cron string `yaml:"cron"`
	// LagDays is how many days back from today each tick archives.
	LagDays int `yaml:"lag_days"`
	// Listen is the address of the status server. Empty disables it.
	Listen string `yaml:"listen"`
}

// CertConfig configures certificate deployment to EdgeOne.
type CertConfig struct {
	ZoneID        string     `yaml:"zone_id"`
	Hosts         []string   `yaml:"hosts"`
	KeyPath       string     `yaml:"key_path"`
	FullchainPath string     `yaml:"fullchain_path"`
	AliasPrefix   string     `yaml:"alias_prefix"`
	ACME          ACMEConfig `yaml:"acme"`
}

// ACMEConfig configures certificate issuance.
type ACMEConfig struct {
	Email   string   `yaml:"email"`
	Staging bool     `yaml:"staging"`
	Domains []string `yaml:"domains"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Credentials: "credentials.json",
		Logsave: LogsaveConfig{
			UTCOffset:   8,
			OutputDir:   ".",
			Limit:       300,
			Concurrency: 1,
			Codec:       string(archive.CodecXZ),
		},
		Schedule: ScheduleConfig{
			Cron:    "0 30 3 * * *",
			LagDays: 2,
		},
		Cert: CertConfig{
			AliasPrefix: "teo",
		},
	}
}

// Load reads path over the defaults. An empty path returns Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if strings.TrimSpace(c.Credentials) == "" {
		c.Credentials = d.Credentials
	}
	if strings.TrimSpace(c.Logsave.OutputDir) == "" {
		c.Logsave.OutputDir = d.Logsave.OutputDir
	}
	if c.Logsave.Limit == 0 {
		c.Logsave.Limit = d.Logsave.Limit
	}
	if c.Logsave.Concurrency == 0 {
		c.Logsave.Concurrency = d.Logsave.Concurrency
	}
	if strings.TrimSpace(c.Logsave.Codec) == "" {
		c.Logsave.Codec = d.Logsave.Codec
	}
	if strings.TrimSpace(c.Schedule.Cron) == "" {
		c.Schedule.Cron = d.Schedule.Cron
	}
	if strings.TrimSpace(c.Cert.AliasPrefix) == "" {
		c.Cert.AliasPrefix = d.Cert.AliasPrefix
	}
}

// Validate checks the settings every command relies on.
func (c *Config) Validate() error {
	var errs []error
	if c.Logsave.UTCOffset < -12 || c.Logsave.UTCOffset > 14 {
		errs = append(errs, fmt.Errorf("logsave.utc_offset %d out of range", c.Logsave.UTCOffset))
	}
	if c.Logsave.Concurrency < 1 {
		errs = append(errs, errors.New("logsave.concurrency must be at least 1"))
	}
	if _, err := archive.ParseCodec(c.Logsave.Codec); err != nil {
		errs = append(errs, fmt.Errorf("logsave.codec: %w", err))
	}
	if c.Upload.Enabled && c.Upload.Bucket == "" {
		errs = append(errs, errors.New("upload.bucket is required when upload is enabled"))
	}
	if c.Schedule.LagDays < 0 {
		errs = append(errs, errors.New("schedule.lag_days must not be negative"))
	}
	return errors.Join(errs...)
}

// GetEnv returns the environment variable key, or defaultVal when unset.
func GetEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// GetEnvInt is GetEnv for integers. Unparseable values fall back to
// defaultVal.
func GetEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
