package config

import (
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

const DefaultConfigPath = "configs/config.json"

type Config struct {
	Daemon     DaemonConfig     `mapstructure:"daemon" json:"daemon"`
	AWS        AWSConfig        `mapstructure:"aws" json:"aws"`
	Transport  TransportConfig  `mapstructure:"transport" json:"transport"`
	Scan       ScanConfig       `mapstructure:"scan" json:"scan"`
	Quarantine QuarantineConfig `mapstructure:"quarantine" json:"quarantine"`
	Alerting   AlertingConfig   `mapstructure:"alerting" json:"alerting"`
	Storage    StorageConfig    `mapstructure:"storage" json:"storage"`
	API        APIConfig        `mapstructure:"api" json:"api"`
}

type DaemonConfig struct {
	LogLevel        string `mapstructure:"log_level" json:"log_level"`
	LogFormat       string `mapstructure:"log_format" json:"log_format"`
	User            string `mapstructure:"user" json:"user"`
	Group           string `mapstructure:"group" json:"group"`
	DropPrivileges  bool   `mapstructure:"drop_privileges" json:"drop_privileges"`
	ShutdownTimeout string `mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
	SelfIntegrity   bool   `mapstructure:"self_integrity" json:"self_integrity"`
	ExpectedSHA256  string `mapstructure:"expected_sha256" json:"expected_sha256"`
	ScratchDir      string `mapstructure:"scratch_dir" json:"scratch_dir"`
}

type AWSConfig struct {
	Region   string `mapstructure:"region" json:"region"`
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`
}

type TransportConfig struct {
	QueueURL               string `mapstructure:"queue_url" json:"queue_url"`
	WaitTime               string `mapstructure:"wait_time" json:"wait_time"`
	VisibilityTimeout      string `mapstructure:"visibility_timeout" json:"visibility_timeout"`
	HeartbeatInterval      string `mapstructure:"heartbeat_interval" json:"heartbeat_interval"`
	BatchSize              int    `mapstructure:"batch_size" json:"batch_size"`
	Workers                int    `mapstructure:"workers" json:"workers"`
	PoisonReceiveThreshold int    `mapstructure:"poison_receive_threshold" json:"poison_receive_threshold"`
}

type ScanConfig struct {
	ClamscanPath        string `mapstructure:"clamscan_path" json:"clamscan_path"`
	Timeout             string `mapstructure:"timeout" json:"timeout"`
	FreshclamPath       string `mapstructure:"freshclam_path" json:"freshclam_path"`
	DefinitionsSchedule string `mapstructure:"definitions_schedule" json:"definitions_schedule"`
}

type QuarantineConfig struct {
	Bucket string `mapstructure:"bucket" json:"bucket"`
	Prefix string `mapstructure:"prefix" json:"prefix"`
}

type AlertingConfig struct {
	Channels []AlertChannelConfig `mapstructure:"channels" json:"channels"`
}

type AlertChannelConfig struct {
	Type     string `mapstructure:"type" json:"type"`
	Enabled  bool   `mapstructure:"enabled" json:"enabled"`
	TopicARN string `mapstructure:"topic_arn" json:"topic_arn"`
}

type StorageConfig struct {
	DBPath              string `mapstructure:"db_path" json:"db_path"`
	RetentionDays       int    `mapstructure:"retention_days" json:"retention_days"`
	EncryptionKeyBase64 string `mapstructure:"encryption_key_base64" json:"encryption_key_base64"`
}

type APIConfig struct {
	Enabled   bool   `mapstructure:"enabled" json:"enabled"`
	BindAddr  string `mapstructure:"bind_addr" json:"bind_addr"`
	AuthToken string `mapstructure:"auth_token" json:"auth_token"`
}

func Default() Config {
	return Config{
		Daemon: DaemonConfig{
			LogLevel:        "info",
			LogFormat:       "json",
			ShutdownTimeout: "30s",
			ScratchDir:      "/var/lib/avsentry/scratch",
		},
		AWS: AWSConfig{
			Region: "us-east-1",
		},
		Transport: TransportConfig{
			WaitTime:               "20s",
			VisibilityTimeout:      "900s",
			HeartbeatInterval:      "300s",
			BatchSize:              1,
			Workers:                2,
			PoisonReceiveThreshold: 5,
		},
		Scan: ScanConfig{
			ClamscanPath:  "clamscan",
			Timeout:       "300s",
			FreshclamPath: "freshclam",
		},
		Quarantine: QuarantineConfig{
			Prefix: "infected",
		},
		Alerting: AlertingConfig{
			Channels: []AlertChannelConfig{
				{Type: "log", Enabled: true},
			},
		},
		Storage: StorageConfig{
			DBPath:        "/var/lib/avsentry/badger",
			RetentionDays: 30,
		},
		API: APIConfig{
			Enabled:  false,
			BindAddr: "127.0.0.1:8788",
		},
	}
}

// Load reads the optional JSON config file at path and applies
// AVSENTRY_* environment overrides (e.g. AVSENTRY_TRANSPORT_QUEUE_URL)
// on top of the defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix("AVSENTRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrap(err, "read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every leaf key with viper. Registration is what
// lets AutomaticEnv pick a key up even when it is absent from the
// config file.
func setDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("daemon.log_level", def.Daemon.LogLevel)
	v.SetDefault("daemon.log_format", def.Daemon.LogFormat)
	v.SetDefault("daemon.user", def.Daemon.User)
	v.SetDefault("daemon.group", def.Daemon.Group)
	v.SetDefault("daemon.drop_privileges", def.Daemon.DropPrivileges)
	v.SetDefault("daemon.shutdown_timeout", def.Daemon.ShutdownTimeout)
	v.SetDefault("daemon.self_integrity", def.Daemon.SelfIntegrity)
	v.SetDefault("daemon.expected_sha256", def.Daemon.ExpectedSHA256)
	v.SetDefault("daemon.scratch_dir", def.Daemon.ScratchDir)
	v.SetDefault("aws.region", def.AWS.Region)
	v.SetDefault("aws.endpoint", def.AWS.Endpoint)
	v.SetDefault("transport.queue_url", def.Transport.QueueURL)
	v.SetDefault("transport.wait_time", def.Transport.WaitTime)
	v.SetDefault("transport.visibility_timeout", def.Transport.VisibilityTimeout)
	v.SetDefault("transport.heartbeat_interval", def.Transport.HeartbeatInterval)
	v.SetDefault("transport.batch_size", def.Transport.BatchSize)
	v.SetDefault("transport.workers", def.Transport.Workers)
	v.SetDefault("transport.poison_receive_threshold", def.Transport.PoisonReceiveThreshold)
	v.SetDefault("scan.clamscan_path", def.Scan.ClamscanPath)
	v.SetDefault("scan.timeout", def.Scan.Timeout)
	v.SetDefault("scan.freshclam_path", def.Scan.FreshclamPath)
	v.SetDefault("scan.definitions_schedule", def.Scan.DefinitionsSchedule)
	v.SetDefault("quarantine.bucket", def.Quarantine.Bucket)
	v.SetDefault("quarantine.prefix", def.Quarantine.Prefix)
	v.SetDefault("alerting.channels", []map[string]any{{"type": "log", "enabled": true}})
	v.SetDefault("storage.db_path", def.Storage.DBPath)
	v.SetDefault("storage.retention_days", def.Storage.RetentionDays)
	v.SetDefault("storage.encryption_key_base64", def.Storage.EncryptionKeyBase64)
	v.SetDefault("api.enabled", def.API.Enabled)
	v.SetDefault("api.bind_addr", def.API.BindAddr)
	v.SetDefault("api.auth_token", def.API.AuthToken)
}

func (c Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.Daemon.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "daemon.log_level must be one of: debug, info, warn, error")
	}
	switch strings.ToLower(c.Daemon.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, "daemon.log_format must be one of: json, text")
	}
	if c.Daemon.ShutdownTimeout != "" {
		if _, err := time.ParseDuration(c.Daemon.ShutdownTimeout); err != nil {
			errs = append(errs, "daemon.shutdown_timeout must be a valid duration (e.g. 30s)")
		}
	}
	if c.Daemon.DropPrivileges && (c.Daemon.User == "" || c.Daemon.Group == "") {
		errs = append(errs, "daemon.user and daemon.group are required when drop_privileges is true")
	}
	if c.Daemon.SelfIntegrity && c.Daemon.ExpectedSHA256 == "" {
		errs = append(errs, "daemon.expected_sha256 is required when self_integrity is enabled")
	}
	if c.Daemon.ScratchDir == "" {
		errs = append(errs, "daemon.scratch_dir is required")
	} else if !filepath.IsAbs(c.Daemon.ScratchDir) {
		errs = append(errs, "daemon.scratch_dir must be an absolute path")
	}

	if c.AWS.Region == "" {
		errs = append(errs, "aws.region is required")
	}

	if c.Transport.QueueURL == "" {
		errs = append(errs, "transport.queue_url is required")
	}
	for field, value := range map[string]string{
		"transport.wait_time":          c.Transport.WaitTime,
		"transport.visibility_timeout": c.Transport.VisibilityTimeout,
		"transport.heartbeat_interval": c.Transport.HeartbeatInterval,
	} {
		if value == "" {
			errs = append(errs, field+" is required")
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			errs = append(errs, field+" must be a valid duration")
		}
	}
	if c.Transport.BatchSize < 1 || c.Transport.BatchSize > 10 {
		errs = append(errs, "transport.batch_size must be between 1 and 10")
	}
	if c.Transport.Workers < 1 {
		errs = append(errs, "transport.workers must be >= 1")
	}
	if c.Transport.PoisonReceiveThreshold < 1 {
		errs = append(errs, "transport.poison_receive_threshold must be >= 1")
	}
	if wait, verr := time.ParseDuration(c.Transport.WaitTime); verr == nil {
		if wait > 20*time.Second {
			errs = append(errs, "transport.wait_time must not exceed 20s (long-poll ceiling)")
		}
	}
	if vis, verr := time.ParseDuration(c.Transport.VisibilityTimeout); verr == nil {
		if scan, serr := time.ParseDuration(c.Scan.Timeout); serr == nil && vis <= scan {
			errs = append(errs, "transport.visibility_timeout must exceed scan.timeout")
		}
	}

	if c.Scan.ClamscanPath == "" {
		errs = append(errs, "scan.clamscan_path is required")
	}
	if c.Scan.Timeout == "" {
		errs = append(errs, "scan.timeout is required")
	} else if _, err := time.ParseDuration(c.Scan.Timeout); err != nil {
		errs = append(errs, "scan.timeout must be a valid duration")
	}
	if c.Scan.DefinitionsSchedule != "" && c.Scan.FreshclamPath == "" {
		errs = append(errs, "scan.freshclam_path is required when definitions_schedule is set")
	}

	if c.Quarantine.Bucket == "" {
		errs = append(errs, "quarantine.bucket is required")
	}
	if strings.HasPrefix(c.Quarantine.Prefix, "/") || strings.HasSuffix(c.Quarantine.Prefix, "/") {
		errs = append(errs, "quarantine.prefix must not have leading or trailing slashes")
	}

	for i, ch := range c.Alerting.Channels {
		switch ch.Type {
		case "log":
		case "sns":
			if ch.Enabled && ch.TopicARN == "" {
				errs = append(errs, fmt.Sprintf("alerting.channels[%d].topic_arn is required for sns", i))
			}
		default:
			errs = append(errs, fmt.Sprintf("alerting.channels[%d].type must be one of: log, sns", i))
		}
	}

	if c.Storage.DBPath == "" {
		errs = append(errs, "storage.db_path is required")
	} else if !filepath.IsAbs(c.Storage.DBPath) {
		errs = append(errs, "storage.db_path must be an absolute path")
	}
	if c.Storage.RetentionDays < 0 {
		errs = append(errs, "storage.retention_days must be >= 0")
	}
	if c.Storage.EncryptionKeyBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(c.Storage.EncryptionKeyBase64)
		if err != nil {
			errs = append(errs, "storage.encryption_key_base64 must be valid base64")
		} else if len(decoded) != 32 {
			errs = append(errs, "storage.encryption_key_base64 must decode to 32 bytes")
		}
	}

	if c.API.Enabled {
		if c.API.BindAddr == "" {
			errs = append(errs, "api.bind_addr is required when enabled")
		}
		if c.API.AuthToken == "" {
			errs = append(errs, "api.auth_token is required when enabled")
		}
	}

	if len(errs) > 0 {
		return errors.Newf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Redacted returns a copy safe for logging at startup.
func (c Config) Redacted() Config {
	clone := c
	if clone.Storage.EncryptionKeyBase64 != "" {
		clone.Storage.EncryptionKeyBase64 = "REDACTED"
	}
	if clone.API.AuthToken != "" {
		clone.API.AuthToken = "REDACTED"
	}
	return clone
}

func (d DaemonConfig) ShutdownTimeoutDuration() time.Duration {
	return parseOr(d.ShutdownTimeout, 30*time.Second)
}

func (t TransportConfig) WaitTimeDuration() time.Duration {
	return parseOr(t.WaitTime, 20*time.Second)
}

func (t TransportConfig) VisibilityTimeoutDuration() time.Duration {
	return parseOr(t.VisibilityTimeout, 900*time.Second)
}

func (t TransportConfig) HeartbeatIntervalDuration() time.Duration {
	return parseOr(t.HeartbeatInterval, 300*time.Second)
}

func (s ScanConfig) TimeoutDuration() time.Duration {
	return parseOr(s.Timeout, 300*time.Second)
}

func parseOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
