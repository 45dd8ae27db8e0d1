// Package config loads taskledger settings from taskledger.yaml and
// TASKLEDGER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Persistence drivers.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config groups every setting the CLI needs to build a service.
type Config struct {
	App     AppConfig
	Log     LogConfig
	Store   StoreConfig
	Locks   LockConfig
	Blob    BlobConfig
	Metrics MetricsConfig
}

// AppConfig holds process-wide settings.
type AppConfig struct {
	Env   string // development, staging, production
	Actor string // default actor recorded on transactions
}

// LogConfig selects the zerolog level.
type LogConfig struct {
	Level string
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver      string
	SQLitePath  string
	PostgresDSN string
}

// LockConfig holds the lock manager defaults.
type LockConfig struct {
	Timeout          time.Duration
	FollowUpAttempts int
}

// BlobConfig selects the audit archive backend.
type BlobConfig struct {
	Driver string
	FSRoot string
	S3     S3Config
}

// S3Config parameterizes the S3/MinIO archive driver.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
}

// MetricsConfig holds the Prometheus listener address.
type MetricsConfig struct {
	Addr string
}

// Load reads configuration with viper. Environment variables take
// precedence over the config file; a missing file is not an error.
func Load() (*Config, error) {
	return LoadWith(viper.New())
}

// LoadWith reads configuration through v, which may already carry bound
// flags or an explicit config file.
func LoadWith(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("TASKLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if v.ConfigFileUsed() == "" {
		v.SetConfigName("taskledger")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		App: AppConfig{
			Env:   v.GetString("app.env"),
			Actor: v.GetString("app.actor"),
		},
		Log: LogConfig{Level: v.GetString("log.level")},
		Store: StoreConfig{
			Driver:      strings.ToLower(v.GetString("store.driver")),
			SQLitePath:  v.GetString("store.sqlite_path"),
			PostgresDSN: v.GetString("store.postgres_dsn"),
		},
		Locks: LockConfig{
			Timeout:          v.GetDuration("locks.timeout"),
			FollowUpAttempts: v.GetInt("locks.followup_attempts"),
		},
		Blob: BlobConfig{
			Driver: strings.ToLower(v.GetString("blob.driver")),
			FSRoot: v.GetString("blob.fs_root"),
			S3: S3Config{
				Bucket:          v.GetString("blob.s3.bucket"),
				Region:          v.GetString("blob.s3.region"),
				Endpoint:        v.GetString("blob.s3.endpoint"),
				PathStyle:       v.GetBool("blob.s3.path_style"),
				AccessKeyID:     v.GetString("blob.s3.access_key_id"),
				SecretAccessKey: v.GetString("blob.s3.secret_access_key"),
			},
		},
		Metrics: MetricsConfig{Addr: v.GetString("metrics.addr")},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.actor", "cli")
	v.SetDefault("log.level", "info")
	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("store.sqlite_path", "taskledger.db")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("locks.timeout", 5*time.Second)
	v.SetDefault("locks.followup_attempts", 3)
	v.SetDefault("blob.driver", "fs")
	v.SetDefault("blob.fs_root", "archive")
	v.SetDefault("blob.s3.bucket", "")
	v.SetDefault("blob.s3.region", "us-east-1")
	v.SetDefault("blob.s3.endpoint", "")
	v.SetDefault("blob.s3.path_style", false)
	v.SetDefault("blob.s3.access_key_id", "")
	v.SetDefault("blob.s3.secret_access_key", "")
	v.SetDefault("metrics.addr", ":9090")
}

// Validate checks driver names and the settings each driver requires.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required for the sqlite driver")
		}
	case StorePostgres:
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	switch c.Blob.Driver {
	case "fs", "memory":
	case "s3":
		if c.Blob.S3.Bucket == "" {
			return errors.New("blob.s3.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("unknown blob.driver %q", c.Blob.Driver)
	}
	if c.Locks.Timeout <= 0 {
		return errors.New("locks.timeout must be positive")
	}
	if c.Locks.FollowUpAttempts < 1 {
		return errors.New("locks.followup_attempts must be at least 1")
	}
	if c.App.Actor == "" {
		return errors.New("app.actor is required")
	}
	return nil
}
