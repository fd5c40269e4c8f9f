// Package config is the replicator's configuration: file plus
// REPLICATOR_* environment variables, with defaults and validation.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kartikbazzad/bunbase/replicator/internal/importer"
	"github.com/kartikbazzad/bunbase/replicator/internal/postgres"
	"github.com/kartikbazzad/bunbase/replicator/internal/progress"
	"github.com/kartikbazzad/bunbase/replicator/internal/replay"
	"github.com/kartikbazzad/bunbase/replicator/internal/source/mongo"
	pkgconfig "github.com/kartikbazzad/bunbase/replicator/pkg/config"
	"github.com/kartikbazzad/bunbase/replicator/pkg/logger"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "REPLICATOR_"

// Progress store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds replicator configuration.
type Config struct {
	Log        logger.Config   `mapstructure:"log"`
	Postgres   postgres.Config `mapstructure:"postgres"`
	Mongo      mongo.Config    `mapstructure:"mongo"`
	Namespaces []Namespace     `mapstructure:"namespaces"`
	Progress   ProgressConfig  `mapstructure:"progress"`
	Replay     ReplayConfig    `mapstructure:"replay"`
	Import     importer.Config `mapstructure:"import"`
	Server     ServerConfig    `mapstructure:"server"`
}

// Namespace maps a source "database.collection" to a replica table.
type Namespace struct {
	Namespace string `mapstructure:"namespace"`
	Table     string `mapstructure:"table"`
	Schema    string `mapstructure:"schema"`
}

// ProgressConfig locates the watermark table.
type ProgressConfig struct {
	Driver string `mapstructure:"driver"`
	Table  string `mapstructure:"table"`
	Schema string `mapstructure:"schema"`
	// Path is the SQLite database file.
	Path string `mapstructure:"path"`
}

type ReplayConfig struct {
	OnInvalid      string        `mapstructure:"oninvalid"`
	Follow         bool          `mapstructure:"follow"`
	RetailInterval time.Duration `mapstructure:"retailinterval"`
}

type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Defaults returns the values used when neither file nor environment sets a key.
func Defaults() map[string]any {
	return map[string]any{
		"log.level":             "INFO",
		"log.format":            "json",
		"postgres.host":         "localhost",
		"postgres.port":         5432,
		"postgres.sslmode":      "disable",
		"mongo.database":        "local",
		"mongo.collection":      "oplog.rs",
		"progress.driver":       DriverPostgres,
		"progress.table":        progress.DefaultTable,
		"progress.schema":       "public",
		"progress.path":         "replicator.db",
		"replay.oninvalid":      string(replay.PolicyHalt),
		"replay.follow":         true,
		"replay.retailinterval": "1s",
		"import.workers":        importer.DefaultWorkers,
		"import.batchsize":      importer.DefaultBatchSize,
		"server.enabled":        false,
		"server.addr":           ":9464",
	}
}

// Load reads path (optional) and the environment, then validates.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := pkgconfig.Load(path, EnvPrefix, Defaults(), &cfg); err != nil {
		return nil, err
	}
	for i := range cfg.Namespaces {
		if cfg.Namespaces[i].Schema == "" {
			cfg.Namespaces[i].Schema = "public"
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var (
	ErrNoNamespaces    = errors.New("at least one namespace mapping is required")
	ErrUnknownDriver   = errors.New("unknown progress driver")
	ErrUnknownPolicy   = errors.New("unknown invalid-entry policy")
	ErrEmptyNamespace  = errors.New("namespace and table must not be empty")
	ErrDuplicateMapped = errors.New("namespace mapped more than once")
)

// Validate returns an error describing the first problem found.
func (c *Config) Validate() error {
	if len(c.Namespaces) == 0 {
		return ErrNoNamespaces
	}
	seen := make(map[string]bool, len(c.Namespaces))
	for _, ns := range c.Namespaces {
		if ns.Namespace == "" || ns.Table == "" {
			return fmt.Errorf("%w: %+v", ErrEmptyNamespace, ns)
		}
		if seen[ns.Namespace] {
			return fmt.Errorf("%w: %s", ErrDuplicateMapped, ns.Namespace)
		}
		seen[ns.Namespace] = true
	}

	switch c.Progress.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Progress.Driver)
	}

	switch replay.Policy(c.Replay.OnInvalid) {
	case replay.PolicyHalt, replay.PolicySkip:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPolicy, c.Replay.OnInvalid)
	}
	return nil
}

// ReplayOptions converts the replay section for the driver.
func (c *Config) ReplayOptions() replay.Config {
	return replay.Config{
		OnInvalid:      replay.Policy(c.Replay.OnInvalid),
		Follow:         c.Replay.Follow,
		RetailInterval: c.Replay.RetailInterval,
	}
}
