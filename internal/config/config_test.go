package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kartikbazzad/bunbase/replicator/internal/replay"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replicator.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
postgres:
  url: postgres://localhost/replica
mongo:
  uri: mongodb://localhost:27017
namespaces:
  - namespace: shop.Orders
    table: orders
  - namespace: shop.users
    table: users
    schema: replica
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Namespaces[0].Namespace != "shop.Orders" || cfg.Namespaces[0].Schema != "public" {
		t.Errorf("unexpected namespace %+v", cfg.Namespaces[0])
	}
	if cfg.Namespaces[1].Schema != "replica" {
		t.Errorf("schema override lost: %+v", cfg.Namespaces[1])
	}
	if cfg.Mongo.Database != "local" || cfg.Mongo.Collection != "oplog.rs" {
		t.Errorf("unexpected mongo %+v", cfg.Mongo)
	}
	if cfg.Progress.Driver != DriverPostgres || cfg.Progress.Table != "replicator_progress" {
		t.Errorf("unexpected progress %+v", cfg.Progress)
	}
	opts := cfg.ReplayOptions()
	if opts.OnInvalid != replay.PolicyHalt || !opts.Follow || opts.RetailInterval != time.Second {
		t.Errorf("unexpected replay options %+v", opts)
	}
	if cfg.Import.Workers != 4 || cfg.Import.BatchSize != 100 {
		t.Errorf("unexpected import %+v", cfg.Import)
	}
	if cfg.Server.Addr != ":9464" || cfg.Server.Enabled {
		t.Errorf("unexpected server %+v", cfg.Server)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
namespaces:
  - namespace: shop.users
    table: users
`)
	t.Setenv("REPLICATOR_REPLAY_ONINVALID", "skip")
	t.Setenv("REPLICATOR_PROGRESS_DRIVER", "sqlite")
	t.Setenv("REPLICATOR_IMPORT_BATCHSIZE", "250")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Replay.OnInvalid != "skip" || cfg.Progress.Driver != DriverSQLite || cfg.Import.BatchSize != 250 {
		t.Errorf("overrides not applied: %+v %+v %+v", cfg.Replay, cfg.Progress, cfg.Import)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Namespaces: []Namespace{{Namespace: "a.b", Table: "b"}},
			Progress:   ProgressConfig{Driver: DriverSQLite},
			Replay:     ReplayConfig{OnInvalid: "halt"},
		}
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"valid", func(*Config) {}, nil},
		{"no namespaces", func(c *Config) { c.Namespaces = nil }, ErrNoNamespaces},
		{"empty table", func(c *Config) { c.Namespaces[0].Table = "" }, ErrEmptyNamespace},
		{"duplicate", func(c *Config) { c.Namespaces = append(c.Namespaces, Namespace{Namespace: "a.b", Table: "c"}) }, ErrDuplicateMapped},
		{"driver", func(c *Config) { c.Progress.Driver = "redis" }, ErrUnknownDriver},
		{"policy", func(c *Config) { c.Replay.OnInvalid = "ignore" }, ErrUnknownPolicy},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.want == nil {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("Validate() = %v, want %v", err, tc.want)
			}
		})
	}
}
