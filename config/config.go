// Package config is the YAML-driven tuning surface for a Database and its
// Connections: cache sizing, MVCC on/off, the pool's busy-timeout, and the
// cron expression for the background cache sweep. Grounded on the
// teacher's own use of gopkg.in/yaml.v3 for its test fixtures — this is
// the one direct teacher dependency dedicated to declarative config.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/objectgraph/godbconn/cache"
)

// Duration wraps time.Duration with a YAML unmarshaler accepting the
// usual Go duration strings ("5s", "250ms"), since yaml.v3 has no builtin
// support for time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("godbconn/config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) AsDuration() time.Duration { return time.Duration(d) }

// Cache configures a Connection's PickleCache.
type Cache struct {
	Target          int      `yaml:"target"`
	DrainResistance int      `yaml:"drain_resistance"`
	SweepCron       string   `yaml:"sweep_cron"`
}

// Database configures a database.Database's connection pool.
type Database struct {
	MaxConnections int      `yaml:"max_connections"`
	BusyTimeout    Duration `yaml:"busy_timeout"`
}

// Config is the top-level document a deployment supplies.
type Config struct {
	Cache    Cache    `yaml:"cache"`
	Database Database `yaml:"database"`
	MVCC     bool     `yaml:"mvcc"`
}

// Default returns the tuning this module ships with when no file is
// supplied: a 1000-object cache target at the teacher-grounded drain
// resistance, MVCC on, no pool limit, no busy timeout, and a five-minute
// sweep cadence.
func Default() Config {
	return Config{
		Cache: Cache{
			Target:          1000,
			DrainResistance: cache.DefaultDrainResistance,
			SweepCron:       "@every 5m",
		},
		Database: Database{},
		MVCC:     true,
	}
}

// Load reads and parses a YAML document at path, starting from Default
// and overlaying whatever fields the document sets.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("godbconn/config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("godbconn/config: parse %s: %w", path, err)
	}
	return cfg, nil
}
