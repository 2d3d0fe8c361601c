// Package config loads backend configuration from YAML and opens the
// configured store.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Driver names accepted in the config file.
const (
	DriverRedis   = "redis"
	DriverNeo4j   = "neo4j"
	DriverParquet = "parquet"
)

// Config selects a backend driver and holds its connection settings.
type Config struct {
	Driver string `yaml:"driver"` // redis, neo4j, parquet

	// ForceExact disables the native vector index on every search for
	// drivers that have one.
	ForceExact bool `yaml:"force_exact"`

	Redis   RedisConfig   `yaml:"redis"`
	Neo4j   Neo4jConfig   `yaml:"neo4j"`
	Parquet ParquetConfig `yaml:"parquet"`
	Logging LoggingConfig `yaml:"logging"`
}

// RedisConfig holds Redis Stack connection and index settings.
type RedisConfig struct {
	Addrs           []string `yaml:"addrs"`
	Username        string   `yaml:"username"`
	Password        string   `yaml:"password"`
	DB              int      `yaml:"db"`
	KeyPrefix       string   `yaml:"key_prefix"`
	HNSWM           int      `yaml:"hnsw_m"`
	HNSWEFConstruct int      `yaml:"hnsw_ef_construction"`
	EFRuntime       int      `yaml:"ef_runtime"`
}

// Neo4jConfig holds Neo4j connection settings.
type Neo4jConfig struct {
	URI         string `yaml:"uri"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	Database    string `yaml:"database"`
	LabelPrefix string `yaml:"label_prefix"`

	// MaxConnPoolSize caps the driver connection pool (0 = driver default).
	MaxConnPoolSize int `yaml:"max_conn_pool_size"`
	// ConnAcquisitionTimeout bounds the wait for a pooled connection, as a
	// duration string like "30s" (empty = driver default).
	ConnAcquisitionTimeout string `yaml:"conn_acquisition_timeout"`
}

// ParquetConfig holds local segment storage settings.
type ParquetConfig struct {
	Dir string `yaml:"dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Env   string `yaml:"env"`   // local, dev, prod (default: local)
	Level string `yaml:"level"` // debug, info, warn, error
}

// Load reads a YAML config file, substitutes ${VAR} and ${VAR:-default}
// references, applies defaults and validates.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(path string) Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Driver == "" {
		c.Driver = DriverRedis
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "polyvec:"
	}
	if c.Redis.HNSWM <= 0 {
		c.Redis.HNSWM = 16
	}
	if c.Redis.HNSWEFConstruct <= 0 {
		c.Redis.HNSWEFConstruct = 200
	}
	if c.Neo4j.LabelPrefix == "" {
		c.Neo4j.LabelPrefix = "Polyvec"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "local"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverRedis:
		if len(c.Redis.Addrs) == 0 {
			return fmt.Errorf("redis.addrs is required")
		}
	case DriverNeo4j:
		if c.Neo4j.URI == "" {
			return fmt.Errorf("neo4j.uri is required")
		}
		if c.Neo4j.ConnAcquisitionTimeout != "" {
			if _, err := time.ParseDuration(c.Neo4j.ConnAcquisitionTimeout); err != nil {
				return fmt.Errorf("neo4j.conn_acquisition_timeout: %w", err)
			}
		}
	case DriverParquet:
		if c.Parquet.Dir == "" {
			return fmt.Errorf("parquet.dir is required")
		}
	default:
		return fmt.Errorf("driver must be %q, %q or %q, got %q",
			DriverRedis, DriverNeo4j, DriverParquet, c.Driver)
	}
	return nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
