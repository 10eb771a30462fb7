// Package config loads the YAML file that wires a report engine together:
// where the data lives, which schema describes it and what may be reported
// on.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/asaidimu/go-interrogator/core/interrogator"
	"github.com/asaidimu/go-interrogator/core/persistence"
	"github.com/asaidimu/go-interrogator/core/policy"
	"github.com/asaidimu/go-interrogator/core/schema"
	"github.com/asaidimu/go-interrogator/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config is the root of an interrogator configuration file.
//
//	database:
//	  path: shop.db
//	  tablePrefix: ""
//	schema: shop.schema.json
//	allModels: false
//	models:
//	  - entity: shop:SalesPerson
//	    metadata: {title: Sales staff}
//	    sheets: {basics: [name, age]}
//	excluded: [auth:User, reversion]
//	distinctAggregates: true
//	log:
//	  level: info
type Config struct {
	Database           DatabaseConfig       `yaml:"database"`
	Schema             string               `yaml:"schema"`
	AllModels          bool                 `yaml:"allModels,omitempty"`
	Models             []policy.ReportModel `yaml:"models,omitempty"`
	Excluded           []string             `yaml:"excluded,omitempty"`
	DistinctAggregates *bool                `yaml:"distinctAggregates,omitempty"`
	Log                LogConfig            `yaml:"log,omitempty"`

	// dir resolves relative paths against the directory of the loaded file.
	dir string
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	TablePrefix string `yaml:"tablePrefix,omitempty"`
}

// LogConfig sets the logger level: debug, info, warn or error.
type LogConfig struct {
	Level string `yaml:"level,omitempty"`
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.dir = filepath.Dir(path)
	return cfg, nil
}

// Parse decodes and validates a configuration document. Relative paths are
// resolved against the working directory.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Database.Path) == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if strings.TrimSpace(c.Schema) == "" {
		errs = append(errs, errors.New("schema is required"))
	}
	if !c.AllModels && len(c.Models) == 0 {
		errs = append(errs, errors.New("at least one report model is required unless allModels is set"))
	}
	for i, m := range c.Models {
		if _, err := schema.ParseEntityRef(m.Entity); err != nil {
			errs = append(errs, fmt.Errorf("models[%d]: %w", i, err))
		}
	}
	for i, e := range c.Excluded {
		if _, err := policy.ParseExclusion(e); err != nil {
			errs = append(errs, fmt.Errorf("excluded[%d]: %w", i, err))
		}
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

func (c *Config) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.dir == "" {
		return path
	}
	return filepath.Join(c.dir, path)
}

// DatabasePath returns the database file, resolved against the config file.
func (c *Config) DatabasePath() string {
	if c.Database.Path == ":memory:" {
		return c.Database.Path
	}
	return c.resolve(c.Database.Path)
}

// Registry loads the schema file.
func (c *Config) Registry() (*schema.Registry, error) {
	data, err := os.ReadFile(c.resolve(c.Schema))
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return schema.LoadRegistry(data)
}

// AccessPolicy builds the report policy. Without configured exclusions the
// policy defaults apply.
func (c *Config) AccessPolicy() (*policy.AccessPolicy, error) {
	var excluded []policy.Exclusion
	for _, raw := range c.Excluded {
		e, err := policy.ParseExclusion(raw)
		if err != nil {
			return nil, err
		}
		excluded = append(excluded, e)
	}
	if c.AllModels {
		return policy.AllowAll(c.Models, excluded), nil
	}
	return policy.NewAccessPolicy(c.Models, excluded), nil
}

// InterrogatorOptions returns the engine options.
func (c *Config) InterrogatorOptions() *interrogator.Options {
	options := interrogator.DefaultOptions()
	if c.DistinctAggregates != nil {
		options.DistinctAggregates = *c.DistinctAggregates
	}
	return options
}

// InteractorOptions returns the SQLite store options.
func (c *Config) InteractorOptions() *persistence.InteractorOptions {
	options := sqlite.DefaultInteractorOptions()
	options.TablePrefix = c.Database.TablePrefix
	return options
}

// Logger builds a production JSON logger at the configured level.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.TimeKey = "timestamp"
	return config.Build()
}
