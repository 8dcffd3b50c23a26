// Package config loads the crosswalk's configuration from file and
// environment and initializes the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Census    CensusConfig    `yaml:"census" mapstructure:"census"`
	Crosswalk CrosswalkConfig `yaml:"crosswalk" mapstructure:"crosswalk"`
	Geo       GeoConfig       `yaml:"geo" mapstructure:"geo"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the run-ledger backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "postgres" or "sqlite"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CensusConfig configures the ACS statistics provider.
type CensusConfig struct {
	APIKey        string  `yaml:"api_key" mapstructure:"api_key"`
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	MaxAttempts   int     `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// CrosswalkConfig configures a run.
type CrosswalkConfig struct {
	Year            int      `yaml:"year" mapstructure:"year"`
	DefaultRegions  []string `yaml:"default_regions" mapstructure:"default_regions"`
	Concurrency     int      `yaml:"concurrency" mapstructure:"concurrency"`
	LenientGeometry bool     `yaml:"lenient_geometry" mapstructure:"lenient_geometry"`
	CatalogPath     string   `yaml:"catalog_path" mapstructure:"catalog_path"`
	CatalogSheet    string   `yaml:"catalog_sheet" mapstructure:"catalog_sheet"`
}

// GeoConfig configures the PostGIS side.
type GeoConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Schema      string `yaml:"schema" mapstructure:"schema"`
}

// ServerConfig configures the read-only results API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SABXWALK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "crosswalk.db")
	v.SetDefault("census.base_url", "https://api.census.gov/data")
	v.SetDefault("census.rate_per_second", 2.0)
	v.SetDefault("census.max_attempts", 3)
	v.SetDefault("crosswalk.year", 2023)
	v.SetDefault("crosswalk.concurrency", 4)
	v.SetDefault("crosswalk.catalog_sheet", "variables")
	v.SetDefault("geo.schema", "geo")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the fields the given mode needs: "run" (full pipeline),
// "load" (geo loaders only), "serve" (results API).
func (c *Config) Validate(mode string) error {
	var missing []string

	requireGeoDB := func() {
		if c.Geo.DatabaseURL == "" && c.Store.DatabaseURL == "" {
			missing = append(missing, "geo.database_url (or store.database_url) is required")
		}
	}
	requireStore := func() {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				missing = append(missing, "store.database_url is required")
			}
		case "sqlite":
			if c.Store.SQLitePath == "" {
				missing = append(missing, "store.sqlite_path is required")
			}
		default:
			missing = append(missing, "store.driver must be postgres or sqlite")
		}
	}

	switch mode {
	case "run":
		requireGeoDB()
		requireStore()
		if c.Crosswalk.Year <= 0 {
			missing = append(missing, "crosswalk.year must be > 0")
		}
		if c.Crosswalk.Concurrency < 1 || c.Crosswalk.Concurrency > 32 {
			missing = append(missing, "crosswalk.concurrency must be between 1 and 32")
		}
		if c.Crosswalk.CatalogPath == "" {
			missing = append(missing, "crosswalk.catalog_path is required")
		}
	case "load":
		requireGeoDB()
	case "serve":
		requireStore()
		if c.Server.Port <= 0 {
			missing = append(missing, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.New("config: " + strings.Join(missing, "; "))
	}
	return nil
}

// GeoDatabaseURL resolves the PostGIS connection string, falling back to the
// store URL when both sides share one database.
func (c *Config) GeoDatabaseURL() string {
	if c.Geo.DatabaseURL != "" {
		return c.Geo.DatabaseURL
	}
	return c.Store.DatabaseURL
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
