package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/edgefleet/authcore/internal/database"
)

// Config represents the runtime configuration for the authcore service.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Events      EventsConfig      `mapstructure:"events"`
	Peers       PeersConfig       `mapstructure:"peers"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Audit       AuditConfig       `mapstructure:"audit"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string            `mapstructure:"host"`
	Port     int               `mapstructure:"port"`
	Database string            `mapstructure:"database"`
	Username string            `mapstructure:"username"`
	Password string            `mapstructure:"password"`
	Options  map[string]string `mapstructure:"options"`
}

// EventsConfig configures the NATS event bus.
type EventsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// PeersConfig points at the peer services consulted for referential checks.
type PeersConfig struct {
	AccountServiceURL      string        `mapstructure:"account_service_url"`
	OrganizationServiceURL string        `mapstructure:"organization_service_url"`
	Timeout                time.Duration `mapstructure:"timeout"`
	CacheSize              int           `mapstructure:"cache_size"`
}

// MaintenanceConfig controls the background sweeper.
type MaintenanceConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// AuditConfig toggles audit trail persistence.
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("AUTHCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

// DatabaseOptions maps the loaded configuration onto the database layer.
func (c *Config) DatabaseOptions() database.Config {
	cfg := database.Config{
		Driver: c.Database.Driver,
		Path:   c.Database.Path,
		DSN:    c.Database.DSN,
	}

	switch strings.ToLower(strings.TrimSpace(c.Database.Driver)) {
	case "postgres", "postgresql":
		cfg.Host = c.Database.Postgres.Host
		cfg.Port = c.Database.Postgres.Port
		cfg.Name = c.Database.Postgres.Database
		cfg.User = c.Database.Postgres.Username
		cfg.Password = c.Database.Postgres.Password
		cfg.Options = c.Database.Postgres.Options
	case "mysql", "mariadb":
		cfg.Host = c.Database.MySQL.Host
		cfg.Port = c.Database.MySQL.Port
		cfg.Name = c.Database.MySQL.Database
		cfg.User = c.Database.MySQL.Username
		cfg.Password = c.Database.MySQL.Password
		cfg.Options = c.Database.MySQL.Options
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/authcore.sqlite")

	v.SetDefault("events.enabled", false)
	v.SetDefault("events.url", "nats://127.0.0.1:4222")

	v.SetDefault("peers.account_service_url", "http://127.0.0.1:8001")
	v.SetDefault("peers.organization_service_url", "http://127.0.0.1:8002")
	v.SetDefault("peers.timeout", "2s")
	v.SetDefault("peers.cache_size", 1000)

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.schedule", "@hourly")

	v.SetDefault("audit.enabled", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
