package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	MediaServer MediaServerConfig `mapstructure:"mediaserver"`
	Sonarr      ArrConfig         `mapstructure:"sonarr"`
	Radarr      ArrConfig         `mapstructure:"radarr"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Path   string `mapstructure:"path"`
}

// MediaServerConfig holds the media-server connection.
type MediaServerConfig struct {
	Type  string `mapstructure:"type"` // "plex" or "jellyfin"
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

// ArrConfig holds a downloader connection. An empty URL disables it.
type ArrConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

// SchedulerConfig holds job cadences. Cron fields are 5-field expressions;
// interval fields are plain counts.
type SchedulerConfig struct {
	Timezone             string `mapstructure:"timezone"`
	AnalyzerCron         string `mapstructure:"analyzer_cron"`
	QueueCron            string `mapstructure:"queue_cron"`
	CleanupCron          string `mapstructure:"cleanup_cron"`
	VelocityCleanupCron  string `mapstructure:"velocity_cleanup_cron"`
	DeltaSyncSeconds     int    `mapstructure:"delta_sync_seconds"`
	VelocityCheckMinutes int    `mapstructure:"velocity_check_minutes"`
	RedownloadMinutes    int    `mapstructure:"redownload_minutes"`
	WatchlistMinutes     int    `mapstructure:"watchlist_minutes"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Path: "./data/viperarr.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		MediaServer: MediaServerConfig{
			Type: "plex",
		},
		Scheduler: SchedulerConfig{
			Timezone:             "UTC",
			AnalyzerCron:         "0 2 * * *",
			QueueCron:            "0 * * * *",
			CleanupCron:          "0 3 * * *",
			VelocityCleanupCron:  "0 3 * * *",
			DeltaSyncSeconds:     60,
			VelocityCheckMinutes: 120,
			RedownloadMinutes:    360,
			WatchlistMinutes:     1,
		},
	}
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > config file > defaults
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.viperarr")
	}

	v.SetEnvPrefix("VIPERARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// A missing config file is fine; defaults plus env vars carry it.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("database.path", "./data/viperarr.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.path", "")

	v.SetDefault("mediaserver.type", "plex")
	v.SetDefault("mediaserver.url", "")
	v.SetDefault("mediaserver.token", "")

	v.SetDefault("sonarr.url", "")
	v.SetDefault("sonarr.api_key", "")
	v.SetDefault("radarr.url", "")
	v.SetDefault("radarr.api_key", "")

	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.analyzer_cron", "0 2 * * *")
	v.SetDefault("scheduler.queue_cron", "0 * * * *")
	v.SetDefault("scheduler.cleanup_cron", "0 3 * * *")
	v.SetDefault("scheduler.velocity_cleanup_cron", "0 3 * * *")
	v.SetDefault("scheduler.delta_sync_seconds", 60)
	v.SetDefault("scheduler.velocity_check_minutes", 120)
	v.SetDefault("scheduler.redownload_minutes", 360)
	v.SetDefault("scheduler.watchlist_minutes", 1)
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
