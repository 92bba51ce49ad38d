package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/solatis/annotator/internal/core/logging"
	"github.com/spf13/viper"
)

// ErrCredentialsInConfig rejects database passwords in config files.
var ErrCredentialsInConfig = errors.New("database credentials not allowed in config files (use ANNOTATOR_DATABASE_URL environment variable or --db-url)")

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence; flags are
// applied by the caller on the returned Config.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	def := Default()
	v.SetDefault("database.url", def.Database.URL)
	v.SetDefault("engine.max_workers", def.Engine.MaxWorkers)
	v.SetDefault("engine.eval_timeout", def.Engine.EvalTimeout.String())
	v.SetDefault("engine.include_inactive", def.Engine.IncludeInactive)
	v.SetDefault("server.host", def.Server.Host)
	v.SetDefault("server.port", def.Server.Port)
	v.SetDefault("server.max_recv_bytes", def.Server.MaxRecvBytes)
	v.SetDefault("server.shutdown_timeout", def.Server.ShutdownTimeout.String())
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)

	// ANNOTATOR_SERVER_PORT overrides server.port
	v.SetEnvPrefix("ANNOTATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		// Checked on the file alone: the environment may carry credentials.
		file := viper.New()
		file.SetConfigFile(configPath)
		if err := file.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := validateNoCredentialsInConfig(file); err != nil {
			return nil, err
		}
		if err := v.MergeConfigMap(file.AllSettings()); err != nil {
			return nil, fmt.Errorf("failed to merge config file: %w", err)
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{URL: v.GetString("database.url")},
		Engine: EngineConfig{
			MaxWorkers:      v.GetInt("engine.max_workers"),
			EvalTimeout:     v.GetDuration("engine.eval_timeout"),
			IncludeInactive: v.GetBool("engine.include_inactive"),
		},
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Port:            v.GetInt("server.port"),
			MaxRecvBytes:    v.GetInt("server.max_recv_bytes"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks a configuration, including values set after loading.
func Validate(cfg *Config) error {
	if err := validateConfig(cfg); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if _, err := logging.ParseFormat(cfg.Log.Format); err != nil {
		return fmt.Errorf("log.format: %w", err)
	}
	return nil
}

// validateNoCredentialsInConfig rejects database passwords set in the config file.
func validateNoCredentialsInConfig(file *viper.Viper) error {
	if file.IsSet("database.password") {
		return ErrCredentialsInConfig
	}
	raw := file.GetString("database.url")
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid database.url in config file: %w", err)
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		return ErrCredentialsInConfig
	}
	return nil
}
