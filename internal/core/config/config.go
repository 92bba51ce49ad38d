// Package config provides configuration management for annotator services.
package config

import (
	"fmt"
	"net"
	"runtime"
	"strconv"
	"time"
)

// Config is the full process configuration.
type Config struct {
	Database DatabaseConfig
	Engine   EngineConfig
	Server   ServerConfig
	Log      LogConfig
}

// DatabaseConfig locates the rule store.
type DatabaseConfig struct {
	URL string
}

// EngineConfig bounds rule evaluation.
type EngineConfig struct {
	MaxWorkers      int
	EvalTimeout     time.Duration
	IncludeInactive bool
}

// ServerConfig holds configuration for the gRPC annotator service.
type ServerConfig struct {
	Host            string
	Port            int
	MaxRecvBytes    int
	ShutdownTimeout time.Duration
}

// Addr returns host:port for listening.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// LogConfig selects the logger level and format.
type LogConfig struct {
	Level  string
	Format string
}

// Default returns configuration with default values.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{URL: "sqlite://annotator.db"},
		Engine: EngineConfig{
			MaxWorkers:  runtime.NumCPU(),
			EvalTimeout: 30 * time.Second,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            50051,
			MaxRecvBytes:    4 << 20,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// validateConfig checks ranges and positive values.
func validateConfig(cfg *Config) error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url must be set")
	}
	if cfg.Engine.MaxWorkers <= 0 {
		return fmt.Errorf("engine.max_workers must be positive, got %d", cfg.Engine.MaxWorkers)
	}
	if cfg.Engine.EvalTimeout <= 0 {
		return fmt.Errorf("engine.eval_timeout must be positive, got %v", cfg.Engine.EvalTimeout)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.MaxRecvBytes <= 0 {
		return fmt.Errorf("server.max_recv_bytes must be positive, got %d", cfg.Server.MaxRecvBytes)
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive, got %v", cfg.Server.ShutdownTimeout)
	}
	return nil
}
