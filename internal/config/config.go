// Package config loads and exposes application configuration (TOML).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath        = "config.toml"
	DefaultHTTPAddr          = ":8080"
	DefaultJWTExpiresIn      = "24h"
	DefaultPGHost            = "127.0.0.1"
	DefaultPGPort            = 5432
	DefaultPGUser            = "postgres"
	DefaultPGDatabase        = "pulse"
	DefaultPGSSLMode         = "disable"
	DefaultProbeInterval     = 30 * time.Second
	DefaultProbeTimeout      = 15 * time.Second
	DefaultSendBuffer        = 64
	DefaultSignedURLLifetime = 15 * time.Minute
)

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Postgres PostgresConfig `toml:"postgres"`
	Storage  StorageConfig  `toml:"storage"`
	Gateway  GatewayConfig  `toml:"gateway"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig holds the HTTP server listen address.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// AuthConfig holds the JWT secret and token expiry (e.g. 24h).
type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// StorageConfig holds object-store settings for attachments and avatars.
type StorageConfig struct {
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	SignedURLTTL    string `toml:"signed_url_ttl"`
}

// GatewayConfig holds realtime gateway tuning (heartbeat cadence, buffers).
type GatewayConfig struct {
	ProbeInterval string `toml:"probe_interval"`
	ProbeTimeout  string `toml:"probe_timeout"`
	SendBuffer    int    `toml:"send_buffer"`
}

// JWTExpiry parses the configured token expiry, falling back to the default.
func (c AuthConfig) JWTExpiry() time.Duration {
	if d, err := time.ParseDuration(c.JWTExpiresIn); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(DefaultJWTExpiresIn)
	return d
}

// SignedURLLifetime parses the configured signed URL TTL, falling back to the default.
func (c StorageConfig) SignedURLLifetime() time.Duration {
	if d, err := time.ParseDuration(c.SignedURLTTL); err == nil && d > 0 {
		return d
	}
	return DefaultSignedURLLifetime
}

// HeartbeatInterval parses the configured probe interval, falling back to the default.
func (c GatewayConfig) HeartbeatInterval() time.Duration {
	if d, err := time.ParseDuration(c.ProbeInterval); err == nil && d > 0 {
		return d
	}
	return DefaultProbeInterval
}

// HeartbeatTimeout parses the configured probe timeout, falling back to the default.
func (c GatewayConfig) HeartbeatTimeout() time.Duration {
	if d, err := time.ParseDuration(c.ProbeTimeout); err == nil && d > 0 {
		return d
	}
	return DefaultProbeTimeout
}

// Load reads and parses the TOML config file at path and applies default values for missing fields.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path == "" {
		path = DefaultConfigPath
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if path != DefaultConfigPath {
		return Config{}, fmt.Errorf("config file not found: %s", path)
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultHTTPAddr
	}
	if cfg.Auth.JWTExpiresIn == "" {
		cfg.Auth.JWTExpiresIn = DefaultJWTExpiresIn
	}
	if cfg.Postgres.Host == "" {
		cfg.Postgres.Host = DefaultPGHost
	}
	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = DefaultPGPort
	}
	if cfg.Postgres.User == "" {
		cfg.Postgres.User = DefaultPGUser
	}
	if cfg.Postgres.Database == "" {
		cfg.Postgres.Database = DefaultPGDatabase
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = DefaultPGSSLMode
	}
	if cfg.Gateway.SendBuffer <= 0 {
		cfg.Gateway.SendBuffer = DefaultSendBuffer
	}
}
