// Package config loads the JSON service configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Bus       BusConfig       `json:"bus"`
	Review    ReviewConfig    `json:"review"`
	Synthesis SynthesisConfig `json:"synthesis"`
	Catalog   CatalogConfig   `json:"catalog"`
	Database  DatabaseConfig  `json:"database"`
	Gateway   GatewayConfig   `json:"gateway"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type BusConfig struct {
	LogSize     int    `json:"log_size"`
	RelayStream string `json:"relay_stream"`
}

type ReviewConfig struct {
	GamesPerSense int   `json:"games_per_sense"`
	Seed          int64 `json:"seed"`
	// TimeLimits maps a game type to a Go duration string, e.g. "15s".
	TimeLimits map[string]string `json:"time_limits,omitempty"`
}

type SynthesisConfig struct {
	Model  string `json:"model"`
	APIKey string `json:"api_key"`
}

// CatalogConfig names the JSON sense file. When database.neo4j.uri is set
// the file seeds Neo4j, which then backs the catalog.
type CatalogConfig struct {
	File string `json:"file"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN        string `json:"dsn"`
	Migrations string `json:"migrations"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type GatewayConfig struct {
	Slack   ChannelGatewayConfig `json:"slack"`
	Discord ChannelGatewayConfig `json:"discord"`
}

type ChannelGatewayConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	Channel  string `json:"channel"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file, substitutes environment variable references
// and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes config JSON after environment substitution.
func Parse(data []byte) (*Config, error) {
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Bus.LogSize <= 0 {
		c.Bus.LogSize = 100
	}
	if c.Bus.RelayStream == "" {
		c.Bus.RelayStream = "lexicore:events"
	}
	if c.Review.GamesPerSense <= 0 {
		c.Review.GamesPerSense = 2
	}
	if c.Synthesis.Model == "" {
		c.Synthesis.Model = "gpt-4o-mini"
	}
	if c.Database.Postgres.Migrations == "" {
		c.Database.Postgres.Migrations = "migrations"
	}
}

// ReviewTimeLimits parses the per-type time limit overrides.
func (c *Config) ReviewTimeLimits() (map[string]time.Duration, error) {
	out := make(map[string]time.Duration, len(c.Review.TimeLimits))
	for game, s := range c.Review.TimeLimits {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("review time limit %s: %w", game, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("review time limit %s: must be positive", game)
		}
		out[game] = d
	}
	return out, nil
}
