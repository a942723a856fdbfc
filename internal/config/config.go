/* Copyright © 2025 Mike Brown. All Rights Reserved.
 *
 * See LICENSE file at the root of this repository for license terms
 */

// Package config loads settings from an optional config file, .env files
// and CAPESMASH_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mbsmash/cape-smash/internal"
	"github.com/spf13/viper"
)

const EnvPrefix = "CAPESMASH"

// Store drivers
const (
	StoreBolt     = "bolt"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreS3       = "s3"
	StoreRedis    = "redis"
	StoreMemory   = "memory"
)

var ErrMissingToken = errors.New("no start.gg api token configured (set STARTGG_API_TOKEN)")

type Config struct {
	Startgg StartggConfig `mapstructure:"startgg"`
	Store   StoreConfig   `mapstructure:"store"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Server  ServerConfig  `mapstructure:"server"`
	Discord DiscordConfig `mapstructure:"discord"`
	Log     LogConfig     `mapstructure:"log"`
}

type StartggConfig struct {
	Endpoint  string        `mapstructure:"endpoint"`
	Token     string        `mapstructure:"token"`
	Videogame string        `mapstructure:"videogame"`
	PerPage   int           `mapstructure:"per_page"`
	MaxPages  int           `mapstructure:"max_pages"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	// Path is the bolt or sqlite file.
	Path          string `mapstructure:"path"`
	DSN           string `mapstructure:"dsn"`
	Bucket        string `mapstructure:"bucket"`
	Key           string `mapstructure:"key"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
}

type CacheConfig struct {
	// Bucket selects the shared S3 cache; empty keeps responses in memory.
	Bucket string        `mapstructure:"bucket"`
	Gzip   bool          `mapstructure:"gzip"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	AdminSecret    string        `mapstructure:"admin_secret"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
}

type DiscordConfig struct {
	AppID     string `mapstructure:"app_id"`
	Token     string `mapstructure:"token"`
	PublicKey string `mapstructure:"public_key"`
	GuildID   string `mapstructure:"guild_id"`
	Addr      string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("startgg.endpoint", internal.StartggEndpoint)
	v.SetDefault("startgg.token", "")
	v.SetDefault("startgg.videogame", internal.DefaultVideogame)
	v.SetDefault("startgg.per_page", 50)
	v.SetDefault("startgg.max_pages", 10)
	v.SetDefault("startgg.timeout", 30*time.Second)

	v.SetDefault("store.driver", StoreBolt)
	v.SetDefault("store.path", "capesmash.db")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.bucket", "")
	v.SetDefault("store.key", "")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.redis_prefix", "capesmash:")

	v.SetDefault("cache.bucket", "")
	v.SetDefault("cache.gzip", true)
	v.SetDefault("cache.ttl", 6*time.Hour)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.admin_secret", "")
	v.SetDefault("server.token_ttl", 30*24*time.Hour)

	v.SetDefault("discord.app_id", "")
	v.SetDefault("discord.token", "")
	v.SetDefault("discord.public_key", "")
	v.SetDefault("discord.guild_id", "")
	v.SetDefault("discord.addr", ":8081")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Load reads configFile when set and the given .env files (".env.local"
// then ".env" when none are named). Variables already in the environment
// win over .env values.
func Load(configFile string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env.local", ".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("loading %v: %w", f, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// the web frontend's variable names are accepted too
	if err := v.BindEnv("startgg.token", EnvPrefix+"_STARTGG_TOKEN",
		"STARTGG_API_TOKEN", "NG_APP_STARTGG_API_TOKEN"); err != nil {
		return nil, err
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %v: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case StoreBolt, StoreSQLite, StorePostgres, StoreS3, StoreRedis, StoreMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver == StorePostgres && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required for postgres")
	}
	if c.Store.Driver == StoreS3 && c.Store.Bucket == "" {
		return fmt.Errorf("store.bucket is required for s3")
	}
	return nil
}

// RequireToken reports ErrMissingToken when start.gg cannot be queried.
func (c *Config) RequireToken() error {
	if c.Startgg.Token == "" {
		return ErrMissingToken
	}
	return nil
}
